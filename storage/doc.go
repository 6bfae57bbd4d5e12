// Package storage contains concrete implementations of core.Storage.
//
// The canonical Storage interface lives in the core package to avoid
// dependency cycles and keep domain contracts central. Implementation
// packages like this one provide backends that can be swapped without
// touching calling code: an in-memory store for tests and ephemeral demo
// servers, and a SQLite store for single-node durable deployments.
//
// Storage is write-through and best effort from the core's point of view:
// the in-memory component state stays authoritative and queries are never
// answered from storage.
package storage
