// Package core contains the shared data model and domain contracts for
// AgentCoop: agents, messages, contexts, tasks, the event emitter used by
// every component, and the Storage interface implemented by persistence
// backends.
//
// The canonical contracts live here to avoid dependency cycles and keep the
// domain central. Component packages (registry, bus, contextstore,
// orchestrator) own their state exclusively and expose it only through their
// public operations; callers should depend on the types in this package
// rather than on component internals.
package core
