package storage

import "fmt"

var (
	// ErrNotFound is returned when a record with the given identifier does
	// not exist in the underlying store.
	ErrNotFound = fmt.Errorf("record not found")

	// ErrNotConnected is returned when an operation runs before Connect or
	// after Close.
	ErrNotConnected = fmt.Errorf("storage not connected")
)
