// ABOUTME: Error taxonomy for the storage subsystem
// ABOUTME: Sentinel errors plus structured ConnectionError with wrapping

package storage

import (
	"errors"
	"fmt"
)

// ErrNotConnected is returned when an operation is attempted before Connect
// or after Close. Recoverable by connecting.
var ErrNotConnected = errors.New("database not connected")

// ErrNotFound is returned when a requested row does not exist.
var ErrNotFound = errors.New("not found")

// ErrDuplicateRepository is returned when registering a repository path
// that is already registered.
var ErrDuplicateRepository = errors.New("repository already registered")

// ConnectionError reports a failure to open, prepare, or close the primary
// database file. Subsequent operations fail until a reconnect succeeds.
type ConnectionError struct {
	Path string
	Err  error
}

func (e *ConnectionError) Error() string {
	return fmt.Sprintf("database connection %s: %v", e.Path, e.Err)
}

func (e *ConnectionError) Unwrap() error { return e.Err }
