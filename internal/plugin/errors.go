// ABOUTME: Error taxonomy for plugin storage
// ABOUTME: Sentinel for unknown plugins plus structured StorageError with wrapping

package plugin

import (
	"errors"
	"fmt"
)

// ErrUnknownPlugin is returned by private-database operations for a plugin
// id that has never requested a database.
var ErrUnknownPlugin = errors.New("unknown plugin")

// StorageError reports a plugin storage failure: value serialization, a
// filesystem problem creating or deleting a private file, or an invalid
// request.
type StorageError struct {
	PluginID string
	Op       string
	Err      error
}

func (e *StorageError) Error() string {
	return fmt.Sprintf("plugin storage %s for %s: %v", e.Op, e.PluginID, e.Err)
}

func (e *StorageError) Unwrap() error { return e.Err }
