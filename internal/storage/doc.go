// Package storage owns the single primary database handle shared by the
// host application and all plugin storage.
//
// # Architecture
//
// Manager is the one owner of the *sql.DB for the primary file. Every other
// component (cache manager, plugin storage, migration runner) holds a
// *Manager and re-fetches the handle via DB for each operation, so a
// close/reopen cycle is always observed and nobody operates on a stale
// handle. After Close, DB returns ErrNotConnected until the next Connect.
//
// Writes are serialized: Transaction takes a manager-level write mutex for
// the duration of the unit, and the busy_timeout pragma bounds contention
// from any other connection to the file. Nested Transaction calls detect
// the active transaction in the context and join it rather than starting a
// new one.
//
// The package also carries two small host-facing stores that live in the
// primary file: string KV settings and the registry of repositories the
// host has opened.
//
// # Errors
//
//   - ErrNotConnected: operation attempted without a live handle
//   - ConnectionError: open/close/path failures, fatal until reconnected
//   - ErrNotFound: a requested settings/repository row does not exist
package storage
