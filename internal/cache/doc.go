// Package cache provides namespaced TTL key/value caches backed by the
// primary database.
//
// # Expiry model
//
// Expiry is checked lazily on every read: an entry past its expiry is a
// miss even if its row still exists. Physical removal is batched into
// RunCleanup, a sweep the host schedules (or triggers manually); a read
// never pays sweep cost and correctness never depends on the sweep running.
//
// Values cross an explicit serialize boundary at the storage edge: Set
// JSON-encodes into an opaque payload, Get returns the raw bytes, and the
// core never inspects payload structure.
//
// # Hot layer
//
// An optional in-memory LRU memoizes recent reads. Writes invalidate it and
// reads re-check per-entry expiry, so it can never serve a stale or expired
// value; setting cache.hot_entries to 0 disables it entirely.
package cache
