// ABOUTME: Namespaced TTL key/value caches backed by the primary database
// ABOUTME: Lazy expiry on read, batched sweep for physical removal, optional hot layer

package cache

import (
	"context"
	"database/sql"
	"encoding/json"
	"fmt"
	"log/slog"
	"sync"
	"sync/atomic"
	"time"

	"github.com/hashicorp/golang-lru/v2/expirable"

	"github.com/2389/fold-storage/internal/config"
	"github.com/2389/fold-storage/internal/storage"
)

// NoExpiry as an explicit TTL means the entry never expires.
const NoExpiry time.Duration = 0

// GlobalNamespace is the default shared namespace for ad hoc callers that
// do not need isolation.
const GlobalNamespace = "global"

// hotEntry is a memoized row in the in-memory layer. ExpiresAt is checked
// on every read, so the hot layer can never serve a logically expired value.
type hotEntry struct {
	payload   []byte
	expiresAt time.Time // zero means never expires
}

// Manager registers named caches over the cache_entries table and owns the
// sweep across all of them. It holds no timer; the host schedules sweeps.
type Manager struct {
	mgr        *storage.Manager
	logger     *slog.Logger
	defaultTTL time.Duration

	mu     sync.Mutex
	caches map[string]*Cache

	// hot memoizes recent reads; nil when disabled. Correctness never
	// depends on it: writes invalidate, reads re-check expiry.
	hot *expirable.LRU[string, hotEntry]
}

// Cache is one namespace with a default TTL. Keys are unique within the
// namespace and unrelated to keys in any other namespace.
type Cache struct {
	m          *Manager
	namespace  string
	defaultTTL time.Duration

	hits   atomic.Uint64
	misses atomic.Uint64
}

// Stats describes one cache namespace.
type Stats struct {
	Namespace string
	Entries   int64
	Bytes     int64
	Hits      uint64
	Misses    uint64
}

// NewManager creates a cache manager over the primary connection.
func NewManager(mgr *storage.Manager, cfg config.CacheConfig) *Manager {
	m := &Manager{
		mgr:        mgr,
		logger:     slog.Default().With("component", "cache"),
		defaultTTL: cfg.DefaultTTL,
		caches:     make(map[string]*Cache),
	}
	if m.defaultTTL == 0 {
		m.defaultTTL = config.DefaultCacheTTL
	}

	hotEntries := config.DefaultHotEntries
	if cfg.HotEntries != nil {
		hotEntries = *cfg.HotEntries
	}
	if hotEntries > 0 {
		// The LRU's own TTL only bounds memory residency; logical expiry
		// is carried per entry and re-checked on read.
		m.hot = expirable.NewLRU[string, hotEntry](hotEntries, nil, time.Minute)
	}

	return m
}

// NewCache registers a named cache, or returns the existing one. The TTL
// argument applies only on first registration; use SetDefaultTTL to
// reconfigure an existing cache explicitly.
func (m *Manager) NewCache(namespace string, defaultTTL time.Duration) *Cache {
	m.mu.Lock()
	defer m.mu.Unlock()

	if c, ok := m.caches[namespace]; ok {
		return c
	}

	if defaultTTL < 0 {
		defaultTTL = m.defaultTTL
	}
	c := &Cache{m: m, namespace: namespace, defaultTTL: defaultTTL}
	m.caches[namespace] = c
	m.logger.Debug("registered cache", "namespace", namespace, "default_ttl", defaultTTL)
	return c
}

// Global returns the default shared cache namespace.
func (m *Manager) Global() *Cache {
	return m.NewCache(GlobalNamespace, m.defaultTTL)
}

// Namespaces returns the currently registered cache namespaces.
func (m *Manager) Namespaces() []string {
	m.mu.Lock()
	defer m.mu.Unlock()

	names := make([]string, 0, len(m.caches))
	for ns := range m.caches {
		names = append(names, ns)
	}
	return names
}

// RunCleanup physically removes every entry, in any namespace, whose expiry
// has passed. It never removes an entry that is still live. Returns the
// number of rows removed. Safe to invoke at any time; a sweep never affects
// the correctness of concurrent reads, which check expiry themselves.
func (m *Manager) RunCleanup(ctx context.Context) (int64, error) {
	db, err := m.mgr.DB()
	if err != nil {
		return 0, err
	}

	result, err := db.ExecContext(ctx, `
		DELETE FROM cache_entries
		WHERE expires_at IS NOT NULL AND expires_at <= ?
	`, time.Now().UnixMilli())
	if err != nil {
		return 0, fmt.Errorf("sweeping cache entries: %w", err)
	}

	removed, err := result.RowsAffected()
	if err != nil {
		return 0, fmt.Errorf("getting rows affected: %w", err)
	}
	if removed > 0 {
		m.logger.Debug("cache sweep removed entries", "count", removed)
	}
	return removed, nil
}

// SetDefaultTTL reconfigures the cache's default TTL for subsequent sets.
func (c *Cache) SetDefaultTTL(ttl time.Duration) {
	c.defaultTTL = ttl
}

// Namespace returns the cache's namespace name.
func (c *Cache) Namespace() string { return c.namespace }

// Set stores a value under key, JSON-encoding it into an opaque payload.
// With no explicit TTL the cache default applies; an explicit NoExpiry (0)
// means the entry never expires. An existing entry is overwritten.
func (c *Cache) Set(ctx context.Context, key string, value any, ttl ...time.Duration) error {
	payload, err := json.Marshal(value)
	if err != nil {
		return fmt.Errorf("encoding cache value for %s/%s: %w", c.namespace, key, err)
	}

	effective := c.defaultTTL
	if len(ttl) > 0 {
		effective = ttl[0]
	}

	var expiresAt any // NULL for never
	var hotExpiry time.Time
	if effective != NoExpiry {
		t := time.Now().Add(effective)
		expiresAt = t.UnixMilli()
		hotExpiry = t
	}

	db, err := c.m.mgr.DB()
	if err != nil {
		return err
	}

	_, err = db.ExecContext(ctx, `
		INSERT INTO cache_entries (namespace, key, value, created_at, expires_at)
		VALUES (?, ?, ?, ?, ?)
		ON CONFLICT(namespace, key) DO UPDATE
			SET value = excluded.value,
			    created_at = excluded.created_at,
			    expires_at = excluded.expires_at
	`, c.namespace, key, payload, time.Now().UTC().Format(time.RFC3339), expiresAt)
	if err != nil {
		return fmt.Errorf("storing cache entry %s/%s: %w", c.namespace, key, err)
	}

	if c.m.hot != nil {
		c.m.hot.Add(hotKey(c.namespace, key), hotEntry{payload: payload, expiresAt: hotExpiry})
	}
	return nil
}

// Get returns the raw payload for key. A missing entry, or one whose expiry
// has passed, is a miss (ok false) and never an error; physical removal of
// expired rows is left to the sweep.
func (c *Cache) Get(ctx context.Context, key string) ([]byte, bool, error) {
	// Checked first so a closed connection is observed even when the hot
	// layer could answer.
	db, err := c.m.mgr.DB()
	if err != nil {
		return nil, false, err
	}

	now := time.Now()

	if c.m.hot != nil {
		if e, ok := c.m.hot.Get(hotKey(c.namespace, key)); ok {
			if e.expiresAt.IsZero() || now.Before(e.expiresAt) {
				c.hits.Add(1)
				return e.payload, true, nil
			}
			c.m.hot.Remove(hotKey(c.namespace, key))
		}
	}

	var payload []byte
	var expiresAt sql.NullInt64
	err = db.QueryRowContext(ctx, `
		SELECT value, expires_at FROM cache_entries
		WHERE namespace = ? AND key = ?
	`, c.namespace, key).Scan(&payload, &expiresAt)
	if err == sql.ErrNoRows {
		c.misses.Add(1)
		return nil, false, nil
	}
	if err != nil {
		return nil, false, fmt.Errorf("reading cache entry %s/%s: %w", c.namespace, key, err)
	}

	// Lazily expired: treat as absent even though the row still exists.
	if expiresAt.Valid && expiresAt.Int64 <= now.UnixMilli() {
		c.misses.Add(1)
		return nil, false, nil
	}

	c.hits.Add(1)
	if c.m.hot != nil {
		var hotExpiry time.Time
		if expiresAt.Valid {
			hotExpiry = time.UnixMilli(expiresAt.Int64)
		}
		c.m.hot.Add(hotKey(c.namespace, key), hotEntry{payload: payload, expiresAt: hotExpiry})
	}
	return payload, true, nil
}

// GetInto decodes the payload for key into dest. Returns false on a miss
// without touching dest.
func (c *Cache) GetInto(ctx context.Context, key string, dest any) (bool, error) {
	payload, ok, err := c.Get(ctx, key)
	if err != nil || !ok {
		return false, err
	}
	if err := json.Unmarshal(payload, dest); err != nil {
		return false, fmt.Errorf("decoding cache value for %s/%s: %w", c.namespace, key, err)
	}
	return true, nil
}

// Delete removes an entry. Deleting an absent key is not an error.
func (c *Cache) Delete(ctx context.Context, key string) error {
	db, err := c.m.mgr.DB()
	if err != nil {
		return err
	}

	if _, err := db.ExecContext(ctx, `
		DELETE FROM cache_entries WHERE namespace = ? AND key = ?
	`, c.namespace, key); err != nil {
		return fmt.Errorf("deleting cache entry %s/%s: %w", c.namespace, key, err)
	}

	if c.m.hot != nil {
		c.m.hot.Remove(hotKey(c.namespace, key))
	}
	return nil
}

// Clear removes every entry in the namespace.
func (c *Cache) Clear(ctx context.Context) error {
	db, err := c.m.mgr.DB()
	if err != nil {
		return err
	}

	if _, err := db.ExecContext(ctx, `
		DELETE FROM cache_entries WHERE namespace = ?
	`, c.namespace); err != nil {
		return fmt.Errorf("clearing cache %s: %w", c.namespace, err)
	}

	if c.m.hot != nil {
		prefix := c.namespace + "\x00"
		for _, k := range c.m.hot.Keys() {
			if len(k) >= len(prefix) && k[:len(prefix)] == prefix {
				c.m.hot.Remove(k)
			}
		}
	}
	return nil
}

// Stats reports entry count, approximate payload footprint, and the hit and
// miss counters accumulated since creation or the last ResetStats.
func (c *Cache) Stats(ctx context.Context) (*Stats, error) {
	db, err := c.m.mgr.DB()
	if err != nil {
		return nil, err
	}

	s := &Stats{
		Namespace: c.namespace,
		Hits:      c.hits.Load(),
		Misses:    c.misses.Load(),
	}
	err = db.QueryRowContext(ctx, `
		SELECT COUNT(*), COALESCE(SUM(LENGTH(value)), 0)
		FROM cache_entries WHERE namespace = ?
	`, c.namespace).Scan(&s.Entries, &s.Bytes)
	if err != nil {
		return nil, fmt.Errorf("reading cache stats for %s: %w", c.namespace, err)
	}
	return s, nil
}

// ResetStats zeroes the hit and miss counters.
func (c *Cache) ResetStats() {
	c.hits.Store(0)
	c.misses.Store(0)
}

func hotKey(namespace, key string) string {
	return namespace + "\x00" + key
}
