// ABOUTME: Shared plugin key/value rows in the primary database
// ABOUTME: Multi-tenant table partitioned by plugin_id in every query

package plugin

import (
	"context"
	"database/sql"
	"encoding/json"
	"fmt"
	"log/slog"
	"sync"
	"time"

	"github.com/2389/fold-storage/internal/storage"
)

// Store provides both plugin storage mechanisms: shared key/value rows in
// the primary database, partitioned by plugin id, and private per-plugin
// database files under a managed data directory.
type Store struct {
	mgr     *storage.Manager
	dataDir string
	logger  *slog.Logger

	mu   sync.Mutex
	open map[string]*privateDB
}

// NewStore creates a plugin store over the primary connection. dataDir is
// the managed directory for private plugin database files.
func NewStore(mgr *storage.Manager, dataDir string) *Store {
	return &Store{
		mgr:     mgr,
		dataDir: dataDir,
		logger:  slog.Default().With("component", "plugin-storage"),
		open:    make(map[string]*privateDB),
	}
}

// SetData stores a value for the plugin, JSON-encoding it into an opaque
// payload. With no TTL (or 0) the entry never expires. An existing entry
// for the same plugin and key is overwritten.
func (s *Store) SetData(ctx context.Context, pluginID, key string, value any, ttl ...time.Duration) error {
	payload, err := json.Marshal(value)
	if err != nil {
		return &StorageError{PluginID: pluginID, Op: "set",
			Err: fmt.Errorf("encoding value for key %s: %w", key, err)}
	}

	var expiresAt any // NULL for never
	if len(ttl) > 0 && ttl[0] > 0 {
		expiresAt = time.Now().Add(ttl[0]).UnixMilli()
	}

	db, err := s.mgr.DB()
	if err != nil {
		return err
	}

	now := time.Now().UTC().Format(time.RFC3339)
	_, err = db.ExecContext(ctx, `
		INSERT INTO plugin_data (plugin_id, key, value, created_at, updated_at, expires_at)
		VALUES (?, ?, ?, ?, ?, ?)
		ON CONFLICT(plugin_id, key) DO UPDATE
			SET value = excluded.value,
			    updated_at = excluded.updated_at,
			    expires_at = excluded.expires_at
	`, pluginID, key, payload, now, now, expiresAt)
	if err != nil {
		return &StorageError{PluginID: pluginID, Op: "set",
			Err: fmt.Errorf("storing key %s: %w", key, err)}
	}

	s.logger.Debug("stored plugin data", "plugin_id", pluginID, "key", key, "size", len(payload))
	return nil
}

// GetData returns the raw payload for the plugin's key. A missing entry, or
// one whose expiry has passed, is a miss (ok false), never an error.
func (s *Store) GetData(ctx context.Context, pluginID, key string) ([]byte, bool, error) {
	db, err := s.mgr.DB()
	if err != nil {
		return nil, false, err
	}

	var payload []byte
	var expiresAt sql.NullInt64
	err = db.QueryRowContext(ctx, `
		SELECT value, expires_at FROM plugin_data
		WHERE plugin_id = ? AND key = ?
	`, pluginID, key).Scan(&payload, &expiresAt)
	if err == sql.ErrNoRows {
		return nil, false, nil
	}
	if err != nil {
		return nil, false, &StorageError{PluginID: pluginID, Op: "get",
			Err: fmt.Errorf("reading key %s: %w", key, err)}
	}

	// Lazily expired: absent until the sweep removes the row.
	if expiresAt.Valid && expiresAt.Int64 <= time.Now().UnixMilli() {
		return nil, false, nil
	}
	return payload, true, nil
}

// GetDataInto decodes the payload for the plugin's key into dest. Returns
// false on a miss without touching dest.
func (s *Store) GetDataInto(ctx context.Context, pluginID, key string, dest any) (bool, error) {
	payload, ok, err := s.GetData(ctx, pluginID, key)
	if err != nil || !ok {
		return false, err
	}
	if err := json.Unmarshal(payload, dest); err != nil {
		return false, &StorageError{PluginID: pluginID, Op: "get",
			Err: fmt.Errorf("decoding value for key %s: %w", key, err)}
	}
	return true, nil
}

// DeleteData removes the plugin's entry for key. Deleting an absent key is
// not an error.
func (s *Store) DeleteData(ctx context.Context, pluginID, key string) error {
	db, err := s.mgr.DB()
	if err != nil {
		return err
	}

	if _, err := db.ExecContext(ctx, `
		DELETE FROM plugin_data WHERE plugin_id = ? AND key = ?
	`, pluginID, key); err != nil {
		return &StorageError{PluginID: pluginID, Op: "delete",
			Err: fmt.Errorf("deleting key %s: %w", key, err)}
	}
	return nil
}

// Keys returns the plugin's live keys sorted ascending. Lazily expired
// entries are excluded even before a sweep removes them. Only the given
// plugin's partition is visible.
func (s *Store) Keys(ctx context.Context, pluginID string) ([]string, error) {
	db, err := s.mgr.DB()
	if err != nil {
		return nil, err
	}

	rows, err := db.QueryContext(ctx, `
		SELECT key FROM plugin_data
		WHERE plugin_id = ?
		  AND (expires_at IS NULL OR expires_at > ?)
		ORDER BY key
	`, pluginID, time.Now().UnixMilli())
	if err != nil {
		return nil, &StorageError{PluginID: pluginID, Op: "keys",
			Err: fmt.Errorf("listing keys: %w", err)}
	}
	defer rows.Close()

	var keys []string
	for rows.Next() {
		var k string
		if err := rows.Scan(&k); err != nil {
			return nil, &StorageError{PluginID: pluginID, Op: "keys",
				Err: fmt.Errorf("scanning key: %w", err)}
		}
		keys = append(keys, k)
	}
	return keys, rows.Err()
}

// ClearData removes every shared entry belonging to the plugin.
func (s *Store) ClearData(ctx context.Context, pluginID string) error {
	db, err := s.mgr.DB()
	if err != nil {
		return err
	}

	result, err := db.ExecContext(ctx, `
		DELETE FROM plugin_data WHERE plugin_id = ?
	`, pluginID)
	if err != nil {
		return &StorageError{PluginID: pluginID, Op: "clear",
			Err: fmt.Errorf("clearing data: %w", err)}
	}

	removed, _ := result.RowsAffected()
	s.logger.Debug("cleared plugin data", "plugin_id", pluginID, "count", removed)
	return nil
}

// CleanupExpired physically removes expired entries across every plugin's
// partition. Returns the number of rows removed. Like the cache sweep, it
// never removes a live entry and correctness of reads never depends on it.
func (s *Store) CleanupExpired(ctx context.Context) (int64, error) {
	db, err := s.mgr.DB()
	if err != nil {
		return 0, err
	}

	result, err := db.ExecContext(ctx, `
		DELETE FROM plugin_data
		WHERE expires_at IS NOT NULL AND expires_at <= ?
	`, time.Now().UnixMilli())
	if err != nil {
		return 0, fmt.Errorf("sweeping plugin data: %w", err)
	}

	removed, err := result.RowsAffected()
	if err != nil {
		return 0, fmt.Errorf("getting rows affected: %w", err)
	}
	if removed > 0 {
		s.logger.Debug("plugin data sweep removed entries", "count", removed)
	}
	return removed, nil
}
