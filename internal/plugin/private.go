// ABOUTME: Private per-plugin database files under a managed data directory
// ABOUTME: Registry rows in the primary database map plugin ids to files and handles

package plugin

import (
	"context"
	"database/sql"
	"fmt"
	"os"
	"path/filepath"
	"strings"
	"time"

	"github.com/google/uuid"
)

// privateDB tracks one open handle to a plugin's private file.
type privateDB struct {
	db   *sql.DB
	path string
}

// Options govern file naming for a plugin's private database. The zero
// value derives the filename from the plugin id.
type Options struct {
	// Filename overrides the derived file name. It must be a bare name,
	// not a path; the file always lives inside the managed data directory.
	Filename string
}

// DatabaseInfo describes a plugin's private database.
type DatabaseInfo struct {
	PluginID  string
	Filename  string
	Path      string
	CreatedAt time.Time
	Open      bool
	FileSize  int64
}

// RequestDatabase creates (first call) or reopens (subsequent calls) the
// plugin's private database. While a handle is open, further requests for
// the same plugin id return that handle rather than opening a duplicate.
// The handle is never shared between plugin ids.
func (s *Store) RequestDatabase(ctx context.Context, pluginID string, opts Options) (*sql.DB, error) {
	if pluginID == "" {
		return nil, &StorageError{PluginID: pluginID, Op: "request",
			Err: fmt.Errorf("plugin id is empty")}
	}

	s.mu.Lock()
	defer s.mu.Unlock()

	if p, ok := s.open[pluginID]; ok {
		return p.db, nil
	}

	filename, _, err := s.lookupRegistry(ctx, pluginID)
	if err != nil && err != sql.ErrNoRows {
		return nil, err
	}

	if err == sql.ErrNoRows {
		filename = opts.Filename
		if filename == "" {
			filename = deriveFilename(pluginID)
		}
		if strings.ContainsAny(filename, `/\`) || filename == "." || filename == ".." {
			return nil, &StorageError{PluginID: pluginID, Op: "request",
				Err: fmt.Errorf("filename %q must be a bare file name", filename)}
		}
		if err := s.register(ctx, pluginID, filename); err != nil {
			return nil, err
		}
	}

	if err := os.MkdirAll(s.dataDir, 0755); err != nil {
		return nil, &StorageError{PluginID: pluginID, Op: "request",
			Err: fmt.Errorf("creating plugin data directory: %w", err)}
	}

	path := filepath.Join(s.dataDir, filename)
	db, err := sql.Open("sqlite", path)
	if err != nil {
		return nil, &StorageError{PluginID: pluginID, Op: "request",
			Err: fmt.Errorf("opening private database: %w", err)}
	}
	if _, err := db.ExecContext(ctx, "PRAGMA journal_mode=WAL"); err != nil {
		db.Close()
		return nil, &StorageError{PluginID: pluginID, Op: "request",
			Err: fmt.Errorf("preparing private database: %w", err)}
	}

	s.open[pluginID] = &privateDB{db: db, path: path}
	s.logger.Info("opened private plugin database", "plugin_id", pluginID, "path", path)
	return db, nil
}

// lookupRegistry returns the registered filename for a plugin id, or
// sql.ErrNoRows when the plugin has never requested a database.
func (s *Store) lookupRegistry(ctx context.Context, pluginID string) (string, time.Time, error) {
	db, err := s.mgr.DB()
	if err != nil {
		return "", time.Time{}, err
	}

	var filename, createdAtStr string
	err = db.QueryRowContext(ctx, `
		SELECT filename, created_at FROM plugin_databases WHERE plugin_id = ?
	`, pluginID).Scan(&filename, &createdAtStr)
	if err == sql.ErrNoRows {
		return "", time.Time{}, sql.ErrNoRows
	}
	if err != nil {
		return "", time.Time{}, &StorageError{PluginID: pluginID, Op: "lookup",
			Err: fmt.Errorf("querying registry: %w", err)}
	}

	createdAt, err := time.Parse(time.RFC3339, createdAtStr)
	if err != nil {
		return "", time.Time{}, &StorageError{PluginID: pluginID, Op: "lookup",
			Err: fmt.Errorf("parsing created_at: %w", err)}
	}
	return filename, createdAt, nil
}

func (s *Store) register(ctx context.Context, pluginID, filename string) error {
	db, err := s.mgr.DB()
	if err != nil {
		return err
	}

	_, err = db.ExecContext(ctx, `
		INSERT INTO plugin_databases (id, plugin_id, filename, created_at)
		VALUES (?, ?, ?, ?)
	`, uuid.New().String(), pluginID, filename, time.Now().UTC().Format(time.RFC3339))
	if err != nil {
		return &StorageError{PluginID: pluginID, Op: "request",
			Err: fmt.Errorf("registering private database: %w", err)}
	}
	return nil
}

// HasDatabase reports whether the plugin has ever requested a private
// database that still exists in the registry.
func (s *Store) HasDatabase(ctx context.Context, pluginID string) (bool, error) {
	_, _, err := s.lookupRegistry(ctx, pluginID)
	if err == sql.ErrNoRows {
		return false, nil
	}
	if err != nil {
		return false, err
	}
	return true, nil
}

// DatabaseInfo returns registry and file details for the plugin's private
// database. Returns ErrUnknownPlugin for an unregistered plugin id.
func (s *Store) DatabaseInfo(ctx context.Context, pluginID string) (*DatabaseInfo, error) {
	filename, createdAt, err := s.lookupRegistry(ctx, pluginID)
	if err == sql.ErrNoRows {
		return nil, ErrUnknownPlugin
	}
	if err != nil {
		return nil, err
	}

	info := &DatabaseInfo{
		PluginID:  pluginID,
		Filename:  filename,
		Path:      filepath.Join(s.dataDir, filename),
		CreatedAt: createdAt,
	}

	s.mu.Lock()
	_, info.Open = s.open[pluginID]
	s.mu.Unlock()

	if fi, err := os.Stat(info.Path); err == nil {
		info.FileSize = fi.Size()
	}
	return info, nil
}

// CloseDatabase releases the plugin's open handle without deleting data.
// A plugin with no open handle is a no-op.
func (s *Store) CloseDatabase(pluginID string) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.closeLocked(pluginID)
}

func (s *Store) closeLocked(pluginID string) error {
	p, ok := s.open[pluginID]
	if !ok {
		return nil
	}
	delete(s.open, pluginID)

	if err := p.db.Close(); err != nil {
		return &StorageError{PluginID: pluginID, Op: "close",
			Err: fmt.Errorf("closing private database: %w", err)}
	}
	s.logger.Info("closed private plugin database", "plugin_id", pluginID)
	return nil
}

// DeleteDatabase closes the plugin's private database if open, then removes
// the file and the registry entry. Irreversible. Returns ErrUnknownPlugin
// for an unregistered plugin id.
func (s *Store) DeleteDatabase(ctx context.Context, pluginID string) error {
	filename, _, err := s.lookupRegistry(ctx, pluginID)
	if err == sql.ErrNoRows {
		return ErrUnknownPlugin
	}
	if err != nil {
		return err
	}

	s.mu.Lock()
	closeErr := s.closeLocked(pluginID)
	s.mu.Unlock()
	if closeErr != nil {
		return closeErr
	}

	path := filepath.Join(s.dataDir, filename)
	if err := os.Remove(path); err != nil && !os.IsNotExist(err) {
		return &StorageError{PluginID: pluginID, Op: "delete",
			Err: fmt.Errorf("removing private database file: %w", err)}
	}
	// WAL sidecar files, present only if the database was recently open
	os.Remove(path + "-wal")
	os.Remove(path + "-shm")

	db, err := s.mgr.DB()
	if err != nil {
		return err
	}
	if _, err := db.ExecContext(ctx, `
		DELETE FROM plugin_databases WHERE plugin_id = ?
	`, pluginID); err != nil {
		return &StorageError{PluginID: pluginID, Op: "delete",
			Err: fmt.Errorf("removing registry entry: %w", err)}
	}

	s.logger.Info("deleted private plugin database", "plugin_id", pluginID, "path", path)
	return nil
}

// CloseAll releases every open private database handle. Invoked once at
// process shutdown so no handle dangles. The first error is returned after
// all handles have been attempted.
func (s *Store) CloseAll() error {
	s.mu.Lock()
	ids := make([]string, 0, len(s.open))
	for id := range s.open {
		ids = append(ids, id)
	}
	s.mu.Unlock()

	var firstErr error
	for _, id := range ids {
		if err := s.CloseDatabase(id); err != nil && firstErr == nil {
			firstErr = err
		}
	}
	return firstErr
}

// ListDatabases returns the plugin ids registered for private databases,
// sorted ascending. The registry is cross-checked against the data
// directory; a registered database whose file is missing is logged but
// still listed, since the file reappears on the next request.
func (s *Store) ListDatabases(ctx context.Context) ([]string, error) {
	db, err := s.mgr.DB()
	if err != nil {
		return nil, err
	}

	rows, err := db.QueryContext(ctx, `
		SELECT plugin_id, filename FROM plugin_databases ORDER BY plugin_id
	`)
	if err != nil {
		return nil, fmt.Errorf("listing plugin databases: %w", err)
	}
	defer rows.Close()

	var ids []string
	for rows.Next() {
		var id, filename string
		if err := rows.Scan(&id, &filename); err != nil {
			return nil, fmt.Errorf("scanning plugin database row: %w", err)
		}
		if _, err := os.Stat(filepath.Join(s.dataDir, filename)); os.IsNotExist(err) {
			s.logger.Warn("registered plugin database file missing on disk",
				"plugin_id", id, "filename", filename)
		}
		ids = append(ids, id)
	}
	return ids, rows.Err()
}

// deriveFilename maps a plugin id to a deterministic file name: lowercased,
// with anything outside [a-z0-9._-] replaced by underscore.
func deriveFilename(pluginID string) string {
	lower := strings.ToLower(pluginID)
	var b strings.Builder
	for _, r := range lower {
		switch {
		case r >= 'a' && r <= 'z', r >= '0' && r <= '9', r == '.', r == '_', r == '-':
			b.WriteRune(r)
		default:
			b.WriteRune('_')
		}
	}
	return b.String() + ".db"
}
