// ABOUTME: Declares the baseline table set for the primary database
// ABOUTME: Idempotent creation plus read-only introspection helpers

package schema

import (
	"context"
	"database/sql"
	"fmt"
)

// Version identifies the declared baseline table set. It changes only when
// a table is added to or removed from the baseline below; column-level
// evolution is the migration runner's job.
const Version = 1

// Tables is the full set of logical tables managed in the primary database,
// in creation order.
var Tables = []string{
	"settings",
	"repositories",
	"cache_entries",
	"plugin_data",
	"plugin_databases",
	"schema_migrations",
}

const baselineDDL = `
	-- Host application preferences, simple string KV
	CREATE TABLE IF NOT EXISTS settings (
		key        TEXT PRIMARY KEY,
		value      TEXT NOT NULL,
		updated_at TEXT NOT NULL
	);

	-- Repositories the host has opened
	CREATE TABLE IF NOT EXISTS repositories (
		id             TEXT PRIMARY KEY,
		path           TEXT NOT NULL UNIQUE,
		name           TEXT NOT NULL,
		created_at     TEXT NOT NULL,
		last_opened_at TEXT NOT NULL
	);

	CREATE INDEX IF NOT EXISTS idx_repositories_last_opened
		ON repositories(last_opened_at DESC);

	-- Namespaced TTL cache entries; expires_at is Unix milliseconds,
	-- NULL means never expires
	CREATE TABLE IF NOT EXISTS cache_entries (
		namespace  TEXT NOT NULL,
		key        TEXT NOT NULL,
		value      BLOB NOT NULL,
		created_at TEXT NOT NULL,
		expires_at INTEGER,

		PRIMARY KEY (namespace, key)
	);

	CREATE INDEX IF NOT EXISTS idx_cache_entries_expires
		ON cache_entries(expires_at);

	-- Shared plugin key/value rows, partitioned by plugin_id;
	-- expires_at is Unix milliseconds, NULL means never expires
	CREATE TABLE IF NOT EXISTS plugin_data (
		plugin_id  TEXT NOT NULL,
		key        TEXT NOT NULL,
		value      BLOB NOT NULL,
		created_at TEXT NOT NULL,
		updated_at TEXT NOT NULL,
		expires_at INTEGER,

		PRIMARY KEY (plugin_id, key)
	);

	CREATE INDEX IF NOT EXISTS idx_plugin_data_expires
		ON plugin_data(expires_at);

	-- Registry of private per-plugin database files
	CREATE TABLE IF NOT EXISTS plugin_databases (
		id         TEXT PRIMARY KEY,
		plugin_id  TEXT NOT NULL UNIQUE,
		filename   TEXT NOT NULL UNIQUE,
		created_at TEXT NOT NULL
	);

	-- Applied schema migrations
	CREATE TABLE IF NOT EXISTS schema_migrations (
		version    INTEGER PRIMARY KEY,
		name       TEXT NOT NULL,
		applied_at TEXT NOT NULL,
		checksum   TEXT NOT NULL
	);
`

// CreateAllTables creates every declared table and index if absent.
// Safe to call on every connect.
func CreateAllTables(ctx context.Context, db *sql.DB) error {
	if _, err := db.ExecContext(ctx, baselineDDL); err != nil {
		return fmt.Errorf("creating baseline schema: %w", err)
	}
	return nil
}

// TableExists reports whether a table with the given name exists.
func TableExists(ctx context.Context, db *sql.DB, name string) (bool, error) {
	var n int
	err := db.QueryRowContext(ctx,
		`SELECT COUNT(*) FROM sqlite_master WHERE type = 'table' AND name = ?`, name).Scan(&n)
	if err != nil {
		return false, fmt.Errorf("checking table %s: %w", name, err)
	}
	return n > 0, nil
}

// ListTables returns the names of all user tables in the database,
// excluding SQLite internal tables.
func ListTables(ctx context.Context, db *sql.DB) ([]string, error) {
	rows, err := db.QueryContext(ctx, `
		SELECT name FROM sqlite_master
		WHERE type = 'table' AND name NOT LIKE 'sqlite_%'
		ORDER BY name
	`)
	if err != nil {
		return nil, fmt.Errorf("listing tables: %w", err)
	}
	defer rows.Close()

	var names []string
	for rows.Next() {
		var name string
		if err := rows.Scan(&name); err != nil {
			return nil, fmt.Errorf("scanning table name: %w", err)
		}
		names = append(names, name)
	}
	return names, rows.Err()
}

// TableRowCount returns the number of rows in the named table.
// The name must be one of the declared tables; arbitrary identifiers are
// rejected rather than interpolated into SQL.
func TableRowCount(ctx context.Context, db *sql.DB, name string) (int64, error) {
	if !isDeclared(name) {
		return 0, fmt.Errorf("unknown table %q", name)
	}

	var count int64
	query := fmt.Sprintf(`SELECT COUNT(*) FROM %s`, name)
	if err := db.QueryRowContext(ctx, query).Scan(&count); err != nil {
		return 0, fmt.Errorf("counting rows in %s: %w", name, err)
	}
	return count, nil
}

// DropAllTables removes every declared table. Destructive; used only by
// reset flows and tests.
func DropAllTables(ctx context.Context, db *sql.DB) error {
	for _, name := range Tables {
		if _, err := db.ExecContext(ctx, fmt.Sprintf(`DROP TABLE IF EXISTS %s`, name)); err != nil {
			return fmt.Errorf("dropping table %s: %w", name, err)
		}
	}
	return nil
}

func isDeclared(name string) bool {
	for _, t := range Tables {
		if t == name {
			return true
		}
	}
	return false
}
