// ABOUTME: The host application's declared migration set
// ABOUTME: Consumed by the runner at startup, never mutated at runtime

package migrate

// Declared returns the host application's migration set, in version order.
// The baseline tables themselves come from the schema package; migrations
// cover everything the baseline has grown since.
func Declared() []Migration {
	return []Migration{
		{
			Version: 1,
			Name:    "repositories_last_fetched_at",
			Up:      `ALTER TABLE repositories ADD COLUMN last_fetched_at TEXT`,
			Down:    `ALTER TABLE repositories DROP COLUMN last_fetched_at`,
		},
		{
			Version: 2,
			Name:    "cache_entries_namespace_index",
			Up: `CREATE INDEX IF NOT EXISTS idx_cache_entries_namespace
				ON cache_entries(namespace)`,
			Down: `DROP INDEX IF EXISTS idx_cache_entries_namespace`,
		},
	}
}
