// Package plugin provides per-plugin storage on top of the primary
// database: shared key/value rows and private per-plugin database files.
//
// # Isolation
//
// Shared entries live as multi-tenant rows in one table, partitioned by
// plugin id in every query; no code path reads across the partition, so
// one plugin can never see or enumerate another's keys. Expiry follows the
// cache model: lazy check on read, physical removal batched into
// CleanupExpired.
//
// Private databases are physically separate SQLite files, one per plugin
// id, under a managed data directory. The file name derives
// deterministically from the plugin id, so the registry can be
// cross-checked against a directory listing. A plugin id maps to at most
// one open handle, and a handle is never shared between plugin ids.
// CloseAll runs once at process shutdown.
//
// Plugins declare their storage needs (private database, custom file name)
// in a plugin.toml manifest parsed by LoadManifest.
package plugin
