// Package migrate applies ordered, versioned schema migrations to the
// primary database exactly once.
//
// # Model
//
// A Migration pairs forward and reverse SQL with an integer version. Applied
// migrations are recorded in the schema_migrations table together with a
// checksum of their SQL. The current schema version is the highest recorded
// version (0 when empty). Once a version is recorded its effect is never
// re-applied; re-running the runner is a no-op for applied versions.
//
// Each migration executes inside one transaction together with its record
// insert. A failure rolls both back, halts the runner at that version, and
// leaves the same migration to be retried verbatim on the next run.
//
// Validate detects declared migrations that changed after being applied in
// the field (checksum mismatch) and reports them as IntegrityError without
// correcting anything.
//
// Run is expected to execute once, early in the host's post-connect
// sequence, before other components touch the schema.
package migrate
