// ABOUTME: Migration and record types for versioned schema evolution
// ABOUTME: Declared migrations carry forward/reverse SQL and a content checksum

package migrate

import (
	"crypto/sha256"
	"encoding/hex"
	"fmt"
	"time"
)

// Migration is a single versioned schema change declared by the host
// application. Up is required; Down may be empty, in which case the
// migration cannot be rolled back.
type Migration struct {
	Version int64
	Name    string
	Up      string
	Down    string
}

// Checksum returns a hex SHA-256 over the migration's SQL. It is recorded
// when the migration is applied and verified by Validate, so a declared
// migration that mutates after being applied in the field is detected.
func (m Migration) Checksum() string {
	h := sha256.New()
	h.Write([]byte(m.Up))
	h.Write([]byte{0})
	h.Write([]byte(m.Down))
	return hex.EncodeToString(h.Sum(nil))
}

// Record is one row of the schema_migrations table: a migration that has
// been applied, with the checksum of its SQL at apply time.
type Record struct {
	Version   int64
	Name      string
	AppliedAt time.Time
	Checksum  string
}

// MigrationError reports a failed forward or reverse operation. The runner
// halts at the failing version; the schema stays at the last successfully
// applied version and the same migration is retried verbatim on the next run.
type MigrationError struct {
	Version   int64
	Name      string
	Direction string // "up" or "down"
	Err       error
}

func (e *MigrationError) Error() string {
	return fmt.Sprintf("migration %d (%s) %s: %v", e.Version, e.Name, e.Direction, e.Err)
}

func (e *MigrationError) Unwrap() error { return e.Err }

// IntegrityError reports a checksum mismatch between an applied record and
// its current declared migration, or an applied record with no declared
// counterpart. Never auto-corrected; requires operator intervention.
type IntegrityError struct {
	Version  int64
	Declared string // checksum of the declared migration; empty if undeclared
	Recorded string // checksum stored when the migration was applied
}

func (e *IntegrityError) Error() string {
	if e.Declared == "" {
		return fmt.Sprintf("migration integrity: version %d is applied but no longer declared", e.Version)
	}
	return fmt.Sprintf("migration integrity: version %d checksum mismatch (declared %s, recorded %s)",
		e.Version, e.Declared, e.Recorded)
}
