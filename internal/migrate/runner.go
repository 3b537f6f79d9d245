// ABOUTME: Applies ordered, versioned schema migrations exactly once
// ABOUTME: Each migration and its record commit atomically; rollback reverses them

package migrate

import (
	"context"
	"database/sql"
	"fmt"
	"log/slog"
	"sort"
	"time"

	"github.com/2389/fold-storage/internal/schema"
	"github.com/2389/fold-storage/internal/storage"
)

// Runner applies a declared, ordered migration set against the primary
// database. The declared set is copied at construction and never mutated.
//
// Run is expected to execute once, early in the host's post-connect
// sequence, before any other component touches the schema.
type Runner struct {
	mgr        *storage.Manager
	migrations []Migration
	logger     *slog.Logger
}

// NewRunner creates a runner over the manager's connection for the given
// declared migrations. The slice is copied and sorted ascending by version.
func NewRunner(mgr *storage.Manager, migrations []Migration) *Runner {
	sorted := make([]Migration, len(migrations))
	copy(sorted, migrations)
	sort.Slice(sorted, func(i, j int) bool { return sorted[i].Version < sorted[j].Version })

	return &Runner{
		mgr:        mgr,
		migrations: sorted,
		logger:     slog.Default().With("component", "migrate"),
	}
}

// CurrentVersion returns the highest applied migration version, or 0 when
// no migration has been applied.
func (r *Runner) CurrentVersion(ctx context.Context) (int64, error) {
	db, err := r.mgr.DB()
	if err != nil {
		return 0, err
	}

	var version int64
	err = db.QueryRowContext(ctx,
		`SELECT COALESCE(MAX(version), 0) FROM schema_migrations`).Scan(&version)
	if err != nil {
		return 0, fmt.Errorf("querying current version: %w", err)
	}
	return version, nil
}

// Pending returns the declared migrations with a version greater than the
// current one, in apply order.
func (r *Runner) Pending(ctx context.Context) ([]Migration, error) {
	current, err := r.CurrentVersion(ctx)
	if err != nil {
		return nil, err
	}

	var pending []Migration
	for _, m := range r.migrations {
		if m.Version > current {
			pending = append(pending, m)
		}
	}
	return pending, nil
}

// Needs reports whether any declared migration has not been applied yet.
func (r *Runner) Needs(ctx context.Context) (bool, error) {
	pending, err := r.Pending(ctx)
	if err != nil {
		return false, err
	}
	return len(pending) > 0, nil
}

// Run applies every pending migration in ascending version order. Each
// migration executes inside one transaction together with its record
// insert, so a failure leaves no record and the migration is retried
// verbatim on the next run. Re-running with nothing pending is a no-op.
func (r *Runner) Run(ctx context.Context) error {
	if err := r.validateDeclared(); err != nil {
		return err
	}

	pending, err := r.Pending(ctx)
	if err != nil {
		return err
	}
	if len(pending) == 0 {
		r.logger.Debug("no pending migrations")
		return nil
	}

	for _, m := range pending {
		err := r.mgr.Transaction(ctx, func(ctx context.Context, tx *sql.Tx) error {
			if _, err := tx.ExecContext(ctx, m.Up); err != nil {
				return fmt.Errorf("executing forward SQL: %w", err)
			}
			_, err := tx.ExecContext(ctx, `
				INSERT INTO schema_migrations (version, name, applied_at, checksum)
				VALUES (?, ?, ?, ?)
			`, m.Version, m.Name, time.Now().UTC().Format(time.RFC3339), m.Checksum())
			if err != nil {
				return fmt.Errorf("recording migration: %w", err)
			}
			return nil
		})
		if err != nil {
			return &MigrationError{Version: m.Version, Name: m.Name, Direction: "up", Err: err}
		}
		r.logger.Info("applied migration", "version", m.Version, "name", m.Name)
	}
	return nil
}

// RollbackTo applies reverse operations for every applied migration with a
// version strictly greater than target, in descending order. Each reversal
// runs in its own transaction and deletes its record only on success.
func (r *Runner) RollbackTo(ctx context.Context, target int64) error {
	records, err := r.AppliedRecords(ctx)
	if err != nil {
		return err
	}

	declared := make(map[int64]Migration, len(r.migrations))
	for _, m := range r.migrations {
		declared[m.Version] = m
	}

	// Records come back ascending; walk them in reverse.
	for i := len(records) - 1; i >= 0; i-- {
		rec := records[i]
		if rec.Version <= target {
			break
		}

		m, ok := declared[rec.Version]
		if !ok {
			return &MigrationError{Version: rec.Version, Name: rec.Name, Direction: "down",
				Err: fmt.Errorf("no declared migration for applied version")}
		}
		if m.Down == "" {
			return &MigrationError{Version: m.Version, Name: m.Name, Direction: "down",
				Err: fmt.Errorf("migration has no reverse SQL")}
		}

		err := r.mgr.Transaction(ctx, func(ctx context.Context, tx *sql.Tx) error {
			if _, err := tx.ExecContext(ctx, m.Down); err != nil {
				return fmt.Errorf("executing reverse SQL: %w", err)
			}
			if _, err := tx.ExecContext(ctx,
				`DELETE FROM schema_migrations WHERE version = ?`, m.Version); err != nil {
				return fmt.Errorf("deleting migration record: %w", err)
			}
			return nil
		})
		if err != nil {
			return &MigrationError{Version: m.Version, Name: m.Name, Direction: "down", Err: err}
		}
		r.logger.Info("rolled back migration", "version", m.Version, "name", m.Name)
	}
	return nil
}

// AppliedRecords returns every applied migration record, ascending by version.
func (r *Runner) AppliedRecords(ctx context.Context) ([]Record, error) {
	db, err := r.mgr.DB()
	if err != nil {
		return nil, err
	}

	rows, err := db.QueryContext(ctx, `
		SELECT version, name, applied_at, checksum
		FROM schema_migrations
		ORDER BY version ASC
	`)
	if err != nil {
		return nil, fmt.Errorf("querying migration records: %w", err)
	}
	defer rows.Close()

	var records []Record
	for rows.Next() {
		var rec Record
		var appliedAtStr string
		if err := rows.Scan(&rec.Version, &rec.Name, &appliedAtStr, &rec.Checksum); err != nil {
			return nil, fmt.Errorf("scanning migration record: %w", err)
		}
		rec.AppliedAt, err = time.Parse(time.RFC3339, appliedAtStr)
		if err != nil {
			return nil, fmt.Errorf("parsing applied_at: %w", err)
		}
		records = append(records, rec)
	}
	return records, rows.Err()
}

// Validate checks the declared set (unique, strictly increasing versions)
// and verifies every applied record's checksum against its current declared
// migration. A mismatch or an applied-but-undeclared version is reported as
// an IntegrityError and never auto-corrected.
func (r *Runner) Validate(ctx context.Context) error {
	if err := r.validateDeclared(); err != nil {
		return err
	}

	records, err := r.AppliedRecords(ctx)
	if err != nil {
		return err
	}

	declared := make(map[int64]Migration, len(r.migrations))
	for _, m := range r.migrations {
		declared[m.Version] = m
	}

	for _, rec := range records {
		m, ok := declared[rec.Version]
		if !ok {
			return &IntegrityError{Version: rec.Version, Recorded: rec.Checksum}
		}
		if m.Checksum() != rec.Checksum {
			return &IntegrityError{Version: rec.Version, Declared: m.Checksum(), Recorded: rec.Checksum}
		}
	}
	return nil
}

// validateDeclared checks that declared versions are unique, positive, and
// strictly increasing after sorting.
func (r *Runner) validateDeclared() error {
	var prev int64
	for _, m := range r.migrations {
		if m.Version <= 0 {
			return fmt.Errorf("migration %q: version %d must be positive", m.Name, m.Version)
		}
		if m.Version == prev {
			return fmt.Errorf("migration %q: duplicate version %d", m.Name, m.Version)
		}
		if m.Up == "" {
			return fmt.Errorf("migration %q (version %d): no forward SQL", m.Name, m.Version)
		}
		prev = m.Version
	}
	return nil
}

// Reset drops every managed table, including the migration records, and
// recreates the baseline schema. Destructive; intended for test and
// explicit reset flows only.
func (r *Runner) Reset(ctx context.Context) error {
	db, err := r.mgr.DB()
	if err != nil {
		return err
	}

	if err := schema.DropAllTables(ctx, db); err != nil {
		return err
	}
	if err := schema.CreateAllTables(ctx, db); err != nil {
		return err
	}
	r.logger.Warn("database reset: all managed tables dropped and recreated")
	return nil
}
