// ABOUTME: Tests for the migration runner
// ABOUTME: Covers exactly-once application, rollback, failure atomicity, and integrity checks

package migrate

import (
	"context"
	"database/sql"
	"errors"
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/2389/fold-storage/internal/config"
	"github.com/2389/fold-storage/internal/schema"
	"github.com/2389/fold-storage/internal/storage"
)

func newTestManager(t *testing.T) *storage.Manager {
	t.Helper()
	m := storage.NewManager(config.Default(filepath.Join(t.TempDir(), "test.db")).Database)
	require.NoError(t, m.Connect(context.Background()))
	t.Cleanup(func() { m.Close() })
	return m
}

var testMigrations = []Migration{
	{
		Version: 1,
		Name:    "create_widgets",
		Up:      `CREATE TABLE widgets (id TEXT PRIMARY KEY, name TEXT NOT NULL)`,
		Down:    `DROP TABLE widgets`,
	},
	{
		Version: 2,
		Name:    "widgets_color",
		Up:      `ALTER TABLE widgets ADD COLUMN color TEXT`,
		Down:    `ALTER TABLE widgets DROP COLUMN color`,
	},
}

func TestRun_AppliesInOrder(t *testing.T) {
	mgr := newTestManager(t)
	r := NewRunner(mgr, testMigrations)
	ctx := context.Background()

	require.NoError(t, r.Run(ctx))

	version, err := r.CurrentVersion(ctx)
	require.NoError(t, err)
	assert.Equal(t, int64(2), version)

	// Column from v2 must exist
	db, err := mgr.DB()
	require.NoError(t, err)
	_, err = db.ExecContext(ctx, `INSERT INTO widgets (id, name, color) VALUES ('w1', 'gear', 'red')`)
	require.NoError(t, err)
}

func TestRun_Rerun_NoOp(t *testing.T) {
	mgr := newTestManager(t)
	r := NewRunner(mgr, testMigrations)
	ctx := context.Background()

	require.NoError(t, r.Run(ctx))
	before, err := r.AppliedRecords(ctx)
	require.NoError(t, err)

	require.NoError(t, r.Run(ctx))
	after, err := r.AppliedRecords(ctx)
	require.NoError(t, err)

	assert.Equal(t, before, after, "re-running must not add records")
}

func TestRun_UnsortedDeclarations(t *testing.T) {
	mgr := newTestManager(t)
	// Declared out of order; the runner sorts ascending.
	r := NewRunner(mgr, []Migration{testMigrations[1], testMigrations[0]})
	ctx := context.Background()

	require.NoError(t, r.Run(ctx))

	version, err := r.CurrentVersion(ctx)
	require.NoError(t, err)
	assert.Equal(t, int64(2), version)
}

func TestRun_FailureRollsBackAndHalts(t *testing.T) {
	mgr := newTestManager(t)
	bad := []Migration{
		testMigrations[0],
		{Version: 2, Name: "broken", Up: `THIS IS NOT SQL`, Down: ``},
		{Version: 3, Name: "never_reached", Up: `CREATE TABLE unreached (id TEXT)`, Down: ``},
	}
	r := NewRunner(mgr, bad)
	ctx := context.Background()

	err := r.Run(ctx)
	require.Error(t, err)

	var migErr *MigrationError
	require.ErrorAs(t, err, &migErr)
	assert.Equal(t, int64(2), migErr.Version)
	assert.Equal(t, "up", migErr.Direction)

	// Schema stays at the last successfully applied version
	version, err := r.CurrentVersion(ctx)
	require.NoError(t, err)
	assert.Equal(t, int64(1), version)

	// No record for the failed migration, and v3 was never attempted
	db, err := mgr.DB()
	require.NoError(t, err)
	exists, err := schema.TableExists(ctx, db, "unreached")
	require.NoError(t, err)
	assert.False(t, exists)
}

func TestRun_RetryAfterFailure(t *testing.T) {
	mgr := newTestManager(t)
	ctx := context.Background()

	bad := []Migration{
		testMigrations[0],
		{Version: 2, Name: "widgets_color", Up: `THIS IS NOT SQL`, Down: ``},
	}
	require.Error(t, NewRunner(mgr, bad).Run(ctx))

	// Fixed declaration applies cleanly from where the runner halted
	require.NoError(t, NewRunner(mgr, testMigrations).Run(ctx))

	version, err := NewRunner(mgr, testMigrations).CurrentVersion(ctx)
	require.NoError(t, err)
	assert.Equal(t, int64(2), version)
}

func TestRollbackTo(t *testing.T) {
	mgr := newTestManager(t)
	r := NewRunner(mgr, testMigrations)
	ctx := context.Background()

	require.NoError(t, r.Run(ctx))
	require.NoError(t, r.RollbackTo(ctx, 0))

	version, err := r.CurrentVersion(ctx)
	require.NoError(t, err)
	assert.Equal(t, int64(0), version)

	db, err := mgr.DB()
	require.NoError(t, err)
	exists, err := schema.TableExists(ctx, db, "widgets")
	require.NoError(t, err)
	assert.False(t, exists, "widgets table should be gone after full rollback")
}

func TestRollbackTo_PartialTarget(t *testing.T) {
	mgr := newTestManager(t)
	r := NewRunner(mgr, testMigrations)
	ctx := context.Background()

	require.NoError(t, r.Run(ctx))
	require.NoError(t, r.RollbackTo(ctx, 1))

	version, err := r.CurrentVersion(ctx)
	require.NoError(t, err)
	assert.Equal(t, int64(1), version)

	// v1 table still present, v2 column gone
	db, err := mgr.DB()
	require.NoError(t, err)
	exists, err := schema.TableExists(ctx, db, "widgets")
	require.NoError(t, err)
	assert.True(t, exists)
	_, err = db.ExecContext(ctx, `INSERT INTO widgets (id, name, color) VALUES ('w', 'n', 'c')`)
	assert.Error(t, err, "color column should be gone")
}

func TestRollbackTo_MissingDownSQL(t *testing.T) {
	mgr := newTestManager(t)
	oneWay := []Migration{
		{Version: 1, Name: "one_way", Up: `CREATE TABLE one_way (id TEXT)`, Down: ``},
	}
	r := NewRunner(mgr, oneWay)
	ctx := context.Background()

	require.NoError(t, r.Run(ctx))

	err := r.RollbackTo(ctx, 0)
	var migErr *MigrationError
	require.ErrorAs(t, err, &migErr)
	assert.Equal(t, "down", migErr.Direction)
}

func TestPendingAndNeeds(t *testing.T) {
	mgr := newTestManager(t)
	r := NewRunner(mgr, testMigrations)
	ctx := context.Background()

	pending, err := r.Pending(ctx)
	require.NoError(t, err)
	assert.Len(t, pending, 2)

	needs, err := r.Needs(ctx)
	require.NoError(t, err)
	assert.True(t, needs)

	require.NoError(t, r.Run(ctx))

	pending, err = r.Pending(ctx)
	require.NoError(t, err)
	assert.Empty(t, pending)

	needs, err = r.Needs(ctx)
	require.NoError(t, err)
	assert.False(t, needs)
}

func TestValidate_ChecksumMismatch(t *testing.T) {
	mgr := newTestManager(t)
	ctx := context.Background()

	require.NoError(t, NewRunner(mgr, testMigrations).Run(ctx))

	// Same versions, mutated SQL for v2
	tampered := []Migration{
		testMigrations[0],
		{Version: 2, Name: "widgets_color", Up: `ALTER TABLE widgets ADD COLUMN colour TEXT`, Down: ``},
	}
	err := NewRunner(mgr, tampered).Validate(ctx)

	var integrityErr *IntegrityError
	require.ErrorAs(t, err, &integrityErr)
	assert.Equal(t, int64(2), integrityErr.Version)
	assert.NotEqual(t, integrityErr.Declared, integrityErr.Recorded)
}

func TestValidate_AppliedButUndeclared(t *testing.T) {
	mgr := newTestManager(t)
	ctx := context.Background()

	require.NoError(t, NewRunner(mgr, testMigrations).Run(ctx))

	err := NewRunner(mgr, testMigrations[:1]).Validate(ctx)

	var integrityErr *IntegrityError
	require.ErrorAs(t, err, &integrityErr)
	assert.Equal(t, int64(2), integrityErr.Version)
	assert.Empty(t, integrityErr.Declared)
}

func TestValidate_Clean(t *testing.T) {
	mgr := newTestManager(t)
	r := NewRunner(mgr, testMigrations)
	ctx := context.Background()

	require.NoError(t, r.Run(ctx))
	require.NoError(t, r.Validate(ctx))
}

func TestRun_DuplicateVersions(t *testing.T) {
	mgr := newTestManager(t)
	dup := []Migration{
		{Version: 1, Name: "a", Up: `CREATE TABLE a (id TEXT)`},
		{Version: 1, Name: "b", Up: `CREATE TABLE b (id TEXT)`},
	}
	err := NewRunner(mgr, dup).Run(context.Background())
	require.Error(t, err)
	assert.Contains(t, err.Error(), "duplicate version")
}

func TestCurrentVersion_Empty(t *testing.T) {
	mgr := newTestManager(t)
	r := NewRunner(mgr, testMigrations)

	version, err := r.CurrentVersion(context.Background())
	require.NoError(t, err)
	assert.Equal(t, int64(0), version)
}

func TestReset(t *testing.T) {
	mgr := newTestManager(t)
	r := NewRunner(mgr, testMigrations)
	ctx := context.Background()

	require.NoError(t, r.Run(ctx))
	require.NoError(t, r.Reset(ctx))

	version, err := r.CurrentVersion(ctx)
	require.NoError(t, err)
	assert.Equal(t, int64(0), version)

	// Baseline tables are back
	db, err := mgr.DB()
	require.NoError(t, err)
	for _, table := range schema.Tables {
		exists, err := schema.TableExists(ctx, db, table)
		require.NoError(t, err)
		assert.True(t, exists, "table %s should exist after reset", table)
	}
}

func TestRunner_NotConnected(t *testing.T) {
	mgr := storage.NewManager(config.Default(filepath.Join(t.TempDir(), "never.db")).Database)
	r := NewRunner(mgr, testMigrations)
	ctx := context.Background()

	_, err := r.CurrentVersion(ctx)
	assert.ErrorIs(t, err, storage.ErrNotConnected)

	err = r.Run(ctx)
	assert.ErrorIs(t, err, storage.ErrNotConnected)
}

// End-to-end: connect, migrate, write, close, reconnect, verify.
func TestEndToEnd_SurvivesReconnect(t *testing.T) {
	dbPath := filepath.Join(t.TempDir(), "e2e.db")
	mgr := storage.NewManager(config.Default(dbPath).Database)
	ctx := context.Background()

	require.NoError(t, mgr.Connect(ctx))
	require.NoError(t, NewRunner(mgr, testMigrations).Run(ctx))

	db, err := mgr.DB()
	require.NoError(t, err)
	_, err = db.ExecContext(ctx, `INSERT INTO widgets (id, name, color) VALUES ('w1', 'gear', 'blue')`)
	require.NoError(t, err)

	require.NoError(t, mgr.Close())
	require.NoError(t, mgr.Connect(ctx))
	defer mgr.Close()

	r := NewRunner(mgr, testMigrations)
	version, err := r.CurrentVersion(ctx)
	require.NoError(t, err)
	assert.Equal(t, int64(2), version)

	db, err = mgr.DB()
	require.NoError(t, err)
	var name, color string
	err = db.QueryRowContext(ctx, `SELECT name, color FROM widgets WHERE id = 'w1'`).Scan(&name, &color)
	require.NoError(t, err)
	assert.Equal(t, "gear", name)
	assert.Equal(t, "blue", color)

	// Still a no-op after reconnect
	require.NoError(t, r.Run(ctx))
}

func TestDeclared_ValidSet(t *testing.T) {
	mgr := newTestManager(t)
	r := NewRunner(mgr, Declared())
	ctx := context.Background()

	require.NoError(t, r.Run(ctx))
	require.NoError(t, r.Validate(ctx))

	version, err := r.CurrentVersion(ctx)
	require.NoError(t, err)
	assert.Equal(t, int64(2), version)
}

// Error surface sanity: errors.Is/As compose through the taxonomy.
func TestMigrationError_Unwrap(t *testing.T) {
	inner := sql.ErrTxDone
	err := &MigrationError{Version: 3, Name: "x", Direction: "up", Err: inner}
	assert.True(t, errors.Is(err, sql.ErrTxDone))
	assert.Contains(t, err.Error(), "migration 3")
}
