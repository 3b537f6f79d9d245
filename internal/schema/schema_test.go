// ABOUTME: Tests for baseline schema creation and introspection
// ABOUTME: Covers idempotent creation, table listing, and row counts

package schema

import (
	"context"
	"database/sql"
	"path/filepath"
	"testing"

	_ "modernc.org/sqlite"
)

func newTestDB(t *testing.T) *sql.DB {
	t.Helper()
	db, err := sql.Open("sqlite", filepath.Join(t.TempDir(), "test.db"))
	if err != nil {
		t.Fatalf("opening database: %v", err)
	}
	t.Cleanup(func() { db.Close() })
	return db
}

func TestCreateAllTables(t *testing.T) {
	db := newTestDB(t)
	ctx := context.Background()

	if err := CreateAllTables(ctx, db); err != nil {
		t.Fatalf("CreateAllTables failed: %v", err)
	}

	for _, name := range Tables {
		exists, err := TableExists(ctx, db, name)
		if err != nil {
			t.Fatalf("TableExists(%s) failed: %v", name, err)
		}
		if !exists {
			t.Errorf("table %s was not created", name)
		}
	}
}

func TestCreateAllTables_Idempotent(t *testing.T) {
	db := newTestDB(t)
	ctx := context.Background()

	if err := CreateAllTables(ctx, db); err != nil {
		t.Fatalf("first CreateAllTables failed: %v", err)
	}

	// Insert a row, re-create, and verify the row survives
	if _, err := db.ExecContext(ctx,
		`INSERT INTO settings (key, value, updated_at) VALUES ('theme', 'dark', '2026-01-01T00:00:00Z')`); err != nil {
		t.Fatalf("inserting setting: %v", err)
	}

	if err := CreateAllTables(ctx, db); err != nil {
		t.Fatalf("second CreateAllTables failed: %v", err)
	}

	count, err := TableRowCount(ctx, db, "settings")
	if err != nil {
		t.Fatalf("TableRowCount failed: %v", err)
	}
	if count != 1 {
		t.Errorf("row count after re-create: got %d, want 1", count)
	}
}

func TestTableExists_Missing(t *testing.T) {
	db := newTestDB(t)
	ctx := context.Background()

	exists, err := TableExists(ctx, db, "no_such_table")
	if err != nil {
		t.Fatalf("TableExists failed: %v", err)
	}
	if exists {
		t.Error("TableExists reported a nonexistent table")
	}
}

func TestListTables(t *testing.T) {
	db := newTestDB(t)
	ctx := context.Background()

	if err := CreateAllTables(ctx, db); err != nil {
		t.Fatalf("CreateAllTables failed: %v", err)
	}

	names, err := ListTables(ctx, db)
	if err != nil {
		t.Fatalf("ListTables failed: %v", err)
	}

	found := make(map[string]bool, len(names))
	for _, n := range names {
		found[n] = true
	}
	for _, want := range Tables {
		if !found[want] {
			t.Errorf("ListTables missing %s", want)
		}
	}
}

func TestTableRowCount_UnknownTable(t *testing.T) {
	db := newTestDB(t)
	ctx := context.Background()

	if err := CreateAllTables(ctx, db); err != nil {
		t.Fatalf("CreateAllTables failed: %v", err)
	}

	if _, err := TableRowCount(ctx, db, "sqlite_master; DROP TABLE settings"); err == nil {
		t.Error("expected error for undeclared table name")
	}
}

func TestDropAllTables(t *testing.T) {
	db := newTestDB(t)
	ctx := context.Background()

	if err := CreateAllTables(ctx, db); err != nil {
		t.Fatalf("CreateAllTables failed: %v", err)
	}
	if err := DropAllTables(ctx, db); err != nil {
		t.Fatalf("DropAllTables failed: %v", err)
	}

	for _, name := range Tables {
		exists, err := TableExists(ctx, db, name)
		if err != nil {
			t.Fatalf("TableExists(%s) failed: %v", name, err)
		}
		if exists {
			t.Errorf("table %s still present after drop", name)
		}
	}
}
