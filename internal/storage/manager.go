// ABOUTME: Owns the single primary database handle for the process
// ABOUTME: Lifecycle, pragmas, transactions, and maintenance operations

package storage

import (
	"context"
	"database/sql"
	"fmt"
	"log/slog"
	"os"
	"path/filepath"
	"sync"
	"time"

	_ "modernc.org/sqlite"

	"github.com/2389/fold-storage/internal/config"
	"github.com/2389/fold-storage/internal/schema"
)

// Manager owns the single open handle to the primary database file.
// All other components borrow the handle through DB for each operation
// rather than caching it, so a close/reopen cycle is always observed.
type Manager struct {
	cfg    config.DatabaseConfig
	logger *slog.Logger

	mu       sync.RWMutex
	db       *sql.DB
	openedAt time.Time

	// writeMu serializes write transactions; the engine handle is not
	// safe for concurrent writers.
	writeMu sync.Mutex
}

// ConnectionInfo describes the current state of the primary connection.
type ConnectionInfo struct {
	Path        string
	Connected   bool
	OpenedAt    time.Time
	JournalMode string
	PageSize    int64
	FileSize    int64
}

// NewManager creates a manager for the primary database described by cfg.
// No connection is opened until Connect is called.
func NewManager(cfg config.DatabaseConfig) *Manager {
	return &Manager{
		cfg:    cfg,
		logger: slog.Default().With("component", "storage"),
	}
}

// Connect opens the primary database file, creating it (and parent
// directories) if configured, applies the engine pragmas, and ensures the
// baseline schema exists. Calling Connect while already connected returns
// without side effects.
func (m *Manager) Connect(ctx context.Context) error {
	m.mu.Lock()
	defer m.mu.Unlock()

	if m.db != nil {
		return nil
	}

	path := m.cfg.Path

	if m.cfg.CreateIfMissing == nil || *m.cfg.CreateIfMissing {
		dir := filepath.Dir(path)
		if err := os.MkdirAll(dir, 0755); err != nil {
			return &ConnectionError{Path: path, Err: fmt.Errorf("creating database directory: %w", err)}
		}
	} else if _, err := os.Stat(path); err != nil {
		return &ConnectionError{Path: path, Err: fmt.Errorf("database file missing: %w", err)}
	}

	db, err := sql.Open("sqlite", path)
	if err != nil {
		return &ConnectionError{Path: path, Err: fmt.Errorf("opening database: %w", err)}
	}

	if err := m.applyPragmas(ctx, db); err != nil {
		db.Close()
		return &ConnectionError{Path: path, Err: err}
	}

	if err := schema.CreateAllTables(ctx, db); err != nil {
		db.Close()
		return &ConnectionError{Path: path, Err: err}
	}

	m.db = db
	m.openedAt = time.Now().UTC()
	m.logger.Info("database connected", "path", path, "journal_mode", m.cfg.JournalMode)
	return nil
}

// applyPragmas sets the durability and concurrency knobs from the config.
// A failure here usually means the file is not a database (corrupt or
// foreign), so it is surfaced as a connection failure.
func (m *Manager) applyPragmas(ctx context.Context, db *sql.DB) error {
	journalMode := m.cfg.JournalMode
	if journalMode == "" {
		journalMode = config.DefaultJournalMode
	}
	synchronous := m.cfg.Synchronous
	if synchronous == "" {
		synchronous = config.DefaultSynchronous
	}
	busyTimeout := m.cfg.BusyTimeout
	if busyTimeout == 0 {
		busyTimeout = config.DefaultBusyTimeout
	}

	pragmas := []string{
		fmt.Sprintf("PRAGMA journal_mode=%s", journalMode),
		fmt.Sprintf("PRAGMA synchronous=%s", synchronous),
		fmt.Sprintf("PRAGMA busy_timeout=%d", busyTimeout.Milliseconds()),
	}
	if m.cfg.ForeignKeys == nil || *m.cfg.ForeignKeys {
		pragmas = append(pragmas, "PRAGMA foreign_keys=ON")
	}

	for _, pragma := range pragmas {
		if _, err := db.ExecContext(ctx, pragma); err != nil {
			return fmt.Errorf("applying %s: %w", pragma, err)
		}
	}
	return nil
}

// DB returns the shared handle, or ErrNotConnected when there is none.
// Callers must not retain the returned handle across operations.
func (m *Manager) DB() (*sql.DB, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()

	if m.db == nil {
		return nil, ErrNotConnected
	}
	return m.db, nil
}

// IsConnected reports whether a live handle is open.
func (m *Manager) IsConnected() bool {
	m.mu.RLock()
	defer m.mu.RUnlock()
	return m.db != nil
}

// Close flushes and releases the handle. Safe to call when already closed.
func (m *Manager) Close() error {
	m.mu.Lock()
	defer m.mu.Unlock()

	if m.db == nil {
		return nil
	}

	err := m.db.Close()
	m.db = nil
	if err != nil {
		return &ConnectionError{Path: m.cfg.Path, Err: fmt.Errorf("closing database: %w", err)}
	}
	m.logger.Info("database closed", "path", m.cfg.Path)
	return nil
}

// Info returns a snapshot of the connection state for diagnostics.
// When disconnected, only Path is populated.
func (m *Manager) Info(ctx context.Context) (*ConnectionInfo, error) {
	m.mu.RLock()
	db := m.db
	openedAt := m.openedAt
	m.mu.RUnlock()

	info := &ConnectionInfo{Path: m.cfg.Path}
	if db == nil {
		return info, nil
	}
	info.Connected = true
	info.OpenedAt = openedAt

	if err := db.QueryRowContext(ctx, "PRAGMA journal_mode").Scan(&info.JournalMode); err != nil {
		return nil, fmt.Errorf("reading journal_mode: %w", err)
	}
	if err := db.QueryRowContext(ctx, "PRAGMA page_size").Scan(&info.PageSize); err != nil {
		return nil, fmt.Errorf("reading page_size: %w", err)
	}

	size, err := m.FileSize()
	if err != nil {
		return nil, err
	}
	info.FileSize = size

	return info, nil
}

// FileSize reports the on-disk size of the primary database file.
func (m *Manager) FileSize() (int64, error) {
	fi, err := os.Stat(m.cfg.Path)
	if err != nil {
		return 0, fmt.Errorf("stat database file: %w", err)
	}
	return fi.Size(), nil
}

// Vacuum reclaims space from deleted rows. It may block other operations
// briefly and is intended for maintenance flows, not hot paths.
func (m *Manager) Vacuum(ctx context.Context) error {
	db, err := m.DB()
	if err != nil {
		return err
	}

	m.writeMu.Lock()
	defer m.writeMu.Unlock()

	start := time.Now()
	if _, err := db.ExecContext(ctx, "VACUUM"); err != nil {
		return fmt.Errorf("vacuuming database: %w", err)
	}
	m.logger.Info("database vacuumed", "duration", time.Since(start))
	return nil
}

// txKey carries the active transaction through the context so nested
// Transaction calls join the outer unit instead of starting a new one.
type txKey struct{}

// txFromContext returns the transaction the context is running under, if any.
func txFromContext(ctx context.Context) (*sql.Tx, bool) {
	tx, ok := ctx.Value(txKey{}).(*sql.Tx)
	return tx, ok
}

// Transaction runs work inside a single atomic unit. All writes commit
// together or none do; an error from work rolls everything back and
// propagates. A nested call reuses the outer transaction.
func (m *Manager) Transaction(ctx context.Context, work func(ctx context.Context, tx *sql.Tx) error) error {
	if tx, ok := txFromContext(ctx); ok {
		return work(ctx, tx)
	}

	db, err := m.DB()
	if err != nil {
		return err
	}

	m.writeMu.Lock()
	defer m.writeMu.Unlock()

	tx, err := db.BeginTx(ctx, nil)
	if err != nil {
		return fmt.Errorf("beginning transaction: %w", err)
	}

	ctx = context.WithValue(ctx, txKey{}, tx)
	if err := work(ctx, tx); err != nil {
		if rbErr := tx.Rollback(); rbErr != nil {
			m.logger.Error("transaction rollback failed", "error", rbErr)
		}
		return err
	}

	if err := tx.Commit(); err != nil {
		return fmt.Errorf("committing transaction: %w", err)
	}
	return nil
}
