// ABOUTME: Registry of repositories the host application has opened
// ABOUTME: CRUD over the repositories table keyed by filesystem path

package storage

import (
	"context"
	"database/sql"
	"fmt"
	"strings"
	"time"

	"github.com/google/uuid"
)

// Repository represents a repository the host has opened at least once.
type Repository struct {
	ID           string
	Path         string
	Name         string
	CreatedAt    time.Time
	LastOpenedAt time.Time
}

// RegisterRepository records a repository by its filesystem path.
// Returns ErrDuplicateRepository if the path is already registered.
func (m *Manager) RegisterRepository(ctx context.Context, repo *Repository) error {
	db, err := m.DB()
	if err != nil {
		return err
	}

	if repo.ID == "" {
		repo.ID = uuid.New().String()
	}
	now := time.Now().UTC()
	if repo.CreatedAt.IsZero() {
		repo.CreatedAt = now
	}
	if repo.LastOpenedAt.IsZero() {
		repo.LastOpenedAt = now
	}

	_, err = db.ExecContext(ctx, `
		INSERT INTO repositories (id, path, name, created_at, last_opened_at)
		VALUES (?, ?, ?, ?, ?)
	`, repo.ID, repo.Path, repo.Name,
		repo.CreatedAt.Format(time.RFC3339),
		repo.LastOpenedAt.Format(time.RFC3339))
	if err != nil {
		if isConstraintViolation(err) {
			return ErrDuplicateRepository
		}
		return fmt.Errorf("inserting repository: %w", err)
	}

	m.logger.Debug("registered repository", "id", repo.ID, "path", repo.Path)
	return nil
}

// GetRepositoryByPath retrieves a repository by its filesystem path.
// Returns ErrNotFound if the path is not registered.
func (m *Manager) GetRepositoryByPath(ctx context.Context, path string) (*Repository, error) {
	db, err := m.DB()
	if err != nil {
		return nil, err
	}

	row := db.QueryRowContext(ctx, `
		SELECT id, path, name, created_at, last_opened_at
		FROM repositories
		WHERE path = ?
	`, path)
	return scanRepository(row)
}

// ListRepositories returns all registered repositories, most recently
// opened first.
func (m *Manager) ListRepositories(ctx context.Context) ([]*Repository, error) {
	db, err := m.DB()
	if err != nil {
		return nil, err
	}

	rows, err := db.QueryContext(ctx, `
		SELECT id, path, name, created_at, last_opened_at
		FROM repositories
		ORDER BY last_opened_at DESC
	`)
	if err != nil {
		return nil, fmt.Errorf("querying repositories: %w", err)
	}
	defer rows.Close()

	var repos []*Repository
	for rows.Next() {
		var r Repository
		var createdAtStr, lastOpenedAtStr string
		if err := rows.Scan(&r.ID, &r.Path, &r.Name, &createdAtStr, &lastOpenedAtStr); err != nil {
			return nil, fmt.Errorf("scanning repository row: %w", err)
		}
		r.CreatedAt, err = time.Parse(time.RFC3339, createdAtStr)
		if err != nil {
			return nil, fmt.Errorf("parsing created_at: %w", err)
		}
		r.LastOpenedAt, err = time.Parse(time.RFC3339, lastOpenedAtStr)
		if err != nil {
			return nil, fmt.Errorf("parsing last_opened_at: %w", err)
		}
		repos = append(repos, &r)
	}
	return repos, rows.Err()
}

// TouchRepository updates a repository's last_opened_at to now.
// Returns ErrNotFound if the repository does not exist.
func (m *Manager) TouchRepository(ctx context.Context, id string) error {
	db, err := m.DB()
	if err != nil {
		return err
	}

	result, err := db.ExecContext(ctx, `
		UPDATE repositories SET last_opened_at = ? WHERE id = ?
	`, time.Now().UTC().Format(time.RFC3339), id)
	if err != nil {
		return fmt.Errorf("touching repository: %w", err)
	}

	rowsAffected, err := result.RowsAffected()
	if err != nil {
		return fmt.Errorf("getting rows affected: %w", err)
	}
	if rowsAffected == 0 {
		return ErrNotFound
	}
	return nil
}

// DeleteRepository removes a repository from the registry.
// Returns ErrNotFound if the repository does not exist.
func (m *Manager) DeleteRepository(ctx context.Context, id string) error {
	db, err := m.DB()
	if err != nil {
		return err
	}

	result, err := db.ExecContext(ctx, `DELETE FROM repositories WHERE id = ?`, id)
	if err != nil {
		return fmt.Errorf("deleting repository: %w", err)
	}

	rowsAffected, err := result.RowsAffected()
	if err != nil {
		return fmt.Errorf("getting rows affected: %w", err)
	}
	if rowsAffected == 0 {
		return ErrNotFound
	}

	m.logger.Debug("deleted repository", "id", id)
	return nil
}

func scanRepository(row *sql.Row) (*Repository, error) {
	var r Repository
	var createdAtStr, lastOpenedAtStr string

	err := row.Scan(&r.ID, &r.Path, &r.Name, &createdAtStr, &lastOpenedAtStr)
	if err == sql.ErrNoRows {
		return nil, ErrNotFound
	}
	if err != nil {
		return nil, fmt.Errorf("scanning repository: %w", err)
	}

	r.CreatedAt, err = time.Parse(time.RFC3339, createdAtStr)
	if err != nil {
		return nil, fmt.Errorf("parsing created_at: %w", err)
	}
	r.LastOpenedAt, err = time.Parse(time.RFC3339, lastOpenedAtStr)
	if err != nil {
		return nil, fmt.Errorf("parsing last_opened_at: %w", err)
	}
	return &r, nil
}

// isConstraintViolation checks if the error is a SQLite UNIQUE constraint violation
func isConstraintViolation(err error) bool {
	if err == nil {
		return false
	}
	errStr := err.Error()
	return strings.Contains(errStr, "UNIQUE constraint failed") ||
		strings.Contains(errStr, "constraint failed")
}
