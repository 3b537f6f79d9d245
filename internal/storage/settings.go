// ABOUTME: Host application settings stored as string KV in the primary database
// ABOUTME: Simple get/set/list/delete over the settings table

package storage

import (
	"context"
	"database/sql"
	"fmt"
	"time"
)

// Setting is a single host preference row.
type Setting struct {
	Key       string
	Value     string
	UpdatedAt time.Time
}

// SetSetting creates or overwrites a setting.
func (m *Manager) SetSetting(ctx context.Context, key, value string) error {
	db, err := m.DB()
	if err != nil {
		return err
	}

	_, err = db.ExecContext(ctx, `
		INSERT INTO settings (key, value, updated_at)
		VALUES (?, ?, ?)
		ON CONFLICT(key) DO UPDATE SET value = excluded.value, updated_at = excluded.updated_at
	`, key, value, time.Now().UTC().Format(time.RFC3339))
	if err != nil {
		return fmt.Errorf("saving setting %s: %w", key, err)
	}

	m.logger.Debug("saved setting", "key", key)
	return nil
}

// GetSetting returns a setting's value.
// Returns ErrNotFound if the key has never been set.
func (m *Manager) GetSetting(ctx context.Context, key string) (string, error) {
	db, err := m.DB()
	if err != nil {
		return "", err
	}

	var value string
	err = db.QueryRowContext(ctx, `SELECT value FROM settings WHERE key = ?`, key).Scan(&value)
	if err == sql.ErrNoRows {
		return "", ErrNotFound
	}
	if err != nil {
		return "", fmt.Errorf("querying setting %s: %w", key, err)
	}
	return value, nil
}

// ListSettings returns all settings ordered by key.
func (m *Manager) ListSettings(ctx context.Context) ([]*Setting, error) {
	db, err := m.DB()
	if err != nil {
		return nil, err
	}

	rows, err := db.QueryContext(ctx, `SELECT key, value, updated_at FROM settings ORDER BY key`)
	if err != nil {
		return nil, fmt.Errorf("querying settings: %w", err)
	}
	defer rows.Close()

	var settings []*Setting
	for rows.Next() {
		var s Setting
		var updatedAtStr string
		if err := rows.Scan(&s.Key, &s.Value, &updatedAtStr); err != nil {
			return nil, fmt.Errorf("scanning setting row: %w", err)
		}
		s.UpdatedAt, err = time.Parse(time.RFC3339, updatedAtStr)
		if err != nil {
			return nil, fmt.Errorf("parsing updated_at: %w", err)
		}
		settings = append(settings, &s)
	}
	return settings, rows.Err()
}

// DeleteSetting removes a setting.
// Returns ErrNotFound if the key does not exist.
func (m *Manager) DeleteSetting(ctx context.Context, key string) error {
	db, err := m.DB()
	if err != nil {
		return err
	}

	result, err := db.ExecContext(ctx, `DELETE FROM settings WHERE key = ?`, key)
	if err != nil {
		return fmt.Errorf("deleting setting %s: %w", key, err)
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
