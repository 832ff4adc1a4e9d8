package sqlite

import (
	"context"
	"database/sql"
	"errors"
	"fmt"

	"github.com/goodtune/pedometer/internal/storage"
)

type preferenceStore struct {
	db   *sql.DB
	file string
}

func (s *preferenceStore) GetString(ctx context.Context, key string) (string, error) {
	var value string
	err := s.db.QueryRowContext(ctx,
		`SELECT value FROM preferences WHERE file = ? AND key = ?`, s.file, key,
	).Scan(&value)
	if errors.Is(err, sql.ErrNoRows) {
		return "", storage.ErrNotFound
	}
	if err != nil {
		return "", fmt.Errorf("query preference: %w", err)
	}
	return value, nil
}

func (s *preferenceStore) PutString(ctx context.Context, key, value string) error {
	_, err := s.db.ExecContext(ctx, `
		INSERT INTO preferences (file, key, value, updated_at)
		VALUES (?, ?, ?, CURRENT_TIMESTAMP)
		ON CONFLICT(file, key) DO UPDATE SET
			value = excluded.value,
			updated_at = excluded.updated_at
	`, s.file, key, value)
	if err != nil {
		return fmt.Errorf("upsert preference: %w", err)
	}
	return nil
}

func (s *preferenceStore) Remove(ctx context.Context, key string) error {
	result, err := s.db.ExecContext(ctx, `DELETE FROM preferences WHERE file = ? AND key = ?`, s.file, key)
	if err != nil {
		return fmt.Errorf("delete preference: %w", err)
	}
	rows, err := result.RowsAffected()
	if err != nil {
		return fmt.Errorf("delete preference: %w", err)
	}
	if rows == 0 {
		return storage.ErrNotFound
	}
	return nil
}

func (s *preferenceStore) Keys(ctx context.Context) ([]string, error) {
	rows, err := s.db.QueryContext(ctx, `SELECT key FROM preferences WHERE file = ? ORDER BY key`, s.file)
	if err != nil {
		return nil, fmt.Errorf("list preferences: %w", err)
	}
	defer func() { _ = rows.Close() }()

	keys := make([]string, 0)
	for rows.Next() {
		var key string
		if err := rows.Scan(&key); err != nil {
			return nil, fmt.Errorf("scan preference key: %w", err)
		}
		keys = append(keys, key)
	}
	return keys, rows.Err()
}
