package store

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
)

// GetPosition returns the value stored under key. ok is false when the key
// has never been written or was deleted.
func (s *Store) GetPosition(ctx context.Context, key string) (value string, ok bool, err error) {
	err = s.db.QueryRowContext(ctx, `SELECT value FROM positions WHERE key = ?`, key).Scan(&value)
	if errors.Is(err, sql.ErrNoRows) {
		return "", false, nil
	}
	if err != nil {
		return "", false, fmt.Errorf("get position %q: %w", key, err)
	}
	return value, true, nil
}

// PutPosition stores value under key, replacing any previous value.
func (s *Store) PutPosition(ctx context.Context, key, value string) error {
	_, err := s.db.ExecContext(ctx, `
		INSERT INTO positions (key, value) VALUES (?, ?)
		ON CONFLICT(key) DO UPDATE SET
			value = excluded.value,
			updated_at = strftime('%Y-%m-%dT%H:%M:%fZ', 'now')
	`, key, value)
	if err != nil {
		return fmt.Errorf("put position %q: %w", key, err)
	}
	return nil
}

// DeletePosition removes key. Deleting an absent key is not an error.
func (s *Store) DeletePosition(ctx context.Context, key string) error {
	if _, err := s.db.ExecContext(ctx, `DELETE FROM positions WHERE key = ?`, key); err != nil {
		return fmt.Errorf("delete position %q: %w", key, err)
	}
	return nil
}
