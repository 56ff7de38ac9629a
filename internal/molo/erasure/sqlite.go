package erasure

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"time"
)

// SQLiteStore keeps pending delete markers in the pending_deletes table of
// the main Molo database. Expiry is checked on read; expired rows are removed
// lazily.
type SQLiteStore struct {
	db *sql.DB
}

// NewSQLiteStore creates a SQLiteStore. db must be the same *sql.DB used by
// the main store so the pending_deletes table exists.
func NewSQLiteStore(db *sql.DB) *SQLiteStore {
	return &SQLiteStore{db: db}
}

// SetWithExpiry stores value under key with the given TTL, overwriting any
// existing marker.
func (s *SQLiteStore) SetWithExpiry(ctx context.Context, key, value string, ttl time.Duration) error {
	expiresAt := time.Now().UTC().Add(ttl)
	_, err := s.db.ExecContext(ctx, `
		INSERT INTO pending_deletes (key, value, expires_at)
		VALUES (?, ?, ?)
		ON CONFLICT(key) DO UPDATE SET value = excluded.value, expires_at = excluded.expires_at
	`, key, value, expiresAt.Format(time.RFC3339))
	if err != nil {
		return fmt.Errorf("erasure: sqlite set %s: %w", key, err)
	}
	return nil
}

// Get returns the stored value, or ErrNotFound when the marker is absent or
// has expired.
func (s *SQLiteStore) Get(ctx context.Context, key string) (string, error) {
	var value, expiresStr string
	err := s.db.QueryRowContext(ctx, `
		SELECT value, expires_at FROM pending_deletes WHERE key = ?
	`, key).Scan(&value, &expiresStr)
	if errors.Is(err, sql.ErrNoRows) {
		return "", ErrNotFound
	}
	if err != nil {
		return "", fmt.Errorf("erasure: sqlite get %s: %w", key, err)
	}

	expiresAt, err := time.Parse(time.RFC3339, expiresStr)
	if err != nil {
		return "", fmt.Errorf("erasure: sqlite parse expiry for %s: %w", key, err)
	}
	if time.Now().UTC().After(expiresAt) {
		// Lazy cleanup; a failed delete only means the row is reaped later.
		s.db.ExecContext(ctx, "DELETE FROM pending_deletes WHERE key = ?", key)
		return "", ErrNotFound
	}
	return value, nil
}

// Delete removes the marker. Deleting an absent key is not an error.
func (s *SQLiteStore) Delete(ctx context.Context, key string) error {
	if _, err := s.db.ExecContext(ctx, "DELETE FROM pending_deletes WHERE key = ?", key); err != nil {
		return fmt.Errorf("erasure: sqlite del %s: %w", key, err)
	}
	return nil
}
