package ledger

import (
	"context"
	"database/sql"
	"fmt"
	"time"
)

// SQLite stores claims in the claims table of the local database.
type SQLite struct {
	db *sql.DB
}

// NewSQLite wraps an opened database. The caller owns the handle.
func NewSQLite(db *sql.DB) *SQLite {
	return &SQLite{db: db}
}

func (s *SQLite) Claim(ctx context.Context, key, owner string) (bool, error) {
	res, err := s.db.ExecContext(ctx,
		`INSERT OR IGNORE INTO claims(key, owner, claimed_at) VALUES(?, ?, ?)`,
		key, owner, time.Now().UTC().Format(time.RFC3339Nano))
	if err != nil {
		return false, fmt.Errorf("claim %s: %w", key, err)
	}
	n, err := res.RowsAffected()
	if err != nil {
		return false, fmt.Errorf("claim %s: %w", key, err)
	}
	return n == 1, nil
}

func (s *SQLite) Release(ctx context.Context, key string) error {
	if _, err := s.db.ExecContext(ctx, `DELETE FROM claims WHERE key = ?`, key); err != nil {
		return fmt.Errorf("release %s: %w", key, err)
	}
	return nil
}

// Close is a no-op; the database is shared with other components.
func (s *SQLite) Close() error { return nil }
