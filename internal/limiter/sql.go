package limiter

import (
	"context"
	"database/sql"
	"errors"
	"time"
)

// SQL is a database/sql limiter for the embedded SQLite store.
// Times are stored as unix nanoseconds.
type SQL struct {
	db       sqlQuerier
	window   time.Duration
	maxFails int
	blockFor time.Duration
	now      func() time.Time
}

type sqlQuerier interface {
	ExecContext(ctx context.Context, query string, args ...any) (sql.Result, error)
	QueryRowContext(ctx context.Context, query string, args ...any) *sql.Row
}

// NewSQL constructs a limiter over *sql.DB (or *sql.Tx).
func NewSQL(db sqlQuerier, window time.Duration, maxFails int, blockFor time.Duration) *SQL {
	return &SQL{db: db, window: window, maxFails: maxFails, blockFor: blockFor, now: time.Now}
}

// Allow reports whether login is currently allowed and a retry-after duration.
func (l *SQL) Allow(ctx context.Context, username string, sourceHash []byte) (bool, time.Duration, error) {
	const q = `SELECT blocked_until FROM auth_limiter WHERE username=? AND source_hash=?`
	var blockedUntil int64
	err := l.db.QueryRowContext(ctx, q, username, sourceHash).Scan(&blockedUntil)
	switch {
	case err == nil:
		if left := time.Unix(0, blockedUntil).Sub(l.now()); left > 0 {
			return false, left, nil
		}
		return true, 0, nil
	case errors.Is(err, sql.ErrNoRows):
		return true, 0, nil
	default:
		return false, 0, err
	}
}

// Success resets counters for (username, source).
func (l *SQL) Success(ctx context.Context, username string, sourceHash []byte) error {
	const q = `
INSERT INTO auth_limiter (username, source_hash, fail_count, blocked_until, updated_at)
VALUES (?, ?, 0, 0, ?)
ON CONFLICT (username, source_hash)
DO UPDATE SET fail_count=0, blocked_until=0, updated_at=excluded.updated_at`
	_, err := l.db.ExecContext(ctx, q, username, sourceHash, l.now().UnixNano())
	return err
}

// Failure records a failed attempt; a streak older than the window starts over.
func (l *SQL) Failure(ctx context.Context, username string, sourceHash []byte) (bool, time.Duration, error) {
	now := l.now()

	const q = `
INSERT INTO auth_limiter (username, source_hash, fail_count, blocked_until, updated_at)
VALUES (?, ?, 1, 0, ?)
ON CONFLICT (username, source_hash) DO UPDATE
SET
  fail_count = CASE WHEN excluded.updated_at - auth_limiter.updated_at > ? THEN 1 ELSE auth_limiter.fail_count + 1 END,
  updated_at = excluded.updated_at
RETURNING fail_count`
	var fails int
	if err := l.db.QueryRowContext(ctx, q, username, sourceHash, now.UnixNano(), l.window.Nanoseconds()).Scan(&fails); err != nil {
		return false, 0, err
	}
	if fails >= l.maxFails {
		const upd = `UPDATE auth_limiter SET blocked_until=? WHERE username=? AND source_hash=?`
		if _, err := l.db.ExecContext(ctx, upd, now.Add(l.blockFor).UnixNano(), username, sourceHash); err != nil {
			return false, 0, err
		}
		return true, l.blockFor, nil
	}
	return false, 0, nil
}
