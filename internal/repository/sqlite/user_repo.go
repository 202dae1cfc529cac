package sqlite

import (
	"context"
	"database/sql"
	"errors"

	"github.com/and161185/csdesk/internal/errs"
	"github.com/and161185/csdesk/internal/model"
)

// UserRepo implements repository.UserRepository on the embedded store.
type UserRepo struct{ store *Store }

// NewUserRepo constructs a user repository over an opened store.
func NewUserRepo(store *Store) *UserRepo { return &UserRepo{store: store} }

func (r *UserRepo) conn(op string) (*sql.DB, error) {
	db := r.store.Conn()
	if db == nil {
		return nil, errs.Unavailable(op, errNotOpen)
	}
	return db, nil
}

// Create inserts a new user row; ID and CreatedAt come back from the store.
func (r *UserRepo) Create(ctx context.Context, u *model.User) error {
	db, err := r.conn("create user")
	if err != nil {
		return err
	}

	const q = `
INSERT INTO users (username, password_hash, salt)
VALUES (?, ?, ?)
RETURNING id, created_at`
	var created any
	err = db.QueryRowContext(ctx, q, u.Username, u.PasswordHash, u.Salt).Scan(&u.ID, &created)
	if isUniqueViolation(err) {
		return errs.ErrAlreadyExists
	}
	if err != nil {
		if errors.Is(err, context.Canceled) || errors.Is(err, context.DeadlineExceeded) {
			return err
		}
		return errs.Unavailable("create user", err)
	}
	u.CreatedAt = parseTimestamp(created)
	return nil
}

// GetByUsername selects a user by username.
func (r *UserRepo) GetByUsername(ctx context.Context, username string) (*model.User, error) {
	db, err := r.conn("find user")
	if err != nil {
		return nil, err
	}

	const q = `
SELECT id, username, password_hash, salt, created_at
FROM users WHERE username = ?`
	var (
		u       model.User
		created any
	)
	err = db.QueryRowContext(ctx, q, username).Scan(&u.ID, &u.Username, &u.PasswordHash, &u.Salt, &created)
	switch {
	case err == nil:
		u.CreatedAt = parseTimestamp(created)
		return &u, nil
	case errors.Is(err, sql.ErrNoRows):
		return nil, errs.ErrNotFound
	case errors.Is(err, context.Canceled), errors.Is(err, context.DeadlineExceeded):
		return nil, err
	default:
		return nil, errs.Unavailable("find user", err)
	}
}

// Exists reports whether username is registered.
func (r *UserRepo) Exists(ctx context.Context, username string) (bool, error) {
	_, err := r.GetByUsername(ctx, username)
	switch {
	case err == nil:
		return true, nil
	case errors.Is(err, errs.ErrNotFound):
		return false, nil
	default:
		return false, err
	}
}

// LastUsername returns the username with the highest id.
func (r *UserRepo) LastUsername(ctx context.Context) (string, error) {
	db, err := r.conn("last username")
	if err != nil {
		return "", err
	}

	var name string
	err = db.QueryRowContext(ctx, `SELECT username FROM users ORDER BY id DESC LIMIT 1`).Scan(&name)
	switch {
	case err == nil:
		return name, nil
	case errors.Is(err, sql.ErrNoRows):
		return "", errs.ErrNotFound
	case errors.Is(err, context.Canceled), errors.Is(err, context.DeadlineExceeded):
		return "", err
	default:
		return "", errs.Unavailable("last username", err)
	}
}
