package postgres

import (
	"context"
	"errors"

	"github.com/jackc/pgx/v5"

	"github.com/and161185/csdesk/internal/errs"
	"github.com/and161185/csdesk/internal/model"
)

// UserRepo implements UserRepository using PostgreSQL.
type UserRepo struct{ db *DB }

// NewUserRepo constructs a user repository.
func NewUserRepo(db *DB) *UserRepo { return &UserRepo{db: db} }

// Create inserts a new user row.
func (r *UserRepo) Create(ctx context.Context, u *model.User) error {
	const q = `
INSERT INTO users (username, password_hash, salt)
VALUES ($1, $2, $3)
RETURNING id, created_at`
	err := r.db.Pool.QueryRow(ctx, q, u.Username, u.PasswordHash, u.Salt).Scan(&u.ID, &u.CreatedAt)
	switch {
	case err == nil:
		return nil
	case isUniqueViolation(err):
		return errs.ErrAlreadyExists
	case isContextErr(err):
		return err
	default:
		return errs.Unavailable("create user", err)
	}
}

// GetByUsername selects a user by username.
func (r *UserRepo) GetByUsername(ctx context.Context, username string) (*model.User, error) {
	const q = `
SELECT id, username, password_hash, salt, created_at
FROM users WHERE username=$1`
	var u model.User
	err := r.db.Pool.QueryRow(ctx, q, username).Scan(&u.ID, &u.Username, &u.PasswordHash, &u.Salt, &u.CreatedAt)
	switch {
	case err == nil:
		return &u, nil
	case errors.Is(err, pgx.ErrNoRows):
		return nil, errs.ErrNotFound
	case isContextErr(err):
		return nil, err
	default:
		return nil, errs.Unavailable("find user", err)
	}
}

// Exists reports whether username is registered.
func (r *UserRepo) Exists(ctx context.Context, username string) (bool, error) {
	_, err := r.GetByUsername(ctx, username)
	if errors.Is(err, errs.ErrNotFound) {
		return false, nil
	}
	return err == nil, err
}

// LastUsername returns the username with the highest id.
func (r *UserRepo) LastUsername(ctx context.Context) (string, error) {
	const q = `SELECT username FROM users ORDER BY id DESC LIMIT 1`
	var name string
	err := r.db.Pool.QueryRow(ctx, q).Scan(&name)
	switch {
	case err == nil:
		return name, nil
	case errors.Is(err, pgx.ErrNoRows):
		return "", errs.ErrNotFound
	case isContextErr(err):
		return "", err
	default:
		return "", errs.Unavailable("last username", err)
	}
}
