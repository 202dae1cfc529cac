// Package repository defines storage interfaces implemented by concrete backends.
package repository

import (
	"context"

	"github.com/and161185/csdesk/internal/model"
)

// UserRepository is the only read/write boundary for user credential records.
//
// Implementations report errs.ErrAlreadyExists for a taken username,
// errs.ErrNotFound for a missing record and errs.ErrStoreUnavailable when the
// store cannot answer. Driver errors are never returned wrapped.
type UserRepository interface {
	// Create inserts a new user and fills in its ID and CreatedAt.
	Create(ctx context.Context, u *model.User) error
	// GetByUsername loads a user by username.
	GetByUsername(ctx context.Context, username string) (*model.User, error)
	// Exists reports whether a user with username is registered.
	Exists(ctx context.Context, username string) (bool, error)
	// LastUsername returns the username of the most recently inserted user.
	LastUsername(ctx context.Context) (string, error)
}
