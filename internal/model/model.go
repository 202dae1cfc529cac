// Package model defines domain entities used by services and repositories.
package model

import "time"

// User is a registered console operator. The plaintext password is never stored.
type User struct {
	ID           int64  // store-assigned, increases with every insert
	Username     string // unique, case-sensitive
	PasswordHash string // hex SHA-256(salt || password)
	Salt         string // hex, per-user
	CreatedAt    time.Time
}

// Session is issued by a successful login.
type Session struct {
	Username  string
	Token     string
	ExpiresAt time.Time
}
