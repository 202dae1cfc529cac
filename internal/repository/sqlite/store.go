// Package sqlite contains the embedded SQLite store and its repository implementations.
package sqlite

import (
	"context"
	"database/sql"
	"errors"
	"os"
	"path/filepath"
	"strings"
	"sync"
	"time"

	"modernc.org/sqlite"
	sqlite3 "modernc.org/sqlite/lib"

	"github.com/and161185/csdesk/internal/migrate"
)

const (
	// AppDir is the per-user application data directory name.
	AppDir = "csdesk"
	// FileName is the database file created inside AppDir.
	FileName = "app.db"
)

var errNotOpen = errors.New("store is not open")

// Store owns the single SQLite database file of the process.
// It is created once by the composing layer and injected into repositories.
type Store struct {
	mu   sync.RWMutex
	db   *sql.DB
	path string
}

// NewStore returns a closed store.
func NewStore() *Store { return &Store{} }

// DefaultPath resolves <user config dir>/csdesk/app.db.
func DefaultPath() (string, error) {
	dir, err := os.UserConfigDir()
	if err != nil {
		return "", err
	}
	return filepath.Join(dir, AppDir, FileName), nil
}

// Open opens the database at path (DefaultPath when empty) and ensures the schema.
// Calling Open on an already open store is a no-op.
func (s *Store) Open(ctx context.Context, path string) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	if s.db != nil {
		return nil
	}
	if path == "" {
		p, err := DefaultPath()
		if err != nil {
			return err
		}
		path = p
	}
	if err := os.MkdirAll(filepath.Dir(path), 0o700); err != nil {
		return err
	}

	db, err := sql.Open("sqlite", dsn(path))
	if err != nil {
		return err
	}
	// one writer at a time; SQLite serializes writes anyway
	db.SetMaxOpenConns(1)
	if err := db.PingContext(ctx); err != nil {
		_ = db.Close()
		return err
	}
	if err := migrate.Up(ctx, db, migrate.SQLite); err != nil {
		_ = db.Close()
		return err
	}

	s.db = db
	s.path = path
	return nil
}

// EnsureSchema applies pending migrations; safe to call repeatedly.
func (s *Store) EnsureSchema(ctx context.Context) error {
	db := s.Conn()
	if db == nil {
		return errNotOpen
	}
	return migrate.Up(ctx, db, migrate.SQLite)
}

// Conn returns the database handle, or nil when the store is closed.
func (s *Store) Conn() *sql.DB {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return s.db
}

// IsOpen reports whether Open succeeded and Close has not been called.
func (s *Store) IsOpen() bool { return s.Conn() != nil }

// Path returns the resolved database file path.
func (s *Store) Path() string {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return s.path
}

// Close closes the database. No repository call may follow.
func (s *Store) Close() error {
	s.mu.Lock()
	defer s.mu.Unlock()

	if s.db == nil {
		return nil
	}
	err := s.db.Close()
	s.db = nil
	return err
}

func dsn(path string) string {
	return path + "?_pragma=busy_timeout(5000)&_pragma=journal_mode(WAL)"
}

// isUniqueViolation reports whether the error is a unique constraint violation.
func isUniqueViolation(err error) bool {
	var se *sqlite.Error
	if !errors.As(err, &se) {
		return false
	}
	switch se.Code() {
	case sqlite3.SQLITE_CONSTRAINT_UNIQUE, sqlite3.SQLITE_CONSTRAINT_PRIMARYKEY:
		return true
	case sqlite3.SQLITE_CONSTRAINT:
		return strings.Contains(se.Error(), "UNIQUE constraint failed")
	}
	return false
}

// sqliteTimeLayouts are the text forms SQLite produces for CURRENT_TIMESTAMP and driver writes.
var sqliteTimeLayouts = []string{
	"2006-01-02 15:04:05",
	"2006-01-02 15:04:05.999999999-07:00",
	time.RFC3339Nano,
}

// parseTimestamp converts a scanned DATETIME value into UTC time.
func parseTimestamp(v any) time.Time {
	var s string
	switch t := v.(type) {
	case time.Time:
		return t.UTC()
	case string:
		s = t
	case []byte:
		s = string(t)
	case int64:
		return time.Unix(t, 0).UTC()
	default:
		return time.Time{}
	}
	for _, layout := range sqliteTimeLayouts {
		if ts, err := time.ParseInLocation(layout, s, time.UTC); err == nil {
			return ts.UTC()
		}
	}
	return time.Time{}
}
