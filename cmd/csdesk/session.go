package main

import (
	"encoding/hex"
	"encoding/json"
	"errors"
	"os"
	"path/filepath"
	"strings"
	"time"

	pkgcrypto "github.com/and161185/csdesk/internal/crypto"
	"github.com/and161185/csdesk/internal/model"
	"github.com/and161185/csdesk/internal/repository/sqlite"
)

// ---- local state: session token and signing key ----

type sessionFile struct {
	Username  string    `json:"username"`
	Token     string    `json:"token"`
	ExpiresAt time.Time `json:"expires_at"`
}

func cfgDir() string {
	if dir, err := os.UserConfigDir(); err == nil {
		return filepath.Join(dir, sqlite.AppDir)
	}
	home, _ := os.UserHomeDir()
	return filepath.Join(home, ".config", sqlite.AppDir)
}

func sessionPath() string { return filepath.Join(cfgDir(), "session.json") }

func keyPath() string { return filepath.Join(cfgDir(), "session.key") }

func saveSession(s model.Session) error {
	if err := os.MkdirAll(cfgDir(), 0o700); err != nil {
		return err
	}
	f, err := os.OpenFile(sessionPath(), os.O_CREATE|os.O_WRONLY|os.O_TRUNC, 0o600)
	if err != nil {
		return err
	}
	defer f.Close()
	enc := json.NewEncoder(f)
	enc.SetIndent("", "  ")
	return enc.Encode(sessionFile{Username: s.Username, Token: s.Token, ExpiresAt: s.ExpiresAt})
}

func loadSession() (sessionFile, error) {
	b, err := os.ReadFile(sessionPath())
	if err != nil {
		return sessionFile{}, errors.New("not logged in")
	}
	var sf sessionFile
	if err := json.Unmarshal(b, &sf); err != nil {
		return sessionFile{}, err
	}
	if sf.Token == "" || time.Now().After(sf.ExpiresAt) {
		return sessionFile{}, errors.New("session expired (login required)")
	}
	return sf, nil
}

func removeSession() error {
	err := os.Remove(sessionPath())
	if errors.Is(err, os.ErrNotExist) {
		return nil
	}
	return err
}

// signingKey returns the configured key, or a per-machine random key kept
// next to the database so sessions survive restarts.
func signingKey(configured string) ([]byte, error) {
	if configured != "" {
		return []byte(configured), nil
	}
	if b, err := os.ReadFile(keyPath()); err == nil {
		if key, err := hex.DecodeString(strings.TrimSpace(string(b))); err == nil && len(key) >= 32 {
			return key, nil
		}
	}

	key, err := pkgcrypto.RandBytes(32)
	if err != nil {
		return nil, err
	}
	if err := os.MkdirAll(cfgDir(), 0o700); err != nil {
		return nil, err
	}
	if err := os.WriteFile(keyPath(), []byte(hex.EncodeToString(key)), 0o600); err != nil {
		return nil, err
	}
	return key, nil
}
