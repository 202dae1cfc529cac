// Package config handles configuration for the console,
// including defaults, a YAML file, environment overlay and command-line flags.
package config

import (
	"errors"
	"flag"
	"fmt"
	"io/fs"
	"os"
	"strconv"
	"strings"
	"time"

	"github.com/joho/godotenv"
	"go.yaml.in/yaml/v4"

	"github.com/and161185/csdesk/internal/limiter"
)

// EnvPrefix prefixes every environment variable the console reads.
const EnvPrefix = "CSDESK_"

// Config holds runtime settings.
//
// DatabaseDSN, when set to a postgres:// URL, switches the user directory
// from the embedded SQLite file to a shared PostgreSQL database.
// LockMaxFails of zero disables the login limiter.
type Config struct {
	DatabasePath string
	DatabaseDSN  string
	SessionKey   string
	SessionTTL   time.Duration
	LockWindow   time.Duration
	LockMaxFails int
	LockDuration time.Duration
	LogLevel     string
	LogDev       bool
}

// Defaults returns settings used when nothing else is configured.
func Defaults() Config {
	return Config{
		SessionTTL:   8 * time.Hour,
		LockWindow:   limiter.DefaultWindow,
		LockMaxFails: limiter.DefaultMaxFails,
		LockDuration: limiter.DefaultBlockFor,
		LogLevel:     "info",
	}
}

// UsePostgres reports whether the shared PostgreSQL backend is configured.
func (c *Config) UsePostgres() bool {
	return strings.HasPrefix(c.DatabaseDSN, "postgres://") || strings.HasPrefix(c.DatabaseDSN, "postgresql://")
}

// Validate checks value ranges.
func (c *Config) Validate() error {
	if c.SessionTTL <= 0 {
		return errors.New("config: session ttl must be positive")
	}
	if c.LockMaxFails < 0 || c.LockWindow < 0 || c.LockDuration < 0 {
		return errors.New("config: lock settings must not be negative")
	}
	if c.DatabaseDSN != "" && !c.UsePostgres() {
		return fmt.Errorf("config: unsupported dsn %q", c.DatabaseDSN)
	}
	return nil
}

// Load builds a Config by applying defaults, then overlaying values from an
// optional YAML file, the environment (a .env file fills gaps only) and
// finally the flags present in args. It returns the arguments left after
// the flags, i.e. the sub-command and its own flags.
func Load(args []string, lookupEnv func(string) (string, bool)) (*Config, []string, error) {
	if lookupEnv == nil {
		lookupEnv = os.LookupEnv
	}
	cfg := Defaults()

	fset := flag.NewFlagSet("csdesk", flag.ContinueOnError)
	configPath := fset.String("config", "", "YAML config file")
	envFile := fset.String("env-file", ".env", "dotenv file with "+EnvPrefix+"* variables")
	dbPath := fset.String("db", "", "SQLite database file (default: user config dir)")
	dsn := fset.String("dsn", "", "PostgreSQL DSN for a shared user directory")
	sessionTTL := fset.Duration("session-ttl", 0, "session lifetime")
	maxFails := fset.Int("lock-max-fails", 0, "failed logins before lockout (0 disables)")
	logLevel := fset.String("log-level", "", "debug|info|warn|error")
	logDev := fset.Bool("log-dev", false, "human-readable logs")
	if err := fset.Parse(args); err != nil {
		return nil, nil, err
	}
	set := map[string]bool{}
	fset.Visit(func(f *flag.Flag) { set[f.Name] = true })

	dotenv, err := readDotenv(*envFile)
	if err != nil {
		return nil, nil, err
	}
	lookup := func(key string) (string, bool) {
		if v, ok := lookupEnv(key); ok {
			return v, true
		}
		v, ok := dotenv[key]
		return v, ok
	}

	path := *configPath
	if path == "" {
		path, _ = lookup(EnvPrefix + "CONFIG")
	}
	if path != "" {
		if err := loadYAML(path, &cfg); err != nil {
			return nil, nil, err
		}
	}
	if err := applyEnv(&cfg, lookup); err != nil {
		return nil, nil, err
	}

	if set["db"] {
		cfg.DatabasePath = *dbPath
	}
	if set["dsn"] {
		cfg.DatabaseDSN = *dsn
	}
	if set["session-ttl"] {
		cfg.SessionTTL = *sessionTTL
	}
	if set["lock-max-fails"] {
		cfg.LockMaxFails = *maxFails
	}
	if set["log-level"] {
		cfg.LogLevel = *logLevel
	}
	if set["log-dev"] {
		cfg.LogDev = *logDev
	}

	if err := cfg.Validate(); err != nil {
		return nil, nil, err
	}
	return &cfg, fset.Args(), nil
}

func readDotenv(path string) (map[string]string, error) {
	if path == "" {
		return nil, nil
	}
	m, err := godotenv.Read(path)
	if errors.Is(err, fs.ErrNotExist) {
		return nil, nil
	}
	if err != nil {
		return nil, fmt.Errorf("config: read %s: %w", path, err)
	}
	return m, nil
}

func applyEnv(cfg *Config, lookup func(string) (string, bool)) error {
	str := func(name string, dst *string) {
		if v, ok := lookup(EnvPrefix + name); ok {
			*dst = v
		}
	}
	dur := func(name string, dst *time.Duration) error {
		v, ok := lookup(EnvPrefix + name)
		if !ok {
			return nil
		}
		d, err := time.ParseDuration(v)
		if err != nil {
			return fmt.Errorf("config: %s%s: %w", EnvPrefix, name, err)
		}
		*dst = d
		return nil
	}

	str("DB_PATH", &cfg.DatabasePath)
	str("DSN", &cfg.DatabaseDSN)
	str("SESSION_KEY", &cfg.SessionKey)
	str("LOG_LEVEL", &cfg.LogLevel)
	if err := dur("SESSION_TTL", &cfg.SessionTTL); err != nil {
		return err
	}
	if err := dur("LOCK_WINDOW", &cfg.LockWindow); err != nil {
		return err
	}
	if err := dur("LOCK_DURATION", &cfg.LockDuration); err != nil {
		return err
	}
	if v, ok := lookup(EnvPrefix + "LOCK_MAX_FAILS"); ok {
		n, err := strconv.Atoi(v)
		if err != nil {
			return fmt.Errorf("config: %sLOCK_MAX_FAILS: %w", EnvPrefix, err)
		}
		cfg.LockMaxFails = n
	}
	if v, ok := lookup(EnvPrefix + "LOG_DEV"); ok {
		b, err := strconv.ParseBool(v)
		if err != nil {
			return fmt.Errorf("config: %sLOG_DEV: %w", EnvPrefix, err)
		}
		cfg.LogDev = b
	}
	return nil
}

// fileConfig is the YAML layout. Durations are Go duration strings ("15m").
type fileConfig struct {
	Database struct {
		Path string `yaml:"path"`
		DSN  string `yaml:"dsn"`
	} `yaml:"database"`
	Session struct {
		Key string `yaml:"key"`
		TTL string `yaml:"ttl"`
	} `yaml:"session"`
	Lock struct {
		Window   string `yaml:"window"`
		MaxFails *int   `yaml:"max_fails"`
		Duration string `yaml:"duration"`
	} `yaml:"lock"`
	Log struct {
		Level string `yaml:"level"`
		Dev   *bool  `yaml:"dev"`
	} `yaml:"log"`
}

func loadYAML(path string, cfg *Config) error {
	b, err := os.ReadFile(path)
	if err != nil {
		return fmt.Errorf("config: %w", err)
	}
	var fc fileConfig
	if err := yaml.Unmarshal(b, &fc); err != nil {
		return fmt.Errorf("config: parse %s: %w", path, err)
	}

	if fc.Database.Path != "" {
		cfg.DatabasePath = fc.Database.Path
	}
	if fc.Database.DSN != "" {
		cfg.DatabaseDSN = fc.Database.DSN
	}
	if fc.Session.Key != "" {
		cfg.SessionKey = fc.Session.Key
	}
	if fc.Log.Level != "" {
		cfg.LogLevel = fc.Log.Level
	}
	if fc.Log.Dev != nil {
		cfg.LogDev = *fc.Log.Dev
	}
	if fc.Lock.MaxFails != nil {
		cfg.LockMaxFails = *fc.Lock.MaxFails
	}
	for _, d := range []struct {
		raw string
		dst *time.Duration
	}{
		{fc.Session.TTL, &cfg.SessionTTL},
		{fc.Lock.Window, &cfg.LockWindow},
		{fc.Lock.Duration, &cfg.LockDuration},
	} {
		if d.raw == "" {
			continue
		}
		v, err := time.ParseDuration(d.raw)
		if err != nil {
			return fmt.Errorf("config: parse %s: %w", path, err)
		}
		*d.dst = v
	}
	return nil
}
