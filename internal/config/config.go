package config

import (
	"fmt"
	"log"
	"net/url"
	"os"
	"path/filepath"
	"runtime"
	"time"

	"github.com/caarlos0/env/v11"
	"github.com/joho/godotenv"
)

// Remote backends.
const (
	BackendREST   = "rest"
	BackendSQLite = "sqlite"
)

// Config holds all environment-based configuration for retro-sync.
type Config struct {
	// Environment controls log format
	Environment string `env:"ENVIRONMENT" envDefault:"development"`

	// LogFile, when set, receives logs through a rotating writer
	// instead of stdout.
	LogFile string `env:"LOG_FILE"`

	// StatePath is the local bbolt database. Empty means
	// ~/.retro-sync/state.db.
	StatePath string `env:"STATE_PATH"`

	// Remote replica settings.
	RemoteBackend    string `env:"REMOTE_BACKEND" envDefault:"rest"`
	RemoteURL        string `env:"REMOTE_URL"`
	RemoteAPIKey     string `env:"REMOTE_API_KEY"`
	RemoteOwnerID    string `env:"REMOTE_OWNER_ID"`
	RemoteSQLitePath string `env:"REMOTE_SQLITE_PATH"`

	// Apply engine tuning.
	SyncConcurrency int           `env:"SYNC_CONCURRENCY" envDefault:"4"`
	SyncCallTimeout time.Duration `env:"SYNC_CALL_TIMEOUT" envDefault:"30s"`
}

// warnInsecureEnvFile checks whether the .env file (if present) has
// overly permissive permissions. On Unix systems, group or world
// readable files risk exposing the remote API key to other users.
func warnInsecureEnvFile() {
	if runtime.GOOS == "windows" {
		return
	}

	info, err := os.Stat(".env")
	if err != nil {
		return // file does not exist, nothing to check
	}

	mode := info.Mode().Perm()
	if mode&0o077 != 0 {
		log.Printf("WARNING: .env file has insecure permissions %04o; recommended 0600", mode)
	}
}

// Load reads configuration from environment variables.
// It first attempts to load a .env file if present, then parses env vars.
// Remote settings are only checked by ValidateRemote, since local-only
// commands do not need them.
func Load() (*Config, error) {
	_ = godotenv.Load()

	warnInsecureEnvFile()

	cfg := &Config{}
	if err := env.Parse(cfg); err != nil {
		return nil, fmt.Errorf("parsing config: %w", err)
	}

	if err := cfg.validate(); err != nil {
		return nil, fmt.Errorf("validating config: %w", err)
	}

	if cfg.StatePath != "" {
		abs, err := filepath.Abs(cfg.StatePath)
		if err != nil {
			return nil, fmt.Errorf("resolving state path to absolute path: %w", err)
		}

		cfg.StatePath = abs
	}

	return cfg, nil
}

func (c *Config) validate() error {
	if c.SyncConcurrency < 1 {
		return fmt.Errorf("SYNC_CONCURRENCY must be at least 1, got %d", c.SyncConcurrency)
	}

	if c.SyncCallTimeout <= 0 {
		return fmt.Errorf("SYNC_CALL_TIMEOUT must be positive, got %s", c.SyncCallTimeout)
	}

	if c.RemoteBackend != BackendREST && c.RemoteBackend != BackendSQLite {
		return fmt.Errorf("REMOTE_BACKEND must be %q or %q, got %q", BackendREST, BackendSQLite, c.RemoteBackend)
	}

	return nil
}

// ValidateRemote checks the settings of the selected remote backend.
func (c *Config) ValidateRemote() error {
	switch c.RemoteBackend {
	case BackendSQLite:
		if c.RemoteSQLitePath == "" {
			return fmt.Errorf("REMOTE_SQLITE_PATH is required when REMOTE_BACKEND is %q", BackendSQLite)
		}

		return nil
	case BackendREST:
	default:
		return fmt.Errorf("unknown REMOTE_BACKEND %q", c.RemoteBackend)
	}

	if c.RemoteURL == "" {
		return fmt.Errorf("REMOTE_URL is required when REMOTE_BACKEND is %q", BackendREST)
	}

	u, err := url.Parse(c.RemoteURL)
	if err != nil || u.Host == "" {
		return fmt.Errorf("REMOTE_URL %q is not an absolute URL", c.RemoteURL)
	}

	switch {
	case u.Scheme == "https":
	case u.Scheme == "http" && !c.IsProduction():
	default:
		return fmt.Errorf("REMOTE_URL scheme %q not allowed; use https (http is accepted outside production)", u.Scheme)
	}

	if c.RemoteAPIKey == "" {
		return fmt.Errorf("REMOTE_API_KEY is required when REMOTE_BACKEND is %q", BackendREST)
	}

	if c.RemoteOwnerID == "" {
		return fmt.Errorf("REMOTE_OWNER_ID is required when REMOTE_BACKEND is %q", BackendREST)
	}

	return nil
}

// IsProduction returns true when the environment is set to production.
func (c *Config) IsProduction() bool {
	return c.Environment == "production"
}
