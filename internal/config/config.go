package config

import (
	"fmt"
	"log"
	"net/url"
	"os"
	"path/filepath"
	"runtime"
	"strings"

	"github.com/caarlos0/env/v11"
	"github.com/joho/godotenv"
)

// TrustBundleName is the trust store path searched for under the data
// directory and the working directory when TRUST_STORE_PATH is unset.
const TrustBundleName = "certs/trust_bundle.pem"

// Config holds all environment-based configuration for cloudsync.
type Config struct {
	// Enabled turns automatic background sync on. Manual push and pull
	// also require it.
	Enabled bool `env:"CLOUDSYNC_ENABLED" envDefault:"true"`

	// Per-collection endpoints. Either a full https URL or a bare document
	// id resolved against ProviderBaseURL. Empty leaves the collection
	// disabled unless the state database has one.
	RatingsEndpoint string `env:"RATINGS_ENDPOINT"`
	HistoryEndpoint string `env:"HISTORY_ENDPOINT"`

	// ProviderBaseURL is where documents are created and bare ids resolve.
	ProviderBaseURL string `env:"PROVIDER_BASE_URL" envDefault:"https://api.npoint.io/"`

	// TrustStorePath points at a PEM bundle. When empty the default
	// locations are searched; if none exists TLS runs unverified.
	TrustStorePath string `env:"TRUST_STORE_PATH"`

	// DataDir holds rating.json, history.json and the state database.
	DataDir string `env:"DATA_DIR"`

	// StatePath overrides the state database location.
	StatePath string `env:"STATE_PATH"`

	// Environment controls log format
	Environment string `env:"ENVIRONMENT" envDefault:"development"`
	LogLevel    string `env:"LOG_LEVEL"`

	// MetricsAddr enables the Prometheus /metrics listener when set.
	MetricsAddr string `env:"METRICS_ADDR"`

	// WatchLocal enqueues an upload whenever a collection file changes.
	WatchLocal bool `env:"WATCH_LOCAL" envDefault:"true"`
}

// warnInsecureEnvFile checks whether the .env file (if present) has
// overly permissive permissions. Endpoint ids are bearer capabilities:
// anyone holding one can overwrite the document.
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

	if err := cfg.resolvePaths(); err != nil {
		return nil, err
	}

	return cfg, nil
}

func (c *Config) validate() error {
	if err := requireHTTPS("PROVIDER_BASE_URL", c.ProviderBaseURL); err != nil {
		return err
	}

	for name, value := range map[string]string{
		"RATINGS_ENDPOINT": c.RatingsEndpoint,
		"HISTORY_ENDPOINT": c.HistoryEndpoint,
	} {
		if err := ValidateEndpoint(value); err != nil {
			return fmt.Errorf("%s: %w", name, err)
		}
	}

	switch strings.ToLower(c.LogLevel) {
	case "", "debug", "info", "warn", "warning", "error":
	default:
		return fmt.Errorf("LOG_LEVEL must be one of debug, info, warn, error (got %q)", c.LogLevel)
	}

	return nil
}

// ValidateEndpoint accepts an empty value, a bare document id, or an
// https URL with a host.
func ValidateEndpoint(value string) error {
	value = strings.TrimSpace(value)
	if value == "" {
		return nil
	}

	if !strings.Contains(value, "://") {
		if strings.ContainsAny(value, " /?#") {
			return fmt.Errorf("%q is neither a URL nor a document id", value)
		}
		return nil
	}

	return requireHTTPS("endpoint", value)
}

func requireHTTPS(name, value string) error {
	u, err := url.Parse(value)
	if err != nil {
		return fmt.Errorf("%s: %w", name, err)
	}

	if u.Scheme != "https" {
		return fmt.Errorf("%s must use https (got %q)", name, value)
	}

	if u.Host == "" {
		return fmt.Errorf("%s has no host (got %q)", name, value)
	}

	return nil
}

// resolvePaths fills in directory defaults and makes every path absolute.
func (c *Config) resolvePaths() error {
	if c.DataDir == "" {
		dir, err := DefaultDataDir()
		if err != nil {
			return err
		}
		c.DataDir = dir
	}

	dataDir, err := absPath(c.DataDir)
	if err != nil {
		return fmt.Errorf("resolving DATA_DIR: %w", err)
	}
	c.DataDir = dataDir

	if c.StatePath == "" {
		c.StatePath = filepath.Join(c.DataDir, "state.db")
	}

	statePath, err := absPath(c.StatePath)
	if err != nil {
		return fmt.Errorf("resolving STATE_PATH: %w", err)
	}
	c.StatePath = statePath

	if c.TrustStorePath != "" {
		trust, err := absPath(c.TrustStorePath)
		if err != nil {
			return fmt.Errorf("resolving TRUST_STORE_PATH: %w", err)
		}
		c.TrustStorePath = trust
	}

	return nil
}

// DefaultDataDir returns ~/.cloudsync.
func DefaultDataDir() (string, error) {
	home, err := os.UserHomeDir()
	if err != nil {
		return "", fmt.Errorf("determining home directory: %w", err)
	}

	return filepath.Join(home, ".cloudsync"), nil
}

func absPath(p string) (string, error) {
	if p == "~" || strings.HasPrefix(p, "~/") {
		home, err := os.UserHomeDir()
		if err != nil {
			return "", fmt.Errorf("determining home directory: %w", err)
		}
		p = filepath.Join(home, strings.TrimPrefix(p, "~"))
	}

	return filepath.Abs(p)
}

// TrustStoreCandidates lists the trust store files to try, in order.
func (c *Config) TrustStoreCandidates() []string {
	if c.TrustStorePath != "" {
		return []string{c.TrustStorePath}
	}

	candidates := []string{filepath.Join(c.DataDir, TrustBundleName)}
	if wd, err := os.Getwd(); err == nil {
		candidates = append(candidates, filepath.Join(wd, TrustBundleName))
	}

	return candidates
}

// IsProduction returns true when the environment is set to production.
func (c *Config) IsProduction() bool {
	return c.Environment == "production"
}
