// Package config loads the client settings. Later sources override earlier
// ones: built-in defaults, the YAML file, PARKMON_* environment variables,
// then command line flags (applied by the caller).
package config

import (
	"bytes"
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"strings"
	"time"

	"gopkg.in/yaml.v3"
)

// Store kinds.
const (
	StoreSQLite   = "sqlite"
	StorePostgres = "postgres"
	StoreMemory   = "memory"
)

// DefaultAPIURL is the production monitoring API.
const DefaultAPIURL = "https://api.parkkiopas.fi/"

// Config holds every setting of the client.
type Config struct {
	APIURL string `yaml:"api_url"`
	// Store selects where the session token is kept.
	Store string `yaml:"store"`
	// DSN is the sqlite file path or the postgres connection string.
	DSN string `yaml:"dsn"`
	// Namespace separates sessions sharing one postgres database.
	Namespace      string        `yaml:"namespace"`
	AuthScheme     string        `yaml:"auth_scheme"`
	MaxTokenAge    time.Duration `yaml:"max_token_age"`
	BucketInterval time.Duration `yaml:"bucket_interval"`
	RequestTimeout time.Duration `yaml:"request_timeout"`
	WatchInterval  time.Duration `yaml:"watch_interval"`
}

// Default returns the built-in settings.
func Default() Config {
	return Config{
		APIURL:         DefaultAPIURL,
		Store:          StoreSQLite,
		DSN:            DefaultSQLitePath(),
		Namespace:      "default",
		AuthScheme:     "JWT",
		MaxTokenAge:    5 * time.Minute,
		BucketInterval: 5 * time.Minute,
		RequestTimeout: 30 * time.Second,
		WatchInterval:  time.Second,
	}
}

// DefaultSQLitePath is ~/.parkmon/state.db, or a relative path when the home
// directory is unknown.
func DefaultSQLitePath() string {
	home, err := os.UserHomeDir()
	if err != nil {
		return filepath.Join(".parkmon", "state.db")
	}
	return filepath.Join(home, ".parkmon", "state.db")
}

// DefaultPath is where Load looks when no file is given.
func DefaultPath() string {
	home, err := os.UserHomeDir()
	if err != nil {
		return ""
	}
	return filepath.Join(home, ".parkmon", "config.yaml")
}

// Load builds the configuration from defaults, the file at path and the
// environment. An empty path falls back to PARKMON_CONFIG and then
// DefaultPath; a missing default file is not an error.
func Load(path string) (Config, error) {
	cfg := Default()

	explicit := path != ""
	if !explicit {
		path = env("PARKMON_CONFIG", DefaultPath())
		explicit = os.Getenv("PARKMON_CONFIG") != ""
	}
	if path != "" {
		if err := cfg.loadFile(path); err != nil {
			if explicit || !errors.Is(err, os.ErrNotExist) {
				return Config{}, err
			}
		}
	}

	if err := cfg.loadEnv(); err != nil {
		return Config{}, err
	}
	return cfg, nil
}

func (c *Config) loadFile(path string) error {
	data, err := os.ReadFile(path)
	if err != nil {
		return fmt.Errorf("read config: %w", err)
	}
	dec := yaml.NewDecoder(bytes.NewReader(data))
	dec.KnownFields(true)
	if err := dec.Decode(c); err != nil {
		// An empty file decodes to io.EOF and keeps the defaults.
		if len(bytes.TrimSpace(data)) == 0 {
			return nil
		}
		return fmt.Errorf("parse config %s: %w", path, err)
	}
	return nil
}

func (c *Config) loadEnv() error {
	c.APIURL = env("PARKMON_API_URL", c.APIURL)
	c.Store = env("PARKMON_STORE", c.Store)
	c.DSN = env("PARKMON_DSN", c.DSN)
	c.Namespace = env("PARKMON_NAMESPACE", c.Namespace)
	c.AuthScheme = env("PARKMON_AUTH_SCHEME", c.AuthScheme)

	durations := []struct {
		key string
		dst *time.Duration
	}{
		{"PARKMON_MAX_TOKEN_AGE", &c.MaxTokenAge},
		{"PARKMON_BUCKET_INTERVAL", &c.BucketInterval},
		{"PARKMON_REQUEST_TIMEOUT", &c.RequestTimeout},
		{"PARKMON_WATCH_INTERVAL", &c.WatchInterval},
	}
	for _, d := range durations {
		v := os.Getenv(d.key)
		if v == "" {
			continue
		}
		parsed, err := time.ParseDuration(v)
		if err != nil {
			return fmt.Errorf("%s: %w", d.key, err)
		}
		*d.dst = parsed
	}
	return nil
}

// Validate checks the settings after every source has been applied.
func (c Config) Validate() error {
	var errs []error
	if c.APIURL == "" {
		errs = append(errs, errors.New("api url is required"))
	}
	switch c.Store {
	case StoreSQLite, StorePostgres:
		if c.DSN == "" {
			errs = append(errs, fmt.Errorf("store %s needs a dsn", c.Store))
		}
	case StoreMemory:
	default:
		errs = append(errs, fmt.Errorf("unknown store %q: must be one of %s", c.Store,
			strings.Join([]string{StoreSQLite, StorePostgres, StoreMemory}, ", ")))
	}
	for name, d := range map[string]time.Duration{
		"max_token_age":   c.MaxTokenAge,
		"bucket_interval": c.BucketInterval,
		"watch_interval":  c.WatchInterval,
	} {
		if d <= 0 {
			errs = append(errs, fmt.Errorf("%s must be positive", name))
		}
	}
	if c.RequestTimeout < 0 {
		errs = append(errs, errors.New("request_timeout must not be negative"))
	}
	return errors.Join(errs...)
}

func env(key, fallback string) string {
	if v := os.Getenv(key); v != "" {
		return v
	}
	return fallback
}
