// Package config loads foldercache's YAML configuration via koanf.
package config

import (
	"fmt"
	"os"
	"time"

	"github.com/knadh/koanf/parsers/yaml"
	"github.com/knadh/koanf/providers/file"
	"github.com/knadh/koanf/v2"
)

// Config holds all configuration for a foldercache process.
type Config struct {
	Store   StoreConfig   `koanf:"store"`
	IMAP    IMAPConfig    `koanf:"imap"`
	Cache   CacheConfig   `koanf:"cache"`
	Logging LoggingConfig `koanf:"logging"`
}

// StoreConfig describes the sqlite-backed persistence adapter.
type StoreConfig struct {
	Path string `koanf:"path"` // sqlite database file
}

// IMAPConfig describes the upstream IMAP server this cache instance
// validates itself against.
type IMAPConfig struct {
	Host     string `koanf:"host"`
	Port     int    `koanf:"port"`
	Security string `koanf:"security"` // none, tls, starttls
	Username string `koanf:"username"`
	Password string `koanf:"password"`
}

// CacheConfig holds cache-core tunables.
type CacheConfig struct {
	UserID        string `koanf:"user_id"`
	TTLSeconds    int    `koanf:"ttl_seconds"`    // clamped to 30 days by the cache package
	SkipDeleted   bool   `koanf:"skip_deleted"`
	DefaultSort   string `koanf:"default_sort"`
}

// LoggingConfig holds logging configuration.
type LoggingConfig struct {
	Level  string `koanf:"level"`  // debug, info, warn, error
	Format string `koanf:"format"` // json, console
	Output string `koanf:"output"` // stdout, stderr, or file path
}

// DefaultConfig returns a configuration with sensible defaults.
func DefaultConfig() *Config {
	return &Config{
		Store: StoreConfig{
			Path: "foldercache.db",
		},
		IMAP: IMAPConfig{
			Port:     993,
			Security: "tls",
		},
		Cache: CacheConfig{
			TTLSeconds:  86400,
			SkipDeleted: true,
			DefaultSort: "ANY",
		},
		Logging: LoggingConfig{
			Level:  "info",
			Format: "json",
			Output: "stdout",
		},
	}
}

// Load reads configuration from a YAML file, returning defaults if the
// file does not exist.
func Load(path string) (*Config, error) {
	k := koanf.New(".")
	cfg := DefaultConfig()

	if _, err := os.Stat(path); os.IsNotExist(err) {
		return cfg, nil
	}

	if err := k.Load(file.Provider(path), yaml.Parser()); err != nil {
		return nil, fmt.Errorf("failed to load config file: %w", err)
	}
	if err := k.Unmarshal("", cfg); err != nil {
		return nil, fmt.Errorf("failed to unmarshal config: %w", err)
	}

	return cfg, nil
}

// Validate checks that the configuration is usable.
func (c *Config) Validate() error {
	if c.Store.Path == "" {
		return fmt.Errorf("store.path is required")
	}
	if c.Cache.UserID == "" {
		return fmt.Errorf("cache.user_id is required")
	}
	if c.IMAP.Host == "" {
		return fmt.Errorf("imap.host is required")
	}
	if c.IMAP.Port < 1 || c.IMAP.Port > 65535 {
		return fmt.Errorf("imap.port must be between 1 and 65535 (got: %d)", c.IMAP.Port)
	}
	switch c.IMAP.Security {
	case "none", "tls", "starttls":
	default:
		return fmt.Errorf("imap.security must be one of: none, tls, starttls (got: %s)", c.IMAP.Security)
	}
	if c.Cache.TTLSeconds < 0 {
		return fmt.Errorf("cache.ttl_seconds cannot be negative")
	}
	const maxTTLSeconds = 30 * 24 * 60 * 60
	if c.Cache.TTLSeconds > maxTTLSeconds {
		c.Cache.TTLSeconds = maxTTLSeconds
	}
	switch c.Logging.Level {
	case "debug", "info", "warn", "error", "":
	default:
		return fmt.Errorf("logging.level must be one of: debug, info, warn, error (got: %s)", c.Logging.Level)
	}
	return nil
}

// TTL returns the configured TTL as a time.Duration, clamped to 30 days.
func (c *Config) TTL() time.Duration {
	const maxTTL = 30 * 24 * time.Hour
	d := time.Duration(c.Cache.TTLSeconds) * time.Second
	if d > maxTTL {
		return maxTTL
	}
	return d
}
