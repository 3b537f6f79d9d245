// ABOUTME: Configuration loading and parsing for the fold-storage subsystem
// ABOUTME: Supports YAML files with environment variable expansion and duration parsing

package config

import (
	"fmt"
	"os"
	"path/filepath"
	"regexp"
	"time"

	"gopkg.in/yaml.v3"
)

// Config represents the complete storage subsystem configuration
type Config struct {
	Database DatabaseConfig `yaml:"database"`
	Plugins  PluginsConfig  `yaml:"plugins"`
	Cache    CacheConfig    `yaml:"cache"`
	Logging  LoggingConfig  `yaml:"logging"`
}

// DatabaseConfig holds primary database configuration
type DatabaseConfig struct {
	// Path is where the primary database file lives. Required.
	Path string `yaml:"path"`
	// CreateIfMissing controls whether a missing file (and its parent
	// directories) are created on connect. Defaults to true.
	CreateIfMissing *bool `yaml:"create_if_missing"`
	// JournalMode is the SQLite journal_mode pragma. Defaults to WAL.
	JournalMode string `yaml:"journal_mode"`
	// Synchronous is the SQLite synchronous pragma. Defaults to NORMAL.
	Synchronous string `yaml:"synchronous"`
	// ForeignKeys enables the foreign_keys pragma. Defaults to true.
	ForeignKeys *bool `yaml:"foreign_keys"`

	BusyTimeout time.Duration `yaml:"-"`

	// Raw string value for YAML unmarshaling
	BusyTimeoutRaw string `yaml:"busy_timeout"`
}

// PluginsConfig holds plugin storage configuration
type PluginsConfig struct {
	// DataDir is the managed directory for private plugin database files.
	// Defaults to a "plugins" directory next to the primary database file.
	DataDir string `yaml:"data_dir"`
}

// CacheConfig holds cache manager configuration
type CacheConfig struct {
	// HotEntries caps the in-memory read-through layer. An explicit 0
	// disables it; absent means DefaultHotEntries.
	HotEntries *int `yaml:"hot_entries"`

	SweepInterval time.Duration `yaml:"-"`
	DefaultTTL    time.Duration `yaml:"-"`

	// Raw string values for YAML unmarshaling
	SweepIntervalRaw string `yaml:"sweep_interval"`
	DefaultTTLRaw    string `yaml:"default_ttl"`
}

// LoggingConfig holds logging configuration
type LoggingConfig struct {
	Level  string `yaml:"level"`
	Format string `yaml:"format"`
}

// Defaults applied when the corresponding field is absent from the file.
const (
	DefaultBusyTimeout   = 5 * time.Second
	DefaultSweepInterval = time.Minute
	DefaultCacheTTL      = 5 * time.Minute
	DefaultJournalMode   = "WAL"
	DefaultSynchronous   = "NORMAL"
	DefaultHotEntries    = 1024
)

// Load reads a configuration file from the given path and returns a parsed Config.
// Environment variables in the format ${VAR_NAME} are expanded.
// Duration strings are parsed into time.Duration values and defaults are applied.
func Load(path string) (*Config, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("reading config file: %w", err)
	}

	// Expand environment variables in the raw YAML content
	expandedData := expandEnvVars(string(data))

	var cfg Config
	if err := yaml.Unmarshal([]byte(expandedData), &cfg); err != nil {
		return nil, fmt.Errorf("parsing config file: %w", err)
	}

	if err := parseDurations(&cfg); err != nil {
		return nil, fmt.Errorf("parsing durations: %w", err)
	}

	cfg.applyDefaults()

	if err := cfg.Validate(); err != nil {
		return nil, fmt.Errorf("validating config: %w", err)
	}

	return &cfg, nil
}

// Default returns a configuration with all tuning knobs at their defaults
// and the primary database at the given path.
func Default(dbPath string) *Config {
	cfg := &Config{
		Database: DatabaseConfig{Path: dbPath},
	}
	cfg.applyDefaults()
	return cfg
}

// expandEnvVars replaces ${VAR_NAME} patterns with the corresponding environment variable values.
// If the environment variable is not set, it is replaced with an empty string.
func expandEnvVars(s string) string {
	re := regexp.MustCompile(`\$\{([^}]+)\}`)

	return re.ReplaceAllStringFunc(s, func(match string) string {
		varName := re.FindStringSubmatch(match)[1]
		return os.Getenv(varName)
	})
}

// applyDefaults fills in zero-valued tuning fields.
func (c *Config) applyDefaults() {
	if c.Database.BusyTimeout == 0 {
		c.Database.BusyTimeout = DefaultBusyTimeout
	}
	if c.Database.JournalMode == "" {
		c.Database.JournalMode = DefaultJournalMode
	}
	if c.Database.Synchronous == "" {
		c.Database.Synchronous = DefaultSynchronous
	}
	if c.Database.CreateIfMissing == nil {
		t := true
		c.Database.CreateIfMissing = &t
	}
	if c.Database.ForeignKeys == nil {
		t := true
		c.Database.ForeignKeys = &t
	}
	if c.Plugins.DataDir == "" && c.Database.Path != "" {
		c.Plugins.DataDir = filepath.Join(filepath.Dir(c.Database.Path), "plugins")
	}
	if c.Cache.SweepInterval == 0 {
		c.Cache.SweepInterval = DefaultSweepInterval
	}
	if c.Cache.DefaultTTL == 0 {
		c.Cache.DefaultTTL = DefaultCacheTTL
	}
	if c.Cache.HotEntries == nil {
		n := DefaultHotEntries
		c.Cache.HotEntries = &n
	}
	if c.Logging.Level == "" {
		c.Logging.Level = "info"
	}
	if c.Logging.Format == "" {
		c.Logging.Format = "text"
	}
}

// Validate checks that all required configuration fields are present and valid.
// Returns an error describing the first validation failure encountered.
func (c *Config) Validate() error {
	if c.Database.Path == "" {
		return fmt.Errorf("database.path is required")
	}

	switch c.Database.JournalMode {
	case "WAL", "DELETE", "TRUNCATE", "PERSIST", "MEMORY", "OFF":
	default:
		return fmt.Errorf("database.journal_mode %q is not a valid journal mode", c.Database.JournalMode)
	}

	switch c.Database.Synchronous {
	case "OFF", "NORMAL", "FULL", "EXTRA":
	default:
		return fmt.Errorf("database.synchronous %q is not a valid synchronous level", c.Database.Synchronous)
	}

	if c.Cache.HotEntries != nil && *c.Cache.HotEntries < 0 {
		return fmt.Errorf("cache.hot_entries must not be negative")
	}

	return nil
}

// parseDurations converts the raw duration strings into time.Duration values
func parseDurations(cfg *Config) error {
	var err error

	if cfg.Database.BusyTimeoutRaw != "" {
		cfg.Database.BusyTimeout, err = time.ParseDuration(cfg.Database.BusyTimeoutRaw)
		if err != nil {
			return fmt.Errorf("parsing busy_timeout %q: %w", cfg.Database.BusyTimeoutRaw, err)
		}
	}

	if cfg.Cache.SweepIntervalRaw != "" {
		cfg.Cache.SweepInterval, err = time.ParseDuration(cfg.Cache.SweepIntervalRaw)
		if err != nil {
			return fmt.Errorf("parsing sweep_interval %q: %w", cfg.Cache.SweepIntervalRaw, err)
		}
	}

	if cfg.Cache.DefaultTTLRaw != "" {
		cfg.Cache.DefaultTTL, err = time.ParseDuration(cfg.Cache.DefaultTTLRaw)
		if err != nil {
			return fmt.Errorf("parsing default_ttl %q: %w", cfg.Cache.DefaultTTLRaw, err)
		}
	}

	return nil
}
