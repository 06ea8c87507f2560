// Package config resolves driftdb settings from, in increasing precedence:
// defaults, a driftdb.yaml file, DRIFTDB_* environment variables and bound
// command-line flags.
package config

import (
	"errors"
	"io"
	"log/slog"
	"strings"

	"github.com/spf13/viper"

	"github.com/roach88/driftdb/internal/dberr"
)

// Keys.
const (
	KeyDatabase  = "database"
	KeySchema    = "schema"
	KeyAdapter   = "adapter"
	KeyLogLevel  = "log_level"
	KeyLogFormat = "log_format"
)

// EnvPrefix prefixes environment overrides, e.g. DRIFTDB_LOG_LEVEL.
const EnvPrefix = "DRIFTDB"

// Adapters.
const (
	AdapterSQLite = "sqlite"
	AdapterMemory = "memory"
)

// Config is the resolved configuration.
type Config struct {
	Database  string `mapstructure:"database"`
	Schema    string `mapstructure:"schema"`
	Adapter   string `mapstructure:"adapter"`
	LogLevel  string `mapstructure:"log_level"`
	LogFormat string `mapstructure:"log_format"`

	// File is the config file that was read, if any.
	File string `mapstructure:"-"`
}

// New returns a viper instance with defaults and environment binding.
func New() *viper.Viper {
	v := viper.New()
	v.SetDefault(KeyDatabase, "driftdb.sqlite")
	v.SetDefault(KeySchema, "schema.yaml")
	v.SetDefault(KeyAdapter, AdapterSQLite)
	v.SetDefault(KeyLogLevel, "warn")
	v.SetDefault(KeyLogFormat, "text")

	v.SetEnvPrefix(EnvPrefix)
	v.SetEnvKeyReplacer(strings.NewReplacer("-", "_"))
	v.AutomaticEnv()
	return v
}

// Load reads the config file and resolves the configuration. An empty file
// searches for driftdb.yaml in dir; not finding one is not an error. An
// explicit file must exist.
func Load(v *viper.Viper, file, dir string) (*Config, error) {
	if file != "" {
		v.SetConfigFile(file)
	} else {
		v.SetConfigName("driftdb")
		v.SetConfigType("yaml")
		if dir == "" {
			dir = "."
		}
		v.AddConfigPath(dir)
	}

	if err := v.ReadInConfig(); err != nil {
		var notFound viper.ConfigFileNotFoundError
		if file != "" || !errors.As(err, &notFound) {
			return nil, dberr.Configuration("read config: %v", err)
		}
	}

	var c Config
	if err := v.Unmarshal(&c); err != nil {
		return nil, dberr.Configuration("decode config: %v", err)
	}
	c.File = v.ConfigFileUsed()
	if err := c.Validate(); err != nil {
		return nil, err
	}
	return &c, nil
}

// Validate checks enumerated values and required keys.
func (c *Config) Validate() error {
	switch c.Adapter {
	case AdapterSQLite:
		if c.Database == "" {
			return dberr.Configuration("config: %s is required for the sqlite adapter", KeyDatabase)
		}
	case AdapterMemory:
	default:
		return dberr.Configuration("config: %s must be %q or %q, got %q", KeyAdapter, AdapterSQLite, AdapterMemory, c.Adapter)
	}
	if c.Schema == "" {
		return dberr.Configuration("config: %s is required", KeySchema)
	}
	if _, err := c.Level(); err != nil {
		return err
	}
	switch c.LogFormat {
	case "text", "json":
	default:
		return dberr.Configuration("config: %s must be text or json, got %q", KeyLogFormat, c.LogFormat)
	}
	return nil
}

// Level parses LogLevel.
func (c *Config) Level() (slog.Level, error) {
	var l slog.Level
	if err := l.UnmarshalText([]byte(c.LogLevel)); err != nil {
		return 0, dberr.Configuration("config: %s: %v", KeyLogLevel, err)
	}
	return l, nil
}

// NewLogger builds the process logger writing to w.
func (c *Config) NewLogger(w io.Writer) *slog.Logger {
	level, err := c.Level()
	if err != nil {
		level = slog.LevelWarn
	}
	opts := &slog.HandlerOptions{Level: level}
	if c.LogFormat == "json" {
		return slog.New(slog.NewJSONHandler(w, opts))
	}
	return slog.New(slog.NewTextHandler(w, opts))
}
