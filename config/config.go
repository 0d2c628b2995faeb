// Package config loads lorekeep settings from an optional YAML file and the
// environment.
package config

import (
	"errors"
	"fmt"
	"io"
	"io/fs"
	"log/slog"
	"os"
	"path/filepath"
	"strings"

	"github.com/caarlos0/env/v11"
	"gopkg.in/yaml.v3"
)

// Storage drivers.
const (
	DriverSQLite = "sqlite"
	DriverJSON   = "json"
	DriverMemory = "memory"
)

// Config is the full runtime configuration.
type Config struct {
	Storage Storage `yaml:"storage" envPrefix:"LOREKEEP_STORAGE_"`
	Log     Log     `yaml:"log" envPrefix:"LOREKEEP_LOG_"`
	Reindex Reindex `yaml:"reindex" envPrefix:"LOREKEEP_REINDEX_"`
}

// Storage selects the item store.
type Storage struct {
	Driver string `yaml:"driver" env:"DRIVER"`
	Path   string `yaml:"path" env:"PATH"`
}

// Log configures the slog handler.
type Log struct {
	Level  string `yaml:"level" env:"LEVEL"`
	Format string `yaml:"format" env:"FORMAT"`
}

// Reindex controls index propagation after extends changes.
type Reindex struct {
	Async bool `yaml:"async" env:"ASYNC"`
}

// Default returns the configuration used when nothing overrides it.
func Default() *Config {
	return &Config{
		Storage: Storage{Driver: DriverSQLite, Path: filepath.Join(Dir(), "lorekeep.db")},
		Log:     Log{Level: "warn", Format: "text"},
	}
}

// Dir is the per-user lorekeep directory.
func Dir() string {
	home, err := os.UserHomeDir()
	if err != nil {
		return ".lorekeep"
	}
	return filepath.Join(home, ".lorekeep")
}

// DefaultFile is read when Load is given no path.
func DefaultFile() string { return filepath.Join(Dir(), "config.yaml") }

// Load starts from Default, applies the YAML file at path and then the
// LOREKEEP_* environment variables. An empty path falls back to
// DefaultFile, which may be absent; an explicit path must exist.
func Load(path string) (*Config, error) {
	cfg := Default()

	file, explicit := path, path != ""
	if !explicit {
		file = DefaultFile()
	}
	data, err := os.ReadFile(file)
	switch {
	case err == nil:
		if err := yaml.Unmarshal(data, cfg); err != nil {
			return nil, fmt.Errorf("parse config %s: %w", file, err)
		}
	case errors.Is(err, fs.ErrNotExist) && !explicit:
	default:
		return nil, fmt.Errorf("read config: %w", err)
	}

	if err := env.Parse(cfg); err != nil {
		return nil, fmt.Errorf("parse env: %w", err)
	}
	if err := cfg.Validate(); err != nil {
		return nil, err
	}
	return cfg, nil
}

// Validate rejects unknown drivers, levels and formats.
func (c *Config) Validate() error {
	switch c.Storage.Driver {
	case DriverSQLite, DriverJSON:
		if c.Storage.Path == "" {
			return fmt.Errorf("storage driver %s needs a path", c.Storage.Driver)
		}
	case DriverMemory:
	default:
		return fmt.Errorf("unknown storage driver %q", c.Storage.Driver)
	}
	if _, err := c.Log.level(); err != nil {
		return err
	}
	switch strings.ToLower(c.Log.Format) {
	case "text", "json":
	default:
		return fmt.Errorf("unknown log format %q", c.Log.Format)
	}
	return nil
}

func (l Log) level() (slog.Level, error) {
	var lvl slog.Level
	if err := lvl.UnmarshalText([]byte(l.Level)); err != nil {
		return 0, fmt.Errorf("log level: %w", err)
	}
	return lvl, nil
}

// Logger builds a logger writing to w with the configured level and format.
func (l Log) Logger(w io.Writer) *slog.Logger {
	lvl, err := l.level()
	if err != nil {
		lvl = slog.LevelWarn
	}
	opts := &slog.HandlerOptions{Level: lvl}
	if strings.EqualFold(l.Format, "json") {
		return slog.New(slog.NewJSONHandler(w, opts))
	}
	return slog.New(slog.NewTextHandler(w, opts))
}
