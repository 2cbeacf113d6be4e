// Package config loads dbwork settings from YAML, applies DBWORK_*
// environment overrides and validates the result against an embedded CUE
// schema.
package config

import (
	_ "embed"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"os"
	"path/filepath"
	"strconv"
	"time"

	"gopkg.in/yaml.v3"
)

//go:embed schema.cue
var schemaSource string

// Backend names.
const (
	BackendSQLite   = "sqlite"
	BackendPostgres = "postgres"
)

// Config is the complete runtime configuration.
type Config struct {
	Backend   string       `yaml:"backend" json:"backend"`
	DSN       string       `yaml:"dsn" json:"dsn"`
	DataRoot  string       `yaml:"data_root" json:"data_root"`
	LogLevel  string       `yaml:"log_level" json:"log_level"`
	ReadOnly  bool         `yaml:"read_only" json:"read_only"`
	Isolation string       `yaml:"isolation" json:"isolation"`
	Retry     RetryConfig  `yaml:"retry" json:"retry"`
	Notify    NotifyConfig `yaml:"notify" json:"notify"`
}

// RetryConfig controls RunInWork replays.
type RetryConfig struct {
	MaxRetries      int           `yaml:"max_retries" json:"max_retries"`
	InitialInterval time.Duration `yaml:"initial_interval" json:"initial_interval"`
	MaxInterval     time.Duration `yaml:"max_interval" json:"max_interval"`
}

// NotifyConfig names the NOTIFY channel used by the postgres backend.
type NotifyConfig struct {
	Channel string `yaml:"channel" json:"channel"`
}

// Default returns the configuration used when no file is given.
func Default() *Config {
	return &Config{
		Backend:   BackendSQLite,
		DSN:       filepath.Join(".dbwork", "dbwork.db"),
		DataRoot:  filepath.Join(".dbwork", "blobs"),
		LogLevel:  "info",
		Isolation: "read committed",
		Retry: RetryConfig{
			MaxRetries:      10,
			InitialInterval: 50 * time.Millisecond,
			MaxInterval:     2 * time.Second,
		},
		Notify: NotifyConfig{Channel: "dbwork_events"},
	}
}

// Load reads path (if non-empty), applies environment overrides and
// validates.
func Load(path string) (*Config, error) {
	return LoadWithEnv(path, os.LookupEnv)
}

// LoadWithEnv is Load with an explicit environment lookup.
func LoadWithEnv(path string, lookup func(string) (string, bool)) (*Config, error) {
	cfg := Default()
	if path != "" {
		if err := cfg.readFile(path); err != nil {
			return nil, err
		}
	}
	if err := cfg.applyEnv(lookup); err != nil {
		return nil, err
	}
	if err := cfg.Validate(); err != nil {
		return nil, err
	}
	return cfg, nil
}

func (c *Config) readFile(path string) error {
	f, err := os.Open(path)
	if err != nil {
		return fmt.Errorf("open config: %w", err)
	}
	defer f.Close()

	dec := yaml.NewDecoder(f)
	dec.KnownFields(true)
	if err := dec.Decode(c); err != nil && !errors.Is(err, io.EOF) {
		return fmt.Errorf("parse config %s: %w", path, err)
	}
	return nil
}

// envOverrides maps environment variables onto fields.
var envOverrides = []struct {
	name  string
	apply func(c *Config, v string) error
}{
	{"DBWORK_BACKEND", func(c *Config, v string) error { c.Backend = v; return nil }},
	{"DBWORK_DSN", func(c *Config, v string) error { c.DSN = v; return nil }},
	{"DBWORK_DATA_ROOT", func(c *Config, v string) error { c.DataRoot = v; return nil }},
	{"DBWORK_LOG_LEVEL", func(c *Config, v string) error { c.LogLevel = v; return nil }},
	{"DBWORK_ISOLATION", func(c *Config, v string) error { c.Isolation = v; return nil }},
	{"DBWORK_NOTIFY_CHANNEL", func(c *Config, v string) error { c.Notify.Channel = v; return nil }},
	{"DBWORK_READ_ONLY", func(c *Config, v string) (err error) {
		c.ReadOnly, err = strconv.ParseBool(v)
		return err
	}},
	{"DBWORK_MAX_RETRIES", func(c *Config, v string) (err error) {
		c.Retry.MaxRetries, err = strconv.Atoi(v)
		return err
	}},
}

func (c *Config) applyEnv(lookup func(string) (string, bool)) error {
	for _, o := range envOverrides {
		v, ok := lookup(o.name)
		if !ok {
			continue
		}
		if err := o.apply(c, v); err != nil {
			return fmt.Errorf("%s: %w", o.name, err)
		}
	}
	return nil
}

// SlogLevel returns the configured log level, or info if it does not parse.
func (c *Config) SlogLevel() slog.Level {
	var l slog.Level
	if err := l.UnmarshalText([]byte(c.LogLevel)); err != nil {
		return slog.LevelInfo
	}
	return l
}
