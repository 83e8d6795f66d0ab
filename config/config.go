// Package config loads process settings from CAMANAGER_* environment
// variables.
package config

import (
	"fmt"
	"io"
	"log/slog"
	"os"
	"strings"
	"time"

	"github.com/kelseyhightower/envconfig"
	"github.com/lmittmann/tint"
)

// Prefix is the environment variable prefix.
const Prefix = "CAMANAGER"

// Storage backends.
const (
	StorageBolt     = "bbolt"
	StoragePostgres = "postgres"
	StorageMemory   = "memory"
)

type Config struct {
	Port    int    `default:"8443"`
	DataDir string `split_words:"true" default:"./data"`
	Storage string `default:"bbolt"`

	PostgresDSN string `envconfig:"POSTGRES_DSN"`

	TLSCert string `envconfig:"TLS_CERT"`
	TLSKey  string `envconfig:"TLS_KEY"`

	LogFormat string `split_words:"true" default:"json"`
	LogLevel  string `split_words:"true" default:"info"`

	AuditWebhookURL    string        `envconfig:"AUDIT_WEBHOOK_URL"`
	AuditWebhookHeader string        `envconfig:"AUDIT_WEBHOOK_HEADER"`
	AuditMaxAge        time.Duration `split_words:"true" default:"2160h"`
	AuditMaxEntries    int           `split_words:"true" default:"100000"`
}

// Load reads the configuration for prefix from the environment.
func Load(prefix string) (Config, error) {
	var cfg Config
	if err := envconfig.Process(prefix, &cfg); err != nil {
		return Config{}, err
	}
	return cfg, nil
}

// Validate checks values that envconfig cannot.
func (c Config) Validate() error {
	switch c.Storage {
	case StorageBolt, StorageMemory:
	case StoragePostgres:
		if c.PostgresDSN == "" {
			return fmt.Errorf("config: %s_POSTGRES_DSN is required for postgres storage", Prefix)
		}
	default:
		return fmt.Errorf("config: unknown storage backend %q", c.Storage)
	}
	if (c.TLSCert == "") != (c.TLSKey == "") {
		return fmt.Errorf("config: TLS certificate and key must be set together")
	}
	if _, err := ParseLevel(c.LogLevel); err != nil {
		return err
	}
	switch c.LogFormat {
	case "json", "text":
	default:
		return fmt.Errorf("config: unknown log format %q", c.LogFormat)
	}
	return nil
}

// ParseLevel maps debug, info, warn and error to slog levels.
func ParseLevel(s string) (slog.Level, error) {
	var level slog.Level
	if err := level.UnmarshalText([]byte(strings.TrimSpace(s))); err != nil {
		return 0, fmt.Errorf("config: unknown log level %q", s)
	}
	return level, nil
}

// NewLogger builds the process logger. Text output uses tint; anything else
// is JSON. An unknown level falls back to info.
func (c Config) NewLogger(w io.Writer) *slog.Logger {
	if w == nil {
		w = os.Stderr
	}
	level, err := ParseLevel(c.LogLevel)
	if err != nil {
		level = slog.LevelInfo
	}
	if c.LogFormat == "text" {
		return slog.New(tint.NewHandler(w, &tint.Options{Level: level, TimeFormat: time.Kitchen}))
	}
	return slog.New(slog.NewJSONHandler(w, &slog.HandlerOptions{Level: level}))
}
