package config_test

import (
	"bytes"
	"encoding/json"
	"log/slog"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/flexiant/camanager/config"
)

func TestLoadDefaults(t *testing.T) {
	cfg, err := config.Load("CAMANAGER_TEST_DEFAULTS")
	require.NoError(t, err)

	assert.Equal(t, 8443, cfg.Port)
	assert.Equal(t, "./data", cfg.DataDir)
	assert.Equal(t, config.StorageBolt, cfg.Storage)
	assert.Equal(t, "json", cfg.LogFormat)
	assert.Equal(t, "info", cfg.LogLevel)
	assert.Equal(t, 90*24*time.Hour, cfg.AuditMaxAge)
	require.NoError(t, cfg.Validate())
}

func TestLoadFromEnvironment(t *testing.T) {
	t.Setenv("CAMANAGER_PORT", "9000")
	t.Setenv("CAMANAGER_DATA_DIR", "/var/lib/camanager")
	t.Setenv("CAMANAGER_STORAGE", "postgres")
	t.Setenv("CAMANAGER_POSTGRES_DSN", "postgres://localhost/ca")
	t.Setenv("CAMANAGER_LOG_FORMAT", "text")
	t.Setenv("CAMANAGER_LOG_LEVEL", "debug")

	cfg, err := config.Load(config.Prefix)
	require.NoError(t, err)

	assert.Equal(t, 9000, cfg.Port)
	assert.Equal(t, "/var/lib/camanager", cfg.DataDir)
	assert.Equal(t, config.StoragePostgres, cfg.Storage)
	assert.Equal(t, "postgres://localhost/ca", cfg.PostgresDSN)
	require.NoError(t, cfg.Validate())
}

func TestLoadRejectsBadPort(t *testing.T) {
	t.Setenv("CAMANAGER_PORT", "not-a-number")
	_, err := config.Load(config.Prefix)
	assert.Error(t, err)
}

func TestValidate(t *testing.T) {
	base := config.Config{Storage: config.StorageMemory, LogFormat: "json", LogLevel: "info"}

	cases := []struct {
		name   string
		mutate func(*config.Config)
	}{
		{"postgres without dsn", func(c *config.Config) { c.Storage = config.StoragePostgres }},
		{"unknown storage", func(c *config.Config) { c.Storage = "etcd" }},
		{"cert without key", func(c *config.Config) { c.TLSCert = "cert.pem" }},
		{"bad level", func(c *config.Config) { c.LogLevel = "loud" }},
		{"bad format", func(c *config.Config) { c.LogFormat = "xml" }},
	}
	require.NoError(t, base.Validate())
	for _, tc := range cases {
		t.Run(tc.name, func(t *testing.T) {
			cfg := base
			tc.mutate(&cfg)
			assert.Error(t, cfg.Validate())
		})
	}
}

func TestNewLogger(t *testing.T) {
	var buf bytes.Buffer
	cfg := config.Config{LogFormat: "json", LogLevel: "warn"}
	logger := cfg.NewLogger(&buf)

	logger.Info("hidden")
	logger.Warn("shown", "ca", "root")

	var line map[string]any
	require.NoError(t, json.Unmarshal(buf.Bytes(), &line))
	assert.Equal(t, "shown", line["msg"])
	assert.Equal(t, "root", line["ca"])

	buf.Reset()
	cfg.LogFormat = "text"
	cfg.NewLogger(&buf).Warn("plain")
	assert.Contains(t, buf.String(), "plain")

	level, err := config.ParseLevel("DEBUG")
	require.NoError(t, err)
	assert.Equal(t, slog.LevelDebug, level)
}
