package config

import (
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestLoadDefaults(t *testing.T) {
	os.Unsetenv("INSIGHT_CONFIG_FILE")

	cfg, err := Load()
	require.NoError(t, err)

	assert.Equal(t, 8080, cfg.Server.Port)
	assert.Equal(t, "info", cfg.Logging.Level)
	assert.Equal(t, "console", cfg.Logging.Output)
	assert.Equal(t, 60*time.Second, cfg.WebSocket.ReceiveTimeout)
	assert.Equal(t, 256, cfg.WebSocket.SendBufferSize)
	assert.Equal(t, 15*time.Second, cfg.Pipeline.AnalyzeTimeout)
	assert.True(t, cfg.Pipeline.CancelOnLastDisconnect)
	assert.Equal(t, []string{"financial", "retail", "generic"}, cfg.Upload.AllowedDomains)
}

func TestLoadFromEnvironment(t *testing.T) {
	t.Setenv("INSIGHT_SERVER_PORT", "9090")
	t.Setenv("INSIGHT_LOGGING_LEVEL", "debug")
	t.Setenv("INSIGHT_PIPELINE_CANCEL_ON_LAST_DISCONNECT", "false")

	cfg, err := Load()
	require.NoError(t, err)

	assert.Equal(t, 9090, cfg.Server.Port)
	assert.Equal(t, "debug", cfg.Logging.Level)
	assert.False(t, cfg.Pipeline.CancelOnLastDisconnect)
}

func TestLoadFromFile(t *testing.T) {
	dir := t.TempDir()
	path := filepath.Join(dir, "config.yaml")
	content := []byte(`
server:
  port: 7070
pipeline:
  stage_delay: 50ms
`)
	require.NoError(t, os.WriteFile(path, content, 0644))
	t.Setenv("INSIGHT_CONFIG_FILE", path)

	cfg, err := Load()
	require.NoError(t, err)

	assert.Equal(t, 7070, cfg.Server.Port)
	assert.Equal(t, 50*time.Millisecond, cfg.Pipeline.StageDelay)
	// Values not present in the file keep their defaults
	assert.Equal(t, "info", cfg.Logging.Level)
}

func TestValidation(t *testing.T) {
	tests := []struct {
		name   string
		mutate func(*Config)
	}{
		{"invalid port", func(c *Config) { c.Server.Port = 0 }},
		{"invalid log level", func(c *Config) { c.Logging.Level = "verbose" }},
		{"invalid log output", func(c *Config) { c.Logging.Output = "syslog" }},
		{"zero receive timeout", func(c *Config) { c.WebSocket.ReceiveTimeout = 0 }},
		{"zero analyze timeout", func(c *Config) { c.Pipeline.AnalyzeTimeout = 0 }},
		{"zero max file size", func(c *Config) { c.Upload.MaxFileSize = 0 }},
		{"no allowed domains", func(c *Config) { c.Upload.AllowedDomains = nil }},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			cfg := Default()
			tt.mutate(cfg)
			assert.Error(t, cfg.validate())
		})
	}
}

func TestDomainAllowed(t *testing.T) {
	cfg := Default()

	assert.True(t, cfg.Upload.DomainAllowed("financial"))
	assert.True(t, cfg.Upload.DomainAllowed("Retail"))
	assert.False(t, cfg.Upload.DomainAllowed("medical"))
}
