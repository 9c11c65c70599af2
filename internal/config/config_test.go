package config

import (
	"os"
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func writeConfig(t *testing.T, content string) string {
	t.Helper()
	path := filepath.Join(t.TempDir(), "config.yaml")
	require.NoError(t, os.WriteFile(path, []byte(content), 0o600))
	return path
}

func TestLoadConfig_MissingFileUsesDefaults(t *testing.T) {
	cfg, err := LoadConfig(filepath.Join(t.TempDir(), "nope.yaml"))
	require.NoError(t, err)

	assert.Equal(t, "INFO", cfg.System.LogLevel)
	assert.Equal(t, 5.0, cfg.Marketplace.RequestsPerSecond)
	assert.Equal(t, 5, cfg.Marketplace.MaxRetries)
	assert.Equal(t, "https://api.dmarket.com", cfg.Defaults.APIURL)
	assert.Equal(t, 960, cfg.Defaults.CheckInterval)
	assert.Equal(t, filepath.Join("data", "instances.json"), cfg.InstancesPath())
	assert.Equal(t, filepath.Join("data", "price_rules.json"), cfg.RulesPath())
}

func TestLoadConfig_OverridesAndEnvExpansion(t *testing.T) {
	t.Setenv("TEST_DATA_DIR", "/var/lib/sync")

	path := writeConfig(t, `
system:
  log_level: DEBUG
storage:
  data_dir: ${TEST_DATA_DIR}
marketplace:
  requests_per_second: 2
defaults:
  check_interval: 60
`)
	cfg, err := LoadConfig(path)
	require.NoError(t, err)

	assert.Equal(t, "DEBUG", cfg.System.LogLevel)
	assert.Equal(t, "/var/lib/sync", cfg.Storage.DataDir)
	assert.Equal(t, 2.0, cfg.Marketplace.RequestsPerSecond)
	assert.Equal(t, 60, cfg.Defaults.CheckInterval)
	// Untouched fields keep defaults
	assert.Equal(t, "a8db", cfg.Defaults.GameID)
	assert.Equal(t, 30, cfg.Marketplace.TimeoutSeconds)
}

func TestLoadConfig_RejectsBadValues(t *testing.T) {
	cases := []struct {
		name string
		yaml string
	}{
		{"bad log level", "system:\n  log_level: LOUD\n"},
		{"negative rps", "marketplace:\n  requests_per_second: -1\n"},
		{"timeout too large", "marketplace:\n  timeout_seconds: 3600\n"},
		{"non http url", "defaults:\n  api_url: ftp://api.dmarket.com\n"},
	}
	for _, c := range cases {
		t.Run(c.name, func(t *testing.T) {
			_, err := LoadConfig(writeConfig(t, c.yaml))
			assert.Error(t, err)
		})
	}
}

func TestSecretRedaction(t *testing.T) {
	s := Secret("super-secret-key")
	assert.Equal(t, "[REDACTED]", s.String())
	assert.Equal(t, `"[REDACTED]"`, s.GoString())
	assert.Equal(t, "super-secret-key", s.Reveal())

	data, err := s.MarshalJSON()
	require.NoError(t, err)
	assert.Equal(t, `"[REDACTED]"`, string(data))
}
