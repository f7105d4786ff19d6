package config

import (
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func writeConfig(t *testing.T, body string) string {
	t.Helper()
	path := filepath.Join(t.TempDir(), "config.yaml")
	require.NoError(t, os.WriteFile(path, []byte(body), 0o600))
	return path
}

func findModel(models []ModelConfig, id string) (ModelConfig, bool) {
	for _, m := range models {
		if m.ID == id {
			return m, true
		}
	}
	return ModelConfig{}, false
}

func TestLoadAppliesDefaults(t *testing.T) {
	cfg, err := Load(writeConfig(t, "server:\n  port: 9000\n"))
	require.NoError(t, err)

	assert.Equal(t, 9000, cfg.Server.Port)
	assert.Equal(t, "info", cfg.Logging.Level)
	assert.Equal(t, "text", cfg.Logging.Format)
	assert.Equal(t, DefaultBaseURL, cfg.Anthropic.BaseURL)
	assert.Equal(t, DefaultAPIVersion, cfg.Anthropic.Version)
	assert.Equal(t, DefaultTimeout, cfg.Anthropic.Timeout)
	assert.Equal(t, int64(DefaultImageMaxBytes), cfg.Images.MaxBytes)
	assert.Equal(t, DefaultMetricsPath, cfg.Metrics.Path)

	opus, ok := findModel(cfg.Models, "claude-3-opus-20240229")
	require.True(t, ok)
	assert.Equal(t, 4096, opus.MaxTokens)
	assert.True(t, opus.SupportsVision())

	legacy, ok := findModel(cfg.Models, "claude-2.1")
	require.True(t, ok)
	assert.False(t, legacy.SupportsVision())
}

func TestLoadMergesConfiguredModels(t *testing.T) {
	cfg, err := Load(writeConfig(t, `
anthropic:
  base_url: http://localhost:9999
  timeout: 30s
  headers:
    Anthropic-Beta: tools-2024-05-16
models:
  - id: claude-3-opus-20240229
    max_tokens: 1024
  - id: claude-custom
    max_tokens: 2048
    vision: false
aliases:
  opus: claude-3-opus-20240229
`))
	require.NoError(t, err)

	assert.Equal(t, 30*time.Second, cfg.Anthropic.Timeout)
	assert.Equal(t, "tools-2024-05-16", cfg.Anthropic.Headers["Anthropic-Beta"])

	opus, ok := findModel(cfg.Models, "claude-3-opus-20240229")
	require.True(t, ok)
	assert.Equal(t, 1024, opus.MaxTokens)

	custom, ok := findModel(cfg.Models, "claude-custom")
	require.True(t, ok)
	assert.False(t, custom.SupportsVision())

	_, ok = findModel(cfg.Models, "claude-3-haiku-20240307")
	assert.True(t, ok, "built-in models not mentioned are kept")

	assert.Equal(t, "claude-3-opus-20240229", cfg.Aliases["opus"])
}

func TestLoadImagePolicy(t *testing.T) {
	cfg, err := Load(writeConfig(t, `
images:
  allow_remote: false
  allowed_hosts: [cdn.example.com, "*.images.example.org"]
`))
	require.NoError(t, err)
	assert.False(t, cfg.Images.RemoteAllowed())
	assert.Equal(t, []string{"cdn.example.com", "*.images.example.org"}, cfg.Images.AllowedHosts)
	assert.False(t, cfg.Images.AllowPrivateNetworks)

	assert.True(t, Default().Images.RemoteAllowed())
}

func TestLoadErrors(t *testing.T) {
	_, err := Load(filepath.Join(t.TempDir(), "missing.yaml"))
	assert.Error(t, err)

	_, err = Load(writeConfig(t, "server: [\n"))
	assert.Error(t, err)
}

func TestValidate(t *testing.T) {
	tests := []struct {
		name    string
		mutate  func(*Config)
		wantErr string
	}{
		{name: "defaults are valid", mutate: func(*Config) {}},
		{
			name:    "port out of range",
			mutate:  func(c *Config) { c.Server.Port = 70000 },
			wantErr: "server.port",
		},
		{
			name:    "unknown log level",
			mutate:  func(c *Config) { c.Logging.Level = "verbose" },
			wantErr: "logging.level",
		},
		{
			name:    "unknown log format",
			mutate:  func(c *Config) { c.Logging.Format = "xml" },
			wantErr: "logging.format",
		},
		{
			name:    "base url scheme",
			mutate:  func(c *Config) { c.Anthropic.BaseURL = "ftp://example.com" },
			wantErr: "anthropic.base_url",
		},
		{
			name:    "invalid header",
			mutate:  func(c *Config) { c.Anthropic.Headers = Headers{"bad header": "x"} },
			wantErr: "header",
		},
		{
			name:    "duplicate model",
			mutate:  func(c *Config) { c.Models = append(c.Models, ModelConfig{ID: "claude-2.1"}) },
			wantErr: "configured twice",
		},
		{
			name:    "negative max tokens",
			mutate:  func(c *Config) { c.Models = append(c.Models, ModelConfig{ID: "x", MaxTokens: -1}) },
			wantErr: "max_tokens",
		},
		{
			name:    "alias to unknown model",
			mutate:  func(c *Config) { c.Aliases = map[string]string{"fast": "nope"} },
			wantErr: "unknown model",
		},
		{
			name:    "alias shadows model",
			mutate:  func(c *Config) { c.Aliases = map[string]string{"claude-2.1": "claude-2.0"} },
			wantErr: "conflicts",
		},
		{
			name:    "allowed host with scheme",
			mutate:  func(c *Config) { c.Images.AllowedHosts = []string{"https://cdn.example.com"} },
			wantErr: "images.allowed_hosts",
		},
		{
			name:    "metrics path",
			mutate:  func(c *Config) { c.Metrics.Path = "metrics" },
			wantErr: "metrics.path",
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			cfg := Default()
			tt.mutate(&cfg)
			err := cfg.Validate()
			if tt.wantErr == "" {
				assert.NoError(t, err)
				return
			}
			require.Error(t, err)
			assert.Contains(t, err.Error(), tt.wantErr)
		})
	}
}
