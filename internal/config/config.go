package config

import (
	"fmt"
	"net/url"
	"os"
	"path/filepath"
	"strings"
	"time"

	"gopkg.in/yaml.v3"
)

// Config represents the application configuration parsed from YAML.
type Config struct {
	Server    ServerConfig      `yaml:"server"`
	Logging   LoggingConfig     `yaml:"logging"`
	Anthropic AnthropicConfig   `yaml:"anthropic"`
	Models    []ModelConfig     `yaml:"models"`
	Aliases   map[string]string `yaml:"aliases"`
	Images    ImagesConfig      `yaml:"images"`
	Metrics   MetricsConfig     `yaml:"metrics"`
}

// ServerConfig defines listener configuration.
type ServerConfig struct {
	Port int `yaml:"port"`
}

// LoggingConfig selects the process log level and encoding.
type LoggingConfig struct {
	Level  string `yaml:"level"`
	Format string `yaml:"format"`
}

// AnthropicConfig captures the upstream Messages API endpoint. APIKey may be
// left empty, in which case the key is read from the environment.
type AnthropicConfig struct {
	APIKey  string        `yaml:"api_key"`
	BaseURL string        `yaml:"base_url"`
	Version string        `yaml:"version"`
	Timeout time.Duration `yaml:"timeout"`
	Headers Headers       `yaml:"headers"`
}

// Headers contains additional HTTP headers to send with a provider request.
type Headers map[string]string

// ModelConfig describes a model and its per-model defaults. MaxTokens of zero
// means the model has no default and callers must send max_tokens.
type ModelConfig struct {
	ID        string `yaml:"id"`
	MaxTokens int    `yaml:"max_tokens"`
	Vision    *bool  `yaml:"vision"`
}

// SupportsVision reports whether images may be sent to the model. Unset
// means supported.
func (m ModelConfig) SupportsVision() bool {
	return m.Vision == nil || *m.Vision
}

// ImagesConfig bounds remote image fetching. Remote fetches never reach
// loopback, private or link-local addresses unless AllowPrivateNetworks is
// set.
type ImagesConfig struct {
	FetchTimeout         time.Duration `yaml:"fetch_timeout"`
	MaxBytes             int64         `yaml:"max_bytes"`
	AllowRemote          *bool         `yaml:"allow_remote"`
	AllowedHosts         []string      `yaml:"allowed_hosts"`
	AllowPrivateNetworks bool          `yaml:"allow_private_networks"`
}

// RemoteAllowed reports whether http(s) image URLs are fetched. Unset means
// allowed.
func (i ImagesConfig) RemoteAllowed() bool {
	return i.AllowRemote == nil || *i.AllowRemote
}

// MetricsConfig controls the Prometheus endpoint.
type MetricsConfig struct {
	Namespace string `yaml:"namespace"`
	Path      string `yaml:"path"`
}

// Load reads YAML configuration from disk, applies defaults and validates the result.
func Load(path string) (Config, error) {
	absPath, err := filepath.Abs(path)
	if err != nil {
		return Config{}, fmt.Errorf("resolve config path: %w", err)
	}

	data, err := os.ReadFile(absPath)
	if err != nil {
		return Config{}, fmt.Errorf("read config file %q: %w", absPath, err)
	}

	var cfg Config
	if err := yaml.Unmarshal(data, &cfg); err != nil {
		return Config{}, fmt.Errorf("parse config file %q: %w", absPath, err)
	}

	cfg.ApplyDefaults()
	if err := cfg.Validate(); err != nil {
		return Config{}, err
	}
	return cfg, nil
}

// Validate performs strict sanity checks on the configuration.
func (c Config) Validate() error {
	if c.Server.Port <= 0 || c.Server.Port > 65535 {
		return fmt.Errorf("server.port must be a valid TCP port, got %d", c.Server.Port)
	}

	switch c.Logging.Level {
	case "debug", "info", "warn", "error":
	default:
		return fmt.Errorf("logging.level %q must be one of debug, info, warn, error", c.Logging.Level)
	}
	switch c.Logging.Format {
	case "text", "json":
	default:
		return fmt.Errorf("logging.format %q must be text or json", c.Logging.Format)
	}

	if err := validateAnthropic(c.Anthropic); err != nil {
		return err
	}

	known := make(map[string]struct{}, len(c.Models))
	for _, model := range c.Models {
		id := strings.TrimSpace(model.ID)
		if id == "" {
			return fmt.Errorf("models: model id must not be empty")
		}
		if _, dup := known[id]; dup {
			return fmt.Errorf("models: model %q configured twice", id)
		}
		if model.MaxTokens < 0 {
			return fmt.Errorf("models: model %q max_tokens must not be negative", id)
		}
		known[id] = struct{}{}
	}

	for alias, target := range c.Aliases {
		if strings.TrimSpace(alias) == "" {
			return fmt.Errorf("aliases: alias name must not be empty")
		}
		if strings.TrimSpace(target) == "" {
			return fmt.Errorf("aliases: alias %q target must not be empty", alias)
		}
		if _, ok := known[target]; !ok {
			return fmt.Errorf("aliases: alias %q references unknown model %q", alias, target)
		}
		if _, clash := known[alias]; clash {
			return fmt.Errorf("aliases: alias %q conflicts with existing model", alias)
		}
	}

	if c.Images.MaxBytes <= 0 {
		return fmt.Errorf("images.max_bytes must be positive, got %d", c.Images.MaxBytes)
	}
	if c.Images.FetchTimeout <= 0 {
		return fmt.Errorf("images.fetch_timeout must be positive")
	}
	for _, host := range c.Images.AllowedHosts {
		if strings.TrimSpace(host) == "" || strings.ContainsAny(host, "/:") {
			return fmt.Errorf("images.allowed_hosts: %q must be a bare host name", host)
		}
	}

	if !strings.HasPrefix(c.Metrics.Path, "/") {
		return fmt.Errorf("metrics.path %q must start with /", c.Metrics.Path)
	}

	return nil
}

func validateAnthropic(a AnthropicConfig) error {
	parsed, err := url.Parse(a.BaseURL)
	if err != nil {
		return fmt.Errorf("anthropic.base_url: %w", err)
	}
	if parsed.Scheme != "http" && parsed.Scheme != "https" {
		return fmt.Errorf("anthropic.base_url %q must use http or https", a.BaseURL)
	}
	if parsed.Host == "" {
		return fmt.Errorf("anthropic.base_url %q must include a host", a.BaseURL)
	}
	if strings.TrimSpace(a.Version) == "" {
		return fmt.Errorf("anthropic.version must not be empty")
	}
	if a.Timeout < 0 {
		return fmt.Errorf("anthropic.timeout must not be negative")
	}

	for headerKey := range a.Headers {
		if !isCanonicalHTTPHeader(headerKey) {
			return fmt.Errorf("anthropic: header %q is not a valid canonical HTTP header", headerKey)
		}
	}
	return nil
}

func isCanonicalHTTPHeader(header string) bool {
	if header == "" {
		return false
	}

	for _, r := range header {
		if !(r == '-' || (r >= 'A' && r <= 'Z') || (r >= 'a' && r <= 'z')) {
			return false
		}
	}
	return true
}
