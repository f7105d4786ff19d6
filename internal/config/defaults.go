package config

import "time"

const (
	DefaultPort             = 8080
	DefaultBaseURL          = "https://api.anthropic.com"
	DefaultAPIVersion       = "2023-06-01"
	DefaultTimeout          = 10 * time.Minute
	DefaultImageTimeout     = 30 * time.Second
	DefaultImageMaxBytes    = 5 << 20
	DefaultMetricsNamespace = "claude_bridge"
	DefaultMetricsPath      = "/metrics"
)

// DefaultModels is the built-in catalog with each model's documented output
// token default. Legacy text-only models are marked without vision.
func DefaultModels() []ModelConfig {
	noVision := false
	return []ModelConfig{
		{ID: "claude-3-5-sonnet-20241022", MaxTokens: 8192},
		{ID: "claude-3-5-sonnet-20240620", MaxTokens: 8192},
		{ID: "claude-3-5-haiku-20241022", MaxTokens: 8192},
		{ID: "claude-3-opus-20240229", MaxTokens: 4096},
		{ID: "claude-3-sonnet-20240229", MaxTokens: 4096},
		{ID: "claude-3-haiku-20240307", MaxTokens: 4096},
		{ID: "claude-2.1", MaxTokens: 4096, Vision: &noVision},
		{ID: "claude-2.0", MaxTokens: 4096, Vision: &noVision},
		{ID: "claude-instant-1.2", MaxTokens: 4096, Vision: &noVision},
	}
}

// Default returns a configuration with every default applied.
func Default() Config {
	var cfg Config
	cfg.ApplyDefaults()
	return cfg
}

// ApplyDefaults fills unset fields. Configured models override built-in
// entries with the same id; built-in entries not mentioned are kept.
func (c *Config) ApplyDefaults() {
	if c.Server.Port == 0 {
		c.Server.Port = DefaultPort
	}
	if c.Logging.Level == "" {
		c.Logging.Level = "info"
	}
	if c.Logging.Format == "" {
		c.Logging.Format = "text"
	}
	if c.Anthropic.BaseURL == "" {
		c.Anthropic.BaseURL = DefaultBaseURL
	}
	if c.Anthropic.Version == "" {
		c.Anthropic.Version = DefaultAPIVersion
	}
	if c.Anthropic.Timeout == 0 {
		c.Anthropic.Timeout = DefaultTimeout
	}
	if c.Images.FetchTimeout == 0 {
		c.Images.FetchTimeout = DefaultImageTimeout
	}
	if c.Images.MaxBytes == 0 {
		c.Images.MaxBytes = DefaultImageMaxBytes
	}
	if c.Metrics.Namespace == "" {
		c.Metrics.Namespace = DefaultMetricsNamespace
	}
	if c.Metrics.Path == "" {
		c.Metrics.Path = DefaultMetricsPath
	}
	c.Models = mergeModels(DefaultModels(), c.Models)
}

func mergeModels(builtin, configured []ModelConfig) []ModelConfig {
	overrides := make(map[string]ModelConfig, len(configured))
	for _, m := range configured {
		overrides[m.ID] = m
	}

	merged := make([]ModelConfig, 0, len(builtin)+len(configured))
	seen := make(map[string]struct{}, len(builtin))
	for _, m := range builtin {
		if o, ok := overrides[m.ID]; ok {
			m = o
		}
		merged = append(merged, m)
		seen[m.ID] = struct{}{}
	}
	for _, m := range configured {
		if _, ok := seen[m.ID]; ok {
			continue
		}
		merged = append(merged, m)
	}
	return merged
}
