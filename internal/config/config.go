// Package config provides configuration management for the QwenBridge server.
// It handles loading and parsing YAML configuration files, and provides structured
// access to application settings including listen address, upstream tokens,
// client API keys, streaming behavior, and the attachment upload store.
package config

import (
	"fmt"
	"os"
	"strings"

	"gopkg.in/yaml.v3"
)

// Config represents the application's configuration, loaded from a YAML file.
type Config struct {
	// Host is the address the HTTP server binds to. Empty means all interfaces.
	Host string `yaml:"host" json:"host"`

	// Port is the TCP port the HTTP server listens on.
	Port int `yaml:"port" json:"port"`

	// Debug enables verbose logging and the Gin debug mode.
	Debug bool `yaml:"debug" json:"debug"`

	// LogDir, when set, mirrors log output into rotated files under this directory.
	LogDir string `yaml:"log-dir,omitempty" json:"log-dir,omitempty"`

	// RequestLog enables logging of chat request and response bodies. Bodies
	// are truncated before logging; streaming responses record frame counts.
	RequestLog bool `yaml:"request-log" json:"request-log"`

	// APIKeys is a list of keys for authenticating clients to this gateway.
	// Empty list disables client authentication.
	APIKeys []string `yaml:"api-keys" json:"api-keys"`

	// Tokens is the ordered list of long-lived upstream secrets. Each entry
	// becomes one pool credential; order determines credential IDs.
	Tokens []string `yaml:"tokens" json:"tokens"`

	// UpstreamBaseURL overrides the upstream chat endpoint. Mainly for tests.
	UpstreamBaseURL string `yaml:"upstream-base-url,omitempty" json:"upstream-base-url,omitempty"`

	// VisionFallbackModel is substituted for the requested model when a request
	// carries image parts but the model name does not request an image mode.
	// Empty disables the substitution.
	VisionFallbackModel string `yaml:"vision-fallback-model,omitempty" json:"vision-fallback-model,omitempty"`

	// RequestRetry is the number of additional credential re-selections allowed
	// before any outward byte has been sent. Negative values are clamped to 0.
	RequestRetry int `yaml:"request-retry" json:"request-retry"`

	// Streaming configures server-side streaming behavior (keep-alives).
	Streaming StreamingConfig `yaml:"streaming" json:"streaming"`

	// Upload configures the S3-compatible attachment store. A zero value
	// disables inline image uploads; image parts are then skipped with a warning.
	Upload UploadConfig `yaml:"upload" json:"upload"`
}

// StreamingConfig holds server streaming behavior configuration.
type StreamingConfig struct {
	// KeepAliveSeconds controls how often the server emits SSE comment
	// keep-alives (": keepalive\n\n"). <= 0 disables them. Default is 15.
	KeepAliveSeconds int `yaml:"keepalive-seconds,omitempty" json:"keepalive-seconds,omitempty"`

	// NonStreamKeepAliveSeconds controls how often blank lines are emitted
	// while a non-streaming response is pending. <= 0 disables them.
	NonStreamKeepAliveSeconds int `yaml:"nonstream-keepalive-seconds,omitempty" json:"nonstream-keepalive-seconds,omitempty"`
}

// UploadConfig captures credentials for the S3-compatible attachment store.
type UploadConfig struct {
	Endpoint  string `yaml:"endpoint" json:"endpoint"`
	Bucket    string `yaml:"bucket" json:"bucket"`
	AccessKey string `yaml:"access-key" json:"access-key"`
	SecretKey string `yaml:"secret-key" json:"secret-key"`
	UseSSL    bool   `yaml:"use-ssl" json:"use-ssl"`
	// PublicBaseURL is the externally fetchable prefix for uploaded objects.
	// Defaults to the endpoint + bucket when empty.
	PublicBaseURL string `yaml:"public-base-url,omitempty" json:"public-base-url,omitempty"`
}

// Enabled reports whether the upload store is configured.
func (u UploadConfig) Enabled() bool {
	return strings.TrimSpace(u.Endpoint) != "" && strings.TrimSpace(u.Bucket) != ""
}

// Load reads the configuration file at path and applies defaults.
func Load(path string) (*Config, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("config: read %s: %w", path, err)
	}
	cfg := &Config{}
	if err = yaml.Unmarshal(data, cfg); err != nil {
		return nil, fmt.Errorf("config: parse %s: %w", path, err)
	}
	cfg.applyDefaults()
	return cfg, nil
}

func (c *Config) applyDefaults() {
	if c.Port <= 0 {
		c.Port = 8317
	}
	if c.RequestRetry < 0 {
		c.RequestRetry = 0
	}
	if c.Streaming.KeepAliveSeconds == 0 {
		c.Streaming.KeepAliveSeconds = 15
	}
	for i := range c.Tokens {
		c.Tokens[i] = strings.TrimSpace(c.Tokens[i])
	}
}

// Addr returns the host:port pair the server listens on.
func (c *Config) Addr() string {
	return fmt.Sprintf("%s:%d", c.Host, c.Port)
}
