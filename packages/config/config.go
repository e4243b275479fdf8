// Package config loads volley client settings from YAML files.
package config

import (
	"fmt"
	"os"
	"time"

	"gopkg.in/yaml.v3"
)

// Config mirrors the client's configuration surface. Durations are
// milliseconds in the file, matching the rest of the numeric fields.
type Config struct {
	BaseURL        string            `yaml:"baseUrl,omitempty"`
	Timeout        int               `yaml:"timeout,omitempty"`     // milliseconds, 0 = default
	BodyTimeout    int               `yaml:"bodyTimeout,omitempty"` // milliseconds, 0 = inherit timeout
	DialTimeout    int               `yaml:"dialTimeout,omitempty"` // milliseconds
	GuaranteeOrder *bool             `yaml:"guaranteeOrder,omitempty"`
	ValidateSSL    *bool             `yaml:"validateSSL,omitempty"`
	Headers        map[string]string `yaml:"headers,omitempty"`
	RateLimit      float64           `yaml:"rateLimit,omitempty"` // requests per second, 0 = unlimited
	Burst          int               `yaml:"burst,omitempty"`
	RecordPath     string            `yaml:"recordPath,omitempty"`
}

// Load reads and parses a YAML config file.
func Load(path string) (*Config, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("failed to read config: %w", err)
	}
	var cfg Config
	if err := yaml.Unmarshal(data, &cfg); err != nil {
		return nil, fmt.Errorf("failed to parse config %s: %w", path, err)
	}
	return &cfg, nil
}

func getBool(b *bool, defaultVal bool) bool {
	if b == nil {
		return defaultVal
	}
	return *b
}

// GetTimeout returns the overall request timeout.
func (c *Config) GetTimeout() time.Duration {
	return time.Duration(c.Timeout) * time.Millisecond
}

// GetBodyTimeout returns the body-read timeout.
func (c *Config) GetBodyTimeout() time.Duration {
	return time.Duration(c.BodyTimeout) * time.Millisecond
}

// GetDialTimeout returns the connection establishment timeout.
func (c *Config) GetDialTimeout() time.Duration {
	return time.Duration(c.DialTimeout) * time.Millisecond
}

// GetGuaranteeOrder reports whether FIFO ordering is requested, defaulting
// to false.
func (c *Config) GetGuaranteeOrder() bool {
	return getBool(c.GuaranteeOrder, false)
}

// GetValidateSSL reports whether TLS certificates are validated, defaulting
// to true.
func (c *Config) GetValidateSSL() bool {
	return getBool(c.ValidateSSL, true)
}
