// Package config loads the daemon configuration.
package config

import (
	"fmt"
	"os"
	"time"

	"gopkg.in/yaml.v3"
)

// Config is the top-level daemon configuration.
type Config struct {
	Server struct {
		// ListenAddress is the HTTP bind address.
		ListenAddress string `yaml:"listen_address"`
		// PublicURI is the externally visible address prefix; defaults
		// to http://<listen_address>.
		PublicURI string `yaml:"public_uri"`
	} `yaml:"server"`

	Host struct {
		MaintenanceCheckInterval time.Duration `yaml:"maintenance_check_interval"`
		CacheClearDelay          time.Duration `yaml:"cache_clear_delay"`
		PrivilegedPrefixes       []string      `yaml:"privileged_prefixes"`
	} `yaml:"host"`

	Auth struct {
		// TokenSecret enables token signing and verification.
		TokenSecret string `yaml:"token_secret"`
	} `yaml:"auth"`

	RateLimit struct {
		Enabled bool    `yaml:"enabled"`
		PerSec  float64 `yaml:"per_second"`
		Burst   int     `yaml:"burst"`
	} `yaml:"rate_limit"`

	Logging struct {
		Level string `yaml:"level"`
	} `yaml:"logging"`
}

// Default returns the configuration used when no file is provided.
func Default() *Config {
	cfg := &Config{}
	cfg.Server.ListenAddress = "127.0.0.1:8000"
	cfg.Host.MaintenanceCheckInterval = time.Second
	cfg.Host.CacheClearDelay = time.Minute
	cfg.Host.PrivilegedPrefixes = []string{"/core/"}
	cfg.RateLimit.PerSec = 100
	cfg.RateLimit.Burst = 200
	cfg.Logging.Level = "info"
	return cfg
}

// Load reads and validates the configuration at path, applying
// defaults for omitted fields.
func Load(path string) (*Config, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("failed to read config: %w", err)
	}
	cfg := Default()
	if err := yaml.Unmarshal(data, cfg); err != nil {
		return nil, fmt.Errorf("failed to parse config: %w", err)
	}
	if err := cfg.Validate(); err != nil {
		return nil, err
	}
	return cfg, nil
}

// LoadOrDefault loads path when it is non-empty, the defaults
// otherwise.
func LoadOrDefault(path string) (*Config, error) {
	if path == "" {
		return Default(), nil
	}
	return Load(path)
}

// Validate checks cross-field constraints.
func (c *Config) Validate() error {
	if c.Server.ListenAddress == "" {
		return fmt.Errorf("server.listen_address is required")
	}
	if c.Host.MaintenanceCheckInterval < 0 {
		return fmt.Errorf("host.maintenance_check_interval must not be negative")
	}
	if c.Host.CacheClearDelay < 0 {
		return fmt.Errorf("host.cache_clear_delay must not be negative")
	}
	if c.RateLimit.Enabled {
		if c.RateLimit.PerSec <= 0 {
			return fmt.Errorf("rate_limit.per_second must be positive")
		}
		if c.RateLimit.Burst <= 0 {
			return fmt.Errorf("rate_limit.burst must be positive")
		}
	}
	return nil
}

// PublicURI resolves the configured or derived public address.
func (c *Config) PublicURI() string {
	if c.Server.PublicURI != "" {
		return c.Server.PublicURI
	}
	return "http://" + c.Server.ListenAddress
}
