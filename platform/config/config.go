// Package config provides environment and YAML configuration loading for
// the Antbox server, following the teacher's EnvOrSecret/services.yaml
// convention but without the Marble/TEE secret-sealing layer (out of scope).
package config

import (
	"fmt"
	"os"
	"strconv"
	"strings"
	"time"

	"gopkg.in/yaml.v3"
)

// GetEnv returns an environment variable value or a default.
func GetEnv(key, defaultValue string) string {
	if v := strings.TrimSpace(os.Getenv(key)); v != "" {
		return v
	}
	return defaultValue
}

// GetEnvBool parses a boolean environment variable.
func GetEnvBool(key string, defaultValue bool) bool {
	v := strings.TrimSpace(os.Getenv(key))
	if v == "" {
		return defaultValue
	}
	switch strings.ToLower(v) {
	case "true", "1", "yes", "y":
		return true
	case "false", "0", "no", "n":
		return false
	default:
		return defaultValue
	}
}

// GetEnvInt parses an integer environment variable.
func GetEnvInt(key string, defaultValue int) int {
	v := strings.TrimSpace(os.Getenv(key))
	if v == "" {
		return defaultValue
	}
	n, err := strconv.Atoi(v)
	if err != nil {
		return defaultValue
	}
	return n
}

// GetEnvDuration parses a duration environment variable (e.g. "10s").
func GetEnvDuration(key string, defaultValue time.Duration) time.Duration {
	v := strings.TrimSpace(os.Getenv(key))
	if v == "" {
		return defaultValue
	}
	d, err := time.ParseDuration(v)
	if err != nil {
		return defaultValue
	}
	return d
}

// TenantConfig holds per-tenant tunables.
type TenantConfig struct {
	ID                string        `yaml:"id"`
	FeatureCacheTTL   time.Duration `yaml:"feature_cache_ttl"`
	RateLimitWindow   time.Duration `yaml:"rate_limit_window"`
	RateLimitMaxInFlt int           `yaml:"rate_limit_max_in_flight"`
}

// Config is the top-level server configuration.
type Config struct {
	BindAddr string         `yaml:"bind_addr"`
	LogLevel string         `yaml:"log_level"`
	LogFmt   string         `yaml:"log_format"`
	Tenants  []TenantConfig `yaml:"tenants"`
}

// Default returns a Config populated with sensible in-memory defaults.
func Default() *Config {
	return &Config{
		BindAddr: ":8080",
		LogLevel: "info",
		LogFmt:   "json",
		Tenants: []TenantConfig{
			{
				ID:                "default",
				FeatureCacheTTL:   10 * time.Minute,
				RateLimitWindow:   10 * time.Second,
				RateLimitMaxInFlt: 10,
			},
		},
	}
}

// LoadFromPath reads and parses a YAML config file.
func LoadFromPath(path string) (*Config, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("read config: %w", err)
	}
	cfg := Default()
	if err := yaml.Unmarshal(data, cfg); err != nil {
		return nil, fmt.Errorf("parse config: %w", err)
	}
	return cfg, nil
}

// LoadFromPathOrDefault loads a config file, falling back to Default() when missing.
func LoadFromPathOrDefault(path string) *Config {
	cfg, err := LoadFromPath(path)
	if err != nil {
		return Default()
	}
	return cfg
}

// TenantByID finds the tenant configuration by id, falling back to "default".
func (c *Config) TenantByID(id string) TenantConfig {
	for _, t := range c.Tenants {
		if t.ID == id {
			return t
		}
	}
	for _, t := range c.Tenants {
		if t.ID == "default" {
			return t
		}
	}
	return Default().Tenants[0]
}
