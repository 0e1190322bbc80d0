// Package config loads service configuration from a YAML file with
// environment variable overrides.
package config

import (
	"fmt"
	"os"
	"strconv"
	"strings"

	"gopkg.in/yaml.v3"

	"github.com/sydlexius/cadence/internal/logging"
)

// Config holds all application configuration.
type Config struct {
	Server    ServerConfig    `yaml:"server"`
	Database  DatabaseConfig  `yaml:"database"`
	Detection DetectionConfig `yaml:"detection"`
	Preview   PreviewConfig   `yaml:"preview"`
	Resolver  ResolverConfig  `yaml:"resolver"`
	Notify    NotifyConfig    `yaml:"notify"`
	Logging   logging.Config  `yaml:"logging"`
}

// ServerConfig holds HTTP server settings.
type ServerConfig struct {
	Port     int    `yaml:"port"`
	BasePath string `yaml:"base_path"`
}

// DatabaseConfig holds SQLite settings.
type DatabaseConfig struct {
	Path string `yaml:"path"`
}

// DetectionConfig holds settings for the remote tempo/key estimation service.
type DetectionConfig struct {
	BaseURL        string `yaml:"base_url"`
	TokenURL       string `yaml:"token_url"`
	ClientID       string `yaml:"client_id"`
	ClientSecret   string `yaml:"client_secret"`
	TimeoutSeconds int    `yaml:"timeout_seconds"`
}

// PreviewConfig holds storefront lookup settings.
type PreviewConfig struct {
	// Country is the storefront region for preview searches.
	Country string `yaml:"country"`
}

// ResolverConfig holds cache TTL and pipeline timing settings.
type ResolverConfig struct {
	TTLDays               int `yaml:"ttl_days"`
	FailureTTLHours       int `yaml:"failure_ttl_hours"`
	AttemptTimeoutSeconds int `yaml:"attempt_timeout_seconds"`
}

// NotifyConfig holds webhook notification settings.
type NotifyConfig struct {
	WebhookURLs []string `yaml:"webhook_urls"`
}

// Default returns a Config with sensible defaults.
func Default() *Config {
	return &Config{
		Server: ServerConfig{
			Port: 8080,
		},
		Database: DatabaseConfig{
			Path: "/data/cadence.db",
		},
		Detection: DetectionConfig{
			TimeoutSeconds: 30,
		},
		Preview: PreviewConfig{
			Country: "us",
		},
		Resolver: ResolverConfig{
			TTLDays:               90,
			FailureTTLHours:       24,
			AttemptTimeoutSeconds: 5,
		},
		Logging: logging.Config{
			Level:  "info",
			Format: "json",
		},
	}
}

// Load reads config from a YAML file (if it exists) and overrides with
// environment variables. Environment variables take precedence.
func Load(path string) (*Config, error) {
	cfg := Default()

	if path != "" {
		if err := cfg.loadFromFile(path); err != nil {
			return nil, fmt.Errorf("loading config file: %w", err)
		}
	}

	cfg.loadFromEnv()

	if err := cfg.validate(); err != nil {
		return nil, fmt.Errorf("validating config: %w", err)
	}

	return cfg, nil
}

func (c *Config) loadFromFile(path string) error {
	data, err := os.ReadFile(path) //nolint:gosec // G304: path comes from trusted config
	if err != nil {
		if os.IsNotExist(err) {
			return nil
		}
		return err
	}
	return yaml.Unmarshal(data, c)
}

func (c *Config) loadFromEnv() {
	if v := os.Getenv("CD_PORT"); v != "" {
		if port, err := strconv.Atoi(v); err == nil {
			c.Server.Port = port
		}
	}
	if v := os.Getenv("CD_BASE_PATH"); v != "" {
		c.Server.BasePath = v
	}
	if v := os.Getenv("CD_DB_PATH"); v != "" {
		c.Database.Path = v
	}
	if v := os.Getenv("CD_DETECTION_URL"); v != "" {
		c.Detection.BaseURL = v
	}
	if v := os.Getenv("CD_DETECTION_TOKEN_URL"); v != "" {
		c.Detection.TokenURL = v
	}
	if v := os.Getenv("CD_DETECTION_CLIENT_ID"); v != "" {
		c.Detection.ClientID = v
	}
	if v := os.Getenv("CD_DETECTION_CLIENT_SECRET"); v != "" {
		c.Detection.ClientSecret = v
	}
	if v := os.Getenv("CD_PREVIEW_COUNTRY"); v != "" {
		c.Preview.Country = v
	}
	if v := os.Getenv("CD_LOG_LEVEL"); v != "" {
		c.Logging.Level = v
	}
	if v := os.Getenv("CD_LOG_FORMAT"); v != "" {
		c.Logging.Format = v
	}
}

func (c *Config) validate() error {
	if c.Server.Port < 1 || c.Server.Port > 65535 {
		return fmt.Errorf("invalid port: %d", c.Server.Port)
	}
	if c.Database.Path == "" {
		return fmt.Errorf("database path is required")
	}
	if c.Detection.BaseURL == "" {
		return fmt.Errorf("detection base_url is required")
	}
	if c.Resolver.TTLDays <= 0 {
		return fmt.Errorf("resolver ttl_days must be positive")
	}
	if c.Resolver.FailureTTLHours <= 0 {
		return fmt.Errorf("resolver failure_ttl_hours must be positive")
	}
	if c.Resolver.AttemptTimeoutSeconds <= 0 {
		return fmt.Errorf("resolver attempt_timeout_seconds must be positive")
	}
	c.Server.BasePath = strings.TrimRight(c.Server.BasePath, "/")
	return nil
}
