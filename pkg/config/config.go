package config

import (
	"errors"
	"fmt"
	"os"
	"strings"
	"time"

	"github.com/homer-bot/homerbot/pkg/cache"
	"github.com/homer-bot/homerbot/pkg/models"
	"gopkg.in/yaml.v3"
)

// Config holds all homerbot configuration.
type Config struct {
	Listen      string             `yaml:"listen"`
	DBPath      string             `yaml:"db_path"`
	PersonaFile string             `yaml:"persona_file"`
	Provider    ProviderConfig     `yaml:"provider"`
	Cache       CacheConfig        `yaml:"cache"`
	Telemetry   TelemetryConfig    `yaml:"telemetry"`
	Tracker     TrackerConfig      `yaml:"tracker"`
	Audit       models.AuditConfig `yaml:"audit"`
}

// ProviderConfig defines the upstream LLM provider and the default call parameters.
type ProviderConfig struct {
	Name        string        `yaml:"name"`
	BaseURL     string        `yaml:"base_url"`
	APIKey      string        `yaml:"api_key"`
	Model       string        `yaml:"model"`
	MaxTokens   int           `yaml:"max_tokens"`
	Temperature float32       `yaml:"temperature"`
	Streaming   bool          `yaml:"streaming"`
	Timeout     time.Duration `yaml:"timeout"`
}

// CacheConfig controls the in-memory response cache.
type CacheConfig struct {
	Enabled  bool          `yaml:"enabled"`
	Capacity int           `yaml:"capacity"`
	TTL      time.Duration `yaml:"ttl"`
}

// TelemetryConfig controls logging and span export.
type TelemetryConfig struct {
	Service      string `yaml:"service"`
	Env          string `yaml:"env"`
	Version      string `yaml:"version"`
	MLApp        string `yaml:"ml_app"`
	LogLevel     string `yaml:"log_level"`
	OTLPEndpoint string `yaml:"otlp_endpoint"`
}

// TrackerConfig controls the call-record store.
type TrackerConfig struct {
	Enabled   bool          `yaml:"enabled"`
	Retention time.Duration `yaml:"retention"`
}

// Default returns a Config with sensible defaults.
func Default() *Config {
	return &Config{
		Listen: ":3001",
		DBPath: "homerbot.db",
		Provider: ProviderConfig{
			Name:        "openai",
			BaseURL:     "https://api.openai.com/v1",
			Model:       "gpt-4o-mini",
			MaxTokens:   500,
			Temperature: 0.8,
			Streaming:   true,
			Timeout:     60 * time.Second,
		},
		Cache: CacheConfig{
			Enabled:  true,
			Capacity: cache.DefaultCapacity,
			TTL:      cache.DefaultTTL,
		},
		Telemetry: TelemetryConfig{
			Service:  "homer-bot",
			Env:      "development",
			Version:  "1.0.0",
			MLApp:    "homer-bot",
			LogLevel: "info",
		},
		Tracker: TrackerConfig{
			Enabled:   true,
			Retention: 30 * 24 * time.Hour,
		},
		Audit: models.AuditConfig{
			Enabled:       false,
			DBPath:        "homerbot-audit.db",
			RetentionDays: 30,
			Include:       []string{"prompts", "responses"},
			MaxBodySize:   8192,
		},
	}
}

// Load reads a YAML config file, expands environment variables and applies
// environment overrides.
func Load(path string) (*Config, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("read config: %w", err)
	}

	expanded := os.ExpandEnv(string(data))

	cfg := Default()
	if err := yaml.Unmarshal([]byte(expanded), cfg); err != nil {
		return nil, fmt.Errorf("parse config: %w", err)
	}

	cfg.ApplyEnv()
	return cfg, nil
}

// LoadOrDefault behaves like Load but falls back to defaults plus environment
// overrides when the file does not exist and required is false.
func LoadOrDefault(path string, required bool) (*Config, error) {
	cfg, err := Load(path)
	if err == nil {
		return cfg, nil
	}
	if required || !errors.Is(err, os.ErrNotExist) {
		return nil, err
	}
	cfg = Default()
	cfg.ApplyEnv()
	return cfg, nil
}

// ApplyEnv overrides settings from well-known environment variables.
func (c *Config) ApplyEnv() {
	if v := os.Getenv("PORT"); v != "" {
		c.Listen = ":" + strings.TrimPrefix(v, ":")
	}
	if v := os.Getenv("OPENAI_API_KEY"); v != "" {
		c.Provider.APIKey = v
	}
	if v := os.Getenv("OPENAI_BASE_URL"); v != "" {
		c.Provider.BaseURL = v
	}
	if v := os.Getenv("LOG_LEVEL"); v != "" {
		c.Telemetry.LogLevel = v
	}
	if v := os.Getenv("SERVICE_NAME"); v != "" {
		c.Telemetry.Service = v
	}
	if v := os.Getenv("SERVICE_ENV"); v != "" {
		c.Telemetry.Env = v
	}
	if v := os.Getenv("SERVICE_VERSION"); v != "" {
		c.Telemetry.Version = v
	}
	if v := os.Getenv("OTLP_ENDPOINT"); v != "" {
		c.Telemetry.OTLPEndpoint = v
	}
}

// Validate reports the first setting that cannot be used.
func (c *Config) Validate() error {
	if c.Provider.Model == "" {
		return fmt.Errorf("provider.model is required")
	}
	if c.Provider.MaxTokens < 1 {
		return fmt.Errorf("provider.max_tokens must be positive, got %d", c.Provider.MaxTokens)
	}
	if c.Provider.Temperature < 0 || c.Provider.Temperature > 2 {
		return fmt.Errorf("provider.temperature must be within [0, 2], got %v", c.Provider.Temperature)
	}
	if c.Cache.Enabled {
		if c.Cache.Capacity < 1 {
			return fmt.Errorf("cache.capacity must be positive, got %d", c.Cache.Capacity)
		}
		if c.Cache.TTL <= 0 {
			return fmt.Errorf("cache.ttl must be positive, got %v", c.Cache.TTL)
		}
	}
	return nil
}
