// Package config loads questforge settings from an optional YAML file and
// QUESTFORGE_* environment variables. Environment values win over the file,
// which wins over Default.
package config

import (
	"errors"
	"fmt"
	"os"
	"strings"
	"time"

	"github.com/caarlos0/env/v11"
	"gopkg.in/yaml.v3"
)

// EnvPrefix prefixes every environment variable.
const EnvPrefix = "QUESTFORGE_"

// Store backends.
const (
	BackendMemory = "memory"
	BackendSQLite = "sqlite"
	BackendMySQL  = "mysql"
	BackendRedis  = "redis"
)

// Model providers.
const (
	ProviderOpenAI    = "openai"
	ProviderAnthropic = "anthropic"
	ProviderGoogle    = "google"
)

// Config is the full process configuration.
type Config struct {
	Addr     string `yaml:"addr" env:"ADDR"`
	LogLevel string `yaml:"log_level" env:"LOG_LEVEL"`

	// LogEvents writes engine step events through the logger.
	LogEvents bool `yaml:"log_events" env:"LOG_EVENTS"`

	// OTelEndpoint enables OTLP/HTTP trace export when set.
	OTelEndpoint string `yaml:"otel_endpoint" env:"OTEL_ENDPOINT"`

	Store   StoreConfig   `yaml:"store" envPrefix:"STORE_"`
	Model   ModelConfig   `yaml:"model" envPrefix:"MODEL_"`
	Search  SearchConfig  `yaml:"search" envPrefix:"SEARCH_"`
	Engine  EngineConfig  `yaml:"engine" envPrefix:"ENGINE_"`
	Degrade DegradeConfig `yaml:"degrade" envPrefix:"DEGRADE_"`
}

// StoreConfig selects the checkpoint store.
type StoreConfig struct {
	Backend string `yaml:"backend" env:"BACKEND"`

	// Path is the SQLite database file.
	Path string `yaml:"path" env:"PATH"`

	// DSN is the MySQL data source name.
	DSN string `yaml:"dsn" env:"DSN"`

	RedisAddr     string        `yaml:"redis_addr" env:"REDIS_ADDR"`
	RedisPassword string        `yaml:"redis_password" env:"REDIS_PASSWORD"`
	RedisDB       int           `yaml:"redis_db" env:"REDIS_DB"`
	RedisPrefix   string        `yaml:"redis_prefix" env:"REDIS_PREFIX"`
	RedisTTL      time.Duration `yaml:"redis_ttl" env:"REDIS_TTL"`
}

// ModelConfig selects the generation backends.
type ModelConfig struct {
	Provider string `yaml:"provider" env:"PROVIDER"`
	APIKey   string `yaml:"api_key" env:"API_KEY"`

	// Chat is the chat model name; empty uses the provider default.
	Chat string `yaml:"chat" env:"CHAT"`

	// Image is the OpenAI image model. Portraits fall back to placeholders
	// when ImageAPIKey is empty.
	Image       string `yaml:"image" env:"IMAGE"`
	ImageAPIKey string `yaml:"image_api_key" env:"IMAGE_API_KEY"`

	// BaseURL points the OpenAI provider at a compatible endpoint.
	BaseURL string `yaml:"base_url" env:"BASE_URL"`

	// Classifier is "keyword" or "model".
	Classifier string `yaml:"classifier" env:"CLASSIFIER"`
}

// SearchConfig configures the reference lookup tool.
type SearchConfig struct {
	// Endpoint is queried as GET endpoint?q=...; empty disables lookups.
	Endpoint string `yaml:"endpoint" env:"ENDPOINT"`

	// AllowFetch lets the planner fetch arbitrary URLs.
	AllowFetch bool `yaml:"allow_fetch" env:"ALLOW_FETCH"`
}

// EngineConfig tunes the orchestrator.
type EngineConfig struct {
	MaxSteps       int           `yaml:"max_steps" env:"MAX_STEPS"`
	NodeTimeout    time.Duration `yaml:"node_timeout" env:"NODE_TIMEOUT"`
	InterruptAfter []string      `yaml:"interrupt_after" env:"INTERRUPT_AFTER" envSeparator:","`
	MaxLookups     int           `yaml:"max_lookups" env:"MAX_LOOKUPS"`

	// EventBuffer is the capacity of each turn's event channel.
	EventBuffer int `yaml:"event_buffer" env:"EVENT_BUFFER"`
}

// DegradeConfig bounds external calls.
type DegradeConfig struct {
	MaxAttempts   int           `yaml:"max_attempts" env:"MAX_ATTEMPTS"`
	Delay         time.Duration `yaml:"delay" env:"DELAY"`
	Timeout       time.Duration `yaml:"timeout" env:"TIMEOUT"`
	ImageCooldown time.Duration `yaml:"image_cooldown" env:"IMAGE_COOLDOWN"`
}

// Default returns the built-in configuration: an in-memory store and the
// OpenAI provider.
func Default() Config {
	return Config{
		Addr:     ":8080",
		LogLevel: "info",
		Store: StoreConfig{
			Backend:     BackendMemory,
			Path:        "questforge.db",
			RedisAddr:   "localhost:6379",
			RedisPrefix: "questforge:",
		},
		Model: ModelConfig{
			Provider:   ProviderOpenAI,
			Classifier: "keyword",
		},
		Engine: EngineConfig{
			MaxSteps:    25,
			NodeTimeout: 5 * time.Minute,
			MaxLookups:  2,
			EventBuffer: 16,
		},
		Degrade: DegradeConfig{
			MaxAttempts:   3,
			Delay:         2 * time.Second,
			Timeout:       60 * time.Second,
			ImageCooldown: 2 * time.Second,
		},
	}
}

// Load builds a Config from Default, the YAML file at path (skipped when
// path is empty) and the environment, then validates it.
func Load(path string) (Config, error) {
	cfg := Default()
	if path != "" {
		data, err := os.ReadFile(path)
		if err != nil {
			return Config{}, fmt.Errorf("read config: %w", err)
		}
		if err := yaml.Unmarshal(data, &cfg); err != nil {
			return Config{}, fmt.Errorf("parse config %s: %w", path, err)
		}
	}
	if err := env.ParseWithOptions(&cfg, env.Options{Prefix: EnvPrefix}); err != nil {
		return Config{}, fmt.Errorf("parse env: %w", err)
	}
	if err := cfg.Validate(); err != nil {
		return Config{}, err
	}
	return cfg, nil
}

// Validate reports every invalid setting.
func (c Config) Validate() error {
	var errs []error

	switch c.Store.Backend {
	case BackendMemory:
	case BackendSQLite:
		if c.Store.Path == "" {
			errs = append(errs, errors.New("store.path is required for sqlite"))
		}
	case BackendMySQL:
		if c.Store.DSN == "" {
			errs = append(errs, errors.New("store.dsn is required for mysql"))
		}
	case BackendRedis:
		if c.Store.RedisAddr == "" {
			errs = append(errs, errors.New("store.redis_addr is required for redis"))
		}
	default:
		errs = append(errs, fmt.Errorf("unknown store backend %q", c.Store.Backend))
	}

	switch c.Model.Provider {
	case ProviderOpenAI, ProviderAnthropic, ProviderGoogle:
	default:
		errs = append(errs, fmt.Errorf("unknown model provider %q", c.Model.Provider))
	}
	switch strings.ToLower(c.Model.Classifier) {
	case "keyword", "model":
	default:
		errs = append(errs, fmt.Errorf("unknown classifier %q", c.Model.Classifier))
	}

	if c.Engine.EventBuffer < 0 {
		errs = append(errs, errors.New("engine.event_buffer cannot be negative"))
	}
	if c.Engine.MaxSteps < 1 {
		errs = append(errs, errors.New("engine.max_steps must be positive"))
	}
	if c.Engine.NodeTimeout < 0 || c.Degrade.Timeout < 0 || c.Degrade.Delay < 0 || c.Degrade.ImageCooldown < 0 {
		errs = append(errs, errors.New("durations cannot be negative"))
	}
	if c.Degrade.MaxAttempts < 1 {
		errs = append(errs, errors.New("degrade.max_attempts must be at least 1"))
	}
	return errors.Join(errs...)
}
