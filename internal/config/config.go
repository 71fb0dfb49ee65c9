package config

import (
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"strconv"
	"strings"

	"github.com/joho/godotenv"
	"gopkg.in/yaml.v3"
)

// Gateway providers
const (
	ProviderWebex   = "webex"
	ProviderNATS    = "nats"
	ProviderConsole = "console"
)

// Config holds application configuration
type Config struct {
	App      AppConfig      `yaml:"app"`
	Database DatabaseConfig `yaml:"database"`
	Bot      BotConfig      `yaml:"bot"`
	Gateway  GatewayConfig  `yaml:"gateway"`
	NATS     NATSConfig     `yaml:"nats"`
}

// AppConfig holds application-level configuration
type AppConfig struct {
	Name    string `yaml:"name"`
	Version string `yaml:"version"`
	Debug   bool   `yaml:"debug"`
	Port    string `yaml:"port"`
	Host    string `yaml:"host"`
	Workers int    `yaml:"workers"`
}

// DatabaseConfig holds database configuration. URL wins over Name; a bare
// Name selects a local SQLite file.
type DatabaseConfig struct {
	URL  string `yaml:"url"`
	Name string `yaml:"name"`
}

// BotConfig holds the messaging platform credentials
type BotConfig struct {
	Token         string `yaml:"token"`
	Email         string `yaml:"email"`
	APIURL        string `yaml:"api_url"`
	WebhookSecret string `yaml:"webhook_secret"`
}

// GatewayConfig selects the notification provider
type GatewayConfig struct {
	Provider string `yaml:"provider"` // "webex", "nats", "console" (for development)
}

// NATSConfig holds the NATS bridge configuration
type NATSConfig struct {
	URL           string `yaml:"url"`
	SubjectPrefix string `yaml:"subject_prefix"`
}

// DefaultPath returns the default configuration file location
func DefaultPath() string {
	home, err := os.UserHomeDir()
	if err != nil {
		return "config.yaml"
	}
	return filepath.Join(home, ".config", "feedbot", "config.yaml")
}

// Defaults returns the configuration used when nothing is set
func Defaults() *Config {
	return &Config{
		App: AppConfig{
			Name:    "feedbot",
			Version: "1.0.0",
			Port:    "8000",
			Host:    "0.0.0.0",
			Workers: 8,
		},
		Database: DatabaseConfig{
			Name: "feedback",
		},
		Bot: BotConfig{
			APIURL: "https://webexapis.com/v1",
		},
		Gateway: GatewayConfig{
			Provider: ProviderConsole,
		},
		NATS: NATSConfig{
			URL:           "nats://127.0.0.1:4222",
			SubjectPrefix: "feedbot",
		},
	}
}

// Load reads the configuration file at path (a missing file is not an
// error), then applies environment overrides. JSON files are accepted as
// they are valid YAML.
func Load(path string) (*Config, error) {
	// Try to load .env file (ignore error if it doesn't exist)
	_ = godotenv.Load()

	cfg := Defaults()

	if path != "" {
		data, err := os.ReadFile(path)
		switch {
		case err == nil:
			if err := yaml.Unmarshal(data, cfg); err != nil {
				return nil, fmt.Errorf("failed to parse config file %s: %w", path, err)
			}
		case errors.Is(err, os.ErrNotExist):
		default:
			return nil, fmt.Errorf("failed to read config file %s: %w", path, err)
		}
	}

	applyEnv(cfg)

	if err := validateConfig(cfg); err != nil {
		return nil, fmt.Errorf("configuration validation failed: %w", err)
	}
	return cfg, nil
}

func applyEnv(cfg *Config) {
	cfg.App.Debug = getEnvAsBool("DEBUG", cfg.App.Debug)
	cfg.App.Port = getEnv("PORT", cfg.App.Port)
	cfg.App.Host = getEnv("HOST", cfg.App.Host)
	cfg.App.Workers = getEnvAsInt("WORKERS", cfg.App.Workers)

	cfg.Database.URL = getEnv("DATABASE_URL", cfg.Database.URL)
	cfg.Database.Name = getEnv("DATABASE_NAME", cfg.Database.Name)

	cfg.Bot.Token = getEnv("BOT_TOKEN", cfg.Bot.Token)
	cfg.Bot.Email = getEnv("BOT_EMAIL", cfg.Bot.Email)
	cfg.Bot.APIURL = getEnv("BOT_API_URL", cfg.Bot.APIURL)
	cfg.Bot.WebhookSecret = getEnv("WEBHOOK_SECRET", cfg.Bot.WebhookSecret)

	cfg.Gateway.Provider = strings.ToLower(getEnv("GATEWAY_PROVIDER", cfg.Gateway.Provider))

	cfg.NATS.URL = getEnv("NATS_URL", cfg.NATS.URL)
	cfg.NATS.SubjectPrefix = getEnv("NATS_SUBJECT_PREFIX", cfg.NATS.SubjectPrefix)
}

// validateConfig validates the configuration
func validateConfig(cfg *Config) error {
	if cfg.Database.URL == "" && cfg.Database.Name == "" {
		return fmt.Errorf("database url or name must be set")
	}
	if cfg.App.Workers <= 0 {
		return fmt.Errorf("WORKERS must be greater than 0")
	}
	switch cfg.Gateway.Provider {
	case ProviderWebex:
		if cfg.Bot.Token == "" {
			return fmt.Errorf("BOT_TOKEN must be set for the webex provider")
		}
		if cfg.App.Port == "" {
			return fmt.Errorf("PORT must be set for the webex provider")
		}
	case ProviderNATS:
		if cfg.NATS.URL == "" || cfg.NATS.SubjectPrefix == "" {
			return fmt.Errorf("NATS_URL and NATS_SUBJECT_PREFIX must be set for the nats provider")
		}
	case ProviderConsole:
	default:
		return fmt.Errorf("unsupported gateway provider: %s", cfg.Gateway.Provider)
	}
	return nil
}

// Helper functions
func getEnv(key, defaultValue string) string {
	if value := os.Getenv(key); value != "" {
		return value
	}
	return defaultValue
}

func getEnvAsBool(key string, defaultValue bool) bool {
	valueStr := os.Getenv(key)
	if valueStr == "" {
		return defaultValue
	}
	value, err := strconv.ParseBool(valueStr)
	if err != nil {
		return defaultValue
	}
	return value
}

func getEnvAsInt(key string, defaultValue int) int {
	valueStr := os.Getenv(key)
	if valueStr == "" {
		return defaultValue
	}
	value, err := strconv.Atoi(valueStr)
	if err != nil {
		return defaultValue
	}
	return value
}

// IsPostgres checks if the database URL is for PostgreSQL
func (c *DatabaseConfig) IsPostgres() bool {
	return strings.HasPrefix(c.URL, "postgres://") || strings.HasPrefix(c.URL, "postgresql://") ||
		strings.Contains(c.URL, "host=")
}

// GetSQLitePath extracts the SQLite database path. Without a URL the
// database name becomes "<name>.db" in the working directory.
func (c *DatabaseConfig) GetSQLitePath() string {
	if c.URL == "" {
		return c.Name + ".db"
	}
	return strings.TrimPrefix(c.URL, "sqlite:///")
}
