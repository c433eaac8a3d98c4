package config

import (
	"fmt"
	"os"
	"strconv"
	"strings"
	"time"

	"github.com/joho/godotenv"
	"gopkg.in/yaml.v3"
)

// Store backends accepted by STORE_BACKEND.
const (
	BackendMemory   = "memory"
	BackendSQLite   = "sqlite"
	BackendPostgres = "postgres"
	BackendMongo    = "mongo"
)

// Config holds all configuration for the application.
type Config struct {
	Port string `yaml:"port"`
	Env  string `yaml:"env"`

	// Storage
	StoreBackend  string        `yaml:"store_backend"`
	SQLitePath    string        `yaml:"sqlite_path"`
	DatabaseURL   string        `yaml:"database_url"`
	MongoURL      string        `yaml:"mongo_url"`
	MongoDatabase string        `yaml:"mongo_database"`
	StoreTimeout  time.Duration `yaml:"store_timeout"`

	// Redis relay, disabled when RedisURL is empty
	RedisURL            string        `yaml:"redis_url"`
	RedisChannelPrefix  string        `yaml:"redis_channel_prefix"`
	RedisPublishTimeout time.Duration `yaml:"redis_publish_timeout"`

	// Rate limiting, active only with Redis
	RateLimitWhitelist []string `yaml:"rate_limit_whitelist"` // IPs or CIDRs exempt from rate limiting
	AutoBlockEnabled   bool     `yaml:"auto_block_enabled"`   // block IPs after repeated violations

	CORSAllowedOrigins []string `yaml:"cors_allowed_origins"`

	// Count self-addressed messages as a conversation with oneself
	IncludeSelfPartner bool `yaml:"include_self_partner"`
}

// Load reads configuration from an optional YAML file (CONFIG_FILE) and then
// environment variables, which take precedence.
// In development, it loads from .env file if present.
// It panics on invalid configuration.
func Load() *Config {
	// Load .env file if it exists (for development)
	_ = godotenv.Load()

	cfg, err := load()
	if err != nil {
		panic(err)
	}
	return cfg
}

func load() (*Config, error) {
	cfg := &Config{
		Port:               "8080",
		Env:                "development",
		StoreBackend:       BackendMemory,
		SQLitePath:         "./data/chat.db",
		MongoDatabase:      "chat",
		StoreTimeout:       5 * time.Second,
		RedisChannelPrefix:  "chat:",
		RedisPublishTimeout: time.Second,
		CORSAllowedOrigins: []string{"http://localhost:4200"},
	}

	if path := os.Getenv("CONFIG_FILE"); path != "" {
		b, err := os.ReadFile(path)
		if err != nil {
			return nil, fmt.Errorf("read config file: %w", err)
		}
		if err := yaml.Unmarshal(b, cfg); err != nil {
			return nil, fmt.Errorf("parse config file %s: %w", path, err)
		}
	}

	cfg.Port = getEnv("PORT", cfg.Port)
	cfg.Env = getEnv("ENV", cfg.Env)
	cfg.StoreBackend = strings.ToLower(getEnv("STORE_BACKEND", cfg.StoreBackend))
	cfg.SQLitePath = getEnv("SQLITE_PATH", cfg.SQLitePath)
	cfg.DatabaseURL = getEnv("DATABASE_URL", cfg.DatabaseURL)
	cfg.MongoURL = getEnv("MONGO_URL", cfg.MongoURL)
	cfg.MongoDatabase = getEnv("MONGO_DATABASE", cfg.MongoDatabase)
	cfg.RedisURL = getEnv("REDIS_URL", cfg.RedisURL)
	cfg.RedisChannelPrefix = getEnv("REDIS_CHANNEL_PREFIX", cfg.RedisChannelPrefix)

	// Parse origins (comma-separated)
	if origins := os.Getenv("CORS_ALLOWED_ORIGINS"); origins != "" {
		cfg.CORSAllowedOrigins = splitList(origins)
	}

	if v := os.Getenv("STORE_TIMEOUT"); v != "" {
		d, err := time.ParseDuration(v)
		if err != nil {
			return nil, fmt.Errorf("STORE_TIMEOUT: %w", err)
		}
		cfg.StoreTimeout = d
	}

	if v := os.Getenv("REDIS_PUBLISH_TIMEOUT"); v != "" {
		d, err := time.ParseDuration(v)
		if err != nil {
			return nil, fmt.Errorf("REDIS_PUBLISH_TIMEOUT: %w", err)
		}
		cfg.RedisPublishTimeout = d
	}

	// Parse whitelist (comma-separated IPs or CIDRs)
	if whitelist := os.Getenv("RATE_LIMIT_WHITELIST"); whitelist != "" {
		cfg.RateLimitWhitelist = splitList(whitelist)
	}

	if v := os.Getenv("AUTO_BLOCK_ENABLED"); v != "" {
		b, err := strconv.ParseBool(v)
		if err != nil {
			return nil, fmt.Errorf("AUTO_BLOCK_ENABLED: %w", err)
		}
		cfg.AutoBlockEnabled = b
	}

	if v := os.Getenv("CHAT_INCLUDE_SELF_PARTNER"); v != "" {
		b, err := strconv.ParseBool(v)
		if err != nil {
			return nil, fmt.Errorf("CHAT_INCLUDE_SELF_PARTNER: %w", err)
		}
		cfg.IncludeSelfPartner = b
	}

	if err := cfg.validate(); err != nil {
		return nil, err
	}
	return cfg, nil
}

func (c *Config) validate() error {
	switch c.StoreBackend {
	case BackendMemory, BackendSQLite:
	case BackendPostgres:
		if c.DatabaseURL == "" {
			return fmt.Errorf("DATABASE_URL is required for store backend %q", c.StoreBackend)
		}
	case BackendMongo:
		if c.MongoURL == "" {
			return fmt.Errorf("MONGO_URL is required for store backend %q", c.StoreBackend)
		}
	default:
		return fmt.Errorf("unknown store backend %q", c.StoreBackend)
	}

	if c.StoreTimeout <= 0 {
		return fmt.Errorf("store timeout must be positive, got %s", c.StoreTimeout)
	}
	if c.RedisPublishTimeout < 0 {
		return fmt.Errorf("redis publish timeout must not be negative, got %s", c.RedisPublishTimeout)
	}

	// In production, require a durable backend
	if c.Env == "production" && c.StoreBackend == BackendMemory {
		return fmt.Errorf("store backend %q is not allowed in production", c.StoreBackend)
	}
	return nil
}

// IsDevelopment returns true if running in development mode.
func (c *Config) IsDevelopment() bool {
	return c.Env == "development"
}

func getEnv(key, defaultValue string) string {
	if value := os.Getenv(key); value != "" {
		return value
	}
	return defaultValue
}

func splitList(s string) []string {
	var out []string
	for _, entry := range strings.Split(s, ",") {
		entry = strings.TrimSpace(entry)
		if entry != "" {
			out = append(out, entry)
		}
	}
	return out
}
