// Package config loads process configuration from the environment and an optional
// config.yaml, and the comprobante catalog from its own YAML file.
package config

import (
	"fmt"
	"strings"
	"time"

	"github.com/spf13/viper"
)

// Storage backends for sequences and orders.
const (
	BackendMemory   = "memory"
	BackendPostgres = "postgres"
	BackendRedis    = "redis"
)

// Config groups the application configuration.
type Config struct {
	App     AppConfig
	Log     LogConfig
	HTTP    HTTPConfig
	DB      DBConfig
	Redis   RedisConfig
	JWT     JWTConfig
	Catalog CatalogConfig
	Client  ClientConfig
}

// AppConfig holds general settings.
type AppConfig struct {
	Env            string // development, production
	StorageBackend string
}

// IsDevelopment reports whether the app runs in development mode.
func (c AppConfig) IsDevelopment() bool {
	return c.Env == "development"
}

// LogConfig configures pkg/logger.
type LogConfig struct {
	Level string
}

// HTTPConfig configures the API listener.
type HTTPConfig struct {
	Host            string
	Port            int
	ReadTimeout     time.Duration
	WriteTimeout    time.Duration
	ShutdownTimeout time.Duration
}

// Addr returns host:port.
func (c HTTPConfig) Addr() string {
	return fmt.Sprintf("%s:%d", c.Host, c.Port)
}

// DBConfig configures PostgreSQL.
type DBConfig struct {
	URL            string
	MaxConns       int
	MigrateOnStart bool
}

// RedisConfig configures the Redis sequence backend.
type RedisConfig struct {
	URL       string
	KeyPrefix string
}

// JWTConfig configures terminal tokens.
type JWTConfig struct {
	Secret string
	Issuer string
	TTL    time.Duration
}

// CatalogConfig points at the comprobante catalog.
type CatalogConfig struct {
	Path string
	// SeedDatabase writes the catalog types and sequences into the database at startup.
	SeedDatabase bool
}

// ClientConfig configures the caller-side numbering client.
type ClientConfig struct {
	BaseURL          string
	TerminalID       string
	Secret           string
	Timeout          time.Duration
	FailureThreshold int
	OpenTimeout      time.Duration
}

// Load reads configuration. Environment variables win over config.yaml.
func Load() (*Config, error) {
	v := viper.New()

	v.SetConfigName("config")
	v.SetConfigType("yaml")
	v.AddConfigPath(".")
	v.AddConfigPath("./config")
	if err := v.ReadInConfig(); err != nil {
		if _, ok := err.(viper.ConfigFileNotFoundError); !ok {
			return nil, fmt.Errorf("read config.yaml: %w", err)
		}
	}

	v.AutomaticEnv()
	v.SetEnvKeyReplacer(strings.NewReplacer(".", "_"))
	setDefaults(v)

	cfg := &Config{
		App: AppConfig{
			Env:            v.GetString("APP_ENV"),
			StorageBackend: strings.ToLower(v.GetString("STORAGE_BACKEND")),
		},
		Log: LogConfig{
			Level: v.GetString("LOG_LEVEL"),
		},
		HTTP: HTTPConfig{
			Host:            v.GetString("HTTP_HOST"),
			Port:            v.GetInt("HTTP_PORT"),
			ReadTimeout:     v.GetDuration("HTTP_READ_TIMEOUT"),
			WriteTimeout:    v.GetDuration("HTTP_WRITE_TIMEOUT"),
			ShutdownTimeout: v.GetDuration("HTTP_SHUTDOWN_TIMEOUT"),
		},
		DB: DBConfig{
			URL:            v.GetString("DATABASE_URL"),
			MaxConns:       v.GetInt("DB_MAX_CONNS"),
			MigrateOnStart: v.GetBool("DB_MIGRATE_ON_START"),
		},
		Redis: RedisConfig{
			URL:       v.GetString("REDIS_URL"),
			KeyPrefix: v.GetString("REDIS_KEY_PREFIX"),
		},
		JWT: JWTConfig{
			Secret: v.GetString("JWT_SECRET"),
			Issuer: v.GetString("JWT_ISSUER"),
			TTL:    v.GetDuration("JWT_TTL"),
		},
		Catalog: CatalogConfig{
			Path:         v.GetString("CATALOG_PATH"),
			SeedDatabase: v.GetBool("CATALOG_SEED_DATABASE"),
		},
		Client: ClientConfig{
			BaseURL:          v.GetString("NUMBERING_URL"),
			TerminalID:       v.GetString("NUMBERING_TERMINAL_ID"),
			Secret:           v.GetString("NUMBERING_TERMINAL_SECRET"),
			Timeout:          v.GetDuration("NUMBERING_TIMEOUT"),
			FailureThreshold: v.GetInt("NUMBERING_FAILURE_THRESHOLD"),
			OpenTimeout:      v.GetDuration("NUMBERING_OPEN_TIMEOUT"),
		},
	}

	if err := cfg.Validate(); err != nil {
		return nil, err
	}
	return cfg, nil
}

func setDefaults(v *viper.Viper) {
	v.SetDefault("APP_ENV", "development")
	v.SetDefault("STORAGE_BACKEND", BackendMemory)
	v.SetDefault("LOG_LEVEL", "info")
	v.SetDefault("HTTP_HOST", "0.0.0.0")
	v.SetDefault("HTTP_PORT", 8080)
	v.SetDefault("HTTP_READ_TIMEOUT", 15*time.Second)
	v.SetDefault("HTTP_WRITE_TIMEOUT", 15*time.Second)
	v.SetDefault("HTTP_SHUTDOWN_TIMEOUT", 10*time.Second)
	v.SetDefault("DB_MAX_CONNS", 10)
	v.SetDefault("DB_MIGRATE_ON_START", false)
	v.SetDefault("REDIS_KEY_PREFIX", "ncfpos")
	v.SetDefault("JWT_ISSUER", "ncfpos")
	v.SetDefault("JWT_TTL", 12*time.Hour)
	v.SetDefault("CATALOG_PATH", "catalog.yaml")
	v.SetDefault("CATALOG_SEED_DATABASE", false)
	v.SetDefault("NUMBERING_URL", "http://localhost:8080")
	v.SetDefault("NUMBERING_TIMEOUT", 5*time.Second)
	v.SetDefault("NUMBERING_FAILURE_THRESHOLD", 5)
	v.SetDefault("NUMBERING_OPEN_TIMEOUT", 30*time.Second)
}

// Validate checks cross-field requirements.
func (c *Config) Validate() error {
	switch c.App.StorageBackend {
	case BackendMemory:
	case BackendPostgres:
		if c.DB.URL == "" {
			return fmt.Errorf("DATABASE_URL is required for the postgres backend")
		}
	case BackendRedis:
		if c.Redis.URL == "" {
			return fmt.Errorf("REDIS_URL is required for the redis backend")
		}
	default:
		return fmt.Errorf("unknown STORAGE_BACKEND %q", c.App.StorageBackend)
	}
	if c.JWT.Secret == "" && !c.App.IsDevelopment() {
		return fmt.Errorf("JWT_SECRET is required outside development")
	}
	return nil
}
