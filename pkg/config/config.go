package config

import (
	"fmt"
	"os"
	"strconv"
	"strings"
	"time"

	"gopkg.in/yaml.v3"
)

// Config holds all application configuration
type Config struct {
	Server      ServerConfig      `yaml:"server"`
	Database    DatabaseConfig    `yaml:"database"`
	Redis       RedisConfig       `yaml:"redis"`
	Identity    IdentityConfig    `yaml:"identity"`
	Permissions PermissionsConfig `yaml:"permissions"`
	Sync        SyncConfig        `yaml:"sync"`
	RateLimit   RateLimitConfig   `yaml:"rate_limit"`
	LogLevel    string            `yaml:"log_level"`
}

// ServerConfig holds HTTP server configuration
type ServerConfig struct {
	Host            string        `yaml:"host"`
	Port            string        `yaml:"port"`
	ReadTimeout     time.Duration `yaml:"read_timeout"`
	WriteTimeout    time.Duration `yaml:"write_timeout"`
	IdleTimeout     time.Duration `yaml:"idle_timeout"`
	ShutdownTimeout time.Duration `yaml:"shutdown_timeout"`

	// Health/metrics server (separate port for k8s probes)
	HealthPort string `yaml:"health_port"`
}

// Addr returns the host:port the server binds to.
func (s ServerConfig) Addr() string {
	return s.Host + ":" + s.Port
}

// DatabaseConfig holds the PostgreSQL connection settings.
type DatabaseConfig struct {
	URL             string        `yaml:"url"`
	MaxOpenConns    int           `yaml:"max_open_conns"`
	MaxIdleConns    int           `yaml:"max_idle_conns"`
	ConnMaxLifetime time.Duration `yaml:"conn_max_lifetime"`
	Migrate         bool          `yaml:"migrate"`
}

// RedisConfig holds the listing cache settings. The cache is optional:
// an empty URL disables it and the application degrades gracefully.
type RedisConfig struct {
	URL        string        `yaml:"url"`
	ListingTTL time.Duration `yaml:"listing_ttl"`
}

// IdentityConfig holds the identity provider connection settings.
type IdentityConfig struct {
	BaseURL      string        `yaml:"base_url"`
	TokenURL     string        `yaml:"token_url"`
	ClientID     string        `yaml:"client_id"`
	ClientSecret string        `yaml:"client_secret"`
	Timeout      time.Duration `yaml:"timeout"`

	// OIDC settings for verifying end-user tokens.
	OIDCIssuer   string `yaml:"oidc_issuer"`
	OIDCClientID string `yaml:"oidc_client_id"`
}

// PermissionsConfig holds the permission cache settings.
type PermissionsConfig struct {
	CacheSize     int           `yaml:"cache_size"`
	CacheTTL      time.Duration `yaml:"cache_ttl"`
	SweepInterval time.Duration `yaml:"sweep_interval"`
}

// SyncConfig holds the batch reconciler settings.
type SyncConfig struct {
	Schedule  string `yaml:"schedule"`
	BatchSize int    `yaml:"batch_size"`
	Workers   int    `yaml:"workers"`
}

// RateLimitConfig holds the admin endpoint rate limit settings.
type RateLimitConfig struct {
	RequestsPerWindow int           `yaml:"requests_per_window"`
	WindowDuration    time.Duration `yaml:"window_duration"`
}

// Default returns the built-in configuration before any overrides.
func Default() *Config {
	return &Config{
		Server: ServerConfig{
			Host:            "0.0.0.0",
			Port:            "8080",
			ReadTimeout:     15 * time.Second,
			WriteTimeout:    15 * time.Second,
			IdleTimeout:     60 * time.Second,
			ShutdownTimeout: 30 * time.Second,
			HealthPort:      "9090",
		},
		Database: DatabaseConfig{
			MaxOpenConns:    25,
			MaxIdleConns:    5,
			ConnMaxLifetime: 30 * time.Minute,
			Migrate:         true,
		},
		Redis: RedisConfig{
			ListingTTL: 10 * time.Minute,
		},
		Identity: IdentityConfig{
			Timeout: 10 * time.Second,
		},
		Permissions: PermissionsConfig{
			CacheSize:     4096,
			CacheTTL:      5 * time.Minute,
			SweepInterval: time.Minute,
		},
		Sync: SyncConfig{
			Schedule:  "@every 1h",
			BatchSize: 100,
			Workers:   4,
		},
		RateLimit: RateLimitConfig{
			RequestsPerWindow: 30,
			WindowDuration:    time.Minute,
		},
		LogLevel: "info",
	}
}

// Load builds the configuration from defaults, the optional YAML file named
// by ESTATELOOP_CONFIG_FILE, and ESTATELOOP_* environment variables, in
// that order of precedence.
func Load() (*Config, error) {
	return load(os.Getenv("ESTATELOOP_CONFIG_FILE"))
}

// LoadFile is Load with an explicit file path instead of the env lookup.
func LoadFile(path string) (*Config, error) {
	return load(path)
}

func load(path string) (*Config, error) {
	cfg := Default()

	if path != "" {
		data, err := os.ReadFile(path)
		if err != nil {
			return nil, fmt.Errorf("failed to read config file %s: %w", path, err)
		}
		if err := yaml.Unmarshal(data, cfg); err != nil {
			return nil, fmt.Errorf("failed to parse config file %s: %w", path, err)
		}
	}

	cfg.applyEnv()

	if err := cfg.Validate(); err != nil {
		return nil, fmt.Errorf("configuration validation failed: %w", err)
	}
	return cfg, nil
}

func (c *Config) applyEnv() {
	c.Server.Host = getEnv("ESTATELOOP_HOST", c.Server.Host)
	c.Server.Port = getEnv("ESTATELOOP_PORT", c.Server.Port)
	c.Server.ReadTimeout = getEnvDuration("ESTATELOOP_READ_TIMEOUT", c.Server.ReadTimeout)
	c.Server.WriteTimeout = getEnvDuration("ESTATELOOP_WRITE_TIMEOUT", c.Server.WriteTimeout)
	c.Server.IdleTimeout = getEnvDuration("ESTATELOOP_IDLE_TIMEOUT", c.Server.IdleTimeout)
	c.Server.ShutdownTimeout = getEnvDuration("ESTATELOOP_SHUTDOWN_TIMEOUT", c.Server.ShutdownTimeout)
	c.Server.HealthPort = getEnv("ESTATELOOP_HEALTH_PORT", c.Server.HealthPort)

	c.Database.URL = getEnv("ESTATELOOP_POSTGRES_URL", c.Database.URL)
	c.Database.MaxOpenConns = getEnvInt("ESTATELOOP_POSTGRES_MAX_CONNS", c.Database.MaxOpenConns)
	c.Database.MaxIdleConns = getEnvInt("ESTATELOOP_POSTGRES_IDLE_CONNS", c.Database.MaxIdleConns)
	c.Database.ConnMaxLifetime = getEnvDuration("ESTATELOOP_POSTGRES_CONN_LIFETIME", c.Database.ConnMaxLifetime)
	c.Database.Migrate = getEnvBool("ESTATELOOP_POSTGRES_MIGRATE", c.Database.Migrate)

	c.Redis.URL = getEnv("ESTATELOOP_REDIS_URL", c.Redis.URL)
	c.Redis.ListingTTL = getEnvDuration("ESTATELOOP_LISTING_CACHE_TTL", c.Redis.ListingTTL)

	c.Identity.BaseURL = getEnv("ESTATELOOP_IDENTITY_BASE_URL", c.Identity.BaseURL)
	c.Identity.TokenURL = getEnv("ESTATELOOP_IDENTITY_TOKEN_URL", c.Identity.TokenURL)
	c.Identity.ClientID = getEnv("ESTATELOOP_IDENTITY_CLIENT_ID", c.Identity.ClientID)
	c.Identity.ClientSecret = getEnv("ESTATELOOP_IDENTITY_CLIENT_SECRET", c.Identity.ClientSecret)
	c.Identity.Timeout = getEnvDuration("ESTATELOOP_IDENTITY_TIMEOUT", c.Identity.Timeout)
	c.Identity.OIDCIssuer = getEnv("ESTATELOOP_OIDC_ISSUER", c.Identity.OIDCIssuer)
	c.Identity.OIDCClientID = getEnv("ESTATELOOP_OIDC_CLIENT_ID", c.Identity.OIDCClientID)

	c.Permissions.CacheSize = getEnvInt("ESTATELOOP_PERMISSION_CACHE_SIZE", c.Permissions.CacheSize)
	c.Permissions.CacheTTL = getEnvDuration("ESTATELOOP_PERMISSION_CACHE_TTL", c.Permissions.CacheTTL)
	c.Permissions.SweepInterval = getEnvDuration("ESTATELOOP_PERMISSION_SWEEP_INTERVAL", c.Permissions.SweepInterval)

	c.Sync.Schedule = getEnv("ESTATELOOP_SYNC_SCHEDULE", c.Sync.Schedule)
	c.Sync.BatchSize = getEnvInt("ESTATELOOP_SYNC_BATCH_SIZE", c.Sync.BatchSize)
	c.Sync.Workers = getEnvInt("ESTATELOOP_SYNC_WORKERS", c.Sync.Workers)

	c.RateLimit.RequestsPerWindow = getEnvInt("ESTATELOOP_RATE_LIMIT_REQUESTS", c.RateLimit.RequestsPerWindow)
	c.RateLimit.WindowDuration = getEnvDuration("ESTATELOOP_RATE_LIMIT_WINDOW", c.RateLimit.WindowDuration)

	c.LogLevel = getEnv("ESTATELOOP_LOG_LEVEL", c.LogLevel)
}

// Validate checks if the configuration is valid
func (c *Config) Validate() error {
	if c.Server.Port == "" {
		return fmt.Errorf("server port is required")
	}
	if c.Server.HealthPort == "" {
		return fmt.Errorf("health port is required")
	}
	if c.Server.Port == c.Server.HealthPort {
		return fmt.Errorf("server port and health port must be different")
	}
	if c.Database.URL == "" {
		return fmt.Errorf("postgres URL is required")
	}
	if c.Database.MaxOpenConns <= 0 {
		return fmt.Errorf("postgres max conns must be positive")
	}
	if c.Identity.BaseURL == "" {
		return fmt.Errorf("identity provider base URL is required")
	}
	if c.Identity.ClientID == "" || c.Identity.ClientSecret == "" {
		return fmt.Errorf("identity provider client credentials are required")
	}
	if c.Identity.OIDCIssuer == "" {
		return fmt.Errorf("OIDC issuer is required")
	}
	if c.Permissions.CacheSize <= 0 {
		return fmt.Errorf("permission cache size must be positive")
	}
	if c.Permissions.CacheTTL <= 0 {
		return fmt.Errorf("permission cache TTL must be positive")
	}
	if c.Sync.BatchSize <= 0 {
		return fmt.Errorf("sync batch size must be positive")
	}
	if c.Sync.Workers <= 0 {
		return fmt.Errorf("sync workers must be positive")
	}
	return nil
}

// getEnv returns an environment variable value or a default
func getEnv(key, defaultValue string) string {
	if value := os.Getenv(key); value != "" {
		return value
	}
	return defaultValue
}

// getEnvBool returns a boolean environment variable or a default
func getEnvBool(key string, defaultValue bool) bool {
	if value := os.Getenv(key); value != "" {
		return strings.ToLower(value) == "true" || value == "1"
	}
	return defaultValue
}

// getEnvInt returns an integer environment variable or a default
func getEnvInt(key string, defaultValue int) int {
	if value := os.Getenv(key); value != "" {
		if intVal, err := strconv.Atoi(value); err == nil {
			return intVal
		}
	}
	return defaultValue
}

// getEnvDuration returns a duration environment variable or a default
func getEnvDuration(key string, defaultValue time.Duration) time.Duration {
	if value := os.Getenv(key); value != "" {
		if duration, err := time.ParseDuration(value); err == nil {
			return duration
		}
	}
	return defaultValue
}
