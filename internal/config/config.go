package config

import (
	"fmt"
	"os"
	"strings"
	"time"

	"github.com/caarlos0/env/v10"
	"gopkg.in/yaml.v2"
)

// EnvPrefix is prepended to every environment override.
const EnvPrefix = "BLACKSHEEP_"

const devJWTSecret = "blacksheep-dev-secret-change-me"

// DatabaseConfig holds the database connection information.
type DatabaseConfig struct {
	Type string `yaml:"type" env:"TYPE"`
	DSN  string `yaml:"dsn" env:"DSN"`
}

// AuthConfig holds credential and token settings.
type AuthConfig struct {
	JWTSecret            string        `yaml:"jwt_secret" env:"JWT_SECRET"`
	TokenTTL             time.Duration `yaml:"token_ttl" env:"TOKEN_TTL"`
	PasswordHash         string        `yaml:"password_hash" env:"PASSWORD_HASH"`
	APIKeyPrefix         string        `yaml:"api_key_prefix" env:"API_KEY_PREFIX"`
	DefaultAdminUsername string        `yaml:"default_admin_username" env:"DEFAULT_ADMIN_USERNAME"`
	DefaultAdminPassword string        `yaml:"default_admin_password" env:"DEFAULT_ADMIN_PASSWORD"`
}

// UsageConfig holds usage accounting settings.
type UsageConfig struct {
	DefaultLimit int64 `yaml:"default_limit" env:"DEFAULT_LIMIT"`
	// ResetSchedule is a cron spec. Empty means limits are lifetime caps.
	ResetSchedule string `yaml:"reset_schedule" env:"RESET_SCHEDULE"`
}

// RateLimitConfig holds the request-rate limiter settings.
type RateLimitConfig struct {
	RedisURL          string `yaml:"redis_url" env:"REDIS_URL"`
	RequestsPerMinute int    `yaml:"requests_per_minute" env:"REQUESTS_PER_MINUTE"`
	Burst             int    `yaml:"burst" env:"BURST"`
}

// EventsConfig holds the usage event bus settings.
type EventsConfig struct {
	NATSURL string `yaml:"nats_url" env:"NATS_URL"`
	Subject string `yaml:"subject" env:"SUBJECT"`
}

// CORSConfig holds cross-origin settings.
type CORSConfig struct {
	AllowedOrigins []string `yaml:"allowed_origins" env:"ALLOWED_ORIGINS" envSeparator:","`
}

// ProviderConfig holds settings for upstream inference calls.
type ProviderConfig struct {
	Timeout         time.Duration `yaml:"timeout" env:"TIMEOUT"`
	AzureAPIVersion string        `yaml:"azure_api_version" env:"AZURE_API_VERSION"`
}

// LoggingConfig holds log output settings.
type LoggingConfig struct {
	Format string `yaml:"format" env:"FORMAT"`
}

// Config holds the configuration for the gateway.
type Config struct {
	Port        int             `yaml:"port" env:"PORT"`
	Debug       bool            `yaml:"debug" env:"DEBUG"`
	Environment string          `yaml:"environment" env:"ENVIRONMENT"`
	Database    DatabaseConfig  `yaml:"database" envPrefix:"DATABASE_"`
	Auth        AuthConfig      `yaml:"auth" envPrefix:"AUTH_"`
	Usage       UsageConfig     `yaml:"usage" envPrefix:"USAGE_"`
	RateLimit   RateLimitConfig `yaml:"ratelimit" envPrefix:"RATELIMIT_"`
	Events      EventsConfig    `yaml:"events" envPrefix:"EVENTS_"`
	CORS        CORSConfig      `yaml:"cors" envPrefix:"CORS_"`
	Provider    ProviderConfig  `yaml:"provider" envPrefix:"PROVIDER_"`
	Logging     LoggingConfig   `yaml:"logging" envPrefix:"LOGGING_"`
}

// IsDevelopment reports whether the gateway runs in development mode.
func (c *Config) IsDevelopment() bool {
	return c.Environment == "" || c.Environment == "development"
}

// LoadConfig reads and parses the configuration file, then applies
// BLACKSHEEP_* environment overrides. It returns the config and a potential
// warning message.
var LoadConfig = func(path string) (*Config, string, error) {
	var config Config

	data, err := os.ReadFile(path)
	if err == nil {
		if err := yaml.Unmarshal(data, &config); err != nil {
			return nil, "", fmt.Errorf("failed to parse config file: %w", err)
		}
	} else if !os.IsNotExist(err) {
		return nil, "", fmt.Errorf("failed to read config file: %w", err)
	}
	// A missing file is fine; environment variables may carry everything.

	if err := env.ParseWithOptions(&config, env.Options{Prefix: EnvPrefix}); err != nil {
		return nil, "", fmt.Errorf("failed to parse environment overrides: %w", err)
	}

	warnings := applyDefaults(&config)

	if config.Database.Type == "" || config.Database.DSN == "" {
		return nil, "", fmt.Errorf("database type and dsn must be configured in config.yaml or via environment variables")
	}
	if config.Auth.JWTSecret == "" {
		if !config.IsDevelopment() {
			return nil, "", fmt.Errorf("auth.jwt_secret is required in %s", config.Environment)
		}
		config.Auth.JWTSecret = devJWTSecret
		warnings = append(warnings, "auth.jwt_secret not set, using the development secret")
	}

	return &config, strings.Join(warnings, "; "), nil
}

func applyDefaults(c *Config) []string {
	var warnings []string
	if c.Port == 0 {
		c.Port = 8080
	}
	if c.Environment == "" {
		c.Environment = "development"
	}
	if c.Auth.TokenTTL == 0 {
		c.Auth.TokenTTL = 30 * time.Minute
	}
	if c.Auth.PasswordHash == "" {
		c.Auth.PasswordHash = "bcrypt"
	}
	if c.Auth.APIKeyPrefix == "" {
		c.Auth.APIKeyPrefix = "bsk"
	}
	if c.Auth.DefaultAdminUsername == "" {
		c.Auth.DefaultAdminUsername = "admin"
	}
	if c.Auth.DefaultAdminPassword == "" {
		c.Auth.DefaultAdminPassword = "admin"
		warnings = append(warnings, "auth.default_admin_password not set, using the default password")
	}
	if c.Usage.DefaultLimit == 0 {
		c.Usage.DefaultLimit = 100000
		warnings = append(warnings, "usage.default_limit not set, using default value of 100000")
	}
	if c.RateLimit.RequestsPerMinute == 0 {
		c.RateLimit.RequestsPerMinute = 60
	}
	if c.RateLimit.Burst == 0 {
		c.RateLimit.Burst = 10
	}
	if c.Events.Subject == "" {
		c.Events.Subject = "blacksheep.usage"
	}
	if len(c.CORS.AllowedOrigins) == 0 {
		c.CORS.AllowedOrigins = []string{"*"}
	}
	if c.Provider.Timeout == 0 {
		c.Provider.Timeout = 60 * time.Second
	}
	if c.Provider.AzureAPIVersion == "" {
		c.Provider.AzureAPIVersion = "2024-10-01-preview"
	}
	if c.Logging.Format == "" {
		c.Logging.Format = "json"
	}
	return warnings
}
