// Package config provides configuration loading using koanf.
// Precedence: environment variables over compiled defaults.
package config

import (
	"context"
	"fmt"
	"strings"
	"time"

	"github.com/knadh/koanf/providers/env"
	"github.com/knadh/koanf/v2"

	"github.com/tradeforge/stream-gateway/internal/domain"
)

// Config holds all service configuration.
type Config struct {
	// Environment identifier: "local", "dev", "prod"
	Environment string `koanf:"environment"`

	// Logging configuration
	LogLevel  string `koanf:"log_level"`
	LogFormat string `koanf:"log_format"`

	Gateway   GatewayConfig   `koanf:"gateway"`
	Auth      AuthConfig      `koanf:"auth"`
	RateLimit RateLimitConfig `koanf:"ratelimit"`

	// Infrastructure configurations
	Redis    RedisConfig    `koanf:"redis"`
	DynamoDB DynamoDBConfig `koanf:"dynamodb"`
	AWS      AWSConfig      `koanf:"aws"`

	// OpenTelemetry configuration
	OTEL OTELConfig `koanf:"otel"`
}

// GatewayConfig holds the WebSocket gateway configuration.
type GatewayConfig struct {
	HTTPPort int `koanf:"http_port"`

	// AllowedOrigins restricts the Origin header accepted at upgrade.
	// Empty means same-origin only; "*" allows any origin.
	AllowedOrigins []string `koanf:"allowed_origins"`

	ShutdownGrace time.Duration `koanf:"shutdown_grace"`
}

// AuthConfig holds credential validation configuration.
type AuthConfig struct {
	// SigningSecret is the shared HMAC secret for self-contained tokens.
	// Required outside local environments.
	SigningSecret string `koanf:"signing_secret"`

	Issuer   string `koanf:"issuer"`
	Audience string `koanf:"audience"`

	// RequireAccessType enforces the `type: access` claim on tokens.
	RequireAccessType bool `koanf:"require_access_type"`

	// AllowAnonymous permits connections with no credential at all.
	AllowAnonymous bool `koanf:"allow_anonymous"`

	// SessionTable is the session-store table name.
	SessionTable string `koanf:"session_table"`
}

// RateLimitConfig holds the three gateway limiting policies.
type RateLimitConfig struct {
	ConnectionsPerAddress int           `koanf:"connections_per_address"`
	ConnectionWindow      time.Duration `koanf:"connection_window"`
	EventsPerIdentity     int           `koanf:"events_per_identity"`
	EventWindow           time.Duration `koanf:"event_window"`
	SubscriptionBudget    int           `koanf:"subscription_budget"`
}

// RedisConfig holds Redis (counter store + backplane) configuration.
type RedisConfig struct {
	Addr     string        `koanf:"addr"` // Empty degrades to single-instance mode
	Password string        `koanf:"password"`
	DB       int           `koanf:"db"`
	Timeout  time.Duration `koanf:"timeout"`
}

// DynamoDBConfig holds DynamoDB configuration for the session store.
type DynamoDBConfig struct {
	Endpoint string        `koanf:"endpoint"` // Empty for production (uses default AWS endpoint)
	Timeout  time.Duration `koanf:"timeout"`
}

// AWSConfig holds AWS SDK configuration.
type AWSConfig struct {
	Region   string `koanf:"region"`
	Endpoint string `koanf:"endpoint"` // LocalStack endpoint for development
}

// OTELConfig holds OpenTelemetry configuration.
type OTELConfig struct {
	Endpoint    string `koanf:"endpoint"` // Empty disables OTLP export
	ServiceName string `koanf:"service_name"`
}

// defaults returns a Config with compiled default values.
func defaults() *Config {
	return &Config{
		Environment: "local",
		LogLevel:    "info",
		LogFormat:   "json",

		Gateway: GatewayConfig{
			HTTPPort:      8080,
			ShutdownGrace: domain.ShutdownGracePeriod,
		},
		Auth: AuthConfig{
			Issuer:            "tradeforge",
			Audience:          "stream-gateway",
			RequireAccessType: true,
			SessionTable:      "sessions",
		},
		RateLimit: RateLimitConfig{
			ConnectionsPerAddress: domain.ConnectionRateLimit,
			ConnectionWindow:      domain.ConnectionRateLimitWindow,
			EventsPerIdentity:     domain.EventRateLimit,
			EventWindow:           domain.EventRateLimitWindow,
			SubscriptionBudget:    domain.MaxSubscriptionsPerIdentity,
		},

		Redis: RedisConfig{
			Addr:    "localhost:6379",
			DB:      0,
			Timeout: domain.RedisTimeout,
		},
		DynamoDB: DynamoDBConfig{
			Timeout: domain.DynamoDBTimeout,
		},
		AWS: AWSConfig{
			Region: "us-east-1",
		},
	}
}

// Load loads configuration following the precedence:
// 1. Environment variables (highest)
// 2. Compiled defaults (lowest)
func Load(ctx context.Context) (*Config, error) {
	k := koanf.New(".")

	cfg := defaults()

	// Load environment variables. Double underscore maps to . for nested
	// config, so GATEWAY__HTTP_PORT becomes gateway.http_port.
	err := k.Load(env.Provider("", ".", func(s string) string {
		return strings.ReplaceAll(strings.ToLower(s), "__", ".")
	}), nil)
	if err != nil {
		return nil, fmt.Errorf("load env vars: %w", err)
	}

	if err := k.Unmarshal("", cfg); err != nil {
		return nil, fmt.Errorf("unmarshal config: %w", err)
	}

	if err := validateRequired(cfg); err != nil {
		return nil, err
	}

	return cfg, nil
}

// validateRequired checks that required configuration is present.
func validateRequired(cfg *Config) error {
	// In local environment, most fields have sensible defaults
	if cfg.Environment == "local" {
		return nil
	}

	if cfg.Auth.SigningSecret == "" {
		return fmt.Errorf("%w: auth.signing_secret", domain.ErrConfigRequired)
	}
	if cfg.Auth.SessionTable == "" {
		return fmt.Errorf("%w: auth.session_table", domain.ErrConfigRequired)
	}

	if cfg.Environment == "prod" {
		if cfg.Redis.Addr == "" {
			return fmt.Errorf("%w: redis.addr", domain.ErrConfigRequired)
		}
		if len(cfg.Gateway.AllowedOrigins) == 0 {
			return fmt.Errorf("%w: gateway.allowed_origins", domain.ErrConfigRequired)
		}
	}

	return nil
}

// IsLocal returns true if running in local development environment.
func (c *Config) IsLocal() bool {
	return c.Environment == "local"
}

// IsProd returns true if running in production environment.
func (c *Config) IsProd() bool {
	return c.Environment == "prod"
}
