package config

import (
	"errors"
	"fmt"
	"os"
	"strings"
	"time"

	"github.com/caarlos0/env/v11"
	"github.com/joho/godotenv"
)

// Config holds all configuration for the escrow server.
type Config struct {
	Server   ServerConfig
	Database DatabaseConfig
	Redis    RedisConfig
	Escrow   EscrowConfig
	Auth     AuthConfig
	Rail     RailConfig
	Dispatch DispatchConfig
}

type ServerConfig struct {
	Port int    `env:"ESCROW_PORT" envDefault:"8080"`
	Env  string `env:"ESCROW_ENV" envDefault:"development"`
}

type DatabaseConfig struct {
	URL             string        `env:"DATABASE_URL"`
	MaxOpenConns    int           `env:"DATABASE_MAX_OPEN_CONNS" envDefault:"25"`
	MaxIdleConns    int           `env:"DATABASE_MAX_IDLE_CONNS" envDefault:"5"`
	ConnMaxLifetime time.Duration `env:"DATABASE_CONN_MAX_LIFETIME" envDefault:"5m"`
}

// RedisConfig is optional. Without a URL the server runs with in-process
// locks only and no cache, rate limiting or idempotency replay.
type RedisConfig struct {
	URL string `env:"REDIS_URL"`
}

type EscrowConfig struct {
	ArbitratorID  string `env:"ESCROW_ARBITRATOR_ID"`
	TokenDecimals int32  `env:"ESCROW_TOKEN_DECIMALS" envDefault:"6"`
	ExplicitStart bool   `env:"ESCROW_EXPLICIT_START" envDefault:"false"`
}

type AuthConfig struct {
	RateLimitPerMinute int    `env:"RATE_LIMIT_PER_MINUTE" envDefault:"60"`
	JWTSecret          string `env:"JWT_SECRET"`
}

type RailConfig struct {
	Mode            string `env:"RAIL_MODE" envDefault:"fake"`
	RPCURL          string `env:"CHAIN_RPC_URL"`
	PrivateKey      string `env:"CHAIN_PRIVATE_KEY"`
	ContractAddress string `env:"ESCROW_CONTRACT_ADDRESS"`
	WebhookSecret   string `env:"RAIL_WEBHOOK_SECRET"`
}

type DispatchConfig struct {
	Interval       time.Duration `env:"DISPATCH_INTERVAL" envDefault:"5s"`
	MaxAttempts    int           `env:"DISPATCH_MAX_ATTEMPTS" envDefault:"5"`
	InitialBackoff time.Duration `env:"DISPATCH_INITIAL_BACKOFF" envDefault:"500ms"`
	MaxBackoff     time.Duration `env:"DISPATCH_MAX_BACKOFF" envDefault:"10s"`
}

const (
	RailModeFake = "fake"
	RailModeEth  = "eth"
)

// Load reads configuration from environment variables (and a .env file when
// present) and returns a validated Config.
func Load() (*Config, error) {
	if err := godotenv.Load(); err != nil {
		var pathErr *os.PathError
		if !errors.As(err, &pathErr) {
			return nil, fmt.Errorf("load .env file: %w", err)
		}
	}

	cfg := &Config{}
	if err := env.Parse(cfg); err != nil {
		return nil, fmt.Errorf("parse config: %w", err)
	}

	if err := cfg.validate(); err != nil {
		return nil, err
	}

	return cfg, nil
}

func (c *Config) validate() error {
	if c.Server.Port <= 0 || c.Server.Port > 65535 {
		return fmt.Errorf("ESCROW_PORT must be between 1 and 65535, got %d", c.Server.Port)
	}

	if c.Database.URL == "" {
		return fmt.Errorf("DATABASE_URL is required")
	}

	if c.Redis.URL != "" && !strings.HasPrefix(c.Redis.URL, "redis://") && !strings.HasPrefix(c.Redis.URL, "rediss://") {
		return fmt.Errorf("REDIS_URL must start with redis:// or rediss://, got %q", c.Redis.URL)
	}

	if strings.TrimSpace(c.Escrow.ArbitratorID) == "" {
		return fmt.Errorf("ESCROW_ARBITRATOR_ID is required")
	}
	if c.Escrow.TokenDecimals < 0 || c.Escrow.TokenDecimals > 18 {
		return fmt.Errorf("ESCROW_TOKEN_DECIMALS must be between 0 and 18, got %d", c.Escrow.TokenDecimals)
	}

	if c.Auth.RateLimitPerMinute <= 0 {
		return fmt.Errorf("RATE_LIMIT_PER_MINUTE must be positive, got %d", c.Auth.RateLimitPerMinute)
	}

	switch c.Rail.Mode {
	case RailModeFake:
	case RailModeEth:
		if c.Rail.RPCURL == "" {
			return fmt.Errorf("CHAIN_RPC_URL is required when RAIL_MODE is eth")
		}
		if c.Rail.PrivateKey == "" {
			return fmt.Errorf("CHAIN_PRIVATE_KEY is required when RAIL_MODE is eth")
		}
		if c.Rail.ContractAddress == "" {
			return fmt.Errorf("ESCROW_CONTRACT_ADDRESS is required when RAIL_MODE is eth")
		}
	default:
		return fmt.Errorf("RAIL_MODE must be one of fake, eth; got %q", c.Rail.Mode)
	}

	if c.Dispatch.Interval <= 0 {
		return fmt.Errorf("DISPATCH_INTERVAL must be positive, got %s", c.Dispatch.Interval)
	}
	if c.Dispatch.MaxAttempts <= 0 {
		return fmt.Errorf("DISPATCH_MAX_ATTEMPTS must be positive, got %d", c.Dispatch.MaxAttempts)
	}
	if c.Dispatch.InitialBackoff <= 0 || c.Dispatch.MaxBackoff < c.Dispatch.InitialBackoff {
		return fmt.Errorf("DISPATCH_MAX_BACKOFF (%s) must be at least DISPATCH_INITIAL_BACKOFF (%s) and both positive",
			c.Dispatch.MaxBackoff, c.Dispatch.InitialBackoff)
	}

	return nil
}
