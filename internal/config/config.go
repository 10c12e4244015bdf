// Package config loads gateway configuration from a YAML file with
// environment overrides for deployment-sensitive values.
package config

import (
	"fmt"
	"os"
	"strconv"
	"time"

	"gopkg.in/yaml.v3"

	"github.com/baldgiev-collab/serpifai/pkg/logger"
)

// Config is the full gateway configuration.
type Config struct {
	Server   ServerConfig         `yaml:"server"`
	Signing  SigningConfig        `yaml:"signing"`
	Session  SessionConfig        `yaml:"session"`
	Database DatabaseConfig       `yaml:"database"`
	Redis    RedisConfig          `yaml:"redis"`
	Admin    AdminConfig          `yaml:"admin"`
	Fetch    FetchConfig          `yaml:"fetch"`
	Upstream map[string]string    `yaml:"upstream"`
	Janitor  JanitorConfig        `yaml:"janitor"`
	Logging  logger.LoggingConfig `yaml:"logging"`
}

// ServerConfig controls the HTTP listener.
type ServerConfig struct {
	Addr           string `yaml:"addr"`
	EnforceHTTPS   bool   `yaml:"enforce_https"`
	AllowUnsigned  bool   `yaml:"allow_unsigned"`
	RateLimitRPS   int    `yaml:"rate_limit_rps"`
	RateLimitBurst int    `yaml:"rate_limit_burst"`
}

// SigningConfig controls envelope verification.
type SigningConfig struct {
	Secret        string `yaml:"secret"`
	WindowSeconds int    `yaml:"window_seconds"`
}

// Window returns the timestamp window as a duration.
func (c SigningConfig) Window() time.Duration {
	return time.Duration(c.WindowSeconds) * time.Second
}

// SessionConfig selects and tunes the session arbitration policy.
type SessionConfig struct {
	// Policy is "ip-exclusive" or "permanent-binding".
	Policy         string `yaml:"policy"`
	TimeoutMinutes int    `yaml:"timeout_minutes"`
}

// Timeout returns the exclusivity hold as a duration.
func (c SessionConfig) Timeout() time.Duration {
	return time.Duration(c.TimeoutMinutes) * time.Minute
}

// DatabaseConfig selects the persistence backend.
type DatabaseConfig struct {
	// Driver is "memory" or "postgres".
	Driver string `yaml:"driver"`
	DSN    string `yaml:"dsn"`
}

// RedisConfig enables the Redis fetch cache.
type RedisConfig struct {
	Enabled  bool   `yaml:"enabled"`
	Addr     string `yaml:"addr"`
	Password string `yaml:"password"`
	DB       int    `yaml:"db"`
}

// AdminConfig protects the admin API.
type AdminConfig struct {
	JWTSecret    string `yaml:"jwt_secret"`
	TokenTTLMins int    `yaml:"token_ttl_minutes"`
}

// TokenTTL returns the admin token lifetime.
func (c AdminConfig) TokenTTL() time.Duration {
	if c.TokenTTLMins <= 0 {
		return time.Hour
	}
	return time.Duration(c.TokenTTLMins) * time.Minute
}

// FetchConfig tunes the fetch action family.
type FetchConfig struct {
	TTLMinutes     int `yaml:"ttl_minutes"`
	TimeoutSeconds int `yaml:"timeout_seconds"`
}

// TTL returns the cache lifetime for fetched documents.
func (c FetchConfig) TTL() time.Duration {
	if c.TTLMinutes <= 0 {
		return time.Hour
	}
	return time.Duration(c.TTLMinutes) * time.Minute
}

// Timeout returns the per-fetch HTTP timeout.
func (c FetchConfig) Timeout() time.Duration {
	if c.TimeoutSeconds <= 0 {
		return 30 * time.Second
	}
	return time.Duration(c.TimeoutSeconds) * time.Second
}

// JanitorConfig controls the scheduled cache sweep.
type JanitorConfig struct {
	// Schedule is a cron expression; empty disables the sweep.
	Schedule string `yaml:"schedule"`
}

// Default returns the baseline configuration.
func Default() Config {
	return Config{
		Server: ServerConfig{
			Addr:           ":8080",
			AllowUnsigned:  true,
			RateLimitRPS:   50,
			RateLimitBurst: 100,
		},
		Signing:  SigningConfig{WindowSeconds: 60},
		Session:  SessionConfig{Policy: "ip-exclusive", TimeoutMinutes: 30},
		Database: DatabaseConfig{Driver: "memory"},
		Fetch:    FetchConfig{TTLMinutes: 60, TimeoutSeconds: 30},
		Janitor:  JanitorConfig{Schedule: "@hourly"},
		Logging:  logger.LoggingConfig{Level: "info", Format: "json", Output: "stdout"},
	}
}

// Load reads the YAML file at path, if any, and applies environment
// overrides on top of the defaults. An empty path skips the file.
func Load(path string) (Config, error) {
	cfg := Default()

	if path != "" {
		raw, err := os.ReadFile(path)
		if err != nil {
			return Config{}, fmt.Errorf("read config: %w", err)
		}
		if err := yaml.Unmarshal(raw, &cfg); err != nil {
			return Config{}, fmt.Errorf("parse config: %w", err)
		}
	}

	applyEnv(&cfg)

	if err := cfg.Validate(); err != nil {
		return Config{}, err
	}
	return cfg, nil
}

func applyEnv(cfg *Config) {
	if v := os.Getenv("GATEWAY_ADDR"); v != "" {
		cfg.Server.Addr = v
	}
	if v := os.Getenv("GATEWAY_SIGNING_SECRET"); v != "" {
		cfg.Signing.Secret = v
	}
	if v := os.Getenv("GATEWAY_DB_DRIVER"); v != "" {
		cfg.Database.Driver = v
	}
	if v := os.Getenv("GATEWAY_DB_DSN"); v != "" {
		cfg.Database.DSN = v
	}
	if v := os.Getenv("GATEWAY_REDIS_ADDR"); v != "" {
		cfg.Redis.Enabled = true
		cfg.Redis.Addr = v
	}
	if v := os.Getenv("GATEWAY_REDIS_PASSWORD"); v != "" {
		cfg.Redis.Password = v
	}
	if v := os.Getenv("GATEWAY_ADMIN_JWT_SECRET"); v != "" {
		cfg.Admin.JWTSecret = v
	}
	if v := os.Getenv("GATEWAY_SESSION_POLICY"); v != "" {
		cfg.Session.Policy = v
	}
	if v := os.Getenv("GATEWAY_ALLOW_UNSIGNED"); v != "" {
		if parsed, err := strconv.ParseBool(v); err == nil {
			cfg.Server.AllowUnsigned = parsed
		}
	}
	if v := os.Getenv("GATEWAY_LOG_LEVEL"); v != "" {
		cfg.Logging.Level = v
	}
}

// Validate rejects configurations the gateway cannot run with.
func (c Config) Validate() error {
	if c.Signing.Secret == "" {
		return fmt.Errorf("signing.secret is required")
	}
	switch c.Session.Policy {
	case "ip-exclusive", "permanent-binding":
	default:
		return fmt.Errorf("session.policy must be ip-exclusive or permanent-binding, got %q", c.Session.Policy)
	}
	switch c.Database.Driver {
	case "memory":
	case "postgres":
		if c.Database.DSN == "" {
			return fmt.Errorf("database.dsn is required for the postgres driver")
		}
	default:
		return fmt.Errorf("database.driver must be memory or postgres, got %q", c.Database.Driver)
	}
	if c.Redis.Enabled && c.Redis.Addr == "" {
		return fmt.Errorf("redis.addr is required when redis is enabled")
	}
	return nil
}
