// Package config loads the storefront settings from YAML with environment
// overrides.
package config

import (
	"errors"
	"fmt"
	"os"
	"strings"
	"time"

	"gopkg.in/yaml.v3"
)

const (
	defaultPostgresMaxConns = 10
	defaultRedisAddr        = "localhost:6379"
	defaultCartKeyPrefix    = "cart"
	defaultCartTTL          = 30 * 24 * time.Hour
	defaultCachePrefix      = "storefront"
	defaultNATSURL          = "nats://localhost:4222"
	defaultNATSName         = "storefront"
	defaultCurrency         = "usd"
	defaultWorkers          = 10
	defaultLogLevel         = "info"
)

type Config struct {
	Postgres PostgresConfig `yaml:"postgres"`
	Redis    RedisConfig    `yaml:"redis"`
	NATS     NATSConfig     `yaml:"nats"`
	Stripe   StripeConfig   `yaml:"stripe"`
	Cart     CartConfig     `yaml:"cart"`
	Workers  WorkersConfig  `yaml:"workers"`
	Log      LogConfig      `yaml:"log"`
}

type PostgresConfig struct {
	DSN      string `yaml:"dsn"`
	MaxConns int32  `yaml:"max_conns"`
}

// RedisConfig.CartTTL defaults to 30 days when unset; a negative value keeps
// cart keys without expiry.
type RedisConfig struct {
	Addr          string        `yaml:"addr"`
	Password      string        `yaml:"password"`
	DB            int           `yaml:"db"`
	CartKeyPrefix string        `yaml:"cart_key_prefix"`
	CartTTL       time.Duration `yaml:"cart_ttl"`
	CachePrefix   string        `yaml:"cache_prefix"`
}

// CartExpiry is the TTL handed to the cart slot; zero means no expiry.
func (r RedisConfig) CartExpiry() time.Duration {
	if r.CartTTL < 0 {
		return 0
	}
	return r.CartTTL
}

type NATSConfig struct {
	URL  string `yaml:"url"`
	Name string `yaml:"name"`
}

// StripeConfig leaves online card payments disabled when SecretKey is empty.
type StripeConfig struct {
	SecretKey string `yaml:"secret_key"`
	Currency  string `yaml:"currency"`
}

type CartConfig struct {
	Strict bool `yaml:"strict"`
}

type WorkersConfig struct {
	Size int `yaml:"size"`
}

type LogConfig struct {
	Level       string `yaml:"level"`
	Development bool   `yaml:"development"`
}

// Load reads path (skipped when empty), applies environment overrides and
// defaults, and validates the result.
func Load(path string) (*Config, error) {
	var cfg Config

	if path != "" {
		data, err := os.ReadFile(path)
		if err != nil {
			return nil, fmt.Errorf("failed to read config file: %w", err)
		}
		if err = yaml.Unmarshal(data, &cfg); err != nil {
			return nil, fmt.Errorf("failed to parse config: %w", err)
		}
	}

	cfg.applyEnv(os.LookupEnv)
	cfg.applyDefaults()

	if err := cfg.Validate(); err != nil {
		return nil, err
	}
	return &cfg, nil
}

func (c *Config) applyEnv(lookup func(string) (string, bool)) {
	overrides := []struct {
		key string
		dst *string
	}{
		{"STOREFRONT_POSTGRES_DSN", &c.Postgres.DSN},
		{"STOREFRONT_REDIS_ADDR", &c.Redis.Addr},
		{"STOREFRONT_REDIS_PASSWORD", &c.Redis.Password},
		{"STOREFRONT_NATS_URL", &c.NATS.URL},
		{"STRIPE_SECRET_KEY", &c.Stripe.SecretKey},
		{"STOREFRONT_LOG_LEVEL", &c.Log.Level},
	}
	for _, o := range overrides {
		if v, ok := lookup(o.key); ok && v != "" {
			*o.dst = v
		}
	}
}

func (c *Config) applyDefaults() {
	if c.Postgres.MaxConns <= 0 {
		c.Postgres.MaxConns = defaultPostgresMaxConns
	}
	if c.Redis.Addr == "" {
		c.Redis.Addr = defaultRedisAddr
	}
	if c.Redis.CartKeyPrefix == "" {
		c.Redis.CartKeyPrefix = defaultCartKeyPrefix
	}
	if c.Redis.CartTTL == 0 {
		c.Redis.CartTTL = defaultCartTTL
	}
	if c.Redis.CachePrefix == "" {
		c.Redis.CachePrefix = defaultCachePrefix
	}
	if c.NATS.URL == "" {
		c.NATS.URL = defaultNATSURL
	}
	if c.NATS.Name == "" {
		c.NATS.Name = defaultNATSName
	}
	if c.Stripe.Currency == "" {
		c.Stripe.Currency = defaultCurrency
	}
	c.Stripe.Currency = strings.ToLower(c.Stripe.Currency)
	if c.Workers.Size <= 0 {
		c.Workers.Size = defaultWorkers
	}
	if c.Log.Level == "" {
		c.Log.Level = defaultLogLevel
	}
}

func (c *Config) Validate() error {
	var errs []error
	if c.Postgres.DSN == "" {
		errs = append(errs, errors.New("postgres.dsn is required"))
	}
	if c.Redis.DB < 0 {
		errs = append(errs, errors.New("redis.db must not be negative"))
	}
	if len(c.Stripe.Currency) != 3 {
		errs = append(errs, fmt.Errorf("stripe.currency %q is not an ISO currency code", c.Stripe.Currency))
	}
	if err := errors.Join(errs...); err != nil {
		return fmt.Errorf("invalid config: %w", err)
	}
	return nil
}
