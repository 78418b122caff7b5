package config

import (
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func writeConfig(t *testing.T, body string) string {
	t.Helper()
	path := filepath.Join(t.TempDir(), "storefront.yaml")
	require.NoError(t, os.WriteFile(path, []byte(body), 0o600))
	return path
}

func TestLoad_Defaults(t *testing.T) {
	path := writeConfig(t, `
postgres:
  dsn: postgres://shop@localhost/shop
`)

	cfg, err := Load(path)
	require.NoError(t, err)

	assert.Equal(t, int32(10), cfg.Postgres.MaxConns)
	assert.Equal(t, "localhost:6379", cfg.Redis.Addr)
	assert.Equal(t, "cart", cfg.Redis.CartKeyPrefix)
	assert.Equal(t, 30*24*time.Hour, cfg.Redis.CartTTL)
	assert.Equal(t, "nats://localhost:4222", cfg.NATS.URL)
	assert.Equal(t, "usd", cfg.Stripe.Currency)
	assert.Empty(t, cfg.Stripe.SecretKey)
	assert.False(t, cfg.Cart.Strict)
	assert.Equal(t, 10, cfg.Workers.Size)
	assert.Equal(t, "info", cfg.Log.Level)
}

func TestLoad_File(t *testing.T) {
	path := writeConfig(t, `
postgres:
  dsn: postgres://shop@db/shop
  max_conns: 4
redis:
  addr: cache:6379
  db: 2
  cart_key_prefix: sess
  cart_ttl: 2h
nats:
  url: nats://bus:4222
stripe:
  currency: EUR
cart:
  strict: true
workers:
  size: 3
log:
  level: debug
  development: true
`)

	cfg, err := Load(path)
	require.NoError(t, err)

	assert.Equal(t, int32(4), cfg.Postgres.MaxConns)
	assert.Equal(t, "cache:6379", cfg.Redis.Addr)
	assert.Equal(t, 2, cfg.Redis.DB)
	assert.Equal(t, "sess", cfg.Redis.CartKeyPrefix)
	assert.Equal(t, 2*time.Hour, cfg.Redis.CartTTL)
	assert.Equal(t, "nats://bus:4222", cfg.NATS.URL)
	assert.Equal(t, "eur", cfg.Stripe.Currency)
	assert.True(t, cfg.Cart.Strict)
	assert.Equal(t, 3, cfg.Workers.Size)
	assert.Equal(t, "debug", cfg.Log.Level)
	assert.True(t, cfg.Log.Development)
}

func TestLoad_EnvOverrides(t *testing.T) {
	path := writeConfig(t, `
postgres:
  dsn: postgres://file/shop
redis:
  addr: file:6379
`)
	t.Setenv("STOREFRONT_POSTGRES_DSN", "postgres://env/shop")
	t.Setenv("STOREFRONT_REDIS_ADDR", "env:6379")
	t.Setenv("STOREFRONT_REDIS_PASSWORD", "secret")
	t.Setenv("STOREFRONT_NATS_URL", "nats://env:4222")
	t.Setenv("STRIPE_SECRET_KEY", "sk_test_123")
	t.Setenv("STOREFRONT_LOG_LEVEL", "warn")

	cfg, err := Load(path)
	require.NoError(t, err)

	assert.Equal(t, "postgres://env/shop", cfg.Postgres.DSN)
	assert.Equal(t, "env:6379", cfg.Redis.Addr)
	assert.Equal(t, "secret", cfg.Redis.Password)
	assert.Equal(t, "nats://env:4222", cfg.NATS.URL)
	assert.Equal(t, "sk_test_123", cfg.Stripe.SecretKey)
	assert.Equal(t, "warn", cfg.Log.Level)
}

func TestRedisConfig_CartExpiry(t *testing.T) {
	t.Setenv("STOREFRONT_POSTGRES_DSN", "")

	cfg, err := Load(writeConfig(t, "postgres:\n  dsn: x\nredis:\n  cart_ttl: -1s\n"))
	require.NoError(t, err)
	assert.Zero(t, cfg.Redis.CartExpiry())

	cfg, err = Load(writeConfig(t, "postgres:\n  dsn: x\n"))
	require.NoError(t, err)
	assert.Equal(t, 30*24*time.Hour, cfg.Redis.CartExpiry())
}

func TestLoad_NoFile(t *testing.T) {
	t.Setenv("STOREFRONT_POSTGRES_DSN", "postgres://env/shop")

	cfg, err := Load("")
	require.NoError(t, err)
	assert.Equal(t, "postgres://env/shop", cfg.Postgres.DSN)
}

func TestLoad_Errors(t *testing.T) {
	t.Setenv("STOREFRONT_POSTGRES_DSN", "")

	_, err := Load(filepath.Join(t.TempDir(), "missing.yaml"))
	assert.ErrorContains(t, err, "failed to read config file")

	_, err = Load(writeConfig(t, "postgres: [unterminated"))
	assert.ErrorContains(t, err, "failed to parse config")

	_, err = Load(writeConfig(t, "redis:\n  db: 1\n"))
	assert.ErrorContains(t, err, "postgres.dsn is required")

	_, err = Load(writeConfig(t, "postgres:\n  dsn: x\nstripe:\n  currency: dollars\n"))
	assert.ErrorContains(t, err, "stripe.currency")
}
