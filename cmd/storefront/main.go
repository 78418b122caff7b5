// Command storefront connects the storefront service to Postgres, Redis, NATS
// and Stripe, and processes payment events until it receives a signal.
package main

import (
	"context"
	"flag"
	"fmt"
	"os"
	"os/signal"
	"syscall"

	"github.com/stripe/stripe-go/v79"
	"go.uber.org/zap"

	"goflare.io/storefront"
	"goflare.io/storefront/cache"
	"goflare.io/storefront/cart"
	"goflare.io/storefront/catalog"
	"goflare.io/storefront/category"
	"goflare.io/storefront/config"
	"goflare.io/storefront/driver"
	"goflare.io/storefront/event"
	"goflare.io/storefront/logger"
	"goflare.io/storefront/order"
	"goflare.io/storefront/stock"
)

func main() {
	configPath := flag.String("config", "storefront.yaml", "Path to config file")
	flag.Parse()

	if err := run(*configPath); err != nil {
		fmt.Fprintf(os.Stderr, "storefront: %v\n", err)
		os.Exit(1)
	}
}

func run(configPath string) error {
	cfg, err := config.Load(configPath)
	if err != nil {
		return err
	}

	log, err := logger.New(cfg.Log.Level, cfg.Log.Development)
	if err != nil {
		return err
	}
	defer func() { _ = log.Sync() }()

	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	db, err := driver.ConnectSQL(ctx, cfg.Postgres.DSN, cfg.Postgres.MaxConns)
	if err != nil {
		return fmt.Errorf("failed to connect to postgres: %w", err)
	}
	defer db.Pool.Close()

	redisClient, err := driver.ConnectRedis(ctx, cfg.Redis.Addr, cfg.Redis.Password, cfg.Redis.DB)
	if err != nil {
		return fmt.Errorf("failed to connect to redis: %w", err)
	}
	defer func() { _ = redisClient.Close() }()

	natsConn, err := driver.ConnectNATS(cfg.NATS.URL, cfg.NATS.Name, log)
	if err != nil {
		return fmt.Errorf("failed to connect to nats: %w", err)
	}

	var payments storefront.PaymentGateway
	if cfg.Stripe.SecretKey != "" {
		payments = storefront.NewStripeGateway(cfg.Stripe.SecretKey, stripe.Currency(cfg.Stripe.Currency), log)
	} else {
		log.Warn("Stripe secret key not set, online card payments are disabled")
	}

	carts := cart.NewSessions(
		cart.RedisSlots(redisClient, cfg.Redis.CartKeyPrefix, cfg.Redis.CartExpiry()),
		log,
		cart.WithStrict(cfg.Cart.Strict),
	)

	productCache := cache.New(redisClient, cfg.Redis.CachePrefix)
	svc := storefront.NewService(
		catalog.NewRepository(db.Pool, productCache, log),
		category.NewRepository(db.Pool, productCache, log),
		order.NewRepository(db.Pool, productCache, log),
		stock.NewRepository(db.Pool, productCache, log),
		event.NewRepository(db.Pool, log),
		driver.NewTransactionManager(db.Pool, log),
		payments,
		natsConn,
		log,
		storefront.WithWorkerPoolSize(cfg.Workers.Size),
		storefront.WithCarts(carts),
	)

	if err = svc.SubscribeToPaymentEvents(); err != nil {
		return err
	}
	log.Info("Storefront started",
		zap.String("payment_subject", storefront.SubjectPaymentEvents),
		zap.Int("workers", cfg.Workers.Size))

	<-ctx.Done()
	log.Info("Shutting down")

	// 先停止接收事件，等待處理中的事件完成
	svc.Shutdown()
	if err = natsConn.Drain(); err != nil {
		return fmt.Errorf("failed to drain nats connection: %w", err)
	}
	return nil
}
