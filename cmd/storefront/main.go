package main

import (
	"context"
	"database/sql"
	"errors"
	"log"
	"net/http"
	"os"
	"os/signal"
	"sync"
	"syscall"
	"time"

	"github.com/fjod/storefront/internal/cart"
	"github.com/fjod/storefront/internal/cart/cache"
	"github.com/fjod/storefront/internal/checkout"
	"github.com/fjod/storefront/internal/config"
	"github.com/fjod/storefront/internal/httpapi"
	"github.com/fjod/storefront/internal/inventory"
	"github.com/fjod/storefront/internal/logger"
	"github.com/fjod/storefront/internal/observability"
	"github.com/fjod/storefront/internal/order"
	"github.com/fjod/storefront/internal/outbox"
	"github.com/fjod/storefront/internal/payment"
	"github.com/fjod/storefront/internal/product"
	"github.com/fjod/storefront/internal/status"
	"github.com/fjod/storefront/internal/storage"
	"github.com/redis/go-redis/v9"
	"go.opentelemetry.io/contrib/instrumentation/net/http/otelhttp"
	"go.uber.org/zap"
)

func main() {
	cfg, err := config.Load(".env")
	if err != nil {
		log.Fatalf("failed to load config: %v", err)
	}

	logg, err := logger.New(cfg.LogLevel, cfg.LogFormat, cfg.ServiceName)
	if err != nil {
		log.Fatalf("failed to build logger: %v", err)
	}
	defer logg.Sync()
	zap.ReplaceGlobals(logg)

	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	shutdownTracing, err := observability.SetupTracing(ctx, cfg.ServiceName, cfg.OTel.Endpoint, cfg.OTel.Insecure)
	if err != nil {
		logg.Fatal("failed to set up tracing", zap.Error(err))
	}

	db, err := storage.Open(ctx, cfg.Credentials())
	if err != nil {
		logg.Fatal("failed to connect to database", zap.String("driver", cfg.DB.Driver), zap.Error(err))
	}
	defer db.Close()

	if err := storage.RunMigrations(ctx, db, cfg.DB.Driver); err != nil {
		logg.Fatal("failed to run migrations", zap.Error(err))
	}
	logg.Info("database migrations completed", zap.String("driver", cfg.DB.Driver))

	products := product.NewRepository(db)
	if cfg.SeedCatalog {
		if _, err := product.Seed(ctx, products, logg); err != nil {
			logg.Fatal("failed to seed catalog", zap.Error(err))
		}
	}

	cartCache, closeCache := setupCartCache(ctx, cfg, logg)
	defer closeCache()

	orders := order.NewRepository(db)
	carts := cart.NewService(cart.NewRepository(db), products, cartCache, logg)
	checkoutSvc := checkout.NewService(db, carts, logg)
	manager := status.NewManager(db, logg)
	payments := payment.NewService(manager, orders, logg)

	var stripeWebhook httpapi.WebhookParser
	if cfg.Payment.StripeWebhookSecret != "" {
		stripeWebhook = payment.NewStripeWebhook(cfg.Payment.StripeWebhookSecret)
	}

	timeout := cfg.HTTP.RequestTimeout
	router := httpapi.NewRouter(httpapi.RouterConfig{
		Auth:              httpapi.NewAuthenticator(cfg.Auth.JWTSecret, cfg.Auth.Issuer),
		RequestTimeout:    timeout,
		MaxBodyBytes:      cfg.HTTP.MaxRequestBodySize,
		NotificationToken: cfg.Payment.NotificationToken,
		StripeEnabled:     stripeWebhook != nil,
	}, httpapi.Handlers{
		Cart:     httpapi.NewCartHandler(carts, logg, timeout),
		Checkout: httpapi.NewCheckoutHandler(checkoutSvc, logg, timeout),
		Orders:   httpapi.NewOrdersHandler(orders, manager, logg, timeout),
		Products: httpapi.NewProductHandler(products, inventory.NewLedger(products), logg, timeout),
		Payments: httpapi.NewPaymentHandler(payments, stripeWebhook, logg, timeout, cfg.HTTP.MaxRequestBodySize),
	})

	var wg sync.WaitGroup
	closeRelay := startRelay(ctx, &wg, cfg, db, logg)
	closeConsumer := startPaymentConsumer(ctx, &wg, cfg, payments, logg)

	srv := &http.Server{
		Addr:         ":" + cfg.HTTP.Port,
		Handler:      otelhttp.NewHandler(router, "storefront"),
		ReadTimeout:  10 * time.Second,
		WriteTimeout: timeout + 5*time.Second,
		IdleTimeout:  60 * time.Second,
	}

	go func() {
		logg.Info("storefront listening", zap.String("addr", srv.Addr))
		if err := srv.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			logg.Fatal("server error", zap.Error(err))
		}
	}()

	<-ctx.Done()
	logg.Info("shutting down server...")

	shutdownCtx, cancel := context.WithTimeout(context.Background(), cfg.HTTP.ShutdownTimeout)
	defer cancel()

	if err := srv.Shutdown(shutdownCtx); err != nil {
		logg.Error("server forced to shutdown", zap.Error(err))
	}
	wg.Wait()
	closeRelay()
	closeConsumer()
	if err := shutdownTracing(shutdownCtx); err != nil {
		logg.Warn("tracer shutdown failed", zap.Error(err))
	}

	logg.Info("server exited")
}

// setupCartCache connects to Redis when configured. The cart falls back to
// the database when Redis is absent or unreachable at startup.
func setupCartCache(ctx context.Context, cfg *config.Config, logg *zap.Logger) (cache.CartCache, func()) {
	if cfg.Redis.Addr == "" {
		logg.Info("redis not configured, cart cache disabled")
		return cache.Noop{}, func() {}
	}

	client := redis.NewClient(&redis.Options{
		Addr:     cfg.Redis.Addr,
		Password: cfg.Redis.Password,
		DB:       cfg.Redis.DB,
	})
	pingCtx, cancel := context.WithTimeout(ctx, 3*time.Second)
	defer cancel()
	if err := client.Ping(pingCtx).Err(); err != nil {
		logg.Warn("redis unreachable, cart cache disabled", zap.String("addr", cfg.Redis.Addr), zap.Error(err))
		_ = client.Close()
		return cache.Noop{}, func() {}
	}

	logg.Info("connected to redis", zap.String("addr", cfg.Redis.Addr))
	return cache.NewRedisCache(client, cfg.Redis.CartTTL), func() { _ = client.Close() }
}

// startRelay runs the outbox relay until ctx is cancelled. Without brokers
// events accumulate in the outbox table.
func startRelay(ctx context.Context, wg *sync.WaitGroup, cfg *config.Config, db *sql.DB, logg *zap.Logger) func() {
	if len(cfg.Kafka.Brokers) == 0 {
		logg.Info("kafka not configured, outbox relay disabled")
		return func() {}
	}

	publisher := outbox.NewKafkaPublisher(cfg.Kafka.Brokers, cfg.Kafka.Topic, logg)
	relay := outbox.NewRelay(outbox.NewRepository(db), publisher, logg, cfg.Kafka.PollInterval, cfg.Kafka.BatchSize)

	wg.Add(1)
	go func() {
		defer wg.Done()
		relay.Run(ctx)
	}()
	logg.Info("outbox relay started",
		zap.Strings("brokers", cfg.Kafka.Brokers),
		zap.String("topic", cfg.Kafka.Topic))

	return func() {
		if err := publisher.Close(); err != nil {
			logg.Warn("kafka publisher close failed", zap.Error(err))
		}
	}
}

func startPaymentConsumer(ctx context.Context, wg *sync.WaitGroup, cfg *config.Config, payments *payment.Service, logg *zap.Logger) func() {
	if len(cfg.Kafka.Brokers) == 0 {
		return func() {}
	}

	consumer := payment.NewConsumer(cfg.Kafka.Brokers, cfg.Kafka.PaymentsTopic, cfg.Kafka.GroupID, payments, logg)
	wg.Add(1)
	go func() {
		defer wg.Done()
		consumer.Run(ctx)
	}()
	logg.Info("payment consumer started", zap.String("topic", cfg.Kafka.PaymentsTopic))

	return func() {
		if err := consumer.Close(); err != nil {
			logg.Warn("kafka reader close failed", zap.Error(err))
		}
	}
}
