package main

import (
	"context"
	"errors"
	"fmt"
	"net/http"
	"os"
	"os/signal"
	"sync"
	"syscall"
	"time"

	"github.com/redis/go-redis/v9"
	"go.uber.org/zap"

	"github.com/bottega-market/api/internal/events"
	"github.com/bottega-market/api/internal/handlers"
	"github.com/bottega-market/api/internal/notifications"
	"github.com/bottega-market/api/internal/payments"
	"github.com/bottega-market/api/internal/platform/auth"
	"github.com/bottega-market/api/internal/platform/config"
	"github.com/bottega-market/api/internal/platform/idempotency"
	"github.com/bottega-market/api/internal/platform/observability"
	"github.com/bottega-market/api/internal/platform/postgres"
	postgresrepo "github.com/bottega-market/api/internal/repositories/postgres"
	"github.com/bottega-market/api/internal/services"
)

const shutdownTimeout = 10 * time.Second

func main() {
	baseLogger, err := observability.NewLogger()
	if err != nil {
		fmt.Fprintf(os.Stderr, "failed to initialise logger: %v\n", err)
		os.Exit(1)
	}
	defer func() { _ = baseLogger.Sync() }()
	logger := baseLogger.Named("api")

	cfg, err := config.Load(".env")
	if err != nil {
		var vErr *config.ValidationError
		if errors.As(err, &vErr) {
			logger.Fatal("invalid configuration", zap.Strings("fields", vErr.Fields()))
		}
		logger.Fatal("failed to load configuration", zap.Error(err))
	}

	runCtx, cancel := context.WithCancel(context.Background())
	defer cancel()

	pool, err := postgres.Connect(runCtx, cfg.Database)
	if err != nil {
		logger.Fatal("failed to connect to postgres", zap.Error(err))
	}
	defer pool.Close()

	productRepo, err := postgresrepo.NewProductRepository(pool)
	if err != nil {
		logger.Fatal("failed to initialise product repository", zap.Error(err))
	}
	cartRepo, err := postgresrepo.NewCartRepository(pool)
	if err != nil {
		logger.Fatal("failed to initialise cart repository", zap.Error(err))
	}
	stockLedger, err := postgresrepo.NewStockLedger(pool)
	if err != nil {
		logger.Fatal("failed to initialise stock ledger", zap.Error(err))
	}
	orderRepo, err := postgresrepo.NewOrderRepository(pool, stockLedger)
	if err != nil {
		logger.Fatal("failed to initialise order repository", zap.Error(err))
	}

	var idemStore idempotency.Store
	if cfg.Redis.Addr != "" {
		client := redis.NewClient(&redis.Options{
			Addr:     cfg.Redis.Addr,
			Password: cfg.Redis.Password,
			DB:       cfg.Redis.DB,
		})
		store, err := idempotency.NewRedisStore(client)
		if err != nil {
			logger.Fatal("failed to initialise redis idempotency store", zap.Error(err))
		}
		idemStore = store
	} else {
		logger.Warn("redis not configured, falling back to in-memory idempotency store")
		idemStore = idempotency.NewMemoryStore()
	}

	var publisher events.Publisher = events.NopPublisher{}
	if len(cfg.Kafka.Brokers) > 0 && cfg.Kafka.Brokers[0] != "" {
		kafkaPublisher, err := events.NewKafkaPublisher(cfg.Kafka.Brokers, cfg.Kafka.OrdersTopic)
		if err != nil {
			logger.Fatal("failed to initialise kafka publisher", zap.Error(err))
		}
		publisher = kafkaPublisher
	} else {
		logger.Warn("kafka not configured, domain events will be dropped")
	}

	var notifier notifications.Notifier = notifications.NopNotifier{}
	if cfg.Notifications.ResendAPIKey != "" {
		resendNotifier, err := notifications.NewResendNotifier(cfg.Notifications.ResendAPIKey, cfg.Notifications.FromAddress)
		if err != nil {
			logger.Fatal("failed to initialise notifier", zap.Error(err))
		}
		notifier = resendNotifier
	} else {
		logger.Warn("resend not configured, transactional emails will be dropped")
	}

	stripeProvider, err := payments.NewStripeProvider(payments.StripeProviderConfig{
		APIKey: cfg.PSP.StripeAPIKey,
		Logger: observability.EventLogger(logger.Named("stripe")),
	})
	if err != nil {
		logger.Fatal("failed to initialise stripe provider", zap.Error(err))
	}
	gateway, err := payments.NewManager(
		map[string]payments.Provider{"stripe": stripeProvider},
		payments.WithDefaultProvider("stripe"),
	)
	if err != nil {
		logger.Fatal("failed to initialise payment manager", zap.Error(err))
	}

	authn, err := auth.NewAuthenticator(cfg.Auth.JWTSecret, auth.WithIssuer(cfg.Auth.Issuer))
	if err != nil {
		logger.Fatal("failed to initialise authenticator", zap.Error(err))
	}

	cartService, err := services.NewCartService(services.CartServiceDeps{
		Carts:    cartRepo,
		Products: productRepo,
		Stock:    stockLedger,
		Logger:   observability.EventLogger(logger.Named("cart")),
	})
	if err != nil {
		logger.Fatal("failed to initialise cart service", zap.Error(err))
	}

	checkoutService, err := services.NewCheckoutService(services.CheckoutServiceDeps{
		Orders:     orderRepo,
		Carts:      cartRepo,
		Payments:   gateway,
		Events:     publisher,
		Notifier:   notifier,
		SuccessURL: cfg.PSP.SuccessURL,
		CancelURL:  cfg.PSP.CancelURL,
		SessionTTL: cfg.PSP.SessionTTL,
		Logger:     observability.EventLogger(logger.Named("checkout")),
	})
	if err != nil {
		logger.Fatal("failed to initialise checkout service", zap.Error(err))
	}

	orderService, err := services.NewOrderService(services.OrderServiceDeps{
		Orders:   orderRepo,
		Events:   publisher,
		Notifier: notifier,
		Logger:   observability.EventLogger(logger.Named("orders")),
	})
	if err != nil {
		logger.Fatal("failed to initialise order service", zap.Error(err))
	}

	outcomeService, err := services.NewPaymentOutcomeService(services.PaymentOutcomeServiceDeps{
		Orders:   orderRepo,
		Payments: gateway,
		Events:   publisher,
		Notifier: notifier,
		Logger:   observability.EventLogger(logger.Named("payment_outcomes")),
	})
	if err != nil {
		logger.Fatal("failed to initialise payment outcome service", zap.Error(err))
	}

	idemMiddleware := idempotency.Middleware(idemStore,
		idempotency.WithHeader(cfg.Idempotency.Header),
		idempotency.WithTTL(cfg.Idempotency.TTL),
		idempotency.WithLogger(zap.NewStdLog(logger.Named("idempotency"))),
	)

	webhookHandlers := handlers.NewWebhookHandlers(
		cfg.PSP.StripeWebhookSecret,
		outcomeService,
		observability.EventLogger(logger.Named("webhooks")),
	)

	router := handlers.NewRouter(
		handlers.WithMiddlewares(
			observability.InjectLoggerMiddleware(logger),
			observability.TraceMiddleware(),
			observability.RecoveryMiddleware(logger),
			observability.RequestLoggerMiddleware(),
		),
		handlers.WithHealthHandlers(handlers.NewHealthHandlers(handlers.WithReadinessPing(orderRepo.Ping))),
		handlers.WithCartRoutes(handlers.NewCartHandlers(authn, cartService).Routes),
		handlers.WithCheckoutRoutes(handlers.NewCheckoutHandlers(authn, checkoutService).Routes),
		handlers.WithCheckoutMiddlewares(idemMiddleware),
		handlers.WithOrderRoutes(handlers.NewOrderHandlers(authn, orderService, checkoutService).Routes),
		handlers.WithArtisanRoutes(handlers.NewArtisanHandlers(authn, orderService).Routes),
		handlers.WithWebhookRoutes(webhookHandlers.Routes),
	)

	var wg sync.WaitGroup

	wg.Add(1)
	go func() {
		defer wg.Done()
		ticker := time.NewTicker(cfg.Idempotency.CleanupInterval)
		defer ticker.Stop()
		for {
			select {
			case <-runCtx.Done():
				return
			case <-ticker.C:
				removed, err := idemStore.CleanupExpired(runCtx, time.Now().UTC(), cfg.Idempotency.CleanupBatchSize)
				if err != nil {
					logger.Warn("idempotency cleanup failed", zap.Error(err))
					continue
				}
				if removed > 0 {
					logger.Debug("idempotency records cleaned up", zap.Int("removed", removed))
				}
			}
		}
	}()

	wg.Add(1)
	go func() {
		defer wg.Done()
		ticker := time.NewTicker(cfg.Reconciliation.Interval)
		defer ticker.Stop()
		for {
			select {
			case <-runCtx.Done():
				return
			case <-ticker.C:
				processed, err := outcomeService.ReconcileExpired(runCtx, cfg.Reconciliation.BatchSize)
				if err != nil {
					logger.Warn("expired session reconciliation failed", zap.Error(err))
					continue
				}
				if processed > 0 {
					logger.Info("reconciled expired checkout sessions", zap.Int("processed", processed))
				}
			}
		}
	}()

	server := &http.Server{
		Addr:         ":" + cfg.Server.Port,
		Handler:      router,
		ReadTimeout:  cfg.Server.ReadTimeout,
		WriteTimeout: cfg.Server.WriteTimeout,
		IdleTimeout:  cfg.Server.IdleTimeout,
	}

	shutdown := make(chan os.Signal, 1)
	signal.Notify(shutdown, syscall.SIGINT, syscall.SIGTERM)

	serverErr := make(chan error, 1)
	go func() {
		logger.Info("server listening", zap.String("addr", server.Addr))
		serverErr <- server.ListenAndServe()
	}()

	select {
	case err := <-serverErr:
		if err != nil && !errors.Is(err, http.ErrServerClosed) {
			logger.Fatal("server failed", zap.Error(err))
		}
	case sig := <-shutdown:
		logger.Info("shutdown signal received", zap.String("signal", sig.String()))
	}

	cancel()
	wg.Wait()

	shutdownCtx, shutdownCancel := context.WithTimeout(context.Background(), shutdownTimeout)
	defer shutdownCancel()
	if err := server.Shutdown(shutdownCtx); err != nil {
		logger.Error("graceful shutdown failed", zap.Error(err))
	}

	if err := publisher.Close(); err != nil {
		logger.Warn("failed to close event publisher", zap.Error(err))
	}
	logger.Info("server stopped")
}
