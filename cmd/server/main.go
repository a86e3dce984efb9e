package main

import (
	"context"
	"fmt"
	"log"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"restaurant-service/config"
	"restaurant-service/internal/api"
	"restaurant-service/internal/billing"
	"restaurant-service/internal/broker"
	"restaurant-service/internal/clock"
	"restaurant-service/internal/redisclient"
	"restaurant-service/internal/service"
	"restaurant-service/internal/store"
	"restaurant-service/internal/util"
	"restaurant-service/internal/worker"

	"github.com/gin-gonic/gin"
	"go.uber.org/zap"
)

const serviceName = "restaurant-service"

func main() {

	cfg := config.Load()

	if err := util.InitLogger(serviceName, cfg.Server.Env, cfg.Server.LogLevel); err != nil {
		log.Fatalf("Failed to initialize logger: %v", err)
	}
	defer util.SyncLogger()

	logger := util.GetLogger()
	logger.Info("Starting restaurant service",
		zap.String("env", cfg.Server.Env),
		zap.String("port", cfg.Server.Port),
		zap.String("store", cfg.Store.Driver))

	shutdownTracer, err := util.InitTracer(serviceName, cfg.Observ.JaegerEndpoint)
	if err != nil {
		logger.Fatal("Failed to initialize tracer", zap.Error(err))
	}
	defer func() {
		ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
		defer cancel()
		if err := shutdownTracer(ctx); err != nil {
			logger.Warn("Error shutting down tracer", zap.Error(err))
		}
	}()

	var docs store.DocumentStore
	switch cfg.Store.Driver {
	case "memory":
		mem, err := store.NewMemoryStore(nil)
		if err != nil {
			logger.Fatal("Failed to create memory store", zap.Error(err))
		}
		docs = mem
		logger.Warn("Using in-memory document store; state is lost on restart")
	default:
		db, err := store.NewStore(cfg.Database.URL, cfg.Store.DocumentID)
		if err != nil {
			logger.Fatal("Failed to connect to database", zap.Error(err))
		}
		defer db.Close()

		schemaCtx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
		err = db.EnsureSchema(schemaCtx)
		cancel()
		if err != nil {
			logger.Fatal("Failed to prepare schema", zap.Error(err))
		}
		docs = db
		logger.Info("Database connected")
	}

	var (
		locker      store.Locker
		redisClient *redisclient.Client
	)
	if cfg.Redis.Addr != "" {
		redisClient, err = redisclient.NewClient(cfg.Redis.Addr, cfg.Redis.Password, cfg.Redis.DB)
		if err != nil {
			logger.Fatal("Failed to connect to Redis", zap.Error(err))
		}
		defer redisClient.Close()
		locker = store.NewRedisLocker(redisClient, cfg.Redis.LockTTL, cfg.Redis.LockWait)
		logger.Info("Redis connected")
	} else {
		locker = store.NewLocalLocker()
		logger.Warn("REDIS_ADDR not set; tenant locks are process-local")
	}

	tenants := store.NewTenants(docs, locker, cfg.Store.MaxRetries)
	clk := clock.New()

	gateway := billing.NewStripeClient(billing.Config{
		SecretKey:    cfg.Billing.StripeSecretKey,
		BaseURL:      cfg.Billing.BaseURL,
		CheckoutHost: cfg.Billing.CheckoutHost,
		Currency:     cfg.Billing.Currency,
		SuccessURL:   cfg.Billing.SuccessURL,
		CancelURL:    cfg.Billing.CancelURL,
		Timeout:      cfg.Billing.Timeout,
	})
	if !gateway.Configured() {
		logger.Warn("STRIPE_SECRET_KEY not set; checkout is disabled")
	}

	orderService := service.NewOrderService(tenants, clk)
	subscriptionService := service.NewSubscriptionService(tenants, gateway, clk)
	restaurantService := service.NewRestaurantService(tenants, clk, cfg.Business.TrialDays)

	eventProducer := broker.NewProducer(cfg.Kafka.Brokers, cfg.Kafka.TopicOrder)
	defer eventProducer.Close()
	billingProducer := broker.NewProducer(cfg.Kafka.Brokers, cfg.Kafka.TopicBilling)
	defer billingProducer.Close()
	logger.Info("Kafka producers initialized",
		zap.String("events_topic", cfg.Kafka.TopicOrder),
		zap.String("billing_topic", cfg.Kafka.TopicBilling))

	eventPublisher := broker.NewEventPublisher(eventProducer)
	billingQueue := broker.NewEventPublisher(billingProducer)

	workerCtx, workerCancel := context.WithCancel(context.Background())
	defer workerCancel()

	var dedupe worker.EventDeduper
	if redisClient != nil {
		dedupe = redisClient
	}

	billingConsumer := broker.NewConsumer(cfg.Kafka.Brokers, cfg.Kafka.TopicBilling, cfg.Kafka.ConsumerGroup)
	billingWorker := worker.NewBillingWorker(billingConsumer, subscriptionService, dedupe, eventPublisher)
	go func() {
		if err := billingWorker.Start(workerCtx); err != nil {
			logger.Error("Billing worker error", zap.Error(err))
		}
	}()

	if cfg.Server.Env == "production" {
		gin.SetMode(gin.ReleaseMode)
	}

	router := gin.New()
	handler := api.NewHandler(orderService, subscriptionService, restaurantService, eventPublisher, api.Options{
		WebhookSecret:    cfg.Billing.WebhookSecret,
		WebhookTolerance: cfg.Billing.WebhookTolerance,
		Deferred:         billingQueue,
		Ready: func(ctx context.Context) error {
			if _, err := docs.Load(ctx); err != nil {
				return err
			}
			if redisClient != nil {
				return redisClient.Ping(ctx)
			}
			return nil
		},
	})
	handler.SetupRoutes(router)

	srv := &http.Server{
		Addr:    fmt.Sprintf(":%s", cfg.Server.Port),
		Handler: router,
	}

	go func() {
		logger.Info("Starting HTTP server", zap.String("port", cfg.Server.Port))
		if err := srv.ListenAndServe(); err != nil && err != http.ErrServerClosed {
			logger.Fatal("Failed to start server", zap.Error(err))
		}
	}()

	quit := make(chan os.Signal, 1)
	signal.Notify(quit, syscall.SIGINT, syscall.SIGTERM)
	<-quit

	logger.Info("Shutting down server...")

	shutdownCtx, shutdownCancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer shutdownCancel()

	if err := srv.Shutdown(shutdownCtx); err != nil {
		logger.Error("Server forced to shutdown", zap.Error(err))
	}

	workerCancel()
	if err := billingWorker.Stop(); err != nil {
		logger.Warn("Error stopping billing worker", zap.Error(err))
	}

	logger.Info("Server exited")
}
