package main

import (
	"context"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"orderflow/internal/config"
	"orderflow/internal/database"
	"orderflow/internal/domain"
	"orderflow/internal/events"
	"orderflow/internal/handlers"
	"orderflow/internal/kafka"
	"orderflow/internal/payments"
	"orderflow/internal/saga"
	"orderflow/pkg/logger"
	"orderflow/pkg/middleware"

	"github.com/gin-gonic/gin"
	"go.uber.org/zap"
)

func main() {
	cfg := config.Load()

	appLogger := logger.New(cfg.Environment)
	defer appLogger.Sync()

	appLogger.Info("🚀 Starting Payment Service",
		zap.String("environment", cfg.Environment),
		zap.String("port", cfg.Port),
		zap.String("sqlite_path", cfg.SQLitePath),
		zap.Int("gateway_success_rate", cfg.GatewaySuccessRate),
	)

	db, err := database.NewSingleWriterDB(cfg, appLogger)
	if err != nil {
		appLogger.Fatal("Failed to initialize database", zap.Error(err))
	}
	defer db.Close()

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	var (
		sink     events.Publisher
		localBus *events.Bus
	)
	kafkaPublisher, err := events.NewKafkaPublisher(cfg, appLogger)
	if err != nil {
		appLogger.Warn("Kafka unreachable, using in-process event bus", zap.Error(err))
		localBus = events.NewBus(appLogger)
		sink = localBus
	} else {
		defer kafkaPublisher.Close()
		sink = kafkaPublisher
	}

	relay := events.NewRelay(db.Outbox(), sink, cfg.OutboxInterval, appLogger)
	publisher := events.NewOutboxPublisher(db.Outbox(), relay)
	go relay.Run(ctx)

	gateway := payments.NewSimulatedGateway(cfg.GatewaySuccessRate)
	paymentService := payments.NewService(db.Payments(), gateway, publisher, appLogger)
	coordinator := saga.NewPaymentCoordinator(db.Saga(), paymentService, domain.MethodCreditCard, appLogger)

	if localBus != nil {
		for _, topic := range coordinator.Topics() {
			localBus.Subscribe(topic, "payment-service", coordinator)
		}
	} else {
		consumer, err := kafka.NewConsumer(cfg, "payment-service", coordinator.Topics(), coordinator, appLogger)
		if err != nil {
			appLogger.Fatal("Failed to initialize Kafka consumer", zap.Error(err))
		}
		defer consumer.Close()
		go func() {
			if err := consumer.Start(ctx); err != nil {
				appLogger.Error("Consumer stopped", zap.Error(err))
			}
		}()
	}

	if cfg.Environment == "production" {
		gin.SetMode(gin.ReleaseMode)
	}

	router := gin.New()
	router.Use(middleware.RecoveryHandler(appLogger))
	router.Use(logger.GinMiddleware(appLogger))
	router.Use(middleware.RequestIDMiddleware(appLogger))
	router.Use(middleware.ErrorHandler(appLogger))

	router.GET("/health", func(c *gin.Context) {
		if err := db.Ping(); err != nil {
			c.JSON(http.StatusServiceUnavailable, gin.H{"status": "degraded", "error": err.Error()})
			return
		}
		c.JSON(http.StatusOK, gin.H{"status": "ok", "service": "payment-service"})
	})

	handlers.NewPaymentHandler(paymentService, appLogger).RegisterRoutes(router)

	srv := &http.Server{
		Addr:    ":" + cfg.Port,
		Handler: router,
	}

	go func() {
		appLogger.Info("Payment service listening", zap.String("port", cfg.Port))
		if err := srv.ListenAndServe(); err != nil && err != http.ErrServerClosed {
			appLogger.Fatal("Failed to start server", zap.Error(err))
		}
	}()

	quit := make(chan os.Signal, 1)
	signal.Notify(quit, syscall.SIGINT, syscall.SIGTERM)
	<-quit

	appLogger.Info("Shutting down payment service...")
	cancel()

	shutdownCtx, shutdownCancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer shutdownCancel()

	if err := srv.Shutdown(shutdownCtx); err != nil {
		appLogger.Fatal("Server forced to shutdown", zap.Error(err))
	}

	relay.Drain(shutdownCtx)

	appLogger.Info("Payment service exited")
}
