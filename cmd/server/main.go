package main

import (
	"context"
	"errors"
	"fmt"
	"log"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"rental-service/config"
	"rental-service/internal/api"
	"rental-service/internal/app"
	"rental-service/internal/broker"
	"rental-service/internal/util"
	"rental-service/internal/worker"

	"github.com/gin-gonic/gin"
	"go.uber.org/zap"
)

func main() {

	cfg := config.Load()

	if err := util.InitLogger(cfg.Server.Env); err != nil {
		log.Fatalf("Failed to initialize logger: %v", err)
	}
	defer util.SyncLogger()

	logger := util.GetLogger()
	logger.Info("Starting rental service", zap.String("env", cfg.Server.Env), zap.String("port", cfg.Server.Port))

	tp, err := util.InitTracer("rental-service", cfg.Observ.JaegerEndpoint)
	if err != nil {
		logger.Fatal("Failed to initialize tracer", zap.Error(err))
	}
	if tp != nil {
		defer func() {
			ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
			defer cancel()
			if err := tp.Shutdown(ctx); err != nil {
				logger.Error("Error shutting down tracer", zap.Error(err))
			}
		}()
	}

	a, err := app.New(cfg, app.Options{})
	if err != nil {
		logger.Fatal("Failed to initialize application", zap.Error(err))
	}
	defer a.Close()

	ctx := context.Background()
	if err := a.Migrate(ctx); err != nil {
		logger.Fatal("Failed to migrate database", zap.Error(err))
	}
	if err := a.Startup(ctx); err != nil {
		logger.Error("Startup reconciliation failed", zap.Error(err))
	}

	workerCtx, workerCancel := context.WithCancel(context.Background())
	defer workerCancel()

	var orderWorker *worker.OrderWorker
	if cfg.Kafka.Enabled {
		consumer := broker.NewConsumer(cfg.Kafka.Brokers, cfg.Kafka.TopicActions, cfg.Kafka.ConsumerGroup)
		orderWorker = worker.NewOrderWorker(consumer, a.Orders)
		go func() {
			if err := orderWorker.Start(workerCtx); err != nil && !errors.Is(err, context.Canceled) {
				logger.Error("Order worker error", zap.Error(err))
			}
		}()
	}

	if cfg.Server.Env == "production" {
		gin.SetMode(gin.ReleaseMode)
	}

	deps := api.Deps{
		Orders:       a.Orders,
		Inventory:    a.Inventory,
		Availability: a.Availability,
		Pool:         a.Pool,
		Ready:        a.Ready,
	}
	if a.Redis != nil {
		deps.Callbacks = a.Redis
	}
	if a.Actions != nil {
		deps.Actions = a.Actions
	}
	if a.Telegram != nil {
		deps.Bot = a.Telegram
	}

	router := gin.New()
	handler := api.NewHandler(api.Config{
		AdminToken:    cfg.Admin.Token,
		WebhookSecret: cfg.Telegram.WebhookSecret,
		ChatID:        cfg.Telegram.ChatID,
		CallbackTTL:   cfg.Redis.CallbackTTL,
		CatalogFile:   cfg.Catalog.SeedFile,
	}, deps)
	handler.SetupRoutes(router)
	if cfg.Telegram.WebhookSecret == "" {
		logger.Warn("Telegram webhook disabled, TELEGRAM_WEBHOOK_SECRET is not set")
	}

	srv := &http.Server{
		Addr:    fmt.Sprintf(":%s", cfg.Server.Port),
		Handler: router,
	}

	go func() {
		logger.Info("Starting HTTP server", zap.String("port", cfg.Server.Port))
		if err := srv.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
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
	if orderWorker != nil {
		if err := orderWorker.Stop(); err != nil {
			logger.Warn("Failed to stop order worker", zap.Error(err))
		}
	}

	logger.Info("Server exited")
}
