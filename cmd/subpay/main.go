package main

import (
	"context"
	"fmt"
	"log/slog"
	"net/http"
	"os"
	"os/signal"
	"syscall"

	"github.com/kelseyhightower/envconfig"

	"subpay/internal/api"
	"subpay/internal/common/database"
	"subpay/internal/common/nats"
	"subpay/internal/customer"
	"subpay/internal/gateway"
	"subpay/internal/payment"
	"subpay/internal/reconcile"
	"subpay/internal/risk"
	"subpay/internal/subscription"
)

// Config holds service configuration
type Config struct {
	Environment string `envconfig:"ENVIRONMENT" default:"development"`
	LogLevel    string `envconfig:"LOG_LEVEL" default:"info"`
	LogFormat   string `envconfig:"LOG_FORMAT" default:"json"`

	HTTP     api.ServerConfig
	Database database.Config
	NATS     nats.Config
	Gateway  gateway.Config
	Risk     risk.Config
}

func main() {
	var cfg Config
	if err := envconfig.Process("", &cfg); err != nil {
		fmt.Fprintf(os.Stderr, "failed to process config: %v\n", err)
		os.Exit(1)
	}

	logger := setupLogger(cfg.LogLevel, cfg.LogFormat)

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	sigCh := make(chan os.Signal, 1)
	signal.Notify(sigCh, syscall.SIGINT, syscall.SIGTERM)
	go func() {
		sig := <-sigCh
		logger.Info("received shutdown signal", "signal", sig)
		cancel()
	}()

	db, err := database.New(ctx, cfg.Database, logger)
	if err != nil {
		logger.Error("failed to connect to database", "error", err)
		os.Exit(1)
	}
	defer db.Close()

	natsClient, err := nats.New(ctx, cfg.NATS, logger)
	if err != nil {
		logger.Error("failed to connect to NATS", "error", err)
		os.Exit(1)
	}
	defer natsClient.Close()

	if _, err := natsClient.EnsureStream(ctx, nats.DefaultStreamConfig("BILLING", []string{"billing.>"})); err != nil {
		logger.Error("failed to ensure stream", "error", err)
		os.Exit(1)
	}
	publisher := nats.NewPublisher(natsClient, logger)

	gwClient := gateway.NewClient(cfg.Gateway, logger)

	paymentStore := payment.NewStore()
	subscriptionStore := subscription.NewStore()
	customerStore := customer.NewStore()
	eventLedger := reconcile.NewEventLedger()

	history := payment.NewHistory(paymentStore, db.Pool())
	riskEngine := risk.NewEngine(cfg.Risk, history, logger)

	customerService := customer.NewService(customerStore, db.Pool(), gwClient, logger)
	paymentService := payment.NewService(paymentStore, db.Pool(), gwClient, riskEngine, customerService, logger)
	subscriptionService := subscription.NewService(subscriptionStore, db.Pool(), gwClient, customerService, logger)

	engine := reconcile.NewEngine(
		gwClient, db, eventLedger,
		paymentStore, subscriptionStore, customerStore,
		publisher, logger,
	)

	handler := api.NewHandler(
		engine, paymentService, riskEngine,
		subscriptionService, customerService, logger,
		func() error { return db.HealthCheck(context.Background()) },
		natsClient.HealthCheck,
	)

	server := api.NewServer(cfg.HTTP, handler, logger)

	go func() {
		logger.Info("starting subpay service",
			"addr", cfg.HTTP.Addr,
			"environment", cfg.Environment,
		)
		if err := server.ListenAndServe(); err != nil && err != http.ErrServerClosed {
			logger.Error("server error", "error", err)
			cancel()
		}
	}()

	<-ctx.Done()

	logger.Info("shutting down server")
	shutdownCtx, shutdownCancel := context.WithTimeout(context.Background(), cfg.HTTP.ShutdownTimeout)
	defer shutdownCancel()

	if err := server.Shutdown(shutdownCtx); err != nil {
		logger.Error("server shutdown error", "error", err)
	}

	logger.Info("server stopped")
}

func setupLogger(level, format string) *slog.Logger {
	var logLevel slog.Level
	switch level {
	case "debug":
		logLevel = slog.LevelDebug
	case "info":
		logLevel = slog.LevelInfo
	case "warn":
		logLevel = slog.LevelWarn
	case "error":
		logLevel = slog.LevelError
	default:
		logLevel = slog.LevelInfo
	}

	opts := &slog.HandlerOptions{
		Level: logLevel,
	}

	var handler slog.Handler
	if format == "json" {
		handler = slog.NewJSONHandler(os.Stdout, opts)
	} else {
		handler = slog.NewTextHandler(os.Stdout, opts)
	}

	return slog.New(handler)
}
