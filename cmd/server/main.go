package main

import (
	"context"
	"fmt"
	"log/slog"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/collectors"

	specpkg "github.com/daap14/bookcars/api"
	"github.com/daap14/bookcars/internal/api"
	"github.com/daap14/bookcars/internal/bootstrap"
	"github.com/daap14/bookcars/internal/config"
	"github.com/daap14/bookcars/internal/database"
	"github.com/daap14/bookcars/internal/reconciler"
	"github.com/daap14/bookcars/internal/schema"
)

func main() {
	cfg, err := config.Load()
	if err != nil {
		slog.Error("failed to load configuration", "error", err)
		os.Exit(1)
	}

	setupLogger(cfg.LogLevel)

	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	manager := database.NewManager(managerOptions(cfg)...)
	if !manager.Connect(ctx, cfg.DBURI, cfg.DBSSL, cfg.DBDebug) {
		slog.Error("cannot connect to database")
		os.Exit(1)
	}

	metrics := bootstrap.NewMetrics()
	registry := prometheus.NewRegistry()
	registry.MustRegister(
		metrics,
		collectors.NewGoCollector(),
		collectors.NewProcessCollector(collectors.ProcessCollectorOpts{}),
	)

	initializer := bootstrap.New(manager, database.NewStore(manager), bootstrap.Options{
		Descriptors: schema.Registry(schema.Durations{
			Booking: int32(cfg.BookingTTL()),
			User:    int32(cfg.UserExpireAt),
			Token:   int32(cfg.TokenExpireAt),
		}),
		Translation: reconciler.TranslationOptions{
			Languages:      cfg.Languages,
			SourceLanguage: cfg.DefaultLanguage,
			BatchSize:      cfg.TranslationBatchSize,
			OrphanGrace:    cfg.TranslationOrphanGrace,
		},
		Metrics: metrics,
	})

	if !initializer.Initialize(ctx, cfg.CreateIndexes) {
		slog.Error("database initialization failed")
		manager.Close(context.Background(), true)
		os.Exit(1)
	}

	if cfg.ReconcileInterval > 0 {
		go initializer.Start(ctx, time.Duration(cfg.ReconcileInterval)*time.Second)
	}

	router := api.NewRouter(api.RouterDeps{
		Status:      initializer,
		DBPinger:    manager,
		Version:     cfg.Version,
		Gatherer:    registry,
		OpenAPISpec: specpkg.OpenAPISpec,
	})

	srv := &http.Server{
		Addr:              fmt.Sprintf(":%d", cfg.Port),
		Handler:           router,
		ReadHeaderTimeout: 10 * time.Second,
	}

	serverErr := make(chan error, 1)
	go func() {
		slog.Info("starting BookCars server", "port", cfg.Port, "version", cfg.Version)
		if err := srv.ListenAndServe(); err != nil && err != http.ErrServerClosed {
			serverErr <- err
		}
	}()

	exitCode := 0
	select {
	case <-ctx.Done():
		slog.Info("shutting down server")
	case err := <-serverErr:
		slog.Error("server error", "error", err)
		exitCode = 1
	}

	shutdownCtx, cancel := context.WithTimeout(context.Background(), 15*time.Second)
	defer cancel()

	if err := srv.Shutdown(shutdownCtx); err != nil {
		slog.Error("server forced to shutdown", "error", err)
		exitCode = 1
	}

	manager.Close(shutdownCtx, false)
	slog.Info("server stopped gracefully")
	os.Exit(exitCode)
}

func setupLogger(level string) {
	var logLevel slog.Level
	switch level {
	case "debug":
		logLevel = slog.LevelDebug
	case "warn":
		logLevel = slog.LevelWarn
	case "error":
		logLevel = slog.LevelError
	default:
		logLevel = slog.LevelInfo
	}

	handler := slog.NewJSONHandler(os.Stdout, &slog.HandlerOptions{
		Level: logLevel,
	})
	slog.SetDefault(slog.New(handler))
}

func managerOptions(cfg *config.Config) []database.Option {
	opts := []database.Option{
		database.WithServerSelectionTimeout(cfg.DBServerSelectionTimeout),
	}
	if cfg.DBName != "" {
		opts = append(opts, database.WithDatabaseName(cfg.DBName))
	}
	if cfg.DBSSL {
		opts = append(opts, database.WithTLSFiles(cfg.DBSSLCert, cfg.DBSSLCA))
	}
	return opts
}
