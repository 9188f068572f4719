package app

import (
	"context"
	"errors"
	"fmt"
	"net/http"
	"os/signal"
	"syscall"
	"time"

	"github.com/spf13/cobra"
	"github.com/spf13/viper"
	"go.uber.org/zap"

	"github.com/nicolasjuan/xml-api-aggregator/internal/api"
	"github.com/nicolasjuan/xml-api-aggregator/internal/cache"
	"github.com/nicolasjuan/xml-api-aggregator/internal/config"
	"github.com/nicolasjuan/xml-api-aggregator/internal/fetcher"
	"github.com/nicolasjuan/xml-api-aggregator/internal/httpclient"
	"github.com/nicolasjuan/xml-api-aggregator/internal/pipeline"
	"github.com/nicolasjuan/xml-api-aggregator/internal/scheduler"
	"github.com/nicolasjuan/xml-api-aggregator/internal/telemetry"
)

var serveCmd = &cobra.Command{
	Use:   "serve",
	Short: "Start the aggregation server",
	Long: `Start the aggregation server.

The server requires a configuration file (--config) listing the remote
XML sources to aggregate, each with its retrieval policy (timeout,
retries, refresh interval, headers). See examples/config.yaml.`,
	RunE: runServe,
}

const (
	defaultGracefulTimeout = 30 * time.Second
	serverReadTimeout      = 10 * time.Second
	serverWriteTimeout     = 60 * time.Second // aggregation runs can take the sum of per-source timeouts
	serverIdleTimeout      = 60 * time.Second

	cacheSweepInterval = 30 * time.Second
)

func init() {
	serveCmd.Flags().String("address", "", "Address to listen on (overrides config)")
	serveCmd.Flags().String("config", "", "Path to configuration file (YAML format, required)")

	if err := viper.BindPFlag("address", serveCmd.Flags().Lookup("address")); err != nil {
		fmt.Printf("Failed to bind address flag: %v\n", err)
	}
	if err := viper.BindPFlag("config", serveCmd.Flags().Lookup("config")); err != nil {
		fmt.Printf("Failed to bind config flag: %v\n", err)
	}

	if err := serveCmd.MarkFlagRequired("config"); err != nil {
		fmt.Printf("Failed to mark config flag as required: %v\n", err)
	}
}

func newLogger(debug bool) (*zap.SugaredLogger, error) {
	cfg := zap.NewProductionConfig()
	if debug {
		cfg = zap.NewDevelopmentConfig()
	}
	logger, err := cfg.Build()
	if err != nil {
		return nil, fmt.Errorf("failed to build logger: %w", err)
	}
	return logger.Sugar(), nil
}

func runServe(_ *cobra.Command, _ []string) error {
	logger, err := newLogger(viper.GetBool("debug"))
	if err != nil {
		return err
	}
	defer func() {
		_ = logger.Sync()
	}()

	loader, err := config.NewLoader(config.WithConfigPath(viper.GetString("config")))
	if err != nil {
		return fmt.Errorf("invalid configuration path: %w", err)
	}
	cfg, err := loader.Load()
	if err != nil {
		return fmt.Errorf("failed to load configuration: %w", err)
	}

	address := viper.GetString("address")
	if address == "" {
		address = cfg.ListenAddress
	}

	logger.Infow("Loaded configuration",
		"sources", len(cfg.Sources),
		"enabled", len(cfg.EnabledSources()),
		"address", address,
	)

	metrics := telemetry.NewMetrics()

	tiered, err := cache.NewTiered(cfg.Cache.Path, cfg.Cache.FastCapacity, logger,
		cache.WithMetrics(metrics))
	if err != nil {
		return fmt.Errorf("failed to open cache: %w", err)
	}
	defer func() {
		_ = tiered.Close()
	}()

	store := config.NewFileStore(cfg, cfg.StatusDir)
	store.LoadStatuses()

	f := fetcher.New(
		httpclient.NewDefaultClient(0),
		store,
		logger,
		fetcher.WithMetrics(metrics),
	)

	svc := pipeline.New(store, f, logger,
		pipeline.WithCache(tiered),
		pipeline.WithMetrics(metrics),
	)

	router := api.NewServer(svc, store,
		api.WithMiddlewares(api.LoggingMiddleware(logger)),
		api.WithMetrics(metrics),
	)

	server := &http.Server{
		Addr:         address,
		Handler:      router,
		ReadTimeout:  serverReadTimeout,
		WriteTimeout: serverWriteTimeout,
		IdleTimeout:  serverIdleTimeout,
	}

	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	go tiered.RunSweeper(ctx, cacheSweepInterval)

	sched := scheduler.New(svc, store, logger)
	go func() {
		if err := sched.Start(ctx); err != nil {
			logger.Errorw("Scheduler stopped with error", "error", err)
		}
	}()

	serverErr := make(chan error, 1)
	go func() {
		logger.Infow("Starting HTTP server", "address", address)
		if err := server.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			serverErr <- err
		}
	}()

	select {
	case err := <-serverErr:
		return fmt.Errorf("HTTP server failed: %w", err)
	case <-ctx.Done():
		logger.Infow("Shutdown signal received")
	}

	shutdownCtx, cancel := context.WithTimeout(context.Background(), defaultGracefulTimeout)
	defer cancel()

	if err := sched.Stop(); err != nil {
		logger.Warnw("Scheduler shutdown failed", "error", err)
	}
	if err := server.Shutdown(shutdownCtx); err != nil {
		return fmt.Errorf("graceful shutdown failed: %w", err)
	}

	logger.Infow("Server stopped")
	return nil
}
