package main

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/collectors"
	"github.com/rs/cors"
	"golang.org/x/sync/errgroup"

	badgerstore "github.com/manthysbr/umbrella/internal/adapters/badger"
	"github.com/manthysbr/umbrella/internal/adapters/duckdb"
	"github.com/manthysbr/umbrella/internal/adapters/remote"
	"github.com/manthysbr/umbrella/internal/config"
	"github.com/manthysbr/umbrella/internal/core/domain"
	"github.com/manthysbr/umbrella/internal/core/services"
	"github.com/manthysbr/umbrella/internal/observability"
	"github.com/manthysbr/umbrella/pkg/kernel"
)

const sweepInterval = time.Minute

func main() {
	cfg, err := config.Load("")
	if err != nil {
		slog.New(slog.NewJSONHandler(os.Stderr, nil)).Error("failed to load config", "error", err)
		os.Exit(1)
	}

	logger := observability.NewLogger(os.Stdout, cfg.Log)
	slog.SetDefault(logger)
	logger.Info("starting umbrella orchestrator")

	if err := run(logger, cfg); err != nil {
		logger.Error("orchestrator failed", "error", err)
		os.Exit(1)
	}
}

func run(logger *slog.Logger, cfg *domain.AppConfig) error {
	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	go func() {
		sig := make(chan os.Signal, 1)
		signal.Notify(sig, syscall.SIGINT, syscall.SIGTERM)
		<-sig
		logger.Info("shutting down")
		cancel()
	}()

	// Adapters
	repo, err := duckdb.NewRepository(cfg.Storage.DuckDBPath)
	if err != nil {
		return fmt.Errorf("failed to init repository: %w", err)
	}
	defer repo.Close()

	kv, err := badgerstore.Open(badgerstore.Config{Path: cfg.Storage.BadgerPath, Logger: logger})
	if err != nil {
		return fmt.Errorf("failed to open dead-letter store: %w", err)
	}
	defer kv.Close()
	deadLetters := badgerstore.NewDeadLetterStore(kv, logger)

	registry, err := domain.NewServiceRegistry(cfg.Services)
	if err != nil {
		return fmt.Errorf("invalid service registry: %w", err)
	}

	reg := prometheus.NewRegistry()
	reg.MustRegister(collectors.NewGoCollector(), collectors.NewProcessCollector(collectors.ProcessCollectorOpts{}))
	metrics := observability.NewMetrics(reg)

	client := remote.NewClient(logger, registry, cfg.Remote, metrics)

	// Core services
	channel := services.NewMessageChannel(logger, deadLetters, metrics, cfg.Channel)
	eventBus := services.NewEventBus(logger)
	executor := services.NewExecutor(logger, client, channel, metrics, cfg.Executor)
	jobRegistry := services.NewJobRegistry(logger, repo, cfg.Registry)
	scheduler := services.NewJobScheduler(logger, cfg.Scheduler)
	jobService := services.NewJobService(logger, services.NewDecomposer(logger), executor, jobRegistry, scheduler, channel, eventBus, metrics)
	health := services.NewHealthChecker(client, registry)

	apiServer := kernel.NewServer(logger, jobService, channel, health, eventBus, reg)

	c := cors.New(cors.Options{
		AllowedOrigins:   cfg.Server.CORSOrigins,
		AllowedMethods:   []string{"GET", "POST", "DELETE", "OPTIONS"},
		AllowedHeaders:   []string{"*"},
		ExposedHeaders:   []string{domain.CorrelationHeader},
		AllowCredentials: true,
	})

	httpServer := &http.Server{
		Addr:              cfg.Server.Addr,
		Handler:           c.Handler(apiServer.Handler()),
		ReadHeaderTimeout: 10 * time.Second,
	}

	g, gCtx := errgroup.WithContext(ctx)

	g.Go(func() error {
		if err := jobService.Run(gCtx); err != nil {
			return fmt.Errorf("job service failed: %w", err)
		}
		<-gCtx.Done()
		return nil
	})

	g.Go(func() error {
		return jobRegistry.RunSweeper(gCtx, sweepInterval)
	})

	g.Go(func() error {
		logger.Info("starting api server", "addr", cfg.Server.Addr)
		if err := httpServer.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			return fmt.Errorf("api server failed: %w", err)
		}
		return nil
	})

	g.Go(func() error {
		<-gCtx.Done()
		logger.Info("shutting down api server")
		shutdownCtx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
		defer cancel()
		return httpServer.Shutdown(shutdownCtx)
	})

	return g.Wait()
}
