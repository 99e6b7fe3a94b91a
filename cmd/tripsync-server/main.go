// Package main provides the tripsync HTTP server.
package main

import (
	"context"
	"errors"
	"flag"
	"log/slog"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/prometheus/client_golang/prometheus"

	"github.com/raphaelgruber/tripsync-go/internal/config"
	"github.com/raphaelgruber/tripsync-go/internal/consistency"
	"github.com/raphaelgruber/tripsync-go/internal/db"
	"github.com/raphaelgruber/tripsync-go/internal/jobs"
	"github.com/raphaelgruber/tripsync-go/internal/llm"
	"github.com/raphaelgruber/tripsync-go/internal/memstore"
	"github.com/raphaelgruber/tripsync-go/internal/metrics"
	"github.com/raphaelgruber/tripsync-go/internal/server"
	"github.com/raphaelgruber/tripsync-go/internal/service"
	"github.com/raphaelgruber/tripsync-go/internal/travel"
)

const version = "0.1.0"

// backend is everything the server needs from a store.
type backend interface {
	service.Itinerary
	service.Seeder
	jobs.Store
}

func main() {
	wipeDB := flag.Bool("wipe", false, "wipe all data from database on startup (testing only)")
	seedFile := flag.String("seed", "", "YAML itinerary to load on startup")
	flag.Parse()

	cfg := config.Load()

	logger, cleanup := config.SetupLogger(cfg, "server")
	defer cleanup()
	slog.SetDefault(logger)

	logger.Info("tripsync-server starting",
		"version", version,
		"store", cfg.Store,
		"travel_provider", cfg.TravelProvider,
		"llm_provider", cfg.LLMProvider,
	)

	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	if err := run(ctx, cfg, logger, *wipeDB, *seedFile); err != nil {
		logger.Error("server error", "error", err)
		cleanup()
		os.Exit(1)
	}
	logger.Info("shutdown complete")
}

func run(ctx context.Context, cfg config.Config, logger *slog.Logger, wipe bool, seedFile string) error {
	mc := metrics.NewCollector()
	prom := metrics.NewPrometheus(prometheus.DefaultRegisterer)

	store, closeStore, err := openStore(ctx, cfg, logger, mc, wipe)
	if err != nil {
		return err
	}
	defer closeStore()

	if seedFile != "" {
		seed, err := service.LoadSeed(seedFile)
		if err != nil {
			return err
		}
		if err := seed.Apply(ctx, store); err != nil {
			return err
		}
	}

	provider, closeTravel, err := travel.NewProvider(ctx, cfg, mc)
	if err != nil {
		return err
	}
	defer func() {
		if err := closeTravel(); err != nil {
			logger.Warn("failed to close travel cache", "error", err)
		}
	}()

	engine := consistency.NewEngine(store, provider, consistency.Options{
		WarningThresholdMinutes: cfg.WarningThresholdMinutes,
		Metrics:                 mc,
		Prometheus:              prom,
	})
	sup := jobs.NewSupervisor(store, jobs.Options{
		MaxConcurrent: cfg.MaxConcurrentJobs,
		Metrics:       mc,
		Prometheus:    prom,
	})
	if _, err := sup.RecoverInterrupted(ctx); err != nil {
		return err
	}

	workers := []service.Worker{
		service.NewResyncWorker(store, engine),
		service.NewTravelTimeWorker(store, engine),
	}
	if model, err := llm.NewModel(ctx, cfg, mc); err != nil {
		logger.Warn("LLM unavailable, task and narrative jobs disabled", "provider", cfg.LLMProvider, "error", err)
	} else {
		logger.Info("LLM initialized", "provider", cfg.LLMProvider, "model", model.Model())
		workers = append(workers,
			service.NewTasksWorker(store, model),
			service.NewNarrativeWorker(store, model),
		)
	}
	svc := service.NewJobService(store, sup, engine, workers...)

	go sweep(ctx, sup, cfg.SweepInterval, cfg.StaleJobAfter)

	srv := server.New(svc, logger, server.Options{Version: version, Metrics: mc})
	serveErr := srv.Run(ctx, ":"+cfg.ServerPort)

	logger.Info("stopping jobs")
	shutdownCtx, cancel := context.WithTimeout(context.Background(), 15*time.Second)
	defer cancel()
	if err := sup.Shutdown(shutdownCtx); err != nil {
		logger.Warn("jobs did not stop in time", "error", err)
	}
	return serveErr
}

func openStore(ctx context.Context, cfg config.Config, logger *slog.Logger, mc *metrics.Collector, wipe bool) (backend, func(), error) {
	switch cfg.Store {
	case config.StoreMemory:
		logger.Warn("using in-memory store, data is lost on restart")
		return memstore.New(), func() {}, nil
	case config.StoreSurrealDB:
	default:
		return nil, nil, errors.New("unknown store " + cfg.Store)
	}

	dbCfg := db.Config{
		URL:       cfg.SurrealDBURL,
		Namespace: cfg.SurrealDBNamespace,
		Database:  cfg.SurrealDBDatabase,
		Username:  cfg.SurrealDBUser,
		Password:  cfg.SurrealDBPass,
		AuthLevel: cfg.SurrealDBAuthLevel,
	}
	dbClient, err := db.NewClient(ctx, dbCfg, logger, mc)
	if err != nil {
		return nil, nil, err
	}
	closeFn := func() {
		logger.Info("closing database connection")
		_ = dbClient.Close(context.Background())
	}

	if err := dbClient.InitSchema(ctx); err != nil {
		closeFn()
		return nil, nil, err
	}
	if wipe || os.Getenv("TRIPSYNC_WIPE_DB") == "true" {
		if err := dbClient.WipeData(ctx); err != nil {
			closeFn()
			return nil, nil, err
		}
	}
	return dbClient, closeFn, nil
}

// sweep fails jobs that stopped reporting progress, until ctx is done.
func sweep(ctx context.Context, sup *jobs.Supervisor, every, staleAfter time.Duration) {
	if every <= 0 || staleAfter <= 0 {
		return
	}
	ticker := time.NewTicker(every)
	defer ticker.Stop()
	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			if _, err := sup.SweepStale(ctx, staleAfter); err != nil && ctx.Err() == nil {
				slog.Warn("stale job sweep failed", "error", err)
			}
		}
	}
}
