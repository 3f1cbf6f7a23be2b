package main

import (
	"context"
	"fmt"
	"net/http"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promhttp"
	"go.uber.org/zap"

	"github.com/fyrsmithlabs/spectrad/internal/capability"
	"github.com/fyrsmithlabs/spectrad/internal/checkpoint"
	"github.com/fyrsmithlabs/spectrad/internal/config"
	"github.com/fyrsmithlabs/spectrad/internal/critic"
	"github.com/fyrsmithlabs/spectrad/internal/history"
	"github.com/fyrsmithlabs/spectrad/internal/logging"
	"github.com/fyrsmithlabs/spectrad/internal/metrics"
	"github.com/fyrsmithlabs/spectrad/internal/reasoning"
	"github.com/fyrsmithlabs/spectrad/internal/tracker"
	"github.com/fyrsmithlabs/spectrad/internal/worker"
	"github.com/fyrsmithlabs/spectrad/internal/workflow"
)

// runtime bundles the wired components behind one Close.
type runtime struct {
	logger      *zap.Logger
	engine      *workflow.Engine
	checkpoints *checkpoint.Manager
	metricsSrv  *http.Server
}

// buildRuntime wires configuration into a ready engine: logger, metrics,
// capability catalog, checkpoint backends in configured priority order,
// tracker, workers, critic, and analyzer.
func buildRuntime(ctx context.Context, cfg *config.Config, events workflow.EventFunc) (*runtime, error) {
	logger, err := logging.New(cfg.Logging)
	if err != nil {
		return nil, err
	}

	reg := prometheus.NewRegistry()
	m := metrics.New(reg)

	catalog := capability.NewRegistry()
	if err := capability.RegisterBuiltins(catalog); err != nil {
		return nil, err
	}

	stores, err := buildStores(ctx, cfg.Checkpoint, logger)
	if err != nil {
		return nil, err
	}
	manager := checkpoint.NewManager(logger, m, stores...)

	tr := tracker.New(catalog, logger, cfg.Retry)
	workers := worker.NewSet()
	if err := worker.RegisterBuiltins(workers, tr, logger); err != nil {
		return nil, err
	}

	cases := history.NewIndex(cfg.History.MaxCases)

	var analyzer reasoning.Analyzer
	var scorer critic.Scorer
	if cfg.Reasoning.BaseURL != "" {
		client, err := reasoning.NewClient(cfg.Reasoning, logger)
		if err != nil {
			return nil, err
		}
		analyzer = client
		scorer = client
	} else {
		logger.Info("no reasoning endpoint configured, using offline analyzer")
		analyzer = reasoning.NewOffline()
	}

	reviewer, err := critic.New(cfg.Critic, catalog, scorer, cases, logger)
	if err != nil {
		return nil, err
	}

	engine, err := workflow.NewEngine(cfg.Workflow, workflow.Deps{
		Checkpoints: manager,
		Critic:      reviewer,
		Workers:     workers,
		Analyzer:    analyzer,
		Catalog:     catalog,
		History:     cases,
		Metrics:     m,
		Events:      events,
		Logger:      logger,
	})
	if err != nil {
		return nil, err
	}

	rt := &runtime{logger: logger, engine: engine, checkpoints: manager}

	if cfg.Metrics.Addr != "" {
		mux := http.NewServeMux()
		mux.Handle("/metrics", promhttp.HandlerFor(reg, promhttp.HandlerOpts{}))
		rt.metricsSrv = &http.Server{Addr: cfg.Metrics.Addr, Handler: mux}
		go func() {
			if err := rt.metricsSrv.ListenAndServe(); err != nil && err != http.ErrServerClosed {
				logger.Error("metrics server failed", zap.Error(err))
			}
		}()
		logger.Info("metrics endpoint listening", zap.String("addr", cfg.Metrics.Addr))
	}

	return rt, nil
}

// buildStores creates checkpoint backends in the configured priority
// order. A backend that fails to open is logged and skipped; the manager
// always has its in-memory fallback.
func buildStores(ctx context.Context, cfg config.CheckpointConfig, logger *zap.Logger) ([]checkpoint.Store, error) {
	var stores []checkpoint.Store
	for _, name := range cfg.Backends {
		switch name {
		case config.BackendPostgres:
			s, err := checkpoint.NewPostgresStore(ctx, cfg.PostgresDSN)
			if err != nil {
				logger.Warn("postgres checkpoint backend unavailable", zap.Error(err))
				continue
			}
			stores = append(stores, s)
		case config.BackendSQLite:
			s, err := checkpoint.NewSQLiteStore(cfg.SQLitePath)
			if err != nil {
				logger.Warn("sqlite checkpoint backend unavailable", zap.Error(err))
				continue
			}
			stores = append(stores, s)
		case config.BackendMemory:
			stores = append(stores, checkpoint.NewMemoryStore())
		default:
			return nil, fmt.Errorf("unknown checkpoint backend %q", name)
		}
	}
	return stores, nil
}

func (rt *runtime) Close() {
	if rt.metricsSrv != nil {
		ctx, cancel := context.WithTimeout(context.Background(), 3*time.Second)
		defer cancel()
		_ = rt.metricsSrv.Shutdown(ctx)
	}
	if err := rt.checkpoints.Close(); err != nil {
		rt.logger.Warn("closing checkpoint stores", zap.Error(err))
	}
	_ = rt.logger.Sync()
}
