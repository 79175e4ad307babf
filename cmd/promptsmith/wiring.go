package main

import (
	"context"
	"errors"
	"fmt"
	"os"
	"path/filepath"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/common/expfmt"

	"promptsmith/pkg/agent"
	"promptsmith/pkg/agent/llm"
	"promptsmith/pkg/agent/middleware/metrics"
	"promptsmith/pkg/config"
	"promptsmith/pkg/eventlog"
	"promptsmith/pkg/orchestrator"
	"promptsmith/pkg/patterns"
	"promptsmith/pkg/persistence"
)

// historyFile is the session history database under the project config dir.
const historyFile = "history.db"

// openStore opens the pattern store on the configured backend.
func openStore(ctx context.Context, cfg *config.Config) (*patterns.Store, error) {
	var backend patterns.Backend
	switch cfg.Store.Backend {
	case config.StoreBackendFile:
		backend = patterns.NewFileBackend(cfg.Store.Path)
	case config.StoreBackendMemory:
		backend = patterns.NewMemoryBackend()
	case config.StoreBackendSQLite:
		b, err := patterns.NewSQLiteBackend(cfg.Store.Path)
		if err != nil {
			return nil, fmt.Errorf("failed to open sqlite pattern store: %w", err)
		}
		backend = b
	case config.StoreBackendRedis:
		if cfg.Store.RedisURL == "" {
			return nil, errors.New("redis backend requires store.redis_url or REDIS_URL")
		}
		backend = patterns.NewRedisBackend(cfg.Store.RedisURL, cfg.Store.RedisKey)
	default:
		return nil, fmt.Errorf("unknown store backend %q", cfg.Store.Backend)
	}
	return patterns.Open(ctx, backend, patterns.OptionsFromConfig(cfg)), nil
}

func openHistory() (*persistence.DB, error) {
	db, err := persistence.Open(filepath.Join(config.GetProjectDir(), config.ProjectConfigDir, historyFile))
	if err != nil {
		return nil, fmt.Errorf("failed to open session history: %w", err)
	}
	return db, nil
}

// pipeline is everything a run needs, with a single close.
type pipeline struct {
	orch     *orchestrator.Orchestrator
	store    *patterns.Store
	history  *persistence.DB
	events   *eventlog.Writer
	registry *prometheus.Registry
}

type pipelineOptions struct {
	maxIterations int
	eventsDir     string
	sinks         []orchestrator.ProgressSink
}

func (a *app) newPipeline(ctx context.Context, opts pipelineOptions) (*pipeline, error) {
	cfg := a.cfg
	if opts.maxIterations > 0 {
		cfg.Loop.MaxIterations = opts.maxIterations
	}

	p := &pipeline{registry: prometheus.NewRegistry()}
	store, err := openStore(ctx, &cfg)
	if err != nil {
		return nil, err
	}
	p.store = store

	if p.history, err = openHistory(); err != nil {
		_ = p.close(ctx)
		return nil, err
	}

	sinks := append([]orchestrator.ProgressSink{orchestrator.NewLogSink(nil)}, opts.sinks...)
	eventsDir := opts.eventsDir
	if eventsDir == "" && cfg.Events.Enabled {
		eventsDir = cfg.Events.Dir
	}
	if eventsDir != "" {
		if p.events, err = eventlog.NewWriter(eventsDir); err != nil {
			_ = p.close(ctx)
			return nil, fmt.Errorf("failed to open event log: %w", err)
		}
		sinks = append(sinks, orchestrator.NewEventLogSink(p.events))
	}

	namespace := cfg.Metrics.Namespace
	recorder := metrics.NewPrometheusRecorder(p.registry, namespace)

	var gen llm.Generator
	if a.offline {
		gen = llm.Offline("offline mode")
	} else {
		gen = agent.NewGeneratorFactory(cfg.LLM, recorder).GeneratorOrOffline()
	}

	p.orch, err = orchestrator.NewFromConfig(&cfg, store, gen,
		orchestrator.WithSink(orchestrator.MultiSink(sinks)),
		orchestrator.WithMetrics(orchestrator.NewMetrics(p.registry, namespace)),
		orchestrator.WithHistory(p.history),
	)
	if err != nil {
		_ = p.close(ctx)
		return nil, fmt.Errorf("failed to build orchestrator: %w", err)
	}
	return p, nil
}

func (p *pipeline) close(ctx context.Context) error {
	var errs []error
	if p.events != nil {
		errs = append(errs, p.events.Close())
	}
	if p.history != nil {
		errs = append(errs, p.history.Close())
	}
	if p.store != nil {
		errs = append(errs, p.store.Close(ctx))
	}
	return errors.Join(errs...)
}

// writeMetrics dumps every gathered family in the Prometheus text format.
func (p *pipeline) writeMetrics(path string) error {
	families, err := p.registry.Gather()
	if err != nil {
		return fmt.Errorf("failed to gather metrics: %w", err)
	}
	f, err := os.Create(path)
	if err != nil {
		return fmt.Errorf("failed to create metrics file: %w", err)
	}
	defer f.Close()

	for _, mf := range families {
		if _, err := expfmt.MetricFamilyToText(f, mf); err != nil {
			return fmt.Errorf("failed to write metric %s: %w", mf.GetName(), err)
		}
	}
	return nil
}
