package cmd

import (
	"context"
	"fmt"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/collectors"
	"go.uber.org/zap"

	"mindpulse/annotate"
	"mindpulse/collector"
	"mindpulse/config"
	"mindpulse/logging"
	"mindpulse/metrics"
	"mindpulse/models"
	"mindpulse/moderation"
	"mindpulse/pipeline"
	"mindpulse/store"
)

// app wired components for one process
type app struct {
	cfg          *models.Config
	logger       *zap.Logger
	registry     *prometheus.Registry
	metrics      *metrics.Metrics
	filter       *moderation.Filter
	backend      store.Backend
	orchestrator *pipeline.Orchestrator
}

// newApp loads configuration and builds the pipeline. notifier may be nil.
func newApp(ctx context.Context, opts *options, notifier func(*zap.Logger) pipeline.Notifier) (*app, error) {
	cfg, err := config.Load(opts.configPath)
	if err != nil {
		return nil, err
	}
	logger, err := logging.New(cfg.Logging)
	if err != nil {
		return nil, err
	}

	registry := prometheus.NewRegistry()
	registry.MustRegister(collectors.NewGoCollector(), collectors.NewProcessCollector(collectors.ProcessCollectorOpts{}))
	m := metrics.New(registry)

	filter, err := newFilter(cfg.Moderation)
	if err != nil {
		return nil, err
	}

	backend, err := openBackend(cfg)
	if err != nil {
		return nil, err
	}
	logger.Info("cache backend ready", zap.String("backend", cfg.Cache.GetBackend()))

	scorer := annotate.NewHuggingFaceScorer(cfg.HuggingFace, logger, m)
	insights := annotate.NewGeminiGenerator(cfg.Gemini, logger, m)

	deps := pipeline.Deps{
		Source:    collector.New(ctx, cfg.Reddit, filter, logger, m),
		Filter:    filter,
		Annotator: annotate.NewAnnotator(scorer, insights, cfg.Annotate.GetConcurrency(), logger),
		Cache:     store.NewCache(backend, filter, logger, m),
		Snapshots: store.NewResultFiles(cfg.Data.Dir, filter, logger),
		Logger:    logger,
		Metrics:   m,
	}
	if notifier != nil {
		deps.Notifier = notifier(logger)
	}

	return &app{
		cfg:          cfg,
		logger:       logger,
		registry:     registry,
		metrics:      m,
		filter:       filter,
		backend:      backend,
		orchestrator: pipeline.New(deps),
	}, nil
}

func newFilter(cfg models.ModerationConfig) (*moderation.Filter, error) {
	if cfg.RulesFile == "" {
		return moderation.NewDefaultFilter(), nil
	}
	rules, err := moderation.LoadRules(cfg.RulesFile)
	if err != nil {
		return nil, err
	}
	return moderation.NewFilter(rules), nil
}

func openBackend(cfg *models.Config) (store.Backend, error) {
	switch cfg.Cache.GetBackend() {
	case models.CacheBackendSQLite:
		return store.OpenSQLite(cfg.Cache.SQLitePath)
	case models.CacheBackendRedis:
		client := store.DialRedis(cfg.Cache.GetRedisAddr(), cfg.Cache.RedisPassword.Value(), cfg.Cache.RedisDB)
		ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
		defer cancel()
		if err := client.Ping(ctx).Err(); err != nil {
			_ = client.Close()
			return nil, fmt.Errorf("%w: redis %s unreachable: %v", models.ErrConfiguration, cfg.Cache.GetRedisAddr(), err)
		}
		return store.NewRedisBackend(client, store.DefaultRedisPrefix), nil
	default:
		return store.NewFileBackend(cfg.Data.Dir), nil
	}
}

// Close releases the cache backend and flushes the logger.
func (a *app) Close() {
	if err := a.backend.Close(); err != nil {
		a.logger.Warn("failed to close cache backend", zap.Error(err))
	}
	_ = logging.Sync(a.logger)
}
