package main

import (
	"context"
	"log"

	"github.com/bookmind/bookmind/config"
	"github.com/bookmind/bookmind/internal/assembler"
	"github.com/bookmind/bookmind/internal/embedder"
	"github.com/bookmind/bookmind/internal/engine"
	"github.com/bookmind/bookmind/internal/expander"
	"github.com/bookmind/bookmind/internal/rerank"
	"github.com/bookmind/bookmind/internal/retriever"
	"github.com/bookmind/bookmind/internal/runtime"
	"github.com/bookmind/bookmind/internal/store"
	"github.com/bookmind/bookmind/provider"
)

// app bundles the wired engine dependencies for the CLI commands.
type app struct {
	cfg      *config.Config
	store    *store.Store
	embedder *embedder.Embedder
	engine   *engine.Engine
	metrics  *runtime.Metrics
	cache    *embedder.QueryCache
}

// buildApp wires the full dependency graph from configuration. Query cache
// and metrics are optional; everything else is required.
func buildApp(ctx context.Context, cfg *config.Config) (*app, error) {
	metrics := runtime.NewMetrics(cfg.Telemetry)
	if metrics != nil {
		go func() {
			if err := metrics.Serve(cfg.Telemetry.MetricsPort); err != nil {
				log.Printf("[METRICS] listener stopped: %v", err)
			}
		}()
	}

	st, err := store.NewWithDSN(ctx, cfg.Storage.Postgres.DSN())
	if err != nil {
		return nil, err
	}

	prov, err := provider.NewProvider(provider.OpenAI, cfg.Embedder.Timeout)
	if err != nil {
		return nil, err
	}

	cache, err := embedder.NewQueryCache(ctx, cfg.Storage.Redis, cfg.Embedder.CacheTTL, nil)
	if err != nil {
		log.Printf("[CACHE] disabled: %v", err)
		cache = nil
	}

	emb, err := embedder.New(prov, cache, cfg.Embedder, metrics, nil)
	if err != nil {
		return nil, err
	}

	ret, err := retriever.New(st, emb, cfg.Retriever, nil)
	if err != nil {
		return nil, err
	}

	eng, err := engine.New(
		expander.New(cfg.Expansion),
		ret,
		rerank.New(cfg.Rerank),
		assembler.New(cfg.Assembler, nil),
		cfg.Rerank,
		metrics,
		nil,
	)
	if err != nil {
		return nil, err
	}

	return &app{cfg: cfg, store: st, embedder: emb, engine: eng, metrics: metrics, cache: cache}, nil
}

func (a *app) close() {
	if a.cache != nil {
		_ = a.cache.Close()
	}
	if a.store != nil {
		_ = a.store.DB.Close()
	}
}
