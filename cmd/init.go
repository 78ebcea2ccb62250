package main

import (
	"context"

	"github.com/rotisserie/eris"
	"go.uber.org/zap"

	"github.com/bhaveshsathavalli/dealforge-mvp-sub001/internal/collector"
	"github.com/bhaveshsathavalli/dealforge-mvp-sub001/internal/compare"
	"github.com/bhaveshsathavalli/dealforge-mvp-sub001/internal/guard"
	"github.com/bhaveshsathavalli/dealforge-mvp-sub001/internal/pipeline"
	"github.com/bhaveshsathavalli/dealforge-mvp-sub001/internal/resolver"
	"github.com/bhaveshsathavalli/dealforge-mvp-sub001/internal/scrape"
	"github.com/bhaveshsathavalli/dealforge-mvp-sub001/internal/store"
	anthropicpkg "github.com/bhaveshsathavalli/dealforge-mvp-sub001/pkg/anthropic"
	"github.com/bhaveshsathavalli/dealforge-mvp-sub001/pkg/jina"
)

const searchResultCount = 5

// appEnv holds the store and the components built on top of it.
type appEnv struct {
	Store     store.Store
	Resolver  *resolver.Resolver
	Collector *collector.Collector
	Pipeline  *pipeline.Pipeline
}

// Close releases resources held by the environment.
func (e *appEnv) Close() {
	if e.Store != nil {
		_ = e.Store.Close()
	}
}

// initStore opens the configured store. Callers should defer Close.
func initStore(ctx context.Context) (store.Store, error) {
	switch cfg.Store.Driver {
	case "sqlite":
		dsn := cfg.Store.DatabaseURL
		if dsn == "" {
			dsn = "dealforge.db"
		}
		return store.NewSQLite(dsn)
	case "postgres":
		return store.NewPostgres(ctx, cfg.Store.DatabaseURL, &store.PoolConfig{
			MaxConns: cfg.Store.MaxConns,
			MinConns: cfg.Store.MinConns,
		})
	default:
		return nil, eris.Errorf("unsupported store driver: %s", cfg.Store.Driver)
	}
}

// initMigratedStore opens the store and applies the schema.
func initMigratedStore(ctx context.Context) (store.Store, error) {
	st, err := initStore(ctx)
	if err != nil {
		return nil, err
	}
	if err := st.Migrate(ctx); err != nil {
		_ = st.Close()
		return nil, eris.Wrap(err, "migrate store")
	}
	return st, nil
}

// initEnv validates config for mode and wires the resolver, collector and
// pipeline. Callers should defer env.Close().
func initEnv(ctx context.Context, mode string) (*appEnv, error) {
	if err := cfg.Validate(mode); err != nil {
		return nil, err
	}

	st, err := initMigratedStore(ctx)
	if err != nil {
		return nil, err
	}

	jinaOpts := []jina.Option{
		jina.WithBaseURL(cfg.Jina.BaseURL),
		jina.WithReaderTimeout(cfg.Facts.FetchTimeout()),
	}
	if cfg.Jina.SearchBaseURL != "" {
		jinaOpts = append(jinaOpts, jina.WithSearchBaseURL(cfg.Jina.SearchBaseURL))
	}
	jinaClient := jina.NewClient(cfg.Jina.Key, jinaOpts...)

	// Build read chain: Jina reader primary, local HTTP fallback.
	chain := scrape.NewChain(scrape.NewPathMatcher(nil),
		scrape.NewJinaAdapter(jinaClient),
		scrape.NewLocalScraper(scrape.WithHostRate(cfg.Facts.HostRatePerSec)),
	)

	var rules *collector.LaneRules
	if cfg.Facts.LanesFile != "" {
		rules, err = collector.LoadLaneRules(cfg.Facts.LanesFile)
		if err != nil {
			_ = st.Close()
			return nil, err
		}
		zap.L().Info("lane rules loaded", zap.String("path", cfg.Facts.LanesFile))
	}

	var extractor collector.Extractor = collector.NewHeuristicExtractor()
	if cfg.Anthropic.Enabled {
		aiClient := anthropicpkg.NewClient(cfg.Anthropic.Key)
		extractor = collector.NewLLMExtractor(aiClient, cfg.Anthropic.Model, cfg.Anthropic.MaxTokens, extractor)
		zap.L().Info("llm extraction enabled", zap.String("model", cfg.Anthropic.Model))
	}

	col := collector.New(st, chain,
		collector.WithExtractor(extractor),
		collector.WithRules(rules),
		collector.WithTTLs(cfg.Facts.LaneTTLs()),
		collector.WithFetchTimeout(cfg.Facts.FetchTimeout()),
		collector.WithMaxFetches(cfg.Facts.MaxConcurrentFetches),
	)

	res := resolver.New(st, resolver.NewJinaSearcher(jinaClient, searchResultCount),
		resolver.WithSearchTimeout(cfg.Facts.SearchTimeout()),
	)

	g, err := guard.New(cfg.Facts.GuardBackend, st, cfg.Facts.Cooldown())
	if err != nil {
		_ = st.Close()
		return nil, err
	}

	policy, err := compare.PolicyByName(cfg.Facts.ScorePolicy)
	if err != nil {
		_ = st.Close()
		return nil, err
	}

	p := pipeline.New(st, g, res, col,
		pipeline.WithConcurrency(cfg.Facts.MaxConcurrentFetches),
		pipeline.WithComposer(compare.NewComposer(compare.WithPolicy(policy))),
	)

	return &appEnv{
		Store:     st,
		Resolver:  res,
		Collector: col,
		Pipeline:  p,
	}, nil
}
