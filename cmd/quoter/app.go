package main

import (
	"context"
	"fmt"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/collectors"
	"github.com/spf13/cobra"
	"go.uber.org/zap"

	"swapScope/internal/catalog"
	"swapScope/internal/chain"
	"swapScope/internal/config"
	"swapScope/internal/dex"
	"swapScope/internal/engine"
	"swapScope/internal/metrics"
	"swapScope/internal/quoter"
	"swapScope/internal/router"
	"swapScope/internal/storage"
	"swapScope/internal/storage/postgres"
	"swapScope/internal/token"
)

// app holds the wired components shared by every subcommand.
type app struct {
	cfg      config.Config
	logger   *zap.Logger
	registry *prometheus.Registry
	client   *chain.Client
	tokens   *token.Registry
	catalog  catalog.Catalog
	engine   *engine.Engine
	service  *quoter.Service
	store    *postgres.Store
}

func newApp(ctx context.Context, cmd *cobra.Command) (*app, error) {
	cfgFile, _ := cmd.Flags().GetString("config")
	cfg, err := config.Load(cfgFile, cmd.Flags())
	if err != nil {
		return nil, err
	}

	logger, err := newLogger(cfg.LogLevel)
	if err != nil {
		return nil, err
	}

	if cfg.RPCURL == "" {
		return nil, fmt.Errorf("rpc url is required")
	}
	venues, err := cfg.BuildVenues()
	if err != nil {
		return nil, err
	}
	intermediates, err := cfg.IntermediateAddresses()
	if err != nil {
		return nil, err
	}
	wrapped, err := cfg.WrappedNativeAddress()
	if err != nil {
		return nil, err
	}
	trusted, err := cfg.TrustedTokens()
	if err != nil {
		return nil, err
	}

	a := &app{cfg: cfg, logger: logger, registry: prometheus.NewRegistry()}
	a.registry.MustRegister(
		collectors.NewGoCollector(),
		collectors.NewProcessCollector(collectors.ProcessCollectorOpts{}),
	)
	m := metrics.New(a.registry)

	a.client, err = chain.NewClient(ctx, cfg.RPCURL, cfg.RPCRateLimit, cfg.RPCBurst)
	if err != nil {
		return nil, fmt.Errorf("connect rpc: %w", err)
	}
	if cfg.ChainID != 0 {
		id, err := a.client.GetChainID(ctx)
		if err != nil {
			a.Close()
			return nil, fmt.Errorf("chain id: %w", err)
		}
		if id.Int64() != cfg.ChainID {
			a.Close()
			return nil, fmt.Errorf("rpc serves chain %s, expected %d", id, cfg.ChainID)
		}
	}

	if cfg.PGDSN != "" {
		a.store, err = postgres.NewStore(ctx, cfg.PGDSN)
		if err != nil {
			a.Close()
			return nil, fmt.Errorf("connect postgres: %w", err)
		}
		if err := a.store.Migrate(ctx); err != nil {
			a.Close()
			return nil, err
		}
	}

	a.tokens = token.NewRegistry(a.client, token.Config{
		Trusted:      trusted,
		NativeSymbol: cfg.NativeSymbol,
		FetchTimeout: cfg.AttemptTimeout,
		Logger:       logger,
		Metrics:      m,
	})

	a.catalog = catalog.NewStatic(venues)
	if cfg.Catalog == "discovered" {
		dcfg := catalog.DiscoveredConfig{
			Venues:      venues,
			TTL:         cfg.CatalogTTL,
			Concurrency: cfg.MaxInFlight,
			PruneEmpty:  cfg.PruneEmpty,
			Logger:      logger,
			Metrics:     m,
		}
		if a.store != nil {
			dcfg.Store = a.store
		}
		discovered := catalog.NewDiscovered(a.client, dcfg)
		loaded, err := discovered.Warm(ctx)
		if err != nil {
			logger.Warn("pool cache warm failed", zap.Error(err))
		} else if loaded > 0 {
			logger.Info("pool cache warmed", zap.Int("pools", loaded))
		}
		a.catalog = discovered
	}

	a.engine = engine.New(a.catalog, dex.NewAdapters(a.client, logger), engine.Config{
		Venues:         venues,
		Intermediates:  intermediates,
		MaxHops:        cfg.MaxHops,
		MaxInFlight:    cfg.MaxInFlight,
		MaxAttempts:    cfg.MaxAttempts,
		AttemptTimeout: cfg.AttemptTimeout,
		RetryBackoff:   cfg.RetryBackoff,
	}, logger, m)

	a.service = quoter.NewService(a.tokens, a.engine, quoter.Config{
		WrappedNative:     wrapped,
		PriceImpact:       cfg.PriceImpact,
		ImpactProbeBps:    cfg.ImpactProbeBps,
		ImpactConcurrency: cfg.MaxInFlight,
		Router: router.Config{
			Split:     cfg.Split,
			Tolerance: cfg.SplitTolerance.Rat(),
			Steps:     cfg.SplitSteps,
		},
	}, a.recorder(), logger, m)

	logger.Info("quoter ready",
		zap.String("rpc", cfg.RPCURL),
		zap.String("catalog", cfg.Catalog),
		zap.Int("venues", len(venues)),
		zap.Int("intermediates", len(intermediates)),
		zap.Int("max_hops", cfg.MaxHops),
		zap.Bool("split", cfg.Split),
		zap.Bool("postgres", a.store != nil),
	)
	return a, nil
}

func (a *app) recorder() storage.Recorder {
	var sinks storage.Fanout
	if a.cfg.Out != "" {
		sinks = append(sinks, storage.NewJSONLRecorder(a.cfg.Out))
	}
	if a.store != nil {
		sinks = append(sinks, a.store)
	}
	switch len(sinks) {
	case 0:
		return nil
	case 1:
		return sinks[0]
	default:
		return sinks
	}
}

func (a *app) Close() {
	if a.store != nil {
		a.store.Close()
	}
	if a.client != nil {
		a.client.Close()
	}
	_ = a.logger.Sync()
}
