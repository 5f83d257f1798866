package commands

import (
	"context"
	"fmt"

	"github.com/rs/zerolog"

	"github.com/openscout/openscout/pkg/catalog"
	"github.com/openscout/openscout/pkg/config"
	"github.com/openscout/openscout/pkg/discovery"
	"github.com/openscout/openscout/pkg/graph"
	"github.com/openscout/openscout/pkg/layers"
	"github.com/openscout/openscout/pkg/policy"
	"github.com/openscout/openscout/pkg/router"
	"github.com/openscout/openscout/pkg/stores"
	"github.com/openscout/openscout/pkg/telemetry"
)

// runtime wires the full service from configuration: telemetry, storage,
// registries, the governed router and the orchestrator. Commands share this
// so the CLI and the API server run the exact same stack.
type runtime struct {
	cfg          *config.Config
	tel          *telemetry.Telemetry
	logger       zerolog.Logger
	store        discovery.Store
	catalog      *catalog.Registry
	layers       *layers.Registry
	router       *router.Router
	orchestrator *discovery.Orchestrator
	tokens       discovery.TokenSource

	loader     *catalog.Loader
	closeStore func() error
}

func newRuntime(ctx context.Context, version string) (*runtime, error) {
	cfg, err := config.Load(configPath)
	if err != nil {
		return nil, err
	}

	tcfg := cfg.TelemetryConfig(version)
	if verbose {
		tcfg.Logging.Level = "debug"
	}
	tel, err := telemetry.NewTelemetry(tcfg)
	if err != nil {
		return nil, fmt.Errorf("failed to initialize telemetry: %w", err)
	}
	logger := tel.Logger.Zerolog()

	store, closeStore, err := openStore(ctx, cfg)
	if err != nil {
		return nil, err
	}

	toolRegistry, err := catalog.NewSeedRegistry(logger)
	if err != nil {
		return nil, err
	}
	var loader *catalog.Loader
	if len(cfg.Catalog.Paths) > 0 {
		loader = catalog.NewLoader(logger)
		tools, err := loader.LoadFromPaths(cfg.Catalog.Paths)
		if err != nil {
			return nil, err
		}
		if err := toolRegistry.Replace(tools); err != nil {
			return nil, err
		}
		if cfg.Catalog.Watch {
			if err := loader.Watch(ctx, cfg.Catalog.Paths, toolRegistry); err != nil {
				return nil, err
			}
		}
	}

	layerRegistry, err := layers.NewBuiltinRegistry()
	if err != nil {
		return nil, err
	}

	engine := policy.NewEngine(policy.NewStore(logger), logger)
	rtr := router.NewRouter(router.Config{
		DefaultPolicyID:         cfg.Router.DefaultPolicyID,
		RequestTimeout:          cfg.Router.RequestTimeout,
		PageSize:                cfg.Router.PageSize,
		MaxPages:                cfg.Router.MaxPages,
		MaxSubscriptionsPerCall: cfg.Router.MaxSubscriptionsPerCall,
		RatePerSecond:           cfg.Router.RatePerSecond,
		RateBurst:               cfg.Router.RateBurst,
		Endpoint:                cfg.Router.Endpoint,
	}, toolRegistry, engine, logger).WithTelemetry(tel.Metrics, tel.Events, tel.Tracer)

	tokens := &discovery.EnvTokenSource{}
	orchestrator := discovery.NewOrchestrator(discovery.Deps{
		Store:    store,
		Invoker:  rtr,
		Layers:   layerRegistry,
		Analyzer: discovery.NewStubAnalyzer(),
		Graphs:   graph.NewBuilder(logger),
		Tokens:   tokens,
		Metrics:  tel.Metrics,
		Events:   tel.Events,
		Tracer:   tel.Tracer,
	}, logger)

	return &runtime{
		cfg:          cfg,
		tel:          tel,
		logger:       logger,
		store:        store,
		catalog:      toolRegistry,
		layers:       layerRegistry,
		router:       rtr,
		orchestrator: orchestrator,
		tokens:       tokens,
		loader:       loader,
		closeStore:   closeStore,
	}, nil
}

func openStore(ctx context.Context, cfg *config.Config) (discovery.Store, func() error, error) {
	if cfg.Store.Driver == "memory" {
		return stores.NewMemoryStore(), func() error { return nil }, nil
	}

	store, err := stores.NewSQLiteStore(stores.Config{Path: cfg.Store.Path})
	if err != nil {
		return nil, nil, err
	}
	if err := store.Init(ctx); err != nil {
		return nil, nil, err
	}
	if err := store.Migrate(ctx); err != nil {
		_ = store.Close()
		return nil, nil, err
	}
	return store, store.Close, nil
}

func (r *runtime) Close(ctx context.Context) {
	if r.loader != nil {
		if err := r.loader.StopWatching(); err != nil {
			r.logger.Warn().Err(err).Msg("Failed to stop catalog watcher")
		}
	}
	if err := r.closeStore(); err != nil {
		r.logger.Warn().Err(err).Msg("Failed to close store")
	}
	if err := r.tel.Shutdown(ctx); err != nil {
		r.logger.Warn().Err(err).Msg("Failed to shut down telemetry")
	}
}
