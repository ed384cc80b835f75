package main

import (
	"context"

	"github.com/rotisserie/eris"
	"go.uber.org/zap"

	"github.com/sells-group/geolift/internal/design"
	"github.com/sells-group/geolift/internal/model"
	"github.com/sells-group/geolift/internal/provider"
	"github.com/sells-group/geolift/internal/resilience"
	"github.com/sells-group/geolift/internal/schema"
	"github.com/sells-group/geolift/internal/significance"
	"github.com/sells-group/geolift/internal/similarity"
	"github.com/sells-group/geolift/internal/store"
)

func initStore(ctx context.Context) (store.Store, error) {
	var (
		st  store.Store
		err error
	)
	switch cfg.Store.Driver {
	case "sqlite":
		dsn := cfg.Store.DatabaseURL
		if dsn == "" {
			dsn = "geolift.db"
		}
		st, err = store.NewSQLite(dsn)
	case "postgres":
		st, err = store.NewPostgres(ctx, cfg.Store.DatabaseURL, &store.PoolConfig{
			MaxConns: cfg.Store.MaxConns,
			MinConns: cfg.Store.MinConns,
		})
	default:
		return nil, eris.Errorf("unsupported store driver: %s", cfg.Store.Driver)
	}
	if err != nil {
		return nil, err
	}

	if err := st.Migrate(ctx); err != nil {
		_ = st.Close()
		return nil, eris.Wrap(err, "migrate store")
	}
	return st, nil
}

// appEnv bundles the store, the provider chain in front of it and the
// planner. Callers should defer env.Close().
type appEnv struct {
	Store   store.Store
	Regions provider.RegionProvider
	Planner *design.Planner
}

// Close releases resources held by the environment.
func (e *appEnv) Close() {
	if e.Store != nil {
		_ = e.Store.Close()
	}
}

func initEnv(ctx context.Context) (*appEnv, error) {
	st, err := initStore(ctx)
	if err != nil {
		return nil, err
	}
	env := &appEnv{Store: st}

	regions, err := initRegions(st)
	if err != nil {
		env.Close()
		return nil, err
	}
	env.Regions = regions

	minSim := cfg.Engine.MinSimilarity
	opts := []design.Option{
		design.WithSaver(st),
		design.WithWorkers(cfg.Engine.Workers),
		design.WithDefaultMetric(similarity.Metric(cfg.Engine.Metric)),
		design.WithDefaultRank(similarity.RankOptions{
			MinSimilarity:   &minSim,
			MaxResults:      cfg.Engine.MaxResults,
			ExcludeWithinKM: cfg.Engine.ExcludeWithinKM,
		}),
		design.WithPoolLimit(cfg.Provider.CandidatePoolMax),
		design.WithDefaultParams(cfg.Significance.Params()),
	}
	if cfg.Engine.SchemaPath != "" {
		s, err := schema.Load(cfg.Engine.SchemaPath)
		if err != nil {
			env.Close()
			return nil, err
		}
		opts = append(opts, design.WithSchema(s))
	}
	env.Planner = design.New(regions, opts...)

	return env, nil
}

// initRegions puts the store first in a provider chain, followed by any
// configured fallback files, with an optional overlay file.
func initRegions(st store.Store) (provider.RegionProvider, error) {
	providers := []provider.RegionProvider{st}
	for _, path := range cfg.Provider.Fallbacks {
		m, err := provider.LoadFile(path)
		if err != nil {
			return nil, eris.Wrapf(err, "load fallback regions %s", path)
		}
		providers = append(providers, m)
	}

	opts := []provider.ChainOption{
		provider.WithRetry(resilience.FromSettings(cfg.Provider.RetryAttempts, cfg.Provider.RetryBackoffMs)),
	}
	if cfg.Provider.OverlayPath != "" {
		overlay, err := provider.LoadFile(cfg.Provider.OverlayPath)
		if err != nil {
			return nil, eris.Wrapf(err, "load overlay regions %s", cfg.Provider.OverlayPath)
		}
		opts = append(opts, provider.WithOverlay(overlay))
	}

	zap.L().Debug("provider chain configured",
		zap.Int("providers", len(providers)),
		zap.Bool("overlay", cfg.Provider.OverlayPath != ""),
	)
	return provider.NewChain(providers, opts...), nil
}

// defaultRegionType returns flag when set, else the configured market type.
func defaultRegionType(flag string) model.RegionType {
	if flag != "" {
		return model.RegionType(flag)
	}
	return model.RegionType(cfg.Engine.MarketType)
}

// defaultParams merges CLI overrides over the configured significance
// parameters.
func defaultParams(lift, alpha, beta, baseline float64) significance.Params {
	p := cfg.Significance.Params()
	if lift > 0 {
		p.ExpectedLift = lift
	}
	if alpha > 0 {
		p.Alpha = alpha
	}
	if beta > 0 {
		p.Beta = beta
	}
	if baseline > 0 {
		p.BaselineRate = baseline
	}
	return p
}
