package provider

import (
	"context"

	"github.com/rotisserie/eris"
	"go.uber.org/zap"

	"github.com/sells-group/geolift/internal/model"
	"github.com/sells-group/geolift/internal/resilience"
)

// Chain consults providers in priority order (e.g. authoritative, then
// estimated). An optional overlay provider contributes per-variable
// overrides, typically user-uploaded data, on top of whichever base
// record was found.
type Chain struct {
	providers []RegionProvider
	overlay   RegionProvider
	retry     resilience.RetryConfig
}

// ChainOption configures a Chain.
type ChainOption func(*Chain)

// WithOverlay sets the overlay provider.
func WithOverlay(p RegionProvider) ChainOption {
	return func(c *Chain) { c.overlay = p }
}

// WithRetry sets the retry policy applied to each provider call.
func WithRetry(cfg resilience.RetryConfig) ChainOption {
	return func(c *Chain) { c.retry = cfg }
}

// NewChain returns a Chain over providers, highest priority first.
func NewChain(providers []RegionProvider, opts ...ChainOption) *Chain {
	c := &Chain{
		providers: providers,
		retry:     resilience.DefaultRetryConfig(),
	}
	for _, opt := range opts {
		opt(c)
	}
	return c
}

func (c *Chain) fetch(ctx context.Context, p RegionProvider, id string, regionType model.RegionType) (model.Region, error) {
	cfg := c.retry
	cfg.OnRetry = resilience.RetryLogger("chain", "fetch_region")
	return resilience.DoVal(ctx, cfg, func(ctx context.Context) (model.Region, error) {
		return p.FetchRegion(ctx, id, regionType)
	})
}

// FetchRegion returns the first provider's record for id with the overlay
// applied. A region known only to the overlay is returned as is.
func (c *Chain) FetchRegion(ctx context.Context, id string, regionType model.RegionType) (model.Region, error) {
	var (
		base  model.Region
		found bool
	)
	for i, p := range c.providers {
		r, err := c.fetch(ctx, p, id, regionType)
		if eris.Is(err, ErrNotFound) {
			continue
		}
		if err != nil {
			return model.Region{}, eris.Wrapf(err, "provider: chain[%d] fetch %s", i, id)
		}
		base, found = r, true
		break
	}

	if c.overlay == nil {
		if !found {
			return model.Region{}, NotFound(id, regionType)
		}
		return base, nil
	}

	over, err := c.fetch(ctx, c.overlay, id, regionType)
	switch {
	case eris.Is(err, ErrNotFound):
		if !found {
			return model.Region{}, NotFound(id, regionType)
		}
		return base, nil
	case err != nil:
		return model.Region{}, eris.Wrapf(err, "provider: overlay fetch %s", id)
	case !found:
		return over, nil
	}

	zap.L().Debug("provider: applying overlay",
		zap.String("region", id),
		zap.String("base_source", base.Source),
		zap.String("overlay_source", over.Source),
		zap.Int("overlay_vars", len(over.Profile)),
	)
	return base.WithOverlay(over.Profile, over.Source), nil
}

// FetchCandidatePool merges the pools of every provider. When two providers
// return the same id the higher-priority record wins; overlay records are
// then merged on top. The limit applies after merging.
func (c *Chain) FetchCandidatePool(ctx context.Context, regionType model.RegionType, filter PoolFilter) ([]model.Region, error) {
	inner := filter
	inner.Limit = 0

	cfg := c.retry
	cfg.OnRetry = resilience.RetryLogger("chain", "fetch_candidate_pool")

	byID := make(map[string]model.Region)
	for i, p := range c.providers {
		pool, err := resilience.DoVal(ctx, cfg, func(ctx context.Context) ([]model.Region, error) {
			return p.FetchCandidatePool(ctx, regionType, inner)
		})
		if err != nil {
			return nil, eris.Wrapf(err, "provider: chain[%d] candidate pool", i)
		}
		for _, r := range pool {
			if _, seen := byID[r.ID]; !seen {
				byID[r.ID] = r
			}
		}
	}

	if c.overlay != nil {
		overlayFilter := PoolFilter{IDPrefix: filter.IDPrefix}
		pool, err := resilience.DoVal(ctx, cfg, func(ctx context.Context) ([]model.Region, error) {
			return c.overlay.FetchCandidatePool(ctx, regionType, overlayFilter)
		})
		if err != nil {
			return nil, eris.Wrap(err, "provider: overlay candidate pool")
		}
		for _, over := range pool {
			if base, ok := byID[over.ID]; ok {
				byID[over.ID] = base.WithOverlay(over.Profile, over.Source)
			} else if filter.Match(over) {
				byID[over.ID] = over
			}
		}
	}

	out := make([]model.Region, 0, len(byID))
	for _, r := range byID {
		out = append(out, r)
	}
	return sortAndLimit(out, filter.Limit), nil
}
