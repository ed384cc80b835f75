package similarity

import (
	"sort"

	"github.com/rotisserie/eris"
	"go.uber.org/zap"
	"golang.org/x/sync/errgroup"

	"github.com/sells-group/geolift/internal/geo"
	"github.com/sells-group/geolift/internal/model"
)

// Ranking defaults.
const (
	DefaultMinSimilarity = 0.7
	DefaultMaxResults    = 10
)

// RankOptions controls candidate filtering and truncation.
type RankOptions struct {
	// MinSimilarity drops candidates scoring below it. nil means
	// DefaultMinSimilarity.
	MinSimilarity *float64 `json:"min_similarity,omitempty"`
	// MaxResults caps the output length. Zero or negative means
	// DefaultMaxResults.
	MaxResults int `json:"max_results,omitempty"`
	// ExcludeIDs are never returned. The target is always excluded.
	ExcludeIDs []string `json:"exclude_ids,omitempty"`
	// WeightOverrides replace schema weights by variable name.
	WeightOverrides map[string]float64 `json:"weight_overrides,omitempty"`
	// ExcludeWithinKM drops candidates whose centroid lies within this
	// distance of the target's. Regions without coordinates are kept.
	ExcludeWithinKM float64 `json:"exclude_within_km,omitempty"`
}

func (o RankOptions) minSimilarity() float64 {
	if o.MinSimilarity == nil {
		return DefaultMinSimilarity
	}
	return *o.MinSimilarity
}

func (o RankOptions) maxResults() int {
	if o.MaxResults <= 0 {
		return DefaultMaxResults
	}
	return o.MaxResults
}

// RankCandidates scores every eligible candidate against target, keeps those
// at or above the minimum similarity, and returns them sorted by score
// descending with ties broken by region id ascending. An empty pool yields an
// empty, non-nil slice.
func (e *Engine) RankCandidates(target model.Region, candidates []model.Region, metric Metric, opts RankOptions) ([]model.SimilarityResult, error) {
	if !metric.Valid() {
		return nil, eris.Wrapf(ErrInvalidMetric, "%q", string(metric))
	}
	if len(candidates) == 0 {
		zap.L().Debug("similarity: empty candidate pool", zap.String("target", target.ID))
		return []model.SimilarityResult{}, nil
	}

	excluded := make(map[string]bool, len(opts.ExcludeIDs)+1)
	excluded[target.ID] = true
	for _, id := range opts.ExcludeIDs {
		excluded[id] = true
	}

	eligible := make([]model.Region, 0, len(candidates))
	var spillover int
	for _, c := range candidates {
		if excluded[c.ID] {
			continue
		}
		if geo.WithinKM(target, c, opts.ExcludeWithinKM) {
			spillover++
			continue
		}
		eligible = append(eligible, c)
	}

	minSim := opts.minSimilarity()
	scored := make([]*model.SimilarityResult, len(eligible))

	var g errgroup.Group
	g.SetLimit(e.workers)
	for i, c := range eligible {
		g.Go(func() error {
			res, err := e.score(target, c, metric, opts.WeightOverrides, minSim)
			if err != nil {
				return err
			}
			scored[i] = res
			return nil
		})
	}
	if err := g.Wait(); err != nil {
		return nil, err
	}

	results := make([]model.SimilarityResult, 0, len(scored))
	for _, r := range scored {
		if r != nil {
			results = append(results, *r)
		}
	}

	sortResults(results)

	if limit := opts.maxResults(); len(results) > limit {
		results = results[:limit]
	}

	zap.L().Debug("similarity: ranked candidates",
		zap.String("target", target.ID),
		zap.String("metric", string(metric)),
		zap.Int("pool", len(candidates)),
		zap.Int("eligible", len(eligible)),
		zap.Int("spillover_excluded", spillover),
		zap.Int("returned", len(results)),
	)

	return results, nil
}

// score builds the full result for one candidate, or nil when it falls below
// minSim.
func (e *Engine) score(target, candidate model.Region, metric Metric, overrides map[string]float64, minSim float64) (*model.SimilarityResult, error) {
	s, err := e.Similarity(target, candidate, metric, overrides)
	if err != nil {
		return nil, err
	}
	// NaN never passes the threshold.
	if !(s >= minSim) {
		return nil, nil
	}

	reasons, err := e.MatchReasons(target, candidate)
	if err != nil {
		return nil, err
	}
	comparison, err := e.CompareDemographics(target, candidate)
	if err != nil {
		return nil, err
	}

	return &model.SimilarityResult{
		Region:       candidate,
		Score:        s,
		MatchReasons: reasons,
		Comparison:   comparison,
	}, nil
}

func sortResults(results []model.SimilarityResult) {
	sort.Slice(results, func(i, j int) bool {
		if results[i].Score != results[j].Score {
			return results[i].Score > results[j].Score
		}
		return results[i].Region.ID < results[j].Region.ID
	})
}
