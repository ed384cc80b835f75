// Package design assembles a geo-experiment design for a target region:
// fetch the candidate pool, rank it, optionally attach significance
// assessments, and optionally persist the run.
package design

import (
	"context"
	"time"

	"github.com/rotisserie/eris"
	"go.uber.org/zap"

	"github.com/sells-group/geolift/internal/model"
	"github.com/sells-group/geolift/internal/provider"
	"github.com/sells-group/geolift/internal/schema"
	"github.com/sells-group/geolift/internal/significance"
	"github.com/sells-group/geolift/internal/similarity"
)

// ErrInvalidRequest is returned for malformed plan requests.
var ErrInvalidRequest = eris.New("design: invalid request")

// RunSaver persists match runs. store.Store satisfies it.
type RunSaver interface {
	SaveMatchRun(ctx context.Context, run *model.MatchRun) error
}

// Request describes one planning call.
type Request struct {
	TargetID   string                 `json:"target_id" validate:"required"`
	RegionType model.RegionType       `json:"region_type,omitempty"`
	Metric     similarity.Metric      `json:"metric,omitempty"`
	Rank       similarity.RankOptions `json:"rank"`
	Filter     provider.PoolFilter    `json:"filter"`
	Assess     bool                   `json:"assess,omitempty"`
	Params     significance.Params    `json:"params"`
	Save       bool                   `json:"save,omitempty"`
}

// Plan is the ordered list of control candidates for a target.
type Plan struct {
	RunID      string                   `json:"run_id,omitempty"`
	Target     model.Region             `json:"target"`
	RegionType model.RegionType         `json:"region_type"`
	Metric     similarity.Metric        `json:"metric"`
	PoolSize   int                      `json:"pool_size"`
	Results    []model.SimilarityResult `json:"results"`
}

// Planner runs Requests against a region provider.
type Planner struct {
	regions       provider.RegionProvider
	saver         RunSaver
	custom        *schema.Schema
	workers       int
	defaultMetric similarity.Metric
	rank          similarity.RankOptions
	poolLimit     int
	params        significance.Params
	engines       map[model.RegionType]*similarity.Engine
}

// Option configures a Planner.
type Option func(*Planner)

// WithSaver enables Request.Save.
func WithSaver(s RunSaver) Option {
	return func(p *Planner) { p.saver = s }
}

// WithSchema scores every region type against s instead of the per-market
// default schemas.
func WithSchema(s *schema.Schema) Option {
	return func(p *Planner) { p.custom = s }
}

// WithWorkers sets ranking concurrency.
func WithWorkers(n int) Option {
	return func(p *Planner) { p.workers = n }
}

// WithDefaultMetric sets the metric used when a Request names none.
func WithDefaultMetric(m similarity.Metric) Option {
	return func(p *Planner) { p.defaultMetric = m }
}

// WithDefaultParams sets the significance parameters merged under each
// Request's Params.
func WithDefaultParams(params significance.Params) Option {
	return func(p *Planner) { p.params = params }
}

// WithDefaultRank sets the minimum similarity, result cap, spillover buffer
// and weight overrides used where a Request leaves them unset.
func WithDefaultRank(o similarity.RankOptions) Option {
	return func(p *Planner) { p.rank = o }
}

// WithPoolLimit caps candidate pools for Requests whose filter sets no limit.
func WithPoolLimit(n int) Option {
	return func(p *Planner) { p.poolLimit = n }
}

// New creates a Planner reading regions from regions.
func New(regions provider.RegionProvider, opts ...Option) *Planner {
	p := &Planner{
		regions:       regions,
		workers:       4,
		defaultMetric: similarity.WeightedEuclidean,
		params:        significance.DefaultParams(),
	}
	for _, opt := range opts {
		opt(p)
	}

	p.engines = make(map[model.RegionType]*similarity.Engine)
	for _, t := range []model.RegionType{model.RegionTypeZIP, model.RegionTypeDMA, model.RegionTypeCounty, model.RegionTypeState} {
		s := p.custom
		if s == nil {
			s = schema.ForMarket(t)
		}
		p.engines[t] = similarity.New(s, similarity.WithWorkers(p.workers))
	}
	return p
}

// Engine returns the engine used for a region type.
func (p *Planner) Engine(t model.RegionType) *similarity.Engine {
	if e, ok := p.engines[t]; ok {
		return e
	}
	return p.engines[model.RegionTypeZIP]
}

// Params returns req's significance parameters merged over the planner
// defaults.
func (p *Planner) Params(req significance.Params) significance.Params {
	if req.ExpectedLift == 0 {
		req.ExpectedLift = p.params.ExpectedLift
	}
	if req.Alpha == 0 {
		req.Alpha = p.params.Alpha
	}
	if req.Beta == 0 {
		req.Beta = p.params.Beta
	}
	if req.BaselineRate == 0 {
		req.BaselineRate = p.params.BaselineRate
	}
	return req
}

// RankOptions returns req merged over the planner's default rank options.
// Zero values count as unset.
func (p *Planner) RankOptions(req similarity.RankOptions) similarity.RankOptions {
	if req.MinSimilarity == nil {
		req.MinSimilarity = p.rank.MinSimilarity
	}
	if req.MaxResults <= 0 {
		req.MaxResults = p.rank.MaxResults
	}
	if req.ExcludeWithinKM == 0 {
		req.ExcludeWithinKM = p.rank.ExcludeWithinKM
	}
	if req.WeightOverrides == nil {
		req.WeightOverrides = p.rank.WeightOverrides
	}
	return req
}

// Plan fetches the target and its candidate pool, ranks the pool and
// applies the optional assessment and persistence steps. A missing target
// is an error; an empty pool is an empty plan.
func (p *Planner) Plan(ctx context.Context, req Request) (*Plan, error) {
	if req.TargetID == "" {
		return nil, eris.Wrap(ErrInvalidRequest, "target_id is required")
	}
	regionType := req.RegionType
	if regionType == "" {
		regionType = model.RegionTypeZIP
	}
	if !regionType.Valid() {
		return nil, eris.Wrapf(ErrInvalidRequest, "unknown region type %q", regionType)
	}
	metric := req.Metric
	if metric == "" {
		metric = p.defaultMetric
	}
	metric, err := similarity.ParseMetric(string(metric))
	if err != nil {
		return nil, err
	}

	start := time.Now()

	target, err := p.regions.FetchRegion(ctx, req.TargetID, regionType)
	if err != nil {
		return nil, eris.Wrapf(err, "design: fetch target %s", req.TargetID)
	}

	filter := req.Filter
	if filter.Limit <= 0 {
		filter.Limit = p.poolLimit
	}
	pool, err := p.regions.FetchCandidatePool(ctx, regionType, filter)
	if err != nil {
		return nil, eris.Wrap(err, "design: fetch candidate pool")
	}

	results, err := p.Engine(regionType).RankCandidates(target, pool, metric, p.RankOptions(req.Rank))
	if err != nil {
		return nil, eris.Wrapf(err, "design: rank candidates for %s", req.TargetID)
	}

	if req.Assess {
		results, err = significance.AssessMany(target, results, p.Params(req.Params))
		if err != nil {
			return nil, eris.Wrap(err, "design: assess candidates")
		}
	}

	plan := &Plan{
		Target:     target,
		RegionType: regionType,
		Metric:     metric,
		PoolSize:   len(pool),
		Results:    results,
	}

	if req.Save {
		if p.saver == nil {
			return nil, eris.Wrap(ErrInvalidRequest, "save requested but no run store is configured")
		}
		run := &model.MatchRun{
			TargetID:   target.ID,
			RegionType: regionType,
			Metric:     string(metric),
			Assessed:   req.Assess,
			PoolSize:   len(pool),
			Results:    results,
		}
		if err := p.saver.SaveMatchRun(ctx, run); err != nil {
			return nil, eris.Wrap(err, "design: save match run")
		}
		plan.RunID = run.ID
	}

	zap.L().Info("design: plan complete",
		zap.String("target", target.ID),
		zap.String("region_type", string(regionType)),
		zap.String("metric", string(metric)),
		zap.Int("pool", len(pool)),
		zap.Int("results", len(results)),
		zap.Bool("assessed", req.Assess),
		zap.String("run_id", plan.RunID),
		zap.Duration("elapsed", time.Since(start)),
	)
	return plan, nil
}
