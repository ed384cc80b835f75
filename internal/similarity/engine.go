// Package similarity scores demographic similarity between regions, ranks
// candidate control regions for a target, and explains each match.
package similarity

import (
	"math"

	"github.com/rotisserie/eris"
	"go.uber.org/zap"

	"github.com/sells-group/geolift/internal/model"
	"github.com/sells-group/geolift/internal/schema"
)

// Explanation thresholds.
const (
	// CloseThreshold is the normalized absolute difference below which a
	// variable counts as close.
	CloseThreshold = 0.10
	// ReasonWeightFloor is the schema weight a close variable must exceed to
	// be surfaced as a match reason.
	ReasonWeightFloor = 0.08
	// MaxReasons caps the number of match reasons per result.
	MaxReasons = 4
)

// Engine compares regions under a fixed schema. It holds no mutable state
// and is safe for concurrent use.
type Engine struct {
	schema  *schema.Schema
	workers int
}

// Option configures an Engine.
type Option func(*Engine)

// WithWorkers sets how many candidates RankCandidates scores concurrently.
// Values below 1 are ignored.
func WithWorkers(n int) Option {
	return func(e *Engine) {
		if n > 0 {
			e.workers = n
		}
	}
}

// New creates an Engine for the given schema. A nil schema selects
// schema.Default().
func New(s *schema.Schema, opts ...Option) *Engine {
	if s == nil {
		s = schema.Default()
	}
	e := &Engine{schema: s, workers: 4}
	for _, opt := range opts {
		opt(e)
	}
	return e
}

// Schema returns the schema the engine scores against.
func (e *Engine) Schema() *schema.Schema { return e.schema }

// Similarity scores candidate against target on [0,1], 1 meaning identical
// under the metric. Only variables present in both profiles take part; when
// none overlap the score is 0. overrides replaces schema weights by variable
// name (negative overrides count as 0).
func (e *Engine) Similarity(target, candidate model.Region, metric Metric, overrides map[string]float64) (float64, error) {
	if !metric.Valid() {
		return 0, eris.Wrapf(ErrInvalidMetric, "%q", string(metric))
	}

	pairs, err := e.shared(target, candidate, overrides)
	if err != nil {
		return 0, err
	}
	if len(pairs) == 0 {
		zap.L().Debug("similarity: no overlapping variables",
			zap.String("target", target.ID),
			zap.String("candidate", candidate.ID),
		)
		return 0, nil
	}

	switch metric {
	case Cosine:
		return cosine(pairs), nil
	case SimplifiedMahalanobis:
		return simplifiedMahalanobis(pairs), nil
	default:
		return weightedEuclidean(pairs), nil
	}
}

// shared normalizes every schema variable present in both profiles, in
// schema order. Variables with a non-finite value on either side are
// skipped.
func (e *Engine) shared(target, candidate model.Region, overrides map[string]float64) ([]pair, error) {
	pairs := make([]pair, 0, e.schema.Len())
	for i := 0; i < e.schema.Len(); i++ {
		v := e.schema.At(i)
		tv, ok := target.Profile[v.Name]
		if !ok {
			continue
		}
		cv, ok := candidate.Profile[v.Name]
		if !ok || !finite(tv) || !finite(cv) {
			continue
		}

		a, err := schema.Normalize(tv, v)
		if err != nil {
			return nil, eris.Wrapf(err, "similarity: region %s", target.ID)
		}
		b, err := schema.Normalize(cv, v)
		if err != nil {
			return nil, eris.Wrapf(err, "similarity: region %s", candidate.ID)
		}

		w := v.Weight
		if o, ok := overrides[v.Name]; ok {
			w = math.Max(0, o)
		}
		pairs = append(pairs, pair{name: v.Name, weight: w, a: a, b: b})
	}
	return pairs, nil
}

// MatchReasons names up to MaxReasons shared variables whose normalized
// difference is below CloseThreshold and whose schema weight exceeds
// ReasonWeightFloor, in schema order.
func (e *Engine) MatchReasons(target, candidate model.Region) ([]string, error) {
	pairs, err := e.shared(target, candidate, nil)
	if err != nil {
		return nil, err
	}

	reasons := make([]string, 0, MaxReasons)
	for _, p := range pairs {
		if len(reasons) == MaxReasons {
			break
		}
		if math.Abs(p.a-p.b) < CloseThreshold && p.weight > ReasonWeightFloor {
			reasons = append(reasons, e.schema.Label(p.name))
		}
	}
	return reasons, nil
}

// CompareDemographics returns a per-variable comparison for every shared
// variable. Differences use raw values (category positions for categorical
// variables); PercentDifference is relative to the target and is 0 when the
// target value is 0. IsClose uses normalized values.
func (e *Engine) CompareDemographics(target, candidate model.Region) (map[string]model.VariableComparison, error) {
	pairs, err := e.shared(target, candidate, nil)
	if err != nil {
		return nil, err
	}

	out := make(map[string]model.VariableComparison, len(pairs))
	for _, p := range pairs {
		v, _ := e.schema.Lookup(p.name)
		tv, cv := target.Profile[p.name], candidate.Profile[p.name]

		tn, cn := rawNumber(tv, v), rawNumber(cv, v)
		abs := math.Abs(tn - cn)
		var pct float64
		if tn != 0 {
			pct = abs / math.Abs(tn) * 100
		}

		out[p.name] = model.VariableComparison{
			TargetValue:        tv,
			CandidateValue:     cv,
			AbsoluteDifference: abs,
			PercentDifference:  pct,
			IsClose:            math.Abs(p.a-p.b) < CloseThreshold,
		}
	}
	return out, nil
}

// finite reports whether a numeric value is neither NaN nor infinite.
// Categorical values are always finite.
func finite(v model.Value) bool {
	if v.IsCategorical() {
		return true
	}
	f := v.Float()
	return !math.IsNaN(f) && !math.IsInf(f, 0)
}

// rawNumber returns the comparable raw number for a value: the value itself
// for numeric variables, the category position for categorical ones.
func rawNumber(val model.Value, v schema.Variable) float64 {
	if v.Kind == schema.KindCategorical {
		return float64(v.CategoryIndex(val.Category()))
	}
	return val.Float()
}
