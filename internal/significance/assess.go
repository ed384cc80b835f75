package significance

import (
	"fmt"
	"math"
	"strings"

	"github.com/rotisserie/eris"

	"github.com/sells-group/geolift/internal/model"
	"github.com/sells-group/geolift/internal/schema"
)

// DefaultPopulation is used when a region has neither a population nor a
// population density.
const DefaultPopulation int64 = 50_000

// densityPopulationFactor converts populationDensity into a population
// proxy. The factor is carried over unverified from the dashboard this
// engine serves; it has no documented derivation.
const densityPopulationFactor = 10

// Params are the test-design inputs.
type Params struct {
	ExpectedLift float64 `json:"expected_lift" mapstructure:"expected_lift"`
	Alpha        float64 `json:"alpha" mapstructure:"alpha"`
	Beta         float64 `json:"beta" mapstructure:"beta"`
	BaselineRate float64 `json:"baseline_rate" mapstructure:"baseline_rate"`
}

// DefaultParams returns lift 0.15, alpha 0.05, beta 0.2, baseline 0.03.
func DefaultParams() Params {
	return Params{
		ExpectedLift: 0.15,
		Alpha:        0.05,
		Beta:         0.2,
		BaselineRate: 0.03,
	}
}

// WithDefaults fills zero-valued fields from DefaultParams.
func (p Params) WithDefaults() Params {
	d := DefaultParams()
	if p.ExpectedLift == 0 {
		p.ExpectedLift = d.ExpectedLift
	}
	if p.Alpha == 0 {
		p.Alpha = d.Alpha
	}
	if p.Beta == 0 {
		p.Beta = d.Beta
	}
	if p.BaselineRate == 0 {
		p.BaselineRate = d.BaselineRate
	}
	return p
}

// Validate checks that every parameter is in range.
func (p Params) Validate() error {
	var errs []string
	if !(p.BaselineRate > 0 && p.BaselineRate < 1) {
		errs = append(errs, fmt.Sprintf("baseline_rate must be in (0,1), got %g", p.BaselineRate))
	}
	if !(p.ExpectedLift > 0) {
		errs = append(errs, fmt.Sprintf("expected_lift must be > 0, got %g", p.ExpectedLift))
	}
	if !(p.Alpha > 0 && p.Alpha < 1) {
		errs = append(errs, fmt.Sprintf("alpha must be in (0,1), got %g", p.Alpha))
	}
	if !(p.Beta > 0 && p.Beta < 1) {
		errs = append(errs, fmt.Sprintf("beta must be in (0,1), got %g", p.Beta))
	}
	if len(errs) > 0 {
		return eris.Wrap(ErrInvalidParameters, strings.Join(errs, "; "))
	}
	return nil
}

// Population returns the population used for a region: Region.Population
// when set and positive, else populationDensity * 10, else DefaultPopulation.
func Population(r model.Region) int64 {
	if r.Population != nil && *r.Population > 0 {
		return *r.Population
	}
	if d, ok := r.Profile[schema.VarPopulationDensity]; ok && !d.IsCategorical() && d.Float() > 0 {
		return int64(math.Round(d.Float() * densityPopulationFactor))
	}
	return DefaultPopulation
}

// Assess evaluates target and candidate as prospective treatment and control
// populations. Zero-valued params fall back to DefaultParams.
func Assess(target, candidate model.Region, p Params) (*model.SignificanceAssessment, error) {
	p = p.WithDefaults()
	if err := p.Validate(); err != nil {
		return nil, err
	}
	return assess(Population(target), Population(candidate), p)
}

// AssessPopulations evaluates two raw populations.
func AssessPopulations(targetPop, candidatePop int64, p Params) (*model.SignificanceAssessment, error) {
	p = p.WithDefaults()
	if err := p.Validate(); err != nil {
		return nil, err
	}
	return assess(targetPop, candidatePop, p)
}

func assess(targetPop, candidatePop int64, p Params) (*model.SignificanceAssessment, error) {
	n, err := MinimumSampleSize(p.BaselineRate, p.ExpectedLift, p.Alpha, p.Beta)
	if err != nil {
		return nil, err
	}

	power := AchievedPower(targetPop, candidatePop, p.BaselineRate, p.ExpectedLift)

	return &model.SignificanceAssessment{
		MinimumSampleSize:        n,
		AchievedPower:            power,
		RecommendedDurationWeeks: RecommendedDurationWeeks(n, min(targetPop, candidatePop)),
		ConfidenceLevel:          Confidence(power),
		SampleSizeAdequate: model.SampleAdequacy{
			Target:    targetPop >= int64(n),
			Candidate: candidatePop >= int64(n),
		},
		TargetPopulation:    targetPop,
		CandidatePopulation: candidatePop,
	}, nil
}

// AssessMany attaches an assessment to each result, preserving order. The
// input slice is not modified.
func AssessMany(target model.Region, results []model.SimilarityResult, p Params) ([]model.SimilarityResult, error) {
	p = p.WithDefaults()
	if err := p.Validate(); err != nil {
		return nil, err
	}

	out := make([]model.SimilarityResult, len(results))
	targetPop := Population(target)
	for i, r := range results {
		a, err := assess(targetPop, Population(r.Region), p)
		if err != nil {
			return nil, eris.Wrapf(err, "significance: assess %s", r.Region.ID)
		}
		r.Assessment = a
		out[i] = r
	}
	return out, nil
}
