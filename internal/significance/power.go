// Package significance estimates whether a target/candidate pairing can
// support a designed geo experiment: per-arm sample size, a power proxy, a
// recommended duration and a confidence label.
//
// AchievedPower is a coarse, monotonic heuristic, not a textbook power
// calculation. It is meant for ranking and labeling candidate designs
// relative to each other. Do not use it for decisions that need an exact
// power figure; replacing it with a normal-approximation two-proportion
// power test would change every confidence label downstream.
package significance

import (
	"math"

	"github.com/rotisserie/eris"

	"github.com/sells-group/geolift/internal/model"
)

// Bounds and thresholds.
const (
	MinDurationWeeks = 2
	MaxDurationWeeks = 12

	powerFloor   = 0.05
	powerCeiling = 0.99

	HighPowerThreshold   = 0.8
	MediumPowerThreshold = 0.6
)

// ErrInvalidParameters is returned when test parameters are outside their
// valid ranges.
var ErrInvalidParameters = eris.New("significance: invalid parameters")

// Locked critical values. Other alpha/beta levels fall back to the inverse
// normal CDF.
var (
	twoSidedZ = map[float64]float64{0.01: 2.576, 0.05: 1.96, 0.10: 1.645}
	oneSidedZ = map[float64]float64{0.05: 1.645, 0.10: 1.28, 0.20: 0.84}
)

// ZAlpha returns the two-sided critical value for significance level alpha.
func ZAlpha(alpha float64) float64 {
	if z, ok := twoSidedZ[alpha]; ok {
		return z
	}
	return math.Sqrt2 * math.Erfinv(1-alpha)
}

// ZBeta returns the one-sided critical value for power 1-beta.
func ZBeta(beta float64) float64 {
	if z, ok := oneSidedZ[beta]; ok {
		return z
	}
	return math.Sqrt2 * math.Erfinv(1-2*beta)
}

// MinimumSampleSize returns the per-arm sample size needed to detect a
// relative lift over baselineRate with the two-proportion approximation:
//
//	n = ceil((z_alpha + z_beta)^2 * 2 * p(1-p) / (p2 - p1)^2), p = (p1+p2)/2
func MinimumSampleSize(baselineRate, expectedLift, alpha, beta float64) (int, error) {
	p := Params{BaselineRate: baselineRate, ExpectedLift: expectedLift, Alpha: alpha, Beta: beta}
	if err := p.Validate(); err != nil {
		return 0, err
	}

	p1 := baselineRate
	p2 := baselineRate * (1 + expectedLift)
	pooled := (p1 + p2) / 2
	z := ZAlpha(alpha) + ZBeta(beta)

	n := z * z * 2 * pooled * (1 - pooled) / ((p2 - p1) * (p2 - p1))
	return int(math.Ceil(n)), nil
}

// AchievedPower returns the power proxy for two populations:
//
//	clamp(effect * sqrt(harmonicMean(a, b)) / 4, 0.05, 0.99)
//
// where effect = expectedLift / sqrt(baselineRate * (1 - baselineRate)).
// Non-positive populations yield the floor.
func AchievedPower(populationA, populationB int64, baselineRate, expectedLift float64) float64 {
	if populationA <= 0 || populationB <= 0 {
		return powerFloor
	}
	variance := baselineRate * (1 - baselineRate)
	if variance <= 0 {
		return powerFloor
	}

	effect := expectedLift / math.Sqrt(variance)
	harmonic := 2 / (1/float64(populationA) + 1/float64(populationB))
	power := effect * math.Sqrt(harmonic) / 4
	return math.Min(powerCeiling, math.Max(powerFloor, power))
}

// RecommendedDurationWeeks scales the sample requirement against a year of
// exposure: clamp(ceil(n / population * 52), 2, 12).
func RecommendedDurationWeeks(minimumSampleSize int, population int64) int {
	if population <= 0 {
		return MaxDurationWeeks
	}
	weeks := int(math.Ceil(float64(minimumSampleSize) / float64(population) * 52))
	return min(MaxDurationWeeks, max(MinDurationWeeks, weeks))
}

// Confidence maps achieved power to a discrete label.
func Confidence(power float64) model.ConfidenceLevel {
	switch {
	case power >= HighPowerThreshold:
		return model.ConfidenceHigh
	case power >= MediumPowerThreshold:
		return model.ConfidenceMedium
	default:
		return model.ConfidenceLow
	}
}
