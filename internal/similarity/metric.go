package similarity

import (
	"math"
	"strings"

	"github.com/rotisserie/eris"
)

// Metric selects how normalized profiles are compared.
type Metric string

const (
	// WeightedEuclidean is the RMS weighted distance converted to 1 - d.
	WeightedEuclidean Metric = "weighted_euclidean"
	// Cosine compares the unweighted shape of the normalized vectors.
	Cosine Metric = "cosine"
	// SimplifiedMahalanobis is a weighted mean absolute deviation. It does
	// not use a covariance matrix; it is not a true Mahalanobis distance.
	SimplifiedMahalanobis Metric = "simplified_mahalanobis"
)

// ErrInvalidMetric is returned for an unrecognized metric selector.
var ErrInvalidMetric = eris.New("similarity: invalid metric")

// Metrics lists the supported metrics in display order.
func Metrics() []Metric {
	return []Metric{WeightedEuclidean, Cosine, SimplifiedMahalanobis}
}

// Valid reports whether m is a supported metric.
func (m Metric) Valid() bool {
	switch m {
	case WeightedEuclidean, Cosine, SimplifiedMahalanobis:
		return true
	}
	return false
}

// ParseMetric resolves a metric name. Matching ignores case, dashes and
// underscores, so "weightedEuclidean", "weighted-euclidean" and
// "WEIGHTED_EUCLIDEAN" are equivalent. An empty name selects WeightedEuclidean.
func ParseMetric(name string) (Metric, error) {
	key := strings.NewReplacer("_", "", "-", "", " ", "").Replace(strings.ToLower(name))
	switch key {
	case "", "weightedeuclidean", "euclidean":
		return WeightedEuclidean, nil
	case "cosine":
		return Cosine, nil
	case "simplifiedmahalanobis", "mahalanobis":
		return SimplifiedMahalanobis, nil
	}
	return "", eris.Wrapf(ErrInvalidMetric, "%q", name)
}

// pair is one shared variable: its weight and both normalized values.
type pair struct {
	name   string
	weight float64
	a, b   float64
}

func weightedEuclidean(pairs []pair) float64 {
	var sumSq, sumW float64
	for _, p := range pairs {
		d := p.a - p.b
		sumSq += d * d * p.weight
		sumW += p.weight
	}
	if sumW <= 0 {
		return 0
	}
	dist := math.Sqrt(sumSq / sumW)
	return math.Max(0, 1-dist)
}

func cosine(pairs []pair) float64 {
	var dot, na, nb float64
	for _, p := range pairs {
		dot += p.a * p.b
		na += p.a * p.a
		nb += p.b * p.b
	}
	switch {
	case na == 0 && nb == 0:
		// Both vectors sit at the origin: identical profiles.
		return 1
	case na == 0 || nb == 0:
		return 0
	}
	sim := dot / (math.Sqrt(na) * math.Sqrt(nb))
	return clamp01(sim)
}

func simplifiedMahalanobis(pairs []pair) float64 {
	var sumAbs, sumW float64
	for _, p := range pairs {
		sumAbs += math.Abs(p.a-p.b) * p.weight
		sumW += p.weight
	}
	if sumW <= 0 {
		return 0
	}
	return math.Max(0, 1-sumAbs/sumW)
}

func clamp01(v float64) float64 {
	return math.Min(1, math.Max(0, v))
}
