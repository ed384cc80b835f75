// Package geo provides great-circle distance and urbanicity classification
// for regions.
package geo

// Urbanicity categories, ordered as in the built-in schemas.
const (
	ClassRural    = "rural"
	ClassSuburban = "suburban"
	ClassUrban    = "urban"
)

// Density thresholds for classification (people per square mile).
const (
	suburbanDensityThreshold = 500.0
	urbanDensityThreshold    = 3000.0
)

// Classify returns the urbanicity category for a population density.
// Rules:
//   - rural: density < 500
//   - suburban: 500 <= density < 3000
//   - urban: density >= 3000
func Classify(density float64) string {
	switch {
	case density >= urbanDensityThreshold:
		return ClassUrban
	case density >= suburbanDensityThreshold:
		return ClassSuburban
	default:
		return ClassRural
	}
}
