package schema

import (
	"github.com/sells-group/geolift/internal/model"
)

// Variable names shared by the built-in schemas.
const (
	VarMedianIncome      = "medianIncome"
	VarMedianAge         = "medianAge"
	VarPopulationDensity = "populationDensity"
	VarCollegeEducated   = "collegeEducated"
	VarHomeOwnership     = "homeOwnership"
	VarUnemploymentRate  = "unemploymentRate"
	VarHouseholdSize     = "avgHouseholdSize"
	VarMedianHomeValue   = "medianHomeValue"
	VarUrbanicity        = "urbanicity"
	VarDigitalAdoption   = "digitalAdoption"
	VarDiversityIndex    = "diversityIndex"
	VarPovertyRate       = "povertyRate"
	VarTVHouseholds      = "tvHouseholds"
)

// UrbanicityCategories is the ordered category list for VarUrbanicity.
var UrbanicityCategories = []string{"rural", "suburban", "urban"}

// zipVariables holds the ZIP-level catalogue. Weights sum to 1.
var zipVariables = []Variable{
	{Name: VarMedianIncome, Label: "Similar median household income", Weight: 0.15, Kind: KindContinuous, Min: 20_000, Max: 200_000},
	{Name: VarMedianAge, Label: "Similar age profile", Weight: 0.10, Kind: KindContinuous, Min: 18, Max: 65},
	{Name: VarPopulationDensity, Label: "Similar population density", Weight: 0.08, Kind: KindContinuous, Min: 0, Max: 20_000},
	{Name: VarCollegeEducated, Label: "Similar education levels", Weight: 0.12, Kind: KindPercentage},
	{Name: VarHomeOwnership, Label: "Similar home ownership rates", Weight: 0.10, Kind: KindPercentage},
	{Name: VarUnemploymentRate, Label: "Similar unemployment rate", Weight: 0.07, Kind: KindPercentage},
	{Name: VarHouseholdSize, Label: "Similar household size", Weight: 0.06, Kind: KindContinuous, Min: 1, Max: 5},
	{Name: VarMedianHomeValue, Label: "Similar home values", Weight: 0.09, Kind: KindContinuous, Min: 50_000, Max: 1_500_000},
	{Name: VarUrbanicity, Label: "Same urbanicity", Weight: 0.10, Kind: KindCategorical, Categories: UrbanicityCategories},
	{Name: VarDigitalAdoption, Label: "Similar digital adoption", Weight: 0.05, Kind: KindPercentage},
	{Name: VarDiversityIndex, Label: "Similar diversity", Weight: 0.04, Kind: KindPercentage},
	{Name: VarPovertyRate, Label: "Similar poverty rate", Weight: 0.04, Kind: KindPercentage},
}

// dmaVariables holds the media-market catalogue. Market-level aggregates
// have narrower ranges and a TV reach variable.
var dmaVariables = []Variable{
	{Name: VarMedianIncome, Label: "Similar median household income", Weight: 0.18, Kind: KindContinuous, Min: 35_000, Max: 120_000},
	{Name: VarMedianAge, Label: "Similar age profile", Weight: 0.12, Kind: KindContinuous, Min: 28, Max: 50},
	{Name: VarPopulationDensity, Label: "Similar population density", Weight: 0.10, Kind: KindContinuous, Min: 0, Max: 5_000},
	{Name: VarCollegeEducated, Label: "Similar education levels", Weight: 0.14, Kind: KindPercentage},
	{Name: VarHomeOwnership, Label: "Similar home ownership rates", Weight: 0.10, Kind: KindPercentage},
	{Name: VarUrbanicity, Label: "Same urbanicity", Weight: 0.12, Kind: KindCategorical, Categories: UrbanicityCategories},
	{Name: VarTVHouseholds, Label: "Similar TV household reach", Weight: 0.14, Kind: KindContinuous, Min: 0, Max: 7_500_000},
	{Name: VarDigitalAdoption, Label: "Similar digital adoption", Weight: 0.10, Kind: KindPercentage},
}

var (
	zipSchema = mustNew("zip", zipVariables)
	dmaSchema = mustNew("dma", dmaVariables)
)

func mustNew(name string, vars []Variable) *Schema {
	s, err := New(name, vars)
	if err != nil {
		panic(err)
	}
	return s
}

// Default returns the built-in ZIP-level schema.
func Default() *Schema { return zipSchema }

// DMA returns the built-in media-market schema.
func DMA() *Schema { return dmaSchema }

// ForMarket returns the built-in schema for a region type. County and state
// regions use the ZIP catalogue.
func ForMarket(t model.RegionType) *Schema {
	if t == model.RegionTypeDMA {
		return dmaSchema
	}
	return zipSchema
}
