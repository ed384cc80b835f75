package significance

import (
	"testing"

	"github.com/rotisserie/eris"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/sells-group/geolift/internal/model"
	"github.com/sells-group/geolift/internal/schema"
)

func ptrInt64(v int64) *int64 { return &v }

func TestZValues(t *testing.T) {
	assert.InDelta(t, 1.96, ZAlpha(0.05), 1e-12)
	assert.InDelta(t, 2.576, ZAlpha(0.01), 1e-12)
	assert.InDelta(t, 0.84, ZBeta(0.2), 1e-12)
	assert.InDelta(t, 1.28, ZBeta(0.1), 1e-12)

	// Unlocked levels use the inverse normal CDF.
	assert.InDelta(t, 2.3263, ZAlpha(0.02), 0.0001)
	assert.InDelta(t, 0.5244, ZBeta(0.3), 0.0001)
}

func TestMinimumSampleSize(t *testing.T) {
	tests := []struct {
		name     string
		baseline float64
		lift     float64
		alpha    float64
		beta     float64
		want     int
	}{
		{"defaults", 0.03, 0.15, 0.05, 0.2, 24167},
		{"small lift", 0.03, 0.05, 0.05, 0.2, 207704},
		{"ten percent lift", 0.03, 0.10, 0.05, 0.2, 53152},
		{"large lift", 0.03, 0.20, 0.05, 0.2, 13900},
		{"strict alpha and beta", 0.03, 0.15, 0.01, 0.1, 45833},
		{"higher baseline", 0.10, 0.10, 0.05, 0.2, 14736},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			got, err := MinimumSampleSize(tt.baseline, tt.lift, tt.alpha, tt.beta)
			require.NoError(t, err)
			assert.Equal(t, tt.want, got)
		})
	}
}

func TestMinimumSampleSize_UnlockedLevels(t *testing.T) {
	got, err := MinimumSampleSize(0.03, 0.15, 0.02, 0.3)
	require.NoError(t, err)
	assert.InDelta(t, 25051, got, 1)
}

func TestMinimumSampleSize_DecreasesWithLift(t *testing.T) {
	prev := 0
	for _, lift := range []float64{0.50, 0.30, 0.20, 0.15, 0.10, 0.05, 0.02} {
		n, err := MinimumSampleSize(0.03, lift, 0.05, 0.2)
		require.NoError(t, err)
		assert.Greater(t, n, prev, "lift %.2f", lift)
		prev = n
	}
}

func TestMinimumSampleSize_InvalidParams(t *testing.T) {
	tests := []struct {
		name     string
		baseline float64
		lift     float64
		alpha    float64
		beta     float64
		wantMsg  string
	}{
		{"zero baseline", 0, 0.15, 0.05, 0.2, "baseline_rate"},
		{"baseline one", 1, 0.15, 0.05, 0.2, "baseline_rate"},
		{"zero lift", 0.03, 0, 0.05, 0.2, "expected_lift"},
		{"negative lift", 0.03, -0.1, 0.05, 0.2, "expected_lift"},
		{"alpha one", 0.03, 0.15, 1, 0.2, "alpha"},
		{"beta zero", 0.03, 0.15, 0.05, 0, "beta"},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			_, err := MinimumSampleSize(tt.baseline, tt.lift, tt.alpha, tt.beta)
			require.Error(t, err)
			assert.True(t, eris.Is(err, ErrInvalidParameters))
			assert.Contains(t, err.Error(), tt.wantMsg)
		})
	}
}

func TestAchievedPower(t *testing.T) {
	tests := []struct {
		name string
		a, b int64
		want float64
	}{
		{"tiny populations", 5, 5, 0.4916},
		{"small populations", 10, 10, 0.6952},
		{"unequal small populations", 8, 12, 0.6811},
		{"ceiling", 50_000, 45_000, 0.99},
		{"zero population floors", 0, 45_000, 0.05},
		{"one population floors", 1, 1, 0.2198},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			got := AchievedPower(tt.a, tt.b, 0.03, 0.15)
			assert.InDelta(t, tt.want, got, 0.0001)
		})
	}

	assert.InDelta(t, 0.05, AchievedPower(100, 100, 0, 0.15), 1e-12, "degenerate baseline floors")
	assert.InDelta(t, 0.05, AchievedPower(1, 1, 0.03, 0.0001), 1e-12)
}

func TestRecommendedDurationWeeks(t *testing.T) {
	tests := []struct {
		name       string
		n          int
		population int64
		want       int
	}{
		{"large population clamps to minimum", 24167, 1_000_000, 2},
		{"mid population", 24167, 200_000, 7},
		{"small population clamps to maximum", 24167, 45_000, 12},
		{"zero population", 24167, 0, 12},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			assert.Equal(t, tt.want, RecommendedDurationWeeks(tt.n, tt.population))
		})
	}
}

func TestConfidence(t *testing.T) {
	assert.Equal(t, model.ConfidenceHigh, Confidence(0.99))
	assert.Equal(t, model.ConfidenceHigh, Confidence(0.8))
	assert.Equal(t, model.ConfidenceMedium, Confidence(0.79))
	assert.Equal(t, model.ConfidenceMedium, Confidence(0.6))
	assert.Equal(t, model.ConfidenceLow, Confidence(0.59))
	assert.Equal(t, model.ConfidenceLow, Confidence(0.05))
}

func TestPopulation(t *testing.T) {
	tests := []struct {
		name   string
		region model.Region
		want   int64
	}{
		{"explicit population", model.Region{Population: ptrInt64(42_000)}, 42_000},
		{"explicit wins over density", model.Region{
			Population: ptrInt64(42_000),
			Profile:    model.Profile{schema.VarPopulationDensity: model.Num(900)},
		}, 42_000},
		{"density proxy", model.Region{
			Profile: model.Profile{schema.VarPopulationDensity: model.Num(2_345.6)},
		}, 23_456},
		{"zero population falls back to density", model.Region{
			Population: ptrInt64(0),
			Profile:    model.Profile{schema.VarPopulationDensity: model.Num(100)},
		}, 1_000},
		{"default", model.Region{}, DefaultPopulation},
		{"zero density uses default", model.Region{
			Profile: model.Profile{schema.VarPopulationDensity: model.Num(0)},
		}, DefaultPopulation},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			assert.Equal(t, tt.want, Population(tt.region))
		})
	}
}

// Golden output for the reference pairing.
func TestAssess_Golden(t *testing.T) {
	target := model.Region{ID: "t", Population: ptrInt64(50_000)}
	candidate := model.Region{ID: "c", Population: ptrInt64(45_000)}

	got, err := Assess(target, candidate, Params{BaselineRate: 0.03, ExpectedLift: 0.15})
	require.NoError(t, err)

	assert.Equal(t, &model.SignificanceAssessment{
		MinimumSampleSize:        24167,
		AchievedPower:            0.99,
		RecommendedDurationWeeks: 12,
		ConfidenceLevel:          model.ConfidenceHigh,
		SampleSizeAdequate:       model.SampleAdequacy{Target: true, Candidate: true},
		TargetPopulation:         50_000,
		CandidatePopulation:      45_000,
	}, got)
}

func TestAssess_Inadequate(t *testing.T) {
	target := model.Region{ID: "t", Population: ptrInt64(30_000)}
	candidate := model.Region{ID: "c", Population: ptrInt64(10)}

	got, err := Assess(target, candidate, DefaultParams())
	require.NoError(t, err)
	assert.True(t, got.SampleSizeAdequate.Target)
	assert.False(t, got.SampleSizeAdequate.Candidate)
	assert.Equal(t, 12, got.RecommendedDurationWeeks)
	assert.Equal(t, model.ConfidenceHigh, got.ConfidenceLevel)

	got, err = AssessPopulations(10, 10, DefaultParams())
	require.NoError(t, err)
	assert.Equal(t, model.ConfidenceMedium, got.ConfidenceLevel)

	got, err = AssessPopulations(5, 5, DefaultParams())
	require.NoError(t, err)
	assert.Equal(t, model.ConfidenceLow, got.ConfidenceLevel)
}

func TestAssess_InvalidParams(t *testing.T) {
	_, err := Assess(model.Region{}, model.Region{}, Params{BaselineRate: 1.5})
	require.Error(t, err)
	assert.True(t, eris.Is(err, ErrInvalidParameters))

	_, err = AssessPopulations(1, 1, Params{ExpectedLift: -0.2})
	require.Error(t, err)
	assert.True(t, eris.Is(err, ErrInvalidParameters))
}

func TestAssessMany_PreservesOrder(t *testing.T) {
	target := model.Region{ID: "t", Population: ptrInt64(80_000)}
	results := []model.SimilarityResult{
		{Region: model.Region{ID: "z", Population: ptrInt64(5)}, Score: 0.95},
		{Region: model.Region{ID: "a", Population: ptrInt64(90_000)}, Score: 0.91},
		{Region: model.Region{ID: "m"}, Score: 0.99},
	}

	got, err := AssessMany(target, results, Params{})
	require.NoError(t, err)
	require.Len(t, got, 3)

	assert.Equal(t, "z", got[0].Region.ID)
	assert.Equal(t, "a", got[1].Region.ID)
	assert.Equal(t, "m", got[2].Region.ID)
	for _, r := range got {
		require.NotNil(t, r.Assessment)
		assert.Equal(t, 24167, r.Assessment.MinimumSampleSize)
	}
	assert.False(t, got[0].Assessment.SampleSizeAdequate.Candidate)
	assert.True(t, got[1].Assessment.SampleSizeAdequate.Candidate)
	assert.Equal(t, DefaultPopulation, got[2].Assessment.CandidatePopulation)

	for _, r := range results {
		assert.Nil(t, r.Assessment, "input must not be modified")
	}
}

func TestAssessMany_Empty(t *testing.T) {
	got, err := AssessMany(model.Region{}, nil, DefaultParams())
	require.NoError(t, err)
	assert.Empty(t, got)
}

func TestParamsWithDefaults(t *testing.T) {
	got := Params{Alpha: 0.01}.WithDefaults()
	assert.InDelta(t, 0.01, got.Alpha, 1e-12)
	assert.InDelta(t, 0.15, got.ExpectedLift, 1e-12)
	assert.InDelta(t, 0.2, got.Beta, 1e-12)
	assert.InDelta(t, 0.03, got.BaselineRate, 1e-12)
}
