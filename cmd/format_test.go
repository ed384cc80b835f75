package main

import (
	"bytes"
	"encoding/csv"
	"encoding/json"
	"strings"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/sells-group/geolift/internal/model"
)

func ptrInt64(v int64) *int64 { return &v }

func sampleResults() []model.SimilarityResult {
	return []model.SimilarityResult{
		{
			Region:       model.Region{ID: "10002", Name: "Lower East Side", Population: ptrInt64(1_234_567)},
			Score:        0.9876,
			MatchReasons: []string{"Similar median income", "Similar median age"},
			Assessment: &model.SignificanceAssessment{
				AchievedPower:            0.99,
				RecommendedDurationWeeks: 2,
				ConfidenceLevel:          model.ConfidenceHigh,
			},
		},
		{
			Region: model.Region{ID: "10003", Name: "East Village"},
			Score:  0.81,
		},
	}
}

func TestWriteResults_Table(t *testing.T) {
	var buf bytes.Buffer
	require.NoError(t, writeResults(&buf, formatTable, sampleResults()))

	out := buf.String()
	assert.Contains(t, out, "RANK")
	assert.Contains(t, out, "1,234,567")
	assert.Contains(t, out, "0.988")
	assert.Contains(t, out, "high")
	assert.Contains(t, out, "Similar median income; Similar median age")
	// Second row has no assessment and falls back to the default population.
	assert.Contains(t, out, "50,000")
}

func TestWriteResults_CSV(t *testing.T) {
	var buf bytes.Buffer
	require.NoError(t, writeResults(&buf, formatCSV, sampleResults()))

	records, err := csv.NewReader(strings.NewReader(buf.String())).ReadAll()
	require.NoError(t, err)
	require.Len(t, records, 3)
	assert.Equal(t, "rank", records[0][0])
	assert.Equal(t, []string{"1", "10002", "Lower East Side", "0.9876", "1234567", "0.9900", "2", "high", "Similar median income; Similar median age"}, records[1])
	assert.Equal(t, "", records[2][5])
}

func TestWriteResults_JSON(t *testing.T) {
	var buf bytes.Buffer
	require.NoError(t, writeResults(&buf, formatJSON, sampleResults()))

	var got []model.SimilarityResult
	require.NoError(t, json.Unmarshal(buf.Bytes(), &got))
	require.Len(t, got, 2)
	assert.Equal(t, "10002", got[0].Region.ID)
}

func TestWriteResults_UnknownFormat(t *testing.T) {
	err := writeResults(&bytes.Buffer{}, "xml", nil)
	require.Error(t, err)
	assert.Contains(t, err.Error(), "unknown output format")
}

func TestFormatAssessment(t *testing.T) {
	var buf bytes.Buffer
	formatAssessment(&buf, &model.SignificanceAssessment{
		MinimumSampleSize:        24167,
		AchievedPower:            0.99,
		RecommendedDurationWeeks: 12,
		ConfidenceLevel:          model.ConfidenceHigh,
		SampleSizeAdequate:       model.SampleAdequacy{Target: true},
		TargetPopulation:         50_000,
		CandidatePopulation:      10,
	})

	out := buf.String()
	assert.Contains(t, out, "24,167 per arm")
	assert.Contains(t, out, "below minimum")
	assert.Contains(t, out, "12 weeks")
}

func TestFormatRunsList(t *testing.T) {
	var buf bytes.Buffer
	formatRunsList(&buf, []model.MatchRunSummary{{
		ID:          "3f2a9c1e-0000-4000-8000-000000000000",
		TargetID:    "10001",
		RegionType:  model.RegionTypeZIP,
		Metric:      "cosine",
		ResultCount: 3,
		TopScore:    0.97,
		CreatedAt:   time.Date(2026, 3, 1, 9, 30, 0, 0, time.UTC),
	}})

	out := buf.String()
	assert.Contains(t, out, "3f2a9c1e")
	assert.NotContains(t, out, "3f2a9c1e-")
	assert.Contains(t, out, "2026-03-01 09:30")
}

func TestTruncate(t *testing.T) {
	assert.Equal(t, "short", truncate("short", 10))
	assert.Equal(t, "Lower E...", truncate("Lower East Side", 10))
	assert.Equal(t, "abc", truncateID("abc"))
}
