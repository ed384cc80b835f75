package model

// VariableComparison is the side-by-side view of one variable for a
// target/candidate pair.
type VariableComparison struct {
	TargetValue        Value   `json:"target_value"`
	CandidateValue     Value   `json:"candidate_value"`
	AbsoluteDifference float64 `json:"absolute_difference"`
	PercentDifference  float64 `json:"percent_difference"`
	IsClose            bool    `json:"is_close"`
}

// SimilarityResult is one ranked candidate for a target region.
type SimilarityResult struct {
	Region       Region                        `json:"region"`
	Score        float64                       `json:"score"`
	MatchReasons []string                      `json:"match_reasons"`
	Comparison   map[string]VariableComparison `json:"comparison"`
	Assessment   *SignificanceAssessment       `json:"assessment,omitempty"`
}

// ConfidenceLevel is the discrete label communicated for a test design.
type ConfidenceLevel string

const (
	ConfidenceLow    ConfidenceLevel = "low"
	ConfidenceMedium ConfidenceLevel = "medium"
	ConfidenceHigh   ConfidenceLevel = "high"
)

// SampleAdequacy records whether each side of the pairing reaches the
// per-arm minimum sample size.
type SampleAdequacy struct {
	Target    bool `json:"target"`
	Candidate bool `json:"candidate"`
}

// SignificanceAssessment describes whether a target/candidate pairing can
// support a designed experiment.
type SignificanceAssessment struct {
	MinimumSampleSize        int             `json:"minimum_sample_size"`
	AchievedPower            float64         `json:"achieved_power"`
	RecommendedDurationWeeks int             `json:"recommended_duration_weeks"`
	ConfidenceLevel          ConfidenceLevel `json:"confidence_level"`
	SampleSizeAdequate       SampleAdequacy  `json:"sample_size_adequate"`
	TargetPopulation         int64           `json:"target_population"`
	CandidatePopulation      int64           `json:"candidate_population"`
}
