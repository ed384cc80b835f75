package model

import "time"

// MatchRun is a persisted ranking for one target region.
type MatchRun struct {
	ID         string             `json:"id"`
	TargetID   string             `json:"target_id"`
	RegionType RegionType         `json:"region_type"`
	Metric     string             `json:"metric"`
	Assessed   bool               `json:"assessed"`
	PoolSize   int                `json:"pool_size"`
	Results    []SimilarityResult `json:"results"`
	CreatedAt  time.Time          `json:"created_at"`
}

// MatchRunSummary is the list view of a MatchRun without its results.
type MatchRunSummary struct {
	ID          string     `json:"id"`
	TargetID    string     `json:"target_id"`
	RegionType  RegionType `json:"region_type"`
	Metric      string     `json:"metric"`
	ResultCount int        `json:"result_count"`
	TopScore    float64    `json:"top_score"`
	CreatedAt   time.Time  `json:"created_at"`
}
