// Package store persists regions and match runs in SQLite or Postgres.
// Both stores implement provider.RegionProvider.
package store

import (
	"context"
	"encoding/json"
	"time"

	"github.com/google/uuid"
	"github.com/rotisserie/eris"

	"github.com/sells-group/geolift/internal/model"
	"github.com/sells-group/geolift/internal/provider"
)

// ErrNotFound is returned when a match run does not exist. Missing regions
// return provider.ErrNotFound so provider chains can fall through.
var ErrNotFound = eris.New("store: not found")

// RunFilter specifies criteria for listing match runs.
type RunFilter struct {
	TargetID   string           `json:"target_id,omitempty"`
	RegionType model.RegionType `json:"region_type,omitempty"`
	Limit      int              `json:"limit,omitempty"`
	Offset     int              `json:"offset,omitempty"`
}

func (f RunFilter) limit() int {
	if f.Limit <= 0 {
		return 100
	}
	return f.Limit
}

// Store defines the persistence interface for regions and match runs.
type Store interface {
	provider.RegionProvider

	// Regions
	UpsertRegions(ctx context.Context, regions []model.Region) (int64, error)

	// Match runs
	SaveMatchRun(ctx context.Context, run *model.MatchRun) error
	GetMatchRun(ctx context.Context, id string) (*model.MatchRun, error)
	ListMatchRuns(ctx context.Context, filter RunFilter) ([]model.MatchRunSummary, error)

	// Lifecycle
	Migrate(ctx context.Context) error
	Close() error
}

// prepareRun assigns an id and timestamp to run when missing.
func prepareRun(run *model.MatchRun) {
	if run.ID == "" {
		run.ID = uuid.New().String()
	}
	if run.CreatedAt.IsZero() {
		run.CreatedAt = time.Now().UTC()
	}
}

func topScore(results []model.SimilarityResult) float64 {
	if len(results) == 0 {
		return 0
	}
	return results[0].Score
}

// regionRow is the column encoding shared by both stores.
type regionRow struct {
	profile []byte
	source  string
}

func encodeRegion(r model.Region) (regionRow, error) {
	if r.ID == "" {
		return regionRow{}, eris.New("store: region has no id")
	}
	if !r.Type.Valid() {
		return regionRow{}, eris.Errorf("store: region %s has invalid type %q", r.ID, r.Type)
	}
	profile := r.Profile
	if profile == nil {
		profile = model.Profile{}
	}
	data, err := json.Marshal(profile)
	if err != nil {
		return regionRow{}, eris.Wrapf(err, "store: marshal profile %s", r.ID)
	}
	source := r.Source
	if source == "" {
		source = model.SourceUserUploaded
	}
	return regionRow{profile: data, source: source}, nil
}
