// Package provider supplies regions and candidate pools to the planner.
package provider

import (
	"context"
	"slices"
	"strings"

	"github.com/rotisserie/eris"

	"github.com/sells-group/geolift/internal/model"
)

// ErrNotFound is returned when no provider knows the requested region.
var ErrNotFound = eris.New("provider: region not found")

// PoolFilter narrows a candidate pool.
type PoolFilter struct {
	// Sources keeps only regions with one of these provenance tags.
	Sources []string `json:"sources,omitempty"`
	// IDPrefix keeps only regions whose id starts with this prefix
	// (e.g. "100" for Manhattan ZIPs).
	IDPrefix string `json:"id_prefix,omitempty"`
	// Limit caps the pool size after sorting by id. 0 means no limit.
	Limit int `json:"limit,omitempty"`
}

// Match reports whether r passes the source and prefix filters.
func (f PoolFilter) Match(r model.Region) bool {
	if len(f.Sources) > 0 && !slices.Contains(f.Sources, r.Source) {
		return false
	}
	return strings.HasPrefix(r.ID, f.IDPrefix)
}

// RegionProvider fetches regions by id and candidate pools by type.
type RegionProvider interface {
	FetchRegion(ctx context.Context, id string, regionType model.RegionType) (model.Region, error)
	FetchCandidatePool(ctx context.Context, regionType model.RegionType, filter PoolFilter) ([]model.Region, error)
}

// NotFound wraps ErrNotFound with the region key.
func NotFound(id string, regionType model.RegionType) error {
	return eris.Wrapf(ErrNotFound, "%s %s", regionType, id)
}

// sortAndLimit orders regions by id and applies filter.Limit.
func sortAndLimit(regions []model.Region, limit int) []model.Region {
	slices.SortFunc(regions, func(a, b model.Region) int { return strings.Compare(a.ID, b.ID) })
	if limit > 0 && len(regions) > limit {
		regions = regions[:limit]
	}
	return regions
}
