package provider

import (
	"context"
	"encoding/json"
	"io"
	"os"
	"sync"

	"github.com/rotisserie/eris"

	"github.com/sells-group/geolift/internal/model"
)

// Memory is an in-memory RegionProvider. It is safe for concurrent use.
type Memory struct {
	mu      sync.RWMutex
	regions map[model.RegionType]map[string]model.Region
}

// NewMemory returns a Memory holding regions.
func NewMemory(regions ...model.Region) *Memory {
	m := &Memory{regions: make(map[model.RegionType]map[string]model.Region)}
	m.Add(regions...)
	return m
}

// Add inserts or replaces regions keyed by (type, id).
func (m *Memory) Add(regions ...model.Region) {
	m.mu.Lock()
	defer m.mu.Unlock()
	for _, r := range regions {
		byID, ok := m.regions[r.Type]
		if !ok {
			byID = make(map[string]model.Region)
			m.regions[r.Type] = byID
		}
		byID[r.ID] = r
	}
}

// Len returns the number of regions held.
func (m *Memory) Len() int {
	m.mu.RLock()
	defer m.mu.RUnlock()
	n := 0
	for _, byID := range m.regions {
		n += len(byID)
	}
	return n
}

// FetchRegion implements RegionProvider.
func (m *Memory) FetchRegion(_ context.Context, id string, regionType model.RegionType) (model.Region, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	r, ok := m.regions[regionType][id]
	if !ok {
		return model.Region{}, NotFound(id, regionType)
	}
	return r, nil
}

// FetchCandidatePool implements RegionProvider. Regions come back sorted by id.
func (m *Memory) FetchCandidatePool(_ context.Context, regionType model.RegionType, filter PoolFilter) ([]model.Region, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	out := make([]model.Region, 0, len(m.regions[regionType]))
	for _, r := range m.regions[regionType] {
		if filter.Match(r) {
			out = append(out, r)
		}
	}
	return sortAndLimit(out, filter.Limit), nil
}

// fixture is the on-disk JSON shape: {"regions": [...]}.
type fixture struct {
	Regions []model.Region `json:"regions"`
}

// LoadJSON reads a region fixture and returns a Memory provider holding it.
// Regions without a type default to zip; regions without a source default
// to user-uploaded.
func LoadJSON(r io.Reader) (*Memory, error) {
	var f fixture
	if err := json.NewDecoder(r).Decode(&f); err != nil {
		return nil, eris.Wrap(err, "provider: decode fixture")
	}
	for i := range f.Regions {
		reg := &f.Regions[i]
		if reg.ID == "" {
			return nil, eris.Errorf("provider: fixture region %d has no id", i)
		}
		if reg.Type == "" {
			reg.Type = model.RegionTypeZIP
		}
		if !reg.Type.Valid() {
			return nil, eris.Errorf("provider: fixture region %s has invalid type %q", reg.ID, reg.Type)
		}
		if reg.Source == "" {
			reg.Source = model.SourceUserUploaded
		}
	}
	return NewMemory(f.Regions...), nil
}

// LoadFile is LoadJSON for a path.
func LoadFile(path string) (*Memory, error) {
	f, err := os.Open(path)
	if err != nil {
		return nil, eris.Wrapf(err, "provider: open fixture %s", path)
	}
	defer f.Close() //nolint:errcheck
	return LoadJSON(f)
}
