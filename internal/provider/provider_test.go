package provider

import (
	"context"
	"errors"
	"os"
	"path/filepath"
	"strings"
	"testing"
	"time"

	"github.com/rotisserie/eris"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/sells-group/geolift/internal/model"
	"github.com/sells-group/geolift/internal/resilience"
)

func zip(id, source string, profile model.Profile) model.Region {
	return model.Region{ID: id, Type: model.RegionTypeZIP, Source: source, Profile: profile}
}

func ids(regions []model.Region) []string {
	out := make([]string, len(regions))
	for i, r := range regions {
		out[i] = r.ID
	}
	return out
}

// flaky fails with a transient error for the first n calls.
type flaky struct {
	RegionProvider
	failures int
	calls    int
}

func (f *flaky) FetchRegion(ctx context.Context, id string, regionType model.RegionType) (model.Region, error) {
	f.calls++
	if f.calls <= f.failures {
		return model.Region{}, resilience.Transient(errors.New("database is locked"))
	}
	return f.RegionProvider.FetchRegion(ctx, id, regionType)
}

type broken struct{ RegionProvider }

func (broken) FetchRegion(context.Context, string, model.RegionType) (model.Region, error) {
	return model.Region{}, errors.New("permission denied")
}

func (broken) FetchCandidatePool(context.Context, model.RegionType, PoolFilter) ([]model.Region, error) {
	return nil, errors.New("permission denied")
}

func fastRetry() resilience.RetryConfig {
	return resilience.RetryConfig{MaxAttempts: 3, InitialBackoff: time.Millisecond, MaxBackoff: time.Millisecond}
}

func TestPoolFilter_Match(t *testing.T) {
	r := zip("10001", model.SourceAuthoritative, nil)

	assert.True(t, PoolFilter{}.Match(r))
	assert.True(t, PoolFilter{IDPrefix: "100"}.Match(r))
	assert.False(t, PoolFilter{IDPrefix: "200"}.Match(r))
	assert.True(t, PoolFilter{Sources: []string{model.SourceEstimated, model.SourceAuthoritative}}.Match(r))
	assert.False(t, PoolFilter{Sources: []string{model.SourceEstimated}}.Match(r))
}

func TestMemory_FetchRegion(t *testing.T) {
	m := NewMemory(
		zip("10001", model.SourceAuthoritative, nil),
		model.Region{ID: "501", Type: model.RegionTypeDMA},
	)
	assert.Equal(t, 2, m.Len())

	got, err := m.FetchRegion(context.Background(), "10001", model.RegionTypeZIP)
	require.NoError(t, err)
	assert.Equal(t, "10001", got.ID)

	_, err = m.FetchRegion(context.Background(), "501", model.RegionTypeZIP)
	require.Error(t, err)
	assert.True(t, eris.Is(err, ErrNotFound))
}

func TestMemory_FetchCandidatePool(t *testing.T) {
	m := NewMemory(
		zip("10003", model.SourceEstimated, nil),
		zip("10001", model.SourceAuthoritative, nil),
		zip("20001", model.SourceAuthoritative, nil),
		zip("10002", model.SourceAuthoritative, nil),
		model.Region{ID: "501", Type: model.RegionTypeDMA},
	)
	ctx := context.Background()

	got, err := m.FetchCandidatePool(ctx, model.RegionTypeZIP, PoolFilter{})
	require.NoError(t, err)
	assert.Equal(t, []string{"10001", "10002", "10003", "20001"}, ids(got))

	got, err = m.FetchCandidatePool(ctx, model.RegionTypeZIP, PoolFilter{IDPrefix: "100", Limit: 2})
	require.NoError(t, err)
	assert.Equal(t, []string{"10001", "10002"}, ids(got))

	got, err = m.FetchCandidatePool(ctx, model.RegionTypeZIP, PoolFilter{Sources: []string{model.SourceEstimated}})
	require.NoError(t, err)
	assert.Equal(t, []string{"10003"}, ids(got))

	got, err = m.FetchCandidatePool(ctx, model.RegionTypeCounty, PoolFilter{})
	require.NoError(t, err)
	assert.Empty(t, got)
}

func TestLoadJSON(t *testing.T) {
	const data = `{"regions": [
		{"id": "10001", "name": "Chelsea", "profile": {"medianIncome": 67000, "urbanicity": "urban"}, "population": 21000},
		{"id": "501", "type": "dma", "source": "authoritative", "profile": {}}
	]}`

	m, err := LoadJSON(strings.NewReader(data))
	require.NoError(t, err)

	r, err := m.FetchRegion(context.Background(), "10001", model.RegionTypeZIP)
	require.NoError(t, err)
	assert.Equal(t, model.SourceUserUploaded, r.Source)
	assert.Equal(t, "urban", r.Profile["urbanicity"].Category())
	assert.InDelta(t, 67000, r.Profile["medianIncome"].Float(), 1e-9)
	require.NotNil(t, r.Population)
	assert.Equal(t, int64(21000), *r.Population)

	r, err = m.FetchRegion(context.Background(), "501", model.RegionTypeDMA)
	require.NoError(t, err)
	assert.Equal(t, model.SourceAuthoritative, r.Source)
}

func TestLoadJSON_Errors(t *testing.T) {
	tests := []struct {
		name    string
		data    string
		wantMsg string
	}{
		{"malformed", `{"regions": [`, "decode fixture"},
		{"missing id", `{"regions": [{"name": "x"}]}`, "has no id"},
		{"bad type", `{"regions": [{"id": "1", "type": "galaxy"}]}`, "invalid type"},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			_, err := LoadJSON(strings.NewReader(tt.data))
			require.Error(t, err)
			assert.Contains(t, err.Error(), tt.wantMsg)
		})
	}
}

func TestLoadFile(t *testing.T) {
	path := filepath.Join(t.TempDir(), "regions.json")
	require.NoError(t, os.WriteFile(path, []byte(`{"regions": [{"id": "10001"}]}`), 0o600))

	m, err := LoadFile(path)
	require.NoError(t, err)
	assert.Equal(t, 1, m.Len())

	_, err = LoadFile(filepath.Join(t.TempDir(), "missing.json"))
	require.Error(t, err)
}

func TestChain_FetchRegion_Fallback(t *testing.T) {
	authoritative := NewMemory(zip("10001", model.SourceAuthoritative, model.Profile{"medianIncome": model.Num(67_000)}))
	estimated := NewMemory(
		zip("10001", model.SourceEstimated, model.Profile{"medianIncome": model.Num(1)}),
		zip("10002", model.SourceEstimated, model.Profile{"medianIncome": model.Num(55_000)}),
	)
	c := NewChain([]RegionProvider{authoritative, estimated}, WithRetry(fastRetry()))
	ctx := context.Background()

	r, err := c.FetchRegion(ctx, "10001", model.RegionTypeZIP)
	require.NoError(t, err)
	assert.Equal(t, model.SourceAuthoritative, r.Source)

	r, err = c.FetchRegion(ctx, "10002", model.RegionTypeZIP)
	require.NoError(t, err)
	assert.Equal(t, model.SourceEstimated, r.Source)

	_, err = c.FetchRegion(ctx, "99999", model.RegionTypeZIP)
	require.Error(t, err)
	assert.True(t, eris.Is(err, ErrNotFound))
}

func TestChain_FetchRegion_Overlay(t *testing.T) {
	base := NewMemory(zip("10001", model.SourceAuthoritative, model.Profile{
		"medianIncome": model.Num(67_000),
		"medianAge":    model.Num(38),
	}))
	uploads := NewMemory(
		zip("10001", model.SourceUserUploaded, model.Profile{"medianIncome": model.Num(72_000)}),
		zip("10009", model.SourceUserUploaded, model.Profile{"medianAge": model.Num(31)}),
	)
	c := NewChain([]RegionProvider{base}, WithOverlay(uploads), WithRetry(fastRetry()))
	ctx := context.Background()

	r, err := c.FetchRegion(ctx, "10001", model.RegionTypeZIP)
	require.NoError(t, err)
	assert.Equal(t, model.SourceUserUploaded, r.Source)
	assert.InDelta(t, 72_000, r.Profile["medianIncome"].Float(), 1e-9)
	assert.InDelta(t, 38, r.Profile["medianAge"].Float(), 1e-9)

	// The base provider's record is untouched.
	orig, err := base.FetchRegion(ctx, "10001", model.RegionTypeZIP)
	require.NoError(t, err)
	assert.InDelta(t, 67_000, orig.Profile["medianIncome"].Float(), 1e-9)

	r, err = c.FetchRegion(ctx, "10009", model.RegionTypeZIP)
	require.NoError(t, err)
	assert.Equal(t, model.SourceUserUploaded, r.Source)

	_, err = c.FetchRegion(ctx, "77777", model.RegionTypeZIP)
	assert.True(t, eris.Is(err, ErrNotFound))
}

func TestChain_FetchRegion_RetriesTransient(t *testing.T) {
	f := &flaky{RegionProvider: NewMemory(zip("10001", model.SourceAuthoritative, nil)), failures: 2}
	c := NewChain([]RegionProvider{f}, WithRetry(fastRetry()))

	r, err := c.FetchRegion(context.Background(), "10001", model.RegionTypeZIP)
	require.NoError(t, err)
	assert.Equal(t, "10001", r.ID)
	assert.Equal(t, 3, f.calls)
}

func TestChain_FetchRegion_HardError(t *testing.T) {
	c := NewChain([]RegionProvider{broken{}, NewMemory(zip("10001", "", nil))}, WithRetry(fastRetry()))

	_, err := c.FetchRegion(context.Background(), "10001", model.RegionTypeZIP)
	require.Error(t, err)
	assert.False(t, eris.Is(err, ErrNotFound))
	assert.Contains(t, err.Error(), "permission denied")
}

func TestChain_FetchCandidatePool(t *testing.T) {
	authoritative := NewMemory(
		zip("10001", model.SourceAuthoritative, model.Profile{"medianAge": model.Num(38)}),
		zip("10002", model.SourceAuthoritative, nil),
	)
	estimated := NewMemory(
		zip("10002", model.SourceEstimated, nil),
		zip("10003", model.SourceEstimated, nil),
		zip("20001", model.SourceEstimated, nil),
	)
	uploads := NewMemory(
		zip("10001", model.SourceUserUploaded, model.Profile{"medianAge": model.Num(29)}),
		zip("10004", model.SourceUserUploaded, nil),
	)
	c := NewChain([]RegionProvider{authoritative, estimated}, WithOverlay(uploads), WithRetry(fastRetry()))
	ctx := context.Background()

	got, err := c.FetchCandidatePool(ctx, model.RegionTypeZIP, PoolFilter{IDPrefix: "100"})
	require.NoError(t, err)
	assert.Equal(t, []string{"10001", "10002", "10003", "10004"}, ids(got))
	assert.Equal(t, model.SourceUserUploaded, got[0].Source)
	assert.InDelta(t, 29, got[0].Profile["medianAge"].Float(), 1e-9)
	assert.Equal(t, model.SourceAuthoritative, got[1].Source)

	got, err = c.FetchCandidatePool(ctx, model.RegionTypeZIP, PoolFilter{Limit: 2})
	require.NoError(t, err)
	assert.Equal(t, []string{"10001", "10002"}, ids(got))

	_, err = NewChain([]RegionProvider{broken{}}).FetchCandidatePool(ctx, model.RegionTypeZIP, PoolFilter{})
	require.Error(t, err)
}
