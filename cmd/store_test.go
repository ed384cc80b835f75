package main

import (
	"context"
	"os"
	"path/filepath"
	"testing"

	"github.com/rotisserie/eris"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/sells-group/geolift/internal/config"
	"github.com/sells-group/geolift/internal/model"
	"github.com/sells-group/geolift/internal/provider"
	"github.com/sells-group/geolift/internal/schema"
	"github.com/sells-group/geolift/internal/similarity"
)

func setTestConfig(t *testing.T) {
	t.Helper()
	prev := cfg
	cfg = &config.Config{
		Store:        config.StoreConfig{Driver: "sqlite", DatabaseURL: filepath.Join(t.TempDir(), "geolift.db")},
		Provider:     config.ProviderConfig{RetryAttempts: 1},
		Engine:       config.EngineConfig{Metric: "weighted_euclidean", MinSimilarity: 0.7, MaxResults: 10, Workers: 2, MarketType: "zip"},
		Significance: config.SignificanceConfig{ExpectedLift: 0.15, Alpha: 0.05, Beta: 0.2, BaselineRate: 0.03},
	}
	t.Cleanup(func() { cfg = prev })
}

func TestInitStore_UnsupportedDriver(t *testing.T) {
	setTestConfig(t)
	cfg.Store.Driver = "mysql"

	_, err := initStore(context.Background())
	require.Error(t, err)
	assert.Contains(t, err.Error(), "unsupported store driver")
}

func TestInitEnv_FallbackAndOverlay(t *testing.T) {
	setTestConfig(t)
	ctx := context.Background()
	dir := t.TempDir()

	fallback := filepath.Join(dir, "estimated.json")
	require.NoError(t, os.WriteFile(fallback, []byte(`{"regions":[
		{"id":"10001","type":"zip","source":"estimated","population":50000,"profile":{"medianIncome":67000,"medianAge":38,"urbanicity":"urban"}},
		{"id":"10002","type":"zip","source":"estimated","population":45000,"profile":{"medianIncome":67000,"medianAge":38,"urbanicity":"urban"}}
	]}`), 0o644))
	overlay := filepath.Join(dir, "uploaded.json")
	require.NoError(t, os.WriteFile(overlay, []byte(`{"regions":[
		{"id":"10001","type":"zip","profile":{"medianAge":41}}
	]}`), 0o644))
	cfg.Provider.Fallbacks = []string{fallback}
	cfg.Provider.OverlayPath = overlay

	env, err := initEnv(ctx)
	require.NoError(t, err)
	defer env.Close()

	// The store is empty, so the fallback file answers and the overlay applies.
	r, err := env.Regions.FetchRegion(ctx, "10001", model.RegionTypeZIP)
	require.NoError(t, err)
	assert.InDelta(t, 41, r.Profile[schema.VarMedianAge].Float(), 0.001)
	assert.InDelta(t, 67000, r.Profile[schema.VarMedianIncome].Float(), 0.001)

	_, err = env.Regions.FetchRegion(ctx, "99999", model.RegionTypeZIP)
	assert.True(t, eris.Is(err, provider.ErrNotFound))

	// Store-backed regions win over the fallback.
	_, err = env.Store.UpsertRegions(ctx, []model.Region{{
		ID: "10002", Type: model.RegionTypeZIP, Source: model.SourceAuthoritative,
		Profile: model.Profile{schema.VarMedianIncome: model.Num(99_000)},
	}})
	require.NoError(t, err)
	r, err = env.Regions.FetchRegion(ctx, "10002", model.RegionTypeZIP)
	require.NoError(t, err)
	assert.Equal(t, model.SourceAuthoritative, r.Source)
}

func TestInitEnv_MissingFallback(t *testing.T) {
	setTestConfig(t)
	cfg.Provider.Fallbacks = []string{filepath.Join(t.TempDir(), "missing.json")}

	_, err := initEnv(context.Background())
	require.Error(t, err)
	assert.Contains(t, err.Error(), "load fallback regions")
}

func TestDefaultParams(t *testing.T) {
	setTestConfig(t)

	p := defaultParams(0.1, 0, 0, 0.05)
	assert.InDelta(t, 0.1, p.ExpectedLift, 1e-12)
	assert.InDelta(t, 0.05, p.Alpha, 1e-12)
	assert.InDelta(t, 0.2, p.Beta, 1e-12)
	assert.InDelta(t, 0.05, p.BaselineRate, 1e-12)

	assert.Equal(t, model.RegionTypeZIP, defaultRegionType(""))
	assert.Equal(t, model.RegionTypeDMA, defaultRegionType("dma"))
}

func TestInitEnv_PlannerUsesEngineDefaults(t *testing.T) {
	setTestConfig(t)
	cfg.Engine.MinSimilarity = 0.4
	cfg.Engine.MaxResults = 3
	cfg.Engine.ExcludeWithinKM = 25
	cfg.Provider.CandidatePoolMax = 500

	env, err := initEnv(context.Background())
	require.NoError(t, err)
	defer env.Close()

	got := env.Planner.RankOptions(similarity.RankOptions{})
	require.NotNil(t, got.MinSimilarity)
	assert.InDelta(t, 0.4, *got.MinSimilarity, 1e-12)
	assert.Equal(t, 3, got.MaxResults)
	assert.InDelta(t, 25, got.ExcludeWithinKM, 1e-12)

	explicit := 0.9
	got = env.Planner.RankOptions(similarity.RankOptions{MinSimilarity: &explicit, MaxResults: 7})
	assert.InDelta(t, 0.9, *got.MinSimilarity, 1e-12)
	assert.Equal(t, 7, got.MaxResults)
}

func TestRankRequest(t *testing.T) {
	setTestConfig(t)
	cfg.Engine.ExcludeWithinKM = 25

	require.NoError(t, rankCmd.ParseFlags([]string{
		"--target", "10001",
		"--metric", "cosine",
		"--min-similarity", "0.5",
		"--exclude", "10002,10003",
		"--assess",
	}))

	req, format, err := rankRequest(rankCmd)
	require.NoError(t, err)
	assert.Equal(t, "table", format)
	assert.Equal(t, "10001", req.TargetID)
	assert.Equal(t, model.RegionTypeZIP, req.RegionType)
	assert.Equal(t, "cosine", string(req.Metric))
	require.NotNil(t, req.Rank.MinSimilarity)
	assert.InDelta(t, 0.5, *req.Rank.MinSimilarity, 1e-12)
	// Unset flags stay zero; the planner fills them from config.
	assert.Zero(t, req.Rank.MaxResults)
	assert.Equal(t, []string{"10002", "10003"}, req.Rank.ExcludeIDs)
	assert.Zero(t, req.Rank.ExcludeWithinKM)
	assert.Zero(t, req.Filter.Limit)
	assert.True(t, req.Assess)
	assert.InDelta(t, 0.15, req.Params.ExpectedLift, 1e-12)
}
