package store

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"time"

	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgxpool"
	"github.com/rotisserie/eris"
	"go.uber.org/zap"

	"github.com/sells-group/geolift/internal/db"
	"github.com/sells-group/geolift/internal/model"
	"github.com/sells-group/geolift/internal/provider"
)

// PostgresStore implements Store using pgxpool.
type PostgresStore struct {
	pool    db.Pool
	closeFn func()
}

// PoolConfig holds optional connection pool tuning parameters.
type PoolConfig struct {
	MaxConns int32 `yaml:"max_conns" mapstructure:"max_conns"`
	MinConns int32 `yaml:"min_conns" mapstructure:"min_conns"`
}

// NewPostgres creates a PostgresStore with a connection pool.
func NewPostgres(ctx context.Context, connString string, poolCfg *PoolConfig) (*PostgresStore, error) {
	pgxCfg, err := pgxpool.ParseConfig(connString)
	if err != nil {
		return nil, eris.Wrap(err, "postgres: parse config")
	}

	maxConns := int32(10)
	minConns := int32(2)
	if poolCfg != nil {
		if poolCfg.MaxConns > 0 {
			maxConns = poolCfg.MaxConns
		}
		if poolCfg.MinConns > 0 {
			minConns = poolCfg.MinConns
		}
	}
	pgxCfg.MaxConns = maxConns
	pgxCfg.MinConns = minConns
	pgxCfg.MaxConnLifetime = 30 * time.Minute
	pgxCfg.MaxConnIdleTime = 5 * time.Minute

	pool, err := pgxpool.NewWithConfig(ctx, pgxCfg)
	if err != nil {
		return nil, eris.Wrap(err, "postgres: create pool")
	}
	if err := pool.Ping(ctx); err != nil {
		pool.Close()
		return nil, eris.Wrap(err, "postgres: ping")
	}
	return &PostgresStore{pool: pool, closeFn: pool.Close}, nil
}

const postgresMigration = `
CREATE TABLE IF NOT EXISTS regions (
	region_type TEXT NOT NULL,
	id          TEXT NOT NULL,
	name        TEXT NOT NULL DEFAULT '',
	source      TEXT NOT NULL,
	population  BIGINT,
	latitude    DOUBLE PRECISION,
	longitude   DOUBLE PRECISION,
	profile     JSONB NOT NULL,
	updated_at  TIMESTAMPTZ NOT NULL DEFAULT now(),
	PRIMARY KEY (region_type, id)
);

CREATE INDEX IF NOT EXISTS idx_regions_source ON regions(region_type, source);
CREATE INDEX IF NOT EXISTS idx_regions_id_prefix ON regions(region_type, id text_pattern_ops);

CREATE TABLE IF NOT EXISTS match_runs (
	id           TEXT PRIMARY KEY,
	target_id    TEXT NOT NULL,
	region_type  TEXT NOT NULL,
	metric       TEXT NOT NULL,
	assessed     BOOLEAN NOT NULL DEFAULT false,
	pool_size    INTEGER NOT NULL DEFAULT 0,
	result_count INTEGER NOT NULL DEFAULT 0,
	top_score    DOUBLE PRECISION NOT NULL DEFAULT 0,
	created_at   TIMESTAMPTZ NOT NULL DEFAULT now()
);

CREATE INDEX IF NOT EXISTS idx_match_runs_target ON match_runs(target_id);
CREATE INDEX IF NOT EXISTS idx_match_runs_created_at ON match_runs(created_at DESC);

CREATE TABLE IF NOT EXISTS match_results (
	run_id    TEXT NOT NULL REFERENCES match_runs(id) ON DELETE CASCADE,
	rank      INTEGER NOT NULL,
	region_id TEXT NOT NULL,
	score     DOUBLE PRECISION NOT NULL,
	result    JSONB NOT NULL,
	PRIMARY KEY (run_id, rank)
);
`

var (
	regionColumns = []string{"region_type", "id", "name", "source", "population", "latitude", "longitude", "profile"}
	resultColumns = []string{"run_id", "rank", "region_id", "score", "result"}

	regionMerge = db.Merge{
		Table:         "regions",
		Columns:       regionColumns,
		Keys:          []string{"region_type", "id"},
		Touch:         "updated_at",
		SkipUnchanged: true,
	}
)

func (s *PostgresStore) Ping(ctx context.Context) error {
	_, err := s.pool.Exec(ctx, "SELECT 1")
	return eris.Wrap(err, "postgres: ping")
}

func (s *PostgresStore) Migrate(ctx context.Context) error {
	_, err := s.pool.Exec(ctx, postgresMigration)
	return eris.Wrap(err, "postgres: migrate")
}

func (s *PostgresStore) Close() error {
	if s.closeFn != nil {
		s.closeFn()
	}
	return nil
}

// UpsertRegions bulk-loads regions through COPY and merges them on
// (region_type, id). Only inserted or changed rows are counted.
func (s *PostgresStore) UpsertRegions(ctx context.Context, regions []model.Region) (int64, error) {
	rows := make([][]any, 0, len(regions))
	for _, r := range regions {
		row, err := encodeRegion(r)
		if err != nil {
			return 0, err
		}
		rows = append(rows, []any{
			string(r.Type), r.ID, r.Name, row.source,
			r.Population, r.Latitude, r.Longitude, row.profile,
		})
	}

	n, err := regionMerge.Apply(ctx, s.pool, rows)
	if err != nil {
		return 0, eris.Wrap(err, "postgres: upsert regions")
	}
	zap.L().Info("postgres: upserted regions", zap.Int("received", len(regions)), zap.Int64("changed", n))
	return n, nil
}

func (s *PostgresStore) FetchRegion(ctx context.Context, id string, regionType model.RegionType) (model.Region, error) {
	row := s.pool.QueryRow(ctx,
		`SELECT id, name, region_type, source, population, latitude, longitude, profile FROM regions WHERE region_type = $1 AND id = $2`,
		string(regionType), id,
	)
	r, err := scanPgRegion(row)
	if errors.Is(err, pgx.ErrNoRows) {
		return model.Region{}, provider.NotFound(id, regionType)
	}
	if err != nil {
		return model.Region{}, eris.Wrapf(err, "postgres: fetch region %s", id)
	}
	return r, nil
}

func (s *PostgresStore) FetchCandidatePool(ctx context.Context, regionType model.RegionType, filter provider.PoolFilter) ([]model.Region, error) {
	query := `SELECT id, name, region_type, source, population, latitude, longitude, profile FROM regions WHERE region_type = $1`
	args := []any{string(regionType)}
	argIdx := 2

	if filter.IDPrefix != "" {
		query += fmt.Sprintf(` AND starts_with(id, $%d)`, argIdx)
		args = append(args, filter.IDPrefix)
		argIdx++
	}
	if len(filter.Sources) > 0 {
		query += fmt.Sprintf(` AND source = ANY($%d)`, argIdx)
		args = append(args, filter.Sources)
		argIdx++
	}
	query += ` ORDER BY id`
	if filter.Limit > 0 {
		query += fmt.Sprintf(` LIMIT $%d`, argIdx)
		args = append(args, filter.Limit)
	}

	rows, err := s.pool.Query(ctx, query, args...)
	if err != nil {
		return nil, eris.Wrap(err, "postgres: candidate pool")
	}
	defer rows.Close()

	pool := []model.Region{}
	for rows.Next() {
		r, err := scanPgRegion(rows)
		if err != nil {
			return nil, eris.Wrap(err, "postgres: scan candidate")
		}
		pool = append(pool, r)
	}
	return pool, eris.Wrap(rows.Err(), "postgres: candidate pool iterate")
}

// SaveMatchRun inserts the run header and COPYs its ranked results in one
// transaction.
func (s *PostgresStore) SaveMatchRun(ctx context.Context, run *model.MatchRun) error {
	prepareRun(run)

	results := make([][]any, len(run.Results))
	for i, r := range run.Results {
		data, err := json.Marshal(r)
		if err != nil {
			return eris.Wrapf(err, "postgres: marshal result %s", r.Region.ID)
		}
		results[i] = []any{run.ID, i + 1, r.Region.ID, r.Score, data}
	}

	tx, err := s.pool.Begin(ctx)
	if err != nil {
		return eris.Wrap(err, "postgres: begin save match run")
	}
	defer tx.Rollback(ctx) //nolint:errcheck

	_, err = tx.Exec(ctx,
		`INSERT INTO match_runs (id, target_id, region_type, metric, assessed, pool_size, result_count, top_score, created_at)
		 VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9)`,
		run.ID, run.TargetID, string(run.RegionType), run.Metric, run.Assessed, run.PoolSize,
		len(run.Results), topScore(run.Results), run.CreatedAt,
	)
	if err != nil {
		return eris.Wrapf(err, "postgres: insert match run %s", run.ID)
	}

	if _, err := db.CopyFrom(ctx, tx, "match_results", resultColumns, results); err != nil {
		return eris.Wrapf(err, "postgres: copy results for %s", run.ID)
	}

	return eris.Wrap(tx.Commit(ctx), "postgres: commit match run")
}

func (s *PostgresStore) GetMatchRun(ctx context.Context, id string) (*model.MatchRun, error) {
	var (
		run        model.MatchRun
		regionType string
	)
	err := s.pool.QueryRow(ctx,
		`SELECT id, target_id, region_type, metric, assessed, pool_size, created_at FROM match_runs WHERE id = $1`,
		id,
	).Scan(&run.ID, &run.TargetID, &regionType, &run.Metric, &run.Assessed, &run.PoolSize, &run.CreatedAt)
	if errors.Is(err, pgx.ErrNoRows) {
		return nil, eris.Wrapf(ErrNotFound, "match run %s", id)
	}
	if err != nil {
		return nil, eris.Wrapf(err, "postgres: get match run %s", id)
	}
	run.RegionType = model.RegionType(regionType)

	rows, err := s.pool.Query(ctx,
		`SELECT result FROM match_results WHERE run_id = $1 ORDER BY rank`,
		id,
	)
	if err != nil {
		return nil, eris.Wrapf(err, "postgres: get results for %s", id)
	}
	defer rows.Close()

	run.Results = []model.SimilarityResult{}
	for rows.Next() {
		var data []byte
		if err := rows.Scan(&data); err != nil {
			return nil, eris.Wrap(err, "postgres: scan result")
		}
		var r model.SimilarityResult
		if err := json.Unmarshal(data, &r); err != nil {
			return nil, eris.Wrap(err, "postgres: unmarshal result")
		}
		run.Results = append(run.Results, r)
	}
	if err := rows.Err(); err != nil {
		return nil, eris.Wrap(err, "postgres: results iterate")
	}
	return &run, nil
}

func (s *PostgresStore) ListMatchRuns(ctx context.Context, filter RunFilter) ([]model.MatchRunSummary, error) {
	query := `SELECT id, target_id, region_type, metric, result_count, top_score, created_at FROM match_runs WHERE true`
	args := []any{}
	argIdx := 1

	if filter.TargetID != "" {
		query += fmt.Sprintf(` AND target_id = $%d`, argIdx)
		args = append(args, filter.TargetID)
		argIdx++
	}
	if filter.RegionType != "" {
		query += fmt.Sprintf(` AND region_type = $%d`, argIdx)
		args = append(args, string(filter.RegionType))
		argIdx++
	}
	query += fmt.Sprintf(` ORDER BY created_at DESC, id LIMIT $%d`, argIdx)
	args = append(args, filter.limit())
	argIdx++

	if filter.Offset > 0 {
		query += fmt.Sprintf(` OFFSET $%d`, argIdx)
		args = append(args, filter.Offset)
	}

	rows, err := s.pool.Query(ctx, query, args...)
	if err != nil {
		return nil, eris.Wrap(err, "postgres: list match runs")
	}
	defer rows.Close()

	var runs []model.MatchRunSummary
	for rows.Next() {
		var (
			sum        model.MatchRunSummary
			regionType string
		)
		if err := rows.Scan(&sum.ID, &sum.TargetID, &regionType, &sum.Metric, &sum.ResultCount, &sum.TopScore, &sum.CreatedAt); err != nil {
			return nil, eris.Wrap(err, "postgres: scan match run")
		}
		sum.RegionType = model.RegionType(regionType)
		runs = append(runs, sum)
	}
	return runs, eris.Wrap(rows.Err(), "postgres: list match runs iterate")
}

func scanPgRegion(row pgx.Row) (model.Region, error) {
	var (
		r          model.Region
		regionType string
		profile    []byte
	)
	if err := row.Scan(&r.ID, &r.Name, &regionType, &r.Source, &r.Population, &r.Latitude, &r.Longitude, &profile); err != nil {
		return model.Region{}, err
	}
	r.Type = model.RegionType(regionType)
	if err := json.Unmarshal(profile, &r.Profile); err != nil {
		return model.Region{}, eris.Wrapf(err, "unmarshal profile %s", r.ID)
	}
	return r, nil
}
