package store

import (
	"context"
	"database/sql"
	"encoding/json"
	"errors"
	"strings"
	"time"

	"github.com/rotisserie/eris"
	"go.uber.org/zap"
	_ "modernc.org/sqlite"

	"github.com/sells-group/geolift/internal/model"
	"github.com/sells-group/geolift/internal/provider"
)

// SQLiteStore implements Store using modernc.org/sqlite.
type SQLiteStore struct {
	db *sql.DB
}

// NewSQLite opens a SQLite database at the given path and configures WAL mode.
func NewSQLite(dsn string) (*SQLiteStore, error) {
	db, err := sql.Open("sqlite", dsn)
	if err != nil {
		return nil, eris.Wrap(err, "sqlite: open")
	}
	for _, pragma := range []string{
		"PRAGMA journal_mode=WAL",
		"PRAGMA busy_timeout=5000",
		"PRAGMA synchronous=NORMAL",
	} {
		if _, err := db.Exec(pragma); err != nil {
			db.Close() //nolint:errcheck
			return nil, eris.Wrapf(err, "sqlite: exec %s", pragma)
		}
	}
	return &SQLiteStore{db: db}, nil
}

const sqliteMigration = `
CREATE TABLE IF NOT EXISTS regions (
	region_type TEXT NOT NULL,
	id          TEXT NOT NULL,
	name        TEXT NOT NULL DEFAULT '',
	source      TEXT NOT NULL,
	population  INTEGER,
	latitude    REAL,
	longitude   REAL,
	profile     TEXT NOT NULL,
	updated_at  DATETIME NOT NULL DEFAULT (datetime('now')),
	PRIMARY KEY (region_type, id)
);

CREATE TABLE IF NOT EXISTS match_runs (
	id           TEXT PRIMARY KEY,
	target_id    TEXT NOT NULL,
	region_type  TEXT NOT NULL,
	metric       TEXT NOT NULL,
	assessed     INTEGER NOT NULL DEFAULT 0,
	pool_size    INTEGER NOT NULL DEFAULT 0,
	result_count INTEGER NOT NULL DEFAULT 0,
	top_score    REAL NOT NULL DEFAULT 0,
	results      TEXT NOT NULL,
	created_at   DATETIME NOT NULL
);

CREATE INDEX IF NOT EXISTS idx_regions_source ON regions(region_type, source);
CREATE INDEX IF NOT EXISTS idx_match_runs_target ON match_runs(target_id);
CREATE INDEX IF NOT EXISTS idx_match_runs_created_at ON match_runs(created_at);
`

func (s *SQLiteStore) Migrate(ctx context.Context) error {
	_, err := s.db.ExecContext(ctx, sqliteMigration)
	return eris.Wrap(err, "sqlite: migrate")
}

func (s *SQLiteStore) Close() error {
	return s.db.Close()
}

const sqliteUpsertRegion = `
INSERT INTO regions (region_type, id, name, source, population, latitude, longitude, profile, updated_at)
VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?)
ON CONFLICT (region_type, id) DO UPDATE SET
	name = excluded.name,
	source = excluded.source,
	population = excluded.population,
	latitude = excluded.latitude,
	longitude = excluded.longitude,
	profile = excluded.profile,
	updated_at = excluded.updated_at
WHERE regions.name IS NOT excluded.name
	OR regions.source IS NOT excluded.source
	OR regions.population IS NOT excluded.population
	OR regions.latitude IS NOT excluded.latitude
	OR regions.longitude IS NOT excluded.longitude
	OR regions.profile IS NOT excluded.profile`

// UpsertRegions inserts or replaces regions in one transaction and returns
// how many were inserted or changed. Identical rows are left untouched.
func (s *SQLiteStore) UpsertRegions(ctx context.Context, regions []model.Region) (int64, error) {
	if len(regions) == 0 {
		return 0, nil
	}

	tx, err := s.db.BeginTx(ctx, nil)
	if err != nil {
		return 0, eris.Wrap(err, "sqlite: begin upsert regions")
	}
	defer tx.Rollback() //nolint:errcheck

	stmt, err := tx.PrepareContext(ctx, sqliteUpsertRegion)
	if err != nil {
		return 0, eris.Wrap(err, "sqlite: prepare upsert regions")
	}
	defer stmt.Close() //nolint:errcheck

	now := time.Now().UTC()
	var n int64
	for _, r := range regions {
		row, err := encodeRegion(r)
		if err != nil {
			return 0, err
		}
		res, err := stmt.ExecContext(ctx,
			string(r.Type), r.ID, r.Name, row.source,
			nullInt64(r.Population), nullFloat64(r.Latitude), nullFloat64(r.Longitude),
			string(row.profile), now,
		)
		if err != nil {
			return 0, eris.Wrapf(err, "sqlite: upsert region %s", r.ID)
		}
		changed, err := res.RowsAffected()
		if err != nil {
			return 0, eris.Wrapf(err, "sqlite: upsert region %s", r.ID)
		}
		n += changed
	}

	if err := tx.Commit(); err != nil {
		return 0, eris.Wrap(err, "sqlite: commit upsert regions")
	}
	zap.L().Info("sqlite: upserted regions", zap.Int("received", len(regions)), zap.Int64("changed", n))
	return n, nil
}

const sqliteRegionColumns = `id, name, region_type, source, population, latitude, longitude, profile`

func (s *SQLiteStore) FetchRegion(ctx context.Context, id string, regionType model.RegionType) (model.Region, error) {
	row := s.db.QueryRowContext(ctx,
		`SELECT `+sqliteRegionColumns+` FROM regions WHERE region_type = ? AND id = ?`,
		string(regionType), id,
	)
	r, err := scanRegion(row)
	if errors.Is(err, sql.ErrNoRows) {
		return model.Region{}, provider.NotFound(id, regionType)
	}
	if err != nil {
		return model.Region{}, eris.Wrapf(err, "sqlite: fetch region %s", id)
	}
	return r, nil
}

func (s *SQLiteStore) FetchCandidatePool(ctx context.Context, regionType model.RegionType, filter provider.PoolFilter) ([]model.Region, error) {
	query := `SELECT ` + sqliteRegionColumns + ` FROM regions WHERE region_type = ?`
	args := []any{string(regionType)}

	if filter.IDPrefix != "" {
		query += ` AND substr(id, 1, ?) = ?`
		args = append(args, len(filter.IDPrefix), filter.IDPrefix)
	}
	if len(filter.Sources) > 0 {
		query += ` AND source IN (?` + strings.Repeat(`, ?`, len(filter.Sources)-1) + `)`
		for _, src := range filter.Sources {
			args = append(args, src)
		}
	}
	query += ` ORDER BY id`
	if filter.Limit > 0 {
		query += ` LIMIT ?`
		args = append(args, filter.Limit)
	}

	rows, err := s.db.QueryContext(ctx, query, args...)
	if err != nil {
		return nil, eris.Wrap(err, "sqlite: candidate pool")
	}
	defer rows.Close() //nolint:errcheck

	pool := []model.Region{}
	for rows.Next() {
		r, err := scanRegion(rows)
		if err != nil {
			return nil, eris.Wrap(err, "sqlite: scan candidate")
		}
		pool = append(pool, r)
	}
	return pool, eris.Wrap(rows.Err(), "sqlite: candidate pool iterate")
}

// SaveMatchRun stores run, assigning an id and timestamp when missing.
func (s *SQLiteStore) SaveMatchRun(ctx context.Context, run *model.MatchRun) error {
	prepareRun(run)

	resultsJSON, err := json.Marshal(run.Results)
	if err != nil {
		return eris.Wrap(err, "sqlite: marshal results")
	}

	_, err = s.db.ExecContext(ctx,
		`INSERT INTO match_runs (id, target_id, region_type, metric, assessed, pool_size, result_count, top_score, results, created_at)
		 VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, ?)`,
		run.ID, run.TargetID, string(run.RegionType), run.Metric, run.Assessed, run.PoolSize,
		len(run.Results), topScore(run.Results), string(resultsJSON), run.CreatedAt,
	)
	return eris.Wrapf(err, "sqlite: insert match run %s", run.ID)
}

func (s *SQLiteStore) GetMatchRun(ctx context.Context, id string) (*model.MatchRun, error) {
	var (
		run         model.MatchRun
		regionType  string
		resultsJSON string
	)
	err := s.db.QueryRowContext(ctx,
		`SELECT id, target_id, region_type, metric, assessed, pool_size, results, created_at FROM match_runs WHERE id = ?`,
		id,
	).Scan(&run.ID, &run.TargetID, &regionType, &run.Metric, &run.Assessed, &run.PoolSize, &resultsJSON, &run.CreatedAt)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, eris.Wrapf(ErrNotFound, "match run %s", id)
	}
	if err != nil {
		return nil, eris.Wrapf(err, "sqlite: get match run %s", id)
	}

	run.RegionType = model.RegionType(regionType)
	if err := json.Unmarshal([]byte(resultsJSON), &run.Results); err != nil {
		return nil, eris.Wrap(err, "sqlite: unmarshal results")
	}
	return &run, nil
}

func (s *SQLiteStore) ListMatchRuns(ctx context.Context, filter RunFilter) ([]model.MatchRunSummary, error) {
	query := `SELECT id, target_id, region_type, metric, result_count, top_score, created_at FROM match_runs WHERE 1=1`
	var args []any

	if filter.TargetID != "" {
		query += ` AND target_id = ?`
		args = append(args, filter.TargetID)
	}
	if filter.RegionType != "" {
		query += ` AND region_type = ?`
		args = append(args, string(filter.RegionType))
	}
	query += ` ORDER BY created_at DESC, id LIMIT ?`
	args = append(args, filter.limit())

	if filter.Offset > 0 {
		query += ` OFFSET ?`
		args = append(args, filter.Offset)
	}

	rows, err := s.db.QueryContext(ctx, query, args...)
	if err != nil {
		return nil, eris.Wrap(err, "sqlite: list match runs")
	}
	defer rows.Close() //nolint:errcheck

	var runs []model.MatchRunSummary
	for rows.Next() {
		var (
			sum        model.MatchRunSummary
			regionType string
		)
		if err := rows.Scan(&sum.ID, &sum.TargetID, &regionType, &sum.Metric, &sum.ResultCount, &sum.TopScore, &sum.CreatedAt); err != nil {
			return nil, eris.Wrap(err, "sqlite: scan match run")
		}
		sum.RegionType = model.RegionType(regionType)
		runs = append(runs, sum)
	}
	return runs, eris.Wrap(rows.Err(), "sqlite: list match runs iterate")
}

// helpers

type scannable interface {
	Scan(dest ...any) error
}

func scanRegion(row scannable) (model.Region, error) {
	var (
		r          model.Region
		regionType string
		population sql.NullInt64
		lat, lon   sql.NullFloat64
		profile    string
	)
	if err := row.Scan(&r.ID, &r.Name, &regionType, &r.Source, &population, &lat, &lon, &profile); err != nil {
		return model.Region{}, err
	}
	r.Type = model.RegionType(regionType)
	if population.Valid {
		r.Population = &population.Int64
	}
	if lat.Valid {
		r.Latitude = &lat.Float64
	}
	if lon.Valid {
		r.Longitude = &lon.Float64
	}
	if err := json.Unmarshal([]byte(profile), &r.Profile); err != nil {
		return model.Region{}, eris.Wrapf(err, "unmarshal profile %s", r.ID)
	}
	return r, nil
}

func nullInt64(v *int64) sql.NullInt64 {
	if v == nil {
		return sql.NullInt64{}
	}
	return sql.NullInt64{Int64: *v, Valid: true}
}

func nullFloat64(v *float64) sql.NullFloat64 {
	if v == nil {
		return sql.NullFloat64{}
	}
	return sql.NullFloat64{Float64: *v, Valid: true}
}
