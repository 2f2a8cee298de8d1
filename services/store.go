package services

import (
	"context"
	"fmt"
	"time"

	"github.com/jackc/pgx/v5/pgconn"
	"github.com/jackc/pgx/v5/pgxpool"

	"cityflow/vehown/frame"
)

type execer interface {
	Exec(ctx context.Context, sql string, args ...any) (pgconn.CommandTag, error)
}

// Store persists aggregated zone summaries to Postgres.
type Store struct {
	db execer
}

// NewStore connects to Postgres and returns the store with a close func.
func NewStore(ctx context.Context, dsn string) (*Store, func(), error) {
	pool, err := pgxpool.New(ctx, dsn)
	if err != nil {
		return nil, nil, fmt.Errorf("db pool init failed: %w", err)
	}
	if err := pool.Ping(ctx); err != nil {
		pool.Close()
		return nil, nil, fmt.Errorf("db ping failed: %w", err)
	}
	return &Store{db: pool}, pool.Close, nil
}

// EnsureSchema creates the summary table when it does not exist yet.
func (s *Store) EnsureSchema(ctx context.Context) error {
	_, err := s.db.Exec(ctx, `
		CREATE TABLE IF NOT EXISTS veh_own_summary (
			run_id     UUID        NOT NULL,
			ts         TIMESTAMPTZ NOT NULL,
			geo_key    TEXT        NOT NULL,
			geo_value  TEXT        NOT NULL,
			field      TEXT        NOT NULL,
			value      BIGINT      NOT NULL,
			PRIMARY KEY (run_id, geo_value, field)
		)
	`)
	return err
}

// StoreSummary upserts one row per geography value and summed field of agg,
// whose first column is the geography key. It returns the rows written.
func (s *Store) StoreSummary(ctx context.Context, runID string, ts time.Time, agg *frame.Frame) (int, error) {
	cols := agg.Columns()
	if len(cols) < 2 {
		return 0, fmt.Errorf("summary has no summed fields")
	}
	geoKey := cols[0]
	keys, err := agg.Keys(geoKey)
	if err != nil {
		return 0, err
	}
	stored := 0
	for _, field := range cols[1:] {
		vals, err := agg.Floats(field)
		if err != nil {
			return stored, err
		}
		for i, v := range vals {
			_, err := s.db.Exec(ctx, `
				INSERT INTO veh_own_summary (run_id, ts, geo_key, geo_value, field, value)
				VALUES ($1, $2, $3, $4, $5, $6)
				ON CONFLICT (run_id, geo_value, field) DO UPDATE SET
					ts = EXCLUDED.ts,
					value = EXCLUDED.value
			`, runID, ts, geoKey, keys[i], field, int64(v))
			if err != nil {
				return stored, fmt.Errorf("db insert failed for %s=%s field=%s: %w", geoKey, keys[i], field, err)
			}
			stored++
		}
	}
	return stored, nil
}
