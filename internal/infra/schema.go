package infra

import (
	"context"
	"fmt"

	"github.com/jackc/pgx/v5/pgxpool"
)

var schema = []string{
	`CREATE TABLE IF NOT EXISTS journey_events (
		id BIGSERIAL PRIMARY KEY,
		journey_id TEXT NOT NULL,
		from_status TEXT,
		to_status TEXT NOT NULL,
		actor_type TEXT NOT NULL,
		actor_id TEXT,
		created_at TIMESTAMPTZ NOT NULL DEFAULT now()
	)`,
	`CREATE INDEX IF NOT EXISTS journey_events_journey_idx ON journey_events (journey_id, created_at)`,
	`CREATE TABLE IF NOT EXISTS location_snapshots (
		id BIGSERIAL PRIMARY KEY,
		driver_id TEXT NOT NULL,
		lat DOUBLE PRECISION NOT NULL,
		lng DOUBLE PRECISION NOT NULL,
		recorded_at TIMESTAMPTZ NOT NULL
	)`,
	`CREATE INDEX IF NOT EXISTS location_snapshots_driver_idx ON location_snapshots (driver_id, recorded_at)`,
}

func EnsureSchema(ctx context.Context, pool *pgxpool.Pool) error {
	for _, stmt := range schema {
		if _, err := pool.Exec(ctx, stmt); err != nil {
			return fmt.Errorf("ensure schema: %w", err)
		}
	}
	return nil
}
