// Package postgres stores tracking points in a PostgreSQL table.
package postgres

import (
	"context"
	"fmt"
	"strings"

	"github.com/jackc/pgx/v5/pgxpool"

	"github.com/rb/deliverytrack-go/internal/storage"
)

type Config struct {
	ConnString string
	MaxConns   int32
}

type Store struct {
	pool *pgxpool.Pool
}

// New opens a connection pool and verifies it.
func New(ctx context.Context, cfg Config) (*Store, error) {
	if cfg.ConnString == "" {
		return nil, fmt.Errorf("postgres: connection string is empty")
	}
	poolCfg, err := pgxpool.ParseConfig(cfg.ConnString)
	if err != nil {
		return nil, fmt.Errorf("postgres: parse config: %w", err)
	}
	if cfg.MaxConns > 0 {
		poolCfg.MaxConns = cfg.MaxConns
	}
	pool, err := pgxpool.NewWithConfig(ctx, poolCfg)
	if err != nil {
		return nil, fmt.Errorf("postgres: connect: %w", err)
	}
	if err := pool.Ping(ctx); err != nil {
		pool.Close()
		return nil, fmt.Errorf("postgres: ping: %w", err)
	}
	return &Store{pool: pool}, nil
}

func (s *Store) Close() {
	if s.pool != nil {
		s.pool.Close()
	}
}

// EnsureSchema creates the points table and its query index. IF NOT EXISTS
// makes repeated startups a no-op.
func (s *Store) EnsureSchema(ctx context.Context) error {
	ddl := []string{
		`CREATE TABLE IF NOT EXISTS ` + storage.Measurement + ` (
			ts TIMESTAMPTZ NOT NULL,
			vehicle_id TEXT NOT NULL,
			plate TEXT NOT NULL DEFAULT '',
			tracking_id TEXT NOT NULL DEFAULT '',
			delivery_id TEXT NOT NULL DEFAULT '',
			lat DOUBLE PRECISION NOT NULL DEFAULT 0,
			lng DOUBLE PRECISION NOT NULL DEFAULT 0,
			speed DOUBLE PRECISION NOT NULL DEFAULT 0,
			fuel_value DOUBLE PRECISION NOT NULL DEFAULT 0,
			temp_value DOUBLE PRECISION NOT NULL DEFAULT 0,
			active BOOLEAN NOT NULL DEFAULT FALSE
		)`,
		`CREATE INDEX IF NOT EXISTS idx_` + storage.Measurement + `_delivery_ts
			ON ` + storage.Measurement + ` (delivery_id, ts)`,
	}
	for _, stmt := range ddl {
		if _, err := s.pool.Exec(ctx, stmt); err != nil {
			return fmt.Errorf("postgres: ensure schema: %w", err)
		}
	}
	return nil
}

func (s *Store) WritePoint(ctx context.Context, p storage.Point) error {
	_, err := s.pool.Exec(ctx,
		`INSERT INTO `+storage.Measurement+`
			(ts, vehicle_id, plate, tracking_id, delivery_id, lat, lng, speed, fuel_value, temp_value, active)
			VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9, $10, $11)`,
		p.Time, p.VehicleID, p.Plate, p.TrackingID, p.DeliveryID,
		p.Lat, p.Lng, p.Speed, p.FuelValue, p.TempValue, p.Active,
	)
	if err != nil {
		return fmt.Errorf("postgres: write point: %w", err)
	}
	return nil
}

func (s *Store) History(ctx context.Context, deliveryID string) ([]storage.Point, error) {
	rows, err := s.pool.Query(ctx,
		`SELECT ts, vehicle_id, plate, tracking_id, delivery_id, lat, lng, speed, fuel_value, temp_value, active
			FROM `+storage.Measurement+`
			WHERE delivery_id = $1
			ORDER BY ts ASC`,
		deliveryID,
	)
	if err != nil {
		return nil, fmt.Errorf("postgres: history query: %w", err)
	}
	defer rows.Close()

	var points []storage.Point
	for rows.Next() {
		var p storage.Point
		if err := rows.Scan(&p.Time, &p.VehicleID, &p.Plate, &p.TrackingID, &p.DeliveryID,
			&p.Lat, &p.Lng, &p.Speed, &p.FuelValue, &p.TempValue, &p.Active); err != nil {
			return nil, fmt.Errorf("postgres: scan history row: %w", err)
		}
		points = append(points, p)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("postgres: history rows: %w", err)
	}
	return points, nil
}

// IsPostgresURL reports whether the DSN points at PostgreSQL.
func IsPostgresURL(dsn string) bool {
	lower := strings.ToLower(dsn)
	return strings.HasPrefix(lower, "postgres://") ||
		strings.HasPrefix(lower, "postgresql://")
}
