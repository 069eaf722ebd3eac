// Package sqlite stores tracking points in an embedded SQLite database, for
// dev boxes and tests.
package sqlite

import (
	"context"
	"database/sql"
	"fmt"
	"strings"
	"time"

	_ "modernc.org/sqlite"

	"github.com/rb/deliverytrack-go/internal/storage"
)

type Config struct {
	Source string
}

type Store struct {
	db *sql.DB
}

func New(ctx context.Context, cfg Config) (*Store, error) {
	if cfg.Source == "" {
		return nil, fmt.Errorf("sqlite: database path is empty")
	}
	db, err := sql.Open("sqlite", cfg.Source)
	if err != nil {
		return nil, fmt.Errorf("sqlite: open: %w", err)
	}
	if err := db.PingContext(ctx); err != nil {
		db.Close()
		return nil, fmt.Errorf("sqlite: ping: %w", err)
	}
	return &Store{db: db}, nil
}

func (s *Store) Close() {
	if s.db != nil {
		s.db.Close()
	}
}

func (s *Store) EnsureSchema(ctx context.Context) error {
	ddl := []string{
		`CREATE TABLE IF NOT EXISTS ` + storage.Measurement + ` (
			ts_ns INTEGER NOT NULL,
			vehicle_id TEXT NOT NULL,
			plate TEXT NOT NULL DEFAULT '',
			tracking_id TEXT NOT NULL DEFAULT '',
			delivery_id TEXT NOT NULL DEFAULT '',
			lat REAL NOT NULL DEFAULT 0,
			lng REAL NOT NULL DEFAULT 0,
			speed REAL NOT NULL DEFAULT 0,
			fuel_value REAL NOT NULL DEFAULT 0,
			temp_value REAL NOT NULL DEFAULT 0,
			active INTEGER NOT NULL DEFAULT 0
		)`,
		`CREATE INDEX IF NOT EXISTS idx_` + storage.Measurement + `_delivery_ts
			ON ` + storage.Measurement + ` (delivery_id, ts_ns)`,
	}
	for _, stmt := range ddl {
		if _, err := s.db.ExecContext(ctx, stmt); err != nil {
			return fmt.Errorf("sqlite: ensure schema: %w", err)
		}
	}
	return nil
}

func (s *Store) WritePoint(ctx context.Context, p storage.Point) error {
	active := 0
	if p.Active {
		active = 1
	}
	_, err := s.db.ExecContext(ctx,
		`INSERT INTO `+storage.Measurement+`
			(ts_ns, vehicle_id, plate, tracking_id, delivery_id, lat, lng, speed, fuel_value, temp_value, active)
			VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?)`,
		p.Time.UnixNano(), p.VehicleID, p.Plate, p.TrackingID, p.DeliveryID,
		p.Lat, p.Lng, p.Speed, p.FuelValue, p.TempValue, active,
	)
	if err != nil {
		return fmt.Errorf("sqlite: write point: %w", err)
	}
	return nil
}

func (s *Store) History(ctx context.Context, deliveryID string) ([]storage.Point, error) {
	rows, err := s.db.QueryContext(ctx,
		`SELECT ts_ns, vehicle_id, plate, tracking_id, delivery_id, lat, lng, speed, fuel_value, temp_value, active
			FROM `+storage.Measurement+`
			WHERE delivery_id = ?
			ORDER BY ts_ns ASC`,
		deliveryID,
	)
	if err != nil {
		return nil, fmt.Errorf("sqlite: history query: %w", err)
	}
	defer rows.Close()

	var points []storage.Point
	for rows.Next() {
		var p storage.Point
		var ns int64
		var active int
		if err := rows.Scan(&ns, &p.VehicleID, &p.Plate, &p.TrackingID, &p.DeliveryID,
			&p.Lat, &p.Lng, &p.Speed, &p.FuelValue, &p.TempValue, &active); err != nil {
			return nil, fmt.Errorf("sqlite: scan history row: %w", err)
		}
		p.Time = time.Unix(0, ns)
		p.Active = active != 0
		points = append(points, p)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("sqlite: history rows: %w", err)
	}
	return points, nil
}

func IsSource(src string) bool {
	if src == "" {
		return false
	}
	lower := strings.ToLower(src)
	switch {
	case strings.HasPrefix(lower, "sqlite://"),
		strings.HasPrefix(lower, "file:"),
		strings.HasSuffix(lower, ".db"),
		src == ":memory:":
		return true
	default:
		return false
	}
}

func NormalizeSource(src string) string {
	if strings.HasPrefix(src, "sqlite://") {
		return strings.TrimPrefix(src, "sqlite://")
	}
	return src
}
