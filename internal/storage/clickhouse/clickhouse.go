// Package clickhouse stores tracking points in a ClickHouse MergeTree table.
package clickhouse

import (
	"context"
	"fmt"
	"net"
	"net/url"
	"strings"

	ch "github.com/ClickHouse/clickhouse-go/v2"

	"github.com/rb/deliverytrack-go/internal/storage"
)

type Config struct {
	DSN string
}

type Store struct {
	conn  ch.Conn
	table string
}

type connOptions struct {
	addr     string
	database string
	username string
	password string
}

func New(ctx context.Context, cfg Config) (*Store, error) {
	opts, err := parseDSN(cfg.DSN)
	if err != nil {
		return nil, err
	}
	conn, err := ch.Open(&ch.Options{
		Addr: []string{opts.addr},
		Auth: ch.Auth{
			Database: opts.database,
			Username: opts.username,
			Password: opts.password,
		},
	})
	if err != nil {
		return nil, fmt.Errorf("clickhouse: open: %w", err)
	}
	if err := conn.Ping(ctx); err != nil {
		conn.Close()
		return nil, fmt.Errorf("clickhouse: ping: %w", err)
	}
	table := fmt.Sprintf("%s.%s", opts.database, storage.Measurement)
	return &Store{conn: conn, table: table}, nil
}

func parseDSN(dsn string) (connOptions, error) {
	if dsn == "" {
		return connOptions{}, fmt.Errorf("clickhouse: DSN is empty")
	}
	parsed, err := url.Parse(dsn)
	if err != nil {
		return connOptions{}, fmt.Errorf("clickhouse: parse DSN: %w", err)
	}
	host := parsed.Host
	if host == "" {
		host = "localhost:9000"
	}
	if !strings.Contains(host, ":") {
		host = net.JoinHostPort(host, "9000")
	}
	database := strings.TrimPrefix(parsed.Path, "/")
	if database == "" {
		database = "default"
	}
	username := parsed.User.Username()
	password, _ := parsed.User.Password()
	return connOptions{addr: host, database: database, username: username, password: password}, nil
}

func (s *Store) Close() {
	if s.conn != nil {
		s.conn.Close()
	}
}

func (s *Store) EnsureSchema(ctx context.Context) error {
	query := fmt.Sprintf(createTableSQL, s.table)
	if err := s.conn.Exec(ctx, query); err != nil {
		return fmt.Errorf("clickhouse: create table: %w", err)
	}
	return nil
}

func (s *Store) WritePoint(ctx context.Context, p storage.Point) error {
	batch, err := s.conn.PrepareBatch(ctx, fmt.Sprintf("INSERT INTO %s", s.table))
	if err != nil {
		return fmt.Errorf("clickhouse: prepare batch: %w", err)
	}
	err = batch.Append(
		p.Time,
		p.VehicleID,
		p.Plate,
		p.TrackingID,
		p.DeliveryID,
		p.Lat,
		p.Lng,
		p.Speed,
		p.FuelValue,
		p.TempValue,
		p.Active,
	)
	if err != nil {
		return fmt.Errorf("clickhouse: append point: %w", err)
	}
	if err := batch.Send(); err != nil {
		return fmt.Errorf("clickhouse: send batch: %w", err)
	}
	return nil
}

func (s *Store) History(ctx context.Context, deliveryID string) ([]storage.Point, error) {
	query := fmt.Sprintf(historySQL, s.table)
	rows, err := s.conn.Query(ctx, query, ch.Named("delivery_id", deliveryID))
	if err != nil {
		return nil, fmt.Errorf("clickhouse: history query: %w", err)
	}
	defer rows.Close()

	points := make([]storage.Point, 0, 256)
	for rows.Next() {
		var p storage.Point
		err := rows.Scan(
			&p.Time,
			&p.VehicleID,
			&p.Plate,
			&p.TrackingID,
			&p.DeliveryID,
			&p.Lat,
			&p.Lng,
			&p.Speed,
			&p.FuelValue,
			&p.TempValue,
			&p.Active,
		)
		if err != nil {
			return nil, fmt.Errorf("clickhouse: history scan: %w", err)
		}
		points = append(points, p)
	}
	return points, rows.Err()
}

const createTableSQL = `
CREATE TABLE IF NOT EXISTS %s (
    ts          DateTime64(9),
    vehicle_id  String,
    plate       String,
    tracking_id String,
    delivery_id String,
    lat         Float64,
    lng         Float64,
    speed       Float64,
    fuel_value  Float64,
    temp_value  Float64,
    active      Bool
)
ENGINE = MergeTree
ORDER BY (delivery_id, ts);
`

const historySQL = `
SELECT ts, vehicle_id, plate, tracking_id, delivery_id,
       lat, lng, speed, fuel_value, temp_value, active
FROM %s
WHERE delivery_id = @delivery_id
ORDER BY ts;
`

func IsSource(dsn string) bool {
	if dsn == "" {
		return false
	}
	lower := strings.ToLower(dsn)
	return strings.HasPrefix(lower, "clickhouse://") || strings.HasPrefix(lower, "ch://")
}
