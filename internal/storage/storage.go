// Package storage defines the time-series point store used by tracking and
// its DSN-dispatched backends.
package storage

import (
	"context"
	"time"
)

// Measurement is the series/table name shared by all backends.
const Measurement = "vehicle_position"

// Point is one immutable tracking sample. Tags identify the vehicle and the
// delivery being tracked; fields carry the decoded quantities. Readings the
// unit did not report are stored as zero values, matching the write format
// history consumers already expect.
type Point struct {
	VehicleID  string
	Plate      string
	TrackingID string
	DeliveryID string

	Lat       float64
	Lng       float64
	Speed     float64
	FuelValue float64
	TempValue float64
	Active    bool

	Time time.Time
}

// Store is an append-only point sink with a per-delivery history view.
type Store interface {
	// EnsureSchema prepares the target database/table. Idempotent: an
	// already existing target is success, not failure.
	EnsureSchema(ctx context.Context) error
	// WritePoint appends one sample.
	WritePoint(ctx context.Context, p Point) error
	// History returns every point tagged with deliveryID, time ascending.
	// A delivery without samples yields an empty result, not an error.
	History(ctx context.Context, deliveryID string) ([]Point, error)
	Close()
}
