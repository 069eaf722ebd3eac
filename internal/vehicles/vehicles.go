// Package vehicles resolves vehicle ids to their telemetry tracking
// reference. The vehicle catalog itself is owned by the back office; this
// service only reads the fields tracking needs.
package vehicles

import (
	"context"
	"errors"
)

// ErrNotFound is returned when the vehicle id is unknown to the source.
var ErrNotFound = errors.New("vehicles: vehicle not found")

// ErrNoTrackingRef means the vehicle exists but carries no provider unit id,
// so it can never be polled. Callers must fail fast on it.
var ErrNoTrackingRef = errors.New("vehicles: vehicle has no tracking reference")

// Tracking is the provider-side identity of a vehicle.
type Tracking struct {
	ID    string `bson:"id" json:"id"`
	Plate string `bson:"plate" json:"plate"`
}

// Vehicle is the subset of the catalog document tracking cares about.
type Vehicle struct {
	ID                 string   `bson:"_id" json:"id"`
	Name               string   `bson:"name" json:"name"`
	RegistrationNumber string   `bson:"registrationNumber" json:"registrationNumber"`
	Tracking           Tracking `bson:"tracking" json:"tracking"`
}

// Source looks vehicles up by id.
type Source interface {
	VehicleByID(ctx context.Context, id string) (*Vehicle, error)
}
