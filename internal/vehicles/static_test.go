package vehicles

import (
	"context"
	"errors"
	"testing"

	"github.com/rb/deliverytrack-go/pkg/config"
)

func TestStaticSource(t *testing.T) {
	src := NewStaticSource([]config.StaticVehicle{
		{ID: "veh-1", Name: "Truck 1", TrackingID: "734", TrackingPlate: "AB 123 CD"},
		{ID: "veh-2", Name: "Truck 2"},
	})

	v, err := src.VehicleByID(context.Background(), "veh-1")
	if err != nil {
		t.Fatalf("VehicleByID error: %v", err)
	}
	if v.Tracking.ID != "734" || v.Tracking.Plate != "AB 123 CD" {
		t.Errorf("tracking = %+v", v.Tracking)
	}

	v, err = src.VehicleByID(context.Background(), "veh-2")
	if err != nil {
		t.Fatalf("VehicleByID error: %v", err)
	}
	if v.Tracking.ID != "" {
		t.Errorf("tracking id = %q, want empty", v.Tracking.ID)
	}

	if _, err := src.VehicleByID(context.Background(), "missing"); !errors.Is(err, ErrNotFound) {
		t.Errorf("error = %v, want ErrNotFound", err)
	}
}
