package memstore

import (
	"context"
	"testing"
	"time"

	"github.com/rb/deliverytrack-go/internal/storage"
)

func TestHistoryFiltersAndSorts(t *testing.T) {
	ctx := context.Background()
	store := New()
	if err := store.EnsureSchema(ctx); err != nil {
		t.Fatalf("EnsureSchema error: %v", err)
	}

	base := time.Date(2026, 3, 1, 12, 0, 0, 0, time.UTC)
	for _, offset := range []int{2, 0, 1} {
		p := storage.Point{
			VehicleID:  "veh-1",
			DeliveryID: "del-1",
			Speed:      float64(offset),
			Time:       base.Add(time.Duration(offset) * time.Second),
		}
		if err := store.WritePoint(ctx, p); err != nil {
			t.Fatalf("WritePoint error: %v", err)
		}
	}
	if err := store.WritePoint(ctx, storage.Point{DeliveryID: "del-2", Time: base}); err != nil {
		t.Fatalf("WritePoint error: %v", err)
	}

	points, err := store.History(ctx, "del-1")
	if err != nil {
		t.Fatalf("History error: %v", err)
	}
	if len(points) != 3 {
		t.Fatalf("len(points) = %d, want 3", len(points))
	}
	for i, p := range points {
		if p.Speed != float64(i) {
			t.Errorf("points[%d].Speed = %v, want %d", i, p.Speed, i)
		}
	}
	if store.Len() != 4 {
		t.Errorf("Len = %d, want 4", store.Len())
	}
}

func TestHistoryUnknownDelivery(t *testing.T) {
	store := New()
	points, err := store.History(context.Background(), "missing")
	if err != nil {
		t.Fatalf("History error: %v", err)
	}
	if len(points) != 0 {
		t.Errorf("len(points) = %d, want 0", len(points))
	}
}

func TestCancelledContext(t *testing.T) {
	store := New()
	ctx, cancel := context.WithCancel(context.Background())
	cancel()
	if err := store.WritePoint(ctx, storage.Point{}); err == nil {
		t.Error("WritePoint with cancelled context: expected error")
	}
	if _, err := store.History(ctx, "del-1"); err == nil {
		t.Error("History with cancelled context: expected error")
	}
}
