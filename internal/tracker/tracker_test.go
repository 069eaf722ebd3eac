package tracker

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"testing"
	"time"

	"github.com/rb/deliverytrack-go/internal/decode"
	"github.com/rb/deliverytrack-go/internal/storage/memstore"
	"github.com/rb/deliverytrack-go/internal/vehicles"
	"github.com/rb/deliverytrack-go/internal/wialon"
)

type fakeSource struct {
	byID map[string]*vehicles.Vehicle
}

func (f *fakeSource) VehicleByID(_ context.Context, id string) (*vehicles.Vehicle, error) {
	v, ok := f.byID[id]
	if !ok {
		return nil, vehicles.ErrNotFound
	}
	return v, nil
}

type fakeFetcher struct {
	mu     sync.Mutex
	calls  int
	unit   *wialon.Unit
	errs   []error
}

func (f *fakeFetcher) SearchUnitByID(_ context.Context, _ int64, _ uint64) (*wialon.Unit, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.calls++
	if len(f.errs) > 0 {
		err := f.errs[0]
		f.errs = f.errs[1:]
		if err != nil {
			return nil, err
		}
	}
	return f.unit, nil
}

func (f *fakeFetcher) callCount() int {
	f.mu.Lock()
	defer f.mu.Unlock()
	return f.calls
}

func testUnit() *wialon.Unit {
	id := int64(734)
	lat, lng, speed := 48.85, 2.35, 42.0
	fuel, ign := 60.0, 1.0
	return &wialon.Unit{
		ID:   &id,
		Name: "Truck 734",
		Pos:  &wialon.Position{X: &lng, Y: &lat, S: &speed},
		Prms: map[string]wialon.Param{
			"io_273": {V: &fuel},
			"io_239": {V: &ign},
		},
		Sens: map[string]wialon.Sensor{
			"1": {ID: 1, Name: "Fuel", P: "io_273", M: "l", Tbl: []wialon.CalibrationEntry{
				{X: 0, A: 1, B: 0},
				{X: 50, A: 2, B: -10},
			}},
		},
	}
}

func newTestTracker(t *testing.T, fetcher UnitFetcher, store *memstore.Store) *Tracker {
	t.Helper()
	src := &fakeSource{byID: map[string]*vehicles.Vehicle{
		"veh-1": {
			ID:       "veh-1",
			Name:     "Truck 734",
			Tracking: vehicles.Tracking{ID: "734", Plate: "AB 123 CD"},
		},
		"veh-bare": {
			ID:   "veh-bare",
			Name: "No telemetry",
		},
		"veh-bad": {
			ID:       "veh-bad",
			Tracking: vehicles.Tracking{ID: "not-a-number"},
		},
	}}
	tr, err := New(Config{
		Fetcher:     fetcher,
		Store:       store,
		Vehicles:    src,
		Signals:     decode.DefaultSignals(),
		CallTimeout: time.Second,
	})
	if err != nil {
		t.Fatalf("New error: %v", err)
	}
	return tr
}

func TestTrackingWritesPoints(t *testing.T) {
	store := memstore.New()
	fetcher := &fakeFetcher{unit: testUnit()}
	tr := newTestTracker(t, fetcher, store)

	meta, err := tr.Start(context.Background(), "del-1", "veh-1", 100*time.Millisecond)
	if err != nil {
		t.Fatalf("Start error: %v", err)
	}
	if meta.ID == "" || meta.TrackingID != 734 || meta.Plate != "AB 123 CD" {
		t.Errorf("session meta = %+v", meta)
	}

	// The first cycle is synchronous, so one point exists immediately.
	points, err := store.History(context.Background(), "del-1")
	if err != nil {
		t.Fatalf("History error: %v", err)
	}
	if len(points) != 1 {
		t.Fatalf("points after start = %d, want 1", len(points))
	}
	p := points[0]
	if p.Plate != "AB_123_CD" {
		t.Errorf("Plate = %q, want AB_123_CD", p.Plate)
	}
	if p.Lat != 48.85 || p.Lng != 2.35 || p.Speed != 42 {
		t.Errorf("position = %v/%v/%v", p.Lat, p.Lng, p.Speed)
	}
	// 60 falls in the second calibration segment: 2*60-10.
	if p.FuelValue != 110 {
		t.Errorf("FuelValue = %v, want 110", p.FuelValue)
	}
	if !p.Active {
		t.Error("Active = false, want true")
	}

	time.Sleep(350 * time.Millisecond)
	elapsed, err := tr.Stop("del-1")
	if err != nil {
		t.Fatalf("Stop error: %v", err)
	}
	if elapsed <= 0 {
		t.Errorf("elapsed = %v, want > 0", elapsed)
	}

	points, err = store.History(context.Background(), "del-1")
	if err != nil {
		t.Fatalf("History error: %v", err)
	}
	// 1 immediate + ~3 ticks; timers are not exact, allow slack.
	if len(points) < 3 || len(points) > 6 {
		t.Errorf("points after 350ms = %d, want 3..6", len(points))
	}
	for i := 1; i < len(points); i++ {
		if points[i].Time.Before(points[i-1].Time) {
			t.Errorf("points out of order at %d", i)
		}
	}

	// No writes after Stop.
	count := store.Len()
	time.Sleep(250 * time.Millisecond)
	if got := store.Len(); got != count {
		t.Errorf("points grew after Stop: %d -> %d", count, got)
	}
}

func TestStartDuplicate(t *testing.T) {
	store := memstore.New()
	tr := newTestTracker(t, &fakeFetcher{unit: testUnit()}, store)
	defer tr.StopAll()

	first, err := tr.Start(context.Background(), "del-1", "veh-1", time.Hour)
	if err != nil {
		t.Fatalf("Start error: %v", err)
	}
	if _, err := tr.Start(context.Background(), "del-1", "veh-1", time.Hour); !errors.Is(err, ErrAlreadyTracking) {
		t.Fatalf("second Start error = %v, want ErrAlreadyTracking", err)
	}

	stats := tr.Stats()
	if stats.ActiveTrackings != 1 {
		t.Fatalf("ActiveTrackings = %d, want 1", stats.ActiveTrackings)
	}
	if stats.Deliveries[0].StartedAt != first.StartedAt {
		t.Error("duplicate Start replaced the original session")
	}
}

func TestStartVehicleErrors(t *testing.T) {
	tests := []struct {
		name      string
		vehicleID string
		wantErr   error
	}{
		{"unknown vehicle", "ghost", vehicles.ErrNotFound},
		{"no tracking ref", "veh-bare", vehicles.ErrNoTrackingRef},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			tr := newTestTracker(t, &fakeFetcher{}, memstore.New())
			if _, err := tr.Start(context.Background(), "del-1", tt.vehicleID, time.Hour); !errors.Is(err, tt.wantErr) {
				t.Errorf("Start error = %v, want %v", err, tt.wantErr)
			}
			if n := tr.Stats().ActiveTrackings; n != 0 {
				t.Errorf("ActiveTrackings = %d, want 0", n)
			}
		})
	}
}

func TestStartBadTrackingID(t *testing.T) {
	tr := newTestTracker(t, &fakeFetcher{}, memstore.New())
	if _, err := tr.Start(context.Background(), "del-1", "veh-bad", time.Hour); err == nil {
		t.Fatal("Start with unparsable tracking id: expected error")
	}
}

func TestStopUnknown(t *testing.T) {
	tr := newTestTracker(t, &fakeFetcher{}, memstore.New())
	if _, err := tr.Stop("never-started"); !errors.Is(err, ErrNotTracking) {
		t.Fatalf("Stop error = %v, want ErrNotTracking", err)
	}
}

func TestCycleFailureKeepsSessionAlive(t *testing.T) {
	store := memstore.New()
	fetcher := &fakeFetcher{
		unit: testUnit(),
		errs: []error{fmt.Errorf("provider unavailable")},
	}
	tr := newTestTracker(t, fetcher, store)

	// First (synchronous) cycle fails; the session must keep ticking.
	if _, err := tr.Start(context.Background(), "del-1", "veh-1", 100*time.Millisecond); err != nil {
		t.Fatalf("Start error: %v", err)
	}
	defer tr.StopAll()

	if store.Len() != 0 {
		t.Fatalf("points after failed first cycle = %d, want 0", store.Len())
	}

	time.Sleep(250 * time.Millisecond)
	if store.Len() == 0 {
		t.Error("no points after recovery, session appears dead")
	}
	if fetcher.callCount() < 2 {
		t.Errorf("fetcher calls = %d, want >= 2", fetcher.callCount())
	}
}

func TestStopAll(t *testing.T) {
	store := memstore.New()
	tr := newTestTracker(t, &fakeFetcher{unit: testUnit()}, store)

	for _, delivery := range []string{"del-1", "del-2", "del-3"} {
		if _, err := tr.Start(context.Background(), delivery, "veh-1", 50*time.Millisecond); err != nil {
			t.Fatalf("Start %s error: %v", delivery, err)
		}
	}
	if n := tr.Stats().ActiveTrackings; n != 3 {
		t.Fatalf("ActiveTrackings = %d, want 3", n)
	}

	tr.StopAll()
	if n := tr.Stats().ActiveTrackings; n != 0 {
		t.Fatalf("ActiveTrackings after StopAll = %d, want 0", n)
	}

	count := store.Len()
	time.Sleep(150 * time.Millisecond)
	if got := store.Len(); got != count {
		t.Errorf("points grew after StopAll: %d -> %d", count, got)
	}
}

func TestStats(t *testing.T) {
	tr := newTestTracker(t, &fakeFetcher{unit: testUnit()}, memstore.New())
	defer tr.StopAll()

	if _, err := tr.Start(context.Background(), "del-b", "veh-1", time.Hour); err != nil {
		t.Fatalf("Start error: %v", err)
	}
	if _, err := tr.Start(context.Background(), "del-a", "veh-1", time.Hour); err != nil {
		t.Fatalf("Start error: %v", err)
	}

	stats := tr.Stats()
	if stats.ActiveTrackings != 2 {
		t.Fatalf("ActiveTrackings = %d, want 2", stats.ActiveTrackings)
	}
	if stats.Deliveries[0].DeliveryID != "del-a" || stats.Deliveries[1].DeliveryID != "del-b" {
		t.Errorf("deliveries not sorted: %s, %s", stats.Deliveries[0].DeliveryID, stats.Deliveries[1].DeliveryID)
	}
	for _, d := range stats.Deliveries {
		if d.DurationSeconds < 0 {
			t.Errorf("DurationSeconds = %v, want >= 0", d.DurationSeconds)
		}
	}
}

func TestCurrentPosition(t *testing.T) {
	tr := newTestTracker(t, &fakeFetcher{unit: testUnit()}, memstore.New())

	sample, err := tr.CurrentPosition(context.Background(), "veh-1")
	if err != nil {
		t.Fatalf("CurrentPosition error: %v", err)
	}
	if sample.Position.Lat != 48.85 || sample.Position.Lng != 2.35 {
		t.Errorf("position = %+v", sample.Position)
	}
	if sample.Fuel.Value == nil || *sample.Fuel.Value != 110 {
		t.Errorf("fuel = %+v", sample.Fuel)
	}
	if sample.Ignition == nil || !*sample.Ignition {
		t.Errorf("ignition = %+v", sample.Ignition)
	}
	if sample.Plate != "AB 123 CD" {
		t.Errorf("plate = %q", sample.Plate)
	}

	if _, err := tr.CurrentPosition(context.Background(), "veh-bare"); !errors.Is(err, vehicles.ErrNoTrackingRef) {
		t.Errorf("CurrentPosition error = %v, want ErrNoTrackingRef", err)
	}
}
