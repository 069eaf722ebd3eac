// Package tracker schedules per-delivery polling sessions: each active
// delivery owns a goroutine that fetches the vehicle's unit on an interval,
// decodes it and appends a point to the store.
package tracker

import (
	"context"
	"errors"
	"fmt"
	"sort"
	"strconv"
	"strings"
	"sync"
	"time"

	"github.com/google/uuid"
	"github.com/sirupsen/logrus"

	"github.com/rb/deliverytrack-go/internal/decode"
	"github.com/rb/deliverytrack-go/internal/metrics"
	"github.com/rb/deliverytrack-go/internal/storage"
	"github.com/rb/deliverytrack-go/internal/vehicles"
	"github.com/rb/deliverytrack-go/internal/wialon"
)

// ErrAlreadyTracking is returned by Start when the delivery already has an
// active session.
var ErrAlreadyTracking = errors.New("tracker: delivery is already being tracked")

// ErrNotTracking is returned by Stop when no session exists for the delivery.
var ErrNotTracking = errors.New("tracker: delivery is not being tracked")

// UnitFetcher is the provider surface the tracker needs.
type UnitFetcher interface {
	SearchUnitByID(ctx context.Context, id int64, flags uint64) (*wialon.Unit, error)
}

// Config wires the tracker's collaborators and timing defaults.
type Config struct {
	Fetcher  UnitFetcher
	Store    storage.Store
	Vehicles vehicles.Source
	Signals  decode.Signals
	// DefaultInterval is used when Start gets a non-positive interval.
	// Defaults to 30s.
	DefaultInterval time.Duration
	// CallTimeout bounds one poll cycle (fetch + decode + write).
	// Defaults to 10s.
	CallTimeout time.Duration
	Log         *logrus.Entry
}

// Session describes one active tracking. It is a value snapshot; mutating it
// has no effect on the running session.
type Session struct {
	ID         string    `json:"id"`
	DeliveryID string    `json:"deliveryId"`
	VehicleID  string    `json:"vehicleId"`
	Plate      string    `json:"plate"`
	TrackingID int64     `json:"trackingId"`
	Interval   float64   `json:"intervalSeconds"`
	StartedAt  time.Time `json:"startedAt"`
}

// DeliveryStat is one row of the Stats report.
type DeliveryStat struct {
	Session
	DurationSeconds float64 `json:"durationSeconds"`
}

// Stats is a point-in-time snapshot of all active sessions.
type Stats struct {
	ActiveTrackings int            `json:"activeTrackings"`
	Deliveries      []DeliveryStat `json:"deliveries"`
}

type session struct {
	meta   Session
	cancel context.CancelFunc
	done   chan struct{}
}

// Tracker owns the session registry. All methods are safe for concurrent use.
type Tracker struct {
	fetcher  UnitFetcher
	store    storage.Store
	vehicles vehicles.Source
	signals  decode.Signals
	interval time.Duration
	timeout  time.Duration
	log      *logrus.Entry

	mu       sync.Mutex
	sessions map[string]*session
}

func New(cfg Config) (*Tracker, error) {
	if cfg.Fetcher == nil {
		return nil, fmt.Errorf("tracker: fetcher is nil")
	}
	if cfg.Store == nil {
		return nil, fmt.Errorf("tracker: store is nil")
	}
	if cfg.Vehicles == nil {
		return nil, fmt.Errorf("tracker: vehicle source is nil")
	}
	interval := cfg.DefaultInterval
	if interval <= 0 {
		interval = 30 * time.Second
	}
	timeout := cfg.CallTimeout
	if timeout <= 0 {
		timeout = 10 * time.Second
	}
	log := cfg.Log
	if log == nil {
		log = logrus.WithField("component", "tracker")
	}
	return &Tracker{
		fetcher:  cfg.Fetcher,
		store:    cfg.Store,
		vehicles: cfg.Vehicles,
		signals:  cfg.Signals,
		interval: interval,
		timeout:  timeout,
		log:      log,
		sessions: make(map[string]*session),
	}, nil
}

// Start begins tracking a delivery. The vehicle is resolved first so a
// missing or untrackable vehicle fails before any session is registered. The
// first poll runs synchronously and best-effort: its failure is logged but
// does not abort the session. Returns ErrAlreadyTracking for a duplicate
// delivery; the existing session keeps running unchanged.
func (t *Tracker) Start(ctx context.Context, deliveryID, vehicleID string, interval time.Duration) (Session, error) {
	if deliveryID == "" {
		return Session{}, fmt.Errorf("tracker: delivery id is empty")
	}
	v, err := t.vehicles.VehicleByID(ctx, vehicleID)
	if err != nil {
		return Session{}, err
	}
	if v.Tracking.ID == "" {
		return Session{}, fmt.Errorf("tracker: vehicle %s: %w", vehicleID, vehicles.ErrNoTrackingRef)
	}
	unitID, err := strconv.ParseInt(v.Tracking.ID, 10, 64)
	if err != nil {
		return Session{}, fmt.Errorf("tracker: vehicle %s: parse tracking id %q: %w", vehicleID, v.Tracking.ID, err)
	}
	if interval <= 0 {
		interval = t.interval
	}

	meta := Session{
		ID:         uuid.NewString(),
		DeliveryID: deliveryID,
		VehicleID:  vehicleID,
		Plate:      v.Tracking.Plate,
		TrackingID: unitID,
		Interval:   interval.Seconds(),
		StartedAt:  time.Now(),
	}

	runCtx, cancel := context.WithCancel(context.Background())
	s := &session{meta: meta, cancel: cancel, done: make(chan struct{})}

	t.mu.Lock()
	if _, exists := t.sessions[deliveryID]; exists {
		t.mu.Unlock()
		cancel()
		return Session{}, fmt.Errorf("tracker: delivery %s: %w", deliveryID, ErrAlreadyTracking)
	}
	t.sessions[deliveryID] = s
	active := len(t.sessions)
	t.mu.Unlock()
	metrics.SetActiveTrackings(active)

	log := t.log.WithFields(logrus.Fields{
		"delivery": deliveryID,
		"vehicle":  vehicleID,
		"unit":     unitID,
	})
	log.WithField("interval", interval).Info("tracking started")

	// First sample right away so history begins at start, not one interval
	// later.
	t.runCycle(meta, log)

	go func() {
		defer close(s.done)
		ticker := time.NewTicker(interval)
		defer ticker.Stop()
		for {
			select {
			case <-runCtx.Done():
				return
			case <-ticker.C:
				t.runCycle(meta, log)
			}
		}
	}()

	return meta, nil
}

// Stop ends the delivery's session and reports how long it ran. The cycle in
// flight, if any, finishes on its own timeout; Stop does not interrupt it.
func (t *Tracker) Stop(deliveryID string) (time.Duration, error) {
	t.mu.Lock()
	s, ok := t.sessions[deliveryID]
	if !ok {
		t.mu.Unlock()
		return 0, fmt.Errorf("tracker: delivery %s: %w", deliveryID, ErrNotTracking)
	}
	delete(t.sessions, deliveryID)
	active := len(t.sessions)
	t.mu.Unlock()
	metrics.SetActiveTrackings(active)

	s.cancel()
	<-s.done
	elapsed := time.Since(s.meta.StartedAt)
	t.log.WithFields(logrus.Fields{
		"delivery": deliveryID,
		"duration": elapsed,
	}).Info("tracking stopped")
	return elapsed, nil
}

// StopAll ends every session and waits until their goroutines exit.
func (t *Tracker) StopAll() {
	t.mu.Lock()
	stopped := make([]*session, 0, len(t.sessions))
	for id, s := range t.sessions {
		delete(t.sessions, id)
		stopped = append(stopped, s)
	}
	t.mu.Unlock()
	metrics.SetActiveTrackings(0)

	for _, s := range stopped {
		s.cancel()
	}
	for _, s := range stopped {
		<-s.done
	}
	if len(stopped) > 0 {
		t.log.WithField("count", len(stopped)).Info("all trackings stopped")
	}
}

// Stats snapshots the active sessions, sorted by delivery id.
func (t *Tracker) Stats() Stats {
	now := time.Now()
	t.mu.Lock()
	deliveries := make([]DeliveryStat, 0, len(t.sessions))
	for _, s := range t.sessions {
		deliveries = append(deliveries, DeliveryStat{
			Session:         s.meta,
			DurationSeconds: now.Sub(s.meta.StartedAt).Seconds(),
		})
	}
	t.mu.Unlock()
	sort.Slice(deliveries, func(i, j int) bool {
		return deliveries[i].DeliveryID < deliveries[j].DeliveryID
	})
	return Stats{ActiveTrackings: len(deliveries), Deliveries: deliveries}
}

// CurrentPosition fetches and decodes one sample outside any session. The
// point is not stored.
func (t *Tracker) CurrentPosition(ctx context.Context, vehicleID string) (decode.Sample, error) {
	v, err := t.vehicles.VehicleByID(ctx, vehicleID)
	if err != nil {
		return decode.Sample{}, err
	}
	if v.Tracking.ID == "" {
		return decode.Sample{}, fmt.Errorf("tracker: vehicle %s: %w", vehicleID, vehicles.ErrNoTrackingRef)
	}
	unitID, err := strconv.ParseInt(v.Tracking.ID, 10, 64)
	if err != nil {
		return decode.Sample{}, fmt.Errorf("tracker: vehicle %s: parse tracking id %q: %w", vehicleID, v.Tracking.ID, err)
	}
	unit, err := t.fetcher.SearchUnitByID(ctx, unitID, wialon.AllDataFlags)
	if err != nil {
		return decode.Sample{}, err
	}
	return decode.Unit(vehicleID, v.Tracking.ID, v.Tracking.Plate, unit, t.signals, time.Now()), nil
}

// runCycle performs one fetch-decode-store pass. It runs on its own
// background context so a session cancel never cuts a write short; the
// timeout alone bounds it. Errors are logged and counted, never propagated:
// the next tick retries.
func (t *Tracker) runCycle(meta Session, log *logrus.Entry) {
	ctx, cancel := context.WithTimeout(context.Background(), t.timeout)
	defer cancel()

	unit, err := t.fetcher.SearchUnitByID(ctx, meta.TrackingID, wialon.AllDataFlags)
	if err != nil {
		log.WithError(err).Warn("poll cycle: fetch unit")
		metrics.TickObserved(false)
		metrics.TickFailed(metrics.StageFetch)
		return
	}
	sample := decode.Unit(meta.VehicleID, strconv.FormatInt(meta.TrackingID, 10), meta.Plate, unit, t.signals, time.Now())
	point := pointFromSample(meta.DeliveryID, sample)
	if err := t.store.WritePoint(ctx, point); err != nil {
		log.WithError(err).Warn("poll cycle: write point")
		metrics.TickObserved(false)
		metrics.TickFailed(metrics.StageStore)
		return
	}
	metrics.TickObserved(true)
	metrics.PointWritten()
}

// pointFromSample flattens a decoded sample into the storage write format:
// absent readings become zero values and plate spaces become underscores so
// the plate stays a single tag token.
func pointFromSample(deliveryID string, s decode.Sample) storage.Point {
	p := storage.Point{
		VehicleID:  s.VehicleID,
		Plate:      strings.ReplaceAll(s.Plate, " ", "_"),
		TrackingID: s.TrackingID,
		DeliveryID: deliveryID,
		Lat:        s.Position.Lat,
		Lng:        s.Position.Lng,
		Speed:      s.Position.SpeedKmh,
		Time:       s.Timestamp,
	}
	if s.Fuel.Value != nil {
		p.FuelValue = *s.Fuel.Value
	}
	if s.Temperature.Value != nil {
		p.TempValue = *s.Temperature.Value
	}
	if s.Ignition != nil {
		p.Active = *s.Ignition
	}
	return p
}
