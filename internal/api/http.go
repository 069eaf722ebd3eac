// Package api is the HTTP control surface: it starts and stops delivery
// trackings and serves history, live position and stats.
package api

import (
	"context"
	"encoding/csv"
	"encoding/json"
	"errors"
	"fmt"
	"net/http"
	"strconv"
	"time"

	"github.com/gorilla/mux"
	"github.com/sirupsen/logrus"

	"github.com/rb/deliverytrack-go/internal/metrics"
	"github.com/rb/deliverytrack-go/internal/storage"
	"github.com/rb/deliverytrack-go/internal/tracker"
	"github.com/rb/deliverytrack-go/internal/vehicles"
	"github.com/rb/deliverytrack-go/internal/wialon"
)

// UnitSearcher lists provider units, for the fleet browse endpoint.
type UnitSearcher interface {
	SearchUnits(ctx context.Context, spec wialon.SearchSpec, flags uint64, from, to int) ([]wialon.Unit, error)
}

type Config struct {
	Tracker *tracker.Tracker
	Store   storage.Store
	Units   UnitSearcher
	// JWTSecret enables bearer auth on /api/v1 when non-empty.
	JWTSecret string
	Log       *logrus.Entry
}

type Server struct {
	tracker *tracker.Tracker
	store   storage.Store
	units   UnitSearcher
	router  *mux.Router
	log     *logrus.Entry
}

func NewServer(cfg Config) (*Server, error) {
	if cfg.Tracker == nil {
		return nil, fmt.Errorf("api: tracker is nil")
	}
	if cfg.Store == nil {
		return nil, fmt.Errorf("api: store is nil")
	}
	log := cfg.Log
	if log == nil {
		log = logrus.WithField("component", "api")
	}
	s := &Server{
		tracker: cfg.Tracker,
		store:   cfg.Store,
		units:   cfg.Units,
		router:  mux.NewRouter(),
		log:     log,
	}
	s.routes(cfg.JWTSecret)
	return s, nil
}

// Handler exposes the router, mainly for httptest.
func (s *Server) Handler() http.Handler { return s.router }

// Listen starts the server and blocks until ctx is cancelled or the listener
// fails.
func (s *Server) Listen(ctx context.Context, addr string) error {
	server := &http.Server{
		Addr:    addr,
		Handler: s.router,
	}
	errCh := make(chan error, 1)
	go func() {
		errCh <- server.ListenAndServe()
	}()

	select {
	case <-ctx.Done():
		shutdownCtx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
		defer cancel()
		_ = server.Shutdown(shutdownCtx)
		return ctx.Err()
	case err := <-errCh:
		if err == http.ErrServerClosed {
			return nil
		}
		return err
	}
}

func (s *Server) routes(jwtSecret string) {
	s.router.HandleFunc("/healthz", func(w http.ResponseWriter, _ *http.Request) {
		w.WriteHeader(http.StatusOK)
		_, _ = w.Write([]byte("ok\n"))
	})
	s.router.Handle("/metrics", metrics.Handler())

	api := s.router.PathPrefix("/api/v1").Subrouter()
	api.Use(s.logRequests)
	if jwtSecret != "" {
		api.Use(BearerAuth(jwtSecret))
	}
	api.HandleFunc("/tracking/start/{deliveryId}", s.handleStart).Methods(http.MethodPost)
	api.HandleFunc("/tracking/stop/{deliveryId}", s.handleStop).Methods(http.MethodPost)
	api.HandleFunc("/tracking/history/{deliveryId}", s.handleHistory).Methods(http.MethodGet)
	api.HandleFunc("/tracking/current/{vehicleId}", s.handleCurrent).Methods(http.MethodGet)
	api.HandleFunc("/tracking/stats", s.handleStats).Methods(http.MethodGet)
	api.HandleFunc("/units", s.handleUnits).Methods(http.MethodGet)
}

type startRequest struct {
	VehicleID       string  `json:"vehicleId"`
	IntervalSeconds float64 `json:"intervalSeconds,omitempty"`
}

func (s *Server) handleStart(w http.ResponseWriter, r *http.Request) {
	deliveryID := mux.Vars(r)["deliveryId"]

	var req startRequest
	if err := decodeJSON(r, &req); err != nil {
		writeFail(w, http.StatusBadRequest, "invalid request body", err)
		return
	}
	if req.VehicleID == "" {
		writeFail(w, http.StatusBadRequest, "vehicleId is required", nil)
		return
	}
	interval := time.Duration(req.IntervalSeconds * float64(time.Second))

	session, err := s.tracker.Start(r.Context(), deliveryID, req.VehicleID, interval)
	if err != nil {
		writeFail(w, statusForError(err), "failed to start tracking", err)
		return
	}
	writeJSON(w, http.StatusOK, map[string]any{
		"success": true,
		"session": session,
	})
}

func (s *Server) handleStop(w http.ResponseWriter, r *http.Request) {
	deliveryID := mux.Vars(r)["deliveryId"]

	elapsed, err := s.tracker.Stop(deliveryID)
	if errors.Is(err, tracker.ErrNotTracking) {
		// An already-stopped delivery is a normal outcome, not a fault.
		writeJSON(w, http.StatusOK, map[string]any{
			"success": false,
			"message": fmt.Sprintf("delivery %s is not being tracked", deliveryID),
		})
		return
	}
	if err != nil {
		writeFail(w, statusForError(err), "failed to stop tracking", err)
		return
	}
	writeJSON(w, http.StatusOK, map[string]any{
		"success":         true,
		"deliveryId":      deliveryID,
		"durationSeconds": elapsed.Seconds(),
	})
}

func (s *Server) handleHistory(w http.ResponseWriter, r *http.Request) {
	deliveryID := mux.Vars(r)["deliveryId"]

	points, err := s.store.History(r.Context(), deliveryID)
	if err != nil {
		writeFail(w, http.StatusBadGateway, "failed to query history", err)
		return
	}

	switch format := r.URL.Query().Get("format"); format {
	case "", "json":
		writeJSON(w, http.StatusOK, map[string]any{
			"success":    true,
			"deliveryId": deliveryID,
			"count":      len(points),
			"points":     points,
		})
	case "csv":
		writeHistoryCSV(w, points)
	default:
		writeFail(w, http.StatusBadRequest, fmt.Sprintf("unknown format %q", format), nil)
	}
}

func (s *Server) handleCurrent(w http.ResponseWriter, r *http.Request) {
	vehicleID := mux.Vars(r)["vehicleId"]

	sample, err := s.tracker.CurrentPosition(r.Context(), vehicleID)
	if err != nil {
		writeFail(w, statusForError(err), "failed to fetch current position", err)
		return
	}
	writeJSON(w, http.StatusOK, map[string]any{
		"success":  true,
		"position": sample,
	})
}

func (s *Server) handleStats(w http.ResponseWriter, r *http.Request) {
	writeJSON(w, http.StatusOK, s.tracker.Stats())
}

func (s *Server) handleUnits(w http.ResponseWriter, r *http.Request) {
	if s.units == nil {
		writeFail(w, http.StatusServiceUnavailable, "unit search is not configured", nil)
		return
	}
	spec := wialon.SearchSpec{PropValueMask: r.URL.Query().Get("mask")}
	units, err := s.units.SearchUnits(r.Context(), spec, 0, 0, 0)
	if err != nil {
		writeFail(w, statusForError(err), "failed to list units", err)
		return
	}
	type unitInfo struct {
		ID   int64  `json:"id"`
		Name string `json:"name"`
	}
	list := make([]unitInfo, 0, len(units))
	for _, u := range units {
		info := unitInfo{Name: u.Name}
		if u.ID != nil {
			info.ID = *u.ID
		}
		list = append(list, info)
	}
	writeJSON(w, http.StatusOK, map[string]any{
		"success": true,
		"count":   len(list),
		"units":   list,
	})
}

func writeHistoryCSV(w http.ResponseWriter, points []storage.Point) {
	w.Header().Set("Content-Type", "text/csv")
	w.WriteHeader(http.StatusOK)
	cw := csv.NewWriter(w)
	_ = cw.Write([]string{
		"time", "vehicle_id", "plate", "tracking_id", "delivery_id",
		"lat", "lng", "speed", "fuel_value", "temp_value", "active",
	})
	for _, p := range points {
		_ = cw.Write([]string{
			p.Time.UTC().Format(time.RFC3339Nano),
			p.VehicleID,
			p.Plate,
			p.TrackingID,
			p.DeliveryID,
			strconv.FormatFloat(p.Lat, 'f', -1, 64),
			strconv.FormatFloat(p.Lng, 'f', -1, 64),
			strconv.FormatFloat(p.Speed, 'f', -1, 64),
			strconv.FormatFloat(p.FuelValue, 'f', -1, 64),
			strconv.FormatFloat(p.TempValue, 'f', -1, 64),
			strconv.FormatBool(p.Active),
		})
	}
	cw.Flush()
}

// statusForError maps the domain error taxonomy to HTTP codes. Provider
// failures are a bad gateway: the request was fine, the upstream was not.
func statusForError(err error) int {
	var authErr *wialon.AuthError
	var remoteErr *wialon.RemoteError
	switch {
	case errors.Is(err, tracker.ErrAlreadyTracking):
		return http.StatusConflict
	case errors.Is(err, tracker.ErrNotTracking):
		return http.StatusNotFound
	case errors.Is(err, vehicles.ErrNotFound):
		return http.StatusNotFound
	case errors.Is(err, vehicles.ErrNoTrackingRef):
		return http.StatusBadRequest
	case errors.As(err, &authErr), errors.As(err, &remoteErr):
		return http.StatusBadGateway
	default:
		return http.StatusInternalServerError
	}
}

func decodeJSON(r *http.Request, v any) error {
	defer r.Body.Close()
	dec := json.NewDecoder(r.Body)
	dec.DisallowUnknownFields()
	return dec.Decode(v)
}

func writeJSON(w http.ResponseWriter, code int, v any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(code)
	_ = json.NewEncoder(w).Encode(v)
}

func writeFail(w http.ResponseWriter, code int, message string, err error) {
	payload := map[string]any{
		"success": false,
		"message": message,
	}
	if err != nil {
		payload["error"] = err.Error()
	}
	writeJSON(w, code, payload)
}
