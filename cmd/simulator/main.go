// Command simulator is a provider stub for local runs: it speaks just enough
// of the telemetry RPC protocol (token/login, core/search_item,
// core/search_items) and answers with drifting positions, fuel and
// temperature so trackd can be exercised without fleet credentials.
package main

import (
	"encoding/json"
	"flag"
	"fmt"
	"math"
	"net/http"
	"sync"
	"time"

	"github.com/google/uuid"
	"github.com/sirupsen/logrus"
)

type options struct {
	addr       string
	units      int
	sessionTTL time.Duration
}

func main() {
	var opts options
	flag.StringVar(&opts.addr, "addr", ":8025", "listen address")
	flag.IntVar(&opts.units, "units", 3, "number of simulated units (ids start at 101)")
	flag.DurationVar(&opts.sessionTTL, "session-ttl", 5*time.Minute, "session lifetime; expired sessions answer with error 1")
	flag.Parse()

	log := logrus.WithField("component", "simulator")
	sim := &simulator{
		units:      opts.units,
		sessionTTL: opts.sessionTTL,
		sessions:   make(map[string]time.Time),
		start:      time.Now(),
		log:        log,
	}

	log.WithFields(logrus.Fields{
		"addr":  opts.addr,
		"units": opts.units,
	}).Info("starting provider simulator")
	if err := http.ListenAndServe(opts.addr, http.HandlerFunc(sim.handle)); err != nil {
		log.Fatalf("listen: %v", err)
	}
}

type simulator struct {
	units      int
	sessionTTL time.Duration
	start      time.Time
	log        *logrus.Entry

	mu       sync.Mutex
	sessions map[string]time.Time
}

func (s *simulator) handle(w http.ResponseWriter, r *http.Request) {
	svc := r.URL.Query().Get("svc")
	w.Header().Set("Content-Type", "application/json")

	switch svc {
	case "token/login":
		sid := uuid.NewString()
		s.mu.Lock()
		s.sessions[sid] = time.Now().Add(s.sessionTTL)
		s.mu.Unlock()
		s.log.WithField("sid", sid).Debug("login")
		writeBody(w, map[string]string{"eid": sid})
	case "core/search_item":
		if !s.validSession(r.URL.Query().Get("sid")) {
			writeBody(w, map[string]int{"error": 1})
			return
		}
		var params struct {
			ID int64 `json:"id"`
		}
		if err := json.Unmarshal([]byte(r.URL.Query().Get("params")), &params); err != nil {
			writeBody(w, map[string]int{"error": 4})
			return
		}
		writeBody(w, map[string]any{"item": s.unit(params.ID)})
	case "core/search_items":
		if !s.validSession(r.URL.Query().Get("sid")) {
			writeBody(w, map[string]int{"error": 1})
			return
		}
		items := make([]map[string]any, 0, s.units)
		for i := 0; i < s.units; i++ {
			items = append(items, s.unit(int64(101+i)))
		}
		writeBody(w, map[string]any{
			"totalItemsCount": len(items),
			"items":           items,
		})
	default:
		writeBody(w, map[string]int{"error": 3})
	}
}

func (s *simulator) validSession(sid string) bool {
	if sid == "" {
		return false
	}
	s.mu.Lock()
	defer s.mu.Unlock()
	expires, ok := s.sessions[sid]
	if !ok {
		return false
	}
	if time.Now().After(expires) {
		delete(s.sessions, sid)
		return false
	}
	return true
}

// unit renders one simulated unit: a slow circular drift around a per-unit
// base point, fuel draining in a sawtooth, temperature wobbling around 4°C.
// Values are a function of wall time, so repeated polls move.
func (s *simulator) unit(id int64) map[string]any {
	elapsed := time.Since(s.start).Seconds()
	phase := float64(id) * 0.7

	lat := 48.85 + 0.05*float64(id%7) + 0.01*math.Sin(elapsed/120+phase)
	lng := 2.35 + 0.05*float64(id%5) + 0.01*math.Cos(elapsed/120+phase)
	speed := 35 + 25*math.Abs(math.Sin(elapsed/300+phase))
	fuelRaw := 90 - math.Mod(elapsed/60, 80)
	tempRaw := 0.4 + 0.08*math.Sin(elapsed/600+phase) // decoded ×10 → around 4°C

	return map[string]any{
		"id": id,
		"nm": fmt.Sprintf("Truck %d", id),
		"pos": map[string]any{
			"x": lng,
			"y": lat,
			"s": math.Round(speed),
			"t": time.Now().Unix(),
		},
		"prms": map[string]any{
			"io_273": map[string]any{"v": fuelRaw},
			"io_26":  map[string]any{"v": tempRaw},
			"io_239": map[string]any{"v": 1},
		},
		"sens": map[string]any{
			"1": map[string]any{
				"id": 1,
				"n":  "Fuel level",
				"p":  "io_273",
				"m":  "l",
				"tbl": []map[string]float64{
					{"x": 0, "a": 1, "b": 0},
					{"x": 50, "a": 2, "b": -10},
				},
			},
			"2": map[string]any{
				"id": 2,
				"n":  "Cargo temperature",
				"p":  "io_26*const10",
				"m":  "°C",
			},
		},
	}
}

func writeBody(w http.ResponseWriter, v any) {
	_ = json.NewEncoder(w).Encode(v)
}
