// Package metrics registers the service's prometheus collectors.
package metrics

import (
	"net/http"
	"sync"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promhttp"
)

const prefix = "deliverytrack_"

const (
	ResultSuccess = "success"
	ResultError   = "error"
)

const (
	StageFetch = "fetch"
	StageStore = "store"
)

var (
	registerOnce sync.Once

	ticksTotal      *prometheus.CounterVec
	tickErrorsTotal *prometheus.CounterVec
	pointsWritten   prometheus.Counter
	loginsTotal     *prometheus.CounterVec
	activeTrackings prometheus.Gauge
)

// Register installs the collectors into the default registry. Safe to call
// more than once.
func Register() {
	registerOnce.Do(func() {
		ticksTotal = prometheus.NewCounterVec(
			prometheus.CounterOpts{
				Name: prefix + "ticks_total",
				Help: "Tracking poll cycles by result",
			},
			[]string{"result"},
		)
		tickErrorsTotal = prometheus.NewCounterVec(
			prometheus.CounterOpts{
				Name: prefix + "tick_errors_total",
				Help: "Tracking poll cycle failures by stage",
			},
			[]string{"stage"},
		)
		pointsWritten = prometheus.NewCounter(
			prometheus.CounterOpts{
				Name: prefix + "points_written_total",
				Help: "Time-series points written to the store",
			},
		)
		loginsTotal = prometheus.NewCounterVec(
			prometheus.CounterOpts{
				Name: prefix + "provider_logins_total",
				Help: "Telemetry provider login attempts by result",
			},
			[]string{"result"},
		)
		activeTrackings = prometheus.NewGauge(
			prometheus.GaugeOpts{
				Name: prefix + "active_trackings",
				Help: "Currently tracked deliveries",
			},
		)
		prometheus.MustRegister(ticksTotal, tickErrorsTotal, pointsWritten, loginsTotal, activeTrackings)
	})
}

// Handler serves the default registry.
func Handler() http.Handler { return promhttp.Handler() }

func TickObserved(ok bool) {
	if ticksTotal == nil {
		return
	}
	if ok {
		ticksTotal.WithLabelValues(ResultSuccess).Inc()
	} else {
		ticksTotal.WithLabelValues(ResultError).Inc()
	}
}

func TickFailed(stage string) {
	if tickErrorsTotal == nil {
		return
	}
	tickErrorsTotal.WithLabelValues(stage).Inc()
}

func PointWritten() {
	if pointsWritten == nil {
		return
	}
	pointsWritten.Inc()
}

func LoginObserved(ok bool) {
	if loginsTotal == nil {
		return
	}
	if ok {
		loginsTotal.WithLabelValues(ResultSuccess).Inc()
	} else {
		loginsTotal.WithLabelValues(ResultError).Inc()
	}
}

func SetActiveTrackings(n int) {
	if activeTrackings == nil {
		return
	}
	activeTrackings.Set(float64(n))
}
