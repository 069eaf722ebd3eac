// Package decode turns raw provider telemetry into domain quantities. All
// functions are pure; malformed or out-of-domain inputs yield "no value"
// instead of errors so one bad sample never aborts a poll cycle.
package decode

import (
	"math"
	"time"

	"github.com/rb/deliverytrack-go/internal/wialon"
)

// Signals names the provider parameter codes carrying each quantity.
type Signals struct {
	FuelParam     string
	FuelSensor    string
	TempParam     string
	TempSensor    string
	TempScale     float64
	IgnitionParam string
}

// DefaultSignals matches the fleet's Wialon unit configuration.
func DefaultSignals() Signals {
	return Signals{
		FuelParam:     "io_273",
		FuelSensor:    "io_273",
		TempParam:     "io_26",
		TempSensor:    "io_26*const10",
		TempScale:     10,
		IgnitionParam: "io_239",
	}
}

// Position is a decoded fix.
type Position struct {
	Lat      float64 `json:"lat"`
	Lng      float64 `json:"lng"`
	SpeedKmh float64 `json:"speed"`
}

// Reading is a decoded quantity with its unit label. Value is nil when the
// unit did not report it.
type Reading struct {
	Value *float64 `json:"value"`
	Unit  string   `json:"unit"`
}

// Sample is the domain-normalized view of one unit poll.
type Sample struct {
	VehicleID   string    `json:"vehicleId"`
	Plate       string    `json:"plate"`
	TrackingID  string    `json:"trackingId"`
	Position    Position  `json:"pos"`
	Fuel        Reading   `json:"fuel"`
	Temperature Reading   `json:"temp"`
	Ignition    *bool     `json:"active"`
	Timestamp   time.Time `json:"timestamp"`
}

// ComputeFuelValue runs the piecewise-linear calibration lookup: it selects
// the rightmost breakpoint whose X <= raw and returns A*raw + B rounded to
// two decimals, half away from zero. Nil when raw is NaN, the table is empty
// or raw lies below every breakpoint.
func ComputeFuelValue(raw float64, tbl []wialon.CalibrationEntry) *float64 {
	if math.IsNaN(raw) || len(tbl) == 0 {
		return nil
	}
	var selected *wialon.CalibrationEntry
	for i := range tbl {
		if tbl[i].X <= raw {
			selected = &tbl[i]
		} else {
			break
		}
	}
	if selected == nil {
		return nil
	}
	value := math.Round((selected.A*raw+selected.B)*100) / 100
	return &value
}

// SensorByP returns the first sensor whose parameter expression equals p, or
// nil when the map is absent or nothing matches.
func SensorByP(sens map[string]wialon.Sensor, p string) *wialon.Sensor {
	for key := range sens {
		if sens[key].P == p {
			s := sens[key]
			return &s
		}
	}
	return nil
}

// Unit assembles a Sample from a raw unit payload. Every provider leaf is
// optional: missing position coordinates decode to 0, missing parameters to
// nil readings.
func Unit(vehicleID, trackingID, plate string, u *wialon.Unit, sig Signals, now time.Time) Sample {
	sample := Sample{
		VehicleID:   vehicleID,
		Plate:       plate,
		TrackingID:  trackingID,
		Fuel:        Reading{Unit: "l"},
		Temperature: Reading{Unit: "°C"},
		Timestamp:   now,
	}
	if u == nil {
		return sample
	}

	if u.Pos != nil {
		if u.Pos.Y != nil {
			sample.Position.Lat = *u.Pos.Y
		}
		if u.Pos.X != nil {
			sample.Position.Lng = *u.Pos.X
		}
		if u.Pos.S != nil {
			sample.Position.SpeedKmh = *u.Pos.S
		}
	}

	if s := SensorByP(u.Sens, sig.TempSensor); s != nil && s.M != "" {
		sample.Temperature.Unit = s.M
	}
	if raw := paramValue(u.Prms, sig.TempParam); raw != nil {
		v := *raw * sig.TempScale
		sample.Temperature.Value = &v
	}

	fuelSensor := SensorByP(u.Sens, sig.FuelSensor)
	if fuelSensor != nil && fuelSensor.M != "" {
		sample.Fuel.Unit = fuelSensor.M
	}
	if raw := paramValue(u.Prms, sig.FuelParam); raw != nil {
		if fuelSensor != nil && len(fuelSensor.Tbl) > 0 {
			sample.Fuel.Value = ComputeFuelValue(*raw, fuelSensor.Tbl)
		} else {
			sample.Fuel.Value = raw
		}
	}

	if raw := paramValue(u.Prms, sig.IgnitionParam); raw != nil {
		on := *raw == 1
		sample.Ignition = &on
	}

	return sample
}

func paramValue(prms map[string]wialon.Param, code string) *float64 {
	p, ok := prms[code]
	if !ok || p.V == nil {
		return nil
	}
	v := *p.V
	return &v
}
