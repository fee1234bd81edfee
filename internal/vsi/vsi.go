// Package vsi derives vertical speed from successive barometer samples.
package vsi

import (
	"math"
	"time"

	"helipad-ng/internal/pressure"
	"helipad-ng/internal/sensor"
	"helipad-ng/internal/units"
)

const (
	// MinInterval is the shortest baseline between two pressure samples;
	// shorter deltas are dominated by sensor quantization.
	MinInterval = 500 * time.Millisecond

	DeadbandFpm     = 25.0
	ClimbFpm        = 50.0
	DefaultSinkFpm  = 700.0
	smoothingAlpha  = 0.85
	historyCapacity = 40
)

// Sample is the derived vertical-speed snapshot.
// SinkRateWarning is never set while IsClimbing.
type Sample struct {
	VerticalSpeedFpm float64   `json:"vsi_fpm"`
	VerticalSpeedMps float64   `json:"vsi_mps"`
	SmoothedFpm      float64   `json:"smoothed_vsi_fpm"`
	IsClimbing       bool      `json:"is_climbing"`
	SinkRateWarning  bool      `json:"sink_rate_warning"`
	At               time.Time `json:"at"`
}

var Empty = Sample{}

// Estimator is not safe for concurrent use.
type Estimator struct {
	// SinkThresholdFpm is the descent rate at or beyond which the warning
	// fires. Values <= 0 fall back to DefaultSinkFpm.
	SinkThresholdFpm float64

	refHPa  float64
	refAt   time.Time
	haveRef bool

	ema     units.EMA
	history []float64
}

func NewEstimator() *Estimator {
	e := &Estimator{SinkThresholdFpm: DefaultSinkFpm}
	e.Reset()
	return e
}

func (e *Estimator) Reset() {
	e.refHPa = 0
	e.refAt = time.Time{}
	e.haveRef = false
	e.ema = units.NewEMA(smoothingAlpha)
	e.history = make([]float64, 0, historyCapacity)
}

// Update consumes one pressure sample. It reports false (and leaves the
// smoothed state untouched) for the first sample, invalid samples, and
// samples closer than MinInterval to the reference sample.
func (e *Estimator) Update(p sensor.Pressure) (Sample, bool) {
	if !p.Valid() {
		return Sample{}, false
	}
	if !e.haveRef {
		e.refHPa, e.refAt, e.haveRef = p.HPa, p.At, true
		return Sample{}, false
	}
	dt := p.At.Sub(e.refAt)
	if dt < MinInterval {
		// Keep the older reference so the baseline keeps growing.
		return Sample{}, false
	}
	dtSec := dt.Seconds()
	deltaM := pressure.PressureAltitudeMeters(p.HPa) - pressure.PressureAltitudeMeters(e.refHPa)
	e.refHPa, e.refAt = p.HPa, p.At

	rawMps := deltaM / dtSec
	rawFpm := units.FeetFromMeters(deltaM) / dtSec * 60
	if !units.Finite(rawMps, rawFpm) {
		return Sample{}, false
	}

	e.history = append(e.history, rawFpm)
	if len(e.history) > historyCapacity {
		e.history = append(e.history[:0], e.history[len(e.history)-historyCapacity:]...)
	}

	smoothed := e.ema.Update(rawFpm)
	if math.Abs(smoothed) < DeadbandFpm {
		smoothed = 0
	}
	threshold := e.SinkThresholdFpm
	if threshold <= 0 {
		threshold = DefaultSinkFpm
	}
	climbing := smoothed > ClimbFpm
	return Sample{
		VerticalSpeedFpm: rawFpm,
		VerticalSpeedMps: rawMps,
		SmoothedFpm:      smoothed,
		IsClimbing:       climbing,
		SinkRateWarning:  !climbing && -smoothed >= threshold,
		At:               p.At,
	}, true
}

// History returns a copy of the recent raw VSI values, oldest first.
func (e *Estimator) History() []float64 {
	return append([]float64(nil), e.history...)
}

// Smoothed returns the current EMA accumulator before the deadband.
func (e *Estimator) Smoothed() (float64, bool) {
	return e.ema.Value()
}
