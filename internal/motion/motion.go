// Package motion derives turn rate, G-load with peak hold, and hard-landing
// detection from the accelerometer and gyro.
package motion

import (
	"math"
	"time"

	"helipad-ng/internal/sensor"
	"helipad-ng/internal/units"
)

const (
	PeakHold                  = 3000 * time.Millisecond
	DefaultHardLandingExcessG = 2.5
	turnRateAlpha             = 0.75
)

type Sample struct {
	TurnRateDegPerSec float64 `json:"turn_rate_deg_s"`

	GLoad             float64 `json:"g_load"`
	GLoadPositive     float64 `json:"g_load_positive"`
	GLoadNegative     float64 `json:"g_load_negative"`
	GLoadPeakPositive float64 `json:"g_load_peak_positive"`
	GLoadPeakNegative float64 `json:"g_load_peak_negative"`

	// VerticalAccelMps2 is the specific force in excess of 1 G (signed).
	VerticalAccelMps2 float64 `json:"vertical_accel_mps2"`
	HardLanding       bool    `json:"hard_landing"`

	At time.Time `json:"at"`
}

var Empty = Sample{}

// NetG is the logged load factor: positive minus negative excursion.
func (s Sample) NetG() float64 {
	return s.GLoadPositive - s.GLoadNegative
}

// Estimator is not safe for concurrent use.
type Estimator struct {
	// HardLandingExcessG is the G above 1 that flags a hard landing.
	// Zero or negative selects DefaultHardLandingExcessG.
	HardLandingExcessG float64

	peakPos    float64
	peakNeg    float64
	holdUntil  time.Time
	turnRate   units.EMA
	haveSample bool
}

func NewEstimator() *Estimator {
	e := &Estimator{}
	e.Reset()
	return e
}

// Reset returns to cold start. HardLandingExcessG is kept.
func (e *Estimator) Reset() {
	e.peakPos, e.peakNeg = 0, 0
	e.holdUntil = time.Time{}
	e.turnRate = units.NewEMA(turnRateAlpha)
	e.haveSample = false
}

// Update processes one joint sample. gyroOK=false leaves turn rate at its
// previous smoothed value (zero before the first gyro reading).
func (e *Estimator) Update(acc sensor.Vector, gyro sensor.Vector, gyroOK bool, at time.Time) (Sample, bool) {
	mag := acc.Norm()
	if !units.Finite(mag) {
		return Sample{}, false
	}
	g := mag / units.StandardGravity
	pos, neg := 0.0, 0.0
	if g > 1 {
		pos = g - 1
	}
	if g < 1 {
		neg = 1 - g
	}

	if !e.haveSample || at.After(e.holdUntil) {
		e.peakPos, e.peakNeg = pos, neg
		e.holdUntil = at.Add(PeakHold)
	} else {
		e.peakPos = math.Max(e.peakPos, pos)
		e.peakNeg = math.Max(e.peakNeg, neg)
	}
	e.haveSample = true

	turn, _ := e.turnRate.Value()
	if gyroOK {
		if r := units.Degrees(gyro.Norm()); units.Finite(r) {
			turn = e.turnRate.Update(r)
		}
	}

	excess := e.HardLandingExcessG
	if excess <= 0 {
		excess = DefaultHardLandingExcessG
	}

	return Sample{
		TurnRateDegPerSec: turn,
		GLoad:             g,
		GLoadPositive:     pos,
		GLoadNegative:     neg,
		GLoadPeakPositive: e.peakPos,
		GLoadPeakNegative: e.peakNeg,
		VerticalAccelMps2: mag - units.StandardGravity,
		HardLanding:       g >= 1+excess,
		At:                at,
	}, true
}
