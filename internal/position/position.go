// Package position smooths GNSS fixes and scores satellite reception.
package position

import (
	"math"
	"time"

	"helipad-ng/internal/sensor"
	"helipad-ng/internal/units"
)

const (
	HistorySize      = 8
	minAverageCount  = 3
	StationaryMps    = 0.5
	DeltaDeadbandDeg = 5.0
	deltaAlpha       = 0.7
)

type Sample struct {
	LatDeg float64 `json:"lat_deg"`
	LonDeg float64 `json:"lon_deg"`

	AltitudeM  float64 `json:"altitude_m"`
	AltitudeFt float64 `json:"altitude_ft"`

	GroundSpeedMps float64 `json:"ground_speed_mps"`
	GroundSpeedKt  float64 `json:"ground_speed_kt"`
	GroundSpeedKmh float64 `json:"ground_speed_kmh"`

	TrackDeg          float64 `json:"track_deg"`
	HeadingDeg        float64 `json:"heading_deg"`
	TrackVsHeadingDeg float64 `json:"track_vs_heading_deg"`

	HasFix bool      `json:"has_fix"`
	At     time.Time `json:"at"`
}

var Empty = Sample{}

// ring is a bounded FIFO of the most recent values.
type ring struct {
	vals []float64
}

func (r *ring) push(v float64) {
	r.vals = append(r.vals, v)
	if len(r.vals) > HistorySize {
		r.vals = r.vals[len(r.vals)-HistorySize:]
	}
}

func (r *ring) smoothed(raw float64) float64 {
	if len(r.vals) < minAverageCount {
		return raw
	}
	return units.MovingAverage(r.vals)
}

// Estimator is not safe for concurrent use.
type Estimator struct {
	alt   ring
	speed ring
	delta units.AngleEMA

	lastAlt   float64
	lastSpeed float64
}

func NewEstimator() *Estimator {
	e := &Estimator{}
	e.Reset()
	return e
}

func (e *Estimator) Reset() {
	e.alt = ring{}
	e.speed = ring{}
	e.delta = units.NewAngleEMA(deltaAlpha)
	e.lastAlt, e.lastSpeed = 0, 0
}

// Update folds one fix into the history. headingDeg/headingOK is the
// externally supplied magnetic heading; without it the GPS track is used.
func (e *Estimator) Update(fix sensor.Fix, headingDeg float64, headingOK bool) (Sample, bool) {
	headingOK = headingOK && units.Finite(headingDeg)
	if !fix.Valid || !units.Finite(fix.LatDeg, fix.LonDeg) {
		out := Sample{At: fix.At}
		if headingOK {
			out.HeadingDeg = units.NormalizeDegrees(headingDeg)
		}
		return out, true
	}

	// Fixes without altitude or speed carry the previous smoothed value.
	alt := e.lastAlt
	if fix.HasAltitude && units.Finite(fix.AltitudeM) && fix.AltitudeM != 0 {
		e.alt.push(fix.AltitudeM)
		alt = e.alt.smoothed(fix.AltitudeM)
	}

	speed := e.lastSpeed
	if fix.HasSpeed && units.Finite(fix.SpeedMps) && fix.SpeedMps >= 0 {
		e.speed.push(fix.SpeedMps)
		speed = e.speed.smoothed(fix.SpeedMps)
	}
	if speed < StationaryMps {
		speed = 0
	}
	e.lastAlt, e.lastSpeed = alt, speed

	hasBearing := fix.HasBearing && units.Finite(fix.BearingDeg)
	track := 0.0
	if hasBearing {
		track = units.NormalizeDegrees(fix.BearingDeg)
	}
	heading := track
	if headingOK {
		heading = units.NormalizeDegrees(headingDeg)
	}

	delta := 0.0
	if speed >= StationaryMps && hasBearing {
		d := e.delta.Update(units.TrackVsHeading(track, heading))
		if math.Abs(units.SignedDelta(0, d)) >= DeltaDeadbandDeg {
			delta = d
		}
	}

	out := Sample{
		LatDeg:            fix.LatDeg,
		LonDeg:            fix.LonDeg,
		AltitudeM:         alt,
		AltitudeFt:        units.FeetFromMeters(alt),
		GroundSpeedMps:    speed,
		GroundSpeedKt:     units.KnotsFromMps(speed),
		GroundSpeedKmh:    units.KmhFromMps(speed),
		TrackDeg:          track,
		HeadingDeg:        heading,
		TrackVsHeadingDeg: delta,
		HasFix:            true,
		At:                fix.At,
	}
	if !units.Finite(out.AltitudeM, out.GroundSpeedMps, out.HeadingDeg, out.TrackVsHeadingDeg) {
		return Sample{}, false
	}
	return out, true
}
