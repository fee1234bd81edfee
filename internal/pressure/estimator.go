package pressure

import (
	"math"
	"time"

	"helipad-ng/internal/sensor"
	"helipad-ng/internal/units"
)

type TrendDirection int

const (
	TrendLevel TrendDirection = iota
	TrendClimbing
	TrendDescending
)

func (d TrendDirection) String() string {
	switch d {
	case TrendClimbing:
		return "climbing"
	case TrendDescending:
		return "descending"
	default:
		return "level"
	}
}

func (d TrendDirection) MarshalText() ([]byte, error) { return []byte(d.String()), nil }

// Sample is the derived pressure snapshot. Zero QFE/QNH means no barometer.
type Sample struct {
	QFEHPa float64 `json:"qfe_hpa"`
	QNHHPa float64 `json:"qnh_hpa"`

	PressureAltitudeM  float64 `json:"pressure_altitude_m"`
	PressureAltitudeFt float64 `json:"pressure_altitude_ft"`
	DensityAltitudeM   float64 `json:"density_altitude_m"`
	DensityAltitudeFt  float64 `json:"density_altitude_ft"`

	Trend10sFpm    float64        `json:"trend_10s_fpm"`
	Trend30sFpm    float64        `json:"trend_30s_fpm"`
	TrendDirection TrendDirection `json:"trend_direction"`

	At time.Time `json:"at"`
}

// Empty is published before the first barometer sample.
var Empty = Sample{}

const (
	altitudeAlpha = 0.85
	trendAlpha    = 0.7

	trendShortWindow = 10 * time.Second
	trendLongWindow  = 30 * time.Second
	// Bounds memory if the barometer runs very fast.
	maxHistory = 1024

	// TrendThresholdFpm separates level flight from climb/descent.
	TrendThresholdFpm = 50.0
)

type altPoint struct {
	at   time.Time
	altM float64
}

// Estimator owns the pressure smoothing state. It is not safe for
// concurrent use; the owning service serializes Update calls.
type Estimator struct {
	// Inputs set from outside the sample path.
	FieldElevationM float64
	GPSAltitudeM    float64
	OATCelsius      float64

	altEMA     units.EMA
	trend10EMA units.EMA
	trend30EMA units.EMA
	history    []altPoint
}

func NewEstimator() *Estimator {
	e := &Estimator{OATCelsius: 15}
	e.Reset()
	return e
}

// Reset discards all smoothing state. Inputs are kept.
func (e *Estimator) Reset() {
	e.altEMA = units.NewEMA(altitudeAlpha)
	e.trend10EMA = units.NewEMA(trendAlpha)
	e.trend30EMA = units.NewEMA(trendAlpha)
	e.history = e.history[:0]
}

// Update processes one barometer sample. It returns false when the sample
// carries the "no sensor" sentinel or would produce a non-finite result.
func (e *Estimator) Update(p sensor.Pressure) (Sample, bool) {
	if !p.Valid() {
		return Sample{}, false
	}
	ref := ReferenceAltitude(e.FieldElevationM, e.GPSAltitudeM)
	qnh := QNHFromQFE(p.HPa, ref)
	paM := PressureAltitudeMeters(p.HPa)
	if !units.Finite(qnh, paM) {
		return Sample{}, false
	}

	e.history = append(e.history, altPoint{at: p.At, altM: paM})
	e.trimHistory(p.At)

	smoothedPA := e.altEMA.Update(paM)
	trend10 := e.trend10EMA.Update(e.trendFpm(p.At, trendShortWindow))
	trend30 := e.trend30EMA.Update(e.trendFpm(p.At, trendLongWindow))
	daM := DensityAltitudeMeters(smoothedPA, e.OATCelsius)

	dir := TrendLevel
	switch {
	case trend10 > TrendThresholdFpm:
		dir = TrendClimbing
	case trend10 < -TrendThresholdFpm:
		dir = TrendDescending
	}

	out := Sample{
		QFEHPa:             p.HPa,
		QNHHPa:             qnh,
		PressureAltitudeM:  smoothedPA,
		PressureAltitudeFt: units.FeetFromMeters(smoothedPA),
		DensityAltitudeM:   daM,
		DensityAltitudeFt:  units.FeetFromMeters(daM),
		Trend10sFpm:        trend10,
		Trend30sFpm:        trend30,
		TrendDirection:     dir,
		At:                 p.At,
	}
	if !units.Finite(out.DensityAltitudeM, out.Trend10sFpm, out.Trend30sFpm) {
		return Sample{}, false
	}
	return out, true
}

func (e *Estimator) trimHistory(now time.Time) {
	cutoff := now.Add(-trendLongWindow)
	drop := 0
	for drop < len(e.history) && e.history[drop].at.Before(cutoff) {
		drop++
	}
	if over := len(e.history) - drop - maxHistory; over > 0 {
		drop += over
	}
	if drop > 0 {
		e.history = append(e.history[:0], e.history[drop:]...)
	}
}

// trendFpm is the least-squares slope of pressure altitude over the window
// ending at now, in ft/min. Irregular sample spacing is handled by regressing
// on actual timestamps.
func (e *Estimator) trendFpm(now time.Time, window time.Duration) float64 {
	cutoff := now.Add(-window)
	var n, sumT, sumA float64
	start := len(e.history)
	for i := len(e.history) - 1; i >= 0 && !e.history[i].at.Before(cutoff); i-- {
		start = i
	}
	pts := e.history[start:]
	if len(pts) < 2 {
		return 0
	}
	t0 := pts[0].at
	for _, pt := range pts {
		sumT += pt.at.Sub(t0).Seconds()
		sumA += pt.altM
		n++
	}
	meanT := sumT / n
	meanA := sumA / n
	var sxx, sxy float64
	for _, pt := range pts {
		dt := pt.at.Sub(t0).Seconds() - meanT
		sxx += dt * dt
		sxy += dt * (pt.altM - meanA)
	}
	if sxx <= 0 {
		return 0
	}
	slope := sxy / sxx // m/s
	v := units.FeetFromMeters(slope) * 60
	if math.IsNaN(v) || math.IsInf(v, 0) {
		return 0
	}
	return v
}
