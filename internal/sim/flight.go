package sim

import (
	"math"
	"time"

	"helipad-ng/internal/units"
)

// State is the true aircraft state the sensors are synthesized from.
type State struct {
	LatDeg   float64
	LonDeg   float64
	AltM     float64
	GroundKt float64
	TrackDeg float64

	// HeadingDeg is where the nose points; it differs from track by crab.
	HeadingDeg float64
	PitchDeg   float64
	RollDeg    float64

	// GLoad scales the accelerometer magnitude. Zero means 1 G.
	GLoad float64
}

// Model produces a deterministic state for an elapsed time.
type Model interface {
	StateAt(elapsed time.Duration) State
}

// Flight flies a figure-eight around a center point with a gentle
// sinusoidal climb and descent.
type Flight struct {
	CenterLatDeg float64
	CenterLonDeg float64
	AltM         float64
	GroundKt     float64
	RadiusNm     float64
	Period       time.Duration

	// CrabDeg offsets heading from track, as in a steady crosswind.
	CrabDeg float64
}

const altAmplitudeM = 150.0

func (f Flight) period() time.Duration {
	if f.Period <= 0 {
		return 120 * time.Second
	}
	return f.Period
}

// StateAt implements Model.
func (f Flight) StateAt(elapsed time.Duration) State {
	lat, lon, trk := f.Position(elapsed)

	baseAlt := f.AltM
	if baseAlt == 0 {
		baseAlt = 300
	}
	// Vertical period is decoupled from horizontal to avoid repetitive sync.
	vp := f.period() / 2
	if vp < 30*time.Second {
		vp = 30 * time.Second
	}
	w := 2 * math.Pi * phase(elapsed, vp)
	alt := baseAlt + altAmplitudeM*math.Sin(w)
	climbMps := altAmplitudeM * (2 * math.Pi / vp.Seconds()) * math.Cos(w)

	gs := f.GroundKt
	if gs < 0 {
		gs = 0
	}
	pitch := 0.0
	if gsMps := gs / units.MpsToKnots; gsMps > 1 {
		pitch = units.Degrees(math.Atan2(climbMps, gsMps))
	}

	return State{
		LatDeg:     lat,
		LonDeg:     lon,
		AltM:       alt,
		GroundKt:   gs,
		TrackDeg:   trk,
		HeadingDeg: units.NormalizeDegrees(trk + f.CrabDeg),
		PitchDeg:   pitch,
		GLoad:      1,
	}
}

func phase(elapsed, period time.Duration) float64 {
	if elapsed < 0 {
		elapsed = 0
	}
	return float64(elapsed%period) / float64(period)
}

// Position returns a figure-eight (Lissajous) path that stays within the
// configured radius.
func (f Flight) Position(elapsed time.Duration) (latDeg, lonDeg, trackDeg float64) {
	radiusNm := f.RadiusNm
	if radiusNm <= 0 {
		radiusNm = 0.5
	}
	// Convert NM to degrees latitude (~60 NM per degree).
	radiusDeg := radiusNm / 60.0

	//	x = cos(2πt)     east-west, scaled by cos(lat) for lon degrees
	//	y = 0.5*sin(4πt) north-south
	w := 2 * math.Pi * phase(elapsed, f.period())
	x := math.Cos(w)
	y := 0.5 * math.Sin(2*w)

	latDeg = f.CenterLatDeg + radiusDeg*y
	lonDeg = f.CenterLonDeg + (radiusDeg*x)/math.Cos(units.Radians(f.CenterLatDeg))

	// Track from instantaneous velocity (atan2(east, north)).
	vx := -2 * math.Pi * math.Sin(w)
	vy := 2 * math.Pi * math.Cos(2*w)
	trackDeg = units.NormalizeDegrees(units.Degrees(math.Atan2(vx, vy)))
	return latDeg, lonDeg, trackDeg
}
