// Package units holds the unit conversions and angle helpers shared by the
// estimators. Everything here is pure.
package units

import "math"

const (
	MetersToFeet = 3.28084
	MpsToKnots   = 1.94384
	MpsToKmh     = 3.6

	// StandardGravity is the accelerometer magnitude of 1 G in m/s².
	StandardGravity = 9.81
)

func FeetFromMeters(m float64) float64  { return m * MetersToFeet }
func MetersFromFeet(ft float64) float64 { return ft / MetersToFeet }
func KnotsFromMps(mps float64) float64  { return mps * MpsToKnots }
func KmhFromMps(mps float64) float64    { return mps * MpsToKmh }

func Radians(deg float64) float64 { return deg * math.Pi / 180.0 }
func Degrees(rad float64) float64 { return rad * 180.0 / math.Pi }

// NormalizeDegrees maps any finite angle into [0,360).
// Non-finite input yields 0.
func NormalizeDegrees(d float64) float64 {
	if math.IsNaN(d) || math.IsInf(d, 0) {
		return 0
	}
	d = math.Mod(d, 360)
	if d < 0 {
		d += 360
	}
	// -1e-15 + 360 rounds to 360 in float64.
	if d >= 360 {
		d = 0
	}
	return d
}

// SignedDelta returns the shortest rotation from -> to in (-180,180].
func SignedDelta(from, to float64) float64 {
	d := NormalizeDegrees(to - from)
	if d > 180 {
		d -= 360
	}
	return d
}

// TrackVsHeading is the course deviation normalize(normalize(track)-normalize(heading)).
func TrackVsHeading(track, heading float64) float64 {
	return NormalizeDegrees(NormalizeDegrees(track) - NormalizeDegrees(heading))
}

// AverageHeading averages angles on the unit circle, so 359 and 1 give 0.
func AverageHeading(headings []float64) float64 {
	if len(headings) == 0 {
		return 0
	}
	var sinSum, cosSum float64
	for _, h := range headings {
		r := Radians(h)
		sinSum += math.Sin(r)
		cosSum += math.Cos(r)
	}
	if sinSum == 0 && cosSum == 0 {
		return 0
	}
	return NormalizeDegrees(Degrees(math.Atan2(sinSum, cosSum)))
}

// ExponentialMovingAverage returns alpha*previous + (1-alpha)*current.
func ExponentialMovingAverage(current, previous, alpha float64) float64 {
	return alpha*previous + (1-alpha)*current
}

// MovingAverage is the arithmetic mean; 0 for an empty slice.
func MovingAverage(values []float64) float64 {
	if len(values) == 0 {
		return 0
	}
	sum := 0.0
	for _, v := range values {
		sum += v
	}
	return sum / float64(len(values))
}

var compassPoints = [16]string{
	"N", "NNE", "NE", "ENE", "E", "ESE", "SE", "SSE",
	"S", "SSW", "SW", "WSW", "W", "WNW", "NW", "NNW",
}

// DegreesToDirection returns the 16-point compass label for a heading.
func DegreesToDirection(deg float64) string {
	idx := int(math.Round(NormalizeDegrees(deg)/22.5)) % 16
	return compassPoints[idx]
}

// Finite reports whether every value is neither NaN nor ±Inf.
func Finite(vals ...float64) bool {
	for _, v := range vals {
		if math.IsNaN(v) || math.IsInf(v, 0) {
			return false
		}
	}
	return true
}
