package ahrs

import (
	"math"

	"helipad-ng/internal/sensor"
	"helipad-ng/internal/units"
)

const (
	headingAlpha  = 0.88
	fieldAlpha    = 0.5
	MinEarthField = 25.0 // µT
	MaxEarthField = 65.0 // µT
)

// TiltCompensatedHeading projects the magnetic vector onto the horizontal
// plane using pitch/roll and returns a compass heading in [0,360).
func TiltCompensatedHeading(mag sensor.Vector, pitchDeg, rollDeg float64) float64 {
	sinP, cosP := math.Sincos(units.Radians(pitchDeg))
	sinR, cosR := math.Sincos(units.Radians(rollDeg))
	hx := mag.X*cosP + mag.Y*sinR*sinP + mag.Z*cosR*sinP
	hy := mag.Y*cosR - mag.Z*sinR
	// atan2 measures from device east; rotate into north-up clockwise.
	h := units.Degrees(math.Atan2(hy, hx)) + 90
	return units.NormalizeDegrees(h + 180)
}

// HeadingFilter smooths heading and magnetic field strength.
type HeadingFilter struct {
	heading units.AngleEMA
	field   units.EMA
}

func NewHeadingFilter() *HeadingFilter {
	f := &HeadingFilter{}
	f.Reset()
	return f
}

func (f *HeadingFilter) Reset() {
	f.heading = units.NewAngleEMA(headingAlpha)
	f.field = units.NewEMA(fieldAlpha)
}

// Update returns the smoothed heading and field magnitude (µT).
func (f *HeadingFilter) Update(mag sensor.Vector, pitchDeg, rollDeg float64) (headingDeg, fieldUT float64, ok bool) {
	raw := TiltCompensatedHeading(mag, pitchDeg, rollDeg)
	strength := mag.Norm()
	if !units.Finite(raw, strength) || strength == 0 {
		h, _ := f.heading.Value()
		s, _ := f.field.Value()
		return h, s, false
	}
	return f.heading.Update(raw), f.field.Update(strength), true
}

// Interference reports a field magnitude outside the nominal Earth range.
func Interference(fieldUT float64) bool {
	return fieldUT < MinEarthField || fieldUT > MaxEarthField
}
