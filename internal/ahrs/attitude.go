// Package ahrs estimates pitch and roll with a complementary filter and
// derives a tilt-compensated magnetic heading from them.
package ahrs

import (
	"math"
	"time"

	"helipad-ng/internal/sensor"
	"helipad-ng/internal/units"
)

const (
	// FilterAlpha weights the gyro-propagated estimate against the
	// accelerometer tilt on every step.
	FilterAlpha = 0.98

	// MaxGyroGap is the longest interval the gyro is integrated over. Longer
	// gaps reset the estimate to the accelerometer tilt.
	MaxGyroGap = time.Second
)

// AccelTilt returns pitch and roll in degrees implied by the gravity vector.
func AccelTilt(a sensor.Vector) (pitchDeg, rollDeg float64) {
	pitch := math.Atan2(-a.X, math.Sqrt(a.Y*a.Y+a.Z*a.Z))
	roll := math.Atan2(a.Y, math.Sqrt(a.X*a.X+a.Z*a.Z))
	return units.Degrees(pitch), units.Degrees(roll)
}

// AttitudeFilter is the complementary filter state. Not safe for concurrent use.
type AttitudeFilter struct {
	pitchDeg float64
	rollDeg  float64
	lastAt   time.Time
	have     bool
}

func (f *AttitudeFilter) Reset() {
	*f = AttitudeFilter{}
}

// Update fuses one accelerometer sample with the gyro rate (rad/s) valid
// over the interval since the previous update. gyroOK=false means no gyro
// is available and the accelerometer tilt is used directly.
func (f *AttitudeFilter) Update(acc sensor.Vector, gyro sensor.Vector, gyroOK bool, at time.Time) (pitchDeg, rollDeg float64, ok bool) {
	if !units.Finite(acc.X, acc.Y, acc.Z) {
		return f.pitchDeg, f.rollDeg, false
	}
	accPitch, accRoll := AccelTilt(acc)
	if !units.Finite(accPitch, accRoll) {
		return f.pitchDeg, f.rollDeg, false
	}

	dt := 0.0
	if f.have {
		dt = at.Sub(f.lastAt).Seconds()
	}
	f.lastAt = at
	f.have = true

	if gyroOK && dt > 0 && dt < MaxGyroGap.Seconds() {
		gyroPitch := units.Degrees(gyro.X) * dt
		gyroRoll := units.Degrees(gyro.Y) * dt
		p := FilterAlpha*(f.pitchDeg+gyroPitch) + (1-FilterAlpha)*accPitch
		r := FilterAlpha*(f.rollDeg+gyroRoll) + (1-FilterAlpha)*accRoll
		if units.Finite(p, r) {
			f.pitchDeg, f.rollDeg = p, r
			return p, r, true
		}
	}
	// First sample, stale gap, missing gyro or a bad gyro value.
	f.pitchDeg, f.rollDeg = accPitch, accRoll
	return accPitch, accRoll, true
}
