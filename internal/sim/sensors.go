package sim

import (
	"math"
	"time"

	"helipad-ng/internal/pressure"
	"helipad-ng/internal/sensor"
	"helipad-ng/internal/units"
)

// Environment holds the non-aircraft parameters of the synthetic world.
type Environment struct {
	// SeaLevelHPa is the QNH the barometer sees. Zero means standard.
	SeaLevelHPa float64

	// Earth field total intensity and dip angle. Zero means 48 µT / 60°.
	FieldUT        float64
	InclinationDeg float64

	// LightLux is the ambient light level. Zero means no light sensor.
	LightLux float64

	// UsedSatellites is how many of the synthetic constellation are in the
	// fix. Zero means all of them.
	UsedSatellites int
}

func (e Environment) seaLevel() float64 {
	if e.SeaLevelHPa > 0 {
		return e.SeaLevelHPa
	}
	return pressure.StandardPressureHPa
}

func (e Environment) field() (total, inclination float64) {
	total, inclination = e.FieldUT, e.InclinationDeg
	if total <= 0 {
		total = 48
	}
	if inclination == 0 {
		inclination = 60
	}
	return total, inclination
}

// Samples is one synthesized reading of every sensor.
type Samples struct {
	Accel      sensor.Acceleration
	Gyro       sensor.AngularRate
	Mag        sensor.MagneticField
	Pressure   sensor.Pressure
	Fix        sensor.Fix
	Satellites sensor.SatelliteStatus
	Light      sensor.Light
}

// Accelerometer returns the specific force for pitch/roll and load factor,
// in the same axes the attitude filter reads tilt from.
func Accelerometer(pitchDeg, rollDeg, gLoad float64) sensor.Vector {
	if gLoad == 0 {
		gLoad = 1
	}
	g := units.StandardGravity * gLoad
	sp, cp := math.Sincos(units.Radians(pitchDeg))
	sr, cr := math.Sincos(units.Radians(rollDeg))
	return sensor.Vector{X: -g * sp, Y: g * cp * sr, Z: g * cp * cr}
}

// Magnetometer rotates the Earth field for a heading into the body frame so
// that tilt compensation at the same pitch/roll recovers the heading.
func (e Environment) Magnetometer(headingDeg, pitchDeg, rollDeg float64) sensor.Vector {
	total, incl := e.field()
	h := total * math.Cos(units.Radians(incl))
	down := total * math.Sin(units.Radians(incl))

	sh, ch := math.Sincos(units.Radians(headingDeg))
	// Level-frame components: x right, y forward, z up.
	lx, ly, lz := -h*sh, h*ch, -down

	sp, cp := math.Sincos(units.Radians(pitchDeg))
	sr, cr := math.Sincos(units.Radians(rollDeg))
	// Transpose of the tilt-compensation rotation.
	return sensor.Vector{
		X: cp*lx - sp*lz,
		Y: sr*sp*lx + cr*ly + sr*cp*lz,
		Z: cr*sp*lx - sr*ly + cr*cp*lz,
	}
}

// Barometer returns the static pressure at altitude.
func (e Environment) Barometer(altM float64) float64 {
	return e.seaLevel() * math.Exp(-altM/pressure.ScaleHeightM)
}

type simSat struct {
	c    sensor.Constellation
	prn  int
	base float64
}

var constellation = []simSat{
	{sensor.ConstellationGPS, 2, 44}, {sensor.ConstellationGPS, 5, 41},
	{sensor.ConstellationGPS, 12, 38}, {sensor.ConstellationGPS, 15, 36},
	{sensor.ConstellationGPS, 24, 33}, {sensor.ConstellationGPS, 29, 30},
	{sensor.ConstellationGalileo, 3, 40}, {sensor.ConstellationGalileo, 11, 35},
	{sensor.ConstellationGLONASS, 67, 37}, {sensor.ConstellationGLONASS, 81, 29},
	{sensor.ConstellationBeiDou, 19, 34}, {sensor.ConstellationBeiDou, 22, 26},
}

// SatelliteView returns the synthetic sky with slowly varying C/N0.
func (e Environment) SatelliteView(elapsed time.Duration, at time.Time) sensor.SatelliteStatus {
	used := e.UsedSatellites
	if used <= 0 || used > len(constellation) {
		used = len(constellation)
	}
	out := sensor.SatelliteStatus{At: at, Satellites: make([]sensor.Satellite, 0, len(constellation))}
	for i, s := range constellation {
		wobble := 2 * math.Sin(elapsed.Seconds()/30+float64(s.prn))
		out.Satellites = append(out.Satellites, sensor.Satellite{
			Constellation: s.c,
			PRN:           s.prn,
			UsedInFix:     i < used,
			Cn0DbHz:       s.base + wobble,
		})
	}
	return out
}

const rateWindow = 100 * time.Millisecond

// Sense synthesizes all sensors for m at elapsed. Angular rates come from
// differencing the model over a short window.
func (e Environment) Sense(m Model, elapsed time.Duration, at time.Time) Samples {
	st := m.StateAt(elapsed)
	prev := m.StateAt(elapsed - rateWindow)
	if elapsed < rateWindow {
		prev = st
	}
	dt := rateWindow.Seconds()

	// Pitch integrates gyro X and roll gyro Y in the attitude filter; yaw
	// is clockwise-positive heading, so negative about the up axis.
	rate := sensor.Vector{
		X: units.Radians(st.PitchDeg-prev.PitchDeg) / dt,
		Y: units.Radians(st.RollDeg-prev.RollDeg) / dt,
		Z: -units.Radians(units.SignedDelta(prev.HeadingDeg, st.HeadingDeg)) / dt,
	}

	speedMps := st.GroundKt / units.MpsToKnots
	out := Samples{
		Accel:    sensor.Acceleration{Vector: Accelerometer(st.PitchDeg, st.RollDeg, st.GLoad), At: at},
		Gyro:     sensor.AngularRate{Vector: rate, At: at},
		Mag:      sensor.MagneticField{Vector: e.Magnetometer(st.HeadingDeg, st.PitchDeg, st.RollDeg), At: at},
		Pressure: sensor.Pressure{HPa: e.Barometer(st.AltM), At: at},
		Fix: sensor.Fix{
			Valid:       true,
			LatDeg:      st.LatDeg,
			LonDeg:      st.LonDeg,
			AltitudeM:   st.AltM,
			HasAltitude: true,
			SpeedMps:    speedMps,
			HasSpeed:    true,
			BearingDeg:  st.TrackDeg,
			HasBearing:  true,
			At:          at,
		},
		Satellites: e.SatelliteView(elapsed, at),
		Light:      sensor.Light{Lux: e.LightLux, At: at},
	}
	return out
}
