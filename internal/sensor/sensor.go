// Package sensor defines the raw samples consumed by the estimators and the
// subscription contract every sample source implements.
//
// Absent hardware is signaled by sentinel values (pressure <= 0, lux =
// NoLightSensor, Fix.Valid == false), never by errors.
package sensor

import (
	"math"
	"time"
)

// Vector is a three-axis reading in the device frame.
type Vector struct {
	X, Y, Z float64
}

func (v Vector) Norm() float64 {
	return math.Sqrt(v.X*v.X + v.Y*v.Y + v.Z*v.Z)
}

// Acceleration in m/s².
type Acceleration struct {
	Vector
	At time.Time
}

// AngularRate in rad/s.
type AngularRate struct {
	Vector
	At time.Time
}

// MaxGyroAge bounds how far apart a latched gyro reading and the
// accelerometer sample it is paired with may be.
const MaxGyroAge = time.Second

// FreshAt reports whether r was sampled within MaxGyroAge of at.
func (r AngularRate) FreshAt(at time.Time) bool {
	d := at.Sub(r.At)
	if d < 0 {
		d = -d
	}
	return d < MaxGyroAge
}

// MagneticField in µT.
type MagneticField struct {
	Vector
	At time.Time
}

// Pressure is a barometric reading in hPa (QFE at the device).
// HPa <= 0 means the barometer is absent or returned garbage.
type Pressure struct {
	HPa float64
	At  time.Time
}

func (p Pressure) Valid() bool {
	return p.HPa > 0 && !math.IsNaN(p.HPa) && !math.IsInf(p.HPa, 0)
}

// Fix is one GNSS position report.
type Fix struct {
	Valid bool

	LatDeg      float64
	LonDeg      float64
	AltitudeM   float64
	HasAltitude bool
	SpeedMps    float64
	HasSpeed    bool
	BearingDeg  float64
	HasBearing  bool

	At time.Time
}

// Constellation identifies a GNSS system.
type Constellation int

const (
	ConstellationUnknown Constellation = iota
	ConstellationGPS
	ConstellationGalileo
	ConstellationGLONASS
	ConstellationBeiDou
	ConstellationSBAS
	ConstellationQZSS
)

func (c Constellation) String() string {
	switch c {
	case ConstellationGPS:
		return "gps"
	case ConstellationGalileo:
		return "galileo"
	case ConstellationGLONASS:
		return "glonass"
	case ConstellationBeiDou:
		return "beidou"
	case ConstellationSBAS:
		return "sbas"
	case ConstellationQZSS:
		return "qzss"
	default:
		return "unknown"
	}
}

// Satellite is one entry of a satellite-status report.
type Satellite struct {
	Constellation Constellation
	PRN           int
	UsedInFix     bool
	// Cn0DbHz is the carrier-to-noise density; 0 when not tracked.
	Cn0DbHz float64
}

// SatelliteStatus is a full sky snapshot from the receiver.
type SatelliteStatus struct {
	Satellites []Satellite
	At         time.Time
}

// NoLightSensor is reported by light sources without hardware; it always
// classifies as day.
const NoLightSensor = math.MaxFloat64

// Light is an ambient light reading in lux.
type Light struct {
	Lux float64
	At  time.Time
}

// Source is a push stream of samples. Subscribe returns a channel that
// receives samples in arrival order until Unsubscribe closes it.
type Source[T any] interface {
	Subscribe(buffer int) (int, <-chan T)
	Unsubscribe(id int)
}

// Sources is the full set of raw inputs. Any field may be nil when that
// sensor is absent.
type Sources struct {
	Accel      Source[Acceleration]
	Gyro       Source[AngularRate]
	Mag        Source[MagneticField]
	Pressure   Source[Pressure]
	Fixes      Source[Fix]
	Satellites Source[SatelliteStatus]
	Light      Source[Light]
}

// Availability lists which raw inputs are wired.
type Availability struct {
	Accelerometer bool `json:"accelerometer"`
	Gyroscope     bool `json:"gyroscope"`
	Magnetometer  bool `json:"magnetometer"`
	Barometer     bool `json:"barometer"`
	GNSS          bool `json:"gnss"`
	Satellites    bool `json:"satellites"`
	Light         bool `json:"light"`
}

func (s Sources) Availability() Availability {
	return Availability{
		Accelerometer: s.Accel != nil,
		Gyroscope:     s.Gyro != nil,
		Magnetometer:  s.Mag != nil,
		Barometer:     s.Pressure != nil,
		GNSS:          s.Fixes != nil,
		Satellites:    s.Satellites != nil,
		Light:         s.Light != nil,
	}
}

// Overlay returns s with every non-nil stream of o replacing its
// counterpart, e.g. a GNSS receiver over a board that has none.
func (s Sources) Overlay(o Sources) Sources {
	if o.Accel != nil {
		s.Accel = o.Accel
	}
	if o.Gyro != nil {
		s.Gyro = o.Gyro
	}
	if o.Mag != nil {
		s.Mag = o.Mag
	}
	if o.Pressure != nil {
		s.Pressure = o.Pressure
	}
	if o.Fixes != nil {
		s.Fixes = o.Fixes
	}
	if o.Satellites != nil {
		s.Satellites = o.Satellites
	}
	if o.Light != nil {
		s.Light = o.Light
	}
	return s
}
