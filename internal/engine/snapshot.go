package engine

import (
	"time"

	"helipad-ng/internal/ahrs"
	"helipad-ng/internal/config"
	"helipad-ng/internal/light"
	"helipad-ng/internal/motion"
	"helipad-ng/internal/position"
	"helipad-ng/internal/pressure"
	"helipad-ng/internal/sensor"
	"helipad-ng/internal/vsi"
)

// Snapshot is every latest derived value at one instant.
type Snapshot struct {
	At            time.Time             `json:"at"`
	Attitude      ahrs.Sample           `json:"attitude"`
	Position      position.Sample       `json:"position"`
	GnssHealth    position.HealthSample `json:"gnss_health"`
	Pressure      pressure.Sample       `json:"pressure"`
	VerticalSpeed vsi.Sample            `json:"vertical_speed"`
	// VSITrendFpm is the recent raw vertical speed, oldest first.
	VSITrendFpm []float64           `json:"vsi_trend_fpm"`
	Motion      motion.Sample       `json:"motion"`
	Light       light.Sample        `json:"light"`
	Display     Display             `json:"display"`
	Sensors     sensor.Availability `json:"sensors"`
}

// Display holds the headline values in the preferred units.
type Display struct {
	GPSAltitude      float64 `json:"gps_altitude"`
	PressureAltitude float64 `json:"pressure_altitude"`
	AltitudeUnit     string  `json:"altitude_unit"`
	GroundSpeed      float64 `json:"ground_speed"`
	SpeedUnit        string  `json:"speed_unit"`
	NightMode        bool    `json:"night_mode"`
}

func display(p config.Preferences, pos position.Sample, pr pressure.Sample, l light.Sample) Display {
	d := Display{NightMode: l.NightMode}
	if p.AltitudeFeet {
		d.GPSAltitude, d.PressureAltitude, d.AltitudeUnit = pos.AltitudeFt, pr.PressureAltitudeFt, "ft"
	} else {
		d.GPSAltitude, d.PressureAltitude, d.AltitudeUnit = pos.AltitudeM, pr.PressureAltitudeM, "m"
	}
	if p.SpeedKnots {
		d.GroundSpeed, d.SpeedUnit = pos.GroundSpeedKt, "kt"
	} else {
		d.GroundSpeed, d.SpeedUnit = pos.GroundSpeedKmh, "km/h"
	}
	return d
}

func (e *Engine) Snapshot() Snapshot {
	s := Snapshot{
		At:            time.Now().UTC(),
		Attitude:      e.Attitude(),
		Position:      e.Position(),
		GnssHealth:    e.GnssHealth(),
		Pressure:      e.Pressure(),
		VerticalSpeed: e.VerticalSpeed(),
		VSITrendFpm:   e.vsi.History(),
		Motion:        e.Motion(),
		Light:         e.Light(),
		Sensors:       e.Availability(),
	}
	s.Display = display(e.Preferences(), s.Position, s.Pressure, s.Light)
	return s
}
