// Package pressure converts barometric pressure into QNH, pressure altitude
// and density altitude, and tracks the pressure-altitude trend.
package pressure

import (
	"math"

	"helipad-ng/internal/units"
)

const (
	// ScaleHeightM is the ICAO scale height used by the exponential
	// atmosphere approximation.
	ScaleHeightM = 8434.0

	StandardPressureHPa = 1013.25

	isaSeaLevelC = 15.0
	isaLapsePerM = 0.0065
)

// PressureAltitudeMeters returns 8434*ln(1013.25/qfe). A non-positive
// pressure is the "no sensor" sentinel and yields 0.
func PressureAltitudeMeters(qfeHPa float64) float64 {
	if !(qfeHPa > 0) || math.IsInf(qfeHPa, 0) {
		return 0
	}
	return ScaleHeightM * math.Log(StandardPressureHPa/qfeHPa)
}

func PressureAltitudeFeet(qfeHPa float64) float64 {
	return units.FeetFromMeters(PressureAltitudeMeters(qfeHPa))
}

// QNHFromQFE reduces station pressure to sea level using the reference
// altitude in meters. Returns 0 when qfe is the "no sensor" sentinel.
func QNHFromQFE(qfeHPa, referenceAltitudeM float64) float64 {
	if !(qfeHPa > 0) || math.IsInf(qfeHPa, 0) {
		return 0
	}
	if !units.Finite(referenceAltitudeM) {
		referenceAltitudeM = 0
	}
	return qfeHPa * math.Exp(referenceAltitudeM/ScaleHeightM)
}

// ISATemperatureC is the standard-atmosphere temperature at a pressure altitude.
func ISATemperatureC(pressureAltitudeM float64) float64 {
	return isaSeaLevelC - isaLapsePerM*pressureAltitudeM
}

// DensityAltitudeMeters corrects pressure altitude for non-standard temperature.
func DensityAltitudeMeters(pressureAltitudeM, oatC float64) float64 {
	return pressureAltitudeM + 100*(oatC-ISATemperatureC(pressureAltitudeM))/isaLapsePerM
}

func DensityAltitudeFeet(pressureAltitudeFt, oatC float64) float64 {
	pa := units.MetersFromFeet(pressureAltitudeFt)
	return units.FeetFromMeters(DensityAltitudeMeters(pa, oatC))
}

// ReferenceAltitude picks the altitude used for QNH: a positive field
// elevation wins, otherwise the last GPS altitude (0 when unknown).
func ReferenceAltitude(fieldElevationM, gpsAltitudeM float64) float64 {
	if fieldElevationM > 0 {
		return fieldElevationM
	}
	if !units.Finite(gpsAltitudeM) {
		return 0
	}
	return gpsAltitudeM
}
