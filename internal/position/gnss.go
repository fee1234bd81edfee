package position

import (
	"fmt"
	"time"

	"helipad-ng/internal/sensor"
)

type Quality int

const (
	QualityNoFix Quality = iota
	QualityPoor
	QualityMarginal
	QualityGood
)

func (q Quality) String() string {
	switch q {
	case QualityGood:
		return "GOOD"
	case QualityMarginal:
		return "MARGINAL"
	case QualityPoor:
		return "POOR"
	case QualityNoFix:
		return "NO_FIX"
	default:
		return fmt.Sprintf("Quality(%d)", int(q))
	}
}

func (q Quality) MarshalText() ([]byte, error) {
	return []byte(q.String()), nil
}

// ScoreQuality grades reception; the first matching rule wins.
func ScoreQuality(usedInFix int, avgSNR float64) Quality {
	switch {
	case usedInFix >= 6 && avgSNR >= 30:
		return QualityGood
	case usedInFix >= 4 && avgSNR >= 20:
		return QualityMarginal
	case usedInFix > 0:
		return QualityPoor
	default:
		return QualityNoFix
	}
}

type HealthSample struct {
	SatellitesInView int `json:"satellites_in_view"`
	SatellitesUsed   int `json:"satellites_used"`

	GPSCount     int `json:"gps_count"`
	GalileoCount int `json:"galileo_count"`
	GLONASSCount int `json:"glonass_count"`
	BeiDouCount  int `json:"beidou_count"`

	AverageSNRDbHz float64 `json:"average_snr_dbhz"`
	Quality        Quality `json:"quality"`
	HasFix         bool    `json:"has_fix"`

	At time.Time `json:"at"`
}

var EmptyHealth = HealthSample{Quality: QualityNoFix}

// Health tallies a satellite status snapshot. The average SNR only counts
// satellites reporting a positive C/N0.
func Health(st sensor.SatelliteStatus) HealthSample {
	out := HealthSample{At: st.At}
	var sum float64
	var n int
	for _, sat := range st.Satellites {
		out.SatellitesInView++
		if sat.UsedInFix {
			out.SatellitesUsed++
		}
		if sat.Cn0DbHz > 0 {
			sum += sat.Cn0DbHz
			n++
		}
		switch sat.Constellation {
		case sensor.ConstellationGPS:
			out.GPSCount++
		case sensor.ConstellationGalileo:
			out.GalileoCount++
		case sensor.ConstellationGLONASS:
			out.GLONASSCount++
		case sensor.ConstellationBeiDou:
			out.BeiDouCount++
		}
	}
	if n > 0 {
		out.AverageSNRDbHz = sum / float64(n)
	}
	out.Quality = ScoreQuality(out.SatellitesUsed, out.AverageSNRDbHz)
	out.HasFix = out.SatellitesUsed > 0
	return out
}
