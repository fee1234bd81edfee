package gps

import (
	"context"
	"encoding/json"
	"fmt"
	"net"
	"strings"
	"time"

	"helipad-ng/internal/sensor"
	"helipad-ng/internal/units"
)

const gpsdDefaultAddr = "127.0.0.1:2947"

// dialGPSD connects to gpsd over TCP.
func dialGPSD(ctx context.Context, addr string) (net.Conn, error) {
	if strings.TrimSpace(addr) == "" {
		addr = gpsdDefaultAddr
	}
	d := &net.Dialer{Timeout: 2 * time.Second}
	return d.DialContext(ctx, "tcp", addr)
}

// gpsdWatch enables JSON streaming reports.
func gpsdWatch(conn net.Conn) error {
	// scaled=true yields SI units (m/s, meters) and degrees.
	_, err := conn.Write([]byte("?WATCH={\"enable\":true,\"json\":true,\"scaled\":true}\n"))
	return err
}

type gpsdMsgBase struct {
	Class string `json:"class"`
}

type gpsdTPV struct {
	Class string `json:"class"`
	Mode  *int   `json:"mode"`
	Time  string `json:"time"`

	Lat *float64 `json:"lat"`
	Lon *float64 `json:"lon"`

	Alt     *float64 `json:"alt"`
	AltMSL  *float64 `json:"altMSL"`
	SpeedMS *float64 `json:"speed"`
	Track   *float64 `json:"track"`
}

type gpsdSat struct {
	PRN    int      `json:"PRN"`
	SS     *float64 `json:"ss"`
	Used   bool     `json:"used"`
	GNSSID *int     `json:"gnssid"`
}

type gpsdSKY struct {
	Class      string    `json:"class"`
	Time       string    `json:"time"`
	Satellites []gpsdSat `json:"satellites"`
}

type gpsdState struct {
	latDeg float64
	lonDeg float64
	latOK  bool
	lonOK  bool

	altM  float64
	altOK bool

	speedMps float64
	gsOK     bool

	trackDeg float64
	trkOK    bool

	mode    int
	lastFix time.Time
	valid   bool

	sats sensor.SatelliteStatus
}

func newGPSDState() *gpsdState {
	return &gpsdState{}
}

func (s *gpsdState) fix() sensor.Fix {
	return sensor.Fix{
		Valid:       s.valid,
		LatDeg:      s.latDeg,
		LonDeg:      s.lonDeg,
		AltitudeM:   s.altM,
		HasAltitude: s.altOK,
		SpeedMps:    s.speedMps,
		HasSpeed:    s.gsOK,
		BearingDeg:  s.trackDeg,
		HasBearing:  s.trkOK,
		At:          s.lastFix,
	}
}

func (s *gpsdState) applyLine(nowUTC time.Time, line string) (nmeaUpdate, error) {
	var base gpsdMsgBase
	if err := json.Unmarshal([]byte(line), &base); err != nil {
		return nmeaUpdate{}, fmt.Errorf("gpsd json parse failed: %w", err)
	}

	switch strings.ToUpper(strings.TrimSpace(base.Class)) {
	case "TPV":
		var tpv gpsdTPV
		if err := json.Unmarshal([]byte(line), &tpv); err != nil {
			return nmeaUpdate{}, fmt.Errorf("gpsd tpv parse failed: %w", err)
		}
		return nmeaUpdate{fix: s.applyTPV(nowUTC, tpv)}, nil
	case "SKY":
		var sky gpsdSKY
		if err := json.Unmarshal([]byte(line), &sky); err != nil {
			return nmeaUpdate{}, fmt.Errorf("gpsd sky parse failed: %w", err)
		}
		return nmeaUpdate{sats: s.applySKY(nowUTC, sky)}, nil
	default:
		// Ignore other gpsd messages (e.g. VERSION/DEVICES/WATCH).
		return nmeaUpdate{}, nil
	}
}

func parseGPSDTime(nowUTC time.Time, v string) time.Time {
	if strings.TrimSpace(v) != "" {
		if t, err := time.Parse(time.RFC3339Nano, v); err == nil {
			return t.UTC()
		}
	}
	return nowUTC
}

func (s *gpsdState) applyTPV(nowUTC time.Time, tpv gpsdTPV) bool {
	if tpv.Mode != nil {
		s.mode = *tpv.Mode
	}
	fixTime := parseGPSDTime(nowUTC, tpv.Time)

	if tpv.Lat != nil && units.Finite(*tpv.Lat) {
		s.latDeg = *tpv.Lat
		s.latOK = true
	}
	if tpv.Lon != nil && units.Finite(*tpv.Lon) {
		s.lonDeg = *tpv.Lon
		s.lonOK = true
	}
	if tpv.SpeedMS != nil && units.Finite(*tpv.SpeedMS) {
		s.speedMps = *tpv.SpeedMS
		s.gsOK = true
	}
	if tpv.Track != nil && units.Finite(*tpv.Track) {
		s.trackDeg = units.NormalizeDegrees(*tpv.Track)
		s.trkOK = true
	}
	altM := tpv.AltMSL
	if altM == nil {
		altM = tpv.Alt
	}
	if altM != nil && units.Finite(*altM) {
		s.altM = *altM
		s.altOK = true
	}

	// mode: 0 unknown, 1 no fix, 2 2D, 3 3D.
	if s.mode >= 2 && s.latOK && s.lonOK {
		s.valid = true
		s.lastFix = fixTime
		return true
	}
	if s.valid {
		s.valid = false
		s.lastFix = fixTime
		return true
	}
	return false
}

func (s *gpsdState) applySKY(nowUTC time.Time, sky gpsdSKY) bool {
	if sky.Satellites == nil {
		// gpsd sends DOP-only SKY reports between full ones.
		return false
	}
	out := sensor.SatelliteStatus{At: parseGPSDTime(nowUTC, sky.Time)}
	for _, sat := range sky.Satellites {
		c := prnConstellation(sat.PRN)
		if sat.GNSSID != nil {
			c = gnssIDConstellation(*sat.GNSSID)
		}
		snr := 0.0
		if sat.SS != nil && units.Finite(*sat.SS) {
			snr = *sat.SS
		}
		out.Satellites = append(out.Satellites, sensor.Satellite{
			Constellation: c,
			PRN:           sat.PRN,
			UsedInFix:     sat.Used,
			Cn0DbHz:       snr,
		})
	}
	s.sats = out
	return true
}

// gnssIDConstellation maps u-blox style gnssid values reported by gpsd.
func gnssIDConstellation(id int) sensor.Constellation {
	switch id {
	case 0:
		return sensor.ConstellationGPS
	case 1:
		return sensor.ConstellationSBAS
	case 2:
		return sensor.ConstellationGalileo
	case 3:
		return sensor.ConstellationBeiDou
	case 5:
		return sensor.ConstellationQZSS
	case 6:
		return sensor.ConstellationGLONASS
	default:
		return sensor.ConstellationUnknown
	}
}
