package gps

import (
	"encoding/hex"
	"fmt"
	"math"
	"sort"
	"strconv"
	"strings"
	"time"

	"helipad-ng/internal/sensor"
	"helipad-ng/internal/units"
)

type nmeaSentence struct {
	// Talker is the two-letter source prefix (GP, GN, GL, ...). Proprietary
	// and short sentences have an empty talker.
	Talker string
	Type   string
	// Fields is the comma-split NMEA payload (excluding $ and checksum).
	Fields []string
}

func parseNMEASentence(line string) (nmeaSentence, error) {
	line = strings.TrimSpace(line)
	if !strings.HasPrefix(line, "$") {
		return nmeaSentence{}, fmt.Errorf("nmea: missing '$'")
	}
	star := strings.LastIndexByte(line, '*')
	if star == -1 {
		return nmeaSentence{}, fmt.Errorf("nmea: missing checksum")
	}
	payload := line[1:star]
	ck := strings.TrimSpace(line[star+1:])
	if len(ck) < 2 {
		return nmeaSentence{}, fmt.Errorf("nmea: short checksum")
	}
	ck = ck[:2]
	want, err := hex.DecodeString(ck)
	if err != nil || len(want) != 1 {
		return nmeaSentence{}, fmt.Errorf("nmea: bad checksum")
	}
	got := byte(0)
	for i := 0; i < len(payload); i++ {
		got ^= payload[i]
	}
	if got != want[0] {
		return nmeaSentence{}, fmt.Errorf("nmea: checksum mismatch")
	}

	parts := strings.Split(payload, ",")
	typeField := strings.ToUpper(parts[0])
	if len(typeField) < 3 {
		return nmeaSentence{}, fmt.Errorf("nmea: short type")
	}
	out := nmeaSentence{Type: typeField[len(typeField)-3:], Fields: parts}
	if len(typeField) == 5 {
		out.Talker = typeField[:2]
	}
	return out, nil
}

type satKey struct {
	c   sensor.Constellation
	prn int
}

// nmeaState accumulates sentences into a fix and a satellite table.
type nmeaState struct {
	latDeg float64
	lonDeg float64
	latOK  bool
	lonOK  bool

	speedMps float64
	gsOK     bool

	trackDeg float64
	trkOK    bool

	altM  float64
	altOK bool

	lastFix time.Time
	valid   bool

	// epoch advances on every RMC; GSA entries from the current or the
	// previous epoch count as used in fix.
	epoch int
	used  map[satKey]int

	// GSV sequences per talker; views holds the last completed sequence.
	pending map[string][]sensor.Satellite
	views   map[string][]sensor.Satellite
}

type nmeaUpdate struct {
	fix  bool
	sats bool
}

func (s *nmeaState) apply(nowUTC time.Time, sent nmeaSentence) nmeaUpdate {
	switch sent.Type {
	case "RMC":
		return nmeaUpdate{fix: s.applyRMC(nowUTC, sent.Fields)}
	case "GGA":
		return nmeaUpdate{fix: s.applyGGA(nowUTC, sent.Fields)}
	case "GSA":
		s.applyGSA(sent.Talker, sent.Fields)
		return nmeaUpdate{}
	case "GSV":
		return nmeaUpdate{sats: s.applyGSV(sent.Talker, sent.Fields)}
	default:
		return nmeaUpdate{}
	}
}

func (s *nmeaState) fix() sensor.Fix {
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

// satellites merges the latest GSV view of every talker.
func (s *nmeaState) satellites(at time.Time) sensor.SatelliteStatus {
	talkers := make([]string, 0, len(s.views))
	for t := range s.views {
		talkers = append(talkers, t)
	}
	sort.Strings(talkers)

	out := sensor.SatelliteStatus{At: at}
	for _, t := range talkers {
		for _, sat := range s.views[t] {
			if e, ok := s.used[satKey{sat.Constellation, sat.PRN}]; ok && s.epoch-e <= 1 {
				sat.UsedInFix = true
			}
			out.Satellites = append(out.Satellites, sat)
		}
	}
	return out
}

// RMC: Recommended Minimum Specific GNSS Data
// Fields (NMEA 0183 v2.3):
//
//	0: talker+type
//	1: time (hhmmss.sss)
//	2: status (A=active, V=void)
//	3: latitude (ddmm.mmmm)
//	4: N/S
//	5: longitude (dddmm.mmmm)
//	6: E/W
//	7: speed over ground (knots)
//	8: course over ground (deg)
//	9: date (ddmmyy)
func (s *nmeaState) applyRMC(nowUTC time.Time, f []string) bool {
	if len(f) < 10 {
		return false
	}
	s.epoch++
	status := strings.TrimSpace(f[2])
	if status != "A" {
		// A void RMC means the receiver lost the fix.
		if s.valid {
			s.valid = false
			s.lastFix = nowUTC
			return true
		}
		return false
	}

	lat, latOK := parseNMEALatLon(f[3], f[4])
	lon, lonOK := parseNMEALatLon(f[5], f[6])
	if latOK {
		s.latDeg = lat
		s.latOK = true
	}
	if lonOK {
		s.lonDeg = lon
		s.lonOK = true
	}

	if gs, ok := parseFloat(f[7]); ok {
		s.speedMps = gs / units.MpsToKnots
		s.gsOK = true
	}
	if trk, ok := parseFloat(f[8]); ok {
		s.trackDeg = units.NormalizeDegrees(trk)
		s.trkOK = true
	}

	if s.latOK && s.lonOK {
		s.lastFix = nowUTC
		s.valid = true
		return true
	}
	return false
}

// GGA: Global Positioning System Fix Data
// Fields:
//
//	0: talker+type
//	1: time
//	2: latitude
//	3: N/S
//	4: longitude
//	5: E/W
//	6: fix quality (0=invalid)
//	7: number of satellites
//	8: HDOP
//	9: altitude (meters)
//
// 10: units (M)
func (s *nmeaState) applyGGA(nowUTC time.Time, f []string) bool {
	if len(f) < 11 {
		return false
	}
	fixQStr := strings.TrimSpace(f[6])
	if fixQStr == "" || fixQStr == "0" {
		return false
	}

	lat, latOK := parseNMEALatLon(f[2], f[3])
	lon, lonOK := parseNMEALatLon(f[4], f[5])
	if latOK {
		s.latDeg = lat
		s.latOK = true
	}
	if lonOK {
		s.lonDeg = lon
		s.lonOK = true
	}
	if altM, ok := parseFloat(f[9]); ok {
		s.altM = altM
		s.altOK = true
	}

	if s.latOK && s.lonOK {
		s.lastFix = nowUTC
		s.valid = true
		return true
	}
	return false
}

// GSA: DOP and active satellites
//
//	0: talker+type
//	1: mode (M/A)
//	2: fix type (1=none, 2=2D, 3=3D)
//	3-14: PRNs used in fix
//	15-17: PDOP, HDOP, VDOP
//	18: system id (NMEA 4.1+)
func (s *nmeaState) applyGSA(talker string, f []string) {
	if len(f) < 15 {
		return
	}
	if strings.TrimSpace(f[2]) == "1" {
		return
	}
	sys := talkerConstellation(talker)
	if len(f) >= 19 {
		if id, err := strconv.Atoi(strings.TrimSpace(f[18])); err == nil {
			sys = systemIDConstellation(id)
		}
	}
	if s.used == nil {
		s.used = make(map[satKey]int)
	}
	for _, p := range f[3:15] {
		prn, err := strconv.Atoi(strings.TrimSpace(p))
		if err != nil || prn <= 0 {
			continue
		}
		c := sys
		if c == sensor.ConstellationUnknown {
			c = prnConstellation(prn)
		}
		s.used[satKey{c, prn}] = s.epoch
	}
}

// GSV: satellites in view
//
//	0: talker+type
//	1: total number of sentences
//	2: sentence number
//	3: satellites in view
//	4..: repeated PRN, elevation, azimuth, SNR (dB-Hz, empty when not tracked)
//	last: signal id (NMEA 4.1+, present when the group count is off by one)
func (s *nmeaState) applyGSV(talker string, f []string) bool {
	if len(f) < 4 {
		return false
	}
	total, err1 := strconv.Atoi(strings.TrimSpace(f[1]))
	num, err2 := strconv.Atoi(strings.TrimSpace(f[2]))
	if err1 != nil || err2 != nil || total <= 0 || num <= 0 || num > total {
		return false
	}
	if s.pending == nil {
		s.pending = make(map[string][]sensor.Satellite)
		s.views = make(map[string][]sensor.Satellite)
	}
	if num == 1 {
		s.pending[talker] = nil
	}

	groups := f[4:]
	if len(groups)%4 == 1 {
		groups = groups[:len(groups)-1]
	}
	sys := talkerConstellation(talker)
	for i := 0; i+3 < len(groups); i += 4 {
		prn, err := strconv.Atoi(strings.TrimSpace(groups[i]))
		if err != nil || prn <= 0 {
			continue
		}
		c := sys
		if c == sensor.ConstellationUnknown {
			c = prnConstellation(prn)
		}
		snr, _ := parseFloat(groups[i+3])
		s.pending[talker] = append(s.pending[talker], sensor.Satellite{
			Constellation: c,
			PRN:           prn,
			Cn0DbHz:       snr,
		})
	}

	if num == total {
		s.views[talker] = s.pending[talker]
		delete(s.pending, talker)
		return true
	}
	return false
}

func talkerConstellation(talker string) sensor.Constellation {
	switch talker {
	case "GP":
		return sensor.ConstellationGPS
	case "GL":
		return sensor.ConstellationGLONASS
	case "GA":
		return sensor.ConstellationGalileo
	case "GB", "BD":
		return sensor.ConstellationBeiDou
	case "GQ":
		return sensor.ConstellationQZSS
	default:
		return sensor.ConstellationUnknown
	}
}

// systemIDConstellation maps the NMEA 4.1 GNSS system id.
func systemIDConstellation(id int) sensor.Constellation {
	switch id {
	case 1:
		return sensor.ConstellationGPS
	case 2:
		return sensor.ConstellationGLONASS
	case 3:
		return sensor.ConstellationGalileo
	case 4:
		return sensor.ConstellationBeiDou
	case 5:
		return sensor.ConstellationQZSS
	default:
		return sensor.ConstellationUnknown
	}
}

// prnConstellation resolves mixed (GN) talkers by NMEA PRN range.
func prnConstellation(prn int) sensor.Constellation {
	switch {
	case prn >= 1 && prn <= 32:
		return sensor.ConstellationGPS
	case prn >= 33 && prn <= 64:
		return sensor.ConstellationSBAS
	case prn >= 65 && prn <= 96:
		return sensor.ConstellationGLONASS
	case prn >= 193 && prn <= 200:
		return sensor.ConstellationQZSS
	default:
		return sensor.ConstellationUnknown
	}
}

func parseFloat(s string) (float64, bool) {
	s = strings.TrimSpace(s)
	if s == "" {
		return 0, false
	}
	v, err := strconv.ParseFloat(s, 64)
	if err != nil || math.IsNaN(v) || math.IsInf(v, 0) {
		return 0, false
	}
	return v, true
}

// parseNMEALatLon parses NMEA lat/lon in ddmm.mmmm or dddmm.mmmm plus hemisphere.
func parseNMEALatLon(v string, hemi string) (float64, bool) {
	v = strings.TrimSpace(v)
	hemi = strings.TrimSpace(strings.ToUpper(hemi))
	if v == "" || (hemi != "N" && hemi != "S" && hemi != "E" && hemi != "W") {
		return 0, false
	}

	// The last two digits of the integer part are minutes.
	dot := strings.IndexByte(v, '.')
	intPart := v
	if dot != -1 {
		intPart = v[:dot]
	}
	if len(intPart) < 3 {
		return 0, false
	}

	degPart := intPart[:len(intPart)-2]
	minPart := v[len(intPart)-2:]

	deg, err := strconv.Atoi(degPart)
	if err != nil {
		return 0, false
	}
	mins, err := strconv.ParseFloat(minPart, 64)
	if err != nil {
		return 0, false
	}

	dec := float64(deg) + (mins / 60.0)
	if hemi == "S" || hemi == "W" {
		dec = -dec
	}
	return dec, true
}
