package gps

import (
	"context"
	"math"
	"strings"
	"testing"
	"time"

	"helipad-ng/internal/sensor"
)

func TestGPSDState_TPVUpdatesFix(t *testing.T) {
	now := time.Date(2025, 12, 22, 12, 0, 0, 0, time.UTC)
	st := newGPSDState()

	line := `{"class":"TPV","mode":3,"time":"2025-12-22T12:00:01.000Z","lat":45.5,"lon":-122.9,"altMSL":100.0,"speed":50.0,"track":270.0,"climb":1.0,"eph":4.2,"epv":7.0}`
	upd, err := st.applyLine(now, line)
	if err != nil {
		t.Fatalf("applyLine err: %v", err)
	}
	if !upd.fix {
		t.Fatalf("expected fix update")
	}

	f := st.fix()
	if !f.Valid {
		t.Fatalf("expected valid")
	}
	if math.Abs(f.LatDeg-45.5) > 1e-9 || math.Abs(f.LonDeg-(-122.9)) > 1e-9 {
		t.Fatalf("lat=%v lon=%v", f.LatDeg, f.LonDeg)
	}
	if !f.HasSpeed || f.SpeedMps != 50 {
		t.Fatalf("speed=%v", f.SpeedMps)
	}
	if !f.HasBearing || f.BearingDeg != 270 {
		t.Fatalf("track=%v", f.BearingDeg)
	}
	if !f.HasAltitude || f.AltitudeM != 100 {
		t.Fatalf("alt=%v", f.AltitudeM)
	}
	if want := now.Add(time.Second); !f.At.Equal(want) {
		t.Fatalf("at=%v want %v", f.At, want)
	}
}

func TestGPSDState_TPVLosesFix(t *testing.T) {
	st := newGPSDState()
	now := time.Now().UTC()
	if _, err := st.applyLine(now, `{"class":"TPV","mode":3,"lat":1,"lon":2}`); err != nil {
		t.Fatalf("applyLine: %v", err)
	}
	upd, err := st.applyLine(now, `{"class":"TPV","mode":1}`)
	if err != nil {
		t.Fatalf("applyLine: %v", err)
	}
	if !upd.fix || st.fix().Valid {
		t.Fatalf("expected invalid fix after mode 1")
	}
}

func TestGPSDState_SKYSatellites(t *testing.T) {
	st := newGPSDState()
	line := `{"class":"SKY","hdop":0.9,"satellites":[` +
		`{"PRN":5,"ss":42,"used":true,"gnssid":0},` +
		`{"PRN":11,"ss":38,"used":true,"gnssid":2},` +
		`{"PRN":72,"ss":0,"used":false},` +
		`{"PRN":19,"ss":31,"used":false,"gnssid":3}]}`
	upd, err := st.applyLine(time.Now().UTC(), line)
	if err != nil {
		t.Fatalf("applyLine err: %v", err)
	}
	if !upd.sats {
		t.Fatalf("expected satellite update")
	}
	want := []sensor.Constellation{
		sensor.ConstellationGPS,
		sensor.ConstellationGalileo,
		sensor.ConstellationGLONASS,
		sensor.ConstellationBeiDou,
	}
	if len(st.sats.Satellites) != len(want) {
		t.Fatalf("satellites=%+v", st.sats.Satellites)
	}
	for i, c := range want {
		if st.sats.Satellites[i].Constellation != c {
			t.Fatalf("sat %d constellation=%v want %v", i, st.sats.Satellites[i].Constellation, c)
		}
	}
	if !st.sats.Satellites[0].UsedInFix || st.sats.Satellites[0].Cn0DbHz != 42 {
		t.Fatalf("sat 0=%+v", st.sats.Satellites[0])
	}
}

func TestGPSDState_DOPOnlySKYIgnored(t *testing.T) {
	st := newGPSDState()
	upd, err := st.applyLine(time.Now().UTC(), `{"class":"SKY","hdop":1.1}`)
	if err != nil || upd.sats {
		t.Fatalf("upd=%+v err=%v", upd, err)
	}
}

func TestGPSDState_BadJSON(t *testing.T) {
	st := newGPSDState()
	if _, err := st.applyLine(time.Now().UTC(), `{"class":`); err == nil {
		t.Fatalf("expected error")
	}
}

func TestService_ConsumeGPSD(t *testing.T) {
	s := New(Config{Enable: true, Source: "gpsd"})
	_, fixes := s.Fixes().Subscribe(4)
	input := `{"class":"VERSION","release":"3.25"}` + "\n" +
		`{"class":"TPV","mode":2,"lat":10,"lon":20,"speed":3}` + "\n"
	if err := s.consumeGPSD(context.Background(), strings.NewReader(input), newGPSDState()); err == nil {
		t.Fatalf("expected EOF")
	}
	select {
	case f := <-fixes:
		if !f.Valid || f.LatDeg != 10 {
			t.Fatalf("fix=%+v", f)
		}
	default:
		t.Fatalf("no fix published")
	}
	if got := s.Status().Source; got != "gpsd" {
		t.Fatalf("source=%q", got)
	}
}
