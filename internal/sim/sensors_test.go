package sim

import (
	"math"
	"testing"
	"time"

	"helipad-ng/internal/ahrs"
	"helipad-ng/internal/pressure"
)

func TestAccelerometer_TiltRoundTrip(t *testing.T) {
	a := Accelerometer(12, 0, 1)
	p, r := ahrs.AccelTilt(a)
	if math.Abs(p-12) > 1e-9 || math.Abs(r) > 1e-9 {
		t.Fatalf("pitch=%v roll=%v want 12,0", p, r)
	}
	a = Accelerometer(0, -20, 1)
	p, r = ahrs.AccelTilt(a)
	if math.Abs(p) > 1e-9 || math.Abs(r+20) > 1e-9 {
		t.Fatalf("pitch=%v roll=%v want 0,-20", p, r)
	}
	if n := Accelerometer(0, 0, 2).Norm(); math.Abs(n-2*9.81) > 1e-9 {
		t.Fatalf("norm=%v", n)
	}
}

func TestMagnetometer_HeadingRoundTrip(t *testing.T) {
	var env Environment
	for _, tc := range []struct{ hdg, pitch, roll float64 }{
		{0, 0, 0}, {90, 0, 0}, {225, 0, 0},
		{45, 10, 0}, {300, 0, 15}, {170, -8, 20},
	} {
		m := env.Magnetometer(tc.hdg, tc.pitch, tc.roll)
		got := ahrs.TiltCompensatedHeading(m, tc.pitch, tc.roll)
		d := math.Abs(math.Mod(got-tc.hdg+540, 360) - 180)
		if d > 1e-6 {
			t.Fatalf("hdg=%v pitch=%v roll=%v: got %v", tc.hdg, tc.pitch, tc.roll, got)
		}
		if n := m.Norm(); math.Abs(n-48) > 1e-9 {
			t.Fatalf("field=%v want 48", n)
		}
	}
}

func TestBarometer_MatchesPressureAltitude(t *testing.T) {
	var env Environment
	hpa := env.Barometer(1000)
	if got := pressure.PressureAltitudeMeters(hpa); math.Abs(got-1000) > 1e-6 {
		t.Fatalf("pressure altitude=%v want 1000", got)
	}
}

func TestSatelliteView_UsedCount(t *testing.T) {
	env := Environment{UsedSatellites: 4}
	st := env.SatelliteView(0, time.Unix(0, 0))
	used := 0
	for _, s := range st.Satellites {
		if s.UsedInFix {
			used++
		}
		if s.Cn0DbHz <= 0 {
			t.Fatalf("sat %d has non-positive snr", s.PRN)
		}
	}
	if used != 4 || len(st.Satellites) != len(constellation) {
		t.Fatalf("used=%d view=%d", used, len(st.Satellites))
	}
}

func TestSense_YawRateFromHeadingChange(t *testing.T) {
	yaml := []byte(`
keyframes:
  - t: 0s
    track_deg: 0
  - t: 10s
    track_deg: 100
`)
	script, err := ParseScenarioScriptYAML(yaml)
	if err != nil {
		t.Fatalf("parse: %v", err)
	}
	scn, err := NewScenario(script)
	if err != nil {
		t.Fatalf("NewScenario: %v", err)
	}
	var env Environment
	s := env.Sense(scn, 5*time.Second, time.Unix(5, 0))
	// 10 deg/s clockwise is negative about the up axis.
	if got := s.Gyro.Z * 180 / math.Pi; math.Abs(got+10) > 1e-6 {
		t.Fatalf("yaw rate=%v deg/s want -10", got)
	}
	if !s.Fix.Valid || s.Fix.BearingDeg != 50 {
		t.Fatalf("fix=%+v", s.Fix)
	}
}

func TestSource_EmitSchedule(t *testing.T) {
	src := NewSource(Flight{AltM: 100}, Environment{LightLux: 500}, Rates{})
	_, press := src.Pressure.Subscribe(64)
	_, fixes := src.Fixes.Subscribe(64)
	_, light := src.Light.Subscribe(64)

	var last emitted
	t0 := time.Unix(0, 0)
	for el := time.Duration(0); el <= 2*time.Second; el += 20 * time.Millisecond {
		src.emit(el, t0.Add(el), &last)
	}
	if n := len(press); n != 21 {
		t.Fatalf("pressure samples=%d want 21", n)
	}
	if n := len(fixes); n != 3 {
		t.Fatalf("fixes=%d want 3", n)
	}
	if n := len(light); n != 3 {
		t.Fatalf("light=%d want 3", n)
	}
	if pub, _ := src.Accel.Stats(); pub != 101 {
		t.Fatalf("accel published=%d want 101", pub)
	}
}
