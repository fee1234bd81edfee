package board

import (
	"context"
	"errors"
	"sync/atomic"
	"testing"
	"time"

	"helipad-ng/internal/sensor"
	"helipad-ng/internal/sensors/bmp280"
	"helipad-ng/internal/sensors/icm20948"
)

type fakeIMU struct{ n atomic.Int64 }

func (f *fakeIMU) Read() (icm20948.Sample, error) {
	i := float64(f.n.Add(1))
	at := time.Unix(0, 0).Add(time.Duration(i) * time.Millisecond)
	return icm20948.Sample{
		Accel: sensor.Acceleration{Vector: sensor.Vector{Z: 9.81}, At: at},
		Gyro:  sensor.AngularRate{Vector: sensor.Vector{X: 0.01 * i}, At: at},
	}, nil
}

type fakeBaro struct {
	hpa float64
	err error
}

func (f *fakeBaro) Read() (bmp280.Reading, error) {
	if f.err != nil {
		return bmp280.Reading{}, f.err
	}
	return bmp280.Reading{TempC: 21.5, Pressure: sensor.Pressure{HPa: f.hpa, At: time.Now()}}, nil
}

func waitFor(t *testing.T, what string, cond func() bool) {
	t.Helper()
	deadline := time.Now().Add(2 * time.Second)
	for !cond() {
		if time.Now().After(deadline) {
			t.Fatalf("timed out waiting for %s", what)
		}
		time.Sleep(time.Millisecond)
	}
}

func TestSources_OnlyDetectedDevices(t *testing.T) {
	s := newSource(Config{}, nil, &fakeBaro{hpa: 1013}, nil)
	src := s.Sources()
	if src.Accel != nil || src.Gyro != nil {
		t.Fatalf("imu streams wired without imu: %+v", src.Availability())
	}
	if src.Pressure == nil {
		t.Fatalf("pressure stream missing")
	}
	st := s.Status()
	if st.IMUDetected || !st.BaroDetected {
		t.Fatalf("status=%+v", st)
	}
}

func TestRun_PublishesIMUAndPressure(t *testing.T) {
	s := newSource(Config{IMURate: time.Millisecond, BaroRate: 2 * time.Millisecond}, &fakeIMU{}, &fakeBaro{hpa: 1009.5}, nil)
	_, accel := s.Accel.Subscribe(64)
	_, gyro := s.Gyro.Subscribe(64)
	_, press := s.Pressure.Subscribe(64)

	if err := s.Start(context.Background()); err != nil {
		t.Fatalf("Start: %v", err)
	}
	defer s.Close()
	if err := s.Start(context.Background()); err == nil {
		t.Fatalf("second Start should fail")
	}

	select {
	case a := <-accel:
		if a.Z != 9.81 {
			t.Fatalf("accel=%+v", a)
		}
		select {
		case g := <-gyro:
			if !g.At.Equal(a.At) {
				t.Fatalf("gyro at=%v accel at=%v", g.At, a.At)
			}
		default:
			t.Fatalf("gyro not published before accel")
		}
	case <-time.After(2 * time.Second):
		t.Fatalf("no accel sample")
	}
	select {
	case p := <-press:
		if p.HPa != 1009.5 {
			t.Fatalf("pressure=%+v", p)
		}
	case <-time.After(2 * time.Second):
		t.Fatalf("no pressure sample")
	}
	waitFor(t, "baro status", func() bool { return s.Status().TempC == 21.5 })
}

func TestRun_ReinitsFailingBarometer(t *testing.T) {
	var reopened atomic.Int32
	good := &fakeBaro{hpa: 1000}
	reopen := func() (Barometer, error) {
		reopened.Add(1)
		return good, nil
	}
	s := newSource(Config{IMURate: time.Hour, BaroRate: time.Millisecond}, nil, &fakeBaro{err: errors.New("nack")}, reopen)
	_, press := s.Pressure.Subscribe(8)

	if err := s.Start(context.Background()); err != nil {
		t.Fatalf("Start: %v", err)
	}
	defer s.Close()

	select {
	case p := <-press:
		if p.HPa != 1000 {
			t.Fatalf("pressure=%+v", p)
		}
	case <-time.After(2 * time.Second):
		t.Fatalf("barometer never recovered, status=%+v", s.Status())
	}
	if reopened.Load() != 1 {
		t.Fatalf("reopened=%d want 1", reopened.Load())
	}
	if s.Status().LastError == "" {
		t.Fatalf("expected last error to be kept")
	}
}

func TestRun_InvalidPressureNotPublished(t *testing.T) {
	s := newSource(Config{BaroRate: time.Millisecond}, nil, &fakeBaro{hpa: 0}, nil)
	if err := s.Start(context.Background()); err != nil {
		t.Fatalf("Start: %v", err)
	}
	waitFor(t, "error", func() bool { return s.Status().LastError != "" })
	s.Close()
	if pub, _ := s.Pressure.Stats(); pub != 0 {
		t.Fatalf("published=%d want 0", pub)
	}
}
