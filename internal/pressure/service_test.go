package pressure

import (
	"context"
	"math"
	"testing"
	"time"

	"helipad-ng/internal/sensor"
	"helipad-ng/internal/stream"
)

func TestService_GPSAltitudeInjection(t *testing.T) {
	src := stream.NewHub[sensor.Pressure]()
	s := New(src, nil)
	s.SetGPSAltitude(100)

	if err := s.Start(context.Background()); err != nil {
		t.Fatalf("Start: %v", err)
	}
	deadline := time.Now().Add(2 * time.Second)
	for src.Subscribers() == 0 {
		if time.Now().After(deadline) {
			t.Fatalf("service never subscribed")
		}
		time.Sleep(time.Millisecond)
	}

	at := time.Date(2026, 1, 1, 12, 0, 0, 0, time.UTC)
	src.Publish(sensor.Pressure{HPa: 1012, At: at})
	for !s.Snapshot().At.Equal(at) {
		if time.Now().After(deadline) {
			t.Fatalf("no pressure sample published")
		}
		time.Sleep(time.Millisecond)
	}
	want := 1012.0 * math.Exp(100.0/ScaleHeightM)
	if got := s.Snapshot().QNHHPa; math.Abs(got-want) > 1e-6 {
		t.Fatalf("qnh=%v want %v", got, want)
	}

	s.Stop()
	if got := s.Snapshot(); got != Empty {
		t.Fatalf("snapshot after Stop=%+v want Empty", got)
	}
	if in := s.Inputs(); in.GPSAltitudeM != 0 || in.OATCelsius != 15 {
		t.Fatalf("inputs after Stop=%+v", in)
	}
}

func TestService_FieldElevationAndOAT(t *testing.T) {
	s := New(nil, nil)
	s.SetFieldElevation(250)
	s.SetOAT(-5)
	in := s.Inputs()
	if in.FieldElevationM != 250 || in.OATCelsius != -5 {
		t.Fatalf("inputs=%+v", in)
	}
	if err := s.Start(context.Background()); err != nil {
		t.Fatalf("Start without barometer: %v", err)
	}
	s.Stop()
}
