package pressure

import (
	"context"
	"fmt"
	"sync"

	"helipad-ng/internal/sensor"
	"helipad-ng/internal/stream"
)

// Inputs are the values the estimator reads from outside the barometer
// stream.
type Inputs struct {
	FieldElevationM float64
	GPSAltitudeM    float64
	OATCelsius      float64
}

// Service runs the Estimator over a barometer source.
type Service struct {
	src sensor.Source[sensor.Pressure]
	out *stream.Hub[Sample]
	obs stream.Observer

	runner stream.Runner

	mu     sync.Mutex
	inputs Inputs
}

func New(src sensor.Source[sensor.Pressure], obs stream.Observer) *Service {
	if obs == nil {
		obs = stream.NopObserver{}
	}
	return &Service{
		src:    src,
		out:    stream.NewHubWith(Empty),
		obs:    obs,
		inputs: Inputs{OATCelsius: 15},
	}
}

func (s *Service) Output() *stream.Hub[Sample] { return s.out }

func (s *Service) Snapshot() Sample {
	v, _ := s.out.Latest()
	return v
}

// SetGPSAltitude injects the latest GNSS altitude. 0 means unknown.
func (s *Service) SetGPSAltitude(m float64) {
	s.mu.Lock()
	s.inputs.GPSAltitudeM = m
	s.mu.Unlock()
}

// SetFieldElevation overrides the QNH reference. 0 means use GPS.
func (s *Service) SetFieldElevation(m float64) {
	s.mu.Lock()
	s.inputs.FieldElevationM = m
	s.mu.Unlock()
}

func (s *Service) SetOAT(c float64) {
	s.mu.Lock()
	s.inputs.OATCelsius = c
	s.mu.Unlock()
}

func (s *Service) Inputs() Inputs {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.inputs
}

// Start is a no-op without a barometer; the snapshot stays Empty.
func (s *Service) Start(ctx context.Context) error {
	if err := s.runner.Start(ctx, s.run); err != nil {
		return fmt.Errorf("pressure: %w", err)
	}
	return nil
}

// Stop drops smoothing and trend history. Injected inputs are kept except
// the GPS altitude, which must be re-injected after a restart.
func (s *Service) Stop() {
	s.runner.Stop()
	s.SetGPSAltitude(0)
	s.out.Reset(Empty)
}

func (s *Service) run(ctx context.Context) {
	if s.src == nil {
		<-ctx.Done()
		return
	}
	id, ch := s.src.Subscribe(16)
	defer s.src.Unsubscribe(id)

	est := NewEstimator()
	for {
		select {
		case <-ctx.Done():
			return
		case p, ok := <-ch:
			if !ok {
				return
			}
			in := s.Inputs()
			est.FieldElevationM = in.FieldElevationM
			est.GPSAltitudeM = in.GPSAltitudeM
			est.OATCelsius = in.OATCelsius
			out, accepted := est.Update(p)
			s.obs.ObserveSample("pressure", accepted)
			if accepted {
				s.out.Publish(out)
			}
		}
	}
}
