package position

import (
	"context"
	"fmt"
	"sync"

	"helipad-ng/internal/sensor"
	"helipad-ng/internal/stream"
)

// Service runs the position estimator and GNSS health scoring.
type Service struct {
	fixes sensor.Source[sensor.Fix]
	sats  sensor.Source[sensor.SatelliteStatus]

	out    *stream.Hub[Sample]
	health *stream.Hub[HealthSample]
	obs    stream.Observer

	runner stream.Runner

	mu         sync.Mutex
	headingDeg float64
	headingOK  bool
}

// New accepts nil sources; without fixes the service stays in the no-fix
// state and without satellite status health stays EmptyHealth.
func New(fixes sensor.Source[sensor.Fix], sats sensor.Source[sensor.SatelliteStatus], obs stream.Observer) *Service {
	if obs == nil {
		obs = stream.NopObserver{}
	}
	return &Service{
		fixes:  fixes,
		sats:   sats,
		out:    stream.NewHubWith(Empty),
		health: stream.NewHubWith(EmptyHealth),
		obs:    obs,
	}
}

func (s *Service) Output() *stream.Hub[Sample]       { return s.out }
func (s *Service) Health() *stream.Hub[HealthSample] { return s.health }

func (s *Service) Snapshot() Sample {
	v, _ := s.out.Latest()
	return v
}

func (s *Service) HealthSnapshot() HealthSample {
	v, _ := s.health.Latest()
	return v
}

// SetHeading injects the fused magnetic heading. It is read when the next
// fix is processed.
func (s *Service) SetHeading(deg float64, ok bool) {
	s.mu.Lock()
	s.headingDeg, s.headingOK = deg, ok
	s.mu.Unlock()
}

func (s *Service) heading() (float64, bool) {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.headingDeg, s.headingOK
}

func (s *Service) Start(ctx context.Context) error {
	if err := s.runner.Start(ctx, s.run); err != nil {
		return fmt.Errorf("position: %w", err)
	}
	return nil
}

func (s *Service) Stop() {
	s.runner.Stop()
	s.SetHeading(0, false)
	s.out.Reset(Empty)
	s.health.Reset(EmptyHealth)
}

func (s *Service) run(ctx context.Context) {
	var fixCh <-chan sensor.Fix
	if s.fixes != nil {
		id, ch := s.fixes.Subscribe(8)
		defer s.fixes.Unsubscribe(id)
		fixCh = ch
	}
	var satCh <-chan sensor.SatelliteStatus
	if s.sats != nil {
		id, ch := s.sats.Subscribe(4)
		defer s.sats.Unsubscribe(id)
		satCh = ch
	}

	est := NewEstimator()
	for {
		select {
		case <-ctx.Done():
			return
		case f, ok := <-fixCh:
			if !ok {
				fixCh = nil
				continue
			}
			hdg, hok := s.heading()
			out, accepted := est.Update(f, hdg, hok)
			s.obs.ObserveSample("position", accepted)
			if accepted {
				s.out.Publish(out)
			}
		case st, ok := <-satCh:
			if !ok {
				satCh = nil
				continue
			}
			s.health.Publish(Health(st))
			s.obs.ObserveSample("gnss", true)
		}
	}
}
