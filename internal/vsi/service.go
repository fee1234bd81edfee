package vsi

import (
	"context"
	"fmt"
	"math"
	"sync"
	"sync/atomic"

	"helipad-ng/internal/sensor"
	"helipad-ng/internal/stream"
)

// Service runs the Estimator over a barometer source.
type Service struct {
	src sensor.Source[sensor.Pressure]
	out *stream.Hub[Sample]
	obs stream.Observer

	runner stream.Runner
	sink   atomic.Uint64 // float64 bits

	mu      sync.Mutex
	history []float64
}

func New(src sensor.Source[sensor.Pressure], obs stream.Observer) *Service {
	if obs == nil {
		obs = stream.NopObserver{}
	}
	s := &Service{src: src, out: stream.NewHubWith(Empty), obs: obs}
	s.SetSinkThreshold(DefaultSinkFpm)
	return s
}

func (s *Service) Output() *stream.Hub[Sample] { return s.out }

func (s *Service) Snapshot() Sample {
	v, _ := s.out.Latest()
	return v
}

// SetSinkThreshold takes effect on the next sample.
func (s *Service) SetSinkThreshold(fpm float64) {
	s.sink.Store(math.Float64bits(fpm))
}

func (s *Service) SinkThreshold() float64 {
	return math.Float64frombits(s.sink.Load())
}

func (s *Service) Start(ctx context.Context) error {
	if err := s.runner.Start(ctx, s.run); err != nil {
		return fmt.Errorf("vsi: %w", err)
	}
	return nil
}

// History returns the recent raw VSI values (ft/min), oldest first.
func (s *Service) History() []float64 {
	s.mu.Lock()
	defer s.mu.Unlock()
	return append(make([]float64, 0, len(s.history)), s.history...)
}

func (s *Service) Stop() {
	s.runner.Stop()
	s.mu.Lock()
	s.history = nil
	s.mu.Unlock()
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
			est.SinkThresholdFpm = s.SinkThreshold()
			out, accepted := est.Update(p)
			s.obs.ObserveSample("vsi", accepted)
			if accepted {
				// History is in place before the sample becomes visible.
				s.mu.Lock()
				s.history = est.History()
				s.mu.Unlock()
				s.out.Publish(out)
			}
		}
	}
}
