// Package light classifies ambient light into day and night display modes.
package light

import (
	"context"
	"fmt"
	"math"
	"sync"
	"time"

	"helipad-ng/internal/sensor"
	"helipad-ng/internal/stream"
)

// DefaultNightThresholdLux is the level below which night mode engages.
const DefaultNightThresholdLux = 10.0

type Sample struct {
	Lux       float64   `json:"lux"`
	HasSensor bool      `json:"has_sensor"`
	NightMode bool      `json:"night_mode"`
	At        time.Time `json:"at"`
}

// Empty is the day state reported before any reading and without a sensor.
var Empty = Sample{Lux: sensor.NoLightSensor}

// IsNight reports whether lux is below threshold. The no-sensor sentinel and
// non-finite readings are always day.
func IsNight(lux, thresholdLux float64) bool {
	if lux == sensor.NoLightSensor || math.IsNaN(lux) || math.IsInf(lux, 0) {
		return false
	}
	return lux < thresholdLux
}

func classify(l sensor.Light, threshold float64) Sample {
	return Sample{
		Lux:       l.Lux,
		HasSensor: l.Lux != sensor.NoLightSensor,
		NightMode: IsNight(l.Lux, threshold),
		At:        l.At,
	}
}

// Service tracks the latest light reading and the night-mode decision.
type Service struct {
	src sensor.Source[sensor.Light]
	out *stream.Hub[Sample]
	obs stream.Observer

	runner stream.Runner

	mu        sync.Mutex
	threshold float64
	last      sensor.Light
	haveLast  bool
}

func New(src sensor.Source[sensor.Light], obs stream.Observer) *Service {
	if obs == nil {
		obs = stream.NopObserver{}
	}
	return &Service{
		src:       src,
		out:       stream.NewHubWith(Empty),
		obs:       obs,
		threshold: DefaultNightThresholdLux,
	}
}

func (s *Service) Output() *stream.Hub[Sample] { return s.out }

func (s *Service) Snapshot() Sample {
	v, _ := s.out.Latest()
	return v
}

// SetThreshold reclassifies the last reading immediately.
func (s *Service) SetThreshold(lux float64) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.threshold = lux
	if s.haveLast {
		s.out.Publish(classify(s.last, lux))
	}
}

func (s *Service) Threshold() float64 {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.threshold
}

func (s *Service) Start(ctx context.Context) error {
	if err := s.runner.Start(ctx, s.run); err != nil {
		return fmt.Errorf("light: %w", err)
	}
	return nil
}

func (s *Service) Stop() {
	s.runner.Stop()
	s.mu.Lock()
	s.last, s.haveLast = sensor.Light{}, false
	s.mu.Unlock()
	s.out.Reset(Empty)
}

func (s *Service) run(ctx context.Context) {
	if s.src == nil {
		<-ctx.Done()
		return
	}
	id, ch := s.src.Subscribe(4)
	defer s.src.Unsubscribe(id)

	for {
		select {
		case <-ctx.Done():
			return
		case l, ok := <-ch:
			if !ok {
				return
			}
			if math.IsNaN(l.Lux) || l.Lux < 0 {
				s.obs.ObserveSample("light", false)
				continue
			}
			// Publishing under mu keeps readings and threshold changes in order.
			s.mu.Lock()
			s.last, s.haveLast = l, true
			s.out.Publish(classify(l, s.threshold))
			s.mu.Unlock()
			s.obs.ObserveSample("light", true)
		}
	}
}
