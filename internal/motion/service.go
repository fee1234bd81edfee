package motion

import (
	"context"
	"fmt"
	"math"
	"sync/atomic"

	"helipad-ng/internal/sensor"
	"helipad-ng/internal/stream"
)

// Service feeds the Estimator from accelerometer and gyro sources. The
// accelerometer drives updates; the newest gyro reading is latched and used
// while it is fresh.
type Service struct {
	accel sensor.Source[sensor.Acceleration]
	gyro  sensor.Source[sensor.AngularRate]
	out   *stream.Hub[Sample]
	obs   stream.Observer

	runner stream.Runner
	excess atomic.Uint64 // float64 bits
}

func New(accel sensor.Source[sensor.Acceleration], gyro sensor.Source[sensor.AngularRate], obs stream.Observer) *Service {
	if obs == nil {
		obs = stream.NopObserver{}
	}
	s := &Service{accel: accel, gyro: gyro, out: stream.NewHubWith(Empty), obs: obs}
	s.SetHardLandingExcessG(DefaultHardLandingExcessG)
	return s
}

func (s *Service) Output() *stream.Hub[Sample] { return s.out }

func (s *Service) Snapshot() Sample {
	v, _ := s.out.Latest()
	return v
}

// SetHardLandingExcessG takes effect on the next sample.
func (s *Service) SetHardLandingExcessG(g float64) {
	s.excess.Store(math.Float64bits(g))
}

func (s *Service) Start(ctx context.Context) error {
	if s.accel == nil {
		return fmt.Errorf("motion: accelerometer source is required")
	}
	if err := s.runner.Start(ctx, s.run); err != nil {
		return fmt.Errorf("motion: %w", err)
	}
	return nil
}

// Stop releases the subscriptions and drops peak-hold and smoothing state.
func (s *Service) Stop() {
	s.runner.Stop()
	s.out.Reset(Empty)
}

func (s *Service) run(ctx context.Context) {
	accID, accCh := s.accel.Subscribe(16)
	defer s.accel.Unsubscribe(accID)

	var gyroCh <-chan sensor.AngularRate
	if s.gyro != nil {
		id, ch := s.gyro.Subscribe(16)
		defer s.gyro.Unsubscribe(id)
		gyroCh = ch
	}

	est := NewEstimator()
	var gyro sensor.AngularRate
	var haveGyro bool

	for {
		select {
		case <-ctx.Done():
			return
		case g, ok := <-gyroCh:
			if !ok {
				gyroCh = nil
				continue
			}
			gyro, haveGyro = g, true
		case a, ok := <-accCh:
			if !ok {
				return
			}
			est.HardLandingExcessG = math.Float64frombits(s.excess.Load())
			out, accepted := est.Update(a.Vector, gyro.Vector, haveGyro && gyro.FreshAt(a.At), a.At)
			s.obs.ObserveSample("motion", accepted)
			if accepted {
				s.out.Publish(out)
			}
		}
	}
}
