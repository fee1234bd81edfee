package ahrs

import (
	"context"
	"fmt"
	"sync"
	"time"

	"helipad-ng/internal/sensor"
	"helipad-ng/internal/stream"
	"helipad-ng/internal/units"
)

// Sample is the published attitude snapshot.
type Sample struct {
	PitchDeg float64 `json:"pitch_deg"`
	RollDeg  float64 `json:"roll_deg"`

	// HeadingDeg is in [0,360). HeadingValid is false without a magnetometer.
	HeadingDeg   float64 `json:"heading_deg"`
	HeadingValid bool    `json:"heading_valid"`
	Direction    string  `json:"direction,omitempty"`

	MagneticFieldUT      float64 `json:"magnetic_field_ut"`
	MagneticInterference bool    `json:"magnetic_interference"`

	At time.Time `json:"at"`
}

var Empty = Sample{}

type Sources struct {
	Accel sensor.Source[sensor.Acceleration]
	Gyro  sensor.Source[sensor.AngularRate]
	Mag   sensor.Source[sensor.MagneticField]
}

// Service joins the accelerometer, gyro and magnetometer streams. The
// accelerometer drives the update cadence; gyro and magnetometer values are
// latched and used as "latest".
type Service struct {
	src Sources
	out *stream.Hub[Sample]
	obs stream.Observer

	runner stream.Runner

	mu             sync.RWMutex
	pitchOffsetDeg float64
	rollOffsetDeg  float64
	gyroBias       sensor.Vector

	zeroDriftCh chan chan error
}

func New(src Sources, obs stream.Observer) *Service {
	if obs == nil {
		obs = stream.NopObserver{}
	}
	return &Service{
		src:         src,
		out:         stream.NewHubWith(Empty),
		obs:         obs,
		zeroDriftCh: make(chan chan error, 1),
	}
}

// Output is the attitude snapshot stream.
func (s *Service) Output() *stream.Hub[Sample] { return s.out }

func (s *Service) Snapshot() Sample {
	v, _ := s.out.Latest()
	return v
}

func (s *Service) Start(ctx context.Context) error {
	if s == nil {
		return fmt.Errorf("ahrs: service is nil")
	}
	if s.src.Accel == nil {
		return fmt.Errorf("ahrs: accelerometer source is required")
	}
	if err := s.runner.Start(ctx, s.run); err != nil {
		return fmt.Errorf("ahrs: %w", err)
	}
	return nil
}

// Stop unsubscribes from all sources and discards filter state, level
// offsets and gyro bias. The published snapshot returns to Empty.
func (s *Service) Stop() {
	if s == nil {
		return
	}
	s.runner.Stop()
	s.mu.Lock()
	s.pitchOffsetDeg, s.rollOffsetDeg = 0, 0
	s.gyroBias = sensor.Vector{}
	s.mu.Unlock()
	s.out.Reset(Empty)
}

// SetLevel re-zeros pitch/roll so the current attitude reads (0,0).
// The offset lives until Stop.
func (s *Service) SetLevel() error {
	if s == nil {
		return fmt.Errorf("ahrs: service is nil")
	}
	if !s.runner.Running() {
		return fmt.Errorf("ahrs: not running")
	}
	cur := s.Snapshot()
	if cur.At.IsZero() {
		return fmt.Errorf("ahrs: no attitude yet")
	}
	s.mu.Lock()
	defer s.mu.Unlock()
	s.pitchOffsetDeg -= cur.PitchDeg
	s.rollOffsetDeg -= cur.RollDeg
	return nil
}

// ZeroDrift averages the gyro over ~2 seconds of sample time while the
// device is stationary and subtracts it from subsequent readings.
func (s *Service) ZeroDrift(ctx context.Context) error {
	if s == nil {
		return fmt.Errorf("ahrs: service is nil")
	}
	if s.src.Gyro == nil {
		return fmt.Errorf("ahrs: gyro not available")
	}
	if !s.runner.Running() {
		return fmt.Errorf("ahrs: not running")
	}
	done := make(chan error, 1)
	select {
	case s.zeroDriftCh <- done:
	case <-ctx.Done():
		return ctx.Err()
	default:
		return fmt.Errorf("ahrs: zero drift already in progress")
	}
	select {
	case err := <-done:
		return err
	case <-ctx.Done():
		return ctx.Err()
	}
}

const zeroDriftWindow = 2 * time.Second

func (s *Service) run(ctx context.Context) {
	accID, accCh := s.src.Accel.Subscribe(16)
	defer s.src.Accel.Unsubscribe(accID)

	var gyroCh <-chan sensor.AngularRate
	if s.src.Gyro != nil {
		id, ch := s.src.Gyro.Subscribe(16)
		defer s.src.Gyro.Unsubscribe(id)
		gyroCh = ch
	}
	var magCh <-chan sensor.MagneticField
	if s.src.Mag != nil {
		id, ch := s.src.Mag.Subscribe(16)
		defer s.src.Mag.Unsubscribe(id)
		magCh = ch
	}

	var att AttitudeFilter
	hdg := NewHeadingFilter()

	var gyro sensor.AngularRate
	var haveGyro bool
	var mag sensor.MagneticField
	var haveMag bool

	// Zero drift calibration state.
	var calDone chan error
	var calStart time.Time
	var calSum sensor.Vector
	var calN int

	for {
		select {
		case <-ctx.Done():
			if calDone != nil {
				calDone <- fmt.Errorf("ahrs: stopped during zero drift")
			}
			return
		case done := <-s.zeroDriftCh:
			if calDone != nil {
				done <- fmt.Errorf("ahrs: zero drift already in progress")
				continue
			}
			calDone = done
			calStart = time.Time{}
			calSum = sensor.Vector{}
			calN = 0
		case g, ok := <-gyroCh:
			if !ok {
				gyroCh = nil
				continue
			}
			gyro, haveGyro = g, true
			if calDone != nil {
				if calStart.IsZero() {
					calStart = g.At
				}
				calSum.X += g.X
				calSum.Y += g.Y
				calSum.Z += g.Z
				calN++
				if g.At.Sub(calStart) >= zeroDriftWindow {
					n := float64(calN)
					s.mu.Lock()
					s.gyroBias = sensor.Vector{X: calSum.X / n, Y: calSum.Y / n, Z: calSum.Z / n}
					s.mu.Unlock()
					calDone <- nil
					calDone = nil
				}
			}
		case m, ok := <-magCh:
			if !ok {
				magCh = nil
				continue
			}
			mag, haveMag = m, true
		case a, ok := <-accCh:
			if !ok {
				return
			}
			out, accepted := s.step(&att, hdg, a, gyro, haveGyro, mag, haveMag)
			s.obs.ObserveSample("attitude", accepted)
			if accepted {
				s.out.Publish(out)
			}
		}
	}
}

func (s *Service) step(att *AttitudeFilter, hdg *HeadingFilter, a sensor.Acceleration, g sensor.AngularRate, haveGyro bool, m sensor.MagneticField, haveMag bool) (Sample, bool) {
	s.mu.RLock()
	bias := s.gyroBias
	pitchOff, rollOff := s.pitchOffsetDeg, s.rollOffsetDeg
	s.mu.RUnlock()

	rate := sensor.Vector{X: g.X - bias.X, Y: g.Y - bias.Y, Z: g.Z - bias.Z}
	// A stalled gyro stream must not keep integrating its last rate.
	gyroOK := haveGyro && g.FreshAt(a.At)
	pitch, roll, ok := att.Update(a.Vector, rate, gyroOK, a.At)
	if !ok {
		return Sample{}, false
	}

	out := Sample{
		PitchDeg: pitch + pitchOff,
		RollDeg:  roll + rollOff,
		At:       a.At,
	}
	if haveMag {
		// Tilt compensation uses the raw fused attitude, not the levelled one.
		h, field, hok := hdg.Update(m.Vector, pitch, roll)
		if hok {
			out.HeadingDeg = h
			out.HeadingValid = true
			out.Direction = units.DegreesToDirection(h)
			out.MagneticFieldUT = field
			out.MagneticInterference = Interference(field)
		}
	}
	if !units.Finite(out.PitchDeg, out.RollDeg, out.HeadingDeg, out.MagneticFieldUT) {
		return Sample{}, false
	}
	return out, true
}
