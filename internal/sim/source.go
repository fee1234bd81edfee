package sim

import (
	"context"
	"fmt"
	"log"
	"time"

	"helipad-ng/internal/sensor"
	"helipad-ng/internal/stream"
)

// Rates for the synthetic sensors. Zero fields take the defaults.
type Rates struct {
	IMU      time.Duration // accel, gyro and mag; default 20ms
	Pressure time.Duration // default 100ms
	GNSS     time.Duration // fix, satellites and light; default 1s
}

func (r Rates) withDefaults() Rates {
	if r.IMU <= 0 {
		r.IMU = 20 * time.Millisecond
	}
	if r.Pressure <= 0 {
		r.Pressure = 100 * time.Millisecond
	}
	if r.GNSS <= 0 {
		r.GNSS = time.Second
	}
	return r
}

// Source publishes synthetic sensor samples from a Model onto hubs, paced by
// the wall clock.
type Source struct {
	Model Model
	Env   Environment
	Rates Rates

	Accel      *stream.Hub[sensor.Acceleration]
	Gyro       *stream.Hub[sensor.AngularRate]
	Mag        *stream.Hub[sensor.MagneticField]
	Pressure   *stream.Hub[sensor.Pressure]
	Fixes      *stream.Hub[sensor.Fix]
	Satellites *stream.Hub[sensor.SatelliteStatus]
	Light      *stream.Hub[sensor.Light]

	runner stream.Runner
}

func NewSource(m Model, env Environment, rates Rates) *Source {
	return &Source{
		Model:      m,
		Env:        env,
		Rates:      rates.withDefaults(),
		Accel:      stream.NewHub[sensor.Acceleration](),
		Gyro:       stream.NewHub[sensor.AngularRate](),
		Mag:        stream.NewHub[sensor.MagneticField](),
		Pressure:   stream.NewHub[sensor.Pressure](),
		Fixes:      stream.NewHub[sensor.Fix](),
		Satellites: stream.NewHub[sensor.SatelliteStatus](),
		Light:      stream.NewHub[sensor.Light](),
	}
}

// HasLight reports whether a light sensor is simulated.
func (s *Source) HasLight() bool { return s.Env.LightLux > 0 }

func (s *Source) Start(ctx context.Context) error {
	if s.Model == nil {
		return fmt.Errorf("sim: model is nil")
	}
	if err := s.runner.Start(ctx, s.run); err != nil {
		return fmt.Errorf("sim: %w", err)
	}
	return nil
}

func (s *Source) Close() { s.runner.Stop() }

func (s *Source) run(ctx context.Context) {
	log.Printf("sim enabled imu=%s pressure=%s gnss=%s", s.Rates.IMU, s.Rates.Pressure, s.Rates.GNSS)
	start := time.Now()
	t := time.NewTicker(s.Rates.IMU)
	defer t.Stop()

	var last emitted
	for {
		select {
		case <-ctx.Done():
			return
		case now := <-t.C:
			s.emit(now.Sub(start), now.UTC(), &last)
		}
	}
}

// emitted tracks when each slower sensor last fired.
type emitted struct {
	pressure time.Duration
	gnss     time.Duration
	started  bool
}

// emit publishes the samples due at elapsed.
func (s *Source) emit(elapsed time.Duration, at time.Time, last *emitted) {
	smp := s.Env.Sense(s.Model, elapsed, at)
	// Magnetometer and gyro go first so the accelerometer-driven consumers
	// see them latched.
	s.Gyro.Publish(smp.Gyro)
	s.Mag.Publish(smp.Mag)
	s.Accel.Publish(smp.Accel)

	if !last.started || elapsed-last.pressure >= s.Rates.Pressure {
		s.Pressure.Publish(smp.Pressure)
		last.pressure = elapsed
	}
	if !last.started || elapsed-last.gnss >= s.Rates.GNSS {
		s.Fixes.Publish(smp.Fix)
		s.Satellites.Publish(smp.Satellites)
		if s.HasLight() {
			s.Light.Publish(smp.Light)
		}
		last.gnss = elapsed
	}
	last.started = true
}

// Sources exposes the hubs as raw inputs. The light source is omitted when
// no light level is configured.
func (s *Source) Sources() sensor.Sources {
	out := sensor.Sources{
		Accel:      s.Accel,
		Gyro:       s.Gyro,
		Mag:        s.Mag,
		Pressure:   s.Pressure,
		Fixes:      s.Fixes,
		Satellites: s.Satellites,
	}
	if s.HasLight() {
		out.Light = s.Light
	}
	return out
}
