// Package engine wires the estimators to a set of raw sample sources and
// owns their shared lifecycle.
package engine

import (
	"context"
	"errors"
	"fmt"
	"log"
	"sync"
	"time"

	"golang.org/x/sync/errgroup"

	"helipad-ng/internal/ahrs"
	"helipad-ng/internal/config"
	"helipad-ng/internal/flightlog"
	"helipad-ng/internal/light"
	"helipad-ng/internal/motion"
	"helipad-ng/internal/position"
	"helipad-ng/internal/pressure"
	"helipad-ng/internal/sensor"
	"helipad-ng/internal/stream"
	"helipad-ng/internal/vsi"
)

type Options struct {
	// Preferences default to config.DefaultPreferences.
	Preferences *config.Preferences
	Observer    stream.Observer
}

type service interface {
	Start(ctx context.Context) error
	Stop()
}

// Engine runs every estimator. Snapshots are safe to read concurrently.
type Engine struct {
	src sensor.Sources

	attitude *ahrs.Service
	motion   *motion.Service
	position *position.Service
	pressure *pressure.Service
	vsi      *vsi.Service
	light    *light.Service

	inject stream.Runner

	mu      sync.Mutex
	running bool
	prefs   config.Preferences
}

func New(src sensor.Sources, opts Options) *Engine {
	obs := opts.Observer
	if obs == nil {
		obs = stream.NopObserver{}
	}
	e := &Engine{
		src:      src,
		attitude: ahrs.New(ahrs.Sources{Accel: src.Accel, Gyro: src.Gyro, Mag: src.Mag}, obs),
		motion:   motion.New(src.Accel, src.Gyro, obs),
		position: position.New(src.Fixes, src.Satellites, obs),
		pressure: pressure.New(src.Pressure, obs),
		vsi:      vsi.New(src.Pressure, obs),
		light:    light.New(src.Light, obs),
	}
	prefs := config.DefaultPreferences()
	if opts.Preferences != nil {
		prefs = *opts.Preferences
	}
	e.applyPreferences(prefs)
	return e
}

func (e *Engine) services() []service {
	out := []service{e.position, e.pressure, e.vsi, e.light}
	// Attitude and motion are driven by the accelerometer.
	if e.src.Accel != nil {
		out = append(out, e.attitude, e.motion)
	}
	return out
}

// Start launches every estimator and the cross-injection loop.
func (e *Engine) Start(ctx context.Context) error {
	e.mu.Lock()
	defer e.mu.Unlock()
	if e.running {
		return fmt.Errorf("engine: already running")
	}
	if e.src.Accel == nil {
		log.Printf("engine: no accelerometer, attitude and motion disabled")
	}

	var g errgroup.Group
	for _, svc := range e.services() {
		g.Go(func() error { return svc.Start(ctx) })
	}
	err := g.Wait()
	if err == nil {
		err = e.inject.Start(ctx, e.runInjection)
	}
	if err != nil {
		e.stopAll()
		return fmt.Errorf("engine: %w", err)
	}
	e.running = true
	log.Printf("engine started sensors=%+v", e.src.Availability())
	return nil
}

// Stop releases every subscription and discards all estimator state. A
// later Start begins from cold.
func (e *Engine) Stop() {
	e.mu.Lock()
	defer e.mu.Unlock()
	if !e.running {
		return
	}
	e.stopAll()
	e.running = false
	log.Printf("engine stopped")
}

func (e *Engine) stopAll() {
	e.inject.Stop()
	var wg sync.WaitGroup
	for _, svc := range []service{e.attitude, e.motion, e.position, e.pressure, e.vsi, e.light} {
		wg.Add(1)
		go func() {
			defer wg.Done()
			svc.Stop()
		}()
	}
	wg.Wait()
}

func (e *Engine) Running() bool {
	e.mu.Lock()
	defer e.mu.Unlock()
	return e.running
}

// runInjection forwards fused heading into the position estimator and GNSS
// altitude into the pressure estimator. Receivers read the latest value on
// their next sample.
func (e *Engine) runInjection(ctx context.Context) {
	attID, attCh := e.attitude.Output().Subscribe(4)
	defer e.attitude.Output().Unsubscribe(attID)
	posID, posCh := e.position.Output().Subscribe(4)
	defer e.position.Output().Unsubscribe(posID)

	for {
		select {
		case <-ctx.Done():
			return
		case a, ok := <-attCh:
			if !ok {
				return
			}
			e.position.SetHeading(a.HeadingDeg, a.HeadingValid)
		case p, ok := <-posCh:
			if !ok {
				return
			}
			// A lost fix keeps the last known altitude as the QNH reference.
			if p.HasFix && p.AltitudeM != 0 {
				e.pressure.SetGPSAltitude(p.AltitudeM)
			}
		}
	}
}

// SetPreferences validates and applies p. Each estimator sees the change on
// its next sample; the night-mode decision is re-evaluated immediately.
func (e *Engine) SetPreferences(p config.Preferences) error {
	if err := config.ValidatePreferences(p); err != nil {
		return err
	}
	e.applyPreferences(p)
	return nil
}

func (e *Engine) applyPreferences(p config.Preferences) {
	e.mu.Lock()
	e.prefs = p
	e.mu.Unlock()
	e.vsi.SetSinkThreshold(p.SinkRateWarningFpm)
	e.light.SetThreshold(p.NightThresholdLux)
	e.pressure.SetOAT(p.OATCelsius)
	e.pressure.SetFieldElevation(p.FieldElevationM)
	e.motion.SetHardLandingExcessG(p.HardLandingExcessG)
}

func (e *Engine) Preferences() config.Preferences {
	e.mu.Lock()
	defer e.mu.Unlock()
	return e.prefs
}

func (e *Engine) Availability() sensor.Availability { return e.src.Availability() }

func (e *Engine) Attitude() ahrs.Sample             { return e.attitude.Snapshot() }
func (e *Engine) Position() position.Sample         { return e.position.Snapshot() }
func (e *Engine) GnssHealth() position.HealthSample { return e.position.HealthSnapshot() }
func (e *Engine) Pressure() pressure.Sample         { return e.pressure.Snapshot() }
func (e *Engine) VerticalSpeed() vsi.Sample         { return e.vsi.Snapshot() }
func (e *Engine) Motion() motion.Sample             { return e.motion.Snapshot() }
func (e *Engine) Light() light.Sample               { return e.light.Snapshot() }

// Hubs exposes the update stream of every estimator.
type Hubs struct {
	Attitude      *stream.Hub[ahrs.Sample]
	Position      *stream.Hub[position.Sample]
	GnssHealth    *stream.Hub[position.HealthSample]
	Pressure      *stream.Hub[pressure.Sample]
	VerticalSpeed *stream.Hub[vsi.Sample]
	Motion        *stream.Hub[motion.Sample]
	Light         *stream.Hub[light.Sample]
}

func (e *Engine) Hubs() Hubs {
	return Hubs{
		Attitude:      e.attitude.Output(),
		Position:      e.position.Output(),
		GnssHealth:    e.position.Health(),
		Pressure:      e.pressure.Output(),
		VerticalSpeed: e.vsi.Output(),
		Motion:        e.motion.Output(),
		Light:         e.light.Output(),
	}
}

// SetLevel zeroes the current pitch and roll.
func (e *Engine) SetLevel() error { return e.attitude.SetLevel() }

// ZeroDrift calibrates the gyro bias; the aircraft must be still.
func (e *Engine) ZeroDrift(ctx context.Context) error { return e.attitude.ZeroDrift(ctx) }

// RunLogger feeds rec once per interval until ctx is done. Ticks without
// an active session are skipped silently.
func (e *Engine) RunLogger(ctx context.Context, interval time.Duration, rec flightlog.Recorder) error {
	if rec == nil {
		return fmt.Errorf("engine: recorder is nil")
	}
	if interval <= 0 {
		interval = time.Second
	}
	t := time.NewTicker(interval)
	defer t.Stop()

	var lastErr string
	for {
		select {
		case <-ctx.Done():
			return nil
		case <-t.C:
			err := e.LogOnce(rec)
			switch {
			case err == nil, errors.Is(err, flightlog.ErrNoActiveSession):
				lastErr = ""
			case err.Error() != lastErr:
				lastErr = err.Error()
				log.Printf("flight log record failed: %v", err)
			}
		}
	}
}

// LogOnce records the current snapshots as one row.
func (e *Engine) LogOnce(rec flightlog.Recorder) error {
	pos := e.Position()
	vs := e.VerticalSpeed()
	mot := e.Motion()
	return rec.Record(pos.AltitudeM, pos.GroundSpeedKt, pos.HeadingDeg, vs.SmoothedFpm, mot.NetG())
}
