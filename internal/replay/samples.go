package replay

import (
	"context"
	"encoding/json"
	"fmt"
	"log"
	"os"
	"sync"
	"time"

	"helipad-ng/internal/sensor"
	"helipad-ng/internal/stream"
)

// Kind names the sensor a record came from.
type Kind string

const (
	KindAccel      Kind = "accel"
	KindGyro       Kind = "gyro"
	KindMag        Kind = "mag"
	KindPressure   Kind = "pressure"
	KindFix        Kind = "fix"
	KindSatellites Kind = "sats"
	KindLight      Kind = "light"
)

func (k Kind) Valid() bool {
	switch k {
	case KindAccel, KindGyro, KindMag, KindPressure, KindFix, KindSatellites, KindLight:
		return true
	}
	return false
}

// Recorder writes every sample of a source set to a log.
type Recorder struct {
	w   *Writer
	src sensor.Sources

	runner  stream.Runner
	mu      sync.Mutex
	written int
	err     error
}

func NewRecorder(w *Writer, src sensor.Sources) *Recorder {
	return &Recorder{w: w, src: src}
}

func (r *Recorder) Start(ctx context.Context) error {
	if r.w == nil {
		return fmt.Errorf("replay: writer is nil")
	}
	if err := r.runner.Start(ctx, r.run); err != nil {
		return fmt.Errorf("replay: %w", err)
	}
	return nil
}

// Close stops recording and flushes the log. It returns the first write error.
func (r *Recorder) Close() error {
	r.runner.Stop()
	closeErr := r.w.Close()
	r.mu.Lock()
	defer r.mu.Unlock()
	if r.err != nil {
		return r.err
	}
	return closeErr
}

func (r *Recorder) write(kind Kind, at time.Time, v any) {
	r.mu.Lock()
	defer r.mu.Unlock()
	if r.err != nil {
		return
	}
	if err := r.w.WriteSample(at, kind, v); err != nil {
		r.err = err
		log.Printf("replay record failed kind=%s: %v", kind, err)
		return
	}
	r.written++
}

// Written returns the number of samples recorded so far.
func (r *Recorder) Written() int {
	r.mu.Lock()
	defer r.mu.Unlock()
	return r.written
}

func forward[T any](ctx context.Context, wg *sync.WaitGroup, src sensor.Source[T], fn func(T)) {
	if src == nil {
		return
	}
	id, ch := src.Subscribe(64)
	wg.Add(1)
	go func() {
		defer wg.Done()
		defer src.Unsubscribe(id)
		for {
			select {
			case <-ctx.Done():
				return
			case v, ok := <-ch:
				if !ok {
					return
				}
				fn(v)
			}
		}
	}()
}

func (r *Recorder) run(ctx context.Context) {
	var wg sync.WaitGroup
	// Records are timed by the wall clock at receipt, so replay reproduces
	// arrival order across sensors.
	forward(ctx, &wg, r.src.Accel, func(v sensor.Acceleration) { r.write(KindAccel, time.Now(), v) })
	forward(ctx, &wg, r.src.Gyro, func(v sensor.AngularRate) { r.write(KindGyro, time.Now(), v) })
	forward(ctx, &wg, r.src.Mag, func(v sensor.MagneticField) { r.write(KindMag, time.Now(), v) })
	forward(ctx, &wg, r.src.Pressure, func(v sensor.Pressure) { r.write(KindPressure, time.Now(), v) })
	forward(ctx, &wg, r.src.Fixes, func(v sensor.Fix) { r.write(KindFix, time.Now(), v) })
	forward(ctx, &wg, r.src.Satellites, func(v sensor.SatelliteStatus) { r.write(KindSatellites, time.Now(), v) })
	forward(ctx, &wg, r.src.Light, func(v sensor.Light) { r.write(KindLight, time.Now(), v) })
	wg.Wait()
}

// Player publishes a recorded log onto hubs. Sample timestamps are
// rebased onto the time playback started.
type Player struct {
	Accel      *stream.Hub[sensor.Acceleration]
	Gyro       *stream.Hub[sensor.AngularRate]
	Mag        *stream.Hub[sensor.MagneticField]
	Pressure   *stream.Hub[sensor.Pressure]
	Fixes      *stream.Hub[sensor.Fix]
	Satellites *stream.Hub[sensor.SatelliteStatus]
	Light      *stream.Hub[sensor.Light]

	records []Record
	kinds   map[Kind]bool
	speed   float64
	loop    bool
	sleeper Sleeper

	runner stream.Runner
	mu     sync.Mutex
	err    error
}

// Open loads a replay log.
func Open(path string, speed float64, loop bool) (*Player, error) {
	f, err := os.Open(path)
	if err != nil {
		return nil, err
	}
	defer f.Close()
	recs, err := NewReader(f).ReadAll()
	if err != nil {
		return nil, fmt.Errorf("replay %s: %w", path, err)
	}
	return NewPlayer(recs, speed, loop)
}

func NewPlayer(recs []Record, speed float64, loop bool) (*Player, error) {
	if speed <= 0 {
		return nil, fmt.Errorf("replay speed must be > 0")
	}
	kinds := make(map[Kind]bool)
	for _, r := range recs {
		if !r.IsStart() {
			kinds[r.Kind] = true
		}
	}
	if len(kinds) == 0 {
		return nil, fmt.Errorf("replay log has no samples")
	}
	return &Player{
		Accel:      stream.NewHub[sensor.Acceleration](),
		Gyro:       stream.NewHub[sensor.AngularRate](),
		Mag:        stream.NewHub[sensor.MagneticField](),
		Pressure:   stream.NewHub[sensor.Pressure](),
		Fixes:      stream.NewHub[sensor.Fix](),
		Satellites: stream.NewHub[sensor.SatelliteStatus](),
		Light:      stream.NewHub[sensor.Light](),
		records:    recs,
		kinds:      kinds,
		speed:      speed,
		loop:       loop,
	}, nil
}

// Sources exposes only the sensors present in the log.
func (p *Player) Sources() sensor.Sources {
	var out sensor.Sources
	if p.kinds[KindAccel] {
		out.Accel = p.Accel
	}
	if p.kinds[KindGyro] {
		out.Gyro = p.Gyro
	}
	if p.kinds[KindMag] {
		out.Mag = p.Mag
	}
	if p.kinds[KindPressure] {
		out.Pressure = p.Pressure
	}
	if p.kinds[KindFix] {
		out.Fixes = p.Fixes
	}
	if p.kinds[KindSatellites] {
		out.Satellites = p.Satellites
	}
	if p.kinds[KindLight] {
		out.Light = p.Light
	}
	return out
}

func (p *Player) Start(ctx context.Context) error {
	if err := p.runner.Start(ctx, p.run); err != nil {
		return fmt.Errorf("replay: %w", err)
	}
	return nil
}

func (p *Player) Close() { p.runner.Stop() }

// Err returns the error that ended playback, if any.
func (p *Player) Err() error {
	p.mu.Lock()
	defer p.mu.Unlock()
	return p.err
}

type ctxSleeper struct {
	ctx context.Context
}

func (s ctxSleeper) Sleep(d time.Duration) {
	t := time.NewTimer(d)
	defer t.Stop()
	select {
	case <-s.ctx.Done():
	case <-t.C:
	}
}

func (p *Player) run(ctx context.Context) {
	sleeper := p.sleeper
	if sleeper == nil {
		sleeper = ctxSleeper{ctx: ctx}
	}
	log.Printf("replay enabled records=%d speed=%.2f loop=%t", len(p.records), p.speed, p.loop)
	base := time.Now().UTC()
	err := Play(p.records, p.speed, p.loop, sleeper, func(offset time.Duration, r Record) error {
		if err := ctx.Err(); err != nil {
			return err
		}
		return p.publish(base.Add(offset), r)
	})
	if err != nil && ctx.Err() == nil {
		log.Printf("replay stopped: %v", err)
		p.mu.Lock()
		p.err = err
		p.mu.Unlock()
	}
}

func decode[T any](r Record) (T, error) {
	var v T
	if err := json.Unmarshal(r.Payload, &v); err != nil {
		return v, fmt.Errorf("decode %s sample: %w", r.Kind, err)
	}
	return v, nil
}

func (p *Player) publish(at time.Time, r Record) error {
	switch r.Kind {
	case KindAccel:
		v, err := decode[sensor.Acceleration](r)
		if err != nil {
			return err
		}
		v.At = at
		p.Accel.Publish(v)
	case KindGyro:
		v, err := decode[sensor.AngularRate](r)
		if err != nil {
			return err
		}
		v.At = at
		p.Gyro.Publish(v)
	case KindMag:
		v, err := decode[sensor.MagneticField](r)
		if err != nil {
			return err
		}
		v.At = at
		p.Mag.Publish(v)
	case KindPressure:
		v, err := decode[sensor.Pressure](r)
		if err != nil {
			return err
		}
		v.At = at
		p.Pressure.Publish(v)
	case KindFix:
		v, err := decode[sensor.Fix](r)
		if err != nil {
			return err
		}
		v.At = at
		p.Fixes.Publish(v)
	case KindSatellites:
		v, err := decode[sensor.SatelliteStatus](r)
		if err != nil {
			return err
		}
		v.At = at
		p.Satellites.Publish(v)
	case KindLight:
		v, err := decode[sensor.Light](r)
		if err != nil {
			return err
		}
		v.At = at
		p.Light.Publish(v)
	default:
		return fmt.Errorf("unknown sample kind %q", r.Kind)
	}
	return nil
}
