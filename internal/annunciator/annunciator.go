// Package annunciator drives a warning lamp or buzzer on a GPIO line while
// a sink-rate warning is active, and for a hold period after a hard
// landing or after the warning clears.
package annunciator

import (
	"context"
	"errors"
	"fmt"
	"log"
	"sync"
	"time"

	"helipad-ng/internal/motion"
	"helipad-ng/internal/sensor"
	"helipad-ng/internal/vsi"
)

const (
	ReasonSinkRate    = "sink_rate"
	ReasonHardLanding = "hard_landing"
)

// Line is a digital output. 1 asserts.
type Line interface {
	SetValue(v int) error
	Close() error
}

type OutputObserver interface {
	ObserveOutput(output string, err error)
}

// Status is reported on /api/status.
type Status struct {
	Asserted  bool      `json:"asserted"`
	Reason    string    `json:"reason,omitempty"`
	Since     time.Time `json:"since,omitempty"`
	LastError string    `json:"last_error,omitempty"`
}

type Annunciator struct {
	line Line
	hold time.Duration
	obs  OutputObserver

	mu        sync.Mutex
	sinking   bool
	holdUntil time.Time
	status    Status
}

func New(line Line, hold time.Duration, obs OutputObserver) *Annunciator {
	if hold <= 0 {
		hold = 3 * time.Second
	}
	return &Annunciator{line: line, hold: hold, obs: obs}
}

func (a *Annunciator) Status() Status {
	a.mu.Lock()
	defer a.mu.Unlock()
	return a.status
}

// SinkRate records the current sink-rate warning state.
func (a *Annunciator) SinkRate(warning bool, now time.Time) error {
	a.mu.Lock()
	defer a.mu.Unlock()
	if a.sinking && !warning {
		a.extendLocked(now)
	}
	a.sinking = warning
	reason := a.status.Reason
	if warning {
		reason = ReasonSinkRate
	}
	return a.applyLocked(now, reason)
}

// HardLanding asserts the output for the hold period.
func (a *Annunciator) HardLanding(now time.Time) error {
	a.mu.Lock()
	defer a.mu.Unlock()
	a.extendLocked(now)
	return a.applyLocked(now, ReasonHardLanding)
}

// Tick releases the output once the hold period has expired.
func (a *Annunciator) Tick(now time.Time) error {
	a.mu.Lock()
	defer a.mu.Unlock()
	return a.applyLocked(now, a.status.Reason)
}

func (a *Annunciator) extendLocked(now time.Time) {
	if until := now.Add(a.hold); until.After(a.holdUntil) {
		a.holdUntil = until
	}
}

func (a *Annunciator) applyLocked(now time.Time, reason string) error {
	want := a.sinking || now.Before(a.holdUntil)
	if !want {
		reason = ""
	}
	if want == a.status.Asserted && reason == a.status.Reason {
		return nil
	}
	if want != a.status.Asserted {
		v := 0
		if want {
			v = 1
		}
		err := a.line.SetValue(v)
		if a.obs != nil {
			a.obs.ObserveOutput("annunciator", err)
		}
		if err != nil {
			a.status.LastError = err.Error()
			return fmt.Errorf("annunciator: set line: %w", err)
		}
		a.status.Asserted = want
		a.status.Since = now
		if want {
			log.Printf("annunciator asserted reason=%s", reason)
		} else {
			log.Printf("annunciator released")
		}
	}
	a.status.Reason = reason
	return nil
}

// Run follows the vertical-speed and motion streams until ctx is done,
// then releases and closes the line.
func (a *Annunciator) Run(ctx context.Context, vs sensor.Source[vsi.Sample], mot sensor.Source[motion.Sample]) error {
	if vs == nil && mot == nil {
		return errors.New("annunciator: no inputs")
	}
	var vc <-chan vsi.Sample
	var mc <-chan motion.Sample
	if vs != nil {
		id, ch := vs.Subscribe(16)
		defer vs.Unsubscribe(id)
		vc = ch
	}
	if mot != nil {
		id, ch := mot.Subscribe(64)
		defer mot.Unsubscribe(id)
		mc = ch
	}

	tick := a.hold / 10
	if tick < 10*time.Millisecond {
		tick = 10 * time.Millisecond
	}
	t := time.NewTicker(tick)
	defer t.Stop()
	defer func() {
		a.mu.Lock()
		a.sinking = false
		a.holdUntil = time.Time{}
		_ = a.applyLocked(time.Now(), "")
		a.mu.Unlock()
		_ = a.line.Close()
	}()

	var lastErr string
	report := func(err error) {
		switch {
		case err != nil && err.Error() != lastErr:
			log.Printf("annunciator: %v", err)
			lastErr = err.Error()
		case err == nil:
			lastErr = ""
		}
	}
	for {
		select {
		case <-ctx.Done():
			return nil
		case s, ok := <-vc:
			if !ok {
				vc = nil
				continue
			}
			report(a.SinkRate(s.SinkRateWarning, time.Now()))
		case m, ok := <-mc:
			if !ok {
				mc = nil
				continue
			}
			if m.HardLanding {
				report(a.HardLanding(time.Now()))
			}
		case now := <-t.C:
			report(a.Tick(now))
		}
	}
}
