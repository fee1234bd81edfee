package stream

import (
	"context"
	"fmt"
	"sync"
)

// Runner owns the goroutine of one long-lived service so it can be stopped
// and started again. Stop waits for the goroutine to return.
type Runner struct {
	mu     sync.Mutex
	cancel context.CancelFunc
	wg     sync.WaitGroup
}

// Start launches fn in a goroutine with a child context. It fails if the
// runner is already active.
func (r *Runner) Start(ctx context.Context, fn func(ctx context.Context)) error {
	if ctx == nil {
		return fmt.Errorf("ctx is nil")
	}
	r.mu.Lock()
	defer r.mu.Unlock()
	if r.cancel != nil {
		return fmt.Errorf("already running")
	}
	child, cancel := context.WithCancel(ctx)
	r.cancel = cancel
	r.wg.Add(1)
	go func() {
		defer r.wg.Done()
		fn(child)
	}()
	return nil
}

// Stop cancels the goroutine and blocks until it exits. Safe to call when
// not running.
func (r *Runner) Stop() {
	r.mu.Lock()
	cancel := r.cancel
	r.cancel = nil
	r.mu.Unlock()
	if cancel != nil {
		cancel()
	}
	r.wg.Wait()
}

func (r *Runner) Running() bool {
	r.mu.Lock()
	defer r.mu.Unlock()
	return r.cancel != nil
}

// Observer is notified once per raw sample an estimator consumes.
// accepted is false when the sample was skipped (sentinel, short interval,
// non-finite result).
type Observer interface {
	ObserveSample(estimator string, accepted bool)
}

// NopObserver discards observations.
type NopObserver struct{}

func (NopObserver) ObserveSample(string, bool) {}
