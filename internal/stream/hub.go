// Package stream fans out values to any number of subscribers and keeps the
// most recent one so late subscribers and pollers get an immediate value.
package stream

import (
	"sync"
	"sync/atomic"
)

// Hub is safe for concurrent use. Published values are copied into each
// subscriber channel; slow subscribers drop values rather than block the
// publisher.
type Hub[T any] struct {
	mu     sync.Mutex
	subs   map[int]chan T
	nextID int

	last atomic.Pointer[T]

	published atomic.Uint64
	dropped   atomic.Uint64
}

func NewHub[T any]() *Hub[T] {
	return &Hub[T]{subs: make(map[int]chan T)}
}

// NewHubWith returns a hub whose Latest is v before anything is published.
func NewHubWith[T any](v T) *Hub[T] {
	h := NewHub[T]()
	h.last.Store(&v)
	return h
}

func (h *Hub[T]) Subscribe(buffer int) (int, <-chan T) {
	if h == nil {
		return 0, nil
	}
	if buffer <= 0 {
		buffer = 2
	}
	ch := make(chan T, buffer)
	h.mu.Lock()
	id := h.nextID
	h.nextID++
	h.subs[id] = ch
	h.mu.Unlock()
	return id, ch
}

func (h *Hub[T]) Unsubscribe(id int) {
	if h == nil {
		return
	}
	h.mu.Lock()
	ch, ok := h.subs[id]
	if ok {
		delete(h.subs, id)
		close(ch)
	}
	h.mu.Unlock()
}

// Publish stores v as the latest value and offers it to every subscriber.
func (h *Hub[T]) Publish(v T) {
	if h == nil {
		return
	}
	h.last.Store(&v)
	h.published.Add(1)
	h.mu.Lock()
	defer h.mu.Unlock()
	for _, ch := range h.subs {
		select {
		case ch <- v:
		default:
			h.dropped.Add(1)
		}
	}
}

// Latest returns the most recent value and whether one exists.
func (h *Hub[T]) Latest() (T, bool) {
	var zero T
	if h == nil {
		return zero, false
	}
	p := h.last.Load()
	if p == nil {
		return zero, false
	}
	return *p, true
}

// Reset restores the latest value to v without notifying subscribers.
func (h *Hub[T]) Reset(v T) {
	if h == nil {
		return
	}
	h.last.Store(&v)
}

func (h *Hub[T]) Subscribers() int {
	if h == nil {
		return 0
	}
	h.mu.Lock()
	defer h.mu.Unlock()
	return len(h.subs)
}

// Stats returns the total number of published values and the number of
// per-subscriber deliveries dropped because a channel was full.
func (h *Hub[T]) Stats() (published, dropped uint64) {
	if h == nil {
		return 0, 0
	}
	return h.published.Load(), h.dropped.Load()
}
