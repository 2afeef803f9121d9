package pubsub

import (
	"sync"
)

// Hub fans values out to subscribers. Publish never blocks: a subscriber
// whose buffer is full loses its oldest queued value.
type Hub[T any] struct {
	mu      sync.Mutex
	subs    map[*Subscription[T]]struct{}
	last    T
	hasLast bool
	closed  bool
	dropped uint64
}

type Subscription[T any] struct {
	hub *Hub[T]
	ch  chan T
	// mu serializes deliveries with the close in cancel.
	mu       sync.Mutex
	canceled bool
}

func NewHub[T any]() *Hub[T] {
	return &Hub[T]{subs: make(map[*Subscription[T]]struct{})}
}

// Subscribe registers a subscriber with the given buffer size (minimum 1).
// When replayLast is set and a value was already published, it is queued
// first. On a closed hub the returned channel is already closed.
func (h *Hub[T]) Subscribe(buffer int, replayLast bool) *Subscription[T] {
	if buffer < 1 {
		buffer = 1
	}
	sub := &Subscription[T]{hub: h, ch: make(chan T, buffer)}

	h.mu.Lock()
	defer h.mu.Unlock()
	if h.closed {
		sub.canceled = true
		close(sub.ch)
		return sub
	}
	if replayLast && h.hasLast {
		sub.ch <- h.last
	}
	h.subs[sub] = struct{}{}
	return sub
}

// C is closed when the subscription is canceled or the hub closes.
func (s *Subscription[T]) C() <-chan T {
	return s.ch
}

func (s *Subscription[T]) Cancel() {
	s.hub.mu.Lock()
	delete(s.hub.subs, s)
	s.hub.mu.Unlock()
	s.close()
}

func (s *Subscription[T]) close() {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.canceled {
		return
	}
	s.canceled = true
	close(s.ch)
}

// deliver reports whether an older value had to be dropped.
func (s *Subscription[T]) deliver(v T) bool {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.canceled {
		return false
	}
	select {
	case s.ch <- v:
		return false
	default:
	}
	dropped := false
	select {
	case <-s.ch:
		dropped = true
	default:
	}
	select {
	case s.ch <- v:
	default:
	}
	return dropped
}

func (h *Hub[T]) Publish(v T) {
	h.mu.Lock()
	defer h.mu.Unlock()
	if h.closed {
		return
	}
	h.last = v
	h.hasLast = true
	for sub := range h.subs {
		if sub.deliver(v) {
			h.dropped++
		}
	}
}

// Last returns the most recently published value.
func (h *Hub[T]) Last() (T, bool) {
	h.mu.Lock()
	defer h.mu.Unlock()
	return h.last, h.hasLast
}

// Dropped counts values discarded for slow subscribers.
func (h *Hub[T]) Dropped() uint64 {
	h.mu.Lock()
	defer h.mu.Unlock()
	return h.dropped
}

func (h *Hub[T]) Subscribers() int {
	h.mu.Lock()
	defer h.mu.Unlock()
	return len(h.subs)
}

// Close closes every subscriber channel. Later publishes are ignored.
func (h *Hub[T]) Close() {
	h.mu.Lock()
	if h.closed {
		h.mu.Unlock()
		return
	}
	h.closed = true
	subs := h.subs
	h.subs = make(map[*Subscription[T]]struct{})
	h.mu.Unlock()

	for sub := range subs {
		sub.close()
	}
}
