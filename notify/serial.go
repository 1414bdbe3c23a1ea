package notify

import (
	"sync"

	"github.com/sirupsen/logrus"
)

// Serial delivers values to a Hub strictly in the order they were enqueued,
// one at a time, even when producers run on different goroutines or enqueue
// from inside a subscriber.
//
// Producers call Enqueue while holding the lock that guards the state the
// values describe, and Drain after releasing it. Whichever goroutine finds the
// queue idle becomes the drainer; everyone else returns immediately and their
// values are delivered by that drainer.
type Serial[T any] struct {
	*Hub[T]

	mu       sync.Mutex
	queue    []T
	draining bool
}

// NewSerial returns a Serial dispatcher around a new Hub.
func NewSerial[T any](name string, logger logrus.FieldLogger) *Serial[T] {
	return &Serial[T]{Hub: NewHub[T](name, logger)}
}

// Enqueue appends values for delivery by the next Drain.
func (s *Serial[T]) Enqueue(vs ...T) {
	s.mu.Lock()
	s.queue = append(s.queue, vs...)
	s.mu.Unlock()
}

// Drain delivers queued values unless another goroutine is already doing so.
func (s *Serial[T]) Drain() {
	s.mu.Lock()
	if s.draining {
		s.mu.Unlock()
		return
	}
	s.draining = true
	for len(s.queue) > 0 {
		v := s.queue[0]
		s.queue = s.queue[1:]
		s.mu.Unlock()
		s.Hub.Emit(v)
		s.mu.Lock()
	}
	s.draining = false
	s.mu.Unlock()
}
