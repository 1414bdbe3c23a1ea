// Package notify implements explicit observer lists.
//
// Each emitting component owns its Hub values. Consumers register with
// Subscribe and keep the returned cancel func for their own lifetime; there is
// no global event bus.
package notify

import (
	"sync"

	"github.com/benbjohnson/immutable"
	"github.com/sirupsen/logrus"

	"github.com/yakeru/usbwriter/safeguards"
)

// Hub is an ordered list of subscribers for values of type T.
//
// Subscribers are kept in an immutable sorted map keyed by registration order.
// Emit takes a snapshot under the lock and calls subscribers outside it, so a
// subscriber may Subscribe, cancel or Emit again without deadlocking.
type Hub[T any] struct {
	name   string
	logger logrus.FieldLogger

	mu   sync.Mutex
	next int
	subs *immutable.SortedMap[int, func(T)]
}

// NewHub returns an empty hub. name appears in panic logs.
func NewHub[T any](name string, logger logrus.FieldLogger) *Hub[T] {
	if logger == nil {
		logger = logrus.StandardLogger()
	}
	return &Hub[T]{
		name:   name,
		logger: logger,
		subs:   immutable.NewSortedMap[int, func(T)](nil),
	}
}

// Subscribe registers fn. The returned func removes it and is safe to call
// more than once.
func (h *Hub[T]) Subscribe(fn func(T)) (cancel func()) {
	h.mu.Lock()
	id := h.next
	h.next++
	h.subs = h.subs.Set(id, fn)
	h.mu.Unlock()

	var once sync.Once
	return func() {
		once.Do(func() {
			h.mu.Lock()
			h.subs = h.subs.Delete(id)
			h.mu.Unlock()
		})
	}
}

// Emit delivers v to every subscriber in registration order.
func (h *Hub[T]) Emit(v T) {
	h.mu.Lock()
	snapshot := h.subs
	h.mu.Unlock()

	itr := snapshot.Iterator()
	for !itr.Done() {
		_, fn, _ := itr.Next()
		safeguards.Protect(h.logger, h.name, func() { fn(v) })
	}
}

// Len returns the number of subscribers.
func (h *Hub[T]) Len() int {
	h.mu.Lock()
	defer h.mu.Unlock()
	return h.subs.Len()
}
