// Package safeguards provides concurrency limits and panic recovery used by
// the write orchestration components.
package safeguards

import (
	"context"
	"fmt"
	"runtime/debug"
	"sync"

	"github.com/sirupsen/logrus"
)

// OperationGuard limits how many instances of an operation run at once.
// The catalog refresher uses a one-slot guard so a slow refresh is never
// overlapped by the next tick.
type OperationGuard struct {
	mu        sync.Mutex
	semaphore chan struct{}
	activeOps int
	logger    logrus.FieldLogger
}

// GuardConfig configures the operation guard.
type GuardConfig struct {
	// MaxConcurrent is the maximum number of concurrent operations (default: 1)
	MaxConcurrent int
	// Logger for logging operations
	Logger logrus.FieldLogger
}

// NewOperationGuard creates a new operation guard.
func NewOperationGuard(cfg GuardConfig) *OperationGuard {
	if cfg.MaxConcurrent <= 0 {
		cfg.MaxConcurrent = 1
	}
	if cfg.Logger == nil {
		cfg.Logger = logrus.StandardLogger()
	}
	return &OperationGuard{
		semaphore: make(chan struct{}, cfg.MaxConcurrent),
		logger:    cfg.Logger.WithField("component", "operation-guard"),
	}
}

// Acquire blocks until a slot is free or ctx is done.
func (g *OperationGuard) Acquire(ctx context.Context, opName string) error {
	select {
	case g.semaphore <- struct{}{}:
	case <-ctx.Done():
		return fmt.Errorf("context cancelled while waiting for operation slot: %w", ctx.Err())
	}
	g.acquired(opName)
	return nil
}

// TryAcquire takes a slot without waiting. It reports false when all slots
// are busy.
func (g *OperationGuard) TryAcquire(opName string) bool {
	select {
	case g.semaphore <- struct{}{}:
		g.acquired(opName)
		return true
	default:
		g.logger.WithField("operation", opName).Debug("operation slot busy, skipping")
		return false
	}
}

func (g *OperationGuard) acquired(opName string) {
	g.mu.Lock()
	g.activeOps++
	activeOps := g.activeOps
	g.mu.Unlock()

	g.logger.WithFields(logrus.Fields{
		"operation":  opName,
		"active_ops": activeOps,
	}).Debug("acquired operation slot")
}

// Release releases an operation slot.
func (g *OperationGuard) Release(opName string) {
	g.mu.Lock()
	g.activeOps--
	activeOps := g.activeOps
	g.mu.Unlock()

	<-g.semaphore

	g.logger.WithFields(logrus.Fields{
		"operation":  opName,
		"active_ops": activeOps,
	}).Debug("released operation slot")
}

// ActiveOperations returns the number of active operations.
func (g *OperationGuard) ActiveOperations() int {
	g.mu.Lock()
	defer g.mu.Unlock()
	return g.activeOps
}

// RecoverableOperation wraps a function with panic recovery.
func RecoverableOperation(logger logrus.FieldLogger, opName string, fn func() error) (err error) {
	defer func() {
		if r := recover(); r != nil {
			stack := debug.Stack()
			logger.WithFields(logrus.Fields{
				"operation": opName,
				"panic":     r,
				"stack":     string(stack),
			}).Error("recovered from panic in operation")
			err = fmt.Errorf("panic in operation %s: %v", opName, r)
		}
	}()
	return fn()
}

// Protect runs fn under RecoverableOperation and drops the error. Observer
// callbacks use it so one faulty subscriber cannot take down an emitter.
func Protect(logger logrus.FieldLogger, opName string, fn func()) {
	_ = RecoverableOperation(logger, opName, func() error {
		fn()
		return nil
	})
}
