package metrics

import (
	"time"

	"github.com/sirupsen/logrus"
)

// Timer tracks operation timing for performance analysis.
type Timer struct {
	name      string
	startTime time.Time
	logger    logrus.FieldLogger
	observe   func(time.Duration)
}

// start begins timing an operation.
func start(name string, logger logrus.FieldLogger) *Timer {
	return &Timer{
		name:      name,
		startTime: time.Now(),
		logger:    logger,
	}
}

// StartBackend begins timing a backend call; the duration is recorded in the
// latency histogram under endpoint when the timer stops.
func (m *Metrics) StartBackend(endpoint string, logger logrus.FieldLogger) *Timer {
	t := start(endpoint, logger)
	t.observe = func(d time.Duration) { m.ObserveBackend(endpoint, d) }
	return t
}

// StopWithThreshold records the duration and logs it, as a warning when it
// exceeds threshold.
func (t *Timer) StopWithThreshold(threshold time.Duration) time.Duration {
	duration := time.Since(t.startTime)
	if t.observe != nil {
		t.observe(duration)
	}
	fields := logrus.Fields{
		"operation":   t.name,
		"duration_ms": duration.Milliseconds(),
	}
	if t.logger != nil {
		if duration > threshold {
			t.logger.WithFields(fields).Warn("operation exceeded threshold")
		} else {
			t.logger.WithFields(fields).Debug("operation completed")
		}
	}
	return duration
}
