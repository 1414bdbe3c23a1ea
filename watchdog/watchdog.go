// Package watchdog forces completion of a write that stalls just short of
// 100 percent.
//
// Some backends never report "completed" after the final flush; the
// watchdog synthesizes the terminal sample so the session can finish.
package watchdog

import (
	"sync"
	"time"

	"github.com/sirupsen/logrus"

	"github.com/yakeru/usbwriter"
	"github.com/yakeru/usbwriter/clock"
	"github.com/yakeru/usbwriter/metrics"
	"github.com/yakeru/usbwriter/notify"
	"github.com/yakeru/usbwriter/status"
)

// PhaseStall marks samples synthesized by the watchdog.
const PhaseStall = "stall"

// State of the watchdog.
type State int

const (
	Idle State = iota
	Armed
	Fired
)

func (s State) String() string {
	switch s {
	case Armed:
		return "armed"
	case Fired:
		return "fired"
	default:
		return "idle"
	}
}

// Config holds watchdog configuration.
type Config struct {
	// ArmAt is the lowest progress that arms the watchdog.
	ArmAt int
	// FinalAt switches to FinalThreshold.
	FinalAt int

	Threshold      time.Duration
	FinalThreshold time.Duration

	Clock   clock.Clock
	Logger  logrus.FieldLogger
	Metrics *metrics.Metrics
}

// DefaultConfig returns the standard stall thresholds.
func DefaultConfig() Config {
	return Config{
		ArmAt:          95,
		FinalAt:        99,
		Threshold:      60 * time.Second,
		FinalThreshold: 20 * time.Second,
	}
}

// Watchdog is safe for concurrent use.
type Watchdog struct {
	cfg    Config
	logger logrus.FieldLogger
	fired  *notify.Hub[usbwriter.ProgressSample]

	mu       sync.Mutex
	state    State
	session  string
	progress int
	gen      uint64
	timer    clock.Timer
}

// New returns an idle watchdog.
func New(cfg Config) *Watchdog {
	d := DefaultConfig()
	if cfg.ArmAt <= 0 {
		cfg.ArmAt = d.ArmAt
	}
	if cfg.FinalAt <= 0 {
		cfg.FinalAt = d.FinalAt
	}
	if cfg.Threshold <= 0 {
		cfg.Threshold = d.Threshold
	}
	if cfg.FinalThreshold <= 0 {
		cfg.FinalThreshold = d.FinalThreshold
	}
	cfg.Clock = clock.OrReal(cfg.Clock)
	if cfg.Logger == nil {
		cfg.Logger = logrus.StandardLogger()
	}
	logger := cfg.Logger.WithField("component", "stall-watchdog")
	return &Watchdog{
		cfg:    cfg,
		logger: logger,
		fired:  notify.NewHub[usbwriter.ProgressSample]("stall-watchdog", logger),
	}
}

// Subscribe registers fn for synthesized completion samples.
func (w *Watchdog) Subscribe(fn func(usbwriter.ProgressSample)) (cancel func()) {
	return w.fired.Subscribe(fn)
}

// Observe feeds the progress of a normal sample of sessionID. The same
// progress of the same session while armed keeps the running timer; anything
// else disarms and re-evaluates. A fired completion carries sessionID.
func (w *Watchdog) Observe(sessionID string, progress int) {
	w.mu.Lock()
	defer w.mu.Unlock()

	if w.state == Armed && w.progress == progress && w.session == sessionID {
		return
	}
	w.stopLocked()
	if progress < w.cfg.ArmAt {
		return
	}

	threshold := w.cfg.Threshold
	if progress >= w.cfg.FinalAt {
		threshold = w.cfg.FinalThreshold
	}
	w.state = Armed
	w.session = sessionID
	w.progress = progress
	gen := w.gen
	w.timer = w.cfg.Clock.AfterFunc(threshold, func() { w.fire(gen) })

	w.logger.WithFields(logrus.Fields{
		"session_id":   sessionID,
		"progress":     progress,
		"threshold_ms": threshold.Milliseconds(),
	}).Debug("stall watchdog armed")
}

// Cancel disarms the watchdog. It is idempotent. A fire already past its
// generation check still delivers; subscribers must tolerate that.
func (w *Watchdog) Cancel() {
	w.mu.Lock()
	defer w.mu.Unlock()
	w.stopLocked()
}

func (w *Watchdog) stopLocked() {
	if w.timer != nil {
		w.timer.Stop()
		w.timer = nil
	}
	w.gen++
	w.state = Idle
	w.session = ""
	w.progress = 0
}

// State returns the current state and, when armed, the armed progress.
func (w *Watchdog) State() (State, int) {
	w.mu.Lock()
	defer w.mu.Unlock()
	return w.state, w.progress
}

func (w *Watchdog) fire(gen uint64) {
	w.mu.Lock()
	if gen != w.gen || w.state != Armed {
		w.mu.Unlock()
		return
	}
	w.state = Fired
	stalledAt := w.progress
	session := w.session
	w.timer = nil
	w.mu.Unlock()

	w.cfg.Metrics.StallFired()
	w.logger.WithFields(logrus.Fields{
		"session_id": session,
		"progress":   stalledAt,
	}).Warn("progress stalled near completion, forcing completion")
	w.fired.Emit(usbwriter.ProgressSample{Progress: 100, Status: status.Completed, Phase: PhaseStall, SessionID: session})
}
