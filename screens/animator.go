package screens

import (
	"sync"
	"time"

	"github.com/yakeru/usbwriter/clock"
)

// Animator backs the exit and enter hooks of a transition. Exit and Enter
// are polled once per tick and report true when the screen is fully hidden
// or shown. Skip abandons any animation of s and leaves it hidden.
type Animator interface {
	Exit(s Screen) bool
	Enter(s Screen) bool
	Skip(s Screen)
}

// Instant is the default animator: every hook is done immediately.
type Instant struct{}

func (Instant) Exit(Screen) bool  { return true }
func (Instant) Enter(Screen) bool { return true }
func (Instant) Skip(Screen)       {}

const (
	DefaultExitDuration  = 200 * time.Millisecond
	DefaultEnterDuration = 300 * time.Millisecond
)

type animKey struct {
	screen Screen
	enter  bool
}

// Timed is a fade animator: a hook is done once its duration has elapsed
// since the first poll.
type Timed struct {
	clock clock.Clock
	exit  time.Duration
	enter time.Duration

	mu      sync.Mutex
	started map[animKey]time.Time
}

// NewTimed returns a Timed animator. Zero durations select the defaults.
func NewTimed(c clock.Clock, exit, enter time.Duration) *Timed {
	if exit <= 0 {
		exit = DefaultExitDuration
	}
	if enter <= 0 {
		enter = DefaultEnterDuration
	}
	return &Timed{
		clock:   clock.OrReal(c),
		exit:    exit,
		enter:   enter,
		started: make(map[animKey]time.Time),
	}
}

func (t *Timed) Exit(s Screen) bool  { return t.poll(animKey{s, false}, t.exit) }
func (t *Timed) Enter(s Screen) bool { return t.poll(animKey{s, true}, t.enter) }

func (t *Timed) Skip(s Screen) {
	t.mu.Lock()
	defer t.mu.Unlock()
	delete(t.started, animKey{s, false})
	delete(t.started, animKey{s, true})
}

// Fraction reports how far the running animation of s is, for rendering.
// It is 1 when nothing is animating.
func (t *Timed) Fraction(s Screen) float64 {
	t.mu.Lock()
	defer t.mu.Unlock()
	now := t.clock.Now()
	for _, k := range []animKey{{s, false}, {s, true}} {
		start, ok := t.started[k]
		if !ok {
			continue
		}
		d := t.exit
		if k.enter {
			d = t.enter
		}
		f := float64(now.Sub(start)) / float64(d)
		if f > 1 {
			f = 1
		}
		return f
	}
	return 1
}

func (t *Timed) poll(k animKey, d time.Duration) bool {
	t.mu.Lock()
	defer t.mu.Unlock()
	now := t.clock.Now()
	start, ok := t.started[k]
	if !ok {
		t.started[k] = now
		return false
	}
	if now.Sub(start) < d {
		return false
	}
	delete(t.started, k)
	return true
}
