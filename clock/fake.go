package clock

import (
	"sort"
	"sync"
	"time"
)

// Fake is a manually advanced Clock. Callbacks run synchronously on the
// goroutine calling Advance, in deadline order, including callbacks scheduled
// by other callbacks when their deadline falls inside the advanced window.
type Fake struct {
	mu     sync.Mutex
	now    time.Time
	seq    uint64
	timers []*fakeTimer
}

// NewFake returns a Fake clock starting at start.
func NewFake(start time.Time) *Fake {
	return &Fake{now: start}
}

type fakeTimer struct {
	c     *Fake
	when  time.Time
	seq   uint64
	f     func()
	fired bool
}

func (f *Fake) Now() time.Time {
	f.mu.Lock()
	defer f.mu.Unlock()
	return f.now
}

func (f *Fake) AfterFunc(d time.Duration, fn func()) Timer {
	f.mu.Lock()
	defer f.mu.Unlock()
	if d < 0 {
		d = 0
	}
	f.seq++
	t := &fakeTimer{c: f, when: f.now.Add(d), seq: f.seq, f: fn}
	f.timers = append(f.timers, t)
	return t
}

func (t *fakeTimer) Stop() bool {
	t.c.mu.Lock()
	defer t.c.mu.Unlock()
	for i, p := range t.c.timers {
		if p == t {
			t.c.timers = append(t.c.timers[:i], t.c.timers[i+1:]...)
			return true
		}
	}
	return false
}

// Advance moves the clock forward by d, firing every timer that comes due.
func (f *Fake) Advance(d time.Duration) {
	f.mu.Lock()
	target := f.now.Add(d)
	f.mu.Unlock()

	for {
		f.mu.Lock()
		next := f.popDue(target)
		if next == nil {
			f.now = target
			f.mu.Unlock()
			return
		}
		f.now = next.when
		f.mu.Unlock()

		next.f()
	}
}

// popDue removes and returns the earliest timer due at or before target.
// Caller holds f.mu.
func (f *Fake) popDue(target time.Time) *fakeTimer {
	if len(f.timers) == 0 {
		return nil
	}
	sort.SliceStable(f.timers, func(i, j int) bool {
		if f.timers[i].when.Equal(f.timers[j].when) {
			return f.timers[i].seq < f.timers[j].seq
		}
		return f.timers[i].when.Before(f.timers[j].when)
	})
	t := f.timers[0]
	if t.when.After(target) {
		return nil
	}
	f.timers = f.timers[1:]
	t.fired = true
	return t
}

// Pending returns the number of scheduled, unfired timers.
func (f *Fake) Pending() int {
	f.mu.Lock()
	defer f.mu.Unlock()
	return len(f.timers)
}

// Flush fires timers that are already due without moving the clock.
func (f *Fake) Flush() { f.Advance(0) }
