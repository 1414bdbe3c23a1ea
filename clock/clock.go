// Package clock is the scheduler abstraction shared by the poller, the stall
// watchdog, the list refresher and the screen animators.
//
// Components never call time.AfterFunc directly. They receive a Clock so tests
// can drive every timer deterministically with Fake.
package clock

import "time"

// Clock schedules callbacks and reports the current time.
type Clock interface {
	Now() time.Time

	// AfterFunc calls f once, on its own goroutine for the real clock, after d.
	AfterFunc(d time.Duration, f func()) Timer
}

// Timer is a pending AfterFunc call.
type Timer interface {
	// Stop prevents the call if it has not started. It reports whether the
	// call was prevented. A callback already running is not interrupted.
	Stop() bool
}

// Real returns the wall clock.
func Real() Clock { return realClock{} }

type realClock struct{}

func (realClock) Now() time.Time { return time.Now() }

func (realClock) AfterFunc(d time.Duration, f func()) Timer {
	return time.AfterFunc(d, f)
}

// OrReal returns c, or the wall clock when c is nil.
func OrReal(c Clock) Clock {
	if c == nil {
		return Real()
	}
	return c
}
