package screens

import (
	"io"
	"testing"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/testutil"
	"github.com/sirupsen/logrus"

	"github.com/yakeru/usbwriter/clock"
	"github.com/yakeru/usbwriter/metrics"
	"github.com/yakeru/usbwriter/session"
)

func quietLogger() logrus.FieldLogger {
	l := logrus.New()
	l.SetOutput(io.Discard)
	return l
}

func TestInstantTransitionTakesTwoTicks(t *testing.T) {
	m := metrics.New(prometheus.NewRegistry())
	c := New(Config{Logger: quietLogger(), Metrics: m})

	c.RequestTransition(IsoSelection)
	if v := c.View(); v.Phase != ExitingCurrent || v.Current != Title || v.Target != IsoSelection {
		t.Fatalf("after request: %+v", v)
	}
	c.Tick()
	if v := c.View(); v.Phase != EnteringNext || v.Current != Title {
		t.Fatalf("after first tick: %+v", v)
	}
	c.Tick()
	if v := c.View(); v.Phase != Idle || v.Current != IsoSelection {
		t.Fatalf("after second tick: %+v", v)
	}
	if got := testutil.ToFloat64(m.ScreenTransitions.WithLabelValues("iso_selection")); got != 1 {
		t.Fatalf("transition metric = %v", got)
	}
}

func TestTimedAnimatorBarrier(t *testing.T) {
	clk := clock.NewFake(time.Unix(0, 0))
	c := New(Config{Animator: NewTimed(clk, 0, 0), Logger: quietLogger()})

	c.RequestTransition(IsoSelection)
	c.Tick()
	clk.Advance(150 * time.Millisecond)
	c.Tick()
	if c.View().Phase != ExitingCurrent {
		t.Fatal("exit finished before 0.2s")
	}
	clk.Advance(50 * time.Millisecond)
	c.Tick()
	if c.View().Phase != EnteringNext {
		t.Fatalf("phase = %v, want entering", c.View().Phase)
	}

	c.Tick()
	clk.Advance(299 * time.Millisecond)
	c.Tick()
	if c.Current() != Title {
		t.Fatal("entered before 0.3s")
	}
	clk.Advance(time.Millisecond)
	c.Tick()
	if v := c.View(); v.Current != IsoSelection || v.Phase != Idle {
		t.Fatalf("view = %+v", v)
	}
}

func TestLastRequestWins(t *testing.T) {
	clk := clock.NewFake(time.Unix(0, 0))
	c := New(Config{Animator: NewTimed(clk, 0, 0), Logger: quietLogger()})

	c.RequestTransition(IsoSelection)
	c.Tick()
	c.RequestTransition(DeviceSelection)
	c.RequestTransition(Confirmation)

	v := c.View()
	if v.Current != DeviceSelection || v.Target != Confirmation || v.Phase != ExitingCurrent {
		t.Fatalf("after collapse: %+v", v)
	}

	// The collapsed screen is already hidden, so exit completes at once.
	c.Tick()
	if c.View().Phase != EnteringNext {
		t.Fatalf("phase = %v, want entering", c.View().Phase)
	}
	c.Tick()
	clk.Advance(DefaultEnterDuration)
	c.Tick()
	if v := c.View(); v.Current != Confirmation || v.Phase != Idle {
		t.Fatalf("final view = %+v", v)
	}
}

func TestRequestCurrentScreenIsNoop(t *testing.T) {
	c := New(Config{Logger: quietLogger()})
	c.RequestTransition(Title)
	if c.InFlight() {
		t.Fatal("transition to current screen started")
	}

	c.RequestTransition(IsoSelection)
	c.RequestTransition(IsoSelection)
	if v := c.View(); v.Current != Title || v.Phase != ExitingCurrent {
		t.Fatalf("repeat request collapsed transition: %+v", v)
	}
}

func TestWritingResetsProgress(t *testing.T) {
	c := New(Config{Logger: quietLogger()})
	c.HandleEvent(session.Event{Kind: session.Started, SessionID: "a"})
	c.HandleEvent(session.Event{Kind: session.Progress, SessionID: "a", Progress: 70})
	if c.View().Progress != 70 {
		t.Fatal("progress not tracked")
	}
	c.RequestTransition(Writing)
	if c.View().Progress != 0 {
		t.Fatalf("progress = %d, want 0 on Writing", c.View().Progress)
	}
}

func TestTerminalEventsGoToResult(t *testing.T) {
	for _, kind := range []session.Kind{session.Completed, session.Error} {
		c := New(Config{Logger: quietLogger()})
		c.RequestTransition(Writing)
		c.Settle(10)
		c.HandleEvent(session.Event{Kind: session.Started, SessionID: "s1"})
		c.HandleEvent(session.Event{Kind: kind, SessionID: "s1", Progress: 100, Message: "done"})
		c.Settle(10)

		v := c.View()
		if v.Current != Result {
			t.Fatalf("%v: current = %v, want result", kind, v.Current)
		}
		if v.Outcome.Success != (kind == session.Completed) || v.Outcome.SessionID != "s1" {
			t.Fatalf("%v: outcome = %+v", kind, v.Outcome)
		}
	}
}

func TestTerminalEventFromAnyScreen(t *testing.T) {
	c := New(Config{Logger: quietLogger()})
	c.HandleEvent(session.Event{Kind: session.Started, SessionID: "s1"})
	c.RequestTransition(IsoSelection)
	c.Tick()
	c.HandleEvent(session.Event{Kind: session.Completed, SessionID: "s1", Progress: 100})
	c.Settle(10)
	if c.Current() != Result {
		t.Fatalf("current = %v, want result", c.Current())
	}
}

func TestLeftoverTerminalEventsIgnored(t *testing.T) {
	c := New(Config{Logger: quietLogger()})
	c.RequestTransition(Writing)
	c.Settle(10)

	c.HandleEvent(session.Event{Kind: session.Completed, SessionID: "ghost"})
	if c.InFlight() || c.Current() != Writing {
		t.Fatal("terminal event without a started session moved the screen")
	}

	c.HandleEvent(session.Event{Kind: session.Started, SessionID: "s1"})
	c.HandleEvent(session.Event{Kind: session.Completed, SessionID: "s1"})
	c.Settle(10)
	c.RequestTransition(Title)
	c.Settle(10)

	c.HandleEvent(session.Event{Kind: session.Completed, SessionID: "s1"})
	c.HandleEvent(session.Event{Kind: session.Error, SessionID: "s1"})
	if c.InFlight() || c.Current() != Title {
		t.Fatalf("duplicate terminal event moved the screen to %v", c.View().Target)
	}
}

func TestResultStaysUntilRequested(t *testing.T) {
	clk := clock.NewFake(time.Unix(0, 0))
	c := New(Config{Logger: quietLogger()})
	c.HandleEvent(session.Event{Kind: session.Started, SessionID: "s1"})
	c.HandleEvent(session.Event{Kind: session.Completed, SessionID: "s1"})
	c.Settle(10)

	for i := 0; i < 20; i++ {
		clk.Advance(time.Second)
		c.Tick()
	}
	c.HandleEvent(session.Event{Kind: session.Reset})
	c.Tick()
	if c.Current() != Result {
		t.Fatalf("current = %v, want result", c.Current())
	}
}

func TestSubscribersSeeOrderedViews(t *testing.T) {
	c := New(Config{Logger: quietLogger()})
	var phases []Phase
	c.Subscribe(func(v View) { phases = append(phases, v.Phase) })

	c.RequestTransition(IsoSelection)
	c.Settle(10)

	want := []Phase{ExitingCurrent, EnteringNext, Idle}
	if len(phases) != len(want) {
		t.Fatalf("phases = %v, want %v", phases, want)
	}
	for i := range want {
		if phases[i] != want[i] {
			t.Fatalf("phases = %v, want %v", phases, want)
		}
	}
}
