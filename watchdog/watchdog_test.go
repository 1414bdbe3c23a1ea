package watchdog

import (
	"io"
	"testing"
	"time"

	"github.com/prometheus/client_golang/prometheus/testutil"
	"github.com/sirupsen/logrus"

	"github.com/yakeru/usbwriter"
	"github.com/yakeru/usbwriter/clock"
	"github.com/yakeru/usbwriter/metrics"
)

func newTestWatchdog() (*Watchdog, *clock.Fake, *[]usbwriter.ProgressSample, *metrics.Metrics) {
	logger := logrus.New()
	logger.SetOutput(io.Discard)
	clk := clock.NewFake(time.Unix(0, 0))
	m := metrics.New(nil)
	w := New(Config{Clock: clk, Logger: logger, Metrics: m})
	var got []usbwriter.ProgressSample
	w.Subscribe(func(s usbwriter.ProgressSample) { got = append(got, s) })
	return w, clk, &got, m
}

func TestFiresAfterThreshold(t *testing.T) {
	tests := []struct {
		progress int
		wait     time.Duration
	}{
		{95, 60 * time.Second},
		{96, 60 * time.Second},
		{98, 60 * time.Second},
		{99, 20 * time.Second},
		{100, 20 * time.Second},
	}
	for _, tt := range tests {
		w, clk, got, m := newTestWatchdog()
		w.Observe("ws_a", tt.progress)

		clk.Advance(tt.wait - time.Millisecond)
		if len(*got) != 0 {
			t.Fatalf("progress %d fired early", tt.progress)
		}
		clk.Advance(time.Millisecond)
		if len(*got) != 1 {
			t.Fatalf("progress %d: fired %d times, want 1", tt.progress, len(*got))
		}
		s := (*got)[0]
		if s.Progress != 100 || s.Status != "completed" || s.Phase != PhaseStall {
			t.Fatalf("synthesized sample = %+v", s)
		}
		if st, _ := w.State(); st != Fired {
			t.Fatalf("state = %v, want fired", st)
		}
		if n := testutil.ToFloat64(m.StallCompletions); n != 1 {
			t.Fatalf("stall metric = %v", n)
		}
	}
}

func TestBelowArmThresholdStaysIdle(t *testing.T) {
	w, clk, got, _ := newTestWatchdog()
	w.Observe("ws_a", 94)
	clk.Advance(10 * time.Minute)
	if len(*got) != 0 {
		t.Fatal("fired below 95")
	}
	if st, _ := w.State(); st != Idle {
		t.Fatalf("state = %v, want idle", st)
	}
}

func TestSameProgressKeepsTimer(t *testing.T) {
	w, clk, got, _ := newTestWatchdog()
	w.Observe("ws_a", 96)
	clk.Advance(40 * time.Second)
	w.Observe("ws_a", 96)
	clk.Advance(20 * time.Second)
	if len(*got) != 1 {
		t.Fatalf("repeated sample restarted the timer: fired %d", len(*got))
	}
}

func TestDifferentProgressRearms(t *testing.T) {
	w, clk, got, _ := newTestWatchdog()
	w.Observe("ws_a", 96)
	clk.Advance(50 * time.Second)
	w.Observe("ws_a", 97)
	clk.Advance(50 * time.Second)
	if len(*got) != 0 {
		t.Fatal("fired on the first arming after progress moved")
	}
	clk.Advance(10 * time.Second)
	if len(*got) != 1 {
		t.Fatalf("fired %d times, want 1", len(*got))
	}
}

func TestDropBelowThresholdDisarms(t *testing.T) {
	w, clk, got, _ := newTestWatchdog()
	w.Observe("ws_a", 99)
	w.Observe("ws_a", 50)
	clk.Advance(time.Hour)
	if len(*got) != 0 {
		t.Fatal("fired after disarm")
	}
}

func TestCancelIsIdempotent(t *testing.T) {
	w, clk, got, _ := newTestWatchdog()
	w.Observe("ws_a", 99)
	w.Cancel()
	w.Cancel()
	clk.Advance(time.Hour)
	if len(*got) != 0 {
		t.Fatal("fired after cancel")
	}
	if clk.Pending() != 0 {
		t.Fatalf("Pending() = %d after cancel", clk.Pending())
	}
}

func TestFiredSampleCarriesArmedSession(t *testing.T) {
	w, clk, got, _ := newTestWatchdog()
	w.Observe("ws_a", 99)
	clk.Advance(20 * time.Second)
	if len(*got) != 1 || (*got)[0].SessionID != "ws_a" {
		t.Fatalf("samples = %+v, want one stamped ws_a", *got)
	}
}

func TestNewSessionAtSameProgressRearms(t *testing.T) {
	w, clk, got, _ := newTestWatchdog()
	w.Observe("ws_a", 96)
	clk.Advance(50 * time.Second)
	w.Observe("ws_b", 96)
	clk.Advance(50 * time.Second)
	if len(*got) != 0 {
		t.Fatal("timer armed for ws_a fired after ws_b took over")
	}
	clk.Advance(10 * time.Second)
	if len(*got) != 1 || (*got)[0].SessionID != "ws_b" {
		t.Fatalf("samples = %+v, want one stamped ws_b", *got)
	}
}
