package metrics

import (
	"bytes"
	"io"
	"strings"
	"testing"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/testutil"
	"github.com/sirupsen/logrus"
)

func TestNilMetricsIsNoop(t *testing.T) {
	var m *Metrics
	m.Poll("ok")
	m.SetPollInterval(time.Second)
	m.SessionFinished("completed")
	m.SetProgress(50)
	m.StallFired()
	m.Refresh("devices", "ok")
	m.ObserveBackend("/write", time.Millisecond)
	m.Transition("Title")
	m.StartBackend("/isos", nil).StopWithThreshold(time.Second)
}

func TestCountersRecord(t *testing.T) {
	reg := prometheus.NewRegistry()
	m := New(reg)

	m.Poll("ok")
	m.Poll("ok")
	m.Poll("error")
	m.SessionFinished("completed")
	m.StallFired()
	m.SetPollInterval(200 * time.Millisecond)
	m.SetProgress(97)

	if got := testutil.ToFloat64(m.Polls.WithLabelValues("ok")); got != 2 {
		t.Errorf("polls ok = %v, want 2", got)
	}
	if got := testutil.ToFloat64(m.Polls.WithLabelValues("error")); got != 1 {
		t.Errorf("polls error = %v, want 1", got)
	}
	if got := testutil.ToFloat64(m.Sessions.WithLabelValues("completed")); got != 1 {
		t.Errorf("sessions completed = %v, want 1", got)
	}
	if got := testutil.ToFloat64(m.StallCompletions); got != 1 {
		t.Errorf("stall completions = %v, want 1", got)
	}
	if got := testutil.ToFloat64(m.PollInterval); got != 0.2 {
		t.Errorf("poll interval = %v, want 0.2", got)
	}
	if got := testutil.ToFloat64(m.SessionProgress); got != 97 {
		t.Errorf("progress = %v, want 97", got)
	}
}

func TestBackendTimerObservesHistogram(t *testing.T) {
	reg := prometheus.NewRegistry()
	m := New(reg)
	logger := logrus.New()
	logger.SetOutput(io.Discard)

	m.StartBackend("/write-status", logger).StopWithThreshold(time.Second)

	if got := testutil.CollectAndCount(m.BackendLatency); got != 1 {
		t.Fatalf("histogram series = %d, want 1", got)
	}
}

func TestSlowBackendCallWarns(t *testing.T) {
	m := New(nil)
	var buf bytes.Buffer
	logger := logrus.New()
	logger.SetOutput(&buf)

	timer := m.StartBackend("/write", logger)
	time.Sleep(2 * time.Millisecond)
	timer.StopWithThreshold(time.Millisecond)

	if !strings.Contains(buf.String(), "exceeded threshold") || !strings.Contains(buf.String(), "/write") {
		t.Fatalf("log = %q, want a threshold warning for /write", buf.String())
	}
}
