// Package metrics holds the Prometheus collectors of the write orchestration
// components. A nil *Metrics is valid and records nothing, so components and
// tests can run without a registry.
package metrics

import (
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

const namespace = "usbwriter"

// Metrics is the set of collectors registered by New.
type Metrics struct {
	Polls             *prometheus.CounterVec
	PollInterval      prometheus.Gauge
	Sessions          *prometheus.CounterVec
	SessionProgress   prometheus.Gauge
	StallCompletions  prometheus.Counter
	Refreshes         *prometheus.CounterVec
	BackendLatency    *prometheus.HistogramVec
	ScreenTransitions *prometheus.CounterVec
}

// New registers the collectors with reg. A nil reg uses a fresh private
// registry, which keeps repeated construction in tests from panicking.
func New(reg prometheus.Registerer) *Metrics {
	if reg == nil {
		reg = prometheus.NewRegistry()
	}
	f := promauto.With(reg)
	return &Metrics{
		Polls: f.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "status_polls_total",
			Help:      "Write status polls by result (ok, error, discarded).",
		}, []string{"result"}),
		PollInterval: f.NewGauge(prometheus.GaugeOpts{
			Namespace: namespace,
			Name:      "status_poll_interval_seconds",
			Help:      "Current adaptive poll interval.",
		}),
		Sessions: f.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "write_sessions_total",
			Help:      "Finished write sessions by outcome.",
		}, []string{"outcome"}),
		SessionProgress: f.NewGauge(prometheus.GaugeOpts{
			Namespace: namespace,
			Name:      "write_session_progress_percent",
			Help:      "Progress of the active write session.",
		}),
		StallCompletions: f.NewCounter(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "stall_forced_completions_total",
			Help:      "Completions synthesized by the stall watchdog.",
		}),
		Refreshes: f.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "list_refreshes_total",
			Help:      "Background ISO/device list refreshes by list and result.",
		}, []string{"list", "result"}),
		BackendLatency: f.NewHistogramVec(prometheus.HistogramOpts{
			Namespace: namespace,
			Name:      "backend_request_duration_seconds",
			Help:      "Backend HTTP request latency by endpoint.",
			Buckets:   []float64{.01, .05, .1, .25, .5, 1, 3, 5, 15, 30},
		}, []string{"endpoint"}),
		ScreenTransitions: f.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "screen_transitions_total",
			Help:      "Completed screen transitions by target screen.",
		}, []string{"screen"}),
	}
}

func (m *Metrics) Poll(result string) {
	if m == nil {
		return
	}
	m.Polls.WithLabelValues(result).Inc()
}

func (m *Metrics) SetPollInterval(d time.Duration) {
	if m == nil {
		return
	}
	m.PollInterval.Set(d.Seconds())
}

func (m *Metrics) SessionFinished(outcome string) {
	if m == nil {
		return
	}
	m.Sessions.WithLabelValues(outcome).Inc()
}

func (m *Metrics) SetProgress(p int) {
	if m == nil {
		return
	}
	m.SessionProgress.Set(float64(p))
}

func (m *Metrics) StallFired() {
	if m == nil {
		return
	}
	m.StallCompletions.Inc()
}

func (m *Metrics) Refresh(list, result string) {
	if m == nil {
		return
	}
	m.Refreshes.WithLabelValues(list, result).Inc()
}

func (m *Metrics) ObserveBackend(endpoint string, d time.Duration) {
	if m == nil {
		return
	}
	m.BackendLatency.WithLabelValues(endpoint).Observe(d.Seconds())
}

func (m *Metrics) Transition(screen string) {
	if m == nil {
		return
	}
	m.ScreenTransitions.WithLabelValues(screen).Inc()
}
