// Package poller turns the backend's write-status endpoint into a
// de-duplicated stream of progress samples.
package poller

import (
	"context"
	"errors"
	"sync"
	"time"

	"github.com/sirupsen/logrus"

	"github.com/yakeru/usbwriter"
	"github.com/yakeru/usbwriter/clock"
	"github.com/yakeru/usbwriter/metrics"
	"github.com/yakeru/usbwriter/notify"
	"github.com/yakeru/usbwriter/status"
)

// StatusSource is the backend call the poller repeats.
type StatusSource interface {
	WriteStatus(ctx context.Context) (usbwriter.WriteStatus, error)
}

// Config holds poller configuration.
type Config struct {
	// BaseInterval is used below NearThreshold and after any error.
	BaseInterval time.Duration
	// NearInterval is used from NearThreshold percent.
	NearInterval time.Duration
	// FinalInterval is used from FinalThreshold percent or on completion.
	FinalInterval time.Duration

	NearThreshold  int
	FinalThreshold int

	// RequestTimeout bounds each poll.
	RequestTimeout time.Duration
	// DirectTimeout bounds the recovery check issued after a transport error.
	DirectTimeout time.Duration

	// Warmup is the window after Connect during which "completed" samples
	// are treated as left over from a previous session. Negative disables it.
	Warmup time.Duration

	Clock   clock.Clock
	Logger  logrus.FieldLogger
	Metrics *metrics.Metrics
}

// DefaultConfig returns the standard polling cadence.
func DefaultConfig() Config {
	return Config{
		BaseInterval:   2 * time.Second,
		NearInterval:   time.Second,
		FinalInterval:  200 * time.Millisecond,
		NearThreshold:  90,
		FinalThreshold: 99,
		RequestTimeout: 3 * time.Second,
		DirectTimeout:  5 * time.Second,
		Warmup:         3 * time.Second,
	}
}

func (c Config) withDefaults() Config {
	d := DefaultConfig()
	if c.BaseInterval <= 0 {
		c.BaseInterval = d.BaseInterval
	}
	if c.NearInterval <= 0 {
		c.NearInterval = d.NearInterval
	}
	if c.FinalInterval <= 0 {
		c.FinalInterval = d.FinalInterval
	}
	if c.NearThreshold <= 0 {
		c.NearThreshold = d.NearThreshold
	}
	if c.FinalThreshold <= 0 {
		c.FinalThreshold = d.FinalThreshold
	}
	if c.RequestTimeout <= 0 {
		c.RequestTimeout = d.RequestTimeout
	}
	if c.DirectTimeout <= 0 {
		c.DirectTimeout = d.DirectTimeout
	}
	switch {
	case c.Warmup == 0:
		c.Warmup = d.Warmup
	case c.Warmup < 0:
		// Negative disables the guard.
		c.Warmup = 0
	}
	c.Clock = clock.OrReal(c.Clock)
	if c.Logger == nil {
		c.Logger = logrus.StandardLogger()
	}
	return c
}

// Poller polls a StatusSource on an adaptive interval.
//
// Each Connect starts a new generation. Work scheduled or in flight for an
// older generation is discarded when it completes, so Disconnect never has to
// cancel a request and a stopped poller cannot resurrect itself.
type Poller struct {
	cfg     Config
	source  StatusSource
	logger  logrus.FieldLogger
	samples *notify.Hub[usbwriter.ProgressSample]

	// emitMu orders deliveries against Connect so a sample from an old
	// generation is never delivered after a new one started.
	emitMu sync.Mutex

	mu               sync.Mutex
	running          bool
	gen              uint64
	timer            clock.Timer
	interval         time.Duration
	last             *usbwriter.ProgressSample
	completedEmitted bool
	connectedAt      time.Time
}

// New creates a stopped poller.
func New(source StatusSource, cfg Config) *Poller {
	cfg = cfg.withDefaults()
	logger := cfg.Logger.WithField("component", "progress-poller")
	return &Poller{
		cfg:      cfg,
		source:   source,
		logger:   logger,
		samples:  notify.NewHub[usbwriter.ProgressSample]("progress-poller", logger),
		interval: cfg.BaseInterval,
	}
}

// Subscribe registers fn for every emitted sample.
func (p *Poller) Subscribe(fn func(usbwriter.ProgressSample)) (cancel func()) {
	return p.samples.Subscribe(fn)
}

// Connect (re)starts polling with a fresh generation. The first poll runs
// immediately. Connect must not be called from a sample subscriber.
func (p *Poller) Connect() {
	p.emitMu.Lock()
	defer p.emitMu.Unlock()

	p.mu.Lock()
	defer p.mu.Unlock()
	if p.timer != nil {
		p.timer.Stop()
	}
	p.gen++
	p.running = true
	p.last = nil
	p.completedEmitted = false
	p.connectedAt = p.cfg.Clock.Now()
	p.setIntervalLocked(p.cfg.BaseInterval)

	gen := p.gen
	p.timer = p.cfg.Clock.AfterFunc(0, func() { p.poll(gen) })
	p.logger.WithField("generation", gen).Info("status polling started")
}

// Disconnect stops polling. An in-flight request completes and its result
// is dropped.
func (p *Poller) Disconnect() {
	p.mu.Lock()
	defer p.mu.Unlock()
	if !p.running {
		return
	}
	p.running = false
	p.gen++
	if p.timer != nil {
		p.timer.Stop()
		p.timer = nil
	}
	p.logger.Info("status polling stopped")
}

// Running reports whether the poller is connected.
func (p *Poller) Running() bool {
	p.mu.Lock()
	defer p.mu.Unlock()
	return p.running
}

// Interval returns the current poll interval.
func (p *Poller) Interval() time.Duration {
	p.mu.Lock()
	defer p.mu.Unlock()
	return p.interval
}

func (p *Poller) current(gen uint64) bool {
	return p.running && gen == p.gen
}

func (p *Poller) setIntervalLocked(d time.Duration) {
	if d != p.interval {
		p.logger.WithField("interval_ms", d.Milliseconds()).Debug("poll interval changed")
	}
	p.interval = d
	p.cfg.Metrics.SetPollInterval(d)
}

func (p *Poller) poll(gen uint64) {
	p.mu.Lock()
	live := p.current(gen)
	p.mu.Unlock()
	if !live {
		return
	}

	ctx, cancel := context.WithTimeout(context.Background(), p.cfg.RequestTimeout)
	st, err := p.source.WriteStatus(ctx)
	cancel()

	if err != nil {
		p.fail(gen, err)
	} else {
		p.cfg.Metrics.Poll("ok")
		p.observe(gen, st.Sample())
	}

	p.mu.Lock()
	defer p.mu.Unlock()
	if p.current(gen) {
		p.timer = p.cfg.Clock.AfterFunc(p.interval, func() { p.poll(gen) })
	}
}

// fail resets the cadence and, for transport errors, issues one direct
// status check through the same observe path.
func (p *Poller) fail(gen uint64, err error) {
	p.mu.Lock()
	if !p.current(gen) {
		p.mu.Unlock()
		p.cfg.Metrics.Poll("discarded")
		return
	}
	p.setIntervalLocked(p.cfg.BaseInterval)
	p.mu.Unlock()

	p.cfg.Metrics.Poll("error")
	p.logger.WithError(err).Warn("write status poll failed")

	if !errors.Is(err, usbwriter.ErrTransport) {
		return
	}

	ctx, cancel := context.WithTimeout(context.Background(), p.cfg.DirectTimeout)
	defer cancel()
	st, derr := p.source.WriteStatus(ctx)
	if derr != nil {
		p.logger.WithError(derr).Debug("direct status check failed")
		return
	}
	sample := st.Sample()
	sample.Phase = "direct"
	p.observe(gen, sample)
}

// observe applies the warm-up guard, adapts the interval, de-duplicates and
// emits.
func (p *Poller) observe(gen uint64, sample usbwriter.ProgressSample) {
	cat := status.Classify(sample.Status)

	p.mu.Lock()
	if !p.current(gen) {
		p.mu.Unlock()
		p.cfg.Metrics.Poll("discarded")
		return
	}

	if cat == status.CategoryCompleted && p.cfg.Clock.Now().Sub(p.connectedAt) < p.cfg.Warmup {
		p.mu.Unlock()
		p.logger.WithField("progress", sample.Progress).Debug("ignoring completed status during warm-up")
		return
	}

	switch {
	case cat == status.CategoryCompleted || sample.Progress >= p.cfg.FinalThreshold:
		p.setIntervalLocked(p.cfg.FinalInterval)
	case sample.Progress >= p.cfg.NearThreshold:
		p.setIntervalLocked(p.cfg.NearInterval)
	default:
		p.setIntervalLocked(p.cfg.BaseInterval)
	}

	duplicate := p.last != nil && p.last.Same(sample)
	if duplicate && !(cat == status.CategoryCompleted && !p.completedEmitted) {
		p.mu.Unlock()
		return
	}
	s := sample
	p.last = &s
	if cat == status.CategoryCompleted {
		p.completedEmitted = true
	}
	p.mu.Unlock()

	p.emit(gen, sample)
}

func (p *Poller) emit(gen uint64, sample usbwriter.ProgressSample) {
	p.emitMu.Lock()
	defer p.emitMu.Unlock()

	p.mu.Lock()
	live := p.current(gen)
	p.mu.Unlock()
	if !live {
		return
	}
	p.samples.Emit(sample)
}
