package main

import (
	"context"
	"errors"
	"fmt"
	"net/http"
	"time"

	"github.com/cenkalti/backoff/v4"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/collectors"
	"github.com/prometheus/client_golang/prometheus/promhttp"
	"github.com/sirupsen/logrus"

	"github.com/yakeru/usbwriter/backend"
	"github.com/yakeru/usbwriter/catalog"
	"github.com/yakeru/usbwriter/database"
	"github.com/yakeru/usbwriter/metrics"
	"github.com/yakeru/usbwriter/poller"
	"github.com/yakeru/usbwriter/prefs"
	"github.com/yakeru/usbwriter/session"
	"github.com/yakeru/usbwriter/status"
	"github.com/yakeru/usbwriter/watchdog"
)

// Stack holds the wired components of one CLI invocation.
type Stack struct {
	Backend  *backend.Client
	Poller   *poller.Poller
	Watchdog *watchdog.Watchdog
	Catalog  *catalog.Refresher
	Sessions *session.Manager
	DB       *database.DB
	Prefs    *prefs.Store
	Metrics  *metrics.Metrics

	metricsSrv *http.Server
}

// stackOptions selects the optional parts of a Stack.
type stackOptions struct {
	history bool
	prefs   bool
	serve   bool
}

// newBackend builds the backend client alone, for commands that only list or
// inspect.
func (c *cli) newBackend(m *metrics.Metrics) *backend.Client {
	cfg := backend.DefaultConfig()
	cfg.BaseURL = c.cfg.BackendURL
	cfg.StatusTimeout = c.cfg.PollRequestTimeout
	cfg.Logger = log
	cfg.Metrics = m
	return backend.New(cfg)
}

func (c *cli) newCatalog(src catalog.Source, m *metrics.Metrics) (*catalog.Refresher, error) {
	return catalog.New(src, catalog.Config{
		Interval: c.cfg.RefreshInterval,
		Rescan:   c.cfg.Rescan,
		Logger:   log,
		Metrics:  m,
	})
}

// newStack wires every component the wizard and the write command need.
func (c *cli) newStack(opts stackOptions) (*Stack, error) {
	reg := prometheus.NewRegistry()
	reg.MustRegister(collectors.NewGoCollector(), collectors.NewProcessCollector(collectors.ProcessCollectorOpts{}))
	s := &Stack{Metrics: metrics.New(reg)}

	s.Backend = c.newBackend(s.Metrics)

	pcfg := poller.DefaultConfig()
	pcfg.BaseInterval = c.cfg.PollBaseInterval
	pcfg.NearInterval = c.cfg.PollNearInterval
	pcfg.FinalInterval = c.cfg.PollFinalInterval
	pcfg.RequestTimeout = c.cfg.PollRequestTimeout
	pcfg.Warmup = c.cfg.PollWarmup
	pcfg.Logger = log
	pcfg.Metrics = s.Metrics
	s.Poller = poller.New(s.Backend, pcfg)

	wcfg := watchdog.DefaultConfig()
	wcfg.Threshold = c.cfg.StallThreshold
	wcfg.FinalThreshold = c.cfg.StallFinalThreshold
	wcfg.Logger = log
	wcfg.Metrics = s.Metrics
	s.Watchdog = watchdog.New(wcfg)

	var err error
	if s.Catalog, err = c.newCatalog(s.Backend, s.Metrics); err != nil {
		return nil, fmt.Errorf("failed to create catalog: %w", err)
	}

	translator := status.New()
	if c.cfg.MessagesFile != "" {
		if translator, err = status.Load(c.cfg.MessagesFile); err != nil {
			return nil, err
		}
	}

	deps := session.Dependencies{
		Backend:    s.Backend,
		Samples:    s.Poller,
		Watchdog:   s.Watchdog,
		Catalog:    s.Catalog,
		Translator: translator,
		Logger:     log,
		Metrics:    s.Metrics,
	}

	if opts.history {
		db, err := database.New(database.Config{Path: c.cfg.HistoryDB})
		if err != nil {
			log.WithError(err).Warn("Write history disabled")
		} else {
			s.DB = db
			deps.Journal = db
		}
	}
	if opts.prefs {
		p, err := prefs.Open(c.cfg.PrefsDB)
		if err != nil {
			log.WithError(err).Warn("Remembered selection disabled")
		} else {
			s.Prefs = p
			deps.Prefs = p
		}
	}

	if s.Sessions, err = session.New(deps); err != nil {
		s.Close()
		return nil, err
	}

	if opts.serve && c.cfg.MetricsAddr != "" {
		s.serveMetrics(c.cfg.MetricsAddr, reg)
	}
	return s, nil
}

func (s *Stack) serveMetrics(addr string, reg *prometheus.Registry) {
	mux := http.NewServeMux()
	mux.Handle("/metrics", promhttp.HandlerFor(reg, promhttp.HandlerOpts{}))
	s.metricsSrv = &http.Server{Addr: addr, Handler: mux, ReadHeaderTimeout: 5 * time.Second}
	go func() {
		log.WithField("addr", addr).Info("Serving metrics")
		if err := s.metricsSrv.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			log.WithError(err).Error("Metrics server failed")
		}
	}()
}

// Close stops background work and releases stores.
func (s *Stack) Close() {
	if s.Sessions != nil {
		s.Sessions.Close()
	}
	if s.Catalog != nil {
		s.Catalog.Stop()
	}
	if s.Poller != nil {
		s.Poller.Disconnect()
	}
	if s.Watchdog != nil {
		s.Watchdog.Cancel()
	}
	if s.metricsSrv != nil {
		ctx, cancel := context.WithTimeout(context.Background(), 2*time.Second)
		s.metricsSrv.Shutdown(ctx)
		cancel()
	}
	if s.Prefs != nil {
		s.Prefs.Close()
	}
	if s.DB != nil {
		s.DB.Close()
	}
}

// waitHealthy polls GET /health with exponential backoff until the backend
// answers or max elapses.
func waitHealthy(ctx context.Context, b *backend.Client, max time.Duration, logger logrus.FieldLogger) error {
	bo := backoff.NewExponentialBackOff()
	bo.InitialInterval = 250 * time.Millisecond
	bo.MaxInterval = 2 * time.Second
	bo.MaxElapsedTime = max
	attempt := 0
	return backoff.Retry(func() error {
		attempt++
		err := b.Health(ctx)
		if err != nil {
			logger.WithError(err).WithField("attempt", attempt).Debug("Backend not reachable yet")
		}
		return err
	}, backoff.WithContext(bo, ctx))
}
