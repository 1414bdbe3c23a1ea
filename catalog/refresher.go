// Package catalog keeps the last known ISO and device lists fresh by
// refreshing them from the backend on a fixed interval while no write is
// running.
package catalog

import (
	"context"
	"sync"
	"time"

	"github.com/sirupsen/logrus"

	"github.com/yakeru/usbwriter"
	"github.com/yakeru/usbwriter/clock"
	"github.com/yakeru/usbwriter/metrics"
	"github.com/yakeru/usbwriter/notify"
	"github.com/yakeru/usbwriter/safeguards"
)

// Source is the subset of the backend client the refresher uses.
type Source interface {
	ListISOs(ctx context.Context) ([]usbwriter.ISOFile, error)
	ListDevices(ctx context.Context) ([]usbwriter.USBDevice, error)
	RescanDevices(ctx context.Context) ([]usbwriter.USBDevice, error)
}

// Snapshot is the catalog content after a refresh that changed something.
type Snapshot struct {
	ISOs    []usbwriter.ISOFile
	Devices []usbwriter.USBDevice
}

// Config holds refresher configuration.
type Config struct {
	// Interval between background refreshes.
	Interval time.Duration
	// Rescan asks the backend to re-enumerate devices instead of listing the
	// cached set, falling back to a plain listing if the rescan fails.
	Rescan bool
	// Timeout bounds one refresh (both lists).
	Timeout time.Duration

	Clock   clock.Clock
	Logger  logrus.FieldLogger
	Metrics *metrics.Metrics
}

// DefaultConfig returns the standard refresh cadence.
func DefaultConfig() Config {
	return Config{
		Interval: 5 * time.Second,
		Timeout:  30 * time.Second,
	}
}

// Refresher owns the catalog index and its refresh schedule.
type Refresher struct {
	cfg     Config
	src     Source
	logger  logrus.FieldLogger
	index   *index
	guard   *safeguards.OperationGuard
	updates *notify.Hub[Snapshot]

	mu      sync.Mutex
	running bool
	paused  bool
	gen     uint64
	timer   clock.Timer
}

// New creates a stopped refresher.
func New(src Source, cfg Config) (*Refresher, error) {
	d := DefaultConfig()
	if cfg.Interval <= 0 {
		cfg.Interval = d.Interval
	}
	if cfg.Timeout <= 0 {
		cfg.Timeout = d.Timeout
	}
	cfg.Clock = clock.OrReal(cfg.Clock)
	if cfg.Logger == nil {
		cfg.Logger = logrus.StandardLogger()
	}
	idx, err := newIndex()
	if err != nil {
		return nil, err
	}
	logger := cfg.Logger.WithField("component", "catalog")
	return &Refresher{
		cfg:     cfg,
		src:     src,
		logger:  logger,
		index:   idx,
		guard:   safeguards.NewOperationGuard(safeguards.GuardConfig{MaxConcurrent: 1, Logger: logger}),
		updates: notify.NewHub[Snapshot]("catalog", logger),
	}, nil
}

// Subscribe registers fn for catalog changes.
func (r *Refresher) Subscribe(fn func(Snapshot)) (cancel func()) {
	return r.updates.Subscribe(fn)
}

// Start begins background refreshing with an immediate refresh.
func (r *Refresher) Start() {
	r.mu.Lock()
	defer r.mu.Unlock()
	if r.running {
		return
	}
	r.running = true
	if !r.paused {
		r.scheduleLocked(0)
	}
}

// Stop ends background refreshing.
func (r *Refresher) Stop() {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.running = false
	r.cancelLocked()
}

// Pause suppresses background refreshing entirely. Results of a refresh
// already in flight are discarded.
func (r *Refresher) Pause() {
	r.mu.Lock()
	defer r.mu.Unlock()
	if r.paused {
		return
	}
	r.paused = true
	r.cancelLocked()
	r.logger.Debug("background refresh paused")
}

// Resume re-enables background refreshing and refreshes immediately.
func (r *Refresher) Resume() {
	r.mu.Lock()
	defer r.mu.Unlock()
	if !r.paused {
		return
	}
	r.paused = false
	if r.running {
		r.scheduleLocked(0)
	}
	r.logger.Debug("background refresh resumed")
}

// Paused reports whether refreshing is suppressed.
func (r *Refresher) Paused() bool {
	r.mu.Lock()
	defer r.mu.Unlock()
	return r.paused
}

func (r *Refresher) cancelLocked() {
	r.gen++
	if r.timer != nil {
		r.timer.Stop()
		r.timer = nil
	}
}

func (r *Refresher) scheduleLocked(d time.Duration) {
	r.cancelLocked()
	gen := r.gen
	r.timer = r.cfg.Clock.AfterFunc(d, func() { r.tick(gen) })
}

func (r *Refresher) live(gen uint64) bool {
	r.mu.Lock()
	defer r.mu.Unlock()
	return gen == r.gen && !r.paused
}

func (r *Refresher) tick(gen uint64) {
	if !r.live(gen) {
		return
	}
	r.refresh(gen)

	r.mu.Lock()
	defer r.mu.Unlock()
	if r.running && !r.paused && gen == r.gen {
		r.timer = r.cfg.Clock.AfterFunc(r.cfg.Interval, func() { r.tick(gen) })
	}
}

// RefreshNow refreshes synchronously unless refreshing is paused. It
// reports whether the catalog changed.
func (r *Refresher) RefreshNow(ctx context.Context) bool {
	r.mu.Lock()
	gen := r.gen
	paused := r.paused
	r.mu.Unlock()
	if paused {
		r.cfg.Metrics.Refresh("all", "skipped")
		return false
	}
	return r.refreshCtx(ctx, gen)
}

func (r *Refresher) refresh(gen uint64) bool {
	ctx, cancel := context.WithTimeout(context.Background(), r.cfg.Timeout)
	defer cancel()
	return r.refreshCtx(ctx, gen)
}

func (r *Refresher) refreshCtx(ctx context.Context, gen uint64) bool {
	if !r.guard.TryAcquire("catalog-refresh") {
		r.cfg.Metrics.Refresh("all", "skipped")
		return false
	}
	defer r.guard.Release("catalog-refresh")

	isos, isoErr := r.src.ListISOs(ctx)
	devices, keepDevices := r.fetchDevices(ctx)

	if !r.live(gen) {
		r.cfg.Metrics.Refresh("all", "discarded")
		return false
	}

	isos = keyedISOs(isos)
	devices = keyedDevices(devices)

	changed := false
	if isoErr != nil {
		r.result("isos", isoErr)
	} else {
		r.cfg.Metrics.Refresh("isos", "ok")
		if !sameISOs(r.index.isos(), isos) {
			if err := r.index.replaceISOs(isos); err != nil {
				r.logger.WithError(err).Error("failed to update iso index")
			} else {
				changed = true
			}
		}
	}
	if !keepDevices && !sameDevices(r.index.devices(), devices) {
		if err := r.index.replaceDevices(devices); err != nil {
			r.logger.WithError(err).Error("failed to update device index")
		} else {
			changed = true
		}
	}

	if changed {
		snap := r.Snapshot()
		r.logger.WithFields(logrus.Fields{
			"isos":    len(snap.ISOs),
			"devices": len(snap.Devices),
		}).Debug("catalog updated")
		r.updates.Emit(snap)
	}
	return changed
}

// fetchDevices returns the device list and whether the current list must be
// kept instead.
func (r *Refresher) fetchDevices(ctx context.Context) ([]usbwriter.USBDevice, bool) {
	if !r.cfg.Rescan {
		devices, err := r.src.ListDevices(ctx)
		if err != nil {
			r.result("devices", err)
			return nil, true
		}
		r.cfg.Metrics.Refresh("devices", "ok")
		return devices, false
	}

	devices, err := r.src.RescanDevices(ctx)
	if err == nil {
		r.cfg.Metrics.Refresh("devices", "ok")
		return devices, false
	}
	if usbwriter.IsNoUpdate(err) {
		r.result("devices", err)
		return nil, true
	}

	r.logger.WithError(err).Warn("device rescan failed, falling back to listing")
	devices, err = r.src.ListDevices(ctx)
	if err != nil {
		r.result("devices", err)
		return nil, true
	}
	if len(devices) == 0 && r.index.countDevices() > 0 {
		r.logger.Debug("ignoring empty fallback device list")
		r.cfg.Metrics.Refresh("devices", "no_update")
		return nil, true
	}
	r.cfg.Metrics.Refresh("devices", "ok")
	return devices, false
}

func (r *Refresher) result(list string, err error) {
	if usbwriter.IsNoUpdate(err) {
		r.cfg.Metrics.Refresh(list, "no_update")
		r.logger.WithError(err).WithField("list", list).Debug("backend has no update, keeping last list")
		return
	}
	r.cfg.Metrics.Refresh(list, "error")
	r.logger.WithError(err).WithField("list", list).Warn("list refresh failed, keeping last list")
}

// Snapshot returns the current lists.
func (r *Refresher) Snapshot() Snapshot {
	return Snapshot{ISOs: r.index.isos(), Devices: r.index.devices()}
}

// ISOs returns the last known ISO list in backend order.
func (r *Refresher) ISOs() []usbwriter.ISOFile { return r.index.isos() }

// Devices returns the last known device list in backend order.
func (r *Refresher) Devices() []usbwriter.USBDevice { return r.index.devices() }

// FindISO looks an ISO up by name.
func (r *Refresher) FindISO(name string) (usbwriter.ISOFile, bool) { return r.index.iso(name) }

// FindDevice looks a device up by id.
func (r *Refresher) FindDevice(id string) (usbwriter.USBDevice, bool) { return r.index.device(id) }

func sameISOs(a, b []usbwriter.ISOFile) bool {
	if len(a) != len(b) {
		return false
	}
	for i := range a {
		if a[i] != b[i] {
			return false
		}
	}
	return true
}

func sameDevices(a, b []usbwriter.USBDevice) bool {
	if len(a) != len(b) {
		return false
	}
	for i := range a {
		if a[i] != b[i] {
			return false
		}
	}
	return true
}

func keyedISOs(in []usbwriter.ISOFile) []usbwriter.ISOFile {
	out := in[:0:0]
	for _, iso := range in {
		if iso.Name != "" {
			out = append(out, iso)
		}
	}
	return out
}

func keyedDevices(in []usbwriter.USBDevice) []usbwriter.USBDevice {
	out := in[:0:0]
	for _, dev := range in {
		if dev.ID != "" {
			out = append(out, dev)
		}
	}
	return out
}
