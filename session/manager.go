// Package session owns the write session lifecycle: selection, starting a
// write, reducing progress samples into session events and restoring idle
// state afterwards.
package session

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"time"

	"github.com/sirupsen/logrus"

	"github.com/yakeru/usbwriter"
	"github.com/yakeru/usbwriter/catalog"
	"github.com/yakeru/usbwriter/clock"
	"github.com/yakeru/usbwriter/metrics"
	"github.com/yakeru/usbwriter/notify"
	"github.com/yakeru/usbwriter/status"
	"github.com/yakeru/usbwriter/watchdog"
)

// Backend is the subset of the backend client the manager calls.
type Backend interface {
	StartWrite(ctx context.Context, req usbwriter.WriteRequest) (usbwriter.WriteResponse, error)
	ResetStatus(ctx context.Context) error
}

// SampleSource is a stream of progress samples that can be started and
// stopped: the progress poller.
type SampleSource interface {
	Connect()
	Disconnect()
	Subscribe(fn func(usbwriter.ProgressSample)) (cancel func())
}

// StallGuard is the stall watchdog.
type StallGuard interface {
	Observe(sessionID string, progress int)
	Cancel()
	Subscribe(fn func(usbwriter.ProgressSample)) (cancel func())
}

// ListRefresher is the background catalog refresher.
type ListRefresher interface {
	Pause()
	Resume()
	Subscribe(fn func(catalog.Snapshot)) (cancel func())
}

// Journal records finished sessions.
type Journal interface {
	RecordSession(ctx context.Context, rec usbwriter.SessionRecord) error
}

// SelectionStore remembers the selection of the last accepted write.
type SelectionStore interface {
	SaveSelection(isoName, deviceID string) error
}

// Dependencies are injected into New. Backend, Samples and Watchdog are
// required; the rest are optional.
type Dependencies struct {
	Backend  Backend
	Samples  SampleSource
	Watchdog StallGuard

	Catalog    ListRefresher
	Journal    Journal
	Prefs      SelectionStore
	Translator *status.Translator

	Clock   clock.Clock
	Logger  logrus.FieldLogger
	Metrics *metrics.Metrics

	// Go runs background work. Defaults to a new goroutine; tests pass a
	// synchronous runner.
	Go func(func())

	// StartTimeout bounds the start-write request. Zero leaves it to the
	// backend client's own timeout.
	StartTimeout time.Duration
}

// Manager is the Write Session Manager. It is safe for concurrent use.
type Manager struct {
	deps   Dependencies
	logger logrus.FieldLogger
	events *notify.Serial[Event]

	// pollMu serializes connecting the sample source so a stale start
	// cannot disconnect a newer session's polling.
	pollMu sync.Mutex

	mu        sync.Mutex
	selection usbwriter.Selection
	session   *WriteSession
	unsub     []func()
}

// New wires a Manager to its dependencies and subscribes to their streams.
func New(deps Dependencies) (*Manager, error) {
	if deps.Backend == nil || deps.Samples == nil || deps.Watchdog == nil {
		return nil, errors.New("session: Backend, Samples and Watchdog are required")
	}
	deps.Clock = clock.OrReal(deps.Clock)
	if deps.Logger == nil {
		deps.Logger = logrus.StandardLogger()
	}
	if deps.Translator == nil {
		deps.Translator = status.New()
	}
	if deps.Go == nil {
		deps.Go = func(fn func()) { go fn() }
	}
	logger := deps.Logger.WithField("component", "session-manager")
	m := &Manager{
		deps:   deps,
		logger: logger,
		events: notify.NewSerial[Event]("session-events", logger),
	}
	m.unsub = append(m.unsub,
		deps.Samples.Subscribe(m.Reduce),
		deps.Watchdog.Subscribe(m.Reduce),
	)
	if deps.Catalog != nil {
		m.unsub = append(m.unsub, deps.Catalog.Subscribe(m.pruneSelection))
	}
	return m, nil
}

// Subscribe registers fn for session events.
func (m *Manager) Subscribe(fn func(Event)) (cancel func()) {
	return m.events.Subscribe(fn)
}

// Close detaches the manager from its dependencies and stops any polling.
func (m *Manager) Close() {
	m.mu.Lock()
	unsub := m.unsub
	m.unsub = nil
	m.deps.Watchdog.Cancel()
	m.deps.Samples.Disconnect()
	m.mu.Unlock()
	for _, fn := range unsub {
		fn()
	}
}

// SelectISO sets or clears (nil) the selected ISO.
func (m *Manager) SelectISO(iso *usbwriter.ISOFile) {
	m.mu.Lock()
	if iso == nil {
		m.selection.ISO = nil
	} else {
		v := *iso
		m.selection.ISO = &v
	}
	m.enqueueSelectionLocked()
	m.mu.Unlock()
	m.events.Drain()
}

// SelectDevice sets or clears (nil) the selected device.
func (m *Manager) SelectDevice(dev *usbwriter.USBDevice) {
	m.mu.Lock()
	if dev == nil {
		m.selection.Device = nil
	} else {
		v := *dev
		m.selection.Device = &v
	}
	m.enqueueSelectionLocked()
	m.mu.Unlock()
	m.events.Drain()
}

func (m *Manager) enqueueSelectionLocked() {
	m.events.Enqueue(Event{Kind: SelectionChanged, Selection: m.selectionLocked()})
}

func (m *Manager) selectionLocked() usbwriter.Selection {
	var out usbwriter.Selection
	if m.selection.ISO != nil {
		v := *m.selection.ISO
		out.ISO = &v
	}
	if m.selection.Device != nil {
		v := *m.selection.Device
		out.Device = &v
	}
	return out
}

// Selection returns a copy of the current selection.
func (m *Manager) Selection() usbwriter.Selection {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.selectionLocked()
}

// CanStart reports whether StartWrite would be accepted.
func (m *Manager) CanStart() bool {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.selection.Complete() && m.session == nil
}

// Active reports whether a write session is active.
func (m *Manager) Active() bool {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.session != nil
}

// Session returns a copy of the active session.
func (m *Manager) Session() (WriteSession, bool) {
	m.mu.Lock()
	defer m.mu.Unlock()
	if m.session == nil {
		return WriteSession{}, false
	}
	return *m.session, true
}

// StartWrite validates the selection, activates a session and emits Started
// before the backend is contacted. The backend request runs in the
// background; a failure there deactivates the session and emits Error.
func (m *Manager) StartWrite() (string, error) {
	m.mu.Lock()
	if !m.selection.Complete() {
		m.mu.Unlock()
		return "", usbwriter.ErrInvalidSelection
	}
	if m.session != nil {
		m.mu.Unlock()
		return "", usbwriter.ErrAlreadyWriting
	}

	now := m.deps.Clock.Now()
	s := &WriteSession{
		ID:         usbwriter.NewSessionID(now),
		ISO:        *m.selection.ISO,
		Device:     *m.selection.Device,
		StartedAt:  now,
		LastStatus: status.Started,
	}
	m.session = s
	if m.deps.Catalog != nil {
		m.deps.Catalog.Pause()
	}
	m.deps.Metrics.SetProgress(0)
	m.events.Enqueue(Event{
		Kind:      Started,
		SessionID: s.ID,
		Status:    status.Started,
		Message:   m.deps.Translator.Message(status.Started),
		Selection: m.selectionLocked(),
	})
	m.mu.Unlock()

	m.logger.WithFields(logrus.Fields{
		"session_id": s.ID,
		"iso":        s.ISO.Name,
		"device":     s.Device.ID,
	}).Info("write session started")
	m.events.Drain()

	m.deps.Go(func() { m.beginWrite(s) })
	return s.ID, nil
}

func (m *Manager) beginWrite(s *WriteSession) {
	ctx := context.Background()
	if m.deps.StartTimeout > 0 {
		var cancel context.CancelFunc
		ctx, cancel = context.WithTimeout(ctx, m.deps.StartTimeout)
		defer cancel()
	}

	_, err := m.deps.Backend.StartWrite(ctx, usbwriter.WriteRequest{
		ISOFile: s.ISO.Name,
		Device:  s.Device.ID,
	})
	if err != nil {
		m.rejectStart(s, err)
		return
	}

	m.mu.Lock()
	if m.session != s {
		m.mu.Unlock()
		m.logger.WithField("session_id", s.ID).Debug("write accepted after session ended, ignoring")
		return
	}
	s.Accepted = true
	m.mu.Unlock()

	if m.deps.Prefs != nil {
		if err := m.deps.Prefs.SaveSelection(s.ISO.Name, s.Device.ID); err != nil {
			m.logger.WithError(err).Warn("failed to remember selection")
		}
	}

	m.pollMu.Lock()
	defer m.pollMu.Unlock()
	if !m.isCurrent(s) {
		return
	}
	m.deps.Samples.Connect()
	if !m.isCurrent(s) {
		m.deps.Samples.Disconnect()
	}
}

func (m *Manager) isCurrent(s *WriteSession) bool {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.session == s
}

// rejectStart rolls back a session whose start request failed.
func (m *Manager) rejectStart(s *WriteSession, err error) {
	m.mu.Lock()
	if m.session != s {
		m.mu.Unlock()
		return
	}
	msg := usbwriter.ErrorMessage(err)
	rec := m.endLocked(s, usbwriter.OutcomeFailed)
	rec.FinalStatus = "error: " + msg
	m.events.Enqueue(Event{
		Kind:      Error,
		SessionID: s.ID,
		Progress:  s.LastProgress,
		Status:    rec.FinalStatus,
		Message:   msg,
		Err:       err,
	})
	m.mu.Unlock()

	m.logger.WithError(err).WithField("session_id", s.ID).Error("write request rejected")
	m.record(rec)
	m.events.Drain()
}

// Reduce folds one progress sample into the session. Terminal handling is
// total over both session states: with no active session every sample is a
// no-op, which makes duplicate and late completions harmless.
func (m *Manager) Reduce(sample usbwriter.ProgressSample) {
	cat := status.Classify(sample.Status)

	m.mu.Lock()
	s := m.session
	if s == nil {
		m.mu.Unlock()
		m.logger.WithFields(logrus.Fields{
			"progress": sample.Progress,
			"status":   sample.Status,
		}).Debug("ignoring sample without active session")
		return
	}

	if sample.SessionID != "" && sample.SessionID != s.ID {
		m.mu.Unlock()
		m.logger.WithFields(logrus.Fields{
			"session_id": s.ID,
			"sample_for": sample.SessionID,
			"phase":      sample.Phase,
		}).Debug("ignoring sample stamped for another session")
		return
	}

	progress := usbwriter.ClampProgress(sample.Progress)
	if progress < s.LastProgress {
		progress = s.LastProgress
	}

	var rec *usbwriter.SessionRecord
	switch cat {
	case status.CategoryCompleted:
		s.LastProgress = 100
		s.LastStatus = sample.Status
		r := m.endLocked(s, usbwriter.OutcomeCompleted)
		r.Forced = sample.Phase == watchdog.PhaseStall
		rec = &r
		m.events.Enqueue(
			Event{Kind: Progress, SessionID: s.ID, Progress: 100, Status: sample.Status, Message: m.deps.Translator.Message(sample.Status)},
			Event{Kind: Completed, SessionID: s.ID, Progress: 100, Status: sample.Status, Message: m.deps.Translator.Message(sample.Status), Forced: r.Forced},
		)

	case status.CategoryError:
		s.LastProgress = progress
		s.LastStatus = sample.Status
		r := m.endLocked(s, usbwriter.OutcomeFailed)
		rec = &r
		msg := m.deps.Translator.Message(sample.Status)
		m.events.Enqueue(
			Event{Kind: Progress, SessionID: s.ID, Progress: progress, Status: sample.Status, Message: msg},
			Event{Kind: Error, SessionID: s.ID, Progress: progress, Status: sample.Status, Message: msg,
				Err: &usbwriter.BackendError{Op: "write", Err: usbwriter.ErrWriteFailed, Message: sample.Status}},
		)

	default:
		s.LastProgress = progress
		s.LastStatus = sample.Status
		if sample.Status != s.LastLoggedStatus {
			s.LastLoggedStatus = sample.Status
			m.logger.WithFields(logrus.Fields{
				"session_id": s.ID,
				"status":     sample.Status,
				"progress":   progress,
			}).Info("write status changed")
		}
		m.deps.Metrics.SetProgress(progress)
		m.deps.Watchdog.Observe(s.ID, sample.Progress)
		m.events.Enqueue(Event{
			Kind:      Progress,
			SessionID: s.ID,
			Progress:  progress,
			Status:    sample.Status,
			Message:   m.deps.Translator.Message(sample.Status),
		})
	}
	m.mu.Unlock()

	// History is written before subscribers hear about the end of the
	// session, so a caller that exits on Completed finds it recorded.
	if rec != nil {
		m.logger.WithFields(logrus.Fields{
			"session_id": rec.ID,
			"outcome":    rec.Outcome,
			"status":     rec.FinalStatus,
			"forced":     rec.Forced,
		}).Info("write session finished")
		m.record(*rec)
	}
	m.events.Drain()
}

// endLocked deactivates s and restores idle behaviour: no watchdog, no
// polling, background refresh on.
func (m *Manager) endLocked(s *WriteSession, outcome string) usbwriter.SessionRecord {
	m.session = nil
	m.deps.Watchdog.Cancel()
	m.deps.Samples.Disconnect()
	if m.deps.Catalog != nil {
		m.deps.Catalog.Resume()
	}
	m.deps.Metrics.SessionFinished(outcome)
	m.deps.Metrics.SetProgress(0)
	return usbwriter.SessionRecord{
		ID:            s.ID,
		ISOName:       s.ISO.Name,
		DeviceID:      s.Device.ID,
		DeviceName:    s.Device.Name,
		StartedAt:     s.StartedAt,
		FinishedAt:    m.deps.Clock.Now(),
		Outcome:       outcome,
		FinalStatus:   s.LastStatus,
		FinalProgress: s.LastProgress,
	}
}

// ResetState returns to idle: no session, no selection, no watchdog,
// background refresh on. It is idempotent. The backend's status is reset
// best-effort in the background.
func (m *Manager) ResetState() {
	m.mu.Lock()
	s := m.session
	var rec *usbwriter.SessionRecord
	if s != nil {
		r := m.endLocked(s, usbwriter.OutcomeReset)
		rec = &r
	} else {
		m.deps.Watchdog.Cancel()
		m.deps.Samples.Disconnect()
		if m.deps.Catalog != nil {
			m.deps.Catalog.Resume()
		}
	}
	m.selection = usbwriter.Selection{}
	ev := Event{Kind: Reset}
	if s != nil {
		ev.SessionID = s.ID
	}
	m.events.Enqueue(ev)
	m.enqueueSelectionLocked()
	m.mu.Unlock()

	if rec != nil {
		m.logger.WithField("session_id", rec.ID).Info("write session reset")
		m.record(*rec)
	}
	m.events.Drain()

	m.deps.Go(func() {
		ctx, cancel := context.WithTimeout(context.Background(), 15*time.Second)
		defer cancel()
		if err := m.deps.Backend.ResetStatus(ctx); err != nil {
			m.logger.WithError(err).Warn("failed to reset backend status")
		}
	})
}

// pruneSelection clears selected items that vanished from the catalog.
func (m *Manager) pruneSelection(snap catalog.Snapshot) {
	m.mu.Lock()
	changed := false
	if iso := m.selection.ISO; iso != nil && !containsISO(snap.ISOs, iso.Name) {
		m.logger.WithField("iso", iso.Name).Info("selected ISO disappeared, clearing selection")
		m.selection.ISO = nil
		changed = true
	}
	if dev := m.selection.Device; dev != nil && !containsDevice(snap.Devices, dev.ID) {
		m.logger.WithField("device", dev.ID).Info("selected device disappeared, clearing selection")
		m.selection.Device = nil
		changed = true
	}
	if changed {
		m.enqueueSelectionLocked()
	}
	m.mu.Unlock()
	m.events.Drain()
}

func containsISO(isos []usbwriter.ISOFile, name string) bool {
	for _, iso := range isos {
		if iso.Name == name {
			return true
		}
	}
	return false
}

func containsDevice(devices []usbwriter.USBDevice, id string) bool {
	for _, d := range devices {
		if d.ID == id {
			return true
		}
	}
	return false
}

func (m *Manager) record(rec usbwriter.SessionRecord) {
	if m.deps.Journal == nil {
		return
	}
	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()
	if err := m.deps.Journal.RecordSession(ctx, rec); err != nil {
		m.logger.WithError(fmt.Errorf("record session %s: %w", rec.ID, err)).Warn("failed to record write session")
	}
}
