// Package wizard maps the user's navigation buttons onto the session manager
// and the screen controller.
package wizard

import (
	"errors"
	"fmt"

	"github.com/sirupsen/logrus"

	"github.com/yakeru/usbwriter"
	"github.com/yakeru/usbwriter/screens"
)

// ErrNotAllowed is returned when a button is not available on the current
// screen or its precondition is not met.
var ErrNotAllowed = errors.New("action not allowed on this screen")

// Sessions is the part of the session manager the wizard drives.
type Sessions interface {
	SelectISO(iso *usbwriter.ISOFile)
	SelectDevice(dev *usbwriter.USBDevice)
	Selection() usbwriter.Selection
	CanStart() bool
	Active() bool
	StartWrite() (string, error)
	ResetState()
}

// Lists resolves names from the refreshed catalog.
type Lists interface {
	FindISO(name string) (usbwriter.ISOFile, bool)
	FindDevice(id string) (usbwriter.USBDevice, bool)
}

// QuitDecision is the answer to a quit request.
type QuitDecision int

const (
	QuitNow QuitDecision = iota
	// NeedsConfirm means a write is active and the user must confirm.
	NeedsConfirm
)

// Wizard is stateless beyond its collaborators; the screen controller and
// the session manager hold all state.
type Wizard struct {
	sessions Sessions
	screens  *screens.Controller
	lists    Lists
	logger   logrus.FieldLogger
}

func New(s Sessions, c *screens.Controller, lists Lists, logger logrus.FieldLogger) *Wizard {
	if logger == nil {
		logger = logrus.StandardLogger()
	}
	return &Wizard{
		sessions: s,
		screens:  c,
		lists:    lists,
		logger:   logger.WithField("component", "wizard"),
	}
}

// Next advances one screen if the current screen's requirement is met.
func (w *Wizard) Next() error {
	sel := w.sessions.Selection()
	switch cur := w.screens.Current(); cur {
	case screens.Title:
		w.screens.RequestTransition(screens.IsoSelection)
	case screens.IsoSelection:
		if sel.ISO == nil {
			return fmt.Errorf("%w: select an ISO first", ErrNotAllowed)
		}
		w.screens.RequestTransition(screens.DeviceSelection)
	case screens.DeviceSelection:
		if sel.Device == nil {
			return fmt.Errorf("%w: select a device first", ErrNotAllowed)
		}
		w.screens.RequestTransition(screens.Confirmation)
	default:
		return fmt.Errorf("%w: next on %s", ErrNotAllowed, cur)
	}
	return nil
}

// Back returns to the previous screen. It is disabled on Writing and Result.
func (w *Wizard) Back() error {
	switch cur := w.screens.Current(); cur {
	case screens.IsoSelection:
		w.screens.RequestTransition(screens.Title)
	case screens.DeviceSelection:
		w.screens.RequestTransition(screens.IsoSelection)
	case screens.Confirmation:
		w.screens.RequestTransition(screens.DeviceSelection)
	default:
		return fmt.Errorf("%w: back on %s", ErrNotAllowed, cur)
	}
	return nil
}

// Write starts the write from the Confirmation screen. The Writing screen is
// requested before the session starts so a start failure reported by the
// session manager can still move the user on to Result.
func (w *Wizard) Write() (string, error) {
	if cur := w.screens.Current(); cur != screens.Confirmation {
		return "", fmt.Errorf("%w: write on %s", ErrNotAllowed, cur)
	}
	if !w.sessions.CanStart() {
		if w.sessions.Active() {
			return "", usbwriter.ErrAlreadyWriting
		}
		return "", usbwriter.ErrInvalidSelection
	}
	w.screens.RequestTransition(screens.Writing)
	id, err := w.sessions.StartWrite()
	if err != nil {
		w.logger.WithError(err).Warn("write not started")
		w.screens.RequestTransition(screens.Confirmation)
		return "", err
	}
	return id, nil
}

// Finish leaves Result: the session state and the backend status are reset
// and the wizard starts over at Title.
func (w *Wizard) Finish() error {
	if cur := w.screens.Current(); cur != screens.Result {
		return fmt.Errorf("%w: finish on %s", ErrNotAllowed, cur)
	}
	w.sessions.ResetState()
	w.screens.RequestTransition(screens.Title)
	return nil
}

// Quit reports whether the application may exit. While a write is active
// the caller must ask the user and call Quit again with confirmed set.
func (w *Wizard) Quit(confirmed bool) QuitDecision {
	if w.sessions.Active() && !confirmed {
		return NeedsConfirm
	}
	if w.sessions.Active() {
		w.logger.Warn("quitting with an active write")
	}
	return QuitNow
}

// SelectISO selects the ISO with the given name from the current list.
func (w *Wizard) SelectISO(name string) error {
	iso, ok := w.lists.FindISO(name)
	if !ok {
		return fmt.Errorf("iso %q not in list", name)
	}
	w.sessions.SelectISO(&iso)
	return nil
}

// SelectDevice selects the device with the given id from the current list.
func (w *Wizard) SelectDevice(id string) error {
	dev, ok := w.lists.FindDevice(id)
	if !ok {
		return fmt.Errorf("device %q not in list", id)
	}
	w.sessions.SelectDevice(&dev)
	return nil
}

// RestoreSelection re-selects a remembered ISO and device when both are still
// listed. Items no longer present are skipped silently.
func (w *Wizard) RestoreSelection(isoName, deviceID string) (restored bool) {
	if isoName != "" {
		if err := w.SelectISO(isoName); err == nil {
			restored = true
		}
	}
	if deviceID != "" {
		if err := w.SelectDevice(deviceID); err == nil {
			restored = true
		}
	}
	if restored {
		w.logger.WithFields(logrus.Fields{
			"iso":    isoName,
			"device": deviceID,
		}).Info("restored previous selection")
	}
	return restored
}
