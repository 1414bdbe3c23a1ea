package session

import (
	"time"

	"github.com/yakeru/usbwriter"
)

// Kind identifies a session event.
type Kind int

const (
	// Started is emitted synchronously by StartWrite, before the backend
	// has answered.
	Started Kind = iota
	Progress
	Completed
	Error
	// SelectionChanged carries the new selection.
	SelectionChanged
	// Reset is emitted by ResetState.
	Reset
)

func (k Kind) String() string {
	switch k {
	case Started:
		return "started"
	case Progress:
		return "progress"
	case Completed:
		return "completed"
	case Error:
		return "error"
	case SelectionChanged:
		return "selection"
	case Reset:
		return "reset"
	default:
		return "unknown"
	}
}

// Event is delivered to Manager subscribers in the order the underlying
// state changes happened.
type Event struct {
	Kind      Kind
	SessionID string

	Progress int
	Status   string
	// Message is the display text for Status, or the failure reason for
	// Error events.
	Message string
	Err     error

	// Forced is set on Completed when the stall watchdog synthesized it.
	Forced bool

	Selection usbwriter.Selection
}

// WriteSession is the state of the active write. The Manager owns it;
// Session returns copies.
type WriteSession struct {
	ID        string
	ISO       usbwriter.ISOFile
	Device    usbwriter.USBDevice
	StartedAt time.Time

	// Accepted is set once the backend acknowledged the write request.
	Accepted bool

	LastStatus       string
	LastLoggedStatus string
	LastProgress     int
}
