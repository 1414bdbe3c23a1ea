// Package screens is the screen transition state machine of the writer UI.
//
// A transition always passes through ExitingCurrent and EnteringNext before
// its target becomes current. Each phase ends when the Animator reports the
// screen hidden or shown; the Controller polls it once per Tick.
package screens

// Screen is one wizard screen.
type Screen int

const (
	Title Screen = iota
	IsoSelection
	DeviceSelection
	Confirmation
	Writing
	Result
)

func (s Screen) String() string {
	switch s {
	case Title:
		return "title"
	case IsoSelection:
		return "iso_selection"
	case DeviceSelection:
		return "device_selection"
	case Confirmation:
		return "confirmation"
	case Writing:
		return "writing"
	case Result:
		return "result"
	default:
		return "unknown"
	}
}

// Phase is the transition sub-state.
type Phase int

const (
	Idle Phase = iota
	ExitingCurrent
	EnteringNext
)

func (p Phase) String() string {
	switch p {
	case Idle:
		return "idle"
	case ExitingCurrent:
		return "exiting"
	case EnteringNext:
		return "entering"
	default:
		return "unknown"
	}
}
