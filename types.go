package usbwriter

import (
	"encoding/json"
	"time"
)

// ISOFile is one entry of the backend's ISO listing.
type ISOFile struct {
	// Name is the file name and the identifier sent to the write endpoint.
	Name string `json:"name"`

	// Size is the file size in bytes.
	Size int64 `json:"size"`

	// SizeFormatted is the backend's human readable size (e.g. "4.7 GB").
	SizeFormatted string `json:"size_formatted"`

	// Path is the absolute path on the backend host.
	Path string `json:"path"`
}

// USBDevice is one entry of the backend's removable device listing.
type USBDevice struct {
	// ID is the backend device identifier (e.g. "sdb", "PhysicalDrive2").
	ID string `json:"id"`

	// Name is the product name reported by the OS.
	Name string `json:"name"`

	// Size is a preformatted capacity string; the backend does not send bytes.
	Size string `json:"size"`

	Vendor     string `json:"vendor"`
	Status     string `json:"status"`
	Mountpoint string `json:"mountpoint"`
}

// ISOListResponse is the body of GET /isos.
type ISOListResponse struct {
	ISOs []ISOFile `json:"isos"`
}

// DeviceListResponse is the body of GET /usb-devices and POST /rescan-usb.
//
// While a write is running the backend may answer with a "blocked" body
// instead of a device list.
type DeviceListResponse struct {
	Devices []USBDevice `json:"devices"`
	Blocked bool        `json:"blocked,omitempty"`
	Message string      `json:"message,omitempty"`
}

// WriteRequest is the body of POST /write.
type WriteRequest struct {
	ISOFile string `json:"iso_file"`
	Device  string `json:"device"`
}

// Marshal serializes the request to JSON.
func (r WriteRequest) Marshal() ([]byte, error) {
	return json.Marshal(r)
}

// WriteResponse is the body returned by POST /write.
type WriteResponse struct {
	Status string `json:"status,omitempty"`
	Error  string `json:"error,omitempty"`
}

// WriteStatus is the body of GET /write-status.
type WriteStatus struct {
	Progress int    `json:"progress"`
	Status   string `json:"status"`
}

// Sample converts the wire status into a ProgressSample.
func (s WriteStatus) Sample() ProgressSample {
	return ProgressSample{Progress: ClampProgress(s.Progress), Status: s.Status}
}

// ProgressSample is one progress/status snapshot. Samples are values and are
// never mutated after they are emitted.
type ProgressSample struct {
	Progress int    `json:"progress"`
	Status   string `json:"status"`

	// Phase names the producer when it is not the backend, e.g. "stall" for
	// completions synthesized by the watchdog or "direct" for fallback checks.
	Phase string `json:"phase,omitempty"`

	// SessionID is set on synthesized samples that belong to one session.
	// Backend samples leave it empty.
	SessionID string `json:"session_id,omitempty"`
}

// Same reports whether two samples carry the same progress and status.
// Phase and SessionID are ignored.
func (s ProgressSample) Same(o ProgressSample) bool {
	return s.Progress == o.Progress && s.Status == o.Status
}

// Selection is the user's current choice of image and target device.
// Nil fields mean "not selected".
type Selection struct {
	ISO    *ISOFile   `json:"iso,omitempty"`
	Device *USBDevice `json:"device,omitempty"`
}

// Complete reports whether both an ISO and a device are selected.
func (s Selection) Complete() bool {
	return s.ISO != nil && s.Device != nil
}

// SessionRecord summarizes a finished write session.
type SessionRecord struct {
	ID            string    `json:"id"`
	ISOName       string    `json:"iso_name"`
	DeviceID      string    `json:"device_id"`
	DeviceName    string    `json:"device_name"`
	StartedAt     time.Time `json:"started_at"`
	FinishedAt    time.Time `json:"finished_at"`
	Outcome       string    `json:"outcome"`
	FinalStatus   string    `json:"final_status"`
	FinalProgress int       `json:"final_progress"`

	// Forced is set when the stall watchdog synthesized the completion.
	Forced bool `json:"forced"`
}

// Session outcomes stored in SessionRecord.Outcome.
const (
	OutcomeCompleted = "completed"
	OutcomeFailed    = "failed"
	OutcomeReset     = "reset"
)

// ClampProgress bounds p to 0..100.
func ClampProgress(p int) int {
	switch {
	case p < 0:
		return 0
	case p > 100:
		return 100
	default:
		return p
	}
}
