package mockbackend

import (
	"context"
	"time"

	"github.com/yakeru/usbwriter"
)

// Advance moves a running write to its next scripted step and reports
// whether one was applied. The final step ends the write.
func (s *Server) Advance() bool {
	s.mu.Lock()
	defer s.mu.Unlock()
	if !s.writing || s.step >= len(s.script) {
		return false
	}
	st := s.script[s.step]
	s.step++
	s.status = usbwriter.WriteStatus{Progress: st.Progress, Status: st.Status}
	if s.step >= len(s.script) {
		s.writing = false
	}
	return true
}

// Run advances the script every interval until ctx is done.
func (s *Server) Run(ctx context.Context, interval time.Duration) {
	t := time.NewTicker(interval)
	defer t.Stop()
	for {
		select {
		case <-ctx.Done():
			return
		case <-t.C:
			s.Advance()
		}
	}
}

// SetStatus overrides the reported write status.
func (s *Server) SetStatus(progress int, status string) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.status = usbwriter.WriteStatus{Progress: progress, Status: status}
}

// Status returns the currently reported write status.
func (s *Server) Status() usbwriter.WriteStatus {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.status
}

// Writing reports whether a scripted write is running.
func (s *Server) Writing() bool {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.writing
}

func (s *Server) SetISOs(isos []usbwriter.ISOFile) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.isos = isos
}

func (s *Server) SetDevices(devices []usbwriter.USBDevice) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.devices = devices
}

// SetLocked makes device enumeration answer 423.
func (s *Server) SetLocked(v bool) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.locked = v
}

// SetBlockedBody makes device enumeration answer 200 with a blocked body.
func (s *Server) SetBlockedBody(v bool) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.blockedBody = v
}

// SetAuthRequired makes device enumeration answer 401.
func (s *Server) SetAuthRequired(v bool) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.authRequired = v
}

// SetRescanFails makes POST /rescan-usb answer 500.
func (s *Server) SetRescanFails(v bool) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.rescanFails = v
}

// FailWrite makes POST /write answer code with msg in the error field.
// An empty msg restores normal behaviour.
func (s *Server) FailWrite(code int, msg string) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.writeStatusCode = code
	s.writeError = msg
}

// FailStatus makes GET /write-status answer code. Zero restores it.
func (s *Server) FailStatus(code int) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.statusCode = code
}

// SetMalformedStatus makes GET /write-status return invalid JSON.
func (s *Server) SetMalformedStatus(v bool) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.malformed = v
}

// FailResets makes the next n POST /reset-status calls answer 503.
func (s *Server) FailResets(n int) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.resetFailures = n
}

// Writes returns every write request received.
func (s *Server) Writes() []usbwriter.WriteRequest {
	s.mu.Lock()
	defer s.mu.Unlock()
	return append([]usbwriter.WriteRequest{}, s.writes...)
}

// Hits reports request counts per endpoint.
type Hits struct {
	ISOs, Devices, Rescans, Status, Resets int
}

func (s *Server) Hits() Hits {
	s.mu.Lock()
	defer s.mu.Unlock()
	return Hits{
		ISOs:    s.isoHits,
		Devices: s.deviceHits,
		Rescans: s.rescanHits,
		Status:  s.statusHits,
		Resets:  s.resets,
	}
}
