// Package mockbackend is an in-process stand-in for the ISO writer backend.
//
// It serves the same JSON API under /api and lets callers script every
// failure mode the client has to survive: locked enumeration, 401s, write
// rejections, malformed status bodies and stalled progress.
package mockbackend

import (
	"encoding/json"
	"fmt"
	"net/http"
	"sync"

	"github.com/go-chi/chi/v5"
	"github.com/go-chi/chi/v5/middleware"
	"github.com/sirupsen/logrus"

	"github.com/yakeru/usbwriter"
)

// Step is one scripted backend status.
type Step struct {
	Progress int
	Status   string
}

// DefaultScript mirrors the status sequence of a Linux write, including the
// progress dip from flushing at 100 to finalizing at 99.
func DefaultScript() []Step {
	steps := []Step{
		{0, "started"},
		{0, "preparing_disk"},
		{0, "disk_prepared"},
		{0, "opening_device"},
		{0, "writing"},
	}
	for p := 10; p <= 90; p += 10 {
		steps = append(steps, Step{p, "writing"})
	}
	return append(steps,
		Step{100, "flushing"},
		Step{100, "syncing"},
		Step{99, "finalizing"},
		Step{100, "completed"},
	)
}

// Config seeds the server.
type Config struct {
	ISOs    []usbwriter.ISOFile
	Devices []usbwriter.USBDevice
	Script  []Step
	Logger  logrus.FieldLogger

	// LockDuringWrite answers 423 on device enumeration while a scripted
	// write is running, the way the Windows backend does.
	LockDuringWrite bool
}

// Server is the mock backend. All exported methods are safe for concurrent use.
type Server struct {
	logger logrus.FieldLogger
	router chi.Router

	mu              sync.Mutex
	isos            []usbwriter.ISOFile
	devices         []usbwriter.USBDevice
	script          []Step
	step            int
	writing         bool
	status          usbwriter.WriteStatus
	lockDuringWrite bool
	locked          bool
	blockedBody     bool
	authRequired    bool
	rescanFails     bool
	writeError      string
	writeStatusCode int
	statusCode      int
	malformed       bool
	resetFailures   int

	writes     []usbwriter.WriteRequest
	resets     int
	statusHits int
	deviceHits int
	rescanHits int
	isoHits    int
}

// New returns a server seeded from cfg.
func New(cfg Config) *Server {
	if cfg.Logger == nil {
		cfg.Logger = logrus.StandardLogger()
	}
	if cfg.Script == nil {
		cfg.Script = DefaultScript()
	}
	s := &Server{
		logger:          cfg.Logger.WithField("component", "mock-backend"),
		isos:            cfg.ISOs,
		devices:         cfg.Devices,
		script:          cfg.Script,
		lockDuringWrite: cfg.LockDuringWrite,
		status:          usbwriter.WriteStatus{Progress: 0, Status: "idle"},
	}
	s.router = s.routes()
	return s
}

func (s *Server) routes() chi.Router {
	r := chi.NewRouter()
	r.Use(middleware.Recoverer)
	r.Route("/api", func(r chi.Router) {
		r.Get("/health", s.handleHealth)
		r.Get("/isos", s.handleISOs)
		r.Get("/usb-devices", s.handleDevices)
		r.Post("/rescan-usb", s.handleRescan)
		r.Post("/write", s.handleWrite)
		r.Get("/write-status", s.handleWriteStatus)
		r.Post("/reset-status", s.handleResetStatus)
	})
	return r
}

// Handler returns the HTTP handler serving /api.
func (s *Server) Handler() http.Handler { return s.router }

func (s *Server) handleHealth(w http.ResponseWriter, r *http.Request) {
	writeJSON(w, http.StatusOK, map[string]string{"status": "ok"})
}

func (s *Server) handleISOs(w http.ResponseWriter, r *http.Request) {
	s.mu.Lock()
	s.isoHits++
	isos := append([]usbwriter.ISOFile{}, s.isos...)
	s.mu.Unlock()
	writeJSON(w, http.StatusOK, usbwriter.ISOListResponse{ISOs: isos})
}

// deviceReply decides the device listing answer. Caller holds s.mu.
func (s *Server) deviceReply(w http.ResponseWriter) {
	switch {
	case s.authRequired:
		writeJSON(w, http.StatusUnauthorized, map[string]string{"error": "unauthorized"})
	case s.locked || (s.lockDuringWrite && s.writing):
		writeJSON(w, http.StatusLocked, map[string]string{"error": "device enumeration locked during write"})
	case s.blockedBody:
		writeJSON(w, http.StatusOK, map[string]any{"blocked": true, "message": "write in progress"})
	default:
		writeJSON(w, http.StatusOK, usbwriter.DeviceListResponse{Devices: append([]usbwriter.USBDevice{}, s.devices...)})
	}
}

func (s *Server) handleDevices(w http.ResponseWriter, r *http.Request) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.deviceHits++
	s.deviceReply(w)
}

func (s *Server) handleRescan(w http.ResponseWriter, r *http.Request) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.rescanHits++
	if s.rescanFails {
		writeJSON(w, http.StatusInternalServerError, map[string]string{"error": "rescan failed"})
		return
	}
	s.deviceReply(w)
}

func (s *Server) handleWrite(w http.ResponseWriter, r *http.Request) {
	var req usbwriter.WriteRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		writeJSON(w, http.StatusBadRequest, map[string]string{"error": "invalid request body"})
		return
	}

	s.mu.Lock()
	defer s.mu.Unlock()
	s.writes = append(s.writes, req)

	if req.ISOFile == "" || req.Device == "" {
		writeJSON(w, http.StatusBadRequest, map[string]string{"error": "ISO file and device must be specified"})
		return
	}
	if s.writeError != "" {
		code := s.writeStatusCode
		if code == 0 {
			code = http.StatusInternalServerError
		}
		writeJSON(w, code, map[string]string{"error": s.writeError})
		return
	}
	if !s.hasISO(req.ISOFile) {
		writeJSON(w, http.StatusNotFound, map[string]string{"error": fmt.Sprintf("ISO file %s not found", req.ISOFile)})
		return
	}

	s.writing = true
	s.step = 0
	s.status = usbwriter.WriteStatus{Progress: 0, Status: "started"}
	s.logger.WithFields(logrus.Fields{"iso": req.ISOFile, "device": req.Device}).Info("write started")
	writeJSON(w, http.StatusOK, usbwriter.WriteResponse{Status: "Writing started"})
}

func (s *Server) hasISO(name string) bool {
	if len(s.isos) == 0 {
		return true
	}
	for _, iso := range s.isos {
		if iso.Name == name {
			return true
		}
	}
	return false
}

func (s *Server) handleWriteStatus(w http.ResponseWriter, r *http.Request) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.statusHits++
	switch {
	case s.statusCode != 0:
		writeJSON(w, s.statusCode, map[string]string{"error": "status unavailable"})
	case s.malformed:
		w.Header().Set("Content-Type", "application/json")
		w.WriteHeader(http.StatusOK)
		_, _ = w.Write([]byte(`{"progress": "fifty", `))
	default:
		writeJSON(w, http.StatusOK, s.status)
	}
}

func (s *Server) handleResetStatus(w http.ResponseWriter, r *http.Request) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.resets++
	if s.resetFailures > 0 {
		s.resetFailures--
		writeJSON(w, http.StatusServiceUnavailable, map[string]string{"error": "busy"})
		return
	}
	s.writing = false
	s.step = 0
	s.status = usbwriter.WriteStatus{Progress: 0, Status: "idle"}
	writeJSON(w, http.StatusOK, map[string]string{"status": "reset"})
}

func writeJSON(w http.ResponseWriter, code int, v any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(code)
	_ = json.NewEncoder(w).Encode(v)
}
