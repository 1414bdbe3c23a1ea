// Package backend is the HTTP client for the ISO writer backend API.
//
// Every call maps its failure onto the usbwriter error taxonomy:
// network failures and timeouts are ErrTransport, undecodable bodies are
// ErrParse, 423 and "blocked" device listings are ErrBackendBusy, 401 on
// device listing is ErrBackendAuth and rejected writes are ErrWriteFailed.
package backend

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"strings"
	"time"

	"github.com/cenkalti/backoff/v4"
	"github.com/sirupsen/logrus"
	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/codes"
	"go.opentelemetry.io/otel/trace"

	"github.com/yakeru/usbwriter"
	"github.com/yakeru/usbwriter/metrics"
)

const tracerName = "github.com/yakeru/usbwriter/backend"

// maxBodySize bounds how much of a reply is read.
const maxBodySize = 1 << 20

// Config holds backend client configuration.
type Config struct {
	// BaseURL is the API root, e.g. "http://localhost:5000/api".
	BaseURL string

	// Per-endpoint timeouts.
	ListTimeout   time.Duration
	DeviceTimeout time.Duration
	WriteTimeout  time.Duration
	StatusTimeout time.Duration
	ResetTimeout  time.Duration
	HealthTimeout time.Duration

	// ResetRetries is how many times POST /reset-status is retried.
	ResetRetries uint64

	HTTPClient *http.Client
	Logger     logrus.FieldLogger
	Metrics    *metrics.Metrics
}

// DefaultConfig returns the timeouts used by the desktop client.
func DefaultConfig() Config {
	return Config{
		BaseURL:       "http://localhost:5000/api",
		ListTimeout:   10 * time.Second,
		DeviceTimeout: 15 * time.Second,
		WriteTimeout:  30 * time.Second,
		StatusTimeout: 3 * time.Second,
		ResetTimeout:  5 * time.Second,
		HealthTimeout: 5 * time.Second,
		ResetRetries:  3,
	}
}

// Client talks to the backend. It is safe for concurrent use.
type Client struct {
	cfg     Config
	http    *http.Client
	logger  logrus.FieldLogger
	metrics *metrics.Metrics
	tracer  trace.Tracer
}

// New creates a client. Zero fields in cfg take their DefaultConfig values.
func New(cfg Config) *Client {
	def := DefaultConfig()
	if cfg.BaseURL == "" {
		cfg.BaseURL = def.BaseURL
	}
	cfg.BaseURL = strings.TrimRight(cfg.BaseURL, "/")
	if cfg.ListTimeout <= 0 {
		cfg.ListTimeout = def.ListTimeout
	}
	if cfg.DeviceTimeout <= 0 {
		cfg.DeviceTimeout = def.DeviceTimeout
	}
	if cfg.WriteTimeout <= 0 {
		cfg.WriteTimeout = def.WriteTimeout
	}
	if cfg.StatusTimeout <= 0 {
		cfg.StatusTimeout = def.StatusTimeout
	}
	if cfg.ResetTimeout <= 0 {
		cfg.ResetTimeout = def.ResetTimeout
	}
	if cfg.HealthTimeout <= 0 {
		cfg.HealthTimeout = def.HealthTimeout
	}
	if cfg.ResetRetries == 0 {
		cfg.ResetRetries = def.ResetRetries
	}
	if cfg.HTTPClient == nil {
		cfg.HTTPClient = &http.Client{}
	}
	if cfg.Logger == nil {
		cfg.Logger = logrus.StandardLogger()
	}
	return &Client{
		cfg:     cfg,
		http:    cfg.HTTPClient,
		logger:  cfg.Logger.WithField("component", "backend-client"),
		metrics: cfg.Metrics,
		tracer:  otel.Tracer(tracerName),
	}
}

// BaseURL returns the API root the client talks to.
func (c *Client) BaseURL() string { return c.cfg.BaseURL }

// reply is a completed HTTP exchange.
type reply struct {
	code int
	body []byte
}

func (r reply) ok() bool { return r.code >= 200 && r.code < 300 }

// do performs one request. Only transport failures are returned as errors;
// status code handling is left to the caller.
func (c *Client) do(ctx context.Context, op, method, path string, body any, timeout time.Duration) (reply, error) {
	ctx, cancel := context.WithTimeout(ctx, timeout)
	defer cancel()

	ctx, span := c.tracer.Start(ctx, "backend."+op,
		trace.WithSpanKind(trace.SpanKindClient),
		trace.WithAttributes(
			attribute.String("http.method", method),
			attribute.String("http.route", path),
		))
	defer span.End()

	timer := c.metrics.StartBackend(path, c.logger)
	defer timer.StopWithThreshold(timeout / 2)

	var rd io.Reader
	if body != nil {
		data, err := json.Marshal(body)
		if err != nil {
			return reply{}, fmt.Errorf("failed to encode %s request: %w", op, err)
		}
		rd = bytes.NewReader(data)
	}

	req, err := http.NewRequestWithContext(ctx, method, c.cfg.BaseURL+path, rd)
	if err != nil {
		return reply{}, fmt.Errorf("failed to build %s request: %w", op, err)
	}
	req.Header.Set("Accept", "application/json")
	if body != nil {
		req.Header.Set("Content-Type", "application/json")
	}

	resp, err := c.http.Do(req)
	if err != nil {
		span.RecordError(err)
		span.SetStatus(codes.Error, "transport")
		return reply{}, &usbwriter.BackendError{Op: op, Err: usbwriter.ErrTransport, Message: err.Error()}
	}
	defer resp.Body.Close()

	data, err := io.ReadAll(io.LimitReader(resp.Body, maxBodySize))
	if err != nil {
		span.RecordError(err)
		span.SetStatus(codes.Error, "read body")
		return reply{}, &usbwriter.BackendError{Op: op, StatusCode: resp.StatusCode, Err: usbwriter.ErrTransport, Message: err.Error()}
	}

	span.SetAttributes(attribute.Int("http.status_code", resp.StatusCode))
	if resp.StatusCode >= 400 {
		span.SetStatus(codes.Error, http.StatusText(resp.StatusCode))
	}
	return reply{code: resp.StatusCode, body: data}, nil
}

// errorField extracts {"error": "..."} from body, falling back to the raw
// body text.
func errorField(body []byte) string {
	var v struct {
		Error string `json:"error"`
	}
	if err := json.Unmarshal(body, &v); err == nil && v.Error != "" {
		return v.Error
	}
	return strings.TrimSpace(string(body))
}

func parseError(op string, code int, err error) error {
	return &usbwriter.BackendError{Op: op, StatusCode: code, Err: usbwriter.ErrParse, Message: err.Error()}
}

// ListISOs returns the ISO images available to the backend.
func (c *Client) ListISOs(ctx context.Context) ([]usbwriter.ISOFile, error) {
	const op = "list-isos"
	r, err := c.do(ctx, op, http.MethodGet, "/isos", nil, c.cfg.ListTimeout)
	if err != nil {
		return nil, err
	}
	if !r.ok() {
		return nil, &usbwriter.BackendError{Op: op, StatusCode: r.code, Err: usbwriter.ErrTransport, Message: errorField(r.body)}
	}
	var out usbwriter.ISOListResponse
	if err := json.Unmarshal(r.body, &out); err != nil {
		return nil, parseError(op, r.code, err)
	}
	return out.ISOs, nil
}

// ListDevices returns the removable devices. ErrBackendAuth and
// ErrBackendBusy mean the caller should keep its last known list.
func (c *Client) ListDevices(ctx context.Context) ([]usbwriter.USBDevice, error) {
	return c.devices(ctx, "list-devices", http.MethodGet, "/usb-devices")
}

// RescanDevices asks the backend to re-enumerate devices and returns the
// fresh list. It fails the same way ListDevices does.
func (c *Client) RescanDevices(ctx context.Context) ([]usbwriter.USBDevice, error) {
	return c.devices(ctx, "rescan-devices", http.MethodPost, "/rescan-usb")
}

func (c *Client) devices(ctx context.Context, op, method, path string) ([]usbwriter.USBDevice, error) {
	r, err := c.do(ctx, op, method, path, nil, c.cfg.DeviceTimeout)
	if err != nil {
		return nil, err
	}
	switch {
	case r.code == http.StatusUnauthorized:
		return nil, &usbwriter.BackendError{Op: op, StatusCode: r.code, Err: usbwriter.ErrBackendAuth}
	case r.code == http.StatusLocked:
		return nil, &usbwriter.BackendError{Op: op, StatusCode: r.code, Err: usbwriter.ErrBackendBusy, Message: errorField(r.body)}
	case !r.ok():
		return nil, &usbwriter.BackendError{Op: op, StatusCode: r.code, Err: usbwriter.ErrTransport, Message: errorField(r.body)}
	}

	// Pointers tell a missing key from a zero value: a reply with "blocked"
	// and "message" but no "devices" means enumeration is refused.
	var out struct {
		Devices *[]usbwriter.USBDevice `json:"devices"`
		Blocked *bool                  `json:"blocked"`
		Message *string                `json:"message"`
	}
	if err := json.Unmarshal(r.body, &out); err != nil {
		return nil, parseError(op, r.code, err)
	}
	if out.Devices == nil {
		if out.Blocked != nil && out.Message != nil {
			return nil, &usbwriter.BackendError{Op: op, StatusCode: r.code, Err: usbwriter.ErrBackendBusy, Message: *out.Message}
		}
		return nil, nil
	}
	return *out.Devices, nil
}

// StartWrite asks the backend to write req.ISOFile to req.Device. A non-2xx
// reply or a non-empty error field is ErrWriteFailed carrying the message.
func (c *Client) StartWrite(ctx context.Context, req usbwriter.WriteRequest) (usbwriter.WriteResponse, error) {
	const op = "start-write"
	c.logger.WithFields(logrus.Fields{"iso": req.ISOFile, "device": req.Device}).Info("requesting write")

	r, err := c.do(ctx, op, http.MethodPost, "/write", req, c.cfg.WriteTimeout)
	if err != nil {
		return usbwriter.WriteResponse{}, err
	}
	if !r.ok() {
		return usbwriter.WriteResponse{}, &usbwriter.BackendError{Op: op, StatusCode: r.code, Err: usbwriter.ErrWriteFailed, Message: errorField(r.body)}
	}
	var out usbwriter.WriteResponse
	if err := json.Unmarshal(r.body, &out); err != nil {
		return usbwriter.WriteResponse{}, parseError(op, r.code, err)
	}
	if out.Error != "" {
		return out, &usbwriter.BackendError{Op: op, StatusCode: r.code, Err: usbwriter.ErrWriteFailed, Message: out.Error}
	}
	return out, nil
}

// WriteStatus fetches the current write progress.
func (c *Client) WriteStatus(ctx context.Context) (usbwriter.WriteStatus, error) {
	const op = "write-status"
	r, err := c.do(ctx, op, http.MethodGet, "/write-status", nil, c.cfg.StatusTimeout)
	if err != nil {
		return usbwriter.WriteStatus{}, err
	}
	if !r.ok() {
		return usbwriter.WriteStatus{}, &usbwriter.BackendError{Op: op, StatusCode: r.code, Err: usbwriter.ErrTransport, Message: errorField(r.body)}
	}
	var out usbwriter.WriteStatus
	if err := json.Unmarshal(r.body, &out); err != nil {
		return usbwriter.WriteStatus{}, parseError(op, r.code, err)
	}
	return out, nil
}

// ResetStatus clears the backend's write status, retrying with exponential
// backoff. Callers treat it as fire-and-forget and only log the error.
func (c *Client) ResetStatus(ctx context.Context) error {
	const op = "reset-status"
	b := backoff.NewExponentialBackOff()
	b.InitialInterval = 200 * time.Millisecond
	b.MaxInterval = 2 * time.Second
	policy := backoff.WithContext(backoff.WithMaxRetries(b, c.cfg.ResetRetries), ctx)

	attempt := 0
	return backoff.Retry(func() error {
		attempt++
		r, err := c.do(ctx, op, http.MethodPost, "/reset-status", nil, c.cfg.ResetTimeout)
		if err != nil {
			c.logger.WithError(err).WithField("attempt", attempt).Debug("reset-status attempt failed")
			return err
		}
		if !r.ok() {
			return &usbwriter.BackendError{Op: op, StatusCode: r.code, Err: usbwriter.ErrTransport, Message: errorField(r.body)}
		}
		return nil
	}, policy)
}

// Health checks that the backend answers GET /health.
func (c *Client) Health(ctx context.Context) error {
	const op = "health"
	r, err := c.do(ctx, op, http.MethodGet, "/health", nil, c.cfg.HealthTimeout)
	if err != nil {
		return err
	}
	if !r.ok() {
		return &usbwriter.BackendError{Op: op, StatusCode: r.code, Err: usbwriter.ErrTransport}
	}
	return nil
}
