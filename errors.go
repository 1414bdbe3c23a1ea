package usbwriter

import (
	"errors"
	"fmt"
)

var (
	// ErrInvalidSelection is returned by StartWrite when the ISO or the device
	// is not selected.
	ErrInvalidSelection = errors.New("invalid selection")

	// ErrAlreadyWriting is returned by StartWrite while a session is active.
	ErrAlreadyWriting = errors.New("write already in progress")

	// ErrTransport covers network failures and timeouts of any backend call.
	ErrTransport = errors.New("backend transport error")

	// ErrParse is returned when a backend body is not the expected JSON.
	ErrParse = errors.New("malformed backend response")

	// ErrBackendBusy means the backend refused enumeration (HTTP 423 or a
	// "blocked" body). Callers keep their last known data.
	ErrBackendBusy = errors.New("backend busy")

	// ErrBackendAuth means the backend answered 401 on device enumeration.
	// Callers keep their last known data.
	ErrBackendAuth = errors.New("backend refused device enumeration")

	// ErrWriteFailed is a rejected write request or a terminal error_* status.
	ErrWriteFailed = errors.New("write failed")
)

// BackendError describes a failed backend call. Err is always one of the
// package sentinels so callers can use errors.Is.
type BackendError struct {
	Op         string
	StatusCode int
	Message    string
	Err        error
}

func (e *BackendError) Error() string {
	switch {
	case e.Message != "" && e.StatusCode != 0:
		return fmt.Sprintf("%s: %v (http %d): %s", e.Op, e.Err, e.StatusCode, e.Message)
	case e.Message != "":
		return fmt.Sprintf("%s: %v: %s", e.Op, e.Err, e.Message)
	case e.StatusCode != 0:
		return fmt.Sprintf("%s: %v (http %d)", e.Op, e.Err, e.StatusCode)
	default:
		return fmt.Sprintf("%s: %v", e.Op, e.Err)
	}
}

func (e *BackendError) Unwrap() error { return e.Err }

// IsNoUpdate reports whether err means "the backend has nothing new to say"
// rather than a failure. List consumers keep their previous data.
func IsNoUpdate(err error) bool {
	return errors.Is(err, ErrBackendBusy) || errors.Is(err, ErrBackendAuth)
}

// ErrorMessage returns the human part of err: the backend message when there
// is one, otherwise err.Error().
func ErrorMessage(err error) string {
	if err == nil {
		return ""
	}
	var be *BackendError
	if errors.As(err, &be) && be.Message != "" {
		return be.Message
	}
	return err.Error()
}
