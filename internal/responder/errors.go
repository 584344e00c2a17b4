package responder

import (
	"errors"
	"fmt"
)

var (
	// ErrTransport indicates the remote service could not be reached.
	ErrTransport = errors.New("responder transport failed")
	// ErrStatus indicates the remote service answered with a non-success status.
	ErrStatus = errors.New("responder returned non-success status")
	// ErrMalformed indicates the remote payload could not be decoded into an answer.
	ErrMalformed = errors.New("responder returned malformed answer")
	// ErrUnavailable indicates no remote responder is configured.
	ErrUnavailable = errors.New("remote responder not configured")
)

// StatusError carries the HTTP or RPC status of a rejected call.
type StatusError struct {
	Code    int
	Message string
}

func (e *StatusError) Error() string {
	if e.Message == "" {
		return fmt.Sprintf("status %d", e.Code)
	}
	return fmt.Sprintf("status %d: %s", e.Code, e.Message)
}

func (e *StatusError) Unwrap() error {
	return ErrStatus
}

// Reason classifies a remote failure for logs and metrics.
func Reason(err error) string {
	switch {
	case err == nil:
		return ""
	case errors.Is(err, ErrUnavailable):
		return "unavailable"
	case errors.Is(err, ErrStatus):
		return "status"
	case errors.Is(err, ErrMalformed):
		return "malformed"
	case errors.Is(err, ErrTransport):
		return "transport"
	default:
		return "other"
	}
}
