package provider

import (
	"context"
	"errors"
	"fmt"
	"net"
)

// ErrorKind tags a provider failure so the sweep layer can decide between
// "retry later" and "surface to the operator" without parsing messages.
type ErrorKind string

const (
	KindTimeout           ErrorKind = "timeout"
	KindDNSFailure        ErrorKind = "dns_failure"
	KindConnectionRefused ErrorKind = "connection_refused"
	KindNetwork           ErrorKind = "network"
	KindHTTPStatus        ErrorKind = "http_status"
	KindMalformed         ErrorKind = "malformed"
)

type Error struct {
	Kind       ErrorKind
	StatusCode int // set when Kind == KindHTTPStatus
	Op         string
	Err        error
}

func (e *Error) Error() string {
	if e.Kind == KindHTTPStatus {
		return fmt.Sprintf("provider %s: http %d", e.Op, e.StatusCode)
	}
	if e.Err != nil {
		return fmt.Sprintf("provider %s: %s: %v", e.Op, e.Kind, e.Err)
	}
	return fmt.Sprintf("provider %s: %s", e.Op, e.Kind)
}

func (e *Error) Unwrap() error { return e.Err }

// Retryable reports whether the failure is transient. Network-level failures
// and upstream 5xx responses are retryable; 4xx rejections and malformed
// responses are not.
func (e *Error) Retryable() bool {
	switch e.Kind {
	case KindTimeout, KindDNSFailure, KindConnectionRefused, KindNetwork:
		return true
	case KindHTTPStatus:
		return e.StatusCode >= 500
	default:
		return false
	}
}

// HTTPError builds a status-tagged error for a non-2xx upstream response.
func HTTPError(op string, statusCode int) *Error {
	return &Error{Kind: KindHTTPStatus, StatusCode: statusCode, Op: op}
}

// MalformedError tags a response the client could not decode or that is
// missing required fields.
func MalformedError(op string, err error) *Error {
	return &Error{Kind: KindMalformed, Op: op, Err: err}
}

// NetError classifies a transport-level failure from net/http by inspecting
// the wrapped error types, never the message text.
func NetError(op string, err error) *Error {
	kind := KindNetwork

	var netErr net.Error
	var dnsErr *net.DNSError
	var opErr *net.OpError
	switch {
	case errors.Is(err, context.DeadlineExceeded):
		kind = KindTimeout
	case errors.As(err, &dnsErr):
		kind = KindDNSFailure
	case errors.As(err, &netErr) && netErr.Timeout():
		kind = KindTimeout
	case errors.As(err, &opErr) && opErr.Op == "dial":
		kind = KindConnectionRefused
	}

	return &Error{Kind: kind, Op: op, Err: err}
}

// IsRetryable reports whether err (or anything it wraps) is a retryable
// provider failure. Unclassified errors are treated as non-retryable.
func IsRetryable(err error) bool {
	var pe *Error
	if errors.As(err, &pe) {
		return pe.Retryable()
	}
	return false
}
