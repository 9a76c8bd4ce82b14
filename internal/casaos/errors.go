package casaos

import (
	"errors"
	"fmt"
)

// Kind classifies failures so callers can decide whether to degrade, retry or
// surface them.
type Kind int

const (
	// KindValidation means the configuration was rejected locally; no request was sent.
	KindValidation Kind = iota + 1
	// KindAuth means the server rejected the credentials or token.
	KindAuth
	// KindTransport covers DNS, TCP, TLS and timeout failures.
	KindTransport
	// KindProtocol covers unexpected status codes, success=false envelopes and unparseable bodies.
	KindProtocol
)

func (k Kind) String() string {
	switch k {
	case KindValidation:
		return "validation"
	case KindAuth:
		return "auth"
	case KindTransport:
		return "transport"
	case KindProtocol:
		return "protocol"
	default:
		return "unknown"
	}
}

// Error is returned by every Client call that fails.
type Error struct {
	Kind       Kind
	Op         string
	StatusCode int
	Message    string
	Err        error
}

func (e *Error) Error() string {
	msg := e.Op
	if e.StatusCode > 0 {
		msg += fmt.Sprintf(": status %d", e.StatusCode)
	}
	if e.Message != "" {
		msg += ": " + e.Message
	}
	if e.Err != nil {
		msg += ": " + e.Err.Error()
	}
	return msg
}

func (e *Error) Unwrap() error {
	return e.Err
}

// KindOf returns the Kind of the first *Error in err's chain, or zero.
func KindOf(err error) Kind {
	var target *Error
	if errors.As(err, &target) {
		return target.Kind
	}
	return 0
}

// IsKind reports whether err carries the given Kind.
func IsKind(err error, kind Kind) bool {
	return err != nil && KindOf(err) == kind
}

// StatusCode returns the HTTP status attached to err, or zero.
func StatusCode(err error) int {
	var target *Error
	if errors.As(err, &target) {
		return target.StatusCode
	}
	return 0
}
