package fetch

import (
	"errors"
	"fmt"
)

// Kind classifies a fetch failure.
type Kind int

const (
	InvalidAddress Kind = iota + 1
	PathDiscoveryTimeout
	LinkEstablishmentFailed
	ResponseTimeout
	TransportError
)

// Sentinels matched by errors.Is against any *Error of the same Kind.
var (
	ErrInvalidAddress          = errors.New("invalid address")
	ErrPathDiscoveryTimeout    = errors.New("path discovery timeout")
	ErrLinkEstablishmentFailed = errors.New("link establishment failed")
	ErrResponseTimeout         = errors.New("response timeout")
	ErrTransport               = errors.New("transport error")
)

var kindNames = map[Kind]string{
	InvalidAddress:          "InvalidAddress",
	PathDiscoveryTimeout:    "PathDiscoveryTimeout",
	LinkEstablishmentFailed: "LinkEstablishmentFailed",
	ResponseTimeout:         "ResponseTimeout",
	TransportError:          "TransportError",
}

// String returns the kind's name, e.g. "ResponseTimeout".
func (k Kind) String() string {
	if s, ok := kindNames[k]; ok {
		return s
	}
	return fmt.Sprintf("Kind(%d)", int(k))
}

// Retryable reports whether the whole fetch may safely be retried.
// Nothing inside this package retries on its own.
func (k Kind) Retryable() bool {
	switch k {
	case PathDiscoveryTimeout, LinkEstablishmentFailed, ResponseTimeout:
		return true
	default:
		return false
	}
}

func (k Kind) sentinel() error {
	switch k {
	case InvalidAddress:
		return ErrInvalidAddress
	case PathDiscoveryTimeout:
		return ErrPathDiscoveryTimeout
	case LinkEstablishmentFailed:
		return ErrLinkEstablishmentFailed
	case ResponseTimeout:
		return ErrResponseTimeout
	default:
		return ErrTransport
	}
}

// Error is the single failure type returned by Client.Fetch.
type Error struct {
	Kind   Kind
	Detail string
	Err    error // underlying cause, may be nil
}

func (e *Error) Error() string {
	msg := e.Kind.sentinel().Error()
	if e.Detail != "" {
		msg += ": " + e.Detail
	}
	if e.Err != nil {
		msg += ": " + e.Err.Error()
	}
	return msg
}

// Unwrap exposes both the kind sentinel and the cause to errors.Is/As.
func (e *Error) Unwrap() []error {
	if e.Err == nil {
		return []error{e.Kind.sentinel()}
	}
	return []error{e.Kind.sentinel(), e.Err}
}

func newError(kind Kind, cause error, format string, args ...any) *Error {
	return &Error{Kind: kind, Detail: fmt.Sprintf(format, args...), Err: cause}
}

// KindOf returns the Kind carried by err, or 0 when err is not a *Error.
func KindOf(err error) Kind {
	var fe *Error
	if errors.As(err, &fe) {
		return fe.Kind
	}
	return 0
}
