package fetch

import (
	"errors"
	"fmt"
)

// Kind classifies why a fetch failed.
type Kind int

const (
	// KindServer is an upstream failure. It is also the kind of any error
	// that does not carry one.
	KindServer Kind = iota
	// KindNetwork means the transport could not reach the upstream.
	KindNetwork
	// KindNotFound means the requested resource does not exist.
	KindNotFound
	// KindValidation means the response did not match the expected schema.
	KindValidation
)

func (k Kind) String() string {
	switch k {
	case KindNetwork:
		return "network"
	case KindNotFound:
		return "not_found"
	case KindServer:
		return "server"
	case KindValidation:
		return "validation"
	default:
		return fmt.Sprintf("kind(%d)", int(k))
	}
}

// Sentinels for errors.Is; a *Error matches the sentinel of its Kind.
var (
	ErrNetwork    = errors.New("network error")
	ErrNotFound   = errors.New("not found")
	ErrServer     = errors.New("server error")
	ErrValidation = errors.New("validation error")
)

// Error is a classified fetch failure.
type Error struct {
	Kind     Kind
	Endpoint string
	Err      error
}

// NewError wraps err with a kind.
func NewError(kind Kind, endpoint string, err error) *Error {
	return &Error{Kind: kind, Endpoint: endpoint, Err: err}
}

// Errorf builds a classified error from a format string.
func Errorf(kind Kind, endpoint string, format string, args ...any) *Error {
	return &Error{Kind: kind, Endpoint: endpoint, Err: fmt.Errorf(format, args...)}
}

func (e *Error) Error() string {
	if e.Endpoint == "" {
		return fmt.Sprintf("%s: %v", e.Kind, e.Err)
	}
	return fmt.Sprintf("%s %s: %v", e.Endpoint, e.Kind, e.Err)
}

func (e *Error) Unwrap() error { return e.Err }

// Is matches the sentinel for the error's kind.
func (e *Error) Is(target error) bool {
	return target == e.Kind.sentinel()
}

func (k Kind) sentinel() error {
	switch k {
	case KindNetwork:
		return ErrNetwork
	case KindNotFound:
		return ErrNotFound
	case KindValidation:
		return ErrValidation
	default:
		return ErrServer
	}
}

// KindOf reports the kind of err. Unclassified errors are KindServer.
func KindOf(err error) Kind {
	var fe *Error
	if errors.As(err, &fe) {
		return fe.Kind
	}
	switch {
	case errors.Is(err, ErrNetwork):
		return KindNetwork
	case errors.Is(err, ErrNotFound):
		return KindNotFound
	case errors.Is(err, ErrValidation):
		return KindValidation
	default:
		return KindServer
	}
}

// IsNotFound is shorthand for KindOf(err) == KindNotFound.
func IsNotFound(err error) bool {
	return err != nil && KindOf(err) == KindNotFound
}
