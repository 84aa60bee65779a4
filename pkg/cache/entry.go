package cache

import (
	"errors"
	"fmt"
	"time"
)

// ErrIllegalTransition is returned by Put when an entry would move between two
// statuses that the lifecycle does not allow.
var ErrIllegalTransition = errors.New("illegal status transition")

// Status is the lifecycle state of a cached resource.
type Status int

const (
	StatusEmpty Status = iota
	StatusLoading
	StatusSuccess
	StatusError
)

func (s Status) String() string {
	switch s {
	case StatusEmpty:
		return "empty"
	case StatusLoading:
		return "loading"
	case StatusSuccess:
		return "success"
	case StatusError:
		return "error"
	default:
		return fmt.Sprintf("status(%d)", int(s))
	}
}

// Settled reports whether the status is a terminal fetch outcome.
func (s Status) Settled() bool {
	return s == StatusSuccess || s == StatusError
}

// CanTransitionTo reports whether next may follow s:
// empty -> loading -> success|error -> loading -> ...
func (s Status) CanTransitionTo(next Status) bool {
	switch s {
	case StatusEmpty:
		return next == StatusLoading
	case StatusLoading:
		return next.Settled()
	case StatusSuccess, StatusError:
		return next == StatusLoading
	default:
		return false
	}
}

// Entry is the cached state of one resource. Value holds the most recent
// successful value and survives later failures and refetches; HasValue tells
// a zero value apart from no value. Err is set iff Status is StatusError.
type Entry[V any] struct {
	Status      Status
	Value       V
	HasValue    bool
	Err         error
	LastUpdated time.Time
	Stale       bool
}

// Loading returns the entry moved into the loading state. A previous value is
// kept for display and flagged stale until the new fetch settles.
func (e Entry[V]) Loading() Entry[V] {
	e.Status = StatusLoading
	e.Err = nil
	e.Stale = e.HasValue
	return e
}

// Succeeded returns the entry settled with a fresh value.
func (e Entry[V]) Succeeded(value V, at time.Time) Entry[V] {
	e.Status = StatusSuccess
	e.Value = value
	e.HasValue = true
	e.Err = nil
	e.LastUpdated = at
	e.Stale = false
	return e
}

// Failed returns the entry settled with an error. The previous value, if any,
// is retained and flagged stale.
func (e Entry[V]) Failed(err error, at time.Time) Entry[V] {
	e.Status = StatusError
	e.Err = err
	e.LastUpdated = at
	e.Stale = e.HasValue
	return e
}
