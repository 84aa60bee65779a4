// Package inflight tracks pending fetches so that at most one request per key
// is outstanding at any time.
package inflight

import (
	"context"
	"errors"
	"sync"
	"sync/atomic"
	"time"

	"github.com/google/uuid"
	"github.com/rs/zerolog"
)

// ErrAbandoned is the outcome of a handle torn down before its fetch settled.
var ErrAbandoned = errors.New("in-flight fetch abandoned")

// Outcome is the settled result of a fetch.
type Outcome[V any] struct {
	Value V
	Err   error
}

// Handle represents one outstanding fetch. It exists from TryBegin until the
// fetch is completed or abandoned.
type Handle[V any] struct {
	ID        uuid.UUID
	StartedAt time.Time

	done    chan struct{}
	once    sync.Once
	outcome Outcome[V]
	waiters atomic.Int32
}

func newHandle[V any]() *Handle[V] {
	h := &Handle[V]{
		ID:        uuid.New(),
		StartedAt: time.Now(),
		done:      make(chan struct{}),
	}
	h.waiters.Store(1)
	return h
}

// Done is closed once the handle settles.
func (h *Handle[V]) Done() <-chan struct{} { return h.done }

// Waiters is the number of parties attached to this fetch: the initiator,
// every joining TryBegin caller and every subscriber that joined through Join.
func (h *Handle[V]) Waiters() int { return int(h.waiters.Load()) }

// Outcome returns the settled outcome and whether the handle has settled.
func (h *Handle[V]) Outcome() (Outcome[V], bool) {
	select {
	case <-h.done:
		return h.outcome, true
	default:
		return Outcome[V]{}, false
	}
}

// Wait blocks until the handle settles or ctx is done.
func (h *Handle[V]) Wait(ctx context.Context) (V, error) {
	select {
	case <-h.done:
		return h.outcome.Value, h.outcome.Err
	case <-ctx.Done():
		var zero V
		return zero, ctx.Err()
	}
}

// settle stores the outcome and wakes every waiter. Only the first call has
// any effect.
func (h *Handle[V]) settle(outcome Outcome[V]) bool {
	settled := false
	h.once.Do(func() {
		h.outcome = outcome
		close(h.done)
		settled = true
	})
	return settled
}

// Registry maps keys to their single outstanding Handle.
type Registry[K comparable, V any] struct {
	mu      sync.Mutex
	handles map[K]*Handle[V]
	logger  zerolog.Logger
}

// NewRegistry creates an empty registry.
func NewRegistry[K comparable, V any](logger zerolog.Logger) *Registry[K, V] {
	return &Registry[K, V]{
		handles: make(map[K]*Handle[V]),
		logger:  logger.With().Str("component", "InFlightRegistry").Logger(),
	}
}

// TryBegin returns the handle for key. If a fetch is already outstanding the
// caller is attached to it as an extra waiter and alreadyInFlight is true;
// the caller must not start another fetch. Otherwise a new handle is
// registered and the caller is responsible for completing it.
func (r *Registry[K, V]) TryBegin(key K) (handle *Handle[V], alreadyInFlight bool) {
	r.mu.Lock()
	defer r.mu.Unlock()

	if h, ok := r.handles[key]; ok {
		h.waiters.Add(1)
		r.logger.Debug().Interface("key", key).Str("fetch_id", h.ID.String()).Int("waiters", h.Waiters()).Msg("Joined in-flight fetch.")
		return h, true
	}

	h := newHandle[V]()
	r.handles[key] = h
	r.logger.Debug().Interface("key", key).Str("fetch_id", h.ID.String()).Msg("Registered in-flight fetch.")
	return h, false
}

// Join attaches one more waiter to the outstanding handle for key without
// ever registering a new one. It reports false if nothing is in flight.
func (r *Registry[K, V]) Join(key K) (*Handle[V], bool) {
	r.mu.Lock()
	defer r.mu.Unlock()

	h, ok := r.handles[key]
	if !ok {
		return nil, false
	}
	h.waiters.Add(1)
	r.logger.Debug().Interface("key", key).Str("fetch_id", h.ID.String()).Int("waiters", h.Waiters()).Msg("Joined in-flight fetch.")
	return h, true
}

// Current returns the outstanding handle for key, if any.
func (r *Registry[K, V]) Current(key K) (*Handle[V], bool) {
	r.mu.Lock()
	defer r.mu.Unlock()
	h, ok := r.handles[key]
	return h, ok
}

// Complete settles the outstanding handle for key with outcome, waking every
// waiter exactly once, and removes it. It reports false if no handle was
// registered for key.
func (r *Registry[K, V]) Complete(key K, outcome Outcome[V]) bool {
	r.mu.Lock()
	h, ok := r.handles[key]
	if ok {
		delete(r.handles, key)
	}
	r.mu.Unlock()

	if !ok {
		return false
	}
	h.settle(outcome)
	r.logger.Debug().
		Interface("key", key).
		Str("fetch_id", h.ID.String()).
		Bool("failed", outcome.Err != nil).
		Dur("elapsed", time.Since(h.StartedAt)).
		Msg("Completed in-flight fetch.")
	return true
}

// Abandon drops the handle for key. Waiters receive ErrAbandoned and the
// fetch's eventual result is to be discarded by its owner.
func (r *Registry[K, V]) Abandon(key K) bool {
	return r.Complete(key, Outcome[V]{Err: ErrAbandoned})
}

// AbandonAll drops every outstanding handle. Used at teardown.
func (r *Registry[K, V]) AbandonAll() int {
	r.mu.Lock()
	handles := r.handles
	r.handles = make(map[K]*Handle[V])
	r.mu.Unlock()

	for _, h := range handles {
		h.settle(Outcome[V]{Err: ErrAbandoned})
	}
	if len(handles) > 0 {
		r.logger.Info().Int("count", len(handles)).Msg("Abandoned in-flight fetches.")
	}
	return len(handles)
}

// Len returns the number of outstanding fetches.
func (r *Registry[K, V]) Len() int {
	r.mu.Lock()
	defer r.mu.Unlock()
	return len(r.handles)
}
