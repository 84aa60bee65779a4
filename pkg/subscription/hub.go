// Package subscription delivers per-key state transitions to registered
// callbacks without polling.
package subscription

import (
	"slices"
	"sync"
	"sync/atomic"

	"github.com/rs/zerolog"
)

// Callback receives state transitions for a key.
type Callback[E any] func(event E)

// Lookup returns the latest known state for a key, used to replay it to new
// subscribers.
type Lookup[K comparable, E any] func(key K) (E, bool)

// Subscription is the handle returned by Subscribe.
type Subscription[K comparable, E any] struct {
	id     uint64
	key    K
	fn     Callback[E]
	active atomic.Bool
	hub    *Hub[K, E]

	// Guarded by hub.mu. While held, transitions for this subscription are
	// parked in backlog until Replay has delivered pending.
	held    bool
	pending *E
	backlog []E
}

// Key returns the key this subscription listens to.
func (s *Subscription[K, E]) Key() K { return s.key }

// Active reports whether the subscription still receives transitions.
func (s *Subscription[K, E]) Active() bool { return s.active.Load() }

// Unsubscribe stops delivery to this subscription. It is idempotent.
func (s *Subscription[K, E]) Unsubscribe() { s.hub.Unsubscribe(s) }

type delivery[K comparable, E any] struct {
	event   E
	targets []*Subscription[K, E]
}

type topic[K comparable, E any] struct {
	subs     []*Subscription[K, E]
	queue    []delivery[K, E]
	draining bool
}

// Hub fans transitions out to the subscribers of each key.
//
// Every transition is delivered to the subscribers registered at the moment
// it was enqueued, in registration order. Deliveries for one key are
// serialized through a queue: a callback that re-enters the hub (subscribing,
// unsubscribing, publishing) enqueues work that the current drainer delivers
// after the callback returns, so all subscribers of a key observe the same
// sequence. The replay to a new subscriber is the exception: the subscribing
// goroutine delivers it itself, and the drainer holds that subscriber's later
// transitions until it has.
type Hub[K comparable, E any] struct {
	mu     sync.Mutex
	topics map[K]*topic[K, E]
	nextID uint64

	lookup Lookup[K, E]
	onIdle func(key K)
	logger zerolog.Logger
}

// Option configures a Hub.
type Option[K comparable, E any] func(h *Hub[K, E])

// WithOnIdle registers a hook called, outside the hub's lock, whenever the
// last subscriber of a key unsubscribes.
func WithOnIdle[K comparable, E any](fn func(key K)) Option[K, E] {
	return func(h *Hub[K, E]) { h.onIdle = fn }
}

// NewHub creates a hub. lookup may be nil, in which case new subscribers get
// no replay.
func NewHub[K comparable, E any](lookup Lookup[K, E], logger zerolog.Logger, opts ...Option[K, E]) *Hub[K, E] {
	h := &Hub[K, E]{
		topics: make(map[K]*topic[K, E]),
		lookup: lookup,
		logger: logger.With().Str("component", "SubscriptionHub").Logger(),
	}
	for _, opt := range opts {
		opt(h)
	}
	return h
}

// Subscribe registers fn for key and delivers the current state, if one is
// known, before returning and before any later transition.
func (h *Hub[K, E]) Subscribe(key K, fn Callback[E]) *Subscription[K, E] {
	sub := h.Attach(key, fn)
	h.Replay(sub)
	h.Flush(key)
	return sub
}

// Attach registers fn for key and captures the current state for replay, but
// does not invoke any callback. Callers must follow up with Replay and Flush.
func (h *Hub[K, E]) Attach(key K, fn Callback[E]) *Subscription[K, E] {
	h.mu.Lock()
	defer h.mu.Unlock()

	h.nextID++
	sub := &Subscription[K, E]{id: h.nextID, key: key, fn: fn, hub: h}
	sub.active.Store(true)

	t := h.topic(key)
	t.subs = append(t.subs, sub)
	if h.lookup != nil {
		if current, ok := h.lookup(key); ok {
			sub.held = true
			sub.pending = &current
		}
	}
	return sub
}

// Replay delivers the state captured by Attach to sub on the calling
// goroutine, then any transitions held back for sub in the meantime. Once it
// returns, sub receives transitions through the key's queue like any other
// subscriber. Only the first call has any effect.
func (h *Hub[K, E]) Replay(sub *Subscription[K, E]) {
	h.mu.Lock()
	if sub.pending == nil {
		h.mu.Unlock()
		return
	}
	event := *sub.pending
	sub.pending = nil
	for {
		h.mu.Unlock()
		if sub.active.Load() {
			h.invoke(sub, event)
		}
		h.mu.Lock()
		if len(sub.backlog) == 0 {
			break
		}
		event = sub.backlog[0]
		sub.backlog = sub.backlog[1:]
	}
	sub.held = false
	sub.backlog = nil
	h.mu.Unlock()
}

// Unsubscribe removes sub. After it returns the callback receives nothing
// further, including transitions already queued. It is idempotent.
func (h *Hub[K, E]) Unsubscribe(sub *Subscription[K, E]) {
	if sub == nil || !sub.active.CompareAndSwap(true, false) {
		return
	}

	h.mu.Lock()
	idle := false
	if t, ok := h.topics[sub.key]; ok {
		t.subs = slices.DeleteFunc(t.subs, func(s *Subscription[K, E]) bool { return s == sub })
		idle = len(t.subs) == 0
		h.cleanup(sub.key, t)
	}
	onIdle := h.onIdle
	h.mu.Unlock()

	if idle && onIdle != nil {
		onIdle(sub.key)
	}
}

// Publish delivers event to every current subscriber of key. With no
// subscribers the event is dropped.
func (h *Hub[K, E]) Publish(key K, event E) {
	if h.Enqueue(key, event) {
		h.Flush(key)
	}
}

// Enqueue records event for the current subscribers of key without invoking
// any callback. It reports false, dropping the event, when key has no
// subscribers. Callers must follow up with Flush.
func (h *Hub[K, E]) Enqueue(key K, event E) bool {
	h.mu.Lock()
	defer h.mu.Unlock()

	t, ok := h.topics[key]
	if !ok || len(t.subs) == 0 {
		h.logger.Debug().Interface("key", key).Msg("No subscribers, transition dropped.")
		return false
	}
	t.queue = append(t.queue, delivery[K, E]{event: event, targets: slices.Clone(t.subs)})
	return true
}

// Flush delivers queued transitions for key on the calling goroutine. If
// another goroutine is already delivering for key, Flush returns immediately
// and that goroutine delivers the queued work.
func (h *Hub[K, E]) Flush(key K) {
	h.mu.Lock()
	t, ok := h.topics[key]
	if !ok || t.draining {
		h.mu.Unlock()
		return
	}
	t.draining = true
	for len(t.queue) > 0 {
		d := t.queue[0]
		t.queue[0] = delivery[K, E]{}
		t.queue = t.queue[1:]
		h.mu.Unlock()
		h.deliver(d)
		h.mu.Lock()
	}
	t.draining = false
	h.cleanup(key, t)
	h.mu.Unlock()
}

// Count returns the number of active subscribers for key.
func (h *Hub[K, E]) Count(key K) int {
	h.mu.Lock()
	defer h.mu.Unlock()
	if t, ok := h.topics[key]; ok {
		return len(t.subs)
	}
	return 0
}

// Close deactivates every subscription and drops queued transitions. The
// idle hook is not called.
func (h *Hub[K, E]) Close() {
	h.mu.Lock()
	defer h.mu.Unlock()
	for _, t := range h.topics {
		for _, sub := range t.subs {
			sub.active.Store(false)
			sub.backlog = nil
		}
		t.queue = nil
	}
	h.topics = make(map[K]*topic[K, E])
}

func (h *Hub[K, E]) deliver(d delivery[K, E]) {
	for _, sub := range d.targets {
		h.mu.Lock()
		if sub.held {
			sub.backlog = append(sub.backlog, d.event)
			h.mu.Unlock()
			continue
		}
		h.mu.Unlock()
		if sub.active.Load() {
			h.invoke(sub, d.event)
		}
	}
}

// invoke runs one callback; a panicking subscriber must not starve the others.
func (h *Hub[K, E]) invoke(sub *Subscription[K, E], event E) {
	defer func() {
		if r := recover(); r != nil {
			h.logger.Error().
				Interface("key", sub.key).
				Uint64("subscription_id", sub.id).
				Interface("panic", r).
				Msg("Subscriber callback panicked.")
		}
	}()
	sub.fn(event)
}

// topic returns the topic for key, creating it. Must be called with mu held.
func (h *Hub[K, E]) topic(key K) *topic[K, E] {
	t, ok := h.topics[key]
	if !ok {
		t = &topic[K, E]{}
		h.topics[key] = t
	}
	return t
}

// cleanup forgets a topic with nothing left to do. Must be called with mu held.
func (h *Hub[K, E]) cleanup(key K, t *topic[K, E]) {
	if len(t.subs) == 0 && len(t.queue) == 0 && !t.draining && h.topics[key] == t {
		delete(h.topics, key)
	}
}
