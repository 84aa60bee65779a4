// Package query orchestrates keyed resource fetching: it serves cached state,
// deduplicates fetches per key, and notifies subscribers of every transition.
package query

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"time"

	"github.com/jonboulle/clockwork"
	"github.com/rs/zerolog"

	"github.com/illmade-knight/go-userquery/pkg/cache"
	"github.com/illmade-knight/go-userquery/pkg/fetch"
	"github.com/illmade-knight/go-userquery/pkg/inflight"
	"github.com/illmade-knight/go-userquery/pkg/querykey"
	"github.com/illmade-knight/go-userquery/pkg/subscription"
)

// ErrClosed is returned by operations on a controller that has been shut down.
var ErrClosed = errors.New("query controller is closed")

// Subscription is a consumer's registration for one key.
type Subscription = subscription.Subscription[querykey.Key, State]

type gcTimer struct {
	timer clockwork.Timer
	gen   uint64
}

// Controller is the process-wide query engine. It owns the resource cache and
// in-flight registry and is the only component that mutates them. All state
// changes happen under mu; callbacks run outside it, so subscribers may call
// back into the controller.
type Controller struct {
	cfg     Config
	fetcher fetch.Fetcher
	// backing is the fetcher's own cache, if it keeps one.
	backing fetch.Invalidator
	clock   clockwork.Clock
	logger  zerolog.Logger

	cache    *cache.ResourceCache[querykey.Key, any]
	inflight *inflight.Registry[querykey.Key, any]
	hub      *subscription.Hub[querykey.Key, State]

	ctx     context.Context
	cancel  context.CancelFunc
	fetches sync.WaitGroup

	mu          sync.Mutex
	closed      bool
	descriptors map[querykey.Key]querykey.Descriptor
	gcTimers    map[querykey.Key]gcTimer
	gcGen       uint64
	// invalidated holds keys invalidated while their fetch was in flight.
	invalidated map[querykey.Key]struct{}
}

// Option configures a Controller.
type Option func(c *Controller)

// WithClock replaces the wall clock used for timestamps and GC timers.
func WithClock(clock clockwork.Clock) Option {
	return func(c *Controller) { c.clock = clock }
}

// NewController creates a controller ready for use. Call Shutdown to tear it
// down.
func NewController(cfg Config, fetcher fetch.Fetcher, logger zerolog.Logger, opts ...Option) (*Controller, error) {
	if fetcher == nil {
		return nil, fmt.Errorf("fetcher cannot be nil")
	}

	ctx, cancel := context.WithCancel(context.Background())
	c := &Controller{
		cfg:         cfg,
		fetcher:     fetcher,
		clock:       clockwork.NewRealClock(),
		logger:      logger.With().Str("component", "QueryController").Logger(),
		ctx:         ctx,
		cancel:      cancel,
		descriptors: make(map[querykey.Key]querykey.Descriptor),
		gcTimers:    make(map[querykey.Key]gcTimer),
		invalidated: make(map[querykey.Key]struct{}),
	}
	if inv, ok := fetcher.(fetch.Invalidator); ok {
		c.backing = inv
	}
	for _, opt := range opts {
		opt(c)
	}

	c.cache = cache.NewResourceCache[querykey.Key, any]()
	c.inflight = inflight.NewRegistry[querykey.Key, any](c.logger)
	c.hub = subscription.NewHub[querykey.Key, State](c.lookup, c.logger,
		subscription.WithOnIdle[querykey.Key, State](c.scheduleGC))

	c.logger.Info().
		Dur("stale_time", cfg.StaleTime).
		Dur("gc_time", cfg.GCTime).
		Msg("Query controller initialized.")
	return c, nil
}

// Subscribe registers fn for the descriptor's key. fn first receives the
// current state, if any, then every later transition. The first subscription
// to an uncached key starts a fetch; later subscriptions share it. A cached
// entry that is stale is served and revalidated in the background.
func (c *Controller) Subscribe(d querykey.Descriptor, fn func(State)) (*Subscription, error) {
	key := d.Key()

	c.mu.Lock()
	if c.closed {
		c.mu.Unlock()
		return nil, ErrClosed
	}
	c.stopGC(key)
	c.descriptors[key] = d
	sub := c.hub.Attach(key, fn)

	launch := noop
	entry, ok := c.cache.Get(key)
	switch {
	case !ok:
		_, launch = c.beginFetch(key, entry)
	case entry.Status == cache.StatusLoading:
		if handle, joined := c.inflight.Join(key); joined {
			c.logger.Debug().Str("key", string(key)).Int("waiters", handle.Waiters()).Msg("Joined loading key.")
		}
	case c.isStale(entry):
		c.logger.Debug().Str("key", string(key)).Msg("Serving stale entry, revalidating.")
		_, launch = c.beginFetch(key, entry)
	}
	c.mu.Unlock()

	c.hub.Replay(sub)
	c.hub.Flush(key)
	launch()
	return sub, nil
}

// Unsubscribe removes a subscription. When the last subscriber of a key
// leaves, the entry stays cached until the GC timer expires.
func (c *Controller) Unsubscribe(sub *Subscription) {
	if sub != nil {
		sub.Unsubscribe()
	}
}

// State returns the current state for the descriptor without side effects.
func (c *Controller) State(d querykey.Descriptor) State {
	key := d.Key()
	if s, ok := c.lookup(key); ok {
		return s
	}
	return State{Key: key, Status: cache.StatusEmpty}
}

// Refetch revalidates the descriptor's key, keeping the cached value visible
// until the new fetch settles. It reports false if a fetch is already in
// flight for the key or the controller is closed.
func (c *Controller) Refetch(d querykey.Descriptor) bool {
	key := d.Key()

	c.mu.Lock()
	if c.closed {
		c.mu.Unlock()
		return false
	}
	entry, _ := c.cache.Get(key)
	if entry.Status == cache.StatusLoading {
		c.mu.Unlock()
		return false
	}
	c.stopGC(key)
	c.descriptors[key] = d
	c.cache.MarkStale(key)
	_, launch := c.beginFetch(key, entry)
	c.mu.Unlock()

	c.hub.Flush(key)
	launch()
	return true
}

// Fetch returns the value for the descriptor: a fresh cached success is
// returned directly, otherwise the caller joins the in-flight fetch or starts
// one, and waits for it to settle or for ctx to end.
func (c *Controller) Fetch(ctx context.Context, d querykey.Descriptor) (any, error) {
	key := d.Key()

	c.mu.Lock()
	if c.closed {
		c.mu.Unlock()
		return nil, ErrClosed
	}
	entry, ok := c.cache.Get(key)
	if ok && entry.Status == cache.StatusSuccess && !c.isStale(entry) {
		c.mu.Unlock()
		c.logger.Debug().Str("key", string(key)).Msg("Cache hit.")
		return entry.Value, nil
	}
	c.stopGC(key)
	c.descriptors[key] = d
	handle, launch := c.beginFetch(key, entry)
	c.mu.Unlock()

	c.hub.Flush(key)
	launch()
	return handle.Wait(ctx)
}

// Invalidate busts the cache for key, including the fetcher's own cache when
// it implements fetch.Invalidator. A key with subscribers is refetched; a key
// without subscribers is evicted. A key whose fetch is in flight is handled
// once that fetch settles. It reports false if key is not cached.
func (c *Controller) Invalidate(key querykey.Key) bool {
	c.mu.Lock()
	if c.closed {
		c.mu.Unlock()
		return false
	}
	entry, ok := c.cache.Get(key)
	if !ok {
		c.mu.Unlock()
		return false
	}

	d := c.descriptors[key]
	launch := noop
	deferred := false
	switch {
	case entry.Status == cache.StatusLoading:
		c.invalidated[key] = struct{}{}
		deferred = true
	case c.hub.Count(key) > 0:
		c.cache.MarkStale(key)
		_, launch = c.beginFetch(key, entry)
	default:
		c.evict(key)
	}
	c.mu.Unlock()

	c.hub.Flush(key)
	if !deferred {
		c.dropBacking(d)
	}
	launch()
	c.logger.Debug().Str("key", string(key)).Msg("Invalidated key.")
	return true
}

// InvalidateEndpoint invalidates every cached key of an endpoint and returns
// how many keys were affected.
func (c *Controller) InvalidateEndpoint(endpoint string) int {
	var keys []querykey.Key
	for _, key := range c.cache.Keys() {
		if key.Endpoint() == endpoint {
			keys = append(keys, key)
		}
	}

	count := 0
	for _, key := range keys {
		if c.Invalidate(key) {
			count++
		}
	}
	return count
}

// Shutdown tears the controller down: GC timers stop, in-flight fetches are
// abandoned and their results discarded, subscriptions are deactivated and
// the cache is cleared. It waits for fetch goroutines until ctx ends.
func (c *Controller) Shutdown(ctx context.Context) error {
	c.mu.Lock()
	if c.closed {
		c.mu.Unlock()
		return nil
	}
	c.closed = true
	for key, t := range c.gcTimers {
		t.timer.Stop()
		delete(c.gcTimers, key)
	}
	abandoned := c.inflight.AbandonAll()
	c.cancel()
	c.hub.Close()
	c.cache.Clear()
	c.descriptors = make(map[querykey.Key]querykey.Descriptor)
	c.invalidated = make(map[querykey.Key]struct{})
	c.mu.Unlock()

	c.logger.Info().Int("abandoned_fetches", abandoned).Msg("Shutting down query controller...")

	done := make(chan struct{})
	go func() {
		c.fetches.Wait()
		close(done)
	}()
	select {
	case <-done:
		c.logger.Info().Msg("Query controller stopped.")
		return nil
	case <-ctx.Done():
		c.logger.Error().Err(ctx.Err()).Msg("Timeout waiting for fetches to finish.")
		return ctx.Err()
	}
}

// lookup reads the current state for replay to new subscribers.
func (c *Controller) lookup(key querykey.Key) (State, bool) {
	entry, ok := c.cache.Get(key)
	if !ok {
		return State{}, false
	}
	return stateOf(key, entry), true
}

func (c *Controller) isStale(entry cache.Entry[any]) bool {
	if entry.Stale || entry.Status == cache.StatusError {
		return true
	}
	return c.cfg.StaleTime > 0 && c.clock.Since(entry.LastUpdated) >= c.cfg.StaleTime
}

func noop() {}

// beginFetch moves key into loading and returns the in-flight handle plus a
// function that starts the fetch. If a fetch is already in flight the caller
// joins it and the returned function does nothing. Must be called with mu
// held; the launch function must be called after mu is released and the
// key's queue has been flushed, so Loading is delivered before the outcome.
func (c *Controller) beginFetch(key querykey.Key, entry cache.Entry[any]) (*inflight.Handle[any], func()) {
	handle, alreadyInFlight := c.inflight.TryBegin(key)
	if alreadyInFlight {
		return handle, noop
	}

	next := entry.Loading()
	if err := c.cache.Put(key, next); err != nil {
		c.logger.Error().Err(err).Str("key", string(key)).Msg("Cache rejected loading transition.")
	}
	c.hub.Enqueue(key, stateOf(key, next))

	d := c.descriptors[key]
	c.fetches.Add(1)
	return handle, func() {
		go c.run(key, d, handle)
	}
}

func (c *Controller) run(key querykey.Key, d querykey.Descriptor, handle *inflight.Handle[any]) {
	defer c.fetches.Done()

	start := c.clock.Now()
	value, err := c.safeFetch(d)
	c.settle(key, handle, value, err, c.clock.Since(start))
}

// safeFetch converts a panicking fetcher into a server error so the handle is
// always settled.
func (c *Controller) safeFetch(d querykey.Descriptor) (value any, err error) {
	defer func() {
		if r := recover(); r != nil {
			value = nil
			err = fetch.Errorf(fetch.KindServer, d.Endpoint(), "fetcher panicked: %v", r)
		}
	}()
	return c.fetcher.Fetch(c.ctx, d)
}

func (c *Controller) settle(key querykey.Key, handle *inflight.Handle[any], value any, err error, elapsed time.Duration) {
	c.mu.Lock()
	current, ok := c.inflight.Current(key)
	if c.closed || !ok || current != handle {
		c.mu.Unlock()
		c.logger.Debug().Str("key", string(key)).Str("fetch_id", handle.ID.String()).Msg("Discarding result of abandoned fetch.")
		return
	}

	entry, _ := c.cache.Get(key)
	now := c.clock.Now()
	var next cache.Entry[any]
	if err == nil {
		next = entry.Succeeded(value, now)
		c.logger.Debug().Str("key", string(key)).Dur("elapsed", elapsed).Msg("Fetch succeeded.")
	} else {
		next = entry.Failed(err, now)
		c.logger.Warn().Err(err).Str("key", string(key)).Str("kind", fetch.KindOf(err).String()).Dur("elapsed", elapsed).Msg("Fetch failed.")
	}
	if putErr := c.cache.Put(key, next); putErr != nil {
		c.logger.Error().Err(putErr).Str("key", string(key)).Msg("Cache rejected settled transition.")
	}
	c.inflight.Complete(key, inflight.Outcome[any]{Value: value, Err: err})
	c.hub.Enqueue(key, stateOf(key, next))

	launch := noop
	subscribers := c.hub.Count(key)
	_, invalidated := c.invalidated[key]
	d := c.descriptors[key]
	if invalidated {
		delete(c.invalidated, key)
		if subscribers > 0 {
			_, launch = c.beginFetch(key, next)
		} else {
			c.evict(key)
		}
	}
	c.mu.Unlock()

	c.hub.Flush(key)
	if invalidated {
		c.dropBacking(d)
	}
	launch()
	if subscribers == 0 {
		c.scheduleGC(key)
	}
}

// dropBacking clears d from the fetcher's own cache so that the refetch after
// an invalidation reaches the source. It runs without mu held, before the
// refetch is launched.
func (c *Controller) dropBacking(d querykey.Descriptor) {
	if c.backing == nil {
		return
	}
	if err := c.backing.Invalidate(c.ctx, d); err != nil {
		c.logger.Warn().Err(err).Str("key", d.String()).Msg("Failed to invalidate the fetcher's cache.")
	}
}

// scheduleGC arms the eviction timer for an idle key. It is the hub's idle
// hook and runs without mu held.
func (c *Controller) scheduleGC(key querykey.Key) {
	c.mu.Lock()
	defer c.mu.Unlock()

	if c.closed || c.cfg.GCTime < 0 {
		return
	}
	if c.hub.Count(key) > 0 {
		return
	}
	if _, inFlight := c.inflight.Current(key); inFlight {
		// settle schedules GC once the fetch completes.
		return
	}
	if _, ok := c.cache.Get(key); !ok {
		return
	}

	c.stopGC(key)
	if c.cfg.GCTime == 0 {
		c.evict(key)
		return
	}
	c.gcGen++
	gen := c.gcGen
	c.gcTimers[key] = gcTimer{
		timer: c.clock.AfterFunc(c.cfg.GCTime, func() { c.collect(key, gen) }),
		gen:   gen,
	}
}

func (c *Controller) collect(key querykey.Key, gen uint64) {
	c.mu.Lock()
	defer c.mu.Unlock()

	t, ok := c.gcTimers[key]
	if !ok || t.gen != gen {
		return
	}
	delete(c.gcTimers, key)
	if c.closed || c.hub.Count(key) > 0 {
		return
	}
	if _, inFlight := c.inflight.Current(key); inFlight {
		return
	}
	c.evict(key)
	c.logger.Debug().Str("key", string(key)).Msg("Garbage collected idle entry.")
}

// stopGC cancels a pending eviction. Must be called with mu held.
func (c *Controller) stopGC(key querykey.Key) {
	if t, ok := c.gcTimers[key]; ok {
		t.timer.Stop()
		delete(c.gcTimers, key)
	}
}

// evict drops every trace of key. Must be called with mu held.
func (c *Controller) evict(key querykey.Key) {
	c.stopGC(key)
	c.cache.Evict(key)
	delete(c.descriptors, key)
	delete(c.invalidated, key)
}
