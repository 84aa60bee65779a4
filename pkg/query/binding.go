package query

import (
	"context"
	"fmt"
	"sync"
	"time"

	"github.com/illmade-knight/go-userquery/pkg/cache"
	"github.com/illmade-knight/go-userquery/pkg/fetch"
	"github.com/illmade-knight/go-userquery/pkg/querykey"
)

// Resource is the typed view of a key's state handed to a consumer.
type Resource[T any] struct {
	Status    cache.Status
	Value     T
	HasValue  bool
	Err       error
	Stale     bool
	UpdatedAt time.Time
}

func (r Resource[T]) IsLoading() bool { return r.Status == cache.StatusLoading }
func (r Resource[T]) IsSuccess() bool { return r.Status == cache.StatusSuccess }
func (r Resource[T]) IsError() bool   { return r.Status == cache.StatusError }

// resourceOf narrows a State to T. A value of the wrong type is reported as
// a validation error.
func resourceOf[T any](s State) Resource[T] {
	r := Resource[T]{
		Status:    s.Status,
		Err:       s.Err,
		Stale:     s.Stale,
		UpdatedAt: s.UpdatedAt,
	}
	if !s.HasValue {
		return r
	}
	v, ok := s.Value.(T)
	if !ok {
		var want T
		r.Status = cache.StatusError
		r.Err = fetch.Errorf(fetch.KindValidation, s.Key.Endpoint(), "cached value of type %T is not %T", s.Value, want)
		return r
	}
	r.Value = v
	r.HasValue = true
	return r
}

// Load fetches d through the controller and returns the settled result as a
// Resource. Failures, including ctx ending first, are reported in its Err.
func Load[T any](ctx context.Context, c *Controller, d querykey.Descriptor) Resource[T] {
	v, err := c.Fetch(ctx, d)
	if err != nil {
		return Resource[T]{Status: cache.StatusError, Err: err, UpdatedAt: c.clock.Now()}
	}
	return resourceOf[T](State{
		Key:       d.Key(),
		Status:    cache.StatusSuccess,
		Value:     v,
		HasValue:  true,
		UpdatedAt: c.clock.Now(),
	})
}

// Binding keeps one consumer subscribed to a descriptor for as long as the
// consumer is visible. It is the reactive counterpart of a data-fetching hook:
// the consumer reads State or reacts to onChange, follows navigation with
// Navigate, and calls Release when it goes away.
type Binding[T any] struct {
	c        *Controller
	onChange func(Resource[T])

	mu       sync.Mutex
	desc     querykey.Descriptor
	sub      *Subscription
	gen      uint64
	current  Resource[T]
	released bool
}

// Bind subscribes a consumer to d. onChange may be nil; it is called for every
// transition, starting with the current state.
func Bind[T any](c *Controller, d querykey.Descriptor, onChange func(Resource[T])) (*Binding[T], error) {
	b := &Binding[T]{
		c:        c,
		onChange: onChange,
		desc:     d,
		current:  Resource[T]{Status: cache.StatusEmpty},
	}
	if err := b.subscribe(d, 0); err != nil {
		return nil, err
	}
	return b, nil
}

// State returns the latest state delivered to this binding.
func (b *Binding[T]) State() Resource[T] {
	b.mu.Lock()
	defer b.mu.Unlock()
	return b.current
}

// Descriptor returns the descriptor the binding currently follows.
func (b *Binding[T]) Descriptor() querykey.Descriptor {
	b.mu.Lock()
	defer b.mu.Unlock()
	return b.desc
}

// Navigate reacts to changed navigation parameters. A descriptor with a new
// key moves the binding to that key, leaving the old entry cached for GC; the
// same key triggers a refetch that keeps the current value visible.
func (b *Binding[T]) Navigate(d querykey.Descriptor) error {
	b.mu.Lock()
	if b.released {
		b.mu.Unlock()
		return fmt.Errorf("binding for %s already released", b.desc)
	}
	if d.Key() == b.desc.Key() {
		b.mu.Unlock()
		b.c.Refetch(d)
		return nil
	}
	b.gen++
	gen := b.gen
	old := b.sub
	b.sub = nil
	b.desc = d
	b.current = Resource[T]{Status: cache.StatusEmpty}
	b.mu.Unlock()

	b.c.Unsubscribe(old)
	return b.subscribe(d, gen)
}

// Release unsubscribes the binding. It is idempotent.
func (b *Binding[T]) Release() {
	b.mu.Lock()
	if b.released {
		b.mu.Unlock()
		return
	}
	b.released = true
	b.gen++
	sub := b.sub
	b.sub = nil
	b.mu.Unlock()

	b.c.Unsubscribe(sub)
}

func (b *Binding[T]) subscribe(d querykey.Descriptor, gen uint64) error {
	sub, err := b.c.Subscribe(d, func(s State) { b.receive(gen, s) })
	if err != nil {
		return fmt.Errorf("subscribe %s: %w", d, err)
	}

	b.mu.Lock()
	stale := b.gen != gen
	if !stale {
		b.sub = sub
	}
	b.mu.Unlock()

	if stale {
		// Navigated or released while subscribing.
		b.c.Unsubscribe(sub)
	}
	return nil
}

func (b *Binding[T]) receive(gen uint64, s State) {
	b.mu.Lock()
	if b.released || b.gen != gen {
		b.mu.Unlock()
		return
	}
	r := resourceOf[T](s)
	b.current = r
	b.mu.Unlock()

	if b.onChange != nil {
		b.onChange(r)
	}
}
