// Package fetch defines the retrieval capability the query controller relies
// on and the error kinds it reports.
package fetch

import (
	"context"
	"fmt"
	"sync"

	"github.com/illmade-knight/go-userquery/pkg/querykey"
)

// Fetcher performs the actual retrieval of a resource. Implementations report
// failures as *Error values; they do not retry.
type Fetcher interface {
	Fetch(ctx context.Context, d querykey.Descriptor) (any, error)
}

// FetcherFunc adapts a function to the Fetcher interface.
type FetcherFunc func(ctx context.Context, d querykey.Descriptor) (any, error)

func (f FetcherFunc) Fetch(ctx context.Context, d querykey.Descriptor) (any, error) {
	return f(ctx, d)
}

// Invalidator is implemented by fetchers that keep their own cache behind the
// source. The controller calls it when a key is invalidated so the refetch
// that follows reaches the source.
type Invalidator interface {
	Invalidate(ctx context.Context, d querykey.Descriptor) error
}

// Router dispatches to a Fetcher per endpoint.
type Router struct {
	mu     sync.RWMutex
	routes map[string]Fetcher
}

// NewRouter creates an empty router.
func NewRouter() *Router {
	return &Router{routes: make(map[string]Fetcher)}
}

// Handle registers f for endpoint, replacing any previous registration.
func (r *Router) Handle(endpoint string, f Fetcher) *Router {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.routes[endpoint] = f
	return r
}

// Fetch routes d to the fetcher registered for its endpoint.
func (r *Router) Fetch(ctx context.Context, d querykey.Descriptor) (any, error) {
	r.mu.RLock()
	f, ok := r.routes[d.Endpoint()]
	r.mu.RUnlock()
	if !ok {
		return nil, NewError(KindValidation, d.Endpoint(), fmt.Errorf("no fetcher registered for endpoint %q", d.Endpoint()))
	}
	return f.Fetch(ctx, d)
}

// Invalidate forwards to the fetcher registered for d's endpoint when it
// implements Invalidator.
func (r *Router) Invalidate(ctx context.Context, d querykey.Descriptor) error {
	r.mu.RLock()
	f := r.routes[d.Endpoint()]
	r.mu.RUnlock()
	if inv, ok := f.(Invalidator); ok {
		return inv.Invalidate(ctx, d)
	}
	return nil
}
