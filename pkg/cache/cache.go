// Package cache provides the resource cache behind the query controller and a
// shared second-level cache for raw payloads.
package cache

import (
	"context"
	"io"
)

// Cache is a generic interface for a caching layer.
type Cache[K any, V any] interface {
	// FetchFromCache retrieves an item from the cache.
	FetchFromCache(ctx context.Context, key K) (V, error)
	// WriteToCache adds an item to the cache.
	WriteToCache(ctx context.Context, key K, value V) error
}

// Source is a source of truth that a cache can fall back to on a miss.
type Source[K any, V any] interface {
	Fetch(ctx context.Context, key K) (V, error)
	io.Closer
}
