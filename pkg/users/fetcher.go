package users

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"

	"github.com/rs/zerolog"

	"github.com/illmade-knight/go-userquery/pkg/cache"
	"github.com/illmade-knight/go-userquery/pkg/fetch"
	"github.com/illmade-knight/go-userquery/pkg/querykey"
)

// Source serves raw JSON payloads for the directory's endpoints. HTTPSource,
// FirestoreSource and a cache.RedisCache wrapping either of them all satisfy it.
type Source = cache.Source[querykey.Descriptor, json.RawMessage]

// Fetcher turns raw payloads into validated values: []User for the list
// endpoint and User for the detail endpoint.
type Fetcher struct {
	source Source
	logger zerolog.Logger
}

// NewFetcher creates a fetcher over source.
func NewFetcher(source Source, logger zerolog.Logger) (*Fetcher, error) {
	if source == nil {
		return nil, fmt.Errorf("source cannot be nil")
	}
	return &Fetcher{
		source: source,
		logger: logger.With().Str("component", "UserFetcher").Logger(),
	}, nil
}

// Register routes both user endpoints to f.
func (f *Fetcher) Register(r *fetch.Router) *fetch.Router {
	return r.Handle(EndpointList, f).Handle(EndpointDetail, f)
}

// Fetch implements fetch.Fetcher.
func (f *Fetcher) Fetch(ctx context.Context, d querykey.Descriptor) (any, error) {
	endpoint := d.Endpoint()
	if endpoint != EndpointList && endpoint != EndpointDetail {
		return nil, fetch.Errorf(fetch.KindValidation, endpoint, "unknown endpoint %q", endpoint)
	}

	raw, err := f.source.Fetch(ctx, d)
	if err != nil {
		var fe *fetch.Error
		if errors.As(err, &fe) {
			return nil, err
		}
		return nil, fetch.NewError(fetch.KindOf(err), endpoint, err)
	}

	if endpoint == EndpointList {
		list, err := DecodeList(raw)
		if err != nil {
			f.logger.Warn().Err(err).Str("key", d.String()).Msg("Payload failed validation.")
			return nil, fetch.NewError(fetch.KindValidation, endpoint, err)
		}
		return list, nil
	}

	u, err := DecodeUser(raw)
	if err != nil {
		f.logger.Warn().Err(err).Str("key", d.String()).Msg("Payload failed validation.")
		return nil, fetch.NewError(fetch.KindValidation, endpoint, err)
	}
	if u == nil {
		id, _ := d.PathParam("id")
		return nil, fetch.Errorf(fetch.KindNotFound, endpoint, "user %v not found", id)
	}
	return *u, nil
}

// Invalidate drops d from the source's cache when the source keeps one, as a
// cache.RedisCache does.
func (f *Fetcher) Invalidate(ctx context.Context, d querykey.Descriptor) error {
	inv, ok := f.source.(fetch.Invalidator)
	if !ok {
		return nil
	}
	if err := inv.Invalidate(ctx, d); err != nil {
		return fmt.Errorf("failed to invalidate %s: %w", d, err)
	}
	f.logger.Debug().Str("key", d.String()).Msg("Invalidated cached payload.")
	return nil
}

// Close closes the underlying source.
func (f *Fetcher) Close() error {
	return f.source.Close()
}
