package query

import (
	"time"

	"github.com/illmade-knight/go-userquery/pkg/cache"
	"github.com/illmade-knight/go-userquery/pkg/querykey"
)

// State is the observable state of one key, as delivered to subscribers.
type State struct {
	Key       querykey.Key
	Status    cache.Status
	Value     any
	HasValue  bool
	Err       error
	Stale     bool
	UpdatedAt time.Time
}

func stateOf(key querykey.Key, e cache.Entry[any]) State {
	return State{
		Key:       key,
		Status:    e.Status,
		Value:     e.Value,
		HasValue:  e.HasValue,
		Err:       e.Err,
		Stale:     e.Stale,
		UpdatedAt: e.LastUpdated,
	}
}

func (s State) IsLoading() bool { return s.Status == cache.StatusLoading }
func (s State) IsSuccess() bool { return s.Status == cache.StatusSuccess }
func (s State) IsError() bool   { return s.Status == cache.StatusError }
