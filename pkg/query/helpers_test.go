package query_test

import (
	"context"
	"sync"
	"sync/atomic"
	"testing"
	"time"

	"github.com/illmade-knight/go-userquery/pkg/cache"
	"github.com/illmade-knight/go-userquery/pkg/query"
	"github.com/illmade-knight/go-userquery/pkg/querykey"
	"github.com/rs/zerolog"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

type user struct {
	ID       int
	UserName string
}

// mockFetcher is a test double for fetch.Fetcher that counts calls per key.
type mockFetcher struct {
	FetchFunc func(ctx context.Context, d querykey.Descriptor) (any, error)

	calls  atomic.Int32
	mu     sync.Mutex
	perKey map[querykey.Key]int
}

func newMockFetcher(fn func(ctx context.Context, d querykey.Descriptor) (any, error)) *mockFetcher {
	return &mockFetcher{FetchFunc: fn, perKey: make(map[querykey.Key]int)}
}

func (m *mockFetcher) Fetch(ctx context.Context, d querykey.Descriptor) (any, error) {
	m.calls.Add(1)
	m.mu.Lock()
	m.perKey[d.Key()]++
	m.mu.Unlock()
	return m.FetchFunc(ctx, d)
}

func (m *mockFetcher) CallsFor(d querykey.Descriptor) int {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.perKey[d.Key()]
}

// stateRecorder collects every state delivered to one subscriber.
type stateRecorder struct {
	mu     sync.Mutex
	states []query.State
}

func (r *stateRecorder) record(s query.State) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.states = append(r.states, s)
}

func (r *stateRecorder) States() []query.State {
	r.mu.Lock()
	defer r.mu.Unlock()
	return append([]query.State(nil), r.states...)
}

func (r *stateRecorder) Statuses() []cache.Status {
	states := r.States()
	out := make([]cache.Status, len(states))
	for i, s := range states {
		out[i] = s.Status
	}
	return out
}

func (r *stateRecorder) Last() query.State {
	states := r.States()
	if len(states) == 0 {
		return query.State{}
	}
	return states[len(states)-1]
}

func newController(t *testing.T, f *mockFetcher, cfg query.Config, opts ...query.Option) *query.Controller {
	t.Helper()
	c, err := query.NewController(cfg, f, zerolog.Nop(), opts...)
	require.NoError(t, err)
	t.Cleanup(func() {
		ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
		defer cancel()
		_ = c.Shutdown(ctx)
	})
	return c
}

func waitForStatus(t *testing.T, rec *stateRecorder, status cache.Status) {
	t.Helper()
	require.Eventually(t, func() bool {
		return rec.Last().Status == status
	}, 5*time.Second, 5*time.Millisecond, "expected last status %s, got %v", status, rec.Statuses())
}

// assertValidTransitions checks that a subscriber's observed statuses form a
// legal path through the entry lifecycle.
func assertValidTransitions(t *testing.T, statuses []cache.Status) {
	t.Helper()
	for i := 1; i < len(statuses); i++ {
		assert.True(t, statuses[i-1].CanTransitionTo(statuses[i]),
			"illegal transition %s -> %s in %v", statuses[i-1], statuses[i], statuses)
	}
}
