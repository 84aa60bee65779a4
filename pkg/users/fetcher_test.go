package users_test

import (
	"context"
	"encoding/json"
	"errors"
	"net/http"
	"testing"

	"github.com/illmade-knight/go-userquery/pkg/fetch"
	"github.com/illmade-knight/go-userquery/pkg/querykey"
	"github.com/illmade-knight/go-userquery/pkg/users"
	"github.com/rs/zerolog"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

// mockSource is a test double for users.Source.
type mockSource struct {
	FetchFunc func(ctx context.Context, d querykey.Descriptor) (json.RawMessage, error)
	closed    bool
}

// cachingSource is a users.Source that also keeps a cache, like cache.RedisCache.
type cachingSource struct {
	mockSource
	InvalidateFunc func(ctx context.Context, d querykey.Descriptor) error
}

func (c *cachingSource) Invalidate(ctx context.Context, d querykey.Descriptor) error {
	return c.InvalidateFunc(ctx, d)
}

func (m *mockSource) Fetch(ctx context.Context, d querykey.Descriptor) (json.RawMessage, error) {
	return m.FetchFunc(ctx, d)
}

func (m *mockSource) Close() error {
	m.closed = true
	return nil
}

func staticSource(body string) *mockSource {
	return &mockSource{FetchFunc: func(ctx context.Context, d querykey.Descriptor) (json.RawMessage, error) {
		return json.RawMessage(body), nil
	}}
}

func TestNewFetcher_RequiresSource(t *testing.T) {
	_, err := users.NewFetcher(nil, zerolog.Nop())
	assert.Error(t, err)
}

func TestFetcher_Fetch(t *testing.T) {
	testCases := []struct {
		name     string
		desc     querykey.Descriptor
		body     string
		want     any
		wantKind fetch.Kind
		wantErr  bool
	}{
		{
			name: "List",
			desc: users.List(),
			body: `[{"id":1,"userName":"ann"}]`,
			want: []users.User{{ID: ptr(int64(1)), UserName: ptr("ann")}},
		},
		{
			name: "Detail",
			desc: users.ByID(1),
			body: `{"id":1,"userName":"ann","password":"pw"}`,
			want: users.NewUser(1, "ann", "pw"),
		},
		{name: "Null detail is not found", desc: users.ByID(999), body: `null`, wantErr: true, wantKind: fetch.KindNotFound},
		{name: "Malformed list", desc: users.List(), body: `{"users":[]}`, wantErr: true, wantKind: fetch.KindValidation},
		{name: "Malformed detail", desc: users.ByID(1), body: `{"id":"x"}`, wantErr: true, wantKind: fetch.KindValidation},
		{name: "Unknown endpoint", desc: querykey.New("groups"), body: `[]`, wantErr: true, wantKind: fetch.KindValidation},
	}

	for _, tc := range testCases {
		t.Run(tc.name, func(t *testing.T) {
			f, err := users.NewFetcher(staticSource(tc.body), zerolog.Nop())
			require.NoError(t, err)

			got, err := f.Fetch(context.Background(), tc.desc)

			if tc.wantErr {
				require.Error(t, err)
				assert.Equal(t, tc.wantKind, fetch.KindOf(err))
				return
			}
			require.NoError(t, err)
			assert.Equal(t, tc.want, got)
		})
	}
}

func TestFetcher_SourceErrors(t *testing.T) {
	t.Run("Classified errors pass through", func(t *testing.T) {
		notFound := fetch.Errorf(fetch.KindNotFound, users.EndpointDetail, "GET /api/v1/users/9: 404")
		f, err := users.NewFetcher(&mockSource{FetchFunc: func(ctx context.Context, d querykey.Descriptor) (json.RawMessage, error) {
			return nil, notFound
		}}, zerolog.Nop())
		require.NoError(t, err)

		_, err = f.Fetch(context.Background(), users.ByID(9))
		assert.Same(t, notFound, err)
	})

	t.Run("Plain errors become server errors", func(t *testing.T) {
		f, err := users.NewFetcher(&mockSource{FetchFunc: func(ctx context.Context, d querykey.Descriptor) (json.RawMessage, error) {
			return nil, errors.New("disk on fire")
		}}, zerolog.Nop())
		require.NoError(t, err)

		_, err = f.Fetch(context.Background(), users.List())
		assert.ErrorIs(t, err, fetch.ErrServer)
		var fe *fetch.Error
		require.ErrorAs(t, err, &fe)
		assert.Equal(t, users.EndpointList, fe.Endpoint)
	})
}

func TestFetcher_RegisterAndClose(t *testing.T) {
	source := staticSource(`{"id":3}`)
	f, err := users.NewFetcher(source, zerolog.Nop())
	require.NoError(t, err)

	router := f.Register(fetch.NewRouter())
	got, err := router.Fetch(context.Background(), users.ByID(3))
	require.NoError(t, err)
	id, _ := got.(users.User).GetID()
	assert.Equal(t, int64(3), id)

	require.NoError(t, f.Close())
	assert.True(t, source.closed)
}

func TestFetcher_OverHTTP(t *testing.T) {
	source := newTestSource(t, func(w http.ResponseWriter, r *http.Request) {
		switch r.URL.Path {
		case "/api/v1/users":
			_, _ = w.Write([]byte(`[{"id":1,"userName":"ann"}]`))
		case "/api/v1/users/1":
			_, _ = w.Write([]byte(`{"id":1,"userName":"ann"}`))
		default:
			http.NotFound(w, r)
		}
	})
	f, err := users.NewFetcher(source, zerolog.Nop())
	require.NoError(t, err)
	ctx := context.Background()

	list, err := f.Fetch(ctx, users.List())
	require.NoError(t, err)
	assert.Len(t, list, 1)

	_, err = f.Fetch(ctx, users.ByID(999))
	assert.True(t, fetch.IsNotFound(err))
}

func TestFetcher_Invalidate(t *testing.T) {
	ctx := context.Background()

	t.Run("Forwards to a caching source", func(t *testing.T) {
		var got []string
		source := &cachingSource{
			mockSource: *staticSource(`[]`),
			InvalidateFunc: func(ctx context.Context, d querykey.Descriptor) error {
				got = append(got, d.String())
				return nil
			},
		}
		f, err := users.NewFetcher(source, zerolog.Nop())
		require.NoError(t, err)

		require.NoError(t, f.Invalidate(ctx, users.ByID(1)))
		assert.Equal(t, []string{users.ByID(1).String()}, got)
	})

	t.Run("Source errors are returned", func(t *testing.T) {
		source := &cachingSource{
			mockSource: *staticSource(`[]`),
			InvalidateFunc: func(ctx context.Context, d querykey.Descriptor) error {
				return errors.New("redis down")
			},
		}
		f, err := users.NewFetcher(source, zerolog.Nop())
		require.NoError(t, err)

		assert.Error(t, f.Invalidate(ctx, users.List()))
	})

	t.Run("Plain source is a no-op", func(t *testing.T) {
		f, err := users.NewFetcher(staticSource(`[]`), zerolog.Nop())
		require.NoError(t, err)

		assert.NoError(t, f.Invalidate(ctx, users.List()))
	})
}
