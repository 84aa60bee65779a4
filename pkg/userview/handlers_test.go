package userview_test

import (
	"bufio"
	"context"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"strings"
	"sync/atomic"
	"testing"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/illmade-knight/go-userquery/pkg/fetch"
	"github.com/illmade-knight/go-userquery/pkg/query"
	"github.com/illmade-knight/go-userquery/pkg/querykey"
	"github.com/illmade-knight/go-userquery/pkg/users"
	"github.com/illmade-knight/go-userquery/pkg/userview"
	"github.com/rs/zerolog"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

type directory struct {
	calls atomic.Int32
	fail  atomic.Bool
}

func (d *directory) Fetch(ctx context.Context, desc querykey.Descriptor) (any, error) {
	d.calls.Add(1)
	if d.fail.Load() {
		return nil, fetch.Errorf(fetch.KindNetwork, desc.Endpoint(), "connection refused")
	}
	switch desc.Endpoint() {
	case users.EndpointList:
		return []users.User{users.NewUser(1, "ann", "pw")}, nil
	default:
		id, _ := desc.PathParam("id")
		if id == int64(1) {
			return users.NewUser(1, "ann", "pw"), nil
		}
		return nil, fetch.Errorf(fetch.KindNotFound, desc.Endpoint(), "user %v not found", id)
	}
}

func newTestServer(t *testing.T, dir *directory) *httptest.Server {
	t.Helper()
	c, err := query.NewController(query.DefaultConfig(), dir, zerolog.Nop())
	require.NoError(t, err)

	r := chi.NewRouter()
	userview.NewHandler(c, zerolog.Nop()).Register(r)
	server := httptest.NewServer(r)
	t.Cleanup(func() {
		server.Close()
		ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
		defer cancel()
		_ = c.Shutdown(ctx)
	})
	return server
}

func getJSON(t *testing.T, url string, out any) int {
	t.Helper()
	resp, err := http.Get(url)
	require.NoError(t, err)
	defer resp.Body.Close()
	require.NoError(t, json.NewDecoder(resp.Body).Decode(out))
	return resp.StatusCode
}

func TestHandler_List(t *testing.T) {
	dir := &directory{}
	server := newTestServer(t, dir)

	var v userview.ListView
	status := getJSON(t, server.URL+"/", &v)

	assert.Equal(t, http.StatusOK, status)
	assert.Equal(t, userview.StatusReady, v.Status)
	assert.Equal(t, "1 user", v.CountLabel)
	require.Len(t, v.Cards, 1)
	assert.Equal(t, "/1", v.Cards[0].Link.Href)

	// A second request is served from the query cache.
	getJSON(t, server.URL+"/", &v)
	assert.Equal(t, int32(1), dir.calls.Load())
}

func TestHandler_ListError(t *testing.T) {
	dir := &directory{}
	dir.fail.Store(true)
	server := newTestServer(t, dir)

	var v userview.ListView
	status := getJSON(t, server.URL+"/", &v)

	assert.Equal(t, http.StatusBadGateway, status)
	assert.Equal(t, userview.StatusError, v.Status)
	assert.Equal(t, "connection refused", v.Panel.Message)
}

func TestHandler_Detail(t *testing.T) {
	server := newTestServer(t, &directory{})

	testCases := []struct {
		name       string
		path       string
		wantStatus int
		wantView   string
		wantMsg    string
	}{
		{name: "Existing user", path: "/1", wantStatus: http.StatusOK, wantView: userview.StatusReady},
		{name: "Missing user", path: "/999", wantStatus: http.StatusNotFound, wantView: userview.StatusNotFound,
			wantMsg: "The user with ID 999 could not be found."},
		{name: "Non-numeric id", path: "/abc", wantStatus: http.StatusNotFound, wantView: userview.StatusNotFound,
			wantMsg: "The user with ID abc could not be found."},
	}

	for _, tc := range testCases {
		t.Run(tc.name, func(t *testing.T) {
			var v userview.DetailView
			status := getJSON(t, server.URL+tc.path, &v)

			assert.Equal(t, tc.wantStatus, status)
			assert.Equal(t, tc.wantView, v.Status)
			assert.Equal(t, "/", v.Back.Href)
			if tc.wantMsg != "" {
				require.NotNil(t, v.Panel)
				assert.Equal(t, tc.wantMsg, v.Panel.Message)
			}
		})
	}
}

func TestHandler_Invalidate(t *testing.T) {
	dir := &directory{}
	server := newTestServer(t, dir)

	var v userview.ListView
	getJSON(t, server.URL+"/", &v)

	resp, err := http.Post(server.URL+"/invalidate", "application/json", nil)
	require.NoError(t, err)
	var body map[string]int
	require.NoError(t, json.NewDecoder(resp.Body).Decode(&body))
	_ = resp.Body.Close()
	assert.Equal(t, 1, body["invalidated"])

	getJSON(t, server.URL+"/", &v)
	assert.Equal(t, int32(2), dir.calls.Load(), "the list is fetched again after invalidation")
}

func TestHandler_Watch(t *testing.T) {
	server := newTestServer(t, &directory{})

	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, server.URL+"/1/watch", nil)
	require.NoError(t, err)
	resp, err := http.DefaultClient.Do(req)
	require.NoError(t, err)
	defer resp.Body.Close()

	assert.Equal(t, "text/event-stream", resp.Header.Get("Content-Type"))

	// Read events until the profile arrives.
	scanner := bufio.NewScanner(resp.Body)
	var last userview.DetailView
	for scanner.Scan() {
		line := scanner.Text()
		if !strings.HasPrefix(line, "data: ") {
			continue
		}
		require.NoError(t, json.Unmarshal([]byte(strings.TrimPrefix(line, "data: ")), &last))
		if last.Status == userview.StatusReady {
			break
		}
	}

	require.Equal(t, userview.StatusReady, last.Status)
	require.NotNil(t, last.Profile)
	assert.Equal(t, "ann", last.Profile.Name)
}

func TestHandler_WatchInvalidID(t *testing.T) {
	server := newTestServer(t, &directory{})

	resp, err := http.Get(server.URL + "/nope/watch")
	require.NoError(t, err)
	defer resp.Body.Close()

	scanner := bufio.NewScanner(resp.Body)
	var events []string
	for scanner.Scan() {
		if line := scanner.Text(); strings.HasPrefix(line, "event: ") {
			events = append(events, strings.TrimPrefix(line, "event: "))
		}
	}
	assert.Equal(t, []string{userview.StatusNotFound}, events)
}
