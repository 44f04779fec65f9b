package proxy

import (
	"context"
	"io"
	"net/http"
	"net/http/httptest"
	"strings"
	"sync"
	"sync/atomic"
	"testing"
	"time"

	"github.com/rs/zerolog"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/commune-sh/public-appservice/internal/cache"
)

type upstream struct {
	srv   *httptest.Server
	calls atomic.Int32

	mu   sync.Mutex
	last *http.Request
	body string
}

func newUpstream(t *testing.T, status int, body string) *upstream {
	t.Helper()
	u := &upstream{}
	u.srv = httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		u.calls.Add(1)
		b, _ := io.ReadAll(r.Body)
		u.mu.Lock()
		u.last = r.Clone(context.Background())
		u.body = string(b)
		u.mu.Unlock()
		w.Header().Set("Content-Type", "application/json")
		w.Header().Set("X-Upstream", "yes")
		w.Header().Set("Connection", "close")
		w.WriteHeader(status)
		_, _ = io.WriteString(w, body)
	}))
	t.Cleanup(u.srv.Close)
	return u
}

func (u *upstream) lastRequest() (*http.Request, string) {
	u.mu.Lock()
	defer u.mu.Unlock()
	return u.last, u.body
}

var allCaching = Policy{Enabled: true, TTL: time.Minute, RoomState: true, Messages: true, Generic: true, Search: true}

func newTestGateway(t *testing.T, u *upstream, store cache.Store, policy Policy) *Gateway {
	t.Helper()
	return NewGateway(Options{
		Homeserver:  u.srv.URL + "/",
		AccessToken: "as_token",
		Store:       store,
		Policy:      policy,
		Logger:      zerolog.Nop(),
	})
}

func get(path string) *Request {
	return &Request{Method: http.MethodGet, Path: path, Header: http.Header{}}
}

func TestForwardRelaysAndSanitizes(t *testing.T) {
	u := newUpstream(t, http.StatusOK, `{"chunk":[]}`)
	g := newTestGateway(t, u, cache.NewMemoryStore(nil), Policy{})

	req := get("/_matrix/client/v3/rooms/!r:x/members")
	req.RawQuery = "at=abc"
	req.Header.Set("Authorization", "Bearer client-token")
	req.Header.Set("Proxy-Authorization", "secret")
	req.Header.Set("Keep-Alive", "timeout=5")
	req.Header.Set("X-Custom", "kept")

	resp, err := g.Forward(context.Background(), req)
	require.NoError(t, err)

	assert.Equal(t, http.StatusOK, resp.Status)
	assert.Equal(t, `{"chunk":[]}`, string(resp.Body))
	assert.Equal(t, "yes", resp.Header.Get("X-Upstream"))
	assert.Empty(t, resp.Header.Get("Connection"))
	assert.False(t, resp.Cached)

	got, _ := u.lastRequest()
	assert.Equal(t, "/_matrix/client/v3/rooms/!r:x/members", got.URL.Path)
	assert.Equal(t, "at=abc", got.URL.RawQuery)
	assert.Equal(t, "Bearer as_token", got.Header.Get("Authorization"))
	assert.Empty(t, got.Header.Get("Proxy-Authorization"))
	assert.Empty(t, got.Header.Get("Keep-Alive"))
	assert.Equal(t, "kept", got.Header.Get("X-Custom"))
}

func TestRoomStateCachedUntilEvicted(t *testing.T) {
	u := newUpstream(t, http.StatusOK, `[{"type":"m.room.name"}]`)
	store := cache.NewMemoryStore(nil)
	g := newTestGateway(t, u, store, allCaching)
	ctx := context.Background()
	path := "/_matrix/client/v3/rooms/!r:x/state"
	key := cache.ProxyRequestKey(g.TargetURL(path, ""))

	_, err := g.Forward(ctx, get(path))
	require.NoError(t, err)
	g.Wait()
	_, ok, _ := store.Get(ctx, key)
	require.True(t, ok)

	resp, err := g.Forward(ctx, get(path))
	require.NoError(t, err)
	assert.True(t, resp.Cached)
	assert.Equal(t, "application/json", resp.Header.Get("Content-Type"))
	assert.Equal(t, `[{"type":"m.room.name"}]`, string(resp.Body))
	assert.EqualValues(t, 1, u.calls.Load())

	require.NoError(t, store.Delete(ctx, key))
	_, err = g.Forward(ctx, get(path))
	require.NoError(t, err)
	assert.EqualValues(t, 2, u.calls.Load())
}

func TestCachedWriteEventuallyVisible(t *testing.T) {
	u := newUpstream(t, http.StatusOK, `{}`)
	store := cache.NewMemoryStore(nil)
	g := newTestGateway(t, u, store, allCaching)
	path := "/_matrix/client/v3/rooms/!r:x/messages"

	_, err := g.Forward(context.Background(), get(path))
	require.NoError(t, err)

	require.Eventually(t, func() bool {
		_, ok, _ := store.Get(context.Background(), cache.ProxyRequestKey(g.TargetURL(path, "")))
		return ok
	}, time.Second, 10*time.Millisecond)
}

func TestErrorResponsesAreNotCached(t *testing.T) {
	u := newUpstream(t, http.StatusForbidden, `{"errcode":"M_FORBIDDEN"}`)
	store := cache.NewMemoryStore(nil)
	g := newTestGateway(t, u, store, allCaching)
	ctx := context.Background()
	path := "/_matrix/client/v3/rooms/!r:x/state"

	resp, err := g.Forward(ctx, get(path))
	require.NoError(t, err)
	assert.Equal(t, http.StatusForbidden, resp.Status)
	g.Wait()

	assert.Zero(t, store.Len())
	_, err = g.Forward(ctx, get(path))
	require.NoError(t, err)
	assert.EqualValues(t, 2, u.calls.Load())
}

func TestMediaIsNeverCached(t *testing.T) {
	u := newUpstream(t, http.StatusOK, "binary")
	store := cache.NewMemoryStore(nil)
	g := newTestGateway(t, u, store, allCaching)
	ctx := context.Background()

	for i := 0; i < 2; i++ {
		_, err := g.Forward(ctx, get("/_matrix/client/v1/media/download/x/abc"))
		require.NoError(t, err)
	}
	g.Wait()
	assert.EqualValues(t, 2, u.calls.Load())
	assert.Zero(t, store.Len())
}

func TestSearchKeyedByBodyHash(t *testing.T) {
	u := newUpstream(t, http.StatusOK, `{"search_categories":{}}`)
	g := newTestGateway(t, u, cache.NewMemoryStore(nil), allCaching)
	ctx := context.Background()
	search := func(body string) *Response {
		resp, err := g.Forward(ctx, &Request{
			Method: http.MethodPost,
			Path:   SearchPath,
			Header: http.Header{"Content-Type": []string{"application/json"}},
			Body:   strings.NewReader(body),
		})
		require.NoError(t, err)
		g.Wait()
		return resp
	}

	search(`{"search_categories":{"room_events":{"search_term":"a"}}}`)
	_, forwarded := u.lastRequest()
	assert.Equal(t, `{"search_categories":{"room_events":{"search_term":"a"}}}`, forwarded)

	assert.True(t, search(`{"search_categories":{"room_events":{"search_term":"a"}}}`).Cached)
	assert.False(t, search(`{"search_categories":{"room_events":{"search_term":"b"}}}`).Cached)
	assert.EqualValues(t, 2, u.calls.Load())
}

func TestUpstreamUnreachable(t *testing.T) {
	u := newUpstream(t, http.StatusOK, `{}`)
	g := newTestGateway(t, u, cache.NewMemoryStore(nil), Policy{})
	u.srv.Close()

	_, err := g.Forward(context.Background(), get("/_matrix/client/v3/rooms/!r:x/state"))
	assert.ErrorIs(t, err, ErrBadGateway)
}

type failingReader struct{}

func (failingReader) Read([]byte) (int, error) { return 0, io.ErrUnexpectedEOF }

func TestUnreadableRequestBody(t *testing.T) {
	u := newUpstream(t, http.StatusOK, `{}`)
	g := newTestGateway(t, u, cache.NewMemoryStore(nil), Policy{})

	_, err := g.Forward(context.Background(), &Request{Method: http.MethodPost, Path: SearchPath, Body: failingReader{}})
	assert.ErrorIs(t, err, ErrRequestBody)
	assert.Zero(t, u.calls.Load())
}

func TestUpstreamTimeout(t *testing.T) {
	block := make(chan struct{})
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		select {
		case <-block:
		case <-r.Context().Done():
		}
	}))
	t.Cleanup(func() {
		close(block)
		srv.Close()
	})
	g := NewGateway(Options{Homeserver: srv.URL, Store: cache.NewMemoryStore(nil), Timeout: 50 * time.Millisecond, Logger: zerolog.Nop()})

	_, err := g.Forward(context.Background(), get("/_matrix/client/v3/rooms/!r:x/state"))
	assert.ErrorIs(t, err, ErrBadGateway)
}
