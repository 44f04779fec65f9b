package homeserver

import (
	"context"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"testing"

	"github.com/rs/zerolog"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"maunium.net/go/mautrix/id"
)

const botID = id.UserID("@public:example.org")

func newTestClient(t *testing.T, h http.HandlerFunc) *MautrixClient {
	t.Helper()
	srv := httptest.NewServer(h)
	t.Cleanup(srv.Close)
	c, err := New(Options{
		Homeserver:   srv.URL,
		UserID:       botID,
		AccessToken:  "as_token",
		AppserviceID: "public",
		Logger:       zerolog.Nop(),
	})
	require.NoError(t, err)
	return c
}

func writeJSON(w http.ResponseWriter, status int, v any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	_ = json.NewEncoder(w).Encode(v)
}

func TestStateDecodesEvents(t *testing.T) {
	c := newTestClient(t, func(w http.ResponseWriter, r *http.Request) {
		assert.Equal(t, "/_matrix/client/v3/rooms/!r:example.org/state", r.URL.Path)
		assert.Equal(t, "Bearer as_token", r.Header.Get("Authorization"))
		writeJSON(w, http.StatusOK, []map[string]any{
			{"type": "m.room.name", "state_key": "", "sender": "@a:example.org", "origin_server_ts": 5, "content": map[string]any{"name": "Lobby"}},
		})
	})

	state, err := c.State(context.Background(), "!r:example.org")
	require.NoError(t, err)
	require.Len(t, state, 1)
	assert.Equal(t, "m.room.name", state[0].Type)
	assert.JSONEq(t, `{"name":"Lobby"}`, string(state[0].Content))
}

func TestHasJoined(t *testing.T) {
	membership := map[string]any{"membership": "join"}
	status := http.StatusOK
	c := newTestClient(t, func(w http.ResponseWriter, r *http.Request) {
		assert.Equal(t, "/_matrix/client/v3/rooms/!r:example.org/state/m.room.member/@public:example.org", r.URL.Path)
		if status != http.StatusOK {
			writeJSON(w, status, map[string]any{"errcode": "M_NOT_FOUND", "error": "no member"})
			return
		}
		writeJSON(w, status, membership)
	})
	ctx := context.Background()

	joined, err := c.HasJoined(ctx, "!r:example.org")
	require.NoError(t, err)
	assert.True(t, joined)

	membership["membership"] = "leave"
	joined, err = c.HasJoined(ctx, "!r:example.org")
	require.NoError(t, err)
	assert.False(t, joined)

	status = http.StatusNotFound
	joined, err = c.HasJoined(ctx, "!r:example.org")
	require.NoError(t, err)
	assert.False(t, joined)
}

func TestHierarchyFollowsPagination(t *testing.T) {
	c := newTestClient(t, func(w http.ResponseWriter, r *http.Request) {
		assert.Equal(t, "/_matrix/client/v1/rooms/!s:example.org/hierarchy", r.URL.Path)
		switch r.URL.Query().Get("from") {
		case "":
			writeJSON(w, http.StatusOK, map[string]any{
				"rooms":      []map[string]any{{"room_id": "!s:example.org", "name": "Space"}},
				"next_batch": "p2",
			})
		case "p2":
			writeJSON(w, http.StatusOK, map[string]any{
				"rooms": []map[string]any{{"room_id": "!c:example.org", "name": "Child"}},
			})
		}
	})

	rooms, err := c.Hierarchy(context.Background(), "!s:example.org")
	require.NoError(t, err)
	require.Len(t, rooms, 2)
	assert.Equal(t, "!c:example.org", rooms[1].RoomID)
}

func TestResolveAliasNotFound(t *testing.T) {
	c := newTestClient(t, func(w http.ResponseWriter, r *http.Request) {
		writeJSON(w, http.StatusNotFound, map[string]any{"errcode": "M_NOT_FOUND", "error": "Room alias not found"})
	})

	_, err := c.ResolveAlias(context.Background(), "#missing:example.org")
	require.Error(t, err)
	assert.ErrorIs(t, err, ErrNotFound)
	assert.ErrorIs(t, err, ErrUpstream)
}

func TestJoinFailureWrapsUpstream(t *testing.T) {
	c := newTestClient(t, func(w http.ResponseWriter, r *http.Request) {
		writeJSON(w, http.StatusForbidden, map[string]any{"errcode": "M_FORBIDDEN", "error": "not invited"})
	})

	err := c.Join(context.Background(), "!r:example.org")
	assert.ErrorIs(t, err, ErrUpstream)
	assert.NotErrorIs(t, err, ErrNotFound)
}

func TestPingSendsTransactionID(t *testing.T) {
	var body reqPing
	c := newTestClient(t, func(w http.ResponseWriter, r *http.Request) {
		assert.Equal(t, http.MethodPost, r.Method)
		assert.Equal(t, "/_matrix/client/v1/appservice/public/ping", r.URL.Path)
		assert.NoError(t, json.NewDecoder(r.Body).Decode(&body))
		writeJSON(w, http.StatusOK, map[string]any{"duration_ms": 12})
	})

	require.NoError(t, c.Ping(context.Background(), "01TXN"))
	assert.Equal(t, "01TXN", body.TransactionID)
}

func TestProfile(t *testing.T) {
	c := newTestClient(t, func(w http.ResponseWriter, r *http.Request) {
		assert.Equal(t, "/_matrix/client/v3/profile/@alice:example.org", r.URL.Path)
		writeJSON(w, http.StatusOK, map[string]any{"displayname": "Alice", "avatar_url": "mxc://example.org/abc"})
	})

	p, err := c.Profile(context.Background(), "@alice:example.org")
	require.NoError(t, err)
	assert.Equal(t, "Alice", p.DisplayName)
	assert.Equal(t, "mxc://example.org/abc", p.AvatarURL)
}
