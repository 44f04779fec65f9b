package service

import (
	"context"
	"errors"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/commune-sh/public-appservice/internal/cache"
	"github.com/commune-sh/public-appservice/internal/homeserver"
	"github.com/commune-sh/public-appservice/internal/homeserver/homeservertest"
)

func newAccess(t *testing.T) (*RoomAccess, *homeservertest.Fake, *JoinedRoomSet, *cache.MemoryStore) {
	t.Helper()
	hs := homeservertest.New(testBot)
	rooms := NewJoinedRoomSet()
	store := cache.NewMemoryStore(nil)
	return NewRoomAccess(hs, rooms, store, testServer, []string{"friend.org"}, CachePolicy{Enabled: true, TTL: time.Minute}), hs, rooms, store
}

func TestResolve(t *testing.T) {
	a, hs, _, _ := newAccess(t)
	hs.Aliases["#myroom:example.org"] = "!id:example.org"
	hs.Aliases["#other:matrix.org"] = "!remote:matrix.org"
	ctx := context.Background()

	got, err := a.Resolve(ctx, "!id:example.org")
	require.NoError(t, err)
	assert.Equal(t, "!id:example.org", got)
	assert.Zero(t, hs.Count("resolve"), "room ids are not looked up")

	got, err = a.Resolve(ctx, "myroom")
	require.NoError(t, err)
	assert.Equal(t, "!id:example.org", got)

	got, err = a.Resolve(ctx, "other:matrix.org")
	require.NoError(t, err)
	assert.Equal(t, "!remote:matrix.org", got)

	got, err = a.Resolve(ctx, "#myroom:example.org")
	require.NoError(t, err)
	assert.Equal(t, "!id:example.org", got)

	_, err = a.Resolve(ctx, "missing")
	assert.ErrorIs(t, err, ErrRoomNotFound)

	_, err = a.Resolve(ctx, "bad room")
	assert.ErrorIs(t, err, ErrInvalidRoomID)
}

func TestResolveRoomIDDomains(t *testing.T) {
	a, hs, _, _ := newAccess(t)
	ctx := context.Background()

	for _, roomID := range []string{"!a:friend.org", "!b:matrix.friend.org"} {
		got, err := a.Resolve(ctx, roomID)
		require.NoError(t, err, roomID)
		assert.Equal(t, roomID, got)
	}
	for _, roomID := range []string{"!c:evil.org", "!d:evilfriend.org"} {
		_, err := a.Resolve(ctx, roomID)
		assert.ErrorIs(t, err, ErrInvalidRoomID, roomID)
	}
	assert.Zero(t, hs.Count("resolve"))
}

func TestResolveUpstreamFailure(t *testing.T) {
	a, hs, _, _ := newAccess(t)
	hs.Fail("resolve", "#flaky:example.org", errors.New("connection reset"))

	_, err := a.Resolve(context.Background(), "flaky")
	assert.ErrorIs(t, err, homeserver.ErrUpstream)
	assert.NotErrorIs(t, err, ErrRoomNotFound)
}

func TestEnsurePublicOrder(t *testing.T) {
	a, hs, rooms, store := newAccess(t)
	ctx := context.Background()

	require.NoError(t, cache.SetJSON(ctx, store, cache.JoinedKey("!cached:example.org"), true, time.Minute))
	require.NoError(t, a.EnsurePublic(ctx, "!cached:example.org"))

	rooms.Add("!set:example.org")
	require.NoError(t, a.EnsurePublic(ctx, "!set:example.org"))
	assert.Zero(t, hs.Count("has_joined"))

	hs.SetMember("!remote:example.org", true)
	require.NoError(t, a.EnsurePublic(ctx, "!remote:example.org"))
	joined, ok := cache.GetJSON[bool](ctx, store, cache.JoinedKey("!remote:example.org"))
	assert.True(t, ok)
	assert.True(t, joined)

	require.NoError(t, a.EnsurePublic(ctx, "!remote:example.org"))
	assert.Equal(t, 1, hs.Count("has_joined"))
}

func TestEnsurePublicRejectsUnjoined(t *testing.T) {
	a, hs, _, store := newAccess(t)
	ctx := context.Background()

	err := a.EnsurePublic(ctx, "!private:example.org")
	assert.ErrorIs(t, err, ErrNotJoined)
	_, ok, _ := store.Get(ctx, cache.JoinedKey("!private:example.org"))
	assert.False(t, ok, "negative answers are not cached")

	err = a.EnsurePublic(ctx, "!private:example.org")
	assert.ErrorIs(t, err, ErrNotJoined)
	assert.Equal(t, 2, hs.Count("has_joined"))

	assert.ErrorIs(t, a.EnsurePublic(ctx, "garbage"), ErrInvalidRoomID)
}
