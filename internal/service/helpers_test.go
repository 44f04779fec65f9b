package service

import (
	"encoding/json"
	"fmt"
	"testing"
	"time"

	"github.com/rs/zerolog"
	"maunium.net/go/mautrix/id"

	"github.com/commune-sh/public-appservice/internal/cache"
	"github.com/commune-sh/public-appservice/internal/clock"
	"github.com/commune-sh/public-appservice/internal/homeserver/homeservertest"
	"github.com/commune-sh/public-appservice/internal/models"
)

const (
	testServer = "example.org"
	testBot    = id.UserID("@bot:example.org")
)

type syncFixture struct {
	hs    *homeservertest.Fake
	store *cache.MemoryStore
	clock *clock.FakeClock
	rooms *JoinedRoomSet
	sync  *Synchronizer
}

func newSyncFixture(t *testing.T, rules SyncRules) *syncFixture {
	t.Helper()
	if rules.ServerName == "" {
		rules.ServerName = testServer
	}
	f := &syncFixture{
		hs:    homeservertest.New(testBot),
		clock: clock.Fake(time.Unix(1_700_000_000, 0)),
		rooms: NewJoinedRoomSet(),
	}
	f.store = cache.NewMemoryStore(f.clock)
	f.sync = NewSynchronizer(f.hs, f.rooms, f.store, f.clock, rules, zerolog.Nop())
	return f
}

func rawEvent(t *testing.T, v map[string]any) json.RawMessage {
	t.Helper()
	b, err := json.Marshal(v)
	if err != nil {
		t.Fatal(err)
	}
	return b
}

func memberEvent(t *testing.T, roomID, stateKey, membership string) json.RawMessage {
	return rawEvent(t, map[string]any{
		"type":      "m.room.member",
		"room_id":   roomID,
		"sender":    "@alice:example.org",
		"state_key": stateKey,
		"content":   map[string]any{"membership": membership},
	})
}

func stateEvent(evtType, stateKey string, content any) models.StateEvent {
	b, err := json.Marshal(content)
	if err != nil {
		panic(fmt.Sprintf("marshal %s content: %v", evtType, err))
	}
	return models.StateEvent{
		Type:           evtType,
		StateKey:       stateKey,
		Sender:         "@creator:example.org",
		OriginServerTS: 1234,
		Content:        b,
	}
}

func namedRoom(name, alias string) models.RoomState {
	return models.RoomState{
		stateEvent("m.room.create", "", map[string]any{}),
		stateEvent("m.room.name", "", map[string]any{"name": name}),
		stateEvent("m.room.canonical_alias", "", map[string]any{"alias": alias}),
	}
}
