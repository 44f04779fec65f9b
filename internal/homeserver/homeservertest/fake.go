// Package homeservertest provides an in-memory homeserver.Client for tests.
package homeservertest

import (
	"context"
	"encoding/json"
	"fmt"
	"sync"

	"maunium.net/go/mautrix/id"

	"github.com/commune-sh/public-appservice/internal/homeserver"
	"github.com/commune-sh/public-appservice/internal/models"
)

// Call records one invocation on the fake.
type Call struct {
	Op  string
	Arg string
}

// Fake answers from its maps and records every call. Populate the maps
// before handing the fake to concurrent code, or use the setters.
type Fake struct {
	Bot id.UserID

	Members     map[id.RoomID]bool
	States      map[id.RoomID]models.RoomState
	Hierarchies map[id.RoomID][]models.HierarchyRoom
	Aliases     map[id.RoomAlias]id.RoomID
	Joined      []id.RoomID
	Profiles    map[id.UserID]models.Profile
	Events      map[id.EventID]json.RawMessage

	Errors map[Call]error

	mu    sync.Mutex
	calls []Call
}

var _ homeserver.Client = (*Fake)(nil)

func New(bot id.UserID) *Fake {
	return &Fake{
		Bot:         bot,
		Members:     map[id.RoomID]bool{},
		States:      map[id.RoomID]models.RoomState{},
		Hierarchies: map[id.RoomID][]models.HierarchyRoom{},
		Aliases:     map[id.RoomAlias]id.RoomID{},
		Profiles:    map[id.UserID]models.Profile{},
		Events:      map[id.EventID]json.RawMessage{},
		Errors:      map[Call]error{},
	}
}

// Fail makes op on arg return err from now on.
func (f *Fake) Fail(op, arg string, err error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.Errors[Call{op, arg}] = err
}

// SetMember sets the answer of HasJoined for roomID.
func (f *Fake) SetMember(roomID id.RoomID, joined bool) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.Members[roomID] = joined
}

// Calls returns a copy of every recorded call.
func (f *Fake) Calls() []Call {
	f.mu.Lock()
	defer f.mu.Unlock()
	return append([]Call(nil), f.calls...)
}

// Args returns the arguments of every call to op, in call order.
func (f *Fake) Args(op string) []string {
	f.mu.Lock()
	defer f.mu.Unlock()
	var out []string
	for _, c := range f.calls {
		if c.Op == op {
			out = append(out, c.Arg)
		}
	}
	return out
}

// Count returns how many times op was called.
func (f *Fake) Count(op string) int {
	return len(f.Args(op))
}

func (f *Fake) record(op, arg string) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.calls = append(f.calls, Call{op, arg})
	if err, ok := f.Errors[Call{op, arg}]; ok {
		return fmt.Errorf("%s %s: %w: %w", op, arg, homeserver.ErrUpstream, err)
	}
	return nil
}

func notFound(op, arg string) error {
	return fmt.Errorf("%s %s: %w: %w", op, arg, homeserver.ErrUpstream, homeserver.ErrNotFound)
}

func (f *Fake) UserID() id.UserID { return f.Bot }

func (f *Fake) Whoami(ctx context.Context) (id.UserID, error) {
	if err := f.record("whoami", ""); err != nil {
		return "", err
	}
	return f.Bot, nil
}

func (f *Fake) Join(ctx context.Context, roomID id.RoomID) error {
	if err := f.record("join", roomID.String()); err != nil {
		return err
	}
	f.SetMember(roomID, true)
	return nil
}

func (f *Fake) Leave(ctx context.Context, roomID id.RoomID) error {
	if err := f.record("leave", roomID.String()); err != nil {
		return err
	}
	f.SetMember(roomID, false)
	return nil
}

func (f *Fake) HasJoined(ctx context.Context, roomID id.RoomID) (bool, error) {
	if err := f.record("has_joined", roomID.String()); err != nil {
		return false, err
	}
	f.mu.Lock()
	defer f.mu.Unlock()
	return f.Members[roomID], nil
}

func (f *Fake) State(ctx context.Context, roomID id.RoomID) (models.RoomState, error) {
	if err := f.record("state", roomID.String()); err != nil {
		return nil, err
	}
	f.mu.Lock()
	defer f.mu.Unlock()
	st, ok := f.States[roomID]
	if !ok {
		return nil, notFound("state", roomID.String())
	}
	return st, nil
}

func (f *Fake) Hierarchy(ctx context.Context, roomID id.RoomID) ([]models.HierarchyRoom, error) {
	if err := f.record("hierarchy", roomID.String()); err != nil {
		return nil, err
	}
	f.mu.Lock()
	defer f.mu.Unlock()
	if h, ok := f.Hierarchies[roomID]; ok {
		return h, nil
	}
	return []models.HierarchyRoom{{RoomID: roomID.String()}}, nil
}

func (f *Fake) ResolveAlias(ctx context.Context, alias id.RoomAlias) (id.RoomID, error) {
	if err := f.record("resolve", alias.String()); err != nil {
		return "", err
	}
	f.mu.Lock()
	defer f.mu.Unlock()
	roomID, ok := f.Aliases[alias]
	if !ok {
		return "", notFound("resolve", alias.String())
	}
	return roomID, nil
}

func (f *Fake) JoinedRooms(ctx context.Context) ([]id.RoomID, error) {
	if err := f.record("joined_rooms", ""); err != nil {
		return nil, err
	}
	f.mu.Lock()
	defer f.mu.Unlock()
	return append([]id.RoomID(nil), f.Joined...), nil
}

func (f *Fake) Profile(ctx context.Context, userID id.UserID) (models.Profile, error) {
	if err := f.record("profile", userID.String()); err != nil {
		return models.Profile{}, err
	}
	f.mu.Lock()
	defer f.mu.Unlock()
	return f.Profiles[userID], nil
}

func (f *Fake) RoomEvent(ctx context.Context, roomID id.RoomID, eventID id.EventID) (json.RawMessage, error) {
	if err := f.record("event", eventID.String()); err != nil {
		return nil, err
	}
	f.mu.Lock()
	defer f.mu.Unlock()
	ev, ok := f.Events[eventID]
	if !ok {
		return nil, notFound("event", eventID.String())
	}
	return ev, nil
}

func (f *Fake) Ping(ctx context.Context, txnID string) error {
	return f.record("ping", txnID)
}
