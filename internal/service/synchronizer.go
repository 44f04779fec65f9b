package service

import (
	"context"
	"encoding/json"
	"sync"
	"time"

	"github.com/rs/zerolog"
	"maunium.net/go/mautrix/event"
	"maunium.net/go/mautrix/id"

	"github.com/commune-sh/public-appservice/internal/cache"
	"github.com/commune-sh/public-appservice/internal/clock"
	"github.com/commune-sh/public-appservice/internal/homeserver"
	"github.com/commune-sh/public-appservice/internal/roomid"
)

const (
	DefaultAutoJoinDelay = 5 * time.Second
	DefaultJoinedTTL     = 300 * time.Second
)

type SyncRules struct {
	ServerName          string
	AutoJoin            bool
	InviteByLocalUser   bool
	FederationWhitelist []string
	AutoJoinDelay       time.Duration
	JoinedTTL           time.Duration
}

// MembershipObserver is told about every membership change the
// synchronizer applies.
type MembershipObserver interface {
	RoomJoined(roomID string)
	RoomLeft(roomID string)
}

// Synchronizer applies pushed transactions to the bot's room membership.
type Synchronizer struct {
	hs       homeserver.Client
	rooms    *JoinedRoomSet
	store    cache.Store
	clock    clock.Clock
	rules    SyncRules
	log      zerolog.Logger
	observer MembershipObserver

	pending sync.WaitGroup
}

func NewSynchronizer(hs homeserver.Client, rooms *JoinedRoomSet, store cache.Store, clk clock.Clock, rules SyncRules, log zerolog.Logger) *Synchronizer {
	if rules.AutoJoinDelay <= 0 {
		rules.AutoJoinDelay = DefaultAutoJoinDelay
	}
	if rules.JoinedTTL <= 0 {
		rules.JoinedTTL = DefaultJoinedTTL
	}
	if clk == nil {
		clk = clock.Real()
	}
	return &Synchronizer{
		hs:    hs,
		rooms: rooms,
		store: store,
		clock: clk,
		rules: rules,
		log:   log.With().Str("component", "synchronizer").Logger(),
	}
}

// SetObserver registers o to receive membership changes. Call before
// serving traffic.
func (s *Synchronizer) SetObserver(o MembershipObserver) { s.observer = o }

func (s *Synchronizer) Rooms() *JoinedRoomSet { return s.rooms }

// Seed replaces the joined set with the homeserver's joined_rooms.
func (s *Synchronizer) Seed(ctx context.Context) error {
	joined, err := s.hs.JoinedRooms(ctx)
	if err != nil {
		return err
	}
	ids := make([]string, len(joined))
	for i, r := range joined {
		ids[i] = r.String()
	}
	s.rooms.Replace(ids)
	s.log.Info().Int("rooms", len(ids)).Msg("Seeded joined rooms")
	return nil
}

// HandleTransaction processes every event of a pushed batch in order.
// Failures are logged per event and never returned; the batch keeps
// going after the caller disconnects.
func (s *Synchronizer) HandleTransaction(ctx context.Context, txnID string, events []json.RawMessage) {
	ctx = context.WithoutCancel(ctx)
	log := s.log.With().Str("txn_id", txnID).Logger()
	ctx = log.WithContext(ctx)

	log.Debug().Int("events", len(events)).Msg("Handling transaction")
	for _, raw := range events {
		s.handleEvent(ctx, ClassifyEvent(raw))
	}
}

func (s *Synchronizer) handleEvent(ctx context.Context, evt Event) {
	log := zerolog.Ctx(ctx).With().Str("room_id", evt.Room()).Logger()

	switch e := evt.(type) {
	case HistoryVisibilityEvent:
		if !s.rules.AutoJoin || e.Visibility != VisibilityWorldReadable {
			return
		}
		log.Info().Dur("delay", s.rules.AutoJoinDelay).Msg("Scheduling join of world readable room")
		s.scheduleJoin(log.WithContext(ctx), e.RoomID)

	case SpaceChildEvent:
		if !s.rules.AutoJoin {
			return
		}
		log.Info().Str("child_id", e.ChildID).Msg("Auto joining space child")
		_ = s.join(ctx, e.ChildID)

	case PublicRoomMarkerEvent:
		if e.Public {
			log.Info().Msg("Room marked public, joining")
			_ = s.join(ctx, e.RoomID)
			return
		}
		log.Info().Msg("Room marked private, leaving")
		_ = s.leave(ctx, e.RoomID)

	case MembershipEvent:
		s.handleMembership(log.WithContext(ctx), e)

	case UnrecognizedEvent:
		log.Trace().Str("type", e.Type).Msg("Ignoring event")
	}
}

func (s *Synchronizer) handleMembership(ctx context.Context, e MembershipEvent) {
	log := zerolog.Ctx(ctx)
	if !s.roomAllowed(e.RoomID) {
		log.Debug().Msg("Ignoring membership event for room on foreign server")
		return
	}
	if e.StateKey != s.hs.UserID().String() {
		log.Trace().Str("state_key", e.StateKey).Msg("Ignoring membership of other user")
		return
	}

	switch event.Membership(e.Membership) {
	case event.MembershipInvite:
		log.Info().Str("inviter", e.Sender).Msg("Invited, joining")
		_ = s.join(ctx, e.RoomID)
	case event.MembershipLeave:
		log.Info().Msg("Removed from room, leaving")
		_ = s.leave(ctx, e.RoomID)
	case event.MembershipBan:
		log.Info().Msg("Banned from room")
		s.forget(ctx, e.RoomID)
	}
}

// roomAllowed accepts rooms on the local server, and rooms on whitelisted
// servers unless invites are restricted to local users.
func (s *Synchronizer) roomAllowed(roomID string) bool {
	server := roomid.ServerName(roomID)
	switch {
	case server == "":
		return false
	case server == s.rules.ServerName:
		return true
	case s.rules.InviteByLocalUser:
		return false
	}
	for _, domain := range s.rules.FederationWhitelist {
		if roomid.DomainMatches(server, domain) {
			return true
		}
	}
	return false
}

func (s *Synchronizer) scheduleJoin(ctx context.Context, roomID string) {
	s.pending.Add(1)
	s.clock.AfterFunc(s.rules.AutoJoinDelay, func() {
		defer s.pending.Done()
		_ = s.join(ctx, roomID)
	})
}

// Wait blocks until every scheduled join has run.
func (s *Synchronizer) Wait() { s.pending.Wait() }

// Join joins roomID and records the membership.
func (s *Synchronizer) Join(ctx context.Context, roomID string) error {
	return s.join(ctx, roomID)
}

// Leave leaves roomID and its hierarchy and forgets the membership.
func (s *Synchronizer) Leave(ctx context.Context, roomID string) error {
	return s.leave(ctx, roomID)
}

func (s *Synchronizer) join(ctx context.Context, roomID string) error {
	log := zerolog.Ctx(ctx).With().Str("room_id", roomID).Logger()
	if err := s.hs.Join(ctx, id.RoomID(roomID)); err != nil {
		log.Warn().Err(err).Msg("Failed to join room")
		return err
	}
	log.Info().Msg("Joined room")

	if err := s.store.Set(ctx, cache.JoinedKey(roomID), []byte("true"), s.rules.JoinedTTL); err != nil {
		log.Warn().Err(err).Msg("Failed to cache joined status")
	}
	if s.rooms.Add(roomID) {
		s.directoryChanged(ctx)
		if s.observer != nil {
			s.observer.RoomJoined(roomID)
		}
	}
	return nil
}

// leave leaves every room of roomID's hierarchy other than roomID, then
// roomID itself. Only roomID is forgotten, even when the leave call fails;
// children drop out of the set when their own leave events are pushed.
func (s *Synchronizer) leave(ctx context.Context, roomID string) error {
	log := zerolog.Ctx(ctx).With().Str("room_id", roomID).Logger()

	hierarchy, err := s.hs.Hierarchy(ctx, id.RoomID(roomID))
	if err != nil {
		log.Warn().Err(err).Msg("Failed to fetch hierarchy, leaving room only")
	}
	for _, child := range hierarchy {
		if child.RoomID == roomID {
			continue
		}
		if err := s.hs.Leave(ctx, id.RoomID(child.RoomID)); err != nil {
			log.Warn().Err(err).Str("child_id", child.RoomID).Msg("Failed to leave child room")
			continue
		}
		log.Info().Str("child_id", child.RoomID).Msg("Left child room")
	}

	err = s.hs.Leave(ctx, id.RoomID(roomID))
	if err != nil {
		log.Warn().Err(err).Msg("Failed to leave room")
	} else {
		log.Info().Msg("Left room")
	}
	s.forget(ctx, roomID)
	return err
}

func (s *Synchronizer) forget(ctx context.Context, roomID string) {
	if err := s.store.Delete(ctx, cache.JoinedKey(roomID)); err != nil {
		zerolog.Ctx(ctx).Warn().Err(err).Str("room_id", roomID).Msg("Failed to evict joined status")
	}
	if s.rooms.Remove(roomID) {
		s.directoryChanged(ctx)
		if s.observer != nil {
			s.observer.RoomLeft(roomID)
		}
	}
}

func (s *Synchronizer) directoryChanged(ctx context.Context) {
	for _, key := range []string{cache.PublicRoomsKey, cache.PublicSpacesKey} {
		if err := s.store.Delete(ctx, key); err != nil {
			zerolog.Ctx(ctx).Warn().Err(err).Str("key", key).Msg("Failed to evict directory cache")
		}
	}
}
