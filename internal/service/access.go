package service

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/rs/zerolog"
	"maunium.net/go/mautrix/id"

	"github.com/commune-sh/public-appservice/internal/cache"
	"github.com/commune-sh/public-appservice/internal/homeserver"
	"github.com/commune-sh/public-appservice/internal/roomid"
)

// RoomAccess resolves client supplied room identifiers and decides which
// rooms may be exposed.
type RoomAccess struct {
	hs          homeserver.Client
	rooms       *JoinedRoomSet
	store       cache.Store
	serverName  string
	federation  []string
	cacheJoined bool
	joinedTTL   time.Duration
}

// NewRoomAccess builds a RoomAccess for serverName. Room ids on the
// federation domains are accepted as well.
func NewRoomAccess(hs homeserver.Client, rooms *JoinedRoomSet, store cache.Store, serverName string, federation []string, joined CachePolicy) *RoomAccess {
	ttl := joined.TTL
	if ttl <= 0 {
		ttl = DefaultJoinedTTL
	}
	return &RoomAccess{
		hs:          hs,
		rooms:       rooms,
		store:       store,
		serverName:  serverName,
		federation:  federation,
		cacheJoined: joined.Enabled,
		joinedTTL:   ttl,
	}
}

// Resolve returns the room id for raw. Room ids on the local server or a
// federation domain are returned unchanged, other room ids are rejected.
// Anything else is treated as an alias, with a missing sigil or server
// name filled in, and resolved on the homeserver.
func (a *RoomAccess) Resolve(ctx context.Context, raw string) (string, error) {
	if roomid.IsValidRoomID(raw) {
		if !a.knownServer(roomid.ServerName(raw)) {
			return "", fmt.Errorf("%w: %q is not on a served domain", ErrInvalidRoomID, raw)
		}
		return raw, nil
	}
	alias, err := roomid.AliasCandidate(raw, a.serverName)
	if err != nil {
		return "", fmt.Errorf("%w: %q", ErrInvalidRoomID, raw)
	}
	resolved, err := a.hs.ResolveAlias(ctx, alias)
	if errors.Is(err, homeserver.ErrNotFound) {
		return "", fmt.Errorf("%w: %w", ErrRoomNotFound, err)
	}
	if err != nil {
		return "", err
	}
	zerolog.Ctx(ctx).Debug().Stringer("alias", alias).Stringer("room_id", resolved).Msg("Resolved alias")
	return resolved.String(), nil
}

func (a *RoomAccess) knownServer(server string) bool {
	if server == a.serverName {
		return true
	}
	for _, domain := range a.federation {
		if roomid.DomainMatches(server, domain) {
			return true
		}
	}
	return false
}

// EnsurePublic returns ErrNotJoined unless the bot is joined to roomID.
// It consults the joined flag cache, then the joined set, then the
// homeserver; only affirmative homeserver answers are cached.
func (a *RoomAccess) EnsurePublic(ctx context.Context, roomID string) error {
	if !roomid.IsValidRoomID(roomID) {
		return fmt.Errorf("%w: %q", ErrInvalidRoomID, roomID)
	}
	log := zerolog.Ctx(ctx)
	key := cache.JoinedKey(roomID)

	if a.cacheJoined {
		if joined, ok := cache.GetJSON[bool](ctx, a.store, key); ok && joined {
			return nil
		}
	}
	if a.rooms.Contains(roomID) {
		return nil
	}

	joined, err := a.hs.HasJoined(ctx, id.RoomID(roomID))
	if err != nil {
		return err
	}
	if !joined {
		return fmt.Errorf("%w: %s", ErrNotJoined, roomID)
	}
	if a.cacheJoined {
		if err := cache.SetJSON(ctx, a.store, key, true, a.joinedTTL); err != nil {
			log.Warn().Err(err).Str("room_id", roomID).Msg("Failed to cache joined status")
		}
	}
	return nil
}
