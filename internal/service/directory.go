package service

import (
	"context"
	"errors"
	"fmt"
	"slices"
	"strings"
	"sync"
	"time"

	"github.com/rs/zerolog"
	"github.com/tidwall/gjson"
	"golang.org/x/sync/errgroup"
	"maunium.net/go/mautrix/id"

	"github.com/commune-sh/public-appservice/internal/cache"
	"github.com/commune-sh/public-appservice/internal/homeserver"
	"github.com/commune-sh/public-appservice/internal/models"
	"github.com/commune-sh/public-appservice/internal/roomid"
)

// DefaultFanOut bounds concurrent homeserver calls while aggregating.
const DefaultFanOut = 10

// CachePolicy enables memoization of one derived value.
type CachePolicy struct {
	Enabled bool
	TTL     time.Duration
}

type DirectoryOptions struct {
	ServerName string
	// Curated orders the directory by the position of each room's
	// canonical alias in IncludeRooms. It never adds or removes rooms.
	Curated      bool
	IncludeRooms []string

	DefaultSpaces          []string
	IncludeAllJoinedSpaces bool

	PublicRooms CachePolicy
	RoomState   CachePolicy
	Spaces      CachePolicy

	FanOut int
}

// Directory aggregates room state into the public room and space
// directories. It only reads the joined set.
type Directory struct {
	hs    homeserver.Client
	rooms *JoinedRoomSet
	store cache.Store
	opts  DirectoryOptions
	log   zerolog.Logger

	// rank maps a curated alias to its position in IncludeRooms.
	rank map[string]int
}

func NewDirectory(hs homeserver.Client, rooms *JoinedRoomSet, store cache.Store, opts DirectoryOptions, log zerolog.Logger) *Directory {
	if opts.FanOut <= 0 {
		opts.FanOut = DefaultFanOut
	}
	d := &Directory{
		hs:    hs,
		rooms: rooms,
		store: store,
		opts:  opts,
		log:   log.With().Str("component", "directory").Logger(),
	}
	if opts.Curated {
		d.rank = make(map[string]int, len(opts.IncludeRooms))
		for i, raw := range opts.IncludeRooms {
			alias, err := roomid.AliasCandidate(raw, opts.ServerName)
			if err != nil {
				d.log.Warn().Str("room", raw).Msg("Ignoring malformed curated room")
				continue
			}
			if _, ok := d.rank[alias.String()]; !ok {
				d.rank[alias.String()] = i
			}
		}
	}
	return d
}

// PublicRooms returns the directory, from cache when enabled.
func (d *Directory) PublicRooms(ctx context.Context) ([]models.PublicRoom, error) {
	if !d.opts.PublicRooms.Enabled {
		return d.BuildPublicRooms(ctx)
	}
	return cache.GetOrFetchJSON(ctx, d.store, cache.PublicRoomsKey, d.opts.PublicRooms.TTL, d.BuildPublicRooms)
}

// BuildPublicRooms folds the state of every joined room. Rooms whose
// state cannot be fetched are dropped.
func (d *Directory) BuildPublicRooms(ctx context.Context) ([]models.PublicRoom, error) {
	candidates := d.rooms.Snapshot()
	folded := make([]*models.PublicRoom, len(candidates))
	g, gctx := errgroup.WithContext(ctx)
	g.SetLimit(d.opts.FanOut)
	for i, roomID := range candidates {
		g.Go(func() error {
			state, err := d.roomState(gctx, roomID)
			if err != nil {
				d.log.Warn().Err(err).Str("room_id", roomID).Msg("Skipping room with unreadable state")
				return nil
			}
			room := FoldPublicRoom(roomID, state)
			folded[i] = &room
			return nil
		})
	}
	if err := g.Wait(); err != nil {
		return nil, err
	}
	if err := ctx.Err(); err != nil {
		return nil, err
	}

	rooms := make([]models.PublicRoom, 0, len(folded))
	for _, r := range folded {
		if r == nil || Hidden(*r) {
			continue
		}
		rooms = append(rooms, *r)
	}
	d.curate(rooms)
	return rooms, nil
}

// curate orders rooms by the position of their canonical alias in the
// include list. Rooms not in the list keep their order at the end.
func (d *Directory) curate(rooms []models.PublicRoom) {
	if len(d.rank) == 0 {
		return
	}
	position := func(r models.PublicRoom) int {
		if i, ok := d.rank[r.CanonicalAlias]; ok {
			return i
		}
		return len(d.opts.IncludeRooms)
	}
	slices.SortStableFunc(rooms, func(a, b models.PublicRoom) int {
		return position(a) - position(b)
	})
}

func (d *Directory) roomState(ctx context.Context, roomID string) (models.RoomState, error) {
	fetch := func(ctx context.Context) (models.RoomState, error) {
		return d.hs.State(ctx, id.RoomID(roomID))
	}
	if !d.opts.RoomState.Enabled {
		return fetch(ctx)
	}
	return cache.GetOrFetchJSON(ctx, d.store, cache.RoomStateKey(roomID), d.opts.RoomState.TTL, fetch)
}

// joined checks the set first and falls back to the homeserver.
func (d *Directory) joined(ctx context.Context, roomID string) (bool, error) {
	if d.rooms.Contains(roomID) {
		return true, nil
	}
	return d.hs.HasJoined(ctx, id.RoomID(roomID))
}

// RoomSummary folds the summary of a room the bot has joined.
func (d *Directory) RoomSummary(ctx context.Context, roomID string) (models.RoomSummary, error) {
	if !roomid.IsValidRoomID(roomID) {
		return models.RoomSummary{}, ErrInvalidRoomID
	}
	ok, err := d.joined(ctx, roomID)
	if err != nil {
		return models.RoomSummary{}, err
	}
	if !ok {
		return models.RoomSummary{}, ErrNotJoined
	}
	state, err := d.roomState(ctx, roomID)
	if errors.Is(err, homeserver.ErrNotFound) {
		return models.RoomSummary{}, fmt.Errorf("%w: %w", ErrRoomNotFound, err)
	}
	if err != nil {
		return models.RoomSummary{}, err
	}
	return FoldSummary(roomID, state), nil
}

// RoomInfo returns a room's summary. With roomSlug it also returns the
// summary of the hierarchy room whose slugified name matches, and with
// eventID the event and its sender's profile.
func (d *Directory) RoomInfo(ctx context.Context, roomID, roomSlug, eventID string) (models.RoomInfo, error) {
	summary, err := d.RoomSummary(ctx, roomID)
	if err != nil {
		return models.RoomInfo{}, err
	}
	info := models.RoomInfo{Info: summary}
	target := roomID

	if roomSlug != "" {
		hierarchy, err := d.hs.Hierarchy(ctx, id.RoomID(roomID))
		if err != nil {
			return models.RoomInfo{}, err
		}
		for _, child := range hierarchy {
			if child.Name == "" || roomid.Slugify(child.Name) != roomSlug {
				continue
			}
			childSummary, err := d.RoomSummary(ctx, child.RoomID)
			if err != nil {
				return models.RoomInfo{}, err
			}
			info.Room = &childSummary
			target = child.RoomID
			break
		}
	}

	if eventID != "" {
		if !validEventID(eventID) {
			return models.RoomInfo{}, fmt.Errorf("%w: %q", ErrInvalidEventID, eventID)
		}
		raw, err := d.hs.RoomEvent(ctx, id.RoomID(target), id.EventID(eventID))
		if errors.Is(err, homeserver.ErrNotFound) {
			return models.RoomInfo{}, fmt.Errorf("%w: %w", ErrEventNotFound, err)
		}
		if err != nil {
			return models.RoomInfo{}, err
		}
		info.Event = raw

		if sender := senderOf(raw); sender != "" {
			profile, err := d.hs.Profile(ctx, id.UserID(sender))
			if err != nil {
				return models.RoomInfo{}, err
			}
			info.Sender = &profile
		}
	}
	return info, nil
}

// SpaceDirectory returns the summaries of every configured space.
func (d *Directory) SpaceDirectory(ctx context.Context) ([]models.RoomSummary, error) {
	if len(d.opts.DefaultSpaces) == 0 && !d.opts.IncludeAllJoinedSpaces {
		return nil, ErrNoSpacesConfigured
	}
	if !d.opts.Spaces.Enabled {
		return d.BuildSpaceDirectory(ctx)
	}
	return cache.GetOrFetchJSON(ctx, d.store, cache.PublicSpacesKey, d.opts.Spaces.TTL, d.BuildSpaceDirectory)
}

// BuildSpaceDirectory resolves each configured space, skipping those that
// fail, and optionally adds every joined room that has children.
func (d *Directory) BuildSpaceDirectory(ctx context.Context) ([]models.RoomSummary, error) {
	seen := make(map[string]struct{})
	spaces := make([]models.RoomSummary, 0, len(d.opts.DefaultSpaces))

	for _, slug := range d.opts.DefaultSpaces {
		roomID, err := d.resolveSpace(ctx, slug)
		if err != nil {
			d.log.Warn().Err(err).Str("space", slug).Msg("Skipping space")
			continue
		}
		summary, err := d.RoomSummary(ctx, roomID)
		if err != nil {
			d.log.Warn().Err(err).Str("space", slug).Msg("Skipping space without summary")
			continue
		}
		seen[roomID] = struct{}{}
		spaces = append(spaces, summary)
	}

	if d.opts.IncludeAllJoinedSpaces {
		extra, err := d.joinedSpaces(ctx, seen)
		if err != nil {
			return nil, err
		}
		spaces = append(spaces, extra...)
	}
	return spaces, nil
}

// joinedSpaces detects spaces among the joined rooms by their hierarchy
// containing more than the room itself.
func (d *Directory) joinedSpaces(ctx context.Context, skip map[string]struct{}) ([]models.RoomSummary, error) {
	var (
		mu  sync.Mutex
		out = make(map[string]models.RoomSummary)
	)
	candidates := d.rooms.Snapshot()

	g, gctx := errgroup.WithContext(ctx)
	g.SetLimit(d.opts.FanOut)
	for _, roomID := range candidates {
		if _, ok := skip[roomID]; ok {
			continue
		}
		g.Go(func() error {
			hierarchy, err := d.hs.Hierarchy(gctx, id.RoomID(roomID))
			if err != nil || len(hierarchy) <= 1 {
				return nil
			}
			summary, err := d.RoomSummary(gctx, roomID)
			if err != nil {
				d.log.Warn().Err(err).Str("room_id", roomID).Msg("Skipping joined space")
				return nil
			}
			mu.Lock()
			out[roomID] = summary
			mu.Unlock()
			return nil
		})
	}
	if err := g.Wait(); err != nil {
		return nil, err
	}

	spaces := make([]models.RoomSummary, 0, len(out))
	for _, roomID := range candidates {
		if s, ok := out[roomID]; ok {
			spaces = append(spaces, s)
		}
	}
	return spaces, nil
}

// SpaceSummary returns the summary of the local space #slug:server.
func (d *Directory) SpaceSummary(ctx context.Context, slug string) (models.RoomSummary, error) {
	roomID, err := d.resolveSpace(ctx, slug)
	if err != nil {
		return models.RoomSummary{}, err
	}
	fetch := func(ctx context.Context) (models.RoomSummary, error) {
		return d.RoomSummary(ctx, roomID)
	}
	if !d.opts.Spaces.Enabled {
		return fetch(ctx)
	}
	return cache.GetOrFetchJSON(ctx, d.store, cache.SpaceSummaryKey(slug), d.opts.Spaces.TTL, fetch)
}

// SpaceRooms returns the hierarchy of the local space #slug:server.
func (d *Directory) SpaceRooms(ctx context.Context, slug string) ([]models.HierarchyRoom, error) {
	roomID, err := d.resolveSpace(ctx, slug)
	if err != nil {
		return nil, err
	}
	ok, err := d.joined(ctx, roomID)
	if err != nil {
		return nil, err
	}
	if !ok {
		return nil, ErrNotJoined
	}
	return d.hs.Hierarchy(ctx, id.RoomID(roomID))
}

func (d *Directory) resolveSpace(ctx context.Context, slug string) (string, error) {
	alias, err := roomid.AliasCandidate(slug, d.opts.ServerName)
	if err != nil || roomid.ServerName(alias.String()) != d.opts.ServerName {
		return "", fmt.Errorf("%w: %q", ErrSpaceNotFound, slug)
	}
	roomID, err := d.hs.ResolveAlias(ctx, alias)
	if errors.Is(err, homeserver.ErrNotFound) {
		return "", fmt.Errorf("%w: %w", ErrSpaceNotFound, err)
	}
	if err != nil {
		return "", err
	}
	return roomID.String(), nil
}

func validEventID(s string) bool {
	return len(s) > 1 && strings.HasPrefix(s, "$") && !strings.ContainsAny(s, " /")
}

func senderOf(raw []byte) string {
	return gjson.GetBytes(raw, "sender").String()
}
