package homeserver

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"net/http"
	"time"

	"github.com/rs/zerolog"
	"maunium.net/go/mautrix"
	"maunium.net/go/mautrix/event"
	"maunium.net/go/mautrix/id"

	"github.com/commune-sh/public-appservice/internal/models"
)

// RequestTimeout bounds every homeserver call.
const RequestTimeout = 25 * time.Second

// maxHierarchyPages stops runaway pagination on very large spaces.
const maxHierarchyPages = 20

type Options struct {
	Homeserver   string
	UserID       id.UserID
	AccessToken  string
	AppserviceID string
	Logger       zerolog.Logger
	HTTPClient   *http.Client
}

// MautrixClient implements Client on top of maunium.net/go/mautrix.
type MautrixClient struct {
	cli          *mautrix.Client
	userID       id.UserID
	appserviceID string
}

func New(o Options) (*MautrixClient, error) {
	cli, err := mautrix.NewClient(o.Homeserver, o.UserID, o.AccessToken)
	if err != nil {
		return nil, fmt.Errorf("create homeserver client: %w", err)
	}
	cli.Log = o.Logger.With().Str("component", "homeserver").Logger()
	if o.HTTPClient != nil {
		cli.Client = o.HTTPClient
	}
	return &MautrixClient{cli: cli, userID: o.UserID, appserviceID: o.AppserviceID}, nil
}

func (c *MautrixClient) UserID() id.UserID { return c.userID }

func withTimeout(ctx context.Context) (context.Context, context.CancelFunc) {
	return context.WithTimeout(ctx, RequestTimeout)
}

func (c *MautrixClient) Whoami(ctx context.Context) (id.UserID, error) {
	ctx, cancel := withTimeout(ctx)
	defer cancel()
	resp, err := c.cli.Whoami(ctx)
	if err != nil {
		return "", wrapErr("whoami", err)
	}
	return resp.UserID, nil
}

func (c *MautrixClient) Join(ctx context.Context, roomID id.RoomID) error {
	ctx, cancel := withTimeout(ctx)
	defer cancel()
	if _, err := c.cli.JoinRoomByID(ctx, roomID); err != nil {
		return wrapErr("join "+roomID.String(), err)
	}
	return nil
}

func (c *MautrixClient) Leave(ctx context.Context, roomID id.RoomID) error {
	ctx, cancel := withTimeout(ctx)
	defer cancel()
	if _, err := c.cli.LeaveRoom(ctx, roomID); err != nil {
		return wrapErr("leave "+roomID.String(), err)
	}
	return nil
}

func (c *MautrixClient) HasJoined(ctx context.Context, roomID id.RoomID) (bool, error) {
	ctx, cancel := withTimeout(ctx)
	defer cancel()
	var content event.MemberEventContent
	err := c.cli.StateEvent(ctx, roomID, event.StateMember, c.userID.String(), &content)
	if errors.Is(err, mautrix.MNotFound) || errors.Is(err, mautrix.MForbidden) {
		return false, nil
	}
	if err != nil {
		return false, wrapErr("membership "+roomID.String(), err)
	}
	return content.Membership == event.MembershipJoin, nil
}

func (c *MautrixClient) State(ctx context.Context, roomID id.RoomID) (models.RoomState, error) {
	ctx, cancel := withTimeout(ctx)
	defer cancel()
	var state models.RoomState
	u := c.cli.BuildClientURL("v3", "rooms", roomID, "state")
	if _, err := c.cli.MakeRequest(ctx, http.MethodGet, u, nil, &state); err != nil {
		return nil, wrapErr("state "+roomID.String(), err)
	}
	return state, nil
}

type hierarchyPage struct {
	Rooms     []models.HierarchyRoom `json:"rooms"`
	NextBatch string                 `json:"next_batch,omitempty"`
}

func (c *MautrixClient) Hierarchy(ctx context.Context, roomID id.RoomID) ([]models.HierarchyRoom, error) {
	ctx, cancel := withTimeout(ctx)
	defer cancel()

	var rooms []models.HierarchyRoom
	from := ""
	for page := 0; page < maxHierarchyPages; page++ {
		query := map[string]string{}
		if from != "" {
			query["from"] = from
		}
		u := c.cli.BuildURLWithQuery(mautrix.ClientURLPath{"v1", "rooms", roomID, "hierarchy"}, query)

		var resp hierarchyPage
		if _, err := c.cli.MakeRequest(ctx, http.MethodGet, u, nil, &resp); err != nil {
			return nil, wrapErr("hierarchy "+roomID.String(), err)
		}
		rooms = append(rooms, resp.Rooms...)
		if resp.NextBatch == "" {
			return rooms, nil
		}
		from = resp.NextBatch
	}
	zerolog.Ctx(ctx).Warn().
		Stringer("room_id", roomID).
		Int("pages", maxHierarchyPages).
		Msg("Hierarchy truncated")
	return rooms, nil
}

func (c *MautrixClient) ResolveAlias(ctx context.Context, alias id.RoomAlias) (id.RoomID, error) {
	ctx, cancel := withTimeout(ctx)
	defer cancel()
	resp, err := c.cli.ResolveAlias(ctx, alias)
	if err != nil {
		return "", wrapErr("resolve "+alias.String(), err)
	}
	return resp.RoomID, nil
}

func (c *MautrixClient) JoinedRooms(ctx context.Context) ([]id.RoomID, error) {
	ctx, cancel := withTimeout(ctx)
	defer cancel()
	resp, err := c.cli.JoinedRooms(ctx)
	if err != nil {
		return nil, wrapErr("joined rooms", err)
	}
	return resp.JoinedRooms, nil
}

func (c *MautrixClient) Profile(ctx context.Context, userID id.UserID) (models.Profile, error) {
	ctx, cancel := withTimeout(ctx)
	defer cancel()
	resp, err := c.cli.GetProfile(ctx, userID)
	if err != nil {
		return models.Profile{}, wrapErr("profile "+userID.String(), err)
	}
	p := models.Profile{DisplayName: resp.DisplayName}
	if !resp.AvatarURL.IsEmpty() {
		p.AvatarURL = resp.AvatarURL.String()
	}
	return p, nil
}

func (c *MautrixClient) RoomEvent(ctx context.Context, roomID id.RoomID, eventID id.EventID) (json.RawMessage, error) {
	ctx, cancel := withTimeout(ctx)
	defer cancel()
	var raw json.RawMessage
	u := c.cli.BuildClientURL("v3", "rooms", roomID, "event", eventID)
	if _, err := c.cli.MakeRequest(ctx, http.MethodGet, u, nil, &raw); err != nil {
		return nil, wrapErr("event "+eventID.String(), err)
	}
	return raw, nil
}

type reqPing struct {
	TransactionID string `json:"transaction_id,omitempty"`
}

// Ping asks the homeserver to call back the appservice's /ping endpoint
// with txnID.
func (c *MautrixClient) Ping(ctx context.Context, txnID string) error {
	ctx, cancel := withTimeout(ctx)
	defer cancel()
	u := c.cli.BuildClientURL("v1", "appservice", c.appserviceID, "ping")
	if _, err := c.cli.MakeRequest(ctx, http.MethodPost, u, reqPing{TransactionID: txnID}, nil); err != nil {
		return wrapErr("ping", err)
	}
	return nil
}
