// Package homeserver wraps the Matrix client-server API calls made on
// behalf of the appservice bot.
package homeserver

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"

	"maunium.net/go/mautrix"
	"maunium.net/go/mautrix/id"

	"github.com/commune-sh/public-appservice/internal/models"
)

var (
	// ErrUpstream wraps every failed homeserver call.
	ErrUpstream = errors.New("homeserver request failed")
	// ErrNotFound is additionally wrapped when the homeserver answered
	// M_NOT_FOUND.
	ErrNotFound = errors.New("not found on homeserver")
)

// Client is the set of homeserver operations the service depends on.
type Client interface {
	UserID() id.UserID
	Whoami(ctx context.Context) (id.UserID, error)
	Join(ctx context.Context, roomID id.RoomID) error
	Leave(ctx context.Context, roomID id.RoomID) error
	// HasJoined reports whether the bot's current membership is "join".
	// A room the bot cannot see reports false without an error.
	HasJoined(ctx context.Context, roomID id.RoomID) (bool, error)
	State(ctx context.Context, roomID id.RoomID) (models.RoomState, error)
	Hierarchy(ctx context.Context, roomID id.RoomID) ([]models.HierarchyRoom, error)
	ResolveAlias(ctx context.Context, alias id.RoomAlias) (id.RoomID, error)
	JoinedRooms(ctx context.Context) ([]id.RoomID, error)
	Profile(ctx context.Context, userID id.UserID) (models.Profile, error)
	RoomEvent(ctx context.Context, roomID id.RoomID, eventID id.EventID) (json.RawMessage, error)
	Ping(ctx context.Context, txnID string) error
}

func wrapErr(op string, err error) error {
	if errors.Is(err, mautrix.MNotFound) {
		return fmt.Errorf("%s: %w: %w", op, ErrNotFound, err)
	}
	return fmt.Errorf("%s: %w: %w", op, ErrUpstream, err)
}
