package handlers

import (
	"context"
	"crypto/subtle"
	"errors"
	"net/http"
	"net/url"
	"strings"

	"github.com/go-chi/chi/v5"
	"github.com/rs/zerolog"

	"github.com/commune-sh/public-appservice/internal/proxy"
	"github.com/commune-sh/public-appservice/internal/service"
)

// RoomParam is the URL parameter holding a room id or alias.
const RoomParam = "room_id"

var errRoomParam = errors.New("room id or alias required")

type roomCtxKey struct{}

// roomTarget is what RequirePublicRoom hands to the handlers behind it.
type roomTarget struct {
	RoomID string
	// Path is the escaped request path with the room segment replaced by
	// RoomID.
	Path string
}

func withRoomTarget(ctx context.Context, t roomTarget) context.Context {
	return context.WithValue(ctx, roomCtxKey{}, t)
}

func roomTargetFrom(ctx context.Context) (roomTarget, bool) {
	t, ok := ctx.Value(roomCtxKey{}).(roomTarget)
	return t, ok
}

// RequireToken rejects requests that do not carry token, either as a
// bearer token or as the access_token query parameter. An empty token
// rejects every request.
func RequireToken(token string) func(http.Handler) http.Handler {
	return func(next http.Handler) http.Handler {
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			got := bearerToken(r)
			if got == "" {
				respondError(w, http.StatusUnauthorized, errcodeMissingToken, "missing access token")
				return
			}
			if token == "" || subtle.ConstantTimeCompare([]byte(got), []byte(token)) != 1 {
				zerolog.Ctx(r.Context()).Warn().Str("path", r.URL.Path).Msg("Rejected request with invalid token")
				respondError(w, http.StatusForbidden, errcodeForbidden, "invalid access token")
				return
			}
			next.ServeHTTP(w, r)
		})
	}
}

// RequirePublicRoom resolves the room parameter to a room id, rewrites the
// path to use it and only lets requests for rooms the bot has joined
// through.
func RequirePublicRoom(access *service.RoomAccess) func(http.Handler) http.Handler {
	return func(next http.Handler) http.Handler {
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			raw := chi.URLParam(r, RoomParam)
			decoded, err := decodeRoomParam(raw)
			if err != nil {
				respondError(w, http.StatusBadRequest, errcodeInvalidParam, err.Error())
				return
			}

			ctx := r.Context()
			roomID, err := access.Resolve(ctx, decoded)
			if err != nil {
				writeServiceError(w, r, err)
				return
			}
			if err := access.EnsurePublic(ctx, roomID); err != nil {
				writeServiceError(w, r, err)
				return
			}

			zerolog.Ctx(ctx).UpdateContext(func(c zerolog.Context) zerolog.Context {
				return c.Str("room_id", roomID)
			})
			target := roomTarget{
				RoomID: roomID,
				Path:   proxy.RewriteRoomSegment(requestPath(r), raw, roomID),
			}
			next.ServeHTTP(w, r.WithContext(withRoomTarget(ctx, target)))
		})
	}
}

// normalizeID trims surrounding whitespace from an identifier.
func normalizeID(id string) string {
	return strings.TrimSpace(id)
}

// decodeRoomParam unescapes a room path parameter, so "%23alias" becomes
// "#alias".
func decodeRoomParam(raw string) (string, error) {
	decoded, err := url.PathUnescape(raw)
	if err != nil {
		return "", errRoomParam
	}
	decoded = normalizeID(decoded)
	if decoded == "" {
		return "", errRoomParam
	}
	return decoded, nil
}

// requestPath is the escaped request path without a trailing slash.
func requestPath(r *http.Request) string {
	p := r.URL.EscapedPath()
	if len(p) > 1 {
		p = strings.TrimSuffix(p, "/")
	}
	return p
}
