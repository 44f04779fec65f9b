package handlers

import (
	"encoding/json"
	"errors"
	"net/http"
	"strings"

	"github.com/rs/zerolog"
	"github.com/rs/zerolog/log"

	"github.com/commune-sh/public-appservice/internal/homeserver"
	"github.com/commune-sh/public-appservice/internal/proxy"
	"github.com/commune-sh/public-appservice/internal/service"
)

// Matrix error codes returned by the service.
const (
	errcodeNotFound     = "M_NOT_FOUND"
	errcodeInvalidParam = "M_INVALID_PARAM"
	errcodeNotJSON      = "M_NOT_JSON"
	errcodeMissingToken = "M_MISSING_TOKEN"
	errcodeForbidden    = "M_FORBIDDEN"
	errcodeUnknown      = "M_UNKNOWN"
)

// maxJSONBody bounds decoded request bodies. Appservice transactions can
// carry many events, so this is larger than a typical API limit.
const maxJSONBody = 10 << 20

// errorResponse is the Matrix style error body.
type errorResponse struct {
	ErrCode string `json:"errcode"`
	Error   string `json:"error,omitempty"`
}

// respondJSON writes payload as JSON. A nil payload writes only the status.
func respondJSON(w http.ResponseWriter, status int, payload any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	if payload == nil {
		return
	}
	if err := json.NewEncoder(w).Encode(payload); err != nil {
		log.Error().Err(err).Msg("Failed to encode response")
	}
}

func respondError(w http.ResponseWriter, status int, errcode, msg string) {
	respondJSON(w, status, errorResponse{ErrCode: errcode, Error: msg})
}

// decodeJSON decodes the request body into dst, answering 400 on failure.
func decodeJSON(w http.ResponseWriter, r *http.Request, dst any) bool {
	r.Body = http.MaxBytesReader(w, r.Body, maxJSONBody)

	if err := json.NewDecoder(r.Body).Decode(dst); err != nil {
		var syntaxErr *json.SyntaxError
		var maxErr *http.MaxBytesError
		switch {
		case errors.As(err, &maxErr):
			respondError(w, http.StatusRequestEntityTooLarge, errcodeUnknown, "request body too large")
		case errors.As(err, &syntaxErr):
			respondError(w, http.StatusBadRequest, errcodeNotJSON, "invalid JSON payload")
		default:
			respondError(w, http.StatusBadRequest, errcodeNotJSON, "bad request")
		}
		return false
	}
	return true
}

// writeServiceError maps a service, homeserver or proxy error to a
// response. Unknown errors are logged and reported as 500.
func writeServiceError(w http.ResponseWriter, r *http.Request, err error) {
	logger := zerolog.Ctx(r.Context())
	switch {
	case errors.Is(err, service.ErrInvalidRoomID), errors.Is(err, service.ErrInvalidEventID):
		respondError(w, http.StatusBadRequest, errcodeInvalidParam, err.Error())
	case errors.Is(err, service.ErrNotJoined),
		errors.Is(err, service.ErrRoomNotFound),
		errors.Is(err, service.ErrSpaceNotFound),
		errors.Is(err, service.ErrEventNotFound),
		errors.Is(err, service.ErrNoSpacesConfigured):
		respondError(w, http.StatusNotFound, errcodeNotFound, err.Error())
	case errors.Is(err, homeserver.ErrUpstream), errors.Is(err, proxy.ErrBadGateway):
		logger.Warn().Err(err).Msg("Upstream request failed")
		respondError(w, http.StatusBadGateway, errcodeUnknown, "homeserver request failed")
	default:
		logger.Error().Err(err).Msg("Request failed")
		respondError(w, http.StatusInternalServerError, errcodeUnknown, "internal error")
	}
}

// bearerToken returns the token from the Authorization header, falling
// back to the access_token query parameter.
func bearerToken(r *http.Request) string {
	if h := r.Header.Get("Authorization"); h != "" {
		if token, ok := strings.CutPrefix(h, "Bearer "); ok {
			return strings.TrimSpace(token)
		}
		return ""
	}
	return r.URL.Query().Get("access_token")
}
