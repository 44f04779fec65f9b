package handlers

import (
	"io"
	"net/http"

	"github.com/rs/zerolog"
	"maunium.net/go/mautrix/id"

	"github.com/commune-sh/public-appservice/internal/homeserver"
)

const indexText = "Commune public appservice.\n"

// BuildInfo is reported by the version endpoint.
type BuildInfo struct {
	Version string `json:"version"`
	Commit  string `json:"commit"`
}

// SystemHandler serves health and identity endpoints.
type SystemHandler struct {
	hs             homeserver.Client
	bot            id.UserID
	searchDisabled bool
	build          BuildInfo
}

func NewSystemHandler(hs homeserver.Client, bot id.UserID, searchDisabled bool, build BuildInfo) *SystemHandler {
	return &SystemHandler{hs: hs, bot: bot, searchDisabled: searchDisabled, build: build}
}

type healthResponse struct {
	Status   string         `json:"status"`
	UserID   id.UserID      `json:"user_id"`
	Features healthFeatures `json:"features"`
}

type healthFeatures struct {
	SearchDisabled bool `json:"search_disabled"`
}

// Health checks that the homeserver accepts our token and knows it as the
// configured bot user.
func (h *SystemHandler) Health(w http.ResponseWriter, r *http.Request) {
	log := zerolog.Ctx(r.Context())
	user, err := h.hs.Whoami(r.Context())
	if err != nil {
		log.Error().Err(err).Msg("Health check failed")
		respondError(w, http.StatusBadGateway, errcodeUnknown, "health check failed, could not reach homeserver")
		return
	}
	if user != h.bot {
		log.Error().Stringer("expected", h.bot).Stringer("got", user).Msg("Health check returned unexpected user")
		respondError(w, http.StatusServiceUnavailable, errcodeUnknown, "homeserver token belongs to another user")
		return
	}
	respondJSON(w, http.StatusOK, healthResponse{
		Status:   "ok",
		UserID:   h.bot,
		Features: healthFeatures{SearchDisabled: h.searchDisabled},
	})
}

func (h *SystemHandler) Identity(w http.ResponseWriter, r *http.Request) {
	respondJSON(w, http.StatusOK, map[string]id.UserID{"user": h.bot})
}

func (h *SystemHandler) Version(w http.ResponseWriter, r *http.Request) {
	respondJSON(w, http.StatusOK, h.build)
}

func (h *SystemHandler) Index(w http.ResponseWriter, r *http.Request) {
	w.Header().Set("Content-Type", "text/plain; charset=utf-8")
	_, _ = io.WriteString(w, indexText)
}
