package handlers

import (
	"net/http"

	"github.com/go-chi/chi/v5"

	"github.com/commune-sh/public-appservice/internal/service"
)

// RoomHandler serves room info and the admin membership overrides.
type RoomHandler struct {
	dir    *service.Directory
	sync   *service.Synchronizer
	access *service.RoomAccess
}

func NewRoomHandler(dir *service.Directory, s *service.Synchronizer, access *service.RoomAccess) *RoomHandler {
	return &RoomHandler{dir: dir, sync: s, access: access}
}

// Info returns the summary of the room resolved by RequirePublicRoom. The
// room and event query parameters add a child room and an event.
func (h *RoomHandler) Info(w http.ResponseWriter, r *http.Request) {
	target, ok := roomTargetFrom(r.Context())
	if !ok {
		respondError(w, http.StatusBadRequest, errcodeInvalidParam, "invalid room id")
		return
	}
	q := r.URL.Query()
	info, err := h.dir.RoomInfo(r.Context(), target.RoomID, normalizeID(q.Get("room")), normalizeID(q.Get("event")))
	if err != nil {
		writeServiceError(w, r, err)
		return
	}
	respondJSON(w, http.StatusOK, info)
}

func (h *RoomHandler) Join(w http.ResponseWriter, r *http.Request) {
	roomID, ok := h.resolve(w, r)
	if !ok {
		return
	}
	if err := h.sync.Join(r.Context(), roomID); err != nil {
		writeServiceError(w, r, err)
		return
	}
	respondJSON(w, http.StatusOK, map[string]any{"joined": true})
}

func (h *RoomHandler) Leave(w http.ResponseWriter, r *http.Request) {
	roomID, ok := h.resolve(w, r)
	if !ok {
		return
	}
	if err := h.sync.Leave(r.Context(), roomID); err != nil {
		writeServiceError(w, r, err)
		return
	}
	respondJSON(w, http.StatusOK, map[string]any{"left": true})
}

func (h *RoomHandler) resolve(w http.ResponseWriter, r *http.Request) (string, bool) {
	raw, err := decodeRoomParam(chi.URLParam(r, RoomParam))
	if err != nil {
		respondError(w, http.StatusBadRequest, errcodeInvalidParam, err.Error())
		return "", false
	}
	roomID, err := h.access.Resolve(r.Context(), raw)
	if err != nil {
		writeServiceError(w, r, err)
		return "", false
	}
	return roomID, true
}
