package handlers

import (
	"net/http"

	"github.com/go-chi/chi/v5"

	"github.com/commune-sh/public-appservice/internal/models"
	"github.com/commune-sh/public-appservice/internal/service"
)

type DirectoryHandler struct {
	dir *service.Directory
}

func NewDirectoryHandler(dir *service.Directory) *DirectoryHandler {
	return &DirectoryHandler{dir: dir}
}

type publicRoomsResponse struct {
	Rooms []models.PublicRoom `json:"rooms"`
}

func (h *DirectoryHandler) PublicRooms(w http.ResponseWriter, r *http.Request) {
	rooms, err := h.dir.PublicRooms(r.Context())
	if err != nil {
		writeServiceError(w, r, err)
		return
	}
	if rooms == nil {
		rooms = []models.PublicRoom{}
	}
	respondJSON(w, http.StatusOK, publicRoomsResponse{Rooms: rooms})
}

func (h *DirectoryHandler) Spaces(w http.ResponseWriter, r *http.Request) {
	spaces, err := h.dir.SpaceDirectory(r.Context())
	if err != nil {
		writeServiceError(w, r, err)
		return
	}
	if spaces == nil {
		spaces = []models.RoomSummary{}
	}
	respondJSON(w, http.StatusOK, spaces)
}

func (h *DirectoryHandler) Space(w http.ResponseWriter, r *http.Request) {
	summary, err := h.dir.SpaceSummary(r.Context(), normalizeID(chi.URLParam(r, "space")))
	if err != nil {
		writeServiceError(w, r, err)
		return
	}
	respondJSON(w, http.StatusOK, summary)
}

func (h *DirectoryHandler) SpaceRooms(w http.ResponseWriter, r *http.Request) {
	rooms, err := h.dir.SpaceRooms(r.Context(), normalizeID(chi.URLParam(r, "space")))
	if err != nil {
		writeServiceError(w, r, err)
		return
	}
	if rooms == nil {
		rooms = []models.HierarchyRoom{}
	}
	respondJSON(w, http.StatusOK, rooms)
}
