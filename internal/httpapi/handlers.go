package httpapi

import (
	"encoding/json"
	"net/http"
	"strconv"

	"github.com/go-chi/chi/v5"
	"go.uber.org/zap"

	"github.com/rigidity/lobby-backend/internal/apperr"
	"github.com/rigidity/lobby-backend/internal/auth"
	"github.com/rigidity/lobby-backend/internal/matchmaking"
	"github.com/rigidity/lobby-backend/internal/room"
)

type Handlers struct {
	svc   *room.Service
	mmKey string
	log   *zap.Logger
}

func NewHandlers(svc *room.Service, mmKey string, log *zap.Logger) *Handlers {
	return &Handlers{svc: svc, mmKey: mmKey, log: log.Named("http")}
}

func (h *Handlers) ListRooms(w http.ResponseWriter, r *http.Request) {
	rooms, err := h.svc.List(r.Context())
	if err != nil {
		h.respondError(w, err)
		return
	}
	h.respondJSON(w, http.StatusOK, rooms)
}

func (h *Handlers) CreateRoom(w http.ResponseWriter, r *http.Request) {
	userID, _ := auth.FromContext(r.Context())
	var data room.RoomData
	if err := json.NewDecoder(r.Body).Decode(&data); err != nil {
		http.Error(w, "bad json", http.StatusBadRequest)
		return
	}
	snap, err := h.svc.Create(r.Context(), userID, data)
	if err != nil {
		h.respondError(w, err)
		return
	}
	h.respondJSON(w, http.StatusCreated, snap)
}

func (h *Handlers) UpdateRoom(w http.ResponseWriter, r *http.Request) {
	userID, _ := auth.FromContext(r.Context())
	roomID, ok := pathID(w, r, "id")
	if !ok {
		return
	}
	var data room.RoomData
	if err := json.NewDecoder(r.Body).Decode(&data); err != nil {
		http.Error(w, "bad json", http.StatusBadRequest)
		return
	}
	snap, err := h.svc.Update(r.Context(), userID, roomID, data)
	if err != nil {
		h.respondError(w, err)
		return
	}
	h.respondJSON(w, http.StatusOK, snap)
}

func (h *Handlers) DeleteRoom(w http.ResponseWriter, r *http.Request) {
	userID, _ := auth.FromContext(r.Context())
	if err := h.svc.DeleteOwn(r.Context(), userID); err != nil {
		h.respondError(w, err)
		return
	}
	w.WriteHeader(http.StatusNoContent)
}

func (h *Handlers) JoinRoom(w http.ResponseWriter, r *http.Request) {
	userID, _ := auth.FromContext(r.Context())
	roomID, ok := pathID(w, r, "id")
	if !ok {
		return
	}
	snap, err := h.svc.Join(r.Context(), userID, roomID)
	if err != nil {
		h.respondError(w, err)
		return
	}
	h.respondJSON(w, http.StatusOK, snap)
}

func (h *Handlers) QuitRoom(w http.ResponseWriter, r *http.Request) {
	userID, _ := auth.FromContext(r.Context())
	roomID, ok := pathID(w, r, "id")
	if !ok {
		return
	}
	if err := h.svc.Quit(r.Context(), userID, roomID); err != nil {
		h.respondError(w, err)
		return
	}
	w.WriteHeader(http.StatusNoContent)
}

type switchSlotRequest struct {
	Team         int `json:"team"`
	TeamPosition int `json:"team_position"`
}

func (h *Handlers) SwitchSlot(w http.ResponseWriter, r *http.Request) {
	userID, _ := auth.FromContext(r.Context())
	roomID, ok := pathID(w, r, "id")
	if !ok {
		return
	}
	var req switchSlotRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		http.Error(w, "bad json", http.StatusBadRequest)
		return
	}
	snap, err := h.svc.SwitchSlot(r.Context(), userID, roomID, req.Team, req.TeamPosition)
	if err != nil {
		h.respondError(w, err)
		return
	}
	h.respondJSON(w, http.StatusOK, snap)
}

func (h *Handlers) SwitchArchetype(w http.ResponseWriter, r *http.Request) {
	userID, _ := auth.FromContext(r.Context())
	roomID, ok := pathID(w, r, "id")
	if !ok {
		return
	}
	snap, err := h.svc.SwitchArchetype(r.Context(), userID, roomID, chi.URLParam(r, "archetype"))
	if err != nil {
		h.respondError(w, err)
		return
	}
	h.respondJSON(w, http.StatusOK, snap)
}

func (h *Handlers) KickUser(w http.ResponseWriter, r *http.Request) {
	userID, _ := auth.FromContext(r.Context())
	roomID, ok := pathID(w, r, "id")
	if !ok {
		return
	}
	targetID, ok := pathID(w, r, "userID")
	if !ok {
		return
	}
	snap, err := h.svc.Kick(r.Context(), roomID, targetID, userID)
	if err != nil {
		h.respondError(w, err)
		return
	}
	if snap == nil {
		// Owner kicked themselves; the room is gone.
		w.WriteHeader(http.StatusNoContent)
		return
	}
	h.respondJSON(w, http.StatusOK, snap)
}

func (h *Handlers) StartMatchmaking(w http.ResponseWriter, r *http.Request) {
	userID, _ := auth.FromContext(r.Context())
	roomID, ok := pathID(w, r, "id")
	if !ok {
		return
	}
	snap, err := h.svc.StartMatchmaking(r.Context(), userID, roomID)
	if err != nil {
		h.respondError(w, err)
		return
	}
	h.respondJSON(w, http.StatusOK, snap)
}

func (h *Handlers) StopMatchmaking(w http.ResponseWriter, r *http.Request) {
	userID, _ := auth.FromContext(r.Context())
	roomID, ok := pathID(w, r, "id")
	if !ok {
		return
	}
	snap, err := h.svc.StopMatchmaking(r.Context(), userID, roomID)
	if err != nil {
		h.respondError(w, err)
		return
	}
	h.respondJSON(w, http.StatusOK, snap)
}

// MatchmakingEvents receives the backend's async search outcomes. It is
// authenticated by the shared API key, not a user identity.
func (h *Handlers) MatchmakingEvents(w http.ResponseWriter, r *http.Request) {
	if r.Header.Get("X-Api-Key") != h.mmKey {
		http.Error(w, "forbidden", http.StatusForbidden)
		return
	}
	var ev matchmaking.Event
	if err := json.NewDecoder(r.Body).Decode(&ev); err != nil || !ev.Valid() {
		http.Error(w, "bad event", http.StatusBadRequest)
		return
	}
	if err := h.svc.HandleMatchEvent(r.Context(), ev); err != nil {
		h.respondError(w, err)
		return
	}
	w.WriteHeader(http.StatusNoContent)
}

func Healthz(w http.ResponseWriter, r *http.Request) {
	w.WriteHeader(http.StatusOK)
}

func pathID(w http.ResponseWriter, r *http.Request, name string) (int64, bool) {
	id, err := strconv.ParseInt(chi.URLParam(r, name), 10, 64)
	if err != nil || id <= 0 {
		http.Error(w, "bad id", http.StatusBadRequest)
		return 0, false
	}
	return id, true
}

type errorResponse struct {
	Code    string `json:"code"`
	Message string `json:"message"`
}

func (h *Handlers) respondError(w http.ResponseWriter, err error) {
	status := apperr.HTTPStatus(err)
	if status >= http.StatusInternalServerError {
		h.log.Error("request failed", zap.Error(err))
	}
	h.respondJSON(w, status, errorResponse{
		Code:    string(apperr.CodeOf(err)),
		Message: err.Error(),
	})
}

func (h *Handlers) respondJSON(w http.ResponseWriter, status int, v any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	if err := json.NewEncoder(w).Encode(v); err != nil {
		h.log.Error("encoding response", zap.Error(err))
	}
}
