package handlers

import (
	"fmt"
	"net/http"
	"strings"

	"redis-chat/internal/auth"
	"redis-chat/internal/models"
	"redis-chat/internal/services"

	"github.com/gorilla/mux"
)

type RoomHandlers struct {
	roomService    *services.RoomService
	messageService *services.MessageService
	gate           *auth.Gate
}

func NewRoomHandlers(roomService *services.RoomService, messageService *services.MessageService, gate *auth.Gate) *RoomHandlers {
	return &RoomHandlers{
		roomService:    roomService,
		messageService: messageService,
		gate:           gate,
	}
}

// ListRooms returns the rooms of the user in the path, which must be the
// caller.
func (h *RoomHandlers) ListRooms(w http.ResponseWriter, r *http.Request) {
	user, ok := requireIdentity(h.gate, w, r)
	if !ok {
		return
	}

	userID, err := models.ParseUserID(mux.Vars(r)["userId"])
	if err != nil || !userID.Valid() {
		writeMessage(w, http.StatusBadRequest, "invalid user id")
		return
	}
	if userID != user.ID {
		writeMessage(w, http.StatusForbidden, "forbidden")
		return
	}

	rooms, err := h.roomService.ListRoomsForUser(r.Context(), userID)
	if err != nil {
		writeError(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, rooms)
}

// Messages pages through a room's history, newest first.
func (h *RoomHandlers) Messages(w http.ResponseWriter, r *http.Request) {
	user, ok := requireIdentity(h.gate, w, r)
	if !ok {
		return
	}

	roomID := mux.Vars(r)["id"]
	if strings.Contains(roomID, ":") {
		u1, u2, err := services.ParsePrivateRoomID(roomID)
		if err != nil {
			writeError(w, r, err)
			return
		}
		if user.ID != u1 && user.ID != u2 {
			writeMessage(w, http.StatusForbidden, "forbidden")
			return
		}
	}

	query := r.URL.Query()
	offset, size, err := services.ParseRange(query.Get("offset"), query.Get("size"))
	if err != nil {
		writeError(w, r, fmt.Errorf("room %s: %w", roomID, err))
		return
	}

	messages, err := h.messageService.Range(r.Context(), roomID, offset, size)
	if err != nil {
		writeError(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, messages)
}
