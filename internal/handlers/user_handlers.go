package handlers

import (
	"errors"
	"net/http"

	"redis-chat/internal/auth"
	"redis-chat/internal/models"
	"redis-chat/internal/services"
)

type UserHandlers struct {
	authService *auth.Service
	presence    *services.PresenceService
	gate        *auth.Gate
}

func NewUserHandlers(authService *auth.Service, presence *services.PresenceService, gate *auth.Gate) *UserHandlers {
	return &UserHandlers{
		authService: authService,
		presence:    presence,
		gate:        gate,
	}
}

// Online lists every user currently in the online set, keyed by id.
func (h *UserHandlers) Online(w http.ResponseWriter, r *http.Request) {
	if _, ok := requireIdentity(h.gate, w, r); !ok {
		return
	}

	ids, err := h.presence.ListOnline(r.Context())
	if err != nil {
		writeError(w, r, err)
		return
	}

	out := make(map[string]models.OnlineUser, len(ids))
	for _, id := range ids {
		user, err := h.authService.GetUser(r.Context(), id)
		if errors.Is(err, models.ErrUserNotFound) {
			continue
		}
		if err != nil {
			writeError(w, r, err)
			return
		}
		out[id.String()] = models.OnlineUser{ID: user.ID, Username: user.Username, Online: true}
	}
	writeJSON(w, http.StatusOK, out)
}

// Lookup resolves ?ids[]=1&ids[]=2 to users with their online flag.
func (h *UserHandlers) Lookup(w http.ResponseWriter, r *http.Request) {
	query := r.URL.Query()
	raw := query["ids[]"]
	if len(raw) == 0 {
		raw = query["ids"]
	}
	if len(raw) == 0 {
		writeMessage(w, http.StatusNotFound, "no ids given")
		return
	}

	out := make(map[string]models.OnlineUser, len(raw))
	for _, s := range raw {
		id, err := models.ParseUserID(s)
		if err != nil || !id.Valid() {
			writeMessage(w, http.StatusBadRequest, "invalid user id")
			return
		}

		user, err := h.authService.GetUser(r.Context(), id)
		if errors.Is(err, models.ErrUserNotFound) {
			continue
		}
		if err != nil {
			writeError(w, r, err)
			return
		}

		online, err := h.presence.IsOnline(r.Context(), id)
		if err != nil {
			writeError(w, r, err)
			return
		}
		out[id.String()] = models.OnlineUser{ID: user.ID, Username: user.Username, Online: online}
	}
	writeJSON(w, http.StatusOK, out)
}
