package handlers

import (
	"encoding/json"
	"errors"
	"net/http"
	"time"

	"redis-chat/internal/auth"
	"redis-chat/internal/models"
	"redis-chat/pkg/logger"
)

type AuthHandlers struct {
	authService *auth.Service
	gate        *auth.Gate
	cookieTTL   time.Duration
}

func NewAuthHandlers(authService *auth.Service, gate *auth.Gate, cookieTTL time.Duration) *AuthHandlers {
	return &AuthHandlers{
		authService: authService,
		gate:        gate,
		cookieTTL:   cookieTTL,
	}
}

func (h *AuthHandlers) Register(w http.ResponseWriter, r *http.Request) {
	var req models.RegisterRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		writeMessage(w, http.StatusBadRequest, "invalid request")
		return
	}

	user, err := h.authService.Register(r.Context(), req.Username, req.Password)
	if err != nil {
		writeError(w, r, err)
		return
	}

	token, err := h.authService.GenerateToken(user)
	if err != nil {
		writeError(w, r, err)
		return
	}

	logger.Info("[auth] Registered %s (%d)", user.Username, user.ID)
	h.setCookie(w, token)
	writeJSON(w, http.StatusCreated, models.LoginResponse{ID: user.ID, Username: user.Username, Token: token})
}

// Login signs in, registering the username if nobody has it yet.
func (h *AuthHandlers) Login(w http.ResponseWriter, r *http.Request) {
	var req models.LoginRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		writeMessage(w, http.StatusBadRequest, "invalid request")
		return
	}

	response, err := h.authService.Login(r.Context(), &req)
	if errors.Is(err, models.ErrInvalidCredentials) {
		writeMessage(w, http.StatusNotFound, "Invalid username or password")
		return
	}
	if err != nil {
		writeError(w, r, err)
		return
	}

	h.setCookie(w, response.Token)
	writeJSON(w, http.StatusOK, response)
}

func (h *AuthHandlers) Logout(w http.ResponseWriter, r *http.Request) {
	if _, ok := requireIdentity(h.gate, w, r); !ok {
		return
	}

	http.SetCookie(w, &http.Cookie{
		Name:     auth.TokenCookie,
		Value:    "",
		Path:     "/",
		MaxAge:   -1,
		HttpOnly: true,
		SameSite: http.SameSiteLaxMode,
	})
	writeJSON(w, http.StatusOK, map[string]any{})
}

// Me returns the current identity, or null for an anonymous request.
func (h *AuthHandlers) Me(w http.ResponseWriter, r *http.Request) {
	user, ok := h.gate.CurrentIdentity(r)
	if !ok {
		writeJSON(w, http.StatusOK, nil)
		return
	}
	writeJSON(w, http.StatusOK, user)
}

func (h *AuthHandlers) setCookie(w http.ResponseWriter, token string) {
	http.SetCookie(w, &http.Cookie{
		Name:     auth.TokenCookie,
		Value:    token,
		Path:     "/",
		MaxAge:   int(h.cookieTTL.Seconds()),
		HttpOnly: true,
		SameSite: http.SameSiteLaxMode,
	})
}
