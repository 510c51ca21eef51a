package handlers

import (
	"encoding/json"
	"errors"
	"net/http"

	"redis-chat/internal/auth"
	"redis-chat/internal/models"
	"redis-chat/pkg/logger"
)

type errorResponse struct {
	Message string `json:"message"`
}

func writeJSON(w http.ResponseWriter, status int, v any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	if err := json.NewEncoder(w).Encode(v); err != nil {
		logger.Error("[http] Failed to encode response: %v", err)
	}
}

func writeMessage(w http.ResponseWriter, status int, msg string) {
	writeJSON(w, status, errorResponse{Message: msg})
}

// writeError maps domain errors onto status codes.
func writeError(w http.ResponseWriter, r *http.Request, err error) {
	status := statusFor(err)
	if status >= http.StatusInternalServerError {
		logger.Error("[http] %s %s: %v", r.Method, r.URL.Path, err)
	} else {
		logger.Debug("[http] %s %s: %v", r.Method, r.URL.Path, err)
	}

	msg := http.StatusText(status)
	for _, known := range []error{
		models.ErrUnauthenticated,
		models.ErrInvalidRoomID,
		models.ErrInvalidRange,
		models.ErrUserNotFound,
		models.ErrUsernameTaken,
		models.ErrInvalidCredentials,
		models.ErrStoreUnavailable,
	} {
		if errors.Is(err, known) {
			msg = known.Error()
			break
		}
	}
	writeMessage(w, status, msg)
}

func statusFor(err error) int {
	switch {
	case errors.Is(err, models.ErrUnauthenticated):
		return http.StatusUnauthorized
	case errors.Is(err, models.ErrInvalidRoomID), errors.Is(err, models.ErrInvalidRange), errors.Is(err, models.ErrInvalidCredentials),
		errors.Is(err, models.ErrMalformedPayload):
		return http.StatusBadRequest
	case errors.Is(err, models.ErrUserNotFound):
		return http.StatusNotFound
	case errors.Is(err, models.ErrUsernameTaken):
		return http.StatusConflict
	case errors.Is(err, models.ErrStoreUnavailable):
		return http.StatusServiceUnavailable
	}
	return http.StatusInternalServerError
}

// requireIdentity writes a 401 and reports false when the request has no
// valid session.
func requireIdentity(gate *auth.Gate, w http.ResponseWriter, r *http.Request) (*models.User, bool) {
	user, ok := gate.CurrentIdentity(r)
	if !ok {
		writeError(w, r, models.ErrUnauthenticated)
		return nil, false
	}
	return user, true
}
