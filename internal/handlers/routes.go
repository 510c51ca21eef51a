package handlers

import (
	"net/http"
	"slices"
	"time"

	"redis-chat/pkg/logger"

	"github.com/gorilla/mux"
)

type Handlers struct {
	Auth      *AuthHandlers
	Users     *UserHandlers
	Rooms     *RoomHandlers
	Stream    *StreamHandlers
	WebSocket *WebSocketHandlers
	Health    *HealthHandlers
}

// Routes builds the HTTP surface of an instance.
func (h Handlers) Routes(allowedOrigins []string) http.Handler {
	r := mux.NewRouter()

	r.HandleFunc("/login", h.Auth.Login).Methods(http.MethodPost)
	r.HandleFunc("/register", h.Auth.Register).Methods(http.MethodPost)
	r.HandleFunc("/logout", h.Auth.Logout).Methods(http.MethodPost)
	r.HandleFunc("/me", h.Auth.Me).Methods(http.MethodGet)

	r.HandleFunc("/users/online", h.Users.Online).Methods(http.MethodGet)
	r.HandleFunc("/users", h.Users.Lookup).Methods(http.MethodGet)

	r.HandleFunc("/rooms/{userId}", h.Rooms.ListRooms).Methods(http.MethodGet)
	r.HandleFunc("/room/{id}/messages", h.Rooms.Messages).Methods(http.MethodGet)

	r.HandleFunc("/stream", h.Stream.Stream).Methods(http.MethodGet)
	r.HandleFunc("/ws", h.WebSocket.HandleWebSocket)
	r.HandleFunc("/healthz", h.Health.Health).Methods(http.MethodGet)

	r.Use(loggingMiddleware)
	return corsMiddleware(allowedOrigins, r)
}

func corsMiddleware(allowed []string, next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		origin := r.Header.Get("Origin")
		switch {
		case len(allowed) == 0:
			w.Header().Set("Access-Control-Allow-Origin", "*")
		case origin != "" && slices.Contains(allowed, origin):
			w.Header().Set("Access-Control-Allow-Origin", origin)
			w.Header().Set("Access-Control-Allow-Credentials", "true")
			w.Header().Add("Vary", "Origin")
		}
		w.Header().Set("Access-Control-Allow-Methods", "GET, POST, OPTIONS")
		w.Header().Set("Access-Control-Allow-Headers", "Content-Type, Authorization")

		if r.Method == http.MethodOptions {
			w.WriteHeader(http.StatusOK)
			return
		}

		next.ServeHTTP(w, r)
	})
}

func loggingMiddleware(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		start := time.Now()
		next.ServeHTTP(w, r)
		logger.Debug("[http] %s %s %s", r.Method, r.URL.Path, time.Since(start))
	})
}
