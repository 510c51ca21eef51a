package handlers

import (
	"context"
	"net/http"
	"net/url"
	"slices"
	"sync"

	"redis-chat/internal/auth"
	ws "redis-chat/internal/websocket"
	"redis-chat/pkg/logger"

	"github.com/gorilla/websocket"
)

type WebSocketHandlers struct {
	gate     *auth.Gate
	hub      *ws.Hub
	handler  ws.Handler
	upgrader websocket.Upgrader
	sessions sync.WaitGroup
}

// NewWebSocketHandlers allows every origin when allowedOrigins is empty.
func NewWebSocketHandlers(gate *auth.Gate, hub *ws.Hub, handler ws.Handler, allowedOrigins []string) *WebSocketHandlers {
	return &WebSocketHandlers{
		gate:    gate,
		hub:     hub,
		handler: handler,
		upgrader: websocket.Upgrader{
			ReadBufferSize:  1024,
			WriteBufferSize: 1024,
			CheckOrigin:     originChecker(allowedOrigins),
		},
	}
}

// HandleWebSocket upgrades the request and serves the socket until it
// closes. A request without a session still gets a socket; it just never
// takes part in chat.
func (h *WebSocketHandlers) HandleWebSocket(w http.ResponseWriter, r *http.Request) {
	user, _ := h.gate.CurrentIdentity(r)

	conn, err := h.upgrader.Upgrade(w, r, nil)
	if err != nil {
		logger.Error("[ws] Upgrade error: %v", err)
		return
	}

	h.sessions.Add(1)
	defer h.sessions.Done()

	client := ws.NewClient(h.hub, conn, user)
	// Disconnect still has store work to do after the peer has gone.
	client.Serve(context.WithoutCancel(r.Context()), h.handler)
}

// Drain waits for every socket to finish its disconnect handling. The hub
// must be stopped first so the sockets actually close.
func (h *WebSocketHandlers) Drain(ctx context.Context) error {
	done := make(chan struct{})
	go func() {
		h.sessions.Wait()
		close(done)
	}()

	select {
	case <-done:
		return nil
	case <-ctx.Done():
		return ctx.Err()
	}
}

func originChecker(allowed []string) func(r *http.Request) bool {
	if len(allowed) == 0 {
		return func(*http.Request) bool { return true }
	}
	return func(r *http.Request) bool {
		origin := r.Header.Get("Origin")
		if origin == "" {
			return true
		}
		if _, err := url.Parse(origin); err != nil {
			return false
		}
		return slices.Contains(allowed, origin)
	}
}
