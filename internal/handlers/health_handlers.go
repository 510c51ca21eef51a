package handlers

import (
	"context"
	"net/http"
	"time"

	"redis-chat/internal/bus"
	ws "redis-chat/internal/websocket"
)

type Pinger interface {
	Ping(ctx context.Context) error
}

type HealthHandlers struct {
	store Pinger
	bus   *bus.Bus
	hub   *ws.Hub
}

func NewHealthHandlers(store Pinger, b *bus.Bus, hub *ws.Hub) *HealthHandlers {
	return &HealthHandlers{store: store, bus: b, hub: hub}
}

type healthResponse struct {
	Status      string    `json:"status"`
	Store       string    `json:"store"`
	Connections int       `json:"connections"`
	Rooms       int       `json:"rooms"`
	Bus         bus.Stats `json:"bus"`
}

func (h *HealthHandlers) Health(w http.ResponseWriter, r *http.Request) {
	ctx, cancel := context.WithTimeout(r.Context(), 2*time.Second)
	defer cancel()

	resp := healthResponse{
		Status:      "ok",
		Store:       "ok",
		Connections: h.hub.ClientCount(),
		Rooms:       h.hub.RoomCount(),
		Bus:         h.bus.Stats(),
	}
	status := http.StatusOK
	if err := h.store.Ping(ctx); err != nil {
		resp.Status = "degraded"
		resp.Store = err.Error()
		status = http.StatusServiceUnavailable
	}
	writeJSON(w, status, resp)
}
