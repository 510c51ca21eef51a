package handlers

import (
	"errors"
	"fmt"
	"net/http"
	"time"

	"redis-chat/internal/bus"
	"redis-chat/pkg/logger"
)

const streamKeepAlive = 30 * time.Second

type StreamHandlers struct {
	bus *bus.Bus
}

func NewStreamHandlers(b *bus.Bus) *StreamHandlers {
	return &StreamHandlers{bus: b}
}

// Stream relays remote bus events as server-sent events.
func (h *StreamHandlers) Stream(w http.ResponseWriter, r *http.Request) {
	rc := http.NewResponseController(w)
	// The server-wide write timeout would cut the stream off.
	if err := rc.SetWriteDeadline(time.Time{}); err != nil && !errors.Is(err, http.ErrNotSupported) {
		logger.Warn("[sse] Failed to clear write deadline: %v", err)
	}

	events, cancel := h.bus.Listen()
	defer cancel()

	w.Header().Set("Content-Type", "text/event-stream")
	w.Header().Set("Cache-Control", "no-cache")
	w.Header().Set("Connection", "keep-alive")
	w.WriteHeader(http.StatusOK)
	if err := rc.Flush(); err != nil {
		logger.Error("[sse] Streaming unsupported: %v", err)
		return
	}

	keepAlive := time.NewTicker(streamKeepAlive)
	defer keepAlive.Stop()

	logger.Debug("[sse] Listener attached from %s", r.RemoteAddr)
	for {
		select {
		case <-r.Context().Done():
			logger.Debug("[sse] Listener from %s left", r.RemoteAddr)
			return

		case frame, ok := <-events:
			if !ok {
				return
			}
			if _, err := fmt.Fprintf(w, "data: %s\n\n", frame); err != nil {
				return
			}
			rc.Flush()

		case <-keepAlive.C:
			if _, err := fmt.Fprint(w, ": keep-alive\n\n"); err != nil {
				return
			}
			rc.Flush()
		}
	}
}
