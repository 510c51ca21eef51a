package websocket

import (
	"context"
	"encoding/json"
	"sync"
	"sync/atomic"
	"time"

	"redis-chat/internal/models"
	"redis-chat/pkg/logger"

	"github.com/google/uuid"
	"github.com/gorilla/websocket"
)

const (
	writeWait      = 10 * time.Second
	pongWait       = 60 * time.Second
	pingPeriod     = (pongWait * 9) / 10
	maxMessageSize = 64 * 1024
	sendBuffer     = 256
)

// State is where a connection sits in its lifecycle. It only moves forward.
type State int32

const (
	StateAnonymous State = iota
	StateAuthenticated
	StateConnected
	StateDisconnected
)

func (s State) String() string {
	switch s {
	case StateAnonymous:
		return "anonymous"
	case StateAuthenticated:
		return "authenticated"
	case StateConnected:
		return "connected"
	case StateDisconnected:
		return "disconnected"
	}
	return "unknown"
}

// Handler reacts to the lifecycle and inbound frames of a connection.
type Handler interface {
	Connect(ctx context.Context, c *Client)
	Handle(ctx context.Context, c *Client, frame models.Frame)
	Disconnect(ctx context.Context, c *Client)
}

type Client struct {
	id    string
	hub   *Hub
	conn  *websocket.Conn
	send  chan []byte
	user  *models.User
	state atomic.Int32
	once  sync.Once

	// rooms is owned by the hub goroutine.
	rooms map[string]bool
}

// NewClient wraps an upgraded connection. user is nil for an anonymous
// socket, which stays registered but never takes part in chat.
func NewClient(hub *Hub, conn *websocket.Conn, user *models.User) *Client {
	c := &Client{
		id:    uuid.NewString(),
		hub:   hub,
		conn:  conn,
		send:  make(chan []byte, sendBuffer),
		user:  user,
		rooms: make(map[string]bool),
	}
	if user != nil {
		c.state.Store(int32(StateAuthenticated))
	}
	return c
}

func (c *Client) ID() string {
	return c.id
}

func (c *Client) User() *models.User {
	return c.user
}

// Identity returns the authenticated user id, if any.
func (c *Client) Identity() (models.UserID, bool) {
	if c.user == nil {
		return 0, false
	}
	return c.user.ID, true
}

func (c *Client) State() State {
	return State(c.state.Load())
}

// MarkConnected moves an authenticated connection to Connected. It reports
// false for anonymous or already connected sockets.
func (c *Client) MarkConnected() bool {
	return c.state.CompareAndSwap(int32(StateAuthenticated), int32(StateConnected))
}

// MarkDisconnected returns the state the connection left, and true only on
// the first call.
func (c *Client) MarkDisconnected() (State, bool) {
	prev := StateDisconnected
	first := false
	c.once.Do(func() {
		prev = State(c.state.Swap(int32(StateDisconnected)))
		first = true
	})
	return prev, first
}

// Outbound exposes queued frames; the write pump is the usual consumer.
func (c *Client) Outbound() <-chan []byte {
	return c.send
}

func (c *Client) JoinRoom(roomID string) {
	c.hub.JoinRoom(c, roomID)
}

func (c *Client) Send(frame []byte) {
	c.hub.SendTo(c, frame)
}

// SendEvent encodes ev and queues it for this connection only.
func (c *Client) SendEvent(ev models.Event) {
	frame, err := models.EncodeFrame(ev)
	if err != nil {
		logger.Error("[ws] Failed to encode %s for %s: %v", ev.EventType(), c.id, err)
		return
	}
	c.Send(frame)
}

// Serve registers the client, runs both pumps and blocks until the socket is
// gone. Disconnect is delivered to the handler exactly once.
func (c *Client) Serve(ctx context.Context, h Handler) {
	c.hub.Register(c)
	h.Connect(ctx, c)

	go c.writePump()
	c.readPump(ctx, h)

	h.Disconnect(ctx, c)
	c.hub.Unregister(c)
}

func (c *Client) readPump(ctx context.Context, h Handler) {
	defer c.conn.Close()

	c.conn.SetReadLimit(maxMessageSize)
	c.conn.SetReadDeadline(time.Now().Add(pongWait))
	c.conn.SetPongHandler(func(string) error {
		c.conn.SetReadDeadline(time.Now().Add(pongWait))
		return nil
	})

	for {
		_, raw, err := c.conn.ReadMessage()
		if err != nil {
			if websocket.IsUnexpectedCloseError(err, websocket.CloseGoingAway, websocket.CloseAbnormalClosure) {
				logger.Error("[ws] Read error on %s: %v", c.id, err)
			}
			return
		}

		var frame models.Frame
		if err := json.Unmarshal(raw, &frame); err != nil || frame.Type == "" {
			c.SendEvent(models.ErrorNotice{Message: "malformed frame"})
			continue
		}
		h.Handle(ctx, c, frame)
	}
}

func (c *Client) writePump() {
	ticker := time.NewTicker(pingPeriod)
	defer func() {
		ticker.Stop()
		c.conn.Close()
	}()

	for {
		select {
		case msg, ok := <-c.send:
			c.conn.SetWriteDeadline(time.Now().Add(writeWait))
			if !ok {
				c.conn.WriteMessage(websocket.CloseMessage, []byte{})
				return
			}

			if err := c.conn.WriteMessage(websocket.TextMessage, msg); err != nil {
				logger.Error("[ws] Write error on %s: %v", c.id, err)
				return
			}

		case <-ticker.C:
			c.conn.SetWriteDeadline(time.Now().Add(writeWait))
			if err := c.conn.WriteMessage(websocket.PingMessage, nil); err != nil {
				return
			}
		}
	}
}
