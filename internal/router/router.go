package router

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"strconv"
	"strings"
	"time"

	"redis-chat/internal/database"
	"redis-chat/internal/models"
	"redis-chat/internal/services"
	"redis-chat/internal/websocket"
	"redis-chat/pkg/logger"
)

// Publisher delivers an event locally and to the other instances.
type Publisher interface {
	Publish(ctx context.Context, ev models.Event, audience models.Audience) error
}

// Connections reports who is connected to this instance.
type Connections interface {
	ConnectedUsers() []models.UserID
}

type frameHandler func(ctx context.Context, c *websocket.Client, data json.RawMessage) error

// Router drives the per-connection state machine and routes inbound frames.
type Router struct {
	presence *services.PresenceService
	rooms    *services.RoomService
	messages *services.MessageService
	users    database.UserRepository
	bus      Publisher
	conns    Connections
	handlers map[string]frameHandler
	now      func() time.Time
}

func New(
	presence *services.PresenceService,
	rooms *services.RoomService,
	messages *services.MessageService,
	users database.UserRepository,
	bus Publisher,
	conns Connections,
) *Router {
	r := &Router{
		presence: presence,
		rooms:    rooms,
		messages: messages,
		users:    users,
		bus:      bus,
		conns:    conns,
		now:      time.Now,
	}
	r.handlers = map[string]frameHandler{
		models.EventRoomJoin: r.joinRoom,
		models.EventMessage:  r.onMessage,
	}
	return r
}

// Connect binds the connection's identity. Anonymous sockets are left alone.
func (r *Router) Connect(ctx context.Context, c *websocket.Client) {
	user := c.User()
	if user == nil {
		logger.Debug("[router] Anonymous connection %s", c.ID())
		return
	}

	if err := r.presence.MarkOnline(ctx, user.ID); err != nil {
		logger.Error("[router] Failed to mark user %d online: %v", user.ID, err)
		c.SendEvent(errorNotice(err))
		return
	}
	c.MarkConnected()

	ev := models.UserPresenceChanged{ID: user.ID, Username: user.Username, Online: true}
	if err := r.bus.Publish(ctx, ev, models.Broadcast); err != nil {
		logger.Error("[router] Failed to publish %s: %v", ev.EventType(), err)
	}
	logger.Info("[router] User %s (%d) connected", user.Username, user.ID)
}

func (r *Router) Handle(ctx context.Context, c *websocket.Client, frame models.Frame) {
	if c.State() != websocket.StateConnected {
		c.SendEvent(errorNotice(models.ErrUnauthenticated))
		return
	}

	handler, ok := r.handlers[frame.Type]
	if !ok {
		c.SendEvent(models.ErrorNotice{Message: fmt.Sprintf("unknown event type %q", frame.Type)})
		return
	}

	if err := handler(ctx, c, frame.Data); err != nil {
		logger.Warn("[router] %s from %s failed: %v", frame.Type, c.ID(), err)
		c.SendEvent(errorNotice(err))
	}
}

// Disconnect runs at most once per connection.
func (r *Router) Disconnect(ctx context.Context, c *websocket.Client) {
	prev, first := c.MarkDisconnected()
	if !first {
		return
	}
	if prev != websocket.StateAuthenticated && prev != websocket.StateConnected {
		return
	}

	user := c.User()
	if err := r.presence.MarkOffline(ctx, user.ID); err != nil {
		logger.Error("[router] Failed to mark user %d offline: %v", user.ID, err)
		return
	}

	ev := models.UserPresenceChanged{ID: user.ID, Username: user.Username, Online: false}
	if err := r.bus.Publish(ctx, ev, models.Broadcast); err != nil {
		logger.Error("[router] Failed to publish %s: %v", ev.EventType(), err)
	}
	logger.Info("[router] User %s (%d) disconnected", user.Username, user.ID)
}

func (r *Router) joinRoom(_ context.Context, c *websocket.Client, data json.RawMessage) error {
	roomID, err := parseRoomID(data)
	if err != nil {
		return err
	}

	if strings.Contains(roomID, ":") {
		id, _ := c.Identity()
		if err := requireParticipant(roomID, id); err != nil {
			return err
		}
	}

	c.JoinRoom(roomID)
	return nil
}

func (r *Router) onMessage(ctx context.Context, c *websocket.Client, data json.RawMessage) error {
	var msg models.Message
	if err := json.Unmarshal(data, &msg); err != nil {
		return fmt.Errorf("%w: message: %v", models.ErrMalformedPayload, err)
	}

	id, _ := c.Identity()
	if msg.From == 0 {
		msg.From = id
	}
	if msg.From != id {
		return fmt.Errorf("%w: cannot send as user %d", models.ErrUnauthenticated, msg.From)
	}
	if msg.Date == 0 {
		msg.Date = float64(r.now().UnixMilli()) / 1000
	}

	return r.PostMessage(ctx, &msg)
}

// PostMessage sanitizes, stores and fans out a message. The private room is
// announced before its first message is stored.
func (r *Router) PostMessage(ctx context.Context, msg *models.Message) error {
	if msg.RoomID == "" {
		return models.ErrInvalidRoomID
	}
	msg.Message = Sanitize(msg.Message)

	if err := r.presence.MarkOnline(ctx, msg.From); err != nil {
		return err
	}

	private, err := r.rooms.IsPrivate(ctx, msg.RoomID)
	if err != nil {
		return err
	}
	hasMessages, err := r.messages.HasMessages(ctx, msg.RoomID)
	if err != nil {
		return err
	}

	if private {
		if err := requireParticipant(msg.RoomID, msg.From); err != nil {
			return err
		}
	}

	if private && !hasMessages {
		room, err := r.rooms.PrivateRoom(ctx, msg.RoomID)
		if err != nil {
			return err
		}
		if err := r.bus.Publish(ctx, models.RoomAnnounced{Room: *room}, models.Broadcast); err != nil {
			logger.Error("[router] Failed to announce room %s: %v", msg.RoomID, err)
		}
	}

	if err := r.messages.Append(ctx, msg); err != nil {
		return err
	}

	audience := models.Broadcast
	if private {
		audience = models.RoomAudience(msg.RoomID)
	}
	if err := r.bus.Publish(ctx, models.MessagePosted{Message: *msg}, audience); err != nil {
		logger.Error("[router] Failed to publish message for room %s: %v", msg.RoomID, err)
	}
	return nil
}

// AudienceFor gives remote events the same audience local publishing used.
func (r *Router) AudienceFor(ctx context.Context, ev models.Event) models.Audience {
	posted, ok := ev.(models.MessagePosted)
	if !ok {
		return models.Broadcast
	}

	private, err := r.rooms.IsPrivate(ctx, posted.RoomID)
	if err != nil {
		// Narrowest audience when the directory can't be reached.
		logger.Error("[router] Failed to resolve room %s: %v", posted.RoomID, err)
		return models.RoomAudience(posted.RoomID)
	}
	if private {
		return models.RoomAudience(posted.RoomID)
	}
	return models.Broadcast
}

// RunLiveness keeps presence entries of locally connected users fresh and
// announces users whose entries went stale everywhere. It returns at once
// when presence expiry is disabled.
func (r *Router) RunLiveness(ctx context.Context) error {
	ttl := r.presence.TTL()
	if ttl <= 0 {
		return nil
	}

	ticker := time.NewTicker(ttl / 3)
	defer ticker.Stop()

	logger.Info("[router] Presence liveness every %s (ttl %s)", ttl/3, ttl)
	for {
		select {
		case <-ctx.Done():
			return nil
		case <-ticker.C:
			if err := r.sweep(ctx); err != nil && ctx.Err() == nil {
				logger.Error("[router] Presence sweep failed: %v", err)
			}
		}
	}
}

func (r *Router) sweep(ctx context.Context) error {
	if err := r.presence.Touch(ctx, r.conns.ConnectedUsers()); err != nil {
		return err
	}

	expired, err := r.presence.Expire(ctx)
	if err != nil {
		return err
	}

	for _, id := range expired {
		ev := models.UserPresenceChanged{ID: id, Online: false}
		if user, err := r.users.GetUserByID(ctx, id); err == nil {
			ev.Username = user.Username
		}
		if err := r.bus.Publish(ctx, ev, models.Broadcast); err != nil {
			logger.Error("[router] Failed to publish expiry of user %d: %v", id, err)
		}
		logger.Info("[router] User %d timed out", id)
	}
	return nil
}

// Sanitize HTML-escapes a message body. The ampersand goes first so the
// entities inserted afterwards are not escaped twice.
func Sanitize(s string) string {
	s = strings.ReplaceAll(s, "&", "&amp;")
	s = strings.ReplaceAll(s, `"`, "&quot;")
	s = strings.ReplaceAll(s, "'", "&#39;")
	s = strings.ReplaceAll(s, "<", "&lt;")
	s = strings.ReplaceAll(s, ">", "&gt;")
	return s
}

// parseRoomID accepts "1:2", 0 or {"roomId": ...}.
func parseRoomID(data json.RawMessage) (string, error) {
	var s string
	if err := json.Unmarshal(data, &s); err == nil && s != "" {
		return s, nil
	}

	var n json.Number
	if err := json.Unmarshal(data, &n); err == nil {
		if _, err := strconv.ParseInt(n.String(), 10, 64); err == nil {
			return n.String(), nil
		}
	}

	var obj struct {
		RoomID json.RawMessage `json:"roomId"`
	}
	if err := json.Unmarshal(data, &obj); err == nil && len(obj.RoomID) > 0 && obj.RoomID[0] != '{' {
		return parseRoomID(obj.RoomID)
	}

	return "", fmt.Errorf("%w: %s", models.ErrInvalidRoomID, string(data))
}

func requireParticipant(roomID string, id models.UserID) error {
	u1, u2, err := services.ParsePrivateRoomID(roomID)
	if err != nil {
		return err
	}
	if id != u1 && id != u2 {
		return fmt.Errorf("%w: user %d is not in room %s", models.ErrUnauthenticated, id, roomID)
	}
	return nil
}

func errorNotice(err error) models.ErrorNotice {
	switch {
	case errors.Is(err, models.ErrUnauthenticated):
		return models.ErrorNotice{Message: "unauthenticated"}
	case errors.Is(err, models.ErrInvalidRoomID):
		return models.ErrorNotice{Message: "invalid room id"}
	case errors.Is(err, models.ErrMalformedPayload):
		return models.ErrorNotice{Message: "malformed payload"}
	case errors.Is(err, models.ErrStoreUnavailable):
		return models.ErrorNotice{Message: "store unavailable"}
	}
	return models.ErrorNotice{Message: "internal error"}
}
