package models

import (
	"encoding/json"
	"fmt"
)

// Event types exchanged with clients and across instances.
const (
	EventUserConnected    = "user.connected"
	EventUserDisconnected = "user.disconnected"
	EventShowRoom         = "show.room"
	EventMessage          = "message"
	EventRoomJoin         = "room.join"
	EventError            = "error"
)

// Event is a typed payload that can travel over the fan-out bus.
type Event interface {
	EventType() string
}

// UserPresenceChanged is emitted as user.connected or user.disconnected.
type UserPresenceChanged struct {
	ID       UserID `json:"id"`
	Username string `json:"username"`
	Online   bool   `json:"online"`
}

func (e UserPresenceChanged) EventType() string {
	if e.Online {
		return EventUserConnected
	}
	return EventUserDisconnected
}

// RoomAnnounced tells clients a private room now exists.
type RoomAnnounced struct {
	Room
}

func (RoomAnnounced) EventType() string { return EventShowRoom }

type MessagePosted struct {
	Message
}

func (MessagePosted) EventType() string { return EventMessage }

// ErrorNotice is sent only to the connection whose request failed.
type ErrorNotice struct {
	Message string `json:"message"`
}

func (ErrorNotice) EventType() string { return EventError }

// Frame is the client-facing wire shape, used for WebSocket and SSE delivery.
type Frame struct {
	Type string          `json:"type"`
	Data json.RawMessage `json:"data"`
}

// Envelope is the bus wire record.
type Envelope struct {
	OriginInstanceID string          `json:"originInstanceId"`
	Type             string          `json:"type"`
	Data             json.RawMessage `json:"data"`
}

// EncodeFrame serializes an event as {"type":...,"data":...}.
func EncodeFrame(ev Event) ([]byte, error) {
	data, err := json.Marshal(ev)
	if err != nil {
		return nil, fmt.Errorf("encode %s: %w", ev.EventType(), err)
	}
	return json.Marshal(Frame{Type: ev.EventType(), Data: data})
}

// NewEnvelope wraps ev with the origin instance tag.
func NewEnvelope(origin string, ev Event) (*Envelope, error) {
	data, err := json.Marshal(ev)
	if err != nil {
		return nil, fmt.Errorf("encode %s: %w", ev.EventType(), err)
	}
	return &Envelope{OriginInstanceID: origin, Type: ev.EventType(), Data: data}, nil
}

// DecodeEvent turns a type tag and raw payload back into a typed event.
func DecodeEvent(eventType string, data json.RawMessage) (Event, error) {
	switch eventType {
	case EventUserConnected, EventUserDisconnected:
		var ev UserPresenceChanged
		if err := json.Unmarshal(data, &ev); err != nil {
			return nil, fmt.Errorf("decode %s: %w", eventType, err)
		}
		ev.Online = eventType == EventUserConnected
		return ev, nil
	case EventShowRoom:
		var ev RoomAnnounced
		if err := json.Unmarshal(data, &ev); err != nil {
			return nil, fmt.Errorf("decode %s: %w", eventType, err)
		}
		return ev, nil
	case EventMessage:
		var ev MessagePosted
		if err := json.Unmarshal(data, &ev); err != nil {
			return nil, fmt.Errorf("decode %s: %w", eventType, err)
		}
		return ev, nil
	default:
		return nil, fmt.Errorf("unknown event type %q", eventType)
	}
}

// Audience selects which local connections receive a delivery.
// An empty Room means every connection on the instance.
type Audience struct {
	Room string
}

var Broadcast = Audience{}

func RoomAudience(roomID string) Audience {
	return Audience{Room: roomID}
}

func (a Audience) IsBroadcast() bool {
	return a.Room == ""
}
