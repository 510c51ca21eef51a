package models

import (
	"encoding/json"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestUserIDUnmarshal(t *testing.T) {
	var msg Message
	require.NoError(t, json.Unmarshal([]byte(`{"from":"7","roomId":"0","message":"hi","date":1.5}`), &msg))
	assert.Equal(t, UserID(7), msg.From)

	require.NoError(t, json.Unmarshal([]byte(`{"from":12,"roomId":"0","message":"hi","date":1.5}`), &msg))
	assert.Equal(t, UserID(12), msg.From)

	assert.Error(t, json.Unmarshal([]byte(`{"from":"abc"}`), &msg))
	assert.Error(t, json.Unmarshal([]byte(`{"from":true}`), &msg))
}

func TestUserIDValid(t *testing.T) {
	assert.True(t, UserID(1).Valid())
	assert.False(t, UserID(0).Valid())
	assert.False(t, UserID(-3).Valid())
	assert.Equal(t, "42", UserID(42).String())
}

func TestEncodeFrame(t *testing.T) {
	frame, err := EncodeFrame(UserPresenceChanged{ID: 3, Username: "Joe", Online: true})
	require.NoError(t, err)
	assert.JSONEq(t, `{"type":"user.connected","data":{"id":3,"username":"Joe","online":true}}`, string(frame))

	frame, err = EncodeFrame(RoomAnnounced{Room{ID: "3:5", Kind: RoomPrivate, Names: []string{"Mary", "Alex"}}})
	require.NoError(t, err)
	assert.JSONEq(t, `{"type":"show.room","data":{"id":"3:5","kind":"private","names":["Mary","Alex"]}}`, string(frame))
}

func TestEnvelopeDecodeEvent(t *testing.T) {
	msg := Message{From: 3, RoomID: "3:5", Message: "hello", Date: 1700000000.25}
	env, err := NewEnvelope("instance-a", MessagePosted{msg})
	require.NoError(t, err)
	assert.Equal(t, "instance-a", env.OriginInstanceID)
	assert.Equal(t, EventMessage, env.Type)

	raw, err := json.Marshal(env)
	require.NoError(t, err)

	var decoded Envelope
	require.NoError(t, json.Unmarshal(raw, &decoded))
	ev, err := DecodeEvent(decoded.Type, decoded.Data)
	require.NoError(t, err)
	posted, ok := ev.(MessagePosted)
	require.True(t, ok)
	assert.Equal(t, msg, posted.Message)
}

func TestDecodeEventPresenceFollowsType(t *testing.T) {
	ev, err := DecodeEvent(EventUserDisconnected, json.RawMessage(`{"id":4,"username":"Alex","online":true}`))
	require.NoError(t, err)
	assert.Equal(t, UserPresenceChanged{ID: 4, Username: "Alex", Online: false}, ev)
}

func TestDecodeEventRejectsUnknown(t *testing.T) {
	_, err := DecodeEvent("typing", json.RawMessage(`{}`))
	assert.Error(t, err)

	_, err = DecodeEvent(EventMessage, json.RawMessage(`{"from":`))
	assert.Error(t, err)
}

func TestAudience(t *testing.T) {
	assert.True(t, Broadcast.IsBroadcast())
	assert.False(t, RoomAudience("3:5").IsBroadcast())
}
