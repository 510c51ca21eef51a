package services

import (
	"context"
	"math"
	"testing"
	"time"

	"redis-chat/internal/database"
	"redis-chat/internal/models"

	"github.com/alicebob/miniredis/v2"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func setupDB(t *testing.T) *database.RedisDB {
	t.Helper()

	mr := miniredis.RunT(t)
	db, err := database.NewRedisDB(context.Background(), database.NewRedisClient(mr.Addr(), "", 0))
	require.NoError(t, err)
	t.Cleanup(func() { db.Close() })
	return db
}

func createUsers(t *testing.T, db *database.RedisDB, names ...string) []*models.User {
	t.Helper()

	users := make([]*models.User, 0, len(names))
	for _, name := range names {
		u, err := db.CreateUser(context.Background(), name, []byte("x"))
		require.NoError(t, err)
		users = append(users, u)
	}
	return users
}

func TestResolvePrivateRoomID(t *testing.T) {
	for u1 := models.UserID(1); u1 <= 12; u1++ {
		for u2 := models.UserID(1); u2 <= 12; u2++ {
			a, okA := ResolvePrivateRoomID(u1, u2)
			b, okB := ResolvePrivateRoomID(u2, u1)
			assert.Equal(t, a, b)
			assert.Equal(t, okA, okB)
			assert.Equal(t, u1 != u2, okA)
		}
	}

	id, ok := ResolvePrivateRoomID(5, 3)
	assert.True(t, ok)
	assert.Equal(t, "3:5", id)

	id, ok = ResolvePrivateRoomID(10, 9)
	assert.True(t, ok)
	assert.Equal(t, "9:10", id, "ordering is numeric, not lexical")

	_, ok = ResolvePrivateRoomID(0, 3)
	assert.False(t, ok)
	_, ok = ResolvePrivateRoomID(-1, 3)
	assert.False(t, ok)
}

func TestParsePrivateRoomID(t *testing.T) {
	u1, u2, err := ParsePrivateRoomID("3:5")
	require.NoError(t, err)
	assert.Equal(t, models.UserID(3), u1)
	assert.Equal(t, models.UserID(5), u2)

	for _, bad := range []string{"0", "1:2:3", "a:b", "3:", ":5", "0:4", ""} {
		_, _, err := ParsePrivateRoomID(bad)
		assert.ErrorIs(t, err, models.ErrInvalidRoomID, "room id %q", bad)
	}
}

func TestRoomService_GetOrCreatePrivateRoom(t *testing.T) {
	db := setupDB(t)
	rooms := NewRoomService(db, db, db)
	ctx := context.Background()
	users := createUsers(t, db, "Pablo", "Joe")

	room, err := rooms.GetOrCreatePrivateRoom(ctx, users[1].ID, users[0].ID)
	require.NoError(t, err)
	assert.Equal(t, "1:2", room.ID)
	assert.Equal(t, models.RoomPrivate, room.Kind)
	assert.Equal(t, []string{"Joe", "Pablo"}, room.Names)

	again, err := rooms.GetOrCreatePrivateRoom(ctx, users[0].ID, users[1].ID)
	require.NoError(t, err)
	assert.Equal(t, room.ID, again.ID)

	for _, u := range users {
		ids, err := db.UserRoomIDs(ctx, u.ID)
		require.NoError(t, err)
		assert.Equal(t, []string{"1:2"}, ids)
	}

	private, err := rooms.IsPrivate(ctx, "1:2")
	require.NoError(t, err)
	assert.True(t, private)

	_, err = rooms.GetOrCreatePrivateRoom(ctx, users[0].ID, users[0].ID)
	assert.ErrorIs(t, err, models.ErrInvalidRoomID)
}

func TestRoomService_GetOrCreatePrivateRoomRepairsHalfMembership(t *testing.T) {
	db := setupDB(t)
	rooms := NewRoomService(db, db, db)
	ctx := context.Background()
	users := createUsers(t, db, "Pablo", "Joe")

	require.NoError(t, db.AddRoomMember(ctx, "1:2", users[0].ID))

	_, err := rooms.GetOrCreatePrivateRoom(ctx, users[0].ID, users[1].ID)
	require.NoError(t, err)

	member, err := db.IsRoomMember(ctx, "1:2", users[1].ID)
	require.NoError(t, err)
	assert.True(t, member)
}

func TestRoomService_ListRoomsForUser(t *testing.T) {
	db := setupDB(t)
	rooms := NewRoomService(db, db, db)
	messages := NewMessageService(db)
	ctx := context.Background()

	users := createUsers(t, db, "Pablo", "Joe", "Mary", "Alex", "Sam")
	mary, sam := users[2], users[4]

	_, err := rooms.EnsureNamedRoom(ctx, models.GeneralRoomID, models.GeneralRoomName)
	require.NoError(t, err)
	require.NoError(t, rooms.AddMember(ctx, mary.ID, models.GeneralRoomID))

	room, err := rooms.GetOrCreatePrivateRoom(ctx, mary.ID, sam.ID)
	require.NoError(t, err)
	assert.Equal(t, "3:5", room.ID)

	// The private room stays hidden until it has a message.
	listed, err := rooms.ListRoomsForUser(ctx, mary.ID)
	require.NoError(t, err)
	require.Len(t, listed, 1)

	require.NoError(t, messages.Append(ctx, &models.Message{From: mary.ID, RoomID: "3:5", Message: "hi", Date: 1}))

	listed, err = rooms.ListRoomsForUser(ctx, mary.ID)
	require.NoError(t, err)
	require.Len(t, listed, 2)

	byID := map[string]models.Room{}
	for _, r := range listed {
		byID[r.ID] = r
	}
	assert.Equal(t, []string{"Mary", "Sam"}, byID["3:5"].Names)
	assert.Equal(t, models.RoomPrivate, byID["3:5"].Kind)
	assert.Equal(t, []string{"General"}, byID["0"].Names)
	assert.Equal(t, models.RoomNamed, byID["0"].Kind)
}

func TestRoomService_ListRoomsForUserMalformed(t *testing.T) {
	db := setupDB(t)
	rooms := NewRoomService(db, db, db)
	ctx := context.Background()

	require.NoError(t, db.AddRoomMember(ctx, "1:2:3", 1))
	require.NoError(t, db.AppendMessage(ctx, &models.Message{From: 1, RoomID: "1:2:3", Message: "x", Date: 1}))

	_, err := rooms.ListRoomsForUser(ctx, 1)
	assert.ErrorIs(t, err, models.ErrInvalidRoomID)
}

func TestRoomService_EnsureNamedRoom(t *testing.T) {
	db := setupDB(t)
	rooms := NewRoomService(db, db, db)
	ctx := context.Background()

	created, err := rooms.EnsureNamedRoom(ctx, "0", "General")
	require.NoError(t, err)
	assert.True(t, created)

	created, err = rooms.EnsureNamedRoom(ctx, "0", "Other")
	require.NoError(t, err)
	assert.False(t, created)

	exists, err := rooms.RoomExists(ctx, "0")
	require.NoError(t, err)
	assert.True(t, exists)

	private, err := rooms.IsPrivate(ctx, "0")
	require.NoError(t, err)
	assert.False(t, private)

	exists, err = rooms.RoomExists(ctx, "7:8")
	require.NoError(t, err)
	assert.False(t, exists)
}

func TestMessageService_Range(t *testing.T) {
	db := setupDB(t)
	messages := NewMessageService(db)
	ctx := context.Background()

	const n = 10
	base := 1_700_000_000.0
	// Insert out of order so ordering comes from the store.
	for _, i := range []int{4, 0, 9, 2, 7, 1, 8, 3, 6, 5} {
		require.NoError(t, messages.Append(ctx, &models.Message{
			From: 1, RoomID: "0", Message: "m", Date: base + float64(i),
		}))
	}

	all, err := messages.Range(ctx, "0", 0, n)
	require.NoError(t, err)
	require.Len(t, all, n)
	for i := 1; i < len(all); i++ {
		assert.Greater(t, all[i-1].Date, all[i].Date)
	}

	page, err := messages.Range(ctx, "0", 2, 3)
	require.NoError(t, err)
	require.Len(t, page, 3)
	assert.Equal(t, all[2:5], page)

	tail, err := messages.Range(ctx, "0", 8, 5)
	require.NoError(t, err)
	assert.Len(t, tail, 2)

	rest, err := messages.Range(ctx, "0", 2, math.MaxInt)
	require.NoError(t, err)
	assert.Equal(t, all[2:], rest)

	empty, err := messages.Range(ctx, "0", 0, 0)
	require.NoError(t, err)
	assert.Empty(t, empty)

	missing, err := messages.Range(ctx, "no-such-room", 0, 10)
	require.NoError(t, err)
	assert.NotNil(t, missing)
	assert.Empty(t, missing)

	_, err = messages.Range(ctx, "0", -1, 5)
	assert.ErrorIs(t, err, models.ErrInvalidRange)
	_, err = messages.Range(ctx, "0", 0, -5)
	assert.ErrorIs(t, err, models.ErrInvalidRange)
}

func TestParseRange(t *testing.T) {
	o, s, err := ParseRange("5", "20")
	require.NoError(t, err)
	assert.Equal(t, 5, o)
	assert.Equal(t, 20, s)

	o, s, err = ParseRange("2", "9223372036854775807")
	require.NoError(t, err)
	assert.Equal(t, 2, o)
	assert.Equal(t, math.MaxInt, s)

	for _, tc := range [][2]string{{"-1", "5"}, {"0", "-2"}, {"x", "5"}, {"0", "1.5"}, {"", "5"}, {"0", ""}, {"", ""}} {
		_, _, err := ParseRange(tc[0], tc[1])
		assert.ErrorIs(t, err, models.ErrInvalidRange, "offset=%q size=%q", tc[0], tc[1])
	}
}

func TestPresenceService(t *testing.T) {
	db := setupDB(t)
	ctx := context.Background()
	presence := NewPresenceService(db, 0)

	require.NoError(t, presence.MarkOnline(ctx, 3))
	online, err := presence.IsOnline(ctx, 3)
	require.NoError(t, err)
	assert.True(t, online)

	ids, err := presence.ListOnline(ctx)
	require.NoError(t, err)
	assert.Equal(t, []models.UserID{3}, ids)

	expired, err := presence.Expire(ctx)
	require.NoError(t, err)
	assert.Empty(t, expired, "expiry is disabled without a ttl")

	require.NoError(t, presence.MarkOffline(ctx, 3))
	online, err = presence.IsOnline(ctx, 3)
	require.NoError(t, err)
	assert.False(t, online)
}

func TestPresenceService_Expire(t *testing.T) {
	db := setupDB(t)
	ctx := context.Background()
	presence := NewPresenceService(db, time.Minute)

	clock := time.Unix(1_700_000_000, 0)
	presence.now = func() time.Time { return clock }

	require.NoError(t, presence.MarkOnline(ctx, 1))
	require.NoError(t, presence.MarkOnline(ctx, 2))

	clock = clock.Add(45 * time.Second)
	require.NoError(t, presence.Touch(ctx, []models.UserID{2}))

	clock = clock.Add(30 * time.Second)
	expired, err := presence.Expire(ctx)
	require.NoError(t, err)
	assert.Equal(t, []models.UserID{1}, expired)

	online, err := presence.IsOnline(ctx, 2)
	require.NoError(t, err)
	assert.True(t, online)
}
