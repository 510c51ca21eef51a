package database

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"strconv"
	"strings"
	"time"

	"redis-chat/internal/models"
	"redis-chat/pkg/logger"

	"github.com/redis/go-redis/v9"
)

// RedisDB keeps every shared piece of chat state in Redis. Each method is a
// single command or a single script, so atomicity comes from the server.
type RedisDB struct {
	client *redis.Client
}

var _ Database = (*RedisDB)(nil)

// createUserScript claims the username and writes the user hash together, so a
// failure never leaves the name pointing at a missing user.
var createUserScript = redis.NewScript(`
if redis.call('SETNX', KEYS[1], KEYS[2]) == 0 then
  return 0
end
redis.call('HSET', KEYS[2], 'username', ARGV[1], 'password', ARGV[2])
return 1
`)

// expireOnlineScript drops stale heartbeats and reports only the ids whose
// SREM succeeded, so concurrent sweepers never both claim the same user.
var expireOnlineScript = redis.NewScript(`
local stale = redis.call('ZRANGEBYSCORE', KEYS[2], '-inf', ARGV[1])
local removed = {}
for _, id in ipairs(stale) do
  redis.call('ZREM', KEYS[2], id)
  if redis.call('SREM', KEYS[1], id) == 1 then
    table.insert(removed, id)
  end
end
return removed
`)

func NewRedisClient(addr, password string, db int) *redis.Client {
	return redis.NewClient(&redis.Options{
		Addr:     addr,
		Password: password,
		DB:       db,
	})
}

func NewRedisDB(ctx context.Context, client *redis.Client) (*RedisDB, error) {
	if err := client.Ping(ctx).Err(); err != nil {
		return nil, storeErr("ping", err)
	}

	logger.Info("[redis] Connected to %s", client.Options().Addr)
	return &RedisDB{client: client}, nil
}

func (db *RedisDB) Client() *redis.Client {
	return db.client
}

func (db *RedisDB) Ping(ctx context.Context) error {
	if err := db.client.Ping(ctx).Err(); err != nil {
		return storeErr("ping", err)
	}
	return nil
}

func (db *RedisDB) Close() error {
	return db.client.Close()
}

func storeErr(op string, err error) error {
	return fmt.Errorf("%s: %w: %w", op, models.ErrStoreUnavailable, err)
}

// User Repository Implementation
func (db *RedisDB) CreateUser(ctx context.Context, username string, passwordHash []byte) (*models.User, error) {
	next, err := db.client.Incr(ctx, keyTotalUsers).Result()
	if err != nil {
		return nil, storeErr("create user", err)
	}
	id := models.UserID(next)

	claimed, err := createUserScript.Run(ctx, db.client,
		[]string{usernameKey(username), userKey(id)}, username, passwordHash).Int()
	if err != nil {
		return nil, storeErr("create user", err)
	}
	if claimed == 0 {
		return nil, models.ErrUsernameTaken
	}

	return &models.User{ID: id, Username: username, PasswordHash: passwordHash}, nil
}

func (db *RedisDB) GetUserByUsername(ctx context.Context, username string) (*models.User, error) {
	key, err := db.client.Get(ctx, usernameKey(username)).Result()
	if err != nil {
		if errors.Is(err, redis.Nil) {
			return nil, models.ErrUserNotFound
		}
		return nil, storeErr("get user", err)
	}

	id, err := models.ParseUserID(strings.TrimPrefix(key, "user:"))
	if err != nil {
		return nil, fmt.Errorf("username index for %q: %w", username, err)
	}
	return db.GetUserByID(ctx, id)
}

func (db *RedisDB) GetUserByID(ctx context.Context, id models.UserID) (*models.User, error) {
	fields, err := db.client.HGetAll(ctx, userKey(id)).Result()
	if err != nil {
		return nil, storeErr("get user", err)
	}

	username, ok := fields["username"]
	if !ok {
		return nil, models.ErrUserNotFound
	}
	return &models.User{ID: id, Username: username, PasswordHash: []byte(fields["password"])}, nil
}

// Presence Repository Implementation
func (db *RedisDB) AddOnline(ctx context.Context, id models.UserID) error {
	if err := db.client.SAdd(ctx, keyOnlineUsers, id.String()).Err(); err != nil {
		return storeErr("mark online", err)
	}
	return nil
}

func (db *RedisDB) RemoveOnline(ctx context.Context, id models.UserID) error {
	_, err := db.client.TxPipelined(ctx, func(pipe redis.Pipeliner) error {
		pipe.SRem(ctx, keyOnlineUsers, id.String())
		pipe.ZRem(ctx, keyOnlineSeen, id.String())
		return nil
	})
	if err != nil {
		return storeErr("mark offline", err)
	}
	return nil
}

func (db *RedisDB) IsOnline(ctx context.Context, id models.UserID) (bool, error) {
	ok, err := db.client.SIsMember(ctx, keyOnlineUsers, id.String()).Result()
	if err != nil {
		return false, storeErr("is online", err)
	}
	return ok, nil
}

func (db *RedisDB) ListOnline(ctx context.Context) ([]models.UserID, error) {
	members, err := db.client.SMembers(ctx, keyOnlineUsers).Result()
	if err != nil {
		return nil, storeErr("list online", err)
	}
	return parseUserIDs(members), nil
}

func (db *RedisDB) TouchOnline(ctx context.Context, ids []models.UserID, at time.Time) error {
	if len(ids) == 0 {
		return nil
	}
	score := epochSeconds(at)
	members := make([]redis.Z, 0, len(ids))
	for _, id := range ids {
		members = append(members, redis.Z{Score: score, Member: id.String()})
	}
	if err := db.client.ZAdd(ctx, keyOnlineSeen, members...).Err(); err != nil {
		return storeErr("touch online", err)
	}
	return nil
}

func (db *RedisDB) ExpireOnline(ctx context.Context, cutoff time.Time) ([]models.UserID, error) {
	cut := strconv.FormatFloat(epochSeconds(cutoff), 'f', -1, 64)
	removed, err := expireOnlineScript.Run(ctx, db.client, []string{keyOnlineUsers, keyOnlineSeen}, cut).StringSlice()
	if err != nil {
		if errors.Is(err, redis.Nil) {
			return nil, nil
		}
		return nil, storeErr("expire online", err)
	}
	return parseUserIDs(removed), nil
}

// Room Repository Implementation
// AddRoomMember records every user as a member of roomID in one transaction.
func (db *RedisDB) AddRoomMember(ctx context.Context, roomID string, userIDs ...models.UserID) error {
	_, err := db.client.TxPipelined(ctx, func(pipe redis.Pipeliner) error {
		for _, id := range userIDs {
			pipe.SAdd(ctx, userRoomsKey(id), roomID)
		}
		return nil
	})
	if err != nil {
		return storeErr("add room member", err)
	}
	return nil
}

func (db *RedisDB) IsRoomMember(ctx context.Context, roomID string, userID models.UserID) (bool, error) {
	ok, err := db.client.SIsMember(ctx, userRoomsKey(userID), roomID).Result()
	if err != nil {
		return false, storeErr("is room member", err)
	}
	return ok, nil
}

func (db *RedisDB) UserRoomIDs(ctx context.Context, userID models.UserID) ([]string, error) {
	ids, err := db.client.SMembers(ctx, userRoomsKey(userID)).Result()
	if err != nil {
		return nil, storeErr("list user rooms", err)
	}
	return ids, nil
}

func (db *RedisDB) GetRoomName(ctx context.Context, roomID string) (string, bool, error) {
	name, err := db.client.Get(ctx, roomNameKey(roomID)).Result()
	if err != nil {
		if errors.Is(err, redis.Nil) {
			return "", false, nil
		}
		return "", false, storeErr("get room name", err)
	}
	return name, true, nil
}

// SetRoomName names a room unless it already has a name and reports whether
// this call set it.
func (db *RedisDB) SetRoomName(ctx context.Context, roomID, name string) (bool, error) {
	set, err := db.client.SetNX(ctx, roomNameKey(roomID), name, 0).Result()
	if err != nil {
		return false, storeErr("set room name", err)
	}
	return set, nil
}

// Message Repository Implementation
func (db *RedisDB) AppendMessage(ctx context.Context, msg *models.Message) error {
	data, err := json.Marshal(msg)
	if err != nil {
		return fmt.Errorf("encode message: %w", err)
	}
	if err := db.client.ZAdd(ctx, roomKey(msg.RoomID), redis.Z{Score: msg.Date, Member: data}).Err(); err != nil {
		return storeErr("append message", err)
	}
	return nil
}

func (db *RedisDB) RoomHasMessages(ctx context.Context, roomID string) (bool, error) {
	n, err := db.client.Exists(ctx, roomKey(roomID)).Result()
	if err != nil {
		return false, storeErr("room exists", err)
	}
	return n > 0, nil
}

func (db *RedisDB) RangeMessages(ctx context.Context, roomID string, start, stop int64) ([]models.Message, error) {
	values, err := db.client.ZRevRange(ctx, roomKey(roomID), start, stop).Result()
	if err != nil {
		return nil, storeErr("range messages", err)
	}

	messages := make([]models.Message, 0, len(values))
	for _, v := range values {
		var msg models.Message
		if err := json.Unmarshal([]byte(v), &msg); err != nil {
			logger.Warn("[redis] Skipping undecodable message in %s: %v", roomKey(roomID), err)
			continue
		}
		messages = append(messages, msg)
	}
	return messages, nil
}

func parseUserIDs(values []string) []models.UserID {
	ids := make([]models.UserID, 0, len(values))
	for _, v := range values {
		id, err := models.ParseUserID(v)
		if err != nil {
			logger.Warn("[redis] Ignoring malformed user id %q", v)
			continue
		}
		ids = append(ids, id)
	}
	return ids
}

func epochSeconds(t time.Time) float64 {
	return float64(t.UnixNano()) / float64(time.Second)
}
