package database

import (
	"context"
	"time"

	"redis-chat/internal/models"
)

type UserRepository interface {
	CreateUser(ctx context.Context, username string, passwordHash []byte) (*models.User, error)
	GetUserByUsername(ctx context.Context, username string) (*models.User, error)
	GetUserByID(ctx context.Context, id models.UserID) (*models.User, error)
}

type PresenceRepository interface {
	AddOnline(ctx context.Context, id models.UserID) error
	RemoveOnline(ctx context.Context, id models.UserID) error
	IsOnline(ctx context.Context, id models.UserID) (bool, error)
	ListOnline(ctx context.Context) ([]models.UserID, error)
	// TouchOnline records a heartbeat for ids at the given time.
	TouchOnline(ctx context.Context, ids []models.UserID, at time.Time) error
	// ExpireOnline removes users whose last heartbeat is at or before cutoff
	// and returns the ids this call removed.
	ExpireOnline(ctx context.Context, cutoff time.Time) ([]models.UserID, error)
}

type RoomRepository interface {
	AddRoomMember(ctx context.Context, roomID string, userIDs ...models.UserID) error
	IsRoomMember(ctx context.Context, roomID string, userID models.UserID) (bool, error)
	UserRoomIDs(ctx context.Context, userID models.UserID) ([]string, error)
	GetRoomName(ctx context.Context, roomID string) (string, bool, error)
	SetRoomName(ctx context.Context, roomID, name string) (bool, error)
}

type MessageRepository interface {
	AppendMessage(ctx context.Context, msg *models.Message) error
	RoomHasMessages(ctx context.Context, roomID string) (bool, error)
	// RangeMessages returns messages by descending date between the inclusive
	// ranks start and stop.
	RangeMessages(ctx context.Context, roomID string, start, stop int64) ([]models.Message, error)
}

type Database interface {
	UserRepository
	PresenceRepository
	RoomRepository
	MessageRepository
	Ping(ctx context.Context) error
	Close() error
}
