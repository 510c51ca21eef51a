package database

import "redis-chat/internal/models"

// Redis key layout. Existing deployments store data under these exact keys.
const (
	keyTotalUsers  = "total_users"
	keyOnlineUsers = "online_users"
	keyOnlineSeen  = "online_users:seen"
)

func usernameKey(username string) string {
	return "username:" + username
}

func userKey(id models.UserID) string {
	return "user:" + id.String()
}

func userRoomsKey(id models.UserID) string {
	return "user:" + id.String() + ":rooms"
}

func roomKey(roomID string) string {
	return "room:" + roomID
}

func roomNameKey(roomID string) string {
	return "room:" + roomID + ":name"
}
