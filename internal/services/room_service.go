package services

import (
	"context"
	"fmt"
	"strings"

	"redis-chat/internal/database"
	"redis-chat/internal/models"
)

// RoomService is the room directory: it resolves room ids to display
// metadata and tells private pair rooms apart from named rooms.
type RoomService struct {
	rooms    database.RoomRepository
	users    database.UserRepository
	messages database.MessageRepository
}

func NewRoomService(rooms database.RoomRepository, users database.UserRepository, messages database.MessageRepository) *RoomService {
	return &RoomService{rooms: rooms, users: users, messages: messages}
}

// ResolvePrivateRoomID returns the canonical "min:max" id for two users.
// It reports false when the ids are equal or either is not a valid id.
func ResolvePrivateRoomID(u1, u2 models.UserID) (string, bool) {
	if u1 == u2 || !u1.Valid() || !u2.Valid() {
		return "", false
	}
	if u1 > u2 {
		u1, u2 = u2, u1
	}
	return u1.String() + ":" + u2.String(), true
}

// ParsePrivateRoomID splits a private room id into its two user ids.
func ParsePrivateRoomID(roomID string) (models.UserID, models.UserID, error) {
	parts := strings.Split(roomID, ":")
	if len(parts) != 2 {
		return 0, 0, fmt.Errorf("%w: %q does not have two parts", models.ErrInvalidRoomID, roomID)
	}

	var ids [2]models.UserID
	for i, p := range parts {
		id, err := models.ParseUserID(p)
		if err != nil || !id.Valid() {
			return 0, 0, fmt.Errorf("%w: %q has a bad user id %q", models.ErrInvalidRoomID, roomID, p)
		}
		ids[i] = id
	}
	return ids[0], ids[1], nil
}

// GetOrCreatePrivateRoom registers both users in their pair room unless both
// memberships already exist. No name is stored; that is what marks it private.
func (s *RoomService) GetOrCreatePrivateRoom(ctx context.Context, u1, u2 models.UserID) (*models.Room, error) {
	roomID, ok := ResolvePrivateRoomID(u1, u2)
	if !ok {
		return nil, fmt.Errorf("%w: users %d and %d", models.ErrInvalidRoomID, u1, u2)
	}

	var missing []models.UserID
	for _, id := range []models.UserID{u1, u2} {
		member, err := s.rooms.IsRoomMember(ctx, roomID, id)
		if err != nil {
			return nil, err
		}
		if !member {
			missing = append(missing, id)
		}
	}
	if len(missing) > 0 {
		if err := s.rooms.AddRoomMember(ctx, roomID, missing...); err != nil {
			return nil, err
		}
	}

	names, err := s.usernames(ctx, u1, u2)
	if err != nil {
		return nil, err
	}
	return &models.Room{ID: roomID, Kind: models.RoomPrivate, Names: names}, nil
}

// PrivateRoom resolves an existing private room id to its participants'
// display names without touching membership.
func (s *RoomService) PrivateRoom(ctx context.Context, roomID string) (*models.Room, error) {
	u1, u2, err := ParsePrivateRoomID(roomID)
	if err != nil {
		return nil, err
	}
	names, err := s.usernames(ctx, u1, u2)
	if err != nil {
		return nil, err
	}
	return &models.Room{ID: roomID, Kind: models.RoomPrivate, Names: names}, nil
}

// ListRoomsForUser summarizes every room the user belongs to. Private rooms
// without any messages yet are left out; clients learn about them from the
// show.room event sent with the first message.
func (s *RoomService) ListRoomsForUser(ctx context.Context, userID models.UserID) ([]models.Room, error) {
	roomIDs, err := s.rooms.UserRoomIDs(ctx, userID)
	if err != nil {
		return nil, err
	}

	rooms := make([]models.Room, 0, len(roomIDs))
	for _, roomID := range roomIDs {
		name, named, err := s.rooms.GetRoomName(ctx, roomID)
		if err != nil {
			return nil, err
		}
		if named {
			rooms = append(rooms, models.Room{ID: roomID, Kind: models.RoomNamed, Names: []string{name}})
			continue
		}

		hasMessages, err := s.messages.RoomHasMessages(ctx, roomID)
		if err != nil {
			return nil, err
		}
		if !hasMessages {
			continue
		}

		room, err := s.PrivateRoom(ctx, roomID)
		if err != nil {
			return nil, err
		}
		rooms = append(rooms, *room)
	}
	return rooms, nil
}

// RoomExists reports whether the room has a name or any messages.
func (s *RoomService) RoomExists(ctx context.Context, roomID string) (bool, error) {
	_, named, err := s.rooms.GetRoomName(ctx, roomID)
	if err != nil {
		return false, err
	}
	if named {
		return true, nil
	}
	return s.messages.RoomHasMessages(ctx, roomID)
}

// IsPrivate is true exactly when the room has no stored display name.
func (s *RoomService) IsPrivate(ctx context.Context, roomID string) (bool, error) {
	_, named, err := s.rooms.GetRoomName(ctx, roomID)
	if err != nil {
		return false, err
	}
	return !named, nil
}

// EnsureNamedRoom stores a display name for roomID if it has none and reports
// whether it did.
func (s *RoomService) EnsureNamedRoom(ctx context.Context, roomID, name string) (bool, error) {
	return s.rooms.SetRoomName(ctx, roomID, name)
}

func (s *RoomService) AddMember(ctx context.Context, userID models.UserID, roomID string) error {
	return s.rooms.AddRoomMember(ctx, roomID, userID)
}

func (s *RoomService) usernames(ctx context.Context, ids ...models.UserID) ([]string, error) {
	names := make([]string, 0, len(ids))
	for _, id := range ids {
		user, err := s.users.GetUserByID(ctx, id)
		if err != nil {
			return nil, fmt.Errorf("resolve user %d: %w", id, err)
		}
		names = append(names, user.Username)
	}
	return names, nil
}
