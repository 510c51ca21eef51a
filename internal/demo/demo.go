// Package demo seeds a fresh store so a new deployment has something to show.
package demo

import (
	"context"
	"fmt"
	"math/rand/v2"
	"time"

	"redis-chat/internal/models"
	"redis-chat/internal/services"
	"redis-chat/pkg/logger"
)

const Password = "password123"

var (
	Users     = []string{"Pablo", "Joe", "Mary", "Alex"}
	greetings = []string{"Hello", "Hi", "Yo", "Hola"}
	general   = []string{
		"Hello!",
		"Hi, How are you? What about our next meeting?",
		"Yeah everything is fine",
		"Next meeting tomorrow 10.00AM",
		"Wow that's great",
	}
)

// Registrar creates users the same way the login endpoint does.
type Registrar interface {
	Register(ctx context.Context, username, password string) (*models.User, error)
}

type Seeder struct {
	users    Registrar
	rooms    *services.RoomService
	messages *services.MessageService
	rand     *rand.Rand
	now      func() time.Time
}

func NewSeeder(users Registrar, rooms *services.RoomService, messages *services.MessageService) *Seeder {
	return &Seeder{
		users:    users,
		rooms:    rooms,
		messages: messages,
		rand:     rand.New(rand.NewPCG(uint64(time.Now().UnixNano()), 0)),
		now:      time.Now,
	}
}

// Bootstrap names the General room on first boot and, when withDemo is set,
// fills the store with demo users and conversations. Later boots find the
// room named and do nothing. It reports whether this call did the bootstrap.
func (s *Seeder) Bootstrap(ctx context.Context, withDemo bool) (bool, error) {
	created, err := s.rooms.EnsureNamedRoom(ctx, models.GeneralRoomID, models.GeneralRoomName)
	if err != nil {
		return false, fmt.Errorf("failed to name %s room: %w", models.GeneralRoomName, err)
	}
	if !created {
		return false, nil
	}

	logger.Info("[demo] Fresh store, %s room created", models.GeneralRoomName)
	if !withDemo {
		return true, nil
	}
	return true, s.seed(ctx)
}

func (s *Seeder) seed(ctx context.Context) error {
	users := make([]*models.User, 0, len(Users))
	for _, name := range Users {
		u, err := s.users.Register(ctx, name, Password)
		if err != nil {
			return fmt.Errorf("failed to create demo user %s: %w", name, err)
		}
		users = append(users, u)
	}

	now := s.now()
	for _, user := range users {
		for _, other := range users {
			if other.ID == user.ID {
				continue
			}
			room, err := s.rooms.GetOrCreatePrivateRoom(ctx, user.ID, other.ID)
			if err != nil {
				return err
			}

			// Each side of the pair greets the other once.
			at := now.Add(-time.Duration(s.rand.Float64() * 222 * float64(time.Second)))
			if err := s.messages.Append(ctx, &models.Message{
				From:    other.ID,
				RoomID:  room.ID,
				Message: greetings[s.rand.IntN(len(greetings))],
				Date:    epoch(at),
			}); err != nil {
				return err
			}
		}
	}

	for i, text := range general {
		at := now.Add(-time.Duration(len(general)-i) * 200 * time.Second)
		if err := s.messages.Append(ctx, &models.Message{
			From:    users[s.rand.IntN(len(users))].ID,
			RoomID:  models.GeneralRoomID,
			Message: text,
			Date:    epoch(at),
		}); err != nil {
			return err
		}
	}

	logger.Info("[demo] Seeded %d users, their private rooms and %d %s messages", len(users), len(general), models.GeneralRoomName)
	return nil
}

func epoch(t time.Time) float64 {
	return float64(t.UnixMilli()) / 1000
}
