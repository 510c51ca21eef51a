package services

import (
	"context"
	"fmt"
	"math"
	"strconv"
	"strings"

	"redis-chat/internal/database"
	"redis-chat/internal/models"
)

// MessageService is the per-room, time-ordered message log.
type MessageService struct {
	repo database.MessageRepository
}

func NewMessageService(repo database.MessageRepository) *MessageService {
	return &MessageService{repo: repo}
}

func (s *MessageService) Append(ctx context.Context, msg *models.Message) error {
	if msg.RoomID == "" {
		return fmt.Errorf("append: %w: empty room id", models.ErrInvalidRoomID)
	}
	return s.repo.AppendMessage(ctx, msg)
}

func (s *MessageService) HasMessages(ctx context.Context, roomID string) (bool, error) {
	return s.repo.RoomHasMessages(ctx, roomID)
}

// Range returns up to size messages starting at offset, most recent first.
// A room without a log yields an empty slice.
func (s *MessageService) Range(ctx context.Context, roomID string, offset, size int) ([]models.Message, error) {
	if offset < 0 || size < 0 {
		return nil, fmt.Errorf("%w: offset=%d size=%d", models.ErrInvalidRange, offset, size)
	}
	if size == 0 {
		return []models.Message{}, nil
	}

	exists, err := s.repo.RoomHasMessages(ctx, roomID)
	if err != nil {
		return nil, err
	}
	if !exists {
		return []models.Message{}, nil
	}

	// -1 is the end of the log; a page running past MaxInt64 reads to there.
	stop := int64(-1)
	if int64(size) <= math.MaxInt64-int64(offset) {
		stop = int64(offset) + int64(size) - 1
	}
	return s.repo.RangeMessages(ctx, roomID, int64(offset), stop)
}

// ParseRange validates offset/size query values. Both are required.
func ParseRange(offset, size string) (int, int, error) {
	o, err := parseNonNegative(offset)
	if err != nil {
		return 0, 0, fmt.Errorf("%w: offset %q", models.ErrInvalidRange, offset)
	}
	n, err := parseNonNegative(size)
	if err != nil {
		return 0, 0, fmt.Errorf("%w: size %q", models.ErrInvalidRange, size)
	}
	return o, n, nil
}

func parseNonNegative(s string) (int, error) {
	n, err := strconv.Atoi(strings.TrimSpace(s))
	if err != nil {
		return 0, err
	}
	if n < 0 {
		return 0, fmt.Errorf("negative value %d", n)
	}
	return n, nil
}
