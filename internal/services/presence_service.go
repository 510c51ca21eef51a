package services

import (
	"context"
	"time"

	"redis-chat/internal/database"
	"redis-chat/internal/models"
)

// PresenceService tracks which users are online across all instances.
type PresenceService struct {
	repo database.PresenceRepository
	ttl  time.Duration
	now  func() time.Time
}

// NewPresenceService creates the presence store. A zero ttl disables
// heartbeat expiry; users then stay online until an explicit disconnect.
func NewPresenceService(repo database.PresenceRepository, ttl time.Duration) *PresenceService {
	return &PresenceService{repo: repo, ttl: ttl, now: time.Now}
}

func (s *PresenceService) TTL() time.Duration {
	return s.ttl
}

func (s *PresenceService) MarkOnline(ctx context.Context, id models.UserID) error {
	if err := s.repo.AddOnline(ctx, id); err != nil {
		return err
	}
	if s.ttl > 0 {
		return s.repo.TouchOnline(ctx, []models.UserID{id}, s.now())
	}
	return nil
}

func (s *PresenceService) MarkOffline(ctx context.Context, id models.UserID) error {
	return s.repo.RemoveOnline(ctx, id)
}

func (s *PresenceService) IsOnline(ctx context.Context, id models.UserID) (bool, error) {
	return s.repo.IsOnline(ctx, id)
}

func (s *PresenceService) ListOnline(ctx context.Context) ([]models.UserID, error) {
	return s.repo.ListOnline(ctx)
}

// Touch refreshes the heartbeat of users with a live local connection.
func (s *PresenceService) Touch(ctx context.Context, ids []models.UserID) error {
	if s.ttl <= 0 {
		return nil
	}
	return s.repo.TouchOnline(ctx, ids, s.now())
}

// Expire drops users whose heartbeat is older than the ttl and returns the
// ones this call removed.
func (s *PresenceService) Expire(ctx context.Context) ([]models.UserID, error) {
	if s.ttl <= 0 {
		return nil, nil
	}
	return s.repo.ExpireOnline(ctx, s.now().Add(-s.ttl))
}
