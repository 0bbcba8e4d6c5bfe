package user

import (
	"context"
	"errors"
	"fmt"

	"go.uber.org/zap"
	"gorm.io/gorm"

	"sockline/infrastructure"
)

// Presence tracks which users currently hold at least one live connection.
type Presence interface {
	SetOnline(ctx context.Context, userID string, online bool) error
}

type Service struct {
	repo     Repository
	presence Presence
	log      *zap.Logger
}

func NewService(repo Repository, presence Presence, log *zap.Logger) *Service {
	if log == nil {
		log = zap.NewNop()
	}
	return &Service{repo: repo, presence: presence, log: log}
}

func (s *Service) FindByID(ctx context.Context, id string) (*User, error) {
	u, err := s.repo.GetByID(ctx, id)
	if err != nil {
		if errors.Is(err, gorm.ErrRecordNotFound) {
			return nil, infrastructure.ErrUserNotFound
		}
		return nil, fmt.Errorf("failed to find user: %w", err)
	}
	return u, nil
}

func (s *Service) FindByCode(ctx context.Context, code string) (*User, error) {
	u, err := s.repo.GetByCode(ctx, code)
	if err != nil {
		if errors.Is(err, gorm.ErrRecordNotFound) {
			return nil, infrastructure.ErrUserNotFound
		}
		return nil, fmt.Errorf("failed to find user by code: %w", err)
	}
	return u, nil
}

// FindParticipantsByIDs loads the given users and strips credentials before
// the records travel over the wire.
func (s *Service) FindParticipantsByIDs(ctx context.Context, ids []string) ([]User, error) {
	users, err := s.repo.GetByIDs(ctx, ids)
	if err != nil {
		return nil, err
	}
	if len(users) == 0 {
		return nil, infrastructure.ErrUsersNotFound
	}
	for i := range users {
		users[i].Password = ""
	}
	return users, nil
}

// UpdateStatus persists the online flag and mirrors it into the presence
// cache. A cache failure is logged but never fails the status change.
func (s *Service) UpdateStatus(ctx context.Context, id string, online bool) error {
	if err := s.repo.UpdateStatus(ctx, id, online); err != nil {
		return err
	}
	if s.presence != nil {
		if err := s.presence.SetOnline(ctx, id, online); err != nil {
			s.log.Warn("failed to update presence cache",
				zap.String("user_id", id), zap.Error(err))
		}
	}
	return nil
}

func (s *Service) BlockUser(ctx context.Context, userID, blockedID string) error {
	if userID == "" || blockedID == "" || userID == blockedID {
		return infrastructure.ErrInvalidInput
	}
	return s.repo.AddBlocked(ctx, userID, blockedID)
}

func (s *Service) UnblockUser(ctx context.Context, userID, blockedID string) error {
	if userID == "" || blockedID == "" {
		return infrastructure.ErrInvalidInput
	}
	return s.repo.RemoveBlocked(ctx, userID, blockedID)
}
