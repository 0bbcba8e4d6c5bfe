package user

import (
	"context"
	"fmt"

	"gorm.io/gorm"
)

type Repository interface {
	GetByID(ctx context.Context, id string) (*User, error)
	GetByCode(ctx context.Context, code string) (*User, error)
	GetByIDs(ctx context.Context, ids []string) ([]User, error)
	UpdateStatus(ctx context.Context, id string, online bool) error
	AddBlocked(ctx context.Context, id, blockedID string) error
	RemoveBlocked(ctx context.Context, id, blockedID string) error
}

type repository struct {
	db *gorm.DB
}

func NewRepository(db *gorm.DB) Repository {
	return &repository{db: db}
}

func (r *repository) GetByID(ctx context.Context, id string) (*User, error) {
	var u User
	if err := r.db.WithContext(ctx).First(&u, "id = ?", id).Error; err != nil {
		return nil, err
	}
	return &u, nil
}

func (r *repository) GetByCode(ctx context.Context, code string) (*User, error) {
	var u User
	if err := r.db.WithContext(ctx).First(&u, "code = ?", code).Error; err != nil {
		return nil, err
	}
	return &u, nil
}

func (r *repository) GetByIDs(ctx context.Context, ids []string) ([]User, error) {
	var users []User
	if err := r.db.WithContext(ctx).Where("id IN ?", ids).Find(&users).Error; err != nil {
		return nil, fmt.Errorf("failed to get users: %w", err)
	}
	return users, nil
}

func (r *repository) UpdateStatus(ctx context.Context, id string, online bool) error {
	result := r.db.WithContext(ctx).Model(&User{}).Where("id = ?", id).Update("status", online)
	if result.Error != nil {
		return fmt.Errorf("failed to update user status: %w", result.Error)
	}
	return nil
}

func (r *repository) AddBlocked(ctx context.Context, id, blockedID string) error {
	err := r.db.WithContext(ctx).Exec(
		`UPDATE users SET blocked = array_append(blocked, ?), updated_at = NOW()
		 WHERE id = ? AND NOT (? = ANY(COALESCE(blocked, '{}')))`,
		blockedID, id, blockedID,
	).Error
	if err != nil {
		return fmt.Errorf("failed to block user: %w", err)
	}
	return nil
}

func (r *repository) RemoveBlocked(ctx context.Context, id, blockedID string) error {
	err := r.db.WithContext(ctx).Exec(
		`UPDATE users SET blocked = array_remove(blocked, ?), updated_at = NOW() WHERE id = ?`,
		blockedID, id,
	).Error
	if err != nil {
		return fmt.Errorf("failed to unblock user: %w", err)
	}
	return nil
}
