package store

import (
	"context"
	"fmt"
	"time"
)

func (s *store) CreateAdmin(ctx context.Context, admin *AdminUser) error {
	if err := s.conn(ctx).Create(admin).Error; err != nil {
		return fmt.Errorf("creating admin: %w", translate(err))
	}

	return nil
}

func (s *store) GetAdminByID(
	ctx context.Context, id string,
) (*AdminUser, error) {
	var admin AdminUser
	if err := s.conn(ctx).
		Where("id = ?", id).
		First(&admin).Error; err != nil {
		return nil, fmt.Errorf("getting admin by id: %w", translate(err))
	}

	return &admin, nil
}

func (s *store) GetAdminByUsername(
	ctx context.Context, username string,
) (*AdminUser, error) {
	var admin AdminUser
	if err := s.conn(ctx).
		Where("username = ?", username).
		First(&admin).Error; err != nil {
		return nil, fmt.Errorf("getting admin by username: %w", translate(err))
	}

	return &admin, nil
}

// FirstAdmin returns the oldest admin account.
func (s *store) FirstAdmin(ctx context.Context) (*AdminUser, error) {
	var admin AdminUser
	if err := s.conn(ctx).
		Order("created_at ASC").
		First(&admin).Error; err != nil {
		return nil, fmt.Errorf("getting first admin: %w", translate(err))
	}

	return &admin, nil
}

func (s *store) TouchAdminLogin(
	ctx context.Context, id string, at time.Time,
) error {
	if err := s.conn(ctx).
		Model(&AdminUser{}).
		Where("id = ?", id).
		Update("last_login_at", at.UTC()).Error; err != nil {
		return fmt.Errorf("updating admin last login: %w", err)
	}

	return nil
}

// UpsertAdmin creates the admin or replaces the password of an existing
// one with the same username.
func (s *store) UpsertAdmin(
	ctx context.Context, username, passwordHash string,
) (*AdminUser, error) {
	admin := AdminUser{Username: username}

	result := s.conn(ctx).
		Where("username = ?", username).
		Assign(AdminUser{PasswordHash: passwordHash}).
		FirstOrCreate(&admin)
	if result.Error != nil {
		return nil, fmt.Errorf("upserting admin %q: %w", username, translate(result.Error))
	}

	return &admin, nil
}
