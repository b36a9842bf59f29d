// Package repo implements the data persistence layer for domain entities,
// backed by GORM. This file provides repository functions for the User model.
package repo

import (
	"context"

	"gorm.io/gorm"

	"github.com/tbourn/go-telegram-backend/internal/domain"
)

// GetUser fetches a user by primary key. Returns ErrNotFound when missing.
func GetUser(ctx context.Context, db *gorm.DB, id uint) (*domain.User, error) {
	var u domain.User
	if err := db.WithContext(ctx).First(&u, "id = ?", id).Error; err != nil {
		return nil, err
	}
	return &u, nil
}

// GetUserByEmailOrMsisdn fetches a user whose email or msisdn matches the
// given identifier. Used by local password login, where the client submits
// a single field for either.
func GetUserByEmailOrMsisdn(ctx context.Context, db *gorm.DB, identifier string) (*domain.User, error) {
	var u domain.User
	err := db.WithContext(ctx).
		Where("email = ? OR msisdn = ?", identifier, identifier).
		First(&u).Error
	if err != nil {
		return nil, err
	}
	return &u, nil
}

// GetUserByTelegramID fetches the user linked to the given Telegram account.
// Returns ErrNotFound when no local account has completed the QR link.
func GetUserByTelegramID(ctx context.Context, db *gorm.DB, telegramID string) (*domain.User, error) {
	var u domain.User
	if err := db.WithContext(ctx).First(&u, "telegram_id = ?", telegramID).Error; err != nil {
		return nil, err
	}
	return &u, nil
}

// CreateUser inserts a new user row.
func CreateUser(ctx context.Context, db *gorm.DB, u *domain.User) error {
	return db.WithContext(ctx).Create(u).Error
}

// LinkUserTelegramID stamps the external account id onto a user after a
// completed QR-link callback. Returns ErrNotFound when the user is missing.
func LinkUserTelegramID(ctx context.Context, db *gorm.DB, id uint, telegramID string) error {
	res := db.WithContext(ctx).
		Model(&domain.User{}).
		Where("id = ?", id).
		Update("telegram_id", telegramID)
	if res.Error != nil {
		return res.Error
	}
	if res.RowsAffected == 0 {
		return gorm.ErrRecordNotFound
	}
	return nil
}

// CountUsers returns the total number of user rows (used by the seeder to
// decide whether seeding is needed).
func CountUsers(ctx context.Context, db *gorm.DB) (int64, error) {
	var total int64
	err := db.WithContext(ctx).Model(&domain.User{}).Count(&total).Error
	return total, err
}
