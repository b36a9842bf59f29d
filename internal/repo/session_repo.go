// Package repo implements the data persistence layer for domain entities,
// backed by GORM. This file provides repository functions for the Session
// model.
//
// All functions are context-aware and accept a *gorm.DB handle, making them
// safe for use within transactions or connection-scoped operations.
// They follow the "thin repository" approach: no business logic, only CRUD
// persistence and query composition.
//
// Error semantics:
//   - When a session is not found, functions return gorm.ErrRecordNotFound
//     (also exported here as ErrNotFound for convenience).
//   - On DB errors (constraint violations, connectivity issues, etc.),
//     the raw gorm error is propagated.
package repo

import (
	"context"
	"time"

	"gorm.io/gorm"

	"github.com/tbourn/go-telegram-backend/internal/domain"
)

// ErrNotFound is returned when a requested record does not exist.
// It aliases gorm.ErrRecordNotFound for convenience and consistency
// across the service layer and handlers.
var ErrNotFound = gorm.ErrRecordNotFound

// GetSession fetches a session by its primary key. If the record does not
// exist, it returns ErrNotFound.
func GetSession(ctx context.Context, db *gorm.DB, id uint) (*domain.Session, error) {
	var s domain.Session
	if err := db.WithContext(ctx).First(&s, "id = ?", id).Error; err != nil {
		return nil, err
	}
	return &s, nil
}

// GetSessionByPhone fetches a session by phone number (the lookup key for
// the phone login flow). Returns ErrNotFound when no row exists.
func GetSessionByPhone(ctx context.Context, db *gorm.DB, phone string) (*domain.Session, error) {
	var s domain.Session
	if err := db.WithContext(ctx).First(&s, "phone = ?", phone).Error; err != nil {
		return nil, err
	}
	return &s, nil
}

// CreateSession inserts a new inactive session row for phone with no
// credential. The unique index on phone rejects a second row for the same
// number.
func CreateSession(ctx context.Context, db *gorm.DB, phone string) (*domain.Session, error) {
	s := &domain.Session{
		Phone:     phone,
		IsActive:  false,
		CreatedAt: time.Now().UTC(),
	}
	if err := db.WithContext(ctx).Create(s).Error; err != nil {
		return nil, err
	}
	return s, nil
}

// SaveSession persists all fields of an existing session row.
func SaveSession(ctx context.Context, db *gorm.DB, s *domain.Session) error {
	return db.WithContext(ctx).Save(s).Error
}

// ActivateSession stamps the credential material onto a session in a single
// update: the serialized session string, the external account id, the active
// flag, and the login time. It is the only write path that flips IsActive to
// true, so a failed external handshake can never leave a half-active row.
func ActivateSession(ctx context.Context, db *gorm.DB, id uint, sessionString, telegramID string, loginAt time.Time) error {
	res := db.WithContext(ctx).
		Model(&domain.Session{}).
		Where("id = ?", id).
		Updates(map[string]any{
			"session_string": sessionString,
			"telegram_id":    telegramID,
			"is_active":      true,
			"last_login":     loginAt,
		})
	if res.Error != nil {
		return res.Error
	}
	if res.RowsAffected == 0 {
		return gorm.ErrRecordNotFound
	}
	return nil
}

// DeactivateSession clears the credential and active flag, used on logout.
func DeactivateSession(ctx context.Context, db *gorm.DB, id uint) error {
	res := db.WithContext(ctx).
		Model(&domain.Session{}).
		Where("id = ?", id).
		Updates(map[string]any{
			"session_string": "",
			"is_active":      false,
		})
	if res.Error != nil {
		return res.Error
	}
	if res.RowsAffected == 0 {
		return gorm.ErrRecordNotFound
	}
	return nil
}
