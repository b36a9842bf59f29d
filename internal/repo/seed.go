// Package repo implements the data persistence layer for domain entities,
// backed by GORM. This file seeds demo user accounts for local password
// login in development environments.
package repo

import (
	"context"

	"golang.org/x/crypto/bcrypt"
	"gorm.io/gorm"

	"github.com/tbourn/go-telegram-backend/internal/domain"
)

// seedUser is a plaintext seed definition; the password is hashed before
// insertion.
type seedUser struct {
	Email    string
	Msisdn   string
	Password string
}

var defaultSeedUsers = []seedUser{
	{Email: "user1@example.com", Msisdn: "6281234567890", Password: "password123"},
	{Email: "user2@example.com", Msisdn: "6281234567891", Password: "password123"},
	{Email: "admin@example.com", Msisdn: "6281234567892", Password: "admin123"},
}

// SeedUsers inserts the default demo accounts when the users table is empty.
// Existing data is never touched, so the seeder is safe to run on every
// startup.
func SeedUsers(ctx context.Context, db *gorm.DB) error {
	total, err := CountUsers(ctx, db)
	if err != nil {
		return err
	}
	if total > 0 {
		return nil
	}

	for _, su := range defaultSeedUsers {
		hash, err := bcrypt.GenerateFromPassword([]byte(su.Password), bcrypt.DefaultCost)
		if err != nil {
			return err
		}
		u := &domain.User{
			Email:        su.Email,
			Msisdn:       su.Msisdn,
			PasswordHash: string(hash),
		}
		if err := CreateUser(ctx, db, u); err != nil {
			return err
		}
	}
	return nil
}
