// Package services – AuthService
//
// This file implements local account authentication: password login against
// the seeded/registered users table, and the QR entry points that bundle a
// login token with its deep link and QR image for the frontend.
package services

import (
	"context"
	"errors"

	"github.com/rs/zerolog"
	"golang.org/x/crypto/bcrypt"
	"gorm.io/gorm"

	"github.com/tbourn/go-telegram-backend/internal/auth"
	"github.com/tbourn/go-telegram-backend/internal/repo"
)

// LoginResult is the successful password login response.
type LoginResult struct {
	Token  string `json:"token"`
	UserID uint   `json:"userId"`
	Email  string `json:"email,omitempty"`
	Msisdn string `json:"msisdn,omitempty"`
}

// QRLoginStart bundles everything the frontend needs to display a QR login.
type QRLoginStart struct {
	LoginToken string `json:"loginToken"`
	DeepLink   string `json:"deepLink"`
	QRCode     string `json:"qrCode"`
	ExpiresIn  int    `json:"expiresIn"`
}

// AuthService authenticates local accounts and fronts the QR login flow.
type AuthService struct {
	// DB is the GORM handle used for persistence.
	DB *gorm.DB
	// Users is the user repository.
	Users UserRepo
	// Tokens mints API tokens on successful login.
	Tokens UserTokenIssuer
	// QR drives the QR login state machine.
	QR *QRLoginService
	// Logger reports login failures at debug level only.
	Logger zerolog.Logger
}

// NewAuthService constructs an AuthService.
func NewAuthService(db *gorm.DB, users UserRepo, tokens UserTokenIssuer, qr *QRLoginService, logger zerolog.Logger) *AuthService {
	return &AuthService{
		DB:     db,
		Users:  users,
		Tokens: tokens,
		QR:     qr,
		Logger: logger.With().Str("component", "auth").Logger(),
	}
}

// Login authenticates by email or msisdn plus password. Unknown identifiers
// and wrong passwords both return ErrInvalidCredentials so callers cannot
// probe which accounts exist.
func (s *AuthService) Login(ctx context.Context, identifier, password string) (*LoginResult, error) {
	if identifier == "" || password == "" {
		return nil, ErrInvalidCredentials
	}

	user, err := s.Users.GetUserByEmailOrMsisdn(ctx, s.DB, identifier)
	if errors.Is(err, repo.ErrNotFound) {
		return nil, ErrInvalidCredentials
	}
	if err != nil {
		return nil, err
	}

	if bcrypt.CompareHashAndPassword([]byte(user.PasswordHash), []byte(password)) != nil {
		return nil, ErrInvalidCredentials
	}

	token, err := s.Tokens.IssueUserToken(auth.UserClaims{
		UserID: user.ID,
		Email:  user.Email,
		Msisdn: user.Msisdn,
	})
	if err != nil {
		return nil, err
	}

	return &LoginResult{
		Token:  token,
		UserID: user.ID,
		Email:  user.Email,
		Msisdn: user.Msisdn,
	}, nil
}

// LoginWithQR issues a login token and renders its deep link and QR image.
// userID optionally pre-binds the token to an existing account.
func (s *AuthService) LoginWithQR(ctx context.Context, userID *uint) (*QRLoginStart, error) {
	token, err := s.QR.GenerateLoginToken(userID)
	if err != nil {
		return nil, err
	}
	deepLink, err := s.QR.CreateDeepLink(token)
	if err != nil {
		return nil, err
	}
	qrCode, err := s.QR.GenerateQRCode(deepLink)
	if err != nil {
		return nil, err
	}
	return &QRLoginStart{
		LoginToken: token,
		DeepLink:   deepLink,
		QRCode:     qrCode,
		ExpiresIn:  int(LoginTokenTTL.Seconds()),
	}, nil
}

// CheckQRLogin reports the state of a previously issued login token.
func (s *AuthService) CheckQRLogin(ctx context.Context, token string) (*LoginStatusResult, error) {
	return s.QR.CheckLoginStatus(ctx, token)
}
