// Package services – QRLoginService
//
// This file implements the QR/deep-link login state machine. The service
// hands out short-lived login tokens, renders them as deep links and QR
// codes, and waits for the bot callback that binds a Telegram account to
// the token. Clients poll the token status and receive a signed API token
// once the link completes.
//
// All login sessions live in one in-process map guarded by a single mutex;
// the first transition away from pending wins and later transitions are
// ignored.
package services

import (
	"context"
	"crypto/rand"
	"encoding/base64"
	"encoding/hex"
	"errors"
	"fmt"
	"sync"
	"time"

	"github.com/rs/zerolog"
	"gorm.io/gorm"
	"rsc.io/qr"

	"github.com/tbourn/go-telegram-backend/internal/auth"
	"github.com/tbourn/go-telegram-backend/internal/domain"
	"github.com/tbourn/go-telegram-backend/internal/repo"
)

// Login session lifetimes.
const (
	// LoginTokenTTL is how long a token stays redeemable after issuance.
	LoginTokenTTL = 10 * time.Minute

	// loginTokenPurgeAfter is how long an expired entry is kept before the
	// sweep removes it entirely. Keeping it lets polls report "expired"
	// instead of "not found" for a while.
	loginTokenPurgeAfter = 60 * time.Minute
)

// LoginStatus enumerates the states of a QR login session.
type LoginStatus string

const (
	LoginPending   LoginStatus = "pending"
	LoginCompleted LoginStatus = "completed"
	LoginExpired   LoginStatus = "expired"
)

// LoginSession is one issued login token and its state.
type LoginSession struct {
	Token      string
	UserID     *uint
	TelegramID string
	Status     LoginStatus
	CreatedAt  time.Time
	ExpiresAt  time.Time
}

// UserRepo defines the repository contract required by the QR and local
// auth services.
type UserRepo interface {
	// GetUser fetches a user by primary key.
	GetUser(ctx context.Context, db *gorm.DB, id uint) (*domain.User, error)

	// GetUserByEmailOrMsisdn fetches a user by either login identifier.
	GetUserByEmailOrMsisdn(ctx context.Context, db *gorm.DB, identifier string) (*domain.User, error)

	// GetUserByTelegramID fetches a user by linked Telegram account id.
	GetUserByTelegramID(ctx context.Context, db *gorm.DB, telegramID string) (*domain.User, error)

	// CreateUser inserts a new user row.
	CreateUser(ctx context.Context, db *gorm.DB, u *domain.User) error

	// LinkUserTelegramID stamps the Telegram account id on a user.
	LinkUserTelegramID(ctx context.Context, db *gorm.DB, id uint, telegramID string) error
}

// UserTokenIssuer mints API tokens for locally identified users.
type UserTokenIssuer interface {
	IssueUserToken(c auth.UserClaims) (string, error)
}

// BotIdentity exposes the resolved bot username used in deep links.
type BotIdentity interface {
	Username() string
}

// LoginStatusResult is the poll response for one login token.
type LoginStatusResult struct {
	Status     LoginStatus `json:"status"`
	TelegramID string      `json:"telegramId,omitempty"`
	Token      string      `json:"token,omitempty"`
}

// QRLoginService owns the in-memory login session map and the transitions
// between pending, completed, and expired.
type QRLoginService struct {
	// DB is the GORM handle used for persistence.
	DB *gorm.DB
	// Users is the user repository used when a callback links an account.
	Users UserRepo
	// Tokens mints the API token returned on completed polls.
	Tokens UserTokenIssuer
	// Bot provides the username for deep links.
	Bot BotIdentity
	// Logger reports callback handling.
	Logger zerolog.Logger

	// now is the clock; replaced in tests.
	now func() time.Time

	mu       sync.Mutex
	sessions map[string]*LoginSession
}

// NewQRLoginService constructs a QRLoginService with an empty session map.
func NewQRLoginService(db *gorm.DB, users UserRepo, tokens UserTokenIssuer, bot BotIdentity, logger zerolog.Logger) *QRLoginService {
	return &QRLoginService{
		DB:       db,
		Users:    users,
		Tokens:   tokens,
		Bot:      bot,
		Logger:   logger.With().Str("component", "qr_login").Logger(),
		now:      time.Now,
		sessions: make(map[string]*LoginSession),
	}
}

// loginExpired reports whether the session's redeem window has passed.
func loginExpired(ls *LoginSession, now time.Time) bool {
	return now.After(ls.ExpiresAt)
}

// loginPurgeable reports whether the session is old enough to drop from the
// map entirely.
func loginPurgeable(ls *LoginSession, now time.Time) bool {
	return now.After(ls.ExpiresAt.Add(loginTokenPurgeAfter))
}

// GenerateLoginToken issues a fresh pending login session and returns its
// token. userID optionally pre-binds the token to a local account so the
// callback can stamp that account's Telegram id. Stale entries are swept
// opportunistically on each issuance.
func (s *QRLoginService) GenerateLoginToken(userID *uint) (string, error) {
	buf := make([]byte, 16)
	if _, err := rand.Read(buf); err != nil {
		return "", fmt.Errorf("generate login token: %w", err)
	}
	token := hex.EncodeToString(buf)

	now := s.now()
	s.mu.Lock()
	defer s.mu.Unlock()

	for t, ls := range s.sessions {
		if loginPurgeable(ls, now) {
			delete(s.sessions, t)
		}
	}

	s.sessions[token] = &LoginSession{
		Token:     token,
		UserID:    userID,
		Status:    LoginPending,
		CreatedAt: now,
		ExpiresAt: now.Add(LoginTokenTTL),
	}
	return token, nil
}

// CreateDeepLink renders the token as a bot deep link. The bot must have
// resolved its username first.
func (s *QRLoginService) CreateDeepLink(token string) (string, error) {
	username := s.Bot.Username()
	if username == "" {
		return "", ErrBotNotReady
	}
	return fmt.Sprintf("https://t.me/%s?start=%s", username, token), nil
}

// GenerateQRCode renders the deep link as a PNG QR code wrapped in a base64
// data URL, ready for direct embedding in an <img> tag.
func (s *QRLoginService) GenerateQRCode(deepLink string) (string, error) {
	code, err := qr.Encode(deepLink, qr.M)
	if err != nil {
		return "", fmt.Errorf("encode qr: %w", err)
	}
	return "data:image/png;base64," + base64.StdEncoding.EncodeToString(code.PNG()), nil
}

// HandleCallback processes a deep-link /start from the bot. Unknown,
// expired, or already-resolved tokens are rejected without changing state,
// so a replayed callback is harmless. On the first valid callback the
// session records the Telegram account id and completes; a pre-bound user
// gets the id stamped onto their row.
func (s *QRLoginService) HandleCallback(ctx context.Context, token, telegramID string) error {
	now := s.now()

	s.mu.Lock()
	ls, ok := s.sessions[token]
	if !ok {
		s.mu.Unlock()
		return ErrLoginTokenNotFound
	}
	if ls.Status != LoginPending {
		s.mu.Unlock()
		return ErrLoginTokenNotFound
	}
	if loginExpired(ls, now) {
		ls.Status = LoginExpired
		s.mu.Unlock()
		return ErrLoginTokenExpired
	}
	ls.Status = LoginCompleted
	ls.TelegramID = telegramID
	userID := ls.UserID
	s.mu.Unlock()

	s.Logger.Info().Str("telegram_id", telegramID).Msg("login token confirmed")

	if userID != nil {
		if err := s.Users.LinkUserTelegramID(ctx, s.DB, *userID, telegramID); err != nil {
			s.Logger.Error().Err(err).Uint("user_id", *userID).Msg("failed to link telegram id")
			return err
		}
	}
	return nil
}

// CheckLoginStatus reports the state of a login token. Past-TTL sessions
// are expired lazily before the read. A completed session resolves the
// local user for the linked Telegram account, creating one on first login,
// and returns a freshly minted API token.
func (s *QRLoginService) CheckLoginStatus(ctx context.Context, token string) (*LoginStatusResult, error) {
	now := s.now()

	s.mu.Lock()
	ls, ok := s.sessions[token]
	if !ok {
		s.mu.Unlock()
		return nil, ErrLoginTokenNotFound
	}
	if ls.Status == LoginPending && loginExpired(ls, now) {
		ls.Status = LoginExpired
	}
	status := ls.Status
	telegramID := ls.TelegramID
	s.mu.Unlock()

	switch status {
	case LoginExpired:
		return nil, ErrLoginTokenExpired
	case LoginPending:
		return &LoginStatusResult{Status: LoginPending}, nil
	}

	user, err := s.resolveUser(ctx, telegramID)
	if err != nil {
		return nil, err
	}
	apiToken, err := s.Tokens.IssueUserToken(auth.UserClaims{
		UserID: user.ID,
		Email:  user.Email,
		Msisdn: user.Msisdn,
	})
	if err != nil {
		return nil, err
	}

	return &LoginStatusResult{
		Status:     LoginCompleted,
		TelegramID: telegramID,
		Token:      apiToken,
	}, nil
}

// resolveUser finds the local account linked to the Telegram id, creating a
// bare one on first login.
func (s *QRLoginService) resolveUser(ctx context.Context, telegramID string) (*domain.User, error) {
	user, err := s.Users.GetUserByTelegramID(ctx, s.DB, telegramID)
	if err == nil {
		return user, nil
	}
	if !errors.Is(err, repo.ErrNotFound) {
		return nil, err
	}

	user = &domain.User{TelegramID: telegramID}
	if err := s.Users.CreateUser(ctx, s.DB, user); err != nil {
		return nil, err
	}
	return user, nil
}
