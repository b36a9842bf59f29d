// Package services – PhoneLoginService
//
// This file implements the two/three-step phone login flow. Step one sends a
// verification code to the phone and records an inactive login session. Step
// two redeems the code (plus the 2FA password when the account requires one)
// and, only after the upstream credential has been obtained, flips the
// session active with its serialized credential string.
//
// Service-level errors (e.g., ErrSessionNotFound, ErrSecondFactorRequired)
// are returned for predictable cases so handlers can map them to HTTP
// results consistently.
package services

import (
	"context"
	"errors"
	"regexp"
	"time"

	"github.com/rs/zerolog"
	"gorm.io/gorm"

	"github.com/tbourn/go-telegram-backend/internal/domain"
	"github.com/tbourn/go-telegram-backend/internal/repo"
	"github.com/tbourn/go-telegram-backend/internal/telegram"
)

// phoneRe is the accepted phone shape: leading plus, then 10-15 digits.
var phoneRe = regexp.MustCompile(`^\+[0-9]{10,15}$`)

// SessionClient is the connection contract required from the wire adapter.
// Every operation opens one client, uses it, and disconnects before
// returning.
type SessionClient interface {
	// Connect establishes the connection and blocks until ready.
	Connect(ctx context.Context) error

	// Disconnect tears the connection down; safe to call more than once.
	Disconnect(ctx context.Context) error

	// SendCode requests a verification code for the phone.
	SendCode(ctx context.Context, phone string) (*telegram.SentCode, error)

	// SignIn redeems a verification code.
	SignIn(ctx context.Context, phone, code, codeHash string) (string, error)

	// SignInWithPassword completes sign-in through the 2FA password path.
	SignInWithPassword(ctx context.Context, password string) (string, error)

	// SignOut terminates the remote login session.
	SignOut(ctx context.Context) error

	// SessionString serializes the current credential state.
	SessionString() string

	// ChannelDialogs lists the remote channels visible to the session.
	ChannelDialogs(ctx context.Context) ([]telegram.ChannelInfo, error)

	// ChannelHistory fetches a page of messages from one channel.
	ChannelHistory(ctx context.Context, channelID, accessHash int64, limit, offsetID int) ([]telegram.HistoryMessage, error)
}

// ClientFactory builds a SessionClient seeded from an opaque credential
// string. An empty string yields a fresh, unauthenticated client.
type ClientFactory func(sessionString string) (SessionClient, error)

// SessionRepo defines the repository contract required by the login services.
type SessionRepo interface {
	// GetSession fetches a session by primary key.
	GetSession(ctx context.Context, db *gorm.DB, id uint) (*domain.Session, error)

	// GetSessionByPhone fetches a session by its unique phone number.
	GetSessionByPhone(ctx context.Context, db *gorm.DB, phone string) (*domain.Session, error)

	// CreateSession inserts a new inactive session for the phone.
	CreateSession(ctx context.Context, db *gorm.DB, phone string) (*domain.Session, error)

	// SaveSession persists the full session row.
	SaveSession(ctx context.Context, db *gorm.DB, s *domain.Session) error

	// ActivateSession stores the credential and flips the session active.
	ActivateSession(ctx context.Context, db *gorm.DB, id uint, sessionString, telegramID string, loginAt time.Time) error

	// DeactivateSession clears the credential and flips the session inactive.
	DeactivateSession(ctx context.Context, db *gorm.DB, id uint) error
}

// StartLoginResult is returned by StartPhoneLogin. The code hash must be
// echoed back verbatim on the verification step.
type StartLoginResult struct {
	SessionID       uint   `json:"sessionId"`
	PhoneCodeHash   string `json:"phoneCodeHash"`
	PhoneCodeLength int    `json:"phoneCodeLength"`
}

// CompleteLoginResult is returned by CompletePhoneLogin.
type CompleteLoginResult struct {
	SessionID  uint   `json:"sessionId"`
	TelegramID string `json:"telegramId"`
}

// PhoneLoginService drives the phone-based login flow against the wire
// adapter and the sessions table.
type PhoneLoginService struct {
	// DB is the GORM handle used for persistence.
	DB *gorm.DB
	// Repo is the session repository used by this service.
	Repo SessionRepo
	// Clients builds per-operation wire connections.
	Clients ClientFactory
	// Logger is used for best-effort failure reporting.
	Logger zerolog.Logger
}

// NewPhoneLoginService constructs a PhoneLoginService.
func NewPhoneLoginService(db *gorm.DB, r SessionRepo, clients ClientFactory, logger zerolog.Logger) *PhoneLoginService {
	return &PhoneLoginService{
		DB:      db,
		Repo:    r,
		Clients: clients,
		Logger:  logger.With().Str("component", "phone_login").Logger(),
	}
}

// StartPhoneLogin validates the phone shape, asks the upstream to deliver a
// verification code, and records an inactive session keyed by phone. The
// session keeps the intermediate credential state so the verification step
// can resume the same handshake. Repeated starts for the same phone reuse
// the existing row.
func (s *PhoneLoginService) StartPhoneLogin(ctx context.Context, phone string) (*StartLoginResult, error) {
	if !phoneRe.MatchString(phone) {
		return nil, ErrInvalidPhone
	}

	client, err := s.Clients("")
	if err != nil {
		return nil, err
	}
	if err := client.Connect(ctx); err != nil {
		return nil, err
	}
	defer s.disconnect(client)

	sent, err := client.SendCode(ctx, phone)
	if err != nil {
		return nil, err
	}

	sess, err := s.Repo.GetSessionByPhone(ctx, s.DB, phone)
	if errors.Is(err, repo.ErrNotFound) {
		sess, err = s.Repo.CreateSession(ctx, s.DB, phone)
		if repo.IsUniqueViolation(err) {
			// Two concurrent starts raced on the same phone; the other
			// request created the row, so load and reuse it.
			sess, err = s.Repo.GetSessionByPhone(ctx, s.DB, phone)
		}
	}
	if err != nil {
		return nil, err
	}

	// Intermediate handshake state; the session stays inactive until the
	// code is redeemed.
	sess.SessionString = client.SessionString()
	sess.IsActive = false
	if err := s.Repo.SaveSession(ctx, s.DB, sess); err != nil {
		return nil, err
	}

	return &StartLoginResult{
		SessionID:       sess.ID,
		PhoneCodeHash:   sent.PhoneCodeHash,
		PhoneCodeLength: sent.PhoneCodeLength,
	}, nil
}

// CompletePhoneLogin redeems the verification code for the session. When the
// account has two-factor authentication enabled and no password was
// supplied, ErrSecondFactorRequired is returned and the caller must repeat
// the request with the password. The session flips active only after the
// upstream credential string has been obtained.
func (s *PhoneLoginService) CompletePhoneLogin(ctx context.Context, sessionID uint, code, codeHash, password string) (*CompleteLoginResult, error) {
	sess, err := s.Repo.GetSession(ctx, s.DB, sessionID)
	if errors.Is(err, repo.ErrNotFound) {
		return nil, ErrSessionNotFound
	}
	if err != nil {
		return nil, err
	}

	client, err := s.Clients(sess.SessionString)
	if err != nil {
		return nil, err
	}
	if err := client.Connect(ctx); err != nil {
		return nil, err
	}
	defer s.disconnect(client)

	telegramID, err := client.SignIn(ctx, sess.Phone, code, codeHash)
	if telegram.IsSecondFactorRequired(err) {
		if password == "" {
			return nil, ErrSecondFactorRequired
		}
		telegramID, err = client.SignInWithPassword(ctx, password)
	}
	if err != nil {
		return nil, err
	}

	now := time.Now().UTC()
	if err := s.Repo.ActivateSession(ctx, s.DB, sess.ID, client.SessionString(), telegramID, now); err != nil {
		return nil, err
	}

	return &CompleteLoginResult{SessionID: sess.ID, TelegramID: telegramID}, nil
}

// GetSession returns the session row backing the authenticated token.
func (s *PhoneLoginService) GetSession(ctx context.Context, id uint) (*domain.Session, error) {
	sess, err := s.Repo.GetSession(ctx, s.DB, id)
	if errors.Is(err, repo.ErrNotFound) {
		return nil, ErrSessionNotFound
	}
	if err != nil {
		return nil, err
	}
	return sess, nil
}

// Logout invalidates the session. The remote sign-out is best effort: a
// failure upstream is logged but never blocks clearing the local credential.
func (s *PhoneLoginService) Logout(ctx context.Context, id uint) error {
	sess, err := s.Repo.GetSession(ctx, s.DB, id)
	if errors.Is(err, repo.ErrNotFound) {
		return ErrSessionNotFound
	}
	if err != nil {
		return err
	}

	if sess.IsActive && sess.SessionString != "" {
		s.remoteSignOut(ctx, sess.SessionString)
	}

	return s.Repo.DeactivateSession(ctx, s.DB, id)
}

// remoteSignOut attempts to terminate the upstream login session.
func (s *PhoneLoginService) remoteSignOut(ctx context.Context, sessionString string) {
	client, err := s.Clients(sessionString)
	if err != nil {
		s.Logger.Warn().Err(err).Msg("remote sign-out skipped")
		return
	}
	if err := client.Connect(ctx); err != nil {
		s.Logger.Warn().Err(err).Msg("remote sign-out connect failed")
		return
	}
	defer s.disconnect(client)
	if err := client.SignOut(ctx); err != nil {
		s.Logger.Warn().Err(err).Msg("remote sign-out failed")
	}
}

// disconnect closes a client with a short independent deadline so teardown
// is not skipped when the request context is already cancelled.
func (s *PhoneLoginService) disconnect(client SessionClient) {
	ctx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer cancel()
	if err := client.Disconnect(ctx); err != nil {
		s.Logger.Warn().Err(err).Msg("client disconnect failed")
	}
}
