// Auth HTTP handlers.
//
// This file exposes REST endpoints for the login flows:
//   - POST /api/auth/login-phone      (send verification code)
//   - POST /api/auth/verify-phone     (redeem code, optional 2FA password)
//   - GET  /api/auth/session          (current session summary)
//   - POST /api/auth/logout           (invalidate session)
//   - POST /api/auth/login            (local email/msisdn + password)
//   - POST /api/auth/login-qr         (issue QR login token + deep link)
//   - GET  /api/auth/login-qr/status  (poll QR login token)
//
// Handlers are transport-thin: they validate input, call application services,
// and translate results into HTTP responses.
package handlers

import (
	"context"
	"errors"
	"net/http"

	"github.com/gin-gonic/gin"

	"github.com/tbourn/go-telegram-backend/internal/auth"
	"github.com/tbourn/go-telegram-backend/internal/domain"
	"github.com/tbourn/go-telegram-backend/internal/http/middleware"
	"github.com/tbourn/go-telegram-backend/internal/services"
)

//
// Service contracts (context-aware)
//

// PhoneLoginService defines the phone login operations consumed by HTTP
// handlers.
//
// Implementations should be safe for concurrent use and must honor the
// provided context for cancellation and timeouts.
type PhoneLoginService interface {
	// StartPhoneLogin requests a verification code for the phone.
	StartPhoneLogin(ctx context.Context, phone string) (*services.StartLoginResult, error)
	// CompletePhoneLogin redeems the verification code for the session.
	CompletePhoneLogin(ctx context.Context, sessionID uint, code, codeHash, password string) (*services.CompleteLoginResult, error)
	// GetSession returns the session row backing the authenticated token.
	GetSession(ctx context.Context, id uint) (*domain.Session, error)
	// Logout invalidates the session locally and best-effort remotely.
	Logout(ctx context.Context, id uint) error
}

// AuthService defines local account and QR login operations.
type AuthService interface {
	// Login authenticates by email or msisdn plus password.
	Login(ctx context.Context, identifier, password string) (*services.LoginResult, error)
	// LoginWithQR issues a login token with its deep link and QR image.
	LoginWithQR(ctx context.Context, userID *uint) (*services.QRLoginStart, error)
	// CheckQRLogin reports the state of a previously issued login token.
	CheckQRLogin(ctx context.Context, token string) (*services.LoginStatusResult, error)
}

// SessionTokenIssuer mints API tokens for completed phone logins.
type SessionTokenIssuer interface {
	IssueSessionToken(c auth.SessionClaims) (string, error)
}

//
// Request/response shapes
//

type startPhoneLoginRequest struct {
	Phone string `json:"phone" binding:"required"`
}

type verifyPhoneRequest struct {
	SessionID     uint   `json:"sessionId" binding:"required"`
	PhoneCode     string `json:"phoneCode" binding:"required"`
	PhoneCodeHash string `json:"phoneCodeHash" binding:"required"`
	Password      string `json:"password"`
}

type verifyPhoneResponse struct {
	Token      string `json:"token"`
	SessionID  uint   `json:"sessionId"`
	TelegramID string `json:"telegramId"`
}

type localLoginRequest struct {
	Email    string `json:"email"`
	Msisdn   string `json:"msisdn"`
	Password string `json:"password" binding:"required"`
}

//
// Handler wiring
//

// AuthHandlers groups the HTTP endpoints for all login flows.
type AuthHandlers struct {
	phoneSvc PhoneLoginService
	authSvc  AuthService
	tokens   SessionTokenIssuer
}

// NewAuthHandlers constructs AuthHandlers bound to the given services.
func NewAuthHandlers(phoneSvc PhoneLoginService, authSvc AuthService, tokens SessionTokenIssuer) *AuthHandlers {
	return &AuthHandlers{phoneSvc: phoneSvc, authSvc: authSvc, tokens: tokens}
}

// StartPhoneLogin handles POST /api/auth/login-phone.
func (h *AuthHandlers) StartPhoneLogin(c *gin.Context) {
	var req startPhoneLoginRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		failWith(c, http.StatusBadRequest, ErrCodeBadRequest, "validation failed",
			[]FieldError{{Field: "phone", Message: "phone is required"}})
		return
	}

	res, err := h.phoneSvc.StartPhoneLogin(c.Request.Context(), req.Phone)
	switch {
	case errors.Is(err, services.ErrInvalidPhone):
		failWith(c, http.StatusBadRequest, ErrCodeBadRequest, "validation failed",
			[]FieldError{{Field: "phone", Message: "must match +[10-15 digits]"}})
	case err != nil:
		// Upstream failures are passed through verbatim so the caller sees
		// the real reason (flood wait, invalid number, transport down).
		fail(c, http.StatusInternalServerError, ErrCodeExternalService, err.Error())
	default:
		ok(c, http.StatusOK, res)
	}
}

// VerifyPhone handles POST /api/auth/verify-phone.
func (h *AuthHandlers) VerifyPhone(c *gin.Context) {
	var req verifyPhoneRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		fail(c, http.StatusBadRequest, ErrCodeBadRequest, "sessionId, phoneCode and phoneCodeHash are required")
		return
	}

	res, err := h.phoneSvc.CompletePhoneLogin(c.Request.Context(), req.SessionID, req.PhoneCode, req.PhoneCodeHash, req.Password)
	switch {
	case errors.Is(err, services.ErrSessionNotFound):
		fail(c, http.StatusNotFound, ErrCodeNotFound, "session not found")
		return
	case errors.Is(err, services.ErrSecondFactorRequired):
		fail(c, http.StatusUnauthorized, ErrCodeTwoFactorRequired, "two-factor password required")
		return
	case err != nil:
		fail(c, http.StatusInternalServerError, ErrCodeExternalService, err.Error())
		return
	}

	token, err := h.tokens.IssueSessionToken(auth.SessionClaims{
		SessionID:  res.SessionID,
		TelegramID: res.TelegramID,
	})
	if err != nil {
		fail(c, http.StatusInternalServerError, ErrCodeInternal, "failed to issue token")
		return
	}

	ok(c, http.StatusOK, verifyPhoneResponse{
		Token:      token,
		SessionID:  res.SessionID,
		TelegramID: res.TelegramID,
	})
}

// GetSession handles GET /api/auth/session. Requires a session token.
func (h *AuthHandlers) GetSession(c *gin.Context) {
	sid, okAuth := middleware.SessionIDFrom(c)
	if !okAuth {
		fail(c, http.StatusUnauthorized, ErrCodeUnauthorized, "Invalid or expired token")
		return
	}

	sess, err := h.phoneSvc.GetSession(c.Request.Context(), sid)
	switch {
	case errors.Is(err, services.ErrSessionNotFound):
		fail(c, http.StatusNotFound, ErrCodeNotFound, "session not found")
	case err != nil:
		fail(c, http.StatusInternalServerError, ErrCodeInternal, "failed to load session")
	default:
		ok(c, http.StatusOK, sess)
	}
}

// Logout handles POST /api/auth/logout. Requires a session token.
func (h *AuthHandlers) Logout(c *gin.Context) {
	sid, okAuth := middleware.SessionIDFrom(c)
	if !okAuth {
		fail(c, http.StatusUnauthorized, ErrCodeUnauthorized, "Invalid or expired token")
		return
	}

	err := h.phoneSvc.Logout(c.Request.Context(), sid)
	switch {
	case errors.Is(err, services.ErrSessionNotFound):
		fail(c, http.StatusNotFound, ErrCodeNotFound, "session not found")
	case err != nil:
		fail(c, http.StatusInternalServerError, ErrCodeInternal, "failed to log out")
	default:
		ok(c, http.StatusOK, gin.H{"message": "logged out"})
	}
}

// Login handles POST /api/auth/login (local password login).
func (h *AuthHandlers) Login(c *gin.Context) {
	var req localLoginRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		fail(c, http.StatusBadRequest, ErrCodeBadRequest, "password is required")
		return
	}
	identifier := req.Email
	if identifier == "" {
		identifier = req.Msisdn
	}
	if identifier == "" {
		failWith(c, http.StatusBadRequest, ErrCodeBadRequest, "validation failed",
			[]FieldError{{Field: "email", Message: "email or msisdn is required"}})
		return
	}

	res, err := h.authSvc.Login(c.Request.Context(), identifier, req.Password)
	switch {
	case errors.Is(err, services.ErrInvalidCredentials):
		fail(c, http.StatusUnauthorized, ErrCodeUnauthorized, "invalid credentials")
	case err != nil:
		fail(c, http.StatusInternalServerError, ErrCodeInternal, "login failed")
	default:
		ok(c, http.StatusOK, res)
	}
}

// LoginWithQR handles POST /api/auth/login-qr.
func (h *AuthHandlers) LoginWithQR(c *gin.Context) {
	res, err := h.authSvc.LoginWithQR(c.Request.Context(), nil)
	switch {
	case errors.Is(err, services.ErrBotNotReady):
		fail(c, http.StatusServiceUnavailable, ErrCodeBotUnavailable, "login bot is not ready")
	case err != nil:
		fail(c, http.StatusInternalServerError, ErrCodeInternal, "failed to start QR login")
	default:
		ok(c, http.StatusOK, res)
	}
}

// CheckQRLogin handles GET /api/auth/login-qr/status?token=...
func (h *AuthHandlers) CheckQRLogin(c *gin.Context) {
	token := c.Query("token")
	if token == "" {
		failWith(c, http.StatusBadRequest, ErrCodeBadRequest, "validation failed",
			[]FieldError{{Field: "token", Message: "token is required"}})
		return
	}

	res, err := h.authSvc.CheckQRLogin(c.Request.Context(), token)
	switch {
	case errors.Is(err, services.ErrLoginTokenNotFound):
		fail(c, http.StatusNotFound, ErrCodeNotFound, "login token not found")
	case errors.Is(err, services.ErrLoginTokenExpired):
		fail(c, http.StatusGone, ErrCodeLoginExpired, "login token expired")
	case err != nil:
		fail(c, http.StatusInternalServerError, ErrCodeInternal, "failed to check login status")
	default:
		ok(c, http.StatusOK, res)
	}
}
