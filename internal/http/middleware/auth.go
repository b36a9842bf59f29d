// Package middleware – bearer token authentication.
//
// This file guards the protected API surface. Requests present a JWT in the
// Authorization header; the middleware verifies it and stores the resolved
// identity in the Gin context for handlers to read.
//
// Two token shapes are accepted:
//   - session tokens (phone login): carry a session id and Telegram account
//     id. The session row must still be active; a logged-out session's
//     tokens stop working immediately even if not yet expired.
//   - user tokens (local/QR login): carry a local user id.
//
// On any failure the request is aborted with 401 and a constant message so
// callers cannot distinguish unknown, expired, and revoked tokens.
package middleware

import (
	"context"
	"net/http"
	"strings"

	"github.com/gin-gonic/gin"

	"github.com/tbourn/go-telegram-backend/internal/auth"
)

const (
	// sessionIDKey is the Gin context key for the authenticated session id.
	sessionIDKey = "sessionID"
	// telegramIDKey is the Gin context key for the Telegram account id.
	telegramIDKey = "telegramID"
	// userIDKey is the Gin context key for the authenticated local user id.
	userIDKey = "userID"
)

// TokenVerifier validates bearer tokens of either shape.
type TokenVerifier interface {
	VerifySessionToken(raw string) (*auth.SessionClaims, error)
	VerifyUserToken(raw string) (*auth.UserClaims, error)
}

// SessionChecker reports whether the session row is still active. Session
// tokens for deactivated sessions are rejected.
type SessionChecker func(ctx context.Context, sessionID uint) (bool, error)

// authEnvelope mirrors the handlers' error envelope without importing the
// handlers package (which would create an import cycle).
type authEnvelope struct {
	Status  string `json:"status"`
	Code    string `json:"code"`
	Message string `json:"message"`
}

// unauthorized aborts the request with the constant 401 envelope.
func unauthorized(c *gin.Context) {
	c.AbortWithStatusJSON(http.StatusUnauthorized, authEnvelope{
		Status:  "error",
		Code:    "unauthorized",
		Message: "Invalid or expired token",
	})
}

// Auth returns middleware that authenticates the request from its bearer
// token. Session tokens additionally require the session row to be active,
// checked through checkSession.
func Auth(tokens TokenVerifier, checkSession SessionChecker) gin.HandlerFunc {
	return func(c *gin.Context) {
		raw := bearerToken(c)
		if raw == "" {
			unauthorized(c)
			return
		}

		if claims, err := tokens.VerifySessionToken(raw); err == nil {
			active, err := checkSession(c.Request.Context(), claims.SessionID)
			if err != nil || !active {
				unauthorized(c)
				return
			}
			c.Set(sessionIDKey, claims.SessionID)
			c.Set(telegramIDKey, claims.TelegramID)
			c.Next()
			return
		}

		claims, err := tokens.VerifyUserToken(raw)
		if err != nil {
			unauthorized(c)
			return
		}
		c.Set(userIDKey, claims.UserID)
		c.Next()
	}
}

// bearerToken extracts the token from the Authorization header.
func bearerToken(c *gin.Context) string {
	h := c.GetHeader("Authorization")
	if h == "" {
		return ""
	}
	parts := strings.SplitN(h, " ", 2)
	if len(parts) != 2 || !strings.EqualFold(parts[0], "Bearer") {
		return ""
	}
	return strings.TrimSpace(parts[1])
}

// SessionIDFrom returns the authenticated session id, if the request was
// authenticated with a session token.
func SessionIDFrom(c *gin.Context) (uint, bool) {
	v, ok := c.Get(sessionIDKey)
	if !ok {
		return 0, false
	}
	id, ok := v.(uint)
	return id, ok
}

// TelegramIDFrom returns the Telegram account id bound to the session token.
func TelegramIDFrom(c *gin.Context) (string, bool) {
	v, ok := c.Get(telegramIDKey)
	if !ok {
		return "", false
	}
	s, ok := v.(string)
	return s, ok
}

// UserIDFrom returns the authenticated local user id, if the request was
// authenticated with a user token.
func UserIDFrom(c *gin.Context) (uint, bool) {
	v, ok := c.Get(userIDKey)
	if !ok {
		return 0, false
	}
	id, ok := v.(uint)
	return id, ok
}
