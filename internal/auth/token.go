// Package auth issues and verifies the bearer tokens that protect the API.
// Two token shapes exist: session tokens minted after a successful Telegram
// login, and user tokens minted after a local password login. Both are HS256
// JWTs signed with the process secret.
package auth

import (
	"errors"
	"fmt"
	"time"

	"github.com/golang-jwt/jwt/v5"
)

// ErrInvalidToken is returned for tokens that fail signature, expiry or
// shape checks. The concrete parse failure is never surfaced to callers.
var ErrInvalidToken = errors.New("invalid or expired token")

// SessionClaims identifies an authenticated Telegram login session.
type SessionClaims struct {
	SessionID  uint
	TelegramID string
}

// UserClaims identifies a locally authenticated user account.
type UserClaims struct {
	UserID uint
	Email  string
	Msisdn string
}

// TokenManager signs and verifies the API's bearer tokens.
type TokenManager struct {
	secret []byte
	ttl    time.Duration
}

// NewTokenManager builds a manager from the signing secret and token
// lifetime.
func NewTokenManager(secret string, ttl time.Duration) (*TokenManager, error) {
	if secret == "" {
		return nil, fmt.Errorf("jwt secret is required")
	}
	if ttl <= 0 {
		ttl = 24 * time.Hour
	}
	return &TokenManager{secret: []byte(secret), ttl: ttl}, nil
}

// IssueSessionToken mints a token carrying the session identity.
func (m *TokenManager) IssueSessionToken(c SessionClaims) (string, error) {
	now := time.Now()
	return m.sign(jwt.MapClaims{
		"sessionId":  float64(c.SessionID),
		"telegramId": c.TelegramID,
		"iat":        now.Unix(),
		"exp":        now.Add(m.ttl).Unix(),
	})
}

// IssueUserToken mints a token carrying the local user identity.
func (m *TokenManager) IssueUserToken(c UserClaims) (string, error) {
	now := time.Now()
	return m.sign(jwt.MapClaims{
		"userId": float64(c.UserID),
		"email":  c.Email,
		"msisdn": c.Msisdn,
		"iat":    now.Unix(),
		"exp":    now.Add(m.ttl).Unix(),
	})
}

func (m *TokenManager) sign(claims jwt.MapClaims) (string, error) {
	token := jwt.NewWithClaims(jwt.SigningMethodHS256, claims)
	signed, err := token.SignedString(m.secret)
	if err != nil {
		return "", fmt.Errorf("sign token: %w", err)
	}
	return signed, nil
}

// VerifySessionToken validates the signature and expiry of a session token
// and extracts its claims. Tokens of the wrong shape (user tokens included)
// return ErrInvalidToken.
func (m *TokenManager) VerifySessionToken(raw string) (*SessionClaims, error) {
	claims, err := m.parse(raw)
	if err != nil {
		return nil, err
	}
	sid, ok := claims["sessionId"].(float64)
	if !ok || sid <= 0 {
		return nil, ErrInvalidToken
	}
	tid, ok := claims["telegramId"].(string)
	if !ok || tid == "" {
		return nil, ErrInvalidToken
	}
	return &SessionClaims{SessionID: uint(sid), TelegramID: tid}, nil
}

// VerifyUserToken validates a user token and extracts its claims.
func (m *TokenManager) VerifyUserToken(raw string) (*UserClaims, error) {
	claims, err := m.parse(raw)
	if err != nil {
		return nil, err
	}
	uid, ok := claims["userId"].(float64)
	if !ok || uid <= 0 {
		return nil, ErrInvalidToken
	}
	email, _ := claims["email"].(string)
	msisdn, _ := claims["msisdn"].(string)
	return &UserClaims{UserID: uint(uid), Email: email, Msisdn: msisdn}, nil
}

func (m *TokenManager) parse(raw string) (jwt.MapClaims, error) {
	token, err := jwt.Parse(raw, func(t *jwt.Token) (interface{}, error) {
		if _, ok := t.Method.(*jwt.SigningMethodHMAC); !ok {
			return nil, fmt.Errorf("unexpected signing method %v", t.Header["alg"])
		}
		return m.secret, nil
	})
	if err != nil || !token.Valid {
		return nil, ErrInvalidToken
	}
	claims, ok := token.Claims.(jwt.MapClaims)
	if !ok {
		return nil, ErrInvalidToken
	}
	return claims, nil
}
