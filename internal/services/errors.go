// Package services defines the business logic for phone login, QR login,
// local authentication, and channel/message synchronization. This file
// centralizes common service-level error values so that they can be
// consistently returned by service methods and checked by callers.
//
// These errors are intended for internal use by the service layer and
// translation into user-facing messages or HTTP status codes should be
// performed at the handler/controller layer.
package services

import "errors"

// Login-related errors.
var (
	// ErrInvalidPhone is returned when a phone number fails the E.164
	// shape check before any upstream call is made.
	ErrInvalidPhone = errors.New("invalid phone number format")

	// ErrSessionNotFound indicates that the referenced login session does
	// not exist.
	ErrSessionNotFound = errors.New("session not found")

	// ErrNotAuthenticated indicates the session exists but has not
	// completed verification, so it carries no usable credential.
	ErrNotAuthenticated = errors.New("session is not authenticated")

	// ErrSecondFactorRequired is returned when verification succeeds but
	// the account demands its two-factor password to finish sign-in.
	ErrSecondFactorRequired = errors.New("two-factor password required")
)

// QR login errors.
var (
	// ErrLoginTokenNotFound indicates the login token was never issued or
	// has already been purged.
	ErrLoginTokenNotFound = errors.New("login token not found")

	// ErrLoginTokenExpired indicates the login token outlived its window
	// before being confirmed.
	ErrLoginTokenExpired = errors.New("login token expired")

	// ErrBotNotReady is returned when a deep link is requested before the
	// bot has resolved its own username.
	ErrBotNotReady = errors.New("login bot is not ready")
)

// Local authentication errors.
var (
	// ErrInvalidCredentials is returned for unknown identifiers and wrong
	// passwords alike; the two cases are deliberately indistinguishable.
	ErrInvalidCredentials = errors.New("invalid credentials")
)

// Sync-related errors.
var (
	// ErrChannelNotFound indicates that the requested channel does not
	// exist or is not visible to the current session.
	ErrChannelNotFound = errors.New("channel not found")
)
