package telegram

import (
	"errors"

	"github.com/gotd/td/telegram/auth"
	"github.com/gotd/td/tgerr"
)

// Classified adapter errors. Upstream errors that carry recoverable
// meaning are mapped to these sentinels at this boundary so business logic
// never inspects wire error strings; everything else is surfaced unmodified
// for the caller to classify.
var (
	// ErrSecondFactorRequired indicates the account has two-factor
	// authentication enabled and sign-in must be retried with the
	// account password.
	ErrSecondFactorRequired = errors.New("second factor password required")

	// ErrNotConnected is returned when an operation is attempted outside
	// a Connect/Disconnect pair.
	ErrNotConnected = errors.New("not connected to telegram")
)

// IsSecondFactorRequired reports whether err means the phone-code sign-in
// was accepted but the account demands its 2FA password.
func IsSecondFactorRequired(err error) bool {
	return errors.Is(err, ErrSecondFactorRequired)
}

// classifyAuthErr maps gotd sign-in failures onto the adapter's sentinels.
// The SESSION_PASSWORD_NEEDED RPC error and gotd's own sentinel both mean
// the same thing: retry with the password path.
func classifyAuthErr(err error) error {
	if err == nil {
		return nil
	}
	if errors.Is(err, auth.ErrPasswordAuthNeeded) || tgerr.Is(err, "SESSION_PASSWORD_NEEDED") {
		return ErrSecondFactorRequired
	}
	return err
}
