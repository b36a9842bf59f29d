// Package telegram wraps the gotd/td MTProto client behind a small,
// connection-scoped adapter and hosts the deep-link bot used by the QR
// login flow. It is the only package that speaks the wire library; callers
// see plain Go types and classified errors.
package telegram

import (
	"context"
	"encoding/base64"
	"fmt"
	"sync"

	"github.com/gotd/td/session"
)

// memorySession implements session.Storage over an in-process byte slice.
// The relay persists credentials as a single opaque string on the Session
// row, so every connection starts from (and ends with) a string-encoded
// blob instead of a file or database-backed store.
type memorySession struct {
	mu   sync.Mutex
	data []byte
}

// LoadSession returns the stored session blob, or session.ErrNotFound when
// the connection has never authenticated.
func (s *memorySession) LoadSession(_ context.Context) ([]byte, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if len(s.data) == 0 {
		return nil, session.ErrNotFound
	}
	out := make([]byte, len(s.data))
	copy(out, s.data)
	return out, nil
}

// StoreSession replaces the stored session blob. gotd calls this whenever
// the credential state changes (login, key rotation).
func (s *memorySession) StoreSession(_ context.Context, data []byte) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.data = make([]byte, len(data))
	copy(s.data, data)
	return nil
}

// encode returns the blob as the opaque string persisted on Session rows.
func (s *memorySession) encode() string {
	s.mu.Lock()
	defer s.mu.Unlock()
	if len(s.data) == 0 {
		return ""
	}
	return base64.StdEncoding.EncodeToString(s.data)
}

// decodeSession seeds a memorySession from a previously encoded string.
// An empty string yields an empty (unauthenticated) store.
func decodeSession(encoded string) (*memorySession, error) {
	s := &memorySession{}
	if encoded == "" {
		return s, nil
	}
	data, err := base64.StdEncoding.DecodeString(encoded)
	if err != nil {
		return nil, fmt.Errorf("malformed session string: %w", err)
	}
	s.data = data
	return s, nil
}
