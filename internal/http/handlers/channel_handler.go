// Channel and message HTTP handlers.
//
// This file exposes the mirrored-data endpoints:
//   - GET /api/channels                (sync + list channels)
//   - GET /api/messages/{channelId}    (sync + list one page of messages)
//
// Both endpoints require a session token; each request triggers a
// reconciliation run against the remote side before the local rows are
// returned.
package handlers

import (
	"context"
	"errors"
	"net/http"
	"strconv"

	"github.com/gin-gonic/gin"

	"github.com/tbourn/go-telegram-backend/internal/domain"
	"github.com/tbourn/go-telegram-backend/internal/http/middleware"
	"github.com/tbourn/go-telegram-backend/internal/services"
)

// SyncService defines the reconciliation operations consumed by HTTP
// handlers.
//
// Implementations should be safe for concurrent use and must honor the
// provided context for cancellation and timeouts.
type SyncService interface {
	// SyncChannels mirrors the session's remote channels and returns the set.
	SyncChannels(ctx context.Context, sessionID uint) ([]domain.Channel, error)
	// SyncMessages mirrors one page of a channel's history and returns it.
	SyncMessages(ctx context.Context, sessionID, channelID uint, limit, offsetID int) (*services.MessagePage, error)
}

// SyncHandlers groups the mirrored-data endpoints.
type SyncHandlers struct {
	syncSvc SyncService
}

// NewSyncHandlers constructs SyncHandlers bound to the given service.
func NewSyncHandlers(syncSvc SyncService) *SyncHandlers {
	return &SyncHandlers{syncSvc: syncSvc}
}

// atoiDefault parses s as a non-negative integer, returning def on empty or
// malformed input.
func atoiDefault(s string, def int) int {
	if s == "" {
		return def
	}
	n, err := strconv.Atoi(s)
	if err != nil || n < 0 {
		return def
	}
	return n
}

// GetChannels handles GET /api/channels.
func (h *SyncHandlers) GetChannels(c *gin.Context) {
	sid, okAuth := middleware.SessionIDFrom(c)
	if !okAuth {
		fail(c, http.StatusUnauthorized, ErrCodeUnauthorized, "Invalid or expired token")
		return
	}

	channels, err := h.syncSvc.SyncChannels(c.Request.Context(), sid)
	switch {
	case errors.Is(err, services.ErrSessionNotFound), errors.Is(err, services.ErrNotAuthenticated):
		fail(c, http.StatusBadRequest, ErrCodeBadRequest, "session is not authenticated")
	case err != nil:
		// Upstream failures are passed through verbatim.
		fail(c, http.StatusInternalServerError, ErrCodeExternalService, err.Error())
	default:
		ok(c, http.StatusOK, gin.H{"channels": channels})
	}
}

// GetMessages handles GET /api/messages/{channelId}?limit=&offsetId=.
func (h *SyncHandlers) GetMessages(c *gin.Context) {
	sid, okAuth := middleware.SessionIDFrom(c)
	if !okAuth {
		fail(c, http.StatusUnauthorized, ErrCodeUnauthorized, "Invalid or expired token")
		return
	}

	channelID, err := strconv.ParseUint(c.Param("channelId"), 10, 32)
	if err != nil || channelID == 0 {
		failWith(c, http.StatusBadRequest, ErrCodeBadRequest, "validation failed",
			[]FieldError{{Field: "channelId", Message: "must be a positive integer"}})
		return
	}

	limit := atoiDefault(c.Query("limit"), services.DefaultMessageLimit)
	offsetID := atoiDefault(c.Query("offsetId"), 0)

	page, err := h.syncSvc.SyncMessages(c.Request.Context(), sid, uint(channelID), limit, offsetID)
	switch {
	case errors.Is(err, services.ErrSessionNotFound), errors.Is(err, services.ErrNotAuthenticated):
		fail(c, http.StatusBadRequest, ErrCodeBadRequest, "session is not authenticated")
	case errors.Is(err, services.ErrChannelNotFound):
		fail(c, http.StatusNotFound, ErrCodeNotFound, "channel not found")
	case err != nil:
		fail(c, http.StatusInternalServerError, ErrCodeExternalService, err.Error())
	default:
		ok(c, http.StatusOK, page)
	}
}
