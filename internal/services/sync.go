// Package services – SyncService
//
// This file implements the reconciliation engine that mirrors remote
// channels and messages into the local store. Every sync opens its own wire
// connection with the session's stored credential, fetches the remote view,
// and upserts it by natural key so re-runs against unchanged remote state
// change nothing.
package services

import (
	"context"
	"errors"
	"strconv"
	"time"

	"github.com/rs/zerolog"
	"gorm.io/gorm"

	"github.com/tbourn/go-telegram-backend/internal/domain"
	"github.com/tbourn/go-telegram-backend/internal/repo"
)

// DefaultMessageLimit is the history page size when the caller supplies none.
const DefaultMessageLimit = 50

// ChannelRepo defines the repository contract for mirrored channels.
type ChannelRepo interface {
	// GetChannel fetches a channel by id scoped to the session.
	GetChannel(ctx context.Context, db *gorm.DB, id, sessionID uint) (*domain.Channel, error)

	// ListChannels returns all channels mirrored for the session.
	ListChannels(ctx context.Context, db *gorm.DB, sessionID uint) ([]domain.Channel, error)

	// UpsertChannel inserts or refreshes a channel by its natural key.
	UpsertChannel(ctx context.Context, db *gorm.DB, sessionID uint, channelID, name string, accessHash int64) (*domain.Channel, error)
}

// MessageRepo defines the repository contract for mirrored messages.
type MessageRepo interface {
	// UpsertMessage inserts or refreshes a message by its natural key.
	UpsertMessage(ctx context.Context, db *gorm.DB, sessionID, channelID uint, messageID, content string, ts time.Time) (*domain.Message, error)

	// CountMessages returns the total rows mirrored for a channel.
	CountMessages(ctx context.Context, db *gorm.DB, channelID uint) (int64, error)
}

// MessagePage is one page of mirrored messages plus its cursor echo. Total
// counts every row mirrored for the channel so far, not just this page.
type MessagePage struct {
	Messages []domain.Message `json:"messages"`
	Total    int64            `json:"total"`
	Limit    int              `json:"limit"`
	OffsetID int              `json:"offsetId"`
	HasMore  bool             `json:"hasMore"`
}

// SyncService reconciles the remote channel and message state for one
// session into the local store.
type SyncService struct {
	// DB is the GORM handle used for persistence.
	DB *gorm.DB
	// Sessions resolves the credential for the requesting session.
	Sessions SessionRepo
	// Channels is the mirrored channel repository.
	Channels ChannelRepo
	// Messages is the mirrored message repository.
	Messages MessageRepo
	// Clients builds per-operation wire connections.
	Clients ClientFactory
	// Logger reports per-row upsert failures that do not abort the sync.
	Logger zerolog.Logger
}

// NewSyncService constructs a SyncService.
func NewSyncService(db *gorm.DB, sessions SessionRepo, channels ChannelRepo, messages MessageRepo, clients ClientFactory, logger zerolog.Logger) *SyncService {
	return &SyncService{
		DB:       db,
		Sessions: sessions,
		Channels: channels,
		Messages: messages,
		Clients:  clients,
		Logger:   logger.With().Str("component", "sync").Logger(),
	}
}

// activeSession loads the session and checks it carries a usable credential.
func (s *SyncService) activeSession(ctx context.Context, sessionID uint) (*domain.Session, error) {
	sess, err := s.Sessions.GetSession(ctx, s.DB, sessionID)
	if errors.Is(err, repo.ErrNotFound) {
		return nil, ErrSessionNotFound
	}
	if err != nil {
		return nil, err
	}
	if !sess.IsActive || sess.SessionString == "" {
		return nil, ErrNotAuthenticated
	}
	return sess, nil
}

// connect opens a credentialed client for the session.
func (s *SyncService) connect(ctx context.Context, sess *domain.Session) (SessionClient, error) {
	client, err := s.Clients(sess.SessionString)
	if err != nil {
		return nil, err
	}
	if err := client.Connect(ctx); err != nil {
		return nil, err
	}
	return client, nil
}

// disconnect closes a client with a short independent deadline.
func (s *SyncService) disconnect(client SessionClient) {
	ctx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer cancel()
	if err := client.Disconnect(ctx); err != nil {
		s.Logger.Warn().Err(err).Msg("client disconnect failed")
	}
}

// SyncChannels mirrors the session's remote channel list into the store and
// returns the full accumulated set. Broadcast channels and megagroups are
// kept; plain groups and direct chats are not. Each remote channel is
// upserted by (channel_id, session_id) with its name and access hash
// refreshed, so a renamed channel updates in place instead of duplicating.
func (s *SyncService) SyncChannels(ctx context.Context, sessionID uint) ([]domain.Channel, error) {
	sess, err := s.activeSession(ctx, sessionID)
	if err != nil {
		return nil, err
	}

	client, err := s.connect(ctx, sess)
	if err != nil {
		return nil, err
	}
	defer s.disconnect(client)

	dialogs, err := client.ChannelDialogs(ctx)
	if err != nil {
		return nil, err
	}

	for _, d := range dialogs {
		remoteID := strconv.FormatInt(d.ID, 10)
		if _, err := s.Channels.UpsertChannel(ctx, s.DB, sess.ID, remoteID, d.Title, d.AccessHash); err != nil {
			return nil, err
		}
	}

	return s.Channels.ListChannels(ctx, s.DB, sess.ID)
}

// SyncMessages mirrors one page of a channel's history into the store and
// returns the rows persisted by this call, in remote order (newest first
// within the page). offsetID is the remote pagination cursor; zero starts
// from the most recent message, a non-zero cursor pages into older history
// and the older rows come back, not the newest ones already mirrored.
// Empty message bodies are skipped. hasMore is inferred from a full remote
// page, so the final page of an exactly-divisible history reports
// hasMore=true and the next fetch returns an empty page.
func (s *SyncService) SyncMessages(ctx context.Context, sessionID, channelID uint, limit, offsetID int) (*MessagePage, error) {
	if limit <= 0 {
		limit = DefaultMessageLimit
	}

	sess, err := s.activeSession(ctx, sessionID)
	if err != nil {
		return nil, err
	}

	ch, err := s.Channels.GetChannel(ctx, s.DB, channelID, sess.ID)
	if errors.Is(err, repo.ErrNotFound) {
		return nil, ErrChannelNotFound
	}
	if err != nil {
		return nil, err
	}

	remoteID, err := strconv.ParseInt(ch.ChannelID, 10, 64)
	if err != nil {
		return nil, ErrChannelNotFound
	}

	client, err := s.connect(ctx, sess)
	if err != nil {
		return nil, err
	}
	defer s.disconnect(client)

	history, err := client.ChannelHistory(ctx, remoteID, ch.AccessHash, limit, offsetID)
	if err != nil {
		return nil, err
	}

	saved := make([]domain.Message, 0, len(history))
	for _, m := range history {
		if m.Text == "" {
			continue
		}
		row, err := s.Messages.UpsertMessage(ctx, s.DB, sess.ID, ch.ID, strconv.Itoa(m.ID), m.Text, m.Date)
		if err != nil {
			return nil, err
		}
		saved = append(saved, *row)
	}

	total, err := s.Messages.CountMessages(ctx, s.DB, ch.ID)
	if err != nil {
		return nil, err
	}

	return &MessagePage{
		Messages: saved,
		Total:    total,
		Limit:    limit,
		OffsetID: offsetID,
		HasMore:  len(history) == limit,
	}, nil
}
