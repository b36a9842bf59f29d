// Package repo implements the data persistence layer for domain entities,
// backed by GORM. This file provides repository functions for the Channel
// model, including the natural-key upsert used by channel reconciliation.
package repo

import (
	"context"
	"errors"

	"gorm.io/gorm"
	"gorm.io/gorm/clause"

	"github.com/tbourn/go-telegram-backend/internal/domain"
)

// GetChannel fetches a channel by primary key, scoped to the owning session.
// Returns ErrNotFound when the row is missing or belongs to another session.
func GetChannel(ctx context.Context, db *gorm.DB, id, sessionID uint) (*domain.Channel, error) {
	var ch domain.Channel
	err := db.WithContext(ctx).
		Where("id = ? AND session_id = ?", id, sessionID).
		First(&ch).Error
	if err != nil {
		return nil, err
	}
	return &ch, nil
}

// ListChannels returns all channels mirrored for a session, most recently
// created first.
func ListChannels(ctx context.Context, db *gorm.DB, sessionID uint) ([]domain.Channel, error) {
	var out []domain.Channel
	err := db.WithContext(ctx).
		Where("session_id = ?", sessionID).
		Order("created_at desc").
		Find(&out).Error
	return out, err
}

// UpsertChannel inserts or updates a channel row keyed by the natural key
// (channel_id, session_id). An existing row keeps its primary key; only the
// mutable display name and access hash are overwritten. The ON CONFLICT
// clause rides on the ux_channels_natural unique index, so two concurrent
// syncs racing on the same remote channel cannot create duplicates.
//
// The returned row always carries the local primary key.
func UpsertChannel(ctx context.Context, db *gorm.DB, sessionID uint, channelID, name string, accessHash int64) (*domain.Channel, error) {
	sid := sessionID
	ch := &domain.Channel{
		ChannelID:  channelID,
		Name:       name,
		AccessHash: accessHash,
		SessionID:  &sid,
	}
	err := db.WithContext(ctx).
		Clauses(clause.OnConflict{
			Columns:   []clause.Column{{Name: "channel_id"}, {Name: "session_id"}},
			DoUpdates: clause.AssignmentColumns([]string{"name", "access_hash", "updated_at"}),
		}).
		Create(ch).Error
	if err != nil {
		return nil, err
	}

	// On conflict the insert does not report the existing primary key;
	// reload by natural key so callers always see the stable local id.
	if ch.ID == 0 {
		var existing domain.Channel
		err = db.WithContext(ctx).
			Where("channel_id = ? AND session_id = ?", channelID, sessionID).
			First(&existing).Error
		if err != nil {
			return nil, err
		}
		return &existing, nil
	}
	return ch, nil
}

// IsUniqueViolation reports whether err is a unique-constraint violation.
// SQLite surfaces these as gorm.ErrDuplicatedKey through the translator,
// but raw driver errors are matched by message as a fallback.
func IsUniqueViolation(err error) bool {
	if err == nil {
		return false
	}
	return errors.Is(err, gorm.ErrDuplicatedKey)
}
