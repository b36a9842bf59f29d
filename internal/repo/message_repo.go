// Package repo implements the data persistence layer for domain entities,
// backed by GORM. This file provides repository functions for the Message
// model, including the natural-key upsert used by message reconciliation.
package repo

import (
	"context"
	"time"

	"gorm.io/gorm"
	"gorm.io/gorm/clause"

	"github.com/tbourn/go-telegram-backend/internal/domain"
)

// GetMessageByNaturalKey fetches a message by its (message_id, channel_id)
// natural key. Returns ErrNotFound when no local row mirrors the remote
// message yet.
func GetMessageByNaturalKey(ctx context.Context, db *gorm.DB, messageID string, channelID uint) (*domain.Message, error) {
	var m domain.Message
	err := db.WithContext(ctx).
		Where("message_id = ? AND channel_id = ?", messageID, channelID).
		First(&m).Error
	if err != nil {
		return nil, err
	}
	return &m, nil
}

// CountMessages returns the total number of messages mirrored for a channel.
func CountMessages(ctx context.Context, db *gorm.DB, channelID uint) (int64, error) {
	var total int64
	err := db.WithContext(ctx).
		Model(&domain.Message{}).
		Where("channel_id = ?", channelID).
		Count(&total).Error
	return total, err
}

// UpsertMessage inserts or updates a message row keyed by the natural key
// (message_id, channel_id). Row identity is preserved across syncs: a
// conflicting insert overwrites content and timestamp in place instead of
// creating a duplicate. The ON CONFLICT clause rides on the
// ux_messages_natural unique index.
func UpsertMessage(ctx context.Context, db *gorm.DB, sessionID, channelID uint, messageID, content string, ts time.Time) (*domain.Message, error) {
	m := &domain.Message{
		MessageID: messageID,
		Content:   content,
		ChannelID: channelID,
		SessionID: sessionID,
		Timestamp: ts,
	}
	err := db.WithContext(ctx).
		Clauses(clause.OnConflict{
			Columns:   []clause.Column{{Name: "message_id"}, {Name: "channel_id"}},
			DoUpdates: clause.AssignmentColumns([]string{"content", "timestamp", "updated_at"}),
		}).
		Create(m).Error
	if err != nil {
		return nil, err
	}

	if m.ID == 0 {
		return GetMessageByNaturalKey(ctx, db, messageID, channelID)
	}
	return m, nil
}
