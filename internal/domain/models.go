// Package domain defines the persistence models for sessions, users,
// channels, and messages. These types are mapped with GORM and form the
// core data layer of the Telegram relay backend.
package domain

import (
	"time"
)

// Session represents one phone number's connection to Telegram. A row is
// created, inactive, when a phone login starts; it becomes active once the
// verification handshake completes and the serialized MTProto credential
// is stored.
//
// Fields:
//   - ID: auto-increment primary key; echoed back to the client as the
//     correlation key between the send-code and verify steps.
//   - Phone: E.164 phone number; at most one session row per phone.
//   - SessionString: opaque serialized credential blob, empty until the
//     login handshake completes.
//   - TelegramID: external account identifier, set on successful login.
//   - IsActive: true only while SessionString and TelegramID are set.
//   - LastLogin: time of the last successful login, nil before the first.
//   - CreatedAt / UpdatedAt: timestamps managed by GORM.
type Session struct {
	ID            uint       `json:"id"            gorm:"primaryKey"`
	Phone         string     `json:"phone"         gorm:"type:varchar(20);not null;uniqueIndex:ux_sessions_phone"`
	SessionString string     `json:"-"             gorm:"type:text"`
	TelegramID    string     `json:"telegramId"    gorm:"type:varchar(32)"`
	IsActive      bool       `json:"isActive"      gorm:"not null;default:false"`
	LastLogin     *time.Time `json:"lastLogin,omitempty"`
	CreatedAt     time.Time  `json:"createdAt"`
	UpdatedAt     time.Time  `json:"updatedAt"`
}

// TableName returns the database table name for Session.
func (Session) TableName() string { return "sessions" }

// User is a local account identity, optionally linked to a Telegram account
// through the QR/deep-link flow. At least one of Email/Msisdn must be
// present for password login.
//
// Fields:
//   - ID: auto-increment primary key.
//   - Email / Msisdn: login identifiers; either may be empty.
//   - PasswordHash: bcrypt hash of the local password.
//   - TelegramID: set only after a completed QR-link callback.
//   - CreatedAt / UpdatedAt: timestamps managed by GORM.
type User struct {
	ID           uint      `json:"id"                   gorm:"primaryKey"`
	Email        string    `json:"email,omitempty"      gorm:"type:varchar(255);index"`
	Msisdn       string    `json:"msisdn,omitempty"     gorm:"type:varchar(20);index"`
	PasswordHash string    `json:"-"                    gorm:"type:varchar(255);not null"`
	TelegramID   string    `json:"telegramId,omitempty" gorm:"type:varchar(32);index"`
	CreatedAt    time.Time `json:"createdAt"`
	UpdatedAt    time.Time `json:"updatedAt"`
}

// TableName returns the database table name for User.
func (User) TableName() string { return "users" }

// Channel mirrors a remote broadcast channel or megagroup. Rows are scoped
// to the Session whose sync discovered them; the natural key
// (channel_id, session_id) is enforced by a unique index so concurrent
// syncs cannot create duplicates.
//
// Fields:
//   - ID: auto-increment primary key (local identity, stable across syncs).
//   - ChannelID: Telegram's channel identifier, stored as a string.
//   - Name: display title, overwritten on every sync.
//   - AccessHash: MTProto access hash captured during dialog listing;
//     required to address the channel in later history requests.
//   - SessionID / UserID: owning scope; SessionID for the MTProto sync
//     flow, UserID reserved for user-linked rows.
type Channel struct {
	ID         uint      `json:"id"         gorm:"primaryKey"`
	ChannelID  string    `json:"channelId"  gorm:"type:varchar(32);not null;uniqueIndex:ux_channels_natural,priority:1"`
	Name       string    `json:"name"       gorm:"type:varchar(255);not null"`
	AccessHash int64     `json:"-"          gorm:"not null;default:0"`
	SessionID  *uint     `json:"sessionId,omitempty" gorm:"uniqueIndex:ux_channels_natural,priority:2;index"`
	UserID     *uint     `json:"userId,omitempty"    gorm:"index"`
	CreatedAt  time.Time `json:"createdAt"`
	UpdatedAt  time.Time `json:"updatedAt"`

	Session *Session `json:"-" gorm:"foreignKey:SessionID;references:ID;constraint:OnUpdate:CASCADE,OnDelete:CASCADE"`
	User    *User    `json:"-" gorm:"foreignKey:UserID;references:ID;constraint:OnUpdate:CASCADE,OnDelete:SET NULL"`
}

// TableName returns the database table name for Channel.
func (Channel) TableName() string { return "channels" }

// Message mirrors a remote message within a synced channel. The natural key
// (message_id, channel_id) keeps row identity stable across syncs: a re-sync
// of the same remote message overwrites Content and Timestamp in place.
//
// Fields:
//   - ID: auto-increment primary key.
//   - MessageID: Telegram's message identifier within the channel.
//   - Content: message body; empty remote messages are never persisted.
//   - ChannelID: foreign key to the local channel row.
//   - SessionID: session whose sync produced the row.
//   - UserID: optional user scope, reserved for user-linked rows.
//   - Timestamp: the remote message time (not the local insert time).
type Message struct {
	ID        uint      `json:"id"        gorm:"primaryKey"`
	MessageID string    `json:"messageId" gorm:"type:varchar(32);not null;uniqueIndex:ux_messages_natural,priority:1"`
	Content   string    `json:"content"   gorm:"type:text;not null"`
	ChannelID uint      `json:"channelId" gorm:"not null;uniqueIndex:ux_messages_natural,priority:2;index"`
	SessionID uint      `json:"sessionId" gorm:"not null;index"`
	UserID    *uint     `json:"userId,omitempty" gorm:"index"`
	Timestamp time.Time `json:"timestamp" gorm:"not null"`
	CreatedAt time.Time `json:"createdAt"`
	UpdatedAt time.Time `json:"updatedAt"`

	Channel Channel `json:"-" gorm:"foreignKey:ChannelID;references:ID;constraint:OnUpdate:CASCADE,OnDelete:CASCADE"`
}

// TableName returns the database table name for Message.
func (Message) TableName() string { return "messages" }
