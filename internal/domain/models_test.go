package domain

import (
	"testing"
	"time"

	sqlite "github.com/glebarez/sqlite"
	"gorm.io/gorm"
	"gorm.io/gorm/logger"
)

func newDomainDB(t *testing.T) *gorm.DB {
	t.Helper()
	db, err := gorm.Open(sqlite.Open("file:domainmodels?mode=memory&cache=shared"), &gorm.Config{
		Logger: logger.Default.LogMode(logger.Silent),
	})
	if err != nil {
		t.Fatalf("open sqlite: %v", err)
	}
	if err := db.Exec("PRAGMA foreign_keys = ON").Error; err != nil {
		t.Fatalf("enable fks: %v", err)
	}
	if err := db.AutoMigrate(&Session{}, &User{}, &Channel{}, &Message{}); err != nil {
		t.Fatalf("automigrate: %v", err)
	}
	return db
}

func TestTableNames(t *testing.T) {
	if got := (Session{}).TableName(); got != "sessions" {
		t.Errorf("Session table = %q", got)
	}
	if got := (User{}).TableName(); got != "users" {
		t.Errorf("User table = %q", got)
	}
	if got := (Channel{}).TableName(); got != "channels" {
		t.Errorf("Channel table = %q", got)
	}
	if got := (Message{}).TableName(); got != "messages" {
		t.Errorf("Message table = %q", got)
	}
}

func TestMigrations_TablesAndNaturalKeyIndexes(t *testing.T) {
	db := newDomainDB(t)
	m := db.Migrator()

	for _, model := range []any{&Session{}, &User{}, &Channel{}, &Message{}} {
		if !m.HasTable(model) {
			t.Errorf("missing table for %T", model)
		}
	}

	if !m.HasIndex(&Session{}, "ux_sessions_phone") {
		t.Error("sessions missing unique phone index")
	}
	if !m.HasIndex(&Channel{}, "ux_channels_natural") {
		t.Error("channels missing natural-key index")
	}
	if !m.HasIndex(&Message{}, "ux_messages_natural") {
		t.Error("messages missing natural-key index")
	}
}

func TestNaturalKeys_RejectDuplicates(t *testing.T) {
	db := newDomainDB(t)

	sess := Session{Phone: "+12025550199"}
	if err := db.Create(&sess).Error; err != nil {
		t.Fatalf("create session: %v", err)
	}
	if err := db.Create(&Session{Phone: "+12025550199"}).Error; err == nil {
		t.Error("duplicate phone accepted")
	}

	sid := sess.ID
	ch := Channel{ChannelID: "1001", Name: "News", SessionID: &sid}
	if err := db.Create(&ch).Error; err != nil {
		t.Fatalf("create channel: %v", err)
	}
	if err := db.Create(&Channel{ChannelID: "1001", Name: "Dup", SessionID: &sid}).Error; err == nil {
		t.Error("duplicate (channel_id, session_id) accepted")
	}

	msg := Message{MessageID: "10", Content: "hello", ChannelID: ch.ID, SessionID: sid, Timestamp: time.Now()}
	if err := db.Create(&msg).Error; err != nil {
		t.Fatalf("create message: %v", err)
	}
	if err := db.Create(&Message{MessageID: "10", Content: "dup", ChannelID: ch.ID, SessionID: sid, Timestamp: time.Now()}).Error; err == nil {
		t.Error("duplicate (message_id, channel_id) accepted")
	}
}

func TestCascades_SessionDeleteRemovesMirroredRows(t *testing.T) {
	db := newDomainDB(t)

	sess := Session{Phone: "+12025550188"}
	if err := db.Create(&sess).Error; err != nil {
		t.Fatalf("create session: %v", err)
	}
	sid := sess.ID
	ch := Channel{ChannelID: "2001", Name: "News", SessionID: &sid}
	if err := db.Create(&ch).Error; err != nil {
		t.Fatalf("create channel: %v", err)
	}
	msg := Message{MessageID: "10", Content: "hello", ChannelID: ch.ID, SessionID: sid, Timestamp: time.Now()}
	if err := db.Create(&msg).Error; err != nil {
		t.Fatalf("create message: %v", err)
	}

	if err := db.Delete(&Session{}, sess.ID).Error; err != nil {
		t.Fatalf("delete session: %v", err)
	}

	var channels, messages int64
	db.Model(&Channel{}).Where("session_id = ?", sess.ID).Count(&channels)
	db.Model(&Message{}).Where("channel_id = ?", ch.ID).Count(&messages)
	if channels != 0 || messages != 0 {
		t.Errorf("orphans after session delete: channels=%d messages=%d", channels, messages)
	}
}
