package telegram

import (
	"testing"

	"github.com/gotd/td/tg"
)

func TestCollectChannels_FiltersAndDedupes(t *testing.T) {
	seen := make(map[int64]struct{})
	first := []tg.ChatClass{
		&tg.Channel{ID: 1001, AccessHash: 11, Title: "News", Broadcast: true},
		&tg.Channel{ID: 1002, AccessHash: 22, Title: "Community", Megagroup: true},
		&tg.Channel{ID: 1003, Title: "Neither"},
		&tg.Chat{ID: 42, Title: "plain group"},
	}

	out := collectChannels(nil, first, seen)
	if len(out) != 2 {
		t.Fatalf("channels = %d, want 2 (broadcast + megagroup only)", len(out))
	}
	if out[0].ID != 1001 || !out[0].Broadcast || out[0].Title != "News" {
		t.Errorf("first channel = %+v", out[0])
	}

	// A later page repeating an already-seen channel must not duplicate it.
	second := []tg.ChatClass{
		&tg.Channel{ID: 1001, AccessHash: 11, Title: "News", Broadcast: true},
		&tg.Channel{ID: 1004, AccessHash: 44, Title: "More", Broadcast: true},
	}
	out = collectChannels(out, second, seen)
	if len(out) != 3 {
		t.Fatalf("channels after second page = %d, want 3", len(out))
	}
	if out[2].ID != 1004 {
		t.Errorf("appended channel = %+v", out[2])
	}
}

func TestNextDialogsOffset(t *testing.T) {
	page := []tg.DialogClass{
		&tg.Dialog{TopMessage: 500},
		&tg.Dialog{TopMessage: 400},
	}
	messages := []tg.MessageClass{
		&tg.Message{ID: 500, Date: 1700000500},
		&tg.Message{ID: 400, Date: 1700000400},
	}

	id, date, ok := nextDialogsOffset(page, messages)
	if !ok {
		t.Fatal("cursor did not advance")
	}
	if id != 400 || date != 1700000400 {
		t.Errorf("cursor = (%d, %d), want the last dialog's top message", id, date)
	}

	// A folder entry at the tail is skipped in favor of the last real dialog.
	withFolder := append(page[:len(page):len(page)], &tg.DialogFolder{})
	id, date, ok = nextDialogsOffset(withFolder, messages)
	if !ok || id != 400 || date != 1700000400 {
		t.Errorf("cursor with folder tail = (%d, %d, %v)", id, date, ok)
	}

	// Without the top messages in the page the cursor cannot advance.
	if _, _, ok := nextDialogsOffset(page, nil); ok {
		t.Error("expected ok=false when no top message matches")
	}
}
