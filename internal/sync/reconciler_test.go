package sync

import (
	"fmt"
	"path/filepath"
	stdsync "sync"
	"testing"
	"time"

	"github.com/Muhammad18557/telegram-mcp/internal/bus"
	"github.com/Muhammad18557/telegram-mcp/internal/store"
	"github.com/Muhammad18557/telegram-mcp/internal/telegram"
)

func testDB(t *testing.T) *store.DB {
	t.Helper()
	path := filepath.Join(t.TempDir(), "test.db")
	db, err := store.Open(path)
	if err != nil {
		t.Fatal(err)
	}
	if _, err := db.Migrate(); err != nil {
		t.Fatal(err)
	}
	t.Cleanup(func() { _ = db.Close() })
	return db
}

func messageRecord(t *testing.T, rm *telegram.RawMessage) *telegram.Record {
	t.Helper()
	rec, err := telegram.Normalize(telegram.RawEvent{Kind: telegram.EventNewMessage, Message: rm})
	if err != nil {
		t.Fatal(err)
	}
	return rec
}

func TestApplyMessage(t *testing.T) {
	db := testDB(t)
	b := bus.New()
	r := NewReconciler(db, b, nil)

	ch, unsub := b.Subscribe("message.", 10)
	defer unsub()

	rec := messageRecord(t, &telegram.RawMessage{
		MsgID: 10, ChatID: 1, SenderID: 7, SenderName: "Ana", Body: "hello", Timestamp: 1000,
	})
	if err := r.Apply(rec); err != nil {
		t.Fatal(err)
	}

	// Chat auto-created and touched.
	chat, err := db.GetChat(1)
	if err != nil {
		t.Fatal(err)
	}
	if chat == nil || chat.LastMessageAt != 1000 {
		t.Fatalf("chat = %+v, want auto-created with last_message_at 1000", chat)
	}

	// Sender seeded as contact and member.
	contact, _ := db.GetContact(7)
	if contact == nil || contact.Name != "Ana" {
		t.Errorf("contact = %+v, want seeded from sender metadata", contact)
	}
	chats, _ := db.ListContactChats(7, 10)
	if len(chats) != 1 || chats[0].ID != 1 {
		t.Errorf("membership = %+v, want chat 1", chats)
	}

	// Cursor covers the message.
	cur, _ := db.GetCursor(1)
	if cur == nil || cur.OldestMsgID != 10 || cur.NewestMsgID != 10 {
		t.Errorf("cursor = %+v, want boundaries at msg 10", cur)
	}

	select {
	case evt := <-ch:
		if evt.Kind != bus.KindMessageUpserted {
			t.Errorf("event kind = %q, want %q", evt.Kind, bus.KindMessageUpserted)
		}
	case <-time.After(time.Second):
		t.Fatal("timeout waiting for message.upserted event")
	}
}

func TestApplyIdempotent(t *testing.T) {
	db := testDB(t)
	r := NewReconciler(db, nil, nil)

	rec := messageRecord(t, &telegram.RawMessage{MsgID: 10, ChatID: 1, Body: "hello", Timestamp: 1000})
	for range 3 {
		if err := r.Apply(rec); err != nil {
			t.Fatal(err)
		}
	}

	count, err := db.MessageCount()
	if err != nil {
		t.Fatal(err)
	}
	if count != 1 {
		t.Errorf("message count = %d, want 1 after replays", count)
	}
}

func TestApplyOutOfOrderEdit(t *testing.T) {
	db := testDB(t)
	r := NewReconciler(db, nil, nil)

	// The edit arrives before the original.
	edit, err := telegram.Normalize(telegram.RawEvent{
		Kind:    telegram.EventEditMessage,
		Message: &telegram.RawMessage{MsgID: 10, ChatID: 1, Body: "fixed", Timestamp: 2000},
	})
	if err != nil {
		t.Fatal(err)
	}
	if err := r.Apply(edit); err != nil {
		t.Fatal(err)
	}

	// The late original must not clobber the edit.
	original := messageRecord(t, &telegram.RawMessage{MsgID: 10, ChatID: 1, Body: "typo", Timestamp: 1000})
	if err := r.Apply(original); err != nil {
		t.Fatal(err)
	}

	got, err := db.GetMessage(1, 10)
	if err != nil {
		t.Fatal(err)
	}
	if got.Body != "fixed" || !got.Edited {
		t.Errorf("message = %+v, edit must survive the late original", got)
	}
}

func TestApplyDelete(t *testing.T) {
	db := testDB(t)
	b := bus.New()
	r := NewReconciler(db, b, nil)

	ch, unsub := b.Subscribe("message.", 10)
	defer unsub()

	if err := r.Apply(messageRecord(t, &telegram.RawMessage{MsgID: 10, ChatID: 1, Body: "bye", Timestamp: 1000})); err != nil {
		t.Fatal(err)
	}
	del, err := telegram.Normalize(telegram.RawEvent{
		Kind:    telegram.EventDeleteMessage,
		Message: &telegram.RawMessage{MsgID: 10, ChatID: 1, Timestamp: 1500},
	})
	if err != nil {
		t.Fatal(err)
	}
	if err := r.Apply(del); err != nil {
		t.Fatal(err)
	}

	got, _ := db.GetMessage(1, 10)
	if !got.Deleted {
		t.Error("message should be deleted")
	}

	kinds := map[string]bool{}
	for range 2 {
		select {
		case evt := <-ch:
			kinds[evt.Kind] = true
		case <-time.After(time.Second):
			t.Fatal("timeout waiting for events")
		}
	}
	if !kinds[bus.KindMessageDeleted] {
		t.Errorf("events = %v, want %q published", kinds, bus.KindMessageDeleted)
	}
}

func TestApplyChatWithMembers(t *testing.T) {
	db := testDB(t)
	r := NewReconciler(db, nil, nil)

	rec, err := telegram.Normalize(telegram.RawEvent{
		Kind: telegram.EventChatUpdate,
		Chat: &telegram.RawChat{
			ChatID: 100, Kind: "group", Title: "Team", Timestamp: 1000,
			Members: []telegram.RawContact{{UserID: 7, Name: "Ana"}, {UserID: 8, Name: "Bruno"}},
		},
	})
	if err != nil {
		t.Fatal(err)
	}
	if err := r.Apply(rec); err != nil {
		t.Fatal(err)
	}

	chat, _ := db.GetChat(100)
	if chat == nil || chat.Title != "Team" {
		t.Fatalf("chat = %+v", chat)
	}
	for _, id := range []int64{7, 8} {
		if c, _ := db.GetContact(id); c == nil {
			t.Errorf("member %d not stored as contact", id)
		}
		if chats, _ := db.ListContactChats(id, 10); len(chats) != 1 {
			t.Errorf("member %d not linked to chat", id)
		}
	}
}

func TestApplyContactLastWriteWins(t *testing.T) {
	db := testDB(t)
	r := NewReconciler(db, nil, nil)

	newer, _ := telegram.Normalize(telegram.RawEvent{
		Kind:    telegram.EventContactUpdate,
		Contact: &telegram.RawContact{UserID: 7, Name: "Ana Silva", Timestamp: 2000},
	})
	older, _ := telegram.Normalize(telegram.RawEvent{
		Kind:    telegram.EventContactUpdate,
		Contact: &telegram.RawContact{UserID: 7, Name: "Ana", Timestamp: 1000},
	})
	if err := r.Apply(newer); err != nil {
		t.Fatal(err)
	}
	if err := r.Apply(older); err != nil {
		t.Fatal(err)
	}

	c, _ := db.GetContact(7)
	if c.Name != "Ana Silva" {
		t.Errorf("name = %q, stale contact update should lose", c.Name)
	}
}

func TestApplyUnknownKind(t *testing.T) {
	r := NewReconciler(testDB(t), nil, nil)
	if err := r.Apply(&telegram.Record{Kind: "bogus"}); err == nil {
		t.Error("unknown record kind should fail")
	}
}

func TestConcurrentAppliesSameChat(t *testing.T) {
	db := testDB(t)
	r := NewReconciler(db, nil, nil)

	const writers = 8
	const perWriter = 20
	var wg stdsync.WaitGroup
	for w := range writers {
		wg.Add(1)
		go func() {
			defer wg.Done()
			for i := range perWriter {
				msgID := int64(w*perWriter + i + 1)
				rec := &telegram.Record{
					Kind:     telegram.RecordMessage,
					SourceTS: 1000 + msgID,
					Message: &store.Message{
						ChatID: 1, MsgID: msgID, Body: fmt.Sprintf("m%d", msgID),
						Timestamp: 1000 + msgID, EditTS: 1000 + msgID,
					},
				}
				if err := r.Apply(rec); err != nil {
					t.Errorf("apply %d: %v", msgID, err)
				}
				// Every writer also replays message 1 to race on the same row.
				replay := &telegram.Record{
					Kind:     telegram.RecordMessage,
					SourceTS: 1001,
					Message:  &store.Message{ChatID: 1, MsgID: 1, Body: "m1", Timestamp: 1001, EditTS: 1001},
				}
				if err := r.Apply(replay); err != nil {
					t.Errorf("replay: %v", err)
				}
			}
		}()
	}
	wg.Wait()

	count, err := db.MessageCount()
	if err != nil {
		t.Fatal(err)
	}
	if count != writers*perWriter {
		t.Errorf("message count = %d, want %d (no duplicates)", count, writers*perWriter)
	}

	cur, _ := db.GetCursor(1)
	if cur.OldestMsgID != 1 || cur.NewestMsgID != writers*perWriter {
		t.Errorf("cursor = %+v, want full coverage", cur)
	}
}

func TestApplyHistoryPage(t *testing.T) {
	db := testDB(t)
	b := bus.New()
	r := NewReconciler(db, b, nil)

	ch, unsub := b.Subscribe("sync.", 10)
	defer unsub()

	page := telegram.NormalizeHistory([]telegram.RawMessage{
		{MsgID: 5, ChatID: 1, SenderID: 7, Body: "five", Timestamp: 5000},
		{MsgID: 4, ChatID: 1, SenderID: 8, Body: "four", Timestamp: 4000},
		{MsgID: 3, ChatID: 1, SenderID: 7, Body: "three", Timestamp: 3000},
	})
	written, err := r.ApplyHistoryPage(1, page)
	if err != nil {
		t.Fatal(err)
	}
	if written != 3 {
		t.Errorf("written = %d, want 3 on empty store", written)
	}

	cur, _ := db.GetCursor(1)
	if cur.OldestMsgID != 3 || cur.NewestMsgID != 5 {
		t.Errorf("cursor = %+v, want range [3,5]", cur)
	}

	select {
	case evt := <-ch:
		if evt.Kind != bus.KindBackfillPage {
			t.Errorf("event kind = %q, want %q", evt.Kind, bus.KindBackfillPage)
		}
	case <-time.After(time.Second):
		t.Fatal("timeout waiting for backfill_page event")
	}
}

func TestApplyHistoryPageCountsOnlyNewGround(t *testing.T) {
	db := testDB(t)
	r := NewReconciler(db, nil, nil)

	first := telegram.NormalizeHistory([]telegram.RawMessage{
		{MsgID: 5, ChatID: 1, Body: "five", Timestamp: 5000},
		{MsgID: 4, ChatID: 1, Body: "four", Timestamp: 4000},
	})
	if _, err := r.ApplyHistoryPage(1, first); err != nil {
		t.Fatal(err)
	}

	// Overlapping page: 4 is covered, 3 is new.
	overlap := telegram.NormalizeHistory([]telegram.RawMessage{
		{MsgID: 4, ChatID: 1, Body: "four", Timestamp: 4000},
		{MsgID: 3, ChatID: 1, Body: "three", Timestamp: 3000},
	})
	written, err := r.ApplyHistoryPage(1, overlap)
	if err != nil {
		t.Fatal(err)
	}
	if written != 1 {
		t.Errorf("written = %d, want 1 (only msg 3 is new ground)", written)
	}

	// Fully covered page.
	covered := telegram.NormalizeHistory([]telegram.RawMessage{
		{MsgID: 4, ChatID: 1, Body: "four", Timestamp: 4000},
		{MsgID: 3, ChatID: 1, Body: "three", Timestamp: 3000},
	})
	written, err = r.ApplyHistoryPage(1, covered)
	if err != nil {
		t.Fatal(err)
	}
	if written != 0 {
		t.Errorf("written = %d, want 0 for covered ground", written)
	}
}

func TestApplyHistoryPageDoesNotRegressLiveEdits(t *testing.T) {
	db := testDB(t)
	r := NewReconciler(db, nil, nil)

	// Live path applied an edit.
	edit, _ := telegram.Normalize(telegram.RawEvent{
		Kind:    telegram.EventEditMessage,
		Message: &telegram.RawMessage{MsgID: 4, ChatID: 1, Body: "edited", Timestamp: 9000},
	})
	if err := r.Apply(edit); err != nil {
		t.Fatal(err)
	}

	// Backfill later fetches the pre-edit body.
	page := telegram.NormalizeHistory([]telegram.RawMessage{
		{MsgID: 4, ChatID: 1, Body: "stale", Timestamp: 4000},
	})
	if _, err := r.ApplyHistoryPage(1, page); err != nil {
		t.Fatal(err)
	}

	got, _ := db.GetMessage(1, 4)
	if got.Body != "edited" {
		t.Errorf("body = %q, backfill must not regress a newer edit", got.Body)
	}
}

func TestApplyHistoryPageSkipsForeignChat(t *testing.T) {
	db := testDB(t)
	r := NewReconciler(db, nil, nil)

	page := telegram.NormalizeHistory([]telegram.RawMessage{
		{MsgID: 1, ChatID: 1, Body: "mine", Timestamp: 1000},
		{MsgID: 2, ChatID: 2, Body: "foreign", Timestamp: 2000},
	})
	written, err := r.ApplyHistoryPage(1, page)
	if err != nil {
		t.Fatal(err)
	}
	if written != 1 {
		t.Errorf("written = %d, want 1", written)
	}
	if m, _ := db.GetMessage(2, 2); m != nil {
		t.Error("message for another chat must not be applied by this page")
	}
}
