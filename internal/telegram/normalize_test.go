package telegram

import (
	"testing"
)

func TestNormalizeNewMessage(t *testing.T) {
	rec, err := Normalize(RawEvent{
		Kind: EventNewMessage,
		Message: &RawMessage{
			MsgID: 10, ChatID: 1, SenderID: 7, SenderName: "Ana",
			Body: "hello", ReplyTo: 9, Timestamp: 1000,
		},
	})
	if err != nil {
		t.Fatal(err)
	}
	if rec.Kind != RecordMessage {
		t.Errorf("kind = %q, want %q", rec.Kind, RecordMessage)
	}
	if rec.SourceTS != 1000 {
		t.Errorf("source ts = %d, want 1000", rec.SourceTS)
	}
	m := rec.Message
	if m.ChatID != 1 || m.MsgID != 10 || m.Body != "hello" || m.ReplyTo != 9 {
		t.Errorf("message = %+v", m)
	}
	if m.Edited {
		t.Error("new message must not be marked edited")
	}
	if m.EditTS != 1000 {
		t.Errorf("edit_ts = %d, want the event timestamp", m.EditTS)
	}
}

func TestNormalizeEdit(t *testing.T) {
	rec, err := Normalize(RawEvent{
		Kind:    EventEditMessage,
		Message: &RawMessage{MsgID: 10, ChatID: 1, Body: "fixed", Timestamp: 2000},
	})
	if err != nil {
		t.Fatal(err)
	}
	if rec.Kind != RecordEdit || !rec.Message.Edited {
		t.Errorf("record = %+v, want an edit record", rec)
	}
	if rec.Message.EditTS != 2000 {
		t.Errorf("edit_ts = %d, want 2000", rec.Message.EditTS)
	}
}

func TestNormalizeDelete(t *testing.T) {
	rec, err := Normalize(RawEvent{
		Kind:    EventDeleteMessage,
		Message: &RawMessage{MsgID: 10, ChatID: 1, Timestamp: 3000},
	})
	if err != nil {
		t.Fatal(err)
	}
	if rec.Kind != RecordDelete || !rec.Message.Deleted {
		t.Errorf("record = %+v, want a delete record", rec)
	}
}

func TestNormalizeChatUpdateWithMembers(t *testing.T) {
	rec, err := Normalize(RawEvent{
		Kind: EventChatUpdate,
		Chat: &RawChat{
			ChatID: 100, Kind: "supergroup", Title: "Team", Timestamp: 1000,
			Members: []RawContact{{UserID: 7, Name: "Ana"}, {UserID: 8, Name: "Bruno"}},
		},
	})
	if err != nil {
		t.Fatal(err)
	}
	if rec.Kind != RecordChat {
		t.Fatalf("kind = %q, want %q", rec.Kind, RecordChat)
	}
	if rec.Chat.Kind != "group" {
		t.Errorf("chat kind = %q, supergroup should map to group", rec.Chat.Kind)
	}
	if !rec.Chat.Active {
		t.Error("non-removed chat should be active")
	}
	if len(rec.Members) != 2 || rec.Members[0].ID != 7 {
		t.Errorf("members = %+v", rec.Members)
	}
}

func TestNormalizeRemovedChat(t *testing.T) {
	rec, err := Normalize(RawEvent{
		Kind: EventChatUpdate,
		Chat: &RawChat{ChatID: 100, Kind: "user", Removed: true, Timestamp: 1000},
	})
	if err != nil {
		t.Fatal(err)
	}
	if rec.Chat.Active {
		t.Error("removed chat should be inactive")
	}
	if rec.Chat.Kind != "direct" {
		t.Errorf("chat kind = %q, user should map to direct", rec.Chat.Kind)
	}
}

func TestNormalizeContactUpdate(t *testing.T) {
	rec, err := Normalize(RawEvent{
		Kind:    EventContactUpdate,
		Contact: &RawContact{UserID: 7, Name: "Ana", Username: "ana", Timestamp: 1000},
	})
	if err != nil {
		t.Fatal(err)
	}
	if rec.Kind != RecordContact || rec.Contact.ID != 7 || rec.Contact.Username != "ana" {
		t.Errorf("record = %+v", rec)
	}
}

func TestNormalizeUnsupportedKind(t *testing.T) {
	_, err := Normalize(RawEvent{Kind: "reaction.added"})
	if err == nil {
		t.Fatal("unknown kind should fail")
	}
	if KindOf(err) != KindUnsupportedEvent {
		t.Errorf("error kind = %q, want %q", KindOf(err), KindUnsupportedEvent)
	}
}

func TestNormalizeMissingPayload(t *testing.T) {
	for _, kind := range []EventKind{EventNewMessage, EventEditMessage, EventDeleteMessage, EventChatUpdate, EventContactUpdate} {
		if _, err := Normalize(RawEvent{Kind: kind}); KindOf(err) != KindUnsupportedEvent {
			t.Errorf("Normalize(%s without payload) error kind = %q, want %q", kind, KindOf(err), KindUnsupportedEvent)
		}
	}
}

func TestNormalizeHistory(t *testing.T) {
	page := []RawMessage{
		{MsgID: 2, ChatID: 1, Body: "b", Timestamp: 2000},
		{MsgID: 1, ChatID: 1, Body: "a", Timestamp: 1000},
	}
	msgs := NormalizeHistory(page)
	if len(msgs) != 2 {
		t.Fatalf("got %d messages, want 2", len(msgs))
	}
	if msgs[0].MsgID != 2 || msgs[1].MsgID != 1 {
		t.Errorf("order changed: %+v", msgs)
	}
	if msgs[1].EditTS != 1000 {
		t.Errorf("edit_ts = %d, want source timestamp", msgs[1].EditTS)
	}
}
