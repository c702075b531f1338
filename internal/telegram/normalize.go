package telegram

import (
	"github.com/Muhammad18557/telegram-mcp/internal/store"
)

// RecordKind tags a canonical record produced by the normalizer.
type RecordKind string

const (
	RecordMessage RecordKind = "message"
	RecordEdit    RecordKind = "edit"
	RecordDelete  RecordKind = "delete"
	RecordChat    RecordKind = "chat"
	RecordContact RecordKind = "contact"
)

// Record is the canonical representation the reconciler applies. Exactly one
// entity field is set, matching Kind. SourceTS is the event timestamp at the
// transport, used for monotonic-apply and last-write-wins resolution.
type Record struct {
	Kind     RecordKind
	SourceTS int64
	Message  *store.Message
	Chat     *store.Chat
	Contact  *store.Contact
	Members  []store.Contact
}

// Normalize converts a raw transport event into exactly one canonical
// record. Unrecognized event kinds fail with KindUnsupportedEvent; callers
// log and drop those. Side-effect-free.
func Normalize(evt RawEvent) (*Record, error) {
	switch evt.Kind {
	case EventNewMessage:
		if evt.Message == nil {
			return nil, Errf(KindUnsupportedEvent, "%s event without message payload", evt.Kind)
		}
		return &Record{
			Kind:     RecordMessage,
			SourceTS: evt.Message.Timestamp,
			Message:  normalizeMessage(evt.Message, false),
		}, nil
	case EventEditMessage:
		if evt.Message == nil {
			return nil, Errf(KindUnsupportedEvent, "%s event without message payload", evt.Kind)
		}
		return &Record{
			Kind:     RecordEdit,
			SourceTS: evt.Message.Timestamp,
			Message:  normalizeMessage(evt.Message, true),
		}, nil
	case EventDeleteMessage:
		if evt.Message == nil {
			return nil, Errf(KindUnsupportedEvent, "%s event without message payload", evt.Kind)
		}
		return &Record{
			Kind:     RecordDelete,
			SourceTS: evt.Message.Timestamp,
			Message: &store.Message{
				ChatID:    evt.Message.ChatID,
				MsgID:     evt.Message.MsgID,
				Deleted:   true,
				Timestamp: evt.Message.Timestamp,
				EditTS:    evt.Message.Timestamp,
			},
		}, nil
	case EventChatUpdate:
		if evt.Chat == nil {
			return nil, Errf(KindUnsupportedEvent, "%s event without chat payload", evt.Kind)
		}
		rec := &Record{
			Kind:     RecordChat,
			SourceTS: evt.Chat.Timestamp,
			Chat: &store.Chat{
				ID:       evt.Chat.ChatID,
				Kind:     chatKind(evt.Chat.Kind),
				Title:    evt.Chat.Title,
				Username: evt.Chat.Username,
				Active:   !evt.Chat.Removed,
			},
		}
		for _, m := range evt.Chat.Members {
			rec.Members = append(rec.Members, store.Contact{
				ID: m.UserID, Name: m.Name, Username: m.Username, Phone: m.Phone,
			})
		}
		return rec, nil
	case EventContactUpdate:
		if evt.Contact == nil {
			return nil, Errf(KindUnsupportedEvent, "%s event without contact payload", evt.Kind)
		}
		return &Record{
			Kind:     RecordContact,
			SourceTS: evt.Contact.Timestamp,
			Contact: &store.Contact{
				ID:       evt.Contact.UserID,
				Name:     evt.Contact.Name,
				Username: evt.Contact.Username,
				Phone:    evt.Contact.Phone,
			},
		}, nil
	default:
		return nil, Errf(KindUnsupportedEvent, "unrecognized event kind %q", evt.Kind)
	}
}

// NormalizeHistory converts a fetched history page into message records,
// ready for a batch apply.
func NormalizeHistory(page []RawMessage) []*store.Message {
	msgs := make([]*store.Message, 0, len(page))
	for i := range page {
		msgs = append(msgs, normalizeMessage(&page[i], false))
	}
	return msgs
}

func normalizeMessage(rm *RawMessage, edited bool) *store.Message {
	return &store.Message{
		ChatID:     rm.ChatID,
		MsgID:      rm.MsgID,
		SenderID:   rm.SenderID,
		SenderName: rm.SenderName,
		Body:       rm.Body,
		MediaRef:   rm.MediaRef,
		ReplyTo:    rm.ReplyTo,
		FromMe:     rm.FromMe,
		Edited:     edited,
		Timestamp:  rm.Timestamp,
		EditTS:     rm.Timestamp,
	}
}

func chatKind(kind string) string {
	switch kind {
	case "direct", "group", "channel":
		return kind
	case "user":
		return "direct"
	case "supergroup":
		return "group"
	default:
		return "direct"
	}
}
