package telegram

// EventKind tags a raw transport event.
type EventKind string

const (
	EventNewMessage    EventKind = "message.new"
	EventEditMessage   EventKind = "message.edit"
	EventDeleteMessage EventKind = "message.delete"
	EventChatUpdate    EventKind = "chat.update"
	EventContactUpdate EventKind = "contact.update"
)

// RawEvent is one event as delivered by the transport subscription.
// Exactly one payload field is set, matching Kind.
type RawEvent struct {
	Kind    EventKind   `json:"kind"`
	Message *RawMessage `json:"message,omitempty"`
	Chat    *RawChat    `json:"chat,omitempty"`
	Contact *RawContact `json:"contact,omitempty"`
}

// RawMessage carries transport-level message data. MsgID is unique within
// ChatID only; Timestamp is unix milliseconds of the event at the source.
type RawMessage struct {
	MsgID      int64  `json:"msg_id"`
	ChatID     int64  `json:"chat_id"`
	ChatKind   string `json:"chat_kind,omitempty"`
	ChatTitle  string `json:"chat_title,omitempty"`
	SenderID   int64  `json:"sender_id,omitempty"`
	SenderName string `json:"sender_name,omitempty"`
	Body       string `json:"body,omitempty"`
	MediaRef   string `json:"media_ref,omitempty"`
	ReplyTo    int64  `json:"reply_to,omitempty"`
	FromMe     bool   `json:"from_me,omitempty"`
	Timestamp  int64  `json:"ts"`
}

// RawChat carries chat metadata. Removed marks chats the transport reports
// as gone; the store keeps the row and flips it inactive.
type RawChat struct {
	ChatID    int64        `json:"chat_id"`
	Kind      string       `json:"kind,omitempty"`
	Title     string       `json:"title,omitempty"`
	Username  string       `json:"username,omitempty"`
	Removed   bool         `json:"removed,omitempty"`
	Timestamp int64        `json:"ts"`
	Members   []RawContact `json:"members,omitempty"`
}

// RawContact carries profile data for a user.
type RawContact struct {
	UserID    int64  `json:"user_id"`
	Name      string `json:"name,omitempty"`
	Username  string `json:"username,omitempty"`
	Phone     string `json:"phone,omitempty"`
	Timestamp int64  `json:"ts"`
}
