package store

// Chat is a synced conversation. ID is the external Telegram chat id.
type Chat struct {
	ID            int64
	Kind          string // direct | group | channel
	Title         string
	Username      string
	LastMessageAt int64
	Active        bool
}

// Contact is a synced user profile. ID is the external Telegram user id.
type Contact struct {
	ID       int64
	Name     string
	Username string
	Phone    string
}

// ChatMember links a contact to a chat it participates in.
type ChatMember struct {
	ChatID    int64
	ContactID int64
}

// Message is a synced message. ID is the internal row id (stable across the
// whole store); (ChatID, MsgID) is the external identity and unique key.
// EditTS is the source timestamp of the last applied mutation and gates
// out-of-order edits and deletes.
type Message struct {
	ID         int64
	ChatID     int64
	MsgID      int64
	SenderID   int64
	SenderName string
	Body       string
	MediaRef   string
	ReplyTo    int64
	FromMe     bool
	Edited     bool
	Deleted    bool
	Timestamp  int64
	EditTS     int64
}

// Backfill states persisted per chat.
const (
	BackfillIdle     = "idle"
	BackfillPaging   = "paging"
	BackfillCaughtUp = "caught_up"
)

// SyncCursor tracks the covered message range for one chat. Oldest* is the
// backfill boundary, Newest* the live boundary. Zero ids mean "nothing
// synced yet".
type SyncCursor struct {
	ChatID      int64
	OldestMsgID int64
	OldestTS    int64
	NewestMsgID int64
	NewestTS    int64
	State       string
	LastError   string
}

// SearchResult holds a message matched by keyword search with a body snippet.
type SearchResult struct {
	Message Message
	Snippet string
}
