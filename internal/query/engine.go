package query

import (
	"errors"
	"fmt"

	"github.com/Muhammad18557/telegram-mcp/internal/store"
)

// Errors surfaced to API callers as structured results.
var (
	// ErrNotFound means the requested entity is absent from the store.
	ErrNotFound = errors.New("not found")
	// ErrInvalidArgument means the query or pagination input is malformed.
	ErrInvalidArgument = errors.New("invalid argument")
)

// MaxPageSize bounds every list operation.
const MaxPageSize = 200

const defaultPageSize = 50

// Engine serves read-only queries over the store. Reads are
// snapshot-consistent and take no locks; during transport outages they keep
// serving whatever the bridge has synced so far.
type Engine struct {
	db *store.DB
}

// NewEngine creates a query engine over db.
func NewEngine(db *store.DB) *Engine {
	return &Engine{db: db}
}

// ChatPage is one page of chats with a continuation token.
type ChatPage struct {
	Chats      []store.Chat
	NextCursor string
}

// MessagePage is one page of messages with a continuation token.
type MessagePage struct {
	Messages   []store.Message
	NextCursor string
}

// ListMessagesOpts narrows ListMessages. Before/After are opaque cursor
// tokens; Keyword is a body substring filter.
type ListMessagesOpts struct {
	Before  string
	After   string
	Limit   int
	Keyword string
}

func checkLimit(limit int) (int, error) {
	if limit == 0 {
		return defaultPageSize, nil
	}
	if limit < 0 || limit > MaxPageSize {
		return 0, fmt.Errorf("%w: limit must be in 1..%d, got %d", ErrInvalidArgument, MaxPageSize, limit)
	}
	return limit, nil
}

// ListChats returns chats ordered by last activity descending. query filters
// on title/username; cursor continues a previous page.
func (e *Engine) ListChats(query, cursor string, limit int) (*ChatPage, error) {
	limit, err := checkLimit(limit)
	if err != nil {
		return nil, err
	}
	cur, err := DecodeCursor(cursor)
	if err != nil {
		return nil, err
	}

	chats, err := e.db.ListChats(query, cur.TS, cur.ID, limit)
	if err != nil {
		return nil, fmt.Errorf("list chats: %w", err)
	}
	page := &ChatPage{Chats: chats}
	if len(chats) == limit {
		last := chats[len(chats)-1]
		page.NextCursor = Cursor{TS: last.LastMessageAt, ID: last.ID}.Encode()
	}
	return page, nil
}

// ListMessages returns messages for a chat, newest first, with stable
// cursor-based pagination. Fails NotFound for unknown chats.
func (e *Engine) ListMessages(chatID int64, opts ListMessagesOpts) (*MessagePage, error) {
	limit, err := checkLimit(opts.Limit)
	if err != nil {
		return nil, err
	}
	before, err := DecodeCursor(opts.Before)
	if err != nil {
		return nil, err
	}
	after, err := DecodeCursor(opts.After)
	if err != nil {
		return nil, err
	}

	chat, err := e.db.GetChat(chatID)
	if err != nil {
		return nil, fmt.Errorf("get chat: %w", err)
	}
	if chat == nil {
		return nil, fmt.Errorf("%w: chat %d", ErrNotFound, chatID)
	}

	msgs, err := e.db.ListMessages(chatID, store.ListMessagesOpts{
		BeforeTS: before.TS, BeforeID: before.ID,
		AfterTS: after.TS, AfterID: after.ID,
		Keyword: opts.Keyword,
		Limit:   limit,
	})
	if err != nil {
		return nil, fmt.Errorf("list messages: %w", err)
	}
	page := &MessagePage{Messages: msgs}
	if len(msgs) == limit {
		last := msgs[len(msgs)-1]
		page.NextCursor = Cursor{TS: last.Timestamp, ID: last.ID}.Encode()
	}
	return page, nil
}

// GetChat returns a chat by id or NotFound.
func (e *Engine) GetChat(chatID int64) (*store.Chat, error) {
	c, err := e.db.GetChat(chatID)
	if err != nil {
		return nil, fmt.Errorf("get chat: %w", err)
	}
	if c == nil {
		return nil, fmt.Errorf("%w: chat %d", ErrNotFound, chatID)
	}
	return c, nil
}

// FindDirectChat returns the one-on-one chat with a contact or NotFound.
func (e *Engine) FindDirectChat(contactID int64) (*store.Chat, error) {
	c, err := e.db.FindDirectChat(contactID)
	if err != nil {
		return nil, fmt.Errorf("find direct chat: %w", err)
	}
	if c == nil {
		return nil, fmt.Errorf("%w: no direct chat with contact %d", ErrNotFound, contactID)
	}
	return c, nil
}

// ListContactChats returns every chat the contact participates in.
func (e *Engine) ListContactChats(contactID int64, limit int) ([]store.Chat, error) {
	limit, err := checkLimit(limit)
	if err != nil {
		return nil, err
	}
	chats, err := e.db.ListContactChats(contactID, limit)
	if err != nil {
		return nil, fmt.Errorf("list contact chats: %w", err)
	}
	return chats, nil
}

// LastInteraction returns the most recent message exchanged with the
// contact, or NotFound if there is none.
func (e *Engine) LastInteraction(contactID int64) (*store.Message, error) {
	m, err := e.db.LastInteraction(contactID)
	if err != nil {
		return nil, fmt.Errorf("last interaction: %w", err)
	}
	if m == nil {
		return nil, fmt.Errorf("%w: no interaction with contact %d", ErrNotFound, contactID)
	}
	return m, nil
}

// MessageContext returns the radius messages surrounding the anchor in its
// chat, in chat order, anchor included. The anchor is addressed by internal
// message id; NotFound if it is absent.
func (e *Engine) MessageContext(messageID int64, radius int) ([]store.Message, error) {
	if radius < 0 || radius > MaxPageSize {
		return nil, fmt.Errorf("%w: radius must be in 0..%d, got %d", ErrInvalidArgument, MaxPageSize, radius)
	}
	anchor, err := e.db.GetMessageByID(messageID)
	if err != nil {
		return nil, fmt.Errorf("get message: %w", err)
	}
	if anchor == nil {
		return nil, fmt.Errorf("%w: message %d", ErrNotFound, messageID)
	}

	before, err := e.db.MessagesBefore(anchor, radius)
	if err != nil {
		return nil, fmt.Errorf("context before: %w", err)
	}
	after, err := e.db.MessagesAfter(anchor, radius)
	if err != nil {
		return nil, fmt.Errorf("context after: %w", err)
	}

	out := make([]store.Message, 0, len(before)+1+len(after))
	out = append(out, before...)
	out = append(out, *anchor)
	out = append(out, after...)
	return out, nil
}

// SearchContacts matches contacts by name, username or phone.
func (e *Engine) SearchContacts(query string, limit int) ([]store.Contact, error) {
	limit, err := checkLimit(limit)
	if err != nil {
		return nil, err
	}
	contacts, err := e.db.SearchContacts(query, limit)
	if err != nil {
		return nil, fmt.Errorf("search contacts: %w", err)
	}
	return contacts, nil
}

// SearchMessages runs a full-text search over message bodies, newest first.
func (e *Engine) SearchMessages(keyword string, chatID int64, limit int) ([]store.SearchResult, error) {
	limit, err := checkLimit(limit)
	if err != nil {
		return nil, err
	}
	if keyword == "" {
		return nil, fmt.Errorf("%w: empty search query", ErrInvalidArgument)
	}
	results, err := e.db.SearchMessages(keyword, chatID, limit)
	if err != nil {
		return nil, fmt.Errorf("search messages: %w", err)
	}
	return results, nil
}
