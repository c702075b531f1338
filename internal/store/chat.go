package store

import (
	"database/sql"
	"time"
)

// UpsertChat inserts or updates chat metadata. Conflicts resolve
// last-write-wins by the event timestamp carried in eventTS; last_message_at
// and active only ever move forward independently of the metadata guard.
func (db *DB) UpsertChat(c *Chat, eventTS int64) error {
	if eventTS <= 0 {
		eventTS = time.Now().UnixMilli()
	}
	_, err := db.Exec(`
		INSERT INTO chats (id, kind, title, username, last_message_at, active, updated_at)
		VALUES (?, ?, ?, ?, ?, ?, ?)
		ON CONFLICT(id) DO UPDATE SET
			kind = CASE WHEN excluded.updated_at >= chats.updated_at THEN excluded.kind ELSE chats.kind END,
			title = CASE WHEN excluded.updated_at >= chats.updated_at THEN excluded.title ELSE chats.title END,
			username = CASE WHEN excluded.updated_at >= chats.updated_at THEN excluded.username ELSE chats.username END,
			active = CASE WHEN excluded.updated_at >= chats.updated_at THEN excluded.active ELSE chats.active END,
			last_message_at = MAX(chats.last_message_at, excluded.last_message_at),
			updated_at = MAX(chats.updated_at, excluded.updated_at)`,
		c.ID, c.Kind, c.Title, c.Username, c.LastMessageAt, c.Active, eventTS)
	return err
}

// TouchChat creates the chat on first reference and bumps last_message_at.
// Metadata fields are left for a later chat.update event to fill in.
func (db *DB) TouchChat(chatID, lastMessageAt int64) error {
	_, err := db.Exec(`
		INSERT INTO chats (id, last_message_at, updated_at)
		VALUES (?, ?, 0)
		ON CONFLICT(id) DO UPDATE SET
			last_message_at = MAX(chats.last_message_at, excluded.last_message_at)`,
		chatID, lastMessageAt)
	return err
}

// ListChats returns chats ordered by last activity descending, using keyset
// pagination on (last_message_at, id). query filters on title or username.
func (db *DB) ListChats(query string, beforeTS, beforeID int64, limit int) ([]Chat, error) {
	if limit <= 0 {
		limit = 50
	}
	q := `
		SELECT id, kind, title, username, last_message_at, active
		FROM chats
		WHERE active = 1`
	args := []any{}
	if query != "" {
		q += ` AND (title LIKE ? OR username LIKE ?)`
		pat := "%" + query + "%"
		args = append(args, pat, pat)
	}
	if beforeTS > 0 {
		q += ` AND (last_message_at < ? OR (last_message_at = ? AND id < ?))`
		args = append(args, beforeTS, beforeTS, beforeID)
	}
	q += ` ORDER BY last_message_at DESC, id DESC LIMIT ?`
	args = append(args, limit)

	rows, err := db.Query(q, args...)
	if err != nil {
		return nil, err
	}
	defer func() { _ = rows.Close() }()

	var chats []Chat
	for rows.Next() {
		var c Chat
		if err := rows.Scan(&c.ID, &c.Kind, &c.Title, &c.Username, &c.LastMessageAt, &c.Active); err != nil {
			return nil, err
		}
		chats = append(chats, c)
	}
	return chats, rows.Err()
}

// GetChat returns a single chat by id, or nil if unknown.
func (db *DB) GetChat(id int64) (*Chat, error) {
	var c Chat
	err := db.QueryRow(`
		SELECT id, kind, title, username, last_message_at, active
		FROM chats WHERE id = ?`, id).
		Scan(&c.ID, &c.Kind, &c.Title, &c.Username, &c.LastMessageAt, &c.Active)
	if err == sql.ErrNoRows {
		return nil, nil
	}
	if err != nil {
		return nil, err
	}
	return &c, nil
}

// FindDirectChat returns the one-on-one chat with the given contact, or nil.
// For direct chats the chat id equals the peer's user id.
func (db *DB) FindDirectChat(contactID int64) (*Chat, error) {
	var c Chat
	err := db.QueryRow(`
		SELECT id, kind, title, username, last_message_at, active
		FROM chats WHERE id = ? AND kind = 'direct'`, contactID).
		Scan(&c.ID, &c.Kind, &c.Title, &c.Username, &c.LastMessageAt, &c.Active)
	if err == sql.ErrNoRows {
		return nil, nil
	}
	if err != nil {
		return nil, err
	}
	return &c, nil
}

// ListContactChats returns all chats the contact participates in, most
// recently active first. Membership comes from chat_members, which the
// reconciler fills from chat updates and observed message senders.
func (db *DB) ListContactChats(contactID int64, limit int) ([]Chat, error) {
	if limit <= 0 {
		limit = 50
	}
	rows, err := db.Query(`
		SELECT c.id, c.kind, c.title, c.username, c.last_message_at, c.active
		FROM chats c
		JOIN chat_members m ON m.chat_id = c.id
		WHERE m.contact_id = ? AND c.active = 1
		ORDER BY c.last_message_at DESC, c.id DESC
		LIMIT ?`, contactID, limit)
	if err != nil {
		return nil, err
	}
	defer func() { _ = rows.Close() }()

	var chats []Chat
	for rows.Next() {
		var c Chat
		if err := rows.Scan(&c.ID, &c.Kind, &c.Title, &c.Username, &c.LastMessageAt, &c.Active); err != nil {
			return nil, err
		}
		chats = append(chats, c)
	}
	return chats, rows.Err()
}

// FindChatByName resolves a chat by exact username or title substring,
// used as the last resort when resolving send targets.
func (db *DB) FindChatByName(name string) (*Chat, error) {
	var c Chat
	err := db.QueryRow(`
		SELECT id, kind, title, username, last_message_at, active
		FROM chats
		WHERE username = ? OR title LIKE ?
		ORDER BY last_message_at DESC
		LIMIT 1`, name, "%"+name+"%").
		Scan(&c.ID, &c.Kind, &c.Title, &c.Username, &c.LastMessageAt, &c.Active)
	if err == sql.ErrNoRows {
		return nil, nil
	}
	if err != nil {
		return nil, err
	}
	return &c, nil
}

// ChatCount returns the total number of chats.
func (db *DB) ChatCount() (int64, error) {
	var count int64
	err := db.QueryRow(`SELECT COUNT(*) FROM chats`).Scan(&count)
	return count, err
}
