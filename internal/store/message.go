package store

import (
	"database/sql"
	"time"
)

const messageCols = `id, chat_id, msg_id, sender_id, sender_name, body, media_ref, reply_to, from_me, edited, deleted, ts, edit_ts`

func scanMessage(row interface{ Scan(...any) error }) (Message, error) {
	var m Message
	err := row.Scan(&m.ID, &m.ChatID, &m.MsgID, &m.SenderID, &m.SenderName, &m.Body,
		&m.MediaRef, &m.ReplyTo, &m.FromMe, &m.Edited, &m.Deleted, &m.Timestamp, &m.EditTS)
	return m, err
}

// UpsertMessage inserts or updates a message, idempotent on (chat_id, msg_id).
// The conflict clause only applies when the incoming mutation timestamp is
// not older than the stored one, so stale re-deliveries and out-of-order
// edits are no-ops. Returns whether a row was written.
func (db *DB) UpsertMessage(m *Message) (bool, error) {
	editTS := m.EditTS
	if editTS == 0 {
		editTS = m.Timestamp
	}
	res, err := db.Exec(`
		INSERT INTO messages (chat_id, msg_id, sender_id, sender_name, body, media_ref, reply_to, from_me, edited, deleted, ts, edit_ts, created_at)
		VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?)
		ON CONFLICT(chat_id, msg_id) DO UPDATE SET
			sender_id = excluded.sender_id,
			sender_name = excluded.sender_name,
			body = excluded.body,
			media_ref = excluded.media_ref,
			reply_to = excluded.reply_to,
			from_me = excluded.from_me,
			edited = excluded.edited,
			deleted = excluded.deleted,
			edit_ts = excluded.edit_ts
		WHERE excluded.edit_ts >= messages.edit_ts`,
		m.ChatID, m.MsgID, m.SenderID, m.SenderName, m.Body, m.MediaRef, m.ReplyTo,
		m.FromMe, m.Edited, m.Deleted, m.Timestamp, editTS, time.Now().UnixMilli())
	if err != nil {
		return false, err
	}
	n, err := res.RowsAffected()
	if err != nil {
		return false, err
	}
	return n > 0, nil
}

// MarkMessageDeleted flags a message deleted if the delete is not older than
// the last applied mutation. A delete for a message never seen creates a
// tombstone row so a late original cannot resurrect it.
func (db *DB) MarkMessageDeleted(chatID, msgID, eventTS int64) (bool, error) {
	res, err := db.Exec(`
		INSERT INTO messages (chat_id, msg_id, deleted, ts, edit_ts, created_at)
		VALUES (?, ?, 1, ?, ?, ?)
		ON CONFLICT(chat_id, msg_id) DO UPDATE SET
			deleted = 1,
			edit_ts = excluded.edit_ts
		WHERE excluded.edit_ts >= messages.edit_ts`,
		chatID, msgID, eventTS, eventTS, time.Now().UnixMilli())
	if err != nil {
		return false, err
	}
	n, err := res.RowsAffected()
	if err != nil {
		return false, err
	}
	return n > 0, nil
}

// ListMessagesOpts narrows a ListMessages scan. Before/After are exclusive
// keyset boundaries; Keyword is a body substring filter.
type ListMessagesOpts struct {
	BeforeTS, BeforeID int64
	AfterTS, AfterID   int64
	Keyword            string
	Limit              int
}

// ListMessages returns messages for a chat, newest first, using keyset
// pagination on (ts, id) so concurrent inserts never shift page boundaries.
func (db *DB) ListMessages(chatID int64, opts ListMessagesOpts) ([]Message, error) {
	limit := opts.Limit
	if limit <= 0 {
		limit = 50
	}
	q := `SELECT ` + messageCols + ` FROM messages WHERE chat_id = ? AND deleted = 0`
	args := []any{chatID}
	if opts.BeforeTS > 0 {
		q += ` AND (ts < ? OR (ts = ? AND id < ?))`
		args = append(args, opts.BeforeTS, opts.BeforeTS, opts.BeforeID)
	}
	if opts.AfterTS > 0 {
		q += ` AND (ts > ? OR (ts = ? AND id > ?))`
		args = append(args, opts.AfterTS, opts.AfterTS, opts.AfterID)
	}
	if opts.Keyword != "" {
		q += ` AND body LIKE ?`
		args = append(args, "%"+opts.Keyword+"%")
	}
	q += ` ORDER BY ts DESC, id DESC LIMIT ?`
	args = append(args, limit)

	rows, err := db.Query(q, args...)
	if err != nil {
		return nil, err
	}
	defer func() { _ = rows.Close() }()

	var msgs []Message
	for rows.Next() {
		m, err := scanMessage(rows)
		if err != nil {
			return nil, err
		}
		msgs = append(msgs, m)
	}
	return msgs, rows.Err()
}

// GetMessage returns a message by its external identity, or nil.
func (db *DB) GetMessage(chatID, msgID int64) (*Message, error) {
	m, err := scanMessage(db.QueryRow(
		`SELECT `+messageCols+` FROM messages WHERE chat_id = ? AND msg_id = ?`, chatID, msgID))
	if err == sql.ErrNoRows {
		return nil, nil
	}
	if err != nil {
		return nil, err
	}
	return &m, nil
}

// GetMessageByID returns a message by its internal row id, or nil.
func (db *DB) GetMessageByID(id int64) (*Message, error) {
	m, err := scanMessage(db.QueryRow(
		`SELECT `+messageCols+` FROM messages WHERE id = ?`, id))
	if err == sql.ErrNoRows {
		return nil, nil
	}
	if err != nil {
		return nil, err
	}
	return &m, nil
}

// MessagesBefore returns up to limit messages strictly older than the anchor
// in the same chat, oldest of them first.
func (db *DB) MessagesBefore(anchor *Message, limit int) ([]Message, error) {
	rows, err := db.Query(`
		SELECT `+messageCols+` FROM messages
		WHERE chat_id = ? AND deleted = 0 AND (ts < ? OR (ts = ? AND id < ?))
		ORDER BY ts DESC, id DESC LIMIT ?`,
		anchor.ChatID, anchor.Timestamp, anchor.Timestamp, anchor.ID, limit)
	if err != nil {
		return nil, err
	}
	defer func() { _ = rows.Close() }()

	var msgs []Message
	for rows.Next() {
		m, err := scanMessage(rows)
		if err != nil {
			return nil, err
		}
		msgs = append(msgs, m)
	}
	if err := rows.Err(); err != nil {
		return nil, err
	}
	// Flip to chat order.
	for i, j := 0, len(msgs)-1; i < j; i, j = i+1, j-1 {
		msgs[i], msgs[j] = msgs[j], msgs[i]
	}
	return msgs, nil
}

// MessagesAfter returns up to limit messages strictly newer than the anchor
// in the same chat, in chat order.
func (db *DB) MessagesAfter(anchor *Message, limit int) ([]Message, error) {
	rows, err := db.Query(`
		SELECT `+messageCols+` FROM messages
		WHERE chat_id = ? AND deleted = 0 AND (ts > ? OR (ts = ? AND id > ?))
		ORDER BY ts ASC, id ASC LIMIT ?`,
		anchor.ChatID, anchor.Timestamp, anchor.Timestamp, anchor.ID, limit)
	if err != nil {
		return nil, err
	}
	defer func() { _ = rows.Close() }()

	var msgs []Message
	for rows.Next() {
		m, err := scanMessage(rows)
		if err != nil {
			return nil, err
		}
		msgs = append(msgs, m)
	}
	return msgs, rows.Err()
}

// LastInteraction returns the most recent non-deleted message exchanged with
// the contact across all chats, or nil.
func (db *DB) LastInteraction(contactID int64) (*Message, error) {
	m, err := scanMessage(db.QueryRow(`
		SELECT `+messageCols+` FROM messages
		WHERE deleted = 0 AND (sender_id = ? OR (chat_id = ? AND from_me = 1))
		ORDER BY ts DESC, id DESC LIMIT 1`, contactID, contactID))
	if err == sql.ErrNoRows {
		return nil, nil
	}
	if err != nil {
		return nil, err
	}
	return &m, nil
}
