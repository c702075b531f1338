package store

import (
	"database/sql"
	"time"
)

// GetCursor returns the sync cursor for a chat, or nil if none exists yet.
func (db *DB) GetCursor(chatID int64) (*SyncCursor, error) {
	var c SyncCursor
	err := db.QueryRow(`
		SELECT chat_id, oldest_msg_id, oldest_ts, newest_msg_id, newest_ts, state, last_error
		FROM sync_cursors WHERE chat_id = ?`, chatID).
		Scan(&c.ChatID, &c.OldestMsgID, &c.OldestTS, &c.NewestMsgID, &c.NewestTS, &c.State, &c.LastError)
	if err == sql.ErrNoRows {
		return nil, nil
	}
	if err != nil {
		return nil, err
	}
	return &c, nil
}

// ExtendCursor widens the covered range of a chat to include (msgID, ts).
// Boundaries only ever move outward, so replays and overlapping backfill
// pages cannot regress an already-synced range.
func (db *DB) ExtendCursor(chatID, msgID, ts int64) error {
	now := time.Now().UnixMilli()
	_, err := db.Exec(`
		INSERT INTO sync_cursors (chat_id, oldest_msg_id, oldest_ts, newest_msg_id, newest_ts, state, updated_at)
		VALUES (?, ?, ?, ?, ?, 'idle', ?)
		ON CONFLICT(chat_id) DO UPDATE SET
			oldest_msg_id = CASE WHEN sync_cursors.oldest_msg_id = 0 THEN excluded.oldest_msg_id
				ELSE MIN(sync_cursors.oldest_msg_id, excluded.oldest_msg_id) END,
			oldest_ts = CASE WHEN sync_cursors.oldest_ts = 0 THEN excluded.oldest_ts
				ELSE MIN(sync_cursors.oldest_ts, excluded.oldest_ts) END,
			newest_msg_id = MAX(sync_cursors.newest_msg_id, excluded.newest_msg_id),
			newest_ts = MAX(sync_cursors.newest_ts, excluded.newest_ts),
			updated_at = excluded.updated_at`,
		chatID, msgID, ts, msgID, ts, now)
	return err
}

// SetBackfillState records the backfill state machine position for a chat,
// with an optional failure note for resumption diagnostics.
func (db *DB) SetBackfillState(chatID int64, state, lastError string) error {
	now := time.Now().UnixMilli()
	_, err := db.Exec(`
		INSERT INTO sync_cursors (chat_id, state, last_error, updated_at)
		VALUES (?, ?, ?, ?)
		ON CONFLICT(chat_id) DO UPDATE SET
			state = excluded.state,
			last_error = excluded.last_error,
			updated_at = excluded.updated_at`,
		chatID, state, lastError, now)
	return err
}

// ListCursors returns cursors in the given state; state "" returns all.
func (db *DB) ListCursors(state string) ([]SyncCursor, error) {
	q := `
		SELECT chat_id, oldest_msg_id, oldest_ts, newest_msg_id, newest_ts, state, last_error
		FROM sync_cursors`
	args := []any{}
	if state != "" {
		q += ` WHERE state = ?`
		args = append(args, state)
	}
	q += ` ORDER BY chat_id`

	rows, err := db.Query(q, args...)
	if err != nil {
		return nil, err
	}
	defer func() { _ = rows.Close() }()

	var cursors []SyncCursor
	for rows.Next() {
		var c SyncCursor
		if err := rows.Scan(&c.ChatID, &c.OldestMsgID, &c.OldestTS, &c.NewestMsgID, &c.NewestTS, &c.State, &c.LastError); err != nil {
			return nil, err
		}
		cursors = append(cursors, c)
	}
	return cursors, rows.Err()
}
