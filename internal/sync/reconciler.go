package sync

import (
	"errors"
	"fmt"
	stdsync "sync"
	"time"

	sqlite3 "github.com/mattn/go-sqlite3"
	"go.uber.org/zap"

	"github.com/Muhammad18557/telegram-mcp/internal/bus"
	"github.com/Muhammad18557/telegram-mcp/internal/store"
	"github.com/Muhammad18557/telegram-mcp/internal/telegram"
)

// Reconciler is the single writer to the store. Apply is idempotent and
// serialized per chat: the live ingestor and the backfill coordinator may
// call it concurrently for the same chat without corrupting cursors or
// duplicating messages. Cross-chat applies run in parallel.
type Reconciler struct {
	db     *store.DB
	bus    *bus.Bus
	logger *zap.Logger

	mu        stdsync.Mutex
	chatLocks map[int64]*stdsync.Mutex
}

// NewReconciler creates a reconciler writing to db.
func NewReconciler(db *store.DB, b *bus.Bus, logger *zap.Logger) *Reconciler {
	if logger == nil {
		logger = zap.NewNop()
	}
	if b == nil {
		b = bus.New()
	}
	return &Reconciler{
		db:        db,
		bus:       b,
		logger:    logger,
		chatLocks: make(map[int64]*stdsync.Mutex),
	}
}

func (r *Reconciler) chatLock(chatID int64) *stdsync.Mutex {
	r.mu.Lock()
	defer r.mu.Unlock()
	l, ok := r.chatLocks[chatID]
	if !ok {
		l = &stdsync.Mutex{}
		r.chatLocks[chatID] = l
	}
	return l
}

// Apply writes one normalized record to the store. Applying the same record
// twice yields the same state as applying it once. Unique-key violations are
// logged and skipped, never propagated.
func (r *Reconciler) Apply(rec *telegram.Record) error {
	var err error
	switch rec.Kind {
	case telegram.RecordMessage, telegram.RecordEdit:
		err = r.applyMessage(rec.Message)
	case telegram.RecordDelete:
		err = r.applyDelete(rec.Message)
	case telegram.RecordChat:
		err = r.applyChat(rec)
	case telegram.RecordContact:
		err = r.db.UpsertContact(rec.Contact, rec.SourceTS)
	default:
		return fmt.Errorf("apply: unknown record kind %q", rec.Kind)
	}
	if err != nil && isConstraintViolation(err) {
		r.logger.Warn("store integrity violation, record skipped",
			zap.String("kind", string(rec.Kind)), zap.Error(err))
		return nil
	}
	return err
}

func (r *Reconciler) applyMessage(m *store.Message) error {
	l := r.chatLock(m.ChatID)
	l.Lock()
	defer l.Unlock()

	if err := r.db.TouchChat(m.ChatID, m.Timestamp); err != nil {
		return fmt.Errorf("touch chat: %w", err)
	}
	changed, err := r.db.UpsertMessage(m)
	if err != nil {
		return fmt.Errorf("upsert message: %w", err)
	}
	if !changed {
		// Stale mutation; the monotonic guard rejected it.
		return nil
	}
	if m.SenderID != 0 {
		if err := r.db.AddChatMember(m.ChatID, m.SenderID); err != nil {
			return fmt.Errorf("add chat member: %w", err)
		}
		if m.SenderName != "" {
			// Seed the contact from message metadata; a later contact.update
			// with a newer timestamp wins over this.
			_ = r.db.UpsertContact(&store.Contact{ID: m.SenderID, Name: m.SenderName}, m.Timestamp)
		}
	}
	if err := r.db.ExtendCursor(m.ChatID, m.MsgID, m.Timestamp); err != nil {
		return fmt.Errorf("extend cursor: %w", err)
	}

	r.bus.Publish(bus.Event{
		Kind:      bus.KindMessageUpserted,
		Timestamp: time.Now(),
		Payload:   map[string]int64{"chat_id": m.ChatID, "msg_id": m.MsgID},
	})
	return nil
}

func (r *Reconciler) applyDelete(m *store.Message) error {
	l := r.chatLock(m.ChatID)
	l.Lock()
	defer l.Unlock()

	changed, err := r.db.MarkMessageDeleted(m.ChatID, m.MsgID, m.EditTS)
	if err != nil {
		return fmt.Errorf("mark deleted: %w", err)
	}
	if changed {
		r.bus.Publish(bus.Event{
			Kind:      bus.KindMessageDeleted,
			Timestamp: time.Now(),
			Payload:   map[string]int64{"chat_id": m.ChatID, "msg_id": m.MsgID},
		})
	}
	return nil
}

func (r *Reconciler) applyChat(rec *telegram.Record) error {
	c := rec.Chat
	l := r.chatLock(c.ID)
	l.Lock()
	defer l.Unlock()

	if err := r.db.UpsertChat(c, rec.SourceTS); err != nil {
		return fmt.Errorf("upsert chat: %w", err)
	}
	if len(rec.Members) > 0 {
		if err := r.db.BulkUpsertContacts(rec.Members, rec.SourceTS); err != nil {
			return fmt.Errorf("upsert members: %w", err)
		}
		for _, m := range rec.Members {
			if err := r.db.AddChatMember(c.ID, m.ID); err != nil {
				return fmt.Errorf("add chat member: %w", err)
			}
		}
	}
	return nil
}

// ApplyHistoryPage applies one backfill page for a chat in a single
// transaction and widens the chat's sync cursor to cover it. The returned
// count is the number of messages that fell outside the previously covered
// range; zero means the page was already covered ground.
func (r *Reconciler) ApplyHistoryPage(chatID int64, msgs []*store.Message) (int, error) {
	if len(msgs) == 0 {
		return 0, nil
	}
	l := r.chatLock(chatID)
	l.Lock()
	defer l.Unlock()

	cur, err := r.db.GetCursor(chatID)
	if err != nil {
		return 0, fmt.Errorf("get cursor: %w", err)
	}

	tx, err := r.db.Begin()
	if err != nil {
		return 0, fmt.Errorf("begin tx: %w", err)
	}
	defer func() { _ = tx.Rollback() }()

	now := time.Now().UnixMilli()
	newGround := 0
	var minID, minTS, maxID, maxTS int64
	for _, m := range msgs {
		if m.ChatID != chatID {
			continue
		}
		if _, err := tx.Exec(`
			INSERT INTO chats (id, last_message_at, updated_at)
			VALUES (?, ?, 0)
			ON CONFLICT(id) DO UPDATE SET
				last_message_at = MAX(chats.last_message_at, excluded.last_message_at)`,
			m.ChatID, m.Timestamp); err != nil {
			return 0, fmt.Errorf("touch chat in batch: %w", err)
		}
		editTS := m.EditTS
		if editTS == 0 {
			editTS = m.Timestamp
		}
		if _, err := tx.Exec(`
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
			m.FromMe, m.Edited, m.Deleted, m.Timestamp, editTS, now); err != nil {
			if isConstraintViolation(err) {
				r.logger.Warn("store integrity violation in history page, message skipped",
					zap.Int64("chat_id", m.ChatID), zap.Int64("msg_id", m.MsgID), zap.Error(err))
				continue
			}
			return 0, fmt.Errorf("upsert message in batch: %w", err)
		}
		if m.SenderID != 0 {
			if _, err := tx.Exec(`
				INSERT INTO chat_members (chat_id, contact_id) VALUES (?, ?)
				ON CONFLICT(chat_id, contact_id) DO NOTHING`,
				m.ChatID, m.SenderID); err != nil {
				return 0, fmt.Errorf("add chat member in batch: %w", err)
			}
		}
		if cur == nil || cur.OldestMsgID == 0 || m.MsgID < cur.OldestMsgID || m.MsgID > cur.NewestMsgID {
			newGround++
		}
		if minID == 0 || m.MsgID < minID {
			minID, minTS = m.MsgID, m.Timestamp
		}
		if m.MsgID > maxID {
			maxID, maxTS = m.MsgID, m.Timestamp
		}
	}

	if err := tx.Commit(); err != nil {
		return 0, fmt.Errorf("commit batch: %w", err)
	}

	if minID != 0 {
		if err := r.db.ExtendCursor(chatID, minID, minTS); err != nil {
			return 0, fmt.Errorf("extend cursor: %w", err)
		}
		if err := r.db.ExtendCursor(chatID, maxID, maxTS); err != nil {
			return 0, fmt.Errorf("extend cursor: %w", err)
		}
	}

	r.bus.Publish(bus.Event{
		Kind:      bus.KindBackfillPage,
		Timestamp: time.Now(),
		Payload:   map[string]int64{"chat_id": chatID, "messages": int64(len(msgs)), "new": int64(newGround)},
	})
	return newGround, nil
}

func isConstraintViolation(err error) bool {
	var se sqlite3.Error
	if errors.As(err, &se) {
		return se.Code == sqlite3.ErrConstraint
	}
	return false
}
