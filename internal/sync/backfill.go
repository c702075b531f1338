package sync

import (
	"context"
	stdsync "sync"
	"time"

	"go.uber.org/zap"

	"github.com/Muhammad18557/telegram-mcp/internal/bus"
	"github.com/Muhammad18557/telegram-mcp/internal/config"
	"github.com/Muhammad18557/telegram-mcp/internal/store"
	"github.com/Muhammad18557/telegram-mcp/internal/telegram"
)

const pageRetryMinBackoff = 500 * time.Millisecond

// Coordinator pages historical messages into the store, one task per chat
// with bounded concurrency, interleaved with live ingestion. Each chat moves
// idle → paging → caught_up; failures return the chat to idle with the error
// recorded so a later scan resumes from the persisted cursor. On stream
// reconnect it runs a forward catch-up pass to close gaps accumulated while
// the subscription was down.
type Coordinator struct {
	db        *store.DB
	transport telegram.Transport
	rec       *Reconciler
	bus       *bus.Bus
	logger    *zap.Logger
	cfg       config.Sync

	sem    chan struct{}
	cancel context.CancelFunc
	wg     stdsync.WaitGroup

	mu      stdsync.Mutex
	running map[int64]bool
}

// NewCoordinator creates a backfill coordinator.
func NewCoordinator(db *store.DB, t telegram.Transport, rec *Reconciler, b *bus.Bus, cfg config.Sync, logger *zap.Logger) *Coordinator {
	if logger == nil {
		logger = zap.NewNop()
	}
	concurrency := cfg.BackfillConcurrency
	if concurrency <= 0 {
		concurrency = 1
	}
	return &Coordinator{
		db:        db,
		transport: t,
		rec:       rec,
		bus:       b,
		logger:    logger,
		cfg:       cfg,
		sem:       make(chan struct{}, concurrency),
		running:   make(map[int64]bool),
	}
}

// Start begins the periodic scan for chats with uncovered history and
// listens for reconnects to trigger forward catch-up.
func (c *Coordinator) Start(ctx context.Context) {
	ctx, c.cancel = context.WithCancel(ctx)

	events, unsub := c.bus.Subscribe(bus.KindStreamConnected, 8)

	c.wg.Add(1)
	go func() {
		defer c.wg.Done()
		defer unsub()

		interval := c.cfg.ScanInterval()
		if interval <= 0 {
			interval = 15 * time.Second
		}
		ticker := time.NewTicker(interval)
		defer ticker.Stop()

		c.scan(ctx, false)
		for {
			select {
			case <-ticker.C:
				c.scan(ctx, false)
			case _, ok := <-events:
				if !ok {
					return
				}
				// Subscription came back: close live gaps before resuming
				// older-history paging.
				c.scan(ctx, true)
			case <-ctx.Done():
				return
			}
		}
	}()
}

// Stop cancels all backfill tasks and waits for them to settle. Progress is
// persisted in sync_cursors, so a restart resumes without re-fetching
// covered ranges.
func (c *Coordinator) Stop() {
	if c.cancel != nil {
		c.cancel()
	}
	c.wg.Wait()
}

// Trigger schedules an immediate backfill pass for one chat.
func (c *Coordinator) Trigger(ctx context.Context, chatID int64) {
	c.launch(ctx, chatID, false)
}

func (c *Coordinator) scan(ctx context.Context, catchUp bool) {
	cursors, err := c.db.ListCursors("")
	if err != nil {
		c.logger.Error("backfill scan failed", zap.Error(err))
		return
	}
	for _, cur := range cursors {
		if catchUp {
			c.launch(ctx, cur.ChatID, true)
			continue
		}
		if cur.State != store.BackfillCaughtUp {
			c.launch(ctx, cur.ChatID, false)
		}
	}
}

func (c *Coordinator) launch(ctx context.Context, chatID int64, catchUp bool) {
	c.mu.Lock()
	if c.running[chatID] {
		c.mu.Unlock()
		return
	}
	c.running[chatID] = true
	c.mu.Unlock()

	c.wg.Add(1)
	go func() {
		defer c.wg.Done()
		defer func() {
			c.mu.Lock()
			delete(c.running, chatID)
			c.mu.Unlock()
		}()

		select {
		case c.sem <- struct{}{}:
		case <-ctx.Done():
			return
		}
		defer func() { <-c.sem }()

		if catchUp {
			c.catchUpChat(ctx, chatID)
			return
		}
		c.backfillChat(ctx, chatID)
	}()
}

// backfillChat pages older history for one chat until the transport reports
// a short page (history exhausted) or a page lands entirely inside the
// already-covered range.
func (c *Coordinator) backfillChat(ctx context.Context, chatID int64) {
	if err := c.db.SetBackfillState(chatID, store.BackfillPaging, ""); err != nil {
		c.logger.Error("failed to set backfill state", zap.Int64("chat_id", chatID), zap.Error(err))
		return
	}

	attempts := 0
	backoff := pageRetryMinBackoff
	for {
		if ctx.Err() != nil {
			// Shutdown: leave the cursor as-is, the next scan resumes.
			_ = c.db.SetBackfillState(chatID, store.BackfillIdle, "interrupted")
			return
		}

		cur, err := c.db.GetCursor(chatID)
		if err != nil {
			c.fail(chatID, err)
			return
		}
		var before int64
		if cur != nil {
			before = cur.OldestMsgID
		}

		page, err := c.fetchPage(ctx, chatID, before)
		if err != nil {
			if telegram.Retryable(err) && attempts < c.cfg.MaxPageAttempts {
				attempts++
				wait := backoff
				if hint := telegram.RetryHint(err); hint > wait {
					wait = hint
				}
				c.logger.Warn("page fetch failed, retrying",
					zap.Int64("chat_id", chatID), zap.Int("attempt", attempts),
					zap.Duration("backoff", wait), zap.Error(err))
				if !sleepCtx(ctx, wait) {
					_ = c.db.SetBackfillState(chatID, store.BackfillIdle, "interrupted")
					return
				}
				backoff = nextBackoff(backoff, 0)
				continue
			}
			// Retries exhausted or non-retryable: record and move on so
			// other chats keep backfilling.
			c.fail(chatID, err)
			return
		}
		attempts = 0
		backoff = pageRetryMinBackoff

		written, err := c.rec.ApplyHistoryPage(chatID, telegram.NormalizeHistory(page))
		if err != nil {
			c.fail(chatID, err)
			return
		}

		if len(page) < c.cfg.PageSize || written == 0 {
			c.finish(chatID)
			return
		}
	}
}

// catchUpChat walks newest-first pages until it reaches the range that was
// already covered before the outage, closing the gap left by a dropped
// subscription.
func (c *Coordinator) catchUpChat(ctx context.Context, chatID int64) {
	cur, err := c.db.GetCursor(chatID)
	if err != nil {
		c.logger.Error("catch-up cursor read failed", zap.Int64("chat_id", chatID), zap.Error(err))
		return
	}
	var floor int64
	if cur != nil {
		floor = cur.NewestMsgID
	}

	var before int64 // 0 = latest
	for {
		if ctx.Err() != nil {
			return
		}
		page, err := c.fetchPage(ctx, chatID, before)
		if err != nil {
			c.logger.Warn("catch-up fetch failed", zap.Int64("chat_id", chatID), zap.Error(err))
			return
		}
		if len(page) == 0 {
			return
		}
		written, err := c.rec.ApplyHistoryPage(chatID, telegram.NormalizeHistory(page))
		if err != nil {
			c.logger.Error("catch-up apply failed", zap.Int64("chat_id", chatID), zap.Error(err))
			return
		}

		oldest := page[len(page)-1].MsgID
		for _, m := range page {
			if m.MsgID < oldest {
				oldest = m.MsgID
			}
		}
		if written == 0 || oldest <= floor || len(page) < c.cfg.PageSize {
			return
		}
		before = oldest
	}
}

func (c *Coordinator) fetchPage(ctx context.Context, chatID, before int64) ([]telegram.RawMessage, error) {
	tctx, cancel := context.WithTimeout(ctx, c.cfg.TransportTimeout())
	defer cancel()
	return c.transport.FetchHistoryPage(tctx, chatID, before, c.cfg.PageSize)
}

func (c *Coordinator) fail(chatID int64, err error) {
	c.logger.Error("backfill failed", zap.Int64("chat_id", chatID), zap.Error(err))
	if serr := c.db.SetBackfillState(chatID, store.BackfillIdle, err.Error()); serr != nil {
		c.logger.Error("failed to record backfill failure", zap.Int64("chat_id", chatID), zap.Error(serr))
	}
}

func (c *Coordinator) finish(chatID int64) {
	if err := c.db.SetBackfillState(chatID, store.BackfillCaughtUp, ""); err != nil {
		c.logger.Error("failed to mark caught up", zap.Int64("chat_id", chatID), zap.Error(err))
		return
	}
	c.bus.Publish(bus.Event{
		Kind:      bus.KindBackfillCaughtUp,
		Timestamp: time.Now(),
		Payload:   map[string]int64{"chat_id": chatID},
	})
}
