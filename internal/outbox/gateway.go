package outbox

import (
	"context"
	"fmt"
	"strconv"
	"strings"
	"time"

	"github.com/google/uuid"
	"go.uber.org/zap"

	"github.com/Muhammad18557/telegram-mcp/internal/config"
	"github.com/Muhammad18557/telegram-mcp/internal/query"
	"github.com/Muhammad18557/telegram-mcp/internal/store"
	"github.com/Muhammad18557/telegram-mcp/internal/sync"
	"github.com/Muhammad18557/telegram-mcp/internal/telegram"
)

// Gateway forwards outbound sends to the transport and mirrors accepted
// messages into the store through the reconciler, so reads reflect a sent
// message immediately instead of waiting for the live echo. Transport
// failures pass through unchanged and leave the store untouched.
type Gateway struct {
	transport telegram.Transport
	rec       *sync.Reconciler
	db        *store.DB
	logger    *zap.Logger
	timeout   time.Duration
}

// NewGateway creates a command gateway.
func NewGateway(t telegram.Transport, rec *sync.Reconciler, db *store.DB, cfg config.Sync, logger *zap.Logger) *Gateway {
	if logger == nil {
		logger = zap.NewNop()
	}
	return &Gateway{
		transport: t,
		rec:       rec,
		db:        db,
		logger:    logger,
		timeout:   cfg.TransportTimeout(),
	}
}

// SendMessage resolves target (chat id, @username, or a stored chat name),
// sends body, and returns the stored mirror of the accepted message.
func (g *Gateway) SendMessage(ctx context.Context, target, body string) (*store.Message, error) {
	target = strings.TrimSpace(target)
	if target == "" || strings.TrimSpace(body) == "" {
		return nil, fmt.Errorf("%w: target and body are required", query.ErrInvalidArgument)
	}
	sendID := uuid.New().String()

	chatID, err := g.resolveTarget(ctx, target)
	if err != nil {
		return nil, err
	}

	tctx, cancel := context.WithTimeout(ctx, g.timeout)
	defer cancel()
	raw, err := g.transport.Send(tctx, chatID, body)
	if err != nil {
		g.logger.Warn("send failed",
			zap.String("send_id", sendID), zap.String("target", target), zap.Error(err))
		return nil, err
	}
	raw.FromMe = true
	if raw.ChatID == 0 {
		raw.ChatID = chatID
	}

	rec, err := telegram.Normalize(telegram.RawEvent{Kind: telegram.EventNewMessage, Message: raw})
	if err != nil {
		return nil, fmt.Errorf("normalize sent message: %w", err)
	}
	if err := g.rec.Apply(rec); err != nil {
		return nil, fmt.Errorf("mirror sent message: %w", err)
	}

	stored, err := g.db.GetMessage(raw.ChatID, raw.MsgID)
	if err != nil {
		return nil, fmt.Errorf("read back sent message: %w", err)
	}
	g.logger.Info("message sent",
		zap.String("send_id", sendID), zap.Int64("chat_id", raw.ChatID), zap.Int64("msg_id", raw.MsgID))
	return stored, nil
}

// resolveTarget maps a user-supplied recipient to a chat id: numeric ids
// pass through, @usernames go to the transport resolver, and anything else
// falls back to stored contacts and chat titles.
func (g *Gateway) resolveTarget(ctx context.Context, target string) (int64, error) {
	if id, err := strconv.ParseInt(target, 10, 64); err == nil {
		return id, nil
	}

	name := strings.TrimPrefix(target, "@")
	tctx, cancel := context.WithTimeout(ctx, g.timeout)
	defer cancel()
	c, err := g.transport.ResolveContact(tctx, name)
	if err == nil && c != nil {
		return c.UserID, nil
	}
	if err != nil && telegram.KindOf(err) != telegram.KindTargetNotFound {
		return 0, err
	}

	if stored, err := g.db.FindContactByUsername(name); err == nil && stored != nil {
		return stored.ID, nil
	}
	if chat, err := g.db.FindChatByName(name); err == nil && chat != nil {
		return chat.ID, nil
	}
	return 0, telegram.Errf(telegram.KindTargetNotFound, "recipient %q does not resolve", target)
}
