package sync

import (
	"context"
	"time"

	"go.uber.org/zap"

	"github.com/Muhammad18557/telegram-mcp/internal/bus"
	"github.com/Muhammad18557/telegram-mcp/internal/config"
	"github.com/Muhammad18557/telegram-mcp/internal/status"
	"github.com/Muhammad18557/telegram-mcp/internal/telegram"
)

const (
	reconnectMinBackoff = time.Second
	reconnectMaxBackoff = time.Minute
)

// Ingestor maintains the long-lived subscription to the transport's event
// stream and feeds normalized records to the reconciler through a bounded
// queue. When the queue is full the producer blocks, so a slow store applies
// backpressure instead of dropping events. Subscription loss is retried with
// exponential backoff indefinitely; data gaps accumulated during an outage
// are closed by the backfill coordinator's catch-up pass.
type Ingestor struct {
	transport telegram.Transport
	rec       *Reconciler
	bus       *bus.Bus
	machine   *status.Machine
	logger    *zap.Logger
	queueSize int

	cancel context.CancelFunc
	done   chan struct{}
}

// NewIngestor creates a live ingestor.
func NewIngestor(t telegram.Transport, rec *Reconciler, b *bus.Bus, machine *status.Machine, cfg config.Sync, logger *zap.Logger) *Ingestor {
	if logger == nil {
		logger = zap.NewNop()
	}
	return &Ingestor{
		transport: t,
		rec:       rec,
		bus:       b,
		machine:   machine,
		logger:    logger,
		queueSize: cfg.QueueSize,
	}
}

// Start launches the subscription and consumer loops.
func (i *Ingestor) Start(ctx context.Context) {
	ctx, i.cancel = context.WithCancel(ctx)
	i.done = make(chan struct{})

	queue := make(chan telegram.RawEvent, i.queueSize)

	go i.consume(queue)
	go func() {
		defer close(queue)
		i.produce(ctx, queue)
	}()
}

// Stop terminates the subscription and waits for queued events to drain.
func (i *Ingestor) Stop() {
	if i.cancel != nil {
		i.cancel()
	}
	if i.done != nil {
		<-i.done
	}
}

func (i *Ingestor) produce(ctx context.Context, queue chan<- telegram.RawEvent) {
	backoff := reconnectMinBackoff
	for {
		if ctx.Err() != nil {
			return
		}
		_ = i.machine.Transition(status.Connecting)
		events, err := i.transport.Subscribe(ctx)
		if err != nil {
			if telegram.KindOf(err) == telegram.KindUnauthorized {
				i.logger.Error("subscription unauthorized, live ingest halted", zap.Error(err))
				_ = i.machine.Transition(status.Error)
				return
			}
			i.logger.Warn("subscribe failed, retrying",
				zap.Error(err), zap.Duration("backoff", backoff))
			_ = i.machine.Transition(status.Reconnecting)
			if !sleepCtx(ctx, backoff) {
				return
			}
			backoff = nextBackoff(backoff, telegram.RetryHint(err))
			continue
		}

		backoff = reconnectMinBackoff
		_ = i.machine.Transition(status.Syncing)
		i.bus.Publish(bus.Event{Kind: bus.KindStreamConnected, Timestamp: time.Now()})

		if !i.drain(ctx, events, queue) {
			return
		}

		// Stream ended: connectivity disruption, not a data error.
		i.logger.Warn("event stream lost, reconnecting")
		_ = i.machine.Transition(status.Reconnecting)
		i.bus.Publish(bus.Event{Kind: bus.KindStreamLost, Timestamp: time.Now()})
		if !sleepCtx(ctx, backoff) {
			return
		}
		backoff = nextBackoff(backoff, 0)
	}
}

// drain forwards stream events into the bounded queue. Returns false when
// ctx is done, true when the stream closed and a reconnect should follow.
func (i *Ingestor) drain(ctx context.Context, events <-chan telegram.RawEvent, queue chan<- telegram.RawEvent) bool {
	first := true
	for {
		select {
		case evt, ok := <-events:
			if !ok {
				return true
			}
			if first {
				first = false
				_ = i.machine.Transition(status.Ready)
			}
			select {
			case queue <- evt:
			case <-ctx.Done():
				return false
			}
		case <-ctx.Done():
			return false
		}
	}
}

func (i *Ingestor) consume(queue <-chan telegram.RawEvent) {
	defer close(i.done)
	for evt := range queue {
		rec, err := telegram.Normalize(evt)
		if err != nil {
			// Unsupported event kinds are dropped, never fatal.
			i.logger.Warn("dropping event", zap.String("kind", string(evt.Kind)), zap.Error(err))
			continue
		}
		if err := i.rec.Apply(rec); err != nil {
			i.logger.Error("failed to apply record",
				zap.String("kind", string(rec.Kind)), zap.Error(err))
		}
	}
}

func nextBackoff(cur time.Duration, hint time.Duration) time.Duration {
	next := cur * 2
	if next > reconnectMaxBackoff {
		next = reconnectMaxBackoff
	}
	if hint > next {
		next = hint
	}
	return next
}

func sleepCtx(ctx context.Context, d time.Duration) bool {
	t := time.NewTimer(d)
	defer t.Stop()
	select {
	case <-t.C:
		return true
	case <-ctx.Done():
		return false
	}
}
