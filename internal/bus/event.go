package bus

import "time"

// Event kinds published by the bridge. Subscribers filter by namespace
// prefix, e.g. "sync." receives every sync event.
const (
	KindMessageUpserted  = "message.upserted"
	KindMessageDeleted   = "message.deleted"
	KindBackfillPage     = "sync.backfill_page"
	KindBackfillCaughtUp = "sync.backfill_caught_up"
	KindStreamConnected  = "sync.connected"
	KindStreamLost       = "sync.disconnected"
	KindStatusChanged    = "session.status_changed"
)

// Event represents a domain event published on the bus.
type Event struct {
	Kind      string
	Timestamp time.Time
	Payload   any
}
