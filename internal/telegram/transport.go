package telegram

import "context"

// Transport is the account-authenticated messaging capability the bridge
// consumes. Implementations wrap a live client; tests use fakes. Every call
// must respect ctx deadlines; the bridge always passes bounded contexts.
type Transport interface {
	// Subscribe opens the live event stream. The returned channel is closed
	// when the underlying connection drops; callers reconnect by calling
	// Subscribe again.
	Subscribe(ctx context.Context) (<-chan RawEvent, error)

	// FetchHistoryPage returns up to pageSize messages older than
	// beforeMsgID, newest first. beforeMsgID <= 0 means "from the latest".
	// A short page signals the start of history.
	FetchHistoryPage(ctx context.Context, chatID, beforeMsgID int64, pageSize int) ([]RawMessage, error)

	// ResolveContact resolves a username or display-name query to a contact,
	// or fails with KindTargetNotFound.
	ResolveContact(ctx context.Context, query string) (*RawContact, error)

	// Send delivers a text message to chatID and returns the accepted
	// message as the server recorded it.
	Send(ctx context.Context, chatID int64, body string) (*RawMessage, error)
}
