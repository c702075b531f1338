package telegram

import (
	"bufio"
	"context"
	"encoding/json"
	"fmt"
	"net"
	"time"
)

// StreamTransport speaks to the external account-authenticated client over
// a unix socket carrying newline-delimited JSON. Each call opens its own
// connection; the subscription holds one open until the peer closes it.
// The client process owns credentials and session files; this side only
// consumes the capability.
type StreamTransport struct {
	path string
}

// NewStreamTransport creates a transport backed by the unix socket at path.
func NewStreamTransport(path string) *StreamTransport {
	return &StreamTransport{path: path}
}

type streamRequest struct {
	Op     string `json:"op"`
	ChatID int64  `json:"chat_id,omitempty"`
	Before int64  `json:"before,omitempty"`
	Limit  int    `json:"limit,omitempty"`
	Query  string `json:"query,omitempty"`
	Body   string `json:"body,omitempty"`
}

type streamResponse struct {
	Messages []RawMessage `json:"messages,omitempty"`
	Message  *RawMessage  `json:"message,omitempty"`
	Contact  *RawContact  `json:"contact,omitempty"`
	Error    *streamError `json:"error,omitempty"`
}

type streamError struct {
	Kind         string `json:"kind"`
	Msg          string `json:"msg,omitempty"`
	RetryAfterMS int64  `json:"retry_after_ms,omitempty"`
}

func (e *streamError) toError() error {
	return &Error{
		Kind:       ErrorKind(e.Kind),
		Msg:        e.Msg,
		RetryAfter: time.Duration(e.RetryAfterMS) * time.Millisecond,
	}
}

func (t *StreamTransport) dial(ctx context.Context) (net.Conn, error) {
	var d net.Dialer
	conn, err := d.DialContext(ctx, "unix", t.path)
	if err != nil {
		return nil, Errf(KindTransientNetwork, "dial upstream: %v", err)
	}
	if deadline, ok := ctx.Deadline(); ok {
		_ = conn.SetDeadline(deadline)
	}
	return conn, nil
}

func (t *StreamTransport) roundTrip(ctx context.Context, req streamRequest) (*streamResponse, error) {
	conn, err := t.dial(ctx)
	if err != nil {
		return nil, err
	}
	defer func() { _ = conn.Close() }()

	if err := json.NewEncoder(conn).Encode(req); err != nil {
		return nil, Errf(KindTransientNetwork, "write %s request: %v", req.Op, err)
	}
	var resp streamResponse
	if err := json.NewDecoder(bufio.NewReader(conn)).Decode(&resp); err != nil {
		return nil, Errf(KindTransientNetwork, "read %s response: %v", req.Op, err)
	}
	if resp.Error != nil {
		return nil, resp.Error.toError()
	}
	return &resp, nil
}

// Subscribe opens the live event stream. The returned channel closes when
// the upstream connection drops; the caller reconnects by subscribing again.
func (t *StreamTransport) Subscribe(ctx context.Context) (<-chan RawEvent, error) {
	conn, err := t.dial(ctx)
	if err != nil {
		return nil, err
	}
	if err := json.NewEncoder(conn).Encode(streamRequest{Op: "subscribe"}); err != nil {
		_ = conn.Close()
		return nil, Errf(KindTransientNetwork, "write subscribe request: %v", err)
	}
	// The stream outlives the subscribe call's deadline.
	_ = conn.SetDeadline(time.Time{})

	out := make(chan RawEvent)
	go func() {
		defer close(out)
		defer func() { _ = conn.Close() }()

		stop := make(chan struct{})
		defer close(stop)
		go func() {
			select {
			case <-ctx.Done():
				_ = conn.Close()
			case <-stop:
			}
		}()

		scanner := bufio.NewScanner(conn)
		scanner.Buffer(make([]byte, 0, 64*1024), 1024*1024)
		for scanner.Scan() {
			var evt RawEvent
			if err := json.Unmarshal(scanner.Bytes(), &evt); err != nil {
				continue
			}
			select {
			case out <- evt:
			case <-ctx.Done():
				return
			}
		}
	}()
	return out, nil
}

// FetchHistoryPage returns up to pageSize messages older than beforeMsgID.
func (t *StreamTransport) FetchHistoryPage(ctx context.Context, chatID, beforeMsgID int64, pageSize int) ([]RawMessage, error) {
	resp, err := t.roundTrip(ctx, streamRequest{
		Op: "history", ChatID: chatID, Before: beforeMsgID, Limit: pageSize,
	})
	if err != nil {
		return nil, err
	}
	return resp.Messages, nil
}

// ResolveContact resolves a username or display-name query upstream.
func (t *StreamTransport) ResolveContact(ctx context.Context, query string) (*RawContact, error) {
	resp, err := t.roundTrip(ctx, streamRequest{Op: "resolve", Query: query})
	if err != nil {
		return nil, err
	}
	if resp.Contact == nil {
		return nil, Errf(KindTargetNotFound, "contact %q not found", query)
	}
	return resp.Contact, nil
}

// Send delivers a text message and returns the accepted message.
func (t *StreamTransport) Send(ctx context.Context, chatID int64, body string) (*RawMessage, error) {
	resp, err := t.roundTrip(ctx, streamRequest{Op: "send", ChatID: chatID, Body: body})
	if err != nil {
		return nil, err
	}
	if resp.Message == nil {
		return nil, Errf(KindTransientNetwork, "send response missing message")
	}
	return resp.Message, nil
}

var _ Transport = (*StreamTransport)(nil)

// String implements fmt.Stringer for log fields.
func (t *StreamTransport) String() string {
	return fmt.Sprintf("stream(%s)", t.path)
}
