package daemon

import (
	"bytes"
	"context"
	"encoding/json"
	"net"
	"net/http"
	"os"
	"path/filepath"
	"testing"
	"time"

	"go.uber.org/zap"

	"github.com/Muhammad18557/telegram-mcp/internal/bus"
	"github.com/Muhammad18557/telegram-mcp/internal/config"
	"github.com/Muhammad18557/telegram-mcp/internal/outbox"
	"github.com/Muhammad18557/telegram-mcp/internal/query"
	"github.com/Muhammad18557/telegram-mcp/internal/status"
	"github.com/Muhammad18557/telegram-mcp/internal/store"
	intsync "github.com/Muhammad18557/telegram-mcp/internal/sync"
	"github.com/Muhammad18557/telegram-mcp/internal/telegram"
)

type sendOnlyTransport struct{}

func (sendOnlyTransport) Subscribe(context.Context) (<-chan telegram.RawEvent, error) {
	return nil, telegram.Errf(telegram.KindTransientNetwork, "no stream in tests")
}

func (sendOnlyTransport) FetchHistoryPage(context.Context, int64, int64, int) ([]telegram.RawMessage, error) {
	return nil, nil
}

func (sendOnlyTransport) ResolveContact(_ context.Context, q string) (*telegram.RawContact, error) {
	return nil, telegram.Errf(telegram.KindTargetNotFound, "contact %q not found", q)
}

func (sendOnlyTransport) Send(_ context.Context, chatID int64, body string) (*telegram.RawMessage, error) {
	return &telegram.RawMessage{MsgID: 77, ChatID: chatID, Body: body, Timestamp: 7000}, nil
}

func testServer(t *testing.T) (*http.Client, *store.DB) {
	t.Helper()
	// Short path to stay under the unix socket length limit.
	tmpDir, err := os.MkdirTemp("/tmp", "tgb-test-*")
	if err != nil {
		t.Fatal(err)
	}
	t.Cleanup(func() { _ = os.RemoveAll(tmpDir) })
	socketPath := filepath.Join(tmpDir, "d.sock")

	db, err := store.Open(filepath.Join(tmpDir, "bridge.db"))
	if err != nil {
		t.Fatal(err)
	}
	if _, err := db.Migrate(); err != nil {
		t.Fatal(err)
	}
	t.Cleanup(func() { _ = db.Close() })

	b := bus.New()
	machine := status.NewMachine(b)
	rec := intsync.NewReconciler(db, b, nil)
	gateway := outbox.NewGateway(sendOnlyTransport{}, rec, db, config.Default().Sync, nil)

	srv, err := NewServer(
		Params{SessionName: "test", SocketPath: socketPath},
		zap.NewNop(), query.NewEngine(db), gateway, machine, db, b,
	)
	if err != nil {
		t.Fatal(err)
	}
	go func() { _ = srv.Start() }()
	t.Cleanup(func() {
		ctx, cancel := context.WithTimeout(context.Background(), time.Second)
		defer cancel()
		srv.Stop(ctx)
	})

	client := &http.Client{
		Transport: &http.Transport{
			DialContext: func(ctx context.Context, _, _ string) (net.Conn, error) {
				var d net.Dialer
				return d.DialContext(ctx, "unix", socketPath)
			},
		},
	}
	return client, db
}

func getJSON(t *testing.T, client *http.Client, path string, wantStatus int, out any) {
	t.Helper()
	resp, err := client.Get("http://unix" + path)
	if err != nil {
		t.Fatalf("GET %s: %v", path, err)
	}
	defer func() { _ = resp.Body.Close() }()
	if resp.StatusCode != wantStatus {
		t.Fatalf("GET %s status = %d, want %d", path, resp.StatusCode, wantStatus)
	}
	if out != nil {
		if err := json.NewDecoder(resp.Body).Decode(out); err != nil {
			t.Fatalf("decode %s: %v", path, err)
		}
	}
}

func TestStatusEndpoint(t *testing.T) {
	client, _ := testServer(t)

	var body struct {
		Session string `json:"session"`
		State   string `json:"state"`
	}
	getJSON(t, client, "/api/status", http.StatusOK, &body)
	if body.Session != "test" {
		t.Errorf("session = %q, want test", body.Session)
	}
	if body.State != string(status.Booting) {
		t.Errorf("state = %q, want %q", body.State, status.Booting)
	}
}

func TestChatAndMessageEndpoints(t *testing.T) {
	client, db := testServer(t)

	if err := db.UpsertChat(&store.Chat{ID: 1, Kind: "direct", Title: "Ana", LastMessageAt: 1000, Active: true}, 1000); err != nil {
		t.Fatal(err)
	}
	if _, err := db.UpsertMessage(&store.Message{ChatID: 1, MsgID: 10, Body: "hello", Timestamp: 1000}); err != nil {
		t.Fatal(err)
	}

	var chats struct {
		Chats []struct {
			ID    int64  `json:"id"`
			Title string `json:"title"`
		} `json:"chats"`
	}
	getJSON(t, client, "/api/chats", http.StatusOK, &chats)
	if len(chats.Chats) != 1 || chats.Chats[0].Title != "Ana" {
		t.Errorf("chats = %+v", chats)
	}

	var msgs struct {
		Messages []struct {
			MsgID int64  `json:"msg_id"`
			Body  string `json:"body"`
		} `json:"messages"`
	}
	getJSON(t, client, "/api/chats/1/messages", http.StatusOK, &msgs)
	if len(msgs.Messages) != 1 || msgs.Messages[0].Body != "hello" {
		t.Errorf("messages = %+v", msgs)
	}

	getJSON(t, client, "/api/chats/99", http.StatusNotFound, nil)
	getJSON(t, client, "/api/chats/notanumber", http.StatusBadRequest, nil)
	getJSON(t, client, "/api/chats/1/messages?limit=9999", http.StatusBadRequest, nil)
}

func TestSendEndpoint(t *testing.T) {
	client, db := testServer(t)

	payload, _ := json.Marshal(map[string]string{"recipient": "42", "message": "hi there"})
	resp, err := client.Post("http://unix/api/send", "application/json", bytes.NewReader(payload))
	if err != nil {
		t.Fatal(err)
	}
	defer func() { _ = resp.Body.Close() }()
	if resp.StatusCode != http.StatusOK {
		t.Fatalf("status = %d, want 200", resp.StatusCode)
	}

	var sent struct {
		ChatID int64 `json:"chat_id"`
		FromMe bool  `json:"from_me"`
	}
	if err := json.NewDecoder(resp.Body).Decode(&sent); err != nil {
		t.Fatal(err)
	}
	if sent.ChatID != 42 || !sent.FromMe {
		t.Errorf("sent = %+v", sent)
	}

	// Mirrored into the store.
	if m, _ := db.GetMessage(42, 77); m == nil {
		t.Error("sent message not mirrored")
	}
}

func TestSendEndpointErrorMapping(t *testing.T) {
	client, _ := testServer(t)

	for _, tc := range []struct {
		recipient string
		message   string
		want      int
	}{
		{"", "hi", http.StatusBadRequest},
		{"nobody-known", "hi", http.StatusNotFound},
	} {
		payload, _ := json.Marshal(map[string]string{"recipient": tc.recipient, "message": tc.message})
		resp, err := client.Post("http://unix/api/send", "application/json", bytes.NewReader(payload))
		if err != nil {
			t.Fatal(err)
		}
		_ = resp.Body.Close()
		if resp.StatusCode != tc.want {
			t.Errorf("send to %q status = %d, want %d", tc.recipient, resp.StatusCode, tc.want)
		}
	}
}
