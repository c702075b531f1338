package daemon

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"net"
	"net/http"
	"os"
	"strconv"
	"time"

	"go.uber.org/zap"

	"github.com/Muhammad18557/telegram-mcp/internal/bus"
	"github.com/Muhammad18557/telegram-mcp/internal/outbox"
	"github.com/Muhammad18557/telegram-mcp/internal/query"
	"github.com/Muhammad18557/telegram-mcp/internal/session"
	"github.com/Muhammad18557/telegram-mcp/internal/status"
	"github.com/Muhammad18557/telegram-mcp/internal/store"
	"github.com/Muhammad18557/telegram-mcp/internal/telegram"
)

// Server exposes the daemon API over the session's Unix domain socket.
type Server struct {
	httpServer *http.Server
	listener   net.Listener
	socketPath string
	logger     *zap.Logger

	sessionName string
	engine      *query.Engine
	gateway     *outbox.Gateway
	machine     *status.Machine
	db          *store.DB
	bus         *bus.Bus
}

// NewServer creates an HTTP server bound to the session's Unix domain socket.
func NewServer(
	p Params,
	logger *zap.Logger,
	engine *query.Engine,
	gateway *outbox.Gateway,
	machine *status.Machine,
	db *store.DB,
	b *bus.Bus,
) (*Server, error) {
	socketPath := p.SocketPath
	if socketPath == "" {
		socketPath = session.SocketPath(p.SessionName)
	}

	// Clean stale socket if it exists.
	if _, err := os.Stat(socketPath); err == nil {
		_ = os.Remove(socketPath)
	}

	listener, err := net.Listen("unix", socketPath)
	if err != nil {
		return nil, fmt.Errorf("listen unix socket: %w", err)
	}
	if err := os.Chmod(socketPath, 0600); err != nil {
		_ = listener.Close()
		return nil, fmt.Errorf("chmod socket: %w", err)
	}

	s := &Server{
		listener:    listener,
		socketPath:  socketPath,
		logger:      logger,
		sessionName: p.SessionName,
		engine:      engine,
		gateway:     gateway,
		machine:     machine,
		db:          db,
		bus:         b,
	}
	s.httpServer = &http.Server{
		Handler:           s.routes(),
		ReadHeaderTimeout: 5 * time.Second,
	}
	return s, nil
}

func (s *Server) routes() *http.ServeMux {
	mux := http.NewServeMux()
	mux.HandleFunc("GET /api/status", s.handleStatus)
	mux.HandleFunc("GET /api/chats", s.handleListChats)
	mux.HandleFunc("GET /api/chats/{id}", s.handleGetChat)
	mux.HandleFunc("GET /api/chats/{id}/messages", s.handleListMessages)
	mux.HandleFunc("GET /api/contacts/search", s.handleSearchContacts)
	mux.HandleFunc("GET /api/contacts/{id}/chats", s.handleContactChats)
	mux.HandleFunc("GET /api/contacts/{id}/direct", s.handleDirectChat)
	mux.HandleFunc("GET /api/contacts/{id}/last", s.handleLastInteraction)
	mux.HandleFunc("GET /api/messages/{id}/context", s.handleMessageContext)
	mux.HandleFunc("GET /api/search", s.handleSearchMessages)
	mux.HandleFunc("POST /api/send", s.handleSend)
	return mux
}

// Start begins serving API requests. Blocks until stopped.
func (s *Server) Start() error {
	s.logger.Info("api server starting", zap.String("socket", s.socketPath))
	err := s.httpServer.Serve(s.listener)
	if errors.Is(err, http.ErrServerClosed) {
		return nil
	}
	return err
}

// Stop performs a graceful shutdown and removes the socket file.
func (s *Server) Stop(ctx context.Context) {
	s.logger.Info("api server stopping")
	_ = s.httpServer.Shutdown(ctx)
	_ = os.Remove(s.socketPath)
}

// Wire DTOs. The store types stay tag-free; the API owns its shapes.

type chatDTO struct {
	ID            int64  `json:"id"`
	Kind          string `json:"kind"`
	Title         string `json:"title"`
	Username      string `json:"username,omitempty"`
	LastMessageAt int64  `json:"last_message_at"`
	Active        bool   `json:"active"`
}

type contactDTO struct {
	ID       int64  `json:"id"`
	Name     string `json:"name"`
	Username string `json:"username,omitempty"`
	Phone    string `json:"phone,omitempty"`
}

type messageDTO struct {
	ID         int64  `json:"id"`
	ChatID     int64  `json:"chat_id"`
	MsgID      int64  `json:"msg_id"`
	SenderID   int64  `json:"sender_id,omitempty"`
	SenderName string `json:"sender_name,omitempty"`
	Body       string `json:"body"`
	MediaRef   string `json:"media_ref,omitempty"`
	ReplyTo    int64  `json:"reply_to,omitempty"`
	FromMe     bool   `json:"from_me"`
	Edited     bool   `json:"edited,omitempty"`
	Timestamp  int64  `json:"ts"`
}

func toChatDTO(c store.Chat) chatDTO {
	return chatDTO{
		ID: c.ID, Kind: c.Kind, Title: c.Title, Username: c.Username,
		LastMessageAt: c.LastMessageAt, Active: c.Active,
	}
}

func toContactDTO(c store.Contact) contactDTO {
	return contactDTO{ID: c.ID, Name: c.Name, Username: c.Username, Phone: c.Phone}
}

func toMessageDTO(m store.Message) messageDTO {
	return messageDTO{
		ID: m.ID, ChatID: m.ChatID, MsgID: m.MsgID,
		SenderID: m.SenderID, SenderName: m.SenderName,
		Body: m.Body, MediaRef: m.MediaRef, ReplyTo: m.ReplyTo,
		FromMe: m.FromMe, Edited: m.Edited, Timestamp: m.Timestamp,
	}
}

func toMessageDTOs(msgs []store.Message) []messageDTO {
	out := make([]messageDTO, 0, len(msgs))
	for _, m := range msgs {
		out = append(out, toMessageDTO(m))
	}
	return out
}

func (s *Server) handleStatus(w http.ResponseWriter, _ *http.Request) {
	chats, err := s.db.ChatCount()
	if err != nil {
		s.writeError(w, err)
		return
	}
	messages, err := s.db.MessageCount()
	if err != nil {
		s.writeError(w, err)
		return
	}
	s.writeJSON(w, http.StatusOK, map[string]any{
		"session":        s.sessionName,
		"state":          s.machine.Current(),
		"chats":          chats,
		"messages":       messages,
		"dropped_events": s.bus.Dropped(),
	})
}

func (s *Server) handleListChats(w http.ResponseWriter, r *http.Request) {
	q := r.URL.Query()
	limit, err := queryInt(q.Get("limit"))
	if err != nil {
		s.writeError(w, err)
		return
	}
	page, err := s.engine.ListChats(q.Get("query"), q.Get("cursor"), limit)
	if err != nil {
		s.writeError(w, err)
		return
	}
	chats := make([]chatDTO, 0, len(page.Chats))
	for _, c := range page.Chats {
		chats = append(chats, toChatDTO(c))
	}
	s.writeJSON(w, http.StatusOK, map[string]any{
		"chats":       chats,
		"next_cursor": page.NextCursor,
	})
}

func (s *Server) handleGetChat(w http.ResponseWriter, r *http.Request) {
	id, err := pathID(r)
	if err != nil {
		s.writeError(w, err)
		return
	}
	chat, err := s.engine.GetChat(id)
	if err != nil {
		s.writeError(w, err)
		return
	}
	s.writeJSON(w, http.StatusOK, toChatDTO(*chat))
}

func (s *Server) handleListMessages(w http.ResponseWriter, r *http.Request) {
	id, err := pathID(r)
	if err != nil {
		s.writeError(w, err)
		return
	}
	q := r.URL.Query()
	limit, err := queryInt(q.Get("limit"))
	if err != nil {
		s.writeError(w, err)
		return
	}
	page, err := s.engine.ListMessages(id, query.ListMessagesOpts{
		Before:  q.Get("before"),
		After:   q.Get("after"),
		Limit:   limit,
		Keyword: q.Get("keyword"),
	})
	if err != nil {
		s.writeError(w, err)
		return
	}
	s.writeJSON(w, http.StatusOK, map[string]any{
		"messages":    toMessageDTOs(page.Messages),
		"next_cursor": page.NextCursor,
	})
}

func (s *Server) handleSearchContacts(w http.ResponseWriter, r *http.Request) {
	q := r.URL.Query()
	limit, err := queryInt(q.Get("limit"))
	if err != nil {
		s.writeError(w, err)
		return
	}
	contacts, err := s.engine.SearchContacts(q.Get("query"), limit)
	if err != nil {
		s.writeError(w, err)
		return
	}
	out := make([]contactDTO, 0, len(contacts))
	for _, c := range contacts {
		out = append(out, toContactDTO(c))
	}
	s.writeJSON(w, http.StatusOK, map[string]any{"contacts": out})
}

func (s *Server) handleContactChats(w http.ResponseWriter, r *http.Request) {
	id, err := pathID(r)
	if err != nil {
		s.writeError(w, err)
		return
	}
	limit, err := queryInt(r.URL.Query().Get("limit"))
	if err != nil {
		s.writeError(w, err)
		return
	}
	chats, err := s.engine.ListContactChats(id, limit)
	if err != nil {
		s.writeError(w, err)
		return
	}
	out := make([]chatDTO, 0, len(chats))
	for _, c := range chats {
		out = append(out, toChatDTO(c))
	}
	s.writeJSON(w, http.StatusOK, map[string]any{"chats": out})
}

func (s *Server) handleDirectChat(w http.ResponseWriter, r *http.Request) {
	id, err := pathID(r)
	if err != nil {
		s.writeError(w, err)
		return
	}
	chat, err := s.engine.FindDirectChat(id)
	if err != nil {
		s.writeError(w, err)
		return
	}
	s.writeJSON(w, http.StatusOK, toChatDTO(*chat))
}

func (s *Server) handleLastInteraction(w http.ResponseWriter, r *http.Request) {
	id, err := pathID(r)
	if err != nil {
		s.writeError(w, err)
		return
	}
	msg, err := s.engine.LastInteraction(id)
	if err != nil {
		s.writeError(w, err)
		return
	}
	s.writeJSON(w, http.StatusOK, toMessageDTO(*msg))
}

func (s *Server) handleMessageContext(w http.ResponseWriter, r *http.Request) {
	id, err := pathID(r)
	if err != nil {
		s.writeError(w, err)
		return
	}
	radius := 5
	if raw := r.URL.Query().Get("radius"); raw != "" {
		radius, err = strconv.Atoi(raw)
		if err != nil {
			s.writeError(w, fmt.Errorf("%w: radius must be an integer", query.ErrInvalidArgument))
			return
		}
	}
	msgs, err := s.engine.MessageContext(id, radius)
	if err != nil {
		s.writeError(w, err)
		return
	}
	s.writeJSON(w, http.StatusOK, map[string]any{"messages": toMessageDTOs(msgs)})
}

func (s *Server) handleSearchMessages(w http.ResponseWriter, r *http.Request) {
	q := r.URL.Query()
	limit, err := queryInt(q.Get("limit"))
	if err != nil {
		s.writeError(w, err)
		return
	}
	var chatID int64
	if raw := q.Get("chat_id"); raw != "" {
		chatID, err = strconv.ParseInt(raw, 10, 64)
		if err != nil {
			s.writeError(w, fmt.Errorf("%w: chat_id must be an integer", query.ErrInvalidArgument))
			return
		}
	}
	results, err := s.engine.SearchMessages(q.Get("query"), chatID, limit)
	if err != nil {
		s.writeError(w, err)
		return
	}
	type hit struct {
		Message messageDTO `json:"message"`
		Snippet string     `json:"snippet"`
	}
	out := make([]hit, 0, len(results))
	for _, res := range results {
		out = append(out, hit{Message: toMessageDTO(res.Message), Snippet: res.Snippet})
	}
	s.writeJSON(w, http.StatusOK, map[string]any{"results": out})
}

func (s *Server) handleSend(w http.ResponseWriter, r *http.Request) {
	var req struct {
		Recipient string `json:"recipient"`
		Message   string `json:"message"`
	}
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		s.writeError(w, fmt.Errorf("%w: malformed request body", query.ErrInvalidArgument))
		return
	}
	msg, err := s.gateway.SendMessage(r.Context(), req.Recipient, req.Message)
	if err != nil {
		s.writeError(w, err)
		return
	}
	s.writeJSON(w, http.StatusOK, toMessageDTO(*msg))
}

func (s *Server) writeJSON(w http.ResponseWriter, code int, v any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(code)
	if err := json.NewEncoder(w).Encode(v); err != nil {
		s.logger.Warn("write response", zap.Error(err))
	}
}

func (s *Server) writeError(w http.ResponseWriter, err error) {
	code := http.StatusInternalServerError
	switch {
	case errors.Is(err, query.ErrNotFound):
		code = http.StatusNotFound
	case errors.Is(err, query.ErrInvalidArgument):
		code = http.StatusBadRequest
	default:
		switch telegram.KindOf(err) {
		case telegram.KindTargetNotFound:
			code = http.StatusNotFound
		case telegram.KindUnauthorized:
			code = http.StatusUnauthorized
		case telegram.KindRateLimited:
			code = http.StatusTooManyRequests
		case telegram.KindTransientNetwork:
			code = http.StatusServiceUnavailable
		}
	}
	if code == http.StatusInternalServerError {
		s.logger.Error("request failed", zap.Error(err))
	}
	s.writeJSON(w, code, map[string]string{"error": err.Error()})
}

func pathID(r *http.Request) (int64, error) {
	id, err := strconv.ParseInt(r.PathValue("id"), 10, 64)
	if err != nil {
		return 0, fmt.Errorf("%w: id must be an integer", query.ErrInvalidArgument)
	}
	return id, nil
}

func queryInt(raw string) (int, error) {
	if raw == "" {
		return 0, nil
	}
	n, err := strconv.Atoi(raw)
	if err != nil {
		return 0, fmt.Errorf("%w: limit must be an integer", query.ErrInvalidArgument)
	}
	return n, nil
}
