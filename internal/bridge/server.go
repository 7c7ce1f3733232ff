// internal/bridge/server.go
// Local HTTP surface for the UI process. The daemon owns the backend
// connection; the UI talks to this bridge on loopback and receives
// socket events over a local websocket fan-out.

package bridge

import (
	"context"
	"encoding/json"
	"errors"
	"log"
	"net/http"
	"strconv"
	"sync"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/go-chi/chi/v5/middleware"
	"github.com/gorilla/websocket"
	"github.com/prometheus/client_golang/prometheus/promhttp"

	"github.com/taskchat/syncd/internal/api"
	"github.com/taskchat/syncd/internal/archive"
	"github.com/taskchat/syncd/internal/cache"
	"github.com/taskchat/syncd/internal/chat"
	"github.com/taskchat/syncd/internal/socket"
	"github.com/taskchat/syncd/internal/window"
)

var upgrader = websocket.Upgrader{
	ReadBufferSize:  1024,
	WriteBufferSize: 1024,
	// Loopback only; the UI process is trusted.
	CheckOrigin: func(r *http.Request) bool { return true },
}

// ResumeState is the slice of the resume store the bridge reads.
// *statestore.Store satisfies it, including in its nil no-op form.
type ResumeState interface {
	ReadCursor(ctx context.Context, conversationID int64) (int64, error)
	LastEvent(ctx context.Context) (time.Time, error)
}

// Server exposes the sync engine to the UI process
type Server struct {
	client *api.Client
	store  *cache.Store
	win    *window.Controller
	sock   *socket.Manager
	arch   archive.Archiver // nil disables /search
	resume ResumeState      // nil disables read-cursor bootstrap
	selfID int64

	clientsMu sync.Mutex
	clients   map[*uiClient]bool
}

type uiClient struct {
	conn *websocket.Conn
	send chan []byte
}

// NewServer wires the bridge over the engine's components and starts
// forwarding socket events to connected UI sockets.
func NewServer(client *api.Client, store *cache.Store, win *window.Controller, sock *socket.Manager, arch archive.Archiver, resume ResumeState, selfID int64) *Server {
	s := &Server{
		client:  client,
		store:   store,
		win:     win,
		sock:    sock,
		arch:    arch,
		resume:  resume,
		selfID:  selfID,
		clients: make(map[*uiClient]bool),
	}

	sock.OnMessageEvent(func(eventType string, event chat.MessageEvent) {
		s.forward(eventType, event)
	})
	sock.OnTyping(func(event chat.TypingEvent) {
		s.forward(chat.EventTyping, event)
	})
	sock.OnStateChange(func(connected bool) {
		s.forward("connection", map[string]bool{"connected": connected})
	})
	store.OnChange(func(conversationID int64) {
		s.forward("cache:changed", map[string]int64{"conversation_id": conversationID})
	})

	return s
}

// Router builds the chi router for the bridge
func (s *Server) Router() http.Handler {
	r := chi.NewRouter()
	r.Use(middleware.Recoverer)
	r.Use(middleware.Logger)

	r.Get("/metrics", promhttp.Handler().ServeHTTP)
	r.Get("/ws", s.handleSocket)

	r.Route("/api/v1", func(r chi.Router) {
		r.Get("/status", s.handleStatus)
		r.Get("/conversations", s.handleConversations)
		r.Route("/conversations/{id}", func(r chi.Router) {
			r.Get("/messages", s.handleMessages)
			r.Post("/activate", s.handleActivate)
			r.Post("/leave", s.handleLeave)
		})
		r.Post("/deactivate", s.handleDeactivate)
		r.Post("/messages", s.handleSend)
		r.Put("/messages/{id}", s.handleEdit)
		r.Delete("/messages/{id}", s.handleDelete)
		r.Get("/typing", s.handleTypingIndicator)
		r.Post("/typing", s.handleSetTyping)
		r.Get("/presence/{userId}", s.handlePresence)
		r.Get("/search", s.handleSearch)
	})

	return r
}

func idParam(r *http.Request, name string) (int64, error) {
	return strconv.ParseInt(chi.URLParam(r, name), 10, 64)
}

func (s *Server) handleStatus(w http.ResponseWriter, r *http.Request) {
	status := map[string]interface{}{
		"connected":              s.sock.IsConnected(),
		"user_id":                s.selfID,
		"active_conversation_id": s.win.ActiveConversation(),
		"list_stale":             s.store.IsListStale(),
	}
	if s.resume != nil {
		if last, err := s.resume.LastEvent(r.Context()); err == nil && !last.IsZero() {
			status["last_event_at"] = last
		}
	}
	JSON(w, http.StatusOK, status)
}

func (s *Server) handleConversations(w http.ResponseWriter, r *http.Request) {
	conversations, err := s.store.Conversations(r.Context())
	if err != nil {
		Error(w, http.StatusBadGateway, "failed to load conversations: "+err.Error())
		return
	}

	// Attach the viewer-relative display name so the UI never
	// recomputes naming rules, and the mirrored read cursor so a
	// restarted daemon paints unread markers before the first refetch.
	type listEntry struct {
		*chat.Conversation
		DisplayName string `json:"display_name"`
		ReadCursor  int64  `json:"read_cursor,omitempty"`
	}
	out := make([]listEntry, 0, len(conversations))
	for _, conv := range conversations {
		entry := listEntry{Conversation: conv, DisplayName: conv.DisplayName(s.selfID)}
		if s.resume != nil {
			if cursor, err := s.resume.ReadCursor(r.Context(), conv.ID); err == nil {
				entry.ReadCursor = cursor
			}
		}
		out = append(out, entry)
	}
	JSON(w, http.StatusOK, out)
}

func (s *Server) handleMessages(w http.ResponseWriter, r *http.Request) {
	id, err := idParam(r, "id")
	if err != nil {
		Error(w, http.StatusBadRequest, "invalid conversation id")
		return
	}

	messages, err := s.store.Messages(r.Context(), id)
	if err != nil {
		Error(w, http.StatusBadGateway, "failed to load messages: "+err.Error())
		return
	}

	type messageEntry struct {
		*chat.Message
		DisplayContent string `json:"display_content"`
	}
	out := make([]messageEntry, 0, len(messages))
	for _, msg := range messages {
		out = append(out, messageEntry{msg, chat.DisplayContent(msg)})
	}
	JSON(w, http.StatusOK, out)
}

func (s *Server) handleActivate(w http.ResponseWriter, r *http.Request) {
	id, err := idParam(r, "id")
	if err != nil {
		Error(w, http.StatusBadRequest, "invalid conversation id")
		return
	}

	if err := s.win.Activate(r.Context(), id); err != nil {
		if errors.Is(err, socket.ErrNotConnected) {
			Error(w, http.StatusServiceUnavailable, "not connected")
			return
		}
		Error(w, http.StatusBadGateway, err.Error())
		return
	}
	Message(w, http.StatusOK, "conversation activated")
}

func (s *Server) handleDeactivate(w http.ResponseWriter, r *http.Request) {
	s.win.Deactivate()
	Message(w, http.StatusOK, "conversation deactivated")
}

func (s *Server) handleLeave(w http.ResponseWriter, r *http.Request) {
	id, err := idParam(r, "id")
	if err != nil {
		Error(w, http.StatusBadRequest, "invalid conversation id")
		return
	}

	// Run the membership guard locally before any round trip.
	if s.win.ActiveConversation() == id {
		if err := s.win.CanLeaveActive(); err != nil {
			Error(w, http.StatusConflict, err.Error())
			return
		}
	} else {
		conversation, err := s.client.GetConversation(r.Context(), id)
		if err != nil {
			Error(w, http.StatusBadGateway, err.Error())
			return
		}
		if err := chat.CheckLeave(conversation, s.selfID); err != nil {
			Error(w, http.StatusConflict, err.Error())
			return
		}
	}

	if err := s.client.LeaveConversation(r.Context(), id); err != nil {
		Error(w, http.StatusBadGateway, err.Error())
		return
	}

	if s.win.ActiveConversation() == id {
		s.win.Deactivate()
	}
	s.store.Drop(id)
	s.store.InvalidateList()
	Message(w, http.StatusOK, "left conversation")
}

func (s *Server) handleSend(w http.ResponseWriter, r *http.Request) {
	var req struct {
		Content string `json:"content"`
	}
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil || req.Content == "" {
		Error(w, http.StatusBadRequest, "content is required")
		return
	}

	if err := s.win.Send(req.Content); err != nil {
		if errors.Is(err, socket.ErrNotConnected) {
			// The UI keeps the compose text and shows a notice.
			Error(w, http.StatusServiceUnavailable, "message not sent: not connected")
			return
		}
		Error(w, http.StatusBadGateway, err.Error())
		return
	}
	Message(w, http.StatusAccepted, "message sent")
}

func (s *Server) handleEdit(w http.ResponseWriter, r *http.Request) {
	id, err := idParam(r, "id")
	if err != nil {
		Error(w, http.StatusBadRequest, "invalid message id")
		return
	}

	var req chat.EditMessageRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		Error(w, http.StatusBadRequest, "invalid request")
		return
	}

	if _, err := s.client.EditMessage(r.Context(), id, req.Content); err != nil {
		Error(w, http.StatusBadGateway, err.Error())
		return
	}
	Message(w, http.StatusOK, "message updated")
}

func (s *Server) handleDelete(w http.ResponseWriter, r *http.Request) {
	id, err := idParam(r, "id")
	if err != nil {
		Error(w, http.StatusBadRequest, "invalid message id")
		return
	}

	if err := s.client.DeleteMessage(r.Context(), id); err != nil {
		Error(w, http.StatusBadGateway, err.Error())
		return
	}
	Message(w, http.StatusOK, "message deleted")
}

func (s *Server) handleTypingIndicator(w http.ResponseWriter, r *http.Request) {
	JSON(w, http.StatusOK, map[string]interface{}{
		"indicator": s.win.TypingIndicator(),
		"count":     s.win.TypingCount(),
	})
}

func (s *Server) handleSetTyping(w http.ResponseWriter, r *http.Request) {
	var req struct {
		IsTyping bool `json:"is_typing"`
	}
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		Error(w, http.StatusBadRequest, "invalid request")
		return
	}

	if err := s.win.SetTyping(req.IsTyping); err != nil {
		Error(w, http.StatusBadGateway, err.Error())
		return
	}
	Message(w, http.StatusOK, "typing state published")
}

// handleSearch queries the local message archive. Available only when
// the daemon runs with an archive configured.
func (s *Server) handleSearch(w http.ResponseWriter, r *http.Request) {
	if s.arch == nil {
		Error(w, http.StatusServiceUnavailable, "archive not configured")
		return
	}

	query := r.URL.Query().Get("q")
	if query == "" {
		Error(w, http.StatusBadRequest, "q is required")
		return
	}
	limit, _ := strconv.Atoi(r.URL.Query().Get("limit"))

	messages, err := s.arch.SearchMessages(r.Context(), query, limit)
	if err != nil {
		Error(w, http.StatusBadGateway, "search failed: "+err.Error())
		return
	}
	JSON(w, http.StatusOK, messages)
}

func (s *Server) handlePresence(w http.ResponseWriter, r *http.Request) {
	id, err := idParam(r, "userId")
	if err != nil {
		Error(w, http.StatusBadRequest, "invalid user id")
		return
	}
	JSON(w, http.StatusOK, map[string]bool{"online": s.sock.IsUserOnline(id)})
}

// UI websocket fan-out

func (s *Server) handleSocket(w http.ResponseWriter, r *http.Request) {
	conn, err := upgrader.Upgrade(w, r, nil)
	if err != nil {
		return
	}

	c := &uiClient{conn: conn, send: make(chan []byte, 256)}
	s.clientsMu.Lock()
	s.clients[c] = true
	s.clientsMu.Unlock()

	go s.writePump(c)
	go s.readPump(c)
}

// readPump drains and discards UI frames; the bridge's REST endpoints
// are the command surface, the socket is push-only.
func (s *Server) readPump(c *uiClient) {
	defer func() {
		s.clientsMu.Lock()
		delete(s.clients, c)
		s.clientsMu.Unlock()
		c.conn.Close()
		close(c.send)
	}()

	for {
		if _, _, err := c.conn.ReadMessage(); err != nil {
			return
		}
	}
}

func (s *Server) writePump(c *uiClient) {
	for message := range c.send {
		c.conn.SetWriteDeadline(time.Now().Add(10 * time.Second))
		if err := c.conn.WriteMessage(websocket.TextMessage, message); err != nil {
			return
		}
	}
}

func (s *Server) forward(eventType string, payload interface{}) {
	env, err := chat.NewEnvelope(eventType, payload)
	if err != nil {
		log.Printf("Error building UI envelope: %v", err)
		return
	}
	data, _ := json.Marshal(env)

	s.clientsMu.Lock()
	defer s.clientsMu.Unlock()
	for c := range s.clients {
		select {
		case c.send <- data:
		default:
		}
	}
}
