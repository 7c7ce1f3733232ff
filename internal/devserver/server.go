// internal/devserver/server.go
// Reference chat backend speaking the production socket protocol and
// REST envelope. Backs integration tests and local development; state
// lives in memory only.

package devserver

import (
	"encoding/json"
	"log"
	"net/http"
	"strconv"
	"strings"
	"sync"
	"time"

	"github.com/gorilla/mux"
	"github.com/gorilla/websocket"

	"github.com/taskchat/syncd/internal/chat"
)

var upgrader = websocket.Upgrader{
	ReadBufferSize:  1024,
	WriteBufferSize: 1024,
	CheckOrigin:     func(r *http.Request) bool { return true },
}

// client is one connected socket
type client struct {
	userID int64
	conn   *websocket.Conn
	send   chan []byte

	mu    sync.Mutex
	rooms map[int64]bool
}

// Server is the in-memory reference backend
type Server struct {
	store  *memoryStore
	router *mux.Router

	clientsMu sync.RWMutex
	clients   map[*client]bool
}

// New creates a reference server with empty state
func New() *Server {
	s := &Server{
		store:   newMemoryStore(),
		clients: make(map[*client]bool),
	}

	r := mux.NewRouter()
	r.HandleFunc("/ws", s.handleSocket).Methods("GET")

	api := r.PathPrefix("/api/v1/chat").Subrouter()
	api.HandleFunc("/conversations", s.handleGetConversations).Methods("GET")
	api.HandleFunc("/conversations", s.handleCreateConversation).Methods("POST")
	api.HandleFunc("/conversations/{id:[0-9]+}", s.handleGetConversation).Methods("GET")
	api.HandleFunc("/conversations/{id:[0-9]+}/messages", s.handleGetMessages).Methods("GET")
	api.HandleFunc("/conversations/{id:[0-9]+}/participants", s.handleAddParticipant).Methods("POST")
	api.HandleFunc("/conversations/{id:[0-9]+}/participants/{userId:[0-9]+}", s.handleRemoveParticipant).Methods("DELETE")
	api.HandleFunc("/conversations/{id:[0-9]+}/leave", s.handleLeave).Methods("POST")
	api.HandleFunc("/messages", s.handleSendMessage).Methods("POST")
	api.HandleFunc("/messages/{id:[0-9]+}", s.handleEditMessage).Methods("PUT", "PATCH")
	api.HandleFunc("/messages/{id:[0-9]+}", s.handleDeleteMessage).Methods("DELETE")
	api.HandleFunc("/messages/read", s.handleMarkRead).Methods("POST")

	s.router = r
	return s
}

// Handler returns the HTTP handler for the server
func (s *Server) Handler() http.Handler {
	return s.router
}

// Seed helpers for tests and local development

func (s *Server) SeedUser(user *chat.UserInfo) {
	s.store.addUser(user)
}

func (s *Server) SeedConversation(kind chat.Kind, name string, creatorID int64, participantIDs []int64) *chat.Conversation {
	return s.store.createConversation(kind, name, creatorID, participantIDs)
}

func (s *Server) SeedMessage(conversationID, senderID int64, content string) (*chat.Message, error) {
	return s.store.appendMessage(conversationID, senderID, content)
}

// userID extracts the caller identity. Dev-only scheme: the bearer
// token is the numeric user id.
func userID(r *http.Request) (int64, bool) {
	token := strings.TrimSpace(strings.TrimPrefix(r.Header.Get("Authorization"), "Bearer "))
	if token == "" {
		token = r.URL.Query().Get("user_id")
	}
	id, err := strconv.ParseInt(token, 10, 64)
	if err != nil || id <= 0 {
		return 0, false
	}
	return id, true
}

// Envelope helpers (the same shape the production backend uses)

func respondData(w http.ResponseWriter, code int, data interface{}) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(code)
	json.NewEncoder(w).Encode(map[string]interface{}{
		"success": true,
		"data":    data,
	})
}

func respondError(w http.ResponseWriter, code int, message string) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(code)
	json.NewEncoder(w).Encode(map[string]interface{}{
		"success": false,
		"error":   message,
	})
}

// REST handlers

func (s *Server) handleGetConversations(w http.ResponseWriter, r *http.Request) {
	uid, ok := userID(r)
	if !ok {
		respondError(w, http.StatusUnauthorized, "unauthorized")
		return
	}
	respondData(w, http.StatusOK, s.store.conversationsFor(uid))
}

func (s *Server) handleGetConversation(w http.ResponseWriter, r *http.Request) {
	uid, ok := userID(r)
	if !ok {
		respondError(w, http.StatusUnauthorized, "unauthorized")
		return
	}
	id, _ := strconv.ParseInt(mux.Vars(r)["id"], 10, 64)

	conv, err := s.store.conversation(id)
	if err != nil {
		respondError(w, http.StatusNotFound, err.Error())
		return
	}
	if findParticipant(conv, uid) == nil {
		respondError(w, http.StatusForbidden, errNotParticipant.Error())
		return
	}
	respondData(w, http.StatusOK, conv)
}

func (s *Server) handleGetMessages(w http.ResponseWriter, r *http.Request) {
	if _, ok := userID(r); !ok {
		respondError(w, http.StatusUnauthorized, "unauthorized")
		return
	}
	id, _ := strconv.ParseInt(mux.Vars(r)["id"], 10, 64)

	limit, _ := strconv.Atoi(r.URL.Query().Get("limit"))
	offset, _ := strconv.Atoi(r.URL.Query().Get("offset"))
	if limit <= 0 {
		limit = 50
	}

	respondData(w, http.StatusOK, s.store.conversationMessages(id, limit, offset))
}

func (s *Server) handleCreateConversation(w http.ResponseWriter, r *http.Request) {
	uid, ok := userID(r)
	if !ok {
		respondError(w, http.StatusUnauthorized, "unauthorized")
		return
	}

	var req chat.CreateConversationRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		respondError(w, http.StatusBadRequest, "invalid request")
		return
	}
	if !req.Kind.Valid() {
		respondError(w, http.StatusBadRequest, "invalid conversation type")
		return
	}

	conv := s.store.createConversation(req.Kind, req.Name, uid, req.ParticipantIDs)
	respondData(w, http.StatusCreated, conv)
}

func (s *Server) handleSendMessage(w http.ResponseWriter, r *http.Request) {
	uid, ok := userID(r)
	if !ok {
		respondError(w, http.StatusUnauthorized, "unauthorized")
		return
	}

	var req chat.SendMessageRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		respondError(w, http.StatusBadRequest, "invalid request")
		return
	}

	msg, err := s.store.appendMessage(req.ConversationID, uid, req.Content)
	if err != nil {
		respondError(w, http.StatusBadRequest, err.Error())
		return
	}

	s.pushMessageEvent(chat.EventMessageNew, msg)
	respondData(w, http.StatusCreated, msg)
}

func (s *Server) handleEditMessage(w http.ResponseWriter, r *http.Request) {
	uid, ok := userID(r)
	if !ok {
		respondError(w, http.StatusUnauthorized, "unauthorized")
		return
	}
	id, _ := strconv.ParseInt(mux.Vars(r)["id"], 10, 64)

	var req chat.EditMessageRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		respondError(w, http.StatusBadRequest, "invalid request")
		return
	}

	msg, err := s.store.editMessage(id, uid, req.Content)
	if err != nil {
		respondError(w, http.StatusBadRequest, err.Error())
		return
	}

	s.pushMessageEvent(chat.EventMessageUpdated, msg)
	respondData(w, http.StatusOK, msg)
}

func (s *Server) handleDeleteMessage(w http.ResponseWriter, r *http.Request) {
	uid, ok := userID(r)
	if !ok {
		respondError(w, http.StatusUnauthorized, "unauthorized")
		return
	}
	id, _ := strconv.ParseInt(mux.Vars(r)["id"], 10, 64)

	msg, err := s.store.deleteMessage(id, uid)
	if err != nil {
		respondError(w, http.StatusBadRequest, err.Error())
		return
	}

	s.pushMessageEvent(chat.EventMessageDeleted, msg)
	respondData(w, http.StatusOK, map[string]string{"status": "deleted"})
}

func (s *Server) handleAddParticipant(w http.ResponseWriter, r *http.Request) {
	if _, ok := userID(r); !ok {
		respondError(w, http.StatusUnauthorized, "unauthorized")
		return
	}
	id, _ := strconv.ParseInt(mux.Vars(r)["id"], 10, 64)

	var req chat.AddParticipantRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		respondError(w, http.StatusBadRequest, "invalid request")
		return
	}

	if err := s.store.addParticipant(id, req.UserID, req.IsAdmin); err != nil {
		respondError(w, http.StatusBadRequest, err.Error())
		return
	}
	respondData(w, http.StatusOK, map[string]string{"status": "added"})
}

func (s *Server) handleRemoveParticipant(w http.ResponseWriter, r *http.Request) {
	if _, ok := userID(r); !ok {
		respondError(w, http.StatusUnauthorized, "unauthorized")
		return
	}
	id, _ := strconv.ParseInt(mux.Vars(r)["id"], 10, 64)
	target, _ := strconv.ParseInt(mux.Vars(r)["userId"], 10, 64)

	if err := s.store.removeParticipant(id, target); err != nil {
		respondError(w, http.StatusBadRequest, err.Error())
		return
	}
	respondData(w, http.StatusOK, map[string]string{"status": "removed"})
}

func (s *Server) handleLeave(w http.ResponseWriter, r *http.Request) {
	uid, ok := userID(r)
	if !ok {
		respondError(w, http.StatusUnauthorized, "unauthorized")
		return
	}
	id, _ := strconv.ParseInt(mux.Vars(r)["id"], 10, 64)

	conv, err := s.store.conversation(id)
	if err != nil {
		respondError(w, http.StatusNotFound, err.Error())
		return
	}
	if err := chat.CheckLeave(conv, uid); err != nil {
		respondError(w, http.StatusConflict, err.Error())
		return
	}
	if err := s.store.removeParticipant(id, uid); err != nil {
		respondError(w, http.StatusBadRequest, err.Error())
		return
	}
	respondData(w, http.StatusOK, map[string]string{"status": "left"})
}

func (s *Server) handleMarkRead(w http.ResponseWriter, r *http.Request) {
	if _, ok := userID(r); !ok {
		respondError(w, http.StatusUnauthorized, "unauthorized")
		return
	}
	// Read state is deduplicated server-side; redundant marks are fine.
	respondData(w, http.StatusOK, map[string]string{"status": "read"})
}

// Socket handling

func (s *Server) handleSocket(w http.ResponseWriter, r *http.Request) {
	uid, ok := userID(r)
	if !ok {
		http.Error(w, "Unauthorized", http.StatusUnauthorized)
		return
	}

	conn, err := upgrader.Upgrade(w, r, nil)
	if err != nil {
		return
	}

	c := &client{
		userID: uid,
		conn:   conn,
		send:   make(chan []byte, 256),
		rooms:  make(map[int64]bool),
	}

	s.clientsMu.Lock()
	s.clients[c] = true
	s.clientsMu.Unlock()

	s.broadcastPresence(uid, "online")

	go s.writePump(c)
	go s.readPump(c)
}

func (s *Server) readPump(c *client) {
	defer func() {
		s.clientsMu.Lock()
		delete(s.clients, c)
		s.clientsMu.Unlock()
		c.conn.Close()
		close(c.send)
		s.broadcastPresence(c.userID, "offline")
	}()

	for {
		_, data, err := c.conn.ReadMessage()
		if err != nil {
			if websocket.IsUnexpectedCloseError(err, websocket.CloseGoingAway, websocket.CloseAbnormalClosure, websocket.CloseNormalClosure) {
				log.Printf("Socket error for user %d: %v", c.userID, err)
			}
			return
		}
		s.handleDirective(c, data)
	}
}

func (s *Server) writePump(c *client) {
	for message := range c.send {
		c.conn.SetWriteDeadline(time.Now().Add(10 * time.Second))
		if err := c.conn.WriteMessage(websocket.TextMessage, message); err != nil {
			return
		}
	}
}

func (s *Server) handleDirective(c *client, data []byte) {
	var env chat.Envelope
	if err := json.Unmarshal(data, &env); err != nil {
		log.Printf("Error unmarshaling directive: %v", err)
		return
	}

	switch env.Type {
	case chat.DirectiveJoin:
		var d chat.RoomDirective
		if err := json.Unmarshal(env.Data, &d); err != nil {
			return
		}
		c.mu.Lock()
		c.rooms[d.ConversationID] = true
		c.mu.Unlock()

	case chat.DirectiveLeave:
		var d chat.RoomDirective
		if err := json.Unmarshal(env.Data, &d); err != nil {
			return
		}
		c.mu.Lock()
		delete(c.rooms, d.ConversationID)
		c.mu.Unlock()

	case chat.DirectiveSend:
		var d chat.SendDirective
		if err := json.Unmarshal(env.Data, &d); err != nil {
			return
		}
		msg, err := s.store.appendMessage(d.ConversationID, c.userID, d.Content)
		if err != nil {
			log.Printf("Send from user %d rejected: %v", c.userID, err)
			return
		}
		s.pushMessageEvent(chat.EventMessageNew, msg)

	case chat.DirectiveRead:
		// Deduplicated server-side; nothing to record in memory.

	case chat.DirectiveTyping:
		var d chat.TypingEvent
		if err := json.Unmarshal(env.Data, &d); err != nil {
			return
		}
		d.UserID = c.userID
		s.pushToRoom(d.ConversationID, c.userID, chat.EventTyping, d)

	default:
		log.Printf("Unknown directive type: %s", env.Type)
	}
}

// pushMessageEvent notifies every connected participant of the
// message's conversation. Only identifiers travel; clients refetch.
func (s *Server) pushMessageEvent(eventType string, msg *chat.Message) {
	event := chat.MessageEvent{
		MessageID:      msg.ID,
		ConversationID: msg.ConversationID,
		SenderID:       msg.SenderID,
	}

	participants := s.store.participantIDs(msg.ConversationID)
	members := make(map[int64]bool, len(participants))
	for _, id := range participants {
		members[id] = true
	}

	env, err := chat.NewEnvelope(eventType, event)
	if err != nil {
		return
	}
	data, _ := json.Marshal(env)

	s.clientsMu.RLock()
	defer s.clientsMu.RUnlock()
	for c := range s.clients {
		if members[c.userID] {
			select {
			case c.send <- data:
			default:
			}
		}
	}
}

// pushToRoom fans an event out to clients joined to a room, excluding
// the originating user.
func (s *Server) pushToRoom(conversationID, exceptUserID int64, eventType string, payload interface{}) {
	env, err := chat.NewEnvelope(eventType, payload)
	if err != nil {
		return
	}
	data, _ := json.Marshal(env)

	s.clientsMu.RLock()
	defer s.clientsMu.RUnlock()
	for c := range s.clients {
		if c.userID == exceptUserID {
			continue
		}
		c.mu.Lock()
		inRoom := c.rooms[conversationID]
		c.mu.Unlock()
		if inRoom {
			select {
			case c.send <- data:
			default:
			}
		}
	}
}

func (s *Server) broadcastPresence(userID int64, status string) {
	env, err := chat.NewEnvelope(chat.EventPresence, chat.PresenceEvent{
		UserID: userID,
		Status: status,
	})
	if err != nil {
		return
	}
	data, _ := json.Marshal(env)

	s.clientsMu.RLock()
	defer s.clientsMu.RUnlock()
	for c := range s.clients {
		if c.userID == userID {
			continue
		}
		select {
		case c.send <- data:
		default:
		}
	}
}
