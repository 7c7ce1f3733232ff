// internal/socket/manager.go
// Single live socket connection per authenticated session. Owns the
// online-presence set and fans typed events out to registered handlers.
// Connection failures surface only as IsConnected() == false; callers
// disable sending until a caller-driven reconnect succeeds.

package socket

import (
	"context"
	"encoding/json"
	"errors"
	"log"
	"net/http"
	"sync"
	"time"

	"github.com/gorilla/websocket"

	"github.com/taskchat/syncd/internal/chat"
	"github.com/taskchat/syncd/internal/metrics"
)

const (
	// Time allowed to write a message to the peer
	defaultWriteWait = 10 * time.Second

	// Time allowed to read the next pong message from the peer
	defaultPongWait = 60 * time.Second

	// Maximum message size allowed from peer
	maxMessageSize = 512 * 1024 // 512KB
)

var ErrNotConnected = errors.New("socket not connected")

// MessageEventHandler receives message:new / message:updated /
// message:deleted pushes together with the event type.
type MessageEventHandler func(eventType string, event chat.MessageEvent)

// TypingHandler receives typing pushes
type TypingHandler func(event chat.TypingEvent)

// StateHandler is notified when the connection flag flips
type StateHandler func(connected bool)

// Manager owns the session's socket connection
type Manager struct {
	url    string
	token  string
	dialer *websocket.Dialer

	writeWait  time.Duration
	pongWait   time.Duration
	pingPeriod time.Duration

	mu        sync.RWMutex
	conn      *websocket.Conn
	connected bool
	send      chan []byte
	done      chan struct{}
	attempts  int

	online map[int64]bool

	handlersMu      sync.RWMutex
	nextHandlerID   int
	messageHandlers map[int]MessageEventHandler
	typingHandlers  map[int]TypingHandler
	stateHandlers   map[int]StateHandler
}

// NewManager creates a disconnected manager for one session credential
// with the default pump timings.
func NewManager(socketURL, authToken string) *Manager {
	return NewManagerTimings(socketURL, authToken, defaultWriteWait, defaultPongWait)
}

// NewManagerTimings creates a manager with explicit pump timings. Pings
// go out at 90% of the pong wait so a healthy peer always answers in
// time. Non-positive values fall back to the defaults.
func NewManagerTimings(socketURL, authToken string, writeWait, pongWait time.Duration) *Manager {
	if writeWait <= 0 {
		writeWait = defaultWriteWait
	}
	if pongWait <= 0 {
		pongWait = defaultPongWait
	}
	return &Manager{
		url:             socketURL,
		token:           authToken,
		dialer:          websocket.DefaultDialer,
		writeWait:       writeWait,
		pongWait:        pongWait,
		pingPeriod:      (pongWait * 9) / 10,
		online:          make(map[int64]bool),
		messageHandlers: make(map[int]MessageEventHandler),
		typingHandlers:  make(map[int]TypingHandler),
		stateHandlers:   make(map[int]StateHandler),
	}
}

// Connect establishes the connection. Calling while already connected
// is a no-op. There is no retry loop here; callers decide when to try
// again after observing IsConnected() == false.
func (m *Manager) Connect(ctx context.Context) error {
	m.mu.Lock()
	if m.connected {
		m.mu.Unlock()
		return nil
	}
	if m.attempts > 0 {
		metrics.Reconnects.Inc()
	}
	m.attempts++
	m.mu.Unlock()

	header := http.Header{}
	if m.token != "" {
		header.Set("Authorization", "Bearer "+m.token)
	}

	conn, _, err := m.dialer.DialContext(ctx, m.url, header)
	if err != nil {
		return err
	}

	m.mu.Lock()
	m.conn = conn
	m.connected = true
	m.send = make(chan []byte, 256)
	m.done = make(chan struct{})
	m.online = make(map[int64]bool)
	m.mu.Unlock()

	metrics.SocketConnected.Set(1)
	m.notifyState(true)

	go m.writePump(conn, m.send, m.done)
	go m.readPump(conn)

	log.Printf("Socket connected to %s", m.url)
	return nil
}

// IsConnected reports the current connection flag
func (m *Manager) IsConnected() bool {
	m.mu.RLock()
	defer m.mu.RUnlock()
	return m.connected
}

// IsUserOnline reports presence for a user id. Unknown ids are simply
// offline, never an error.
func (m *Manager) IsUserOnline(userID int64) bool {
	m.mu.RLock()
	defer m.mu.RUnlock()
	return m.online[userID]
}

// Close tears the current connection down. Safe to call repeatedly.
func (m *Manager) Close() {
	m.mu.RLock()
	conn := m.conn
	m.mu.RUnlock()
	m.closeConn(conn)
}

// closeConn tears down one specific connection. A pump whose connection
// has already been replaced by a newer Connect becomes a no-op here, so
// a stale shutdown can never kill a fresh connection.
func (m *Manager) closeConn(conn *websocket.Conn) {
	m.mu.Lock()
	if !m.connected || conn == nil || m.conn != conn {
		m.mu.Unlock()
		return
	}
	m.connected = false
	m.conn = nil
	close(m.done)
	m.mu.Unlock()

	conn.Close()
	metrics.SocketConnected.Set(0)
	m.notifyState(false)
	log.Printf("Socket disconnected")
}

// OnMessageEvent registers a handler for message pushes. The returned
// cancel func removes it; callers pair registration and removal with
// the lifetime of whatever consumes the events.
func (m *Manager) OnMessageEvent(fn MessageEventHandler) func() {
	m.handlersMu.Lock()
	defer m.handlersMu.Unlock()
	id := m.nextHandlerID
	m.nextHandlerID++
	m.messageHandlers[id] = fn
	return func() {
		m.handlersMu.Lock()
		defer m.handlersMu.Unlock()
		delete(m.messageHandlers, id)
	}
}

// OnTyping registers a handler for typing pushes
func (m *Manager) OnTyping(fn TypingHandler) func() {
	m.handlersMu.Lock()
	defer m.handlersMu.Unlock()
	id := m.nextHandlerID
	m.nextHandlerID++
	m.typingHandlers[id] = fn
	return func() {
		m.handlersMu.Lock()
		defer m.handlersMu.Unlock()
		delete(m.typingHandlers, id)
	}
}

// OnStateChange registers a connection-flag observer
func (m *Manager) OnStateChange(fn StateHandler) func() {
	m.handlersMu.Lock()
	defer m.handlersMu.Unlock()
	id := m.nextHandlerID
	m.nextHandlerID++
	m.stateHandlers[id] = fn
	return func() {
		m.handlersMu.Lock()
		defer m.handlersMu.Unlock()
		delete(m.stateHandlers, id)
	}
}

// JoinConversation emits a conversation:join directive
func (m *Manager) JoinConversation(conversationID int64) error {
	return m.emit(chat.DirectiveJoin, chat.RoomDirective{ConversationID: conversationID})
}

// LeaveConversation emits a conversation:leave directive
func (m *Manager) LeaveConversation(conversationID int64) error {
	return m.emit(chat.DirectiveLeave, chat.RoomDirective{ConversationID: conversationID})
}

// SendMessage emits a message:send directive. When disconnected the
// caller keeps its compose content and shows a connectivity notice.
func (m *Manager) SendMessage(conversationID int64, content, clientID string) error {
	return m.emit(chat.DirectiveSend, chat.SendDirective{
		ConversationID: conversationID,
		Content:        content,
		ClientID:       clientID,
	})
}

// MarkRead emits a message:read directive. Idempotent server-side; the
// client never tracks read state locally.
func (m *Manager) MarkRead(conversationID int64) error {
	return m.emit(chat.DirectiveRead, chat.ReadDirective{ConversationID: conversationID})
}

// SetTyping emits the viewer's own typing state
func (m *Manager) SetTyping(conversationID, userID int64, isTyping bool) error {
	return m.emit(chat.DirectiveTyping, chat.TypingEvent{
		ConversationID: conversationID,
		UserID:         userID,
		IsTyping:       isTyping,
	})
}

func (m *Manager) emit(directive string, payload interface{}) error {
	m.mu.RLock()
	connected := m.connected
	send := m.send
	m.mu.RUnlock()

	if !connected {
		metrics.DirectiveFailures.WithLabelValues(directive).Inc()
		return ErrNotConnected
	}

	env, err := chat.NewEnvelope(directive, payload)
	if err != nil {
		return err
	}
	data, err := json.Marshal(env)
	if err != nil {
		return err
	}

	select {
	case send <- data:
		metrics.DirectivesSent.WithLabelValues(directive).Inc()
		return nil
	default:
		metrics.DirectiveFailures.WithLabelValues(directive).Inc()
		return ErrNotConnected
	}
}

func (m *Manager) readPump(conn *websocket.Conn) {
	defer m.closeConn(conn)

	conn.SetReadLimit(maxMessageSize)
	conn.SetReadDeadline(time.Now().Add(m.pongWait))
	conn.SetPongHandler(func(string) error {
		conn.SetReadDeadline(time.Now().Add(m.pongWait))
		return nil
	})

	for {
		_, data, err := conn.ReadMessage()
		if err != nil {
			if websocket.IsUnexpectedCloseError(err, websocket.CloseGoingAway, websocket.CloseAbnormalClosure, websocket.CloseNormalClosure) {
				log.Printf("Socket read error: %v", err)
			}
			return
		}

		m.dispatch(data)
	}
}

func (m *Manager) writePump(conn *websocket.Conn, send chan []byte, done chan struct{}) {
	ticker := time.NewTicker(m.pingPeriod)
	defer func() {
		ticker.Stop()
		conn.Close()
	}()

	for {
		select {
		case message, ok := <-send:
			conn.SetWriteDeadline(time.Now().Add(m.writeWait))
			if !ok {
				conn.WriteMessage(websocket.CloseMessage, []byte{})
				return
			}
			if err := conn.WriteMessage(websocket.TextMessage, message); err != nil {
				return
			}

		case <-ticker.C:
			conn.SetWriteDeadline(time.Now().Add(m.writeWait))
			if err := conn.WriteMessage(websocket.PingMessage, nil); err != nil {
				return
			}

		case <-done:
			return
		}
	}
}

// dispatch runs inbound handlers to completion, one event at a time, in
// socket-delivery order. No client-side reordering is attempted.
func (m *Manager) dispatch(data []byte) {
	var env chat.Envelope
	if err := json.Unmarshal(data, &env); err != nil {
		log.Printf("Error unmarshaling socket frame: %v", err)
		return
	}

	metrics.EventsReceived.WithLabelValues(env.Type).Inc()

	switch env.Type {
	case chat.EventMessageNew, chat.EventMessageUpdated, chat.EventMessageDeleted:
		var event chat.MessageEvent
		if err := json.Unmarshal(env.Data, &event); err != nil {
			log.Printf("Error unmarshaling message event: %v", err)
			return
		}
		m.handlersMu.RLock()
		handlers := make([]MessageEventHandler, 0, len(m.messageHandlers))
		for _, fn := range m.messageHandlers {
			handlers = append(handlers, fn)
		}
		m.handlersMu.RUnlock()
		for _, fn := range handlers {
			fn(env.Type, event)
		}

	case chat.EventTyping:
		var event chat.TypingEvent
		if err := json.Unmarshal(env.Data, &event); err != nil {
			log.Printf("Error unmarshaling typing event: %v", err)
			return
		}
		m.handlersMu.RLock()
		handlers := make([]TypingHandler, 0, len(m.typingHandlers))
		for _, fn := range m.typingHandlers {
			handlers = append(handlers, fn)
		}
		m.handlersMu.RUnlock()
		for _, fn := range handlers {
			fn(event)
		}

	case chat.EventPresence:
		var event chat.PresenceEvent
		if err := json.Unmarshal(env.Data, &event); err != nil {
			log.Printf("Error unmarshaling presence event: %v", err)
			return
		}
		m.mu.Lock()
		if event.Status == "online" {
			m.online[event.UserID] = true
		} else {
			delete(m.online, event.UserID)
		}
		m.mu.Unlock()

	default:
		log.Printf("Unknown event type: %s", env.Type)
	}
}

func (m *Manager) notifyState(connected bool) {
	m.handlersMu.RLock()
	handlers := make([]StateHandler, 0, len(m.stateHandlers))
	for _, fn := range m.stateHandlers {
		handlers = append(handlers, fn)
	}
	m.handlersMu.RUnlock()

	for _, fn := range handlers {
		fn(connected)
	}
}
