// internal/chat/protocol.go
// Wire types shared by the socket layer, the local bridge and the dev server.

package chat

import (
	"encoding/json"
	"log"
	"time"
)

// Envelope wraps every frame on the socket, inbound and outbound
type Envelope struct {
	Type      string          `json:"type"`
	Data      json.RawMessage `json:"data"`
	Timestamp time.Time       `json:"timestamp"`
}

// Inbound event types (server push)
const (
	EventMessageNew     = "message:new"
	EventMessageUpdated = "message:updated"
	EventMessageDeleted = "message:deleted"
	EventTyping         = "typing"
	EventPresence       = "presence"
)

// Outbound directive types (client emit)
const (
	DirectiveJoin   = "conversation:join"
	DirectiveLeave  = "conversation:leave"
	DirectiveSend   = "message:send"
	DirectiveRead   = "message:read"
	DirectiveTyping = "typing"
)

// MessageEvent is the payload of message:new / message:updated /
// message:deleted pushes. Only identifiers travel on the socket; the
// cache refetches authoritative state over REST.
type MessageEvent struct {
	MessageID      int64 `json:"message_id"`
	ConversationID int64 `json:"conversation_id"`
	SenderID       int64 `json:"sender_id"`
}

// TypingEvent is the payload of typing pushes and directives
type TypingEvent struct {
	ConversationID int64 `json:"conversation_id"`
	UserID         int64 `json:"user_id"`
	IsTyping       bool  `json:"is_typing"`
}

// PresenceEvent announces a user going online or offline
type PresenceEvent struct {
	UserID int64  `json:"user_id"`
	Status string `json:"status"` // "online" or "offline"
}

// RoomDirective is the payload of conversation:join / conversation:leave
type RoomDirective struct {
	ConversationID int64 `json:"conversation_id"`
}

// SendDirective is the payload of message:send
type SendDirective struct {
	ConversationID int64  `json:"conversation_id"`
	Content        string `json:"content"`
	ClientID       string `json:"client_id"`
}

// ReadDirective is the payload of message:read
type ReadDirective struct {
	ConversationID int64 `json:"conversation_id"`
}

// NewEnvelope builds a stamped envelope around a payload
func NewEnvelope(eventType string, payload interface{}) (*Envelope, error) {
	data, err := json.Marshal(payload)
	if err != nil {
		return nil, err
	}
	return &Envelope{
		Type:      eventType,
		Data:      data,
		Timestamp: time.Now(),
	}, nil
}

// MustMarshal marshals to a RawMessage, logging instead of failing.
// Payload types here are all plain structs, so failure means a bug.
func MustMarshal(v interface{}) json.RawMessage {
	data, err := json.Marshal(v)
	if err != nil {
		log.Printf("Error marshaling payload: %v", err)
		return json.RawMessage(`{}`)
	}
	return data
}
