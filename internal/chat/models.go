// internal/chat/models.go

package chat

import (
	"time"
)

// Kind discriminates conversation behavior. DIRECT conversations have
// exactly two participants and immutable membership; GROUP and PROJECT
// conversations carry admins and mutable membership.
type Kind string

const (
	KindDirect  Kind = "direct"
	KindGroup   Kind = "group"
	KindProject Kind = "project"
)

// Valid reports whether k is a known conversation kind.
func (k Kind) Valid() bool {
	switch k {
	case KindDirect, KindGroup, KindProject:
		return true
	}
	return false
}

// Conversation represents a chat conversation
type Conversation struct {
	ID                 int64      `json:"id"`
	Kind               Kind       `json:"type"`
	Name               *string    `json:"name,omitempty"`
	ProjectID          *int64     `json:"project_id,omitempty"`
	LastMessageAt      *time.Time `json:"last_message_at,omitempty"`
	LastMessagePreview *string    `json:"last_message_preview,omitempty"`
	UnreadCount        int        `json:"unread_count,omitempty"`
	CreatedAt          time.Time  `json:"created_at"`
	UpdatedAt          time.Time  `json:"updated_at"`

	Participants []*Participant `json:"participants,omitempty"`
	LastMessage  *Message       `json:"last_message,omitempty"`
}

// Participant represents a user's membership in one conversation
type Participant struct {
	ID             int64     `json:"id"`
	ConversationID int64     `json:"conversation_id"`
	UserID         int64     `json:"user_id"`
	IsAdmin        bool      `json:"is_admin"`
	JoinedAt       time.Time `json:"joined_at"`

	User *UserInfo `json:"user,omitempty"`
}

// Message represents a chat message
type Message struct {
	ID             int64      `json:"id"`
	ConversationID int64      `json:"conversation_id"`
	SenderID       int64      `json:"sender_id"`
	Content        string     `json:"content"`
	IsEdited       bool       `json:"is_edited"`
	EditedAt       *time.Time `json:"edited_at,omitempty"`
	IsDeleted      bool       `json:"is_deleted"`
	DeletedAt      *time.Time `json:"deleted_at,omitempty"`
	CreatedAt      time.Time  `json:"created_at"`

	Sender *UserInfo `json:"sender,omitempty"`
}

// Tombstone is the display placeholder for soft-deleted messages.
// The record stays in sequence; only the content is suppressed.
const Tombstone = "This message was deleted"

// DisplayContent returns the content to render for a message,
// substituting the tombstone for soft-deleted entries.
func DisplayContent(m *Message) string {
	if m.IsDeleted {
		return Tombstone
	}
	return m.Content
}

// UserInfo is the profile summary attached to senders and participants
type UserInfo struct {
	ID          int64  `json:"id"`
	Username    string `json:"username"`
	DisplayName string `json:"display_name"`
	AvatarURL   string `json:"avatar_url,omitempty"`
}

// DisplayName derives the name to show for a conversation from the
// viewer's perspective. Handling is exhaustive over Kind: DIRECT shows
// the other party, GROUP shows the explicit name, PROJECT prefixes the
// project channel name.
func (c *Conversation) DisplayName(viewerID int64) string {
	switch c.Kind {
	case KindDirect:
		for _, p := range c.Participants {
			if p.UserID != viewerID && p.User != nil {
				return p.User.DisplayName
			}
		}
		return "Direct message"

	case KindGroup:
		if c.Name != nil && *c.Name != "" {
			return *c.Name
		}
		return "Group chat"

	case KindProject:
		if c.Name != nil && *c.Name != "" {
			return "#" + *c.Name
		}
		return "#project"

	default:
		return "Conversation"
	}
}

// MembershipMutable reports whether participants may be added or removed.
// DIRECT conversations are fixed at their two original parties.
func (c *Conversation) MembershipMutable() bool {
	switch c.Kind {
	case KindDirect:
		return false
	case KindGroup, KindProject:
		return true
	default:
		return false
	}
}

// Request DTOs
type CreateConversationRequest struct {
	Kind           Kind    `json:"type" validate:"required,oneof=direct group project"`
	Name           string  `json:"name" validate:"required_unless=Kind direct"`
	ProjectID      *int64  `json:"project_id,omitempty"`
	ParticipantIDs []int64 `json:"participant_ids" validate:"required,min=1"`
}

type SendMessageRequest struct {
	ConversationID int64  `json:"conversation_id" validate:"required"`
	Content        string `json:"content" validate:"required,max=4000"`
	ClientID       string `json:"client_id" validate:"required,uuid4"`
}

type EditMessageRequest struct {
	Content string `json:"content" validate:"required,max=4000"`
}

type AddParticipantRequest struct {
	UserID  int64 `json:"user_id" validate:"required"`
	IsAdmin bool  `json:"is_admin"`
}

type MarkReadRequest struct {
	ConversationID int64 `json:"conversation_id" validate:"required"`
}
