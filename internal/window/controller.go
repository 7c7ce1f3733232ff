// internal/window/controller.go
// Controller for the single active conversation. Bridges socket pushes
// to the cache, aggregates ephemeral typing presence and applies the
// mark-read side effect. Activation acquires the room subscription as a
// scoped resource: every join is paired with exactly one leave on every
// exit path, and the typing set never survives a switch.

package window

import (
	"context"
	"log"
	"sync"

	"github.com/google/uuid"

	"github.com/taskchat/syncd/internal/cache"
	"github.com/taskchat/syncd/internal/chat"
	"github.com/taskchat/syncd/internal/socket"
)

// SocketLink is the slice of the connection manager the window uses
type SocketLink interface {
	IsConnected() bool
	JoinConversation(conversationID int64) error
	LeaveConversation(conversationID int64) error
	MarkRead(conversationID int64) error
	SendMessage(conversationID int64, content, clientID string) error
	SetTyping(conversationID, userID int64, isTyping bool) error
	OnTyping(fn socket.TypingHandler) func()
}

// MessageCache is the slice of the cache the window reads
type MessageCache interface {
	Messages(ctx context.Context, conversationID int64) ([]*chat.Message, error)
	CachedMessages(conversationID int64) []*chat.Message
	OnChange(fn cache.ChangeHandler) func()
}

// ConversationGetter resolves conversation detail (participants) on
// activation, for typing names and membership guards.
type ConversationGetter interface {
	GetConversation(ctx context.Context, conversationID int64) (*chat.Conversation, error)
}

// Controller drives one active conversation at a time
type Controller struct {
	sock   SocketLink
	store  MessageCache
	detail ConversationGetter
	selfID int64

	// scrollFn fires after every applied message-list change for the
	// active conversation. Best effort, no failure mode.
	scrollFn func(conversationID int64)

	mu           sync.Mutex
	activeID     int64
	active       *chat.Conversation
	typing       *chat.TypingSet
	cancelTyping func()
	cancelChange func()
}

// NewController creates an idle controller for the current user
func NewController(sock SocketLink, store MessageCache, detail ConversationGetter, selfID int64) *Controller {
	return &Controller{
		sock:   sock,
		store:  store,
		detail: detail,
		selfID: selfID,
	}
}

// SetScrollHandler installs the scroll-to-latest callback
func (c *Controller) SetScrollHandler(fn func(conversationID int64)) {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.scrollFn = fn
}

// ActiveConversation returns the id of the active conversation, 0 when idle
func (c *Controller) ActiveConversation() int64 {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.activeID
}

// Activate switches the window to a conversation. Any previously
// active conversation is released first (one leave, typing cleared),
// regardless of in-flight work for it. On any activation failure all
// acquired resources are released before returning.
func (c *Controller) Activate(ctx context.Context, conversationID int64) error {
	c.mu.Lock()
	if c.activeID == conversationID {
		c.mu.Unlock()
		return nil
	}
	c.releaseLocked()

	conversation, err := c.detail.GetConversation(ctx, conversationID)
	if err != nil {
		c.mu.Unlock()
		return err
	}

	if err := c.sock.JoinConversation(conversationID); err != nil {
		c.mu.Unlock()
		return err
	}

	c.activeID = conversationID
	c.active = conversation
	c.typing = chat.NewTypingSet(c.selfID)

	typingSet := c.typing
	c.cancelTyping = c.sock.OnTyping(func(event chat.TypingEvent) {
		c.mu.Lock()
		defer c.mu.Unlock()
		if c.activeID != conversationID || event.ConversationID != conversationID {
			return
		}
		typingSet.Apply(event.UserID, c.participantNameLocked(event.UserID), event.IsTyping)
	})

	c.cancelChange = c.store.OnChange(func(changedID int64) {
		// Results are keyed by the conversation captured at request
		// time; anything for a conversation that is no longer active
		// is dropped here.
		if changedID != conversationID {
			return
		}
		c.mu.Lock()
		if c.activeID != conversationID {
			c.mu.Unlock()
			return
		}
		scroll := c.scrollFn
		c.mu.Unlock()

		c.markReadAndScroll(conversationID, scroll)
	})
	c.mu.Unlock()

	// Prime the message list. A failure here is not fatal: the cache
	// self-corrects on the next event or read.
	if _, err := c.store.Messages(ctx, conversationID); err != nil {
		log.Printf("Priming messages for conversation %d failed: %v", conversationID, err)
		return nil
	}

	c.mu.Lock()
	scroll := c.scrollFn
	c.mu.Unlock()
	c.markReadAndScroll(conversationID, scroll)

	return nil
}

// Deactivate releases the active conversation, if any
func (c *Controller) Deactivate() {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.releaseLocked()
}

// releaseLocked emits the paired leave and clears ephemeral state.
// Callers hold c.mu.
func (c *Controller) releaseLocked() {
	if c.activeID == 0 {
		return
	}

	if err := c.sock.LeaveConversation(c.activeID); err != nil {
		// Disconnected sockets have already left the room server-side.
		log.Printf("Leave directive for conversation %d failed: %v", c.activeID, err)
	}

	if c.cancelTyping != nil {
		c.cancelTyping()
		c.cancelTyping = nil
	}
	if c.cancelChange != nil {
		c.cancelChange()
		c.cancelChange = nil
	}
	if c.typing != nil {
		c.typing.Reset()
	}

	c.activeID = 0
	c.active = nil
	c.typing = nil
}

// TypingIndicator returns the indicator text for the active
// conversation; empty when idle or nobody is typing.
func (c *Controller) TypingIndicator() string {
	c.mu.Lock()
	defer c.mu.Unlock()
	if c.typing == nil {
		return ""
	}
	return c.typing.Indicator()
}

// TypingCount returns the size of the current typing set
func (c *Controller) TypingCount() int {
	c.mu.Lock()
	defer c.mu.Unlock()
	if c.typing == nil {
		return 0
	}
	return c.typing.Len()
}

// Send emits a message for the active conversation over the socket.
// When disconnected it returns socket.ErrNotConnected without emitting
// anything; the caller keeps the composed text and shows a notice.
func (c *Controller) Send(content string) error {
	c.mu.Lock()
	conversationID := c.activeID
	c.mu.Unlock()

	if conversationID == 0 {
		return chat.ErrNotParticipant
	}
	if !c.sock.IsConnected() {
		return socket.ErrNotConnected
	}
	return c.sock.SendMessage(conversationID, content, uuid.NewString())
}

// SetTyping publishes the viewer's own composing state
func (c *Controller) SetTyping(isTyping bool) error {
	c.mu.Lock()
	conversationID := c.activeID
	c.mu.Unlock()

	if conversationID == 0 || !c.sock.IsConnected() {
		return nil
	}
	return c.sock.SetTyping(conversationID, c.selfID, isTyping)
}

// CanLeaveActive runs the membership guard against the active
// conversation before any network round trip.
func (c *Controller) CanLeaveActive() error {
	c.mu.Lock()
	defer c.mu.Unlock()
	if c.active == nil {
		return chat.ErrNotParticipant
	}
	return chat.CheckLeave(c.active, c.selfID)
}

// markReadAndScroll applies the view side effects for a message-list
// change: an idempotent mark-read directive whenever the list is
// non-empty and the socket is up, then scroll-to-latest.
func (c *Controller) markReadAndScroll(conversationID int64, scroll func(int64)) {
	if len(c.store.CachedMessages(conversationID)) > 0 && c.sock.IsConnected() {
		if err := c.sock.MarkRead(conversationID); err != nil {
			log.Printf("Mark-read for conversation %d failed: %v", conversationID, err)
		}
	}
	if scroll != nil {
		scroll(conversationID)
	}
}

// participantNameLocked resolves a display name from the active
// conversation's participants. Callers hold c.mu.
func (c *Controller) participantNameLocked(userID int64) string {
	if c.active != nil {
		if p := chat.FindParticipant(c.active, userID); p != nil && p.User != nil {
			return p.User.DisplayName
		}
	}
	return "Someone"
}
