package window

import (
	"context"
	"errors"
	"sync"
	"testing"

	"github.com/taskchat/syncd/internal/cache"
	"github.com/taskchat/syncd/internal/chat"
	"github.com/taskchat/syncd/internal/socket"
)

// fakeSocket records directives and lets tests push typing events
type fakeSocket struct {
	mu        sync.Mutex
	connected bool
	joins     []int64
	leaves    []int64
	reads     []int64
	sends     []string
	typingFns map[int]socket.TypingHandler
	nextID    int
}

func newFakeSocket() *fakeSocket {
	return &fakeSocket{connected: true, typingFns: make(map[int]socket.TypingHandler)}
}

func (f *fakeSocket) IsConnected() bool {
	f.mu.Lock()
	defer f.mu.Unlock()
	return f.connected
}

func (f *fakeSocket) setConnected(v bool) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.connected = v
}

func (f *fakeSocket) JoinConversation(id int64) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	if !f.connected {
		return socket.ErrNotConnected
	}
	f.joins = append(f.joins, id)
	return nil
}

func (f *fakeSocket) LeaveConversation(id int64) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.leaves = append(f.leaves, id)
	return nil
}

func (f *fakeSocket) MarkRead(id int64) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.reads = append(f.reads, id)
	return nil
}

func (f *fakeSocket) SendMessage(id int64, content, clientID string) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	if !f.connected {
		return socket.ErrNotConnected
	}
	f.sends = append(f.sends, content)
	return nil
}

func (f *fakeSocket) SetTyping(conversationID, userID int64, isTyping bool) error {
	return nil
}

func (f *fakeSocket) OnTyping(fn socket.TypingHandler) func() {
	f.mu.Lock()
	defer f.mu.Unlock()
	id := f.nextID
	f.nextID++
	f.typingFns[id] = fn
	return func() {
		f.mu.Lock()
		defer f.mu.Unlock()
		delete(f.typingFns, id)
	}
}

func (f *fakeSocket) pushTyping(event chat.TypingEvent) {
	f.mu.Lock()
	fns := make([]socket.TypingHandler, 0, len(f.typingFns))
	for _, fn := range f.typingFns {
		fns = append(fns, fn)
	}
	f.mu.Unlock()
	for _, fn := range fns {
		fn(event)
	}
}

func (f *fakeSocket) directives() (joins, leaves, reads []int64) {
	f.mu.Lock()
	defer f.mu.Unlock()
	return append([]int64(nil), f.joins...), append([]int64(nil), f.leaves...), append([]int64(nil), f.reads...)
}

// fakeCache serves canned messages and lets tests fire change events
type fakeCache struct {
	mu       sync.Mutex
	messages map[int64][]*chat.Message
	handlers map[int]cache.ChangeHandler
	nextID   int
}

func newFakeCache() *fakeCache {
	return &fakeCache{
		messages: make(map[int64][]*chat.Message),
		handlers: make(map[int]cache.ChangeHandler),
	}
}

func (f *fakeCache) Messages(ctx context.Context, id int64) ([]*chat.Message, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	return f.messages[id], nil
}

func (f *fakeCache) CachedMessages(id int64) []*chat.Message {
	f.mu.Lock()
	defer f.mu.Unlock()
	return f.messages[id]
}

func (f *fakeCache) OnChange(fn cache.ChangeHandler) func() {
	f.mu.Lock()
	defer f.mu.Unlock()
	id := f.nextID
	f.nextID++
	f.handlers[id] = fn
	return func() {
		f.mu.Lock()
		defer f.mu.Unlock()
		delete(f.handlers, id)
	}
}

func (f *fakeCache) fireChange(id int64) {
	f.mu.Lock()
	fns := make([]cache.ChangeHandler, 0, len(f.handlers))
	for _, fn := range f.handlers {
		fns = append(fns, fn)
	}
	f.mu.Unlock()
	for _, fn := range fns {
		fn(id)
	}
}

// fakeDetail returns canned conversations
type fakeDetail struct {
	conversations map[int64]*chat.Conversation
}

func (f *fakeDetail) GetConversation(ctx context.Context, id int64) (*chat.Conversation, error) {
	if c, ok := f.conversations[id]; ok {
		return c, nil
	}
	return nil, errors.New("not found")
}

func testConversation(id int64) *chat.Conversation {
	return &chat.Conversation{
		ID:   id,
		Kind: chat.KindGroup,
		Participants: []*chat.Participant{
			{UserID: 1, IsAdmin: true, User: &chat.UserInfo{ID: 1, DisplayName: "Me"}},
			{UserID: 2, User: &chat.UserInfo{ID: 2, DisplayName: "Ada"}},
			{UserID: 3, User: &chat.UserInfo{ID: 3, DisplayName: "Grace"}},
			{UserID: 4, User: &chat.UserInfo{ID: 4, DisplayName: "Edsger"}},
		},
	}
}

func newTestController() (*Controller, *fakeSocket, *fakeCache, *fakeDetail) {
	sock := newFakeSocket()
	store := newFakeCache()
	detail := &fakeDetail{conversations: map[int64]*chat.Conversation{
		1: testConversation(1),
		2: testConversation(2),
	}}
	return NewController(sock, store, detail, 1), sock, store, detail
}

func TestSwitchPairsJoinAndLeave(t *testing.T) {
	c, sock, _, _ := newTestController()
	ctx := context.Background()

	if err := c.Activate(ctx, 1); err != nil {
		t.Fatalf("Activate(1) failed: %v", err)
	}
	if err := c.Activate(ctx, 2); err != nil {
		t.Fatalf("Activate(2) failed: %v", err)
	}

	joins, leaves, _ := sock.directives()
	if len(joins) != 2 || joins[0] != 1 || joins[1] != 2 {
		t.Errorf("expected joins [1 2], got %v", joins)
	}
	if len(leaves) != 1 || leaves[0] != 1 {
		t.Errorf("expected exactly one leave for 1, got %v", leaves)
	}

	c.Deactivate()
	_, leaves, _ = sock.directives()
	if len(leaves) != 2 || leaves[1] != 2 {
		t.Errorf("expected final leave for 2, got %v", leaves)
	}

	c.Deactivate() // idempotent
	_, leaves, _ = sock.directives()
	if len(leaves) != 2 {
		t.Errorf("repeated Deactivate must not emit extra leaves, got %v", leaves)
	}
}

func TestTypingSetClearedOnSwitch(t *testing.T) {
	c, sock, _, _ := newTestController()
	ctx := context.Background()

	c.Activate(ctx, 1)
	sock.pushTyping(chat.TypingEvent{ConversationID: 1, UserID: 2, IsTyping: true})

	if got := c.TypingIndicator(); got != "Ada is typing…" {
		t.Errorf("unexpected indicator: %q", got)
	}

	c.Activate(ctx, 2)
	if got := c.TypingCount(); got != 0 {
		t.Errorf("typing set must be empty immediately after a switch, got %d", got)
	}
	if got := c.TypingIndicator(); got != "" {
		t.Errorf("expected empty indicator after switch, got %q", got)
	}
}

func TestTypingIgnoresSelfAndOtherConversations(t *testing.T) {
	c, sock, _, _ := newTestController()
	c.Activate(context.Background(), 1)

	sock.pushTyping(chat.TypingEvent{ConversationID: 1, UserID: 1, IsTyping: true}) // self
	sock.pushTyping(chat.TypingEvent{ConversationID: 2, UserID: 3, IsTyping: true}) // other room

	if got := c.TypingCount(); got != 0 {
		t.Errorf("expected empty typing set, got %d", got)
	}
}

func TestTypingIndicatorTruncation(t *testing.T) {
	c, sock, _, _ := newTestController()
	c.Activate(context.Background(), 1)

	sock.pushTyping(chat.TypingEvent{ConversationID: 1, UserID: 2, IsTyping: true})
	sock.pushTyping(chat.TypingEvent{ConversationID: 1, UserID: 3, IsTyping: true})
	if got := c.TypingIndicator(); got != "Ada and Grace are typing…" {
		t.Errorf("unexpected two-name indicator: %q", got)
	}

	sock.pushTyping(chat.TypingEvent{ConversationID: 1, UserID: 4, IsTyping: true})
	if got := c.TypingIndicator(); got != "Several people are typing…" {
		t.Errorf("expected generic indicator for three typers, got %q", got)
	}
}

func TestMarkReadOnMessageChange(t *testing.T) {
	c, sock, store, _ := newTestController()
	store.messages[1] = []*chat.Message{{ID: 1, ConversationID: 1, Content: "hi"}}

	c.Activate(context.Background(), 1)

	_, _, reads := sock.directives()
	if len(reads) == 0 {
		t.Fatal("expected a mark-read on activation with a non-empty list")
	}

	store.fireChange(1)
	_, _, reads = sock.directives()
	if len(reads) < 2 {
		t.Error("expected a redundant mark-read per message-list change")
	}
	for _, id := range reads {
		if id != 1 {
			t.Errorf("mark-read for wrong conversation: %d", id)
		}
	}
}

func TestNoMarkReadWhenDisconnectedOrEmpty(t *testing.T) {
	c, sock, store, _ := newTestController()

	// Empty list: no mark-read.
	c.Activate(context.Background(), 1)
	_, _, reads := sock.directives()
	if len(reads) != 0 {
		t.Errorf("empty list must not be marked read, got %v", reads)
	}

	// Non-empty but disconnected: still no mark-read.
	store.mu.Lock()
	store.messages[1] = []*chat.Message{{ID: 1, ConversationID: 1}}
	store.mu.Unlock()
	sock.setConnected(false)
	store.fireChange(1)

	_, _, reads = sock.directives()
	if len(reads) != 0 {
		t.Errorf("disconnected socket must not emit mark-read, got %v", reads)
	}
}

func TestStaleConversationChangeIgnoredAfterSwitch(t *testing.T) {
	c, sock, store, _ := newTestController()
	store.messages[1] = []*chat.Message{{ID: 1, ConversationID: 1}}
	store.messages[2] = []*chat.Message{{ID: 2, ConversationID: 2}}

	scrolled := make([]int64, 0, 4)
	c.SetScrollHandler(func(id int64) { scrolled = append(scrolled, id) })

	ctx := context.Background()
	c.Activate(ctx, 1)
	c.Activate(ctx, 2)

	scrolled = scrolled[:0]
	_, _, readsBefore := sock.directives()

	// A late result for the previous conversation arrives after the
	// switch and must not repaint the new view.
	store.fireChange(1)

	if len(scrolled) != 0 {
		t.Errorf("stale conversation change leaked into scroll: %v", scrolled)
	}
	_, _, reads := sock.directives()
	if len(reads) != len(readsBefore) {
		t.Errorf("stale conversation marked read after switch: %v", reads)
	}
}

func TestSendWhileDisconnected(t *testing.T) {
	c, sock, _, _ := newTestController()
	c.Activate(context.Background(), 1)

	sock.setConnected(false)
	err := c.Send("draft text stays with the caller")
	if !errors.Is(err, socket.ErrNotConnected) {
		t.Errorf("expected ErrNotConnected, got %v", err)
	}

	sock.mu.Lock()
	sent := len(sock.sends)
	sock.mu.Unlock()
	if sent != 0 {
		t.Error("no emission may happen while disconnected")
	}
}

func TestActivationFailureReleasesEverything(t *testing.T) {
	c, sock, _, detail := newTestController()
	ctx := context.Background()

	c.Activate(ctx, 1)

	// Unknown conversation: detail fetch fails, previous room released.
	delete(detail.conversations, 2)
	if err := c.Activate(ctx, 2); err == nil {
		t.Fatal("expected activation failure")
	}

	if got := c.ActiveConversation(); got != 0 {
		t.Errorf("controller must be idle after failed activation, got %d", got)
	}
	_, leaves, _ := sock.directives()
	if len(leaves) != 1 || leaves[0] != 1 {
		t.Errorf("expected the previous room to be left exactly once, got %v", leaves)
	}
}

func TestCanLeaveActiveGuard(t *testing.T) {
	c, _, _, detail := newTestController()
	ctx := context.Background()

	// Viewer (user 1) is the sole admin of conversation 1.
	c.Activate(ctx, 1)
	if err := c.CanLeaveActive(); !errors.Is(err, chat.ErrLastAdmin) {
		t.Errorf("sole admin must be blocked, got %v", err)
	}

	// Add a second admin; leaving becomes legal.
	detail.conversations[2].Participants[1].IsAdmin = true
	c.Activate(ctx, 2)
	if err := c.CanLeaveActive(); err != nil {
		t.Errorf("expected leave to be permitted, got %v", err)
	}
}
