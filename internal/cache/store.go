// internal/cache/store.go
// Client-side cache of the conversation list and per-conversation
// message pages. All mutations are "replace with latest server state";
// server pushes only mark entries stale, they never patch locally.
// Racing refetches are resolved by generation: a result fetched under
// an older generation is discarded, so a late response can never
// repaint newer state. Ordering across refetches is otherwise eventual.

package cache

import (
	"context"
	"log"
	"sync"

	"github.com/taskchat/syncd/internal/chat"
	"github.com/taskchat/syncd/internal/metrics"
)

// Fetcher is the REST surface the cache reads through.
// *api.Client satisfies it; tests inject fakes.
type Fetcher interface {
	GetConversations(ctx context.Context, limit, offset int) ([]*chat.Conversation, error)
	GetMessages(ctx context.Context, conversationID int64, limit, offset int) ([]*chat.Message, error)
}

// ChangeHandler observes applied refetches. conversationID is 0 for
// conversation-list changes.
type ChangeHandler func(conversationID int64)

// Store caches conversations and message pages
type Store struct {
	fetcher  Fetcher
	listSize int
	pageSize int

	mu sync.Mutex

	conversations []*chat.Conversation
	listLoaded    bool
	listStale     bool
	listGen       uint64

	messages   map[int64][]*chat.Message
	msgLoaded  map[int64]bool
	msgStale   map[int64]bool
	msgGen     map[int64]uint64

	handlersMu    sync.RWMutex
	nextHandlerID int
	handlers      map[int]ChangeHandler
}

// NewStore creates an empty cache over a fetcher
func NewStore(fetcher Fetcher, listPageSize, messagePageSize int) *Store {
	return &Store{
		fetcher:   fetcher,
		listSize:  listPageSize,
		pageSize:  messagePageSize,
		listStale: true,
		messages:  make(map[int64][]*chat.Message),
		msgLoaded: make(map[int64]bool),
		msgStale:  make(map[int64]bool),
		msgGen:    make(map[int64]uint64),
		handlers:  make(map[int]ChangeHandler),
	}
}

// OnChange registers an observer for applied refetches. The returned
// cancel func removes it.
func (s *Store) OnChange(fn ChangeHandler) func() {
	s.handlersMu.Lock()
	defer s.handlersMu.Unlock()
	id := s.nextHandlerID
	s.nextHandlerID++
	s.handlers[id] = fn
	return func() {
		s.handlersMu.Lock()
		defer s.handlersMu.Unlock()
		delete(s.handlers, id)
	}
}

// Conversations returns the conversation list, fetching through when
// stale or absent.
func (s *Store) Conversations(ctx context.Context) ([]*chat.Conversation, error) {
	s.mu.Lock()
	if s.listLoaded && !s.listStale {
		cached := s.conversations
		s.mu.Unlock()
		return cached, nil
	}
	gen := s.listGen
	s.mu.Unlock()

	conversations, err := s.fetcher.GetConversations(ctx, s.listSize, 0)
	if err != nil {
		return nil, err
	}

	s.mu.Lock()
	defer s.mu.Unlock()
	if gen != s.listGen {
		// A newer invalidation superseded this fetch
		metrics.RefetchesDiscarded.Inc()
		return s.conversations, nil
	}
	s.conversations = conversations
	s.listLoaded = true
	s.listStale = false
	return conversations, nil
}

// Messages returns the ordered message list for one conversation,
// fetching through when stale or absent. Tombstoned entries stay in
// sequence; only their display content is suppressed upstream.
func (s *Store) Messages(ctx context.Context, conversationID int64) ([]*chat.Message, error) {
	s.mu.Lock()
	if s.msgLoaded[conversationID] && !s.msgStale[conversationID] {
		cached := s.messages[conversationID]
		s.mu.Unlock()
		return cached, nil
	}
	gen := s.msgGen[conversationID]
	s.mu.Unlock()

	messages, err := s.fetcher.GetMessages(ctx, conversationID, s.pageSize, 0)
	if err != nil {
		return nil, err
	}

	s.mu.Lock()
	defer s.mu.Unlock()
	if gen != s.msgGen[conversationID] {
		metrics.RefetchesDiscarded.Inc()
		return s.messages[conversationID], nil
	}
	s.messages[conversationID] = messages
	s.msgLoaded[conversationID] = true
	s.msgStale[conversationID] = false
	return messages, nil
}

// HandleMessageEvent applies the invalidation contract for any of
// message:new, message:updated, message:deleted: the conversation's
// message cache AND the list cache both go stale, because the list
// shows a denormalized preview of the newest message. Refetches run in
// the background; observers fire when results are applied.
func (s *Store) HandleMessageEvent(ctx context.Context, eventType string, event chat.MessageEvent) {
	s.InvalidateMessages(event.ConversationID)
	s.InvalidateList()

	go s.refetchMessages(ctx, event.ConversationID)
	go s.refetchList(ctx)
}

// InvalidateMessages marks one conversation's message cache stale
func (s *Store) InvalidateMessages(conversationID int64) {
	s.mu.Lock()
	s.msgStale[conversationID] = true
	s.msgGen[conversationID]++
	s.mu.Unlock()
	metrics.CacheInvalidations.WithLabelValues("messages").Inc()
}

// InvalidateList marks the conversation list stale
func (s *Store) InvalidateList() {
	s.mu.Lock()
	s.listStale = true
	s.listGen++
	s.mu.Unlock()
	metrics.CacheInvalidations.WithLabelValues("list").Inc()
}

// Drop evicts one conversation's messages entirely (e.g. after leaving)
func (s *Store) Drop(conversationID int64) {
	s.mu.Lock()
	delete(s.messages, conversationID)
	delete(s.msgLoaded, conversationID)
	delete(s.msgStale, conversationID)
	s.msgGen[conversationID]++
	s.mu.Unlock()
}

// IsListStale reports the list staleness flag
func (s *Store) IsListStale() bool {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.listStale
}

// AreMessagesStale reports one conversation's staleness flag
func (s *Store) AreMessagesStale(conversationID int64) bool {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.msgStale[conversationID]
}

// CachedMessages returns the current message slice without fetching
func (s *Store) CachedMessages(conversationID int64) []*chat.Message {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.messages[conversationID]
}

func (s *Store) refetchMessages(ctx context.Context, conversationID int64) {
	s.mu.Lock()
	gen := s.msgGen[conversationID]
	s.mu.Unlock()

	messages, err := s.fetcher.GetMessages(ctx, conversationID, s.pageSize, 0)
	if err != nil {
		log.Printf("Refetch of conversation %d messages failed: %v", conversationID, err)
		return
	}

	s.mu.Lock()
	if gen != s.msgGen[conversationID] {
		s.mu.Unlock()
		metrics.RefetchesDiscarded.Inc()
		return
	}
	s.messages[conversationID] = messages
	s.msgLoaded[conversationID] = true
	s.msgStale[conversationID] = false
	s.mu.Unlock()

	s.notify(conversationID)
}

func (s *Store) refetchList(ctx context.Context) {
	s.mu.Lock()
	gen := s.listGen
	s.mu.Unlock()

	conversations, err := s.fetcher.GetConversations(ctx, s.listSize, 0)
	if err != nil {
		log.Printf("Refetch of conversation list failed: %v", err)
		return
	}

	s.mu.Lock()
	if gen != s.listGen {
		s.mu.Unlock()
		metrics.RefetchesDiscarded.Inc()
		return
	}
	s.conversations = conversations
	s.listLoaded = true
	s.listStale = false
	s.mu.Unlock()

	s.notify(0)
}

func (s *Store) notify(conversationID int64) {
	s.handlersMu.RLock()
	handlers := make([]ChangeHandler, 0, len(s.handlers))
	for _, fn := range s.handlers {
		handlers = append(handlers, fn)
	}
	s.handlersMu.RUnlock()

	for _, fn := range handlers {
		fn(conversationID)
	}
}
