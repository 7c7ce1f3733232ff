package cache

import (
	"context"
	"sync"
	"testing"
	"time"

	"github.com/taskchat/syncd/internal/chat"
)

// fakeFetcher counts fetches and serves canned state
type fakeFetcher struct {
	mu            sync.Mutex
	conversations []*chat.Conversation
	messages      map[int64][]*chat.Message
	listFetches   int
	msgFetches    map[int64]int
	block         chan struct{} // when set, GetMessages waits on it
	blocked       chan struct{} // when set, signalled once GetMessages reaches the block
}

func newFakeFetcher() *fakeFetcher {
	return &fakeFetcher{
		messages:   make(map[int64][]*chat.Message),
		msgFetches: make(map[int64]int),
	}
}

func (f *fakeFetcher) GetConversations(ctx context.Context, limit, offset int) ([]*chat.Conversation, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.listFetches++
	return f.conversations, nil
}

func (f *fakeFetcher) GetMessages(ctx context.Context, conversationID int64, limit, offset int) ([]*chat.Message, error) {
	f.mu.Lock()
	block := f.block
	blocked := f.blocked
	f.mu.Unlock()
	if block != nil {
		if blocked != nil {
			blocked <- struct{}{}
		}
		<-block
	}
	f.mu.Lock()
	defer f.mu.Unlock()
	f.msgFetches[conversationID]++
	return f.messages[conversationID], nil
}

func (f *fakeFetcher) listFetchCount() int {
	f.mu.Lock()
	defer f.mu.Unlock()
	return f.listFetches
}

func (f *fakeFetcher) msgFetchCount(id int64) int {
	f.mu.Lock()
	defer f.mu.Unlock()
	return f.msgFetches[id]
}

func TestConversationsServedFromCache(t *testing.T) {
	fetcher := newFakeFetcher()
	fetcher.conversations = []*chat.Conversation{{ID: 1}, {ID: 2}}
	store := NewStore(fetcher, 20, 50)

	ctx := context.Background()
	if _, err := store.Conversations(ctx); err != nil {
		t.Fatalf("first fetch failed: %v", err)
	}
	if _, err := store.Conversations(ctx); err != nil {
		t.Fatalf("second fetch failed: %v", err)
	}

	if got := fetcher.listFetchCount(); got != 1 {
		t.Errorf("expected a single network fetch, got %d", got)
	}
}

func TestMessageEventInvalidatesBothCaches(t *testing.T) {
	fetcher := newFakeFetcher()
	fetcher.conversations = []*chat.Conversation{{ID: 1}, {ID: 2}, {ID: 3}}
	fetcher.messages[2] = []*chat.Message{{ID: 10, ConversationID: 2}}
	store := NewStore(fetcher, 20, 50)

	ctx := context.Background()
	store.Conversations(ctx)
	store.Messages(ctx, 2)
	store.Messages(ctx, 1)

	applied := make(chan int64, 4)
	cancel := store.OnChange(func(id int64) { applied <- id })
	defer cancel()

	store.HandleMessageEvent(ctx, chat.EventMessageNew, chat.MessageEvent{
		MessageID:      11,
		ConversationID: 2,
	})

	seen := map[int64]bool{}
	for len(seen) < 2 {
		select {
		case id := <-applied:
			seen[id] = true
		case <-time.After(2 * time.Second):
			t.Fatalf("timed out; applied refetches: %v", seen)
		}
	}
	if !seen[2] {
		t.Error("expected a message refetch for conversation 2")
	}
	if !seen[0] {
		t.Error("expected a conversation-list refetch")
	}

	// The untouched conversation's cache is not refetched.
	if got := fetcher.msgFetchCount(1); got != 1 {
		t.Errorf("conversation 1 should not have been refetched, got %d fetches", got)
	}
	if got := fetcher.msgFetchCount(2); got != 2 {
		t.Errorf("expected conversation 2 refetch, got %d fetches", got)
	}
	if got := fetcher.listFetchCount(); got != 2 {
		t.Errorf("expected list refetch, got %d fetches", got)
	}
}

func TestDeletedMessageStaysAsTombstone(t *testing.T) {
	fetcher := newFakeFetcher()
	fetcher.messages[1] = []*chat.Message{
		{ID: 1, ConversationID: 1, Content: "first"},
		{ID: 2, ConversationID: 1, Content: "second"},
	}
	store := NewStore(fetcher, 20, 50)

	ctx := context.Background()
	store.Messages(ctx, 1)

	// Server soft-deletes message 2; refetch returns it tombstoned.
	fetcher.mu.Lock()
	fetcher.messages[1] = []*chat.Message{
		{ID: 1, ConversationID: 1, Content: "first"},
		{ID: 2, ConversationID: 1, Content: "", IsDeleted: true},
	}
	fetcher.mu.Unlock()

	applied := make(chan int64, 4)
	cancel := store.OnChange(func(id int64) { applied <- id })
	defer cancel()

	store.HandleMessageEvent(ctx, chat.EventMessageDeleted, chat.MessageEvent{
		MessageID:      2,
		ConversationID: 1,
	})

	deadline := time.After(2 * time.Second)
	for {
		select {
		case id := <-applied:
			if id != 1 {
				continue
			}
			messages := store.CachedMessages(1)
			if len(messages) != 2 {
				t.Fatalf("deleted message must stay in sequence, got %d messages", len(messages))
			}
			if !messages[1].IsDeleted {
				t.Error("expected tombstoned entry")
			}
			if got := chat.DisplayContent(messages[1]); got != chat.Tombstone {
				t.Errorf("expected tombstone text, got %q", got)
			}
			return
		case <-deadline:
			t.Fatal("timed out waiting for refetch")
		}
	}
}

func TestStaleGenerationDiscarded(t *testing.T) {
	fetcher := newFakeFetcher()
	fetcher.messages[1] = []*chat.Message{{ID: 1, ConversationID: 1, Content: "old"}}
	store := NewStore(fetcher, 20, 50)

	ctx := context.Background()

	// Hold the first refetch in flight.
	block := make(chan struct{})
	blocked := make(chan struct{}, 1)
	fetcher.mu.Lock()
	fetcher.block = block
	fetcher.blocked = blocked
	fetcher.mu.Unlock()

	store.InvalidateMessages(1)
	done := make(chan struct{})
	go func() {
		store.refetchMessages(ctx, 1)
		close(done)
	}()
	<-blocked

	// A second invalidation arrives while the fetch is outstanding.
	store.InvalidateMessages(1)

	fetcher.mu.Lock()
	fetcher.block = nil
	fetcher.messages[1] = []*chat.Message{{ID: 1, ConversationID: 1, Content: "new"}}
	fetcher.mu.Unlock()
	close(block)
	<-done

	// The in-flight result was fetched under the old generation and
	// must not have been applied.
	if cached := store.CachedMessages(1); cached != nil {
		t.Errorf("stale result should be discarded, got %v", cached)
	}
	if !store.AreMessagesStale(1) {
		t.Error("cache should still be stale awaiting a current-generation fetch")
	}

	// A fresh fetch-through under the current generation applies.
	messages, err := store.Messages(ctx, 1)
	if err != nil {
		t.Fatalf("fetch-through failed: %v", err)
	}
	if len(messages) != 1 || messages[0].Content != "new" {
		t.Errorf("expected fresh state, got %v", messages)
	}
}

func TestDropEvictsConversation(t *testing.T) {
	fetcher := newFakeFetcher()
	fetcher.messages[1] = []*chat.Message{{ID: 1, ConversationID: 1}}
	store := NewStore(fetcher, 20, 50)

	store.Messages(context.Background(), 1)
	store.Drop(1)

	if got := store.CachedMessages(1); got != nil {
		t.Errorf("expected evicted cache, got %v", got)
	}
}
