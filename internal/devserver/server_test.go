package devserver

import (
	"context"
	"net/http/httptest"
	"strings"
	"sync"
	"testing"
	"time"

	"github.com/taskchat/syncd/internal/api"
	"github.com/taskchat/syncd/internal/chat"
	"github.com/taskchat/syncd/internal/socket"
)

func startServer(t *testing.T) (*Server, *httptest.Server) {
	t.Helper()
	srv := New()
	ts := httptest.NewServer(srv.Handler())
	t.Cleanup(ts.Close)

	srv.SeedUser(&chat.UserInfo{ID: 1, Username: "me", DisplayName: "Me"})
	srv.SeedUser(&chat.UserInfo{ID: 2, Username: "ada", DisplayName: "Ada"})
	srv.SeedUser(&chat.UserInfo{ID: 3, Username: "grace", DisplayName: "Grace"})
	return srv, ts
}

func wsURL(ts *httptest.Server) string {
	return "ws" + strings.TrimPrefix(ts.URL, "http") + "/ws"
}

func connect(t *testing.T, ts *httptest.Server, token string) *socket.Manager {
	t.Helper()
	m := socket.NewManager(wsURL(ts), token)
	if err := m.Connect(context.Background()); err != nil {
		t.Fatalf("connect failed: %v", err)
	}
	t.Cleanup(m.Close)
	return m
}

func TestRESTConversationFlow(t *testing.T) {
	_, ts := startServer(t)
	client := api.New(ts.URL, "1", 5*time.Second)
	ctx := context.Background()

	conv, err := client.CreateConversation(ctx, &chat.CreateConversationRequest{
		Kind:           chat.KindGroup,
		Name:           "planning",
		ParticipantIDs: []int64{2, 3},
	})
	if err != nil {
		t.Fatalf("create conversation failed: %v", err)
	}
	if len(conv.Participants) != 3 {
		t.Fatalf("expected 3 participants, got %d", len(conv.Participants))
	}

	msg, err := client.SendMessage(ctx, conv.ID, "kickoff at noon")
	if err != nil {
		t.Fatalf("send message failed: %v", err)
	}

	messages, err := client.GetMessages(ctx, conv.ID, 50, 0)
	if err != nil {
		t.Fatalf("get messages failed: %v", err)
	}
	if len(messages) != 1 || messages[0].ID != msg.ID {
		t.Fatalf("expected the sent message back, got %+v", messages)
	}

	detail, err := client.GetConversation(ctx, conv.ID)
	if err != nil {
		t.Fatalf("get conversation failed: %v", err)
	}
	if detail.LastMessagePreview == nil || *detail.LastMessagePreview != "kickoff at noon" {
		t.Fatal("expected last message preview to follow the send")
	}
}

func TestDeleteKeepsMessageInSequence(t *testing.T) {
	srv, ts := startServer(t)
	conv := srv.SeedConversation(chat.KindGroup, "team", 1, []int64{2})
	first, _ := srv.SeedMessage(conv.ID, 1, "first")
	srv.SeedMessage(conv.ID, 2, "second")

	client := api.New(ts.URL, "1", 5*time.Second)
	ctx := context.Background()

	if err := client.DeleteMessage(ctx, first.ID); err != nil {
		t.Fatalf("delete failed: %v", err)
	}

	messages, err := client.GetMessages(ctx, conv.ID, 50, 0)
	if err != nil {
		t.Fatalf("get messages failed: %v", err)
	}
	if len(messages) != 2 {
		t.Fatalf("expected deleted message to stay in sequence, got %d messages", len(messages))
	}
	if !messages[0].IsDeleted || messages[0].Content != "" {
		t.Fatalf("expected a cleared tombstone, got %+v", messages[0])
	}
	if got := chat.DisplayContent(messages[0]); got != chat.Tombstone {
		t.Fatalf("expected tombstone placeholder, got %q", got)
	}
}

func TestLeaveGuardForSoleAdmin(t *testing.T) {
	srv, ts := startServer(t)
	conv := srv.SeedConversation(chat.KindGroup, "team", 1, []int64{2, 3})

	admin := api.New(ts.URL, "1", 5*time.Second)
	member := api.New(ts.URL, "2", 5*time.Second)
	ctx := context.Background()

	if err := admin.LeaveConversation(ctx, conv.ID); err == nil {
		t.Fatal("expected sole admin leave to be rejected")
	}
	if err := member.LeaveConversation(ctx, conv.ID); err != nil {
		t.Fatalf("expected plain member leave to succeed: %v", err)
	}
}

func TestSocketSendReachesParticipants(t *testing.T) {
	srv, ts := startServer(t)
	conv := srv.SeedConversation(chat.KindDirect, "", 1, []int64{2})

	sender := connect(t, ts, "1")
	receiver := connect(t, ts, "2")

	var mu sync.Mutex
	var got []chat.MessageEvent
	receiver.OnMessageEvent(func(eventType string, event chat.MessageEvent) {
		if eventType == chat.EventMessageNew {
			mu.Lock()
			got = append(got, event)
			mu.Unlock()
		}
	})

	if err := sender.SendMessage(conv.ID, "hello over the wire", "11111111-2222-4333-8444-555555555555"); err != nil {
		t.Fatalf("send directive failed: %v", err)
	}

	deadline := time.Now().Add(2 * time.Second)
	for {
		mu.Lock()
		n := len(got)
		mu.Unlock()
		if n > 0 {
			break
		}
		if time.Now().After(deadline) {
			t.Fatal("timed out waiting for message:new push")
		}
		time.Sleep(10 * time.Millisecond)
	}

	mu.Lock()
	event := got[0]
	mu.Unlock()
	if event.ConversationID != conv.ID || event.SenderID != 1 {
		t.Fatalf("unexpected event payload: %+v", event)
	}

	messages := srv.store.conversationMessages(conv.ID, 50, 0)
	if len(messages) != 1 || messages[0].Content != "hello over the wire" {
		t.Fatal("expected the directive send to be stored")
	}
}

func TestTypingFanOutExcludesSender(t *testing.T) {
	srv, ts := startServer(t)
	conv := srv.SeedConversation(chat.KindGroup, "team", 1, []int64{2, 3})

	typist := connect(t, ts, "1")
	watcher := connect(t, ts, "2")
	outsider := connect(t, ts, "3")

	var mu sync.Mutex
	var typistSaw, watcherSaw, outsiderSaw int
	typist.OnTyping(func(chat.TypingEvent) { mu.Lock(); typistSaw++; mu.Unlock() })
	watcher.OnTyping(func(event chat.TypingEvent) {
		if event.UserID == 1 && event.IsTyping {
			mu.Lock()
			watcherSaw++
			mu.Unlock()
		}
	})
	outsider.OnTyping(func(chat.TypingEvent) { mu.Lock(); outsiderSaw++; mu.Unlock() })

	// Only the typist and the watcher enter the room.
	if err := typist.JoinConversation(conv.ID); err != nil {
		t.Fatalf("join failed: %v", err)
	}
	if err := watcher.JoinConversation(conv.ID); err != nil {
		t.Fatalf("join failed: %v", err)
	}

	// Give joins time to register before the typing burst.
	time.Sleep(100 * time.Millisecond)

	if err := typist.SetTyping(conv.ID, 1, true); err != nil {
		t.Fatalf("typing directive failed: %v", err)
	}

	deadline := time.Now().Add(2 * time.Second)
	for {
		mu.Lock()
		n := watcherSaw
		mu.Unlock()
		if n > 0 {
			break
		}
		if time.Now().After(deadline) {
			t.Fatal("timed out waiting for typing push")
		}
		time.Sleep(10 * time.Millisecond)
	}

	time.Sleep(100 * time.Millisecond)
	mu.Lock()
	defer mu.Unlock()
	if typistSaw != 0 {
		t.Fatal("typist should not receive their own typing event")
	}
	if outsiderSaw != 0 {
		t.Fatal("user outside the room should not receive typing events")
	}
}

func TestStoreReturnsDetachedSnapshots(t *testing.T) {
	srv, _ := startServer(t)
	conv := srv.SeedConversation(chat.KindGroup, "team", 1, []int64{2})

	before, err := srv.store.conversation(conv.ID)
	if err != nil {
		t.Fatalf("conversation lookup failed: %v", err)
	}

	first, err := srv.SeedMessage(conv.ID, 2, "first")
	if err != nil {
		t.Fatalf("seed message failed: %v", err)
	}
	if before.LastMessage != nil || before.LastMessageAt != nil {
		t.Fatal("earlier snapshot mutated by a later send")
	}

	messages := srv.store.conversationMessages(conv.ID, 50, 0)
	if _, err := srv.store.editMessage(first.ID, 2, "edited"); err != nil {
		t.Fatalf("edit failed: %v", err)
	}
	if messages[0].Content != "first" {
		t.Fatal("message snapshot mutated by a later edit")
	}
}

func TestPresenceBroadcast(t *testing.T) {
	_, ts := startServer(t)

	watcher := connect(t, ts, "1")

	peer := connect(t, ts, "2")

	deadline := time.Now().Add(2 * time.Second)
	for !watcher.IsUserOnline(2) {
		if time.Now().After(deadline) {
			t.Fatal("timed out waiting for online presence")
		}
		time.Sleep(10 * time.Millisecond)
	}

	peer.Close()

	deadline = time.Now().Add(2 * time.Second)
	for watcher.IsUserOnline(2) {
		if time.Now().After(deadline) {
			t.Fatal("timed out waiting for offline presence")
		}
		time.Sleep(10 * time.Millisecond)
	}
}
