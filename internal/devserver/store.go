// internal/devserver/store.go
// In-memory state for the reference server. Development and test use
// only; the production backend is a separate system.

package devserver

import (
	"errors"
	"sort"
	"sync"
	"time"

	"github.com/taskchat/syncd/internal/chat"
)

var (
	errConversationNotFound = errors.New("conversation not found")
	errMessageNotFound      = errors.New("message not found")
	errNotParticipant       = errors.New("not a participant in this conversation")
)

type memoryStore struct {
	mu sync.Mutex

	nextConversationID int64
	nextMessageID      int64
	nextParticipantID  int64

	users         map[int64]*chat.UserInfo
	conversations map[int64]*chat.Conversation
	messages      map[int64][]*chat.Message // conversationID -> ordered messages
}

func newMemoryStore() *memoryStore {
	return &memoryStore{
		users:         make(map[int64]*chat.UserInfo),
		conversations: make(map[int64]*chat.Conversation),
		messages:      make(map[int64][]*chat.Message),
	}
}

func (s *memoryStore) addUser(user *chat.UserInfo) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.users[user.ID] = user
}

func (s *memoryStore) createConversation(kind chat.Kind, name string, creatorID int64, participantIDs []int64) *chat.Conversation {
	s.mu.Lock()
	defer s.mu.Unlock()

	s.nextConversationID++
	conv := &chat.Conversation{
		ID:        s.nextConversationID,
		Kind:      kind,
		CreatedAt: time.Now(),
		UpdatedAt: time.Now(),
	}
	if name != "" {
		conv.Name = &name
	}

	ids := append([]int64{creatorID}, participantIDs...)
	seen := map[int64]bool{}
	for _, userID := range ids {
		if seen[userID] {
			continue
		}
		seen[userID] = true
		s.nextParticipantID++
		conv.Participants = append(conv.Participants, &chat.Participant{
			ID:             s.nextParticipantID,
			ConversationID: conv.ID,
			UserID:         userID,
			IsAdmin:        userID == creatorID && kind != chat.KindDirect,
			JoinedAt:       time.Now(),
			User:           s.users[userID],
		})
	}

	s.conversations[conv.ID] = conv
	return copyConversation(conv)
}

func (s *memoryStore) conversation(id int64) (*chat.Conversation, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	conv, ok := s.conversations[id]
	if !ok {
		return nil, errConversationNotFound
	}
	return copyConversation(conv), nil
}

func (s *memoryStore) conversationsFor(userID int64) []*chat.Conversation {
	s.mu.Lock()
	defer s.mu.Unlock()

	var out []*chat.Conversation
	for _, conv := range s.conversations {
		if findParticipant(conv, userID) != nil {
			out = append(out, copyConversation(conv))
		}
	}
	sort.Slice(out, func(i, j int) bool { return out[i].ID < out[j].ID })
	return out
}

func (s *memoryStore) participantIDs(conversationID int64) []int64 {
	s.mu.Lock()
	defer s.mu.Unlock()

	conv, ok := s.conversations[conversationID]
	if !ok {
		return nil
	}
	ids := make([]int64, 0, len(conv.Participants))
	for _, p := range conv.Participants {
		ids = append(ids, p.UserID)
	}
	return ids
}

func (s *memoryStore) appendMessage(conversationID, senderID int64, content string) (*chat.Message, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	conv, ok := s.conversations[conversationID]
	if !ok {
		return nil, errConversationNotFound
	}
	if findParticipant(conv, senderID) == nil {
		return nil, errNotParticipant
	}

	s.nextMessageID++
	msg := &chat.Message{
		ID:             s.nextMessageID,
		ConversationID: conversationID,
		SenderID:       senderID,
		Content:        content,
		CreatedAt:      time.Now(),
		Sender:         s.users[senderID],
	}
	s.messages[conversationID] = append(s.messages[conversationID], msg)

	now := msg.CreatedAt
	preview := content
	conv.LastMessageAt = &now
	conv.LastMessagePreview = &preview
	conv.LastMessage = msg
	conv.UpdatedAt = now

	return copyMessage(msg), nil
}

func (s *memoryStore) editMessage(messageID, editorID int64, content string) (*chat.Message, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	msg := s.findMessageLocked(messageID)
	if msg == nil {
		return nil, errMessageNotFound
	}
	if msg.SenderID != editorID {
		return nil, errNotParticipant
	}

	now := time.Now()
	msg.Content = content
	msg.IsEdited = true
	msg.EditedAt = &now
	return copyMessage(msg), nil
}

func (s *memoryStore) deleteMessage(messageID, deleterID int64) (*chat.Message, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	msg := s.findMessageLocked(messageID)
	if msg == nil {
		return nil, errMessageNotFound
	}
	if msg.SenderID != deleterID {
		return nil, errNotParticipant
	}

	now := time.Now()
	msg.Content = ""
	msg.IsDeleted = true
	msg.DeletedAt = &now
	return copyMessage(msg), nil
}

func (s *memoryStore) conversationMessages(conversationID int64, limit, offset int) []*chat.Message {
	s.mu.Lock()
	defer s.mu.Unlock()

	all := s.messages[conversationID]
	if offset >= len(all) {
		return nil
	}
	end := offset + limit
	if limit <= 0 || end > len(all) {
		end = len(all)
	}
	out := make([]*chat.Message, 0, end-offset)
	for _, msg := range all[offset:end] {
		out = append(out, copyMessage(msg))
	}
	return out
}

func (s *memoryStore) removeParticipant(conversationID, userID int64) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	conv, ok := s.conversations[conversationID]
	if !ok {
		return errConversationNotFound
	}
	for i, p := range conv.Participants {
		if p.UserID == userID {
			conv.Participants = append(conv.Participants[:i], conv.Participants[i+1:]...)
			return nil
		}
	}
	return errNotParticipant
}

func (s *memoryStore) addParticipant(conversationID, userID int64, isAdmin bool) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	conv, ok := s.conversations[conversationID]
	if !ok {
		return errConversationNotFound
	}
	if findParticipant(conv, userID) != nil {
		return nil
	}

	s.nextParticipantID++
	conv.Participants = append(conv.Participants, &chat.Participant{
		ID:             s.nextParticipantID,
		ConversationID: conversationID,
		UserID:         userID,
		IsAdmin:        isAdmin,
		JoinedAt:       time.Now(),
		User:           s.users[userID],
	})
	return nil
}

func (s *memoryStore) findMessageLocked(messageID int64) *chat.Message {
	for _, msgs := range s.messages {
		for _, msg := range msgs {
			if msg.ID == messageID {
				return msg
			}
		}
	}
	return nil
}

// Handlers JSON-encode results outside the store lock, so everything
// returned is a snapshot detached from the live structs.

func copyMessage(msg *chat.Message) *chat.Message {
	out := *msg
	return &out
}

func copyConversation(conv *chat.Conversation) *chat.Conversation {
	out := *conv
	out.Participants = append([]*chat.Participant(nil), conv.Participants...)
	if conv.LastMessage != nil {
		out.LastMessage = copyMessage(conv.LastMessage)
	}
	return &out
}

func findParticipant(conv *chat.Conversation, userID int64) *chat.Participant {
	for _, p := range conv.Participants {
		if p.UserID == userID {
			return p
		}
	}
	return nil
}
