// internal/api/client.go
// REST client for the taskchat backend. Every response travels in the
// uniform {success, data, message, error} envelope; mutations are never
// applied to local state here, the cache refetches after server events.

package api

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"net/http"
	"time"

	"github.com/google/uuid"

	"github.com/taskchat/syncd/internal/chat"
)

var (
	ErrUnauthorized = errors.New("unauthorized: session credential rejected")
	ErrNotFound     = errors.New("resource not found")
)

// APIError carries a non-2xx backend response
type APIError struct {
	Status  int
	Message string
}

func (e *APIError) Error() string {
	return fmt.Sprintf("api error (%d): %s", e.Status, e.Message)
}

// envelope is the backend's uniform response wrapper
type envelope struct {
	Success bool            `json:"success"`
	Message string          `json:"message,omitempty"`
	Data    json.RawMessage `json:"data,omitempty"`
	Error   string          `json:"error,omitempty"`
}

// Client talks to the taskchat REST API
type Client struct {
	baseURL    string
	authToken  string
	httpClient *http.Client
}

// New creates an API client. The token is attached as a bearer
// credential on every request; it is never inspected here.
func New(baseURL, authToken string, timeout time.Duration) *Client {
	return &Client{
		baseURL:   baseURL,
		authToken: authToken,
		httpClient: &http.Client{
			Timeout: timeout,
		},
	}
}

func (c *Client) do(ctx context.Context, method, path string, body, out interface{}) error {
	var buf bytes.Buffer
	if body != nil {
		if err := json.NewEncoder(&buf).Encode(body); err != nil {
			return fmt.Errorf("encoding request: %w", err)
		}
	}

	req, err := http.NewRequestWithContext(ctx, method, c.baseURL+path, &buf)
	if err != nil {
		return err
	}
	req.Header.Set("Content-Type", "application/json")
	if c.authToken != "" {
		req.Header.Set("Authorization", "Bearer "+c.authToken)
	}

	resp, err := c.httpClient.Do(req)
	if err != nil {
		return fmt.Errorf("request failed: %w", err)
	}
	defer resp.Body.Close()

	// Map the status before touching the body: error responses may come
	// from a proxy with an empty or non-JSON body.
	switch resp.StatusCode {
	case http.StatusUnauthorized:
		return ErrUnauthorized
	case http.StatusNotFound:
		return ErrNotFound
	}

	var env envelope
	if resp.StatusCode >= 400 {
		json.NewDecoder(resp.Body).Decode(&env)
		msg := env.Error
		if msg == "" {
			msg = env.Message
		}
		return &APIError{Status: resp.StatusCode, Message: msg}
	}

	if err := json.NewDecoder(resp.Body).Decode(&env); err != nil {
		return fmt.Errorf("decoding response: %w", err)
	}
	if !env.Success {
		msg := env.Error
		if msg == "" {
			msg = env.Message
		}
		return &APIError{Status: resp.StatusCode, Message: msg}
	}

	if out != nil && len(env.Data) > 0 {
		if err := json.Unmarshal(env.Data, out); err != nil {
			return fmt.Errorf("decoding data: %w", err)
		}
	}
	return nil
}

// GetConversations fetches the viewer's conversation list
func (c *Client) GetConversations(ctx context.Context, limit, offset int) ([]*chat.Conversation, error) {
	var conversations []*chat.Conversation
	path := fmt.Sprintf("/api/v1/chat/conversations?limit=%d&offset=%d", limit, offset)
	if err := c.do(ctx, http.MethodGet, path, nil, &conversations); err != nil {
		return nil, err
	}
	return conversations, nil
}

// GetConversation fetches one conversation with participants
func (c *Client) GetConversation(ctx context.Context, conversationID int64) (*chat.Conversation, error) {
	var conversation chat.Conversation
	path := fmt.Sprintf("/api/v1/chat/conversations/%d", conversationID)
	if err := c.do(ctx, http.MethodGet, path, nil, &conversation); err != nil {
		return nil, err
	}
	return &conversation, nil
}

// GetMessages fetches one page of a conversation's messages, newest last
func (c *Client) GetMessages(ctx context.Context, conversationID int64, limit, offset int) ([]*chat.Message, error) {
	var messages []*chat.Message
	path := fmt.Sprintf("/api/v1/chat/conversations/%d/messages?limit=%d&offset=%d", conversationID, limit, offset)
	if err := c.do(ctx, http.MethodGet, path, nil, &messages); err != nil {
		return nil, err
	}
	return messages, nil
}

// CreateConversation creates a conversation from a participant selection
func (c *Client) CreateConversation(ctx context.Context, req *chat.CreateConversationRequest) (*chat.Conversation, error) {
	if err := chat.ValidateStruct(req); err != nil {
		return nil, err
	}
	var conversation chat.Conversation
	if err := c.do(ctx, http.MethodPost, "/api/v1/chat/conversations", req, &conversation); err != nil {
		return nil, err
	}
	return &conversation, nil
}

// SendMessage posts a message over REST. A fresh client id makes the
// send idempotent on retry.
func (c *Client) SendMessage(ctx context.Context, conversationID int64, content string) (*chat.Message, error) {
	req := &chat.SendMessageRequest{
		ConversationID: conversationID,
		Content:        content,
		ClientID:       uuid.NewString(),
	}
	if err := chat.ValidateStruct(req); err != nil {
		return nil, err
	}
	var message chat.Message
	if err := c.do(ctx, http.MethodPost, "/api/v1/chat/messages", req, &message); err != nil {
		return nil, err
	}
	return &message, nil
}

// EditMessage replaces a message's content
func (c *Client) EditMessage(ctx context.Context, messageID int64, content string) (*chat.Message, error) {
	req := &chat.EditMessageRequest{Content: content}
	if err := chat.ValidateStruct(req); err != nil {
		return nil, err
	}
	var message chat.Message
	path := fmt.Sprintf("/api/v1/chat/messages/%d", messageID)
	if err := c.do(ctx, http.MethodPut, path, req, &message); err != nil {
		return nil, err
	}
	return &message, nil
}

// DeleteMessage soft-deletes a message; it stays in sequence as a tombstone
func (c *Client) DeleteMessage(ctx context.Context, messageID int64) error {
	path := fmt.Sprintf("/api/v1/chat/messages/%d", messageID)
	return c.do(ctx, http.MethodDelete, path, nil, nil)
}

// AddParticipant adds a user to a group or project conversation
func (c *Client) AddParticipant(ctx context.Context, conversationID int64, req *chat.AddParticipantRequest) error {
	if err := chat.ValidateStruct(req); err != nil {
		return err
	}
	path := fmt.Sprintf("/api/v1/chat/conversations/%d/participants", conversationID)
	return c.do(ctx, http.MethodPost, path, req, nil)
}

// RemoveParticipant removes a user from a conversation
func (c *Client) RemoveParticipant(ctx context.Context, conversationID, userID int64) error {
	path := fmt.Sprintf("/api/v1/chat/conversations/%d/participants/%d", conversationID, userID)
	return c.do(ctx, http.MethodDelete, path, nil, nil)
}

// LeaveConversation removes the viewer from a conversation
func (c *Client) LeaveConversation(ctx context.Context, conversationID int64) error {
	path := fmt.Sprintf("/api/v1/chat/conversations/%d/leave", conversationID)
	return c.do(ctx, http.MethodPost, path, nil, nil)
}

// MarkRead marks a whole conversation read for the viewer. Safe to send
// redundantly; the backend deduplicates read state.
func (c *Client) MarkRead(ctx context.Context, conversationID int64) error {
	req := &chat.MarkReadRequest{ConversationID: conversationID}
	return c.do(ctx, http.MethodPost, "/api/v1/chat/messages/read", req, nil)
}
