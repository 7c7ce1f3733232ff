// internal/statestore/redis.go
// Optional resume-state mirror. A restarted daemon reads the last-known
// read cursors from here so unread markers look coherent before the
// first refetch lands. Never authoritative; the backend wins on every
// refetch.

package statestore

import (
	"context"
	"fmt"
	"strconv"
	"time"

	"github.com/go-redis/redis/v8"
)

const keyTTL = 30 * 24 * time.Hour

// Store persists per-conversation resume state in Redis.
// A nil *Store is valid and turns every operation into a no-op, so
// callers never branch on whether the mirror is configured.
type Store struct {
	client *redis.Client
	userID int64
}

// New connects to Redis and verifies the connection
func New(redisURL string, userID int64) (*Store, error) {
	opts, err := redis.ParseURL(redisURL)
	if err != nil {
		return nil, fmt.Errorf("failed to parse Redis URL: %w", err)
	}

	client := redis.NewClient(opts)

	ctx := context.Background()
	if err := client.Ping(ctx).Err(); err != nil {
		return nil, fmt.Errorf("failed to connect to Redis: %w", err)
	}

	return &Store{client: client, userID: userID}, nil
}

func (s *Store) readCursorKey(conversationID int64) string {
	return fmt.Sprintf("chatsync:%d:conv:%d:read_cursor", s.userID, conversationID)
}

func (s *Store) lastEventKey() string {
	return fmt.Sprintf("chatsync:%d:last_event", s.userID)
}

// SetReadCursor records the newest message id the viewer has read
func (s *Store) SetReadCursor(ctx context.Context, conversationID, messageID int64) error {
	if s == nil {
		return nil
	}
	return s.client.Set(ctx, s.readCursorKey(conversationID), messageID, keyTTL).Err()
}

// ReadCursor returns the stored cursor, 0 when none exists
func (s *Store) ReadCursor(ctx context.Context, conversationID int64) (int64, error) {
	if s == nil {
		return 0, nil
	}
	val, err := s.client.Get(ctx, s.readCursorKey(conversationID)).Result()
	if err == redis.Nil {
		return 0, nil
	}
	if err != nil {
		return 0, err
	}
	return strconv.ParseInt(val, 10, 64)
}

// TouchLastEvent records the arrival time of the newest socket event
func (s *Store) TouchLastEvent(ctx context.Context, at time.Time) error {
	if s == nil {
		return nil
	}
	return s.client.Set(ctx, s.lastEventKey(), at.UnixMilli(), keyTTL).Err()
}

// LastEvent returns the stored arrival time, zero when none exists
func (s *Store) LastEvent(ctx context.Context) (time.Time, error) {
	if s == nil {
		return time.Time{}, nil
	}
	val, err := s.client.Get(ctx, s.lastEventKey()).Result()
	if err == redis.Nil {
		return time.Time{}, nil
	}
	if err != nil {
		return time.Time{}, err
	}
	millis, err := strconv.ParseInt(val, 10, 64)
	if err != nil {
		return time.Time{}, err
	}
	return time.UnixMilli(millis), nil
}

// Close releases the Redis connection
func (s *Store) Close() error {
	if s == nil {
		return nil
	}
	return s.client.Close()
}
