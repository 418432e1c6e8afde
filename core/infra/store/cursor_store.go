package store

import (
	"context"
	"fmt"
	"strconv"

	"github.com/redis/go-redis/v9"
)

// CursorStore records per-consumer delivery cursors so a client reconnecting
// with RESUME can ask "everything after what I acknowledged".
type CursorStore struct {
	client redis.UniversalClient
}

func NewCursorStore(client redis.UniversalClient) *CursorStore {
	return &CursorStore{client: client}
}

// Set stores the consumer's cursor for a channel. Cursors only move forward;
// a stale ack (lower cursor) is ignored.
func (s *CursorStore) Set(ctx context.Context, orgID, consumer, channel string, cursor int64) error {
	if orgID == "" || consumer == "" || channel == "" {
		return fmt.Errorf("org id, consumer, and channel required")
	}
	if cursor < 0 {
		return fmt.Errorf("cursor must be non-negative")
	}
	current, err := s.Get(ctx, orgID, consumer, channel)
	if err != nil && err != redis.Nil {
		return err
	}
	if cursor <= current {
		return nil
	}
	return s.client.Set(ctx, cursorKey(orgID, consumer, channel), cursor, 0).Err()
}

// Get returns the stored cursor, or 0 with redis.Nil when none exists.
func (s *CursorStore) Get(ctx context.Context, orgID, consumer, channel string) (int64, error) {
	if orgID == "" || consumer == "" || channel == "" {
		return 0, fmt.Errorf("org id, consumer, and channel required")
	}
	raw, err := s.client.Get(ctx, cursorKey(orgID, consumer, channel)).Result()
	if err != nil {
		return 0, err
	}
	cursor, err := strconv.ParseInt(raw, 10, 64)
	if err != nil {
		return 0, fmt.Errorf("parse cursor: %w", err)
	}
	return cursor, nil
}

func cursorKey(orgID, consumer, channel string) string {
	return "cursor:" + orgID + ":" + consumer + ":" + channel
}
