package store

import (
	"context"
	"encoding/json"
	"fmt"
	"time"

	"github.com/redis/go-redis/v9"
)

const eventIndexMaxLen = 1000

// EventRecord is a durably persisted ingest event.
type EventRecord struct {
	ID        string          `json:"id"`
	Channel   string          `json:"channel"`
	Schema    string          `json:"schema"`
	OrgID     string          `json:"org_id"`
	Cursor    int64           `json:"cursor"`
	Data      json.RawMessage `json:"data"`
	CreatedAt time.Time       `json:"created_at"`
}

// EventStore persists ingest events in Redis: one entry key per record plus a
// per-channel ZSET index scored by cursor. Cursors are allocated from a
// per-channel counter so replay order matches broadcast order.
type EventStore struct {
	client redis.UniversalClient
}

func NewEventStore(client redis.UniversalClient) *EventStore {
	return &EventStore{client: client}
}

// Append assigns the next channel cursor, persists the record, and indexes it.
// The index keeps the most recent eventIndexMaxLen entries per channel.
func (s *EventStore) Append(ctx context.Context, record EventRecord) (int64, error) {
	if record.ID == "" {
		return 0, fmt.Errorf("event id required")
	}
	if record.Channel == "" {
		return 0, fmt.Errorf("event channel required")
	}
	if record.CreatedAt.IsZero() {
		record.CreatedAt = time.Now().UTC()
	}
	cursor, err := s.client.Incr(ctx, eventCursorKey(record.Channel)).Result()
	if err != nil {
		return 0, fmt.Errorf("allocate cursor: %w", err)
	}
	record.Cursor = cursor
	data, err := json.Marshal(record)
	if err != nil {
		return 0, fmt.Errorf("marshal event: %w", err)
	}
	pipe := s.client.TxPipeline()
	pipe.Set(ctx, eventEntryKey(record.ID), data, 0)
	pipe.ZAdd(ctx, eventIndexKey(record.Channel), redis.Z{Score: float64(cursor), Member: record.ID})
	pipe.ZRemRangeByRank(ctx, eventIndexKey(record.Channel), 0, -eventIndexMaxLen-1)
	if _, err := pipe.Exec(ctx); err != nil {
		return 0, err
	}
	return cursor, nil
}

// Get returns a single event record.
func (s *EventStore) Get(ctx context.Context, id string) (*EventRecord, error) {
	if id == "" {
		return nil, fmt.Errorf("event id required")
	}
	data, err := s.client.Get(ctx, eventEntryKey(id)).Bytes()
	if err != nil {
		return nil, err
	}
	var record EventRecord
	if err := json.Unmarshal(data, &record); err != nil {
		return nil, err
	}
	return &record, nil
}

// ListAfter returns events on channel with cursor strictly greater than the
// given cursor, oldest first. Used by RESUME replay.
func (s *EventStore) ListAfter(ctx context.Context, channel string, cursor int64, limit int64) ([]EventRecord, error) {
	if channel == "" {
		return nil, fmt.Errorf("channel required")
	}
	if limit <= 0 {
		limit = 100
	}
	ids, err := s.client.ZRangeByScore(ctx, eventIndexKey(channel), &redis.ZRangeBy{
		Min:    fmt.Sprintf("(%d", cursor),
		Max:    "+inf",
		Offset: 0,
		Count:  limit,
	}).Result()
	if err != nil {
		return nil, err
	}
	if len(ids) == 0 {
		return []EventRecord{}, nil
	}
	pipe := s.client.Pipeline()
	cmds := make(map[string]*redis.StringCmd, len(ids))
	for _, id := range ids {
		cmds[id] = pipe.Get(ctx, eventEntryKey(id))
	}
	_, _ = pipe.Exec(ctx)

	out := make([]EventRecord, 0, len(ids))
	for _, id := range ids {
		cmd := cmds[id]
		if cmd == nil {
			continue
		}
		data, err := cmd.Bytes()
		if err != nil {
			continue
		}
		var record EventRecord
		if err := json.Unmarshal(data, &record); err != nil {
			continue
		}
		out = append(out, record)
	}
	return out, nil
}

func eventEntryKey(id string) string {
	return "events:entry:" + id
}

func eventIndexKey(channel string) string {
	return "events:index:" + channel
}

func eventCursorKey(channel string) string {
	return "events:cursor:" + channel
}
