package store

import (
	"context"
	"encoding/json"
	"fmt"
	"time"

	"github.com/redis/go-redis/v9"
)

const dlqIndexMaxLen = 1000

// DLQEntry captures an event that failed processing elsewhere and was
// reported through the dlq.v1 schema for inspection.
type DLQEntry struct {
	ID        string          `json:"id"`
	OrgID     string          `json:"org_id"`
	Channel   string          `json:"channel,omitempty"`
	Source    string          `json:"source"`
	Reason    string          `json:"reason"`
	Payload   json.RawMessage `json:"payload,omitempty"`
	CreatedAt time.Time       `json:"created_at"`
}

// DLQStore persists dead-letter entries in Redis with a per-org index.
type DLQStore struct {
	client redis.UniversalClient
}

func NewDLQStore(client redis.UniversalClient) *DLQStore {
	return &DLQStore{client: client}
}

// Add appends an entry and maintains the org's sorted index.
func (s *DLQStore) Add(ctx context.Context, entry DLQEntry) error {
	if entry.ID == "" {
		return fmt.Errorf("dlq entry id required")
	}
	if entry.OrgID == "" {
		return fmt.Errorf("dlq org id required")
	}
	if entry.CreatedAt.IsZero() {
		entry.CreatedAt = time.Now().UTC()
	}
	data, err := json.Marshal(entry)
	if err != nil {
		return fmt.Errorf("marshal dlq entry: %w", err)
	}
	pipe := s.client.TxPipeline()
	pipe.Set(ctx, dlqEntryKey(entry.ID), data, 0)
	pipe.ZAdd(ctx, dlqIndexKey(entry.OrgID), redis.Z{Score: float64(entry.CreatedAt.UnixNano()), Member: entry.ID})
	pipe.ZRemRangeByRank(ctx, dlqIndexKey(entry.OrgID), 0, -dlqIndexMaxLen-1)
	_, err = pipe.Exec(ctx)
	return err
}

// List returns an org's most recent DLQ entries, newest first.
func (s *DLQStore) List(ctx context.Context, orgID string, limit int64) ([]DLQEntry, error) {
	if orgID == "" {
		return nil, fmt.Errorf("org id required")
	}
	if limit <= 0 {
		limit = 100
	}
	ids, err := s.client.ZRevRange(ctx, dlqIndexKey(orgID), 0, limit-1).Result()
	if err != nil {
		return nil, err
	}
	if len(ids) == 0 {
		return []DLQEntry{}, nil
	}
	pipe := s.client.Pipeline()
	cmds := make(map[string]*redis.StringCmd, len(ids))
	for _, id := range ids {
		cmds[id] = pipe.Get(ctx, dlqEntryKey(id))
	}
	_, _ = pipe.Exec(ctx)

	out := make([]DLQEntry, 0, len(ids))
	for _, id := range ids {
		cmd := cmds[id]
		if cmd == nil {
			continue
		}
		data, err := cmd.Bytes()
		if err != nil {
			continue
		}
		var entry DLQEntry
		if err := json.Unmarshal(data, &entry); err != nil {
			continue
		}
		out = append(out, entry)
	}
	return out, nil
}

// Get returns a single DLQ entry.
func (s *DLQStore) Get(ctx context.Context, id string) (*DLQEntry, error) {
	if id == "" {
		return nil, fmt.Errorf("dlq entry id required")
	}
	data, err := s.client.Get(ctx, dlqEntryKey(id)).Bytes()
	if err != nil {
		return nil, err
	}
	var entry DLQEntry
	if err := json.Unmarshal(data, &entry); err != nil {
		return nil, err
	}
	return &entry, nil
}

// Delete removes an entry from the store and its org index.
func (s *DLQStore) Delete(ctx context.Context, orgID, id string) error {
	if id == "" {
		return fmt.Errorf("dlq entry id required")
	}
	pipe := s.client.TxPipeline()
	pipe.Del(ctx, dlqEntryKey(id))
	if orgID != "" {
		pipe.ZRem(ctx, dlqIndexKey(orgID), id)
	}
	_, err := pipe.Exec(ctx)
	return err
}

func dlqEntryKey(id string) string {
	return "dlq:entry:" + id
}

func dlqIndexKey(orgID string) string {
	return "dlq:index:" + orgID
}
