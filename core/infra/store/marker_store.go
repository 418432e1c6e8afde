package store

import (
	"context"
	"encoding/json"
	"fmt"
	"time"

	"github.com/redis/go-redis/v9"
)

// Marker records that an idempotency key has been applied for an org.
type Marker struct {
	RecordID  string    `json:"record_id"`
	Schema    string    `json:"schema"`
	Channel   string    `json:"channel"`
	CreatedAt time.Time `json:"created_at"`
}

// MarkerStore persists idempotency markers keyed by (org, idempotency key).
// Reservation uses SETNX so concurrent retries race safely: exactly one
// caller wins and everyone else reads the winner's marker.
type MarkerStore struct {
	client redis.UniversalClient
}

func NewMarkerStore(client redis.UniversalClient) *MarkerStore {
	return &MarkerStore{client: client}
}

// TryReserve atomically claims (org, key). On success it returns (true, nil).
// When the key is already claimed it returns (false, existing marker).
func (s *MarkerStore) TryReserve(ctx context.Context, orgID, key string, marker Marker) (bool, *Marker, error) {
	if orgID == "" || key == "" {
		return false, nil, fmt.Errorf("org id and idempotency key required")
	}
	if marker.CreatedAt.IsZero() {
		marker.CreatedAt = time.Now().UTC()
	}
	data, err := json.Marshal(marker)
	if err != nil {
		return false, nil, fmt.Errorf("marshal marker: %w", err)
	}
	reserved, err := s.client.SetNX(ctx, markerKey(orgID, key), data, 0).Result()
	if err != nil {
		return false, nil, err
	}
	if reserved {
		return true, nil, nil
	}
	existing, err := s.Get(ctx, orgID, key)
	if err != nil {
		return false, nil, err
	}
	return false, existing, nil
}

// Get returns the marker for (org, key), or redis.Nil when absent.
func (s *MarkerStore) Get(ctx context.Context, orgID, key string) (*Marker, error) {
	if orgID == "" || key == "" {
		return nil, fmt.Errorf("org id and idempotency key required")
	}
	data, err := s.client.Get(ctx, markerKey(orgID, key)).Bytes()
	if err != nil {
		return nil, err
	}
	var marker Marker
	if err := json.Unmarshal(data, &marker); err != nil {
		return nil, err
	}
	return &marker, nil
}

// Release drops a reservation. Called only when the record write behind a
// fresh reservation failed; losing this delete re-ACKs the retry as a
// duplicate, which is the accepted at-least-once outcome.
func (s *MarkerStore) Release(ctx context.Context, orgID, key string) error {
	if orgID == "" || key == "" {
		return fmt.Errorf("org id and idempotency key required")
	}
	return s.client.Del(ctx, markerKey(orgID, key)).Err()
}

func markerKey(orgID, key string) string {
	return "ingest:idem:" + orgID + ":" + key
}
