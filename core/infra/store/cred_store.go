package store

import (
	"context"
	"fmt"
	"strconv"
	"strings"
	"time"

	"github.com/redis/go-redis/v9"
)

// KeyRecord is an API key as provisioned by the control plane.
type KeyRecord struct {
	KeyID   string
	OrgID   string
	OrgSlug string
	UserID  string
	Scopes  []string
	Active  bool
}

// SessionRecord is a dashboard session as provisioned by the control plane.
type SessionRecord struct {
	Token     string
	OrgID     string
	UserID    string
	ExpiresAt time.Time
}

// CredStore reads credentials written by the control plane. The gateway never
// writes here; credential issuance is external.
type CredStore struct {
	client redis.UniversalClient
}

func NewCredStore(client redis.UniversalClient) *CredStore {
	return &CredStore{client: client}
}

// GetKey looks up an API key record, or redis.Nil when unknown.
func (s *CredStore) GetKey(ctx context.Context, apiKey string) (*KeyRecord, error) {
	if apiKey == "" {
		return nil, fmt.Errorf("api key required")
	}
	fields, err := s.client.HGetAll(ctx, authKeyKey(apiKey)).Result()
	if err != nil {
		return nil, err
	}
	if len(fields) == 0 {
		return nil, redis.Nil
	}
	record := &KeyRecord{
		KeyID:   fields["key_id"],
		OrgID:   fields["org_id"],
		OrgSlug: fields["org_slug"],
		UserID:  fields["user_id"],
		Active:  fields["active"] == "true",
	}
	if raw := strings.TrimSpace(fields["scopes"]); raw != "" {
		for _, scope := range strings.Split(raw, ",") {
			if scope = strings.TrimSpace(scope); scope != "" {
				record.Scopes = append(record.Scopes, scope)
			}
		}
	}
	return record, nil
}

// GetSession looks up a session record, or redis.Nil when unknown.
func (s *CredStore) GetSession(ctx context.Context, sessionID string) (*SessionRecord, error) {
	if sessionID == "" {
		return nil, fmt.Errorf("session id required")
	}
	fields, err := s.client.HGetAll(ctx, authSessionKey(sessionID)).Result()
	if err != nil {
		return nil, err
	}
	if len(fields) == 0 {
		return nil, redis.Nil
	}
	record := &SessionRecord{
		Token:  fields["token"],
		OrgID:  fields["org_id"],
		UserID: fields["user_id"],
	}
	if raw := strings.TrimSpace(fields["expires_at"]); raw != "" {
		if unix, err := strconv.ParseInt(raw, 10, 64); err == nil {
			record.ExpiresAt = time.Unix(unix, 0).UTC()
		}
	}
	return record, nil
}

// PutKey writes a key record. Exists for seeding and tests; production
// records come from the control plane.
func (s *CredStore) PutKey(ctx context.Context, apiKey string, record KeyRecord) error {
	if apiKey == "" {
		return fmt.Errorf("api key required")
	}
	fields := map[string]any{
		"key_id":   record.KeyID,
		"org_id":   record.OrgID,
		"org_slug": record.OrgSlug,
		"user_id":  record.UserID,
		"scopes":   strings.Join(record.Scopes, ","),
		"active":   strconv.FormatBool(record.Active),
	}
	return s.client.HSet(ctx, authKeyKey(apiKey), fields).Err()
}

// PutSession writes a session record. Exists for seeding and tests.
func (s *CredStore) PutSession(ctx context.Context, sessionID string, record SessionRecord) error {
	if sessionID == "" {
		return fmt.Errorf("session id required")
	}
	fields := map[string]any{
		"token":   record.Token,
		"org_id":  record.OrgID,
		"user_id": record.UserID,
	}
	if !record.ExpiresAt.IsZero() {
		fields["expires_at"] = strconv.FormatInt(record.ExpiresAt.Unix(), 10)
	}
	return s.client.HSet(ctx, authSessionKey(sessionID), fields).Err()
}

func authKeyKey(apiKey string) string {
	return "auth:key:" + apiKey
}

func authSessionKey(sessionID string) string {
	return "auth:session:" + sessionID
}
