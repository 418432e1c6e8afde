package gateway

import (
	"context"
	"crypto/subtle"
	"errors"
	"net/url"
	"strings"
	"time"

	"github.com/redis/go-redis/v9"

	"github.com/pulsegate/pulsegate/core/infra/config"
	"github.com/pulsegate/pulsegate/core/infra/store"
)

// Authentication failures deliberately collapse into two messages so probes
// cannot distinguish unknown keys from revoked ones.
var (
	ErrMissingCredentials = errors.New("missing authentication parameters")
	ErrAuthFailed         = errors.New("authentication failed")
)

// Credentials are the connect-time query parameters. Exactly one of the
// (APIKey, OrgSlug) or (SessionID, SessionToken) pairs must be set.
type Credentials struct {
	APIKey       string
	OrgSlug      string
	SessionID    string
	SessionToken string
}

// CredentialsFromQuery extracts credentials from connect query parameters.
func CredentialsFromQuery(query url.Values) Credentials {
	return Credentials{
		APIKey:       strings.TrimSpace(query.Get("key")),
		OrgSlug:      strings.TrimSpace(query.Get("org")),
		SessionID:    strings.TrimSpace(query.Get("session")),
		SessionToken: strings.TrimSpace(query.Get("token")),
	}
}

func (c Credentials) keyAuth() bool {
	return c.APIKey != "" && c.OrgSlug != ""
}

func (c Credentials) sessionAuth() bool {
	return c.SessionID != "" && c.SessionToken != ""
}

// Identity is a verified connection principal plus its authorized channel
// patterns. A connection's channel set stays a subset of these patterns for
// its whole lifetime.
type Identity struct {
	UserID   string
	OrgID    string
	KeyID    string
	APIKey   string
	Scopes   []string
	Patterns []string
}

// Resolver maps connect credentials to a verified identity.
type Resolver interface {
	Authenticate(ctx context.Context, creds Credentials) (*Identity, error)
}

// channelPatterns derives the authorized pattern set: the whole org and user
// namespaces, plus the key's usage topic for key-authenticated connections.
func channelPatterns(orgID, userID, keyID string) []string {
	patterns := []string{
		ChannelOrg + ":" + orgID + ":*",
		ChannelUser + ":" + userID + ":*",
	}
	if keyID != "" {
		patterns = append(patterns, ChannelKey+":"+keyID+":usage")
	}
	return patterns
}

// RedisResolver authenticates against credential records written by the
// control plane.
type RedisResolver struct {
	creds *store.CredStore
	now   func() time.Time
}

func NewRedisResolver(creds *store.CredStore) *RedisResolver {
	return &RedisResolver{creds: creds, now: time.Now}
}

func (r *RedisResolver) Authenticate(ctx context.Context, creds Credentials) (*Identity, error) {
	switch {
	case creds.keyAuth() && !creds.sessionAuth():
		return r.authenticateKey(ctx, creds)
	case creds.sessionAuth() && !creds.keyAuth():
		return r.authenticateSession(ctx, creds)
	default:
		return nil, ErrMissingCredentials
	}
}

func (r *RedisResolver) authenticateKey(ctx context.Context, creds Credentials) (*Identity, error) {
	record, err := r.creds.GetKey(ctx, creds.APIKey)
	if err != nil {
		if errors.Is(err, redis.Nil) {
			return nil, ErrAuthFailed
		}
		return nil, err
	}
	if !record.Active || record.OrgSlug != creds.OrgSlug {
		return nil, ErrAuthFailed
	}
	return &Identity{
		UserID:   record.UserID,
		OrgID:    record.OrgID,
		KeyID:    record.KeyID,
		APIKey:   creds.APIKey,
		Scopes:   record.Scopes,
		Patterns: channelPatterns(record.OrgID, record.UserID, record.KeyID),
	}, nil
}

func (r *RedisResolver) authenticateSession(ctx context.Context, creds Credentials) (*Identity, error) {
	record, err := r.creds.GetSession(ctx, creds.SessionID)
	if err != nil {
		if errors.Is(err, redis.Nil) {
			return nil, ErrAuthFailed
		}
		return nil, err
	}
	if subtle.ConstantTimeCompare([]byte(record.Token), []byte(creds.SessionToken)) != 1 {
		return nil, ErrAuthFailed
	}
	if record.ExpiresAt.IsZero() || !r.now().Before(record.ExpiresAt) {
		return nil, ErrAuthFailed
	}
	return &Identity{
		UserID:   record.UserID,
		OrgID:    record.OrgID,
		Patterns: channelPatterns(record.OrgID, record.UserID, ""),
	}, nil
}

// StaticResolver authenticates API keys from the YAML keys file. Sessions are
// never static; session auth always falls through.
type StaticResolver struct {
	keys map[string]config.StaticKey
}

func NewStaticResolver(keys []config.StaticKey) *StaticResolver {
	index := make(map[string]config.StaticKey, len(keys))
	for _, key := range keys {
		index[key.Key] = key
	}
	return &StaticResolver{keys: index}
}

func (r *StaticResolver) Authenticate(_ context.Context, creds Credentials) (*Identity, error) {
	switch {
	case creds.keyAuth() && !creds.sessionAuth():
	case creds.sessionAuth() && !creds.keyAuth():
		return nil, ErrAuthFailed
	default:
		return nil, ErrMissingCredentials
	}
	record, ok := r.keys[creds.APIKey]
	if !ok || record.OrgSlug != creds.OrgSlug {
		return nil, ErrAuthFailed
	}
	return &Identity{
		UserID:   record.UserID,
		OrgID:    record.OrgID,
		KeyID:    record.KeyID,
		APIKey:   creds.APIKey,
		Scopes:   record.Scopes,
		Patterns: channelPatterns(record.OrgID, record.UserID, record.KeyID),
	}, nil
}

// ChainResolver tries resolvers in order. The first success wins; the last
// failure is returned, preferring ErrAuthFailed over ErrMissingCredentials so
// a present-but-wrong credential is reported as such.
type ChainResolver []Resolver

func (c ChainResolver) Authenticate(ctx context.Context, creds Credentials) (*Identity, error) {
	var lastErr error = ErrMissingCredentials
	for _, resolver := range c {
		identity, err := resolver.Authenticate(ctx, creds)
		if err == nil {
			return identity, nil
		}
		if !errors.Is(err, ErrMissingCredentials) {
			lastErr = err
		}
	}
	return nil, lastErr
}
