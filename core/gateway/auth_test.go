package gateway

import (
	"context"
	"errors"
	"testing"
	"time"

	miniredis "github.com/alicebob/miniredis/v2"

	"github.com/pulsegate/pulsegate/core/infra/config"
	"github.com/pulsegate/pulsegate/core/infra/redisutil"
	"github.com/pulsegate/pulsegate/core/infra/store"
)

func newCredStore(t *testing.T) *store.CredStore {
	t.Helper()
	srv, err := miniredis.Run()
	if err != nil {
		t.Skipf("miniredis unavailable: %v", err)
	}
	t.Cleanup(srv.Close)
	client, err := redisutil.NewClient("redis://" + srv.Addr())
	if err != nil {
		t.Fatalf("redis client: %v", err)
	}
	t.Cleanup(func() { _ = client.Close() })
	return store.NewCredStore(client)
}

func TestRedisResolverKeyAuth(t *testing.T) {
	creds := newCredStore(t)
	ctx := context.Background()
	if err := creds.PutKey(ctx, "sk-live-1", store.KeyRecord{
		KeyID:   "K1",
		OrgID:   "ORG1",
		OrgSlug: "acme",
		UserID:  "U1",
		Scopes:  []string{"decisions", "dlq"},
		Active:  true,
	}); err != nil {
		t.Fatalf("put key: %v", err)
	}

	resolver := NewRedisResolver(creds)
	identity, err := resolver.Authenticate(ctx, Credentials{APIKey: "sk-live-1", OrgSlug: "acme"})
	if err != nil {
		t.Fatalf("authenticate: %v", err)
	}
	if identity.OrgID != "ORG1" || identity.UserID != "U1" || identity.KeyID != "K1" {
		t.Fatalf("unexpected identity: %+v", identity)
	}
	if !PatternsAllow(identity.Patterns, "org:ORG1:decisions") {
		t.Fatal("expected org pattern granted")
	}
	if !PatternsAllow(identity.Patterns, "key:K1:usage") {
		t.Fatal("expected key usage pattern granted")
	}
}

func TestRedisResolverKeyAuthFailures(t *testing.T) {
	creds := newCredStore(t)
	ctx := context.Background()
	_ = creds.PutKey(ctx, "sk-live-1", store.KeyRecord{KeyID: "K1", OrgID: "ORG1", OrgSlug: "acme", UserID: "U1", Active: true})
	_ = creds.PutKey(ctx, "sk-dead-1", store.KeyRecord{KeyID: "K2", OrgID: "ORG1", OrgSlug: "acme", UserID: "U1", Active: false})

	resolver := NewRedisResolver(creds)
	cases := []Credentials{
		{APIKey: "sk-unknown", OrgSlug: "acme"},
		{APIKey: "sk-live-1", OrgSlug: "other"},
		{APIKey: "sk-dead-1", OrgSlug: "acme"},
	}
	for _, c := range cases {
		if _, err := resolver.Authenticate(ctx, c); !errors.Is(err, ErrAuthFailed) {
			t.Fatalf("expected auth failure for %+v, got %v", c, err)
		}
	}
	if _, err := resolver.Authenticate(ctx, Credentials{APIKey: "sk-live-1"}); !errors.Is(err, ErrMissingCredentials) {
		t.Fatalf("expected missing credentials, got %v", err)
	}
	if _, err := resolver.Authenticate(ctx, Credentials{}); !errors.Is(err, ErrMissingCredentials) {
		t.Fatalf("expected missing credentials for empty creds, got %v", err)
	}
}

func TestRedisResolverSessionAuth(t *testing.T) {
	creds := newCredStore(t)
	ctx := context.Background()
	_ = creds.PutSession(ctx, "sess-1", store.SessionRecord{
		Token:     "tok-secret",
		OrgID:     "ORG1",
		UserID:    "U1",
		ExpiresAt: time.Now().Add(time.Hour),
	})
	_ = creds.PutSession(ctx, "sess-old", store.SessionRecord{
		Token:     "tok-old",
		OrgID:     "ORG1",
		UserID:    "U1",
		ExpiresAt: time.Now().Add(-time.Hour),
	})

	resolver := NewRedisResolver(creds)
	identity, err := resolver.Authenticate(ctx, Credentials{SessionID: "sess-1", SessionToken: "tok-secret"})
	if err != nil {
		t.Fatalf("authenticate: %v", err)
	}
	if identity.OrgID != "ORG1" || identity.KeyID != "" {
		t.Fatalf("unexpected identity: %+v", identity)
	}

	if _, err := resolver.Authenticate(ctx, Credentials{SessionID: "sess-1", SessionToken: "wrong"}); !errors.Is(err, ErrAuthFailed) {
		t.Fatalf("expected token mismatch failure, got %v", err)
	}
	if _, err := resolver.Authenticate(ctx, Credentials{SessionID: "sess-old", SessionToken: "tok-old"}); !errors.Is(err, ErrAuthFailed) {
		t.Fatalf("expected expiry failure, got %v", err)
	}
}

func TestStaticResolver(t *testing.T) {
	resolver := NewStaticResolver([]config.StaticKey{
		{Key: "dev-key", KeyID: "K9", OrgID: "ORG9", OrgSlug: "dev", UserID: "U9"},
	})
	identity, err := resolver.Authenticate(context.Background(), Credentials{APIKey: "dev-key", OrgSlug: "dev"})
	if err != nil {
		t.Fatalf("authenticate: %v", err)
	}
	if identity.OrgID != "ORG9" {
		t.Fatalf("unexpected identity: %+v", identity)
	}
	if _, err := resolver.Authenticate(context.Background(), Credentials{APIKey: "dev-key", OrgSlug: "prod"}); !errors.Is(err, ErrAuthFailed) {
		t.Fatalf("expected slug mismatch failure, got %v", err)
	}
}

func TestChainResolverFallsThrough(t *testing.T) {
	creds := newCredStore(t)
	ctx := context.Background()
	_ = creds.PutKey(ctx, "sk-live-1", store.KeyRecord{KeyID: "K1", OrgID: "ORG1", OrgSlug: "acme", UserID: "U1", Active: true})

	chain := ChainResolver{
		NewStaticResolver([]config.StaticKey{{Key: "dev-key", OrgID: "ORG9", OrgSlug: "dev", UserID: "U9"}}),
		NewRedisResolver(creds),
	}
	identity, err := chain.Authenticate(ctx, Credentials{APIKey: "sk-live-1", OrgSlug: "acme"})
	if err != nil {
		t.Fatalf("expected redis fallback to succeed: %v", err)
	}
	if identity.OrgID != "ORG1" {
		t.Fatalf("unexpected identity: %+v", identity)
	}
	if _, err := chain.Authenticate(ctx, Credentials{APIKey: "nope", OrgSlug: "acme"}); !errors.Is(err, ErrAuthFailed) {
		t.Fatalf("expected auth failure, got %v", err)
	}
	if _, err := chain.Authenticate(ctx, Credentials{}); !errors.Is(err, ErrMissingCredentials) {
		t.Fatalf("expected missing credentials, got %v", err)
	}
}
