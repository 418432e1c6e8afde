package store

import (
	"context"
	"testing"

	"github.com/redis/go-redis/v9"
)

func TestMarkerStoreReserveOnce(t *testing.T) {
	s := NewMarkerStore(newTestClient(t))
	ctx := context.Background()

	reserved, existing, err := s.TryReserve(ctx, "O", "k1", Marker{RecordID: "r1", Schema: "decision.v1"})
	if err != nil {
		t.Fatalf("reserve: %v", err)
	}
	if !reserved || existing != nil {
		t.Fatalf("expected fresh reservation, got reserved=%v existing=%+v", reserved, existing)
	}

	reserved, existing, err = s.TryReserve(ctx, "O", "k1", Marker{RecordID: "r2"})
	if err != nil {
		t.Fatalf("second reserve: %v", err)
	}
	if reserved {
		t.Fatal("expected second reservation refused")
	}
	if existing == nil || existing.RecordID != "r1" {
		t.Fatalf("expected winner's marker, got %+v", existing)
	}
}

func TestMarkerStoreKeysAreOrgScoped(t *testing.T) {
	s := NewMarkerStore(newTestClient(t))
	ctx := context.Background()
	if _, _, err := s.TryReserve(ctx, "O1", "k1", Marker{RecordID: "r1"}); err != nil {
		t.Fatalf("reserve O1: %v", err)
	}
	reserved, _, err := s.TryReserve(ctx, "O2", "k1", Marker{RecordID: "r2"})
	if err != nil {
		t.Fatalf("reserve O2: %v", err)
	}
	if !reserved {
		t.Fatal("same key under another org must reserve independently")
	}
}

func TestMarkerStoreRelease(t *testing.T) {
	s := NewMarkerStore(newTestClient(t))
	ctx := context.Background()
	if _, _, err := s.TryReserve(ctx, "O", "k1", Marker{RecordID: "r1"}); err != nil {
		t.Fatalf("reserve: %v", err)
	}
	if err := s.Release(ctx, "O", "k1"); err != nil {
		t.Fatalf("release: %v", err)
	}
	if _, err := s.Get(ctx, "O", "k1"); err != redis.Nil {
		t.Fatalf("expected marker gone after release, got %v", err)
	}
	reserved, _, err := s.TryReserve(ctx, "O", "k1", Marker{RecordID: "r2"})
	if err != nil || !reserved {
		t.Fatalf("expected re-reservation after release, got reserved=%v err=%v", reserved, err)
	}
}
