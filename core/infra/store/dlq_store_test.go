package store

import (
	"context"
	"encoding/json"
	"testing"
	"time"
)

func TestDLQStoreAddListNewestFirst(t *testing.T) {
	s := NewDLQStore(newTestClient(t))
	ctx := context.Background()
	base := time.Now().UTC()

	for i, id := range []string{"d1", "d2", "d3"} {
		if err := s.Add(ctx, DLQEntry{
			ID:        id,
			OrgID:     "O",
			Source:    "usage-pipeline",
			Reason:    "schema drift",
			Payload:   json.RawMessage(`{}`),
			CreatedAt: base.Add(time.Duration(i) * time.Second),
		}); err != nil {
			t.Fatalf("add %s: %v", id, err)
		}
	}

	entries, err := s.List(ctx, "O", 2)
	if err != nil {
		t.Fatalf("list: %v", err)
	}
	if len(entries) != 2 || entries[0].ID != "d3" || entries[1].ID != "d2" {
		t.Fatalf("expected newest first with limit, got %+v", entries)
	}

	entries, err = s.List(ctx, "OTHER", 10)
	if err != nil {
		t.Fatalf("list other org: %v", err)
	}
	if len(entries) != 0 {
		t.Fatalf("expected org isolation, got %+v", entries)
	}
}

func TestDLQStoreDelete(t *testing.T) {
	s := NewDLQStore(newTestClient(t))
	ctx := context.Background()
	if err := s.Add(ctx, DLQEntry{ID: "d1", OrgID: "O", Source: "x", Reason: "y"}); err != nil {
		t.Fatalf("add: %v", err)
	}
	if err := s.Delete(ctx, "O", "d1"); err != nil {
		t.Fatalf("delete: %v", err)
	}
	if _, err := s.Get(ctx, "d1"); err == nil {
		t.Fatal("expected entry gone after delete")
	}
	entries, err := s.List(ctx, "O", 10)
	if err != nil {
		t.Fatalf("list: %v", err)
	}
	if len(entries) != 0 {
		t.Fatalf("expected index cleaned, got %+v", entries)
	}
}

func TestDLQStoreValidation(t *testing.T) {
	s := NewDLQStore(newTestClient(t))
	ctx := context.Background()
	if err := s.Add(ctx, DLQEntry{OrgID: "O"}); err == nil {
		t.Fatal("expected missing id rejected")
	}
	if err := s.Add(ctx, DLQEntry{ID: "d1"}); err == nil {
		t.Fatal("expected missing org rejected")
	}
}
