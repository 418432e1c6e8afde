package store

import (
	"context"
	"encoding/json"
	"fmt"
	"testing"
)

func TestEventStoreAppendAssignsCursors(t *testing.T) {
	s := NewEventStore(newTestClient(t))
	ctx := context.Background()

	for i := 1; i <= 3; i++ {
		cursor, err := s.Append(ctx, EventRecord{
			ID:      fmt.Sprintf("e%d", i),
			Channel: "org:O:decisions",
			Schema:  "decision.v1",
			OrgID:   "O",
			Data:    json.RawMessage(`{}`),
		})
		if err != nil {
			t.Fatalf("append %d: %v", i, err)
		}
		if cursor != int64(i) {
			t.Fatalf("expected cursor %d, got %d", i, cursor)
		}
	}

	// Cursors are per channel.
	cursor, err := s.Append(ctx, EventRecord{ID: "other", Channel: "org:O:budget", Data: json.RawMessage(`{}`)})
	if err != nil {
		t.Fatalf("append other channel: %v", err)
	}
	if cursor != 1 {
		t.Fatalf("expected independent cursor 1, got %d", cursor)
	}

	record, err := s.Get(ctx, "e2")
	if err != nil {
		t.Fatalf("get: %v", err)
	}
	if record.Cursor != 2 || record.Channel != "org:O:decisions" || record.CreatedAt.IsZero() {
		t.Fatalf("unexpected record: %+v", record)
	}
}

func TestEventStoreListAfter(t *testing.T) {
	s := NewEventStore(newTestClient(t))
	ctx := context.Background()
	for i := 1; i <= 5; i++ {
		if _, err := s.Append(ctx, EventRecord{
			ID:      fmt.Sprintf("e%d", i),
			Channel: "org:O:decisions",
			Data:    json.RawMessage(`{}`),
		}); err != nil {
			t.Fatalf("append %d: %v", i, err)
		}
	}

	records, err := s.ListAfter(ctx, "org:O:decisions", 2, 10)
	if err != nil {
		t.Fatalf("list: %v", err)
	}
	if len(records) != 3 {
		t.Fatalf("expected 3 records after cursor 2, got %d", len(records))
	}
	for i, record := range records {
		if record.Cursor != int64(i+3) {
			t.Fatalf("expected ascending cursors from 3, got %+v", records)
		}
	}

	records, err = s.ListAfter(ctx, "org:O:decisions", 2, 1)
	if err != nil {
		t.Fatalf("list limited: %v", err)
	}
	if len(records) != 1 || records[0].Cursor != 3 {
		t.Fatalf("expected limit honored oldest-first, got %+v", records)
	}

	records, err = s.ListAfter(ctx, "org:O:decisions", 99, 10)
	if err != nil {
		t.Fatalf("list beyond tip: %v", err)
	}
	if len(records) != 0 {
		t.Fatalf("expected no records beyond the tip, got %d", len(records))
	}
}

func TestEventStoreAppendValidation(t *testing.T) {
	s := NewEventStore(newTestClient(t))
	ctx := context.Background()
	if _, err := s.Append(ctx, EventRecord{Channel: "org:O:decisions"}); err == nil {
		t.Fatal("expected missing id rejected")
	}
	if _, err := s.Append(ctx, EventRecord{ID: "e1"}); err == nil {
		t.Fatal("expected missing channel rejected")
	}
}
