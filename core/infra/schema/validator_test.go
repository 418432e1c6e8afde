package schema

import (
	"context"
	"encoding/json"
	"errors"
	"testing"
)

func TestValidateDecision(t *testing.T) {
	v, err := NewValidator(nil)
	if err != nil {
		t.Fatalf("validator: %v", err)
	}
	ctx := context.Background()

	valid := json.RawMessage(`{
		"orgId": "ORG1",
		"direction": "precheck",
		"decision": "allow",
		"payloadHash": "sha256:x",
		"ts": "2024-01-01T00:00:00Z"
	}`)
	if err := v.Validate(ctx, "decision.v1", valid); err != nil {
		t.Fatalf("valid decision rejected: %v", err)
	}

	cases := []json.RawMessage{
		// missing required field
		[]byte(`{"orgId":"ORG1","direction":"precheck","decision":"allow","ts":"2024-01-01T00:00:00Z"}`),
		// bad enum value
		[]byte(`{"orgId":"ORG1","direction":"sideways","decision":"allow","payloadHash":"h","ts":"2024-01-01T00:00:00Z"}`),
		[]byte(`{"orgId":"ORG1","direction":"precheck","decision":"maybe","payloadHash":"h","ts":"2024-01-01T00:00:00Z"}`),
	}
	for _, data := range cases {
		if err := v.Validate(ctx, "decision.v1", data); err == nil {
			t.Fatalf("expected rejection for %s", data)
		}
	}
}

func TestValidateToolCallAndDLQ(t *testing.T) {
	v, err := NewValidator(nil)
	if err != nil {
		t.Fatalf("validator: %v", err)
	}
	ctx := context.Background()

	if err := v.Validate(ctx, "toolcall.v1", json.RawMessage(`{"orgId":"O","tool":"search","anything":"goes"}`)); err != nil {
		t.Fatalf("valid toolcall rejected: %v", err)
	}
	if err := v.Validate(ctx, "toolcall.v1", json.RawMessage(`{"orgId":"O"}`)); err == nil {
		t.Fatal("toolcall without tool must be rejected")
	}
	if err := v.Validate(ctx, "dlq.v1", json.RawMessage(`{"orgId":"O","source":"s","reason":"r"}`)); err != nil {
		t.Fatalf("valid dlq rejected: %v", err)
	}
	if err := v.Validate(ctx, "dlq.v1", json.RawMessage(`{"orgId":"O","source":"s"}`)); err == nil {
		t.Fatal("dlq without reason must be rejected")
	}
}

func TestValidateUnknownSchema(t *testing.T) {
	v, err := NewValidator(nil)
	if err != nil {
		t.Fatalf("validator: %v", err)
	}
	err = v.Validate(context.Background(), "nope.v1", json.RawMessage(`{}`))
	var unknown ErrUnknownSchema
	if !errors.As(err, &unknown) || unknown.ID != "nope.v1" {
		t.Fatalf("expected ErrUnknownSchema, got %v", err)
	}
	if v.Known("nope.v1") || !v.Known("decision.v1") {
		t.Fatal("Known must report built-ins only")
	}
}
