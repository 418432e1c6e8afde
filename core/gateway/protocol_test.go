package gateway

import (
	"testing"
)

func TestParseClientFrameInvalidJSON(t *testing.T) {
	_, fe := ParseClientFrame([]byte("not json"))
	if fe == nil || fe.Code != CodeInvalidJSON {
		t.Fatalf("expected INVALID_JSON, got %+v", fe)
	}
}

func TestParseClientFrameMissingType(t *testing.T) {
	_, fe := ParseClientFrame([]byte(`{"channels":["org:o:x"]}`))
	if fe == nil || fe.Code != CodeInvalidMessage {
		t.Fatalf("expected INVALID_MESSAGE, got %+v", fe)
	}
}

func TestParseClientFrameUnknownType(t *testing.T) {
	_, fe := ParseClientFrame([]byte(`{"type":"BOGUS"}`))
	if fe == nil || fe.Code != CodeUnknownType {
		t.Fatalf("expected UNKNOWN_MESSAGE_TYPE, got %+v", fe)
	}
}

func TestParseClientFrameSub(t *testing.T) {
	frame, fe := ParseClientFrame([]byte(`{"type":"SUB","channels":["org:ORG1:decisions"]}`))
	if fe != nil {
		t.Fatalf("parse: %v", fe)
	}
	sub, ok := frame.(SubFrame)
	if !ok {
		t.Fatalf("expected SubFrame, got %T", frame)
	}
	if len(sub.Channels) != 1 || sub.Channels[0] != "org:ORG1:decisions" {
		t.Fatalf("unexpected channels: %+v", sub.Channels)
	}
}

func TestParseClientFrameSubWithoutChannels(t *testing.T) {
	_, fe := ParseClientFrame([]byte(`{"type":"SUB"}`))
	if fe == nil || fe.Code != CodeInvalidMessage {
		t.Fatalf("expected INVALID_MESSAGE, got %+v", fe)
	}
}

func TestParseClientFrameIngest(t *testing.T) {
	raw := []byte(`{"type":"INGEST","channel":"org:ORG1:decisions","schema":"decision.v1","idempotencyKey":"abc","data":{"orgId":"ORG1"}}`)
	frame, fe := ParseClientFrame(raw)
	if fe != nil {
		t.Fatalf("parse: %v", fe)
	}
	ingest, ok := frame.(IngestFrame)
	if !ok {
		t.Fatalf("expected IngestFrame, got %T", frame)
	}
	if ingest.IdempotencyKey != "abc" || ingest.Schema != "decision.v1" {
		t.Fatalf("unexpected frame: %+v", ingest)
	}
}

func TestParseClientFrameIngestMissingFields(t *testing.T) {
	cases := []string{
		`{"type":"INGEST","schema":"decision.v1","idempotencyKey":"k","data":{}}`,
		`{"type":"INGEST","channel":"org:o:x","idempotencyKey":"k","data":{}}`,
		`{"type":"INGEST","channel":"org:o:x","schema":"decision.v1","data":{}}`,
		`{"type":"INGEST","channel":"org:o:x","schema":"decision.v1","idempotencyKey":"k"}`,
	}
	for _, raw := range cases {
		if _, fe := ParseClientFrame([]byte(raw)); fe == nil || fe.Code != CodeInvalidMessage {
			t.Fatalf("expected INVALID_MESSAGE for %s, got %+v", raw, fe)
		}
	}
}

func TestParseClientFrameResume(t *testing.T) {
	frame, fe := ParseClientFrame([]byte(`{"type":"RESUME","cursors":{"org:ORG1:decisions":5}}`))
	if fe != nil {
		t.Fatalf("parse: %v", fe)
	}
	resume := frame.(ResumeFrame)
	if resume.Cursors["org:ORG1:decisions"] != 5 {
		t.Fatalf("unexpected cursors: %+v", resume.Cursors)
	}
}

func TestParseClientFrameAckRequiresChannel(t *testing.T) {
	_, fe := ParseClientFrame([]byte(`{"type":"ACK","id":"e1","cursor":3}`))
	if fe == nil || fe.Code != CodeInvalidMessage {
		t.Fatalf("expected INVALID_MESSAGE, got %+v", fe)
	}
}

func TestNewPongLatency(t *testing.T) {
	frame := newPong(100, 150)
	if frame.LatencyMs != 50 {
		t.Fatalf("expected latency 50, got %d", frame.LatencyMs)
	}
	frame = newPong(0, 150)
	if frame.LatencyMs != 0 {
		t.Fatalf("expected no latency without client timestamp, got %d", frame.LatencyMs)
	}
}
