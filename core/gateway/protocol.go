package gateway

import (
	"encoding/json"
	"fmt"
	"strings"
)

// Client-to-server frame types.
const (
	TypeSub    = "SUB"
	TypeUnsub  = "UNSUB"
	TypeResume = "RESUME"
	TypeIngest = "INGEST"
	TypePing   = "PING"
	TypeAck    = "ACK"
)

// Server-to-client frame types.
const (
	TypeReady    = "READY"
	TypeSubAck   = "SUB_ACK"
	TypeUnsubAck = "UNSUB_ACK"
	TypeEvent    = "EVENT"
	TypeNotice   = "NOTICE"
	TypeError    = "ERROR"
	TypePong     = "PONG"
)

// Machine-readable error codes carried on ERROR frames.
const (
	CodeACLDenied        = "ACL_DENIED"
	CodeSchemaInvalid    = "SCHEMA_INVALID"
	CodeDBWriteFailed    = "DB_WRITE_FAILED"
	CodeRateLimit        = "RATE_LIMIT"
	CodeInvalidChannel   = "INVALID_CHANNEL"
	CodeNetworkDenied    = "NETWORK_DENIED"
	CodeInvalidJSON      = "INVALID_JSON"
	CodeInvalidMessage   = "INVALID_MESSAGE"
	CodeUnknownType      = "UNKNOWN_MESSAGE_TYPE"
	CodeIngestProcessing = "INGEST_PROCESSING_ERROR"
)

// Notice codes pushed by the control plane.
const (
	NoticeRevoke      = "REVOKE"
	NoticeMaintenance = "MAINTENANCE"
	NoticeUpgrade     = "UPGRADE"
)

// ClientFrame is the decoded form of an inbound frame: one variant per type,
// dispatched exhaustively in the orchestrator.
type ClientFrame interface {
	frameType() string
}

type SubFrame struct {
	Channels []string `json:"channels"`
}

type UnsubFrame struct {
	Channels []string `json:"channels"`
}

type ResumeFrame struct {
	Cursors map[string]int64 `json:"cursors"`
}

type IngestFrame struct {
	Channel        string          `json:"channel"`
	Schema         string          `json:"schema"`
	IdempotencyKey string          `json:"idempotencyKey"`
	Data           json.RawMessage `json:"data"`
}

type PingFrame struct {
	T int64 `json:"t"`
}

type AckClientFrame struct {
	ID      string `json:"id"`
	Channel string `json:"channel"`
	Cursor  int64  `json:"cursor"`
}

func (SubFrame) frameType() string       { return TypeSub }
func (UnsubFrame) frameType() string     { return TypeUnsub }
func (ResumeFrame) frameType() string    { return TypeResume }
func (IngestFrame) frameType() string    { return TypeIngest }
func (PingFrame) frameType() string      { return TypePing }
func (AckClientFrame) frameType() string { return TypeAck }

// FrameError maps a protocol failure onto an ERROR frame.
type FrameError struct {
	Code    string
	Detail  string
	Channel string
}

func (e *FrameError) Error() string {
	if e.Detail == "" {
		return e.Code
	}
	return e.Code + ": " + e.Detail
}

func frameErr(code, detail string) *FrameError {
	return &FrameError{Code: code, Detail: detail}
}

// ParseClientFrame decodes raw bytes into a typed frame. INVALID_JSON covers
// undecodable input, UNKNOWN_MESSAGE_TYPE an unrecognized discriminant, and
// INVALID_MESSAGE a recognized frame failing shape validation.
func ParseClientFrame(raw []byte) (ClientFrame, *FrameError) {
	var envelope struct {
		Type string `json:"type"`
	}
	if err := json.Unmarshal(raw, &envelope); err != nil {
		return nil, frameErr(CodeInvalidJSON, "frame is not valid JSON")
	}
	if strings.TrimSpace(envelope.Type) == "" {
		return nil, frameErr(CodeInvalidMessage, "missing type field")
	}
	switch envelope.Type {
	case TypeSub:
		var frame SubFrame
		if err := json.Unmarshal(raw, &frame); err != nil {
			return nil, frameErr(CodeInvalidMessage, "malformed SUB frame")
		}
		if len(frame.Channels) == 0 {
			return nil, frameErr(CodeInvalidMessage, "SUB requires channels")
		}
		return frame, nil
	case TypeUnsub:
		var frame UnsubFrame
		if err := json.Unmarshal(raw, &frame); err != nil {
			return nil, frameErr(CodeInvalidMessage, "malformed UNSUB frame")
		}
		if len(frame.Channels) == 0 {
			return nil, frameErr(CodeInvalidMessage, "UNSUB requires channels")
		}
		return frame, nil
	case TypeResume:
		var frame ResumeFrame
		if err := json.Unmarshal(raw, &frame); err != nil {
			return nil, frameErr(CodeInvalidMessage, "malformed RESUME frame")
		}
		if len(frame.Cursors) == 0 {
			return nil, frameErr(CodeInvalidMessage, "RESUME requires cursors")
		}
		return frame, nil
	case TypeIngest:
		var frame IngestFrame
		if err := json.Unmarshal(raw, &frame); err != nil {
			return nil, frameErr(CodeInvalidMessage, "malformed INGEST frame")
		}
		if frame.Channel == "" || frame.Schema == "" || frame.IdempotencyKey == "" {
			return nil, frameErr(CodeInvalidMessage, "INGEST requires channel, schema, and idempotencyKey")
		}
		if len(frame.Data) == 0 {
			return nil, frameErr(CodeInvalidMessage, "INGEST requires data")
		}
		return frame, nil
	case TypePing:
		var frame PingFrame
		if err := json.Unmarshal(raw, &frame); err != nil {
			return nil, frameErr(CodeInvalidMessage, "malformed PING frame")
		}
		return frame, nil
	case TypeAck:
		var frame AckClientFrame
		if err := json.Unmarshal(raw, &frame); err != nil {
			return nil, frameErr(CodeInvalidMessage, "malformed ACK frame")
		}
		if frame.Channel == "" {
			return nil, frameErr(CodeInvalidMessage, "ACK requires channel")
		}
		return frame, nil
	default:
		return nil, frameErr(CodeUnknownType, fmt.Sprintf("unknown frame type %q", envelope.Type))
	}
}

// Server frames. Marshaled with a type discriminant; fields follow the wire
// protocol's camelCase convention.

type ReadyFrame struct {
	Type     string   `json:"type"`
	Channels []string `json:"channels"`
}

type AckFrame struct {
	Type   string `json:"type"`
	ID     string `json:"id"`
	Cursor int64  `json:"cursor,omitempty"`
	Dedup  bool   `json:"dedup,omitempty"`
}

type SubAckFrame struct {
	Type     string   `json:"type"`
	Channels []string `json:"channels"`
}

type EventFrame struct {
	Type    string          `json:"type"`
	Channel string          `json:"channel"`
	Cursor  int64           `json:"cursor,omitempty"`
	Data    json.RawMessage `json:"data"`
}

type NoticeFrame struct {
	Type   string `json:"type"`
	Code   string `json:"code"`
	KeyID  string `json:"keyId,omitempty"`
	Reason string `json:"reason,omitempty"`
}

type ErrorFrame struct {
	Type    string `json:"type"`
	Code    string `json:"code"`
	Detail  string `json:"detail,omitempty"`
	Channel string `json:"channel,omitempty"`
}

type PongFrame struct {
	Type      string `json:"type"`
	T         int64  `json:"t,omitempty"`
	LatencyMs int64  `json:"latencyMs,omitempty"`
}

func newReady(channels []string) ReadyFrame {
	if channels == nil {
		channels = []string{}
	}
	return ReadyFrame{Type: TypeReady, Channels: channels}
}

func newAck(id string, cursor int64, dedup bool) AckFrame {
	return AckFrame{Type: TypeAck, ID: id, Cursor: cursor, Dedup: dedup}
}

func newSubAck(frameType string, channels []string) SubAckFrame {
	if channels == nil {
		channels = []string{}
	}
	return SubAckFrame{Type: frameType, Channels: channels}
}

func newEvent(channel string, cursor int64, data json.RawMessage) EventFrame {
	return EventFrame{Type: TypeEvent, Channel: channel, Cursor: cursor, Data: data}
}

func newNotice(code, keyID, reason string) NoticeFrame {
	return NoticeFrame{Type: TypeNotice, Code: code, KeyID: keyID, Reason: reason}
}

func newError(fe *FrameError) ErrorFrame {
	return ErrorFrame{Type: TypeError, Code: fe.Code, Detail: fe.Detail, Channel: fe.Channel}
}

func newPong(clientT int64, now int64) PongFrame {
	frame := PongFrame{Type: TypePong, T: now}
	if clientT > 0 && now >= clientT {
		frame.LatencyMs = now - clientT
	}
	return frame
}
