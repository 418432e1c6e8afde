package gateway

import (
	"context"
	"encoding/json"

	"github.com/google/uuid"

	"github.com/pulsegate/pulsegate/core/infra/logging"
	"github.com/pulsegate/pulsegate/core/infra/metrics"
	"github.com/pulsegate/pulsegate/core/infra/schema"
	"github.com/pulsegate/pulsegate/core/infra/store"
)

// Schemas with dedicated handling. Any other schema id must be registered as
// an override in the schema registry; such events are validated, deduplicated,
// logged, and acknowledged without a dedicated store.
const (
	SchemaDecision = "decision.v1"
	SchemaToolCall = "toolcall.v1"
	SchemaDLQ      = "dlq.v1"
)

// IngestResult is the acknowledgment payload for a processed event.
type IngestResult struct {
	ID       string
	Cursor   int64
	WasDedup bool
}

// IngestProcessor validates, deduplicates, and persists ingest events.
type IngestProcessor struct {
	validator *schema.Validator
	events    *store.EventStore
	markers   *store.MarkerStore
	dlq       *store.DLQStore
	metrics   metrics.GatewayMetrics
}

func NewIngestProcessor(validator *schema.Validator, events *store.EventStore, markers *store.MarkerStore, dlq *store.DLQStore, m metrics.GatewayMetrics) *IngestProcessor {
	if m == nil {
		m = metrics.Noop{}
	}
	return &IngestProcessor{
		validator: validator,
		events:    events,
		markers:   markers,
		dlq:       dlq,
		metrics:   m,
	}
}

// Process runs the ingest pipeline: schema validation, org check, idempotency
// reservation, persistence. All failures are per-message; the connection
// stays open.
func (p *IngestProcessor) Process(ctx context.Context, identity Identity, channel Channel, frame IngestFrame) (*IngestResult, *FrameError) {
	if err := p.validator.Validate(ctx, frame.Schema, frame.Data); err != nil {
		p.metrics.IncIngest(frame.Schema, "invalid")
		return nil, &FrameError{Code: CodeSchemaInvalid, Detail: err.Error(), Channel: channel.String()}
	}

	// The event's own org tag must match the authenticated org, and for org
	// channels the channel's id segment. A connection for org A can never
	// write events tagged as org B.
	var envelope struct {
		OrgID string `json:"orgId"`
	}
	if err := json.Unmarshal(frame.Data, &envelope); err != nil || envelope.OrgID == "" {
		p.metrics.IncIngest(frame.Schema, "invalid")
		return nil, &FrameError{Code: CodeSchemaInvalid, Detail: "event orgId required", Channel: channel.String()}
	}
	if envelope.OrgID != identity.OrgID || (channel.Kind == ChannelOrg && channel.ID != envelope.OrgID) {
		p.metrics.IncIngest(frame.Schema, "denied")
		return nil, &FrameError{Code: CodeACLDenied, Detail: "event org does not match authenticated org", Channel: channel.String()}
	}

	recordID := uuid.NewString()
	reserved, existing, err := p.markers.TryReserve(ctx, identity.OrgID, frame.IdempotencyKey, store.Marker{
		RecordID: recordID,
		Schema:   frame.Schema,
		Channel:  channel.String(),
	})
	if err != nil {
		p.metrics.IncIngest(frame.Schema, "error")
		return nil, &FrameError{Code: CodeIngestProcessing, Detail: "idempotency check failed", Channel: channel.String()}
	}
	if !reserved {
		p.metrics.IncDedup()
		p.metrics.IncIngest(frame.Schema, "dedup")
		return &IngestResult{ID: existing.RecordID, WasDedup: true}, nil
	}

	result, fe := p.persist(ctx, identity, channel, frame, recordID)
	if fe != nil {
		// Drop the fresh reservation so a retry is not mistaken for a
		// duplicate. Best effort: losing this delete means the retry
		// re-ACKs as dedup, which beats losing the event.
		if err := p.markers.Release(ctx, identity.OrgID, frame.IdempotencyKey); err != nil {
			logging.Error("ingest", "marker release failed", "org", identity.OrgID, "key", frame.IdempotencyKey, "error", err)
		}
		p.metrics.IncIngest(frame.Schema, "error")
		return nil, fe
	}
	p.metrics.IncIngest(frame.Schema, "ok")
	return result, nil
}

func (p *IngestProcessor) persist(ctx context.Context, identity Identity, channel Channel, frame IngestFrame, recordID string) (*IngestResult, *FrameError) {
	switch frame.Schema {
	case SchemaDecision:
		cursor, err := p.events.Append(ctx, store.EventRecord{
			ID:      recordID,
			Channel: channel.String(),
			Schema:  frame.Schema,
			OrgID:   identity.OrgID,
			Data:    frame.Data,
		})
		if err != nil {
			logging.Error("ingest", "decision write failed", "channel", channel.String(), "error", err)
			return nil, &FrameError{Code: CodeDBWriteFailed, Detail: "decision write failed", Channel: channel.String()}
		}
		return &IngestResult{ID: recordID, Cursor: cursor}, nil

	case SchemaDLQ:
		var body struct {
			Source string `json:"source"`
			Reason string `json:"reason"`
		}
		_ = json.Unmarshal(frame.Data, &body)
		err := p.dlq.Add(ctx, store.DLQEntry{
			ID:      recordID,
			OrgID:   identity.OrgID,
			Channel: channel.String(),
			Source:  body.Source,
			Reason:  body.Reason,
			Payload: frame.Data,
		})
		if err != nil {
			logging.Error("ingest", "dlq write failed", "channel", channel.String(), "error", err)
			return nil, &FrameError{Code: CodeDBWriteFailed, Detail: "dlq write failed", Channel: channel.String()}
		}
		return &IngestResult{ID: recordID}, nil

	default:
		// toolcall.v1 and registry-registered schemas: log and acknowledge.
		logging.Info("ingest", "event acknowledged", "schema", frame.Schema, "channel", channel.String(), "org", identity.OrgID, "id", recordID)
		return &IngestResult{ID: recordID}, nil
	}
}
