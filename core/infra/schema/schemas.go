package schema

// Built-in ingest event schemas. decision.v1 carries the full governance
// decision shape; toolcall.v1 and dlq.v1 are deliberately permissive beyond
// their envelope fields.
const decisionV1 = `{
  "$schema": "https://json-schema.org/draft/2020-12/schema",
  "type": "object",
  "required": ["orgId", "direction", "decision", "payloadHash", "ts"],
  "properties": {
    "orgId": {"type": "string", "minLength": 1},
    "direction": {"type": "string", "enum": ["precheck", "postcheck"]},
    "decision": {"type": "string", "enum": ["allow", "transform", "deny"]},
    "tool": {"type": "string"},
    "scope": {"type": "string"},
    "payloadHash": {"type": "string", "minLength": 1},
    "latencyMs": {"type": "number", "minimum": 0},
    "correlationId": {"type": "string"},
    "tags": {"type": "array", "items": {"type": "string"}},
    "ts": {"type": "string", "format": "date-time"}
  }
}`

const toolcallV1 = `{
  "$schema": "https://json-schema.org/draft/2020-12/schema",
  "type": "object",
  "required": ["orgId", "tool"],
  "properties": {
    "orgId": {"type": "string", "minLength": 1},
    "tool": {"type": "string", "minLength": 1},
    "action": {"type": "string"},
    "direction": {"type": "string"},
    "status": {"type": "string"},
    "requestHash": {"type": "string"},
    "responseHash": {"type": "string"},
    "latencyMs": {"type": "number", "minimum": 0},
    "costUsd": {"type": "number", "minimum": 0}
  }
}`

const dlqV1 = `{
  "$schema": "https://json-schema.org/draft/2020-12/schema",
  "type": "object",
  "required": ["orgId", "source", "reason"],
  "properties": {
    "orgId": {"type": "string", "minLength": 1},
    "source": {"type": "string", "minLength": 1},
    "reason": {"type": "string", "minLength": 1},
    "payload": {}
  }
}`

// Builtin returns the built-in schema bodies keyed by schema id.
func Builtin() map[string]string {
	return map[string]string{
		"decision.v1": decisionV1,
		"toolcall.v1": toolcallV1,
		"dlq.v1":      dlqV1,
	}
}
