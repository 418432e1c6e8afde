package schema

import (
	"context"
	"encoding/json"
	"fmt"
	"strings"

	jsonschema "github.com/santhosh-tekuri/jsonschema/v5"
)

// ErrUnknownSchema reports a schema id with no built-in and no registry entry.
type ErrUnknownSchema struct{ ID string }

func (e ErrUnknownSchema) Error() string {
	return fmt.Sprintf("unknown schema: %s", e.ID)
}

// Validator validates ingest payloads against built-in schemas, with optional
// overrides from a Redis-backed registry. Built-ins are compiled once at
// construction; registry overrides are compiled per lookup.
type Validator struct {
	compiled map[string]*jsonschema.Schema
	registry *Registry
}

// NewValidator compiles the built-in schemas. registry may be nil.
func NewValidator(registry *Registry) (*Validator, error) {
	compiled := make(map[string]*jsonschema.Schema, 3)
	for id, body := range Builtin() {
		schema, err := compile(id, []byte(body))
		if err != nil {
			return nil, fmt.Errorf("compile builtin %s: %w", id, err)
		}
		compiled[id] = schema
	}
	return &Validator{compiled: compiled, registry: registry}, nil
}

// Validate checks data against the schema registered for id. Registry
// overrides win over built-ins.
func (v *Validator) Validate(ctx context.Context, id string, data json.RawMessage) error {
	id = strings.TrimSpace(id)
	if id == "" {
		return ErrUnknownSchema{ID: "(empty)"}
	}
	if v.registry != nil {
		if body, err := v.registry.Get(ctx, id); err == nil && len(body) > 0 {
			schema, err := compile(id, body)
			if err != nil {
				return fmt.Errorf("compile schema %s: %w", id, err)
			}
			return validate(schema, data)
		}
	}
	schema, ok := v.compiled[id]
	if !ok {
		return ErrUnknownSchema{ID: id}
	}
	return validate(schema, data)
}

// Known reports whether id resolves to a built-in schema.
func (v *Validator) Known(id string) bool {
	_, ok := v.compiled[strings.TrimSpace(id)]
	return ok
}

func compile(id string, body []byte) (*jsonschema.Schema, error) {
	resourceID := "inmemory://" + id
	compiler := jsonschema.NewCompiler()
	if err := compiler.AddResource(resourceID, strings.NewReader(string(body))); err != nil {
		return nil, fmt.Errorf("add schema resource: %w", err)
	}
	return compiler.Compile(resourceID)
}

func validate(schema *jsonschema.Schema, data json.RawMessage) error {
	var value any
	if err := json.Unmarshal(data, &value); err != nil {
		return fmt.Errorf("decode payload: %w", err)
	}
	if err := schema.Validate(value); err != nil {
		return fmt.Errorf("schema validation failed: %w", err)
	}
	return nil
}
