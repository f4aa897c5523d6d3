package schema

import (
	"bytes"
	"encoding/json"
	"fmt"

	jsonschema "github.com/santhosh-tekuri/jsonschema/v5"
)

// Registry holds request schemas compiled once at startup, keyed by
// action, and validates raw envelope payloads before dispatch.
type Registry struct {
	compiled map[string]*jsonschema.Schema
}

// NewRegistry compiles the given JSON schema documents. It fails fast on
// the first malformed schema; a dispatcher with a broken schema set must
// not start.
func NewRegistry(schemas map[string]string) (*Registry, error) {
	r := &Registry{compiled: make(map[string]*jsonschema.Schema, len(schemas))}
	for action, doc := range schemas {
		compiler := jsonschema.NewCompiler()
		id := "inmemory://" + action
		if err := compiler.AddResource(id, bytes.NewReader([]byte(doc))); err != nil {
			return nil, fmt.Errorf("add schema for %s: %w", action, err)
		}
		compiled, err := compiler.Compile(id)
		if err != nil {
			return nil, fmt.Errorf("compile schema for %s: %w", action, err)
		}
		r.compiled[action] = compiled
	}
	return r, nil
}

// Known reports whether a schema exists for the action.
func (r *Registry) Known(action string) bool {
	_, ok := r.compiled[action]
	return ok
}

// Validate checks the raw payload against the action's schema. Actions
// without a registered schema are rejected.
func (r *Registry) Validate(action string, payload json.RawMessage) error {
	compiled, ok := r.compiled[action]
	if !ok {
		return fmt.Errorf("no schema for action %q", action)
	}
	var value any
	if len(payload) > 0 {
		if err := json.Unmarshal(payload, &value); err != nil {
			return fmt.Errorf("decode payload: %w", err)
		}
	}
	if err := compiled.Validate(value); err != nil {
		return fmt.Errorf("schema validation failed: %w", err)
	}
	return nil
}
