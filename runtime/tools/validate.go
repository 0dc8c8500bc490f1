package tools

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"

	"github.com/santhosh-tekuri/jsonschema/v6"
)

// SchemaValidator validates tool call arguments against a ToolSpec's Payload
// schema before Invoke is called, compiling each schema once and caching it.
type SchemaValidator struct {
	compiled map[Ident]*jsonschema.Schema
}

// NewSchemaValidator compiles the payload schema of every tool in specs. A
// tool whose Payload.Schema is empty is treated as schema-less and always
// passes validation.
func NewSchemaValidator(specs []ToolSpec) (*SchemaValidator, error) {
	v := &SchemaValidator{compiled: make(map[Ident]*jsonschema.Schema, len(specs))}
	for _, spec := range specs {
		if len(spec.Payload.Schema) == 0 {
			continue
		}
		c := jsonschema.NewCompiler()
		doc, err := jsonschema.UnmarshalJSON(bytes.NewReader(spec.Payload.Schema))
		if err != nil {
			return nil, fmt.Errorf("tools: %s: parse schema: %w", spec.Name, err)
		}
		resource := string(spec.Name) + "#payload"
		if err := c.AddResource(resource, doc); err != nil {
			return nil, fmt.Errorf("tools: %s: add schema: %w", spec.Name, err)
		}
		schema, err := c.Compile(resource)
		if err != nil {
			return nil, fmt.Errorf("tools: %s: compile schema: %w", spec.Name, err)
		}
		v.compiled[spec.Name] = schema
	}
	return v, nil
}

// Validate checks args against the named tool's payload schema. A tool with
// no compiled schema always passes.
func (v *SchemaValidator) Validate(name Ident, args json.RawMessage) error {
	schema, ok := v.compiled[name]
	if !ok {
		return nil
	}
	var doc any
	if err := json.Unmarshal(args, &doc); err != nil {
		return fmt.Errorf("tools: %s: invalid json arguments: %w", name, err)
	}
	if err := schema.Validate(doc); err != nil {
		return fmt.Errorf("tools: %s: arguments failed schema validation: %w", name, err)
	}
	return nil
}

// Registry aggregates tools from multiple Toolsets, keyed by fully-qualified
// Ident, and owns the schema validator over all registered payload schemas.
type Registry struct {
	tools     map[Ident]Tool
	toolsets  map[string]Toolset
	validator *SchemaValidator
}

// NewRegistry initializes every toolset in order and indexes their tools.
func NewRegistry(ctx context.Context, toolsets []Toolset) (*Registry, error) {
	r := &Registry{
		tools:    make(map[Ident]Tool),
		toolsets: make(map[string]Toolset, len(toolsets)),
	}
	var specs []ToolSpec
	for _, ts := range toolsets {
		r.toolsets[ts.ID()] = ts
		found, err := ts.InitTools(ctx)
		if err != nil {
			return nil, fmt.Errorf("tools: init toolset %s: %w", ts.ID(), err)
		}
		for _, t := range found {
			spec := t.Spec()
			r.tools[spec.Name] = t
			specs = append(specs, spec)
		}
	}
	validator, err := NewSchemaValidator(specs)
	if err != nil {
		return nil, err
	}
	r.validator = validator
	return r, nil
}

// Lookup returns the tool registered under name, if any.
func (r *Registry) Lookup(name Ident) (Tool, bool) {
	t, ok := r.tools[name]
	return t, ok
}

// Specs returns the ToolSpec of every registered tool.
func (r *Registry) Specs() []ToolSpec {
	specs := make([]ToolSpec, 0, len(r.tools))
	for _, t := range r.tools {
		specs = append(specs, t.Spec())
	}
	return specs
}

// Validate validates args against name's payload schema.
func (r *Registry) Validate(name Ident, args json.RawMessage) error {
	return r.validator.Validate(name, args)
}

// Close closes every toolset registered, collecting the first error.
func (r *Registry) Close(ctx context.Context) error {
	var firstErr error
	for _, ts := range r.toolsets {
		if err := ts.Close(ctx); err != nil && firstErr == nil {
			firstErr = err
		}
	}
	return firstErr
}
