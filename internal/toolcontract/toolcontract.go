// Package toolcontract defines the argument schema every tool action
// must satisfy before it can be proposed for approval, and validates
// proposed arguments against it. The validator understands a minimal
// subset of JSON Schema: string/integer/boolean/object types,
// "required", and "properties" — enough to describe tool arguments
// without pulling in a full schema engine.
package toolcontract

import (
	"fmt"
	"math"

	"github.com/invopop/jsonschema"
)

// FieldType is the minimal set of JSON Schema primitive types this
// validator understands: string, integer, boolean, object.
type FieldType string

const (
	TypeString  FieldType = "string"
	TypeInteger FieldType = "integer"
	TypeBoolean FieldType = "boolean"
	TypeObject  FieldType = "object"
)

// Field describes one argument a tool accepts.
type Field struct {
	Name        string
	Type        FieldType
	Required    bool
	Description string
	// Path marks a string argument as a filesystem path that callers
	// (internal/actions) must resolve and contain within an allowed root
	// before the action is ever created, let alone executed.
	Path bool
}

// Contract is a tool's full argument schema: its declared fields.
// Arguments outside that set are always rejected; every Huddle tool
// contract rejects unknown keys — a deliberate tightening over the
// permissive "extra keys ignored" behavior of typical JSON Schema
// validators, so a malformed or hallucinated tool call fails loudly
// instead of silently dropping an argument the tool never saw.
type Contract struct {
	ToolName string
	Fields   []Field
}

// Validate checks args against c, returning every violation found (not
// just the first) so the caller can surface a complete error to the
// model or user in one pass.
func (c Contract) Validate(args map[string]any) []string {
	var problems []string

	known := make(map[string]Field, len(c.Fields))
	for _, f := range c.Fields {
		known[f.Name] = f
	}

	for _, f := range c.Fields {
		v, present := args[f.Name]
		if !present {
			if f.Required {
				problems = append(problems, fmt.Sprintf("Missing required argument '%s'.", f.Name))
			}
			continue
		}
		if !typeMatches(f.Type, v) {
			problems = append(problems, fmt.Sprintf("Argument '%s' must be %s %s.", f.Name, article(f.Type), f.Type))
		}
	}

	for key := range args {
		if _, ok := known[key]; !ok {
			problems = append(problems, fmt.Sprintf("Unsupported argument '%s'.", key))
		}
	}

	return problems
}

// article returns the grammatical article ("a" or "an") that reads
// naturally in front of t, for error messages like "must be an integer."
func article(t FieldType) string {
	switch t {
	case TypeInteger, TypeObject:
		return "an"
	default:
		return "a"
	}
}

// typeMatches enforces that declared type matches the actual argument
// value; booleans are not integers even though Go's json decoding and
// Python's both represent small whole numbers and booleans distinctly
// enough to require an explicit check.
func typeMatches(t FieldType, v any) bool {
	switch t {
	case TypeString:
		_, ok := v.(string)
		return ok
	case TypeInteger:
		switch n := v.(type) {
		case int, int64:
			return true
		case float64:
			return n == math.Trunc(n)
		}
		return false
	case TypeBoolean:
		_, ok := v.(bool)
		return ok
	case TypeObject:
		_, ok := v.(map[string]any)
		return ok
	default:
		return true
	}
}

// JSONSchema renders c as a *jsonschema.Schema, for presenting to a
// model that expects a standard tool-call schema rather than Huddle's
// internal Contract shape.
func (c Contract) JSONSchema() *jsonschema.Schema {
	props := jsonschema.NewProperties()
	var required []string
	for _, f := range c.Fields {
		props.Set(f.Name, &jsonschema.Schema{
			Type:        string(f.Type),
			Description: f.Description,
		})
		if f.Required {
			required = append(required, f.Name)
		}
	}
	return &jsonschema.Schema{
		Type:       "object",
		Properties: props,
		Required:   required,
		// A schema matching nothing ("not {}") is the standard JSON
		// Schema idiom for additionalProperties: false.
		AdditionalProperties: &jsonschema.Schema{Not: &jsonschema.Schema{}},
	}
}

// Registry looks up a Contract by tool name.
type Registry struct {
	contracts map[string]Contract
}

// NewRegistry builds a Registry from contracts, keyed by ToolName.
func NewRegistry(contracts ...Contract) *Registry {
	r := &Registry{contracts: make(map[string]Contract, len(contracts))}
	for _, c := range contracts {
		r.contracts[c.ToolName] = c
	}
	return r
}

// Get returns the contract for name, if registered.
func (r *Registry) Get(name string) (Contract, bool) {
	c, ok := r.contracts[name]
	return c, ok
}

// Validate looks up name's contract and validates args against it. An
// unregistered tool name is itself a single-element violation list.
func (r *Registry) Validate(name string, args map[string]any) []string {
	c, ok := r.Get(name)
	if !ok {
		return []string{fmt.Sprintf("unknown tool %q", name)}
	}
	return c.Validate(args)
}
