package tools

import (
	"fmt"
	"sort"
	"sync"

	"github.com/xeipuuv/gojsonschema"
)

// Registry holds tools keyed by id together with their argument schemas.
type Registry struct {
	mu      sync.RWMutex
	tools   map[string]Tool
	schemas map[string]*gojsonschema.Schema
}

// NewRegistry creates an empty registry.
func NewRegistry() *Registry {
	return &Registry{
		tools:   make(map[string]Tool),
		schemas: make(map[string]*gojsonschema.Schema),
	}
}

// Register validates and adds a tool. Registering an id twice is an error.
func (r *Registry) Register(tool Tool) error {
	if err := validateTool(tool); err != nil {
		return err
	}

	schema, err := buildSchema(tool.Parameters())
	if err != nil {
		return fmt.Errorf("failed to build schema for %s: %w", tool.ID(), err)
	}

	r.mu.Lock()
	defer r.mu.Unlock()

	if _, exists := r.tools[tool.ID()]; exists {
		return fmt.Errorf("tool %s already registered", tool.ID())
	}
	r.tools[tool.ID()] = tool
	r.schemas[tool.ID()] = schema
	return nil
}

// Get returns the tool registered under id.
func (r *Registry) Get(id string) (Tool, bool) {
	r.mu.RLock()
	defer r.mu.RUnlock()
	t, ok := r.tools[id]
	return t, ok
}

// List returns every registered tool sorted by id.
func (r *Registry) List() []Tool {
	r.mu.RLock()
	defer r.mu.RUnlock()

	out := make([]Tool, 0, len(r.tools))
	for _, t := range r.tools {
		out = append(out, t)
	}
	sort.Slice(out, func(i, j int) bool { return out[i].ID() < out[j].ID() })
	return out
}

// Validate checks args against the tool's parameter schema.
func (r *Registry) Validate(id string, args map[string]interface{}) error {
	r.mu.RLock()
	schema := r.schemas[id]
	r.mu.RUnlock()

	if schema == nil {
		return nil
	}
	if args == nil {
		args = map[string]interface{}{}
	}

	result, err := schema.Validate(gojsonschema.NewGoLoader(args))
	if err != nil {
		return err
	}
	if !result.Valid() {
		msgs := make([]string, 0, len(result.Errors()))
		for _, e := range result.Errors() {
			msgs = append(msgs, e.String())
		}
		return fmt.Errorf("validation errors: %v", msgs)
	}
	return nil
}

var validParamTypes = map[string]bool{
	"string": true, "number": true, "boolean": true,
	"object": true, "array": true, "integer": true,
}

func validateTool(tool Tool) error {
	if tool == nil {
		return fmt.Errorf("tool cannot be nil")
	}
	if tool.ID() == "" {
		return fmt.Errorf("tool id cannot be empty")
	}
	if tool.Description() == "" {
		return fmt.Errorf("tool %s: description cannot be empty", tool.ID())
	}
	for _, p := range tool.Parameters() {
		if p.Name == "" {
			return fmt.Errorf("tool %s: parameter name cannot be empty", tool.ID())
		}
		if !validParamTypes[p.Type] {
			return fmt.Errorf("tool %s: invalid parameter type %q for %s", tool.ID(), p.Type, p.Name)
		}
	}
	return nil
}

func buildSchema(params []Parameter) (*gojsonschema.Schema, error) {
	properties := make(map[string]interface{}, len(params))
	required := []string{}

	for _, p := range params {
		prop := map[string]interface{}{
			"type":        p.Type,
			"description": p.Description,
		}
		if p.Default != nil {
			prop["default"] = p.Default
		}
		properties[p.Name] = prop
		if p.Required {
			required = append(required, p.Name)
		}
	}

	schema := map[string]interface{}{
		"type":                 "object",
		"additionalProperties": false,
		"properties":           properties,
	}
	if len(required) > 0 {
		schema["required"] = required
	}

	return gojsonschema.NewSchema(gojsonschema.NewGoLoader(schema))
}
