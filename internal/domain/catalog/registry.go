package catalog

import (
	"bytes"
	"encoding/json"
	"fmt"
	"sort"

	"github.com/santhosh-tekuri/jsonschema/v6"
)

// Registry is the validated, immutable tool catalog. All schemas are
// compiled at construction; lookups and validation never mutate state, so
// the registry is safe for concurrent use without locking.
type Registry struct {
	tools   map[string]Descriptor
	schemas map[string]*jsonschema.Schema
}

// NewRegistry compiles the given descriptors into a registry. Duplicate
// names, empty names, and schemas that fail to compile are startup errors:
// a catalog that cannot be fully validated never serves a single call.
func NewRegistry(descriptors []Descriptor) (*Registry, error) {
	r := &Registry{
		tools:   make(map[string]Descriptor, len(descriptors)),
		schemas: make(map[string]*jsonschema.Schema, len(descriptors)),
	}

	for _, d := range descriptors {
		if d.Name == "" {
			return nil, fmt.Errorf("tool descriptor with empty name")
		}
		if _, dup := r.tools[d.Name]; dup {
			return nil, fmt.Errorf("duplicate tool %q", d.Name)
		}
		if len(d.InputSchema) == 0 {
			return nil, fmt.Errorf("tool %q: missing input schema", d.Name)
		}

		doc, err := jsonschema.UnmarshalJSON(bytes.NewReader(d.InputSchema))
		if err != nil {
			return nil, fmt.Errorf("tool %q: parse input schema: %w", d.Name, err)
		}

		compiler := jsonschema.NewCompiler()
		url := "catalog:///" + d.Name + ".json"
		if err := compiler.AddResource(url, doc); err != nil {
			return nil, fmt.Errorf("tool %q: add schema resource: %w", d.Name, err)
		}
		schema, err := compiler.Compile(url)
		if err != nil {
			return nil, fmt.Errorf("tool %q: compile schema: %w", d.Name, err)
		}

		if d.Risk == "" {
			d.Risk = ClassifyRisk(d.Name)
		}
		r.tools[d.Name] = d
		r.schemas[d.Name] = schema
	}

	return r, nil
}

// Lookup returns the descriptor for a tool name.
func (r *Registry) Lookup(name string) (Descriptor, error) {
	d, ok := r.tools[name]
	if !ok {
		return Descriptor{}, fmt.Errorf("%w: %s", ErrUnknownTool, name)
	}
	return d, nil
}

// Names returns all registered tool names, sorted.
func (r *Registry) Names() []string {
	names := make([]string, 0, len(r.tools))
	for name := range r.tools {
		names = append(names, name)
	}
	sort.Strings(names)
	return names
}

// Validate checks the argument mapping against the tool's compiled schema.
// It returns ErrUnknownTool for unregistered names and a *ValidationError
// for schema violations.
func (r *Registry) Validate(name string, args map[string]any) (Descriptor, error) {
	d, err := r.Lookup(name)
	if err != nil {
		return Descriptor{}, err
	}

	// Round-trip through JSON so argument values carry the types the
	// schema validator expects (float64 numbers, not Go ints).
	data, err := json.Marshal(args)
	if err != nil {
		return Descriptor{}, &ValidationError{Tool: name, Detail: err.Error()}
	}
	var instance any
	if err := json.Unmarshal(data, &instance); err != nil {
		return Descriptor{}, &ValidationError{Tool: name, Detail: err.Error()}
	}
	if instance == nil {
		instance = map[string]any{}
	}

	if err := r.schemas[name].Validate(instance); err != nil {
		return Descriptor{}, &ValidationError{Tool: name, Detail: err.Error()}
	}
	return d, nil
}
