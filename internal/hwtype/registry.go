package hwtype

import (
	"bytes"
	"encoding/json"
	"errors"
	"fmt"
	"maps"
	"slices"

	"github.com/santhosh-tekuri/jsonschema/v6"

	"github.com/chameleoncloud/doni/internal/hardware"
	"github.com/chameleoncloud/doni/internal/worker"
)

var (
	// ErrUnknownType is returned for a hardware type that is not enabled.
	ErrUnknownType = errors.New("unknown hardware type")
	// ErrInvalidProperties is returned when properties fail schema validation.
	ErrInvalidProperties = errors.New("invalid hardware properties")
)

// Registry holds the enabled hardware types. It is built once at startup and
// is read-only afterwards.
type Registry struct {
	types   map[string]*compiledType
	order   []string
	workers *worker.Set
}

type compiledType struct {
	HardwareType
	// fields are the type fields followed by those of its enabled workers.
	fields []worker.Field
	schema *jsonschema.Schema
}

// NewRegistry compiles the given types. enabled restricts the registry to the
// named types; an empty list enables all of them. Workers of a type that are
// not in workers are ignored, along with their fields.
func NewRegistry(types []HardwareType, workers *worker.Set, enabled []string) (*Registry, error) {
	byName := make(map[string]HardwareType, len(types))
	for _, t := range types {
		if _, dup := byName[t.Name]; dup {
			return nil, fmt.Errorf("duplicate hardware type %s", t.Name)
		}
		byName[t.Name] = t
	}
	if len(enabled) == 0 {
		for _, t := range types {
			enabled = append(enabled, t.Name)
		}
	}

	r := &Registry{types: make(map[string]*compiledType, len(enabled)), workers: workers}
	for _, name := range enabled {
		t, ok := byName[name]
		if !ok {
			return nil, fmt.Errorf("%w: %s", ErrUnknownType, name)
		}
		if _, dup := r.types[name]; dup {
			continue
		}
		ct, err := compile(t, workers)
		if err != nil {
			return nil, fmt.Errorf("hardware type %s: %w", name, err)
		}
		r.types[name] = ct
		r.order = append(r.order, name)
	}
	return r, nil
}

func compile(t HardwareType, workers *worker.Set) (*compiledType, error) {
	fields := slices.Clone(t.Fields)
	for _, name := range t.DefaultWorkers {
		if w, ok := workers.Get(name); ok {
			fields = append(fields, w.Fields()...)
		}
	}

	properties := map[string]any{}
	required := []any{}
	for _, f := range fields {
		if _, dup := properties[f.Name]; dup {
			return nil, fmt.Errorf("field %s is declared twice", f.Name)
		}
		var s any = true
		if f.Schema != nil {
			s = f.Schema
		}
		properties[f.Name] = s
		if f.Required {
			required = append(required, f.Name)
		}
	}
	doc := map[string]any{
		"type":                 "object",
		"properties":           properties,
		"additionalProperties": false,
	}
	if len(required) > 0 {
		doc["required"] = required
	}

	raw, err := toJSONValue(doc)
	if err != nil {
		return nil, err
	}
	url := "https://doni.local/hardware-types/" + t.Name + ".json"
	c := jsonschema.NewCompiler()
	c.AssertFormat()
	if err := c.AddResource(url, raw); err != nil {
		return nil, fmt.Errorf("invalid schema: %w", err)
	}
	schema, err := c.Compile(url)
	if err != nil {
		return nil, fmt.Errorf("invalid schema: %w", err)
	}
	return &compiledType{HardwareType: t, fields: fields, schema: schema}, nil
}

// Names returns the enabled type names in configuration order.
func (r *Registry) Names() []string {
	return slices.Clone(r.order)
}

// Lookup returns an enabled hardware type.
func (r *Registry) Lookup(name string) (*HardwareType, error) {
	ct, ok := r.types[name]
	if !ok {
		return nil, fmt.Errorf("%w: %s", ErrUnknownType, name)
	}
	t := ct.HardwareType
	return &t, nil
}

// Fields returns the properties a hardware of the named type accepts: the
// type's own fields followed by those of its enabled workers.
func (r *Registry) Fields(name string) ([]worker.Field, error) {
	ct, ok := r.types[name]
	if !ok {
		return nil, fmt.Errorf("%w: %s", ErrUnknownType, name)
	}
	return slices.Clone(ct.fields), nil
}

// Validate applies field defaults and type overrides to properties and
// validates the result. It returns the normalized properties; the input map
// is not modified.
func (r *Registry) Validate(name string, properties map[string]any) (map[string]any, error) {
	ct, ok := r.types[name]
	if !ok {
		return nil, fmt.Errorf("%w: %s", ErrUnknownType, name)
	}

	out := maps.Clone(properties)
	if out == nil {
		out = map[string]any{}
	}
	for _, f := range ct.fields {
		if _, set := out[f.Name]; !set && f.Default != nil {
			out[f.Name] = f.Default
		}
	}
	for _, f := range ct.fields {
		if v, ok := ct.WorkerOverrides[f.Name]; ok {
			out[f.Name] = v
		}
	}

	inst, err := toJSONValue(out)
	if err != nil {
		return nil, fmt.Errorf("%w: %v", ErrInvalidProperties, err)
	}
	if err := ct.schema.Validate(inst); err != nil {
		return nil, fmt.Errorf("%w: %v", ErrInvalidProperties, err)
	}
	return out, nil
}

// Resolve returns the workers that apply to hw: the type's default workers,
// restricted to hw.Workers when set, that are enabled and whose AppliesTo
// accepts hw.
func (r *Registry) Resolve(hw *hardware.Hardware) ([]string, error) {
	ct, ok := r.types[hw.Type]
	if !ok {
		return nil, fmt.Errorf("%w: %s", ErrUnknownType, hw.Type)
	}
	var names []string
	for _, name := range ct.DefaultWorkers {
		if len(hw.Workers) > 0 && !slices.Contains(hw.Workers, name) {
			continue
		}
		w, ok := r.workers.Get(name)
		if !ok || !w.AppliesTo(hw) {
			continue
		}
		names = append(names, name)
	}
	return names, nil
}

// Worker returns an enabled worker by name.
func (r *Registry) Worker(name string) (worker.Worker, bool) {
	return r.workers.Get(name)
}

// toJSONValue converts v to the representation the schema library expects.
func toJSONValue(v any) (any, error) {
	b, err := json.Marshal(v)
	if err != nil {
		return nil, err
	}
	return jsonschema.UnmarshalJSON(bytes.NewReader(b))
}
