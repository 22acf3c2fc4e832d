package tools

import (
	"context"
	"encoding/json"
	"fmt"
	"maps"

	"github.com/google/jsonschema-go/jsonschema"
)

// Typed builds a Tool whose input schema is inferred from In. Arguments are
// validated against the schema and defaults applied before they are decoded
// into In; invalid arguments are rejected without calling fn. customize may
// adjust the inferred schema (enums, defaults) before it is resolved.
func Typed[In any](name, description string, fn func(context.Context, In) (string, error), customize ...func(*jsonschema.Schema)) (Tool, error) {
	schema, err := jsonschema.For[In](nil)
	if err != nil {
		return Tool{}, fmt.Errorf("tools: schema for %s: %w", name, err)
	}
	for _, c := range customize {
		c(schema)
	}
	resolved, err := schema.Resolve(&jsonschema.ResolveOptions{ValidateDefaults: true})
	if err != nil {
		return Tool{}, fmt.Errorf("tools: resolve schema for %s: %w", name, err)
	}

	h := func(ctx context.Context, args map[string]any) (string, error) {
		args = maps.Clone(args)
		if err := resolved.Validate(args); err != nil {
			return "", fmt.Errorf("invalid arguments for %s: %w", name, err)
		}
		if err := resolved.ApplyDefaults(&args); err != nil {
			return "", fmt.Errorf("defaults for %s: %w", name, err)
		}
		b, err := json.Marshal(args)
		if err != nil {
			return "", err
		}
		var in In
		if err := json.Unmarshal(b, &in); err != nil {
			return "", fmt.Errorf("decode arguments for %s: %w", name, err)
		}
		return fn(ctx, in)
	}
	return Tool{Name: name, Description: description, Schema: schema, Handler: h}, nil
}

// WithEnum restricts a string property to values.
func WithEnum(prop string, values ...string) func(*jsonschema.Schema) {
	return func(s *jsonschema.Schema) {
		p := s.Properties[prop]
		if p == nil {
			return
		}
		p.Enum = make([]any, len(values))
		for i, v := range values {
			p.Enum[i] = v
		}
	}
}

// WithDefault sets the default for an optional property.
func WithDefault(prop string, value any) func(*jsonschema.Schema) {
	return func(s *jsonschema.Schema) {
		p := s.Properties[prop]
		if p == nil {
			return
		}
		b, err := json.Marshal(value)
		if err != nil {
			return
		}
		p.Default = b
	}
}
