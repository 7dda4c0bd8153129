package model

import (
	"fmt"

	"modapp.dev/rpc/rpcerr"
)

// Value is either representation of a schema-typed value: Strict
// (validated on construction) or Lean (trusted, already validated).
// Fields projects the value back to a generic name->value mapping,
// applying the schema's camelCase translation if requested (only
// model-owned keys transform).
type Value interface {
	Schema() *Schema
	Fields() map[string]any
}

type lean struct {
	schema *Schema
	data   map[string]any
}

// NewLean builds a Value from data without validating it. Used for
// values the codec already trusts (post-decode).
func NewLean(s *Schema, data map[string]any) Value {
	return &lean{schema: s, data: data}
}

func (l *lean) Schema() *Schema { return l.schema }

func (l *lean) Fields() map[string]any {
	return translateKeys(l.schema, l.data, l.schema.CamelCase)
}

type strict struct {
	schema *Schema
	data   map[string]any
}

// NewStrict builds a Value from a generic field-name->value mapping,
// type-checking every present string, bool, bytes and message field
// against the schema and collecting all violations (not just the
// first) into an InvalidArgument error. Fields of other kinds
// (numeric, enum, repeated, map, timestamp, oneof) are stored without
// a type check.
// Input keys are expected in the schema's own casing (camelCase if
// Schema.CamelCase is set, snake_case otherwise).
func NewStrict(s *Schema, data map[string]any) (Value, error) {
	snakeData := untranslateKeys(s, data, s.CamelCase)

	b := rpcerr.B().Code(rpcerr.InvalidArgument).Msg("invalid request")
	any_ := false
	for _, f := range s.Fields {
		v, ok := snakeData[f.Name]
		if !ok {
			continue
		}
		if err := validateField(&f, v); err != "" {
			b.Field(f.Name, err)
			any_ = true
		}
	}
	if any_ {
		return nil, b.Err()
	}
	return &strict{schema: s, data: snakeData}, nil
}

func (s *strict) Schema() *Schema { return s.schema }

func (s *strict) Fields() map[string]any {
	return translateKeys(s.schema, s.data, s.schema.CamelCase)
}

func validateField(f *Field, v any) string {
	switch f.Kind {
	case KindString:
		if _, ok := v.(string); !ok {
			return fmt.Sprintf("expected string, got %T", v)
		}
	case KindBool:
		if _, ok := v.(bool); !ok {
			return fmt.Sprintf("expected bool, got %T", v)
		}
	case KindBytes:
		if _, ok := v.([]byte); !ok {
			return fmt.Sprintf("expected bytes, got %T", v)
		}
	case KindMessage:
		if _, ok := v.(Value); !ok {
			if _, ok := v.(map[string]any); !ok {
				return fmt.Sprintf("expected message, got %T", v)
			}
		}
	}
	return ""
}

// translateKeys projects the schema's own field names to camelCase
// (if requested). Values that are themselves generic maps (not
// described by the schema, e.g. a map field's runtime entries) are
// passed through unchanged.
func translateKeys(s *Schema, data map[string]any, camel bool) map[string]any {
	if !camel {
		return cloneShallow(data)
	}
	out := make(map[string]any, len(data))
	for _, f := range s.Fields {
		if v, ok := data[f.Name]; ok {
			out[toCamel(f.Name)] = v
		}
	}
	// Carry over anything not declared on the schema untouched.
	for k, v := range data {
		if s.FieldByName(k) == nil {
			out[k] = v
		}
	}
	return out
}

func untranslateKeys(s *Schema, data map[string]any, camel bool) map[string]any {
	if !camel {
		return cloneShallow(data)
	}
	out := make(map[string]any, len(data))
	for _, f := range s.Fields {
		if v, ok := data[toCamel(f.Name)]; ok {
			out[f.Name] = v
		}
	}
	for k, v := range data {
		if _, isCamelOfField := fromCamelKnown(s, k); !isCamelOfField {
			out[k] = v
		}
	}
	return out
}

func fromCamelKnown(s *Schema, camelKey string) (string, bool) {
	for _, f := range s.Fields {
		if toCamel(f.Name) == camelKey {
			return f.Name, true
		}
	}
	return "", false
}

func cloneShallow(m map[string]any) map[string]any {
	out := make(map[string]any, len(m))
	for k, v := range m {
		out[k] = v
	}
	return out
}

func toCamel(snake string) string {
	out := make([]byte, 0, len(snake))
	upperNext := false
	for i := 0; i < len(snake); i++ {
		c := snake[i]
		if c == '_' {
			upperNext = true
			continue
		}
		if upperNext && c >= 'a' && c <= 'z' {
			c -= 'a' - 'A'
			upperNext = false
		}
		out = append(out, c)
	}
	return string(out)
}
