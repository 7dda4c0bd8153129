package model

import "time"

// Kind is a field's logical type.
type Kind int

const (
	KindInvalid Kind = iota
	KindInt32
	KindInt64
	KindUint32
	KindUint64
	KindSint32
	KindSint64
	KindFixed32
	KindFixed64
	KindSfixed32
	KindSfixed64
	KindFloat32
	KindFloat64
	KindBool
	KindString
	KindBytes
	KindEnum
	KindMessage
	KindRepeated
	KindMap
	KindTimestamp
	KindOneof
)

// Field describes one field of a Schema.
type Field struct {
	// Name is the in-memory (snake_case) field name.
	Name string
	// Tag is the wire field number used by the Binary-IDL codec.
	Tag  int
	Kind Kind

	// Ref is set when Kind == KindMessage or KindEnum: the referenced
	// schema itself, which the codecs use directly.
	Ref *Schema

	// Elem describes the element type for KindRepeated, or the value
	// type for KindMap. MapKeyKind holds the map's key kind
	// (KindString or an integer kind).
	Elem       *Field
	MapKeyKind Kind

	// Branches lists the typed branches of a KindOneof field, each a
	// full Field (with its own Tag) discriminated on the wire by tag.
	Branches []Field
}

// Schema is a named record type: a stable path identifier and an
// ordered list of fields.
type Schema struct {
	// Path is the schema's stable identifier, e.g. "my.pkg.User".
	Path string
	// CamelCase requests that Encode/Decode translate this schema's
	// own field names to/from camelCase on the wire. In-memory names
	// stay snake_case regardless.
	CamelCase bool
	Fields    []Field
}

// FieldByName returns the field named name, or nil.
func (s *Schema) FieldByName(name string) *Field {
	for i := range s.Fields {
		if s.Fields[i].Name == name {
			return &s.Fields[i]
		}
	}
	return nil
}

// EntrySchema builds the synthetic "<FieldPascal>Entry{key,value}"
// schema the Binary-IDL codec uses to represent a map field on the
// wire.
func EntrySchema(mapField *Field) *Schema {
	keyKind := mapField.MapKeyKind
	if keyKind == KindInvalid {
		keyKind = KindString
	}
	return &Schema{
		Path: pascal(mapField.Name) + "Entry",
		Fields: []Field{
			{Name: "key", Tag: 1, Kind: keyKind},
			*withTag(mapField.Elem, 2),
		},
	}
}

func withTag(f *Field, tag int) *Field {
	cp := *f
	cp.Tag = tag
	cp.Name = "value"
	return &cp
}

func pascal(snake string) string {
	out := make([]byte, 0, len(snake))
	upper := true
	for i := 0; i < len(snake); i++ {
		c := snake[i]
		if c == '_' {
			upper = true
			continue
		}
		if upper && c >= 'a' && c <= 'z' {
			c -= 'a' - 'A'
		}
		upper = false
		out = append(out, c)
	}
	return string(out)
}

// ZeroValue reports the IDL zero value for a scalar/string/bytes kind,
// used to materialize absent fields on decode.
func ZeroValue(k Kind) any {
	switch k {
	case KindInt32, KindSint32, KindFixed32, KindSfixed32, KindEnum:
		return int32(0)
	case KindInt64, KindSint64, KindFixed64, KindSfixed64:
		return int64(0)
	case KindUint32:
		return uint32(0)
	case KindUint64:
		return uint64(0)
	case KindFloat32:
		return float32(0)
	case KindFloat64:
		return float64(0)
	case KindBool:
		return false
	case KindString:
		return ""
	case KindBytes:
		return []byte{}
	case KindTimestamp:
		return time.Time{}
	default:
		return nil
	}
}
