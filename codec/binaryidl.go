package codec

import (
	"math"
	"sort"
	"time"

	"google.golang.org/protobuf/encoding/protowire"

	"modapp.dev/rpc/model"
	"modapp.dev/rpc/rpcerr"
)

// BinaryIDL is a tag-length-value wire codec with scalar defaults
// elided and repeated/map/oneof/nested-message/Timestamp structural
// fidelity, built directly on protowire's varint/tag/
// length-delimited primitives (the same primitives
// google.golang.org/protobuf uses) rather than on a generated message
// type, since there is no IDL code-generation toolchain in scope.
//
// NewBinaryIDL takes a schema table, which the codec keeps but does
// not consult: nested message and oneof branch schemas are reached
// directly through each Field's Ref.
type BinaryIDL struct {
	schemas map[string]*model.Schema
}

func NewBinaryIDL(schemas map[string]*model.Schema) *BinaryIDL {
	return &BinaryIDL{schemas: schemas}
}

func (BinaryIDL) ContentType() string { return "application/octet-stream" }

// --- decode ---

func (c *BinaryIDL) Decode(b []byte, s *model.Schema) (model.Value, error) {
	data, err := c.decodeMessage(b, s)
	if err != nil {
		return nil, err
	}
	return model.NewStrict(s, data)
}

// decodeMessage groups the raw wire entries by field tag, then
// materializes each declared field (defaulting absent scalars to
// their IDL zero, per invariant 5) and feeds repeated occurrences
// through the field's repeated/map/oneof handling.
func (c *BinaryIDL) decodeMessage(b []byte, s *model.Schema) (map[string]any, error) {
	type entry struct {
		wire protowire.Type
		raw  []byte // payload bytes for bytes-wire; otherwise unused
		u64  uint64 // varint/fixed payload
	}
	byTag := make(map[int][]entry)

	for len(b) > 0 {
		tag, wire, n := protowire.ConsumeTag(b)
		if n < 0 {
			return nil, badWire("truncated tag")
		}
		b = b[n:]
		var e entry
		e.wire = wire
		switch wire {
		case protowire.VarintType:
			v, n := protowire.ConsumeVarint(b)
			if n < 0 {
				return nil, badWire("truncated varint")
			}
			e.u64 = v
			b = b[n:]
		case protowire.Fixed32Type:
			v, n := protowire.ConsumeFixed32(b)
			if n < 0 {
				return nil, badWire("truncated fixed32")
			}
			e.u64 = uint64(v)
			b = b[n:]
		case protowire.Fixed64Type:
			v, n := protowire.ConsumeFixed64(b)
			if n < 0 {
				return nil, badWire("truncated fixed64")
			}
			e.u64 = v
			b = b[n:]
		case protowire.BytesType:
			v, n := protowire.ConsumeBytes(b)
			if n < 0 {
				return nil, badWire("truncated bytes")
			}
			e.raw = v
			b = b[n:]
		default:
			n := protowire.ConsumeFieldValue(protowire.Number(tag), wire, b)
			if n < 0 {
				return nil, badWire("unsupported wire type")
			}
			b = b[n:]
			continue
		}
		byTag[int(tag)] = append(byTag[int(tag)], entry{wire: e.wire, raw: e.raw, u64: e.u64})
	}

	out := make(map[string]any, len(s.Fields))

	for i := range s.Fields {
		f := &s.Fields[i]
		if f.Kind == model.KindOneof {
			continue // handled in a second pass below
		}
		entries := byTag[f.Tag]
		if len(entries) == 0 {
			if f.Kind != model.KindRepeated && f.Kind != model.KindMap && f.Kind != model.KindMessage {
				out[f.Name] = model.ZeroValue(f.Kind)
			} else if f.Kind == model.KindRepeated {
				out[f.Name] = []any{}
			} else if f.Kind == model.KindMap {
				out[f.Name] = map[string]any{}
			}
			continue
		}

		switch f.Kind {
		case model.KindRepeated:
			items := make([]any, 0, len(entries))
			for _, e := range entries {
				v, err := c.decodeScalarOrMessage(f.Elem, e.wire, e.raw, e.u64)
				if err != nil {
					return nil, err
				}
				items = append(items, v)
			}
			out[f.Name] = items
		case model.KindMap:
			entrySchema := model.EntrySchema(f)
			m := make(map[string]any, len(entries))
			for _, e := range entries {
				kv, err := c.decodeMessage(e.raw, entrySchema)
				if err != nil {
					return nil, err
				}
				m[toMapKey(kv["key"])] = kv["value"]
			}
			out[f.Name] = m
		default:
			e := entries[len(entries)-1] // last-one-wins, per proto semantics
			v, err := c.decodeScalarOrMessage(f, e.wire, e.raw, e.u64)
			if err != nil {
				return nil, err
			}
			out[f.Name] = v
		}
	}

	// Second pass: oneof fields. Find which branch (if any) has wire
	// data; otherwise materialize the default branch (first declared)
	// with its zero value, per invariant 2 / testable scenario S3.
	for i := range s.Fields {
		f := &s.Fields[i]
		if f.Kind != model.KindOneof {
			continue
		}
		found := false
		for bi := range f.Branches {
			br := &f.Branches[bi]
			entries := byTag[br.Tag]
			if len(entries) == 0 {
				continue
			}
			e := entries[len(entries)-1]
			v, err := c.decodeScalarOrMessage(br, e.wire, e.raw, e.u64)
			if err != nil {
				return nil, err
			}
			out[f.Name] = oneofValue{Branch: br.Name, Value: v}
			found = true
			break
		}
		if !found && len(f.Branches) > 0 {
			def := &f.Branches[0]
			out[f.Name] = oneofValue{Branch: def.Name, Value: model.ZeroValue(def.Kind)}
		}
	}

	return out, nil
}

func (c *BinaryIDL) decodeScalarOrMessage(f *model.Field, wire protowire.Type, raw []byte, u64 uint64) (any, error) {
	switch f.Kind {
	case model.KindMessage:
		fields, err := c.decodeMessage(raw, f.Ref)
		if err != nil {
			return nil, err
		}
		return model.NewLean(f.Ref, fields), nil
	case model.KindTimestamp:
		fields, err := c.decodeMessage(raw, timestampSchema)
		if err != nil {
			return nil, err
		}
		sec, _ := fields["seconds"].(int64)
		nanos, _ := fields["nanos"].(int32)
		return time.Unix(sec, int64(nanos)).UTC(), nil
	case model.KindString:
		return string(raw), nil
	case model.KindBytes:
		cp := make([]byte, len(raw))
		copy(cp, raw)
		return cp, nil
	case model.KindBool:
		return u64 != 0, nil
	case model.KindEnum, model.KindInt32:
		return int32(u64), nil
	case model.KindSint32:
		return int32(protowire.DecodeZigZag(u64)), nil
	case model.KindInt64:
		return int64(u64), nil
	case model.KindSint64:
		return int64(protowire.DecodeZigZag(u64)), nil
	case model.KindUint32:
		return uint32(u64), nil
	case model.KindUint64:
		return u64, nil
	case model.KindFixed32, model.KindSfixed32:
		if f.Kind == model.KindSfixed32 {
			return int32(uint32(u64)), nil
		}
		return uint32(u64), nil
	case model.KindFixed64, model.KindSfixed64:
		if f.Kind == model.KindSfixed64 {
			return int64(u64), nil
		}
		return u64, nil
	case model.KindFloat32:
		return math.Float32frombits(uint32(u64)), nil
	case model.KindFloat64:
		return math.Float64frombits(u64), nil
	default:
		return nil, badWire("unsupported field kind")
	}
}

var timestampSchema = &model.Schema{
	Path: "google.protobuf.Timestamp",
	Fields: []model.Field{
		{Name: "seconds", Tag: 1, Kind: model.KindInt64},
		{Name: "nanos", Tag: 2, Kind: model.KindInt32},
	},
}

func toMapKey(v any) string {
	switch k := v.(type) {
	case string:
		return k
	case int32:
		return itoa(int64(k))
	case int64:
		return itoa(k)
	case uint32:
		return itoa(int64(k))
	case uint64:
		return itoa(int64(k))
	default:
		return ""
	}
}

func itoa(n int64) string {
	if n == 0 {
		return "0"
	}
	neg := n < 0
	if neg {
		n = -n
	}
	var buf [20]byte
	i := len(buf)
	for n > 0 {
		i--
		buf[i] = byte('0' + n%10)
		n /= 10
	}
	if neg {
		i--
		buf[i] = '-'
	}
	return string(buf[i:])
}

func badWire(msg string) error {
	return rpcerr.B().Code(rpcerr.InvalidArgument).Field("_body", msg).Msg("invalid request").Err()
}

// --- encode ---

func (c *BinaryIDL) Encode(v model.Value) ([]byte, error) {
	return c.encodeMessage(v.Schema(), v.Fields())
}

func (c *BinaryIDL) encodeMessage(s *model.Schema, fields map[string]any) ([]byte, error) {
	var out []byte
	for i := range s.Fields {
		f := &s.Fields[i]
		raw, ok := fields[f.Name]
		if !ok {
			continue
		}
		b, err := c.encodeField(f, raw)
		if err != nil {
			return nil, err
		}
		out = append(out, b...)
	}
	return out, nil
}

func (c *BinaryIDL) encodeField(f *model.Field, raw any) ([]byte, error) {
	switch f.Kind {
	case model.KindRepeated:
		items, _ := raw.([]any)
		elem := *f.Elem
		elem.Tag = f.Tag // each item is written under the repeated field's own tag
		var out []byte
		for _, it := range items {
			b, err := c.encodeScalarOrMessage(&elem, it)
			if err != nil {
				return nil, err
			}
			out = append(out, b...)
		}
		return out, nil
	case model.KindMap:
		m, _ := raw.(map[string]any)
		keys := make([]string, 0, len(m))
		for k := range m {
			keys = append(keys, k)
		}
		sort.Strings(keys) // deterministic wire output
		var out []byte
		for _, k := range keys {
			entry := map[string]any{"key": mapKeyValue(f.MapKeyKind, k), "value": m[k]}
			entrySchema := model.EntrySchema(f)
			eb, err := c.encodeMessage(entrySchema, entry)
			if err != nil {
				return nil, err
			}
			out = append(out, protowire.AppendTag(nil, protowire.Number(f.Tag), protowire.BytesType)...)
			out = protowire.AppendBytes(out, eb)
		}
		return out, nil
	case model.KindOneof:
		branch, val, err := c.resolveOneofBranch(f, raw)
		if err != nil {
			return nil, err
		}
		if branch == nil {
			return nil, nil
		}
		return c.encodeScalarOrMessage(branch, val)
	default:
		if isZero(f.Kind, raw) {
			return nil, nil // scalar defaults elided on the wire
		}
		return c.encodeScalarOrMessage(f, raw)
	}
}

// resolveOneofBranch selects which declared branch a oneof's runtime
// value belongs to. If raw already carries an explicit branch (the
// shape produced by this package's own Decode), that branch is used
// directly. Otherwise branches are matched by best-fit against the
// value's dynamic type: nested-message branches match by schema
// identifier, scalar branches match by primitive type; two scalar
// branches sharing a primitive is reported as ambiguous (spec rule 5).
func (c *BinaryIDL) resolveOneofBranch(f *model.Field, raw any) (*model.Field, any, error) {
	if ov, ok := raw.(oneofValue); ok {
		for i := range f.Branches {
			if f.Branches[i].Name == ov.Branch {
				return &f.Branches[i], ov.Value, nil
			}
		}
		return nil, nil, rpcerr.B().Code(rpcerr.Internal).
			Msg("unknown oneof branch " + ov.Branch).Err()
	}

	var match *model.Field
	matches := 0
	for i := range f.Branches {
		br := &f.Branches[i]
		if br.Kind == model.KindMessage {
			if nv, ok := raw.(model.Value); ok && nv.Schema().Path == br.Ref.Path {
				match = br
				matches++
			}
			continue
		}
		if primitiveKindMatches(br.Kind, raw) {
			match = br
			matches++
		}
	}
	if matches > 1 {
		return nil, nil, rpcerr.B().Code(rpcerr.Internal).
			Msg("ambiguous oneof encoding: value matches more than one branch").Err()
	}
	if match == nil {
		return nil, nil, nil
	}
	return match, raw, nil
}

func primitiveKindMatches(k model.Kind, v any) bool {
	switch v.(type) {
	case string:
		return k == model.KindString
	case bool:
		return k == model.KindBool
	case []byte:
		return k == model.KindBytes
	case int32:
		return k == model.KindInt32 || k == model.KindSint32 || k == model.KindFixed32 || k == model.KindSfixed32 || k == model.KindEnum
	case int64:
		return k == model.KindInt64 || k == model.KindSint64 || k == model.KindFixed64 || k == model.KindSfixed64
	case uint32:
		return k == model.KindUint32
	case uint64:
		return k == model.KindUint64
	case float32:
		return k == model.KindFloat32
	case float64:
		return k == model.KindFloat64
	case time.Time:
		return k == model.KindTimestamp
	default:
		return false
	}
}

func mapKeyValue(keyKind model.Kind, k string) any {
	switch keyKind {
	case model.KindInt32, model.KindSint32:
		return int32(atoi(k))
	case model.KindInt64, model.KindSint64:
		return atoi(k)
	case model.KindUint32:
		return uint32(atoi(k))
	case model.KindUint64:
		return uint64(atoi(k))
	default:
		return k
	}
}

func atoi(s string) int64 {
	neg := false
	var n int64
	for i, c := range s {
		if i == 0 && c == '-' {
			neg = true
			continue
		}
		if c < '0' || c > '9' {
			break
		}
		n = n*10 + int64(c-'0')
	}
	if neg {
		n = -n
	}
	return n
}

func (c *BinaryIDL) encodeScalarOrMessage(f *model.Field, raw any) ([]byte, error) {
	switch f.Kind {
	case model.KindMessage:
		nv, ok := raw.(model.Value)
		if !ok {
			return nil, rpcerr.B().Code(rpcerr.Internal).Msg("expected message value for field " + f.Name).Err()
		}
		b, err := c.encodeMessage(nv.Schema(), nv.Fields())
		if err != nil {
			return nil, err
		}
		out := protowire.AppendTag(nil, protowire.Number(f.Tag), protowire.BytesType)
		return protowire.AppendBytes(out, b), nil
	case model.KindTimestamp:
		t, _ := raw.(time.Time)
		t = t.UTC()
		fields := map[string]any{"seconds": t.Unix(), "nanos": int32(t.Nanosecond())}
		b, err := c.encodeMessage(timestampSchema, fields)
		if err != nil {
			return nil, err
		}
		out := protowire.AppendTag(nil, protowire.Number(f.Tag), protowire.BytesType)
		return protowire.AppendBytes(out, b), nil
	case model.KindString:
		s, _ := raw.(string)
		out := protowire.AppendTag(nil, protowire.Number(f.Tag), protowire.BytesType)
		return protowire.AppendBytes(out, []byte(s)), nil
	case model.KindBytes:
		b, _ := raw.([]byte)
		out := protowire.AppendTag(nil, protowire.Number(f.Tag), protowire.BytesType)
		return protowire.AppendBytes(out, b), nil
	case model.KindBool:
		b, _ := raw.(bool)
		var v uint64
		if b {
			v = 1
		}
		out := protowire.AppendTag(nil, protowire.Number(f.Tag), protowire.VarintType)
		return protowire.AppendVarint(out, v), nil
	case model.KindEnum, model.KindInt32:
		n, _ := raw.(int32)
		out := protowire.AppendTag(nil, protowire.Number(f.Tag), protowire.VarintType)
		return protowire.AppendVarint(out, uint64(n)), nil
	case model.KindSint32:
		n, _ := raw.(int32)
		out := protowire.AppendTag(nil, protowire.Number(f.Tag), protowire.VarintType)
		return protowire.AppendVarint(out, protowire.EncodeZigZag(int64(n))), nil
	case model.KindInt64:
		n, _ := raw.(int64)
		out := protowire.AppendTag(nil, protowire.Number(f.Tag), protowire.VarintType)
		return protowire.AppendVarint(out, uint64(n)), nil
	case model.KindSint64:
		n, _ := raw.(int64)
		out := protowire.AppendTag(nil, protowire.Number(f.Tag), protowire.VarintType)
		return protowire.AppendVarint(out, protowire.EncodeZigZag(n)), nil
	case model.KindUint32:
		n, _ := raw.(uint32)
		out := protowire.AppendTag(nil, protowire.Number(f.Tag), protowire.VarintType)
		return protowire.AppendVarint(out, uint64(n)), nil
	case model.KindUint64:
		n, _ := raw.(uint64)
		out := protowire.AppendTag(nil, protowire.Number(f.Tag), protowire.VarintType)
		return protowire.AppendVarint(out, n), nil
	case model.KindFixed32:
		n, _ := raw.(uint32)
		out := protowire.AppendTag(nil, protowire.Number(f.Tag), protowire.Fixed32Type)
		return protowire.AppendFixed32(out, n), nil
	case model.KindSfixed32:
		n, _ := raw.(int32)
		out := protowire.AppendTag(nil, protowire.Number(f.Tag), protowire.Fixed32Type)
		return protowire.AppendFixed32(out, uint32(n)), nil
	case model.KindFixed64:
		n, _ := raw.(uint64)
		out := protowire.AppendTag(nil, protowire.Number(f.Tag), protowire.Fixed64Type)
		return protowire.AppendFixed64(out, n), nil
	case model.KindSfixed64:
		n, _ := raw.(int64)
		out := protowire.AppendTag(nil, protowire.Number(f.Tag), protowire.Fixed64Type)
		return protowire.AppendFixed64(out, uint64(n)), nil
	case model.KindFloat32:
		n, _ := raw.(float32)
		out := protowire.AppendTag(nil, protowire.Number(f.Tag), protowire.Fixed32Type)
		return protowire.AppendFixed32(out, math.Float32bits(n)), nil
	case model.KindFloat64:
		n, _ := raw.(float64)
		out := protowire.AppendTag(nil, protowire.Number(f.Tag), protowire.Fixed64Type)
		return protowire.AppendFixed64(out, math.Float64bits(n)), nil
	default:
		return nil, rpcerr.B().Code(rpcerr.Internal).Msg("unsupported field kind for " + f.Name).Err()
	}
}

// EncodeError renders err to a fixed three-field wire shape built
// directly with protowire's primitives rather than a model.Schema,
// since an error isn't one of the caller's registered message types:
// tag 1 the numeric Code, tag 2 the message, tag 3 zero or more
// length-delimited (field, description) violation pairs.
func (BinaryIDL) EncodeError(err *rpcerr.Error) []byte {
	var out []byte
	out = protowire.AppendTag(out, 1, protowire.VarintType)
	out = protowire.AppendVarint(out, uint64(err.Code))
	out = protowire.AppendTag(out, 2, protowire.BytesType)
	out = protowire.AppendBytes(out, []byte(err.ErrorMessage()))
	for field, msg := range err.Violations {
		var v []byte
		v = protowire.AppendTag(v, 1, protowire.BytesType)
		v = protowire.AppendBytes(v, []byte(field))
		v = protowire.AppendTag(v, 2, protowire.BytesType)
		v = protowire.AppendBytes(v, []byte(msg))
		out = protowire.AppendTag(out, 3, protowire.BytesType)
		out = protowire.AppendBytes(out, v)
	}
	return out
}

func isZero(k model.Kind, v any) bool {
	switch x := v.(type) {
	case string:
		return x == ""
	case bool:
		return !x
	case []byte:
		return len(x) == 0
	case int32:
		return x == 0
	case int64:
		return x == 0
	case uint32:
		return x == 0
	case uint64:
		return x == 0
	case float32:
		return x == 0
	case float64:
		return x == 0
	case time.Time:
		return x.IsZero()
	default:
		return v == nil
	}
}
