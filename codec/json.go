package codec

import (
	"time"

	jsoniter "github.com/json-iterator/go"

	"modapp.dev/rpc/model"
	"modapp.dev/rpc/rpcerr"
)

var jsonAPI = jsoniter.ConfigCompatibleWithStandardLibrary

// JSON is the canonical JSON codec. Empty input decodes as
// the empty object; EncodeError emits {"error": <detail>} where detail
// is a field-violation map for InvalidArgument, the message for
// NotFound, or a constant string for everything else.
type JSON struct{}

func NewJSON() *JSON { return &JSON{} }

func (JSON) ContentType() string { return "application/json" }

func (JSON) Decode(b []byte, s *model.Schema) (model.Value, error) {
	if len(b) == 0 {
		b = []byte("{}")
	}
	var raw map[string]any
	if err := jsonAPI.Unmarshal(b, &raw); err != nil {
		return nil, rpcerr.B().Code(rpcerr.InvalidArgument).
			Field("_body", "invalid JSON: "+err.Error()).
			Msg("invalid request").Err()
	}

	data, verr := decodeFields(raw, s)
	if verr != nil {
		return nil, verr
	}
	return model.NewStrict(s, data)
}

// decodeFields walks the schema, materializing scalar defaults for
// absent fields (mirrors the Binary-IDL codec's rule 1, though JSON
// itself already distinguishes absence) and recursively decoding
// nested messages, repeated fields, maps, oneofs and timestamps from
// their generic JSON shapes.
func decodeFields(raw map[string]any, s *model.Schema) (map[string]any, error) {
	out := make(map[string]any, len(s.Fields))
	key := func(f *model.Field) string {
		if s.CamelCase {
			return toCamelJSON(f.Name)
		}
		return f.Name
	}

	for i := range s.Fields {
		f := &s.Fields[i]
		raw, present := raw[key(f)]
		if !present {
			switch {
			case f.Kind == model.KindOneof && len(f.Branches) > 0:
				def := &f.Branches[0]
				out[f.Name] = oneofValue{Branch: def.Name, Value: model.ZeroValue(def.Kind)}
			case f.Kind != model.KindMessage && f.Kind != model.KindOneof:
				out[f.Name] = model.ZeroValue(f.Kind)
			}
			continue
		}
		v, err := decodeValue(raw, f)
		if err != nil {
			return nil, err
		}
		out[f.Name] = v
	}
	return out, nil
}

func decodeValue(raw any, f *model.Field) (any, error) {
	switch f.Kind {
	case model.KindMessage:
		m, ok := raw.(map[string]any)
		if !ok {
			return nil, rpcerr.B().Code(rpcerr.InvalidArgument).
				Field(f.Name, "expected object").Err()
		}
		fields, err := decodeFields(m, f.Ref)
		if err != nil {
			return nil, err
		}
		return model.NewLean(f.Ref, fields), nil
	case model.KindTimestamp:
		str, ok := raw.(string)
		if !ok {
			return nil, rpcerr.B().Code(rpcerr.InvalidArgument).
				Field(f.Name, "expected RFC3339 timestamp string").Err()
		}
		t, err := time.Parse(time.RFC3339Nano, str)
		if err != nil {
			return nil, rpcerr.B().Code(rpcerr.InvalidArgument).
				Field(f.Name, "invalid timestamp: "+err.Error()).Err()
		}
		return t, nil
	case model.KindRepeated:
		items, ok := raw.([]any)
		if !ok {
			return nil, rpcerr.B().Code(rpcerr.InvalidArgument).
				Field(f.Name, "expected array").Err()
		}
		out := make([]any, len(items))
		for i, it := range items {
			v, err := decodeValue(it, f.Elem)
			if err != nil {
				return nil, err
			}
			out[i] = v
		}
		return out, nil
	case model.KindMap:
		m, ok := raw.(map[string]any)
		if !ok {
			return nil, rpcerr.B().Code(rpcerr.InvalidArgument).
				Field(f.Name, "expected object").Err()
		}
		out := make(map[string]any, len(m))
		for k, rv := range m {
			v, err := decodeValue(rv, f.Elem)
			if err != nil {
				return nil, err
			}
			out[k] = v
		}
		return out, nil
	case model.KindOneof:
		m, ok := raw.(map[string]any)
		if !ok || len(m) != 1 {
			return nil, rpcerr.B().Code(rpcerr.InvalidArgument).
				Field(f.Name, "expected single-key object naming the active branch").Err()
		}
		for branchName, bv := range m {
			for i := range f.Branches {
				br := &f.Branches[i]
				if br.Name == branchName {
					v, err := decodeValue(bv, br)
					if err != nil {
						return nil, err
					}
					return oneofValue{Branch: br.Name, Value: v}, nil
				}
			}
			return nil, rpcerr.B().Code(rpcerr.InvalidArgument).
				Field(f.Name, "unknown branch "+branchName).Err()
		}
	case model.KindInt32, model.KindSint32, model.KindFixed32, model.KindSfixed32, model.KindEnum:
		return int32(toFloat(raw)), nil
	case model.KindInt64, model.KindSint64, model.KindFixed64, model.KindSfixed64:
		return int64(toFloat(raw)), nil
	case model.KindUint32:
		return uint32(toFloat(raw)), nil
	case model.KindUint64:
		return uint64(toFloat(raw)), nil
	case model.KindFloat32:
		return float32(toFloat(raw)), nil
	case model.KindFloat64:
		return toFloat(raw), nil
	case model.KindBool:
		b, _ := raw.(bool)
		return b, nil
	case model.KindString:
		str, _ := raw.(string)
		return str, nil
	case model.KindBytes:
		str, _ := raw.(string)
		return []byte(str), nil
	}
	return raw, nil
}

func toFloat(raw any) float64 {
	switch n := raw.(type) {
	case float64:
		return n
	case jsoniter.Number:
		f, _ := n.Float64()
		return f
	default:
		return 0
	}
}

func (JSON) Encode(v model.Value) ([]byte, error) {
	m := encodeFields(v)
	return jsonAPI.Marshal(m)
}

func encodeFields(v model.Value) map[string]any {
	s := v.Schema()
	fields := v.Fields()
	out := make(map[string]any, len(fields))
	key := func(name string) string {
		if s.CamelCase {
			return toCamelJSON(name)
		}
		return name
	}
	for _, f := range s.Fields {
		raw, ok := fields[key(f.Name)]
		if !ok {
			continue
		}
		out[key(f.Name)] = encodeValue(raw, &f)
	}
	return out
}

func encodeValue(raw any, f *model.Field) any {
	switch f.Kind {
	case model.KindMessage:
		if nv, ok := raw.(model.Value); ok {
			return encodeFields(nv)
		}
		return raw
	case model.KindTimestamp:
		if t, ok := raw.(time.Time); ok {
			return t.UTC().Format(time.RFC3339Nano)
		}
		return raw
	case model.KindRepeated:
		items, _ := raw.([]any)
		out := make([]any, len(items))
		for i, it := range items {
			out[i] = encodeValue(it, f.Elem)
		}
		return out
	case model.KindMap:
		m, _ := raw.(map[string]any)
		out := make(map[string]any, len(m))
		for k, v := range m {
			out[k] = encodeValue(v, f.Elem)
		}
		return out
	case model.KindOneof:
		nv, ok := raw.(oneofValue)
		if !ok {
			return raw
		}
		for i := range f.Branches {
			br := &f.Branches[i]
			if br.Name == nv.Branch {
				return map[string]any{br.Name: encodeValue(nv.Value, br)}
			}
		}
		return raw
	case model.KindBytes:
		if b, ok := raw.([]byte); ok {
			return string(b)
		}
		return raw
	default:
		return raw
	}
}

// oneofValue is the in-memory representation of an active tagged
// union branch, stored under the union's outer field name.
type oneofValue struct {
	Branch string
	Value  any
}

// OneofValue builds the in-memory representation of an active oneof
// branch: the value a caller stores under a KindOneof field's name
// when constructing a request or reply by hand.
func OneofValue(branch string, value any) any {
	return oneofValue{Branch: branch, Value: value}
}

func (JSON) EncodeError(err *rpcerr.Error) []byte {
	var detail any
	switch err.Code {
	case rpcerr.InvalidArgument:
		detail = err.Violations
	case rpcerr.NotFound:
		detail = err.Message
	default:
		detail = "Internal server error"
	}
	b, _ := jsonAPI.Marshal(map[string]any{"error": detail})
	return b
}

func toCamelJSON(snake string) string {
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
