package codec_test

import (
	"testing"
	"time"

	"github.com/google/go-cmp/cmp"
	"google.golang.org/protobuf/encoding/protowire"

	"modapp.dev/rpc/codec"
	"modapp.dev/rpc/model"
	"modapp.dev/rpc/rpcerr"
)

var personSchema = &model.Schema{
	Path: "test.Person",
	Fields: []model.Field{
		{Name: "name", Tag: 1, Kind: model.KindString},
		{Name: "age", Tag: 2, Kind: model.KindInt32},
		{Name: "active", Tag: 3, Kind: model.KindBool},
		{Name: "score", Tag: 4, Kind: model.KindFloat64},
	},
}

func mustValue(t *testing.T, s *model.Schema, data map[string]any) model.Value {
	t.Helper()
	v, err := model.NewStrict(s, data)
	if err != nil {
		t.Fatalf("NewStrict: %v", err)
	}
	return v
}

// TestBinaryIDLScalarRoundTrip covers testable property 1 / scenario S1:
// encoding then decoding a scalar message reproduces the original
// fields exactly.
func TestBinaryIDLScalarRoundTrip(t *testing.T) {
	c := codec.NewBinaryIDL(map[string]*model.Schema{personSchema.Path: personSchema})
	in := mustValue(t, personSchema, map[string]any{
		"name":   "Ada",
		"age":    int32(30),
		"active": true,
		"score":  float64(99.5),
	})

	b, err := c.Encode(in)
	if err != nil {
		t.Fatalf("Encode: %v", err)
	}
	out, err := c.Decode(b, personSchema)
	if err != nil {
		t.Fatalf("Decode: %v", err)
	}

	if diff := cmp.Diff(in.Fields(), out.Fields()); diff != "" {
		t.Errorf("round trip mismatch (-want +got):\n%s", diff)
	}
}

// TestBinaryIDLDefaultsElidedAndMaterialized covers testable property 2
// / scenario S2: scalar defaults are elided on the wire and
// materialized back to the IDL zero value on decode.
func TestBinaryIDLDefaultsElidedAndMaterialized(t *testing.T) {
	c := codec.NewBinaryIDL(map[string]*model.Schema{personSchema.Path: personSchema})
	in := mustValue(t, personSchema, map[string]any{
		"name":   "",
		"age":    int32(0),
		"active": false,
		"score":  float64(0),
	})

	b, err := c.Encode(in)
	if err != nil {
		t.Fatalf("Encode: %v", err)
	}
	if len(b) != 0 {
		t.Errorf("expected all-default message to encode to zero bytes, got %d bytes", len(b))
	}

	out, err := c.Decode(b, personSchema)
	if err != nil {
		t.Fatalf("Decode: %v", err)
	}
	want := map[string]any{"name": "", "age": int32(0), "active": false, "score": float64(0)}
	if diff := cmp.Diff(want, out.Fields()); diff != "" {
		t.Errorf("defaults mismatch (-want +got):\n%s", diff)
	}
}

var shapeSchema = &model.Schema{
	Path: "test.Shape",
	Fields: []model.Field{
		{
			Name: "variant",
			Kind: model.KindOneof,
			Branches: []model.Field{
				{Name: "circle_radius", Tag: 10, Kind: model.KindFloat64},
				{Name: "square_side", Tag: 11, Kind: model.KindFloat64},
				{Name: "label", Tag: 12, Kind: model.KindString},
			},
		},
	},
}

// TestBinaryIDLOneofDiscrimination covers testable property 3 /
// scenario S3: the active branch round-trips and an unset oneof
// decodes to the first declared branch with its zero value.
func TestBinaryIDLOneofDiscrimination(t *testing.T) {
	c := codec.NewBinaryIDL(map[string]*model.Schema{shapeSchema.Path: shapeSchema})

	in := mustValue(t, shapeSchema, map[string]any{
		"variant": codec.OneofValue("square_side", float64(4)),
	})
	b, err := c.Encode(in)
	if err != nil {
		t.Fatalf("Encode: %v", err)
	}
	out, err := c.Decode(b, shapeSchema)
	if err != nil {
		t.Fatalf("Decode: %v", err)
	}
	got := out.Fields()["variant"]
	want := codec.OneofValue("square_side", float64(4))
	if diff := cmp.Diff(want, got); diff != "" {
		t.Errorf("oneof branch mismatch (-want +got):\n%s", diff)
	}

	empty, err := model.NewStrict(shapeSchema, map[string]any{})
	if err != nil {
		t.Fatalf("NewStrict: %v", err)
	}
	eb, err := c.Encode(empty)
	if err != nil {
		t.Fatalf("Encode empty: %v", err)
	}
	if len(eb) != 0 {
		t.Errorf("expected unset oneof to encode to zero bytes, got %d", len(eb))
	}
	dout, err := c.Decode(eb, shapeSchema)
	if err != nil {
		t.Fatalf("Decode empty: %v", err)
	}
	defaultWant := codec.OneofValue("circle_radius", float64(0))
	if diff := cmp.Diff(defaultWant, dout.Fields()["variant"]); diff != "" {
		t.Errorf("default branch mismatch (-want +got):\n%s", diff)
	}
}

var teamSchema = &model.Schema{
	Path: "test.Team",
	Fields: []model.Field{
		{
			Name:       "members",
			Tag:        1,
			Kind:       model.KindMap,
			MapKeyKind: model.KindString,
			Elem:       &model.Field{Name: "value", Kind: model.KindMessage, Ref: personSchema},
		},
	},
}

// TestBinaryIDLMapOfMessages covers testable property 4 / scenario S4:
// a map field with message values round-trips via the synthetic entry
// convention, independent of iteration order.
func TestBinaryIDLMapOfMessages(t *testing.T) {
	c := codec.NewBinaryIDL(map[string]*model.Schema{
		personSchema.Path: personSchema,
		teamSchema.Path:   teamSchema,
	})

	ada := mustValue(t, personSchema, map[string]any{"name": "Ada", "age": int32(30), "active": true, "score": 0.0})
	lin := mustValue(t, personSchema, map[string]any{"name": "Linus", "age": int32(40), "active": false, "score": 0.0})
	in := mustValue(t, teamSchema, map[string]any{
		"members": map[string]any{"a": ada, "b": lin},
	})

	b, err := c.Encode(in)
	if err != nil {
		t.Fatalf("Encode: %v", err)
	}
	out, err := c.Decode(b, teamSchema)
	if err != nil {
		t.Fatalf("Decode: %v", err)
	}
	members, ok := out.Fields()["members"].(map[string]any)
	if !ok || len(members) != 2 {
		t.Fatalf("members = %#v", out.Fields()["members"])
	}
	a, ok := members["a"].(model.Value)
	if !ok {
		t.Fatalf("members[a] is %T, want model.Value", members["a"])
	}
	if diff := cmp.Diff(ada.Fields(), a.Fields()); diff != "" {
		t.Errorf("members[a] mismatch (-want +got):\n%s", diff)
	}
}

var eventSchema = &model.Schema{
	Path: "test.Event",
	Fields: []model.Field{
		{Name: "happened_at", Tag: 1, Kind: model.KindTimestamp},
	},
}

// TestBinaryIDLTimestampPrecision covers testable property 5:
// nanosecond-precision timestamps survive a round trip.
func TestBinaryIDLTimestampPrecision(t *testing.T) {
	c := codec.NewBinaryIDL(map[string]*model.Schema{eventSchema.Path: eventSchema})
	want := time.Date(2024, 3, 1, 12, 30, 0, 123456789, time.UTC)
	in := mustValue(t, eventSchema, map[string]any{"happened_at": want})

	b, err := c.Encode(in)
	if err != nil {
		t.Fatalf("Encode: %v", err)
	}
	out, err := c.Decode(b, eventSchema)
	if err != nil {
		t.Fatalf("Decode: %v", err)
	}
	got := out.Fields()["happened_at"].(time.Time)
	if !got.Equal(want) || got.Nanosecond() != want.Nanosecond() {
		t.Errorf("timestamp = %v, want %v", got, want)
	}
}

var numbersSchema = &model.Schema{
	Path: "test.Numbers",
	Fields: []model.Field{
		{Name: "tags", Tag: 1, Kind: model.KindRepeated, Elem: &model.Field{Name: "value", Kind: model.KindString}},
	},
}

// TestBinaryIDLRepeatedScalar covers the repeated-of-scalar rule: order
// is preserved and an absent repeated field decodes to an empty slice
// rather than nil.
func TestBinaryIDLRepeatedScalar(t *testing.T) {
	c := codec.NewBinaryIDL(map[string]*model.Schema{numbersSchema.Path: numbersSchema})

	in := mustValue(t, numbersSchema, map[string]any{"tags": []any{"x", "y", "z"}})
	b, err := c.Encode(in)
	if err != nil {
		t.Fatalf("Encode: %v", err)
	}
	out, err := c.Decode(b, numbersSchema)
	if err != nil {
		t.Fatalf("Decode: %v", err)
	}
	if diff := cmp.Diff([]any{"x", "y", "z"}, out.Fields()["tags"]); diff != "" {
		t.Errorf("tags mismatch (-want +got):\n%s", diff)
	}

	empty := mustValue(t, numbersSchema, map[string]any{"tags": []any{}})
	eb, err := c.Encode(empty)
	if err != nil {
		t.Fatalf("Encode empty: %v", err)
	}
	eout, err := c.Decode(eb, numbersSchema)
	if err != nil {
		t.Fatalf("Decode empty: %v", err)
	}
	if diff := cmp.Diff([]any{}, eout.Fields()["tags"]); diff != "" {
		t.Errorf("empty tags mismatch (-want +got):\n%s", diff)
	}
}

// TestBinaryIDLEncodeErrorCarriesCodeAndMessage covers the one wire
// shape EncodeError produces that isn't described by a model.Schema:
// tag 1 the numeric code, tag 2 the message.
func TestBinaryIDLEncodeErrorCarriesCodeAndMessage(t *testing.T) {
	c := codec.BinaryIDL{}
	err := rpcerr.B().Code(rpcerr.NotFound).Msg("missing").Err()
	b := c.EncodeError(rpcerr.Convert(err))

	num, wt, n := protowire.ConsumeTag(b)
	if num != 1 || wt != protowire.VarintType {
		t.Fatalf("first field = (%d, %v), want (1, varint)", num, wt)
	}
	b = b[n:]
	code, n := protowire.ConsumeVarint(b)
	if rpcerr.Code(code) != rpcerr.NotFound {
		t.Fatalf("code = %v, want NotFound", rpcerr.Code(code))
	}
	b = b[n:]

	num, wt, n = protowire.ConsumeTag(b)
	if num != 2 || wt != protowire.BytesType {
		t.Fatalf("second field = (%d, %v), want (2, bytes)", num, wt)
	}
	b = b[n:]
	msg, n := protowire.ConsumeBytes(b)
	if string(msg) != "missing" {
		t.Fatalf("message = %q, want %q", msg, "missing")
	}
}

// TestBinaryIDLEncodeErrorCarriesViolations covers the repeated
// (field, description) tag-3 submessages InvalidArgument errors carry.
func TestBinaryIDLEncodeErrorCarriesViolations(t *testing.T) {
	c := codec.BinaryIDL{}
	err := rpcerr.B().Code(rpcerr.InvalidArgument).Msg("bad request").Field("name", "required").Err()
	b := c.EncodeError(rpcerr.Convert(err))

	var sawViolation bool
	for len(b) > 0 {
		num, wt, n := protowire.ConsumeTag(b)
		if n < 0 {
			t.Fatalf("ConsumeTag: malformed at offset %d", len(b))
		}
		b = b[n:]
		switch wt {
		case protowire.VarintType:
			_, n := protowire.ConsumeVarint(b)
			b = b[n:]
		case protowire.BytesType:
			v, n := protowire.ConsumeBytes(b)
			b = b[n:]
			if num == 3 {
				sawViolation = true
				if len(v) == 0 {
					t.Fatalf("violation submessage is empty")
				}
			}
		default:
			t.Fatalf("unexpected wire type %v", wt)
		}
	}
	if !sawViolation {
		t.Fatalf("no tag-3 violation submessage found")
	}
}
