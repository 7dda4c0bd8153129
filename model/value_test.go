package model_test

import (
	"testing"

	"github.com/google/go-cmp/cmp"

	"modapp.dev/rpc/model"
)

func TestStrictValidation(t *testing.T) {
	schema := &model.Schema{
		Path: "test.Thing",
		Fields: []model.Field{
			{Name: "name", Tag: 1, Kind: model.KindString},
			{Name: "active", Tag: 2, Kind: model.KindBool},
		},
	}

	if _, err := model.NewStrict(schema, map[string]any{"name": "ok", "active": true}); err != nil {
		t.Fatalf("unexpected error: %v", err)
	}

	_, err := model.NewStrict(schema, map[string]any{"name": 5, "active": "nope"})
	if err == nil {
		t.Fatal("expected validation error")
	}
}

func TestCamelCaseScopedToSchemaFields(t *testing.T) {
	schema := &model.Schema{
		Path:      "test.Thing",
		CamelCase: true,
		Fields: []model.Field{
			{Name: "display_name", Tag: 1, Kind: model.KindString},
			{Name: "extra", Tag: 2, Kind: model.KindMessage},
		},
	}

	// "extra" holds a generic map whose own keys must NOT be
	// translated, even though the schema is in camelCase mode.
	v, err := model.NewStrict(schema, map[string]any{
		"displayName": "Ada",
		"extra":       map[string]any{"not_a_field": 1, "also_snake": 2},
	})
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}

	fields := v.Fields()
	if fields["displayName"] != "Ada" {
		t.Errorf("displayName = %v", fields["displayName"])
	}
	extra, ok := fields["extra"].(map[string]any)
	if !ok {
		t.Fatalf("extra is %T, want map[string]any", fields["extra"])
	}
	want := map[string]any{"not_a_field": 1, "also_snake": 2}
	if diff := cmp.Diff(want, extra); diff != "" {
		t.Errorf("extra mismatch (-want +got):\n%s", diff)
	}
}

func TestLeanPassesThroughWithoutValidation(t *testing.T) {
	schema := &model.Schema{
		Path:   "test.Thing",
		Fields: []model.Field{{Name: "n", Tag: 1, Kind: model.KindInt32}},
	}
	v := model.NewLean(schema, map[string]any{"n": int32(42)})
	if v.Fields()["n"] != int32(42) {
		t.Errorf("Fields()[n] = %v", v.Fields()["n"])
	}
}
