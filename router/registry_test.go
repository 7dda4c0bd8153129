package router_test

import (
	"context"
	"testing"

	"github.com/rs/zerolog"

	"modapp.dev/rpc/deps"
	"modapp.dev/rpc/model"
	"modapp.dev/rpc/router"
)

var echoSchema = &model.Schema{
	Path:   "test.Echo",
	Fields: []model.Field{{Name: "text", Tag: 1, Kind: model.KindString}},
}

func echoHandler(ctx context.Context, req model.Value) (model.Value, error) {
	return req, nil
}

func TestRegisterAndRoute(t *testing.T) {
	r := router.New(zerolog.Nop())
	r.Register("/test.Svc/Echo", model.UU, echoSchema, echoSchema, echoHandler, nil, nil)

	ep, ok := r.Route("/test.Svc/Echo")
	if !ok {
		t.Fatal("expected route to be found")
	}
	if ep.Cardinality != model.UU {
		t.Errorf("Cardinality = %v, want UU", ep.Cardinality)
	}

	if _, ok := r.Route("/test.Svc/Missing"); ok {
		t.Fatal("expected missing route to report not-found")
	}
}

func TestRegisterPanicsOnShapeMismatch(t *testing.T) {
	defer func() {
		if recover() == nil {
			t.Fatal("expected panic for a US handler with a unary-only signature")
		}
	}()
	r := router.New(zerolog.Nop())
	r.Register("/test.Svc/Bad", model.US, echoSchema, echoSchema, echoHandler, nil, nil)
}

func TestMountParentShadowsChild(t *testing.T) {
	parent := router.New(zerolog.Nop())
	child := router.New(zerolog.Nop())

	child.Register("/test.Svc/Echo", model.UU, echoSchema, echoSchema, echoHandler, nil, nil)
	parent.Mount("/child", child)

	ep, ok := parent.Route("/test.Svc/Echo")
	if !ok {
		t.Fatal("expected parent to resolve a route registered on its mounted child")
	}
	if ep.Request != echoSchema {
		t.Error("unexpected request schema resolved through mount")
	}

	// Registering the same path directly on the parent takes precedence.
	override := func(ctx context.Context, req model.Value) (model.Value, error) { return req, nil }
	parent.Register("/test.Svc/Echo", model.UU, echoSchema, echoSchema, override, nil, nil)
	ep2, _ := parent.Route("/test.Svc/Echo")
	if ep2 == ep {
		t.Error("expected parent's own registration to shadow the mounted child's")
	}
}

func TestOverrideRewritesMatchingBinding(t *testing.T) {
	r := router.New(zerolog.Nop())

	oldProvider := deps.Provider(func(ctx context.Context) (any, func(), error) { return "old", nil, nil })
	newProvider := deps.Provider(func(ctx context.Context) (any, func(), error) { return "new", nil, nil })

	handlerWithDep := func(ctx context.Context, req model.Value, dbArg string) (model.Value, error) {
		return req, nil
	}
	r.Register("/test.Svc/WithDep", model.UU, echoSchema, echoSchema, handlerWithDep, nil,
		[]model.DepBinding{{Name: "db", Provider: oldProvider}})

	r.Override(oldProvider, newProvider)

	ep, _ := r.Route("/test.Svc/WithDep")
	got, ok := ep.Deps[0].Provider.(deps.Provider)
	if !ok {
		t.Fatalf("Deps[0].Provider is %T, want deps.Provider", ep.Deps[0].Provider)
	}
	v, _, _ := got(context.Background())
	if v != "new" {
		t.Errorf("overridden provider returned %v, want \"new\"", v)
	}
}
