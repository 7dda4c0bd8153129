package dispatch_test

import (
	"context"
	"errors"
	"reflect"
	"testing"

	"github.com/rs/zerolog"

	"modapp.dev/rpc/deps"
	"modapp.dev/rpc/dispatch"
	"modapp.dev/rpc/model"
	"modapp.dev/rpc/rpcerr"
)

func handlerValue(fn any) reflect.Value { return reflect.ValueOf(fn) }

var echoSchema = &model.Schema{
	Path:   "test.Echo",
	Fields: []model.Field{{Name: "text", Tag: 1, Kind: model.KindString}},
}

func echoValue(t *testing.T, text string) model.Value {
	t.Helper()
	v, err := model.NewStrict(echoSchema, map[string]any{"text": text})
	if err != nil {
		t.Fatalf("NewStrict: %v", err)
	}
	return v
}

// unaryReader replays a fixed sequence of values then ends.
type unaryReader struct {
	values []model.Value
	i      int
}

func (r *unaryReader) Recv(ctx context.Context) (model.Value, bool, error) {
	if r.i >= len(r.values) {
		return nil, false, nil
	}
	v := r.values[r.i]
	r.i++
	return v, true, nil
}

// recordingWriter captures every value sent and the final close error.
type recordingWriter struct {
	sent   []model.Value
	closed bool
	err    error
}

func (w *recordingWriter) Send(ctx context.Context, v model.Value) error {
	w.sent = append(w.sent, v)
	return nil
}

func (w *recordingWriter) Close(ctx context.Context, err error) error {
	w.closed = true
	w.err = err
	return nil
}

func TestHandleUnaryUnary(t *testing.T) {
	handler := func(ctx context.Context, req model.Value) (model.Value, error) {
		return req, nil
	}
	ep := &model.Endpoint{
		Path:        "/test.Svc/Echo",
		Cardinality: model.UU,
		Request:     echoSchema,
		Reply:       echoSchema,
		Handler:     handlerValue(handler),
	}

	eng := dispatch.New(zerolog.Nop())
	in := &unaryReader{values: []model.Value{echoValue(t, "hi")}}
	out := &recordingWriter{}

	if err := eng.Handle(context.Background(), ep, nil, in, out); err != nil {
		t.Fatalf("Handle: %v", err)
	}
	if !out.closed || out.err != nil {
		t.Fatalf("closed=%v err=%v", out.closed, out.err)
	}
	if len(out.sent) != 1 || out.sent[0].Fields()["text"] != "hi" {
		t.Fatalf("sent = %#v", out.sent)
	}
}

func TestHandleUnaryStream(t *testing.T) {
	handler := func(ctx context.Context, req model.Value, reply chan<- model.Value) error {
		n := 3
		text, _ := req.Fields()["text"].(string)
		for i := 0; i < n; i++ {
			reply <- echoValue(t, text)
		}
		return nil
	}
	ep := &model.Endpoint{
		Path:        "/test.Svc/Repeat",
		Cardinality: model.US,
		Request:     echoSchema,
		Reply:       echoSchema,
		Handler:     handlerValue(handler),
	}

	eng := dispatch.New(zerolog.Nop())
	in := &unaryReader{values: []model.Value{echoValue(t, "x")}}
	out := &recordingWriter{}

	if err := eng.Handle(context.Background(), ep, nil, in, out); err != nil {
		t.Fatalf("Handle: %v", err)
	}
	if len(out.sent) != 3 {
		t.Fatalf("sent %d values, want 3", len(out.sent))
	}
	if !out.closed || out.err != nil {
		t.Fatalf("closed=%v err=%v", out.closed, out.err)
	}
}

func TestHandleDecodeFailureNeverOpensScope(t *testing.T) {
	acquired := false
	provider := deps.Provider(func(ctx context.Context) (any, func(), error) {
		acquired = true
		return nil, nil, nil
	})
	handler := func(ctx context.Context, req model.Value, db any) (model.Value, error) {
		return req, nil
	}
	ep := &model.Endpoint{
		Path:        "/test.Svc/Echo",
		Cardinality: model.UU,
		Request:     echoSchema,
		Reply:       echoSchema,
		Handler:     handlerValue(handler),
		Deps:        []model.DepBinding{{Name: "db", Provider: provider}},
	}

	eng := dispatch.New(zerolog.Nop())
	in := &unaryReader{} // no values: Recv immediately reports the stream ended
	out := &recordingWriter{}

	if err := eng.Handle(context.Background(), ep, nil, in, out); err != nil {
		t.Fatalf("Handle: %v", err)
	}
	if acquired {
		t.Error("dependency provider was invoked despite the request body being missing")
	}
	if rpcerr.CodeOf(out.err) != rpcerr.InvalidArgument {
		t.Fatalf("CodeOf(out.err) = %v, want InvalidArgument", rpcerr.CodeOf(out.err))
	}
}

func TestHandleDepsTornDownInReverseOrder(t *testing.T) {
	var order []string
	mkProvider := func(name string) deps.Provider {
		return func(ctx context.Context) (any, func(), error) {
			return name, func() { order = append(order, name) }, nil
		}
	}
	handler := func(ctx context.Context, req model.Value, a, b any) (model.Value, error) {
		return req, nil
	}
	ep := &model.Endpoint{
		Path:        "/test.Svc/Echo",
		Cardinality: model.UU,
		Request:     echoSchema,
		Reply:       echoSchema,
		Handler:     handlerValue(handler),
		Deps: []model.DepBinding{
			{Name: "a", Provider: mkProvider("a")},
			{Name: "b", Provider: mkProvider("b")},
		},
	}

	eng := dispatch.New(zerolog.Nop())
	in := &unaryReader{values: []model.Value{echoValue(t, "hi")}}
	out := &recordingWriter{}

	if err := eng.Handle(context.Background(), ep, nil, in, out); err != nil {
		t.Fatalf("Handle: %v", err)
	}
	if len(order) != 2 || order[0] != "b" || order[1] != "a" {
		t.Fatalf("teardown order = %v, want [b a]", order)
	}
}

func TestHandleRecoversPanic(t *testing.T) {
	handler := func(ctx context.Context, req model.Value) (model.Value, error) {
		panic("boom")
	}
	ep := &model.Endpoint{
		Path:        "/test.Svc/Echo",
		Cardinality: model.UU,
		Request:     echoSchema,
		Reply:       echoSchema,
		Handler:     handlerValue(handler),
	}

	eng := dispatch.New(zerolog.Nop())
	in := &unaryReader{values: []model.Value{echoValue(t, "hi")}}
	out := &recordingWriter{}

	if err := eng.Handle(context.Background(), ep, nil, in, out); err != nil {
		t.Fatalf("Handle: %v", err)
	}
	if rpcerr.CodeOf(out.err) != rpcerr.Internal {
		t.Fatalf("CodeOf(out.err) = %v, want Internal", rpcerr.CodeOf(out.err))
	}
}

func TestHandleMissingMetaIsInvalidArgument(t *testing.T) {
	handler := func(ctx context.Context, req model.Value, userID string) (model.Value, error) {
		return req, nil
	}
	ep := &model.Endpoint{
		Path:        "/test.Svc/Echo",
		Cardinality: model.UU,
		Request:     echoSchema,
		Reply:       echoSchema,
		Handler:     handlerValue(handler),
		Meta:        []string{"user_id"},
	}

	eng := dispatch.New(zerolog.Nop())
	in := &unaryReader{values: []model.Value{echoValue(t, "hi")}}
	out := &recordingWriter{}

	if err := eng.Handle(context.Background(), ep, map[string]any{}, in, out); err != nil {
		t.Fatalf("Handle: %v", err)
	}
	if rpcerr.CodeOf(out.err) != rpcerr.InvalidArgument {
		t.Fatalf("CodeOf(out.err) = %v, want InvalidArgument", rpcerr.CodeOf(out.err))
	}
}

func TestHandleHandlerErrorClosesWithoutSend(t *testing.T) {
	wantErr := rpcerr.B().Code(rpcerr.NotFound).Msg("no such thing").Err()
	handler := func(ctx context.Context, req model.Value) (model.Value, error) {
		return nil, wantErr
	}
	ep := &model.Endpoint{
		Path:        "/test.Svc/Echo",
		Cardinality: model.UU,
		Request:     echoSchema,
		Reply:       echoSchema,
		Handler:     handlerValue(handler),
	}

	eng := dispatch.New(zerolog.Nop())
	in := &unaryReader{values: []model.Value{echoValue(t, "hi")}}
	out := &recordingWriter{}

	if err := eng.Handle(context.Background(), ep, nil, in, out); err != nil {
		t.Fatalf("Handle: %v", err)
	}
	if len(out.sent) != 0 {
		t.Fatalf("expected no values sent on handler error, got %d", len(out.sent))
	}
	if !errors.Is(out.err, wantErr) && out.err != wantErr {
		t.Fatalf("out.err = %v, want %v", out.err, wantErr)
	}
}
