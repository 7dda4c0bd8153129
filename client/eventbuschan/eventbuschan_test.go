package eventbuschan_test

import (
	"context"
	"net/http/httptest"
	"strings"
	"testing"

	"github.com/rs/zerolog"

	"modapp.dev/rpc/client/eventbuschan"
	"modapp.dev/rpc/codec"
	"modapp.dev/rpc/dispatch"
	"modapp.dev/rpc/model"
	"modapp.dev/rpc/router"
	"modapp.dev/rpc/rpcerr"
	"modapp.dev/rpc/transport/eventbus"
)

var echoSchema = &model.Schema{
	Path:   "test.Echo",
	Fields: []model.Field{{Name: "text", Tag: 1, Kind: model.KindString}},
}

func dial(t *testing.T, reg *router.Registry) *eventbuschan.Chan {
	t.Helper()
	s := eventbus.NewServer(eventbus.Config{Codec: codec.NewJSON()}, reg, dispatch.New(zerolog.Nop()), zerolog.Nop())
	ts := httptest.NewServer(s)
	t.Cleanup(ts.Close)

	url := "ws" + strings.TrimPrefix(ts.URL, "http")
	ch := eventbuschan.New(url, codec.NewJSON())
	t.Cleanup(func() { ch.Close() })
	return ch
}

func TestUnaryUnaryRoundTrip(t *testing.T) {
	reg := router.New(zerolog.Nop())
	reg.Register("/test.Svc/Echo", model.UU, echoSchema, echoSchema,
		func(ctx context.Context, req model.Value) (model.Value, error) {
			return req, nil
		}, nil, nil)

	ch := dial(t, reg)
	req, err := model.NewStrict(echoSchema, map[string]any{"text": "hi"})
	if err != nil {
		t.Fatalf("NewStrict: %v", err)
	}
	out, err := ch.UnaryUnary(context.Background(), "/test.Svc/Echo", req, echoSchema, nil)
	if err != nil {
		t.Fatalf("UnaryUnary: %v", err)
	}
	if got := out.Fields()["text"]; got != "hi" {
		t.Fatalf("text = %v, want hi", got)
	}
}

func TestUnaryUnaryUnknownMethodReturnsError(t *testing.T) {
	reg := router.New(zerolog.Nop())
	ch := dial(t, reg)
	req, err := model.NewStrict(echoSchema, map[string]any{"text": "hi"})
	if err != nil {
		t.Fatalf("NewStrict: %v", err)
	}
	_, err = ch.UnaryUnary(context.Background(), "/test.Svc/Missing", req, echoSchema, nil)
	if err == nil {
		t.Fatalf("UnaryUnary: want error for unregistered path")
	}
}

func TestUnaryStreamDeliversAllRepliesThenEOF(t *testing.T) {
	reg := router.New(zerolog.Nop())
	reg.Register("/test.Svc/Repeat", model.US, echoSchema, echoSchema,
		func(ctx context.Context, req model.Value, reply chan<- model.Value) error {
			text, _ := req.Fields()["text"].(string)
			for i := 0; i < 3; i++ {
				v, err := model.NewStrict(echoSchema, map[string]any{"text": text})
				if err != nil {
					return err
				}
				reply <- v
			}
			return nil
		}, nil, nil)

	ch := dial(t, reg)
	req, err := model.NewStrict(echoSchema, map[string]any{"text": "x"})
	if err != nil {
		t.Fatalf("NewStrict: %v", err)
	}
	stream, err := ch.UnaryStream(context.Background(), "/test.Svc/Repeat", req, echoSchema, nil)
	if err != nil {
		t.Fatalf("UnaryStream: %v", err)
	}

	var got []string
	for {
		v, err := stream.Recv()
		if err != nil {
			break
		}
		got = append(got, v.Fields()["text"].(string))
	}
	if len(got) != 3 {
		t.Fatalf("got %d replies, want 3: %v", len(got), got)
	}
}

func TestUnaryStreamPropagatesHandlerErrorMessage(t *testing.T) {
	wantErr := rpcerr.B().Code(rpcerr.NotFound).Msg("missing").Err()
	reg := router.New(zerolog.Nop())
	reg.Register("/test.Svc/Fail", model.US, echoSchema, echoSchema,
		func(ctx context.Context, req model.Value, reply chan<- model.Value) error {
			return wantErr
		}, nil, nil)

	ch := dial(t, reg)
	req, err := model.NewStrict(echoSchema, map[string]any{"text": "x"})
	if err != nil {
		t.Fatalf("NewStrict: %v", err)
	}
	stream, err := ch.UnaryStream(context.Background(), "/test.Svc/Fail", req, echoSchema, nil)
	if err != nil {
		t.Fatalf("UnaryStream: %v", err)
	}
	_, recvErr := stream.Recv()
	if recvErr == nil {
		t.Fatalf("Recv: want error")
	}
	if rpcerr.Convert(recvErr).Message != "missing" {
		t.Fatalf("message = %q, want %q", rpcerr.Convert(recvErr).Message, "missing")
	}
}
