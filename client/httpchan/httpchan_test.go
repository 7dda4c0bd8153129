package httpchan_test

import (
	"context"
	"net/http/httptest"
	"strings"
	"testing"

	"github.com/rs/zerolog"

	"modapp.dev/rpc/client/httpchan"
	"modapp.dev/rpc/codec"
	"modapp.dev/rpc/dispatch"
	"modapp.dev/rpc/model"
	"modapp.dev/rpc/router"
	"modapp.dev/rpc/rpcerr"
	"modapp.dev/rpc/transport/httpws"
)

var echoSchema = &model.Schema{
	Path:   "test.Echo",
	Fields: []model.Field{{Name: "text", Tag: 1, Kind: model.KindString}},
}

func newTestServer(t *testing.T, reg *router.Registry) *httptest.Server {
	t.Helper()
	srv := httpws.NewServer(httpws.Config{Codec: codec.NewJSON()}, reg, dispatch.New(zerolog.Nop()), zerolog.Nop())
	ts := httptest.NewServer(srv)
	t.Cleanup(ts.Close)
	return ts
}

func dialChan(t *testing.T, ts *httptest.Server) *httpchan.Chan {
	t.Helper()
	wsURL := "ws" + strings.TrimPrefix(ts.URL, "http") + "/ws"
	ch := httpchan.New(ts.URL, wsURL, codec.NewJSON())
	t.Cleanup(func() { ch.Close() })
	return ch
}

func TestUnaryUnaryRoundTrip(t *testing.T) {
	reg := router.New(zerolog.Nop())
	reg.Register("/test.Svc/Echo", model.UU, echoSchema, echoSchema,
		func(ctx context.Context, req model.Value) (model.Value, error) {
			return req, nil
		}, nil, nil)

	ts := newTestServer(t, reg)
	ch := dialChan(t, ts)

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

func TestUnaryUnaryNotFoundMapsCode(t *testing.T) {
	reg := router.New(zerolog.Nop())
	ts := newTestServer(t, reg)
	ch := dialChan(t, ts)

	req, err := model.NewStrict(echoSchema, map[string]any{"text": "hi"})
	if err != nil {
		t.Fatalf("NewStrict: %v", err)
	}
	_, err = ch.UnaryUnary(context.Background(), "/test.Svc/Missing", req, echoSchema, nil)
	if err == nil {
		t.Fatalf("UnaryUnary: want error for unregistered path")
	}
	if rpcerr.CodeOf(err) != rpcerr.NotFound {
		t.Fatalf("code = %v, want NotFound", rpcerr.CodeOf(err))
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

	ts := newTestServer(t, reg)
	ch := dialChan(t, ts)

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

func TestUnaryStreamPropagatesHandlerError(t *testing.T) {
	wantErr := rpcerr.B().Code(rpcerr.NotFound).Msg("missing").Err()
	reg := router.New(zerolog.Nop())
	reg.Register("/test.Svc/Fail", model.US, echoSchema, echoSchema,
		func(ctx context.Context, req model.Value, reply chan<- model.Value) error {
			return wantErr
		}, nil, nil)

	ts := newTestServer(t, reg)
	ch := dialChan(t, ts)

	req, err := model.NewStrict(echoSchema, map[string]any{"text": "x"})
	if err != nil {
		t.Fatalf("NewStrict: %v", err)
	}
	stream, err := ch.UnaryStream(context.Background(), "/test.Svc/Fail", req, echoSchema, nil)
	if err != nil {
		t.Fatalf("UnaryStream: %v", err)
	}
	// The folded error frame carries no out-of-band status the way an
	// HTTP response code does for a unary call, so only the message
	// survives the round trip; see decodeEncodedError.
	_, recvErr := stream.Recv()
	if recvErr == nil {
		t.Fatalf("Recv: want error")
	}
	if rpcerr.Convert(recvErr).Message != "missing" {
		t.Fatalf("message = %q, want %q", rpcerr.Convert(recvErr).Message, "missing")
	}
}
