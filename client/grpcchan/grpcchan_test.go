package grpcchan_test

import (
	"context"
	"net"
	"testing"

	"github.com/rs/zerolog"
	"google.golang.org/grpc"
	"google.golang.org/grpc/credentials/insecure"
	"google.golang.org/grpc/test/bufconn"

	"modapp.dev/rpc/client/grpcchan"
	"modapp.dev/rpc/codec"
	"modapp.dev/rpc/dispatch"
	"modapp.dev/rpc/model"
	"modapp.dev/rpc/router"
	"modapp.dev/rpc/rpcerr"
	"modapp.dev/rpc/transport/grpcx"
)

var echoSchema = &model.Schema{
	Path:   "test.Echo",
	Fields: []model.Field{{Name: "text", Tag: 1, Kind: model.KindString}},
}

func dial(t *testing.T, reg *router.Registry) *grpc.ClientConn {
	t.Helper()
	lis := bufconn.Listen(1024 * 1024)
	srv := grpcx.NewServer(grpcx.Config{Codec: codec.NewJSON()}, reg, dispatch.New(zerolog.Nop()), zerolog.Nop())
	go srv.Serve(lis)
	t.Cleanup(srv.GracefulStop)

	conn, err := grpc.DialContext(context.Background(), "passthrough:///bufnet",
		grpc.WithContextDialer(func(ctx context.Context, _ string) (net.Conn, error) { return lis.Dial() }),
		grpc.WithTransportCredentials(insecure.NewCredentials()),
		grpc.WithBlock(),
	)
	if err != nil {
		t.Fatalf("grpc.DialContext: %v", err)
	}
	t.Cleanup(func() { conn.Close() })
	return conn
}

func TestUnaryUnaryRoundTrip(t *testing.T) {
	reg := router.New(zerolog.Nop())
	reg.Register("/test.Svc/Echo", model.UU, echoSchema, echoSchema,
		func(ctx context.Context, req model.Value) (model.Value, error) {
			return req, nil
		}, nil, nil)

	ch := grpcchan.New(dial(t, reg), codec.NewJSON())
	defer ch.Close()

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
	ch := grpcchan.New(dial(t, reg), codec.NewJSON())
	defer ch.Close()

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

func TestUnaryStreamDeliversAllReplies(t *testing.T) {
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

	ch := grpcchan.New(dial(t, reg), codec.NewJSON())
	defer ch.Close()

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
	wantErr := rpcerr.B().Code(rpcerr.PermissionDenied).Msg("nope").Err()
	reg := router.New(zerolog.Nop())
	reg.Register("/test.Svc/Fail", model.US, echoSchema, echoSchema,
		func(ctx context.Context, req model.Value, reply chan<- model.Value) error {
			return wantErr
		}, nil, nil)

	ch := grpcchan.New(dial(t, reg), codec.NewJSON())
	defer ch.Close()

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
	if rpcerr.CodeOf(recvErr) != rpcerr.PermissionDenied {
		t.Fatalf("code = %v, want PermissionDenied", rpcerr.CodeOf(recvErr))
	}
}
