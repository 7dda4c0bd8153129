// Package grpcchan implements client.Channel over a plain
// *grpc.ClientConn talking to transport/grpcx: no .proto stub, no
// generated client, just grpcx.RawCodec frames pushed through
// grpc.ClientConn.Invoke/NewStream with the call's path used directly
// as the gRPC method name, mirroring how the server side routes by
// grpc.MethodFromServerStream alone.
package grpcchan

import (
	"context"
	"io"

	"google.golang.org/genproto/googleapis/rpc/errdetails"
	"google.golang.org/grpc"
	"google.golang.org/grpc/status"

	"modapp.dev/rpc/client"
	"modapp.dev/rpc/codec"
	"modapp.dev/rpc/model"
	"modapp.dev/rpc/rpcerr"
	"modapp.dev/rpc/transport/grpcx"
)

// Chan is a client.Channel backed by a *grpc.ClientConn dialed against
// a transport/grpcx server.
type Chan struct {
	conn  *grpc.ClientConn
	codec codec.Codec
}

// New builds a Chan calling through conn, encoding/decoding with c.
func New(conn *grpc.ClientConn, c codec.Codec) *Chan {
	return &Chan{conn: conn, codec: c}
}

func (c *Chan) Close() error { return c.conn.Close() }

func (c *Chan) UnaryUnary(ctx context.Context, path string, req model.Value, reply *model.Schema, meta map[string]any) (model.Value, error) {
	b, err := c.codec.Encode(req)
	if err != nil {
		return nil, err
	}
	in := &grpcx.Frame{Payload: b}
	out := new(grpcx.Frame)
	if err := c.conn.Invoke(ctx, path, in, out); err != nil {
		return nil, errorFromStatus(err)
	}
	return c.codec.Decode(out.Payload, reply)
}

// UnaryStream opens a server-streaming call: a single request frame,
// then a Stream of reply frames. grpc-go delivers the handler's
// terminal error as this call's own status, the same out-of-band
// channel a UU call gets it through, so there is no frame-shape
// ambiguity to work around here the way httpws/eventbus/loopback have.
func (c *Chan) UnaryStream(ctx context.Context, path string, req model.Value, reply *model.Schema, meta map[string]any) (client.Stream, error) {
	s, err := c.conn.NewStream(ctx, &grpc.StreamDesc{ServerStreams: true}, path)
	if err != nil {
		return nil, errorFromStatus(err)
	}
	b, err := c.codec.Encode(req)
	if err != nil {
		return nil, err
	}
	if err := s.SendMsg(&grpcx.Frame{Payload: b}); err != nil {
		return nil, errorFromStatus(err)
	}
	if err := s.CloseSend(); err != nil {
		return nil, errorFromStatus(err)
	}
	return &stream{stream: s, reply: reply, codec: c.codec}, nil
}

func (c *Chan) StreamUnary(ctx context.Context, path string, reply *model.Schema, meta map[string]any) (client.ClientStream, error) {
	s, err := c.conn.NewStream(ctx, &grpc.StreamDesc{ClientStreams: true}, path)
	if err != nil {
		return nil, errorFromStatus(err)
	}
	return &clientStream{stream: s, reply: reply, codec: c.codec}, nil
}

func (c *Chan) StreamStream(ctx context.Context, path string, reply *model.Schema, meta map[string]any) (client.BidiStream, error) {
	s, err := c.conn.NewStream(ctx, &grpc.StreamDesc{ClientStreams: true, ServerStreams: true}, path)
	if err != nil {
		return nil, errorFromStatus(err)
	}
	return &bidiStream{stream: s, reply: reply, codec: c.codec}, nil
}

type stream struct {
	stream grpc.ClientStream
	reply  *model.Schema
	codec  codec.Codec
}

func (s *stream) Recv() (model.Value, error) {
	var f grpcx.Frame
	if err := s.stream.RecvMsg(&f); err != nil {
		if err == io.EOF {
			return nil, io.EOF
		}
		return nil, errorFromStatus(err)
	}
	return s.codec.Decode(f.Payload, s.reply)
}

func (s *stream) End() error {
	return s.stream.CloseSend()
}

type clientStream struct {
	stream grpc.ClientStream
	reply  *model.Schema
	codec  codec.Codec
}

func (s *clientStream) Send(v model.Value) error {
	b, err := s.codec.Encode(v)
	if err != nil {
		return err
	}
	return s.stream.SendMsg(&grpcx.Frame{Payload: b})
}

func (s *clientStream) CloseAndRecv() (model.Value, error) {
	if err := s.stream.CloseSend(); err != nil {
		return nil, errorFromStatus(err)
	}
	var f grpcx.Frame
	if err := s.stream.RecvMsg(&f); err != nil {
		return nil, errorFromStatus(err)
	}
	return s.codec.Decode(f.Payload, s.reply)
}

type bidiStream struct {
	stream grpc.ClientStream
	reply  *model.Schema
	codec  codec.Codec
}

func (s *bidiStream) Send(v model.Value) error {
	b, err := s.codec.Encode(v)
	if err != nil {
		return err
	}
	return s.stream.SendMsg(&grpcx.Frame{Payload: b})
}

func (s *bidiStream) Recv() (model.Value, error) {
	var f grpcx.Frame
	if err := s.stream.RecvMsg(&f); err != nil {
		if err == io.EOF {
			return nil, io.EOF
		}
		return nil, errorFromStatus(err)
	}
	return s.codec.Decode(f.Payload, s.reply)
}

func (s *bidiStream) CloseSend() error {
	return s.stream.CloseSend()
}

// codeMap is the reverse of grpcx's codeMap: gRPC status codes back
// onto this module's closed error taxonomy. codes.Unknown and any code
// with no explicit entry both land on rpcerr.Unknown.
var codeMap = map[uint32]rpcerr.Code{
	0:  rpcerr.OK,
	1:  rpcerr.Cancelled,
	2:  rpcerr.Unknown,
	3:  rpcerr.InvalidArgument,
	4:  rpcerr.DeadlineExceeded,
	5:  rpcerr.NotFound,
	7:  rpcerr.PermissionDenied,
	13: rpcerr.Internal,
	14: rpcerr.Unavailable,
	16: rpcerr.Unauthenticated,
}

// errorFromStatus converts a gRPC status-bearing error back into an
// *rpcerr.Error, the inverse of grpcx.statusFromError. Field
// violations travel as an errdetails.BadRequest detail only when the
// server was configured to attach them; their absence just means the
// message already carries them joined in, not that there were none.
func errorFromStatus(err error) error {
	if err == nil {
		return nil
	}
	st, ok := status.FromError(err)
	if !ok {
		return rpcerr.B().Code(rpcerr.Unknown).Msg(err.Error()).Cause(err).Err()
	}
	code, ok := codeMap[uint32(st.Code())]
	if !ok {
		code = rpcerr.Unknown
	}
	b := rpcerr.B().Code(code).Msg(st.Message())
	for _, d := range st.Details() {
		br, ok := d.(*errdetails.BadRequest)
		if !ok {
			continue
		}
		for _, fv := range br.GetFieldViolations() {
			b.Field(fv.GetField(), fv.GetDescription())
		}
	}
	return b.Err()
}
