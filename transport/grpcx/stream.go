package grpcx

import (
	"context"
	"io"

	"google.golang.org/grpc"

	"modapp.dev/rpc/codec"
	"modapp.dev/rpc/model"
)

// streamReader decodes each frame grpc-go hands it through stream's
// raw-bytes RawCodec as a request value against ep.Request.
type streamReader struct {
	stream grpc.ServerStream
	ep     *model.Endpoint
	codec  codec.Codec
}

func (r *streamReader) Recv(ctx context.Context) (model.Value, bool, error) {
	var f Frame
	if err := r.stream.RecvMsg(&f); err != nil {
		if err == io.EOF {
			return nil, false, nil
		}
		return nil, false, err
	}
	v, err := r.codec.Decode(f.Payload, r.ep.Request)
	if err != nil {
		return nil, false, err
	}
	return v, true, nil
}

// streamWriter encodes each reply value and pushes it as a raw frame.
// Close converts the dispatch engine's outcome into the gRPC status
// error routeStream returns, which is how grpc-go actually delivers
// a code+message to the client; there is no separate "send an error
// frame" step on this transport, unlike httpws/eventbus.
type streamWriter struct {
	stream      grpc.ServerStream
	codec       codec.Codec
	withDetails bool
}

func (w *streamWriter) Send(ctx context.Context, v model.Value) error {
	b, err := w.codec.Encode(v)
	if err != nil {
		return err
	}
	return w.stream.SendMsg(&Frame{Payload: b})
}

func (w *streamWriter) Close(ctx context.Context, err error) error {
	return statusFromError(err, w.withDetails)
}
