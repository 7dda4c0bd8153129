package httpws

import (
	"context"

	"modapp.dev/rpc/codec"
	"modapp.dev/rpc/model"
	"modapp.dev/rpc/rpcerr"
)

// singleReader decodes one HTTP request body and then reports end of
// stream, the same shape transport/loopback uses: this transport
// carries exactly one request frame per call (no client-streaming
// request side over plain HTTP/WebSocket; that's left to the gRPC
// transport).
type singleReader struct {
	body  []byte
	ep    *model.Endpoint
	codec codec.Codec
	done  bool
}

func newSingleReader(body []byte, ep *model.Endpoint, c codec.Codec) *singleReader {
	return &singleReader{body: body, ep: ep, codec: c}
}

func (r *singleReader) Recv(ctx context.Context) (model.Value, bool, error) {
	if r.done {
		return nil, false, nil
	}
	r.done = true
	v, err := r.codec.Decode(r.body, r.ep.Request)
	if err != nil {
		return nil, false, err
	}
	return v, true, nil
}

// unaryWriter captures a UU/SU reply, encoded eagerly, so the POST
// handler can write it straight to the HTTP response.
type unaryWriter struct {
	codec codec.Codec
	body  []byte
	err   error
}

func (w *unaryWriter) Send(ctx context.Context, v model.Value) error {
	b, err := w.codec.Encode(v)
	if err != nil {
		return err
	}
	w.body = b
	return nil
}

func (w *unaryWriter) Close(ctx context.Context, err error) error {
	w.err = err
	return nil
}

// streamingWriter pushes each US/SS reply value as a frame over the
// WebSocket connection the call's Connection-Id header named, keyed
// by the stream ID the starting POST returned via Stream-Id.
type streamingWriter struct {
	codec    codec.Codec
	conn     *connection
	streamID string
}

func (w *streamingWriter) Send(ctx context.Context, v model.Value) error {
	b, err := w.codec.Encode(v)
	if err != nil {
		return err
	}
	return w.conn.push(w.streamID, b)
}

// Close writes the terminal frame, folding the encoded error into it
// when the handler ended with one.
func (w *streamingWriter) Close(ctx context.Context, err error) error {
	if err != nil {
		return w.conn.end(w.streamID, w.codec.EncodeError(rpcerr.Convert(err)))
	}
	return w.conn.end(w.streamID, nil)
}
