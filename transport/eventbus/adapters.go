package eventbus

import (
	"context"

	"modapp.dev/rpc/codec"
	"modapp.dev/rpc/model"
	"modapp.dev/rpc/rpcerr"
)

// singleReader decodes the one payload a grpc_request_v2 call carries;
// the same shape every other transport's request side uses, since a
// call here always arrives as exactly one frame already in hand.
type singleReader struct {
	body  []byte
	ep    *model.Endpoint
	codec codec.Codec
	done  bool
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

// unaryWriter captures a UU handler's single reply, encoded eagerly so
// it can be folded straight into the call's ack frame. Close stores
// the handler's outcome in err rather than returning it, the same
// convention transport/loopback and transport/httpws's unaryWriter
// use, so the caller inspects w.err after Handle returns instead of
// Handle's own return value.
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

// streamWriter pushes each US reply value as a "<path>_<streamId>_reply"
// event on conn, folding an encoded error into the terminal end:true
// frame when the handler failed, with an explicit end marker rather
// than relying on the client to infer completion from silence.
type streamWriter struct {
	conn     *conn
	codec    codec.Codec
	path     string
	streamID string
}

func (w *streamWriter) Send(ctx context.Context, v model.Value) error {
	b, err := w.codec.Encode(v)
	if err != nil {
		return err
	}
	return w.conn.emit(replyEvent(w.path, w.streamID), b, false)
}

func (w *streamWriter) Close(ctx context.Context, err error) error {
	event := replyEvent(w.path, w.streamID)
	if err != nil {
		return w.conn.emit(event, w.codec.EncodeError(rpcerr.Convert(err)), true)
	}
	return w.conn.emit(event, nil, true)
}
