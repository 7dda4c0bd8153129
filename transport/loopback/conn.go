package loopback

import (
	"context"

	"modapp.dev/rpc/codec"
	"modapp.dev/rpc/model"
	"modapp.dev/rpc/rpcerr"
)

// singleReader decodes one request body and then reports end of
// stream. It serves every cardinality's request side here: the
// loopback transport carries exactly one request frame per call, so
// even an SU/SS handler sees a request channel of length one.
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

// unaryWriter captures a single reply value, encoded immediately, or
// the error the handler finished with.
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

// streamWriter pushes each reply value onto frames as an encoded
// frame, as soon as it is sent, and pushes one final encoded error
// frame if the handler ends with an error.
type streamWriter struct {
	codec  codec.Codec
	frames chan<- []byte
}

func (w *streamWriter) Send(ctx context.Context, v model.Value) error {
	b, err := w.codec.Encode(v)
	if err != nil {
		return err
	}
	select {
	case w.frames <- b:
		return nil
	case <-ctx.Done():
		return ctx.Err()
	}
}

func (w *streamWriter) Close(ctx context.Context, err error) error {
	if err == nil {
		return nil
	}
	b := w.codec.EncodeError(rpcerr.Convert(err))
	select {
	case w.frames <- b:
	case <-ctx.Done():
	}
	return nil
}
