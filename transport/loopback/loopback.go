// Package loopback wires a router.Registry and a dispatch.Engine
// together directly, in-process: no socket, no framing, no metadata.
// It exists for two reasons: it is the
// transport the client's loopback channel drives when a caller wants
// to invoke a locally-registered endpoint without leaving the process,
// and it is the simplest harness for exercising the registry and the
// dispatch engine together in tests.
package loopback

import (
	"context"

	"modapp.dev/rpc/codec"
	"modapp.dev/rpc/dispatch"
	"modapp.dev/rpc/router"
	"modapp.dev/rpc/rpcerr"
)

// Channel calls endpoints registered on a Registry through an Engine,
// encoding and decoding request/reply bytes with a single Codec. A
// zero Channel is not usable; build one with New.
type Channel struct {
	registry *router.Registry
	engine   *dispatch.Engine
	codec    codec.Codec
}

// New builds a Channel serving reg through eng, using c to translate
// between wire bytes and the in-memory data model.
func New(reg *router.Registry, eng *dispatch.Engine, c codec.Codec) *Channel {
	return &Channel{registry: reg, engine: eng, codec: c}
}

// Call invokes the unary-reply endpoint at path (UU or SU) with the
// encoded request body b and returns the encoded reply. Calling Call
// against a streamed-reply endpoint (US/SS) is a programmer error and
// returns an InvalidArgument error rather than silently dropping
// values.
func (c *Channel) Call(ctx context.Context, path string, b []byte) ([]byte, error) {
	ep, ok := c.registry.Route(path)
	if !ok {
		return nil, notFound(path)
	}
	if ep.Cardinality.ReplyStreamed() {
		return nil, rpcerr.B().Code(rpcerr.InvalidArgument).Msgf("endpoint %q has a streamed reply; use CallStream", path).Err()
	}

	in := newSingleReader(b, ep, c.codec)
	out := &unaryWriter{codec: c.codec}

	if err := c.engine.Handle(ctx, ep, nil, in, out); err != nil {
		return nil, err
	}
	if out.err != nil {
		return nil, out.err
	}
	return out.body, nil
}

// CallStream invokes the streamed-reply endpoint at path (US or SS)
// with the encoded request body b, returning a channel of encoded
// reply frames. The channel is closed once the handler completes; a
// handler error is delivered as one final encoded error frame before
// the channel closes, mirroring how a real transport would frame it.
func (c *Channel) CallStream(ctx context.Context, path string, b []byte) (<-chan []byte, error) {
	ep, ok := c.registry.Route(path)
	if !ok {
		return nil, rpcerr.B().Code(rpcerr.NotFound).Msgf("no endpoint registered at %q", path).Err()
	}
	if !ep.Cardinality.ReplyStreamed() {
		return nil, rpcerr.B().Code(rpcerr.InvalidArgument).Msgf("endpoint %q has a unary reply; use Call", path).Err()
	}

	in := newSingleReader(b, ep, c.codec)
	frames := make(chan []byte)
	out := &streamWriter{codec: c.codec, frames: frames}

	go func() {
		defer close(frames)
		_ = c.engine.Handle(ctx, ep, nil, in, out)
	}()

	return frames, nil
}

func notFound(path string) *rpcerr.Error {
	return rpcerr.B().Code(rpcerr.NotFound).Msgf("no endpoint registered at %q", path).Err()
}
