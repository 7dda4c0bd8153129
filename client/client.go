// Package client implements the caller side of every transport (spec
// §4.8): a Channel abstracts UU/US/SU/SS calls over whichever wire
// protocol client/grpcchan, client/httpchan, client/eventbuschan or
// client/loopbackchan speak. Building a Channel with an
// implementation's New never blocks on network I/O: httpchan and
// eventbuschan open their WebSocket on first use, grpcchan wraps a
// *grpc.ClientConn the caller already built, and loopbackchan calls
// in-process.
package client

import (
	"context"

	"modapp.dev/rpc/model"
)

// Channel calls endpoints over one transport, encoding and decoding
// with whatever codec that transport was configured with.
type Channel interface {
	// UnaryUnary invokes a UU endpoint and returns its single reply.
	UnaryUnary(ctx context.Context, path string, req model.Value, reply *model.Schema, meta map[string]any) (model.Value, error)
	// UnaryStream invokes a US endpoint, returning a Stream of reply
	// values.
	UnaryStream(ctx context.Context, path string, req model.Value, reply *model.Schema, meta map[string]any) (Stream, error)
	// StreamUnary invokes an SU endpoint, returning a ClientStream the
	// caller sends request values on before reading the single reply.
	StreamUnary(ctx context.Context, path string, reply *model.Schema, meta map[string]any) (ClientStream, error)
	// StreamStream invokes an SS endpoint, returning a BidiStream the
	// caller sends request values on and reads reply values from
	// independently.
	StreamStream(ctx context.Context, path string, reply *model.Schema, meta map[string]any) (BidiStream, error)
	// Close releases the channel's underlying connection.
	Close() error
}

// Stream is a server-to-client sequence of reply values.
type Stream interface {
	// Recv returns the next reply value, or io.EOF once the sequence
	// ends naturally.
	Recv() (model.Value, error)
	// End stops the stream from the client side. In httpchan,
	// eventbuschan and loopbackchan, later Recv calls report io.EOF;
	// httpchan also sends the stream's end frame, which cancels the
	// handler on the server, while eventbuschan and loopbackchan send
	// nothing to the server. grpcchan's End only closes the send
	// direction (CloseSend) and does not cancel the call.
	End() error
}

// ClientStream is a client-to-server sequence of request values ended
// by a single reply (SU).
type ClientStream interface {
	// Send submits one request value.
	Send(v model.Value) error
	// CloseAndRecv ends the request sequence and returns the
	// endpoint's single reply.
	CloseAndRecv() (model.Value, error)
}

// BidiStream is a full-duplex SS call: the caller sends request values
// and reads reply values independently of each other.
type BidiStream interface {
	Send(v model.Value) error
	Recv() (model.Value, error)
	// CloseSend ends the request sequence without waiting for the
	// reply sequence to end.
	CloseSend() error
}
