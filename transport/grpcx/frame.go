package grpcx

import (
	"fmt"

	"google.golang.org/grpc/encoding"
)

// Frame carries one already-framed message as raw bytes through
// grpc-go's message pipeline, bypassing protobuf marshaling entirely:
// this transport has no .proto file, so every RPC's body is whatever
// the Binary-IDL codec already produced. Exported so client/grpcchan
// can construct the same wire shape from the caller's side without
// duplicating RawCodec.
//
// Grounded on the raw-bytes proxying codec vendored into
// intel-oim/vendor/github.com/vgough/grpc-proxy (see its
// oim-registry.go callers registering it via grpc.CustomCodec /
// grpc.WithCodec so grpc-go never tries to protobuf-unmarshal a
// message it doesn't have a descriptor for); this module registers
// the equivalent through the current, non-deprecated
// encoding.RegisterCodec API instead of the deprecated CustomCodec.
type Frame struct {
	Payload []byte
}

func (f *Frame) Reset()         { f.Payload = nil }
func (f *Frame) String() string { return fmt.Sprintf("grpcx.Frame(%d bytes)", len(f.Payload)) }

// RawCodec registers itself under the name "proto" so it replaces
// grpc-go's default codec for every RPC that doesn't negotiate a
// different content-subtype (i.e. every client dialing this server
// normally, and every client/grpcchan call, which doesn't set one
// either). Any in-process message that isn't a *Frame is a programmer
// error, not a wire error, so it reports that plainly rather than
// pretending to marshal it.
type RawCodec struct{}

func (RawCodec) Name() string { return "proto" }

func (RawCodec) Marshal(v any) ([]byte, error) {
	f, ok := v.(*Frame)
	if !ok {
		return nil, fmt.Errorf("grpcx: RawCodec cannot marshal %T, only *Frame", v)
	}
	return f.Payload, nil
}

func (RawCodec) Unmarshal(data []byte, v any) error {
	f, ok := v.(*Frame)
	if !ok {
		return fmt.Errorf("grpcx: RawCodec cannot unmarshal into %T, only *Frame", v)
	}
	f.Payload = append([]byte(nil), data...)
	return nil
}

// init registers RawCodec process-wide, the same way encoding/gzip's
// compressor registers itself on import. A process that links this
// package and also needs normal protobuf-codegen gRPC services on the
// same grpc.Server would conflict; this module never does both.
func init() {
	encoding.RegisterCodec(RawCodec{})
}
