// Package codec implements the two wire codecs endpoints can be
// registered with: a canonical JSON codec and a hand-rolled
// tag-length-value Binary-IDL codec.
package codec

import (
	"modapp.dev/rpc/model"
	"modapp.dev/rpc/rpcerr"
)

// Codec converts between wire bytes and the in-memory data model for
// a fixed set of schemas, and renders errors to wire bytes. Codecs are
// stateless across calls except for the schema table given at
// construction.
type Codec interface {
	// Decode parses b against s. Malformed input is reported as an
	// *rpcerr.Error with Code == InvalidArgument.
	Decode(b []byte, s *model.Schema) (model.Value, error)
	// Encode renders v to wire bytes.
	Encode(v model.Value) ([]byte, error)
	// EncodeError renders err to wire bytes for transport emission.
	EncodeError(err *rpcerr.Error) []byte
	// ContentType is the MIME type this codec's bytes should be
	// labelled with on transports that have a notion of one.
	ContentType() string
}
