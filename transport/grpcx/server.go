// Package grpcx implements the Binary-RPC transport: an HTTP/2 gRPC
// server whose single generic grpc.StreamHandler dispatches every
// method through dispatch.Engine, decoding with the Binary-IDL codec.
// There is no .proto file and no generated service
// stub; methods are routed by the endpoint path alone, the same way
// router.Registry already keys them.
package grpcx

import (
	"context"
	"net"

	"github.com/rs/zerolog"
	"google.golang.org/grpc"
	"google.golang.org/grpc/metadata"

	"modapp.dev/rpc/codec"
	"modapp.dev/rpc/dispatch"
	"modapp.dev/rpc/router"
)

// Config is this transport's typed configuration.
type Config struct {
	// Addr is the address Serve listens on if given a nil Listener.
	Addr string

	// Codec is the Binary-IDL codec every RPC body is decoded with.
	Codec codec.Codec

	// ErrorDetails attaches a google.rpc.Status with an
	// errdetails.BadRequest to InvalidArgument responses; when false,
	// field violations are joined into the status message instead.
	ErrorDetails bool
}

func (cfg Config) withDefaults() Config {
	if cfg.Addr == "" {
		cfg.Addr = ":9090"
	}
	return cfg
}

// Server serves registered endpoints over gRPC/HTTP2.
type Server struct {
	cfg      Config
	registry *router.Registry
	logger   zerolog.Logger

	grpc *grpc.Server
}

// NewServer builds a Server dispatching every call through a single
// shared eng. extraOpts are appended after this transport's own
// options (e.g. to install TLS credentials).
func NewServer(cfg Config, reg *router.Registry, eng *dispatch.Engine, logger zerolog.Logger, extraOpts ...grpc.ServerOption) *Server {
	cfg = cfg.withDefaults()
	s := &Server{cfg: cfg, registry: reg, logger: logger}

	handler := func(srv any, stream grpc.ServerStream) error {
		return s.routeStream(eng, srv, stream)
	}
	opts := append([]grpc.ServerOption{grpc.UnknownServiceHandler(handler)}, extraOpts...)
	s.grpc = grpc.NewServer(opts...)
	return s
}

// NewPooledServer builds a Server that runs each call through a fresh
// *dispatch.Engine drawn from pool instead of one engine shared by
// every call.
func NewPooledServer(cfg Config, reg *router.Registry, pool *WorkerPool, logger zerolog.Logger, extraOpts ...grpc.ServerOption) *Server {
	cfg = cfg.withDefaults()
	s := &Server{cfg: cfg, registry: reg, logger: logger}

	handler := pool.Wrap(s.routeStream)
	opts := append([]grpc.ServerOption{grpc.UnknownServiceHandler(handler)}, extraOpts...)
	s.grpc = grpc.NewServer(opts...)
	return s
}

// Serve accepts connections on ln (or cfg.Addr if ln is nil) and
// blocks until the server stops.
func (s *Server) Serve(ln net.Listener) error {
	if ln == nil {
		var err error
		ln, err = net.Listen("tcp", s.cfg.Addr)
		if err != nil {
			return err
		}
	}
	s.logger.Info().Str("addr", ln.Addr().String()).Msg("grpcx: listening")
	return s.grpc.Serve(ln)
}

// GracefulStop stops accepting new RPCs and waits for in-flight ones
// to finish.
func (s *Server) GracefulStop() { s.grpc.GracefulStop() }

// routeStream is the single generic routing step every method on this
// server runs through, whatever engine it ends up invoked with;
// installed via grpc.UnknownServiceHandler, so there is no per-method
// registration: an unregistered path gets a NotFound status from this
// function rather than a gRPC-level "unimplemented".
func (s *Server) routeStream(eng *dispatch.Engine, srv any, stream grpc.ServerStream) error {
	path, ok := grpc.MethodFromServerStream(stream)
	if !ok {
		return statusFromError(notFoundErr("unknown"), s.cfg.ErrorDetails)
	}
	ep, ok := s.registry.Route(path)
	if !ok {
		return statusFromError(notFoundErr(path), s.cfg.ErrorDetails)
	}

	meta := metaFromIncoming(stream.Context(), ep.Meta)
	in := &streamReader{stream: stream, ep: ep, codec: s.cfg.Codec}
	out := &streamWriter{stream: stream, codec: s.cfg.Codec, withDetails: s.cfg.ErrorDetails}

	return eng.Handle(stream.Context(), ep, meta, in, out)
}

func metaFromIncoming(ctx context.Context, names []string) map[string]any {
	md, ok := metadata.FromIncomingContext(ctx)
	if !ok {
		return nil
	}
	out := make(map[string]any, len(names))
	for _, name := range names {
		if vs := md.Get(name); len(vs) > 0 {
			out[name] = vs[0]
		}
	}
	return out
}
