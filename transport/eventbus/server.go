// Package eventbus implements a Socket.IO-style transport: every call
// travels as a single "grpc_request_v2" event carrying (meta,
// payload), acked with an (error, payload) pair the way a Socket.IO
// ack callback would return one. Built directly on gorilla/websocket
// (already wired for transport/httpws) rather than a Socket.IO server
// library, which the "grpc_request_v2" event name and ack-tuple shape
// otherwise mimic faithfully.
package eventbus

import (
	"context"
	"encoding/json"
	"net"
	"net/http"

	"github.com/google/uuid"
	"github.com/gorilla/websocket"
	"github.com/rs/zerolog"

	"modapp.dev/rpc/dispatch"
	"modapp.dev/rpc/model"
	"modapp.dev/rpc/router"
	"modapp.dev/rpc/rpcerr"
)

var upgrader = websocket.Upgrader{
	CheckOrigin: func(r *http.Request) bool { return true },
}

// Server is an http.Handler accepting every client on one WebSocket
// endpoint, routing each grpc_request_v2 call by meta.methodName
// against registry the same way every other transport keys endpoints
// by path.
type Server struct {
	cfg      Config
	registry *router.Registry
	engine   *dispatch.Engine
	logger   zerolog.Logger

	httpsrv *http.Server
}

// NewServer builds a Server dispatching every call through eng.
func NewServer(cfg Config, reg *router.Registry, eng *dispatch.Engine, logger zerolog.Logger) *Server {
	s := &Server{cfg: cfg.withDefaults(), registry: reg, engine: eng, logger: logger}
	s.httpsrv = &http.Server{Handler: s}
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
	s.logger.Info().Str("addr", ln.Addr().String()).Msg("eventbus: listening")
	return s.httpsrv.Serve(ln)
}

// Shutdown gracefully stops the server, per ctx's deadline.
func (s *Server) Shutdown(ctx context.Context) error {
	return s.httpsrv.Shutdown(ctx)
}

func (s *Server) ServeHTTP(w http.ResponseWriter, r *http.Request) {
	ws, err := upgrader.Upgrade(w, r, nil)
	if err != nil {
		s.logger.Warn().Err(err).Msg("eventbus: upgrade failed")
		return
	}
	c := newConn(ws, s.logger)
	s.readLoop(c)
}

func (s *Server) readLoop(c *conn) {
	defer c.close()
	for {
		var env envelope
		if err := c.ws.ReadJSON(&env); err != nil {
			return
		}
		if env.Event != requestEvent {
			continue
		}
		go s.handleRequest(c, env)
	}
}

func (s *Server) handleRequest(c *conn, env envelope) {
	ctx := context.Background()

	var req requestEnvelope
	if err := json.Unmarshal(env.Data, &req); err != nil {
		malformed := rpcerr.B().Code(rpcerr.InvalidArgument).Msg("malformed request envelope").Err()
		_ = c.ack(env.AckID, ackEnvelope{Error: s.cfg.Codec.EncodeError(rpcerr.Convert(malformed))})
		return
	}

	methodName, _ := req.Meta["methodName"].(string)
	ep, ok := s.registry.Route(methodName)
	if !ok {
		_ = c.ack(env.AckID, ackEnvelope{Error: s.cfg.Codec.EncodeError(rpcerr.Convert(notFoundErr(methodName)))})
		return
	}

	meta := metaFromRequest(req.Meta, ep.Meta)

	if ep.Cardinality.ReplyStreamed() {
		s.handleStream(ctx, c, env.AckID, ep, req.Payload, meta)
		return
	}
	s.handleUnary(ctx, c, env.AckID, ep, req.Payload, meta)
}

func (s *Server) handleUnary(ctx context.Context, c *conn, ackID int64, ep *model.Endpoint, payload []byte, meta map[string]any) {
	in := &singleReader{body: payload, ep: ep, codec: s.cfg.Codec}
	out := &unaryWriter{codec: s.cfg.Codec}

	if err := s.engine.Handle(ctx, ep, meta, in, out); err != nil {
		_ = c.ack(ackID, ackEnvelope{Error: s.cfg.Codec.EncodeError(rpcerr.Convert(err))})
		return
	}
	if out.err != nil {
		_ = c.ack(ackID, ackEnvelope{Error: s.cfg.Codec.EncodeError(rpcerr.Convert(out.err))})
		return
	}
	_ = c.ack(ackID, ackEnvelope{Payload: out.body})
}

func (s *Server) handleStream(ctx context.Context, c *conn, ackID int64, ep *model.Endpoint, payload []byte, meta map[string]any) {
	streamID := uuid.NewString()
	if err := c.ack(ackID, ackEnvelope{StreamID: streamID}); err != nil {
		return
	}

	in := &singleReader{body: payload, ep: ep, codec: s.cfg.Codec}
	out := &streamWriter{conn: c, codec: s.cfg.Codec, path: ep.Path, streamID: streamID}
	_ = s.engine.Handle(ctx, ep, meta, in, out)
}

func metaFromRequest(reqMeta map[string]any, names []string) map[string]any {
	if len(names) == 0 {
		return nil
	}
	out := make(map[string]any, len(names))
	for _, name := range names {
		if v, ok := reqMeta[name]; ok {
			out[name] = v
		}
	}
	return out
}

func notFoundErr(path string) error {
	return rpcerr.B().Code(rpcerr.NotFound).Msgf("no endpoint registered at %q", path).Err()
}
