package httpws

import (
	"context"
	"io"
	"net/http"

	"github.com/google/uuid"
	"github.com/gorilla/websocket"
	"github.com/julienschmidt/httprouter"

	"modapp.dev/rpc/model"
	"modapp.dev/rpc/rpcerr"
)

// handleCall builds the POST handler for one registered endpoint,
// dispatching UU/SU synchronously and US/SS asynchronously over the
// connection named by the Connection-Id request header.
func (s *Server) handleCall(epPath string) httprouter.Handle {
	return func(w http.ResponseWriter, r *http.Request, _ httprouter.Params) {
		ep, ok := s.registry.Route(epPath)
		if !ok {
			s.writeError(w, rpcerr.B().Code(rpcerr.NotFound).Msgf("no endpoint registered at %q", epPath).Err())
			return
		}

		body, err := io.ReadAll(r.Body)
		if err != nil {
			s.writeError(w, rpcerr.B().Code(rpcerr.InvalidArgument).Msg("failed reading request body").Cause(err).Err())
			return
		}
		meta := metaFromHeaders(r)

		if !ep.Cardinality.ReplyStreamed() {
			s.callUnary(r.Context(), w, ep, body, meta)
			return
		}
		s.callStreamed(w, r, ep, body, meta)
	}
}

func (s *Server) callUnary(ctx context.Context, w http.ResponseWriter, ep *model.Endpoint, body []byte, meta map[string]any) {
	in := newSingleReader(body, ep, s.cfg.Codec)
	out := &unaryWriter{codec: s.cfg.Codec}

	if err := s.engine.Handle(ctx, ep, meta, in, out); err != nil {
		s.writeError(w, err)
		return
	}
	if out.err != nil {
		s.writeError(w, out.err)
		return
	}
	w.Header().Set("Content-Type", s.cfg.Codec.ContentType())
	w.WriteHeader(http.StatusCreated)
	_, _ = w.Write(out.body)
}

func (s *Server) callStreamed(w http.ResponseWriter, r *http.Request, ep *model.Endpoint, body []byte, meta map[string]any) {
	connID := r.Header.Get("Connection-Id")
	conn, ok := s.hub.get(connID)
	if !ok {
		s.writeError(w, rpcerr.B().Code(rpcerr.InvalidArgument).Msg("missing or unknown Connection-Id header").Err())
		return
	}

	streamID := uuid.NewString()
	cancel := conn.newStream(streamID)

	in := newSingleReader(body, ep, s.cfg.Codec)
	out := &streamingWriter{codec: s.cfg.Codec, conn: conn, streamID: streamID}

	ctx, cancelFn := context.WithCancel(context.Background())
	go func() {
		for env := range cancel {
			if env.End {
				cancelFn()
				return
			}
		}
	}()

	go func() {
		defer conn.endStream(streamID)
		defer cancelFn()
		_ = s.engine.Handle(ctx, ep, meta, in, out)
	}()

	w.Header().Set("Stream-Id", streamID)
	w.WriteHeader(http.StatusAccepted)
}

func (s *Server) writeError(w http.ResponseWriter, err error) {
	e := rpcerr.Convert(err)
	w.Header().Set("Content-Type", s.cfg.Codec.ContentType())
	w.WriteHeader(rpcerr.HTTPStatus(e))
	_, _ = w.Write(s.cfg.Codec.EncodeError(e))
}

func metaFromHeaders(r *http.Request) map[string]any {
	const prefix = "X-Meta-"
	meta := make(map[string]any)
	for name, values := range r.Header {
		if len(values) == 0 {
			continue
		}
		if len(name) > len(prefix) && name[:len(prefix)] == prefix {
			meta[name[len(prefix):]] = values[0]
		}
	}
	return meta
}

var upgrader = websocket.Upgrader{
	ReadBufferSize:  4096,
	WriteBufferSize: 4096,
	CheckOrigin:     func(r *http.Request) bool { return true },
}

// handleWebSocket upgrades GET /ws and registers the resulting socket
// on the hub, so a later POST carrying its Connection-Id can push
// streamed replies over it.
func (s *Server) handleWebSocket(w http.ResponseWriter, r *http.Request, _ httprouter.Params) {
	ws, err := upgrader.Upgrade(w, r, nil)
	if err != nil {
		s.logger.Error().Err(err).Msg("httpws: websocket upgrade failed")
		return
	}
	s.hub.register(ws)
}
