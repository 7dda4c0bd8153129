// Package httpws implements the HTTP/1.1 + WebSocket transport: a
// plain POST starts a UU or US call, and server-stream replies are
// multiplexed over a separately-opened WebSocket connection.
package httpws

import (
	"context"
	"net"
	"net/http"
	"strings"

	"github.com/julienschmidt/httprouter"
	"github.com/rs/zerolog"

	"modapp.dev/rpc/cors"
	"modapp.dev/rpc/dispatch"
	"modapp.dev/rpc/router"
)

// Server serves registered endpoints over HTTP/1.1 and WebSocket.
type Server struct {
	cfg      Config
	registry *router.Registry
	engine   *dispatch.Engine
	logger   zerolog.Logger

	mux     *httprouter.Router
	httpsrv *http.Server
	hub     *hub
}

// NewServer builds a Server dispatching through reg and eng per cfg.
// Routes are installed immediately for every endpoint already
// registered on reg; endpoints registered on reg afterward are not
// picked up (register everything before calling NewServer).
func NewServer(cfg Config, reg *router.Registry, eng *dispatch.Engine, logger zerolog.Logger) *Server {
	cfg = cfg.WithDefaults()

	mux := httprouter.New()
	mux.HandleOPTIONS = false
	mux.RedirectFixedPath = false
	mux.RedirectTrailingSlash = false

	s := &Server{
		cfg:      cfg,
		registry: reg,
		engine:   eng,
		logger:   logger,
		mux:      mux,
		hub:      newHub(logger),
	}

	mux.GET("/ws", s.handleWebSocket)
	s.httpsrv = &http.Server{Handler: cors.Wrap(cfg.CORS, mux)}

	for _, path := range reg.Paths() {
		s.RegisterRoute(path)
	}

	return s
}

// RegisterRoute installs the HTTP route for one registered endpoint's
// path, so the starting POST (and its CORS preflight) are reachable.
// Call once per endpoint after Register-ing it on the Registry.
func (s *Server) RegisterRoute(epPath string) {
	httpPath := httpPathFor(epPath)
	s.mux.POST(httpPath, s.handleCall(epPath))
	if s.cfg.CORS != nil {
		s.mux.OPTIONS(httpPath, func(w http.ResponseWriter, r *http.Request, _ httprouter.Params) {
			w.WriteHeader(http.StatusNoContent)
		})
	}
	s.logger.Info().Str("path", epPath).Str("http_path", httpPath).Msg("registered http route")
}

// ServeHTTP lets a Server be used directly as an http.Handler, e.g.
// under httptest.NewServer or a custom *http.Server.
func (s *Server) ServeHTTP(w http.ResponseWriter, r *http.Request) {
	s.httpsrv.Handler.ServeHTTP(w, r)
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
	s.logger.Info().Str("addr", ln.Addr().String()).Msg("httpws: listening")
	return s.httpsrv.Serve(ln)
}

// Shutdown gracefully stops the server, per ctx's deadline.
func (s *Server) Shutdown(ctx context.Context) error {
	return s.httpsrv.Shutdown(ctx)
}

// httpPathFor renders an endpoint path like "/pkg.Service/Method"
// into "/pkg/service/method" by lowercasing and turning dots to
// slashes.
func httpPathFor(epPath string) string {
	lower := strings.ToLower(epPath)
	return strings.ReplaceAll(lower, ".", "/")
}
