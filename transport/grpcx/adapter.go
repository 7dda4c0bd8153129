package grpcx

import (
	"context"
	"net"

	"modapp.dev/rpc/router"
	"modapp.dev/rpc/transport"
)

// Adapter wraps a Server to satisfy transport.Adapter. Start binds ln
// (or cfg.Addr if ln is nil) synchronously so a bind failure is
// reported to the caller, then runs the blocking Serve loop on a
// background goroutine. Stop runs GracefulStop.
type Adapter struct {
	srv   *Server
	ln    net.Listener
	state transport.LifecycleState
}

// NewAdapter builds an Adapter around srv. ln may be nil, in which
// case Start binds srv's configured Addr.
func NewAdapter(srv *Server, ln net.Listener) *Adapter {
	return &Adapter{srv: srv, ln: ln}
}

func (a *Adapter) Start(ctx context.Context, reg *router.Registry) error {
	if !a.state.MarkStarted() {
		return nil
	}
	if reg != nil && reg != a.srv.registry {
		a.srv.logger.Warn().Msg("grpcx: Start called with a different registry than the one the server was built with")
	}

	ln := a.ln
	if ln == nil {
		var err error
		ln, err = net.Listen("tcp", a.srv.cfg.Addr)
		if err != nil {
			return err
		}
	}
	go func() {
		if err := a.srv.Serve(ln); err != nil {
			a.srv.logger.Error().Err(err).Msg("grpcx: serve exited")
		}
	}()
	return nil
}

func (a *Adapter) Stop(ctx context.Context) error {
	everStarted, first := a.state.MarkStopped()
	if !everStarted {
		a.srv.logger.Warn().Msg("grpcx: Stop called before Start")
		return nil
	}
	if !first {
		return nil
	}
	a.srv.GracefulStop()
	return nil
}
