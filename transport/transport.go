// Package transport declares the lifecycle contract every transport
// sub-package (grpcx, httpws, eventbus) implements on top of its own
// Server type.
package transport

import (
	"context"
	"sync"

	"modapp.dev/rpc/router"
)

// Adapter is the common start/stop surface for a transport, wrapping
// whatever listener- or http.Server-based mechanics the transport
// itself uses. Start and Stop are both idempotent: a Start after the
// first is a no-op, and a Stop before any Start logs a warning and
// returns nil rather than erroring.
type Adapter interface {
	Start(ctx context.Context, reg *router.Registry) error
	Stop(ctx context.Context) error
}

// LifecycleState tracks the idempotent Start/Stop transitions every
// Adapter implementation shares, so each transport package only has to
// embed one and call MarkStarted/MarkStopped instead of reimplementing
// the same state machine three times.
type LifecycleState struct {
	mu      sync.Mutex
	started bool
	stopped bool
}

// MarkStarted reports whether this is the first call to it. Later
// calls return false without changing any state, so a caller can
// treat them as a no-op Start.
func (l *LifecycleState) MarkStarted() (first bool) {
	l.mu.Lock()
	defer l.mu.Unlock()
	if l.started {
		return false
	}
	l.started = true
	return true
}

// MarkStopped reports whether Start was ever called (everStarted) and
// whether this is the first call to MarkStopped (first). A caller
// should warn-and-return-nil when !everStarted, and skip its actual
// teardown work when !first.
func (l *LifecycleState) MarkStopped() (everStarted, first bool) {
	l.mu.Lock()
	defer l.mu.Unlock()
	everStarted = l.started
	first = !l.stopped
	l.stopped = true
	return
}
