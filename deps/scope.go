// Package deps implements the dependency resolver: a single Provider
// shape that covers plain functions and generator/teardown pairs (a
// blocking Go call already is the "awaited" form their async variants
// would need), and a Scope that acquires a request's declared
// dependencies in order and tears them down in reverse order on every
// exit path.
package deps

import (
	"context"
	"sync"

	"modapp.dev/rpc/rpcerr"
)

// Provider acquires one dependency value for the duration of a scope.
// release, if non-nil, is called when the scope closes (in reverse
// acquisition order, alongside every other acquired dependency's
// release). A plain (non-generator) dependency returns a nil release.
type Provider func(ctx context.Context) (value any, release func(), err error)

// Scope holds the ordered stack of a single request's acquired
// dependencies.
type Scope struct {
	mu      sync.Mutex
	release []func()
	closed  bool
}

// NewScope returns an empty, open Scope.
func NewScope() *Scope { return &Scope{} }

// Acquire resolves bindings in order, pushing each successful
// dependency's release onto the scope's stack as it is acquired. If
// any acquisition fails, everything already acquired during this call
// is unwound immediately, in reverse order, before the error is
// returned; a partially-acquired scope never survives a failed
// Acquire.
func (s *Scope) Acquire(ctx context.Context, bindings []Binding) (map[string]any, error) {
	values := make(map[string]any, len(bindings))

	pushed := 0
	for _, b := range bindings {
		v, release, err := b.Provider(ctx)
		if err != nil {
			s.unwindFrom(pushed)
			return nil, rpcerr.B().Code(rpcerr.Internal).
				Msgf("acquiring dependency %q: %v", b.Name, err).Cause(err).Err()
		}
		values[b.Name] = v
		if release != nil {
			s.push(release)
			pushed++
		}
	}
	return values, nil
}

// Binding names a single dependency argument and the provider that
// resolves it. It mirrors model.DepBinding without importing package
// model, which carries Provider only as an opaque any so that neither
// package imports the other.
type Binding struct {
	Name     string
	Provider Provider
}

func (s *Scope) push(release func()) {
	s.mu.Lock()
	s.release = append(s.release, release)
	s.mu.Unlock()
}

// unwindFrom calls and pops the last n releases pushed onto the
// stack, used to clean up a partially-acquired scope after a failed
// Acquire. n may exceed the current stack depth (safe no-op tail).
func (s *Scope) unwindFrom(n int) {
	s.mu.Lock()
	defer s.mu.Unlock()
	for i := 0; i < n && len(s.release) > 0; i++ {
		last := len(s.release) - 1
		r := s.release[last]
		s.release = s.release[:last]
		r()
	}
}

// Close unwinds the full stack exactly once, in reverse acquisition
// order. A second Close is a no-op, so every dispatch-engine exit path
// (success, handler error, panic, cancellation) can call it
// unconditionally.
func (s *Scope) Close() {
	s.mu.Lock()
	if s.closed {
		s.mu.Unlock()
		return
	}
	s.closed = true
	stack := s.release
	s.release = nil
	s.mu.Unlock()

	for i := len(stack) - 1; i >= 0; i-- {
		stack[i]()
	}
}
