package grpcx

import (
	"context"
	"runtime"

	"golang.org/x/sync/semaphore"
	"google.golang.org/grpc"

	"modapp.dev/rpc/dispatch"
)

// WorkerPool offloads handler invocation onto a bounded set of
// goroutines instead of running a request directly on its accepting
// goroutine, the in-process analogue of a multiprocess worker pool
// (there's no GIL to route around in Go, but the same "bounded
// concurrency, one engine per worker" shape still isolates one
// handler's state from another's).
//
// Each worker gets its own *dispatch.Engine from newEngine, so
// dependency overrides and codec configuration installed on one
// engine never leak across workers; this is this package's in-process
// stand-in for "config travels with the worker across a process
// boundary". A pool of one worker runs calls one at a time; callers
// that don't need the pool use NewServer, which has no semaphore.
type WorkerPool struct {
	sem       *semaphore.Weighted
	newEngine func() *dispatch.Engine
}

// NewWorkerPool builds a pool bounding concurrent handler invocations
// to maxWorkers (runtime.NumCPU() if <= 0).
func NewWorkerPool(maxWorkers int, newEngine func() *dispatch.Engine) *WorkerPool {
	if maxWorkers <= 0 {
		maxWorkers = runtime.NumCPU()
	}
	return &WorkerPool{
		sem:       semaphore.NewWeighted(int64(maxWorkers)),
		newEngine: newEngine,
	}
}

// Wrap returns a grpc.StreamHandler that acquires a worker slot,
// builds a fresh engine from the pool's factory, and runs route
// against it; installed as the Server's grpc.UnknownServiceHandler
// in place of the single shared engine NewServer otherwise installs.
func (p *WorkerPool) Wrap(route func(eng *dispatch.Engine, srv any, stream grpc.ServerStream) error) grpc.StreamHandler {
	return func(srv any, stream grpc.ServerStream) error {
		ctx := stream.Context()
		if err := p.sem.Acquire(ctx, 1); err != nil {
			return statusFromError(deadlineOrCancelled(ctx, err), false)
		}
		defer p.sem.Release(1)

		eng := p.newEngine()
		return route(eng, srv, stream)
	}
}

func deadlineOrCancelled(ctx context.Context, fallback error) error {
	if ctx.Err() != nil {
		return ctx.Err()
	}
	return fallback
}
