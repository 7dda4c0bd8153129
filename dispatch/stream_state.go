package dispatch

import "sync/atomic"

type streamPhase int32

const (
	phaseIdle streamPhase = iota
	phaseProducing
	phaseTerminated
)

// streamState is the Idle -> Producing -> Terminated machine driving a
// streamed reply side. It is safe for concurrent use: terminate is
// idempotent and observable exactly once, so a natural handler
// completion racing a transport-side cancellation never double-fires
// whatever "stream ended" side effect a caller hangs off the
// transition.
type streamState struct {
	phase int32
}

func newStreamState() *streamState { return &streamState{phase: int32(phaseIdle)} }

func (s *streamState) start() {
	atomic.CompareAndSwapInt32(&s.phase, int32(phaseIdle), int32(phaseProducing))
}

func (s *streamState) producing() bool {
	return streamPhase(atomic.LoadInt32(&s.phase)) == phaseProducing
}

// terminate transitions to Terminated and reports whether this call
// was the one that performed the transition (false if some other
// caller already terminated the stream).
func (s *streamState) terminate() bool {
	for {
		cur := streamPhase(atomic.LoadInt32(&s.phase))
		if cur == phaseTerminated {
			return false
		}
		if atomic.CompareAndSwapInt32(&s.phase, int32(cur), int32(phaseTerminated)) {
			return true
		}
	}
}
