// Package dispatch implements the single engine every transport
// adapter drives a request through: decode, open a dependency scope,
// build the handler's argument list, invoke it, encode the reply. The
// same Handle entry point serves all four cardinalities by abstracting
// the request/reply side as either "one value" or "a channel of
// values".
package dispatch

import (
	"context"
	"reflect"
	"runtime/debug"

	"github.com/rs/zerolog"

	"modapp.dev/rpc/deps"
	"modapp.dev/rpc/model"
	"modapp.dev/rpc/rpcerr"
)

// RequestReader abstracts the request side of a call: a single decoded
// value for UU/US, or a channel of decoded values for SU/SS.
type RequestReader interface {
	// Recv decodes and returns the next request value. For a unary
	// request side it is called exactly once. Returns io.EOF-shaped
	// behavior via the ok bool: ok==false with a nil error means the
	// request stream ended normally.
	Recv(ctx context.Context) (v model.Value, ok bool, err error)
}

// ReplyWriter abstracts the reply side of a call: a single encoded
// value for UU/SU, or a channel of encoded values for US/SS.
type ReplyWriter interface {
	// Send delivers one reply value. For a unary reply side it is
	// called at most once.
	Send(ctx context.Context, v model.Value) error
	// Close signals the reply side ended, with err non-nil if the
	// handler failed instead of completing normally.
	Close(ctx context.Context, err error) error
}

// Engine runs registered endpoints through the shared dispatch
// pipeline. A zero Engine is not usable; build one with New.
type Engine struct {
	logger zerolog.Logger
}

// New builds an Engine that logs through logger.
func New(logger zerolog.Logger) *Engine {
	return &Engine{logger: logger}
}

// Handle runs one call against ep: decode, open a deps.Scope, build
// the handler's argument list, invoke it (recovering any panic into
// rpcerr.Internal), and drive the reply side. meta carries the
// metadata values the endpoint's declared Meta names are looked up
// in; a missing name is InvalidArgument.
//
// Decode failures return before a scope is ever opened, so a handler
// never runs against a request that failed validation.
func (e *Engine) Handle(ctx context.Context, ep *model.Endpoint, meta map[string]any, in RequestReader, out ReplyWriter) (err error) {
	log := e.logger.With().Str("path", ep.Path).Str("cardinality", ep.Cardinality.String()).Logger()
	if rid, ok := meta["request_id"]; ok {
		log = log.With().Interface("request_id", rid).Logger()
	}
	log.Info().Msg("dispatching request")

	defer func() {
		if err != nil {
			log.Error().Err(err).Msg("request failed")
		} else {
			log.Info().Msg("request completed")
		}
	}()

	// The unary request side is decoded up front, before a scope is
	// opened or any dependency is acquired, so a malformed request
	// never causes a handler (or its dependencies) to run at all. The
	// streaming request side has no single up-front value to decode
	// this way; its Recv calls
	// happen once the handler is already running and consuming them.
	var reqVal model.Value
	if !ep.Cardinality.RequestStreamed() {
		v, ok, recvErr := in.Recv(ctx)
		if recvErr != nil {
			return out.Close(ctx, recvErr)
		}
		if !ok {
			recvErr := rpcerr.B().Code(rpcerr.InvalidArgument).Msg("request body required").Err()
			return out.Close(ctx, recvErr)
		}
		reqVal = v
	}

	scope := deps.NewScope()
	defer scope.Close()

	metaArgs, err := resolveMeta(ep.Meta, meta)
	if err != nil {
		return out.Close(ctx, err)
	}

	depArgs, err := acquireDeps(ctx, scope, ep.Deps)
	if err != nil {
		return out.Close(ctx, err)
	}

	if ep.Cardinality.RequestStreamed() {
		err = e.runStreamingRequest(ctx, ep, in, out, metaArgs, depArgs, &log)
	} else {
		err = e.runUnaryRequest(ctx, ep, reqVal, out, metaArgs, depArgs, &log)
	}
	return err
}

func (e *Engine) runUnaryRequest(ctx context.Context, ep *model.Endpoint, reqVal model.Value, out ReplyWriter, metaArgs, depArgs []reflect.Value, log *zerolog.Logger) error {
	if ep.Cardinality.ReplyStreamed() {
		replyCh := make(chan model.Value)
		args := buildArgs(ctx, reflect.ValueOf(reqVal), reflect.ValueOf((chan<- model.Value)(replyCh)), true, metaArgs, depArgs)
		return e.runStreamingReply(ctx, ep, replyCh, args, out, log)
	}

	args := buildArgs(ctx, reflect.ValueOf(reqVal), reflect.Value{}, false, metaArgs, depArgs)
	results, callErr := e.invoke(ep, args, log)
	if callErr != nil {
		return out.Close(ctx, callErr)
	}
	replyVal := results[0].Interface().(model.Value)
	if sendErr := out.Send(ctx, replyVal); sendErr != nil {
		return out.Close(ctx, sendErr)
	}
	return out.Close(ctx, nil)
}

func (e *Engine) runStreamingRequest(ctx context.Context, ep *model.Endpoint, in RequestReader, out ReplyWriter, metaArgs, depArgs []reflect.Value, log *zerolog.Logger) error {
	reqCh := make(chan model.Value)
	recvErrCh := make(chan error, 1)
	go func() {
		defer close(reqCh)
		for {
			v, ok, err := in.Recv(ctx)
			if err != nil {
				recvErrCh <- err
				return
			}
			if !ok {
				return
			}
			select {
			case reqCh <- v:
			case <-ctx.Done():
				return
			}
		}
	}()

	reqArg := reflect.ValueOf((<-chan model.Value)(reqCh))

	if ep.Cardinality.ReplyStreamed() {
		replyCh := make(chan model.Value)
		args := buildArgs(ctx, reqArg, reflect.ValueOf((chan<- model.Value)(replyCh)), true, metaArgs, depArgs)
		return e.runStreamingReply(ctx, ep, replyCh, args, out, log)
	}

	args := buildArgs(ctx, reqArg, reflect.Value{}, false, metaArgs, depArgs)
	results, callErr := e.invoke(ep, args, log)
	select {
	case recvErr := <-recvErrCh:
		if callErr == nil {
			callErr = recvErr
		}
	default:
	}
	if callErr != nil {
		return out.Close(ctx, callErr)
	}
	replyVal := results[0].Interface().(model.Value)
	if sendErr := out.Send(ctx, replyVal); sendErr != nil {
		return out.Close(ctx, sendErr)
	}
	return out.Close(ctx, nil)
}

// runStreamingReply drives a US/SS handler's reply channel through a
// StreamState machine: the handler runs on its own goroutine (so a
// panic there is recovered without unwinding the caller), pushing
// values onto replyCh until it returns; that goroutine then closes
// replyCh.
func (e *Engine) runStreamingReply(ctx context.Context, ep *model.Endpoint, replyCh chan model.Value, args []reflect.Value, out ReplyWriter, log *zerolog.Logger) error {
	state := newStreamState()
	handlerErrCh := make(chan error, 1)

	go func() {
		defer close(replyCh)
		defer func() {
			if r := recover(); r != nil {
				stack := debug.Stack()
				log.Error().Interface("panic", r).Str("stack", string(stack)).Msg("panic in streaming handler")
				handlerErrCh <- rpcerr.B().Code(rpcerr.Internal).Msg("Internal server error").Err()
				return
			}
		}()
		state.start()
		results := ep.Handler.Call(args)
		var callErr error
		if last, ok := results[len(results)-1].Interface().(error); ok {
			callErr = last
		}
		handlerErrCh <- callErr
	}()

	for v := range replyCh {
		if !state.producing() {
			continue
		}
		if err := out.Send(ctx, v); err != nil {
			state.terminate()
			return out.Close(ctx, err)
		}
	}

	handlerErr := <-handlerErrCh
	state.terminate()
	return out.Close(ctx, handlerErr)
}

// buildArgs assembles a handler's positional argument list: ctx, the
// request value or channel, the reply channel if hasReply, then the
// declared meta values, then the declared dependency values, in that
// order, matching the shapes router.validateHandlerShape checks at
// registration time.
func buildArgs(ctx context.Context, reqArg, replyArg reflect.Value, hasReply bool, metaArgs, depArgs []reflect.Value) []reflect.Value {
	args := make([]reflect.Value, 0, 3+len(metaArgs)+len(depArgs))
	args = append(args, reflect.ValueOf(ctx), reqArg)
	if hasReply {
		args = append(args, replyArg)
	}
	args = append(args, metaArgs...)
	args = append(args, depArgs...)
	return args
}

func (e *Engine) invoke(ep *model.Endpoint, args []reflect.Value, log *zerolog.Logger) (results []reflect.Value, err error) {
	defer func() {
		if r := recover(); r != nil {
			stack := debug.Stack()
			log.Error().Interface("panic", r).Str("stack", string(stack)).Msg("panic in handler")
			err = rpcerr.B().Code(rpcerr.Internal).Msg("Internal server error").Err()
		}
	}()
	results = ep.Handler.Call(args)
	if len(results) > 0 {
		if last, ok := results[len(results)-1].Interface().(error); ok && last != nil {
			return nil, last
		}
	}
	return results, nil
}

func resolveMeta(names []string, meta map[string]any) ([]reflect.Value, error) {
	args := make([]reflect.Value, 0, len(names))
	b := rpcerr.B().Code(rpcerr.InvalidArgument).Msg("missing metadata")
	missing := false
	for _, name := range names {
		v, ok := meta[name]
		if !ok {
			b.Field(name, "required metadata value missing")
			missing = true
			continue
		}
		args = append(args, reflect.ValueOf(v))
	}
	if missing {
		return nil, b.Err()
	}
	return args, nil
}

func acquireDeps(ctx context.Context, scope *deps.Scope, bindings []model.DepBinding) ([]reflect.Value, error) {
	db := make([]deps.Binding, 0, len(bindings))
	for _, b := range bindings {
		p, ok := b.Provider.(deps.Provider)
		if !ok {
			return nil, rpcerr.B().Code(rpcerr.Internal).Msgf("dependency %q has no resolvable provider", b.Name).Err()
		}
		db = append(db, deps.Binding{Name: b.Name, Provider: p})
	}
	values, err := scope.Acquire(ctx, db)
	if err != nil {
		return nil, err
	}
	args := make([]reflect.Value, 0, len(bindings))
	for _, b := range bindings {
		args = append(args, reflect.ValueOf(values[b.Name]))
	}
	return args, nil
}
