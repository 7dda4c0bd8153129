// Package router implements the endpoint registry the dispatch engine
// and transport adapters look endpoints up in: a path to *model.Endpoint
// table with service mounting and dependency override, registered
// explicitly rather than discovered through runtime signature
// introspection.
package router

import (
	"context"
	"reflect"

	"github.com/rs/zerolog"

	"modapp.dev/rpc/deps"
	"modapp.dev/rpc/model"
)

// Registry is a path->*model.Endpoint table. A Registry can mount
// other registries; Route resolves against the registry's own table
// first, then its mounted children, so a parent's route always
// shadows a child's route at the same path.
type Registry struct {
	logger zerolog.Logger

	routes   map[string]*model.Endpoint
	children []mountedChild
}

type mountedChild struct {
	prefix string
	child  *Registry
}

// New builds an empty Registry. logger is used for registration-time
// diagnostics (collisions, mounts).
func New(logger zerolog.Logger) *Registry {
	return &Registry{
		logger: logger,
		routes: make(map[string]*model.Endpoint),
	}
}

// Register adds an endpoint to the registry. handler's shape is
// validated against card via reflection (see validateHandlerShape); a
// mismatch panics, since it is a programmer error caught at startup,
// not a request-time failure. Registering the same path twice
// overwrites the previous endpoint and logs one warning (invariant 9).
func (r *Registry) Register(
	path string,
	card model.Cardinality,
	reqSchema, replySchema *model.Schema,
	handler any,
	metaNames []string,
	deps []model.DepBinding,
) {
	hv := reflect.ValueOf(handler)
	validateHandlerShape(path, hv, card, len(metaNames), len(deps))

	if _, exists := r.routes[path]; exists {
		r.logger.Warn().Str("path", path).Msg("endpoint registered twice, overwriting previous registration")
	}

	r.routes[path] = &model.Endpoint{
		Path:        path,
		Cardinality: card,
		Request:     reqSchema,
		Reply:       replySchema,
		Handler:     hv,
		Meta:        metaNames,
		Deps:        deps,
	}
	r.logger.Info().Str("path", path).Str("cardinality", card.String()).Msg("registered endpoint")
}

// Mount composes child into r: Route first checks the parent's
// own table, then walks mounted children, computed lazily at lookup
// time rather than flattened eagerly at Mount time, so routes added to
// child after Mount are still visible through the parent. prefix is
// only logged; child paths are looked up unchanged, not under prefix.
func (r *Registry) Mount(prefix string, child *Registry) {
	r.children = append(r.children, mountedChild{prefix: prefix, child: child})
	r.logger.Info().Str("prefix", prefix).Msg("mounted child registry")
}

// Route resolves path against this registry's own table, then its
// mounted children in mount order. A parent's own route always shadows
// a route of the same full path found in a mounted child.
func (r *Registry) Route(path string) (*model.Endpoint, bool) {
	if ep, ok := r.routes[path]; ok {
		return ep, true
	}
	for _, mc := range r.children {
		if ep, ok := mc.child.Route(path); ok {
			return ep, true
		}
	}
	return nil, false
}

// Paths reports every path reachable from this registry: its own
// routes, plus each mounted child's (a child path shadowed by a
// parent route of the same path is reported once). Transports use
// this to install one HTTP/gRPC route per endpoint after all
// registration is done.
func (r *Registry) Paths() []string {
	seen := make(map[string]bool)
	var out []string
	r.collectPaths(seen, &out)
	return out
}

func (r *Registry) collectPaths(seen map[string]bool, out *[]string) {
	for p := range r.routes {
		if !seen[p] {
			seen[p] = true
			*out = append(*out, p)
		}
	}
	for _, mc := range r.children {
		mc.child.collectPaths(seen, out)
	}
}

// Override rewrites every registered endpoint's dependency bindings
// that reference from to reference to instead. Applied once, at the
// point it's called, to every endpoint already registered on this
// registry (not to future registrations, nor to mounted children);
// callers invoke it immediately after the Register calls it concerns.
func (r *Registry) Override(from, to deps.Provider) {
	for _, ep := range r.routes {
		for i, b := range ep.Deps {
			if bp, ok := b.Provider.(deps.Provider); ok && sameProvider(bp, from) {
				ep.Deps[i].Provider = to
			}
		}
	}
}

func sameProvider(a, b deps.Provider) bool {
	return reflect.ValueOf(a).Pointer() == reflect.ValueOf(b).Pointer()
}

// validateHandlerShape checks that handler is a func whose signature
// matches the cardinality's expected shape:
//
//	UU: func(ctx, req model.Value, metas..., deps...) (model.Value, error)
//	US: func(ctx, req model.Value, reply chan<- model.Value, metas..., deps...) error
//	SU: func(ctx, req <-chan model.Value, metas..., deps...) (model.Value, error)
//	SS: func(ctx, req <-chan model.Value, reply chan<- model.Value, metas..., deps...) error
//
// metas and deps are passed positionally as the trailing arguments
// (typed `any` from the registry's point of view; the dispatch engine
// supplies their concrete values at call time).
func validateHandlerShape(path string, hv reflect.Value, card model.Cardinality, nMeta, nDeps int) {
	if hv.Kind() != reflect.Func {
		panic("router: handler for " + path + " is not a function")
	}
	ht := hv.Type()

	want := 1 // ctx
	want++    // request value or request channel
	if card.ReplyStreamed() {
		want++ // reply channel, only for US/SS
	}
	want += nMeta + nDeps

	if ht.NumIn() != want {
		panic("router: handler for " + path + " (" + card.String() + ") expects " +
			itoa(want) + " arguments, got " + itoa(ht.NumIn()))
	}
	if !ht.In(0).Implements(ctxType) {
		panic("router: handler for " + path + " must take context.Context as its first argument")
	}

	reqArg := ht.In(1)
	if card.RequestStreamed() {
		if reqArg.Kind() != reflect.Chan || reqArg.ChanDir() == reflect.SendDir {
			panic("router: handler for " + path + " (" + card.String() + ") must take a receive channel as its request argument")
		}
	}

	if card.ReplyStreamed() {
		replyArg := ht.In(2)
		if replyArg.Kind() != reflect.Chan || replyArg.ChanDir() == reflect.RecvDir {
			panic("router: handler for " + path + " (" + card.String() + ") must take a send channel as its reply argument")
		}
	}

	switch ht.NumOut() {
	case 1:
		if !card.ReplyStreamed() {
			panic("router: handler for " + path + " (" + card.String() + ") must return (value, error) on the unary reply side")
		}
		if !ht.Out(0).Implements(errType) {
			panic("router: handler for " + path + " must return error")
		}
	case 2:
		if !ht.Out(1).Implements(errType) {
			panic("router: handler for " + path + " must return (value, error)")
		}
	default:
		panic("router: handler for " + path + " has an unsupported number of return values")
	}
}

var (
	ctxType = reflect.TypeOf((*context.Context)(nil)).Elem()
	errType = reflect.TypeOf((*error)(nil)).Elem()
)

func itoa(n int) string {
	if n == 0 {
		return "0"
	}
	var buf [20]byte
	i := len(buf)
	neg := n < 0
	if neg {
		n = -n
	}
	for n > 0 {
		i--
		buf[i] = byte('0' + n%10)
		n /= 10
	}
	if neg {
		i--
		buf[i] = '-'
	}
	return string(buf[i:])
}
