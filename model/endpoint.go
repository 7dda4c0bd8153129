package model

import "reflect"

// DepBinding is one entry in an endpoint's ordered dependency list: a
// handler argument name bound to a provider. The provider type itself
// lives in package deps, which package model does not import; it is
// carried here as an opaque value and type-asserted to deps.Provider
// where it is used.
type DepBinding struct {
	Name     string
	Provider any
}

// Endpoint is a single registered RPC route: a path, its cardinality,
// request/reply schemas, the handler, and its meta-parameter and
// dependency bindings.
type Endpoint struct {
	// Path has the form "/<package>.<Service>/<Method>", compared
	// byte-for-byte by the router (case-sensitive).
	Path        string
	Cardinality Cardinality

	Request *Schema
	Reply   *Schema

	// Handler is the registered handler, stored as a reflect.Value so
	// the dispatch engine can invoke it uniformly. See package
	// dispatch for the expected signatures per cardinality.
	Handler reflect.Value

	// Meta lists the ordered metadata key names the handler expects,
	// resolved positionally after the request value.
	Meta []string

	// Deps lists the ordered dependency bindings acquired before the
	// handler runs.
	Deps []DepBinding
}
