// Package rpcerr implements the canonical error taxonomy shared by the
// dispatch engine, the codec subsystem, and every transport adapter.
//
// An uncaught failure anywhere in the dispatch pipeline is converted to
// *Error before it can cross a transport boundary; no raw panic or
// unrecognized error value is ever written to the wire.
package rpcerr

import (
	"strings"

	"modapp.dev/rpc/internal/stack"
)

// FieldViolations maps a request field name to a human-readable
// validation message. Populated for InvalidArgument errors.
type FieldViolations map[string]string

// Metadata carries arbitrary key-value pairs attached to an error for
// internal logging. It is never serialized to a client.
type Metadata map[string]interface{}

// Error is a structured error carrying a canonical Code, a message,
// optional field violations, and internal metadata.
type Error struct {
	Code       Code            `json:"code"`
	Message    string          `json:"message"`
	Violations FieldViolations `json:"violations,omitempty"`
	Meta       Metadata        `json:"-"`

	underlying error
	stack      stack.Stack
}

func (e *Error) Error() string {
	return e.Code.String() + ": " + e.ErrorMessage()
}

// ErrorMessage joins this error's message with the messages of any
// wrapped errors, innermost last.
func (e *Error) ErrorMessage() string {
	if e.underlying == nil {
		return e.Message
	}
	var b strings.Builder
	b.WriteString(e.Message)
	next := e.underlying
	for next != nil {
		var msg string
		if ee, ok := next.(*Error); ok {
			msg = ee.Message
			next = ee.underlying
		} else {
			msg = next.Error()
			next = nil
		}
		if b.Len() > 0 && msg != "" {
			b.WriteString(": ")
		}
		b.WriteString(msg)
	}
	return b.String()
}

func (e *Error) Unwrap() error { return e.underlying }

// Convert turns err into *Error. If err is already *Error it is
// returned unmodified. If err is nil it returns nil. Anything else
// becomes Internal/"Internal server error"; this is the single
// chokepoint that guarantees no unlabelled exception escapes the core.
func Convert(err error) *Error {
	if err == nil {
		return nil
	}
	if e, ok := err.(*Error); ok {
		return e
	}
	return &Error{
		Code:       Internal,
		Message:    "Internal server error",
		underlying: err,
		stack:      stack.Build(2),
	}
}

// CodeOf reports the canonical code carried by err. nil reports OK;
// anything that isn't *Error reports Unknown.
func CodeOf(err error) Code {
	if err == nil {
		return OK
	}
	if e, ok := err.(*Error); ok {
		return e.Code
	}
	return Unknown
}

// Meta reports the metadata attached to err, or nil.
func Meta(err error) Metadata {
	if e, ok := err.(*Error); ok {
		return e.Meta
	}
	return nil
}

// Stack reports the captured call stack for err, or a zero Stack.
func Stack(err error) stack.Stack {
	if e, ok := err.(*Error); ok {
		return e.stack
	}
	return stack.Stack{}
}

func mergeMeta(md Metadata, pairs []interface{}) Metadata {
	n := len(pairs)
	if n%2 != 0 {
		panic("rpcerr: odd number of metadata key-value arguments")
	}
	if md == nil && n > 0 {
		md = make(Metadata, n/2)
	}
	for i := 0; i < n; i += 2 {
		key, ok := pairs[i].(string)
		if !ok {
			panic("rpcerr: metadata key is not a string")
		}
		md[key] = pairs[i+1]
	}
	return md
}
