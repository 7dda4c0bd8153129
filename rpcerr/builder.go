package rpcerr

import (
	"fmt"

	"modapp.dev/rpc/internal/stack"
)

// Builder allows gradual construction of an *Error. The zero value is
// ready for use. Use Err to construct the final error.
type Builder struct {
	code    Code
	codeSet bool
	viol    FieldViolations

	msg  string
	meta []interface{}
	err  error
}

// B starts a new Builder.
func B() *Builder { return &Builder{} }

// Code sets the error code.
func (b *Builder) Code(c Code) *Builder {
	b.code = c
	b.codeSet = true
	return b
}

// Msg sets the error message.
func (b *Builder) Msg(msg string) *Builder {
	b.msg = msg
	return b
}

// Msgf is like Msg but formats with fmt.Sprintf.
func (b *Builder) Msgf(format string, args ...interface{}) *Builder {
	b.msg = fmt.Sprintf(format, args...)
	return b
}

// Field records a single field violation. Repeatable; used to build up
// InvalidArgument's field->message table.
func (b *Builder) Field(name, msg string) *Builder {
	if b.viol == nil {
		b.viol = make(FieldViolations)
	}
	b.viol[name] = msg
	return b
}

// Meta appends metadata key-value pairs.
func (b *Builder) Meta(pairs ...interface{}) *Builder {
	b.meta = append(b.meta, pairs...)
	return b
}

// Cause sets the underlying error. If cause is already *Error and the
// code hasn't been set explicitly, its code is adopted.
func (b *Builder) Cause(err error) *Builder {
	b.err = err
	if e, ok := err.(*Error); ok && !b.codeSet {
		b.code = e.Code
	}
	return b
}

// Err builds the *Error. It never returns nil. If Code was never set,
// or set to OK, the code defaults to Unknown.
func (b *Builder) Err() error {
	code := b.code
	if code == OK {
		code = Unknown
	}

	msg := b.msg
	if msg == "" && b.err == nil {
		msg = "unknown error"
	}

	var inheritedMeta Metadata
	var s stack.Stack
	if e, ok := b.err.(*Error); ok {
		inheritedMeta = e.Meta
		s = e.stack
	} else {
		s = stack.Build(2)
	}

	return &Error{
		Code:       code,
		Message:    msg,
		Violations: b.viol,
		Meta:       mergeMeta(inheritedMeta, b.meta),
		underlying: b.err,
		stack:      s,
	}
}
