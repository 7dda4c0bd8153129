package rpcerr

// Code is a canonical RPC error code. The set is closed: the dispatch
// engine and every transport adapter map exactly these values, and no
// other code is ever constructed by this module.
type Code int

const (
	// OK indicates no error. Not used when constructing *Error values.
	OK Code = iota

	// Cancelled indicates the operation was cancelled, typically by the
	// caller (client disconnect, explicit stream end).
	Cancelled

	// Unknown is reported for errors that arrived from elsewhere and
	// carry no recognizable code of their own.
	Unknown

	// InvalidArgument indicates the request could not be decoded, or
	// failed schema validation. Carries a field->message table.
	InvalidArgument

	// DeadlineExceeded indicates the operation did not complete before
	// a deadline passed. The server does not generate this in this
	// version; it exists for transport emission.
	DeadlineExceeded

	// NotFound indicates the requested path has no registered endpoint.
	NotFound

	// Unauthenticated indicates missing or invalid credentials.
	// Reserved for transport emission; no component in this module
	// currently produces it (authentication policy is out of scope).
	Unauthenticated

	// PermissionDenied indicates the caller is not allowed to perform
	// the operation. Reserved for transport emission.
	PermissionDenied

	// Internal indicates an uncaught failure inside the dispatch
	// engine or a handler. ServerError is modeled as Internal with an
	// optional message.
	Internal

	// Unavailable indicates the service cannot presently be reached.
	// Reserved for transport emission.
	Unavailable
)

var codeNames = [...]string{
	OK:               "ok",
	Cancelled:        "cancelled",
	Unknown:          "unknown",
	InvalidArgument:  "invalid_argument",
	DeadlineExceeded: "deadline_exceeded",
	NotFound:         "not_found",
	Unauthenticated:  "unauthenticated",
	PermissionDenied: "permission_denied",
	Internal:         "internal",
	Unavailable:      "unavailable",
}

func (c Code) String() string {
	if int(c) >= 0 && int(c) < len(codeNames) {
		return codeNames[c]
	}
	return "unknown"
}

func (c Code) MarshalJSON() ([]byte, error) {
	return []byte("\"" + c.String() + "\""), nil
}
