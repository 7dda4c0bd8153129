package grpcx

import (
	"sort"
	"strings"

	"google.golang.org/genproto/googleapis/rpc/errdetails"
	"google.golang.org/grpc/codes"
	"google.golang.org/grpc/status"

	"modapp.dev/rpc/rpcerr"
)

// codeMap is the closed mapping from this module's canonical error
// taxonomy onto gRPC's status codes. Every rpcerr.Code
// has exactly one entry; statusFromError reports codes.Unknown for a
// code missing from the map.
var codeMap = map[rpcerr.Code]codes.Code{
	rpcerr.OK:               codes.OK,
	rpcerr.Cancelled:        codes.Canceled,
	rpcerr.Unknown:          codes.Unknown,
	rpcerr.InvalidArgument:  codes.InvalidArgument,
	rpcerr.DeadlineExceeded: codes.DeadlineExceeded,
	rpcerr.NotFound:         codes.NotFound,
	rpcerr.Unauthenticated:  codes.Unauthenticated,
	rpcerr.PermissionDenied: codes.PermissionDenied,
	rpcerr.Internal:         codes.Internal,
	rpcerr.Unavailable:      codes.Unavailable,
}

// statusFromError renders err as the *status.Status-backed error
// grpc-go delivers to the client. A nil err reports nil (OK).
// withDetails attaches a google.rpc.Status carrying an
// errdetails.BadRequest for InvalidArgument's field violations;
// otherwise they're appended to the plain status message, one
// "field: message" line each, sorted by field name.
func statusFromError(err error, withDetails bool) error {
	if err == nil {
		return nil
	}
	e := rpcerr.Convert(err)
	code, ok := codeMap[e.Code]
	if !ok {
		code = codes.Unknown
	}

	if len(e.Violations) == 0 {
		return status.Error(code, e.ErrorMessage())
	}
	if !withDetails {
		fields := make([]string, 0, len(e.Violations))
		for field := range e.Violations {
			fields = append(fields, field)
		}
		sort.Strings(fields)
		lines := []string{e.ErrorMessage()}
		for _, field := range fields {
			lines = append(lines, field+": "+e.Violations[field])
		}
		return status.Error(code, strings.Join(lines, "\n"))
	}

	st := status.New(code, e.ErrorMessage())
	br := &errdetails.BadRequest{}
	for field, msg := range e.Violations {
		br.FieldViolations = append(br.FieldViolations, &errdetails.BadRequest_FieldViolation{
			Field:       field,
			Description: msg,
		})
	}
	withBR, attachErr := st.WithDetails(br)
	if attachErr != nil {
		return st.Err()
	}
	return withBR.Err()
}

func notFoundErr(path string) error {
	return rpcerr.B().Code(rpcerr.NotFound).Msgf("no endpoint registered at %q", path).Err()
}
