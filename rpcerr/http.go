package rpcerr

// HTTPStatus reports the HTTP/1.1 status code for err.
// nil reports 200; anything that isn't *Error reports 500.
func HTTPStatus(err error) int {
	if err == nil {
		return 200
	}
	switch CodeOf(err) {
	case NotFound:
		return 404
	case InvalidArgument:
		return 422
	case Unauthenticated:
		return 401
	case PermissionDenied:
		return 403
	case Cancelled:
		return 499
	case DeadlineExceeded:
		return 504
	case Unavailable:
		return 503
	case Internal, Unknown:
		return 500
	default:
		return 500
	}
}
