package alwaysproxy

import (
	"errors"
	"net/http"

	parser "github.com/always-cache/always-proxy/pkg/request-parser"
	"golang.org/x/xerrors"
)

var (
	ErrTunnelingUnsupported = xerrors.New("tunneling not supported")
	ErrUnsupportedMethod    = xerrors.New("unsupported method")
	ErrBlocked              = xerrors.New("site is blocked")
	ErrHostNotFound         = xerrors.New("host not found")
)

// ForwardingError is a failure talking to the origin:
// connecting, writing the request or reading the response.
type ForwardingError struct {
	Op  string
	Err error
}

func (e *ForwardingError) Error() string {
	return e.Op + ": " + e.Err.Error()
}

func (e *ForwardingError) Unwrap() error {
	return e.Err
}

// ClientIOError is a failure reading from or writing to the client.
// No response can be sent after one.
type ClientIOError struct {
	Op  string
	Err error
}

func (e *ClientIOError) Error() string {
	return e.Op + ": " + e.Err.Error()
}

func (e *ClientIOError) Unwrap() error {
	return e.Err
}

// errorResponse maps err to the status code and message sent to the client.
// ok is false if the client must not be answered at all.
func errorResponse(err error) (code int, message string, ok bool) {
	var fwdErr *ForwardingError
	var ioErr *ClientIOError
	switch {
	case errors.As(err, &ioErr):
		return 0, "", false
	case errors.Is(err, ErrTunnelingUnsupported):
		return http.StatusServiceUnavailable, "Not implemented", true
	case errors.Is(err, ErrUnsupportedMethod):
		return http.StatusBadRequest, "Bad request", true
	case errors.Is(err, parser.ErrMalformed):
		return http.StatusBadRequest, "Bad request: " + err.Error(), true
	case errors.Is(err, ErrBlocked):
		return http.StatusForbidden, "Site is blocked", true
	case errors.Is(err, ErrHostNotFound):
		return http.StatusBadRequest, "Host not found", true
	case errors.As(err, &fwdErr):
		return http.StatusInternalServerError, fwdErr.Err.Error(), true
	default:
		return http.StatusInternalServerError, err.Error(), true
	}
}

// outcomeForError classifies err for logs and metrics.
func outcomeForError(err error) Outcome {
	var ioErr *ClientIOError
	switch {
	case errors.As(err, &ioErr):
		return OutcomeAbandoned
	case errors.Is(err, ErrBlocked):
		return OutcomeBlocked
	case errors.Is(err, ErrTunnelingUnsupported), errors.Is(err, ErrUnsupportedMethod), errors.Is(err, parser.ErrMalformed):
		return OutcomeRejected
	default:
		return OutcomeError
	}
}
