package analysis

import (
	"errors"
	"fmt"
	"net/http"
)

var (
	// ErrInvalidRequest is returned by Submit before any request is made when
	// a required field is empty.
	ErrInvalidRequest = errors.New("invalid analysis request")

	// ErrInvalidSessionID is returned for session ids that are not UUIDs.
	ErrInvalidSessionID = errors.New("invalid session id")

	// ErrHTTPStatus matches every *HTTPError.
	ErrHTTPStatus = errors.New("unexpected HTTP status")

	// ErrAnalysisFailed is delivered by a Poller when the session ends in
	// StatusError.
	ErrAnalysisFailed = errors.New("analysis failed")
)

// HTTPError is a non-2xx response. Detail carries the service's "detail"
// message when it sent one.
type HTTPError struct {
	Method     string
	Path       string
	StatusCode int
	Detail     string
}

func (e *HTTPError) Error() string {
	msg := fmt.Sprintf("%s %s: %s %d", e.Method, e.Path, ErrHTTPStatus, e.StatusCode)
	if e.Detail != "" {
		msg += ": " + e.Detail
	}
	return msg
}

func (e *HTTPError) Unwrap() error {
	return ErrHTTPStatus
}

// IsNotFound reports whether err is a 404 from the service, which it returns
// for unknown sessions.
func IsNotFound(err error) bool {
	var httpErr *HTTPError
	return errors.As(err, &httpErr) && httpErr.StatusCode == http.StatusNotFound
}
