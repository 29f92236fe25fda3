package lyapi

import (
	"context"
	"errors"
	"fmt"
	"net/http"
)

// UpstreamError reports a non-success response or an unusable payload from
// the open-data API.
type UpstreamError struct {
	// Endpoint is the route template, e.g. "/legislators/{term}/{name}".
	Endpoint string

	// StatusCode is the HTTP status. Zero means the response body, not the
	// status, was the problem.
	StatusCode int

	// Body holds the first bytes of the response body.
	Body string
}

func (e *UpstreamError) Error() string {
	if e.StatusCode == 0 {
		return fmt.Sprintf("lyapi: %s: %s", e.Endpoint, e.Body)
	}
	if e.Body == "" {
		return fmt.Sprintf("lyapi: %s: status %d", e.Endpoint, e.StatusCode)
	}
	return fmt.Sprintf("lyapi: %s: status %d: %s", e.Endpoint, e.StatusCode, e.Body)
}

// Temporary reports whether retrying later might succeed.
func (e *UpstreamError) Temporary() bool {
	return e.StatusCode == 0 || e.StatusCode == http.StatusTooManyRequests || e.StatusCode >= 500
}

// NotFoundError reports that the requested record does not exist.
type NotFoundError struct {
	Endpoint string
	ID       string
}

func (e *NotFoundError) Error() string {
	if e.ID == "" {
		return fmt.Sprintf("lyapi: %s: not found", e.Endpoint)
	}
	return fmt.Sprintf("lyapi: %s: %q not found", e.Endpoint, e.ID)
}

// ValidationError reports an argument the upstream cannot accept, or input
// (such as a PDF) that cannot be processed.
type ValidationError struct {
	Field   string
	Message string
}

func (e *ValidationError) Error() string {
	if e.Field == "" {
		return "lyapi: invalid input: " + e.Message
	}
	return fmt.Sprintf("lyapi: invalid %s: %s", e.Field, e.Message)
}

// Invalid is shorthand for a [ValidationError].
func Invalid(field, format string, args ...any) error {
	return &ValidationError{Field: field, Message: fmt.Sprintf(format, args...)}
}

// IsDataError reports whether err belongs to the upstream data error class:
// [UpstreamError], [NotFoundError] or [ValidationError]. Such errors are fed
// back to the model as tool results.
func IsDataError(err error) bool {
	var (
		ue *UpstreamError
		ne *NotFoundError
		ve *ValidationError
	)
	return errors.As(err, &ue) || errors.As(err, &ne) || errors.As(err, &ve)
}

// countsAgainstBreaker decides which failures trip the upstream breaker.
// Missing records and rejected arguments say nothing about upstream health.
func countsAgainstBreaker(err error) bool {
	var ne *NotFoundError
	var ve *ValidationError
	if errors.As(err, &ne) || errors.As(err, &ve) {
		return false
	}
	var ue *UpstreamError
	if errors.As(err, &ue) {
		return ue.Temporary()
	}
	return !errors.Is(err, context.Canceled)
}
