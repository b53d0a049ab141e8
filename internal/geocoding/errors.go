package geocoding

import (
	"errors"
	"fmt"
	"net/http"
	"slices"
)

// DefaultTransientStatuses are the HTTP statuses worth retrying.
var DefaultTransientStatuses = []int{
	http.StatusTooManyRequests,
	http.StatusInternalServerError,
	http.StatusBadGateway,
	http.StatusServiceUnavailable,
	http.StatusGatewayTimeout,
}

var (
	// ErrNoHits is returned by endpoint helpers when the provider answered but found nothing.
	ErrNoHits = errors.New("provider returned no hits")
	// ErrUnauthorized means the API key was rejected. It is neither transient
	// nor a per-query miss, so nothing may be cached for it.
	ErrUnauthorized = errors.New("provider API unauthorized (invalid API key)")
)

// StatusError is a non-200 answer whose status is in the transient set.
type StatusError struct {
	Provider   string
	StatusCode int
	Body       string
}

func (e *StatusError) Error() string {
	return fmt.Sprintf("%s API returned status %d: %s", e.Provider, e.StatusCode, e.Body)
}

// TransportError wraps a failure to reach the provider or to decode its answer.
type TransportError struct {
	Provider string
	Op       string
	Err      error
}

func (e *TransportError) Error() string {
	return fmt.Sprintf("%s %s: %v", e.Provider, e.Op, e.Err)
}

func (e *TransportError) Unwrap() error { return e.Err }

// IsTransient reports whether err is worth another attempt.
func IsTransient(err error) bool {
	var statusErr *StatusError
	var transportErr *TransportError
	return errors.As(err, &statusErr) || errors.As(err, &transportErr)
}

type transientSet []int

func newTransientSet(statuses []int) transientSet {
	if len(statuses) == 0 {
		return DefaultTransientStatuses
	}
	return statuses
}

func (s transientSet) contains(status int) bool {
	return slices.Contains(s, status)
}
