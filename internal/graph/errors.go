package graph

import (
	"errors"
	"fmt"
	"net/http"
)

// ErrCircuitOpen is returned without contacting the remote while the
// circuit breaker is open.
var ErrCircuitOpen = errors.New("graph: circuit breaker open")

// ErrResponseTooLarge is returned when a response body exceeds the
// fetcher's limit.
var ErrResponseTooLarge = errors.New("graph: response too large")

// RemoteError is a non-2xx response from the remote API. Body is the
// unmodified response body.
type RemoteError struct {
	Status int
	Body   string
	URL    string
}

func (e *RemoteError) Error() string {
	body := e.Body
	if len(body) > 512 {
		body = body[:512] + "..."
	}
	return fmt.Sprintf("graph: remote returned %d: %s", e.Status, body)
}

// Transient reports whether the status is one the fetcher retries.
func (e *RemoteError) Transient() bool {
	return retryableStatus(e.Status)
}

// IsUnauthorized reports whether err is a 401 from the remote, which means
// the bearer token was rejected.
func IsUnauthorized(err error) bool {
	var re *RemoteError
	return errors.As(err, &re) && re.Status == http.StatusUnauthorized
}
