package graph

import (
	"net/http"
	"strconv"
	"strings"
	"time"
)

// Policy decides whether a failed attempt is retried and after how long.
type Policy struct {
	// MaxRetries is the number of retries after the first attempt.
	MaxRetries int
	// MaxDelay caps the exponential schedule. Retry-After is not capped.
	MaxDelay time.Duration
}

// DefaultPolicy allows five attempts in total with delays of at most 16s.
var DefaultPolicy = Policy{MaxRetries: 4, MaxDelay: 16 * time.Second}

// Next is called with the zero-based index of the attempt that produced
// resp. It retries 429 and 5xx while attempt < MaxRetries. The delay is
// the Retry-After header when it is a non-negative integer number of
// seconds, otherwise min(2^attempt seconds, MaxDelay).
func (p Policy) Next(attempt int, resp *http.Response) (bool, time.Duration) {
	if resp == nil || !retryableStatus(resp.StatusCode) || attempt >= p.MaxRetries {
		return false, 0
	}
	if secs, ok := retryAfter(resp.Header); ok {
		return true, time.Duration(secs) * time.Second
	}
	delay := time.Second << uint(attempt)
	if p.MaxDelay > 0 && (delay > p.MaxDelay || delay <= 0) {
		delay = p.MaxDelay
	}
	return true, delay
}

// Backoff applies DefaultPolicy.
func Backoff(attempt int, resp *http.Response) (bool, time.Duration) {
	return DefaultPolicy.Next(attempt, resp)
}

func retryableStatus(code int) bool {
	return code == http.StatusTooManyRequests || (code >= 500 && code <= 599)
}

func retryAfter(h http.Header) (int, bool) {
	v := strings.TrimSpace(h.Get("Retry-After"))
	if v == "" {
		return 0, false
	}
	secs, err := strconv.Atoi(v)
	if err != nil || secs < 0 {
		return 0, false
	}
	return secs, true
}
