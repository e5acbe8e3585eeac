package authflow

import (
	"errors"
	"fmt"
)

var (
	// ErrMissingIdentity is returned by Initiate without an identity key.
	ErrMissingIdentity = errors.New("identity key is required")

	// ErrMissingParameters is returned when a callback lacks code or state.
	ErrMissingParameters = errors.New("callback is missing code or state")

	// ErrProviderError matches any *ProviderError.
	ErrProviderError = errors.New("identity provider returned an error")

	// ErrExchangeFailed matches any *ExchangeError.
	ErrExchangeFailed = errors.New("token exchange failed")
)

// ProviderError is an error reported by the identity provider on the
// callback redirect.
type ProviderError struct {
	Code        string
	Description string
}

func (e *ProviderError) Error() string {
	if e.Description == "" {
		return fmt.Sprintf("identity provider error: %s", e.Code)
	}
	return fmt.Sprintf("identity provider error: %s: %s", e.Code, e.Description)
}

func (e *ProviderError) Is(target error) bool { return target == ErrProviderError }

// ExchangeError is a failed code-for-token exchange. Body is the
// provider's response body, unmodified. Status is 0 when the request
// never got a response.
type ExchangeError struct {
	Status int
	Body   string
	Err    error
}

func (e *ExchangeError) Error() string {
	switch {
	case e.Err != nil:
		return fmt.Sprintf("token exchange failed: %v", e.Err)
	default:
		return fmt.Sprintf("token exchange failed with status %d: %s", e.Status, e.Body)
	}
}

func (e *ExchangeError) Is(target error) bool { return target == ErrExchangeFailed }

func (e *ExchangeError) Unwrap() error { return e.Err }
