package common

import (
	"errors"
	"fmt"
)

var (
	// ErrInvalidInput matches any *InvalidInputError.
	ErrInvalidInput = errors.New("invalid input")

	// ErrLoginRequired is returned when no usable credential is bound to
	// the identity key. It is reported to callers as a login prompt, not
	// as an error.
	ErrLoginRequired = errors.New("login required")
)

// InvalidInputError reports a malformed or missing action parameter.
type InvalidInputError struct {
	Param  string
	Reason string
}

func (e *InvalidInputError) Error() string {
	if e.Param == "" {
		return e.Reason
	}
	return fmt.Sprintf("%s: %s", e.Param, e.Reason)
}

func (e *InvalidInputError) Is(target error) bool { return target == ErrInvalidInput }

// Invalidf builds an InvalidInputError for param.
func Invalidf(param, format string, args ...any) error {
	return &InvalidInputError{Param: param, Reason: fmt.Sprintf(format, args...)}
}
