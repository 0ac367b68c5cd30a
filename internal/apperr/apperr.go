// Package apperr defines the error kinds shared by the token, attempt, claim
// and witness services. Domain errors wrap one of the kinds so callers can
// branch with errors.Is without knowing which service produced them.
package apperr

import (
	"errors"
	"fmt"
)

var (
	ErrValidation       = errors.New("validation failed")
	ErrNotFound         = errors.New("not found")
	ErrAlreadyUsed      = errors.New("already used")
	ErrAlreadyConfirmed = errors.New("already confirmed")
	ErrExpired          = errors.New("expired")
	ErrConflict         = errors.New("conflict")
	ErrStoreFailure     = errors.New("store failure")
	ErrDeliveryFailure  = errors.New("delivery failure")
	ErrRateLimited      = errors.New("rate limited")
	ErrForbidden        = errors.New("forbidden")
)

type kindError struct {
	kind error
	msg  string
}

func (e *kindError) Error() string        { return e.msg }
func (e *kindError) Is(target error) bool { return target == e.kind }

// New returns an error with the given message that matches kind.
func New(kind error, msg string) error {
	return &kindError{kind: kind, msg: msg}
}

// ValidationError reports a malformed input field. It is returned before any
// write happens.
type ValidationError struct {
	Field   string
	Message string
}

func (e *ValidationError) Error() string {
	if e.Field == "" {
		return e.Message
	}
	return fmt.Sprintf("%s: %s", e.Field, e.Message)
}

func (e *ValidationError) Is(target error) bool { return target == ErrValidation }

func Validation(field, msg string) error {
	return &ValidationError{Field: field, Message: msg}
}

// Store wraps a database error so that it matches ErrStoreFailure while
// keeping the original error in the chain.
func Store(op string, err error) error {
	return fmt.Errorf("%s: %w: %w", op, ErrStoreFailure, err)
}

// Delivery wraps an email sender error.
func Delivery(err error) error {
	return fmt.Errorf("%w: %w", ErrDeliveryFailure, err)
}

// Public returns the message of the outermost domain error in err's chain.
// Wrapping context added by callers is left out, so the result is safe to
// show to an end user. It reports false when err carries no domain message.
func Public(err error) (string, bool) {
	var ve *ValidationError
	if errors.As(err, &ve) {
		return ve.Error(), true
	}
	var ke *kindError
	if errors.As(err, &ke) {
		return ke.msg, true
	}
	return "", false
}
