package apperr

import (
	"errors"
	"fmt"
	"testing"
)

func TestNewMatchesKind(t *testing.T) {
	err := New(ErrExpired, "link expired")
	if !errors.Is(err, ErrExpired) {
		t.Error("expected error to match ErrExpired")
	}
	if errors.Is(err, ErrNotFound) {
		t.Error("did not expect error to match ErrNotFound")
	}
	if err.Error() != "link expired" {
		t.Errorf("message = %q, want %q", err.Error(), "link expired")
	}

	wrapped := fmt.Errorf("redeem: %w", err)
	if !errors.Is(wrapped, ErrExpired) {
		t.Error("expected wrapped error to match ErrExpired")
	}
}

func TestValidationError(t *testing.T) {
	err := Validation("email", "invalid format")
	if !errors.Is(err, ErrValidation) {
		t.Error("expected validation kind")
	}
	var ve *ValidationError
	if !errors.As(err, &ve) {
		t.Fatal("expected *ValidationError")
	}
	if ve.Field != "email" {
		t.Errorf("field = %q, want %q", ve.Field, "email")
	}
	if err.Error() != "email: invalid format" {
		t.Errorf("message = %q", err.Error())
	}
}

func TestStoreKeepsCause(t *testing.T) {
	cause := errors.New("disk I/O error")
	err := Store("insert token", cause)
	if !errors.Is(err, ErrStoreFailure) {
		t.Error("expected store failure kind")
	}
	if !errors.Is(err, cause) {
		t.Error("expected original cause in chain")
	}
}

func TestDelivery(t *testing.T) {
	err := Delivery(errors.New("postmark API error: status 422"))
	if !errors.Is(err, ErrDeliveryFailure) {
		t.Error("expected delivery failure kind")
	}
}

func TestPublicStripsWrapping(t *testing.T) {
	err := fmt.Errorf("redeem token 42: %w", New(ErrExpired, "this link has expired"))
	msg, ok := Public(err)
	if !ok {
		t.Fatal("expected a public message")
	}
	if msg != "this link has expired" {
		t.Errorf("message = %q", msg)
	}

	if _, ok := Public(Store("insert token", errors.New("disk full"))); ok {
		t.Error("store failures must not expose a public message")
	}

	msg, _ = Public(fmt.Errorf("issue: %w", Validation("email", "must be a valid email address")))
	if msg != "email: must be a valid email address" {
		t.Errorf("validation message = %q", msg)
	}
}
