package magiclink

import (
	"errors"
	"fmt"
	"reflect"
	"strings"

	"github.com/go-playground/validator/v10"

	"github.com/dukerupert/fairway/internal/apperr"
)

const (
	DefaultFirstName = "Golfer"
	DefaultAge       = 18
)

// ProfileInput is the raw contact form. Absent fields are nil.
type ProfileInput struct {
	Email     string   `json:"email"`
	FirstName *string  `json:"first_name"`
	LastName  *string  `json:"last_name"`
	Phone     *string  `json:"phone"`
	Age       *int     `json:"age"`
	Handicap  *float64 `json:"handicap"`
}

// EntryIntent is a normalized profile with every default applied. It is what
// a token carries until redemption.
type EntryIntent struct {
	Email     string   `json:"email" validate:"required,email,max=254"`
	FirstName string   `json:"first_name" validate:"required,max=100"`
	LastName  string   `json:"last_name" validate:"max=100"`
	Phone     string   `json:"phone" validate:"omitempty,e164"`
	Age       int      `json:"age" validate:"gte=5,lte=120"`
	Handicap  *float64 `json:"handicap" validate:"omitempty,gte=-10,lte=54"`
}

func NewEntryIntent(in ProfileInput) EntryIntent {
	intent := EntryIntent{
		Email:     NormalizeEmail(in.Email),
		FirstName: DefaultFirstName,
		Age:       DefaultAge,
		Handicap:  in.Handicap,
	}
	if in.FirstName != nil && strings.TrimSpace(*in.FirstName) != "" {
		intent.FirstName = strings.TrimSpace(*in.FirstName)
	}
	if in.LastName != nil {
		intent.LastName = strings.TrimSpace(*in.LastName)
	}
	if in.Phone != nil {
		intent.Phone = normalizePhone(*in.Phone)
	}
	if in.Age != nil {
		intent.Age = *in.Age
	}
	return intent
}

func NormalizeEmail(email string) string {
	return strings.ToLower(strings.TrimSpace(email))
}

func normalizePhone(phone string) string {
	return strings.Map(func(r rune) rune {
		switch r {
		case ' ', '-', '(', ')', '.':
			return -1
		}
		return r
	}, strings.TrimSpace(phone))
}

var validate = newValidator()

func newValidator() *validator.Validate {
	v := validator.New(validator.WithRequiredStructEnabled())
	v.RegisterTagNameFunc(func(f reflect.StructField) string {
		name, _, _ := strings.Cut(f.Tag.Get("json"), ",")
		if name == "-" {
			return ""
		}
		return name
	})
	return v
}

// Validate checks the intent at the given strictness. Strict flows also
// require a last name and a phone number.
func (e EntryIntent) Validate(s Strictness) error {
	if err := validate.Struct(e); err != nil {
		return toValidationError(err)
	}
	if s == StrictnessStrict {
		if e.LastName == "" {
			return apperr.Validation("last_name", "is required")
		}
		if e.Phone == "" {
			return apperr.Validation("phone", "is required")
		}
	}
	return nil
}

func toValidationError(err error) error {
	var verrs validator.ValidationErrors
	if !errors.As(err, &verrs) || len(verrs) == 0 {
		return apperr.Validation("", "invalid input")
	}
	fe := verrs[0]
	return apperr.Validation(fe.Field(), describe(fe))
}

func describe(fe validator.FieldError) string {
	switch fe.Tag() {
	case "required":
		return "is required"
	case "email":
		return "must be a valid email address"
	case "e164":
		return "must be an international phone number such as +14155550123"
	case "gte":
		return fmt.Sprintf("must be at least %s", fe.Param())
	case "lte":
		return fmt.Sprintf("must be at most %s", fe.Param())
	case "max":
		return fmt.Sprintf("must be at most %s characters", fe.Param())
	default:
		return "is invalid"
	}
}
