package magiclink

import "github.com/dukerupert/fairway/internal/apperr"

var (
	ErrTokenNotFound    = apperr.New(apperr.ErrNotFound, "this link is not valid, request a new one")
	ErrTokenAlreadyUsed = apperr.New(apperr.ErrAlreadyUsed, "this link was already used, request a new one")
	ErrTokenExpired     = apperr.New(apperr.ErrExpired, "this link has expired, request a new one")
	ErrUnknownFlow      = apperr.New(apperr.ErrValidation, "unknown flow")
)
