package handler

import (
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"net/http"

	"github.com/dukerupert/fairway/internal/apperr"
	"github.com/dukerupert/fairway/internal/auth"
)

const maxBodyBytes = 64 << 10

func writeJSON(w http.ResponseWriter, status int, v any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	json.NewEncoder(w).Encode(v)
}

func writeError(w http.ResponseWriter, status int, msg string) {
	writeJSON(w, status, map[string]string{"error": msg})
}

// decodeJSON reads a bounded JSON body into v. An empty body leaves v
// untouched.
func decodeJSON(w http.ResponseWriter, r *http.Request, v any) error {
	dec := json.NewDecoder(http.MaxBytesReader(w, r.Body, maxBodyBytes))
	dec.DisallowUnknownFields()
	if err := dec.Decode(v); err != nil && !errors.Is(err, io.EOF) {
		return fmt.Errorf("decode request: %w", err)
	}
	return nil
}

// statusFor maps an error kind to its HTTP status.
func statusFor(err error) int {
	switch {
	case errors.Is(err, apperr.ErrValidation):
		return http.StatusBadRequest
	case errors.Is(err, auth.ErrUnauthenticated):
		return http.StatusUnauthorized
	case errors.Is(err, apperr.ErrForbidden):
		return http.StatusForbidden
	case errors.Is(err, apperr.ErrNotFound):
		return http.StatusNotFound
	case errors.Is(err, apperr.ErrAlreadyUsed),
		errors.Is(err, apperr.ErrAlreadyConfirmed),
		errors.Is(err, apperr.ErrConflict):
		return http.StatusConflict
	case errors.Is(err, apperr.ErrExpired):
		return http.StatusGone
	case errors.Is(err, apperr.ErrRateLimited):
		return http.StatusTooManyRequests
	case errors.Is(err, apperr.ErrDeliveryFailure):
		return http.StatusBadGateway
	default:
		return http.StatusInternalServerError
	}
}

// respondError writes err as a JSON error. Only domain messages reach the
// client; anything else is logged and replaced with a generic message.
func respondError(w http.ResponseWriter, logger *slog.Logger, op string, err error) {
	status := statusFor(err)

	var ve *apperr.ValidationError
	if errors.As(err, &ve) {
		writeJSON(w, status, map[string]string{"error": ve.Message, "field": ve.Field})
		return
	}

	switch {
	case errors.Is(err, auth.ErrUnauthenticated):
		writeError(w, status, "sign in required")
	case errors.Is(err, apperr.ErrDeliveryFailure):
		logger.Warn(op, "error", err)
		writeError(w, status, "we could not send the email, please try again")
	default:
		msg, ok := apperr.Public(err)
		if !ok || status == http.StatusInternalServerError {
			logger.Error(op, "error", err)
			writeError(w, http.StatusInternalServerError, "something went wrong, please try again")
			return
		}
		writeError(w, status, msg)
	}
}
