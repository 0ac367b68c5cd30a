package handler

import (
	"errors"
	"log/slog"
	"net/http"

	"github.com/dukerupert/fairway/internal/apperr"
	"github.com/dukerupert/fairway/internal/middleware"
	"github.com/dukerupert/fairway/internal/witness"
)

type WitnessHandler struct {
	witnesses *witness.Service
	pages     *pages
	logger    *slog.Logger
}

func NewWitnessHandler(ws *witness.Service, logger *slog.Logger) *WitnessHandler {
	return &WitnessHandler{witnesses: ws, pages: loadPages(), logger: logger}
}

// Confirm handles a witness clicking their link. Every outcome renders a
// plain HTML page; a repeat visit is shown as already confirmed rather than
// as an error.
func (h *WitnessHandler) Confirm(w http.ResponseWriter, r *http.Request) {
	q := r.URL.Query()
	res, err := h.witnesses.Confirm(r.Context(), q.Get("id"), q.Get("token"), witness.Meta{
		UserAgent: r.UserAgent(),
		RemoteIP:  middleware.RealIP(r),
	})

	switch {
	case err == nil && res.AlreadyConfirmed:
		h.pages.render(w, http.StatusOK, page{
			Title:   "Already confirmed",
			Heading: "Already confirmed",
			Message: "You have already confirmed this hole-in-one. Thank you, there is nothing more to do.",
			Detail:  "Confirmed " + res.Confirmation.ConfirmedAt.Format("2 Jan 2006 15:04 MST"),
			OK:      true,
		}, h.logger)
	case err == nil:
		h.pages.render(w, http.StatusOK, page{
			Title:   "Thank you",
			Heading: "Thank you for confirming",
			Message: "Your confirmation has been recorded and passed to the competition organisers.",
			OK:      true,
		}, h.logger)
	case errors.Is(err, apperr.ErrExpired):
		h.pages.render(w, http.StatusGone, page{
			Title:   "Link expired",
			Heading: "This link has expired",
			Message: "Ask the player to send you a new confirmation link.",
		}, h.logger)
	case errors.Is(err, apperr.ErrConflict):
		h.pages.render(w, http.StatusConflict, page{
			Title:   "Claim closed",
			Heading: "This claim has already been decided",
			Message: "The organisers have finished reviewing this hole-in-one, so no confirmation is needed.",
		}, h.logger)
	case errors.Is(err, apperr.ErrNotFound):
		h.pages.render(w, http.StatusNotFound, page{
			Title:   "Invalid link",
			Heading: "This link is not valid",
			Message: "Check that you opened the full link from your email, or ask the player to send a new one.",
		}, h.logger)
	default:
		h.logger.Error("confirm witness", "error", err)
		h.pages.render(w, http.StatusInternalServerError, page{
			Title:   "Something went wrong",
			Heading: "Something went wrong",
			Message: "We could not record your confirmation. Please try the link again in a few minutes.",
		}, h.logger)
	}
}
