package handler

import (
	"errors"
	"log/slog"
	"net/http"
	"time"

	"github.com/dukerupert/fairway/internal/apperr"
	"github.com/dukerupert/fairway/internal/auth"
	"github.com/dukerupert/fairway/internal/claim"
	"github.com/dukerupert/fairway/internal/model"
	"github.com/dukerupert/fairway/internal/websocket"
	"github.com/dukerupert/fairway/internal/witness"
)

type VerificationHandler struct {
	claims    *claim.Service
	witnesses *witness.Service
	hub       *websocket.Hub
	origins   []string
	logger    *slog.Logger
}

func NewVerificationHandler(cs *claim.Service, ws *witness.Service, hub *websocket.Hub, origins []string, logger *slog.Logger) *VerificationHandler {
	return &VerificationHandler{claims: cs, witnesses: ws, hub: hub, origins: origins, logger: logger}
}

func (h *VerificationHandler) Get(w http.ResponseWriter, r *http.Request) {
	v, err := h.claims.GetForPlayer(r.Context(), r.PathValue("id"), auth.PlayerID(r.Context()))
	if err != nil {
		respondError(w, h.logger, "get verification", err)
		return
	}
	writeJSON(w, http.StatusOK, v)
}

func (h *VerificationHandler) SubmitEvidence(w http.ResponseWriter, r *http.Request) {
	var req claim.Evidence
	if err := decodeJSON(w, r, &req); err != nil {
		writeError(w, http.StatusBadRequest, "invalid JSON")
		return
	}

	v, err := h.claims.RecordEvidence(r.Context(), r.PathValue("id"), auth.PlayerID(r.Context()), req)
	if err != nil {
		respondError(w, h.logger, "record evidence", err)
		return
	}
	writeJSON(w, http.StatusOK, v)
}

type witnessResponse struct {
	WitnessID string    `json:"witness_id"`
	ExpiresAt time.Time `json:"expires_at"`
	Emailed   bool      `json:"emailed"`
	Link      string    `json:"link,omitempty"`
}

// RequestWitness issues a confirmation link for the claim. When the witness
// has an email address the link goes only to them; otherwise it is returned
// so the player can pass it on.
func (h *VerificationHandler) RequestWitness(w http.ResponseWriter, r *http.Request) {
	var req witness.Contact
	if err := decodeJSON(w, r, &req); err != nil {
		writeError(w, http.StatusBadRequest, "invalid JSON")
		return
	}

	iss, err := h.witnesses.Issue(r.Context(), r.PathValue("id"), auth.PlayerID(r.Context()), req)
	if err != nil {
		respondError(w, h.logger, "issue witness link", err)
		return
	}

	resp := witnessResponse{
		WitnessID: iss.Confirmation.ID,
		ExpiresAt: iss.Confirmation.ExpiresAt,
		Emailed:   iss.Receipt != nil,
	}
	if iss.Confirmation.WitnessEmail == "" {
		resp.Link = iss.Link
	}
	writeJSON(w, http.StatusCreated, resp)
}

// Events subscribes the claim owner to live updates for the claim.
func (h *VerificationHandler) Events(w http.ResponseWriter, r *http.Request) {
	v, err := h.claims.GetForPlayer(r.Context(), r.PathValue("id"), auth.PlayerID(r.Context()))
	if err != nil {
		respondError(w, h.logger, "verification events", err)
		return
	}
	topic := websocket.VerificationTopic(v.ID)
	websocket.HandleTopic(h.hub, func(*http.Request) string { return topic }, h.origins, h.logger)(w, r)
}

// Admin endpoints.

func (h *VerificationHandler) AdminList(w http.ResponseWriter, r *http.Request) {
	list, err := h.claims.List(r.Context(), model.VerificationStatus(r.URL.Query().Get("status")))
	if err != nil {
		respondError(w, h.logger, "list verifications", err)
		return
	}
	if list == nil {
		list = []model.Verification{}
	}
	writeJSON(w, http.StatusOK, list)
}

// AdminGet returns the adjudication view, including warnings such as a
// missing witness confirmation.
func (h *VerificationHandler) AdminGet(w http.ResponseWriter, r *http.Request) {
	rv, err := h.claims.Review(r.Context(), r.PathValue("id"))
	if err != nil {
		respondError(w, h.logger, "review verification", err)
		return
	}
	writeJSON(w, http.StatusOK, rv)
}

func (h *VerificationHandler) AdminMoveToReview(w http.ResponseWriter, r *http.Request) {
	v, err := h.claims.MoveToReview(r.Context(), r.PathValue("id"), auth.PlayerID(r.Context()))
	if err != nil {
		respondError(w, h.logger, "move to review", err)
		return
	}
	writeJSON(w, http.StatusOK, v)
}

type decisionRequest struct {
	Note string `json:"note"`
}

func (h *VerificationHandler) AdminApprove(w http.ResponseWriter, r *http.Request) {
	h.decide(w, r, claim.ActionApprove)
}

func (h *VerificationHandler) AdminReject(w http.ResponseWriter, r *http.Request) {
	h.decide(w, r, claim.ActionReject)
}

func (h *VerificationHandler) decide(w http.ResponseWriter, r *http.Request, a claim.Action) {
	var req decisionRequest
	if err := decodeJSON(w, r, &req); err != nil {
		writeError(w, http.StatusBadRequest, "invalid JSON")
		return
	}
	if len(req.Note) > 2000 {
		respondError(w, h.logger, "decide verification", apperr.Validation("note", "must be at most 2000 characters"))
		return
	}

	id := r.PathValue("id")
	adminID := auth.PlayerID(r.Context())

	var (
		v   *model.Verification
		err error
	)
	switch a {
	case claim.ActionApprove:
		v, err = h.claims.Approve(r.Context(), id, adminID, req.Note)
	case claim.ActionReject:
		v, err = h.claims.Reject(r.Context(), id, adminID, req.Note)
	default:
		err = claim.ErrUnknownAction
	}
	if err != nil {
		if errors.Is(err, claim.ErrTerminal) {
			h.logger.Info("decision on closed claim", "verification_id", id, "action", a)
		}
		respondError(w, h.logger, "decide verification", err)
		return
	}
	writeJSON(w, http.StatusOK, v)
}
