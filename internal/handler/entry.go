package handler

import (
	"context"
	"errors"
	"log/slog"
	"math"
	"net/http"

	"github.com/dukerupert/fairway/internal/attempt"
	"github.com/dukerupert/fairway/internal/auth"
	"github.com/dukerupert/fairway/internal/claim"
	"github.com/dukerupert/fairway/internal/model"
	"github.com/dukerupert/fairway/internal/websocket"
)

type EntryHandler struct {
	attempts *attempt.Controller
	claims   *claim.Service
	hub      *websocket.Hub
	origins  []string
	logger   *slog.Logger
}

func NewEntryHandler(ac *attempt.Controller, cs *claim.Service, hub *websocket.Hub, origins []string, logger *slog.Logger) *EntryHandler {
	return &EntryHandler{attempts: ac, claims: cs, hub: hub, origins: origins, logger: logger}
}

type createEntryRequest struct {
	CompetitionID string `json:"competition_id"`
}

func (h *EntryHandler) Create(w http.ResponseWriter, r *http.Request) {
	var req createEntryRequest
	if err := decodeJSON(w, r, &req); err != nil {
		writeError(w, http.StatusBadRequest, "invalid JSON")
		return
	}

	e, err := h.attempts.Start(r.Context(), auth.PlayerID(r.Context()), req.CompetitionID)
	if err != nil {
		respondError(w, h.logger, "start entry", err)
		return
	}
	writeJSON(w, http.StatusCreated, h.view(e))
}

func (h *EntryHandler) List(w http.ResponseWriter, r *http.Request) {
	entries, err := h.attempts.List(r.Context(), auth.PlayerID(r.Context()))
	if err != nil {
		respondError(w, h.logger, "list entries", err)
		return
	}
	out := make([]entryView, 0, len(entries))
	for i := range entries {
		out = append(out, h.view(&entries[i]))
	}
	writeJSON(w, http.StatusOK, out)
}

func (h *EntryHandler) Get(w http.ResponseWriter, r *http.Request) {
	e, err := h.attempts.GetForPlayer(r.Context(), r.PathValue("id"), auth.PlayerID(r.Context()))
	if err != nil {
		respondError(w, h.logger, "get entry", err)
		return
	}
	writeJSON(w, http.StatusOK, h.view(e))
}

type outcomeRequest struct {
	Outcome model.Outcome `json:"outcome"`
}

// ReportOutcome records the player's own result. A win's claim is written
// with the report; it is returned so the player can continue to evidence
// capture.
func (h *EntryHandler) ReportOutcome(w http.ResponseWriter, r *http.Request) {
	var req outcomeRequest
	if err := decodeJSON(w, r, &req); err != nil {
		writeError(w, http.StatusBadRequest, "invalid JSON")
		return
	}

	e, err := h.attempts.Report(r.Context(), r.PathValue("id"), auth.PlayerID(r.Context()), req.Outcome)
	if err != nil {
		respondError(w, h.logger, "report outcome", err)
		return
	}

	resp := map[string]any{"entry": h.view(e)}
	if *e.OutcomeSelf == model.OutcomeWin {
		v, err := h.claims.Initiate(r.Context(), e.ID)
		if err != nil {
			respondError(w, h.logger, "initiate claim", err)
			return
		}
		resp["verification"] = v
	}
	writeJSON(w, http.StatusOK, resp)
}

// Countdown streams one tick per second over a WebSocket until the window
// closes. The connection stays subscribed to the entry topic afterwards, so
// the client also hears about later state changes.
func (h *EntryHandler) Countdown(w http.ResponseWriter, r *http.Request) {
	e, err := h.attempts.GetForPlayer(r.Context(), r.PathValue("id"), auth.PlayerID(r.Context()))
	if err != nil {
		respondError(w, h.logger, "countdown", err)
		return
	}

	conn, ok := websocket.Accept(w, r, h.origins, h.logger)
	if !ok {
		return
	}
	client := websocket.NewClient(h.hub, conn, websocket.EntryTopic(e.ID))
	client.Run(r.Context(), func(ctx context.Context) {
		err := h.attempts.Watch(ctx, e.ID, func(t attempt.Tick) {
			h.hub.SendTo(client, websocket.NewMessage("entry", "tick", t.EntryID, map[string]any{
				"remaining_seconds": t.Seconds,
				"resolved":          t.Resolved,
				"outcome":           t.Outcome,
			}))
		})
		if err != nil && !errors.Is(err, context.Canceled) {
			h.logger.Warn("countdown stopped", "entry_id", e.ID, "error", err)
		}
	})
}

type entryView struct {
	*model.Entry
	RemainingSeconds int `json:"remaining_seconds"`
}

func (h *EntryHandler) view(e *model.Entry) entryView {
	v := entryView{Entry: e}
	if !e.Resolved() {
		v.RemainingSeconds = int(math.Ceil(h.attempts.Remaining(e).Seconds()))
	}
	return v
}
