// Package claim governs a reported win from initiation through adjudication.
package claim

import (
	"github.com/dukerupert/fairway/internal/apperr"
	"github.com/dukerupert/fairway/internal/model"
)

type Action string

const (
	ActionSubmitEvidence Action = "submit_evidence"
	ActionMoveToReview   Action = "move_to_review"
	ActionApprove        Action = "approve"
	ActionReject         Action = "reject"
)

var (
	ErrTerminal          = apperr.New(apperr.ErrConflict, "this claim has already been decided")
	ErrInvalidTransition = apperr.New(apperr.ErrConflict, "that action is not allowed in the claim's current state")
	ErrUnknownAction     = apperr.New(apperr.ErrValidation, "unknown claim action")
)

// IsTerminal reports whether no further transition is possible.
func IsTerminal(s model.VerificationStatus) bool {
	return s == model.VerificationVerified || s == model.VerificationRejected
}

// Next returns the status reached by applying a to a claim in from.
// Evidence moves a claim forward to pending; review is reachable only from
// pending; approve and reject are allowed from any open state.
func Next(from model.VerificationStatus, a Action) (model.VerificationStatus, error) {
	if IsTerminal(from) {
		return from, ErrTerminal
	}
	switch a {
	case ActionSubmitEvidence:
		if from == model.VerificationInitiated || from == model.VerificationPending {
			return model.VerificationPending, nil
		}
		return from, ErrInvalidTransition
	case ActionMoveToReview:
		if from == model.VerificationPending {
			return model.VerificationUnderReview, nil
		}
		return from, ErrInvalidTransition
	case ActionApprove:
		return model.VerificationVerified, nil
	case ActionReject:
		return model.VerificationRejected, nil
	default:
		return from, ErrUnknownAction
	}
}

// EntryStatusFor maps a decided claim onto its entry's status.
func EntryStatusFor(s model.VerificationStatus) string {
	switch s {
	case model.VerificationVerified:
		return model.EntryStatusVerified
	case model.VerificationRejected:
		return model.EntryStatusRejected
	default:
		return model.EntryStatusVerificationPending
	}
}
