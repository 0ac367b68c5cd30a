package claim

import (
	"errors"
	"testing"

	"github.com/dukerupert/fairway/internal/model"
)

func TestNext(t *testing.T) {
	tests := []struct {
		from model.VerificationStatus
		act  Action
		want model.VerificationStatus
		err  error
	}{
		{model.VerificationInitiated, ActionSubmitEvidence, model.VerificationPending, nil},
		{model.VerificationPending, ActionSubmitEvidence, model.VerificationPending, nil},
		{model.VerificationUnderReview, ActionSubmitEvidence, model.VerificationUnderReview, ErrInvalidTransition},
		{model.VerificationPending, ActionMoveToReview, model.VerificationUnderReview, nil},
		{model.VerificationInitiated, ActionMoveToReview, model.VerificationInitiated, ErrInvalidTransition},
		{model.VerificationUnderReview, ActionMoveToReview, model.VerificationUnderReview, ErrInvalidTransition},
		{model.VerificationInitiated, ActionApprove, model.VerificationVerified, nil},
		{model.VerificationPending, ActionApprove, model.VerificationVerified, nil},
		{model.VerificationUnderReview, ActionApprove, model.VerificationVerified, nil},
		{model.VerificationInitiated, ActionReject, model.VerificationRejected, nil},
		{model.VerificationUnderReview, ActionReject, model.VerificationRejected, nil},
		{model.VerificationVerified, ActionReject, model.VerificationVerified, ErrTerminal},
		{model.VerificationRejected, ActionApprove, model.VerificationRejected, ErrTerminal},
		{model.VerificationVerified, ActionSubmitEvidence, model.VerificationVerified, ErrTerminal},
		{model.VerificationPending, Action("escalate"), model.VerificationPending, ErrUnknownAction},
	}
	for _, tt := range tests {
		got, err := Next(tt.from, tt.act)
		if got != tt.want {
			t.Errorf("Next(%s, %s) = %s, want %s", tt.from, tt.act, got, tt.want)
		}
		if !errors.Is(err, tt.err) {
			t.Errorf("Next(%s, %s) err = %v, want %v", tt.from, tt.act, err, tt.err)
		}
	}
}

func TestTerminalStatesAbsorb(t *testing.T) {
	actions := []Action{ActionSubmitEvidence, ActionMoveToReview, ActionApprove, ActionReject}
	for _, s := range []model.VerificationStatus{model.VerificationVerified, model.VerificationRejected} {
		if !IsTerminal(s) {
			t.Errorf("IsTerminal(%s) = false", s)
		}
		for _, a := range actions {
			if got, err := Next(s, a); got != s || !errors.Is(err, ErrTerminal) {
				t.Errorf("Next(%s, %s) = %s, %v", s, a, got, err)
			}
		}
	}
}

func TestEntryStatusFor(t *testing.T) {
	if got := EntryStatusFor(model.VerificationVerified); got != model.EntryStatusVerified {
		t.Errorf("verified -> %q", got)
	}
	if got := EntryStatusFor(model.VerificationRejected); got != model.EntryStatusRejected {
		t.Errorf("rejected -> %q", got)
	}
	if got := EntryStatusFor(model.VerificationUnderReview); got != model.EntryStatusVerificationPending {
		t.Errorf("under_review -> %q", got)
	}
}
