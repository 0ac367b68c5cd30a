package claim

import (
	"context"
	"database/sql"
	"errors"
	"log/slog"
	"net/url"
	"strings"

	"github.com/google/uuid"
	"github.com/jonboulle/clockwork"

	"github.com/dukerupert/fairway/internal/apperr"
	"github.com/dukerupert/fairway/internal/model"
	"github.com/dukerupert/fairway/internal/store"
	"github.com/dukerupert/fairway/internal/websocket"
)

const maxCASAttempts = 3

var (
	ErrClaimNotFound = apperr.New(apperr.ErrNotFound, "claim not found")
	ErrNotAWin       = apperr.New(apperr.ErrConflict, "only a reported win can be verified")
	ErrContended     = apperr.New(apperr.ErrConflict, "the claim changed while it was being updated, try again")
)

const (
	WarningNoWitness  = "witness has not confirmed"
	WarningNoEvidence = "no evidence has been captured"
)

// Publisher pushes state changes to live subscribers.
type Publisher interface {
	Publish(topic string, msg websocket.Message)
}

// Evidence holds the capture URLs produced by the upload flow.
type Evidence struct {
	SelfieURL     string `json:"selfie_url"`
	IDDocumentURL string `json:"id_document_url"`
}

// Review is what an adjudicator sees before deciding.
type Review struct {
	Verification *model.Verification `json:"verification"`
	Entry        *model.Entry        `json:"entry"`
	Warnings     []string            `json:"warnings"`
}

type Service struct {
	db            *sql.DB
	verifications *store.VerificationStore
	entries       *store.EntryStore
	clock         clockwork.Clock
	publisher     Publisher
	logger        *slog.Logger
}

func NewService(db *sql.DB, clock clockwork.Clock, publisher Publisher, logger *slog.Logger) *Service {
	return &Service{
		db:            db,
		verifications: store.NewVerificationStore(db),
		entries:       store.NewEntryStore(db),
		clock:         clock,
		publisher:     publisher,
		logger:        logger.With("component", "claim"),
	}
}

// Initiate opens the claim for a won entry. Calling it again for the same
// entry returns the existing claim.
func (s *Service) Initiate(ctx context.Context, entryID string) (*model.Verification, error) {
	e, err := s.entries.GetByID(ctx, entryID)
	if err != nil {
		return nil, apperr.Store("get entry", err)
	}
	if e == nil {
		return nil, apperr.New(apperr.ErrNotFound, "entry not found")
	}
	if e.OutcomeSelf == nil || *e.OutcomeSelf != model.OutcomeWin {
		return nil, ErrNotAWin
	}
	id := uuid.NewString()
	v, err := s.verifications.Create(ctx, id, entryID, s.clock.Now())
	if err != nil {
		return nil, apperr.Store("create verification", err)
	}
	if v.ID == id {
		s.logger.Info("claim initiated", "verification_id", v.ID, "entry_id", entryID)
	}
	return v, nil
}

func (s *Service) Get(ctx context.Context, id string) (*model.Verification, error) {
	v, err := s.verifications.GetByID(ctx, id)
	if err != nil {
		return nil, apperr.Store("get verification", err)
	}
	if v == nil {
		return nil, ErrClaimNotFound
	}
	return v, nil
}

// GetForPlayer returns the claim only when its entry belongs to playerID.
func (s *Service) GetForPlayer(ctx context.Context, id string, playerID int64) (*model.Verification, error) {
	v, err := s.Get(ctx, id)
	if err != nil {
		return nil, err
	}
	e, err := s.entries.GetByID(ctx, v.EntryID)
	if err != nil {
		return nil, apperr.Store("get entry", err)
	}
	if e == nil || e.PlayerID != playerID {
		return nil, ErrClaimNotFound
	}
	return v, nil
}

func (s *Service) GetByEntry(ctx context.Context, entryID string) (*model.Verification, error) {
	v, err := s.verifications.GetByEntryID(ctx, entryID)
	if err != nil {
		return nil, apperr.Store("get verification", err)
	}
	if v == nil {
		return nil, ErrClaimNotFound
	}
	return v, nil
}

func (s *Service) List(ctx context.Context, status model.VerificationStatus) ([]model.Verification, error) {
	switch status {
	case "", model.VerificationInitiated, model.VerificationPending, model.VerificationUnderReview,
		model.VerificationVerified, model.VerificationRejected:
	default:
		return nil, apperr.Validation("status", "unknown status")
	}
	list, err := s.verifications.List(ctx, status)
	if err != nil {
		return nil, apperr.Store("list verifications", err)
	}
	return list, nil
}

// RecordEvidence attaches capture URLs and moves the claim to pending.
func (s *Service) RecordEvidence(ctx context.Context, id string, playerID int64, ev Evidence) (*model.Verification, error) {
	if err := checkEvidenceURL("selfie_url", ev.SelfieURL); err != nil {
		return nil, err
	}
	if err := checkEvidenceURL("id_document_url", ev.IDDocumentURL); err != nil {
		return nil, err
	}
	if _, err := s.GetForPlayer(ctx, id, playerID); err != nil {
		return nil, err
	}
	return s.transition(ctx, id, ActionSubmitEvidence, func(tx *sql.Tx, _, _ model.VerificationStatus) (bool, error) {
		return s.verifications.WithTx(tx).RecordEvidence(ctx, id, ev.SelfieURL, ev.IDDocumentURL, s.clock.Now())
	})
}

// MoveToReview is the explicit admin step from pending to under_review.
func (s *Service) MoveToReview(ctx context.Context, id string, adminID int64) (*model.Verification, error) {
	v, err := s.transition(ctx, id, ActionMoveToReview, func(tx *sql.Tx, from, to model.VerificationStatus) (bool, error) {
		return s.verifications.WithTx(tx).Transition(ctx, id, from, to, s.clock.Now())
	})
	if err == nil {
		s.logger.Info("claim moved to review", "verification_id", id, "admin_id", adminID)
	}
	return v, err
}

func (s *Service) Approve(ctx context.Context, id string, adminID int64, note string) (*model.Verification, error) {
	return s.decide(ctx, id, ActionApprove, adminID, note)
}

func (s *Service) Reject(ctx context.Context, id string, adminID int64, note string) (*model.Verification, error) {
	return s.decide(ctx, id, ActionReject, adminID, note)
}

// decide records the admin decision and the entry's matching status in one
// transaction.
func (s *Service) decide(ctx context.Context, id string, a Action, adminID int64, note string) (*model.Verification, error) {
	note = strings.TrimSpace(note)
	if len(note) > 2000 {
		return nil, apperr.Validation("note", "must be at most 2000 characters")
	}
	v, err := s.transition(ctx, id, a, func(tx *sql.Tx, from, to model.VerificationStatus) (bool, error) {
		now := s.clock.Now()
		ok, err := s.verifications.WithTx(tx).Decide(ctx, id, from, to, adminID, note, now)
		if err != nil || !ok {
			return ok, err
		}
		v, err := s.verifications.WithTx(tx).GetByID(ctx, id)
		if err != nil {
			return false, err
		}
		return true, s.entries.WithTx(tx).UpdateStatus(ctx, v.EntryID, EntryStatusFor(to), now)
	})
	if err == nil {
		s.logger.Info("claim decided", "verification_id", id, "status", v.Status, "admin_id", adminID)
	}
	return v, err
}

// Review assembles the adjudication view. A missing witness confirmation
// does not block a decision but is always surfaced.
func (s *Service) Review(ctx context.Context, id string) (*Review, error) {
	v, err := s.Get(ctx, id)
	if err != nil {
		return nil, err
	}
	e, err := s.entries.GetByID(ctx, v.EntryID)
	if err != nil {
		return nil, apperr.Store("get entry", err)
	}
	r := &Review{Verification: v, Entry: e, Warnings: []string{}}
	if v.WitnessConfirmedAt == nil {
		r.Warnings = append(r.Warnings, WarningNoWitness)
	}
	if v.EvidenceCapturedAt == nil {
		r.Warnings = append(r.Warnings, WarningNoEvidence)
	}
	return r, nil
}

type applyFunc func(tx *sql.Tx, from, to model.VerificationStatus) (bool, error)

// transition validates a against the stored status and applies it with a
// compare-and-set write, re-reading when another writer got there first.
func (s *Service) transition(ctx context.Context, id string, a Action, apply applyFunc) (*model.Verification, error) {
	for range maxCASAttempts {
		v, err := s.Get(ctx, id)
		if err != nil {
			return nil, err
		}
		to, err := Next(v.Status, a)
		if err != nil {
			return nil, err
		}

		var ok bool
		err = store.InTx(ctx, s.db, func(tx *sql.Tx) error {
			var err error
			ok, err = apply(tx, v.Status, to)
			return err
		})
		if err != nil {
			if errors.Is(err, apperr.ErrStoreFailure) {
				return nil, err
			}
			return nil, apperr.Store("update verification", err)
		}
		if ok {
			updated, err := s.Get(ctx, id)
			if err != nil {
				return nil, err
			}
			s.publish(updated)
			return updated, nil
		}
	}
	return nil, ErrContended
}

func (s *Service) publish(v *model.Verification) {
	if s.publisher == nil {
		return
	}
	msg := websocket.NewMessage("verification", string(v.Status), v.ID, map[string]any{"entry_id": v.EntryID})
	s.publisher.Publish(websocket.VerificationTopic(v.ID), msg)
	s.publisher.Publish(websocket.EntryTopic(v.EntryID), msg)
}

func checkEvidenceURL(field, raw string) error {
	if raw == "" {
		return apperr.Validation(field, "is required")
	}
	u, err := url.Parse(raw)
	if err != nil || !u.IsAbs() || u.Host == "" || (u.Scheme != "https" && u.Scheme != "http") {
		return apperr.Validation(field, "must be an absolute http(s) URL")
	}
	return nil
}
