package store

import (
	"context"
	"database/sql"
	"fmt"
	"time"

	"github.com/dukerupert/fairway/internal/model"
)

type VerificationStore struct {
	db DBTX
}

func NewVerificationStore(db DBTX) *VerificationStore {
	return &VerificationStore{db: db}
}

func (s *VerificationStore) WithTx(tx *sql.Tx) *VerificationStore {
	return &VerificationStore{db: tx}
}

func scanVerification(sc scanner) (*model.Verification, error) {
	var v model.Verification
	var status string
	var evidenceAt, witnessAt, decidedAt sql.NullTime
	var reviewedBy sql.NullInt64

	err := sc.Scan(
		&v.ID, &v.EntryID, &status, &evidenceAt, &witnessAt, &v.SelfieURL, &v.IDDocumentURL,
		&reviewedBy, &v.DecisionNote, &decidedAt, &v.CreatedAt, &v.UpdatedAt,
	)
	if err != nil {
		return nil, err
	}
	v.Status = model.VerificationStatus(status)
	v.EvidenceCapturedAt = timePtr(evidenceAt)
	v.WitnessConfirmedAt = timePtr(witnessAt)
	v.DecidedAt = timePtr(decidedAt)
	if reviewedBy.Valid {
		v.ReviewedBy = &reviewedBy.Int64
	}
	return &v, nil
}

const verificationCols = `id, entry_id, status, evidence_captured_at, witness_confirmed_at, selfie_url, id_document_url, reviewed_by, decision_note, decided_at, created_at, updated_at`

// Create inserts a verification for the entry, or returns the existing one.
func (s *VerificationStore) Create(ctx context.Context, id, entryID string, now time.Time) (*model.Verification, error) {
	now = now.UTC()
	_, err := s.db.ExecContext(ctx,
		`INSERT INTO verifications (id, entry_id, status, created_at, updated_at) VALUES (?, ?, ?, ?, ?)
		 ON CONFLICT(entry_id) DO NOTHING`,
		id, entryID, string(model.VerificationInitiated), now, now,
	)
	if err != nil {
		return nil, fmt.Errorf("insert verification: %w", err)
	}
	return s.GetByEntryID(ctx, entryID)
}

func (s *VerificationStore) GetByID(ctx context.Context, id string) (*model.Verification, error) {
	row := s.db.QueryRowContext(ctx, `SELECT `+verificationCols+` FROM verifications WHERE id = ?`, id)
	v, err := scanVerification(row)
	if err == sql.ErrNoRows {
		return nil, nil
	}
	if err != nil {
		return nil, fmt.Errorf("get verification: %w", err)
	}
	return v, nil
}

func (s *VerificationStore) GetByEntryID(ctx context.Context, entryID string) (*model.Verification, error) {
	row := s.db.QueryRowContext(ctx, `SELECT `+verificationCols+` FROM verifications WHERE entry_id = ?`, entryID)
	v, err := scanVerification(row)
	if err == sql.ErrNoRows {
		return nil, nil
	}
	if err != nil {
		return nil, fmt.Errorf("get verification by entry: %w", err)
	}
	return v, nil
}

// List returns verifications, optionally filtered by status, oldest first.
func (s *VerificationStore) List(ctx context.Context, status model.VerificationStatus) ([]model.Verification, error) {
	query := `SELECT ` + verificationCols + ` FROM verifications`
	var args []any
	if status != "" {
		query += ` WHERE status = ?`
		args = append(args, string(status))
	}
	query += ` ORDER BY created_at ASC`

	rows, err := s.db.QueryContext(ctx, query, args...)
	if err != nil {
		return nil, fmt.Errorf("list verifications: %w", err)
	}
	defer rows.Close()

	var out []model.Verification
	for rows.Next() {
		v, err := scanVerification(rows)
		if err != nil {
			return nil, fmt.Errorf("scan verification: %w", err)
		}
		out = append(out, *v)
	}
	return out, rows.Err()
}

// Transition moves the verification from one status to another. It reports
// false when the stored status no longer equals from.
func (s *VerificationStore) Transition(ctx context.Context, id string, from, to model.VerificationStatus, now time.Time) (bool, error) {
	now = now.UTC()
	result, err := s.db.ExecContext(ctx,
		`UPDATE verifications SET status = ?, updated_at = ? WHERE id = ? AND status = ?`,
		string(to), now, id, string(from),
	)
	if err != nil {
		return false, fmt.Errorf("transition verification: %w", err)
	}
	return affected(result)
}

// Decide applies an admin decision, compare-and-set on the current status.
func (s *VerificationStore) Decide(ctx context.Context, id string, from, to model.VerificationStatus, adminID int64, note string, now time.Time) (bool, error) {
	now = now.UTC()
	result, err := s.db.ExecContext(ctx,
		`UPDATE verifications SET status = ?, reviewed_by = ?, decision_note = ?, decided_at = ?, updated_at = ?
		 WHERE id = ? AND status = ?`,
		string(to), adminID, note, now, now, id, string(from),
	)
	if err != nil {
		return false, fmt.Errorf("decide verification: %w", err)
	}
	return affected(result)
}

// RecordEvidence stores capture URLs while the claim is initiated or pending
// and moves it to pending.
func (s *VerificationStore) RecordEvidence(ctx context.Context, id, selfieURL, idDocumentURL string, now time.Time) (bool, error) {
	now = now.UTC()
	result, err := s.db.ExecContext(ctx,
		`UPDATE verifications
		 SET selfie_url = ?, id_document_url = ?, evidence_captured_at = ?, status = ?, updated_at = ?
		 WHERE id = ? AND status IN (?, ?)`,
		selfieURL, idDocumentURL, now, string(model.VerificationPending), now,
		id, string(model.VerificationInitiated), string(model.VerificationPending),
	)
	if err != nil {
		return false, fmt.Errorf("record verification evidence: %w", err)
	}
	return affected(result)
}

// SetWitnessConfirmed sets witness_confirmed_at once.
func (s *VerificationStore) SetWitnessConfirmed(ctx context.Context, id string, at time.Time) (bool, error) {
	at = at.UTC()
	result, err := s.db.ExecContext(ctx,
		`UPDATE verifications SET witness_confirmed_at = ?, updated_at = ? WHERE id = ? AND witness_confirmed_at IS NULL`,
		at, at, id,
	)
	if err != nil {
		return false, fmt.Errorf("set witness confirmed: %w", err)
	}
	return affected(result)
}
