package store

import (
	"context"
	"database/sql"
	"fmt"
	"time"

	"github.com/dukerupert/fairway/internal/model"
)

type WitnessStore struct {
	db DBTX
}

func NewWitnessStore(db DBTX) *WitnessStore {
	return &WitnessStore{db: db}
}

func (s *WitnessStore) WithTx(tx *sql.Tx) *WitnessStore {
	return &WitnessStore{db: tx}
}

func scanWitness(sc scanner) (*model.WitnessConfirmation, error) {
	var w model.WitnessConfirmation
	var confirmedAt sql.NullTime
	err := sc.Scan(
		&w.ID, &w.VerificationID, &w.TokenHash, &w.WitnessName, &w.WitnessEmail,
		&w.CreatedAt, &w.ExpiresAt, &confirmedAt, &w.UserAgent, &w.Origin,
	)
	if err != nil {
		return nil, err
	}
	w.ConfirmedAt = timePtr(confirmedAt)
	return &w, nil
}

const witnessCols = `id, verification_id, token_hash, witness_name, witness_email, created_at, expires_at, confirmed_at, user_agent, origin`

// ExpireActive ends every unconfirmed, unexpired token of the verification.
func (s *WitnessStore) ExpireActive(ctx context.Context, verificationID string, now time.Time) (int64, error) {
	now = now.UTC()
	result, err := s.db.ExecContext(ctx,
		`UPDATE witness_confirmations SET expires_at = ?
		 WHERE verification_id = ? AND confirmed_at IS NULL AND expires_at > ?`,
		now, verificationID, now,
	)
	if err != nil {
		return 0, fmt.Errorf("expire active witness tokens: %w", err)
	}
	n, err := result.RowsAffected()
	if err != nil {
		return 0, fmt.Errorf("rows affected: %w", err)
	}
	return n, nil
}

func (s *WitnessStore) Create(ctx context.Context, w *model.WitnessConfirmation) (*model.WitnessConfirmation, error) {
	_, err := s.db.ExecContext(ctx,
		`INSERT INTO witness_confirmations (id, verification_id, token_hash, witness_name, witness_email, created_at, expires_at)
		 VALUES (?, ?, ?, ?, ?, ?, ?)`,
		w.ID, w.VerificationID, w.TokenHash, w.WitnessName, w.WitnessEmail, w.CreatedAt.UTC(), w.ExpiresAt.UTC(),
	)
	if err != nil {
		return nil, fmt.Errorf("insert witness confirmation: %w", err)
	}
	return s.GetByID(ctx, w.ID)
}

func (s *WitnessStore) GetByID(ctx context.Context, id string) (*model.WitnessConfirmation, error) {
	row := s.db.QueryRowContext(ctx, `SELECT `+witnessCols+` FROM witness_confirmations WHERE id = ?`, id)
	w, err := scanWitness(row)
	if err == sql.ErrNoRows {
		return nil, nil
	}
	if err != nil {
		return nil, fmt.Errorf("get witness confirmation: %w", err)
	}
	return w, nil
}

// GetByToken looks a token up by the (verification, token digest) pair.
func (s *WitnessStore) GetByToken(ctx context.Context, verificationID, tokenHash string) (*model.WitnessConfirmation, error) {
	row := s.db.QueryRowContext(ctx,
		`SELECT `+witnessCols+` FROM witness_confirmations WHERE verification_id = ? AND token_hash = ?`,
		verificationID, tokenHash,
	)
	w, err := scanWitness(row)
	if err == sql.ErrNoRows {
		return nil, nil
	}
	if err != nil {
		return nil, fmt.Errorf("get witness confirmation by token: %w", err)
	}
	return w, nil
}

// Confirm sets confirmed_at and the visit metadata once. It reports false
// when the token was already confirmed.
func (s *WitnessStore) Confirm(ctx context.Context, id, userAgent, origin string, now time.Time) (bool, error) {
	result, err := s.db.ExecContext(ctx,
		`UPDATE witness_confirmations SET confirmed_at = ?, user_agent = ?, origin = ?
		 WHERE id = ? AND confirmed_at IS NULL`,
		now.UTC(), userAgent, origin, id,
	)
	if err != nil {
		return false, fmt.Errorf("confirm witness: %w", err)
	}
	return affected(result)
}
