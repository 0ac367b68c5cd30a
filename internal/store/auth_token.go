package store

import (
	"context"
	"database/sql"
	"fmt"
	"time"

	"github.com/dukerupert/fairway/internal/model"
)

type AuthTokenStore struct {
	db DBTX
}

func NewAuthTokenStore(db DBTX) *AuthTokenStore {
	return &AuthTokenStore{db: db}
}

func (s *AuthTokenStore) WithTx(tx *sql.Tx) *AuthTokenStore {
	return &AuthTokenStore{db: tx}
}

func scanAuthToken(sc scanner) (*model.AuthToken, error) {
	var t model.AuthToken
	var handicap sql.NullFloat64
	var used int
	var usedAt sql.NullTime

	err := sc.Scan(
		&t.ID, &t.TokenHash, &t.Email, &t.Flow, &t.FirstName, &t.LastName, &t.Phone,
		&t.Age, &handicap, &t.Destination, &t.CreatedAt, &t.ExpiresAt, &used, &usedAt,
	)
	if err != nil {
		return nil, err
	}
	t.Handicap = floatPtr(handicap)
	t.Used = used != 0
	t.UsedAt = timePtr(usedAt)
	return &t, nil
}

const authTokenCols = `id, token_hash, email, flow, first_name, last_name, phone, age, handicap, destination, created_at, expires_at, used, used_at`

// InvalidatePending marks every unconsumed token for the email as used.
func (s *AuthTokenStore) InvalidatePending(ctx context.Context, email string, now time.Time) (int64, error) {
	result, err := s.db.ExecContext(ctx,
		`UPDATE auth_tokens SET used = 1, used_at = ? WHERE email = ? AND used = 0`,
		now.UTC(), email,
	)
	if err != nil {
		return 0, fmt.Errorf("invalidate pending tokens: %w", err)
	}
	n, err := result.RowsAffected()
	if err != nil {
		return 0, fmt.Errorf("rows affected: %w", err)
	}
	return n, nil
}

// Create inserts t. The partial unique index rejects a second unconsumed
// token for the same email, so callers invalidate first in the same tx.
func (s *AuthTokenStore) Create(ctx context.Context, t *model.AuthToken) (*model.AuthToken, error) {
	result, err := s.db.ExecContext(ctx,
		`INSERT INTO auth_tokens (token_hash, email, flow, first_name, last_name, phone, age, handicap, destination, created_at, expires_at)
		 VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?)`,
		t.TokenHash, t.Email, t.Flow, t.FirstName, t.LastName, t.Phone, t.Age,
		nullFloat(t.Handicap), t.Destination, t.CreatedAt.UTC(), t.ExpiresAt.UTC(),
	)
	if err != nil {
		return nil, fmt.Errorf("insert auth token: %w", err)
	}
	id, err := result.LastInsertId()
	if err != nil {
		return nil, fmt.Errorf("last insert id: %w", err)
	}
	row := s.db.QueryRowContext(ctx, `SELECT `+authTokenCols+` FROM auth_tokens WHERE id = ?`, id)
	return scanAuthToken(row)
}

// GetByHash returns the token regardless of its used or expiry state.
func (s *AuthTokenStore) GetByHash(ctx context.Context, hash string) (*model.AuthToken, error) {
	row := s.db.QueryRowContext(ctx, `SELECT `+authTokenCols+` FROM auth_tokens WHERE token_hash = ?`, hash)
	t, err := scanAuthToken(row)
	if err == sql.ErrNoRows {
		return nil, nil
	}
	if err != nil {
		return nil, fmt.Errorf("get auth token: %w", err)
	}
	return t, nil
}

// MarkUsed flips used from 0 to 1. It reports false when another caller
// already consumed the token.
func (s *AuthTokenStore) MarkUsed(ctx context.Context, id int64, now time.Time) (bool, error) {
	result, err := s.db.ExecContext(ctx,
		`UPDATE auth_tokens SET used = 1, used_at = ? WHERE id = ? AND used = 0`,
		now.UTC(), id,
	)
	if err != nil {
		return false, fmt.Errorf("mark auth token used: %w", err)
	}
	return affected(result)
}

// DeleteExpired removes tokens that expired before cutoff.
func (s *AuthTokenStore) DeleteExpired(ctx context.Context, cutoff time.Time) (int64, error) {
	result, err := s.db.ExecContext(ctx, `DELETE FROM auth_tokens WHERE expires_at <= ?`, cutoff.UTC())
	if err != nil {
		return 0, fmt.Errorf("delete expired auth tokens: %w", err)
	}
	count, err := result.RowsAffected()
	if err != nil {
		return 0, fmt.Errorf("rows affected: %w", err)
	}
	return count, nil
}
