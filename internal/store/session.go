package store

import (
	"context"
	"database/sql"
	"fmt"
	"time"

	"github.com/dukerupert/fairway/internal/model"
)

type SessionStore struct {
	db DBTX
}

func NewSessionStore(db DBTX) *SessionStore {
	return &SessionStore{db: db}
}

func (s *SessionStore) WithTx(tx *sql.Tx) *SessionStore {
	return &SessionStore{db: tx}
}

func scanSession(sc scanner) (*model.Session, error) {
	var sess model.Session
	var revokedAt sql.NullTime
	err := sc.Scan(&sess.ID, &sess.PlayerID, &sess.RefreshHash, &sess.ExpiresAt, &revokedAt, &sess.CreatedAt)
	if err != nil {
		return nil, err
	}
	sess.RevokedAt = timePtr(revokedAt)
	return &sess, nil
}

const sessionCols = `id, player_id, refresh_hash, expires_at, revoked_at, created_at`

func (s *SessionStore) Create(ctx context.Context, playerID int64, refreshHash string, expiresAt, now time.Time) (*model.Session, error) {
	result, err := s.db.ExecContext(ctx,
		`INSERT INTO sessions (player_id, refresh_hash, expires_at, created_at) VALUES (?, ?, ?, ?)`,
		playerID, refreshHash, expiresAt.UTC(), now.UTC(),
	)
	if err != nil {
		return nil, fmt.Errorf("insert session: %w", err)
	}
	id, err := result.LastInsertId()
	if err != nil {
		return nil, fmt.Errorf("last insert id: %w", err)
	}
	return s.GetByID(ctx, id)
}

func (s *SessionStore) GetByID(ctx context.Context, id int64) (*model.Session, error) {
	row := s.db.QueryRowContext(ctx, `SELECT `+sessionCols+` FROM sessions WHERE id = ?`, id)
	sess, err := scanSession(row)
	if err == sql.ErrNoRows {
		return nil, nil
	}
	if err != nil {
		return nil, fmt.Errorf("get session: %w", err)
	}
	return sess, nil
}

// GetByRefreshHash returns the session regardless of expiry or revocation;
// callers decide what a stale session means.
func (s *SessionStore) GetByRefreshHash(ctx context.Context, hash string) (*model.Session, error) {
	row := s.db.QueryRowContext(ctx, `SELECT `+sessionCols+` FROM sessions WHERE refresh_hash = ?`, hash)
	sess, err := scanSession(row)
	if err == sql.ErrNoRows {
		return nil, nil
	}
	if err != nil {
		return nil, fmt.Errorf("get session by refresh hash: %w", err)
	}
	return sess, nil
}

// Revoke marks the session revoked. It reports false if it was already revoked.
func (s *SessionStore) Revoke(ctx context.Context, id int64, now time.Time) (bool, error) {
	result, err := s.db.ExecContext(ctx,
		`UPDATE sessions SET revoked_at = ? WHERE id = ? AND revoked_at IS NULL`,
		now.UTC(), id,
	)
	if err != nil {
		return false, fmt.Errorf("revoke session: %w", err)
	}
	return affected(result)
}

func (s *SessionStore) DeleteExpired(ctx context.Context, now time.Time) (int64, error) {
	result, err := s.db.ExecContext(ctx, `DELETE FROM sessions WHERE expires_at <= ?`, now.UTC())
	if err != nil {
		return 0, fmt.Errorf("delete expired sessions: %w", err)
	}
	count, err := result.RowsAffected()
	if err != nil {
		return 0, fmt.Errorf("rows affected: %w", err)
	}
	return count, nil
}
