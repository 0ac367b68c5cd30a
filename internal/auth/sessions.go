package auth

import (
	"context"
	"database/sql"
	"fmt"
	"log/slog"
	"time"

	"github.com/jonboulle/clockwork"

	"github.com/dukerupert/fairway/internal/apperr"
	"github.com/dukerupert/fairway/internal/model"
	"github.com/dukerupert/fairway/internal/store"
	"github.com/dukerupert/fairway/internal/tokens"
)

// Credentials is what a client receives after login or refresh. The refresh
// token is only ever returned here; the store keeps its digest.
type Credentials struct {
	PlayerID         int64     `json:"player_id"`
	SessionID        int64     `json:"session_id"`
	Role             string    `json:"role"`
	AccessToken      string    `json:"access_token"`
	AccessExpiresAt  time.Time `json:"access_expires_at"`
	RefreshToken     string    `json:"refresh_token"`
	RefreshExpiresAt time.Time `json:"refresh_expires_at"`
}

type Sessions struct {
	db         *sql.DB
	sessions   *store.SessionStore
	players    *store.PlayerStore
	tokens     *Tokens
	clock      clockwork.Clock
	refreshTTL time.Duration
	logger     *slog.Logger
}

func NewSessions(db *sql.DB, t *Tokens, clock clockwork.Clock, refreshTTL time.Duration, logger *slog.Logger) *Sessions {
	return &Sessions{
		db:         db,
		sessions:   store.NewSessionStore(db),
		players:    store.NewPlayerStore(db),
		tokens:     t,
		clock:      clock,
		refreshTTL: refreshTTL,
		logger:     logger.With("component", "sessions"),
	}
}

// IssueTx creates a session for the player inside tx. Nothing is visible
// until the caller commits.
func (s *Sessions) IssueTx(ctx context.Context, tx *sql.Tx, p *model.Player) (*Credentials, error) {
	return s.issue(ctx, s.sessions.WithTx(tx), p)
}

func (s *Sessions) issue(ctx context.Context, ss *store.SessionStore, p *model.Player) (*Credentials, error) {
	refresh, err := tokens.Generate()
	if err != nil {
		return nil, err
	}
	now := s.clock.Now()
	sess, err := ss.Create(ctx, p.ID, tokens.Hash(refresh), now.Add(s.refreshTTL), now)
	if err != nil {
		return nil, apperr.Store("create session", err)
	}
	access, accessExp, err := s.tokens.Sign(p.ID, sess.ID, p.Role)
	if err != nil {
		return nil, err
	}
	return &Credentials{
		PlayerID:         p.ID,
		SessionID:        sess.ID,
		Role:             p.Role,
		AccessToken:      access,
		AccessExpiresAt:  accessExp,
		RefreshToken:     refresh,
		RefreshExpiresAt: sess.ExpiresAt,
	}, nil
}

// Refresh rotates a refresh token. The old session is revoked with a
// conditional write, so a replayed refresh token fails.
func (s *Sessions) Refresh(ctx context.Context, refreshToken string) (*Credentials, error) {
	old, err := s.sessions.GetByRefreshHash(ctx, tokens.Hash(refreshToken))
	if err != nil {
		return nil, apperr.Store("get session", err)
	}
	now := s.clock.Now()
	if old == nil || old.RevokedAt != nil || !now.Before(old.ExpiresAt) {
		return nil, ErrUnauthenticated
	}

	var creds *Credentials
	err = store.InTx(ctx, s.db, func(tx *sql.Tx) error {
		ss := s.sessions.WithTx(tx)
		revoked, err := ss.Revoke(ctx, old.ID, now)
		if err != nil {
			return apperr.Store("revoke session", err)
		}
		if !revoked {
			return ErrUnauthenticated
		}
		p, err := s.players.WithTx(tx).GetByID(ctx, old.PlayerID)
		if err != nil {
			return apperr.Store("get player", err)
		}
		if p == nil {
			return ErrUnauthenticated
		}
		creds, err = s.issue(ctx, ss, p)
		return err
	})
	if err != nil {
		return nil, err
	}
	s.logger.Info("session refreshed", "player_id", creds.PlayerID, "old_session", old.ID, "session_id", creds.SessionID)
	return creds, nil
}

// Revoke ends a session. Revoking an already revoked session is not an error.
func (s *Sessions) Revoke(ctx context.Context, sessionID int64) error {
	if _, err := s.sessions.Revoke(ctx, sessionID, s.clock.Now()); err != nil {
		return apperr.Store("revoke session", err)
	}
	return nil
}

// Authenticate parses an access token and checks that its session is live.
// The role is read from the player row, so a role change applies to the
// next request rather than the next token.
func (s *Sessions) Authenticate(ctx context.Context, accessToken string) (AuthContext, error) {
	claims, err := s.tokens.Parse(accessToken)
	if err != nil {
		return AuthContext{}, err
	}
	sess, err := s.sessions.GetByID(ctx, claims.SessionID)
	if err != nil {
		return AuthContext{}, apperr.Store("get session", err)
	}
	playerID, _ := claims.PlayerID()
	if sess == nil || sess.PlayerID != playerID || sess.RevokedAt != nil || !s.clock.Now().Before(sess.ExpiresAt) {
		return AuthContext{}, ErrUnauthenticated
	}
	p, err := s.players.GetByID(ctx, playerID)
	if err != nil {
		return AuthContext{}, apperr.Store("get player", err)
	}
	if p == nil {
		return AuthContext{}, ErrUnauthenticated
	}
	return AuthContext{PlayerID: playerID, SessionID: sess.ID, Role: p.Role}, nil
}

// CleanupExpired deletes sessions whose refresh credential has expired.
func (s *Sessions) CleanupExpired(ctx context.Context) (int64, error) {
	n, err := s.sessions.DeleteExpired(ctx, s.clock.Now())
	if err != nil {
		return 0, fmt.Errorf("cleanup sessions: %w", err)
	}
	return n, nil
}
