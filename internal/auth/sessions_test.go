package auth

import (
	"context"
	"database/sql"
	"errors"
	"io"
	"log/slog"
	"testing"
	"time"

	"github.com/jonboulle/clockwork"

	"github.com/dukerupert/fairway/internal/database"
	"github.com/dukerupert/fairway/internal/model"
	"github.com/dukerupert/fairway/internal/store"
)

var testNow = time.Date(2026, 6, 1, 12, 0, 0, 0, time.UTC)

func setupSessions(t *testing.T) (*Sessions, *sql.DB, *clockwork.FakeClock, *model.Player) {
	t.Helper()
	db, err := database.Open(":memory:")
	if err != nil {
		t.Fatalf("open test db: %v", err)
	}
	t.Cleanup(func() { db.Close() })

	clock := clockwork.NewFakeClockAt(testNow)
	p, err := store.NewPlayerStore(db).GetOrCreate(context.Background(), "john@example.com", model.RolePlayer, testNow)
	if err != nil {
		t.Fatalf("create player: %v", err)
	}
	logger := slog.New(slog.NewTextHandler(io.Discard, nil))
	s := NewSessions(db, NewTokens("test-secret", 15*time.Minute, clock), clock, 720*time.Hour, logger)
	return s, db, clock, p
}

func issueSession(t *testing.T, s *Sessions, db *sql.DB, p *model.Player) *Credentials {
	t.Helper()
	var creds *Credentials
	err := store.InTx(context.Background(), db, func(tx *sql.Tx) error {
		var err error
		creds, err = s.IssueTx(context.Background(), tx, p)
		return err
	})
	if err != nil {
		t.Fatalf("issue session: %v", err)
	}
	return creds
}

func TestIssueAndAuthenticate(t *testing.T) {
	s, db, _, p := setupSessions(t)
	creds := issueSession(t, s, db, p)

	if creds.AccessToken == "" || creds.RefreshToken == "" {
		t.Fatal("expected access and refresh tokens")
	}
	if !creds.RefreshExpiresAt.Equal(testNow.Add(720 * time.Hour)) {
		t.Errorf("RefreshExpiresAt = %v", creds.RefreshExpiresAt)
	}

	ac, err := s.Authenticate(context.Background(), creds.AccessToken)
	if err != nil {
		t.Fatalf("authenticate: %v", err)
	}
	if ac.PlayerID != p.ID || ac.SessionID != creds.SessionID || ac.Role != model.RolePlayer {
		t.Errorf("auth context = %+v", ac)
	}
}

func TestAuthenticateUsesCurrentRole(t *testing.T) {
	s, db, _, p := setupSessions(t)
	creds := issueSession(t, s, db, p)

	if _, err := db.Exec(`UPDATE players SET role = ? WHERE id = ?`, model.RoleAdmin, p.ID); err != nil {
		t.Fatalf("promote player: %v", err)
	}
	ac, err := s.Authenticate(context.Background(), creds.AccessToken)
	if err != nil {
		t.Fatalf("authenticate: %v", err)
	}
	if ac.Role != model.RoleAdmin {
		t.Errorf("Role = %q, want %q", ac.Role, model.RoleAdmin)
	}

	if _, err := db.Exec(`UPDATE players SET role = ? WHERE id = ?`, model.RolePlayer, p.ID); err != nil {
		t.Fatalf("demote player: %v", err)
	}
	ac, err = s.Authenticate(context.Background(), creds.AccessToken)
	if err != nil {
		t.Fatalf("authenticate: %v", err)
	}
	if ac.Role != model.RolePlayer {
		t.Errorf("Role = %q after demotion, want %q", ac.Role, model.RolePlayer)
	}
}

func TestAuthenticateExpiredAccessToken(t *testing.T) {
	s, db, clock, p := setupSessions(t)
	creds := issueSession(t, s, db, p)

	clock.Advance(16 * time.Minute)
	_, err := s.Authenticate(context.Background(), creds.AccessToken)
	if !errors.Is(err, ErrUnauthenticated) {
		t.Fatalf("err = %v, want ErrUnauthenticated", err)
	}
}

func TestAuthenticateWrongSecret(t *testing.T) {
	s, db, clock, p := setupSessions(t)
	creds := issueSession(t, s, db, p)

	other := NewTokens("other-secret", 15*time.Minute, clock)
	if _, err := other.Parse(creds.AccessToken); !errors.Is(err, ErrUnauthenticated) {
		t.Fatalf("err = %v, want ErrUnauthenticated", err)
	}
}

func TestRevokeEndsSession(t *testing.T) {
	s, db, _, p := setupSessions(t)
	creds := issueSession(t, s, db, p)

	if err := s.Revoke(context.Background(), creds.SessionID); err != nil {
		t.Fatalf("revoke: %v", err)
	}
	if err := s.Revoke(context.Background(), creds.SessionID); err != nil {
		t.Fatalf("second revoke: %v", err)
	}
	if _, err := s.Authenticate(context.Background(), creds.AccessToken); !errors.Is(err, ErrUnauthenticated) {
		t.Fatalf("err = %v, want ErrUnauthenticated", err)
	}
}

func TestRefreshRotates(t *testing.T) {
	s, db, clock, p := setupSessions(t)
	creds := issueSession(t, s, db, p)

	clock.Advance(time.Hour)
	next, err := s.Refresh(context.Background(), creds.RefreshToken)
	if err != nil {
		t.Fatalf("refresh: %v", err)
	}
	if next.SessionID == creds.SessionID {
		t.Error("expected a new session")
	}
	if next.RefreshToken == creds.RefreshToken {
		t.Error("expected a new refresh token")
	}

	if _, err := s.Refresh(context.Background(), creds.RefreshToken); !errors.Is(err, ErrUnauthenticated) {
		t.Fatalf("replayed refresh err = %v, want ErrUnauthenticated", err)
	}
	if _, err := s.Authenticate(context.Background(), next.AccessToken); err != nil {
		t.Fatalf("authenticate rotated: %v", err)
	}
}

func TestRefreshExpired(t *testing.T) {
	s, db, clock, p := setupSessions(t)
	creds := issueSession(t, s, db, p)

	clock.Advance(721 * time.Hour)
	if _, err := s.Refresh(context.Background(), creds.RefreshToken); !errors.Is(err, ErrUnauthenticated) {
		t.Fatalf("err = %v, want ErrUnauthenticated", err)
	}

	n, err := s.CleanupExpired(context.Background())
	if err != nil {
		t.Fatalf("cleanup: %v", err)
	}
	if n != 1 {
		t.Errorf("cleaned = %d, want 1", n)
	}
}

func TestRefreshUnknownToken(t *testing.T) {
	s, _, _, _ := setupSessions(t)
	if _, err := s.Refresh(context.Background(), "nope"); !errors.Is(err, ErrUnauthenticated) {
		t.Fatalf("err = %v, want ErrUnauthenticated", err)
	}
}
