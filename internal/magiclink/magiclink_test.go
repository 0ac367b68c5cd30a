package magiclink

import (
	"context"
	"database/sql"
	"errors"
	"io"
	"log/slog"
	"strings"
	"sync"
	"testing"
	"time"

	"github.com/jonboulle/clockwork"

	"github.com/dukerupert/fairway/internal/apperr"
	"github.com/dukerupert/fairway/internal/auth"
	"github.com/dukerupert/fairway/internal/database"
	"github.com/dukerupert/fairway/internal/email"
	"github.com/dukerupert/fairway/internal/model"
	"github.com/dukerupert/fairway/internal/store"
	"github.com/dukerupert/fairway/internal/tokens"
)

var testNow = time.Date(2026, 6, 1, 12, 0, 0, 0, time.UTC)

type sentMessage struct {
	to, subject, body string
}

type fakeSender struct {
	mu   sync.Mutex
	sent []sentMessage
	err  error
}

func (f *fakeSender) Send(_ context.Context, to, subject, body string) (email.Receipt, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	if f.err != nil {
		return email.Receipt{}, f.err
	}
	f.sent = append(f.sent, sentMessage{to, subject, body})
	return email.Receipt{ID: "msg-1", Provider: "fake", AcceptedAt: testNow}, nil
}

type fixture struct {
	db       *sql.DB
	clock    *clockwork.FakeClock
	sender   *fakeSender
	issuer   *Issuer
	redeemer *Redeemer
}

func setup(t *testing.T) *fixture {
	t.Helper()
	db, err := database.Open(":memory:")
	if err != nil {
		t.Fatalf("open test db: %v", err)
	}
	t.Cleanup(func() { db.Close() })

	clock := clockwork.NewFakeClockAt(testNow)
	logger := slog.New(slog.NewTextHandler(io.Discard, nil))
	flows, err := LoadFlows("")
	if err != nil {
		t.Fatalf("load flows: %v", err)
	}
	policy, err := NewDestinationPolicy("https://fairway.test", []string{"club.example.com"})
	if err != nil {
		t.Fatalf("policy: %v", err)
	}
	sender := &fakeSender{}
	sessions := auth.NewSessions(db, auth.NewTokens("secret", 15*time.Minute, clock), clock, 720*time.Hour, logger)

	return &fixture{
		db:       db,
		clock:    clock,
		sender:   sender,
		issuer:   NewIssuer(db, sender, flows, policy, "https://fairway.test/", clock, logger),
		redeemer: NewRedeemer(db, sessions, []string{"Admin@Example.com"}, clock, logger),
	}
}

func johnIntent() EntryIntent {
	return NewEntryIntent(ProfileInput{Email: "john@example.com"})
}

func TestIssueAndRedeem(t *testing.T) {
	f := setup(t)
	ctx := context.Background()

	iss, err := f.issuer.Issue(ctx, "otp", johnIntent(), "/entry/123")
	if err != nil {
		t.Fatalf("issue: %v", err)
	}
	if !iss.ExpiresAt.Equal(testNow.Add(15 * time.Minute)) {
		t.Errorf("ExpiresAt = %v, want %v", iss.ExpiresAt, testNow.Add(15*time.Minute))
	}
	if len(f.sender.sent) != 1 {
		t.Fatalf("sent = %d, want 1", len(f.sender.sent))
	}
	if f.sender.sent[0].to != "john@example.com" {
		t.Errorf("to = %q", f.sender.sent[0].to)
	}
	wantLink := "https://fairway.test/auth/callback?token=" + iss.Token + "&redirect=%2Fentry%2F123"
	if iss.Link != wantLink {
		t.Errorf("Link = %q, want %q", iss.Link, wantLink)
	}

	red, err := f.redeemer.Redeem(ctx, iss.Token)
	if err != nil {
		t.Fatalf("redeem: %v", err)
	}
	if red.Destination != "/entry/123" {
		t.Errorf("Destination = %q, want /entry/123", red.Destination)
	}
	if red.Credentials.AccessToken == "" || red.Credentials.RefreshToken == "" {
		t.Error("expected session credentials")
	}
	if red.Player.Email != "john@example.com" || red.Player.FirstName != DefaultFirstName {
		t.Errorf("player = %+v", red.Player)
	}

	_, err = f.redeemer.Redeem(ctx, iss.Token)
	if !errors.Is(err, ErrTokenAlreadyUsed) {
		t.Fatalf("second redeem err = %v, want ErrTokenAlreadyUsed", err)
	}
	if !errors.Is(err, apperr.ErrAlreadyUsed) {
		t.Error("expected error to match apperr.ErrAlreadyUsed")
	}
}

func TestRedeemUnknownToken(t *testing.T) {
	f := setup(t)
	_, err := f.redeemer.Redeem(context.Background(), "deadbeef")
	if !errors.Is(err, ErrTokenNotFound) {
		t.Fatalf("err = %v, want ErrTokenNotFound", err)
	}
}

func TestRedeemExpired(t *testing.T) {
	f := setup(t)
	iss, err := f.issuer.Issue(context.Background(), "otp", johnIntent(), "/entry/123")
	if err != nil {
		t.Fatalf("issue: %v", err)
	}

	f.clock.Advance(15*time.Minute + time.Second)
	_, err = f.redeemer.Redeem(context.Background(), iss.Token)
	if !errors.Is(err, ErrTokenExpired) {
		t.Fatalf("err = %v, want ErrTokenExpired", err)
	}

	tok, err := store.NewAuthTokenStore(f.db).GetByHash(context.Background(), tokens.Hash(iss.Token))
	if err != nil || tok == nil {
		t.Fatalf("get token: %v", err)
	}
	if tok.Used {
		t.Error("expired redeem must not change state")
	}
}

func TestRedeemUsedAndExpiredReportsUsed(t *testing.T) {
	f := setup(t)
	ctx := context.Background()
	iss, err := f.issuer.Issue(ctx, "otp", johnIntent(), "/entry/123")
	if err != nil {
		t.Fatalf("issue: %v", err)
	}
	if _, err := f.redeemer.Redeem(ctx, iss.Token); err != nil {
		t.Fatalf("redeem: %v", err)
	}

	f.clock.Advance(time.Hour)
	_, err = f.redeemer.Redeem(ctx, iss.Token)
	if !errors.Is(err, ErrTokenAlreadyUsed) {
		t.Fatalf("err = %v, want ErrTokenAlreadyUsed", err)
	}
}

func TestRedeemRollsBackWhenSessionFails(t *testing.T) {
	f := setup(t)
	ctx := context.Background()
	iss, err := f.issuer.Issue(ctx, "otp", johnIntent(), "/entry/123")
	if err != nil {
		t.Fatalf("issue: %v", err)
	}

	if _, err := f.db.Exec(`CREATE TRIGGER fail_session BEFORE INSERT ON sessions
		BEGIN SELECT RAISE(ABORT, 'disk full'); END`); err != nil {
		t.Fatalf("create trigger: %v", err)
	}
	if _, err := f.redeemer.Redeem(ctx, iss.Token); err == nil {
		t.Fatal("expected error when the session cannot be written")
	}

	tok, err := store.NewAuthTokenStore(f.db).GetByHash(ctx, tokens.Hash(iss.Token))
	if err != nil || tok == nil {
		t.Fatalf("get token: %v", err)
	}
	if tok.Used {
		t.Error("token marked used although no session was issued")
	}
	p, err := store.NewPlayerStore(f.db).GetByEmail(ctx, "john@example.com")
	if err != nil {
		t.Fatalf("get player: %v", err)
	}
	if p != nil {
		t.Error("player created although redemption failed")
	}

	if _, err := f.db.Exec(`DROP TRIGGER fail_session`); err != nil {
		t.Fatalf("drop trigger: %v", err)
	}
	if _, err := f.redeemer.Redeem(ctx, iss.Token); err != nil {
		t.Fatalf("redeem after recovery: %v", err)
	}
}

func TestEntryFlowUsesLongerTTL(t *testing.T) {
	f := setup(t)
	intent := NewEntryIntent(ProfileInput{
		Email:    "john@example.com",
		LastName: strPtr("Smith"),
		Phone:    strPtr("+1 415-555-0123"),
	})
	iss, err := f.issuer.Issue(context.Background(), "entry", intent, "https://fairway.test/entry/9")
	if err != nil {
		t.Fatalf("issue: %v", err)
	}
	if !iss.ExpiresAt.Equal(testNow.Add(6 * time.Hour)) {
		t.Errorf("ExpiresAt = %v, want +6h", iss.ExpiresAt)
	}
}

func TestReissueInvalidatesPrevious(t *testing.T) {
	f := setup(t)
	ctx := context.Background()

	first, err := f.issuer.Issue(ctx, "otp", johnIntent(), "/entry/1")
	if err != nil {
		t.Fatalf("first issue: %v", err)
	}
	second, err := f.issuer.Issue(ctx, "otp", NewEntryIntent(ProfileInput{Email: "  JOHN@example.com "}), "/entry/2")
	if err != nil {
		t.Fatalf("second issue: %v", err)
	}

	if _, err := f.redeemer.Redeem(ctx, first.Token); !errors.Is(err, ErrTokenAlreadyUsed) {
		t.Fatalf("first token err = %v, want ErrTokenAlreadyUsed", err)
	}
	red, err := f.redeemer.Redeem(ctx, second.Token)
	if err != nil {
		t.Fatalf("redeem second: %v", err)
	}
	if red.Destination != "/entry/2" {
		t.Errorf("Destination = %q, want /entry/2", red.Destination)
	}
}

func TestIssueValidation(t *testing.T) {
	f := setup(t)
	ctx := context.Background()

	tests := []struct {
		name        string
		flow        string
		intent      EntryIntent
		destination string
		field       string
	}{
		{"bad email", "otp", NewEntryIntent(ProfileInput{Email: "not-an-email"}), "/entry/1", "email"},
		{"age too low", "otp", NewEntryIntent(ProfileInput{Email: "a@b.com", Age: intPtr(2)}), "/entry/1", "age"},
		{"handicap out of range", "otp", NewEntryIntent(ProfileInput{Email: "a@b.com", Handicap: floatPtr(60)}), "/entry/1", "handicap"},
		{"strict needs last name", "entry", NewEntryIntent(ProfileInput{Email: "a@b.com", Phone: strPtr("+14155550123")}), "/entry/1", "last_name"},
		{"strict needs phone", "entry", NewEntryIntent(ProfileInput{Email: "a@b.com", LastName: strPtr("Smith")}), "/entry/1", "phone"},
		{"bad phone", "otp", NewEntryIntent(ProfileInput{Email: "a@b.com", Phone: strPtr("555")}), "/entry/1", "phone"},
		{"foreign host", "otp", johnIntent(), "https://evil.example.net/entry/1", "destination"},
		{"protocol relative", "otp", johnIntent(), "//evil.example.net/entry/1", "destination"},
		{"bare path", "otp", johnIntent(), "entry/1", "destination"},
		{"javascript", "otp", johnIntent(), "javascript:alert(1)", "destination"},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			_, err := f.issuer.Issue(ctx, tt.flow, tt.intent, tt.destination)
			var verr *apperr.ValidationError
			if !errors.As(err, &verr) {
				t.Fatalf("err = %v, want ValidationError", err)
			}
			if verr.Field != tt.field {
				t.Errorf("field = %q, want %q", verr.Field, tt.field)
			}
		})
	}
	if len(f.sender.sent) != 0 {
		t.Errorf("sent = %d, want 0", len(f.sender.sent))
	}
}

func TestIssueAllowsConfiguredHost(t *testing.T) {
	f := setup(t)
	if _, err := f.issuer.Issue(context.Background(), "otp", johnIntent(), "https://club.example.com/entry/5"); err != nil {
		t.Fatalf("issue: %v", err)
	}
}

func TestIssueUnknownFlow(t *testing.T) {
	f := setup(t)
	_, err := f.issuer.Issue(context.Background(), "sms", johnIntent(), "/entry/1")
	if !errors.Is(err, apperr.ErrValidation) {
		t.Fatalf("err = %v, want validation error", err)
	}
}

func TestIssueDeliveryFailureKeepsToken(t *testing.T) {
	f := setup(t)
	f.sender.err = errors.New("smtp down")

	iss, err := f.issuer.Issue(context.Background(), "otp", johnIntent(), "/entry/123")
	if !errors.Is(err, apperr.ErrDeliveryFailure) {
		t.Fatalf("err = %v, want ErrDeliveryFailure", err)
	}
	if iss == nil {
		t.Fatal("expected issuance alongside delivery failure")
	}
	if _, err := f.redeemer.Redeem(context.Background(), iss.Token); err != nil {
		t.Fatalf("stored token should remain redeemable: %v", err)
	}
}

func TestRedeemMergesProfile(t *testing.T) {
	f := setup(t)
	ctx := context.Background()

	full := NewEntryIntent(ProfileInput{
		Email:     "john@example.com",
		FirstName: strPtr("John"),
		LastName:  strPtr("Smith"),
		Phone:     strPtr("+14155550123"),
		Age:       intPtr(42),
		Handicap:  floatPtr(12.4),
	})
	iss, err := f.issuer.Issue(ctx, "entry", full, "/entry/1")
	if err != nil {
		t.Fatalf("issue: %v", err)
	}
	if _, err := f.redeemer.Redeem(ctx, iss.Token); err != nil {
		t.Fatalf("redeem: %v", err)
	}

	bare, err := f.issuer.Issue(ctx, "otp", johnIntent(), "/entry/2")
	if err != nil {
		t.Fatalf("issue bare: %v", err)
	}
	red, err := f.redeemer.Redeem(ctx, bare.Token)
	if err != nil {
		t.Fatalf("redeem bare: %v", err)
	}

	p := red.Player
	if p.FirstName != "John" || p.LastName != "Smith" || p.Phone != "+14155550123" {
		t.Errorf("profile overwritten by defaults: %+v", p)
	}
	if p.Age == nil || *p.Age != 42 {
		t.Errorf("Age = %v, want 42", p.Age)
	}
	if p.Handicap == nil || *p.Handicap != 12.4 {
		t.Errorf("Handicap = %v, want 12.4", p.Handicap)
	}
}

func TestRedeemAdminEmail(t *testing.T) {
	f := setup(t)
	iss, err := f.issuer.Issue(context.Background(), "otp", NewEntryIntent(ProfileInput{Email: "admin@example.com"}), "/admin")
	if err != nil {
		t.Fatalf("issue: %v", err)
	}
	red, err := f.redeemer.Redeem(context.Background(), iss.Token)
	if err != nil {
		t.Fatalf("redeem: %v", err)
	}
	if red.Player.Role != model.RoleAdmin || red.Credentials.Role != model.RoleAdmin {
		t.Errorf("role = %q / %q, want admin", red.Player.Role, red.Credentials.Role)
	}
}

func TestRedeemConcurrentSingleWinner(t *testing.T) {
	f := setup(t)
	iss, err := f.issuer.Issue(context.Background(), "otp", johnIntent(), "/entry/123")
	if err != nil {
		t.Fatalf("issue: %v", err)
	}

	const n = 8
	var wg sync.WaitGroup
	var mu sync.Mutex
	wins, used := 0, 0
	for range n {
		wg.Add(1)
		go func() {
			defer wg.Done()
			_, err := f.redeemer.Redeem(context.Background(), iss.Token)
			mu.Lock()
			defer mu.Unlock()
			switch {
			case err == nil:
				wins++
			case errors.Is(err, ErrTokenAlreadyUsed):
				used++
			default:
				t.Errorf("unexpected error: %v", err)
			}
		}()
	}
	wg.Wait()

	if wins != 1 || used != n-1 {
		t.Errorf("wins = %d, used = %d, want 1 and %d", wins, used, n-1)
	}
}

func TestParseFlows(t *testing.T) {
	flows, err := ParseFlows([]byte(`
flows:
  - name: vip
    ttl_minutes: 30
    validation_strictness: strict
`))
	if err != nil {
		t.Fatalf("parse: %v", err)
	}
	vip, ok := flows["vip"]
	if !ok {
		t.Fatal("expected vip flow")
	}
	if vip.TTL != 30*time.Minute || vip.Strictness != StrictnessStrict {
		t.Errorf("vip = %+v", vip)
	}
	if vip.Subject == "" {
		t.Error("expected default subject")
	}

	bad := []string{
		`flows: []`,
		"flows:\n  - name: a\n    ttl_minutes: 0\n",
		"flows:\n  - name: a\n    ttl_minutes: 5\n    validation_strictness: lax\n",
		"flows:\n  - name: a\n    ttl_minutes: 5\n  - name: a\n    ttl_minutes: 6\n",
	}
	for _, doc := range bad {
		if _, err := ParseFlows([]byte(doc)); err == nil {
			t.Errorf("expected error for %q", doc)
		}
	}
}

func TestNewEntryIntentDefaults(t *testing.T) {
	intent := NewEntryIntent(ProfileInput{Email: "  Jane@Example.COM ", FirstName: strPtr("  ")})
	if intent.Email != "jane@example.com" {
		t.Errorf("Email = %q", intent.Email)
	}
	if intent.FirstName != DefaultFirstName {
		t.Errorf("FirstName = %q, want %q", intent.FirstName, DefaultFirstName)
	}
	if intent.Age != DefaultAge {
		t.Errorf("Age = %d, want %d", intent.Age, DefaultAge)
	}
	if intent.Handicap != nil {
		t.Errorf("Handicap = %v, want nil", intent.Handicap)
	}
	if !strings.HasPrefix(NewEntryIntent(ProfileInput{Phone: strPtr("+44 (20) 7946-0958")}).Phone, "+442079460958") {
		t.Error("phone punctuation should be stripped")
	}
}

func strPtr(s string) *string     { return &s }
func intPtr(i int) *int           { return &i }
func floatPtr(f float64) *float64 { return &f }
