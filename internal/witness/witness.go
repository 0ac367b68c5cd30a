// Package witness issues and redeems the third-party confirmation links that
// back up a win claim.
package witness

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"log/slog"
	"net/netip"
	"net/url"
	"strings"
	"time"

	"github.com/go-playground/validator/v10"
	"github.com/google/uuid"
	"github.com/jonboulle/clockwork"

	"github.com/dukerupert/fairway/internal/apperr"
	"github.com/dukerupert/fairway/internal/claim"
	"github.com/dukerupert/fairway/internal/email"
	"github.com/dukerupert/fairway/internal/model"
	"github.com/dukerupert/fairway/internal/store"
	"github.com/dukerupert/fairway/internal/tokens"
	"github.com/dukerupert/fairway/internal/websocket"
)

const emailSubject = "Can you confirm a hole-in-one you witnessed?"

var (
	ErrInvalidToken   = apperr.New(apperr.ErrNotFound, "this confirmation link is not valid")
	ErrLinkExpired    = apperr.New(apperr.ErrExpired, "this confirmation link has expired")
	ErrClaimDecided   = apperr.New(apperr.ErrConflict, "this claim has already been decided")
	ErrClaimNotFound  = apperr.New(apperr.ErrNotFound, "claim not found")
	errMissingContact = apperr.Validation("witness", "a name or an email is required")
)

// Contact identifies the witness. Email is optional; without it the link is
// only returned to the caller.
type Contact struct {
	Name  string `json:"name" validate:"max=100"`
	Email string `json:"email" validate:"omitempty,email,max=254"`
}

// Meta is captured from the witness's browser on confirmation.
type Meta struct {
	UserAgent string
	RemoteIP  string
}

// Issued is a freshly stored witness token. Token and Link are bearer
// material.
type Issued struct {
	Confirmation *model.WitnessConfirmation
	Token        string
	Link         string
	Receipt      *email.Receipt
}

// Result is the outcome of a confirmation visit. AlreadyConfirmed is set when
// the link had been used before; that is not an error.
type Result struct {
	Confirmation     *model.WitnessConfirmation
	AlreadyConfirmed bool
}

type Service struct {
	db            *sql.DB
	verifications *store.VerificationStore
	witnesses     *store.WitnessStore
	entries       *store.EntryStore
	players       *store.PlayerStore
	sender        email.Sender
	baseURL       string
	ttl           time.Duration
	clock         clockwork.Clock
	publisher     claim.Publisher
	validate      *validator.Validate
	logger        *slog.Logger
}

func NewService(db *sql.DB, sender email.Sender, baseURL string, ttl time.Duration, clock clockwork.Clock, publisher claim.Publisher, logger *slog.Logger) *Service {
	return &Service{
		db:            db,
		verifications: store.NewVerificationStore(db),
		witnesses:     store.NewWitnessStore(db),
		entries:       store.NewEntryStore(db),
		players:       store.NewPlayerStore(db),
		sender:        sender,
		baseURL:       strings.TrimRight(baseURL, "/"),
		ttl:           ttl,
		clock:         clock,
		publisher:     publisher,
		validate:      validator.New(),
		logger:        logger.With("component", "witness"),
	}
}

// Issue replaces any active witness token for the claim with a new one and
// emails it when the contact has an address. A delivery failure returns the
// stored token together with an error matching apperr.ErrDeliveryFailure.
func (s *Service) Issue(ctx context.Context, verificationID string, playerID int64, c Contact) (*Issued, error) {
	c.Name = strings.TrimSpace(c.Name)
	c.Email = strings.ToLower(strings.TrimSpace(c.Email))
	if err := s.validate.Struct(c); err != nil {
		return nil, apperr.Validation("witness", "name or email is invalid")
	}
	if c.Name == "" && c.Email == "" {
		return nil, errMissingContact
	}

	v, player, err := s.claimFor(ctx, verificationID, playerID)
	if err != nil {
		return nil, err
	}
	if claim.IsTerminal(v.Status) {
		return nil, ErrClaimDecided
	}

	raw, err := tokens.Generate()
	if err != nil {
		return nil, err
	}
	now := s.clock.Now().UTC()
	w := &model.WitnessConfirmation{
		ID:             uuid.NewString(),
		VerificationID: v.ID,
		TokenHash:      tokens.Hash(raw),
		WitnessName:    c.Name,
		WitnessEmail:   c.Email,
		CreatedAt:      now,
		ExpiresAt:      now.Add(s.ttl),
	}
	err = store.InTx(ctx, s.db, func(tx *sql.Tx) error {
		ws := s.witnesses.WithTx(tx)
		if _, err := ws.ExpireActive(ctx, v.ID, now); err != nil {
			return err
		}
		w, err = ws.Create(ctx, w)
		return err
	})
	if err != nil {
		return nil, apperr.Store("issue witness token", err)
	}

	out := &Issued{Confirmation: w, Token: raw, Link: s.Link(v.ID, raw)}
	s.logger.Info("witness token issued", "verification_id", v.ID, "token", tokens.Fingerprint(raw), "expires_at", w.ExpiresAt)

	if c.Email == "" {
		return out, nil
	}
	playerName := strings.TrimSpace(player.FirstName + " " + player.LastName)
	if playerName == "" {
		playerName = "A player"
	}
	body, err := email.WitnessBody(c.Name, playerName, out.Link, s.ttl)
	if err != nil {
		return out, apperr.Delivery(err)
	}
	receipt, err := s.sender.Send(ctx, c.Email, emailSubject, body)
	if err != nil {
		s.logger.Error("witness email not sent", "verification_id", v.ID, "error", err)
		return out, apperr.Delivery(err)
	}
	out.Receipt = &receipt
	return out, nil
}

// Confirm redeems a witness link. Checks run in order: unknown token,
// already confirmed (benign), expired, claim already decided. The first
// valid visit records the metadata and stamps the parent claim in one
// transaction.
func (s *Service) Confirm(ctx context.Context, verificationID, raw string, meta Meta) (*Result, error) {
	if verificationID == "" || raw == "" {
		return nil, ErrInvalidToken
	}
	w, err := s.witnesses.GetByToken(ctx, verificationID, tokens.Hash(raw))
	if err != nil {
		return nil, apperr.Store("get witness token", err)
	}
	if w == nil {
		return nil, ErrInvalidToken
	}
	if w.ConfirmedAt != nil {
		return &Result{Confirmation: w, AlreadyConfirmed: true}, nil
	}
	now := s.clock.Now().UTC()
	if !now.Before(w.ExpiresAt) {
		return nil, ErrLinkExpired
	}

	var confirmed bool
	err = store.InTx(ctx, s.db, func(tx *sql.Tx) error {
		v, err := s.verifications.WithTx(tx).GetByID(ctx, verificationID)
		if err != nil {
			return err
		}
		if v != nil && claim.IsTerminal(v.Status) {
			return ErrClaimDecided
		}
		ok, err := s.witnesses.WithTx(tx).Confirm(ctx, w.ID, truncate(meta.UserAgent, 512), CoarseOrigin(meta.RemoteIP), now)
		if err != nil || !ok {
			return err
		}
		confirmed = true
		_, err = s.verifications.WithTx(tx).SetWitnessConfirmed(ctx, verificationID, now)
		return err
	})
	if errors.Is(err, ErrClaimDecided) {
		return nil, err
	}
	if err != nil {
		return nil, apperr.Store("confirm witness", err)
	}

	fresh, err := s.witnesses.GetByID(ctx, w.ID)
	if err != nil {
		return nil, apperr.Store("get witness token", err)
	}
	if !confirmed {
		return &Result{Confirmation: fresh, AlreadyConfirmed: true}, nil
	}

	s.logger.Info("witness confirmed", "verification_id", verificationID, "witness_id", w.ID)
	if s.publisher != nil {
		s.publisher.Publish(websocket.VerificationTopic(verificationID),
			websocket.NewMessage("witness", "confirmed", verificationID, nil))
	}
	return &Result{Confirmation: fresh}, nil
}

// Link builds the confirmation URL for a raw token.
func (s *Service) Link(verificationID, raw string) string {
	return fmt.Sprintf("%s/confirm-witness?id=%s&token=%s",
		s.baseURL, url.QueryEscape(verificationID), url.QueryEscape(raw))
}

func (s *Service) claimFor(ctx context.Context, verificationID string, playerID int64) (*model.Verification, *model.Player, error) {
	v, err := s.verifications.GetByID(ctx, verificationID)
	if err != nil {
		return nil, nil, apperr.Store("get verification", err)
	}
	if v == nil {
		return nil, nil, ErrClaimNotFound
	}
	e, err := s.entries.GetByID(ctx, v.EntryID)
	if err != nil {
		return nil, nil, apperr.Store("get entry", err)
	}
	if e == nil || e.PlayerID != playerID {
		return nil, nil, ErrClaimNotFound
	}
	p, err := s.players.GetByID(ctx, playerID)
	if err != nil {
		return nil, nil, apperr.Store("get player", err)
	}
	if p == nil {
		return nil, nil, ErrClaimNotFound
	}
	return v, p, nil
}

// CoarseOrigin reduces an address to its network: /24 for IPv4 and /48 for
// IPv6. Unparseable input yields "".
func CoarseOrigin(ip string) string {
	addr, err := netip.ParseAddr(strings.TrimSpace(ip))
	if err != nil {
		return ""
	}
	addr = addr.Unmap()
	bits := 48
	if addr.Is4() {
		bits = 24
	}
	prefix, err := addr.Prefix(bits)
	if err != nil {
		return ""
	}
	return prefix.String()
}

func truncate(s string, n int) string {
	if len(s) <= n {
		return s
	}
	return s[:n]
}
