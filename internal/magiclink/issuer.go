package magiclink

import (
	"context"
	"database/sql"
	"fmt"
	"log/slog"
	"net/url"
	"strings"
	"time"

	"github.com/jonboulle/clockwork"

	"github.com/dukerupert/fairway/internal/apperr"
	"github.com/dukerupert/fairway/internal/email"
	"github.com/dukerupert/fairway/internal/model"
	"github.com/dukerupert/fairway/internal/store"
	"github.com/dukerupert/fairway/internal/tokens"
)

// Issuance describes a stored token. Token and Link are bearer material and
// must not be logged or returned to the requester.
type Issuance struct {
	Token     string
	Link      string
	Email     string
	Flow      string
	ExpiresAt time.Time
	Receipt   *email.Receipt
}

type Issuer struct {
	db      *sql.DB
	tokens  *store.AuthTokenStore
	sender  email.Sender
	flows   Flows
	policy  *DestinationPolicy
	baseURL string
	clock   clockwork.Clock
	logger  *slog.Logger
}

func NewIssuer(db *sql.DB, sender email.Sender, flows Flows, policy *DestinationPolicy, baseURL string, clock clockwork.Clock, logger *slog.Logger) *Issuer {
	return &Issuer{
		db:      db,
		tokens:  store.NewAuthTokenStore(db),
		sender:  sender,
		flows:   flows,
		policy:  policy,
		baseURL: strings.TrimRight(baseURL, "/"),
		clock:   clock,
		logger:  logger.With("component", "magiclink"),
	}
}

// Flow returns the named flow configuration.
func (i *Issuer) Flow(name string) (Flow, bool) {
	f, ok := i.flows[name]
	return f, ok
}

// Issue stores a new token for the intent and emails the link. Any earlier
// unconsumed token for the same email is invalidated in the same
// transaction. When the email cannot be sent the token stays valid, and the
// returned error matches apperr.ErrDeliveryFailure alongside a non-nil
// Issuance.
func (i *Issuer) Issue(ctx context.Context, flowName string, intent EntryIntent, destination string) (*Issuance, error) {
	flow, ok := i.flows[flowName]
	if !ok {
		return nil, ErrUnknownFlow
	}
	intent.Email = NormalizeEmail(intent.Email)
	if err := intent.Validate(flow.Strictness); err != nil {
		return nil, err
	}
	if err := i.policy.Check(destination); err != nil {
		return nil, err
	}

	raw, err := tokens.Generate()
	if err != nil {
		return nil, err
	}
	now := i.clock.Now().UTC()
	t := &model.AuthToken{
		TokenHash:   tokens.Hash(raw),
		Email:       intent.Email,
		Flow:        flow.Name,
		FirstName:   intent.FirstName,
		LastName:    intent.LastName,
		Phone:       intent.Phone,
		Age:         intent.Age,
		Handicap:    intent.Handicap,
		Destination: destination,
		CreatedAt:   now,
		ExpiresAt:   now.Add(flow.TTL),
	}

	var invalidated int64
	err = store.InTx(ctx, i.db, func(tx *sql.Tx) error {
		ts := i.tokens.WithTx(tx)
		n, err := ts.InvalidatePending(ctx, intent.Email, now)
		if err != nil {
			return err
		}
		invalidated = n
		t, err = ts.Create(ctx, t)
		return err
	})
	if err != nil {
		return nil, apperr.Store("issue token", err)
	}

	iss := &Issuance{
		Token:     raw,
		Link:      i.Link(raw, destination),
		Email:     intent.Email,
		Flow:      flow.Name,
		ExpiresAt: t.ExpiresAt,
	}
	i.logger.Info("token issued",
		"flow", flow.Name, "token", tokens.Fingerprint(raw), "invalidated", invalidated, "expires_at", t.ExpiresAt)

	body, err := email.MagicLinkBody(intent.FirstName, iss.Link, flow.TTL)
	if err != nil {
		return iss, apperr.Delivery(err)
	}
	receipt, err := i.sender.Send(ctx, intent.Email, flow.Subject, body)
	if err != nil {
		i.logger.Error("magic link email not sent", "token", tokens.Fingerprint(raw), "error", err)
		return iss, apperr.Delivery(err)
	}
	iss.Receipt = &receipt
	return iss, nil
}

// Link builds the callback URL for a raw token.
func (i *Issuer) Link(raw, destination string) string {
	return fmt.Sprintf("%s/auth/callback?token=%s&redirect=%s",
		i.baseURL, url.QueryEscape(raw), url.QueryEscape(destination))
}

// PurgeExpired deletes tokens that expired before the cutoff.
func (i *Issuer) PurgeExpired(ctx context.Context, cutoff time.Time) (int64, error) {
	return i.tokens.DeleteExpired(ctx, cutoff)
}
