package magiclink

import (
	"context"
	"database/sql"
	"log/slog"

	"github.com/jonboulle/clockwork"

	"github.com/dukerupert/fairway/internal/apperr"
	"github.com/dukerupert/fairway/internal/auth"
	"github.com/dukerupert/fairway/internal/model"
	"github.com/dukerupert/fairway/internal/store"
	"github.com/dukerupert/fairway/internal/tokens"
)

// Redemption is the result of a successful redeem: a fresh session and the
// destination the token was issued with.
type Redemption struct {
	Credentials *auth.Credentials
	Player      *model.Player
	Destination string
}

type Redeemer struct {
	db          *sql.DB
	tokens      *store.AuthTokenStore
	players     *store.PlayerStore
	sessions    *auth.Sessions
	adminEmails map[string]bool
	clock       clockwork.Clock
	logger      *slog.Logger
}

func NewRedeemer(db *sql.DB, sessions *auth.Sessions, adminEmails []string, clock clockwork.Clock, logger *slog.Logger) *Redeemer {
	admins := make(map[string]bool, len(adminEmails))
	for _, e := range adminEmails {
		if e = NormalizeEmail(e); e != "" {
			admins[e] = true
		}
	}
	return &Redeemer{
		db:          db,
		tokens:      store.NewAuthTokenStore(db),
		players:     store.NewPlayerStore(db),
		sessions:    sessions,
		adminEmails: admins,
		clock:       clock,
		logger:      logger.With("component", "magiclink"),
	}
}

// Redeem consumes a token. The gates run in order: unknown, already used,
// expired. Marking the token used, creating or updating the player and
// creating the session commit together; if any step fails the token stays
// unused.
func (r *Redeemer) Redeem(ctx context.Context, raw string) (*Redemption, error) {
	if raw == "" {
		return nil, ErrTokenNotFound
	}
	t, err := r.tokens.GetByHash(ctx, tokens.Hash(raw))
	if err != nil {
		return nil, apperr.Store("get token", err)
	}
	if t == nil {
		return nil, ErrTokenNotFound
	}
	if t.Used {
		return nil, ErrTokenAlreadyUsed
	}
	now := r.clock.Now().UTC()
	if now.After(t.ExpiresAt) {
		return nil, ErrTokenExpired
	}

	role := model.RolePlayer
	if r.adminEmails[t.Email] {
		role = model.RoleAdmin
	}

	var out Redemption
	err = store.InTx(ctx, r.db, func(tx *sql.Tx) error {
		ok, err := r.tokens.WithTx(tx).MarkUsed(ctx, t.ID, now)
		if err != nil {
			return apperr.Store("mark token used", err)
		}
		if !ok {
			return ErrTokenAlreadyUsed
		}

		ps := r.players.WithTx(tx)
		p, err := ps.GetOrCreate(ctx, t.Email, role, now)
		if err != nil {
			return apperr.Store("get or create player", err)
		}
		mergeProfile(p, t)
		if role == model.RoleAdmin {
			p.Role = model.RoleAdmin
		}
		p, err = ps.UpdateProfile(ctx, p, now)
		if err != nil {
			return apperr.Store("update player", err)
		}

		creds, err := r.sessions.IssueTx(ctx, tx, p)
		if err != nil {
			return err
		}
		out = Redemption{Credentials: creds, Player: p, Destination: t.Destination}
		return nil
	})
	if err != nil {
		return nil, err
	}

	r.logger.Info("token redeemed",
		"token", tokens.Fingerprint(raw), "player_id", out.Player.ID, "session_id", out.Credentials.SessionID)
	return &out, nil
}

// mergeProfile copies token fields onto the player. Values the player typed
// replace stored ones; defaults only fill gaps.
func mergeProfile(p *model.Player, t *model.AuthToken) {
	if t.FirstName != DefaultFirstName || p.FirstName == "" {
		p.FirstName = t.FirstName
	}
	if t.LastName != "" {
		p.LastName = t.LastName
	}
	if t.Phone != "" {
		p.Phone = t.Phone
	}
	if t.Age != DefaultAge || p.Age == nil {
		age := t.Age
		p.Age = &age
	}
	if t.Handicap != nil {
		h := *t.Handicap
		p.Handicap = &h
	}
}
