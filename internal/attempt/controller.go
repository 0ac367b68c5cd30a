// Package attempt runs the per-entry attempt window: an entry is open until
// the player reports an outcome or the window ends, at which point it is
// resolved as an automatic miss exactly once.
package attempt

import (
	"context"
	"database/sql"
	"errors"
	"log/slog"
	"strings"
	"time"

	"github.com/google/uuid"
	"github.com/jonboulle/clockwork"
	"golang.org/x/sync/singleflight"

	"github.com/dukerupert/fairway/internal/apperr"
	"github.com/dukerupert/fairway/internal/model"
	"github.com/dukerupert/fairway/internal/store"
	"github.com/dukerupert/fairway/internal/websocket"
)

const (
	tickInterval   = time.Second
	sweepBatchSize = 100
)

var (
	ErrEntryNotFound   = apperr.New(apperr.ErrNotFound, "entry not found")
	ErrAlreadyReported = apperr.New(apperr.ErrConflict, "an outcome was already reported for this entry")
	ErrWindowClosed    = apperr.New(apperr.ErrExpired, "the attempt window has closed")
)

// Publisher pushes state changes to live subscribers.
type Publisher interface {
	Publish(topic string, msg websocket.Message)
}

type Controller struct {
	db        *sql.DB
	entries   *store.EntryStore
	window    time.Duration
	clock     clockwork.Clock
	publisher Publisher
	logger    *slog.Logger
	group     singleflight.Group
}

func NewController(db *sql.DB, window time.Duration, clock clockwork.Clock, publisher Publisher, logger *slog.Logger) *Controller {
	return &Controller{
		db:        db,
		entries:   store.NewEntryStore(db),
		window:    window,
		clock:     clock,
		publisher: publisher,
		logger:    logger.With("component", "attempt"),
	}
}

// Start opens a new entry whose window begins now.
func (c *Controller) Start(ctx context.Context, playerID int64, competitionID string) (*model.Entry, error) {
	competitionID = strings.TrimSpace(competitionID)
	if competitionID == "" {
		return nil, apperr.Validation("competition_id", "is required")
	}
	now := c.clock.Now().UTC()
	e, err := c.entries.Create(ctx, &model.Entry{
		ID:                 uuid.NewString(),
		PlayerID:           playerID,
		CompetitionID:      competitionID,
		AttemptWindowStart: now,
		AttemptWindowEnd:   now.Add(c.window),
		Status:             model.EntryStatusOpen,
		CreatedAt:          now,
		UpdatedAt:          now,
	})
	if err != nil {
		return nil, apperr.Store("start entry", err)
	}
	c.logger.Info("entry opened", "entry_id", e.ID, "player_id", playerID, "window_end", e.AttemptWindowEnd)
	return e, nil
}

// Get returns the entry, resolving it first if its window has passed
// without an outcome.
func (c *Controller) Get(ctx context.Context, id string) (*model.Entry, error) {
	e, err := c.entries.GetByID(ctx, id)
	if err != nil {
		return nil, apperr.Store("get entry", err)
	}
	if e == nil {
		return nil, ErrEntryNotFound
	}
	return c.settle(ctx, e)
}

// GetForPlayer is Get restricted to the entry's owner.
func (c *Controller) GetForPlayer(ctx context.Context, id string, playerID int64) (*model.Entry, error) {
	e, err := c.Get(ctx, id)
	if err != nil {
		return nil, err
	}
	if e.PlayerID != playerID {
		return nil, ErrEntryNotFound
	}
	return e, nil
}

func (c *Controller) List(ctx context.Context, playerID int64) ([]model.Entry, error) {
	entries, err := c.entries.ListByPlayer(ctx, playerID)
	if err != nil {
		return nil, apperr.Store("list entries", err)
	}
	for i := range entries {
		settled, err := c.settle(ctx, &entries[i])
		if err != nil {
			return nil, err
		}
		entries[i] = *settled
	}
	return entries, nil
}

// settle applies the lazy expiry check to a loaded entry.
func (c *Controller) settle(ctx context.Context, e *model.Entry) (*model.Entry, error) {
	if e.Resolved() || c.clock.Now().Before(e.AttemptWindowEnd) {
		return e, nil
	}
	if _, err := c.ResolveExpired(ctx, e.ID); err != nil {
		return nil, err
	}
	fresh, err := c.entries.GetByID(ctx, e.ID)
	if err != nil {
		return nil, apperr.Store("get entry", err)
	}
	if fresh == nil {
		return nil, ErrEntryNotFound
	}
	return fresh, nil
}

// Report records the player's own outcome. Only win and miss are accepted.
// The write is conditional on no outcome being set and the window still
// being open, so it cannot race with the automatic miss. A win opens its
// verification claim in the same transaction.
func (c *Controller) Report(ctx context.Context, id string, playerID int64, outcome model.Outcome) (*model.Entry, error) {
	var status string
	switch outcome {
	case model.OutcomeWin:
		status = model.EntryStatusVerificationPending
	case model.OutcomeMiss:
		status = model.EntryStatusCompleted
	default:
		return nil, apperr.Validation("outcome", "must be win or miss")
	}

	e, err := c.entries.GetByID(ctx, id)
	if err != nil {
		return nil, apperr.Store("get entry", err)
	}
	if e == nil || e.PlayerID != playerID {
		return nil, ErrEntryNotFound
	}

	ok, err := c.record(ctx, id, outcome, status)
	if err != nil {
		return nil, apperr.Store("report outcome", err)
	}
	if ok {
		e, err = c.entries.GetByID(ctx, id)
		if err != nil {
			return nil, apperr.Store("get entry", err)
		}
		c.logger.Info("outcome reported", "entry_id", id, "outcome", outcome)
		c.publish(e, "reported")
		return e, nil
	}

	e, err = c.entries.GetByID(ctx, id)
	if err != nil {
		return nil, apperr.Store("get entry", err)
	}
	if e.OutcomeSelf != nil && *e.OutcomeSelf != model.OutcomeAutoMiss {
		return e, ErrAlreadyReported
	}
	if _, err := c.ResolveExpired(ctx, id); err != nil {
		return nil, err
	}
	return nil, ErrWindowClosed
}

func (c *Controller) record(ctx context.Context, id string, outcome model.Outcome, status string) (bool, error) {
	now := c.clock.Now()
	var ok bool
	err := store.InTx(ctx, c.db, func(tx *sql.Tx) error {
		var err error
		ok, err = c.entries.WithTx(tx).ReportOutcome(ctx, id, outcome, status, now)
		if err != nil || !ok || outcome != model.OutcomeWin {
			return err
		}
		_, err = store.NewVerificationStore(tx).Create(ctx, uuid.NewString(), id, now)
		return err
	})
	return ok, err
}

// ResolveExpired writes the automatic miss if the window has ended and no
// outcome is set. Concurrent calls for one entry share a single write. It
// reports whether this call (or the call it joined) resolved the entry.
func (c *Controller) ResolveExpired(ctx context.Context, id string) (bool, error) {
	v, err, _ := c.group.Do(id, func() (any, error) {
		ok, err := c.entries.AutoMiss(ctx, id, c.clock.Now())
		if err != nil {
			return false, apperr.Store("auto-miss entry", err)
		}
		if ok {
			c.logger.Info("entry auto-missed", "entry_id", id)
			if e, err := c.entries.GetByID(ctx, id); err == nil && e != nil {
				c.publish(e, "resolved")
			}
		}
		return ok, nil
	})
	if err != nil {
		c.logger.Warn("auto-miss failed, will retry", "entry_id", id, "error", err)
		return false, err
	}
	return v.(bool), nil
}

// Sweep resolves every overdue entry. Failures are collected and the
// remaining entries are still attempted.
func (c *Controller) Sweep(ctx context.Context) (int, error) {
	resolved := 0
	var errs []error
	for {
		overdue, err := c.entries.ListOverdue(ctx, c.clock.Now(), sweepBatchSize)
		if err != nil {
			return resolved, apperr.Store("list overdue entries", err)
		}
		progress := false
		for _, e := range overdue {
			ok, err := c.ResolveExpired(ctx, e.ID)
			if err != nil {
				errs = append(errs, err)
				continue
			}
			if ok {
				resolved++
				progress = true
			}
		}
		if len(overdue) < sweepBatchSize || !progress {
			break
		}
	}
	return resolved, errors.Join(errs...)
}

// Remaining returns the time left in the entry's window, never negative.
func (c *Controller) Remaining(e *model.Entry) time.Duration {
	d := e.AttemptWindowEnd.Sub(c.clock.Now())
	if d < 0 {
		return 0
	}
	return d
}

func (c *Controller) publish(e *model.Entry, action string) {
	if c.publisher == nil {
		return
	}
	extra := map[string]any{"status": e.Status}
	if e.OutcomeSelf != nil {
		extra["outcome"] = string(*e.OutcomeSelf)
	}
	c.publisher.Publish(websocket.EntryTopic(e.ID), websocket.NewMessage("entry", action, e.ID, extra))
}
