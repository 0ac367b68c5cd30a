package attempt

import (
	"context"
	"time"

	"github.com/dukerupert/fairway/internal/model"
)

// Tick is one countdown update.
type Tick struct {
	EntryID   string         `json:"entry_id"`
	Remaining time.Duration  `json:"-"`
	Seconds   int            `json:"remaining_seconds"`
	Outcome   *model.Outcome `json:"outcome,omitempty"`
	Resolved  bool           `json:"resolved"`
}

// Watch calls fn once per second with the time left on the entry. When the
// window reaches zero it issues the automatic miss, delivers a final tick and
// returns. A failed write is retried on the next tick. Cancelling ctx stops
// the countdown without any transition.
func (c *Controller) Watch(ctx context.Context, id string, fn func(Tick)) error {
	ticker := c.clock.NewTicker(tickInterval)
	defer ticker.Stop()

	for {
		e, err := c.entries.GetByID(ctx, id)
		if err != nil {
			c.logger.Warn("countdown read failed", "entry_id", id, "error", err)
		} else if e == nil {
			return ErrEntryNotFound
		} else if c.step(ctx, e, fn) {
			return nil
		}

		select {
		case <-ctx.Done():
			return ctx.Err()
		case <-ticker.Chan():
		}
	}
}

func (c *Controller) step(ctx context.Context, e *model.Entry, fn func(Tick)) bool {
	if e.Resolved() {
		fn(tickFor(e, 0))
		return true
	}
	remaining := c.Remaining(e)
	if remaining > 0 {
		fn(tickFor(e, remaining))
		return false
	}
	if _, err := c.ResolveExpired(ctx, e.ID); err != nil {
		return false
	}
	fresh, err := c.entries.GetByID(ctx, e.ID)
	if err != nil || fresh == nil {
		return false
	}
	fn(tickFor(fresh, 0))
	return true
}

func tickFor(e *model.Entry, remaining time.Duration) Tick {
	return Tick{
		EntryID:   e.ID,
		Remaining: remaining,
		Seconds:   int((remaining + time.Second - 1) / time.Second),
		Outcome:   e.OutcomeSelf,
		Resolved:  e.Resolved(),
	}
}
