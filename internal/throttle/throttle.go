// Package throttle keeps advisory attempt counters and resend cooldowns per
// identifier. State lives behind a KV port so it can be kept in memory, in
// SQLite, or anywhere else that stores bytes by key.
//
// Throttle state only shapes UX and saves needless work; it is never the
// authority on whether a token or session is valid.
package throttle

import (
	"context"
	"encoding/json"
	"fmt"
	"math"
	"strings"
	"time"

	"github.com/jonboulle/clockwork"
)

const (
	rateLimitPrefix = "ratelimit:"
	cooldownPrefix  = "cooldown:"
)

// KV is the persistence port for throttle state.
type KV interface {
	Get(ctx context.Context, key string) ([]byte, bool, error)
	Set(ctx context.Context, key string, value []byte) error
	Delete(ctx context.Context, key string) error
}

type attempts struct {
	Count       int       `json:"count"`
	WindowStart time.Time `json:"window_start"`
}

type cooldown struct {
	Until time.Time `json:"until"`
}

// Guard evaluates rate limits and cooldowns against a KV store.
type Guard struct {
	kv    KV
	clock clockwork.Clock
}

func NewGuard(kv KV, clock clockwork.Clock) *Guard {
	return &Guard{kv: kv, clock: clock}
}

// Normalize lower-cases and trims an identifier such as an email address.
func Normalize(id string) string {
	return strings.ToLower(strings.TrimSpace(id))
}

// IsRateLimited counts one attempt for id and reports whether the count now
// exceeds maxAttempts within the window. The window restarts once it has
// elapsed since its first attempt.
func (g *Guard) IsRateLimited(ctx context.Context, id string, maxAttempts int, window time.Duration) (bool, error) {
	key := rateLimitPrefix + Normalize(id)
	now := g.clock.Now()

	var st attempts
	found, err := g.load(ctx, key, &st)
	if err != nil {
		return false, err
	}
	if !found || now.Sub(st.WindowStart) >= window {
		st = attempts{WindowStart: now}
	}
	st.Count++

	if err := g.save(ctx, key, st); err != nil {
		return false, err
	}
	return st.Count > maxAttempts, nil
}

// ResetAttempts clears the attempt counter for id.
func (g *Guard) ResetAttempts(ctx context.Context, id string) error {
	return g.kv.Delete(ctx, rateLimitPrefix+Normalize(id))
}

// StartCooldown blocks id for d from now, replacing any running cooldown.
func (g *Guard) StartCooldown(ctx context.Context, id string, d time.Duration) error {
	return g.save(ctx, cooldownPrefix+Normalize(id), cooldown{Until: g.clock.Now().Add(d)})
}

func (g *Guard) IsCooldownActive(ctx context.Context, id string) (bool, error) {
	remaining, err := g.remaining(ctx, id)
	if err != nil {
		return false, err
	}
	return remaining > 0, nil
}

// RemainingSeconds returns the whole seconds left on id's cooldown, rounded
// up, and never negative.
func (g *Guard) RemainingSeconds(ctx context.Context, id string) (int, error) {
	remaining, err := g.remaining(ctx, id)
	if err != nil {
		return 0, err
	}
	return int(math.Ceil(remaining.Seconds())), nil
}

func (g *Guard) remaining(ctx context.Context, id string) (time.Duration, error) {
	var cd cooldown
	found, err := g.load(ctx, cooldownPrefix+Normalize(id), &cd)
	if err != nil || !found {
		return 0, err
	}
	left := cd.Until.Sub(g.clock.Now())
	if left < 0 {
		return 0, nil
	}
	return left, nil
}

func (g *Guard) load(ctx context.Context, key string, v any) (bool, error) {
	raw, ok, err := g.kv.Get(ctx, key)
	if err != nil {
		return false, fmt.Errorf("load %s: %w", key, err)
	}
	if !ok {
		return false, nil
	}
	if err := json.Unmarshal(raw, v); err != nil {
		// Corrupt state reads as absent.
		return false, nil
	}
	return true, nil
}

func (g *Guard) save(ctx context.Context, key string, v any) error {
	raw, err := json.Marshal(v)
	if err != nil {
		return fmt.Errorf("encode %s: %w", key, err)
	}
	if err := g.kv.Set(ctx, key, raw); err != nil {
		return fmt.Errorf("save %s: %w", key, err)
	}
	return nil
}
