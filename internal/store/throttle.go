package store

import (
	"context"
	"database/sql"
	"fmt"
	"time"

	"github.com/jonboulle/clockwork"
)

// ThrottleStore persists throttle state as opaque values keyed by string.
// It satisfies throttle.KV.
type ThrottleStore struct {
	db    DBTX
	clock clockwork.Clock
}

func NewThrottleStore(db DBTX, clock clockwork.Clock) *ThrottleStore {
	return &ThrottleStore{db: db, clock: clock}
}

func (s *ThrottleStore) Get(ctx context.Context, key string) ([]byte, bool, error) {
	var value []byte
	err := s.db.QueryRowContext(ctx, `SELECT value FROM throttle_state WHERE key = ?`, key).Scan(&value)
	if err == sql.ErrNoRows {
		return nil, false, nil
	}
	if err != nil {
		return nil, false, fmt.Errorf("get throttle state: %w", err)
	}
	return value, true, nil
}

func (s *ThrottleStore) Set(ctx context.Context, key string, value []byte) error {
	_, err := s.db.ExecContext(ctx,
		`INSERT INTO throttle_state (key, value, updated_at) VALUES (?, ?, ?)
		 ON CONFLICT(key) DO UPDATE SET value = excluded.value, updated_at = excluded.updated_at`,
		key, value, s.clock.Now().UTC(),
	)
	if err != nil {
		return fmt.Errorf("set throttle state: %w", err)
	}
	return nil
}

func (s *ThrottleStore) Delete(ctx context.Context, key string) error {
	_, err := s.db.ExecContext(ctx, `DELETE FROM throttle_state WHERE key = ?`, key)
	if err != nil {
		return fmt.Errorf("delete throttle state: %w", err)
	}
	return nil
}

// DeleteStale removes rows not written since cutoff.
func (s *ThrottleStore) DeleteStale(ctx context.Context, cutoff time.Time) (int64, error) {
	result, err := s.db.ExecContext(ctx, `DELETE FROM throttle_state WHERE updated_at <= ?`, cutoff.UTC())
	if err != nil {
		return 0, fmt.Errorf("delete stale throttle state: %w", err)
	}
	count, err := result.RowsAffected()
	if err != nil {
		return 0, fmt.Errorf("rows affected: %w", err)
	}
	return count, nil
}
