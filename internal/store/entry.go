package store

import (
	"context"
	"database/sql"
	"fmt"
	"time"

	"github.com/dukerupert/fairway/internal/model"
)

type EntryStore struct {
	db DBTX
}

func NewEntryStore(db DBTX) *EntryStore {
	return &EntryStore{db: db}
}

func (s *EntryStore) WithTx(tx *sql.Tx) *EntryStore {
	return &EntryStore{db: tx}
}

func scanEntry(sc scanner) (*model.Entry, error) {
	var e model.Entry
	var outcome sql.NullString
	var reportedAt sql.NullTime

	err := sc.Scan(
		&e.ID, &e.PlayerID, &e.CompetitionID, &e.AttemptWindowStart, &e.AttemptWindowEnd,
		&outcome, &reportedAt, &e.Status, &e.CreatedAt, &e.UpdatedAt,
	)
	if err != nil {
		return nil, err
	}
	if outcome.Valid {
		o := model.Outcome(outcome.String)
		e.OutcomeSelf = &o
	}
	e.OutcomeReportedAt = timePtr(reportedAt)
	return &e, nil
}

const entryCols = `id, player_id, competition_id, attempt_window_start, attempt_window_end, outcome_self, outcome_reported_at, status, created_at, updated_at`

func (s *EntryStore) Create(ctx context.Context, e *model.Entry) (*model.Entry, error) {
	_, err := s.db.ExecContext(ctx,
		`INSERT INTO entries (id, player_id, competition_id, attempt_window_start, attempt_window_end, status, created_at, updated_at)
		 VALUES (?, ?, ?, ?, ?, ?, ?, ?)`,
		e.ID, e.PlayerID, e.CompetitionID, e.AttemptWindowStart.UTC(), e.AttemptWindowEnd.UTC(),
		e.Status, e.CreatedAt.UTC(), e.UpdatedAt.UTC(),
	)
	if err != nil {
		return nil, fmt.Errorf("insert entry: %w", err)
	}
	return s.GetByID(ctx, e.ID)
}

func (s *EntryStore) GetByID(ctx context.Context, id string) (*model.Entry, error) {
	row := s.db.QueryRowContext(ctx, `SELECT `+entryCols+` FROM entries WHERE id = ?`, id)
	e, err := scanEntry(row)
	if err == sql.ErrNoRows {
		return nil, nil
	}
	if err != nil {
		return nil, fmt.Errorf("get entry: %w", err)
	}
	return e, nil
}

// ListByPlayer returns a player's entries, newest first.
func (s *EntryStore) ListByPlayer(ctx context.Context, playerID int64) ([]model.Entry, error) {
	rows, err := s.db.QueryContext(ctx,
		`SELECT `+entryCols+` FROM entries WHERE player_id = ? ORDER BY created_at DESC`, playerID)
	if err != nil {
		return nil, fmt.Errorf("list entries: %w", err)
	}
	defer rows.Close()
	return collectEntries(rows)
}

// ListOverdue returns unresolved entries whose window ended at or before now.
func (s *EntryStore) ListOverdue(ctx context.Context, now time.Time, limit int) ([]model.Entry, error) {
	rows, err := s.db.QueryContext(ctx,
		`SELECT `+entryCols+` FROM entries
		 WHERE outcome_self IS NULL AND attempt_window_end <= ?
		 ORDER BY attempt_window_end ASC LIMIT ?`,
		now.UTC(), limit,
	)
	if err != nil {
		return nil, fmt.Errorf("list overdue entries: %w", err)
	}
	defer rows.Close()
	return collectEntries(rows)
}

func collectEntries(rows *sql.Rows) ([]model.Entry, error) {
	var entries []model.Entry
	for rows.Next() {
		e, err := scanEntry(rows)
		if err != nil {
			return nil, fmt.Errorf("scan entry: %w", err)
		}
		entries = append(entries, *e)
	}
	return entries, rows.Err()
}

// ReportOutcome records a self-reported outcome while the window is still
// open. It reports false when the outcome was already set or the window has
// closed.
func (s *EntryStore) ReportOutcome(ctx context.Context, id string, outcome model.Outcome, status string, now time.Time) (bool, error) {
	now = now.UTC()
	result, err := s.db.ExecContext(ctx,
		`UPDATE entries SET outcome_self = ?, outcome_reported_at = ?, status = ?, updated_at = ?
		 WHERE id = ? AND outcome_self IS NULL AND attempt_window_end > ?`,
		string(outcome), now, status, now, id, now,
	)
	if err != nil {
		return false, fmt.Errorf("report entry outcome: %w", err)
	}
	return affected(result)
}

// AutoMiss resolves an overdue entry. It reports false when the outcome was
// already set or the window has not yet closed.
func (s *EntryStore) AutoMiss(ctx context.Context, id string, now time.Time) (bool, error) {
	now = now.UTC()
	result, err := s.db.ExecContext(ctx,
		`UPDATE entries SET outcome_self = 'auto_miss', outcome_reported_at = ?, status = ?, updated_at = ?
		 WHERE id = ? AND outcome_self IS NULL AND attempt_window_end <= ?`,
		now, model.EntryStatusCompleted, now, id, now,
	)
	if err != nil {
		return false, fmt.Errorf("auto-miss entry: %w", err)
	}
	return affected(result)
}

func (s *EntryStore) UpdateStatus(ctx context.Context, id, status string, now time.Time) error {
	_, err := s.db.ExecContext(ctx,
		`UPDATE entries SET status = ?, updated_at = ? WHERE id = ?`,
		status, now.UTC(), id,
	)
	if err != nil {
		return fmt.Errorf("update entry status: %w", err)
	}
	return nil
}
