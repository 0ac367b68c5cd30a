package model

import "time"

type Outcome string

const (
	OutcomeWin      Outcome = "win"
	OutcomeMiss     Outcome = "miss"
	OutcomeAutoMiss Outcome = "auto_miss"
)

const (
	EntryStatusOpen                = "open"
	EntryStatusCompleted           = "completed"
	EntryStatusVerificationPending = "verification_pending"
	EntryStatusVerified            = "verified"
	EntryStatusRejected            = "rejected"
)

// Entry is a player's attempt slot in a competition.
type Entry struct {
	ID                 string     `json:"id"`
	PlayerID           int64      `json:"player_id"`
	CompetitionID      string     `json:"competition_id"`
	AttemptWindowStart time.Time  `json:"attempt_window_start"`
	AttemptWindowEnd   time.Time  `json:"attempt_window_end"`
	OutcomeSelf        *Outcome   `json:"outcome_self"`
	OutcomeReportedAt  *time.Time `json:"outcome_reported_at"`
	Status             string     `json:"status"`
	CreatedAt          time.Time  `json:"created_at"`
	UpdatedAt          time.Time  `json:"updated_at"`
}

// Resolved reports whether the outcome has been recorded.
func (e *Entry) Resolved() bool {
	return e.OutcomeSelf != nil
}
