package model

import "time"

// Session is the stored half of a login: the refresh credential digest.
// Access tokens are stateless and never persisted.
type Session struct {
	ID          int64      `json:"id"`
	PlayerID    int64      `json:"player_id"`
	RefreshHash string     `json:"-"`
	ExpiresAt   time.Time  `json:"expires_at"`
	RevokedAt   *time.Time `json:"revoked_at"`
	CreatedAt   time.Time  `json:"created_at"`
}

// AuthToken is a single-use magic link credential bound to a pending
// identity and the page the player should land on after redeeming it.
type AuthToken struct {
	ID          int64      `json:"id"`
	TokenHash   string     `json:"-"`
	Email       string     `json:"email"`
	Flow        string     `json:"flow"`
	FirstName   string     `json:"first_name"`
	LastName    string     `json:"last_name"`
	Phone       string     `json:"phone"`
	Age         int        `json:"age"`
	Handicap    *float64   `json:"handicap"`
	Destination string     `json:"destination"`
	CreatedAt   time.Time  `json:"created_at"`
	ExpiresAt   time.Time  `json:"expires_at"`
	Used        bool       `json:"used"`
	UsedAt      *time.Time `json:"used_at"`
}
