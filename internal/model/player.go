package model

import "time"

const (
	RolePlayer = "player"
	RoleAdmin  = "admin"
)

type Player struct {
	ID        int64     `json:"id"`
	Email     string    `json:"email"`
	FirstName string    `json:"first_name"`
	LastName  string    `json:"last_name"`
	Phone     string    `json:"phone"`
	Age       *int      `json:"age"`
	Handicap  *float64  `json:"handicap"`
	Role      string    `json:"role"`
	CreatedAt time.Time `json:"created_at"`
	UpdatedAt time.Time `json:"updated_at"`
}
