package store

import (
	"context"
	"database/sql"
	"fmt"
	"time"

	"github.com/dukerupert/fairway/internal/model"
)

type PlayerStore struct {
	db DBTX
}

func NewPlayerStore(db DBTX) *PlayerStore {
	return &PlayerStore{db: db}
}

func (s *PlayerStore) WithTx(tx *sql.Tx) *PlayerStore {
	return &PlayerStore{db: tx}
}

func scanPlayer(sc scanner) (*model.Player, error) {
	var p model.Player
	var age sql.NullInt64
	var handicap sql.NullFloat64
	err := sc.Scan(
		&p.ID, &p.Email, &p.FirstName, &p.LastName, &p.Phone,
		&age, &handicap, &p.Role, &p.CreatedAt, &p.UpdatedAt,
	)
	if err != nil {
		return nil, err
	}
	if age.Valid {
		a := int(age.Int64)
		p.Age = &a
	}
	p.Handicap = floatPtr(handicap)
	return &p, nil
}

const playerCols = `id, email, first_name, last_name, phone, age, handicap, role, created_at, updated_at`

// GetOrCreate returns the player with the given email, inserting a bare row
// with the given role when none exists. It never fails on an existing email.
func (s *PlayerStore) GetOrCreate(ctx context.Context, email, role string, now time.Time) (*model.Player, error) {
	now = now.UTC()
	_, err := s.db.ExecContext(ctx,
		`INSERT INTO players (email, role, created_at, updated_at) VALUES (?, ?, ?, ?)
		 ON CONFLICT(email) DO NOTHING`,
		email, role, now, now,
	)
	if err != nil {
		return nil, fmt.Errorf("insert player: %w", err)
	}
	p, err := s.GetByEmail(ctx, email)
	if err != nil {
		return nil, err
	}
	if p == nil {
		return nil, fmt.Errorf("get or create player: row missing after insert")
	}
	return p, nil
}

func (s *PlayerStore) GetByID(ctx context.Context, id int64) (*model.Player, error) {
	row := s.db.QueryRowContext(ctx, `SELECT `+playerCols+` FROM players WHERE id = ?`, id)
	p, err := scanPlayer(row)
	if err == sql.ErrNoRows {
		return nil, nil
	}
	if err != nil {
		return nil, fmt.Errorf("get player: %w", err)
	}
	return p, nil
}

func (s *PlayerStore) GetByEmail(ctx context.Context, email string) (*model.Player, error) {
	row := s.db.QueryRowContext(ctx, `SELECT `+playerCols+` FROM players WHERE email = ?`, email)
	p, err := scanPlayer(row)
	if err == sql.ErrNoRows {
		return nil, nil
	}
	if err != nil {
		return nil, fmt.Errorf("get player by email: %w", err)
	}
	return p, nil
}

// UpdateProfile overwrites the profile columns of a player.
func (s *PlayerStore) UpdateProfile(ctx context.Context, p *model.Player, now time.Time) (*model.Player, error) {
	var age sql.NullInt64
	if p.Age != nil {
		age = sql.NullInt64{Int64: int64(*p.Age), Valid: true}
	}
	_, err := s.db.ExecContext(ctx,
		`UPDATE players SET first_name = ?, last_name = ?, phone = ?, age = ?, handicap = ?, role = ?, updated_at = ?
		 WHERE id = ?`,
		p.FirstName, p.LastName, p.Phone, age, nullFloat(p.Handicap), p.Role, now.UTC(), p.ID,
	)
	if err != nil {
		return nil, fmt.Errorf("update player profile: %w", err)
	}
	return s.GetByID(ctx, p.ID)
}
