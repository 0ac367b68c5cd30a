package store

import (
	"context"
	"testing"

	"github.com/dukerupert/fairway/internal/model"
)

func TestPlayerGetOrCreate(t *testing.T) {
	ps := NewPlayerStore(setupTestDB(t))
	ctx := context.Background()

	p, err := ps.GetOrCreate(ctx, "alice@example.com", model.RolePlayer, testNow)
	if err != nil {
		t.Fatalf("get or create: %v", err)
	}
	if p.ID == 0 {
		t.Error("expected non-zero ID")
	}
	if p.Role != model.RolePlayer {
		t.Errorf("role = %q, want %q", p.Role, model.RolePlayer)
	}

	again, err := ps.GetOrCreate(ctx, "alice@example.com", model.RoleAdmin, testNow)
	if err != nil {
		t.Fatalf("second get or create: %v", err)
	}
	if again.ID != p.ID {
		t.Errorf("id = %d, want %d", again.ID, p.ID)
	}
	if again.Role != model.RolePlayer {
		t.Errorf("existing role overwritten: %q", again.Role)
	}
}

func TestPlayerUpdateProfile(t *testing.T) {
	ps := NewPlayerStore(setupTestDB(t))
	ctx := context.Background()

	p, _ := ps.GetOrCreate(ctx, "alice@example.com", model.RolePlayer, testNow)
	age := 34
	hcp := 12.4
	p.FirstName = "Alice"
	p.LastName = "Moss"
	p.Age = &age
	p.Handicap = &hcp

	updated, err := ps.UpdateProfile(ctx, p, testNow)
	if err != nil {
		t.Fatalf("update profile: %v", err)
	}
	if updated.FirstName != "Alice" || updated.LastName != "Moss" {
		t.Errorf("name = %q %q", updated.FirstName, updated.LastName)
	}
	if updated.Age == nil || *updated.Age != 34 {
		t.Errorf("age = %v, want 34", updated.Age)
	}
	if updated.Handicap == nil || *updated.Handicap != 12.4 {
		t.Errorf("handicap = %v, want 12.4", updated.Handicap)
	}
}

func TestPlayerGetByEmailNotFound(t *testing.T) {
	ps := NewPlayerStore(setupTestDB(t))

	p, err := ps.GetByEmail(context.Background(), "nobody@example.com")
	if err != nil {
		t.Fatalf("get by email: %v", err)
	}
	if p != nil {
		t.Error("expected nil for nonexistent email")
	}
}
