package session

import (
	"context"
	"testing"
	"time"
)

func TestNewID_Unique(t *testing.T) {
	seen := make(map[string]bool)
	for i := 0; i < 100; i++ {
		id := NewID()
		if len(id) != 43 {
			t.Fatalf("expected 43-char id, got %d", len(id))
		}
		if seen[id] {
			t.Fatalf("duplicate id %s", id)
		}
		seen[id] = true
	}
}

func TestSession_Roles(t *testing.T) {
	var nilSess *Session
	if nilSess.Authenticated() || nilSess.HasRole(RoleAdmin) {
		t.Error("nil session must be anonymous")
	}

	s := &Session{UserID: "u1", Roles: []string{RoleAdmin}}
	if !s.Authenticated() {
		t.Error("expected authenticated")
	}
	if !s.HasRole(RoleAdmin) || s.HasRole(RoleSuperAdmin) {
		t.Errorf("unexpected roles %v", s.Roles)
	}
}

func TestSession_Expired(t *testing.T) {
	now := time.Now()
	s := &Session{ExpiresAt: now.Add(time.Minute)}
	if s.Expired(now) {
		t.Error("should not be expired yet")
	}
	if !s.Expired(now.Add(2 * time.Minute)) {
		t.Error("should be expired")
	}
}

func TestContext(t *testing.T) {
	if FromContext(context.Background()) != nil {
		t.Error("expected nil session")
	}
	s := &Session{ID: "x"}
	if got := FromContext(WithSession(context.Background(), s)); got != s {
		t.Errorf("expected session back, got %v", got)
	}
}

func TestMemoryStore(t *testing.T) {
	ctx := context.Background()
	store := NewMemoryStore()
	now := time.Now()
	store.now = func() time.Time { return now }

	a := &Session{ID: "a", UserID: "u1", Roles: []string{RoleStaff}, ExpiresAt: now.Add(time.Hour)}
	b := &Session{ID: "b", UserID: "u1", ExpiresAt: now.Add(time.Hour)}
	c := &Session{ID: "c", UserID: "u2", ExpiresAt: now.Add(time.Hour)}
	for _, s := range []*Session{a, b, c} {
		if err := store.Save(ctx, s); err != nil {
			t.Fatal(err)
		}
	}

	got, err := store.Get(ctx, "a")
	if err != nil {
		t.Fatalf("get: %v", err)
	}
	got.Roles[0] = "mutated"
	again, _ := store.Get(ctx, "a")
	if again.Roles[0] != RoleStaff {
		t.Error("store must not share role slices with callers")
	}

	if err := store.DeleteUser(ctx, "u1"); err != nil {
		t.Fatal(err)
	}
	if _, err := store.Get(ctx, "a"); err != ErrNotFound {
		t.Errorf("expected ErrNotFound for a, got %v", err)
	}
	if _, err := store.Get(ctx, "b"); err != ErrNotFound {
		t.Errorf("expected ErrNotFound for b, got %v", err)
	}
	if _, err := store.Get(ctx, "c"); err != nil {
		t.Errorf("other user's session should survive: %v", err)
	}

	store.now = func() time.Time { return now.Add(2 * time.Hour) }
	if _, err := store.Get(ctx, "c"); err != ErrNotFound {
		t.Errorf("expected expired session to be gone, got %v", err)
	}
}

func TestNewStore_MemoryWhenNoURL(t *testing.T) {
	store, err := NewStore(context.Background(), "")
	if err != nil {
		t.Fatal(err)
	}
	if store.Kind() != "memory" {
		t.Errorf("expected memory store, got %s", store.Kind())
	}
}

func TestNewStore_BadURL(t *testing.T) {
	if _, err := NewStore(context.Background(), "not-a-url://"); err == nil {
		t.Error("expected parse error")
	}
}
