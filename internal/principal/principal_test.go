package principal

import (
	"context"
	"testing"
	"time"

	"github.com/google/uuid"
)

func TestWithPrincipalAndFromContext(t *testing.T) {
	ctx := context.Background()
	p := Principal{
		ID:        uuid.New(),
		Role:      RolePatient,
		Email:     "pat@example.com",
		SessionID: uuid.New(),
	}
	ctx = WithPrincipal(ctx, p)

	got, ok := FromContext(ctx)
	if !ok {
		t.Fatal("expected principal to be present")
	}
	if got.ID != p.ID || got.Role != RolePatient {
		t.Fatalf("unexpected principal %+v", got)
	}
}

func TestFromContext_Missing(t *testing.T) {
	if _, ok := FromContext(context.Background()); ok {
		t.Fatal("expected missing principal to return false")
	}

	ctx := context.WithValue(context.Background(), principalKey, "not a principal")
	if _, ok := FromContext(ctx); ok {
		t.Fatal("expected non-principal value to return false")
	}

	ctx = WithPrincipal(context.Background(), Principal{})
	if _, ok := FromContext(ctx); ok {
		t.Fatal("expected zero principal to return false")
	}
}

func TestRoleValid(t *testing.T) {
	if !RoleProvider.Valid() || !RolePatient.Valid() {
		t.Fatal("known roles must be valid")
	}
	if Role("admin").Valid() {
		t.Fatal("unknown role must be invalid")
	}
}

func TestAccountLockedAt(t *testing.T) {
	now := time.Now()
	a := &Account{}
	if a.LockedAt(now) {
		t.Fatal("no lockout set")
	}
	until := now.Add(time.Hour)
	a.LockedUntil = &until
	if !a.LockedAt(now) {
		t.Fatal("expected active lockout")
	}
	if a.LockedAt(now.Add(2 * time.Hour)) {
		t.Fatal("lockout should expire")
	}
}

func TestAccountVerified(t *testing.T) {
	a := &Account{}
	if a.Verified() {
		t.Fatal("unverified account")
	}
	a.PhoneVerified = true
	if !a.Verified() {
		t.Fatal("phone verification should count")
	}
}
