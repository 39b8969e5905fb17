// Package principal models what providers and patients have in common for
// authentication: an account shape, a directory lookup contract, and the
// request-context plumbing that carries the authenticated caller.
package principal

import (
	"context"
	"time"

	"github.com/google/uuid"
)

// Role separates the two principal classes. Tokens, sessions and security
// events are all role-qualified; ids are only unique within a role.
type Role string

const (
	RoleProvider Role = "provider"
	RolePatient  Role = "patient"
)

func (r Role) Valid() bool { return r == RoleProvider || r == RolePatient }

// Account is the auth-relevant projection of a provider or patient row.
type Account struct {
	ID            uuid.UUID
	Role          Role
	Email         string
	Phone         string
	DisplayName   string
	PasswordHash  string
	EmailVerified bool
	PhoneVerified bool
	Active        bool
	FailedLogins  int
	LockedUntil   *time.Time
	LastLoginAt   *time.Time
}

// LockedAt reports whether the account is under an active lockout at t.
func (a *Account) LockedAt(t time.Time) bool {
	return a.LockedUntil != nil && a.LockedUntil.After(t)
}

// Verified reports whether at least one contact channel is confirmed.
func (a *Account) Verified() bool {
	return a.EmailVerified || a.PhoneVerified
}

// Directory is the capability set the auth manager needs from an account
// store. Provider and patient stores both implement it.
type Directory interface {
	Role() Role
	// FindByIdentifier accepts a case-folded email or an E.164 phone
	// number. Unknown identifiers return the store's not-found sentinel.
	FindByIdentifier(ctx context.Context, identifier string) (*Account, error)
	FindByID(ctx context.Context, id uuid.UUID) (*Account, error)
	// RecordLoginFailure persists a new failure count and, when the
	// lockout threshold was crossed, the lockout expiry.
	RecordLoginFailure(ctx context.Context, id uuid.UUID, failedLogins int, lockedUntil *time.Time) error
	// RecordLoginSuccess clears the failure state and stamps last login.
	RecordLoginSuccess(ctx context.Context, id uuid.UUID, at time.Time) error
}

type ctxKey string

const principalKey ctxKey = "carebook.principal"

// Principal is the authenticated caller attached to a request context.
type Principal struct {
	ID          uuid.UUID
	Role        Role
	Email       string
	SessionID   uuid.UUID
	Fingerprint string
}

// WithPrincipal stores the authenticated caller in context.
func WithPrincipal(ctx context.Context, p Principal) context.Context {
	return context.WithValue(ctx, principalKey, p)
}

// FromContext extracts the authenticated caller if present.
func FromContext(ctx context.Context) (Principal, bool) {
	val := ctx.Value(principalKey)
	if val == nil {
		return Principal{}, false
	}
	p, ok := val.(Principal)
	return p, ok && p.ID != uuid.Nil
}
