package auth

import (
	"time"

	"github.com/carebook/carebook-backend/internal/principal"
)

// RolePolicy fixes the role-specific authentication knobs. Patients face
// a tighter lockout and carry a session cap; providers get shorter
// sessions on shared clinic machines.
type RolePolicy struct {
	// Failed logins before the account locks, and for how long.
	LockoutThreshold int
	LockoutDuration  time.Duration

	// Access token lifetimes, plain and with remember_me.
	AccessTTL         time.Duration
	AccessTTLRemember time.Duration

	// Session (= refresh token) lifetimes.
	SessionTTL         time.Duration
	SessionTTLRemember time.Duration

	// Live sessions allowed per principal; 0 means uncapped. Beyond the
	// cap the least-recently-used session is evicted.
	SessionCap int

	// RequireVerified blocks logins until the email address is confirmed.
	RequireVerified bool
}

// PatientPolicy returns the patient-side defaults.
func PatientPolicy() RolePolicy {
	return RolePolicy{
		LockoutThreshold:   3,
		LockoutDuration:    time.Hour,
		AccessTTL:          30 * time.Minute,
		AccessTTLRemember:  time.Hour,
		SessionTTL:         7 * 24 * time.Hour,
		SessionTTLRemember: 30 * 24 * time.Hour,
		SessionCap:         3,
		RequireVerified:    true,
	}
}

// ProviderPolicy returns the provider-side defaults.
func ProviderPolicy() RolePolicy {
	return RolePolicy{
		LockoutThreshold:   5,
		LockoutDuration:    30 * time.Minute,
		AccessTTL:          time.Hour,
		AccessTTLRemember:  2 * time.Hour,
		SessionTTL:         time.Hour,
		SessionTTLRemember: 24 * time.Hour,
	}
}

// PolicyFor picks the stock policy for a role.
func PolicyFor(role principal.Role) RolePolicy {
	if role == principal.RolePatient {
		return PatientPolicy()
	}
	return ProviderPolicy()
}
