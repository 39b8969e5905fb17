// Package session stores refresh sessions: one row per device login. A
// refresh rotates the stored digest in place; replaying a superseded
// refresh token simply fails and leaves the session intact.
package session

import (
	"errors"
	"time"

	"github.com/google/uuid"

	"github.com/carebook/carebook-backend/internal/principal"
)

var (
	ErrNotFound        = errors.New("session: not found")
	ErrAlreadyRevoked  = errors.New("session: already revoked")
	ErrRotateConflict  = errors.New("session: digest mismatch or session dead")
	ErrDigestCollision = errors.New("session: refresh digest already exists")
)

// Session is one (principal, device) login. RefreshDigest is the SHA-256
// of the current refresh token; the raw token is never stored.
type Session struct {
	ID            uuid.UUID
	PrincipalID   uuid.UUID
	Role          principal.Role
	RefreshDigest string
	Fingerprint   string
	Device        string
	UserAgent     string
	SourceAddr    string
	Location      string
	Remember      bool
	CreatedAt     time.Time
	LastUsedAt    time.Time
	ExpiresAt     time.Time
	RevokedAt     *time.Time
	RevokeReason  string
}

// Live reports whether the session is usable at t.
func (s *Session) Live(t time.Time) bool {
	return s.RevokedAt == nil && s.ExpiresAt.After(t)
}

// Revoke reasons recorded on retired sessions.
const (
	ReasonLogout      = "logout"
	ReasonLogoutAll   = "logout_all"
	ReasonDeviceCap   = "device_cap"
	ReasonUserRevoked = "user_revoked"
	ReasonMismatch    = "fingerprint_mismatch"
)
