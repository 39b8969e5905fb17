// Package auth runs the login, refresh-rotation, and logout flows for
// both roles. One Manager serves one role; the role's directory, lockout
// policy, and session cap are fixed at construction.
package auth

import (
	"strings"
	"time"

	"github.com/google/uuid"

	"github.com/carebook/carebook-backend/internal/apperror"
	"github.com/carebook/carebook-backend/internal/principal"
	"github.com/carebook/carebook-backend/internal/session"
)

// ClientContext is what the transport layer knows about the caller.
// It feeds fingerprints, guard keys, and the security trail.
type ClientContext struct {
	SourceAddr string
	UserAgent  string
	Device     string
}

// LoginRequest is the login body. The identifier is an email or an
// E.164 phone number.
type LoginRequest struct {
	Identifier string `json:"identifier"`
	Password   string `json:"password"`
	Remember   bool   `json:"remember_me"`
	Device     string `json:"device_descriptor"`
}

// Normalize trims the identifier and device descriptor.
func (r *LoginRequest) Normalize() {
	r.Identifier = strings.TrimSpace(r.Identifier)
	r.Device = strings.TrimSpace(r.Device)
}

// Validate rejects empty credentials before any store work.
func (r *LoginRequest) Validate() error {
	fields := map[string][]string{}
	if r.Identifier == "" {
		fields["identifier"] = append(fields["identifier"], "is required")
	}
	if r.Password == "" {
		fields["password"] = append(fields["password"], "is required")
	}
	if len(fields) > 0 {
		return apperror.Validation(fields)
	}
	return nil
}

// RefreshRequest carries the rotation credential. The device descriptor
// is optional; when present the fingerprint is re-checked.
type RefreshRequest struct {
	RefreshToken string `json:"refresh_token"`
	Device       string `json:"device_descriptor,omitempty"`
}

// LogoutRequest identifies the session to retire.
type LogoutRequest struct {
	RefreshToken string `json:"refresh_token"`
}

// LogoutAllRequest re-verifies the password before revoking every
// session.
type LogoutAllRequest struct {
	Password string `json:"password"`
}

// PrincipalSummary is the principal as login and refresh report it.
type PrincipalSummary struct {
	ID            uuid.UUID      `json:"id"`
	Role          principal.Role `json:"role"`
	Email         string         `json:"email"`
	DisplayName   string         `json:"display_name"`
	EmailVerified bool           `json:"email_verified"`
	PhoneVerified bool           `json:"phone_verified"`
	LastLoginAt   *time.Time     `json:"last_login_at,omitempty"`
}

func summaryOf(acct *principal.Account) PrincipalSummary {
	return PrincipalSummary{
		ID:            acct.ID,
		Role:          acct.Role,
		Email:         acct.Email,
		DisplayName:   acct.DisplayName,
		EmailVerified: acct.EmailVerified,
		PhoneVerified: acct.PhoneVerified,
		LastLoginAt:   acct.LastLoginAt,
	}
}

// TokenPair is the login and refresh response payload. ExpiresIn counts
// seconds of access-token life.
type TokenPair struct {
	AccessToken  string           `json:"access_token"`
	RefreshToken string           `json:"refresh_token"`
	TokenType    string           `json:"token_type"`
	ExpiresIn    int64            `json:"expires_in"`
	Principal    PrincipalSummary `json:"principal"`
}

// SessionView is one device login as the sessions list shows it. The
// refresh digest never leaves the store; the fingerprint shows only an
// 8-character prefix.
type SessionView struct {
	ID          uuid.UUID `json:"id"`
	Device      string    `json:"device,omitempty"`
	UserAgent   string    `json:"user_agent,omitempty"`
	SourceAddr  string    `json:"source_addr,omitempty"`
	Location    string    `json:"location,omitempty"`
	Fingerprint string    `json:"fingerprint"`
	Remember    bool      `json:"remember_me"`
	Current     bool      `json:"current"`
	CreatedAt   time.Time `json:"created_at"`
	LastUsedAt  time.Time `json:"last_used_at"`
	ExpiresAt   time.Time `json:"expires_at"`
}

func viewOf(s *session.Session, current uuid.UUID) SessionView {
	fp := s.Fingerprint
	if len(fp) > 8 {
		fp = fp[:8]
	}
	return SessionView{
		ID:          s.ID,
		Device:      s.Device,
		UserAgent:   s.UserAgent,
		SourceAddr:  s.SourceAddr,
		Location:    s.Location,
		Fingerprint: fp,
		Remember:    s.Remember,
		Current:     s.ID == current,
		CreatedAt:   s.CreatedAt,
		LastUsedAt:  s.LastUsedAt,
		ExpiresAt:   s.ExpiresAt,
	}
}
