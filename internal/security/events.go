// Package security keeps the append-only security event trail: every
// authentication outcome, session change and throttle decision lands here
// with a deterministic risk score.
package security

import (
	"encoding/json"
	"strings"
	"time"

	"github.com/google/uuid"

	"github.com/carebook/carebook-backend/internal/principal"
)

// EventKind names a security-relevant occurrence.
type EventKind string

const (
	EventLoginSuccess       EventKind = "auth.login_success"
	EventLoginFailed        EventKind = "auth.login_failed"
	EventAccountLocked      EventKind = "auth.account_locked"
	EventRefreshUsed        EventKind = "auth.refresh_used"
	EventRefreshReuse       EventKind = "auth.refresh_reuse_blocked"
	EventLogout             EventKind = "auth.logout"
	EventSessionRevoked     EventKind = "auth.session_revoked"
	EventSessionCapEvicted  EventKind = "auth.session_cap_evicted"
	EventRegistration       EventKind = "account.registered"
	EventEmailVerified      EventKind = "account.email_verified"
	EventPhoneVerified      EventKind = "account.phone_verified"
	EventRateLimited        EventKind = "guard.rate_limited"
	EventFingerprintChanged EventKind = "auth.fingerprint_mismatch"
)

// Severity buckets derived from the risk score.
const (
	SeverityInfo     = "info"
	SeverityWarning  = "warning"
	SeverityCritical = "critical"
)

// suspiciousThreshold is the risk score at or above which an event is
// flagged for review.
const suspiciousThreshold = 60

// SeverityFor buckets a risk score.
func SeverityFor(score int) string {
	switch {
	case score >= 80:
		return SeverityCritical
	case score >= 40:
		return SeverityWarning
	default:
		return SeverityInfo
	}
}

// Event is one immutable row in the security trail.
type Event struct {
	ID          uuid.UUID       `json:"id"`
	Kind        EventKind       `json:"kind"`
	Role        principal.Role  `json:"role,omitempty"`
	PrincipalID *uuid.UUID      `json:"principal_id,omitempty"`
	Identifier  string          `json:"identifier,omitempty"`
	SourceAddr  string          `json:"source_addr,omitempty"`
	UserAgent   string          `json:"user_agent,omitempty"`
	Fingerprint string          `json:"fingerprint,omitempty"`
	Severity    string          `json:"severity"`
	RiskScore   int             `json:"risk_score"`
	RiskFactors []string        `json:"risk_factors,omitempty"`
	Suspicious  bool            `json:"suspicious"`
	Details     json.RawMessage `json:"details,omitempty"`
	CreatedAt   time.Time       `json:"created_at"`
}

// RiskContext feeds the scorer with what the auth flow knows at event
// time.
type RiskContext struct {
	FailedStreak   int
	NewFingerprint bool
	EmptyUserAgent bool
}

// Score computes the deterministic risk score and contributing factors
// for a kind under the given context. Scores are clamped to [0, 100].
func Score(kind EventKind, rc RiskContext) (int, []string) {
	var score int
	var factors []string

	switch kind {
	case EventLoginFailed:
		score = 25
	case EventAccountLocked:
		score = 70
		factors = append(factors, "lockout_triggered")
	case EventRefreshReuse:
		score = 90
		factors = append(factors, "refresh_token_replayed")
	case EventFingerprintChanged:
		score = 75
		factors = append(factors, "client_fingerprint_mismatch")
	case EventRateLimited:
		score = 40
		factors = append(factors, "window_exhausted")
	case EventSessionCapEvicted:
		score = 20
	default:
		score = 5
	}

	if rc.FailedStreak > 1 {
		bump := 10 * (rc.FailedStreak - 1)
		if bump > 30 {
			bump = 30
		}
		score += bump
		factors = append(factors, "repeated_failures")
	}
	if rc.NewFingerprint {
		score += 10
		factors = append(factors, "unseen_device")
	}
	if rc.EmptyUserAgent {
		score += 10
		factors = append(factors, "missing_user_agent")
	}

	if score > 100 {
		score = 100
	}
	if score < 0 {
		score = 0
	}
	return score, factors
}

// NewEvent assembles an event with its score and severity filled in.
func NewEvent(kind EventKind, role principal.Role, rc RiskContext) *Event {
	score, factors := Score(kind, rc)
	return &Event{
		ID:          uuid.New(),
		Kind:        kind,
		Role:        role,
		Severity:    SeverityFor(score),
		RiskScore:   score,
		RiskFactors: factors,
		Suspicious:  score >= suspiciousThreshold,
		CreatedAt:   time.Now().UTC(),
	}
}

// RedactIdentifier masks the local part of an email, keeping enough to
// correlate events without storing the full address in failure rows.
// Phone numbers keep only the last four digits.
func RedactIdentifier(identifier string) string {
	identifier = strings.TrimSpace(identifier)
	if identifier == "" {
		return ""
	}
	if at := strings.LastIndex(identifier, "@"); at > 0 {
		local := identifier[:at]
		if len(local) <= 2 {
			return "**" + identifier[at:]
		}
		return local[:2] + strings.Repeat("*", len(local)-2) + identifier[at:]
	}
	// treat as phone
	digits := strings.Map(func(r rune) rune {
		if r >= '0' && r <= '9' {
			return r
		}
		return -1
	}, identifier)
	if len(digits) <= 4 {
		return "****"
	}
	return "****" + digits[len(digits)-4:]
}
