package security

import (
	"testing"

	"github.com/stretchr/testify/assert"

	"github.com/carebook/carebook-backend/internal/principal"
)

func TestScoreIsDeterministic(t *testing.T) {
	tests := []struct {
		name           string
		kind           EventKind
		rc             RiskContext
		wantScore      int
		wantSuspicious bool
	}{
		{"plain success", EventLoginSuccess, RiskContext{}, 5, false},
		{"single failure", EventLoginFailed, RiskContext{FailedStreak: 1}, 25, false},
		{"third failure", EventLoginFailed, RiskContext{FailedStreak: 3}, 45, false},
		{"failure streak capped", EventLoginFailed, RiskContext{FailedStreak: 10}, 55, false},
		{"lockout", EventAccountLocked, RiskContext{FailedStreak: 3}, 90, true},
		{"refresh reuse", EventRefreshReuse, RiskContext{}, 90, true},
		{"reuse with new device clamps at 100", EventRefreshReuse, RiskContext{NewFingerprint: true, EmptyUserAgent: true}, 100, true},
		{"rate limited", EventRateLimited, RiskContext{}, 40, false},
		{"fingerprint mismatch", EventFingerprintChanged, RiskContext{}, 75, true},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			score, _ := Score(tt.kind, tt.rc)
			assert.Equal(t, tt.wantScore, score)

			e := NewEvent(tt.kind, principal.RolePatient, tt.rc)
			assert.Equal(t, tt.wantSuspicious, e.Suspicious)
			assert.Equal(t, score, e.RiskScore)
			assert.Equal(t, SeverityFor(score), e.Severity)
		})
	}
}

func TestSeverityFor(t *testing.T) {
	assert.Equal(t, SeverityInfo, SeverityFor(0))
	assert.Equal(t, SeverityInfo, SeverityFor(39))
	assert.Equal(t, SeverityWarning, SeverityFor(40))
	assert.Equal(t, SeverityWarning, SeverityFor(79))
	assert.Equal(t, SeverityCritical, SeverityFor(80))
	assert.Equal(t, SeverityCritical, SeverityFor(100))
}

func TestScoreFactorsExplainTheNumber(t *testing.T) {
	_, factors := Score(EventLoginFailed, RiskContext{FailedStreak: 4, EmptyUserAgent: true})
	assert.Contains(t, factors, "repeated_failures")
	assert.Contains(t, factors, "missing_user_agent")
}

func TestRedactIdentifier(t *testing.T) {
	tests := []struct {
		in   string
		want string
	}{
		{"patricia@example.com", "pa******@example.com"},
		{"al@example.com", "**@example.com"},
		{"+15551234567", "****4567"},
		{"911", "****"},
		{"", ""},
		{"  spaced@x.io  ", "sp****@x.io"},
	}
	for _, tt := range tests {
		assert.Equal(t, tt.want, RedactIdentifier(tt.in), "input %q", tt.in)
	}
}
