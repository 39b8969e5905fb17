package principal

import (
	"regexp"
	"strings"
)

var (
	emailRe = regexp.MustCompile(`^[^\s@]+@[^\s@]+\.[^\s@]+$`)
	phoneRe = regexp.MustCompile(`^\+[0-9]{1,15}$`)
)

// ValidEmail reports whether s is shaped like a deliverable address. The
// check is deliberately shallow; ownership is proven by the verification
// flow, not the regexp.
func ValidEmail(s string) bool { return emailRe.MatchString(s) }

// ValidPhone reports whether s is an E.164 number: a plus sign followed by
// up to fifteen digits.
func ValidPhone(s string) bool { return phoneRe.MatchString(s) }

// CanonicalIdentifier trims and case-folds an email so lookups and
// uniqueness agree on one spelling. Phone numbers pass through untouched
// apart from trimming.
func CanonicalIdentifier(s string) string {
	s = strings.TrimSpace(s)
	if strings.Contains(s, "@") {
		return strings.ToLower(s)
	}
	return s
}
