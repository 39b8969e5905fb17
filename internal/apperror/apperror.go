package apperror

import (
	"errors"
	"fmt"
	"time"
)

// Kind classifies an error for transport mapping. Handlers never branch on
// message text; services signal outcomes through kinds and codes.
type Kind int

const (
	KindInternal Kind = iota
	KindBadInput
	KindUnauthorized
	KindInvalidCredentials
	KindEmailNotVerified
	KindAccountLocked
	KindAccountDeactivated
	KindForbidden
	KindNotFound
	KindConflict
	KindRateLimited
)

// String returns the default machine-readable code for the kind.
func (k Kind) String() string {
	switch k {
	case KindBadInput:
		return "bad_input"
	case KindUnauthorized:
		return "unauthorized"
	case KindInvalidCredentials:
		return "invalid_credentials"
	case KindEmailNotVerified:
		return "email_not_verified"
	case KindAccountLocked:
		return "account_locked"
	case KindAccountDeactivated:
		return "account_deactivated"
	case KindForbidden:
		return "forbidden"
	case KindNotFound:
		return "not_found"
	case KindConflict:
		return "conflict"
	case KindRateLimited:
		return "rate_limited"
	default:
		return "internal_error"
	}
}

// Error is the application error carried from services to the HTTP layer.
type Error struct {
	Kind    Kind
	Code    string
	Message string
	Fields  map[string][]string
	Meta    map[string]any
	Err     error
}

func (e *Error) Error() string {
	if e.Err != nil {
		return fmt.Sprintf("%s: %s: %v", e.Code, e.Message, e.Err)
	}
	return fmt.Sprintf("%s: %s", e.Code, e.Message)
}

func (e *Error) Unwrap() error { return e.Err }

// WithMeta attaches extra envelope context (retry_after, locked_until, ...).
func (e *Error) WithMeta(key string, value any) *Error {
	if e.Meta == nil {
		e.Meta = make(map[string]any)
	}
	e.Meta[key] = value
	return e
}

// WithField appends a per-field validation message.
func (e *Error) WithField(field, msg string) *Error {
	if e.Fields == nil {
		e.Fields = make(map[string][]string)
	}
	e.Fields[field] = append(e.Fields[field], msg)
	return e
}

// WithCause records the underlying error for logs. The cause is never
// exposed in responses.
func (e *Error) WithCause(err error) *Error {
	e.Err = err
	return e
}

// E builds an error with an explicit code.
func E(kind Kind, code, message string) *Error {
	return &Error{Kind: kind, Code: code, Message: message}
}

// New builds an error with the kind's default code.
func New(kind Kind, message string) *Error {
	return &Error{Kind: kind, Code: kind.String(), Message: message}
}

func BadInput(message string) *Error { return New(KindBadInput, message) }

// Validation builds a BadInput error carrying per-field messages.
func Validation(fields map[string][]string) *Error {
	e := E(KindBadInput, "validation_failed", "validation failed")
	e.Fields = fields
	return e
}

func Unauthorized(message string) *Error { return New(KindUnauthorized, message) }

// InvalidCredentials is deliberately identical for unknown identifiers and
// wrong passwords so responses do not leak account existence.
func InvalidCredentials() *Error {
	return New(KindInvalidCredentials, "invalid email/phone or password")
}

// EmailNotVerified blocks patient logins until the address is confirmed.
// The envelope carries verification_required so clients can route the
// user to the resend flow.
func EmailNotVerified() *Error {
	return New(KindEmailNotVerified, "verify your email address before logging in").
		WithMeta("verification_required", true)
}

// Locked reports a lockout with its expiry in the envelope.
func Locked(until time.Time) *Error {
	return New(KindAccountLocked, "account temporarily locked due to failed login attempts").
		WithMeta("locked_until", until.UTC().Format(time.RFC3339))
}

func Deactivated() *Error {
	return New(KindAccountDeactivated, "account is deactivated")
}

func Forbidden(message string) *Error { return New(KindForbidden, message) }

func NotFound(resource string) *Error {
	return E(KindNotFound, resource+"_not_found", resource+" not found")
}

func Conflict(message string) *Error { return New(KindConflict, message) }

func Conflictf(format string, args ...any) *Error {
	return New(KindConflict, fmt.Sprintf(format, args...))
}

// RateLimited reports a throttled request with the retry window in seconds.
func RateLimited(retryAfter time.Duration) *Error {
	secs := int(retryAfter.Round(time.Second).Seconds())
	if secs < 1 {
		secs = 1
	}
	return New(KindRateLimited, "too many requests, slow down").
		WithMeta("retry_after", secs)
}

// Internal wraps an unexpected failure. The message shown to clients is
// generic; err goes to logs only.
func Internal(err error) *Error {
	return New(KindInternal, "something went wrong").WithCause(err)
}

// From normalizes any error into an *Error, wrapping unknown errors as
// internal.
func From(err error) *Error {
	var ae *Error
	if errors.As(err, &ae) {
		return ae
	}
	return Internal(err)
}

// KindOf extracts the kind, defaulting to internal for foreign errors.
func KindOf(err error) Kind {
	var ae *Error
	if errors.As(err, &ae) {
		return ae.Kind
	}
	return KindInternal
}

// IsKind reports whether err carries the given kind.
func IsKind(err error, kind Kind) bool {
	return KindOf(err) == kind
}
