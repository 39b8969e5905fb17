package credentials

import (
	"crypto/rand"
	"encoding/hex"
	"errors"
	"fmt"
	"time"

	"github.com/golang-jwt/jwt/v5"
)

const tokenIssuer = "carebook"

var (
	ErrTokenInvalid = errors.New("credentials: invalid token")
	ErrTokenExpired = errors.New("credentials: token expired")
)

// AccessClaims ride inside short-lived bearer tokens.
type AccessClaims struct {
	Role          string `json:"role"`
	Email         string `json:"email,omitempty"`
	EmailVerified bool   `json:"email_verified"`
	PhoneVerified bool   `json:"phone_verified"`
	SessionID     string `json:"sid"`
	Fingerprint   string `json:"fp,omitempty"`
	jwt.RegisteredClaims
}

// RefreshClaims ride inside rotation credentials. The registered ID (jti)
// is 32 random bytes, making every minted refresh token unique; the
// server stores only its digest.
type RefreshClaims struct {
	Role        string `json:"role"`
	SessionID   string `json:"sid"`
	Fingerprint string `json:"fp,omitempty"`
	jwt.RegisteredClaims
}

// TokenIssuer signs and verifies both token families with distinct HMAC
// secrets.
type TokenIssuer struct {
	accessSecret  []byte
	refreshSecret []byte
	now           func() time.Time
}

func NewTokenIssuer(accessSecret, refreshSecret string) *TokenIssuer {
	return &TokenIssuer{
		accessSecret:  []byte(accessSecret),
		refreshSecret: []byte(refreshSecret),
		now:           time.Now,
	}
}

// WithClock overrides the time source. Tests only.
func (ti *TokenIssuer) WithClock(now func() time.Time) *TokenIssuer {
	ti.now = now
	return ti
}

// AccessInput is everything an access token asserts about its bearer.
type AccessInput struct {
	PrincipalID   string
	Role          string
	Email         string
	EmailVerified bool
	PhoneVerified bool
	SessionID     string
	Fingerprint   string
}

// MintAccess signs a short-lived access token.
func (ti *TokenIssuer) MintAccess(in AccessInput, ttl time.Duration) (string, error) {
	now := ti.now().UTC()
	claims := AccessClaims{
		Role:          in.Role,
		Email:         in.Email,
		EmailVerified: in.EmailVerified,
		PhoneVerified: in.PhoneVerified,
		SessionID:     in.SessionID,
		Fingerprint:   in.Fingerprint,
		RegisteredClaims: jwt.RegisteredClaims{
			Issuer:    tokenIssuer,
			Subject:   in.PrincipalID,
			IssuedAt:  jwt.NewNumericDate(now),
			ExpiresAt: jwt.NewNumericDate(now.Add(ttl)),
		},
	}
	token := jwt.NewWithClaims(jwt.SigningMethodHS256, claims)
	signed, err := token.SignedString(ti.accessSecret)
	if err != nil {
		return "", fmt.Errorf("credentials: signing access token failed: %w", err)
	}
	return signed, nil
}

// RefreshInput identifies the session a refresh token belongs to.
type RefreshInput struct {
	PrincipalID string
	Role        string
	SessionID   string
	Fingerprint string
}

// MintRefresh signs a rotation credential and returns it with its claims
// so callers can persist the digest and expiry.
func (ti *TokenIssuer) MintRefresh(in RefreshInput, ttl time.Duration) (string, *RefreshClaims, error) {
	now := ti.now().UTC()
	claims := RefreshClaims{
		Role:        in.Role,
		SessionID:   in.SessionID,
		Fingerprint: in.Fingerprint,
		RegisteredClaims: jwt.RegisteredClaims{
			Issuer:    tokenIssuer,
			Subject:   in.PrincipalID,
			ID:        newTokenID(),
			IssuedAt:  jwt.NewNumericDate(now),
			ExpiresAt: jwt.NewNumericDate(now.Add(ttl)),
		},
	}
	token := jwt.NewWithClaims(jwt.SigningMethodHS256, claims)
	signed, err := token.SignedString(ti.refreshSecret)
	if err != nil {
		return "", nil, fmt.Errorf("credentials: signing refresh token failed: %w", err)
	}
	return signed, &claims, nil
}

// newTokenID draws 32 random bytes for the jti claim.
func newTokenID() string {
	buf := make([]byte, 32)
	if _, err := rand.Read(buf); err != nil {
		panic(fmt.Sprintf("credentials: random token id: %v", err))
	}
	return hex.EncodeToString(buf)
}

// VerifyAccess parses and validates an access token.
func (ti *TokenIssuer) VerifyAccess(tokenString string) (*AccessClaims, error) {
	claims := &AccessClaims{}
	if err := ti.verify(tokenString, claims, ti.accessSecret); err != nil {
		return nil, err
	}
	return claims, nil
}

// VerifyRefresh parses and validates a refresh token.
func (ti *TokenIssuer) VerifyRefresh(tokenString string) (*RefreshClaims, error) {
	claims := &RefreshClaims{}
	if err := ti.verify(tokenString, claims, ti.refreshSecret); err != nil {
		return nil, err
	}
	return claims, nil
}

func (ti *TokenIssuer) verify(tokenString string, claims jwt.Claims, secret []byte) error {
	token, err := jwt.ParseWithClaims(tokenString, claims, func(token *jwt.Token) (any, error) {
		if _, ok := token.Method.(*jwt.SigningMethodHMAC); !ok {
			return nil, jwt.ErrSignatureInvalid
		}
		return secret, nil
	},
		jwt.WithIssuer(tokenIssuer),
		jwt.WithTimeFunc(ti.now),
	)
	if err != nil {
		if errors.Is(err, jwt.ErrTokenExpired) {
			return ErrTokenExpired
		}
		return fmt.Errorf("%w: %v", ErrTokenInvalid, err)
	}
	if !token.Valid {
		return ErrTokenInvalid
	}
	return nil
}
