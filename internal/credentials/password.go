// Package credentials owns password hashing, token minting and
// verification, and the digests that bind sessions to clients. Nothing in
// here touches storage; callers persist what they are handed.
package credentials

import (
	"crypto/rand"
	"crypto/subtle"
	"encoding/base64"
	"errors"
	"fmt"
	"strings"

	"golang.org/x/crypto/argon2"
)

// Argon2Params tunes the memory-hard password hash. Defaults follow the
// RFC 9106 second recommended option (64 MiB, 3 passes).
type Argon2Params struct {
	Memory      uint32
	Iterations  uint32
	Parallelism uint8
	SaltLength  uint32
	KeyLength   uint32
}

// DefaultArgon2Params is used everywhere outside of tests.
var DefaultArgon2Params = Argon2Params{
	Memory:      64 * 1024,
	Iterations:  3,
	Parallelism: 2,
	SaltLength:  16,
	KeyLength:   32,
}

var ErrHashFormat = errors.New("credentials: malformed password hash")

// HashPassword derives an argon2id hash and encodes it in PHC string
// format, parameters included, so old hashes stay verifiable after tuning
// changes.
func HashPassword(plain string, p Argon2Params) (string, error) {
	salt := make([]byte, p.SaltLength)
	if _, err := rand.Read(salt); err != nil {
		return "", fmt.Errorf("credentials: salt generation failed: %w", err)
	}

	key := argon2.IDKey([]byte(plain), salt, p.Iterations, p.Memory, p.Parallelism, p.KeyLength)

	encoded := fmt.Sprintf("$argon2id$v=%d$m=%d,t=%d,p=%d$%s$%s",
		argon2.Version, p.Memory, p.Iterations, p.Parallelism,
		base64.RawStdEncoding.EncodeToString(salt),
		base64.RawStdEncoding.EncodeToString(key),
	)
	return encoded, nil
}

// VerifyPassword checks plain against an encoded hash in constant time.
// A malformed hash is an error; a wrong password is (false, nil).
func VerifyPassword(encoded, plain string) (bool, error) {
	p, salt, key, err := decodeHash(encoded)
	if err != nil {
		return false, err
	}
	candidate := argon2.IDKey([]byte(plain), salt, p.Iterations, p.Memory, p.Parallelism, p.KeyLength)
	return subtle.ConstantTimeCompare(key, candidate) == 1, nil
}

// DummyVerify burns the same work as a real verification. Login flows call
// it for unknown identifiers so response timing does not reveal whether an
// account exists.
func DummyVerify(p Argon2Params) {
	salt := make([]byte, p.SaltLength)
	argon2.IDKey([]byte("timing-equalizer"), salt, p.Iterations, p.Memory, p.Parallelism, p.KeyLength)
}

func decodeHash(encoded string) (Argon2Params, []byte, []byte, error) {
	var p Argon2Params
	parts := strings.Split(encoded, "$")
	if len(parts) != 6 || parts[1] != "argon2id" {
		return p, nil, nil, ErrHashFormat
	}
	var version int
	if _, err := fmt.Sscanf(parts[2], "v=%d", &version); err != nil || version != argon2.Version {
		return p, nil, nil, ErrHashFormat
	}
	if _, err := fmt.Sscanf(parts[3], "m=%d,t=%d,p=%d", &p.Memory, &p.Iterations, &p.Parallelism); err != nil {
		return p, nil, nil, ErrHashFormat
	}
	salt, err := base64.RawStdEncoding.DecodeString(parts[4])
	if err != nil {
		return p, nil, nil, ErrHashFormat
	}
	key, err := base64.RawStdEncoding.DecodeString(parts[5])
	if err != nil {
		return p, nil, nil, ErrHashFormat
	}
	p.SaltLength = uint32(len(salt))
	p.KeyLength = uint32(len(key))
	return p, salt, key, nil
}

// CheckPasswordPolicy returns the policy violations for a candidate
// password: minimum eight characters with at least one letter and one
// digit. Empty result means acceptable.
func CheckPasswordPolicy(plain string) []string {
	var problems []string
	if len(plain) < 8 {
		problems = append(problems, "must be at least 8 characters")
	}
	var hasLetter, hasDigit bool
	for _, r := range plain {
		switch {
		case r >= '0' && r <= '9':
			hasDigit = true
		case (r >= 'a' && r <= 'z') || (r >= 'A' && r <= 'Z'):
			hasLetter = true
		}
	}
	if !hasLetter {
		problems = append(problems, "must contain at least one letter")
	}
	if !hasDigit {
		problems = append(problems, "must contain at least one digit")
	}
	return problems
}
