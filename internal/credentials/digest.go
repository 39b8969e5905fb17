package credentials

import (
	"crypto/rand"
	"crypto/sha256"
	"encoding/hex"
	"fmt"
	"math/big"
	"strings"
)

// Digest hashes a token for storage. Raw refresh tokens never hit the
// database; lookups go through this digest.
func Digest(token string) string {
	sum := sha256.Sum256([]byte(token))
	return hex.EncodeToString(sum[:])
}

// Fingerprint condenses the client context a session was created from.
// Stored alongside the session and embedded in tokens; a mismatch on
// refresh voids the session.
func Fingerprint(userAgent, sourceAddr, device string) string {
	h := sha256.New()
	h.Write([]byte(strings.TrimSpace(userAgent)))
	h.Write([]byte{0})
	h.Write([]byte(strings.TrimSpace(sourceAddr)))
	h.Write([]byte{0})
	h.Write([]byte(strings.TrimSpace(device)))
	return hex.EncodeToString(h.Sum(nil))[:32]
}

// NewOTP returns a zero-padded six digit one-time code from crypto/rand.
func NewOTP() (string, error) {
	n, err := rand.Int(rand.Reader, big.NewInt(1_000_000))
	if err != nil {
		return "", fmt.Errorf("credentials: otp generation failed: %w", err)
	}
	return fmt.Sprintf("%06d", n.Int64()), nil
}
