package credentials

import (
	"crypto/aes"
	"crypto/cipher"
	"crypto/rand"
	"crypto/sha256"
	"encoding/base64"
	"errors"
	"fmt"
)

// FieldCipher encrypts individual sensitive fields (insurance policy
// numbers and the like) before they reach the database. AES-256-GCM with a
// random nonce per value; ciphertexts are base64 for text columns.
type FieldCipher struct {
	aead cipher.AEAD
}

var ErrCiphertext = errors.New("credentials: undecryptable field value")

// NewFieldCipher derives a 32-byte AES key from the configured secret.
func NewFieldCipher(key string) (*FieldCipher, error) {
	if len(key) < 32 {
		return nil, errors.New("credentials: field encryption key must be at least 32 bytes")
	}
	sum := sha256.Sum256([]byte(key))
	block, err := aes.NewCipher(sum[:])
	if err != nil {
		return nil, fmt.Errorf("credentials: cipher init failed: %w", err)
	}
	aead, err := cipher.NewGCM(block)
	if err != nil {
		return nil, fmt.Errorf("credentials: gcm init failed: %w", err)
	}
	return &FieldCipher{aead: aead}, nil
}

// Encrypt seals plain. Empty input stays empty so optional columns stay
// NULL-equivalent.
func (fc *FieldCipher) Encrypt(plain string) (string, error) {
	if plain == "" {
		return "", nil
	}
	nonce := make([]byte, fc.aead.NonceSize())
	if _, err := rand.Read(nonce); err != nil {
		return "", fmt.Errorf("credentials: nonce generation failed: %w", err)
	}
	sealed := fc.aead.Seal(nonce, nonce, []byte(plain), nil)
	return base64.StdEncoding.EncodeToString(sealed), nil
}

// Decrypt opens a value produced by Encrypt.
func (fc *FieldCipher) Decrypt(encoded string) (string, error) {
	if encoded == "" {
		return "", nil
	}
	raw, err := base64.StdEncoding.DecodeString(encoded)
	if err != nil {
		return "", ErrCiphertext
	}
	if len(raw) < fc.aead.NonceSize() {
		return "", ErrCiphertext
	}
	nonce, sealed := raw[:fc.aead.NonceSize()], raw[fc.aead.NonceSize():]
	plain, err := fc.aead.Open(nil, nonce, sealed, nil)
	if err != nil {
		return "", ErrCiphertext
	}
	return string(plain), nil
}
