package patient

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/google/uuid"
	"github.com/jackc/pgx/v5"
)

// VerificationPurpose names the channel a token proves ownership of.
type VerificationPurpose string

const (
	PurposeEmail VerificationPurpose = "email"
	PurposePhone VerificationPurpose = "phone"
)

// ErrTokenInvalid covers unknown, expired, and already-consumed tokens
// alike so callers cannot probe which one it was.
var ErrTokenInvalid = errors.New("patient: verification token invalid")

// VerificationToken is a single-use proof of channel ownership. Only the
// SHA-256 digest of the secret is stored.
type VerificationToken struct {
	ID        uuid.UUID
	PatientID uuid.UUID
	Purpose   VerificationPurpose
	Digest    string
	ExpiresAt time.Time
}

// InsertVerificationToken stores a freshly minted token digest.
func (s *Store) InsertVerificationToken(ctx context.Context, t *VerificationToken) error {
	_, err := s.db.Exec(ctx, `
		INSERT INTO verification_tokens (id, patient_id, purpose, token_digest, expires_at)
		VALUES ($1, $2, $3, $4, $5)
	`, t.ID, t.PatientID, string(t.Purpose), t.Digest, t.ExpiresAt)
	if err != nil {
		return fmt.Errorf("patient: inserting verification token failed: %w", err)
	}
	return nil
}

// ConsumeVerificationToken atomically spends the newest live token
// matching the digest and returns its owner. A token that is unknown,
// expired, or already spent yields ErrTokenInvalid.
func (s *Store) ConsumeVerificationToken(ctx context.Context, digest string, purpose VerificationPurpose, now time.Time) (uuid.UUID, error) {
	query := `
		UPDATE verification_tokens
		SET used_at = $3
		WHERE id = (
			SELECT id FROM verification_tokens
			WHERE token_digest = $1 AND purpose = $2 AND used_at IS NULL AND expires_at > $3
			ORDER BY created_at DESC
			LIMIT 1
		)
		RETURNING patient_id
	`
	var patientID uuid.UUID
	err := s.db.QueryRow(ctx, query, digest, string(purpose), now).Scan(&patientID)
	if err != nil {
		if err == pgx.ErrNoRows {
			return uuid.Nil, ErrTokenInvalid
		}
		return uuid.Nil, fmt.Errorf("patient: consuming verification token failed: %w", err)
	}
	return patientID, nil
}
