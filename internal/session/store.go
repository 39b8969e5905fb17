package session

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/google/uuid"
	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgconn"

	"github.com/carebook/carebook-backend/internal/principal"
)

// db is the narrow pgx surface the store needs. Satisfied by
// *pgxpool.Pool and by pgxmock in tests.
type db interface {
	Exec(ctx context.Context, sql string, args ...any) (pgconn.CommandTag, error)
	Query(ctx context.Context, sql string, args ...any) (pgx.Rows, error)
	QueryRow(ctx context.Context, sql string, args ...any) pgx.Row
}

// Store persists sessions in Postgres.
type Store struct {
	db db
}

// NewStore builds a session store. Panics if db is nil: nothing works
// without it and the failure should be loud at startup.
func NewStore(db db) *Store {
	if db == nil {
		panic("session: pgx pool required")
	}
	return &Store{db: db}
}

const sessionColumns = `
	id, principal_id, role, refresh_digest, fingerprint, device, user_agent,
	source_addr, location, remember, created_at, last_used_at, expires_at,
	revoked_at, revoke_reason`

// Create inserts a new session row.
func (s *Store) Create(ctx context.Context, sess *Session) error {
	query := `
		INSERT INTO sessions (
			id, principal_id, role, refresh_digest, fingerprint, device,
			user_agent, source_addr, location, remember, created_at,
			last_used_at, expires_at
		) VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9, $10, $11, $12, $13)
	`
	_, err := s.db.Exec(ctx, query,
		sess.ID,
		sess.PrincipalID,
		string(sess.Role),
		sess.RefreshDigest,
		sess.Fingerprint,
		sess.Device,
		sess.UserAgent,
		sess.SourceAddr,
		sess.Location,
		sess.Remember,
		sess.CreatedAt,
		sess.LastUsedAt,
		sess.ExpiresAt,
	)
	if err != nil {
		var pgErr *pgconn.PgError
		if errors.As(err, &pgErr) && pgErr.Code == "23505" {
			return ErrDigestCollision
		}
		return fmt.Errorf("session: insert failed: %w", err)
	}
	return nil
}

// ByID fetches a session regardless of liveness.
func (s *Store) ByID(ctx context.Context, id uuid.UUID) (*Session, error) {
	query := `SELECT ` + sessionColumns + ` FROM sessions WHERE id = $1`
	return s.scanOne(s.db.QueryRow(ctx, query, id))
}

// Rotate swaps the refresh digest in place and stamps last_used_at. The
// conditional update serializes concurrent refreshes of one session:
// exactly one caller finds the digest it presented, everyone else gets
// ErrRotateConflict. A replayed old digest fails the same way without
// touching the session.
func (s *Store) Rotate(ctx context.Context, id uuid.UUID, oldDigest, newDigest string, at time.Time) error {
	ct, err := s.db.Exec(ctx, `
		UPDATE sessions
		SET refresh_digest = $3, last_used_at = $4
		WHERE id = $1 AND refresh_digest = $2
		  AND revoked_at IS NULL AND expires_at > $4
	`, id, oldDigest, newDigest, at)
	if err != nil {
		var pgErr *pgconn.PgError
		if errors.As(err, &pgErr) && pgErr.Code == "23505" {
			return ErrDigestCollision
		}
		return fmt.Errorf("session: rotate failed: %w", err)
	}
	if ct.RowsAffected() == 0 {
		return ErrRotateConflict
	}
	return nil
}

// Revoke retires one session. Returns ErrAlreadyRevoked when it was
// revoked before, ErrNotFound when it never existed.
func (s *Store) Revoke(ctx context.Context, id uuid.UUID, reason string) error {
	ct, err := s.db.Exec(ctx, `
		UPDATE sessions
		SET revoked_at = now(), revoke_reason = $2
		WHERE id = $1 AND revoked_at IS NULL
	`, id, reason)
	if err != nil {
		return fmt.Errorf("session: revoke failed: %w", err)
	}
	if ct.RowsAffected() == 0 {
		if _, err := s.ByID(ctx, id); err != nil {
			return err
		}
		return ErrAlreadyRevoked
	}
	return nil
}

// RevokeOwned retires a session only if it belongs to the given principal.
// Unknown id and foreign id are indistinguishable to the caller.
func (s *Store) RevokeOwned(ctx context.Context, id, principalID uuid.UUID, role principal.Role, reason string) error {
	ct, err := s.db.Exec(ctx, `
		UPDATE sessions
		SET revoked_at = now(), revoke_reason = $4
		WHERE id = $1 AND principal_id = $2 AND role = $3 AND revoked_at IS NULL
	`, id, principalID, string(role), reason)
	if err != nil {
		return fmt.Errorf("session: revoke owned failed: %w", err)
	}
	if ct.RowsAffected() == 0 {
		return ErrNotFound
	}
	return nil
}

// RevokeAllForPrincipal retires every live session of one principal and
// returns how many went.
func (s *Store) RevokeAllForPrincipal(ctx context.Context, principalID uuid.UUID, role principal.Role, reason string) (int64, error) {
	ct, err := s.db.Exec(ctx, `
		UPDATE sessions
		SET revoked_at = now(), revoke_reason = $3
		WHERE principal_id = $1 AND role = $2 AND revoked_at IS NULL
	`, principalID, string(role), reason)
	if err != nil {
		return 0, fmt.Errorf("session: revoke all failed: %w", err)
	}
	return ct.RowsAffected(), nil
}

// LiveForPrincipal lists usable sessions, most recently used first.
func (s *Store) LiveForPrincipal(ctx context.Context, principalID uuid.UUID, role principal.Role) ([]Session, error) {
	query := `
		SELECT ` + sessionColumns + `
		FROM sessions
		WHERE principal_id = $1 AND role = $2
		  AND revoked_at IS NULL AND expires_at > now()
		ORDER BY last_used_at DESC
	`
	rows, err := s.db.Query(ctx, query, principalID, string(role))
	if err != nil {
		return nil, fmt.Errorf("session: list failed: %w", err)
	}
	defer rows.Close()

	var sessions []Session
	for rows.Next() {
		sess, err := scanSession(rows)
		if err != nil {
			return nil, fmt.Errorf("session: scan failed: %w", err)
		}
		sessions = append(sessions, *sess)
	}
	return sessions, rows.Err()
}

// EnforceCap revokes the least recently used live sessions beyond cap.
func (s *Store) EnforceCap(ctx context.Context, principalID uuid.UUID, role principal.Role, cap int) (int64, error) {
	ct, err := s.db.Exec(ctx, `
		UPDATE sessions
		SET revoked_at = now(), revoke_reason = $4
		WHERE id IN (
			SELECT id FROM sessions
			WHERE principal_id = $1 AND role = $2
			  AND revoked_at IS NULL AND expires_at > now()
			ORDER BY last_used_at DESC
			OFFSET $3
		)
	`, principalID, string(role), cap, ReasonDeviceCap)
	if err != nil {
		return 0, fmt.Errorf("session: enforcing cap failed: %w", err)
	}
	return ct.RowsAffected(), nil
}

// PurgeExpired deletes sessions whose expiry is past, revoked or not.
func (s *Store) PurgeExpired(ctx context.Context, before time.Time) (int64, error) {
	ct, err := s.db.Exec(ctx, `DELETE FROM sessions WHERE expires_at < $1`, before)
	if err != nil {
		return 0, fmt.Errorf("session: purge failed: %w", err)
	}
	return ct.RowsAffected(), nil
}

func (s *Store) scanOne(row pgx.Row) (*Session, error) {
	sess, err := scanSession(row)
	if err != nil {
		if err == pgx.ErrNoRows {
			return nil, ErrNotFound
		}
		return nil, fmt.Errorf("session: select failed: %w", err)
	}
	return sess, nil
}

func scanSession(row pgx.Row) (*Session, error) {
	var sess Session
	var role string
	var revokeReason *string
	if err := row.Scan(
		&sess.ID,
		&sess.PrincipalID,
		&role,
		&sess.RefreshDigest,
		&sess.Fingerprint,
		&sess.Device,
		&sess.UserAgent,
		&sess.SourceAddr,
		&sess.Location,
		&sess.Remember,
		&sess.CreatedAt,
		&sess.LastUsedAt,
		&sess.ExpiresAt,
		&sess.RevokedAt,
		&revokeReason,
	); err != nil {
		return nil, err
	}
	sess.Role = principal.Role(role)
	if revokeReason != nil {
		sess.RevokeReason = *revokeReason
	}
	return &sess, nil
}
