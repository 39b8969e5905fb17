package provider

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/google/uuid"
	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgconn"

	"github.com/carebook/carebook-backend/internal/apperror"
	"github.com/carebook/carebook-backend/internal/principal"
)

// ErrNotFound is returned when no provider matches a lookup.
var ErrNotFound = errors.New("provider: not found")

// db is the narrow pgx surface the store needs. Satisfied by
// *pgxpool.Pool and by pgxmock in tests.
type db interface {
	Exec(ctx context.Context, sql string, args ...any) (pgconn.CommandTag, error)
	Query(ctx context.Context, sql string, args ...any) (pgx.Rows, error)
	QueryRow(ctx context.Context, sql string, args ...any) pgx.Row
}

// Store persists providers in Postgres and implements
// principal.Directory for the auth manager.
type Store struct {
	db db
}

// NewStore builds a provider store. Panics if db is nil.
func NewStore(db db) *Store {
	if db == nil {
		panic("provider: pgx pool required")
	}
	return &Store{db: db}
}

const providerColumns = `
	id, first_name, last_name, email, phone_number, password_hash,
	specialization, license_number, years_of_experience, clinic_street,
	clinic_city, clinic_state, clinic_zip, email_verified, phone_verified,
	active, failed_logins, locked_until, last_login_at, created_at, updated_at`

// Create inserts a provider. Unique collisions come back as field-level
// Conflict errors so clients learn which value is taken.
func (s *Store) Create(ctx context.Context, p *Provider) error {
	query := `
		INSERT INTO providers (
			id, first_name, last_name, email, phone_number, password_hash,
			specialization, license_number, years_of_experience,
			clinic_street, clinic_city, clinic_state, clinic_zip, active
		) VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9, $10, $11, $12, $13, $14)
		RETURNING created_at, updated_at
	`
	err := s.db.QueryRow(ctx, query,
		p.ID,
		p.FirstName,
		p.LastName,
		p.Email,
		p.Phone,
		p.PasswordHash,
		p.Specialization,
		p.LicenseNumber,
		p.YearsExperience,
		p.ClinicAddress.Street,
		p.ClinicAddress.City,
		p.ClinicAddress.State,
		p.ClinicAddress.Zip,
		p.Active,
	).Scan(&p.CreatedAt, &p.UpdatedAt)
	if err != nil {
		if conflict := conflictFor(err); conflict != nil {
			return conflict
		}
		return fmt.Errorf("provider: insert failed: %w", err)
	}
	return nil
}

// conflictFor maps unique-violation constraint names onto field
// conflicts. Non-unique errors pass through as nil.
func conflictFor(err error) error {
	var pgErr *pgconn.PgError
	if !errors.As(err, &pgErr) || pgErr.Code != "23505" {
		return nil
	}
	switch pgErr.ConstraintName {
	case "providers_email_key":
		return apperror.Conflict("email already registered").
			WithField("email", "already registered")
	case "providers_phone_key":
		return apperror.Conflict("phone number already registered").
			WithField("phone_number", "already registered")
	case "providers_license_key":
		return apperror.Conflict("license number already registered").
			WithField("license_number", "already registered")
	default:
		return apperror.Conflict("provider already exists")
	}
}

// ByID fetches one provider.
func (s *Store) ByID(ctx context.Context, id uuid.UUID) (*Provider, error) {
	query := `SELECT ` + providerColumns + ` FROM providers WHERE id = $1`
	return s.scanOne(s.db.QueryRow(ctx, query, id))
}

// ByIDs fetches several providers at once for the search read-model.
// Missing ids are silently absent from the result.
func (s *Store) ByIDs(ctx context.Context, ids []uuid.UUID) ([]Provider, error) {
	if len(ids) == 0 {
		return nil, nil
	}
	query := `SELECT ` + providerColumns + ` FROM providers WHERE id = ANY($1)`
	rows, err := s.db.Query(ctx, query, ids)
	if err != nil {
		return nil, fmt.Errorf("provider: select by ids failed: %w", err)
	}
	defer rows.Close()

	var providers []Provider
	for rows.Next() {
		p, err := scanProvider(rows)
		if err != nil {
			return nil, fmt.Errorf("provider: scan failed: %w", err)
		}
		providers = append(providers, *p)
	}
	return providers, rows.Err()
}

// Role implements principal.Directory.
func (s *Store) Role() principal.Role { return principal.RoleProvider }

// FindByIdentifier looks up a provider by case-folded email or E.164
// phone number.
func (s *Store) FindByIdentifier(ctx context.Context, identifier string) (*principal.Account, error) {
	query := `
		SELECT ` + providerColumns + `
		FROM providers
		WHERE lower(email) = lower($1) OR phone_number = $1
	`
	p, err := s.scanOne(s.db.QueryRow(ctx, query, identifier))
	if err != nil {
		return nil, err
	}
	return p.Account(), nil
}

// FindByID implements principal.Directory.
func (s *Store) FindByID(ctx context.Context, id uuid.UUID) (*principal.Account, error) {
	p, err := s.ByID(ctx, id)
	if err != nil {
		return nil, err
	}
	return p.Account(), nil
}

// RecordLoginFailure persists the failure counter and, once the threshold
// fell, the lockout expiry.
func (s *Store) RecordLoginFailure(ctx context.Context, id uuid.UUID, failedLogins int, lockedUntil *time.Time) error {
	ct, err := s.db.Exec(ctx, `
		UPDATE providers
		SET failed_logins = $2, locked_until = $3, updated_at = now()
		WHERE id = $1
	`, id, failedLogins, lockedUntil)
	if err != nil {
		return fmt.Errorf("provider: recording login failure failed: %w", err)
	}
	if ct.RowsAffected() == 0 {
		return ErrNotFound
	}
	return nil
}

// RecordLoginSuccess clears the failure state and stamps last login.
func (s *Store) RecordLoginSuccess(ctx context.Context, id uuid.UUID, at time.Time) error {
	ct, err := s.db.Exec(ctx, `
		UPDATE providers
		SET failed_logins = 0, locked_until = NULL, last_login_at = $2, updated_at = now()
		WHERE id = $1
	`, id, at)
	if err != nil {
		return fmt.Errorf("provider: recording login success failed: %w", err)
	}
	if ct.RowsAffected() == 0 {
		return ErrNotFound
	}
	return nil
}

func (s *Store) scanOne(row pgx.Row) (*Provider, error) {
	p, err := scanProvider(row)
	if err != nil {
		if err == pgx.ErrNoRows {
			return nil, ErrNotFound
		}
		return nil, fmt.Errorf("provider: select failed: %w", err)
	}
	return p, nil
}

func scanProvider(row pgx.Row) (*Provider, error) {
	var p Provider
	if err := row.Scan(
		&p.ID,
		&p.FirstName,
		&p.LastName,
		&p.Email,
		&p.Phone,
		&p.PasswordHash,
		&p.Specialization,
		&p.LicenseNumber,
		&p.YearsExperience,
		&p.ClinicAddress.Street,
		&p.ClinicAddress.City,
		&p.ClinicAddress.State,
		&p.ClinicAddress.Zip,
		&p.EmailVerified,
		&p.PhoneVerified,
		&p.Active,
		&p.FailedLogins,
		&p.LockedUntil,
		&p.LastLoginAt,
		&p.CreatedAt,
		&p.UpdatedAt,
	); err != nil {
		return nil, err
	}
	return &p, nil
}
