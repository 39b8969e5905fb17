package patient

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/google/uuid"
	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgconn"

	"github.com/carebook/carebook-backend/internal/apperror"
	"github.com/carebook/carebook-backend/internal/credentials"
	"github.com/carebook/carebook-backend/internal/principal"
	"github.com/carebook/carebook-backend/internal/schedule"
)

// ErrNotFound is returned when no patient matches a lookup.
var ErrNotFound = errors.New("patient: not found")

// db is the narrow pgx surface the store needs. Satisfied by
// *pgxpool.Pool and by pgxmock in tests.
type db interface {
	Exec(ctx context.Context, sql string, args ...any) (pgconn.CommandTag, error)
	Query(ctx context.Context, sql string, args ...any) (pgx.Rows, error)
	QueryRow(ctx context.Context, sql string, args ...any) pgx.Row
}

// Store persists patients in Postgres, encrypting insurance policy
// numbers before they touch a row, and implements principal.Directory
// for the auth manager.
type Store struct {
	db     db
	cipher *credentials.FieldCipher
}

// NewStore builds a patient store. Panics if db or cipher is nil: the
// service cannot run without column encryption.
func NewStore(db db, cipher *credentials.FieldCipher) *Store {
	if db == nil {
		panic("patient: pgx pool required")
	}
	if cipher == nil {
		panic("patient: field cipher required")
	}
	return &Store{db: db, cipher: cipher}
}

const patientColumns = `
	id, first_name, last_name, email, phone, password_hash, date_of_birth,
	gender, address_street, address_city, address_state, address_zip,
	emergency_name, emergency_phone, emergency_relationship, medical_history,
	insurance_provider, insurance_policy_cipher, consent_hipaa,
	consent_marketing, consent_data_retention, email_verified, phone_verified,
	active, failed_logins, locked_until, last_login_at, created_at, updated_at`

// Create inserts a patient. The policy number arrives in plain text on
// p and is encrypted on the way in; unique collisions come back as
// field-level Conflict errors.
func (s *Store) Create(ctx context.Context, p *Patient) error {
	var emName, emPhone, emRel *string
	if c := p.EmergencyContact; c != nil {
		emName, emPhone, emRel = &c.Name, &c.Phone, &c.Relationship
	}
	var insProvider, insCipher *string
	if p.Insurance != nil {
		insProvider = &p.Insurance.Provider
		enc, err := s.cipher.Encrypt(p.Insurance.PolicyNumber)
		if err != nil {
			return fmt.Errorf("patient: encrypting policy number failed: %w", err)
		}
		insCipher = &enc
	}

	query := `
		INSERT INTO patients (
			id, first_name, last_name, email, phone, password_hash,
			date_of_birth, gender, address_street, address_city, address_state,
			address_zip, emergency_name, emergency_phone, emergency_relationship,
			medical_history, insurance_provider, insurance_policy_cipher,
			consent_hipaa, consent_marketing, consent_data_retention, active
		) VALUES (
			$1, $2, $3, $4, $5, $6, $7, $8, $9, $10, $11, $12, $13, $14, $15,
			$16, $17, $18, $19, $20, $21, $22
		)
		RETURNING created_at, updated_at
	`
	err := s.db.QueryRow(ctx, query,
		p.ID,
		p.FirstName,
		p.LastName,
		p.Email,
		p.Phone,
		p.PasswordHash,
		dateValue(p.DateOfBirth),
		string(p.Gender),
		p.Address.Street,
		p.Address.City,
		p.Address.State,
		p.Address.Zip,
		emName,
		emPhone,
		emRel,
		append([]string{}, p.MedicalHistory...),
		insProvider,
		insCipher,
		p.Consents.HIPAA,
		p.Consents.Marketing,
		p.Consents.DataRetention,
		p.Active,
	).Scan(&p.CreatedAt, &p.UpdatedAt)
	if err != nil {
		if conflict := conflictFor(err); conflict != nil {
			return conflict
		}
		return fmt.Errorf("patient: insert failed: %w", err)
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
	case "patients_email_key":
		return apperror.Conflict("email already registered").
			WithField("email", "already registered")
	case "patients_phone_key":
		return apperror.Conflict("phone number already registered").
			WithField("phone", "already registered")
	default:
		return apperror.Conflict("patient already exists")
	}
}

// ByID fetches one patient. Insurance policy numbers come back masked.
func (s *Store) ByID(ctx context.Context, id uuid.UUID) (*Patient, error) {
	query := `SELECT ` + patientColumns + ` FROM patients WHERE id = $1`
	return s.scanOne(s.db.QueryRow(ctx, query, id))
}

// Role implements principal.Directory.
func (s *Store) Role() principal.Role { return principal.RolePatient }

// FindByIdentifier looks up a patient by case-folded email or E.164
// phone number.
func (s *Store) FindByIdentifier(ctx context.Context, identifier string) (*principal.Account, error) {
	query := `
		SELECT ` + patientColumns + `
		FROM patients
		WHERE lower(email) = lower($1) OR phone = $1
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
		UPDATE patients
		SET failed_logins = $2, locked_until = $3, updated_at = now()
		WHERE id = $1
	`, id, failedLogins, lockedUntil)
	if err != nil {
		return fmt.Errorf("patient: recording login failure failed: %w", err)
	}
	if ct.RowsAffected() == 0 {
		return ErrNotFound
	}
	return nil
}

// RecordLoginSuccess clears the failure state and stamps last login.
func (s *Store) RecordLoginSuccess(ctx context.Context, id uuid.UUID, at time.Time) error {
	ct, err := s.db.Exec(ctx, `
		UPDATE patients
		SET failed_logins = 0, locked_until = NULL, last_login_at = $2, updated_at = now()
		WHERE id = $1
	`, id, at)
	if err != nil {
		return fmt.Errorf("patient: recording login success failed: %w", err)
	}
	if ct.RowsAffected() == 0 {
		return ErrNotFound
	}
	return nil
}

// MarkEmailVerified flips the email flag after a token is consumed.
func (s *Store) MarkEmailVerified(ctx context.Context, id uuid.UUID) error {
	return s.markVerified(ctx, id, "email_verified")
}

// MarkPhoneVerified flips the phone flag after an OTP is consumed.
func (s *Store) MarkPhoneVerified(ctx context.Context, id uuid.UUID) error {
	return s.markVerified(ctx, id, "phone_verified")
}

func (s *Store) markVerified(ctx context.Context, id uuid.UUID, column string) error {
	query := fmt.Sprintf(`UPDATE patients SET %s = TRUE, updated_at = now() WHERE id = $1`, column)
	ct, err := s.db.Exec(ctx, query, id)
	if err != nil {
		return fmt.Errorf("patient: marking %s failed: %w", column, err)
	}
	if ct.RowsAffected() == 0 {
		return ErrNotFound
	}
	return nil
}

func (s *Store) scanOne(row pgx.Row) (*Patient, error) {
	p, err := s.scanPatient(row)
	if err != nil {
		if err == pgx.ErrNoRows {
			return nil, ErrNotFound
		}
		return nil, fmt.Errorf("patient: select failed: %w", err)
	}
	return p, nil
}

func (s *Store) scanPatient(row pgx.Row) (*Patient, error) {
	var (
		p                      Patient
		dob                    time.Time
		gender                 string
		emName, emPhone, emRel *string
		history                []string
		insProvider, insCipher *string
	)
	if err := row.Scan(
		&p.ID,
		&p.FirstName,
		&p.LastName,
		&p.Email,
		&p.Phone,
		&p.PasswordHash,
		&dob,
		&gender,
		&p.Address.Street,
		&p.Address.City,
		&p.Address.State,
		&p.Address.Zip,
		&emName,
		&emPhone,
		&emRel,
		&history,
		&insProvider,
		&insCipher,
		&p.Consents.HIPAA,
		&p.Consents.Marketing,
		&p.Consents.DataRetention,
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
	p.DateOfBirth = schedule.DateOf(dob)
	p.Gender = Gender(gender)
	if emName != nil {
		p.EmergencyContact = &EmergencyContact{Name: *emName, Phone: deref(emPhone), Relationship: deref(emRel)}
	}
	if len(history) > 0 {
		p.MedicalHistory = history
	}
	if insProvider != nil {
		policy := ""
		if insCipher != nil {
			plain, err := s.cipher.Decrypt(*insCipher)
			if err != nil {
				return nil, fmt.Errorf("patient: decrypting policy number failed: %w", err)
			}
			policy = MaskPolicyNumber(plain)
		}
		p.Insurance = &Insurance{Provider: *insProvider, PolicyNumber: policy}
	}
	return &p, nil
}

// dateValue renders a calendar date as UTC midnight for the date column.
func dateValue(d schedule.DateOnly) time.Time {
	return time.Date(d.Year, d.Month, d.Day, 0, 0, 0, 0, time.UTC)
}

func deref(s *string) string {
	if s == nil {
		return ""
	}
	return *s
}
