// Package provider owns clinician accounts: the registration flow, the
// pgx-backed account store, and the directory projection the auth manager
// logs providers in through.
package provider

import (
	"regexp"
	"strings"
	"time"

	"github.com/google/uuid"

	"github.com/carebook/carebook-backend/internal/apperror"
	"github.com/carebook/carebook-backend/internal/credentials"
	"github.com/carebook/carebook-backend/internal/principal"
)

// ClinicAddress is the practice location shown to patients in search
// results.
type ClinicAddress struct {
	Street string `json:"street"`
	City   string `json:"city"`
	State  string `json:"state"`
	Zip    string `json:"zip"`
}

// String renders the address on one line for substring matching and
// display.
func (a ClinicAddress) String() string {
	parts := []string{a.Street, a.City, a.State, a.Zip}
	var kept []string
	for _, p := range parts {
		if p != "" {
			kept = append(kept, p)
		}
	}
	return strings.Join(kept, ", ")
}

// Provider is a clinician account. PasswordHash and the lockout counters
// never serialize.
type Provider struct {
	ID              uuid.UUID     `json:"id"`
	FirstName       string        `json:"first_name"`
	LastName        string        `json:"last_name"`
	Email           string        `json:"email"`
	Phone           string        `json:"phone_number"`
	PasswordHash    string        `json:"-"`
	Specialization  string        `json:"specialization"`
	LicenseNumber   string        `json:"license_number"`
	YearsExperience int           `json:"years_of_experience"`
	ClinicAddress   ClinicAddress `json:"clinic_address"`
	EmailVerified   bool          `json:"email_verified"`
	PhoneVerified   bool          `json:"phone_verified"`
	Active          bool          `json:"active"`
	FailedLogins    int           `json:"-"`
	LockedUntil     *time.Time    `json:"-"`
	LastLoginAt     *time.Time    `json:"last_login_at,omitempty"`
	CreatedAt       time.Time     `json:"created_at"`
	UpdatedAt       time.Time     `json:"updated_at"`
}

// DisplayName is the name patients see in search results.
func (p *Provider) DisplayName() string {
	return strings.TrimSpace(p.FirstName + " " + p.LastName)
}

// Account projects the provider onto the shared auth account shape.
func (p *Provider) Account() *principal.Account {
	return &principal.Account{
		ID:            p.ID,
		Role:          principal.RoleProvider,
		Email:         p.Email,
		Phone:         p.Phone,
		DisplayName:   p.DisplayName(),
		PasswordHash:  p.PasswordHash,
		EmailVerified: p.EmailVerified,
		PhoneVerified: p.PhoneVerified,
		Active:        p.Active,
		FailedLogins:  p.FailedLogins,
		LockedUntil:   p.LockedUntil,
		LastLoginAt:   p.LastLoginAt,
	}
}

var (
	licenseRe = regexp.MustCompile(`^[A-Z0-9]+$`)
	zipRe     = regexp.MustCompile(`^[0-9]{5}(-[0-9]{4})?$`)
)

// RegisterRequest is the sign-up body. SourceAddr and UserAgent come from
// the request, never from the body.
type RegisterRequest struct {
	FirstName       string        `json:"first_name"`
	LastName        string        `json:"last_name"`
	Email           string        `json:"email"`
	Phone           string        `json:"phone_number"`
	Password        string        `json:"password"`
	ConfirmPassword string        `json:"confirm_password"`
	Specialization  string        `json:"specialization"`
	LicenseNumber   string        `json:"license_number"`
	YearsExperience int           `json:"years_of_experience"`
	ClinicAddress   ClinicAddress `json:"clinic_address"`

	SourceAddr string `json:"-"`
	UserAgent  string `json:"-"`
}

// Normalize trims fields and canonicalizes email and license casing so
// validation and uniqueness see one spelling.
func (r *RegisterRequest) Normalize() {
	r.FirstName = strings.TrimSpace(r.FirstName)
	r.LastName = strings.TrimSpace(r.LastName)
	r.Email = principal.CanonicalIdentifier(r.Email)
	r.Phone = strings.TrimSpace(r.Phone)
	r.Specialization = strings.TrimSpace(r.Specialization)
	r.LicenseNumber = strings.ToUpper(strings.TrimSpace(r.LicenseNumber))
	r.ClinicAddress.Street = strings.TrimSpace(r.ClinicAddress.Street)
	r.ClinicAddress.City = strings.TrimSpace(r.ClinicAddress.City)
	r.ClinicAddress.State = strings.TrimSpace(r.ClinicAddress.State)
	r.ClinicAddress.Zip = strings.TrimSpace(r.ClinicAddress.Zip)
}

// Validate collects every violation into one field-error map so clients
// can render the whole form at once.
func (r *RegisterRequest) Validate() error {
	fields := map[string][]string{}
	add := func(field, msg string) { fields[field] = append(fields[field], msg) }

	if r.FirstName == "" {
		add("first_name", "is required")
	}
	if r.LastName == "" {
		add("last_name", "is required")
	}
	if !principal.ValidEmail(r.Email) {
		add("email", "must be a valid email address")
	}
	if !principal.ValidPhone(r.Phone) {
		add("phone_number", "must be in E.164 format, like +15551234567")
	}
	for _, problem := range credentials.CheckPasswordPolicy(r.Password) {
		add("password", problem)
	}
	if r.Password != r.ConfirmPassword {
		add("confirm_password", "must match password")
	}
	if r.Specialization == "" {
		add("specialization", "is required")
	}
	if !licenseRe.MatchString(r.LicenseNumber) {
		add("license_number", "must contain only letters and digits")
	}
	if r.YearsExperience < 0 || r.YearsExperience > 50 {
		add("years_of_experience", "must be between 0 and 50")
	}
	if r.ClinicAddress.Street == "" {
		add("clinic_address.street", "is required")
	}
	if r.ClinicAddress.City == "" {
		add("clinic_address.city", "is required")
	}
	if r.ClinicAddress.State == "" {
		add("clinic_address.state", "is required")
	}
	if !zipRe.MatchString(r.ClinicAddress.Zip) {
		add("clinic_address.zip", "must be a 5-digit or ZIP+4 code")
	}

	if len(fields) > 0 {
		return apperror.Validation(fields)
	}
	return nil
}
