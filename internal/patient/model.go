// Package patient owns patient accounts: registration, email and phone
// verification, the pgx-backed store, and the directory projection the
// auth manager logs patients in through.
package patient

import (
	"regexp"
	"strings"
	"time"

	"github.com/google/uuid"

	"github.com/carebook/carebook-backend/internal/apperror"
	"github.com/carebook/carebook-backend/internal/credentials"
	"github.com/carebook/carebook-backend/internal/principal"
	"github.com/carebook/carebook-backend/internal/schedule"
)

// Gender is the self-reported gender enum.
type Gender string

const (
	GenderMale        Gender = "male"
	GenderFemale      Gender = "female"
	GenderOther       Gender = "other"
	GenderUndisclosed Gender = "prefer_not_to_say"
)

func (g Gender) Valid() bool {
	switch g {
	case GenderMale, GenderFemale, GenderOther, GenderUndisclosed:
		return true
	}
	return false
}

// Address is the patient's home address.
type Address struct {
	Street string `json:"street"`
	City   string `json:"city"`
	State  string `json:"state"`
	Zip    string `json:"zip"`
}

// EmergencyContact is who to call when something goes wrong during a
// visit.
type EmergencyContact struct {
	Name         string `json:"name"`
	Phone        string `json:"phone"`
	Relationship string `json:"relationship"`
}

// Insurance carries coverage details. The policy number is encrypted at
// rest and masked everywhere it leaves the store.
type Insurance struct {
	Provider     string `json:"provider"`
	PolicyNumber string `json:"policy_number"`
}

// Consents are the acknowledgements collected at sign-up. HIPAA is
// mandatory; the others are the patient's choice.
type Consents struct {
	HIPAA         bool `json:"hipaa"`
	Marketing     bool `json:"marketing"`
	DataRetention bool `json:"data_retention"`
}

// Patient is a patient account. PasswordHash and the lockout counters
// never serialize.
type Patient struct {
	ID               uuid.UUID         `json:"id"`
	FirstName        string            `json:"first_name"`
	LastName         string            `json:"last_name"`
	Email            string            `json:"email"`
	Phone            string            `json:"phone"`
	PasswordHash     string            `json:"-"`
	DateOfBirth      schedule.DateOnly `json:"date_of_birth"`
	Gender           Gender            `json:"gender"`
	Address          Address           `json:"address"`
	EmergencyContact *EmergencyContact `json:"emergency_contact,omitempty"`
	MedicalHistory   []string          `json:"medical_history,omitempty"`
	Insurance        *Insurance        `json:"insurance,omitempty"`
	Consents         Consents          `json:"consents"`
	EmailVerified    bool              `json:"email_verified"`
	PhoneVerified    bool              `json:"phone_verified"`
	Active           bool              `json:"active"`
	FailedLogins     int               `json:"-"`
	LockedUntil      *time.Time        `json:"-"`
	LastLoginAt      *time.Time        `json:"last_login_at,omitempty"`
	CreatedAt        time.Time         `json:"created_at"`
	UpdatedAt        time.Time         `json:"updated_at"`
}

// DisplayName is the patient's full name.
func (p *Patient) DisplayName() string {
	return strings.TrimSpace(p.FirstName + " " + p.LastName)
}

// Account projects the patient onto the shared auth account shape.
func (p *Patient) Account() *principal.Account {
	return &principal.Account{
		ID:            p.ID,
		Role:          principal.RolePatient,
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

var zipRe = regexp.MustCompile(`^[0-9]{5}(-[0-9]{4})?$`)

// minRegistrationAge is the youngest a patient may be to hold their own
// account.
const minRegistrationAge = 13

// RegisterRequest is the sign-up body. SourceAddr and UserAgent come from
// the request, never from the body.
type RegisterRequest struct {
	FirstName        string            `json:"first_name"`
	LastName         string            `json:"last_name"`
	Email            string            `json:"email"`
	Phone            string            `json:"phone"`
	Password         string            `json:"password"`
	ConfirmPassword  string            `json:"confirm_password"`
	DateOfBirth      string            `json:"date_of_birth"`
	Gender           Gender            `json:"gender"`
	Address          Address           `json:"address"`
	EmergencyContact *EmergencyContact `json:"emergency_contact,omitempty"`
	MedicalHistory   []string          `json:"medical_history,omitempty"`
	Insurance        *Insurance        `json:"insurance_info,omitempty"`
	Consents         Consents          `json:"consents"`

	SourceAddr string `json:"-"`
	UserAgent  string `json:"-"`

	dob schedule.DateOnly
}

// Normalize trims fields and canonicalizes the email.
func (r *RegisterRequest) Normalize() {
	r.FirstName = strings.TrimSpace(r.FirstName)
	r.LastName = strings.TrimSpace(r.LastName)
	r.Email = principal.CanonicalIdentifier(r.Email)
	r.Phone = strings.TrimSpace(r.Phone)
	r.DateOfBirth = strings.TrimSpace(r.DateOfBirth)
	r.Address.Street = strings.TrimSpace(r.Address.Street)
	r.Address.City = strings.TrimSpace(r.Address.City)
	r.Address.State = strings.TrimSpace(r.Address.State)
	r.Address.Zip = strings.TrimSpace(r.Address.Zip)
	if r.EmergencyContact != nil {
		r.EmergencyContact.Name = strings.TrimSpace(r.EmergencyContact.Name)
		r.EmergencyContact.Phone = strings.TrimSpace(r.EmergencyContact.Phone)
		r.EmergencyContact.Relationship = strings.TrimSpace(r.EmergencyContact.Relationship)
	}
	if r.Insurance != nil {
		r.Insurance.Provider = strings.TrimSpace(r.Insurance.Provider)
		r.Insurance.PolicyNumber = strings.TrimSpace(r.Insurance.PolicyNumber)
	}
}

// Validate collects every violation into one field-error map. now anchors
// the age checks.
func (r *RegisterRequest) Validate(now time.Time) error {
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
		add("phone", "must be in E.164 format, like +15551234567")
	}
	for _, problem := range credentials.CheckPasswordPolicy(r.Password) {
		add("password", problem)
	}
	if r.Password != r.ConfirmPassword {
		add("confirm_password", "must match password")
	}

	dob, err := schedule.ParseDate(r.DateOfBirth)
	switch {
	case err != nil:
		add("date_of_birth", "must be a valid YYYY-MM-DD date")
	case !ageAtLeast(dob, now, 0):
		add("date_of_birth", "must be in the past")
	case !ageAtLeast(dob, now, minRegistrationAge):
		add("date_of_birth", "patients must be at least 13 years old")
	default:
		r.dob = dob
	}

	if !r.Gender.Valid() {
		add("gender", "must be one of male, female, other, prefer_not_to_say")
	}
	if r.Address.Street == "" {
		add("address.street", "is required")
	}
	if r.Address.City == "" {
		add("address.city", "is required")
	}
	if r.Address.State == "" {
		add("address.state", "is required")
	}
	if !zipRe.MatchString(r.Address.Zip) {
		add("address.zip", "must be a 5-digit or ZIP+4 code")
	}
	if r.EmergencyContact != nil {
		if r.EmergencyContact.Name == "" {
			add("emergency_contact.name", "is required when a contact is given")
		}
		if !principal.ValidPhone(r.EmergencyContact.Phone) {
			add("emergency_contact.phone", "must be in E.164 format")
		}
	}
	if r.Insurance != nil {
		if r.Insurance.Provider == "" {
			add("insurance_info.provider", "is required when insurance is given")
		}
		if r.Insurance.PolicyNumber == "" {
			add("insurance_info.policy_number", "is required when insurance is given")
		}
	}
	if !r.Consents.HIPAA {
		add("consents.hipaa", "HIPAA acknowledgement is required")
	}

	if len(fields) > 0 {
		return apperror.Validation(fields)
	}
	return nil
}

// DOB returns the parsed date of birth. Only meaningful after a
// successful Validate.
func (r *RegisterRequest) DOB() schedule.DateOnly { return r.dob }

// ageAtLeast reports whether someone born on dob has reached years full
// years by now. years = 0 doubles as a birthday-in-the-past check.
func ageAtLeast(dob schedule.DateOnly, now time.Time, years int) bool {
	cutoff := schedule.DateOnly{Year: dob.Year + years, Month: dob.Month, Day: dob.Day}
	// Feb 29 birthdays roll to Mar 1 in non-leap years.
	if !cutoff.IsValid() {
		cutoff = schedule.DateOnly{Year: cutoff.Year, Month: cutoff.Month + 1, Day: 1}
	}
	today := schedule.DateOf(now.UTC())
	return !today.Before(cutoff)
}

// MaskPolicyNumber hides all but the last four characters.
func MaskPolicyNumber(policy string) string {
	if policy == "" {
		return ""
	}
	if len(policy) <= 4 {
		return "****"
	}
	return "****" + policy[len(policy)-4:]
}
