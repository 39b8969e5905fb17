package patient

import (
	"context"
	"errors"
	"strings"
	"time"

	"github.com/google/uuid"

	"github.com/carebook/carebook-backend/internal/apperror"
	"github.com/carebook/carebook-backend/internal/credentials"
	"github.com/carebook/carebook-backend/internal/principal"
	"github.com/carebook/carebook-backend/internal/security"
	"github.com/carebook/carebook-backend/pkg/logging"
)

// Token lifetimes. Email links are long-lived; SMS codes are not.
const (
	emailTokenTTL = 24 * time.Hour
	phoneTokenTTL = 5 * time.Minute
)

// EventRecorder appends to the security trail. Satisfied by
// *security.Store.
type EventRecorder interface {
	Record(ctx context.Context, event *security.Event) error
}

// Messenger delivers verification messages. Satisfied by
// *notify.Service; nil skips delivery, which tests rely on.
type Messenger interface {
	SendEmailVerification(ctx context.Context, to, toName, token string) error
	SendPhoneVerification(ctx context.Context, to, code string) error
}

// Service runs patient registration and channel verification.
type Service struct {
	store    *Store
	trail    EventRecorder
	messages Messenger
	params   credentials.Argon2Params
	logger   *logging.Logger
	now      func() time.Time
	emailTTL time.Duration
	phoneTTL time.Duration
}

// NewService wires the patient service. trail and messenger may be nil
// in tests.
func NewService(store *Store, trail EventRecorder, messages Messenger, logger *logging.Logger) *Service {
	if logger == nil {
		logger = logging.Default()
	}
	return &Service{
		store:    store,
		trail:    trail,
		messages: messages,
		params:   credentials.DefaultArgon2Params,
		logger:   logger,
		now:      time.Now,
		emailTTL: emailTokenTTL,
		phoneTTL: phoneTokenTTL,
	}
}

// WithClock overrides the time source for tests.
func (s *Service) WithClock(now func() time.Time) *Service {
	s.now = now
	return s
}

// WithVerificationTTLs overrides the token lifetimes. Non-positive
// values keep the defaults.
func (s *Service) WithVerificationTTLs(emailTTL, phoneTTL time.Duration) *Service {
	if emailTTL > 0 {
		s.emailTTL = emailTTL
	}
	if phoneTTL > 0 {
		s.phoneTTL = phoneTTL
	}
	return s
}

// Register signs up a patient and kicks off email and phone
// verification. The account exists immediately but cannot log in until
// the email is verified.
func (s *Service) Register(ctx context.Context, req *RegisterRequest) (*Patient, error) {
	req.Normalize()
	if err := req.Validate(s.now()); err != nil {
		return nil, err
	}

	hash, err := credentials.HashPassword(req.Password, s.params)
	if err != nil {
		return nil, apperror.Internal(err)
	}

	p := &Patient{
		ID:             uuid.New(),
		FirstName:      req.FirstName,
		LastName:       req.LastName,
		Email:          req.Email,
		Phone:          req.Phone,
		PasswordHash:   hash,
		DateOfBirth:    req.DOB(),
		Gender:         req.Gender,
		Address:        req.Address,
		MedicalHistory: append([]string(nil), req.MedicalHistory...),
		Consents:       req.Consents,
		Active:         true,
	}
	if c := req.EmergencyContact; c != nil {
		contact := *c
		p.EmergencyContact = &contact
	}
	if ins := req.Insurance; ins != nil {
		insurance := *ins
		p.Insurance = &insurance
	}

	if err := s.store.Create(ctx, p); err != nil {
		return nil, err
	}
	if p.Insurance != nil {
		p.Insurance.PolicyNumber = MaskPolicyNumber(p.Insurance.PolicyNumber)
	}

	if err := s.issueEmailToken(ctx, p.ID, p.Email, p.DisplayName()); err != nil {
		s.logger.Warn("email verification not issued", "patient_id", p.ID, "error", err)
	}
	if err := s.issuePhoneCode(ctx, p.ID, p.Phone); err != nil {
		s.logger.Warn("phone verification not issued", "patient_id", p.ID, "error", err)
	}

	s.recordEvent(ctx, security.EventRegistration, p.ID, p.Email, req.SourceAddr, req.UserAgent)
	s.logger.Info("patient registered", "patient_id", p.ID)
	return p, nil
}

// VerifyEmail spends an email token and unlocks login for the account.
func (s *Service) VerifyEmail(ctx context.Context, token, sourceAddr, userAgent string) error {
	token = strings.TrimSpace(token)
	if token == "" {
		return badVerification()
	}
	id, err := s.store.ConsumeVerificationToken(ctx, credentials.Digest(token), PurposeEmail, s.now())
	if err != nil {
		if errors.Is(err, ErrTokenInvalid) {
			return badVerification()
		}
		return apperror.Internal(err)
	}
	if err := s.store.MarkEmailVerified(ctx, id); err != nil {
		return apperror.Internal(err)
	}
	s.recordEvent(ctx, security.EventEmailVerified, id, "", sourceAddr, userAgent)
	s.logger.Info("patient email verified", "patient_id", id)
	return nil
}

// VerifyPhone spends an SMS code.
func (s *Service) VerifyPhone(ctx context.Context, code, sourceAddr, userAgent string) error {
	code = strings.TrimSpace(code)
	if code == "" {
		return badVerification()
	}
	id, err := s.store.ConsumeVerificationToken(ctx, credentials.Digest(code), PurposePhone, s.now())
	if err != nil {
		if errors.Is(err, ErrTokenInvalid) {
			return badVerification()
		}
		return apperror.Internal(err)
	}
	if err := s.store.MarkPhoneVerified(ctx, id); err != nil {
		return apperror.Internal(err)
	}
	s.recordEvent(ctx, security.EventPhoneVerified, id, "", sourceAddr, userAgent)
	s.logger.Info("patient phone verified", "patient_id", id)
	return nil
}

// ResendVerification mints fresh tokens for whichever channels are still
// unverified. Unknown emails return nil so the endpoint cannot be used
// to enumerate accounts.
func (s *Service) ResendVerification(ctx context.Context, email string) error {
	email = principal.CanonicalIdentifier(email)
	if !principal.ValidEmail(email) {
		return apperror.Validation(map[string][]string{
			"email": {"must be a valid email address"},
		})
	}

	acct, err := s.store.FindByIdentifier(ctx, email)
	if err != nil {
		if errors.Is(err, ErrNotFound) {
			return nil
		}
		return apperror.Internal(err)
	}

	if !acct.EmailVerified {
		if err := s.issueEmailToken(ctx, acct.ID, acct.Email, acct.DisplayName); err != nil {
			return apperror.Internal(err)
		}
	}
	if !acct.PhoneVerified {
		if err := s.issuePhoneCode(ctx, acct.ID, acct.Phone); err != nil {
			return apperror.Internal(err)
		}
	}
	return nil
}

// issueEmailToken stores a fresh token digest and mails the link. Send
// failures are logged, not surfaced: the token stays valid and resend
// covers the gap.
func (s *Service) issueEmailToken(ctx context.Context, patientID uuid.UUID, email, name string) error {
	token := uuid.NewString()
	err := s.store.InsertVerificationToken(ctx, &VerificationToken{
		ID:        uuid.New(),
		PatientID: patientID,
		Purpose:   PurposeEmail,
		Digest:    credentials.Digest(token),
		ExpiresAt: s.now().Add(s.emailTTL),
	})
	if err != nil {
		return err
	}
	if s.messages == nil {
		return nil
	}
	if err := s.messages.SendEmailVerification(ctx, email, name, token); err != nil {
		s.logger.Warn("verification email not sent", "patient_id", patientID, "error", err)
	}
	return nil
}

func (s *Service) issuePhoneCode(ctx context.Context, patientID uuid.UUID, phone string) error {
	code, err := credentials.NewOTP()
	if err != nil {
		return err
	}
	err = s.store.InsertVerificationToken(ctx, &VerificationToken{
		ID:        uuid.New(),
		PatientID: patientID,
		Purpose:   PurposePhone,
		Digest:    credentials.Digest(code),
		ExpiresAt: s.now().Add(s.phoneTTL),
	})
	if err != nil {
		return err
	}
	if s.messages == nil {
		return nil
	}
	if err := s.messages.SendPhoneVerification(ctx, phone, code); err != nil {
		s.logger.Warn("verification sms not sent", "patient_id", patientID, "error", err)
	}
	return nil
}

func badVerification() error {
	return apperror.E(apperror.KindBadInput, "verification_invalid", "verification token is invalid or expired")
}

func (s *Service) recordEvent(ctx context.Context, kind security.EventKind, patientID uuid.UUID, identifier, sourceAddr, userAgent string) {
	if s.trail == nil {
		return
	}
	event := security.NewEvent(kind, principal.RolePatient, security.RiskContext{
		EmptyUserAgent: userAgent == "",
	})
	event.PrincipalID = &patientID
	event.Identifier = security.RedactIdentifier(identifier)
	event.SourceAddr = sourceAddr
	event.UserAgent = userAgent
	if err := s.trail.Record(ctx, event); err != nil {
		s.logger.Warn("security event dropped", "kind", string(event.Kind), "error", err)
	}
}
