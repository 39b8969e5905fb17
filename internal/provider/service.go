package provider

import (
	"context"

	"github.com/google/uuid"

	"github.com/carebook/carebook-backend/internal/apperror"
	"github.com/carebook/carebook-backend/internal/credentials"
	"github.com/carebook/carebook-backend/internal/principal"
	"github.com/carebook/carebook-backend/internal/security"
	"github.com/carebook/carebook-backend/pkg/logging"
)

// EventRecorder appends to the security trail. Satisfied by
// *security.Store.
type EventRecorder interface {
	Record(ctx context.Context, event *security.Event) error
}

// Service runs provider registration.
type Service struct {
	store  *Store
	trail  EventRecorder
	params credentials.Argon2Params
	logger *logging.Logger
}

// NewService wires the registration service. trail may be nil in tests.
func NewService(store *Store, trail EventRecorder, logger *logging.Logger) *Service {
	if logger == nil {
		logger = logging.Default()
	}
	return &Service{
		store:  store,
		trail:  trail,
		params: credentials.DefaultArgon2Params,
		logger: logger,
	}
}

// Register signs up a clinician. New providers start active; licensure
// vetting happens out of band.
func (s *Service) Register(ctx context.Context, req *RegisterRequest) (*Provider, error) {
	req.Normalize()
	if err := req.Validate(); err != nil {
		return nil, err
	}

	hash, err := credentials.HashPassword(req.Password, s.params)
	if err != nil {
		return nil, apperror.Internal(err)
	}

	p := &Provider{
		ID:              uuid.New(),
		FirstName:       req.FirstName,
		LastName:        req.LastName,
		Email:           req.Email,
		Phone:           req.Phone,
		PasswordHash:    hash,
		Specialization:  req.Specialization,
		LicenseNumber:   req.LicenseNumber,
		YearsExperience: req.YearsExperience,
		ClinicAddress:   req.ClinicAddress,
		Active:          true,
	}
	if err := s.store.Create(ctx, p); err != nil {
		return nil, err
	}

	s.recordRegistration(ctx, p, req)
	s.logger.Info("provider registered",
		"provider_id", p.ID,
		"specialization", p.Specialization,
	)
	return p, nil
}

func (s *Service) recordRegistration(ctx context.Context, p *Provider, req *RegisterRequest) {
	if s.trail == nil {
		return
	}
	event := security.NewEvent(security.EventRegistration, principal.RoleProvider, security.RiskContext{
		EmptyUserAgent: req.UserAgent == "",
	})
	event.PrincipalID = &p.ID
	event.Identifier = security.RedactIdentifier(p.Email)
	event.SourceAddr = req.SourceAddr
	event.UserAgent = req.UserAgent
	if err := s.trail.Record(ctx, event); err != nil {
		s.logger.Warn("security event dropped", "kind", string(event.Kind), "error", err)
	}
}
