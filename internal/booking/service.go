package booking

import (
	"context"
	"errors"
	"strconv"
	"strings"
	"time"

	"github.com/google/uuid"
	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/trace"

	"github.com/carebook/carebook-backend/internal/apperror"
	"github.com/carebook/carebook-backend/internal/availability"
	"github.com/carebook/carebook-backend/internal/patient"
	"github.com/carebook/carebook-backend/internal/principal"
	"github.com/carebook/carebook-backend/internal/schedule"
	"github.com/carebook/carebook-backend/pkg/logging"
)

var bookingTracer = otel.Tracer("carebook/booking")

// reserveTimeout bounds the detached critical section. A client that
// disconnects mid-reserve must still see the transaction finish, one way
// or the other.
const reserveTimeout = 5 * time.Second

const (
	defaultPageSize = 10
	maxPageSize     = 100
)

// SlotStore is the persistence surface the manager drives. *Store
// implements it over pgx; the reservation race test substitutes an
// in-memory compare-and-set.
type SlotStore interface {
	ReserveSlot(ctx context.Context, slotID, patientID uuid.UUID, apptType, notes string, reqs []string, at time.Time) (*Appointment, error)
	CancelSlot(ctx context.Context, slotID, patientID uuid.UUID, reason string, at time.Time) (time.Time, bool, error)
	AppointmentByID(ctx context.Context, id uuid.UUID) (*Appointment, error)
	SlotIDByReference(ctx context.Context, ref string) (uuid.UUID, error)
	PatientAppointments(ctx context.Context, patientID uuid.UUID, f Filters, limit, offset int) ([]*Appointment, int, error)
}

// PatientLookup resolves the booking patient. Satisfied by
// *patient.Store.
type PatientLookup interface {
	FindByID(ctx context.Context, id uuid.UUID) (*principal.Account, error)
}

// Confirmation carries the facts the booked-appointment email renders.
type Confirmation struct {
	To        string
	ToName    string
	Type      string
	StartAt   time.Time
	EndAt     time.Time
	Reference string
}

// ConfirmationSender delivers the confirmation email. Satisfied by
// *notify.Service; nil skips delivery.
type ConfirmationSender interface {
	SendBookingConfirmation(ctx context.Context, c Confirmation) error
}

// Service is the booking manager.
type Service struct {
	store    SlotStore
	patients PatientLookup
	confirm  ConfirmationSender
	logger   *logging.Logger
	now      func() time.Time
}

// NewService wires the booking manager.
func NewService(store SlotStore, patients PatientLookup, logger *logging.Logger) *Service {
	if logger == nil {
		logger = logging.Default()
	}
	return &Service{
		store:    store,
		patients: patients,
		logger:   logger,
		now:      time.Now,
	}
}

// WithClock overrides the clock, for tests.
func (s *Service) WithClock(now func() time.Time) *Service {
	s.now = now
	return s
}

// WithConfirmations turns on confirmation emails for successful bookings.
func (s *Service) WithConfirmations(m ConfirmationSender) *Service {
	s.confirm = m
	return s
}

// Reserve books one slot for the patient. The store's compare-and-set is
// the only path into the booked state, so under concurrent attempts on
// one slot exactly one caller wins; the rest get a Conflict carrying the
// slot's current status.
func (s *Service) Reserve(ctx context.Context, patientID, slotID uuid.UUID, opts ReserveOptions) (*Appointment, error) {
	ctx, span := bookingTracer.Start(ctx, "booking.reserve")
	defer span.End()
	span.SetAttributes(
		attribute.String("carebook.slot_id", slotID.String()),
		attribute.String("carebook.patient_id", patientID.String()),
	)

	acct, err := s.patients.FindByID(ctx, patientID)
	if err != nil {
		if errors.Is(err, patient.ErrNotFound) {
			span.SetAttributes(attribute.String("carebook.outcome", "patient_not_found"))
			return nil, apperror.NotFound("patient")
		}
		span.RecordError(err)
		return nil, err
	}
	if !acct.Active {
		span.SetAttributes(attribute.String("carebook.outcome", "patient_not_found"))
		return nil, apperror.NotFound("patient")
	}

	if opts.AppointmentType != "" && !opts.AppointmentType.Valid() {
		return nil, apperror.Validation(map[string][]string{
			"appointment_type": {"must be one of consultation, follow_up, emergency, telemedicine"},
		})
	}
	opts.Notes = strings.TrimSpace(opts.Notes)
	opts.SpecialReqs = cleanReqs(opts.SpecialReqs)

	// The critical section runs detached from the caller's cancellation:
	// a disconnect either sees the booking commit or not, never a slot
	// stranded mid-transition.
	now := s.now()
	resCtx, cancel := context.WithTimeout(context.WithoutCancel(ctx), reserveTimeout)
	defer cancel()
	ap, err := s.store.ReserveSlot(resCtx, slotID, patientID,
		string(opts.AppointmentType), opts.Notes, opts.SpecialReqs, now)
	if err != nil {
		if errors.Is(err, ErrSlotUnavailable) {
			return nil, s.classifyReserveMiss(ctx, span, slotID, now)
		}
		span.RecordError(err)
		return nil, err
	}

	span.SetAttributes(attribute.String("carebook.outcome", "booked"))
	s.logger.Info("appointment booked",
		"patient_id", patientID,
		"slot_id", slotID,
		"booking_reference", ap.BookingReference,
	)
	s.notifyBooked(ctx, acct, ap)
	return ap, nil
}

// notifyBooked sends the confirmation email best-effort. The booking is
// already committed; a delivery failure only logs.
func (s *Service) notifyBooked(ctx context.Context, acct *principal.Account, ap *Appointment) {
	if s.confirm == nil || acct.Email == "" {
		return
	}
	err := s.confirm.SendBookingConfirmation(ctx, Confirmation{
		To:        acct.Email,
		ToName:    acct.DisplayName,
		Type:      string(ap.AppointmentType),
		StartAt:   ap.StartAt,
		EndAt:     ap.EndAt,
		Reference: ap.BookingReference,
	})
	if err != nil {
		s.logger.Warn("booking confirmation not sent",
			"slot_id", ap.ID,
			"booking_reference", ap.BookingReference,
			"error", err,
		)
	}
}

// classifyReserveMiss re-reads the slot after a compare-and-set miss to
// tell missing, past, and taken apart. The miss alone proved nothing
// beyond "not bookable at the instant of the update".
func (s *Service) classifyReserveMiss(ctx context.Context, span trace.Span, slotID uuid.UUID, now time.Time) error {
	ap, err := s.store.AppointmentByID(ctx, slotID)
	if err != nil {
		if errors.Is(err, ErrNotFound) {
			span.SetAttributes(attribute.String("carebook.outcome", "slot_not_found"))
			return apperror.NotFound("slot")
		}
		span.RecordError(err)
		return err
	}
	span.SetAttributes(
		attribute.String("carebook.outcome", "conflict"),
		attribute.String("carebook.slot_status", string(ap.Status)),
	)
	msg := "slot is not available"
	if ap.Status == availability.SlotAvailable && !ap.StartAt.After(now) {
		msg = "slot start time is in the past"
	}
	return apperror.E(apperror.KindConflict, "slot_not_available", msg).
		WithMeta("slot_status", string(ap.Status))
}

// Cancel releases the caller's booked appointment. The slot goes to
// cancelled for good; it never returns to available.
func (s *Service) Cancel(ctx context.Context, patientID, slotID uuid.UUID, reason string) (*Appointment, error) {
	ctx, span := bookingTracer.Start(ctx, "booking.cancel")
	defer span.End()
	span.SetAttributes(
		attribute.String("carebook.slot_id", slotID.String()),
		attribute.String("carebook.patient_id", patientID.String()),
	)

	ap, err := s.store.AppointmentByID(ctx, slotID)
	if err != nil {
		if errors.Is(err, ErrNotFound) {
			span.SetAttributes(attribute.String("carebook.outcome", "not_found"))
			return nil, apperror.NotFound("appointment")
		}
		span.RecordError(err)
		return nil, err
	}
	// A cancelled slot no longer carries the patient id, so the repeat
	// cancel is recognized by status before ownership.
	if ap.Status == availability.SlotCancelled {
		span.SetAttributes(attribute.String("carebook.outcome", "already_cancelled"))
		return nil, apperror.BadInput("appointment is already cancelled")
	}
	if ap.PatientID == nil || *ap.PatientID != patientID {
		span.SetAttributes(attribute.String("carebook.outcome", "not_owner"))
		return nil, apperror.NotFound("appointment")
	}
	if ap.Status != availability.SlotBooked {
		span.SetAttributes(attribute.String("carebook.outcome", "not_booked"))
		return nil, apperror.BadInput("appointment is not booked")
	}
	now := s.now()
	if !ap.StartAt.After(now) {
		span.SetAttributes(attribute.String("carebook.outcome", "already_started"))
		return nil, apperror.BadInput("cannot cancel an appointment that already started")
	}

	reason = strings.TrimSpace(reason)
	cancelCtx, cancel := context.WithTimeout(context.WithoutCancel(ctx), reserveTimeout)
	defer cancel()
	updatedAt, ok, err := s.store.CancelSlot(cancelCtx, slotID, patientID, reason, now)
	if err != nil {
		span.RecordError(err)
		return nil, err
	}
	if !ok {
		span.SetAttributes(attribute.String("carebook.outcome", "already_cancelled"))
		return nil, apperror.BadInput("appointment is already cancelled")
	}

	ap.Status = availability.SlotCancelled
	ap.PatientID = nil
	ap.SpecialReqs = nil
	ap.CancelledAt = &now
	ap.CancellationReason = reason
	ap.UpdatedAt = updatedAt
	span.SetAttributes(attribute.String("carebook.outcome", "cancelled"))
	s.logger.Info("appointment cancelled",
		"patient_id", patientID,
		"slot_id", slotID,
		"reason", reason,
	)
	return ap, nil
}

// SlotIDForReference resolves a booking reference to its slot id, for the
// cancel path that addresses appointments by reference.
func (s *Service) SlotIDForReference(ctx context.Context, ref string) (uuid.UUID, error) {
	id, err := s.store.SlotIDByReference(ctx, strings.TrimSpace(ref))
	if err != nil {
		if errors.Is(err, ErrNotFound) {
			return uuid.Nil, apperror.NotFound("appointment")
		}
		return uuid.Nil, err
	}
	return id, nil
}

// PatientAppointments returns one page of the patient's history, newest
// start first. Date bounds are inclusive UTC days.
func (s *Service) PatientAppointments(ctx context.Context, patientID uuid.UUID, q ListQuery) (*Page, error) {
	fields := map[string][]string{}
	add := func(field, msg string) { fields[field] = append(fields[field], msg) }

	var f Filters
	if q.StartDate != "" {
		d, err := schedule.ParseDate(q.StartDate)
		if err != nil {
			add("start_date", "must be a valid YYYY-MM-DD date")
		} else {
			f.From = d
		}
	}
	if q.EndDate != "" {
		d, err := schedule.ParseDate(q.EndDate)
		if err != nil {
			add("end_date", "must be a valid YYYY-MM-DD date")
		} else {
			f.To = d
		}
	}
	if !f.From.IsZero() && !f.To.IsZero() && f.To.Before(f.From) {
		add("end_date", "must not be before start_date")
	}
	if q.Status != "" {
		st := availability.SlotStatus(q.Status)
		if !st.Valid() {
			add("status", "must be one of available, booked, cancelled, blocked, maintenance")
		} else {
			f.Status = st
		}
	}
	if q.Type != "" {
		at := availability.AppointmentType(q.Type)
		if !at.Valid() {
			add("appointment_type", "must be one of consultation, follow_up, emergency, telemedicine")
		} else {
			f.Type = at
		}
	}

	page := 1
	if q.Page != "" {
		n, err := strconv.Atoi(q.Page)
		if err != nil || n < 1 {
			add("page", "must be a positive integer")
		} else {
			page = n
		}
	}
	limit := defaultPageSize
	if q.Limit != "" {
		n, err := strconv.Atoi(q.Limit)
		if err != nil || n < 1 || n > maxPageSize {
			add("limit", "must be between 1 and 100")
		} else {
			limit = n
		}
	}
	if len(fields) > 0 {
		return nil, apperror.Validation(fields)
	}

	items, total, err := s.store.PatientAppointments(ctx, patientID, f, limit, (page-1)*limit)
	if err != nil {
		return nil, err
	}
	if items == nil {
		items = []*Appointment{}
	}
	totalPages := 0
	if total > 0 {
		totalPages = (total + limit - 1) / limit
	}
	return &Page{
		Appointments: items,
		Total:        total,
		Number:       page,
		Limit:        limit,
		TotalPages:   totalPages,
	}, nil
}

func cleanReqs(reqs []string) []string {
	var out []string
	for _, q := range reqs {
		if q = strings.TrimSpace(q); q != "" {
			out = append(out, q)
		}
	}
	return out
}
