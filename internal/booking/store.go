package booking

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/google/uuid"
	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgconn"

	"github.com/carebook/carebook-backend/internal/availability"
	"github.com/carebook/carebook-backend/internal/schedule"
)

var (
	// ErrNotFound is returned when no slot matches a lookup.
	ErrNotFound = errors.New("booking: not found")
	// ErrSlotUnavailable is returned when the reserve compare-and-set
	// matched no row: the slot is missing, past, or no longer available.
	ErrSlotUnavailable = errors.New("booking: slot not available")
)

// db is the narrow pgx surface the store needs. Satisfied by
// *pgxpool.Pool and by pgxmock in tests.
type db interface {
	Begin(ctx context.Context) (pgx.Tx, error)
	Exec(ctx context.Context, sql string, args ...any) (pgconn.CommandTag, error)
	Query(ctx context.Context, sql string, args ...any) (pgx.Rows, error)
	QueryRow(ctx context.Context, sql string, args ...any) pgx.Row
}

// Store drives slot state transitions in Postgres. The conditional
// updates here are the only writers of the booked and cancelled states.
type Store struct {
	db db
}

// NewStore builds a booking store. Panics if db is nil.
func NewStore(db db) *Store {
	if db == nil {
		panic("booking: pgx pool required")
	}
	return &Store{db: db}
}

const appointmentColumns = `
	id, template_id, provider_id, start_at, end_at, status, patient_id,
	appointment_type, booking_reference, notes, special_requirements,
	base_fee_cents, insurance_accepted, currency, booked_at, cancelled_at,
	cancellation_reason, created_at, updated_at`

// reserveSQL is the single-row compare-and-set that serializes booking.
// Zero rows affected means some precondition no longer holds; the caller
// re-reads to find out which.
const reserveSQL = `
	UPDATE slots
	SET status = 'booked',
		patient_id = $2,
		appointment_type = COALESCE(NULLIF($3, ''), appointment_type),
		notes = COALESCE(NULLIF($4, ''), notes),
		special_requirements = $5,
		booked_at = $6,
		updated_at = now()
	WHERE id = $1 AND status = 'available' AND start_at > $6
	RETURNING ` + appointmentColumns

const cancelSQL = `
	UPDATE slots
	SET status = 'cancelled',
		patient_id = NULL,
		special_requirements = NULL,
		cancelled_at = $3,
		cancellation_reason = NULLIF($4, ''),
		updated_at = now()
	WHERE id = $1 AND status = 'booked' AND patient_id = $2
	RETURNING template_id, updated_at`

// ReserveSlot books one available future slot for the patient and bumps
// the parent template's occupancy, in one transaction. Under concurrent
// attempts the row lock taken by the update lets exactly one win;
// everyone else gets ErrSlotUnavailable.
func (s *Store) ReserveSlot(ctx context.Context, slotID, patientID uuid.UUID, apptType, notes string, reqs []string, at time.Time) (*Appointment, error) {
	tx, err := s.db.Begin(ctx)
	if err != nil {
		return nil, fmt.Errorf("booking: begin failed: %w", err)
	}
	defer tx.Rollback(ctx)

	var reqsArg []string
	if len(reqs) > 0 {
		reqsArg = append([]string{}, reqs...)
	}
	ap, err := scanAppointment(tx.QueryRow(ctx, reserveSQL,
		slotID, patientID, apptType, notes, reqsArg, at,
	))
	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return nil, ErrSlotUnavailable
		}
		return nil, fmt.Errorf("booking: reserve failed: %w", err)
	}

	if _, err := tx.Exec(ctx, `
		UPDATE availability_templates
		SET occupancy = occupancy + 1, updated_at = now()
		WHERE id = $1
	`, ap.AvailabilityID); err != nil {
		return nil, fmt.Errorf("booking: occupancy increment failed: %w", err)
	}
	if err := tx.Commit(ctx); err != nil {
		return nil, fmt.Errorf("booking: commit failed: %w", err)
	}
	return ap, nil
}

// CancelSlot releases a booked slot owned by the patient and decrements
// the parent's occupancy, in one transaction. Returns the new updated_at
// and whether a row matched; zero rows mean the slot already left the
// booked state.
func (s *Store) CancelSlot(ctx context.Context, slotID, patientID uuid.UUID, reason string, at time.Time) (time.Time, bool, error) {
	tx, err := s.db.Begin(ctx)
	if err != nil {
		return time.Time{}, false, fmt.Errorf("booking: begin failed: %w", err)
	}
	defer tx.Rollback(ctx)

	var (
		templateID uuid.UUID
		updatedAt  time.Time
	)
	err = tx.QueryRow(ctx, cancelSQL, slotID, patientID, at, reason).Scan(&templateID, &updatedAt)
	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return time.Time{}, false, nil
		}
		return time.Time{}, false, fmt.Errorf("booking: cancel failed: %w", err)
	}

	if _, err := tx.Exec(ctx, `
		UPDATE availability_templates
		SET occupancy = GREATEST(occupancy - 1, 0), updated_at = now()
		WHERE id = $1
	`, templateID); err != nil {
		return time.Time{}, false, fmt.Errorf("booking: occupancy decrement failed: %w", err)
	}
	if err := tx.Commit(ctx); err != nil {
		return time.Time{}, false, fmt.Errorf("booking: commit failed: %w", err)
	}
	return updatedAt, true, nil
}

// AppointmentByID fetches one slot in the appointment projection.
func (s *Store) AppointmentByID(ctx context.Context, id uuid.UUID) (*Appointment, error) {
	query := `SELECT ` + appointmentColumns + ` FROM slots WHERE id = $1`
	ap, err := scanAppointment(s.db.QueryRow(ctx, query, id))
	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return nil, ErrNotFound
		}
		return nil, fmt.Errorf("booking: appointment select failed: %w", err)
	}
	return ap, nil
}

// SlotIDByReference resolves a booking reference to its slot id.
func (s *Store) SlotIDByReference(ctx context.Context, ref string) (uuid.UUID, error) {
	var id uuid.UUID
	err := s.db.QueryRow(ctx, `SELECT id FROM slots WHERE booking_reference = $1`, ref).Scan(&id)
	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return uuid.Nil, ErrNotFound
		}
		return uuid.Nil, fmt.Errorf("booking: reference lookup failed: %w", err)
	}
	return id, nil
}

// PatientAppointments returns one page of the patient's slots, newest
// start first, plus the unpaged total.
func (s *Store) PatientAppointments(ctx context.Context, patientID uuid.UUID, f Filters, limit, offset int) ([]*Appointment, int, error) {
	where := ` FROM slots WHERE patient_id = $1`
	args := []any{patientID}
	if !f.From.IsZero() {
		args = append(args, dateValue(f.From))
		where += fmt.Sprintf(" AND start_at >= $%d", len(args))
	}
	if !f.To.IsZero() {
		args = append(args, dateValue(f.To.AddDays(1)))
		where += fmt.Sprintf(" AND start_at < $%d", len(args))
	}
	if f.Status != "" {
		args = append(args, string(f.Status))
		where += fmt.Sprintf(" AND status = $%d", len(args))
	}
	if f.Type != "" {
		args = append(args, string(f.Type))
		where += fmt.Sprintf(" AND appointment_type = $%d", len(args))
	}

	var total int
	if err := s.db.QueryRow(ctx, `SELECT count(*)`+where, args...).Scan(&total); err != nil {
		return nil, 0, fmt.Errorf("booking: appointment count failed: %w", err)
	}

	args = append(args, limit, offset)
	query := `SELECT ` + appointmentColumns + where +
		fmt.Sprintf(" ORDER BY start_at DESC LIMIT $%d OFFSET $%d", len(args)-1, len(args))
	rows, err := s.db.Query(ctx, query, args...)
	if err != nil {
		return nil, 0, fmt.Errorf("booking: appointment page failed: %w", err)
	}
	defer rows.Close()

	var out []*Appointment
	for rows.Next() {
		ap, err := scanAppointment(rows)
		if err != nil {
			return nil, 0, fmt.Errorf("booking: appointment scan failed: %w", err)
		}
		out = append(out, ap)
	}
	return out, total, rows.Err()
}

func scanAppointment(row pgx.Row) (*Appointment, error) {
	var (
		ap               Appointment
		status, apptType string
		reqs             []string
		reason           *string
		feeCents         *int64
		insurance        *bool
		currency         *string
	)
	if err := row.Scan(
		&ap.ID, &ap.AvailabilityID, &ap.ProviderID, &ap.StartAt, &ap.EndAt,
		&status, &ap.PatientID, &apptType, &ap.BookingReference, &ap.Notes,
		&reqs, &feeCents, &insurance, &currency, &ap.BookedAt,
		&ap.CancelledAt, &reason, &ap.CreatedAt, &ap.UpdatedAt,
	); err != nil {
		return nil, err
	}
	ap.Status = availability.SlotStatus(status)
	ap.AppointmentType = availability.AppointmentType(apptType)
	if len(reqs) > 0 {
		ap.SpecialReqs = reqs
	}
	if feeCents != nil {
		p := &availability.Pricing{BaseFeeCents: *feeCents}
		if insurance != nil {
			p.InsuranceAccepted = *insurance
		}
		if currency != nil {
			p.Currency = *currency
		}
		ap.Pricing = p
	}
	if reason != nil {
		ap.CancellationReason = *reason
	}
	return &ap, nil
}

// dateValue renders a calendar date as UTC midnight; history date bounds
// are interpreted in UTC.
func dateValue(d schedule.DateOnly) time.Time {
	return time.Date(d.Year, d.Month, d.Day, 0, 0, 0, 0, time.UTC)
}
