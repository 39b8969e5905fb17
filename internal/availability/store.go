package availability

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/google/uuid"
	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgconn"

	"github.com/carebook/carebook-backend/internal/schedule"
)

var (
	// ErrNotFound is returned when no template or slot matches a lookup.
	ErrNotFound = errors.New("availability: not found")
	// ErrTemplateBusy is returned when a cascade delete finds a booked
	// sibling; nothing is deleted.
	ErrTemplateBusy = errors.New("availability: template has booked slots")
)

// db is the narrow pgx surface the store needs. Satisfied by
// *pgxpool.Pool and by pgxmock in tests.
type db interface {
	Begin(ctx context.Context) (pgx.Tx, error)
	Exec(ctx context.Context, sql string, args ...any) (pgconn.CommandTag, error)
	Query(ctx context.Context, sql string, args ...any) (pgx.Rows, error)
	QueryRow(ctx context.Context, sql string, args ...any) pgx.Row
}

// Store persists templates and slots in Postgres.
type Store struct {
	db db
}

// NewStore builds an availability store. Panics if db is nil.
func NewStore(db db) *Store {
	if db == nil {
		panic("availability: pgx pool required")
	}
	return &Store{db: db}
}

const templateColumns = `
	id, provider_id, local_date, start_minutes, end_minutes, timezone,
	slot_minutes, break_minutes, max_per_slot, recurring, recurrence_pattern,
	recurrence_end_date, appointment_type, location_type, location_address,
	location_room, base_fee_cents, insurance_accepted, currency,
	special_requirements, notes, status, occupancy, slot_count, created_at,
	updated_at`

const slotColumns = `
	id, template_id, provider_id, start_at, end_at, status, patient_id,
	appointment_type, booking_reference, notes, base_fee_cents,
	insurance_accepted, currency, booked_at, cancelled_at,
	cancellation_reason, created_at, updated_at`

const insertTemplateSQL = `
	INSERT INTO availability_templates (
		id, provider_id, local_date, start_minutes, end_minutes, timezone,
		slot_minutes, break_minutes, max_per_slot, recurring,
		recurrence_pattern, recurrence_end_date, appointment_type,
		location_type, location_address, location_room, base_fee_cents,
		insurance_accepted, currency, special_requirements, notes, status,
		occupancy, slot_count
	) VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9, $10, $11, $12, $13, $14,
		$15, $16, $17, $18, $19, $20, $21, $22, $23, $24)`

const insertSlotSQL = `
	INSERT INTO slots (
		id, template_id, provider_id, start_at, end_at, status,
		appointment_type, booking_reference
	) VALUES ($1, $2, $3, $4, $5, $6, $7, $8)`

// CreateTemplatesWithSlots persists every template and its slots in one
// transaction; a failure anywhere rolls the whole publish back.
func (s *Store) CreateTemplatesWithSlots(ctx context.Context, templates []*Template, slots [][]*Slot) error {
	if len(templates) != len(slots) {
		return fmt.Errorf("availability: %d templates but %d slot groups", len(templates), len(slots))
	}
	tx, err := s.db.Begin(ctx)
	if err != nil {
		return fmt.Errorf("availability: begin failed: %w", err)
	}
	defer tx.Rollback(ctx)

	for i, t := range templates {
		var recEnd *time.Time
		if t.RecurrenceEnd != nil {
			v := dateValue(*t.RecurrenceEnd)
			recEnd = &v
		}
		feeCents, insurance, currency := pricingValues(t.Pricing)
		if _, err := tx.Exec(ctx, insertTemplateSQL,
			t.ID, t.ProviderID, dateValue(t.LocalDate),
			t.StartTime.Minutes(), t.EndTime.Minutes(), t.Timezone,
			t.SlotMinutes, t.BreakMinutes, t.MaxPerSlot, t.Recurring,
			string(t.Pattern), recEnd, string(t.AppointmentType),
			string(t.Location.Type), t.Location.Address, t.Location.Room,
			feeCents, insurance, currency,
			append([]string{}, t.SpecialReqs...), t.Notes, string(t.Status),
			t.Occupancy, t.SlotCount,
		); err != nil {
			return fmt.Errorf("availability: template insert failed: %w", err)
		}
		for _, sl := range slots[i] {
			if _, err := tx.Exec(ctx, insertSlotSQL,
				sl.ID, sl.TemplateID, sl.ProviderID, sl.StartAt, sl.EndAt,
				string(sl.Status), string(sl.AppointmentType), sl.BookingReference,
			); err != nil {
				return fmt.Errorf("availability: slot insert failed: %w", err)
			}
		}
	}
	if err := tx.Commit(ctx); err != nil {
		return fmt.Errorf("availability: commit failed: %w", err)
	}
	return nil
}

// TemplatesOnDate lists a provider's non-cancelled templates on one local
// date. It feeds the overlap check before a publish.
func (s *Store) TemplatesOnDate(ctx context.Context, providerID uuid.UUID, date schedule.DateOnly) ([]Template, error) {
	query := `SELECT ` + templateColumns + `
		FROM availability_templates
		WHERE provider_id = $1 AND local_date = $2 AND status <> 'cancelled'
		ORDER BY start_minutes`
	rows, err := s.db.Query(ctx, query, providerID, dateValue(date))
	if err != nil {
		return nil, fmt.Errorf("availability: templates on date failed: %w", err)
	}
	defer rows.Close()

	var templates []Template
	for rows.Next() {
		t, err := scanTemplate(rows)
		if err != nil {
			return nil, fmt.Errorf("availability: template scan failed: %w", err)
		}
		templates = append(templates, *t)
	}
	return templates, rows.Err()
}

// TemplateByID fetches one template.
func (s *Store) TemplateByID(ctx context.Context, id uuid.UUID) (*Template, error) {
	query := `SELECT ` + templateColumns + ` FROM availability_templates WHERE id = $1`
	t, err := scanTemplate(s.db.QueryRow(ctx, query, id))
	if err != nil {
		if err == pgx.ErrNoRows {
			return nil, ErrNotFound
		}
		return nil, fmt.Errorf("availability: template select failed: %w", err)
	}
	return t, nil
}

// SlotByID fetches one slot.
func (s *Store) SlotByID(ctx context.Context, id uuid.UUID) (*Slot, error) {
	query := `SELECT ` + slotColumns + ` FROM slots WHERE id = $1`
	sl, err := scanSlot(s.db.QueryRow(ctx, query, id))
	if err != nil {
		if err == pgx.ErrNoRows {
			return nil, ErrNotFound
		}
		return nil, fmt.Errorf("availability: slot select failed: %w", err)
	}
	return sl, nil
}

// SlotFilters narrow a provider calendar read.
type SlotFilters struct {
	Status          SlotStatus
	AppointmentType AppointmentType
}

// CalendarSlot is a slot joined with its template's timezone so views can
// localize without a second query.
type CalendarSlot struct {
	Slot
	Timezone string
}

// SlotsByProviderBetween lists a provider's slots with start in [from, to),
// joined with the parent template's timezone, ordered by start.
func (s *Store) SlotsByProviderBetween(ctx context.Context, providerID uuid.UUID, from, to time.Time, f SlotFilters) ([]CalendarSlot, error) {
	query := `SELECT s.id, s.template_id, s.provider_id, s.start_at, s.end_at,
			s.status, s.patient_id, s.appointment_type, s.booking_reference,
			s.notes, s.base_fee_cents, s.insurance_accepted, s.currency,
			s.booked_at, s.cancelled_at, s.cancellation_reason, s.created_at,
			s.updated_at, t.timezone
		FROM slots s
		JOIN availability_templates t ON t.id = s.template_id
		WHERE s.provider_id = $1 AND s.start_at >= $2 AND s.start_at < $3`
	args := []any{providerID, from, to}
	if f.Status != "" {
		args = append(args, string(f.Status))
		query += fmt.Sprintf(" AND s.status = $%d", len(args))
	}
	if f.AppointmentType != "" {
		args = append(args, string(f.AppointmentType))
		query += fmt.Sprintf(" AND s.appointment_type = $%d", len(args))
	}
	query += " ORDER BY s.start_at"

	rows, err := s.db.Query(ctx, query, args...)
	if err != nil {
		return nil, fmt.Errorf("availability: provider slots failed: %w", err)
	}
	defer rows.Close()

	var out []CalendarSlot
	for rows.Next() {
		var cs CalendarSlot
		if err := scanSlotInto(rows, &cs.Slot, &cs.Timezone); err != nil {
			return nil, fmt.Errorf("availability: slot scan failed: %w", err)
		}
		out = append(out, cs)
	}
	return out, rows.Err()
}

// SlotsByTemplate lists a template's slots ordered by start.
func (s *Store) SlotsByTemplate(ctx context.Context, templateID uuid.UUID) ([]Slot, error) {
	query := `SELECT ` + slotColumns + ` FROM slots WHERE template_id = $1 ORDER BY start_at`
	rows, err := s.db.Query(ctx, query, templateID)
	if err != nil {
		return nil, fmt.Errorf("availability: template slots failed: %w", err)
	}
	defer rows.Close()

	var out []Slot
	for rows.Next() {
		sl, err := scanSlot(rows)
		if err != nil {
			return nil, fmt.Errorf("availability: slot scan failed: %w", err)
		}
		out = append(out, *sl)
	}
	return out, rows.Err()
}

// UpdateSlotGuarded rewrites a slot's patchable columns under a status
// compare-and-set. Returns the new updated_at and whether a row matched;
// zero rows mean the slot moved out of the expected statuses.
func (s *Store) UpdateSlotGuarded(ctx context.Context, slotID uuid.UUID, from []SlotStatus, status SlotStatus, notes string, pricing *Pricing) (time.Time, bool, error) {
	feeCents, insurance, currency := pricingValues(pricing)
	var updatedAt time.Time
	err := s.db.QueryRow(ctx, `
		UPDATE slots
		SET status = $2, notes = $3, base_fee_cents = $4,
			insurance_accepted = $5, currency = $6, updated_at = now()
		WHERE id = $1 AND status = ANY($7)
		RETURNING updated_at
	`, slotID, string(status), notes, feeCents, insurance, currency, statusStrings(from)).Scan(&updatedAt)
	if err != nil {
		if err == pgx.ErrNoRows {
			return time.Time{}, false, nil
		}
		return time.Time{}, false, fmt.Errorf("availability: slot update failed: %w", err)
	}
	return updatedAt, true, nil
}

// DeleteSlot removes one non-booked slot and decrements the parent's
// slot_count, in a transaction. Returns false when the slot is missing or
// no longer deletable.
func (s *Store) DeleteSlot(ctx context.Context, slotID uuid.UUID) (bool, error) {
	tx, err := s.db.Begin(ctx)
	if err != nil {
		return false, fmt.Errorf("availability: begin failed: %w", err)
	}
	defer tx.Rollback(ctx)

	var templateID uuid.UUID
	err = tx.QueryRow(ctx, `
		DELETE FROM slots WHERE id = $1 AND status <> 'booked'
		RETURNING template_id
	`, slotID).Scan(&templateID)
	if err != nil {
		if err == pgx.ErrNoRows {
			return false, nil
		}
		return false, fmt.Errorf("availability: slot delete failed: %w", err)
	}
	if _, err := tx.Exec(ctx, `
		UPDATE availability_templates
		SET slot_count = slot_count - 1, updated_at = now()
		WHERE id = $1
	`, templateID); err != nil {
		return false, fmt.Errorf("availability: slot_count update failed: %w", err)
	}
	if err := tx.Commit(ctx); err != nil {
		return false, fmt.Errorf("availability: commit failed: %w", err)
	}
	return true, nil
}

// DeleteTemplateCascade removes a template and all its slots after
// verifying, inside the same transaction, that none are booked. Returns
// the number of slots removed.
func (s *Store) DeleteTemplateCascade(ctx context.Context, templateID uuid.UUID) (int, error) {
	tx, err := s.db.Begin(ctx)
	if err != nil {
		return 0, fmt.Errorf("availability: begin failed: %w", err)
	}
	defer tx.Rollback(ctx)

	var booked int
	if err := tx.QueryRow(ctx, `
		SELECT count(*) FROM slots WHERE template_id = $1 AND status = 'booked'
	`, templateID).Scan(&booked); err != nil {
		return 0, fmt.Errorf("availability: booked count failed: %w", err)
	}
	if booked > 0 {
		return 0, ErrTemplateBusy
	}

	ct, err := tx.Exec(ctx, `DELETE FROM slots WHERE template_id = $1`, templateID)
	if err != nil {
		return 0, fmt.Errorf("availability: cascade slot delete failed: %w", err)
	}
	removed := int(ct.RowsAffected())

	ct, err = tx.Exec(ctx, `DELETE FROM availability_templates WHERE id = $1`, templateID)
	if err != nil {
		return 0, fmt.Errorf("availability: template delete failed: %w", err)
	}
	if ct.RowsAffected() == 0 {
		return 0, ErrNotFound
	}
	if err := tx.Commit(ctx); err != nil {
		return 0, fmt.Errorf("availability: commit failed: %w", err)
	}
	return removed, nil
}

func scanTemplate(row pgx.Row) (*Template, error) {
	var (
		t                 Template
		localDate         time.Time
		startMin, endMin  int
		pattern, status   string
		apptType, locType string
		recEnd            *time.Time
		feeCents          *int64
		insurance         *bool
		currency          *string
		specialReqs       []string
	)
	if err := row.Scan(
		&t.ID, &t.ProviderID, &localDate, &startMin, &endMin, &t.Timezone,
		&t.SlotMinutes, &t.BreakMinutes, &t.MaxPerSlot, &t.Recurring,
		&pattern, &recEnd, &apptType, &locType, &t.Location.Address,
		&t.Location.Room, &feeCents, &insurance, &currency, &specialReqs,
		&t.Notes, &status, &t.Occupancy, &t.SlotCount, &t.CreatedAt,
		&t.UpdatedAt,
	); err != nil {
		return nil, err
	}
	t.LocalDate = schedule.DateOf(localDate)
	t.StartTime = schedule.MinutesOfDay(startMin)
	t.EndTime = schedule.MinutesOfDay(endMin)
	t.Pattern = schedule.Pattern(pattern)
	if recEnd != nil {
		d := schedule.DateOf(*recEnd)
		t.RecurrenceEnd = &d
	}
	t.AppointmentType = AppointmentType(apptType)
	t.Location.Type = LocationType(locType)
	t.Pricing = pricingFrom(feeCents, insurance, currency)
	if len(specialReqs) > 0 {
		t.SpecialReqs = specialReqs
	}
	t.Status = TemplateStatus(status)
	return &t, nil
}

func scanSlot(row pgx.Row) (*Slot, error) {
	var sl Slot
	if err := scanSlotInto(row, &sl); err != nil {
		return nil, err
	}
	return &sl, nil
}

// scanSlotInto scans the slot columns plus any trailing extras (joined
// columns) into extra targets.
func scanSlotInto(row pgx.Row, sl *Slot, extra ...any) error {
	var (
		status, apptType string
		reason           *string
		feeCents         *int64
		insurance        *bool
		currency         *string
	)
	targets := []any{
		&sl.ID, &sl.TemplateID, &sl.ProviderID, &sl.StartAt, &sl.EndAt,
		&status, &sl.PatientID, &apptType, &sl.BookingReference, &sl.Notes,
		&feeCents, &insurance, &currency, &sl.BookedAt, &sl.CancelledAt,
		&reason, &sl.CreatedAt, &sl.UpdatedAt,
	}
	targets = append(targets, extra...)
	if err := row.Scan(targets...); err != nil {
		return err
	}
	sl.Status = SlotStatus(status)
	sl.AppointmentType = AppointmentType(apptType)
	sl.Pricing = pricingFrom(feeCents, insurance, currency)
	if reason != nil {
		sl.CancellationReason = *reason
	}
	return nil
}

// pricingValues flattens optional pricing into its nullable columns.
func pricingValues(p *Pricing) (*int64, *bool, *string) {
	if p == nil {
		return nil, nil, nil
	}
	return &p.BaseFeeCents, &p.InsuranceAccepted, &p.Currency
}

func pricingFrom(feeCents *int64, insurance *bool, currency *string) *Pricing {
	if feeCents == nil {
		return nil
	}
	p := &Pricing{BaseFeeCents: *feeCents}
	if insurance != nil {
		p.InsuranceAccepted = *insurance
	}
	if currency != nil {
		p.Currency = *currency
	}
	return p
}

func statusStrings(statuses []SlotStatus) []string {
	out := make([]string, len(statuses))
	for i, s := range statuses {
		out[i] = string(s)
	}
	return out
}

// dateValue renders a calendar date as UTC midnight for date columns.
func dateValue(d schedule.DateOnly) time.Time {
	return time.Date(d.Year, d.Month, d.Day, 0, 0, 0, 0, time.UTC)
}
