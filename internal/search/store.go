package search

import (
	"context"
	"fmt"
	"time"

	"github.com/google/uuid"
	"github.com/jackc/pgx/v5"

	"github.com/carebook/carebook-backend/internal/availability"
	"github.com/carebook/carebook-backend/internal/schedule"
)

// db is the narrow pgx surface the store needs; search only reads.
// Satisfied by *pgxpool.Pool and by pgxmock in tests.
type db interface {
	Query(ctx context.Context, sql string, args ...any) (pgx.Rows, error)
}

// Store runs the two read queries behind a search: candidate templates,
// then their child slots.
type Store struct {
	db db
}

// NewStore builds a search store. Panics if db is nil.
func NewStore(db db) *Store {
	if db == nil {
		panic("search: pgx pool required")
	}
	return &Store{db: db}
}

const windowColumns = `
	id, provider_id, timezone, appointment_type, base_fee_cents,
	insurance_accepted, currency`

const slotColumns = `
	id, template_id, provider_id, start_at, end_at, status,
	appointment_type, base_fee_cents, insurance_accepted, currency`

// Windows lists templates matching the date, type, and pricing criteria.
// Substring filters on provider fields happen in memory afterwards.
// Templates without pricing never match a price or insurance filter.
func (s *Store) Windows(ctx context.Context, c Criteria) ([]Window, error) {
	query := `SELECT ` + windowColumns + ` FROM availability_templates WHERE status <> 'cancelled'`
	var args []any
	add := func(clause string, v any) {
		args = append(args, v)
		query += fmt.Sprintf(" AND "+clause, len(args))
	}
	if !c.From.IsZero() {
		add("local_date >= $%d", dateValue(c.From))
	}
	if !c.To.IsZero() {
		add("local_date <= $%d", dateValue(c.To))
	}
	if c.Type != "" {
		add("appointment_type = $%d", string(c.Type))
	}
	if c.Insurance != nil {
		add("insurance_accepted = $%d", *c.Insurance)
	}
	if c.MaxPriceCents != nil {
		add("base_fee_cents <= $%d", *c.MaxPriceCents)
	}
	query += " ORDER BY local_date, start_minutes"

	rows, err := s.db.Query(ctx, query, args...)
	if err != nil {
		return nil, fmt.Errorf("search: window query failed: %w", err)
	}
	defer rows.Close()

	var windows []Window
	for rows.Next() {
		var (
			w         Window
			apptType  string
			feeCents  *int64
			insurance *bool
			currency  *string
		)
		if err := rows.Scan(&w.ID, &w.ProviderID, &w.Timezone, &apptType,
			&feeCents, &insurance, &currency); err != nil {
			return nil, fmt.Errorf("search: window scan failed: %w", err)
		}
		w.Type = availability.AppointmentType(apptType)
		w.Pricing = pricingFrom(feeCents, insurance, currency)
		windows = append(windows, w)
	}
	return windows, rows.Err()
}

// SlotsByTemplates fetches the child slots of the surviving templates,
// ordered by start. With availableOnly only open future slots qualify.
func (s *Store) SlotsByTemplates(ctx context.Context, templateIDs []uuid.UUID, availableOnly bool, notBefore time.Time) ([]SlotRow, error) {
	if len(templateIDs) == 0 {
		return nil, nil
	}
	query := `SELECT ` + slotColumns + ` FROM slots WHERE template_id = ANY($1)`
	args := []any{templateIDs}
	if availableOnly {
		query += ` AND status = 'available' AND start_at > $2`
		args = append(args, notBefore)
	}
	query += ` ORDER BY start_at`

	rows, err := s.db.Query(ctx, query, args...)
	if err != nil {
		return nil, fmt.Errorf("search: slot query failed: %w", err)
	}
	defer rows.Close()

	var slots []SlotRow
	for rows.Next() {
		var (
			row       SlotRow
			status    string
			apptType  string
			feeCents  *int64
			insurance *bool
			currency  *string
		)
		if err := rows.Scan(&row.ID, &row.TemplateID, &row.ProviderID,
			&row.StartAt, &row.EndAt, &status, &apptType,
			&feeCents, &insurance, &currency); err != nil {
			return nil, fmt.Errorf("search: slot scan failed: %w", err)
		}
		row.Status = availability.SlotStatus(status)
		row.Type = availability.AppointmentType(apptType)
		row.Pricing = pricingFrom(feeCents, insurance, currency)
		slots = append(slots, row)
	}
	return slots, rows.Err()
}

func pricingFrom(feeCents *int64, insurance *bool, currency *string) *availability.Pricing {
	if feeCents == nil {
		return nil
	}
	p := &availability.Pricing{BaseFeeCents: *feeCents}
	if insurance != nil {
		p.InsuranceAccepted = *insurance
	}
	if currency != nil {
		p.Currency = *currency
	}
	return p
}

// dateValue renders a calendar date as UTC midnight for date columns.
func dateValue(d schedule.DateOnly) time.Time {
	return time.Date(d.Year, d.Month, d.Day, 0, 0, 0, 0, time.UTC)
}
