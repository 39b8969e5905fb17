// Package availability owns the scheduling write model: templates a
// provider publishes, the slots materialized from them, and the manager
// that creates, patches, and retires both.
package availability

import (
	"strings"
	"time"

	"github.com/google/uuid"

	"github.com/carebook/carebook-backend/internal/apperror"
	"github.com/carebook/carebook-backend/internal/schedule"
)

// AppointmentType is the kind of visit a template offers.
type AppointmentType string

const (
	TypeConsultation AppointmentType = "consultation"
	TypeFollowUp     AppointmentType = "follow_up"
	TypeEmergency    AppointmentType = "emergency"
	TypeTelemedicine AppointmentType = "telemedicine"
)

func (t AppointmentType) Valid() bool {
	switch t {
	case TypeConsultation, TypeFollowUp, TypeEmergency, TypeTelemedicine:
		return true
	}
	return false
}

// TemplateStatus is the lifecycle of a published window.
type TemplateStatus string

const (
	TemplateActive    TemplateStatus = "active"
	TemplateCancelled TemplateStatus = "cancelled"
)

// SlotStatus is the booking state machine's vocabulary. Booked is only
// ever written by the booking manager; cancelled is terminal.
type SlotStatus string

const (
	SlotAvailable   SlotStatus = "available"
	SlotBooked      SlotStatus = "booked"
	SlotCancelled   SlotStatus = "cancelled"
	SlotBlocked     SlotStatus = "blocked"
	SlotMaintenance SlotStatus = "maintenance"
)

func (s SlotStatus) Valid() bool {
	switch s {
	case SlotAvailable, SlotBooked, SlotCancelled, SlotBlocked, SlotMaintenance:
		return true
	}
	return false
}

// Patchable reports whether a provider may set this status directly.
func (s SlotStatus) Patchable() bool {
	switch s {
	case SlotAvailable, SlotBlocked, SlotMaintenance, SlotCancelled:
		return true
	}
	return false
}

// LocationType says where the visit happens.
type LocationType string

const (
	LocationClinic       LocationType = "clinic"
	LocationTelemedicine LocationType = "telemedicine"
	LocationHomeVisit    LocationType = "home_visit"
)

func (l LocationType) Valid() bool {
	switch l {
	case LocationClinic, LocationTelemedicine, LocationHomeVisit:
		return true
	}
	return false
}

// Location places a template's visits.
type Location struct {
	Type    LocationType `json:"type"`
	Address string       `json:"address,omitempty"`
	Room    string       `json:"room,omitempty"`
}

// Pricing carries the fee schedule. Fees are integer cents.
type Pricing struct {
	BaseFeeCents      int64  `json:"base_fee_cents"`
	InsuranceAccepted bool   `json:"insurance_accepted"`
	Currency          string `json:"currency"`
}

// Template is one published working window on one local date. Recurring
// creates materialize a template per occurrence date.
type Template struct {
	ID              uuid.UUID          `json:"id"`
	ProviderID      uuid.UUID          `json:"provider_id"`
	LocalDate       schedule.DateOnly  `json:"date"`
	StartTime       schedule.WallClock `json:"start_time"`
	EndTime         schedule.WallClock `json:"end_time"`
	Timezone        string             `json:"timezone"`
	SlotMinutes     int                `json:"slot_duration_minutes"`
	BreakMinutes    int                `json:"break_duration_minutes"`
	MaxPerSlot      int                `json:"max_appointments_per_slot"`
	Recurring       bool               `json:"is_recurring"`
	Pattern         schedule.Pattern   `json:"recurrence_pattern,omitempty"`
	RecurrenceEnd   *schedule.DateOnly `json:"recurrence_end_date,omitempty"`
	AppointmentType AppointmentType    `json:"appointment_type"`
	Location        Location           `json:"location"`
	Pricing         *Pricing           `json:"pricing,omitempty"`
	SpecialReqs     []string           `json:"special_requirements,omitempty"`
	Notes           string             `json:"notes,omitempty"`
	Status          TemplateStatus     `json:"status"`
	Occupancy       int                `json:"occupancy"`
	SlotCount       int                `json:"slot_count"`
	CreatedAt       time.Time          `json:"created_at"`
	UpdatedAt       time.Time          `json:"updated_at"`
}

// Window returns the template's local working window in minutes of day.
func (t *Template) Window() (startMin, endMin int) {
	return t.StartTime.Minutes(), t.EndTime.Minutes()
}

// Slot is the bookable unit. Instants are UTC; rendering localizes.
type Slot struct {
	ID                 uuid.UUID       `json:"id"`
	TemplateID         uuid.UUID       `json:"availability_id"`
	ProviderID         uuid.UUID       `json:"provider_id"`
	StartAt            time.Time       `json:"start_at"`
	EndAt              time.Time       `json:"end_at"`
	Status             SlotStatus      `json:"status"`
	PatientID          *uuid.UUID      `json:"patient_id,omitempty"`
	AppointmentType    AppointmentType `json:"appointment_type"`
	BookingReference   string          `json:"booking_reference"`
	Notes              string          `json:"notes,omitempty"`
	Pricing            *Pricing        `json:"pricing,omitempty"`
	BookedAt           *time.Time      `json:"booked_at,omitempty"`
	CancelledAt        *time.Time      `json:"cancelled_at,omitempty"`
	CancellationReason string          `json:"cancellation_reason,omitempty"`
	CreatedAt          time.Time       `json:"created_at"`
	UpdatedAt          time.Time       `json:"updated_at"`
}

// CreateRequest is the availability publish body. The provider id comes
// from the bearer token, never from the body.
type CreateRequest struct {
	Date              string          `json:"date"`
	StartTime         string          `json:"start_time"`
	EndTime           string          `json:"end_time"`
	Timezone          string          `json:"timezone"`
	SlotMinutes       int             `json:"slot_duration_minutes"`
	BreakMinutes      int             `json:"break_duration_minutes"`
	Recurring         bool            `json:"is_recurring"`
	Pattern           string          `json:"recurrence_pattern"`
	RecurrenceEndDate string          `json:"recurrence_end_date"`
	MaxPerSlot        int             `json:"max_appointments_per_slot"`
	AppointmentType   AppointmentType `json:"appointment_type"`
	Location          Location        `json:"location"`
	Pricing           *Pricing        `json:"pricing,omitempty"`
	SpecialReqs       []string        `json:"special_requirements,omitempty"`
	Notes             string          `json:"notes,omitempty"`

	date    schedule.DateOnly
	start   schedule.WallClock
	end     schedule.WallClock
	pattern schedule.Pattern
	recEnd  schedule.DateOnly
	loc     *time.Location
}

// maxRecurrenceDays bounds one create to at most a leap year of
// occurrences.
const maxRecurrenceDays = 366

// Normalize trims free text and applies defaults.
func (r *CreateRequest) Normalize() {
	r.Date = strings.TrimSpace(r.Date)
	r.StartTime = strings.TrimSpace(r.StartTime)
	r.EndTime = strings.TrimSpace(r.EndTime)
	r.Timezone = strings.TrimSpace(r.Timezone)
	if r.Timezone == "" {
		r.Timezone = "UTC"
	}
	if r.MaxPerSlot == 0 {
		r.MaxPerSlot = 1
	}
	if !r.Recurring {
		r.Pattern = ""
		r.RecurrenceEndDate = ""
	}
	if r.Location.Type == "" {
		r.Location.Type = LocationClinic
	}
	r.Location.Address = strings.TrimSpace(r.Location.Address)
	r.Location.Room = strings.TrimSpace(r.Location.Room)
	if r.Pricing != nil {
		r.Pricing.Currency = strings.ToUpper(strings.TrimSpace(r.Pricing.Currency))
		if r.Pricing.Currency == "" {
			r.Pricing.Currency = "USD"
		}
	}
	reqs := r.SpecialReqs[:0]
	for _, s := range r.SpecialReqs {
		if s = strings.TrimSpace(s); s != "" {
			reqs = append(reqs, s)
		}
	}
	r.SpecialReqs = reqs
	r.Notes = strings.TrimSpace(r.Notes)
}

// Validate collects every violation into one field-error map and compiles
// the parsed forms the manager materializes from. now anchors the
// not-in-the-past check, evaluated in the template's timezone.
func (r *CreateRequest) Validate(now time.Time) error {
	fields := map[string][]string{}
	add := func(field, msg string) { fields[field] = append(fields[field], msg) }

	loc, err := time.LoadLocation(r.Timezone)
	if err != nil {
		add("timezone", "must be a valid IANA timezone")
	} else {
		r.loc = loc
	}

	date, err := schedule.ParseDate(r.Date)
	switch {
	case err != nil:
		add("date", "must be a valid YYYY-MM-DD date")
	case r.loc != nil && date.Before(schedule.DateOf(now.In(r.loc))):
		add("date", "cannot be in the past")
	default:
		r.date = date
	}

	start, startErr := schedule.ParseWallClock(r.StartTime)
	if startErr != nil {
		add("start_time", "must be a 24h HH:MM time")
	} else {
		r.start = start
	}
	end, endErr := schedule.ParseWallClock(r.EndTime)
	if endErr != nil {
		add("end_time", "must be a 24h HH:MM time")
	} else {
		r.end = end
	}
	if startErr == nil && endErr == nil && !start.Before(end) {
		add("end_time", "must be after start_time")
	}

	if r.SlotMinutes < schedule.MinSlotMinutes || r.SlotMinutes > schedule.MaxSlotMinutes {
		add("slot_duration_minutes", "must be between 15 and 480")
	}
	if r.BreakMinutes < schedule.MinBreakMinutes || r.BreakMinutes > schedule.MaxBreakMinutes {
		add("break_duration_minutes", "must be between 0 and 120")
	}
	if startErr == nil && endErr == nil && start.Before(end) &&
		r.SlotMinutes >= schedule.MinSlotMinutes && r.SlotMinutes <= schedule.MaxSlotMinutes &&
		r.BreakMinutes >= schedule.MinBreakMinutes && r.BreakMinutes <= schedule.MaxBreakMinutes {
		if slots, err := schedule.EnumerateSlots(start, end, r.SlotMinutes, r.BreakMinutes); err == nil && len(slots) == 0 {
			add("slot_duration_minutes", "window is too short for a single appointment")
		}
	}

	switch {
	case r.MaxPerSlot < 1 || r.MaxPerSlot > 10:
		add("max_appointments_per_slot", "must be between 1 and 10")
	case r.MaxPerSlot > 1:
		add("max_appointments_per_slot", "only one appointment per slot is supported")
	}

	if !r.AppointmentType.Valid() {
		add("appointment_type", "must be one of consultation, follow_up, emergency, telemedicine")
	}
	if !r.Location.Type.Valid() {
		add("location.type", "must be one of clinic, telemedicine, home_visit")
	}
	if r.Pricing != nil {
		if r.Pricing.BaseFeeCents < 0 {
			add("pricing.base_fee_cents", "must be zero or positive")
		}
		if len(r.Pricing.Currency) != 3 {
			add("pricing.currency", "must be a 3-letter code")
		}
	}

	if r.Recurring {
		pattern, err := schedule.ParsePattern(r.Pattern)
		if err != nil || pattern == schedule.PatternNone {
			add("recurrence_pattern", "must be one of daily, weekly, monthly")
		} else {
			r.pattern = pattern
		}
		recEnd, err := schedule.ParseDate(r.RecurrenceEndDate)
		switch {
		case err != nil:
			add("recurrence_end_date", "must be a valid YYYY-MM-DD date")
		case !r.date.IsZero() && recEnd.Before(r.date):
			add("recurrence_end_date", "must not be before date")
		case !r.date.IsZero() && r.date.AddDays(maxRecurrenceDays).Before(recEnd):
			add("recurrence_end_date", "recurrence window cannot exceed 366 days")
		default:
			r.recEnd = recEnd
		}
	} else {
		r.pattern = schedule.PatternNone
	}

	if len(fields) > 0 {
		return apperror.Validation(fields)
	}
	return nil
}

// SlotPatch is the provider-side slot update body. Nil fields stay
// unchanged.
type SlotPatch struct {
	Status  *SlotStatus `json:"status,omitempty"`
	Notes   *string     `json:"notes,omitempty"`
	Pricing *Pricing    `json:"pricing,omitempty"`
}

// Validate rejects empty patches and unreachable statuses.
func (p *SlotPatch) Validate() error {
	fields := map[string][]string{}
	if p.Status == nil && p.Notes == nil && p.Pricing == nil {
		return apperror.BadInput("no changes requested")
	}
	if p.Status != nil && !p.Status.Patchable() {
		fields["status"] = append(fields["status"],
			"must be one of available, blocked, maintenance, cancelled")
	}
	if p.Pricing != nil {
		if p.Pricing.BaseFeeCents < 0 {
			fields["pricing.base_fee_cents"] = append(fields["pricing.base_fee_cents"], "must be zero or positive")
		}
		p.Pricing.Currency = strings.ToUpper(strings.TrimSpace(p.Pricing.Currency))
		if p.Pricing.Currency == "" {
			p.Pricing.Currency = "USD"
		}
		if len(p.Pricing.Currency) != 3 {
			fields["pricing.currency"] = append(fields["pricing.currency"], "must be a 3-letter code")
		}
	}
	if len(fields) > 0 {
		return apperror.Validation(fields)
	}
	return nil
}

// CreateResult summarizes one availability publish.
type CreateResult struct {
	AvailabilityIDs []uuid.UUID `json:"availability_ids"`
	SlotsCreated    int         `json:"slots_created"`
	DateRange       DateRange   `json:"date_range"`
	TotalOpen       int         `json:"total_appointments_available"`
}

// DateRange is an inclusive local-date interval.
type DateRange struct {
	Start string `json:"start_date"`
	End   string `json:"end_date"`
}

// DeleteResult reports what a delete removed.
type DeleteResult struct {
	SlotsRemoved    int  `json:"slots_removed"`
	TemplateRemoved bool `json:"template_removed"`
}
