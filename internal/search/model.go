// Package search is the public read model over published availability:
// it joins the provider directory with materialized slots and filters by
// time, specialization, location, price, and insurance. It never writes.
package search

import (
	"time"

	"github.com/google/uuid"

	"github.com/carebook/carebook-backend/internal/availability"
	"github.com/carebook/carebook-backend/internal/schedule"
)

// Params are the raw query-string inputs, one field per parameter.
// Unset fields are wildcards.
type Params struct {
	Date           string
	StartDate      string
	EndDate        string
	Type           string
	Specialization string
	Location       string
	Insurance      string
	MaxPrice       string
	AvailableOnly  string
	Timezone       string
}

// Criteria is the parsed query. Zero date bounds mean unbounded;
// a nil Display means each slot renders in its template's timezone.
type Criteria struct {
	From           schedule.DateOnly
	To             schedule.DateOnly
	Type           availability.AppointmentType
	Insurance      *bool
	MaxPriceCents  *int64
	Specialization string
	Location       string
	AvailableOnly  bool
	Display        *time.Location
}

// Window is one candidate availability template, projected down to the
// fields the search filters and renders with.
type Window struct {
	ID         uuid.UUID
	ProviderID uuid.UUID
	Timezone   string
	Type       availability.AppointmentType
	Pricing    *availability.Pricing
}

// SlotRow is a raw slot row before localization.
type SlotRow struct {
	ID         uuid.UUID
	TemplateID uuid.UUID
	ProviderID uuid.UUID
	StartAt    time.Time
	EndAt      time.Time
	Status     availability.SlotStatus
	Type       availability.AppointmentType
	Pricing    *availability.Pricing
}

// SlotView is the public projection of one slot. Instants stay UTC; the
// local fields render in the display timezone, or the template's own
// when the caller gave none. Patient attribution never appears here.
type SlotView struct {
	ID              uuid.UUID                    `json:"id"`
	AvailabilityID  uuid.UUID                    `json:"availability_id"`
	StartAt         time.Time                    `json:"start_at"`
	EndAt           time.Time                    `json:"end_at"`
	LocalDate       string                       `json:"local_date"`
	LocalStart      string                       `json:"local_start"`
	LocalEnd        string                       `json:"local_end"`
	Timezone        string                       `json:"timezone"`
	Status          availability.SlotStatus      `json:"status"`
	AppointmentType availability.AppointmentType `json:"appointment_type"`
	Pricing         *availability.Pricing        `json:"pricing,omitempty"`
}

// ProviderSummary is what a search result shows about a clinician.
type ProviderSummary struct {
	ID              uuid.UUID `json:"id"`
	Name            string    `json:"name"`
	Specialization  string    `json:"specialization"`
	YearsExperience int       `json:"years_of_experience"`
	ClinicAddress   string    `json:"clinic_address"`
}

// ProviderAvailability groups one provider's matching slots.
type ProviderAvailability struct {
	Provider ProviderSummary `json:"provider"`
	Slots    []SlotView      `json:"slots"`
}

// Results is the search response. An empty Providers list is a normal
// outcome, not an error.
type Results struct {
	Providers      []*ProviderAvailability `json:"providers"`
	TotalProviders int                     `json:"total_providers"`
	TotalSlots     int                     `json:"total_slots"`
}
