// Package booking owns the slot state machine: the atomic reserve that
// turns an available slot into an appointment, patient cancellation, and
// the appointment history view. Booked is only ever written here.
package booking

import (
	"time"

	"github.com/google/uuid"

	"github.com/carebook/carebook-backend/internal/availability"
	"github.com/carebook/carebook-backend/internal/schedule"
)

// Appointment is the patient-facing projection of a slot. Status and type
// share the availability vocabulary; instants are UTC.
type Appointment struct {
	ID                 uuid.UUID                    `json:"id"`
	AvailabilityID     uuid.UUID                    `json:"availability_id"`
	ProviderID         uuid.UUID                    `json:"provider_id"`
	PatientID          *uuid.UUID                   `json:"patient_id,omitempty"`
	StartAt            time.Time                    `json:"start_at"`
	EndAt              time.Time                    `json:"end_at"`
	Status             availability.SlotStatus      `json:"status"`
	AppointmentType    availability.AppointmentType `json:"appointment_type"`
	BookingReference   string                       `json:"booking_reference"`
	Notes              string                       `json:"notes,omitempty"`
	SpecialReqs        []string                     `json:"special_requirements,omitempty"`
	Pricing            *availability.Pricing        `json:"pricing,omitempty"`
	BookedAt           *time.Time                   `json:"booked_at,omitempty"`
	CancelledAt        *time.Time                   `json:"cancelled_at,omitempty"`
	CancellationReason string                       `json:"cancellation_reason,omitempty"`
	CreatedAt          time.Time                    `json:"created_at"`
	UpdatedAt          time.Time                    `json:"updated_at"`
}

// BookRequest is the booking body. The patient id always comes from the
// bearer token; a body patient_id is accepted only when it matches.
type BookRequest struct {
	SlotID          string                       `json:"slot_id"`
	PatientID       string                       `json:"patient_id,omitempty"`
	AppointmentType availability.AppointmentType `json:"appointment_type,omitempty"`
	Notes           string                       `json:"notes,omitempty"`
	SpecialReqs     []string                     `json:"special_requirements,omitempty"`
}

// CancelRequest is the optional cancellation body.
type CancelRequest struct {
	Reason string `json:"reason,omitempty"`
}

// ReserveOptions carry the patient's booking extras onto the slot.
type ReserveOptions struct {
	AppointmentType availability.AppointmentType
	Notes           string
	SpecialReqs     []string
}

// Filters narrow an appointment history read. Zero dates leave that bound
// open; the range is inclusive in UTC days.
type Filters struct {
	From   schedule.DateOnly
	To     schedule.DateOnly
	Status availability.SlotStatus
	Type   availability.AppointmentType
}

// ListQuery is the raw appointment history query, validated by the
// service.
type ListQuery struct {
	StartDate string
	EndDate   string
	Status    string
	Type      string
	Page      string
	Limit     string
}

// Page is one slice of a patient's appointment history, newest first.
type Page struct {
	Appointments []*Appointment `json:"appointments"`
	Total        int            `json:"total"`
	Number       int            `json:"page"`
	Limit        int            `json:"limit"`
	TotalPages   int            `json:"total_pages"`
}
