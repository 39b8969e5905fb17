package availability

import (
	"context"
	"errors"
	"fmt"
	"sort"
	"time"

	"github.com/google/uuid"
	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"

	"github.com/carebook/carebook-backend/internal/apperror"
	"github.com/carebook/carebook-backend/internal/principal"
	"github.com/carebook/carebook-backend/internal/provider"
	"github.com/carebook/carebook-backend/internal/schedule"
	"github.com/carebook/carebook-backend/pkg/logging"
)

var availabilityTracer = otel.Tracer("carebook/availability")

// ProviderLookup resolves the publishing clinician. Satisfied by
// *provider.Store.
type ProviderLookup interface {
	FindByID(ctx context.Context, id uuid.UUID) (*principal.Account, error)
}

// Service publishes availability and maintains the slots it creates.
type Service struct {
	store     *Store
	providers ProviderLookup
	logger    *logging.Logger
	now       func() time.Time
}

// NewService wires the availability manager.
func NewService(store *Store, providers ProviderLookup, logger *logging.Logger) *Service {
	if logger == nil {
		logger = logging.Default()
	}
	return &Service{
		store:     store,
		providers: providers,
		logger:    logger,
		now:       time.Now,
	}
}

// WithClock overrides the clock, for tests.
func (s *Service) WithClock(now func() time.Time) *Service {
	s.now = now
	return s
}

// Create validates a publish request, expands recurrence, rejects windows
// that overlap an existing template on any target date, and persists every
// template with its materialized slots in one transaction.
func (s *Service) Create(ctx context.Context, providerID uuid.UUID, req *CreateRequest) (*CreateResult, error) {
	ctx, span := availabilityTracer.Start(ctx, "availability.publish")
	defer span.End()
	span.SetAttributes(attribute.String("carebook.provider_id", providerID.String()))

	acct, err := s.providers.FindByID(ctx, providerID)
	if err != nil {
		if errors.Is(err, provider.ErrNotFound) {
			return nil, apperror.NotFound("provider")
		}
		return nil, err
	}
	if !acct.Active {
		return nil, apperror.NotFound("provider")
	}

	req.Normalize()
	if err := req.Validate(s.now()); err != nil {
		return nil, err
	}

	dates := []schedule.DateOnly{req.date}
	if req.Recurring {
		dates, err = schedule.ExpandRecurrence(req.date, req.recEnd, req.pattern)
		if err != nil {
			return nil, apperror.BadInput(err.Error())
		}
	}

	for _, d := range dates {
		existing, err := s.store.TemplatesOnDate(ctx, providerID, d)
		if err != nil {
			return nil, err
		}
		for i := range existing {
			if overlaps(req.start, req.end, existing[i].StartTime, existing[i].EndTime) {
				return nil, apperror.Conflictf(
					"availability overlaps an existing window on %s (%s-%s)",
					d, existing[i].StartTime, existing[i].EndTime,
				)
			}
		}
	}

	slotTimes, err := schedule.EnumerateSlots(req.start, req.end, req.SlotMinutes, req.BreakMinutes)
	if err != nil {
		return nil, apperror.BadInput(err.Error())
	}

	templates := make([]*Template, 0, len(dates))
	slotGroups := make([][]*Slot, 0, len(dates))
	total := 0
	for _, d := range dates {
		t := &Template{
			ID:              uuid.New(),
			ProviderID:      providerID,
			LocalDate:       d,
			StartTime:       req.start,
			EndTime:         req.end,
			Timezone:        req.Timezone,
			SlotMinutes:     req.SlotMinutes,
			BreakMinutes:    req.BreakMinutes,
			MaxPerSlot:      req.MaxPerSlot,
			Recurring:       req.Recurring,
			Pattern:         req.pattern,
			AppointmentType: req.AppointmentType,
			Location:        req.Location,
			Notes:           req.Notes,
			Status:          TemplateActive,
			SlotCount:       len(slotTimes),
		}
		if req.Recurring {
			end := req.recEnd
			t.RecurrenceEnd = &end
		}
		if req.Pricing != nil {
			p := *req.Pricing
			t.Pricing = &p
		}
		if len(req.SpecialReqs) > 0 {
			t.SpecialReqs = append([]string{}, req.SpecialReqs...)
		}

		group := make([]*Slot, 0, len(slotTimes))
		for _, st := range slotTimes {
			startAt, err := schedule.ResolveLocal(d, st.Start, req.loc)
			if err != nil {
				return nil, apperror.Internal(fmt.Errorf("availability: resolve %s %s: %w", d, st.Start, err))
			}
			group = append(group, &Slot{
				ID:               uuid.New(),
				TemplateID:       t.ID,
				ProviderID:       providerID,
				StartAt:          startAt,
				EndAt:            startAt.Add(time.Duration(req.SlotMinutes) * time.Minute),
				Status:           SlotAvailable,
				AppointmentType:  req.AppointmentType,
				BookingReference: schedule.NewBookingRef(),
			})
		}
		templates = append(templates, t)
		slotGroups = append(slotGroups, group)
		total += len(group)
	}

	if err := s.store.CreateTemplatesWithSlots(ctx, templates, slotGroups); err != nil {
		span.RecordError(err)
		return nil, err
	}
	span.SetAttributes(
		attribute.Int("carebook.templates", len(templates)),
		attribute.Int("carebook.slots", total),
		attribute.Bool("carebook.recurring", req.Recurring),
	)

	result := &CreateResult{
		AvailabilityIDs: make([]uuid.UUID, 0, len(templates)),
		SlotsCreated:    total,
		DateRange: DateRange{
			Start: dates[0].String(),
			End:   dates[len(dates)-1].String(),
		},
		TotalOpen: total,
	}
	for _, t := range templates {
		result.AvailabilityIDs = append(result.AvailabilityIDs, t.ID)
	}

	s.logger.Info("availability published",
		"provider_id", providerID,
		"templates", len(templates),
		"slots", total,
		"recurring", req.Recurring,
	)
	return result, nil
}

// overlaps is the half-open wall-clock conflict test. Adjacent windows do
// not conflict.
func overlaps(aStart, aEnd, bStart, bEnd schedule.WallClock) bool {
	return aStart.Minutes() < bEnd.Minutes() && bStart.Minutes() < aEnd.Minutes()
}

// CalendarQuery filters the grouped provider view. Raw strings come off
// the query, validated here.
type CalendarQuery struct {
	StartDate string
	EndDate   string
	Status    string
	Type      string
	Timezone  string
}

// SlotView is one calendar entry with local renderings alongside the UTC
// instants.
type SlotView struct {
	ID               uuid.UUID       `json:"id"`
	AvailabilityID   uuid.UUID       `json:"availability_id"`
	StartAt          time.Time       `json:"start_at"`
	EndAt            time.Time       `json:"end_at"`
	LocalStart       string          `json:"start_time"`
	LocalEnd         string          `json:"end_time"`
	Status           SlotStatus      `json:"status"`
	AppointmentType  AppointmentType `json:"appointment_type"`
	BookingReference string          `json:"booking_reference"`
	PatientID        *uuid.UUID      `json:"patient_id,omitempty"`
	Notes            string          `json:"notes,omitempty"`
	Pricing          *Pricing        `json:"pricing,omitempty"`
}

// CalendarDay groups one local date with its counters.
type CalendarDay struct {
	Date      string     `json:"date"`
	Total     int        `json:"total"`
	Available int        `json:"available"`
	Booked    int        `json:"booked"`
	Slots     []SlotView `json:"slots"`
}

// CalendarSummary totals the whole view.
type CalendarSummary struct {
	Total     int `json:"total"`
	Available int `json:"available"`
	Booked    int `json:"booked"`
}

// Calendar is a provider's slots grouped by local date.
type Calendar struct {
	ProviderID uuid.UUID       `json:"provider_id"`
	StartDate  string          `json:"start_date"`
	EndDate    string          `json:"end_date"`
	Timezone   string          `json:"timezone,omitempty"`
	Days       []CalendarDay   `json:"days"`
	Summary    CalendarSummary `json:"summary"`
}

// maxCalendarDays bounds one calendar read.
const maxCalendarDays = 366

// Calendar returns the provider's slots between two local dates, grouped
// by date. Dates default to today and today+30. With a display timezone
// every slot renders and groups in it; otherwise each slot uses its own
// template's timezone.
func (s *Service) Calendar(ctx context.Context, providerID uuid.UUID, q CalendarQuery) (*Calendar, error) {
	fields := map[string][]string{}
	add := func(field, msg string) { fields[field] = append(fields[field], msg) }

	displayLoc := time.UTC
	displayTZ := ""
	if q.Timezone != "" {
		loc, err := time.LoadLocation(q.Timezone)
		if err != nil {
			add("timezone", "must be a valid IANA timezone")
		} else {
			displayLoc = loc
			displayTZ = q.Timezone
		}
	}

	start := schedule.DateOf(s.now().In(displayLoc))
	if q.StartDate != "" {
		d, err := schedule.ParseDate(q.StartDate)
		if err != nil {
			add("start_date", "must be a valid YYYY-MM-DD date")
		} else {
			start = d
		}
	}
	end := start.AddDays(30)
	if q.EndDate != "" {
		d, err := schedule.ParseDate(q.EndDate)
		if err != nil {
			add("end_date", "must be a valid YYYY-MM-DD date")
		} else {
			end = d
		}
	}
	if len(fields) == 0 {
		if end.Before(start) {
			add("end_date", "must not be before start_date")
		} else if start.AddDays(maxCalendarDays).Before(end) {
			add("end_date", "range cannot exceed 366 days")
		}
	}

	var filters SlotFilters
	if q.Status != "" {
		st := SlotStatus(q.Status)
		if !st.Valid() {
			add("status", "must be one of available, booked, cancelled, blocked, maintenance")
		} else {
			filters.Status = st
		}
	}
	if q.Type != "" {
		at := AppointmentType(q.Type)
		if !at.Valid() {
			add("appointment_type", "must be one of consultation, follow_up, emergency, telemedicine")
		} else {
			filters.AppointmentType = at
		}
	}
	if len(fields) > 0 {
		return nil, apperror.Validation(fields)
	}

	// The instant window covers the full local dates in the grouping zone;
	// slots whose local date lands outside the range after per-template
	// localization are dropped.
	from := time.Date(start.Year, start.Month, start.Day, 0, 0, 0, 0, displayLoc)
	until := end.AddDays(1)
	to := time.Date(until.Year, until.Month, until.Day, 0, 0, 0, 0, displayLoc)

	slots, err := s.store.SlotsByProviderBetween(ctx, providerID, from, to, filters)
	if err != nil {
		return nil, err
	}

	cal := &Calendar{
		ProviderID: providerID,
		StartDate:  start.String(),
		EndDate:    end.String(),
		Timezone:   displayTZ,
		Days:       []CalendarDay{},
	}
	byDate := map[string]int{}
	for i := range slots {
		loc := displayLoc
		if displayTZ == "" {
			if l, err := time.LoadLocation(slots[i].Timezone); err == nil {
				loc = l
			}
		}
		localStart := slots[i].StartAt.In(loc)
		date := schedule.DateOf(localStart)
		if date.Before(start) || end.Before(date) {
			continue
		}
		key := date.String()
		idx, ok := byDate[key]
		if !ok {
			idx = len(cal.Days)
			byDate[key] = idx
			cal.Days = append(cal.Days, CalendarDay{Date: key})
		}
		day := &cal.Days[idx]
		day.Slots = append(day.Slots, slotView(&slots[i].Slot, loc))
		day.Total++
		cal.Summary.Total++
		switch slots[i].Status {
		case SlotAvailable:
			day.Available++
			cal.Summary.Available++
		case SlotBooked:
			day.Booked++
			cal.Summary.Booked++
		}
	}
	sort.Slice(cal.Days, func(i, j int) bool { return cal.Days[i].Date < cal.Days[j].Date })
	return cal, nil
}

func slotView(sl *Slot, loc *time.Location) SlotView {
	localStart := sl.StartAt.In(loc)
	localEnd := sl.EndAt.In(loc)
	return SlotView{
		ID:               sl.ID,
		AvailabilityID:   sl.TemplateID,
		StartAt:          sl.StartAt,
		EndAt:            sl.EndAt,
		LocalStart:       wallOf(localStart).String(),
		LocalEnd:         wallOf(localEnd).String(),
		Status:           sl.Status,
		AppointmentType:  sl.AppointmentType,
		BookingReference: sl.BookingReference,
		PatientID:        sl.PatientID,
		Notes:            sl.Notes,
		Pricing:          sl.Pricing,
	}
}

func wallOf(t time.Time) schedule.WallClock {
	return schedule.WallClock{Hour: t.Hour(), Minute: t.Minute()}
}

// UpdateSlot patches a slot's status, notes, or pricing under a status
// compare-and-set. Slots owned by other providers stay invisible; booked
// and cancelled slots cannot be patched here.
func (s *Service) UpdateSlot(ctx context.Context, providerID, slotID uuid.UUID, patch *SlotPatch) (*Slot, error) {
	if err := patch.Validate(); err != nil {
		return nil, err
	}
	sl, err := s.store.SlotByID(ctx, slotID)
	if err != nil {
		if errors.Is(err, ErrNotFound) {
			return nil, apperror.NotFound("slot")
		}
		return nil, err
	}
	if sl.ProviderID != providerID {
		return nil, apperror.NotFound("slot")
	}
	switch sl.Status {
	case SlotBooked:
		return nil, apperror.BadInput("cannot modify booked slot")
	case SlotCancelled:
		return nil, apperror.BadInput("cannot modify cancelled slot")
	}

	status := sl.Status
	if patch.Status != nil {
		status = *patch.Status
	}
	notes := sl.Notes
	if patch.Notes != nil {
		notes = *patch.Notes
	}
	pricing := sl.Pricing
	if patch.Pricing != nil {
		p := *patch.Pricing
		pricing = &p
	}

	updatedAt, ok, err := s.store.UpdateSlotGuarded(ctx, slotID, []SlotStatus{sl.Status}, status, notes, pricing)
	if err != nil {
		return nil, err
	}
	if !ok {
		return nil, apperror.Conflict("slot was modified concurrently")
	}

	sl.Status = status
	sl.Notes = notes
	sl.Pricing = pricing
	sl.UpdatedAt = updatedAt
	s.logger.Info("slot updated",
		"provider_id", providerID,
		"slot_id", slotID,
		"status", string(status),
	)
	return sl, nil
}

// DeleteOptions steer a slot delete.
type DeleteOptions struct {
	Recurring bool
	Reason    string
}

// DeleteSlot removes one slot, or the whole recurring template when asked
// and the template is recurring. Booked slots block both paths.
func (s *Service) DeleteSlot(ctx context.Context, providerID, slotID uuid.UUID, opts DeleteOptions) (*DeleteResult, error) {
	sl, err := s.store.SlotByID(ctx, slotID)
	if err != nil {
		if errors.Is(err, ErrNotFound) {
			return nil, apperror.NotFound("slot")
		}
		return nil, err
	}
	if sl.ProviderID != providerID {
		return nil, apperror.NotFound("slot")
	}
	if sl.Status == SlotBooked {
		return nil, apperror.BadInput("cannot delete booked slot")
	}

	if opts.Recurring {
		tpl, err := s.store.TemplateByID(ctx, sl.TemplateID)
		if err != nil {
			if errors.Is(err, ErrNotFound) {
				return nil, apperror.NotFound("availability")
			}
			return nil, err
		}
		if tpl.Recurring {
			removed, err := s.store.DeleteTemplateCascade(ctx, tpl.ID)
			if err != nil {
				switch {
				case errors.Is(err, ErrTemplateBusy):
					return nil, apperror.Conflict("availability window has booked appointments")
				case errors.Is(err, ErrNotFound):
					return nil, apperror.NotFound("availability")
				}
				return nil, err
			}
			s.logger.Info("availability deleted",
				"provider_id", providerID,
				"availability_id", tpl.ID,
				"slots_removed", removed,
				"reason", opts.Reason,
			)
			return &DeleteResult{SlotsRemoved: removed, TemplateRemoved: true}, nil
		}
	}

	ok, err := s.store.DeleteSlot(ctx, slotID)
	if err != nil {
		return nil, err
	}
	if !ok {
		return nil, apperror.Conflict("slot is no longer deletable")
	}
	s.logger.Info("slot deleted",
		"provider_id", providerID,
		"slot_id", slotID,
		"reason", opts.Reason,
	)
	return &DeleteResult{SlotsRemoved: 1}, nil
}
