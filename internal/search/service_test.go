package search

import (
	"context"
	"testing"
	"time"

	"github.com/google/uuid"

	"github.com/carebook/carebook-backend/internal/apperror"
	"github.com/carebook/carebook-backend/internal/availability"
	"github.com/carebook/carebook-backend/internal/provider"
	"github.com/carebook/carebook-backend/pkg/logging"
)

// stubCatalog serves canned windows and slots, recording what the
// service asked for. Slots are filtered to the requested templates the
// way the real query's ANY clause would.
type stubCatalog struct {
	windows []Window
	slots   []SlotRow

	windowCalls  int
	gotCriteria  *Criteria
	gotTemplates []uuid.UUID
	gotOpenOnly  bool
	gotNotBefore time.Time
}

func (c *stubCatalog) Windows(_ context.Context, crit Criteria) ([]Window, error) {
	c.windowCalls++
	c.gotCriteria = &crit
	return c.windows, nil
}

func (c *stubCatalog) SlotsByTemplates(_ context.Context, templateIDs []uuid.UUID, availableOnly bool, notBefore time.Time) ([]SlotRow, error) {
	c.gotTemplates = templateIDs
	c.gotOpenOnly = availableOnly
	c.gotNotBefore = notBefore
	allowed := map[uuid.UUID]bool{}
	for _, id := range templateIDs {
		allowed[id] = true
	}
	var out []SlotRow
	for _, row := range c.slots {
		if allowed[row.TemplateID] {
			out = append(out, row)
		}
	}
	return out, nil
}

type providerIndex struct {
	providers []provider.Provider
	got       []uuid.UUID
}

func (d *providerIndex) ByIDs(_ context.Context, ids []uuid.UUID) ([]provider.Provider, error) {
	d.got = ids
	want := map[uuid.UUID]bool{}
	for _, id := range ids {
		want[id] = true
	}
	var out []provider.Provider
	for _, p := range d.providers {
		if want[p.ID] {
			out = append(out, p)
		}
	}
	return out, nil
}

func cardiologist() provider.Provider {
	return provider.Provider{
		ID:              uuid.New(),
		FirstName:       "Dana",
		LastName:        "Alvarez",
		Specialization:  "Cardiology",
		YearsExperience: 12,
		ClinicAddress: provider.ClinicAddress{
			Street: "500 Park Ave", City: "New York", State: "NY", Zip: "10022",
		},
		Active: true,
	}
}

func dermatologist() provider.Provider {
	return provider.Provider{
		ID:              uuid.New(),
		FirstName:       "Robin",
		LastName:        "Zimmer",
		Specialization:  "Dermatology",
		YearsExperience: 8,
		ClinicAddress: provider.ClinicAddress{
			Street: "22 Beacon St", City: "Boston", State: "MA", Zip: "02108",
		},
		Active: true,
	}
}

func windowFor(p *provider.Provider, tz string) Window {
	return Window{
		ID:         uuid.New(),
		ProviderID: p.ID,
		Timezone:   tz,
		Type:       availability.TypeConsultation,
		Pricing: &availability.Pricing{
			BaseFeeCents: 15000, InsuranceAccepted: true, Currency: "USD",
		},
	}
}

func slotFor(w Window, start time.Time) SlotRow {
	return SlotRow{
		ID:         uuid.New(),
		TemplateID: w.ID,
		ProviderID: w.ProviderID,
		StartAt:    start,
		EndAt:      start.Add(30 * time.Minute),
		Status:     availability.SlotAvailable,
		Type:       w.Type,
	}
}

func newSearchService(catalog *stubCatalog, providers *providerIndex) *Service {
	return NewService(catalog, providers, logging.Default()).
		WithClock(func() time.Time { return testNow })
}

func TestSearchFiltersBySpecializationAndLocation(t *testing.T) {
	cardio := cardiologist()
	derm := dermatologist()
	cardioWin := windowFor(&cardio, "America/New_York")
	dermWin := windowFor(&derm, "America/New_York")
	start := time.Date(2030, time.April, 1, 14, 0, 0, 0, time.UTC)

	catalog := &stubCatalog{
		windows: []Window{cardioWin, dermWin},
		slots:   []SlotRow{slotFor(cardioWin, start), slotFor(dermWin, start)},
	}
	svc := newSearchService(catalog, &providerIndex{providers: []provider.Provider{cardio, derm}})

	res, err := svc.Search(context.Background(), Params{
		Date:           "2030-04-01",
		Specialization: "cardio",
		Location:       "NY",
	})
	if err != nil {
		t.Fatalf("search: %v", err)
	}
	if res.TotalProviders != 1 || len(res.Providers) != 1 {
		t.Fatalf("expected exactly one provider, got %d", res.TotalProviders)
	}
	if res.Providers[0].Provider.ID != cardio.ID {
		t.Fatalf("wrong provider: %+v", res.Providers[0].Provider)
	}
	if res.TotalSlots != 1 || len(res.Providers[0].Slots) != 1 {
		t.Fatalf("expected exactly one slot, got %d", res.TotalSlots)
	}
	if got := catalog.gotCriteria; got.From != got.To || got.From.String() != "2030-04-01" {
		t.Fatalf("single date should bound both ends: %+v", got)
	}
	if len(catalog.gotTemplates) != 1 || catalog.gotTemplates[0] != cardioWin.ID {
		t.Fatalf("slots should only be fetched for surviving templates: %v", catalog.gotTemplates)
	}
}

func TestSearchCriteriaMapping(t *testing.T) {
	catalog := &stubCatalog{}
	svc := newSearchService(catalog, &providerIndex{})

	_, err := svc.Search(context.Background(), Params{
		StartDate:      "2030-04-01",
		EndDate:        "2030-04-07",
		Type:           "follow_up",
		Insurance:      "true",
		MaxPrice:       "20000",
		AvailableOnly:  "false",
		Timezone:       "America/Chicago",
		Specialization: "  derm  ",
		Location:       " Boston ",
	})
	if err != nil {
		t.Fatalf("search: %v", err)
	}
	c := catalog.gotCriteria
	if c == nil {
		t.Fatal("catalog never queried")
	}
	if c.From.String() != "2030-04-01" || c.To.String() != "2030-04-07" {
		t.Fatalf("date range = %s..%s", c.From, c.To)
	}
	if c.Type != availability.TypeFollowUp {
		t.Fatalf("type = %q", c.Type)
	}
	if c.Insurance == nil || !*c.Insurance {
		t.Fatalf("insurance = %v", c.Insurance)
	}
	if c.MaxPriceCents == nil || *c.MaxPriceCents != 20000 {
		t.Fatalf("max price = %v", c.MaxPriceCents)
	}
	if c.AvailableOnly {
		t.Fatal("available_only=false was not honored")
	}
	if c.Display == nil || c.Display.String() != "America/Chicago" {
		t.Fatalf("display = %v", c.Display)
	}
	if c.Specialization != "derm" || c.Location != "Boston" {
		t.Fatalf("substrings not trimmed: %q %q", c.Specialization, c.Location)
	}
}

func TestSearchEmptyIsSuccess(t *testing.T) {
	catalog := &stubCatalog{}
	svc := newSearchService(catalog, &providerIndex{})

	res, err := svc.Search(context.Background(), Params{Date: "2030-04-01"})
	if err != nil {
		t.Fatalf("search: %v", err)
	}
	if res.Providers == nil || len(res.Providers) != 0 {
		t.Fatalf("expected empty provider list, got %+v", res.Providers)
	}
	if res.TotalProviders != 0 || res.TotalSlots != 0 {
		t.Fatalf("expected zero totals, got %+v", res)
	}
}

func TestSearchValidation(t *testing.T) {
	catalog := &stubCatalog{}
	svc := newSearchService(catalog, &providerIndex{})

	_, err := svc.Search(context.Background(), Params{
		Date:          "2030-04-01",
		StartDate:     "2030-04-02",
		Type:          "walk_in",
		Insurance:     "maybe",
		MaxPrice:      "-5",
		AvailableOnly: "nope",
		Timezone:      "Mars/Olympus",
	})
	if apperror.KindOf(err) != apperror.KindBadInput {
		t.Fatalf("expected validation error, got %v", err)
	}
	fields := apperror.From(err).Fields
	for _, f := range []string{"date", "appointment_type", "insurance_accepted", "max_price", "available_only", "timezone"} {
		if len(fields[f]) == 0 {
			t.Fatalf("missing field error for %s: %v", f, fields)
		}
	}
	if catalog.windowCalls != 0 {
		t.Fatal("invalid query must not reach the store")
	}
}

func TestSearchRangeOrder(t *testing.T) {
	svc := newSearchService(&stubCatalog{}, &providerIndex{})

	_, err := svc.Search(context.Background(), Params{
		StartDate: "2030-04-05",
		EndDate:   "2030-04-01",
	})
	if apperror.KindOf(err) != apperror.KindBadInput {
		t.Fatalf("expected validation error, got %v", err)
	}
	if fields := apperror.From(err).Fields; len(fields["end_date"]) == 0 {
		t.Fatalf("missing end_date error: %v", fields)
	}
}

func TestSearchDefaultsToAvailableOnly(t *testing.T) {
	cardio := cardiologist()
	win := windowFor(&cardio, "UTC")
	catalog := &stubCatalog{
		windows: []Window{win},
		slots:   []SlotRow{slotFor(win, testNow.Add(24 * time.Hour))},
	}
	svc := newSearchService(catalog, &providerIndex{providers: []provider.Provider{cardio}})

	if _, err := svc.Search(context.Background(), Params{}); err != nil {
		t.Fatalf("search: %v", err)
	}
	if !catalog.gotOpenOnly {
		t.Fatal("available_only should default to true")
	}
	if !catalog.gotNotBefore.Equal(testNow) {
		t.Fatalf("notBefore = %v", catalog.gotNotBefore)
	}
}

func TestSearchDropsProvidersWithoutSlots(t *testing.T) {
	cardio := cardiologist()
	derm := dermatologist()
	cardioWin := windowFor(&cardio, "UTC")
	dermWin := windowFor(&derm, "UTC")
	catalog := &stubCatalog{
		windows: []Window{cardioWin, dermWin},
		slots:   []SlotRow{slotFor(dermWin, testNow.Add(24 * time.Hour))},
	}
	svc := newSearchService(catalog, &providerIndex{providers: []provider.Provider{cardio, derm}})

	res, err := svc.Search(context.Background(), Params{})
	if err != nil {
		t.Fatalf("search: %v", err)
	}
	if res.TotalProviders != 1 || res.Providers[0].Provider.ID != derm.ID {
		t.Fatalf("expected only the provider with slots: %+v", res.Providers)
	}
}

func TestSearchRendersDisplayTimezone(t *testing.T) {
	cardio := cardiologist()
	win := windowFor(&cardio, "America/New_York")
	start := time.Date(2030, time.April, 1, 14, 0, 0, 0, time.UTC)
	catalog := &stubCatalog{
		windows: []Window{win},
		slots:   []SlotRow{slotFor(win, start)},
	}
	svc := newSearchService(catalog, &providerIndex{providers: []provider.Provider{cardio}})

	res, err := svc.Search(context.Background(), Params{Timezone: "America/Chicago"})
	if err != nil {
		t.Fatalf("search: %v", err)
	}
	view := res.Providers[0].Slots[0]
	if view.Timezone != "America/Chicago" {
		t.Fatalf("timezone = %q", view.Timezone)
	}
	if view.LocalDate != "2030-04-01" || view.LocalStart != "09:00" || view.LocalEnd != "09:30" {
		t.Fatalf("local rendering = %s %s..%s", view.LocalDate, view.LocalStart, view.LocalEnd)
	}
	if !view.StartAt.Equal(start) {
		t.Fatalf("instant must stay UTC: %v", view.StartAt)
	}
}

func TestSearchFallsBackToTemplateTimezone(t *testing.T) {
	cardio := cardiologist()
	win := windowFor(&cardio, "America/New_York")
	start := time.Date(2030, time.April, 1, 14, 0, 0, 0, time.UTC)
	catalog := &stubCatalog{
		windows: []Window{win},
		slots:   []SlotRow{slotFor(win, start)},
	}
	svc := newSearchService(catalog, &providerIndex{providers: []provider.Provider{cardio}})

	res, err := svc.Search(context.Background(), Params{})
	if err != nil {
		t.Fatalf("search: %v", err)
	}
	view := res.Providers[0].Slots[0]
	if view.Timezone != "America/New_York" || view.LocalStart != "10:00" {
		t.Fatalf("expected template timezone rendering, got %s %s", view.Timezone, view.LocalStart)
	}
}

func TestSearchSlotPricingFallsBackToTemplate(t *testing.T) {
	cardio := cardiologist()
	win := windowFor(&cardio, "UTC")
	bare := slotFor(win, testNow.Add(24*time.Hour))
	priced := slotFor(win, testNow.Add(25*time.Hour))
	priced.Pricing = &availability.Pricing{BaseFeeCents: 9000, Currency: "USD"}

	catalog := &stubCatalog{windows: []Window{win}, slots: []SlotRow{bare, priced}}
	svc := newSearchService(catalog, &providerIndex{providers: []provider.Provider{cardio}})

	res, err := svc.Search(context.Background(), Params{})
	if err != nil {
		t.Fatalf("search: %v", err)
	}
	slots := res.Providers[0].Slots
	if slots[0].Pricing == nil || slots[0].Pricing.BaseFeeCents != 15000 {
		t.Fatalf("expected template pricing fallback: %+v", slots[0].Pricing)
	}
	if slots[1].Pricing == nil || slots[1].Pricing.BaseFeeCents != 9000 {
		t.Fatalf("expected the slot's own pricing: %+v", slots[1].Pricing)
	}
}

func TestSearchOrdersProvidersByName(t *testing.T) {
	cardio := cardiologist() // Dana Alvarez
	derm := dermatologist()  // Robin Zimmer
	cardioWin := windowFor(&cardio, "UTC")
	dermWin := windowFor(&derm, "UTC")
	catalog := &stubCatalog{
		windows: []Window{dermWin, cardioWin},
		slots: []SlotRow{
			slotFor(dermWin, testNow.Add(24 * time.Hour)),
			slotFor(cardioWin, testNow.Add(24 * time.Hour)),
		},
	}
	svc := newSearchService(catalog, &providerIndex{providers: []provider.Provider{derm, cardio}})

	res, err := svc.Search(context.Background(), Params{})
	if err != nil {
		t.Fatalf("search: %v", err)
	}
	if res.TotalProviders != 2 {
		t.Fatalf("expected both providers, got %d", res.TotalProviders)
	}
	if res.Providers[0].Provider.Name != "Dana Alvarez" || res.Providers[1].Provider.Name != "Robin Zimmer" {
		t.Fatalf("providers out of order: %s, %s",
			res.Providers[0].Provider.Name, res.Providers[1].Provider.Name)
	}
}
