package search

import (
	"context"
	"sort"
	"strconv"
	"strings"
	"time"

	"github.com/google/uuid"

	"github.com/carebook/carebook-backend/internal/apperror"
	"github.com/carebook/carebook-backend/internal/availability"
	"github.com/carebook/carebook-backend/internal/provider"
	"github.com/carebook/carebook-backend/internal/schedule"
	"github.com/carebook/carebook-backend/pkg/logging"
)

// Catalog is the slot read surface. *Store implements it over pgx.
type Catalog interface {
	Windows(ctx context.Context, c Criteria) ([]Window, error)
	SlotsByTemplates(ctx context.Context, templateIDs []uuid.UUID, availableOnly bool, notBefore time.Time) ([]SlotRow, error)
}

// ProviderIndex resolves the providers candidate windows reference.
// *provider.Store implements it.
type ProviderIndex interface {
	ByIDs(ctx context.Context, ids []uuid.UUID) ([]provider.Provider, error)
}

// Service answers availability searches. It is stateless.
type Service struct {
	catalog   Catalog
	providers ProviderIndex
	logger    *logging.Logger
	now       func() time.Time
}

// NewService wires the search read model.
func NewService(catalog Catalog, providers ProviderIndex, logger *logging.Logger) *Service {
	if logger == nil {
		logger = logging.Default()
	}
	return &Service{catalog: catalog, providers: providers, logger: logger, now: time.Now}
}

// WithClock fixes the reference time. Tests use it.
func (s *Service) WithClock(now func() time.Time) *Service {
	s.now = now
	return s
}

// parseCriteria validates the raw parameters, collecting every violation
// into one field-error map.
func parseCriteria(p Params) (*Criteria, error) {
	fields := map[string][]string{}
	add := func(field, msg string) { fields[field] = append(fields[field], msg) }

	c := &Criteria{AvailableOnly: true}

	if p.Date != "" && (p.StartDate != "" || p.EndDate != "") {
		add("date", "cannot be combined with start_date or end_date")
	}
	if p.Date != "" {
		d, err := schedule.ParseDate(p.Date)
		if err != nil {
			add("date", "must be a valid YYYY-MM-DD date")
		} else {
			c.From, c.To = d, d
		}
	}
	if p.StartDate != "" {
		d, err := schedule.ParseDate(p.StartDate)
		if err != nil {
			add("start_date", "must be a valid YYYY-MM-DD date")
		} else {
			c.From = d
		}
	}
	if p.EndDate != "" {
		d, err := schedule.ParseDate(p.EndDate)
		if err != nil {
			add("end_date", "must be a valid YYYY-MM-DD date")
		} else {
			c.To = d
		}
	}
	if p.Date == "" && !c.From.IsZero() && !c.To.IsZero() && c.To.Before(c.From) {
		add("end_date", "must not be before start_date")
	}
	if p.Type != "" {
		at := availability.AppointmentType(p.Type)
		if !at.Valid() {
			add("appointment_type", "must be one of consultation, follow_up, emergency, telemedicine")
		} else {
			c.Type = at
		}
	}
	if p.Insurance != "" {
		v, err := strconv.ParseBool(p.Insurance)
		if err != nil {
			add("insurance_accepted", "must be true or false")
		} else {
			c.Insurance = &v
		}
	}
	if p.MaxPrice != "" {
		cents, err := strconv.ParseInt(p.MaxPrice, 10, 64)
		if err != nil || cents < 0 {
			add("max_price", "must be a non-negative integer of cents")
		} else {
			c.MaxPriceCents = &cents
		}
	}
	if p.AvailableOnly != "" {
		v, err := strconv.ParseBool(p.AvailableOnly)
		if err != nil {
			add("available_only", "must be true or false")
		} else {
			c.AvailableOnly = v
		}
	}
	if p.Timezone != "" {
		loc, err := time.LoadLocation(p.Timezone)
		if err != nil {
			add("timezone", "must be a valid IANA timezone")
		} else {
			c.Display = loc
		}
	}
	c.Specialization = strings.TrimSpace(p.Specialization)
	c.Location = strings.TrimSpace(p.Location)

	if len(fields) > 0 {
		return nil, apperror.Validation(fields)
	}
	return c, nil
}

// Search resolves the query template-first: candidate windows by date,
// type, and pricing; their providers filtered by specialization and
// location substrings; then the surviving templates' slots grouped per
// provider. Providers order by display name ascending, slots by start.
// No matches is a normal empty result.
func (s *Service) Search(ctx context.Context, p Params) (*Results, error) {
	crit, err := parseCriteria(p)
	if err != nil {
		return nil, err
	}

	res := &Results{Providers: []*ProviderAvailability{}}

	windows, err := s.catalog.Windows(ctx, *crit)
	if err != nil {
		return nil, err
	}
	if len(windows) == 0 {
		return res, nil
	}

	seen := map[uuid.UUID]bool{}
	var ids []uuid.UUID
	for i := range windows {
		if id := windows[i].ProviderID; !seen[id] {
			seen[id] = true
			ids = append(ids, id)
		}
	}
	provs, err := s.providers.ByIDs(ctx, ids)
	if err != nil {
		return nil, err
	}

	matched := map[uuid.UUID]*provider.Provider{}
	for i := range provs {
		if pr := &provs[i]; crit.matchesProvider(pr) {
			matched[pr.ID] = pr
		}
	}
	if len(matched) == 0 {
		return res, nil
	}

	byTemplate := map[uuid.UUID]*Window{}
	var templateIDs []uuid.UUID
	for i := range windows {
		w := &windows[i]
		if matched[w.ProviderID] == nil {
			continue
		}
		byTemplate[w.ID] = w
		templateIDs = append(templateIDs, w.ID)
	}

	slots, err := s.catalog.SlotsByTemplates(ctx, templateIDs, crit.AvailableOnly, s.now())
	if err != nil {
		return nil, err
	}

	// Providers whose templates yield no slots drop out of the result.
	groups := map[uuid.UUID]*ProviderAvailability{}
	for i := range slots {
		row := &slots[i]
		w := byTemplate[row.TemplateID]
		if w == nil {
			continue
		}
		pr := matched[w.ProviderID]
		g := groups[pr.ID]
		if g == nil {
			g = &ProviderAvailability{Provider: summarize(pr)}
			groups[pr.ID] = g
			res.Providers = append(res.Providers, g)
		}
		g.Slots = append(g.Slots, renderSlot(row, w, crit.Display))
		res.TotalSlots++
	}

	sort.Slice(res.Providers, func(i, j int) bool {
		a, b := res.Providers[i].Provider, res.Providers[j].Provider
		if a.Name != b.Name {
			return a.Name < b.Name
		}
		return a.ID.String() < b.ID.String()
	})
	res.TotalProviders = len(res.Providers)

	s.logger.Debug("availability search",
		"providers", res.TotalProviders,
		"slots", res.TotalSlots,
	)
	return res, nil
}

func (c *Criteria) matchesProvider(p *provider.Provider) bool {
	if c.Specialization != "" && !containsFold(p.Specialization, c.Specialization) {
		return false
	}
	if c.Location != "" && !containsFold(p.ClinicAddress.String(), c.Location) {
		return false
	}
	return true
}

func containsFold(haystack, needle string) bool {
	return strings.Contains(strings.ToLower(haystack), strings.ToLower(needle))
}

func summarize(p *provider.Provider) ProviderSummary {
	return ProviderSummary{
		ID:              p.ID,
		Name:            p.DisplayName(),
		Specialization:  p.Specialization,
		YearsExperience: p.YearsExperience,
		ClinicAddress:   p.ClinicAddress.String(),
	}
}

// renderSlot localizes one row. A slot without its own pricing shows the
// template's.
func renderSlot(row *SlotRow, w *Window, display *time.Location) SlotView {
	loc := display
	if loc == nil {
		if l, err := time.LoadLocation(w.Timezone); err == nil {
			loc = l
		} else {
			loc = time.UTC
		}
	}
	localStart := row.StartAt.In(loc)
	localEnd := row.EndAt.In(loc)

	pricing := row.Pricing
	if pricing == nil {
		pricing = w.Pricing
	}
	return SlotView{
		ID:              row.ID,
		AvailabilityID:  row.TemplateID,
		StartAt:         row.StartAt,
		EndAt:           row.EndAt,
		LocalDate:       schedule.DateOf(localStart).String(),
		LocalStart:      wallOf(localStart).String(),
		LocalEnd:        wallOf(localEnd).String(),
		Timezone:        loc.String(),
		Status:          row.Status,
		AppointmentType: row.Type,
		Pricing:         pricing,
	}
}

func wallOf(t time.Time) schedule.WallClock {
	return schedule.WallClock{Hour: t.Hour(), Minute: t.Minute()}
}
