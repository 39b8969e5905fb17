package search

import (
	"net/http"
	"time"

	"github.com/carebook/carebook-backend/internal/api/respond"
	obsmetrics "github.com/carebook/carebook-backend/internal/observability/metrics"
	"github.com/carebook/carebook-backend/pkg/logging"
)

// Handler serves the public availability search.
type Handler struct {
	svc     *Service
	logger  *logging.Logger
	metrics *obsmetrics.SchedulingMetrics
}

// NewHandler builds the search handler.
func NewHandler(svc *Service, logger *logging.Logger) *Handler {
	if logger == nil {
		logger = logging.Default()
	}
	return &Handler{svc: svc, logger: logger}
}

// WithMetrics attaches the scheduling collectors.
func (h *Handler) WithMetrics(m *obsmetrics.SchedulingMetrics) *Handler {
	h.metrics = m
	return h
}

// Search handles GET /api/v1/availability/search. The route needs no
// bearer token.
func (h *Handler) Search(w http.ResponseWriter, r *http.Request) {
	start := time.Now()
	q := r.URL.Query()
	params := Params{
		Date:           q.Get("date"),
		StartDate:      q.Get("start_date"),
		EndDate:        q.Get("end_date"),
		Type:           q.Get("appointment_type"),
		Specialization: q.Get("specialization"),
		Location:       q.Get("location"),
		Insurance:      q.Get("insurance_accepted"),
		MaxPrice:       q.Get("max_price"),
		AvailableOnly:  q.Get("available_only"),
		Timezone:       q.Get("timezone"),
	}

	res, err := h.svc.Search(r.Context(), params)
	if err != nil {
		respond.Error(w, r, h.logger, err)
		return
	}
	h.metrics.ObserveSearchLatency(time.Since(start).Seconds())
	respond.OK(w, http.StatusOK, map[string]any{
		"providers":       res.Providers,
		"total_providers": res.TotalProviders,
		"total_slots":     res.TotalSlots,
	})
}
