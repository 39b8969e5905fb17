package availability

import (
	"net/http"

	"github.com/go-chi/chi/v5"
	"github.com/google/uuid"

	"github.com/carebook/carebook-backend/internal/api/respond"
	"github.com/carebook/carebook-backend/internal/apperror"
	obsmetrics "github.com/carebook/carebook-backend/internal/observability/metrics"
	"github.com/carebook/carebook-backend/internal/principal"
	"github.com/carebook/carebook-backend/pkg/logging"
)

// Handler exposes the provider-side availability endpoints. The auth
// middleware guarantees a provider principal on every route here.
type Handler struct {
	svc     *Service
	logger  *logging.Logger
	metrics *obsmetrics.SchedulingMetrics
}

// NewHandler creates an availability handler.
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

// Create handles POST /api/v1/provider/availability.
func (h *Handler) Create(w http.ResponseWriter, r *http.Request) {
	caller, ok := principal.FromContext(r.Context())
	if !ok {
		respond.Error(w, r, h.logger, apperror.Unauthorized("authentication required"))
		return
	}

	var req CreateRequest
	if err := respond.DecodeJSON(r, &req); err != nil {
		respond.Error(w, r, h.logger, err)
		return
	}

	result, err := h.svc.Create(r.Context(), caller.ID, &req)
	if err != nil {
		respond.Error(w, r, h.logger, err)
		return
	}
	h.metrics.ObserveSlotsPublished(result.SlotsCreated)

	respond.OK(w, http.StatusCreated, map[string]any{
		"message":                      "availability created successfully",
		"availability_ids":             result.AvailabilityIDs,
		"slots_created":                result.SlotsCreated,
		"date_range":                   result.DateRange,
		"total_appointments_available": result.TotalOpen,
	})
}

// Calendar handles GET /api/v1/provider/{providerID}/availability. The
// path id must be the caller's own.
func (h *Handler) Calendar(w http.ResponseWriter, r *http.Request) {
	caller, ok := principal.FromContext(r.Context())
	if !ok {
		respond.Error(w, r, h.logger, apperror.Unauthorized("authentication required"))
		return
	}
	providerID, err := uuid.Parse(chi.URLParam(r, "providerID"))
	if err != nil {
		respond.Error(w, r, h.logger, apperror.BadInput("invalid provider id"))
		return
	}
	if providerID != caller.ID {
		respond.Error(w, r, h.logger, apperror.Forbidden("cannot view another provider's calendar"))
		return
	}

	q := r.URL.Query()
	cal, err := h.svc.Calendar(r.Context(), providerID, CalendarQuery{
		StartDate: q.Get("start_date"),
		EndDate:   q.Get("end_date"),
		Status:    q.Get("status"),
		Type:      q.Get("appointment_type"),
		Timezone:  q.Get("timezone"),
	})
	if err != nil {
		respond.Error(w, r, h.logger, err)
		return
	}

	respond.OK(w, http.StatusOK, map[string]any{
		"provider_id": cal.ProviderID,
		"start_date":  cal.StartDate,
		"end_date":    cal.EndDate,
		"timezone":    cal.Timezone,
		"days":        cal.Days,
		"summary":     cal.Summary,
	})
}

// UpdateSlot handles PUT /api/v1/provider/availability/{slotID}.
func (h *Handler) UpdateSlot(w http.ResponseWriter, r *http.Request) {
	caller, ok := principal.FromContext(r.Context())
	if !ok {
		respond.Error(w, r, h.logger, apperror.Unauthorized("authentication required"))
		return
	}
	slotID, err := uuid.Parse(chi.URLParam(r, "slotID"))
	if err != nil {
		respond.Error(w, r, h.logger, apperror.BadInput("invalid slot id"))
		return
	}

	var patch SlotPatch
	if err := respond.DecodeJSON(r, &patch); err != nil {
		respond.Error(w, r, h.logger, err)
		return
	}

	sl, err := h.svc.UpdateSlot(r.Context(), caller.ID, slotID, &patch)
	if err != nil {
		respond.Error(w, r, h.logger, err)
		return
	}

	respond.OK(w, http.StatusOK, map[string]any{
		"message": "slot updated successfully",
		"slot":    sl,
	})
}

// DeleteSlot handles DELETE /api/v1/provider/availability/{slotID}. With
// delete_recurring=true the whole recurring template goes.
func (h *Handler) DeleteSlot(w http.ResponseWriter, r *http.Request) {
	caller, ok := principal.FromContext(r.Context())
	if !ok {
		respond.Error(w, r, h.logger, apperror.Unauthorized("authentication required"))
		return
	}
	slotID, err := uuid.Parse(chi.URLParam(r, "slotID"))
	if err != nil {
		respond.Error(w, r, h.logger, apperror.BadInput("invalid slot id"))
		return
	}

	q := r.URL.Query()
	result, err := h.svc.DeleteSlot(r.Context(), caller.ID, slotID, DeleteOptions{
		Recurring: q.Get("delete_recurring") == "true",
		Reason:    q.Get("reason"),
	})
	if err != nil {
		respond.Error(w, r, h.logger, err)
		return
	}

	respond.OK(w, http.StatusOK, map[string]any{
		"message":          "availability deleted successfully",
		"slots_removed":    result.SlotsRemoved,
		"template_removed": result.TemplateRemoved,
	})
}
