package booking

import (
	"errors"
	"io"
	"net/http"
	"strings"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/google/uuid"

	"github.com/carebook/carebook-backend/internal/api/respond"
	"github.com/carebook/carebook-backend/internal/apperror"
	obsmetrics "github.com/carebook/carebook-backend/internal/observability/metrics"
	"github.com/carebook/carebook-backend/internal/principal"
	"github.com/carebook/carebook-backend/pkg/logging"
)

// Handler exposes the patient-side appointment endpoints. The auth
// middleware guarantees a patient principal on every route here.
type Handler struct {
	svc     *Service
	logger  *logging.Logger
	metrics *obsmetrics.SchedulingMetrics
}

// NewHandler creates a booking handler.
func NewHandler(svc *Service, logger *logging.Logger) *Handler {
	if logger == nil {
		logger = logging.Default()
	}
	return &Handler{svc: svc, logger: logger}
}

// WithMetrics attaches the scheduling collectors. Observes are nil-safe,
// so handlers built without metrics keep working.
func (h *Handler) WithMetrics(m *obsmetrics.SchedulingMetrics) *Handler {
	h.metrics = m
	return h
}

// Book handles POST /api/v1/appointments/book. A body patient_id is
// accepted only when it matches the bearer token.
func (h *Handler) Book(w http.ResponseWriter, r *http.Request) {
	caller, ok := principal.FromContext(r.Context())
	if !ok {
		respond.Error(w, r, h.logger, apperror.Unauthorized("authentication required"))
		return
	}

	var req BookRequest
	if err := respond.DecodeJSON(r, &req); err != nil {
		respond.Error(w, r, h.logger, err)
		return
	}

	slotID, err := uuid.Parse(strings.TrimSpace(req.SlotID))
	if err != nil {
		respond.Error(w, r, h.logger, apperror.BadInput("invalid slot id"))
		return
	}
	if req.PatientID != "" {
		bodyID, err := uuid.Parse(req.PatientID)
		if err != nil {
			respond.Error(w, r, h.logger, apperror.BadInput("invalid patient id"))
			return
		}
		if bodyID != caller.ID {
			respond.Error(w, r, h.logger, apperror.Forbidden("cannot book for another patient"))
			return
		}
	}

	start := time.Now()
	ap, err := h.svc.Reserve(r.Context(), caller.ID, slotID, ReserveOptions{
		AppointmentType: req.AppointmentType,
		Notes:           req.Notes,
		SpecialReqs:     req.SpecialReqs,
	})
	if err != nil {
		h.metrics.ObserveBooking(string(req.AppointmentType), apperror.From(err).Kind.String())
		respond.Error(w, r, h.logger, err)
		return
	}
	h.metrics.ObserveBooking(string(ap.AppointmentType), "confirmed")
	h.metrics.ObserveReserveLatency(time.Since(start).Seconds())

	respond.OK(w, http.StatusCreated, map[string]any{
		"message":           "appointment booked successfully",
		"appointment_id":    ap.ID,
		"booking_reference": ap.BookingReference,
		"appointment":       ap,
	})
}

// Cancel handles PUT /api/v1/appointments/{appointmentID}/cancel. The
// path segment may be the slot id or the booking reference; the body is
// optional.
func (h *Handler) Cancel(w http.ResponseWriter, r *http.Request) {
	caller, ok := principal.FromContext(r.Context())
	if !ok {
		respond.Error(w, r, h.logger, apperror.Unauthorized("authentication required"))
		return
	}

	raw := chi.URLParam(r, "appointmentID")
	slotID, err := uuid.Parse(raw)
	if err != nil {
		slotID, err = h.svc.SlotIDForReference(r.Context(), raw)
		if err != nil {
			respond.Error(w, r, h.logger, err)
			return
		}
	}

	var req CancelRequest
	if err := respond.DecodeJSON(r, &req); err != nil && !errors.Is(err, io.EOF) {
		respond.Error(w, r, h.logger, err)
		return
	}

	ap, err := h.svc.Cancel(r.Context(), caller.ID, slotID, req.Reason)
	if err != nil {
		h.metrics.ObserveCancellation(apperror.From(err).Kind.String())
		respond.Error(w, r, h.logger, err)
		return
	}
	h.metrics.ObserveCancellation("cancelled")

	respond.OK(w, http.StatusOK, map[string]any{
		"message":     "appointment cancelled successfully",
		"appointment": ap,
	})
}

// List handles GET /api/v1/appointments/patient/{patientID}. The path id
// must be the caller's own.
func (h *Handler) List(w http.ResponseWriter, r *http.Request) {
	caller, ok := principal.FromContext(r.Context())
	if !ok {
		respond.Error(w, r, h.logger, apperror.Unauthorized("authentication required"))
		return
	}
	patientID, err := uuid.Parse(chi.URLParam(r, "patientID"))
	if err != nil {
		respond.Error(w, r, h.logger, apperror.BadInput("invalid patient id"))
		return
	}
	if patientID != caller.ID {
		respond.Error(w, r, h.logger, apperror.Forbidden("cannot view another patient's appointments"))
		return
	}

	q := r.URL.Query()
	page, err := h.svc.PatientAppointments(r.Context(), patientID, ListQuery{
		StartDate: q.Get("start_date"),
		EndDate:   q.Get("end_date"),
		Status:    q.Get("status"),
		Type:      q.Get("appointment_type"),
		Page:      q.Get("page"),
		Limit:     q.Get("limit"),
	})
	if err != nil {
		respond.Error(w, r, h.logger, err)
		return
	}

	respond.OK(w, http.StatusOK, map[string]any{
		"patient_id":   patientID,
		"appointments": page.Appointments,
		"total":        page.Total,
		"page":         page.Number,
		"limit":        page.Limit,
		"total_pages":  page.TotalPages,
	})
}
