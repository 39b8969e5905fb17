package provider

import (
	"net/http"

	"github.com/carebook/carebook-backend/internal/api/respond"
	"github.com/carebook/carebook-backend/internal/http/middleware"
	"github.com/carebook/carebook-backend/pkg/logging"
)

// Handler exposes provider account endpoints.
type Handler struct {
	svc    *Service
	logger *logging.Logger
}

// NewHandler creates a provider handler.
func NewHandler(svc *Service, logger *logging.Logger) *Handler {
	if logger == nil {
		logger = logging.Default()
	}
	return &Handler{svc: svc, logger: logger}
}

// Register handles POST /api/v1/provider/register.
func (h *Handler) Register(w http.ResponseWriter, r *http.Request) {
	var req RegisterRequest
	if err := respond.DecodeJSON(r, &req); err != nil {
		respond.Error(w, r, h.logger, err)
		return
	}
	req.SourceAddr = middleware.ClientIP(r)
	req.UserAgent = r.UserAgent()

	p, err := h.svc.Register(r.Context(), &req)
	if err != nil {
		respond.Error(w, r, h.logger, err)
		return
	}

	respond.OK(w, http.StatusCreated, map[string]any{
		"message":  "provider registered successfully",
		"provider": p,
	})
}
