package patient

import (
	"net/http"

	"github.com/carebook/carebook-backend/internal/api/respond"
	"github.com/carebook/carebook-backend/internal/http/middleware"
	"github.com/carebook/carebook-backend/pkg/logging"
)

// Handler exposes patient account endpoints.
type Handler struct {
	svc    *Service
	logger *logging.Logger
}

// NewHandler creates a patient handler.
func NewHandler(svc *Service, logger *logging.Logger) *Handler {
	if logger == nil {
		logger = logging.Default()
	}
	return &Handler{svc: svc, logger: logger}
}

// Register handles POST /api/v1/patient/register.
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
		"message": "patient registered successfully, verification messages sent",
		"patient": p,
	})
}

type verifyRequest struct {
	Token string `json:"token"`
}

// VerifyEmail handles POST /api/v1/patient/verify/email.
func (h *Handler) VerifyEmail(w http.ResponseWriter, r *http.Request) {
	var req verifyRequest
	if err := respond.DecodeJSON(r, &req); err != nil {
		respond.Error(w, r, h.logger, err)
		return
	}
	if err := h.svc.VerifyEmail(r.Context(), req.Token, middleware.ClientIP(r), r.UserAgent()); err != nil {
		respond.Error(w, r, h.logger, err)
		return
	}
	respond.OK(w, http.StatusOK, map[string]any{
		"message": "email verified successfully",
	})
}

// VerifyPhone handles POST /api/v1/patient/verify/phone.
func (h *Handler) VerifyPhone(w http.ResponseWriter, r *http.Request) {
	var req verifyRequest
	if err := respond.DecodeJSON(r, &req); err != nil {
		respond.Error(w, r, h.logger, err)
		return
	}
	if err := h.svc.VerifyPhone(r.Context(), req.Token, middleware.ClientIP(r), r.UserAgent()); err != nil {
		respond.Error(w, r, h.logger, err)
		return
	}
	respond.OK(w, http.StatusOK, map[string]any{
		"message": "phone verified successfully",
	})
}

type resendRequest struct {
	Email string `json:"email"`
}

// ResendVerification handles POST /api/v1/patient/resend-verification.
// The response never reveals whether the account exists.
func (h *Handler) ResendVerification(w http.ResponseWriter, r *http.Request) {
	var req resendRequest
	if err := respond.DecodeJSON(r, &req); err != nil {
		respond.Error(w, r, h.logger, err)
		return
	}
	if err := h.svc.ResendVerification(r.Context(), req.Email); err != nil {
		respond.Error(w, r, h.logger, err)
		return
	}
	respond.OK(w, http.StatusOK, map[string]any{
		"message": "if the account exists, new verification messages were sent",
	})
}
