package auth

import (
	"net/http"

	"github.com/go-chi/chi/v5"
	"github.com/google/uuid"

	"github.com/carebook/carebook-backend/internal/api/respond"
	"github.com/carebook/carebook-backend/internal/apperror"
	"github.com/carebook/carebook-backend/internal/http/middleware"
	"github.com/carebook/carebook-backend/internal/principal"
	"github.com/carebook/carebook-backend/pkg/logging"
)

// Handler exposes one role's auth endpoints. The router mounts a
// provider handler under /api/v1/provider and a patient one under
// /api/v1/patient.
type Handler struct {
	mgr    *Manager
	logger *logging.Logger
}

// NewHandler creates an auth handler for the manager's role.
func NewHandler(mgr *Manager, logger *logging.Logger) *Handler {
	if logger == nil {
		logger = logging.Default()
	}
	return &Handler{mgr: mgr, logger: logger}
}

func clientContext(r *http.Request, device string) ClientContext {
	return ClientContext{
		SourceAddr: middleware.ClientIP(r),
		UserAgent:  r.UserAgent(),
		Device:     device,
	}
}

// Login handles POST /{role}/login.
func (h *Handler) Login(w http.ResponseWriter, r *http.Request) {
	var req LoginRequest
	if err := respond.DecodeJSON(r, &req); err != nil {
		respond.Error(w, r, h.logger, err)
		return
	}

	pair, err := h.mgr.Login(r.Context(), req, clientContext(r, req.Device))
	if err != nil {
		respond.Error(w, r, h.logger, err)
		return
	}

	respond.OK(w, http.StatusOK, map[string]any{
		"message":       "login successful",
		"access_token":  pair.AccessToken,
		"refresh_token": pair.RefreshToken,
		"token_type":    pair.TokenType,
		"expires_in":    pair.ExpiresIn,
		"principal":     pair.Principal,
	})
}

// Refresh handles POST /{role}/refresh.
func (h *Handler) Refresh(w http.ResponseWriter, r *http.Request) {
	var req RefreshRequest
	if err := respond.DecodeJSON(r, &req); err != nil {
		respond.Error(w, r, h.logger, err)
		return
	}
	if req.RefreshToken == "" {
		respond.Error(w, r, h.logger, apperror.BadInput("refresh_token is required"))
		return
	}

	pair, err := h.mgr.Refresh(r.Context(), req, clientContext(r, req.Device))
	if err != nil {
		respond.Error(w, r, h.logger, err)
		return
	}

	respond.OK(w, http.StatusOK, map[string]any{
		"message":       "token refreshed",
		"access_token":  pair.AccessToken,
		"refresh_token": pair.RefreshToken,
		"token_type":    pair.TokenType,
		"expires_in":    pair.ExpiresIn,
		"principal":     pair.Principal,
	})
}

// Logout handles POST /{role}/logout. No bearer token is needed; the
// refresh token in the body proves possession.
func (h *Handler) Logout(w http.ResponseWriter, r *http.Request) {
	var req LogoutRequest
	if err := respond.DecodeJSON(r, &req); err != nil {
		respond.Error(w, r, h.logger, err)
		return
	}
	if req.RefreshToken == "" {
		respond.Error(w, r, h.logger, apperror.BadInput("refresh_token is required"))
		return
	}

	if err := h.mgr.Logout(r.Context(), req, clientContext(r, "")); err != nil {
		respond.Error(w, r, h.logger, err)
		return
	}

	respond.OK(w, http.StatusOK, map[string]any{
		"message": "logged out successfully",
	})
}

// LogoutAll handles POST /{role}/logout-all behind the bearer
// middleware. The body password re-proves the caller before every
// session dies.
func (h *Handler) LogoutAll(w http.ResponseWriter, r *http.Request) {
	caller, ok := principal.FromContext(r.Context())
	if !ok {
		respond.Error(w, r, h.logger, apperror.Unauthorized("authentication required"))
		return
	}

	var req LogoutAllRequest
	if err := respond.DecodeJSON(r, &req); err != nil {
		respond.Error(w, r, h.logger, err)
		return
	}
	if req.Password == "" {
		respond.Error(w, r, h.logger, apperror.BadInput("password is required"))
		return
	}

	revoked, err := h.mgr.LogoutAll(r.Context(), caller, req.Password, clientContext(r, ""))
	if err != nil {
		respond.Error(w, r, h.logger, err)
		return
	}

	respond.OK(w, http.StatusOK, map[string]any{
		"message":          "logged out of all sessions",
		"sessions_revoked": revoked,
	})
}

// Sessions handles GET /{role}/sessions.
func (h *Handler) Sessions(w http.ResponseWriter, r *http.Request) {
	caller, ok := principal.FromContext(r.Context())
	if !ok {
		respond.Error(w, r, h.logger, apperror.Unauthorized("authentication required"))
		return
	}

	views, err := h.mgr.Sessions(r.Context(), caller)
	if err != nil {
		respond.Error(w, r, h.logger, err)
		return
	}

	respond.OK(w, http.StatusOK, map[string]any{
		"sessions": views,
		"total":    len(views),
	})
}

// RevokeSession handles DELETE /{role}/sessions/{sessionID}.
func (h *Handler) RevokeSession(w http.ResponseWriter, r *http.Request) {
	caller, ok := principal.FromContext(r.Context())
	if !ok {
		respond.Error(w, r, h.logger, apperror.Unauthorized("authentication required"))
		return
	}

	sessionID, err := uuid.Parse(chi.URLParam(r, "sessionID"))
	if err != nil {
		respond.Error(w, r, h.logger, apperror.BadInput("invalid session id"))
		return
	}

	if err := h.mgr.RevokeSession(r.Context(), caller, sessionID, clientContext(r, "")); err != nil {
		respond.Error(w, r, h.logger, err)
		return
	}

	respond.OK(w, http.StatusOK, map[string]any{
		"message": "session revoked",
	})
}
