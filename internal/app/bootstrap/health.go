package bootstrap

import (
	"context"
	"net/http"
	"time"

	"github.com/carebook/carebook-backend/internal/api/respond"
	"github.com/carebook/carebook-backend/pkg/logging"
)

// Health serves the liveness probe. It answers as long as the process
// can still run handlers.
func Health() http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		respond.JSON(w, http.StatusOK, map[string]string{"status": "ok"})
	}
}

// ReadyCheck reports one dependency's health.
type ReadyCheck func(ctx context.Context) error

// Readiness serves the readiness probe. Every registered check must
// pass; a degraded dependency flips the probe to 503 so the scheduler
// stops routing traffic here.
func Readiness(logger *logging.Logger, checks map[string]ReadyCheck) http.HandlerFunc {
	if logger == nil {
		logger = logging.Default()
	}
	return func(w http.ResponseWriter, r *http.Request) {
		ctx, cancel := context.WithTimeout(r.Context(), 2*time.Second)
		defer cancel()

		components := make(map[string]string, len(checks))
		ready := true
		for name, check := range checks {
			if err := check(ctx); err != nil {
				ready = false
				components[name] = "unavailable"
				logger.Warn("readiness check failed", "component", name, "error", err)
				continue
			}
			components[name] = "ok"
		}

		status := http.StatusOK
		state := "ready"
		if !ready {
			status = http.StatusServiceUnavailable
			state = "degraded"
		}
		respond.JSON(w, status, map[string]any{
			"status":     state,
			"components": components,
		})
	}
}
