package middleware

import (
	"context"
	"net/http"

	"github.com/carebook/carebook-backend/internal/api/respond"
	"github.com/carebook/carebook-backend/internal/apperror"
	"github.com/carebook/carebook-backend/internal/guard"
	"github.com/carebook/carebook-backend/pkg/logging"
)

// Limiter is the slice of the guard the HTTP layer mounts in front of
// abuse-prone endpoints. *guard.Guard implements it.
type Limiter interface {
	CheckRegistration(ctx context.Context, sourceAddr string) (*guard.Decision, error)
	CheckResend(ctx context.Context, key string) (*guard.Decision, error)
}

// ThrottleRegistration counts every registration attempt per source
// address and rejects past the window. Attempts count whether or not
// the registration later validates.
func ThrottleRegistration(g Limiter, logger *logging.Logger) func(http.Handler) http.Handler {
	return throttle(g.CheckRegistration, logger)
}

// ThrottleResend limits verification resends and verification attempts
// per source address.
func ThrottleResend(g Limiter, logger *logging.Logger) func(http.Handler) http.Handler {
	return throttle(g.CheckResend, logger)
}

func throttle(check func(ctx context.Context, key string) (*guard.Decision, error), logger *logging.Logger) func(http.Handler) http.Handler {
	if logger == nil {
		logger = logging.Default()
	}
	return func(next http.Handler) http.Handler {
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			dec, err := check(r.Context(), ClientIP(r))
			// The guard fails open on its own; a non-nil error here means
			// something worse than a Redis hiccup, and open still wins.
			if err == nil && dec != nil && !dec.Allowed {
				respond.Error(w, r, logger, apperror.RateLimited(dec.RetryAfter))
				return
			}
			next.ServeHTTP(w, r)
		})
	}
}
