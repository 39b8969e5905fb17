package router

import (
	"net/http"
	"time"

	"github.com/go-chi/chi/v5"
	chimw "github.com/go-chi/chi/v5/middleware"
	"github.com/go-chi/httprate"

	"github.com/carebook/carebook-backend/internal/api/respond"
	"github.com/carebook/carebook-backend/internal/apperror"
	"github.com/carebook/carebook-backend/internal/auth"
	"github.com/carebook/carebook-backend/internal/availability"
	"github.com/carebook/carebook-backend/internal/booking"
	"github.com/carebook/carebook-backend/internal/credentials"
	"github.com/carebook/carebook-backend/internal/guard"
	httpmiddleware "github.com/carebook/carebook-backend/internal/http/middleware"
	"github.com/carebook/carebook-backend/internal/patient"
	"github.com/carebook/carebook-backend/internal/principal"
	"github.com/carebook/carebook-backend/internal/provider"
	"github.com/carebook/carebook-backend/internal/search"
	"github.com/carebook/carebook-backend/pkg/logging"
)

// Config holds router configuration
type Config struct {
	Logger *logging.Logger

	// Tokens verifies bearer tokens on protected routes. Protected
	// groups are not mounted when it is nil.
	Tokens *credentials.TokenIssuer

	// Guard backs the per-IP registration and resend throttles
	// (optional, throttles are skipped when nil).
	Guard *guard.Guard

	ProviderAuth *auth.Handler
	PatientAuth  *auth.Handler
	Provider     *provider.Handler
	Patient      *patient.Handler
	Availability *availability.Handler
	Booking      *booking.Handler
	Search       *search.Handler

	Health     http.HandlerFunc
	Ready      http.HandlerFunc
	Metrics    http.Handler
	OpsMetrics http.HandlerFunc

	CORSAllowedOrigins []string

	// RequestsPerMinute caps each client IP across the /api/v1 tree.
	// Zero disables the global limiter.
	RequestsPerMinute int
}

// New creates a new Chi router with all routes configured
func New(cfg *Config) http.Handler {
	r := chi.NewRouter()

	// Middleware
	r.Use(chimw.RequestID)
	r.Use(chimw.RealIP)
	r.Use(chimw.Recoverer)
	r.Use(chimw.Compress(5))
	if len(cfg.CORSAllowedOrigins) > 0 {
		r.Use(httpmiddleware.CORS(cfg.CORSAllowedOrigins))
	}
	if cfg.Logger != nil {
		r.Use(httpmiddleware.RequestLogger(cfg.Logger))
	}

	throttleRegister := passthrough
	throttleResend := passthrough
	if cfg.Guard != nil {
		throttleRegister = httpmiddleware.ThrottleRegistration(cfg.Guard, cfg.Logger)
		throttleResend = httpmiddleware.ThrottleResend(cfg.Guard, cfg.Logger)
	}

	// Liveness, readiness, and metrics stay outside the versioned tree
	// and outside the global limiter so probes are never throttled.
	r.Group(func(public chi.Router) {
		if cfg.Health != nil {
			public.Get("/healthz", cfg.Health)
		}
		if cfg.Ready != nil {
			public.Get("/readyz", cfg.Ready)
		}
		if cfg.Metrics != nil {
			public.Handle("/metrics", cfg.Metrics)
		}
	})

	r.Route("/api/v1", func(api chi.Router) {
		if cfg.RequestsPerMinute > 0 {
			api.Use(httprate.Limit(
				cfg.RequestsPerMinute,
				time.Minute,
				httprate.WithKeyFuncs(httprate.KeyByIP),
				httprate.WithLimitHandler(func(w http.ResponseWriter, req *http.Request) {
					respond.Error(w, req, cfg.Logger, apperror.RateLimited(time.Minute))
				}),
			))
		}

		if cfg.OpsMetrics != nil {
			api.Get("/ops/metrics", cfg.OpsMetrics)
		}

		// Public slot search
		if cfg.Search != nil {
			api.Get("/availability/search", cfg.Search.Search)
		}

		api.Route("/provider", func(pr chi.Router) {
			if cfg.Provider != nil {
				pr.With(throttleRegister).Post("/register", cfg.Provider.Register)
			}
			if cfg.ProviderAuth != nil {
				pr.Post("/login", cfg.ProviderAuth.Login)
				pr.Post("/refresh", cfg.ProviderAuth.Refresh)
				pr.Post("/logout", cfg.ProviderAuth.Logout)
			}

			if cfg.Tokens != nil {
				pr.Group(func(priv chi.Router) {
					priv.Use(httpmiddleware.RequireRole(cfg.Tokens, principal.RoleProvider, cfg.Logger))
					if cfg.Availability != nil {
						priv.Post("/availability", cfg.Availability.Create)
						priv.Get("/{providerID}/availability", cfg.Availability.Calendar)
						priv.Put("/availability/{slotID}", cfg.Availability.UpdateSlot)
						priv.Delete("/availability/{slotID}", cfg.Availability.DeleteSlot)
					}
					if cfg.ProviderAuth != nil {
						priv.Post("/logout-all", cfg.ProviderAuth.LogoutAll)
						priv.Get("/sessions", cfg.ProviderAuth.Sessions)
						priv.Delete("/sessions/{sessionID}", cfg.ProviderAuth.RevokeSession)
					}
				})
			}
		})

		api.Route("/patient", func(pt chi.Router) {
			if cfg.Patient != nil {
				pt.With(throttleRegister).Post("/register", cfg.Patient.Register)
				pt.Post("/verify/email", cfg.Patient.VerifyEmail)
				pt.Post("/verify/phone", cfg.Patient.VerifyPhone)
				pt.With(throttleResend).Post("/resend-verification", cfg.Patient.ResendVerification)
			}
			if cfg.PatientAuth != nil {
				pt.Post("/login", cfg.PatientAuth.Login)
				pt.Post("/refresh", cfg.PatientAuth.Refresh)
				pt.Post("/logout", cfg.PatientAuth.Logout)
			}

			if cfg.Tokens != nil {
				pt.Group(func(priv chi.Router) {
					priv.Use(httpmiddleware.RequireRole(cfg.Tokens, principal.RolePatient, cfg.Logger))
					if cfg.PatientAuth != nil {
						priv.Post("/logout-all", cfg.PatientAuth.LogoutAll)
						priv.Get("/sessions", cfg.PatientAuth.Sessions)
						priv.Delete("/sessions/{sessionID}", cfg.PatientAuth.RevokeSession)
					}
				})
			}
		})

		if cfg.Tokens != nil && cfg.Booking != nil {
			api.Route("/appointments", func(ap chi.Router) {
				ap.Use(httpmiddleware.RequireRole(cfg.Tokens, principal.RolePatient, cfg.Logger))
				ap.Post("/book", cfg.Booking.Book)
				ap.Put("/{appointmentID}/cancel", cfg.Booking.Cancel)
				ap.Get("/patient/{patientID}", cfg.Booking.List)
			})
		}
	})

	return r
}

func passthrough(next http.Handler) http.Handler { return next }
