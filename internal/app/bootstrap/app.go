// Package bootstrap wires the dependency graph: connections, stores,
// services, handlers, and the assembled router.
package bootstrap

import (
	"context"
	"database/sql"
	"fmt"
	"net/http"

	awsconfig "github.com/aws/aws-sdk-go-v2/config"
	"github.com/aws/aws-sdk-go-v2/service/sesv2"
	"github.com/jackc/pgx/v5/pgxpool"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promhttp"
	"github.com/redis/go-redis/v9"

	"github.com/carebook/carebook-backend/internal/api/router"
	"github.com/carebook/carebook-backend/internal/auth"
	"github.com/carebook/carebook-backend/internal/availability"
	"github.com/carebook/carebook-backend/internal/booking"
	appconfig "github.com/carebook/carebook-backend/internal/config"
	"github.com/carebook/carebook-backend/internal/credentials"
	"github.com/carebook/carebook-backend/internal/guard"
	"github.com/carebook/carebook-backend/internal/notify"
	"github.com/carebook/carebook-backend/internal/observability/metrics"
	"github.com/carebook/carebook-backend/internal/patient"
	"github.com/carebook/carebook-backend/internal/provider"
	"github.com/carebook/carebook-backend/internal/search"
	"github.com/carebook/carebook-backend/internal/security"
	"github.com/carebook/carebook-backend/internal/session"
	"github.com/carebook/carebook-backend/pkg/logging"
)

// App owns every long-lived dependency of the API server and the
// assembled HTTP handler.
type App struct {
	Config  *appconfig.Config
	Logger  *logging.Logger
	Pool    *pgxpool.Pool
	TrailDB *sql.DB
	Redis   *redis.Client
	Handler http.Handler

	purger    *session.Purger
	retention *security.RetentionWorker
}

// New wires the whole dependency graph. The caller owns Close.
func New(ctx context.Context, cfg *appconfig.Config, logger *logging.Logger) (*App, error) {
	if cfg == nil {
		return nil, fmt.Errorf("bootstrap: config is required")
	}
	if logger == nil {
		logger = logging.Default()
	}
	if ctx == nil {
		ctx = context.Background()
	}

	pool, err := BuildPool(ctx, cfg, logger)
	if err != nil {
		return nil, err
	}
	trailDB, err := BuildTrailDB(ctx, cfg)
	if err != nil {
		pool.Close()
		return nil, err
	}
	redisClient := BuildRedisClient(ctx, cfg, logger, true)
	if redisClient == nil {
		pool.Close()
		_ = trailDB.Close()
		return nil, fmt.Errorf("bootstrap: redis is required for login guards and session abuse windows")
	}

	cipher, err := credentials.NewFieldCipher(cfg.FieldEncryptionKey)
	if err != nil {
		pool.Close()
		_ = trailDB.Close()
		_ = redisClient.Close()
		return nil, fmt.Errorf("bootstrap: field cipher: %w", err)
	}

	issuer := credentials.NewTokenIssuer(cfg.AccessTokenSecret, cfg.RefreshTokenSecret)
	g := guard.New(redisClient, GuardConfig(cfg), logger)

	registry := prometheus.NewRegistry()
	authMetrics := metrics.NewAuthMetrics(registry)
	schedMetrics := metrics.NewSchedulingMetrics(registry)

	trailStore := security.NewStore(trailDB)
	trail := security.Instrument(trailStore, authMetrics)

	providerStore := provider.NewStore(pool)
	patientStore := patient.NewStore(pool, cipher)
	availabilityStore := availability.NewStore(pool)
	bookingStore := booking.NewStore(pool)
	searchStore := search.NewStore(pool)
	sessionStore := session.NewStore(pool)

	mailer := BuildMailer(ctx, cfg, logger)

	providerSvc := provider.NewService(providerStore, trail, logger)
	patientSvc := patient.NewService(patientStore, trail, mailer, logger).
		WithVerificationTTLs(cfg.VerifyTokenTTL, cfg.VerifyOTPTTL)
	availabilitySvc := availability.NewService(availabilityStore, providerStore, logger)
	bookingSvc := booking.NewService(bookingStore, patientStore, logger)
	if cfg.BookingEmailsOn {
		bookingSvc = bookingSvc.WithConfirmations(mailer)
	}
	searchSvc := search.NewService(searchStore, providerStore, logger)

	providerAuth := auth.NewManager(auth.Config{
		Directory: providerStore,
		Policy:    auth.ProviderPolicy(),
		Sessions:  sessionStore,
		Tokens:    issuer,
		Guard:     g,
		Events:    trail,
		Logger:    logger,
	})
	patientAuth := auth.NewManager(auth.Config{
		Directory: patientStore,
		Policy:    auth.PatientPolicy(),
		Sessions:  sessionStore,
		Tokens:    issuer,
		Guard:     g,
		Events:    trail,
		Logger:    logger,
	})

	handler := router.New(&router.Config{
		Logger:       logger,
		Tokens:       issuer,
		Guard:        g,
		ProviderAuth: auth.NewHandler(providerAuth, logger),
		PatientAuth:  auth.NewHandler(patientAuth, logger),
		Provider:     provider.NewHandler(providerSvc, logger),
		Patient:      patient.NewHandler(patientSvc, logger),
		Availability: availability.NewHandler(availabilitySvc, logger).WithMetrics(schedMetrics),
		Booking:      booking.NewHandler(bookingSvc, logger).WithMetrics(schedMetrics),
		Search:       search.NewHandler(searchSvc, logger).WithMetrics(schedMetrics),
		Health:       Health(),
		Ready: Readiness(logger, map[string]ReadyCheck{
			"postgres": func(ctx context.Context) error { return pool.Ping(ctx) },
			"redis":    func(ctx context.Context) error { return redisClient.Ping(ctx).Err() },
		}),
		Metrics:            promhttp.HandlerFor(registry, promhttp.HandlerOpts{}),
		OpsMetrics:         metrics.OpsHandler(registry, logger),
		CORSAllowedOrigins: SplitOrigins(cfg.CORSAllowedOrigins),
		RequestsPerMinute:  cfg.HTTPRateLimitPerMinute,
	})

	return &App{
		Config:    cfg,
		Logger:    logger,
		Pool:      pool,
		TrailDB:   trailDB,
		Redis:     redisClient,
		Handler:   handler,
		purger:    session.NewPurger(sessionStore, cfg.SessionPurgeInterval, logger),
		retention: security.NewRetentionWorker(trailStore, cfg.SecurityRetentionYears, logger),
	}, nil
}

// StartJanitors launches the background sweepers. They stop when ctx is
// cancelled.
func (a *App) StartJanitors(ctx context.Context) {
	go a.purger.Start(ctx)
	go a.retention.Start(ctx)
}

// Close releases held connections.
func (a *App) Close() {
	if a.Pool != nil {
		a.Pool.Close()
	}
	if a.TrailDB != nil {
		_ = a.TrailDB.Close()
	}
	if a.Redis != nil {
		_ = a.Redis.Close()
	}
}

// BuildMailer assembles the notification service from the configured
// email provider. Unknown providers fall back to the logging stub so
// registration still works in development.
func BuildMailer(ctx context.Context, cfg *appconfig.Config, logger *logging.Logger) *notify.Service {
	if logger == nil {
		logger = logging.Default()
	}
	if ctx == nil {
		ctx = context.Background()
	}

	var email notify.EmailSender = notify.NewStubEmailSender(logger)
	switch cfg.EmailProvider {
	case "sendgrid":
		if sender := notify.NewSendGridSender(notify.SendGridConfig{
			APIKey:    cfg.SendGridAPIKey,
			FromEmail: cfg.EmailFromAddress,
			FromName:  cfg.EmailFromName,
		}, logger); sender != nil {
			email = sender
		} else {
			logger.Warn("sendgrid selected but SENDGRID_API_KEY is empty, using stub sender")
		}
	case "ses":
		awsCfg, err := awsconfig.LoadDefaultConfig(ctx, awsconfig.WithRegion(cfg.AWSRegion))
		if err != nil {
			logger.Warn("ses selected but aws config failed, using stub sender", "error", err)
			break
		}
		if sender := notify.NewSESSender(sesv2.NewFromConfig(awsCfg), notify.SESConfig{
			FromEmail: cfg.EmailFromAddress,
			FromName:  cfg.EmailFromName,
		}, logger); sender != nil {
			email = sender
		}
	case "", "stub":
	default:
		logger.Warn("unknown email provider, using stub sender", "provider", cfg.EmailProvider)
	}

	var sms notify.SMSSender = notify.NewStubSMSSender(logger)
	switch cfg.SMSProvider {
	case "twilio":
		if sender := notify.NewTwilioSMSSender(cfg.TwilioAccountSID, cfg.TwilioAuthToken, cfg.TwilioFromNumber, logger); sender != nil {
			sms = sender
		} else {
			logger.Warn("twilio selected but credentials are incomplete, using stub sender")
		}
	case "", "stub":
	default:
		logger.Warn("unknown sms provider, using stub sender", "provider", cfg.SMSProvider)
	}

	return notify.NewService(email, sms, cfg.VerifyBaseURL, logger)
}
