package config

import (
	"fmt"
	"os"
	"strconv"
	"strings"
	"time"
)

// Config holds application configuration
type Config struct {
	Port     string
	Env      string
	LogLevel string

	DatabaseURL string

	RedisAddr     string
	RedisPassword string
	RedisTLS      bool

	// Token signing. Access and refresh credentials are signed with
	// distinct secrets so a leaked access secret cannot mint refreshes.
	AccessTokenSecret  string
	RefreshTokenSecret string

	// FieldEncryptionKey protects sensitive patient fields at rest
	// (AES-256-GCM). Must be at least 32 bytes.
	FieldEncryptionKey string

	EmailProvider     string
	SendGridAPIKey    string
	EmailFromAddress  string
	EmailFromName     string
	AWSRegion         string
	VerifyBaseURL     string
	SMSProvider       string
	TwilioAccountSID  string
	TwilioAuthToken   string
	TwilioFromNumber  string
	BookingEmailsOn   bool
	VerifyTokenTTL    time.Duration
	VerifyOTPTTL      time.Duration
	VerifyResendLimit int

	RegistrationLimitPerHour int
	LoginFailureLimit        int
	LoginFailureWindow       time.Duration
	HTTPRateLimitPerMinute   int

	SessionPurgeInterval   time.Duration
	SecurityRetentionYears int

	CORSAllowedOrigins string

	ShutdownGrace time.Duration
}

// Load reads configuration from the environment.
func Load() *Config {
	return &Config{
		Port:     getEnv("PORT", "8080"),
		Env:      getEnv("ENV", "development"),
		LogLevel: getEnv("LOG_LEVEL", "info"),

		DatabaseURL: getEnv("DATABASE_URL", ""),

		RedisAddr:     getEnv("REDIS_ADDR", "localhost:6379"),
		RedisPassword: getEnv("REDIS_PASSWORD", ""),
		RedisTLS:      getEnvAsBool("REDIS_TLS", false),

		AccessTokenSecret:  getEnv("ACCESS_TOKEN_SECRET", ""),
		RefreshTokenSecret: getEnv("REFRESH_TOKEN_SECRET", ""),
		FieldEncryptionKey: getEnv("FIELD_ENCRYPTION_KEY", ""),

		EmailProvider:     strings.ToLower(strings.TrimSpace(getEnv("EMAIL_PROVIDER", "stub"))),
		SendGridAPIKey:    getEnv("SENDGRID_API_KEY", ""),
		EmailFromAddress:  getEnv("EMAIL_FROM", "no-reply@carebook.health"),
		EmailFromName:     getEnv("EMAIL_FROM_NAME", "Carebook"),
		AWSRegion:         getEnv("AWS_REGION", "us-east-1"),
		VerifyBaseURL:     getEnv("VERIFY_BASE_URL", "http://localhost:8080"),
		SMSProvider:       strings.ToLower(strings.TrimSpace(getEnv("SMS_PROVIDER", "stub"))),
		TwilioAccountSID:  getEnv("TWILIO_ACCOUNT_SID", ""),
		TwilioAuthToken:   getEnv("TWILIO_AUTH_TOKEN", ""),
		TwilioFromNumber:  getEnv("TWILIO_FROM_NUMBER", ""),
		BookingEmailsOn:   getEnvAsBool("BOOKING_EMAILS_ENABLED", true),
		VerifyTokenTTL:    getEnvAsDuration("VERIFY_TOKEN_TTL", 24*time.Hour),
		VerifyOTPTTL:      getEnvAsDuration("VERIFY_OTP_TTL", 5*time.Minute),
		VerifyResendLimit: getEnvAsInt("VERIFY_RESEND_LIMIT", 5),

		RegistrationLimitPerHour: getEnvAsInt("RATE_LIMIT_REGISTRATION_PER_HOUR", 5),
		LoginFailureLimit:        getEnvAsInt("RATE_LIMIT_LOGIN_FAILURES", 5),
		LoginFailureWindow:       getEnvAsDuration("RATE_LIMIT_LOGIN_WINDOW", 15*time.Minute),
		HTTPRateLimitPerMinute:   getEnvAsInt("HTTP_RATE_LIMIT_PER_MINUTE", 300),

		SessionPurgeInterval:   getEnvAsDuration("SESSION_PURGE_INTERVAL", time.Hour),
		SecurityRetentionYears: getEnvAsInt("SECURITY_RETENTION_YEARS", 7),

		CORSAllowedOrigins: getEnv("CORS_ALLOWED_ORIGINS", "*"),

		ShutdownGrace: getEnvAsDuration("SHUTDOWN_GRACE", 15*time.Second),
	}
}

// IsProduction reports whether the app runs with production settings.
func (c *Config) IsProduction() bool {
	return c.Env == "production"
}

// Validate enforces settings the server cannot safely run without. In
// development missing secrets fall back to generated-insecure defaults so
// the stack boots locally; production refuses to start.
func (c *Config) Validate() error {
	var problems []string

	if c.DatabaseURL == "" {
		problems = append(problems, "DATABASE_URL is required")
	}
	if len(c.AccessTokenSecret) < 32 {
		if c.IsProduction() {
			problems = append(problems, "ACCESS_TOKEN_SECRET must be at least 32 bytes")
		} else if c.AccessTokenSecret == "" {
			c.AccessTokenSecret = "dev-access-secret-not-for-production!!"
		}
	}
	if len(c.RefreshTokenSecret) < 32 {
		if c.IsProduction() {
			problems = append(problems, "REFRESH_TOKEN_SECRET must be at least 32 bytes")
		} else if c.RefreshTokenSecret == "" {
			c.RefreshTokenSecret = "dev-refresh-secret-not-for-production!"
		}
	}
	if c.AccessTokenSecret != "" && c.AccessTokenSecret == c.RefreshTokenSecret {
		problems = append(problems, "ACCESS_TOKEN_SECRET and REFRESH_TOKEN_SECRET must differ")
	}
	if len(c.FieldEncryptionKey) < 32 {
		if c.IsProduction() {
			problems = append(problems, "FIELD_ENCRYPTION_KEY must be at least 32 bytes")
		} else if c.FieldEncryptionKey == "" {
			c.FieldEncryptionKey = "dev-field-encryption-key-0123456789abcd"
		}
	}
	if c.SecurityRetentionYears < 1 {
		problems = append(problems, "SECURITY_RETENTION_YEARS must be at least 1")
	}

	if len(problems) > 0 {
		return fmt.Errorf("config: %s", strings.Join(problems, "; "))
	}
	return nil
}

func getEnv(key, defaultValue string) string {
	if value := os.Getenv(key); value != "" {
		return value
	}
	return defaultValue
}

func getEnvAsInt(key string, defaultValue int) int {
	valueStr := getEnv(key, "")
	if value, err := strconv.Atoi(valueStr); err == nil {
		return value
	}
	return defaultValue
}

func getEnvAsBool(key string, defaultValue bool) bool {
	valueStr := getEnv(key, "")
	if value, err := strconv.ParseBool(valueStr); err == nil {
		return value
	}
	return defaultValue
}

func getEnvAsDuration(key string, defaultValue time.Duration) time.Duration {
	valueStr := getEnv(key, "")
	if valueStr == "" {
		return defaultValue
	}
	if value, err := time.ParseDuration(valueStr); err == nil {
		return value
	}
	return defaultValue
}
