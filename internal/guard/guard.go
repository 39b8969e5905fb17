// Package guard enforces the cross-process rate limits in front of
// registration and login. Counters live in Redis so every instance sees
// the same windows.
package guard

import (
	"context"
	"fmt"
	"time"

	"github.com/redis/go-redis/v9"

	"github.com/carebook/carebook-backend/pkg/logging"
)

// Guard implements fixed-window limits for abuse-prone endpoints.
type Guard struct {
	redis  *redis.Client
	logger *logging.Logger
	config Config
}

// Config contains the guard windows.
type Config struct {
	// Registration attempts per source address, successful or not.
	RegistrationLimit  int
	RegistrationWindow time.Duration

	// Failed login attempts per source address. Successes reset the
	// window.
	LoginFailureLimit  int
	LoginFailureWindow time.Duration

	// Verification resends per principal.
	ResendLimit  int
	ResendWindow time.Duration
}

// DefaultConfig returns the stock limits.
func DefaultConfig() Config {
	return Config{
		RegistrationLimit:  5,
		RegistrationWindow: time.Hour,
		LoginFailureLimit:  5,
		LoginFailureWindow: 15 * time.Minute,
		ResendLimit:        5,
		ResendWindow:       time.Hour,
	}
}

// Decision is the outcome of a guard check.
type Decision struct {
	Allowed      bool
	Scope        string
	CurrentCount int
	MaxAllowed   int
	WindowExpiry time.Time
	RetryAfter   time.Duration
	Message      string
}

// New creates a guard.
func New(redisClient *redis.Client, config Config, logger *logging.Logger) *Guard {
	if logger == nil {
		logger = logging.Default()
	}
	return &Guard{
		redis:  redisClient,
		logger: logger,
		config: config,
	}
}

// CheckRegistration counts a registration attempt from sourceAddr and
// decides whether it may proceed. Every attempt counts, including ones
// that later fail validation.
func (g *Guard) CheckRegistration(ctx context.Context, sourceAddr string) (*Decision, error) {
	key := fmt.Sprintf("guard:register:%s", sourceAddr)
	return g.incrementWindow(ctx, "register", key, g.config.RegistrationLimit, g.config.RegistrationWindow)
}

// CheckResend counts a verification resend for the given principal key.
func (g *Guard) CheckResend(ctx context.Context, key string) (*Decision, error) {
	redisKey := fmt.Sprintf("guard:verify:%s", key)
	return g.incrementWindow(ctx, "verify", redisKey, g.config.ResendLimit, g.config.ResendWindow)
}

// LoginGate checks the failure window for sourceAddr without counting
// anything. Call RecordLoginFailure after a failed attempt and
// ResetLoginFailures after a successful one.
func (g *Guard) LoginGate(ctx context.Context, sourceAddr string) (*Decision, error) {
	key := fmt.Sprintf("guard:login_fail:%s", sourceAddr)

	count, err := g.redis.Get(ctx, key).Int()
	if err == redis.Nil {
		return &Decision{Allowed: true, Scope: "login", MaxAllowed: g.config.LoginFailureLimit}, nil
	}
	if err != nil {
		g.logger.Error("login gate check failed", "error", err, "key", key)
		// Fail open - a Redis outage must not lock everyone out
		return &Decision{Allowed: true, Scope: "login", Message: "rate check unavailable"}, nil
	}

	ttl, _ := g.redis.TTL(ctx, key).Result()
	decision := &Decision{
		Allowed:      count < g.config.LoginFailureLimit,
		Scope:        "login",
		CurrentCount: count,
		MaxAllowed:   g.config.LoginFailureLimit,
		WindowExpiry: time.Now().Add(ttl),
		RetryAfter:   ttl,
	}
	if !decision.Allowed {
		decision.Message = fmt.Sprintf("too many failed logins, retry in %s", ttl.Round(time.Second))
		g.logger.Warn("login attempts blocked",
			"source", sourceAddr,
			"count", count,
			"max", g.config.LoginFailureLimit,
		)
	}
	return decision, nil
}

// RecordLoginFailure adds a failed attempt to the window. Best-effort;
// errors are logged and swallowed.
func (g *Guard) RecordLoginFailure(ctx context.Context, sourceAddr string) {
	key := fmt.Sprintf("guard:login_fail:%s", sourceAddr)
	if _, _, err := g.incrementAndGet(ctx, key, g.config.LoginFailureWindow); err != nil {
		g.logger.Error("recording login failure failed", "error", err, "key", key)
	}
}

// ResetLoginFailures clears the failure window after a successful login.
func (g *Guard) ResetLoginFailures(ctx context.Context, sourceAddr string) {
	key := fmt.Sprintf("guard:login_fail:%s", sourceAddr)
	if err := g.redis.Del(ctx, key).Err(); err != nil {
		g.logger.Error("resetting login failures failed", "error", err, "key", key)
	}
}

func (g *Guard) incrementWindow(ctx context.Context, scope, key string, limit int, window time.Duration) (*Decision, error) {
	count, expiry, err := g.incrementAndGet(ctx, key, window)
	if err != nil {
		g.logger.Error("guard check failed", "error", err, "key", key)
		// Fail open - allow the request if Redis is down
		return &Decision{Allowed: true, Scope: scope, Message: "rate check unavailable"}, nil
	}

	decision := &Decision{
		Allowed:      count <= limit,
		Scope:        scope,
		CurrentCount: count,
		MaxAllowed:   limit,
		WindowExpiry: expiry,
		RetryAfter:   time.Until(expiry),
	}
	if !decision.Allowed {
		decision.Message = fmt.Sprintf("exceeded %d attempts in %s", limit, window)
		g.logger.Warn("guard limit exceeded",
			"scope", scope,
			"key", key,
			"count", count,
			"max", limit,
		)
	}
	return decision, nil
}

// incrementAndGet increments a counter and returns the new value with expiry time.
func (g *Guard) incrementAndGet(ctx context.Context, key string, window time.Duration) (int, time.Time, error) {
	count, err := g.redis.Incr(ctx, key).Result()
	if err != nil {
		return 0, time.Time{}, err
	}

	// Set expiry only on first increment
	if count == 1 {
		g.redis.Expire(ctx, key, window)
	}

	ttl, err := g.redis.TTL(ctx, key).Result()
	if err != nil {
		ttl = window
	}

	return int(count), time.Now().Add(ttl), nil
}
