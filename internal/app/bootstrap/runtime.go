package bootstrap

import (
	"context"
	"crypto/tls"
	"database/sql"
	"fmt"
	"strings"

	"github.com/jackc/pgx/v5/pgxpool"
	_ "github.com/lib/pq"
	"github.com/redis/go-redis/v9"

	appconfig "github.com/carebook/carebook-backend/internal/config"
	"github.com/carebook/carebook-backend/internal/guard"
	"github.com/carebook/carebook-backend/pkg/logging"
)

// BuildPool connects the pgx pool the stores run on. The pool is pinged
// before it is returned; a database that is down fails startup.
func BuildPool(ctx context.Context, cfg *appconfig.Config, logger *logging.Logger) (*pgxpool.Pool, error) {
	if cfg == nil || strings.TrimSpace(cfg.DatabaseURL) == "" {
		return nil, fmt.Errorf("bootstrap: DATABASE_URL is required")
	}
	if ctx == nil {
		ctx = context.Background()
	}

	pool, err := pgxpool.New(ctx, cfg.DatabaseURL)
	if err != nil {
		return nil, fmt.Errorf("bootstrap: create pool: %w", err)
	}
	if err := pool.Ping(ctx); err != nil {
		pool.Close()
		return nil, fmt.Errorf("bootstrap: ping postgres: %w", err)
	}
	if logger != nil {
		logger.Info("postgres pool ready")
	}
	return pool, nil
}

// BuildTrailDB opens the database/sql handle the security trail writes
// through. Kept separate from the pgx pool so audit writes never compete
// for request-path connections.
func BuildTrailDB(ctx context.Context, cfg *appconfig.Config) (*sql.DB, error) {
	if cfg == nil || strings.TrimSpace(cfg.DatabaseURL) == "" {
		return nil, fmt.Errorf("bootstrap: DATABASE_URL is required")
	}
	if ctx == nil {
		ctx = context.Background()
	}

	db, err := sql.Open("postgres", cfg.DatabaseURL)
	if err != nil {
		return nil, fmt.Errorf("bootstrap: open trail db: %w", err)
	}
	db.SetMaxOpenConns(4)
	if err := db.PingContext(ctx); err != nil {
		_ = db.Close()
		return nil, fmt.Errorf("bootstrap: ping trail db: %w", err)
	}
	return db, nil
}

// BuildRedisClient returns a configured Redis client or nil when disabled.
// When verify is true, a ping is issued and failures return nil.
func BuildRedisClient(ctx context.Context, cfg *appconfig.Config, logger *logging.Logger, verify bool) *redis.Client {
	if cfg == nil || strings.TrimSpace(cfg.RedisAddr) == "" {
		return nil
	}
	if logger == nil {
		logger = logging.Default()
	}
	if ctx == nil {
		ctx = context.Background()
	}

	redisOptions := &redis.Options{
		Addr:     cfg.RedisAddr,
		Password: cfg.RedisPassword,
	}
	if cfg.RedisTLS {
		redisOptions.TLSConfig = &tls.Config{MinVersion: tls.VersionTLS12}
	}
	client := redis.NewClient(redisOptions)
	if !verify {
		return client
	}
	if err := client.Ping(ctx).Err(); err != nil {
		logger.Warn("redis not available", "error", err)
		return nil
	}
	return client
}

// GuardConfig maps the configured abuse limits onto the guard windows.
func GuardConfig(cfg *appconfig.Config) guard.Config {
	gc := guard.DefaultConfig()
	if cfg == nil {
		return gc
	}
	if cfg.RegistrationLimitPerHour > 0 {
		gc.RegistrationLimit = cfg.RegistrationLimitPerHour
	}
	if cfg.LoginFailureLimit > 0 {
		gc.LoginFailureLimit = cfg.LoginFailureLimit
	}
	if cfg.LoginFailureWindow > 0 {
		gc.LoginFailureWindow = cfg.LoginFailureWindow
	}
	if cfg.VerifyResendLimit > 0 {
		gc.ResendLimit = cfg.VerifyResendLimit
	}
	return gc
}

// SplitOrigins parses the comma-separated CORS origin list.
func SplitOrigins(raw string) []string {
	raw = strings.TrimSpace(raw)
	if raw == "" {
		return nil
	}
	var origins []string
	for _, o := range strings.Split(raw, ",") {
		if trimmed := strings.TrimSpace(o); trimmed != "" {
			origins = append(origins, trimmed)
		}
	}
	return origins
}
