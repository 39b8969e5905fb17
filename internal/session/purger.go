package session

import (
	"context"
	"time"

	"github.com/carebook/carebook-backend/pkg/logging"
)

// Purger periodically deletes expired sessions so the table only holds
// rows that can still authenticate.
type Purger struct {
	store    *Store
	logger   *logging.Logger
	interval time.Duration
}

// NewPurger creates a session purger.
func NewPurger(store *Store, interval time.Duration, logger *logging.Logger) *Purger {
	if logger == nil {
		logger = logging.Default()
	}
	if interval <= 0 {
		interval = time.Hour
	}
	return &Purger{store: store, logger: logger, interval: interval}
}

// Start runs the purge loop. Blocks until context is cancelled.
func (p *Purger) Start(ctx context.Context) {
	p.logger.Info("starting session purger", "interval", p.interval.String())

	ticker := time.NewTicker(p.interval)
	defer ticker.Stop()

	p.purge(ctx)

	for {
		select {
		case <-ctx.Done():
			p.logger.Info("session purger shutting down")
			return
		case <-ticker.C:
			p.purge(ctx)
		}
	}
}

func (p *Purger) purge(ctx context.Context) {
	purged, err := p.store.PurgeExpired(ctx, time.Now().UTC())
	if err != nil {
		p.logger.Error("session purge failed", "error", err)
		return
	}
	if purged > 0 {
		p.logger.Info("expired sessions purged", "count", purged)
	}
}
