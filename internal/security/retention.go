package security

import (
	"context"
	"time"

	"github.com/carebook/carebook-backend/pkg/logging"
)

// RetentionWorker periodically deletes events older than the retention
// horizon. Healthcare audit trails keep seven years by default.
type RetentionWorker struct {
	store    *Store
	logger   *logging.Logger
	interval time.Duration
	keep     time.Duration
}

// NewRetentionWorker creates a retention worker.
func NewRetentionWorker(store *Store, retentionYears int, logger *logging.Logger) *RetentionWorker {
	if logger == nil {
		logger = logging.Default()
	}
	return &RetentionWorker{
		store:    store,
		logger:   logger,
		interval: 24 * time.Hour,
		keep:     time.Duration(retentionYears) * 365 * 24 * time.Hour,
	}
}

// WithInterval sets the sweep interval.
func (w *RetentionWorker) WithInterval(interval time.Duration) *RetentionWorker {
	w.interval = interval
	return w
}

// Start runs the retention sweep. Blocks until context is cancelled.
func (w *RetentionWorker) Start(ctx context.Context) {
	w.logger.Info("starting security retention worker",
		"interval", w.interval.String(),
		"keep", w.keep.String(),
	)

	ticker := time.NewTicker(w.interval)
	defer ticker.Stop()

	// Run once immediately on startup
	w.sweep(ctx)

	for {
		select {
		case <-ctx.Done():
			w.logger.Info("security retention worker shutting down")
			return
		case <-ticker.C:
			w.sweep(ctx)
		}
	}
}

func (w *RetentionWorker) sweep(ctx context.Context) {
	cutoff := time.Now().UTC().Add(-w.keep)
	purged, err := w.store.PurgeOlderThan(ctx, cutoff)
	if err != nil {
		w.logger.Error("security retention sweep failed", "error", err)
		return
	}
	if purged > 0 {
		w.logger.Info("security events purged", "count", purged, "cutoff", cutoff)
	}
}
