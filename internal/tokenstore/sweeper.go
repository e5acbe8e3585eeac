package tokenstore

import (
	"context"
	"time"

	"github.com/teemow/mailgraph/internal/logging"
)

// Sweep runs one SweepExpired pass and logs the outcome.
func Sweep(ctx context.Context, store Store, now time.Time, logger logging.Logger) (int, error) {
	if logger == nil {
		logger = logging.DefaultLogger()
	}
	removed, err := store.SweepExpired(ctx, now)
	if err != nil {
		logger.Error("credential sweep failed", "error", err)
		return removed, err
	}
	if removed > 0 {
		logger.Info("swept expired credentials", "removed", removed)
	} else {
		logger.Debug("credential sweep found nothing to remove")
	}
	return removed, nil
}

// RunSweeper sweeps once immediately and then every interval until ctx is
// cancelled. A non-positive interval sweeps once and returns.
func RunSweeper(ctx context.Context, store Store, interval time.Duration, logger logging.Logger) {
	_, _ = Sweep(ctx, store, time.Now(), logger)
	if interval <= 0 {
		return
	}

	ticker := time.NewTicker(interval)
	defer ticker.Stop()
	for {
		select {
		case <-ctx.Done():
			return
		case now := <-ticker.C:
			_, _ = Sweep(ctx, store, now, logger)
		}
	}
}
