package workers

import (
	"context"
	"time"

	"goeverbridge/logger"
	"goeverbridge/sessions"
)

// Worker_sweep drops sessions that stayed settled for longer than retention.
func Worker_sweep(ctx context.Context, mgr *sessions.Manager, interval, retention time.Duration, lggr logger.Logger) {
	lggr = lggr.Named("sweep")
	ticker := time.NewTicker(interval)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			if n := mgr.Sweep(retention); n > 0 {
				lggr.Infow("Settled sessions dropped", "count", n)
			}
		}
	}
}
