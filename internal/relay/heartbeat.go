package relay

import (
	"context"
	"log/slog"
	"time"

	"zrelay/internal/metrics"
)

// Heartbeat logs a periodic liveness line with pipeline counters so
// supervised runs (CI runners, restart loops) show the relay is alive.
type Heartbeat struct {
	interval time.Duration
	logger   *slog.Logger
	stats    *metrics.Collector
}

func NewHeartbeat(interval time.Duration, logger *slog.Logger, stats *metrics.Collector) *Heartbeat {
	if stats == nil {
		stats = metrics.Default
	}
	return &Heartbeat{interval: interval, logger: logger, stats: stats}
}

// Start blocks until the context is cancelled. A non-positive interval
// disables the heartbeat.
func (h *Heartbeat) Start(ctx context.Context) {
	if h.interval <= 0 {
		return
	}

	ticker := time.NewTicker(h.interval)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			h.logger.Info("relay alive",
				"cycles", h.stats.Cycles.Load(),
				"dispatched", h.stats.Dispatched.Load(),
				"duplicates", h.stats.Duplicates.Load(),
				"failed", h.stats.DispatchFailed.Load(),
			)
		}
	}
}
