package relay

import (
	"context"
	"errors"
	"log/slog"
	"time"

	"zrelay/internal/domain"
	"zrelay/internal/metrics"
)

// Poller is the pull-mode driver: fetch, process each event in
// sequence, then wait for the next tick. Cycles never overlap; a cycle
// that runs long simply delays the next one.
type Poller struct {
	source   domain.Source
	pipeline *Pipeline
	interval time.Duration
	logger   *slog.Logger
	stats    *metrics.Collector
}

type PollerConfig struct {
	Source   domain.Source
	Pipeline *Pipeline
	Interval time.Duration
	Logger   *slog.Logger
	Stats    *metrics.Collector
}

func NewPoller(cfg PollerConfig) *Poller {
	if cfg.Interval <= 0 {
		cfg.Interval = 10 * time.Second
	}
	if cfg.Stats == nil {
		cfg.Stats = metrics.Default
	}
	return &Poller{
		source:   cfg.Source,
		pipeline: cfg.Pipeline,
		interval: cfg.Interval,
		logger:   cfg.Logger,
		stats:    cfg.Stats,
	}
}

// Run blocks until the context is cancelled.
func (p *Poller) Run(ctx context.Context) {
	p.logger.Info("poller started", "interval", p.interval)

	for {
		p.cycle(ctx)

		select {
		case <-ctx.Done():
			p.logger.Info("poller stopped")
			return
		case <-time.After(p.interval):
		}
	}
}

// cycle runs one fetch-and-process pass. A failure on one event never
// prevents processing of its siblings.
func (p *Poller) cycle(ctx context.Context) {
	events, err := p.source.Fetch(ctx)
	if err != nil {
		if errors.Is(err, domain.ErrSourceUnavailable) {
			p.stats.SourceFailures.Add(1)
			p.logger.Warn("source unavailable this cycle, will retry")
		} else if ctx.Err() == nil {
			p.logger.Error("fetch failed", "err", err)
		}
		p.stats.Cycles.Add(1)
		return
	}

	p.stats.Fetched.Add(int64(len(events)))

	for _, ev := range events {
		if ctx.Err() != nil {
			return
		}
		if err := p.pipeline.Process(ctx, ev); err != nil {
			p.logger.Error("event processing failed",
				"event_id", ev.EventID,
				"sender", ev.Sender,
				"text", truncate(ev.Text, 40),
				"err", err,
			)
		}
	}

	p.stats.Cycles.Add(1)
}
