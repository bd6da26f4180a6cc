// Package relay wires filter, ledger and dispatcher into the pipeline
// shared by both acquisition modes.
package relay

import (
	"context"
	"fmt"
	"log/slog"
	"sync"
	"time"

	"zrelay/internal/domain"
	"zrelay/internal/metrics"
)

// Pipeline runs one event through Filter -> Ledger.IsNew ->
// Trigger.Deliver -> Ledger.MarkRelayed, marking the ledger only after
// the sink confirms acceptance. The inflight set makes the
// check-then-mark pair atomic per event id when deliveries run
// concurrently.
type Pipeline struct {
	filter  domain.Filter
	ledger  domain.Ledger
	trigger domain.Trigger
	bus     domain.MessageBus // optional, carries ack replies
	ackText string
	logger  *slog.Logger
	stats   *metrics.Collector

	mu       sync.Mutex
	inflight map[string]struct{}
}

type PipelineConfig struct {
	Filter  domain.Filter
	Ledger  domain.Ledger
	Trigger domain.Trigger
	Bus     domain.MessageBus
	AckText string // empty disables acknowledgement replies
	Logger  *slog.Logger
	Stats   *metrics.Collector
}

func NewPipeline(cfg PipelineConfig) *Pipeline {
	if cfg.Stats == nil {
		cfg.Stats = metrics.Default
	}
	return &Pipeline{
		filter:   cfg.Filter,
		ledger:   cfg.Ledger,
		trigger:  cfg.Trigger,
		bus:      cfg.Bus,
		ackText:  cfg.AckText,
		logger:   cfg.Logger,
		stats:    cfg.Stats,
		inflight: make(map[string]struct{}),
	}
}

// Process relays one canonical event. A nil return means the event was
// either delivered and marked, or legitimately dropped (filtered,
// duplicate). A non-nil return means delivery failed and the event is
// still eligible for a later cycle.
func (p *Pipeline) Process(ctx context.Context, ev domain.ChatEvent) error {
	if !p.filter.Accepts(ev) {
		p.stats.Filtered.Add(1)
		p.logger.Debug("event filtered",
			"sender", ev.Sender, "text", truncate(ev.Text, 40),
			"from_self", ev.FromSelf, "from_group", ev.FromGroup)
		return nil
	}

	ok, err := p.claim(ctx, ev.EventID)
	if err != nil {
		return fmt.Errorf("ledger check: %w", err)
	}
	if !ok {
		p.stats.Duplicates.Add(1)
		p.logger.Debug("duplicate event suppressed", "event_id", ev.EventID, "sender", ev.Sender)
		return nil
	}
	defer p.release(ev.EventID)

	start := time.Now()
	err = p.trigger.Deliver(ctx, ev)
	p.stats.ObserveDispatch(time.Since(start))
	if err != nil {
		p.stats.DispatchFailed.Add(1)
		// Not marked: the next cycle may re-discover and retry.
		return fmt.Errorf("deliver event %s: %w", ev.EventID, err)
	}

	if err := p.ledger.MarkRelayed(ctx, ev.EventID); err != nil {
		// Delivered but not recorded; the worst case is one duplicate
		// dispatch next cycle, which the idempotent sink absorbs.
		p.logger.Error("ledger mark failed after dispatch", "event_id", ev.EventID, "err", err)
	}
	p.stats.Dispatched.Add(1)

	if p.ackText != "" && p.bus != nil {
		p.bus.SendAck(domain.Ack{Recipient: ev.Sender, Text: p.ackText})
	}

	return nil
}

// claim reserves an event id for this delivery: it is new in the ledger
// and not already being dispatched by a concurrent delivery.
func (p *Pipeline) claim(ctx context.Context, eventID string) (bool, error) {
	p.mu.Lock()
	defer p.mu.Unlock()

	if _, busy := p.inflight[eventID]; busy {
		return false, nil
	}
	isNew, err := p.ledger.IsNew(ctx, eventID)
	if err != nil || !isNew {
		return false, err
	}
	p.inflight[eventID] = struct{}{}
	return true, nil
}

func (p *Pipeline) release(eventID string) {
	p.mu.Lock()
	delete(p.inflight, eventID)
	p.mu.Unlock()
}

func truncate(s string, n int) string {
	if len(s) <= n {
		return s
	}
	return s[:n] + "..."
}
