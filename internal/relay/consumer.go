package relay

import (
	"context"
	"log/slog"
	"sync"

	"zrelay/internal/domain"
)

// Consumer drains the message bus through the pipeline: the push-mode
// counterpart of the Poller. Workers process events concurrently; the
// pipeline's per-id claim keeps duplicate concurrent deliveries from
// double-dispatching.
type Consumer struct {
	bus      domain.MessageBus
	pipeline *Pipeline
	workers  int
	logger   *slog.Logger
}

func NewConsumer(bus domain.MessageBus, pipeline *Pipeline, workers int, logger *slog.Logger) *Consumer {
	if workers <= 0 {
		workers = 4
	}
	return &Consumer{
		bus:      bus,
		pipeline: pipeline,
		workers:  workers,
		logger:   logger,
	}
}

// Run blocks until the context is cancelled or the bus is closed.
func (c *Consumer) Run(ctx context.Context) {
	events := c.bus.Subscribe()

	var wg sync.WaitGroup
	for i := 0; i < c.workers; i++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			for {
				select {
				case <-ctx.Done():
					return
				case ev, ok := <-events:
					if !ok {
						return
					}
					if err := c.pipeline.Process(ctx, ev); err != nil {
						c.logger.Error("event processing failed",
							"event_id", ev.EventID,
							"sender", ev.Sender,
							"err", err,
						)
					}
				}
			}
		}()
	}
	wg.Wait()
}
