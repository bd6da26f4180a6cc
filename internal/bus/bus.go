package bus

import (
	"log/slog"
	"sync"
	"time"

	"zrelay/internal/domain"
)

const publishTimeout = 10 * time.Second

// InMemoryBus is a Go-channel based message bus connecting the push
// receiver to the relay pipeline, and the pipeline back to the ack
// sender.
type InMemoryBus struct {
	inbound    chan domain.ChatEvent
	ackHandler func(domain.Ack)
	mu         sync.RWMutex
	closed     bool
	logger     *slog.Logger
}

// New creates a new InMemoryBus with the given buffer size.
func New(bufferSize int, logger *slog.Logger) *InMemoryBus {
	if bufferSize <= 0 {
		bufferSize = 100
	}
	return &InMemoryBus{
		inbound: make(chan domain.ChatEvent, bufferSize),
		logger:  logger,
	}
}

// Publish enqueues an event for the pipeline consumer. Blocks up to
// publishTimeout when the bus is full instead of dropping immediately.
func (b *InMemoryBus) Publish(ev domain.ChatEvent) {
	b.mu.RLock()
	defer b.mu.RUnlock()

	if b.closed {
		b.logger.Warn("attempted to publish to closed bus")
		return
	}

	select {
	case b.inbound <- ev:
	default:
		b.logger.Warn("inbound bus full, waiting...", "sender", ev.Sender)
		timer := time.NewTimer(publishTimeout)
		defer timer.Stop()
		select {
		case b.inbound <- ev:
			b.logger.Info("event enqueued after wait", "sender", ev.Sender)
		case <-timer.C:
			b.logger.Error("event dropped: bus full",
				"sender", ev.Sender,
				"event_id", ev.EventID,
			)
		}
	}
}

func (b *InMemoryBus) Subscribe() <-chan domain.ChatEvent {
	return b.inbound
}

// SendAck hands an acknowledgement reply to the registered handler.
func (b *InMemoryBus) SendAck(ack domain.Ack) {
	b.mu.RLock()
	handler := b.ackHandler
	b.mu.RUnlock()

	if handler == nil {
		b.logger.Debug("no ack handler registered", "recipient", ack.Recipient)
		return
	}
	handler(ack)
}

func (b *InMemoryBus) OnAck(handler func(domain.Ack)) {
	b.mu.Lock()
	defer b.mu.Unlock()
	b.ackHandler = handler
}

func (b *InMemoryBus) Close() {
	b.mu.Lock()
	defer b.mu.Unlock()

	if !b.closed {
		b.closed = true
		close(b.inbound)
	}
}
