package domain

import (
	"context"
	"errors"
)

// ErrSourceUnavailable means every candidate read endpoint failed this
// cycle. Non-fatal: the driver logs it and retries on the next tick.
var ErrSourceUnavailable = errors.New("source unavailable: all candidate endpoints failed")

// Source fetches candidate messages from the chat provider and
// normalizes them into canonical events.
type Source interface {
	Fetch(ctx context.Context) ([]ChatEvent, error)
}

// Filter decides whether a canonical event qualifies for relay.
type Filter interface {
	Accepts(ev ChatEvent) bool
}

// Ledger tracks which event ids have already been relayed, surviving
// process restarts. IsNew followed by MarkRelayed must behave atomically
// per id when deliveries run concurrently (push mode).
type Ledger interface {
	IsNew(ctx context.Context, eventID string) (bool, error)
	MarkRelayed(ctx context.Context, eventID string) error
	Close() error
}

// Trigger delivers a qualifying event to the automation sink.
// A nil return means the sink explicitly accepted the event.
type Trigger interface {
	Deliver(ctx context.Context, ev ChatEvent) error
}
