package ledger

import (
	"context"
	"sync"
	"time"
)

// MemoryLedger is an in-memory domain.Ledger for tests and ephemeral
// runs. Same eviction semantics as the SQLite backend, no durability.
type MemoryLedger struct {
	mu        sync.Mutex
	seen      map[string]time.Time
	retention time.Duration

	// now is swappable in tests.
	now func() time.Time
}

func NewMemory(retention time.Duration) *MemoryLedger {
	if retention <= 0 {
		retention = 24 * time.Hour
	}
	return &MemoryLedger{
		seen:      make(map[string]time.Time),
		retention: retention,
		now:       time.Now,
	}
}

func (l *MemoryLedger) IsNew(ctx context.Context, eventID string) (bool, error) {
	l.mu.Lock()
	defer l.mu.Unlock()
	at, ok := l.seen[eventID]
	if !ok {
		return true, nil
	}
	return l.now().Sub(at) > l.retention, nil
}

func (l *MemoryLedger) MarkRelayed(ctx context.Context, eventID string) error {
	l.mu.Lock()
	defer l.mu.Unlock()
	now := l.now()
	l.seen[eventID] = now
	for id, at := range l.seen {
		if now.Sub(at) > l.retention {
			delete(l.seen, id)
		}
	}
	return nil
}

func (l *MemoryLedger) Count(ctx context.Context) (int, error) {
	l.mu.Lock()
	defer l.mu.Unlock()
	return len(l.seen), nil
}

func (l *MemoryLedger) Close() error { return nil }
