package relay

import (
	"context"
	"errors"
	"log/slog"
	"os"
	"sync"
	"sync/atomic"
	"testing"
	"time"

	"zrelay/internal/config"
	"zrelay/internal/domain"
	"zrelay/internal/filter"
	"zrelay/internal/ledger"
	"zrelay/internal/metrics"
)

func testLogger() *slog.Logger {
	return slog.New(slog.NewTextHandler(os.Stderr, &slog.HandlerOptions{Level: slog.LevelError}))
}

// fakeTrigger records deliveries and fails on demand.
type fakeTrigger struct {
	mu        sync.Mutex
	delivered []domain.ChatEvent
	fail      bool
	delay     time.Duration
}

func (f *fakeTrigger) Deliver(ctx context.Context, ev domain.ChatEvent) error {
	if f.delay > 0 {
		time.Sleep(f.delay)
	}
	f.mu.Lock()
	defer f.mu.Unlock()
	if f.fail {
		return errors.New("sink rejected")
	}
	f.delivered = append(f.delivered, ev)
	return nil
}

func (f *fakeTrigger) count() int {
	f.mu.Lock()
	defer f.mu.Unlock()
	return len(f.delivered)
}

func testPipeline(t *testing.T, trigger domain.Trigger, led domain.Ledger) *Pipeline {
	t.Helper()
	flt, err := filter.New(config.FilterConfig{Keyword: "zumo"}, testLogger())
	if err != nil {
		t.Fatal(err)
	}
	return NewPipeline(PipelineConfig{
		Filter:  flt,
		Ledger:  led,
		Trigger: trigger,
		Logger:  testLogger(),
		Stats:   metrics.New(),
	})
}

var zumoEvent = domain.ChatEvent{
	EventID: "ev1",
	Sender:  "5511999",
	Text:    "Preciso de Zumo",
}

func TestProcess_QualifyingEventDispatchedAndMarked(t *testing.T) {
	trigger := &fakeTrigger{}
	led := ledger.NewMemory(time.Hour)
	p := testPipeline(t, trigger, led)
	ctx := context.Background()

	if err := p.Process(ctx, zumoEvent); err != nil {
		t.Fatal(err)
	}
	if trigger.count() != 1 {
		t.Fatalf("expected 1 dispatch, got %d", trigger.count())
	}

	isNew, _ := led.IsNew(ctx, "ev1")
	if isNew {
		t.Error("event must be marked relayed after confirmed dispatch")
	}
}

func TestProcess_DuplicateSuppressed(t *testing.T) {
	trigger := &fakeTrigger{}
	p := testPipeline(t, trigger, ledger.NewMemory(time.Hour))
	ctx := context.Background()

	if err := p.Process(ctx, zumoEvent); err != nil {
		t.Fatal(err)
	}
	// Same payload re-discovered on the next cycle.
	if err := p.Process(ctx, zumoEvent); err != nil {
		t.Fatal(err)
	}
	if trigger.count() != 1 {
		t.Errorf("expected second delivery suppressed, got %d dispatches", trigger.count())
	}
}

func TestProcess_FromSelfNeverDispatched(t *testing.T) {
	trigger := &fakeTrigger{}
	p := testPipeline(t, trigger, ledger.NewMemory(time.Hour))

	ev := zumoEvent
	ev.FromSelf = true
	if err := p.Process(context.Background(), ev); err != nil {
		t.Fatal(err)
	}
	if trigger.count() != 0 {
		t.Error("fromSelf event must never reach the dispatcher")
	}
}

func TestProcess_NonMatchingTextFiltered(t *testing.T) {
	trigger := &fakeTrigger{}
	p := testPipeline(t, trigger, ledger.NewMemory(time.Hour))

	ev := domain.ChatEvent{EventID: "ev2", Sender: "5511999", Text: "bom dia"}
	if err := p.Process(context.Background(), ev); err != nil {
		t.Fatal(err)
	}
	if trigger.count() != 0 {
		t.Error("non-matching text must be filtered")
	}
}

func TestProcess_FailedDeliveryStaysEligible(t *testing.T) {
	trigger := &fakeTrigger{fail: true}
	led := ledger.NewMemory(time.Hour)
	p := testPipeline(t, trigger, led)
	ctx := context.Background()

	if err := p.Process(ctx, zumoEvent); err == nil {
		t.Fatal("expected delivery failure to propagate")
	}

	isNew, _ := led.IsNew(ctx, "ev1")
	if !isNew {
		t.Fatal("failed delivery must not mark the ledger")
	}

	// The sink recovers; the next cycle's re-discovery succeeds.
	trigger.mu.Lock()
	trigger.fail = false
	trigger.mu.Unlock()

	if err := p.Process(ctx, zumoEvent); err != nil {
		t.Fatal(err)
	}
	if trigger.count() != 1 {
		t.Errorf("expected exactly one successful dispatch, got %d", trigger.count())
	}
}

func TestProcess_ConcurrentSameEventSingleDispatch(t *testing.T) {
	trigger := &fakeTrigger{delay: 20 * time.Millisecond}
	p := testPipeline(t, trigger, ledger.NewMemory(time.Hour))

	var wg sync.WaitGroup
	for i := 0; i < 8; i++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			p.Process(context.Background(), zumoEvent)
		}()
	}
	wg.Wait()

	if trigger.count() != 1 {
		t.Errorf("expected one dispatch for concurrent duplicates, got %d", trigger.count())
	}
}

func TestProcess_AckSentAfterSuccess(t *testing.T) {
	trigger := &fakeTrigger{}
	flt, err := filter.New(config.FilterConfig{Keyword: "zumo"}, testLogger())
	if err != nil {
		t.Fatal(err)
	}

	var acks atomic.Int64
	ackBus := &recordingBus{onAck: func(domain.Ack) { acks.Add(1) }}

	p := NewPipeline(PipelineConfig{
		Filter:  flt,
		Ledger:  ledger.NewMemory(time.Hour),
		Trigger: trigger,
		Bus:     ackBus,
		AckText: "recebido",
		Logger:  testLogger(),
		Stats:   metrics.New(),
	})

	if err := p.Process(context.Background(), zumoEvent); err != nil {
		t.Fatal(err)
	}
	if acks.Load() != 1 {
		t.Errorf("expected 1 ack, got %d", acks.Load())
	}
}

// recordingBus implements domain.MessageBus for ack assertions.
type recordingBus struct {
	onAck func(domain.Ack)
}

func (b *recordingBus) Publish(domain.ChatEvent)           {}
func (b *recordingBus) Subscribe() <-chan domain.ChatEvent { return nil }
func (b *recordingBus) SendAck(ack domain.Ack)             { b.onAck(ack) }
func (b *recordingBus) OnAck(func(domain.Ack))             {}
func (b *recordingBus) Close()                             {}
