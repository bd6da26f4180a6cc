package relay

import (
	"context"
	"testing"
	"time"

	"zrelay/internal/domain"
	"zrelay/internal/ledger"
	"zrelay/internal/metrics"
)

// fakeSource returns a fixed batch or an error.
type fakeSource struct {
	events []domain.ChatEvent
	err    error
}

func (f *fakeSource) Fetch(ctx context.Context) ([]domain.ChatEvent, error) {
	return f.events, f.err
}

func TestCycle_SourceUnavailableCompletesCleanly(t *testing.T) {
	trigger := &fakeTrigger{}
	stats := metrics.New()
	p := testPipeline(t, trigger, ledger.NewMemory(time.Hour))

	poller := NewPoller(PollerConfig{
		Source:   &fakeSource{err: domain.ErrSourceUnavailable},
		Pipeline: p,
		Interval: time.Second,
		Logger:   testLogger(),
		Stats:    stats,
	})

	poller.cycle(context.Background())

	if trigger.count() != 0 {
		t.Error("expected zero dispatches when the source is down")
	}
	if stats.SourceFailures.Load() != 1 {
		t.Errorf("expected 1 source failure recorded, got %d", stats.SourceFailures.Load())
	}
	if stats.Cycles.Load() != 1 {
		t.Errorf("cycle should still complete, got %d", stats.Cycles.Load())
	}
}

func TestCycle_ContinuesPastFailingEvent(t *testing.T) {
	// Trigger rejects only events from one sender.
	trigger := &senderFailTrigger{failSender: "5511000"}
	led := ledger.NewMemory(time.Hour)
	p := testPipeline(t, trigger, led)

	src := &fakeSource{events: []domain.ChatEvent{
		{EventID: "a", Sender: "5511000", Text: "zumo um"},
		{EventID: "b", Sender: "5511999", Text: "zumo dois"},
	}}

	poller := NewPoller(PollerConfig{
		Source:   src,
		Pipeline: p,
		Interval: time.Second,
		Logger:   testLogger(),
		Stats:    metrics.New(),
	})

	ctx := context.Background()
	poller.cycle(ctx)

	if trigger.count() != 1 {
		t.Fatalf("expected the second event dispatched despite first failing, got %d", trigger.count())
	}

	// The failed event stays eligible, the delivered one does not.
	if isNew, _ := led.IsNew(ctx, "a"); !isNew {
		t.Error("failed event must remain eligible")
	}
	if isNew, _ := led.IsNew(ctx, "b"); isNew {
		t.Error("delivered event must be marked")
	}
}

func TestRun_StopsOnContextCancel(t *testing.T) {
	p := testPipeline(t, &fakeTrigger{}, ledger.NewMemory(time.Hour))
	poller := NewPoller(PollerConfig{
		Source:   &fakeSource{},
		Pipeline: p,
		Interval: 10 * time.Millisecond,
		Logger:   testLogger(),
		Stats:    metrics.New(),
	})

	ctx, cancel := context.WithCancel(context.Background())
	done := make(chan struct{})
	go func() {
		poller.Run(ctx)
		close(done)
	}()

	time.Sleep(30 * time.Millisecond)
	cancel()

	select {
	case <-done:
	case <-time.After(time.Second):
		t.Fatal("poller did not stop on cancel")
	}
}

// senderFailTrigger fails deliveries from one sender.
type senderFailTrigger struct {
	fakeTrigger
	failSender string
}

func (s *senderFailTrigger) Deliver(ctx context.Context, ev domain.ChatEvent) error {
	if ev.Sender == s.failSender {
		return &deliverRefused{}
	}
	return s.fakeTrigger.Deliver(ctx, ev)
}

type deliverRefused struct{}

func (*deliverRefused) Error() string { return "sink refused" }
