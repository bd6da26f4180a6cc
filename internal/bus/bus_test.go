package bus

import (
	"log/slog"
	"os"
	"sync/atomic"
	"testing"

	"zrelay/internal/domain"
)

func testLogger() *slog.Logger {
	return slog.New(slog.NewTextHandler(os.Stderr, &slog.HandlerOptions{Level: slog.LevelError}))
}

func TestPublishSubscribe(t *testing.T) {
	b := New(10, testLogger())
	defer b.Close()

	b.Publish(domain.ChatEvent{EventID: "ev1", Sender: "5511999", Text: "zumo"})

	select {
	case ev := <-b.Subscribe():
		if ev.EventID != "ev1" {
			t.Errorf("unexpected event: %+v", ev)
		}
	default:
		t.Fatal("expected buffered event")
	}
}

func TestAckHandler(t *testing.T) {
	b := New(10, testLogger())
	defer b.Close()

	var acks atomic.Int32
	b.OnAck(func(ack domain.Ack) {
		if ack.Recipient != "5511999" {
			t.Errorf("unexpected recipient: %s", ack.Recipient)
		}
		acks.Add(1)
	})

	b.SendAck(domain.Ack{Recipient: "5511999", Text: "recebido"})
	if acks.Load() != 1 {
		t.Errorf("expected 1 ack handled, got %d", acks.Load())
	}
}

func TestSendAck_NoHandler(t *testing.T) {
	b := New(10, testLogger())
	defer b.Close()
	// Must not panic.
	b.SendAck(domain.Ack{Recipient: "5511999", Text: "recebido"})
}

func TestPublishAfterClose(t *testing.T) {
	b := New(10, testLogger())
	b.Close()
	// Must not panic.
	b.Publish(domain.ChatEvent{EventID: "ev1"})
	b.Close()
}
