package domain

import (
	"testing"
	"time"
)

func TestDeriveEventID_ProviderIDWins(t *testing.T) {
	id := DeriveEventID("MSG1", "5511999", "zumo", time.Now())
	if id != "MSG1" {
		t.Errorf("expected provider id, got %s", id)
	}
}

func TestDeriveEventID_Deterministic(t *testing.T) {
	ts := time.Date(2025, 11, 3, 12, 30, 15, 0, time.UTC)
	a := DeriveEventID("", "5511999", "zumo", ts)
	b := DeriveEventID("", "5511999", "zumo", ts)
	if a != b {
		t.Error("same inputs must yield the same id")
	}
}

func TestDeriveEventID_MinuteBucket(t *testing.T) {
	base := time.Date(2025, 11, 3, 12, 30, 5, 0, time.UTC)

	sameMinute := DeriveEventID("", "5511999", "zumo", base.Add(40*time.Second))
	if sameMinute != DeriveEventID("", "5511999", "zumo", base) {
		t.Error("timestamps in the same minute must bucket together")
	}

	nextMinute := DeriveEventID("", "5511999", "zumo", base.Add(2*time.Minute))
	if nextMinute == DeriveEventID("", "5511999", "zumo", base) {
		t.Error("different minutes must yield different ids")
	}
}

func TestDeriveEventID_DistinguishesSenderAndText(t *testing.T) {
	ts := time.Date(2025, 11, 3, 12, 30, 0, 0, time.UTC)
	base := DeriveEventID("", "5511999", "zumo", ts)

	if DeriveEventID("", "5511998", "zumo", ts) == base {
		t.Error("different senders must yield different ids")
	}
	if DeriveEventID("", "5511999", "zumo ja", ts) == base {
		t.Error("different text must yield different ids")
	}
}

func TestDeriveEventID_ZeroTime(t *testing.T) {
	a := DeriveEventID("", "5511999", "zumo", time.Time{})
	b := DeriveEventID("", "5511999", "zumo", time.Time{})
	if a != b || a == "" {
		t.Error("zero timestamps must still derive a stable id")
	}
}
