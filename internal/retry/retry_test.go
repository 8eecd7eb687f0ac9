package retry

import (
	"testing"
	"time"
)

func fixedTimeout(d time.Duration) func(Kind, int) time.Duration {
	return func(Kind, int) time.Duration { return d }
}

func TestTrackAckExplicit(t *testing.T) {
	tr := NewTracker(fixedTimeout(time.Minute))
	tr.Track(1, "move", []byte("payload"), "")
	if !tr.AckExplicit(1) {
		t.Error("expected explicit ack to find the tracked entry")
	}
	if tr.Len() != 0 {
		t.Errorf("expected 0 pending entries, got %d", tr.Len())
	}
}

func TestAckImplicitPicksLowestSeq(t *testing.T) {
	tr := NewTracker(fixedTimeout(time.Minute))
	tr.Track(5, "chat", nil, "")
	tr.Track(2, "chat", nil, "")
	tr.Track(9, "chat", nil, "")

	if !tr.AckImplicit("chat") {
		t.Fatal("expected an implicit ack match")
	}
	if tr.Len() != 2 {
		t.Fatalf("expected 2 remaining entries, got %d", tr.Len())
	}
	// The lowest sequence number (2) should have been the one removed.
	if tr.AckExplicit(2) {
		t.Error("seq 2 should already have been removed by the implicit ack")
	}
}

func TestTrackEvictsOldestAtCapacity(t *testing.T) {
	tr := NewTracker(fixedTimeout(time.Minute))
	for i := uint64(0); i < MaxPending+5; i++ {
		tr.Track(i, "move", nil, "")
	}
	if tr.Len() != MaxPending {
		t.Errorf("got %d pending, want %d", tr.Len(), MaxPending)
	}
	if tr.AckExplicit(0) {
		t.Error("oldest entry should have been evicted")
	}
}

func TestSweepResendsThenFails(t *testing.T) {
	tr := NewTracker(fixedTimeout(0)) // always immediately due
	tr.Track(1, "move", []byte("p"), "dest")

	resends := 0
	var lastRecipient string
	var failed *Entry
	resend := func(e Entry) error { resends++; lastRecipient = e.Recipient; return nil }
	fail := func(e Entry) { e2 := e; failed = &e2 }

	tr.Sweep(resend, fail) // retries=0 -> 1
	tr.Sweep(resend, fail) // retries=1 -> 2
	tr.Sweep(resend, fail) // retries=2 >= MaxRetries -> fail

	if resends != 2 {
		t.Errorf("got %d resends, want 2", resends)
	}
	if lastRecipient != "dest" {
		t.Errorf("got recipient %q, want %q to be passed through to resend", lastRecipient, "dest")
	}
	if failed == nil || failed.Seq != 1 {
		t.Error("expected the entry to fail after exhausting retries")
	}
	if tr.Len() != 0 {
		t.Error("failed entry should be removed from the table")
	}
}

func TestDefaultTimeoutAddsRegisterPenalty(t *testing.T) {
	timeoutFn := DefaultTimeout("register")
	if got := timeoutFn("register", 0); got != 11*time.Second {
		t.Errorf("got %v, want 11s", got)
	}
	if got := timeoutFn("move", 0); got != 8*time.Second {
		t.Errorf("got %v, want 8s", got)
	}
	if got := timeoutFn("move", 1); got != 3*time.Second {
		t.Errorf("got %v, want 3s", got)
	}
}
