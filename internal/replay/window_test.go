package replay

import "testing"

func TestWindowMonotoneAccepted(t *testing.T) {
	w := NewWindow(32)
	for seq := uint64(1); seq <= 5; seq++ {
		if w.Process(seq) {
			t.Fatalf("seq %d: expected accepted, got replay", seq)
		}
	}
}

func TestWindowExactRepeatRejected(t *testing.T) {
	w := NewWindow(32)
	w.Process(10)
	if !w.Process(10) {
		t.Error("repeated seq should be flagged as replay")
	}
}

func TestWindowForwardJumpMarksSkippedSeqs(t *testing.T) {
	w := NewWindow(32)
	w.Process(10)
	w.Process(12)
	if !w.Process(11) {
		t.Error("seq skipped by a forward jump should be marked and flagged as replay")
	}
	if !w.Process(11) {
		t.Error("replaying seq 11 a second time should be flagged")
	}
}

func TestWindowTooOldRejected(t *testing.T) {
	w := NewWindow(16)
	w.Process(100)
	if !w.Process(10) {
		t.Error("seq far below the window should be treated as a replay")
	}
}

func TestWindowClampsSize(t *testing.T) {
	w := NewWindow(4)
	if w.windowSize != MinWindowSize {
		t.Errorf("got window size %d, want clamp to %d", w.windowSize, MinWindowSize)
	}
	w2 := NewWindow(1000)
	if w2.windowSize != MaxWindowSize {
		t.Errorf("got window size %d, want clamp to %d", w2.windowSize, MaxWindowSize)
	}
}

func TestTrackerPerKeyIsolation(t *testing.T) {
	tr := NewTracker(32, 16, 128, false, 0)
	if tr.Process("a", 1) {
		t.Error("first seq for key a should be accepted")
	}
	if tr.Process("b", 1) {
		t.Error("same seq for a different key should be independently accepted")
	}
	if !tr.Process("a", 1) {
		t.Error("repeated seq for key a should be a replay")
	}
}

func TestTrackerForget(t *testing.T) {
	tr := NewTracker(32, 16, 128, false, 0)
	tr.Process("a", 5)
	tr.Forget("a")
	if tr.Process("a", 5) {
		t.Error("after Forget, a fresh window should accept the same seq again")
	}
}
