// Package retry implements the pending-ack table of spec §4.5: per-sequence
// send tracking with per-kind timeouts, bounded retries, and implicit-ack
// matching by message kind.
package retry

import (
	"sync"
	"time"
)

// MaxRetries is the default retry ceiling before an entry is dropped and
// reported as failed.
const MaxRetries = 2

// MaxPending bounds the table; the oldest entry is evicted on overflow.
const MaxPending = 100

// Kind identifies the outbound message kind an entry is tracking, used both
// for per-kind timeout computation and implicit-ack matching.
type Kind string

// Entry is one pending-ack record.
type Entry struct {
	Seq       uint64
	Kind      Kind
	SentAt    time.Time
	Retries   int
	Payload   []byte // original payload snapshot, for resend
	Recipient string // opaque destination (a server's ReplyToken, or "" for a client's single server peer)
}

// ResendFunc is invoked by Sweep to re-emit an entry's payload.
type ResendFunc func(e Entry) error

// FailFunc is invoked by Sweep when an entry exhausts its retries.
type FailFunc func(e Entry)

// Tracker is the pending-ack table. Safe for concurrent use.
type Tracker struct {
	mu      sync.Mutex
	entries map[uint64]*Entry
	order   []uint64 // insertion order, for bounded eviction

	timeout func(kind Kind, retry int) time.Duration

	latencies []time.Duration // recent ack round-trip latencies, most-recent last
}

// DefaultTimeout implements spec §4.5's
// timeout(kind, retry) = (retry==0 ? 8000 : 3000)ms + (kind==Register ? 3000ms : 0).
func DefaultTimeout(registerKind Kind) func(Kind, int) time.Duration {
	return func(kind Kind, retry int) time.Duration {
		base := 3000 * time.Millisecond
		if retry == 0 {
			base = 8000 * time.Millisecond
		}
		if kind == registerKind {
			base += 3000 * time.Millisecond
		}
		return base
	}
}

// NewTracker creates a Tracker using timeoutFn to compute per-kind,
// per-retry deadlines.
func NewTracker(timeoutFn func(kind Kind, retry int) time.Duration) *Tracker {
	return &Tracker{
		entries: make(map[uint64]*Entry),
		timeout: timeoutFn,
	}
}

// Track records a freshly-sent message awaiting acknowledgement, evicting
// the oldest entry if the table is at capacity. recipient is opaque to the
// tracker; it is handed back to the resend callback unchanged, so a server
// tracking many peers can route a retry to the right one.
func (t *Tracker) Track(seq uint64, kind Kind, payload []byte, recipient string) {
	t.mu.Lock()
	defer t.mu.Unlock()

	if len(t.order) >= MaxPending {
		oldest := t.order[0]
		t.order = t.order[1:]
		delete(t.entries, oldest)
	}
	t.entries[seq] = &Entry{Seq: seq, Kind: kind, SentAt: time.Now(), Payload: payload, Recipient: recipient}
	t.order = append(t.order, seq)
}

// AckExplicit removes the entry for seq (an explicit Ack was received),
// recording its round-trip latency. Reports whether an entry was found.
func (t *Tracker) AckExplicit(seq uint64) bool {
	t.mu.Lock()
	defer t.mu.Unlock()
	e, ok := t.entries[seq]
	if !ok {
		return false
	}
	t.recordLatency(time.Since(e.SentAt))
	t.remove(seq)
	return true
}

// AckImplicit removes the lowest-sequence pending entry of kind (spec §4.5:
// "if multiple candidates exist, the one with the lowest sequence number is
// chosen"). Reports whether a match was found.
func (t *Tracker) AckImplicit(kind Kind) bool {
	t.mu.Lock()
	defer t.mu.Unlock()

	var best *Entry
	for _, e := range t.entries {
		if e.Kind != kind {
			continue
		}
		if best == nil || e.Seq < best.Seq {
			best = e
		}
	}
	if best == nil {
		return false
	}
	t.recordLatency(time.Since(best.SentAt))
	t.remove(best.Seq)
	return true
}

func (t *Tracker) remove(seq uint64) {
	delete(t.entries, seq)
	for i, s := range t.order {
		if s == seq {
			t.order = append(t.order[:i], t.order[i+1:]...)
			break
		}
	}
}

func (t *Tracker) recordLatency(d time.Duration) {
	t.latencies = append(t.latencies, d)
	if len(t.latencies) > 50 {
		t.latencies = t.latencies[len(t.latencies)-50:]
	}
}

// RecentLatencies returns a copy of the recently recorded round-trip
// latencies, oldest first.
func (t *Tracker) RecentLatencies() []time.Duration {
	t.mu.Lock()
	defer t.mu.Unlock()
	out := make([]time.Duration, len(t.latencies))
	copy(out, t.latencies)
	return out
}

// Sweep scans the table for entries whose timeout has elapsed, invoking
// resend for entries with retries remaining and fail for entries that have
// exhausted MaxRetries. Driver cadence is left to the caller (spec §4.5).
func (t *Tracker) Sweep(resend ResendFunc, fail FailFunc) {
	now := time.Now()

	t.mu.Lock()
	var toResend []*Entry
	var toFail []*Entry
	for _, e := range t.entries {
		if now.Sub(e.SentAt) < t.timeout(e.Kind, e.Retries) {
			continue
		}
		if e.Retries >= MaxRetries {
			toFail = append(toFail, e)
			continue
		}
		toResend = append(toResend, e)
	}
	t.mu.Unlock()

	for _, e := range toFail {
		t.mu.Lock()
		t.remove(e.Seq)
		t.mu.Unlock()
		fail(*e)
	}
	for _, e := range toResend {
		if err := resend(*e); err != nil {
			continue
		}
		t.mu.Lock()
		if live, ok := t.entries[e.Seq]; ok {
			live.Retries++
			live.SentAt = time.Now()
		}
		t.mu.Unlock()
	}
}

// Len reports the number of pending entries.
func (t *Tracker) Len() int {
	t.mu.Lock()
	defer t.mu.Unlock()
	return len(t.entries)
}
