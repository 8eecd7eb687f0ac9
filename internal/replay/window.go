// Package replay implements the sliding-bitmap replay detector of spec §3/§4.3,
// one Window per remote peer, plus a keyed Tracker for convenience.
package replay

import (
	"sync"
	"time"
)

// MinWindowSize and MaxWindowSize bound the configurable window (spec §3).
const (
	MinWindowSize = 16
	MaxWindowSize = 128
)

// Window is a sliding-bitmap sequence-number replay detector for one peer.
// Not safe for concurrent use from multiple goroutines; callers needing
// concurrency should use Tracker, which owns one Window per key behind a
// lock.
type Window struct {
	highestSeq uint64
	bitmap     uint64
	bitmapHi   uint64 // high half; together bitmap/bitmapHi emulate a 128-bit field
	windowSize int
}

// NewWindow creates a Window with the given size, clamped to [16, 128].
func NewWindow(windowSize int) *Window {
	if windowSize < MinWindowSize {
		windowSize = MinWindowSize
	}
	if windowSize > MaxWindowSize {
		windowSize = MaxWindowSize
	}
	return &Window{windowSize: windowSize}
}

// bit reports/sets bit i (0..127) of the 128-bit bitmap, split across two
// 64-bit words since Go has no native u128.
func (w *Window) bitSet(i int) bool {
	if i < 64 {
		return w.bitmap&(1<<uint(i)) != 0
	}
	if i < 128 {
		return w.bitmapHi&(1<<uint(i-64)) != 0
	}
	return false
}

func (w *Window) setBit(i int) {
	if i < 64 {
		w.bitmap |= 1 << uint(i)
	} else if i < 128 {
		w.bitmapHi |= 1 << uint(i-64)
	}
}

func (w *Window) shiftLeft(n int) {
	if n >= 128 {
		w.bitmap, w.bitmapHi = 0, 0
		return
	}
	if n == 0 {
		return
	}
	if n >= 64 {
		w.bitmapHi = w.bitmap << uint(n-64)
		w.bitmap = 0
		return
	}
	w.bitmapHi = (w.bitmapHi << uint(n)) | (w.bitmap >> uint(64-n))
	w.bitmap <<= uint(n)
}

// Process applies spec §4.3's algorithm to seq, returning true if seq is a
// replay (already seen, too old to tell, or skipped by an earlier forward
// jump of at most windowSize, whose slots are marked as seen) and false if
// it is newly accepted.
func (w *Window) Process(seq uint64) (isReplay bool) {
	if w.highestSeq == 0 {
		w.highestSeq = seq
		w.bitmap, w.bitmapHi = 0, 0
		w.setBit(0)
		return false
	}

	if seq > w.highestSeq {
		delta := seq - w.highestSeq
		shift := delta
		if shift > uint64(w.windowSize) {
			shift = uint64(w.windowSize)
		}
		w.shiftLeft(int(shift))
		old := w.highestSeq
		w.highestSeq = seq
		if seq-old <= uint64(w.windowSize) {
			for i := uint64(1); i <= shift; i++ {
				w.setBit(int(shift - i))
			}
		}
		w.setBit(0)
		return false
	}

	if seq == w.highestSeq {
		return true
	}

	offset := w.highestSeq - seq
	if offset > uint64(w.windowSize) {
		return true
	}
	if w.bitSet(int(offset)) {
		return true
	}
	w.setBit(int(offset))
	return false
}

// Tracker owns one Window per peer key, guarded by a single lock, with
// adaptive resizing support (spec §4.3).
type Tracker struct {
	mu              sync.Mutex
	windows         map[string]*Window
	defaultSize     int
	minSize         int
	maxSize         int
	adaptive        bool
	cooldown        time.Duration
	lastAdjust      map[string]time.Time
	replayCount     map[string]int
	acceptCount     map[string]int
}

// NewTracker creates a Tracker. If adaptive is false, every window uses
// defaultSize for its lifetime. defaultSize is clamped to [minSize, maxSize]
// before use, so a misconfigured default can't put a window outside the
// bounds the adaptive policy itself respects.
func NewTracker(defaultSize, minSize, maxSize int, adaptive bool, cooldown time.Duration) *Tracker {
	if defaultSize < minSize {
		defaultSize = minSize
	}
	if defaultSize > maxSize {
		defaultSize = maxSize
	}
	return &Tracker{
		windows:     make(map[string]*Window),
		defaultSize: defaultSize,
		minSize:     minSize,
		maxSize:     maxSize,
		adaptive:    adaptive,
		cooldown:    cooldown,
		lastAdjust:  make(map[string]time.Time),
		replayCount: make(map[string]int),
		acceptCount: make(map[string]int),
	}
}

// Process checks seq for peer key, creating a fresh Window on first contact.
func (t *Tracker) Process(key string, seq uint64) bool {
	t.mu.Lock()
	defer t.mu.Unlock()

	w, ok := t.windows[key]
	if !ok {
		w = NewWindow(t.defaultSize)
		t.windows[key] = w
	}
	replay := w.Process(seq)
	if replay {
		t.replayCount[key]++
	} else {
		t.acceptCount[key]++
	}
	if t.adaptive {
		t.maybeAdapt(key, w)
	}
	return replay
}

// maybeAdapt grows the window when the replay rate is high and shrinks it
// when low, respecting the adjustment cooldown. The policy is free-form per
// spec §4.3/§9; this is one monotone policy that respects the bounds.
func (t *Tracker) maybeAdapt(key string, w *Window) {
	now := time.Now()
	if last, ok := t.lastAdjust[key]; ok && now.Sub(last) < t.cooldown {
		return
	}
	total := t.replayCount[key] + t.acceptCount[key]
	if total < 20 {
		return
	}
	rate := float64(t.replayCount[key]) / float64(total)
	switch {
	case rate > 0.1 && w.windowSize < t.maxSize:
		w.windowSize = min(w.windowSize*2, t.maxSize)
		t.lastAdjust[key] = now
	case rate < 0.01 && w.windowSize > t.minSize:
		w.windowSize = max(w.windowSize/2, t.minSize)
		t.lastAdjust[key] = now
	}
	t.replayCount[key] = 0
	t.acceptCount[key] = 0
}

// Forget drops tracking state for key (e.g., on disconnect).
func (t *Tracker) Forget(key string) {
	t.mu.Lock()
	defer t.mu.Unlock()
	delete(t.windows, key)
	delete(t.lastAdjust, key)
	delete(t.replayCount, key)
	delete(t.acceptCount, key)
}
