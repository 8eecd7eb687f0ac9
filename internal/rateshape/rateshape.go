// Package rateshape implements the outbound rate limiting and timing-privacy
// pacing of spec §4.4: a token bucket bounding burst and sustained rate, plus
// an independent pacing delay with jitter to defeat timing correlation.
package rateshape

import (
	"context"
	"crypto/rand"
	"encoding/binary"
	"math"
	"sync"
	"time"

	"golang.org/x/time/rate"
)

// Defaults from spec §4.4.
const (
	DefaultClientRate  = 8
	DefaultClientBurst = 15
	DefaultServerRate  = 10
	DefaultServerBurst = 20
)

// Shaper paces outbound sends through a token bucket (golang.org/x/time/rate)
// and an optional privacy pacing layer. Ack messages must bypass both — call
// AllowAck instead of Wait for those.
type Shaper struct {
	limiter *rate.Limiter

	mu              sync.Mutex
	pacingEnabled   bool
	baseInterval    time.Duration
	jitterPercent   float64
	lastSend        time.Time
}

// New creates a Shaper with the given token bucket rate (tokens/sec) and
// burst capacity.
func New(tokensPerSec float64, burst int) *Shaper {
	return &Shaper{
		limiter: rate.NewLimiter(rate.Limit(tokensPerSec), burst),
	}
}

// EnablePacing turns on the privacy pacing layer: before every non-ack send,
// Wait additionally sleeps max(0, baseInterval+jitter-(now-lastSend)), where
// jitter is uniform in [0, baseInterval*jitterPercent/100].
func (s *Shaper) EnablePacing(baseInterval time.Duration, jitterPercent float64) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.pacingEnabled = true
	s.baseInterval = baseInterval
	s.jitterPercent = jitterPercent
}

// Wait blocks until both the token bucket has capacity and, if pacing is
// enabled, the pacing delay has elapsed. It must not be called for Ack
// messages.
func (s *Shaper) Wait(ctx context.Context) error {
	if err := s.pace(ctx); err != nil {
		return err
	}
	return s.limiter.Wait(ctx)
}

func (s *Shaper) pace(ctx context.Context) error {
	s.mu.Lock()
	enabled := s.pacingEnabled
	base := s.baseInterval
	jitterPct := s.jitterPercent
	last := s.lastSend
	s.mu.Unlock()

	if !enabled {
		return nil
	}

	jitter := uniformJitter(base, jitterPct)
	elapsed := time.Since(last)
	target := base + jitter
	delay := target - elapsed
	if delay < 0 {
		delay = 0
	}

	if delay > 0 {
		timer := time.NewTimer(delay)
		defer timer.Stop()
		select {
		case <-ctx.Done():
			return ctx.Err()
		case <-timer.C:
		}
	}

	s.mu.Lock()
	s.lastSend = time.Now()
	s.mu.Unlock()
	return nil
}

// uniformJitter returns a uniformly-random duration in
// [0, base*jitterPercent/100].
func uniformJitter(base time.Duration, jitterPercent float64) time.Duration {
	if jitterPercent <= 0 || base <= 0 {
		return 0
	}
	maxJitter := float64(base) * jitterPercent / 100.0
	var buf [8]byte
	_, _ = rand.Read(buf[:])
	frac := float64(binary.BigEndian.Uint64(buf[:])) / math.MaxUint64
	return time.Duration(frac * maxJitter)
}

// AllowAck reports whether an ack may be sent immediately. Acks bypass both
// pacing and bucket accounting (spec §4.4), so this never blocks.
func (s *Shaper) AllowAck() bool { return true }
