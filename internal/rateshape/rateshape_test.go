package rateshape

import (
	"context"
	"testing"
	"time"
)

func TestWaitAllowsBurst(t *testing.T) {
	s := New(1000, 2) // effectively unlimited rate, small burst
	ctx := context.Background()

	for i := 0; i < 2; i++ {
		if err := s.Wait(ctx); err != nil {
			t.Fatalf("Wait %d: %v", i, err)
		}
	}
}

func TestWaitRespectsContextCancellation(t *testing.T) {
	s := New(0.001, 1) // practically one token ever
	s.Wait(context.Background()) // consume the only burst token

	ctx, cancel := context.WithTimeout(context.Background(), 20*time.Millisecond)
	defer cancel()
	if err := s.Wait(ctx); err == nil {
		t.Error("expected Wait to fail once the limiter has no tokens and the context expires")
	}
}

func TestAllowAckAlwaysTrue(t *testing.T) {
	s := New(0, 0)
	if !s.AllowAck() {
		t.Error("AllowAck must always report true")
	}
}

func TestPacingAddsDelay(t *testing.T) {
	s := New(1000, 1000)
	s.EnablePacing(50*time.Millisecond, 0)

	start := time.Now()
	if err := s.Wait(context.Background()); err != nil {
		t.Fatalf("Wait: %v", err)
	}
	if err := s.Wait(context.Background()); err != nil {
		t.Fatalf("Wait: %v", err)
	}
	if elapsed := time.Since(start); elapsed < 40*time.Millisecond {
		t.Errorf("expected pacing to introduce a delay, elapsed %v", elapsed)
	}
}
