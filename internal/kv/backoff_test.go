package kv

import (
	"context"
	"errors"
	"testing"
	"time"
)

func TestNextDelay_DoublesAndCaps(t *testing.T) {
	base := 50 * time.Millisecond
	capDelay := 400 * time.Millisecond
	b := newBackOff(base, capDelay, 0)

	want := []time.Duration{50 * time.Millisecond, 100 * time.Millisecond, 200 * time.Millisecond, capDelay, capDelay}
	for i, w := range want {
		if got := nextDelay(b, capDelay); got != w {
			t.Errorf("delay %d = %v, want %v", i+1, got, w)
		}
	}
}

func TestNextDelay_JitterWithinBounds(t *testing.T) {
	capDelay := time.Second
	for i := 0; i < 200; i++ {
		b := newBackOff(10*time.Millisecond, capDelay, defaultJitter)
		nextDelay(b, capDelay)
		nextDelay(b, capDelay)
		d := nextDelay(b, capDelay) // interval 40ms
		if d < 20*time.Millisecond || d > 60*time.Millisecond {
			t.Fatalf("delay %v outside [20ms, 60ms]", d)
		}
	}
}

func TestNextDelay_NeverAboveCap(t *testing.T) {
	capDelay := 100 * time.Millisecond
	b := newBackOff(80*time.Millisecond, capDelay, defaultJitter)
	for i := 0; i < 50; i++ {
		if d := nextDelay(b, capDelay); d > capDelay {
			t.Fatalf("delay %v above cap %v", d, capDelay)
		}
	}
}

func TestSleepContext_Cancelled(t *testing.T) {
	ctx, cancel := context.WithCancel(context.Background())
	cancel()
	if err := sleepContext(ctx, time.Hour); !errors.Is(err, context.Canceled) {
		t.Errorf("err = %v, want context.Canceled", err)
	}
}
