package utils

import (
	"context"
	"testing"
	"time"
)

func TestDelayDurationWithinBounds(t *testing.T) {
	p := DelayPolicy{Min: 10 * time.Millisecond, Max: 50 * time.Millisecond}

	for i := 0; i < 100; i++ {
		d := p.Duration()
		if d < p.Min || d >= p.Max {
			t.Fatalf("Duration() = %v; want within [%v, %v)", d, p.Min, p.Max)
		}
	}
}

func TestDelayDegenerateRange(t *testing.T) {
	p := DelayPolicy{Min: 20 * time.Millisecond, Max: 20 * time.Millisecond}
	if d := p.Duration(); d != 20*time.Millisecond {
		t.Errorf("Duration() = %v; want 20ms", d)
	}
}

func TestZeroDelayNeverBlocks(t *testing.T) {
	start := time.Now()
	if err := ZeroDelay.Wait(context.Background()); err != nil {
		t.Fatalf("Wait() = %v; want nil", err)
	}
	if elapsed := time.Since(start); elapsed > 5*time.Millisecond {
		t.Errorf("ZeroDelay waited %v", elapsed)
	}
}

func TestWaitHonoursCancellation(t *testing.T) {
	ctx, cancel := context.WithCancel(context.Background())
	cancel()

	p := DelayPolicy{Min: time.Hour, Max: 2 * time.Hour}
	start := time.Now()
	err := p.Wait(ctx)
	if err != context.Canceled {
		t.Errorf("Wait() = %v; want context.Canceled", err)
	}
	if elapsed := time.Since(start); elapsed > 100*time.Millisecond {
		t.Errorf("cancelled Wait blocked for %v", elapsed)
	}
}
