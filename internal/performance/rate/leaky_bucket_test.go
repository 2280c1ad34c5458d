package rate

import (
	"context"
	"testing"
	"time"
)

func TestNewLeakyBucket(t *testing.T) {
	tests := []struct {
		name     string
		rate     float64
		expected float64
	}{
		{"positive rate", 10.0, 10.0},
		{"zero rate defaults to 1", 0.0, 1.0},
		{"negative rate defaults to 1", -3.0, 1.0},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			lb := NewLeakyBucket(tt.rate)
			if lb.rate != tt.expected {
				t.Errorf("rate = %v, want %v", lb.rate, tt.expected)
			}
		})
	}
}

func TestLeakyBucket_FirstSlotImmediate(t *testing.T) {
	lb := NewLeakyBucket(1.0)

	now := time.Now()
	next := lb.Next()
	if d := next.Sub(now); d > 10*time.Millisecond {
		t.Errorf("first Next() delayed by %v, want immediate", d)
	}
}

func TestLeakyBucket_SlotsSpacedByRate(t *testing.T) {
	lb := NewLeakyBucket(20.0) // 50ms apart

	_ = lb.Next()
	next := lb.Next()

	want := 50 * time.Millisecond
	got := time.Until(next)
	if got < want-10*time.Millisecond || got > want+10*time.Millisecond {
		t.Errorf("second slot in %v, want ~%v", got, want)
	}
}

func TestLeakyBucket_NoBurstAfterIdle(t *testing.T) {
	lb := NewLeakyBucket(100.0)
	_ = lb.Next()

	time.Sleep(100 * time.Millisecond)

	first := lb.Next()
	second := lb.Next()
	if !second.After(first) {
		t.Errorf("second slot %v should come after first %v", second, first)
	}
}

func TestLeakyBucket_Wait(t *testing.T) {
	lb := NewLeakyBucket(50.0)
	ctx := context.Background()

	start := time.Now()
	for i := 0; i < 5; i++ {
		if err := lb.Wait(ctx); err != nil {
			t.Fatalf("Wait() error = %v", err)
		}
	}
	elapsed := time.Since(start)

	// Five slots at 50/s: the first is free, the rest take ~80ms.
	if elapsed < 60*time.Millisecond {
		t.Errorf("5 slots took %v, want >= 60ms", elapsed)
	}
}

func TestLeakyBucket_WaitCancelled(t *testing.T) {
	lb := NewLeakyBucket(0.5)
	_ = lb.Next()

	ctx, cancel := context.WithTimeout(context.Background(), 20*time.Millisecond)
	defer cancel()

	if err := lb.Wait(ctx); err == nil {
		t.Error("Wait() on cancelled context returned nil")
	}
}
