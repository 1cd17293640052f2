package jitter

import (
	"math"
	"testing"
	"time"
)

func TestEstimatorJitterZeroForConstantInterval(t *testing.T) {
	e := New()
	arrival := 0.0
	for i := 0; i < 50; i++ {
		e.OnArrival(arrival)
		arrival += 16667 // constant 60fps spacing in microseconds
	}
	if e.JitterUs() > 1.0 {
		t.Fatalf("expected near-zero jitter for constant spacing, got %f", e.JitterUs())
	}
}

func TestEstimatorJitterGrowsWithVariance(t *testing.T) {
	e := New()
	arrival := 0.0
	intervals := []float64{10000, 30000, 10000, 30000, 10000, 30000, 10000, 30000}
	for _, iv := range intervals {
		arrival += iv
		e.OnArrival(arrival)
	}
	if e.JitterUs() <= 0 {
		t.Fatal("expected positive jitter for variable spacing")
	}
}

func TestEstimatorSRTTConverges(t *testing.T) {
	e := New()
	for i := 0; i < 200; i++ {
		e.OnRTTSample(20000)
	}
	if math.Abs(e.SRTTUs()-20000) > 1 {
		t.Fatalf("srtt should converge to constant sample, got %f", e.SRTTUs())
	}
}

func TestBufferAdaptDelayGrowsAndShrinks(t *testing.T) {
	b := NewBuffer()
	b.AdaptDelay(3000) // 3ms jitter > 2ms threshold
	if b.TargetDelay() != time.Millisecond {
		t.Fatalf("expected delay to grow by 1ms, got %v", b.TargetDelay())
	}
	for i := 0; i < 20; i++ {
		b.AdaptDelay(3000)
	}
	if b.TargetDelay() > 10*time.Millisecond {
		t.Fatalf("delay must be capped at 10ms, got %v", b.TargetDelay())
	}

	for i := 0; i < 30; i++ {
		b.AdaptDelay(100) // low jitter, should shrink back toward 0
	}
	if b.TargetDelay() != 0 {
		t.Fatalf("delay should shrink to floor 0, got %v", b.TargetDelay())
	}
}

func TestBufferFIFOPlaybackByDeadline(t *testing.T) {
	clock := time.Unix(0, 0)
	b := NewBufferWithClock(func() time.Time { return clock })
	b.AdaptDelay(3000) // grow to 1ms
	b.Push("frame-a")
	clock = clock.Add(500 * time.Microsecond)
	b.Push("frame-b")

	if _, ok := b.Pop(); ok {
		t.Fatal("nothing should be due yet")
	}

	clock = clock.Add(600 * time.Microsecond) // frame-a now 1.1ms old
	payload, ok := b.Pop()
	if !ok || payload != "frame-a" {
		t.Fatalf("expected frame-a to pop first, got %v ok=%v", payload, ok)
	}
	if b.Len() != 1 {
		t.Fatalf("expected 1 remaining entry, got %d", b.Len())
	}
}
