package jitter

import "time"

const (
	growStepMs   = 1.0
	shrinkStepMs = 0.5
	capMs        = 10.0
	floorMs      = 0.0
	growThreshMs = 2.0
	shrinkThreshMs = 0.5
)

// entry pairs an assembled payload with its arrival time, for FIFO
// playback ordering.
type entry struct {
	arrival time.Time
	payload any
}

// Buffer holds arrived frames until their target playback deadline,
// adapting that deadline to observed jitter. It is strictly FIFO on
// arrival: frames are never reordered relative to each other, only
// delayed uniformly.
type Buffer struct {
	now         func() time.Time
	targetDelay time.Duration
	queue       []entry
}

// NewBuffer returns an empty jitter buffer starting with zero target
// delay.
func NewBuffer() *Buffer {
	return NewBufferWithClock(time.Now)
}

// NewBufferWithClock allows tests to inject a deterministic clock.
func NewBufferWithClock(now func() time.Time) *Buffer {
	return &Buffer{now: now}
}

// AdaptDelay adjusts the target delay based on the current jitter
// estimate in microseconds, per SPEC_FULL.md §4.7.
func (b *Buffer) AdaptDelay(jitterUs float64) {
	jitterMs := jitterUs / 1000.0
	delayMs := float64(b.targetDelay) / float64(time.Millisecond)

	switch {
	case jitterMs > growThreshMs:
		delayMs += growStepMs
		if delayMs > capMs {
			delayMs = capMs
		}
	case jitterMs < shrinkThreshMs:
		delayMs -= shrinkStepMs
		if delayMs < floorMs {
			delayMs = floorMs
		}
	}
	b.targetDelay = time.Duration(delayMs * float64(time.Millisecond))
}

// TargetDelay returns the current adaptive target delay.
func (b *Buffer) TargetDelay() time.Duration { return b.targetDelay }

// Push appends a freshly-arrived payload with the current time as its
// arrival timestamp. Buffering is strictly FIFO: payload order here is
// playback order.
func (b *Buffer) Push(payload any) {
	b.queue = append(b.queue, entry{arrival: b.now(), payload: payload})
}

// Pop returns the oldest buffered payload once it has waited at least
// TargetDelay, or (nil, false) if the front entry isn't due yet or the
// buffer is empty.
func (b *Buffer) Pop() (any, bool) {
	if len(b.queue) == 0 {
		return nil, false
	}
	front := b.queue[0]
	if b.now().Sub(front.arrival) < b.targetDelay {
		return nil, false
	}
	b.queue = b.queue[1:]
	return front.payload, true
}

// Len reports how many entries are currently queued.
func (b *Buffer) Len() int { return len(b.queue) }
