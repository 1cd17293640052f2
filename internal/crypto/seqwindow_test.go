package crypto

import "testing"

func TestSequenceWindowSequentialAccepted(t *testing.T) {
	w := NewSequenceWindow()
	for i := uint64(0); i < 300; i++ {
		if !w.CheckAndUpdate(i) {
			t.Fatalf("sequential id %d should be accepted", i)
		}
	}
}

func TestSequenceWindowReplayRejected(t *testing.T) {
	w := NewSequenceWindow()
	if !w.CheckAndUpdate(10) {
		t.Fatal("first submission should be accepted")
	}
	if w.CheckAndUpdate(10) {
		t.Fatal("replay of the same id must be rejected")
	}
}

func TestSequenceWindowOutOfOrderAccepted(t *testing.T) {
	w := NewSequenceWindow()
	order := []uint64{5, 3, 4, 1, 2}
	for _, id := range order {
		if !w.CheckAndUpdate(id) {
			t.Fatalf("out-of-order id %d should be accepted on first submission", id)
		}
	}
	for _, id := range order {
		if w.CheckAndUpdate(id) {
			t.Fatalf("resubmission of %d should be rejected", id)
		}
	}
}

func TestSequenceWindowOldPacketRejected(t *testing.T) {
	w := NewSequenceWindowWithSize(4)
	for i := uint64(0); i < 10; i++ {
		w.CheckAndUpdate(i)
	}
	if w.CheckAndUpdate(0) {
		t.Fatal("packet older than the window should be rejected")
	}
}

func TestSequenceWindowSlides(t *testing.T) {
	w := NewSequenceWindowWithSize(8)
	for i := uint64(0); i < 20; i++ {
		if !w.CheckAndUpdate(i) {
			t.Fatalf("id %d should be accepted as the window slides", i)
		}
	}
	// Anything at or before highest-window_size should now be rejected.
	if w.CheckAndUpdate(w.Highest() - 8) {
		t.Fatal("id at the trailing edge of the window should be rejected")
	}
}

func TestSequenceWindowLargeJumpClearsBitmap(t *testing.T) {
	w := NewSequenceWindow()
	w.CheckAndUpdate(0)
	if !w.CheckAndUpdate(10_000) {
		t.Fatal("large forward jump should be accepted")
	}
	// The jump clears the window, so an old id far below it is rejected...
	if w.CheckAndUpdate(1) {
		t.Fatal("id far outside the new window should be rejected")
	}
	// ...but the new highest itself is recorded in the bitmap and a
	// replay of it is still caught.
	if w.CheckAndUpdate(10_000) {
		t.Fatal("replay of the new highest after a jump should be rejected")
	}
}

func TestSequenceWindowCheckWithoutUpdate(t *testing.T) {
	w := NewSequenceWindow()
	w.CheckAndUpdate(5)
	if !w.Check(6) {
		t.Fatal("Check should report acceptance without mutating")
	}
	// Calling Check again should give the same answer, proving no mutation.
	if !w.Check(6) {
		t.Fatal("Check must be idempotent")
	}
	if !w.CheckAndUpdate(6) {
		t.Fatal("CheckAndUpdate should still accept after repeated Check")
	}
}

func TestSequenceWindowHighest(t *testing.T) {
	w := NewSequenceWindow()
	w.CheckAndUpdate(5)
	w.CheckAndUpdate(3)
	w.CheckAndUpdate(9)
	if w.Highest() != 9 {
		t.Fatalf("Highest() = %d, want 9", w.Highest())
	}
}

func TestSequenceWindowSizeBoundsPanics(t *testing.T) {
	defer func() {
		if recover() == nil {
			t.Fatal("expected panic for window size 0")
		}
	}()
	NewSequenceWindowWithSize(0)
}
