package fec

import (
	"bytes"
	"math/rand"
	"testing"
)

func samplePackets(n int, seed int64) [][]byte {
	r := rand.New(rand.NewSource(seed))
	pkts := make([][]byte, n)
	for i := range pkts {
		size := 20 + r.Intn(200)
		buf := make([]byte, size)
		r.Read(buf)
		pkts[i] = buf
	}
	return pkts
}

func buildGroup(t *testing.T, shardCount uint8, pkts [][]byte, firstID uint64) (uint64, []byte) {
	t.Helper()
	b := NewBuilder(shardCount)
	var gotFirst uint64
	var parity []byte
	var ready bool
	for i, pkt := range pkts {
		gotFirst, parity, ready = b.Add(firstID+uint64(i), pkt)
	}
	if !ready {
		t.Fatalf("expected builder to emit parity after %d packets", len(pkts))
	}
	if gotFirst != firstID {
		t.Fatalf("expected first id %d, got %d", firstID, gotFirst)
	}
	return gotFirst, parity
}

func TestBuilderEmitsAfterNMinus1Packets(t *testing.T) {
	const shardCount = 8
	pkts := samplePackets(shardCount-1, 1)
	buildGroup(t, shardCount, pkts, 100)
}

func TestBuilderDoesNotEmitBeforeGroupComplete(t *testing.T) {
	const shardCount = 8
	b := NewBuilder(shardCount)
	pkts := samplePackets(shardCount-2, 2)
	for i, pkt := range pkts {
		_, _, ready := b.Add(uint64(i), pkt)
		if ready {
			t.Fatalf("builder emitted parity early at packet %d", i)
		}
	}
}

func TestRecoverSingleLossBitExact(t *testing.T) {
	const shardCount = 8
	const firstID = uint64(1)
	pkts := samplePackets(shardCount-1, 3)
	gotFirst, parity := buildGroup(t, shardCount, pkts, firstID)

	for missing := 0; missing < len(pkts); missing++ {
		cache := NewCache(DefaultCacheSize)
		for i, pkt := range pkts {
			if i == missing {
				continue
			}
			cache.Put(firstID+uint64(i), pkt)
		}

		recoveredID, recovered, ok := cache.Recover(gotFirst, shardCount, parity)
		if !ok {
			t.Fatalf("expected recovery to succeed with packet %d missing", missing)
		}
		wantID := firstID + uint64(missing)
		if recoveredID != wantID {
			t.Fatalf("expected recovered id %d, got %d", wantID, recoveredID)
		}
		if !bytes.Equal(recovered, pkts[missing]) {
			t.Fatalf("recovered bytes do not match original packet %d", missing)
		}
	}
}

func TestRecoverNoLossDiscardsParity(t *testing.T) {
	const shardCount = 8
	const firstID = uint64(50)
	pkts := samplePackets(shardCount-1, 4)
	gotFirst, parity := buildGroup(t, shardCount, pkts, firstID)

	cache := NewCache(DefaultCacheSize)
	for i, pkt := range pkts {
		cache.Put(firstID+uint64(i), pkt)
	}

	if _, _, ok := cache.Recover(gotFirst, shardCount, parity); ok {
		t.Fatal("expected no recovery when nothing is missing")
	}
}

func TestRecoverTwoLossesCannotRecover(t *testing.T) {
	const shardCount = 8
	const firstID = uint64(7)
	pkts := samplePackets(shardCount-1, 5)
	gotFirst, parity := buildGroup(t, shardCount, pkts, firstID)

	cache := NewCache(DefaultCacheSize)
	for i, pkt := range pkts {
		if i == 1 || i == 4 {
			continue
		}
		cache.Put(firstID+uint64(i), pkt)
	}

	if _, _, ok := cache.Recover(gotFirst, shardCount, parity); ok {
		t.Fatal("expected recovery to fail with two packets missing")
	}
}

// TestScenarioSenderEmitsSevenPacketsReceiverMissesOne mirrors the p1-p7
// plus FEC scenario: the receiver misses one media packet, recovers it
// from the FEC packet, and the recovered bytes reconstruct the frame
// identically to a no-loss run.
func TestScenarioSenderEmitsSevenPacketsReceiverMissesOne(t *testing.T) {
	const shardCount = 8 // 7 media packets + 1 FEC packet
	pkts := samplePackets(shardCount-1, 42)
	firstID, parity := buildGroup(t, shardCount, pkts, 1)

	const missingIdx = 3
	cache := NewCache(DefaultCacheSize)
	for i, pkt := range pkts {
		if i == missingIdx {
			continue
		}
		cache.Put(firstID+uint64(i), pkt)
	}

	recoveredID, recovered, ok := cache.Recover(firstID, shardCount, parity)
	if !ok {
		t.Fatal("expected single missing packet to be recoverable")
	}
	if recoveredID != firstID+missingIdx {
		t.Fatalf("expected recovered id %d, got %d", firstID+missingIdx, recoveredID)
	}

	reassembled := make([][]byte, shardCount-1)
	for i := range pkts {
		if i == missingIdx {
			reassembled[i] = recovered
			continue
		}
		got, _ := cache.Get(firstID + uint64(i))
		reassembled[i] = got
	}
	for i, pkt := range pkts {
		if !bytes.Equal(reassembled[i], pkt) {
			t.Fatalf("reassembled packet %d does not match original", i)
		}
	}
}

func TestCacheEvictsLowestIDWhenFull(t *testing.T) {
	cache := NewCache(4)
	for i := uint64(0); i < 4; i++ {
		cache.Put(i, []byte{byte(i)})
	}
	cache.Put(4, []byte{4})

	if _, ok := cache.Get(0); ok {
		t.Fatal("expected lowest id 0 to have been evicted")
	}
	if _, ok := cache.Get(4); !ok {
		t.Fatal("expected newly inserted id 4 to be present")
	}
}

func TestCachePutIgnoresDuplicateID(t *testing.T) {
	cache := NewCache(DefaultCacheSize)
	cache.Put(1, []byte{1, 2, 3})
	cache.Put(1, []byte{9, 9, 9})

	got, ok := cache.Get(1)
	if !ok || !bytes.Equal(got, []byte{1, 2, 3}) {
		t.Fatal("expected first write for a packet id to win")
	}
}

func TestXorIntoHandlesUnequalLengths(t *testing.T) {
	a := []byte{1, 2}
	b := []byte{1, 2, 3, 4}
	got := xorInto(a, b)
	want := []byte{0, 0, 3, 4}
	if !bytes.Equal(got, want) {
		t.Fatalf("expected %v, got %v", want, got)
	}
}
