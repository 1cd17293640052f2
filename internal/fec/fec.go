// Package fec implements XOR forward error correction over a rolling
// group of N media packets: a stateless sender-side builder and a
// receiver-side cache capable of recovering exactly one lost packet per
// group.
package fec

// DefaultShardCount is N, the group size over which one FEC packet is
// built (shard_count in SPEC_FULL.md §4.5).
const DefaultShardCount = 8

// DefaultCacheSize is the maximum number of encoded media packets held
// for recovery.
const DefaultCacheSize = 256

func xorInto(dst []byte, src []byte) []byte {
	if len(src) > len(dst) {
		grown := make([]byte, len(src))
		copy(grown, dst)
		dst = grown
	}
	for i, b := range src {
		dst[i] ^= b
	}
	return dst
}

// Builder accumulates media packets for the current group and emits an
// FEC parity payload every N-1 packets. It holds no cross-group state
// beyond the current group's buffer, matching the "stateless over a
// rolling group" description.
type Builder struct {
	shardCount uint8

	groupFirstID uint64
	haveFirst    bool
	buffered     [][]byte
}

// NewBuilder returns a Builder for groups of shardCount packets.
func NewBuilder(shardCount uint8) *Builder {
	if shardCount < 2 {
		shardCount = DefaultShardCount
	}
	return &Builder{shardCount: shardCount}
}

// Add feeds one outbound media packet (its full encoded bytes, keyed by
// packetID) into the builder. It returns an FEC parity payload and its
// first_packet_id once N-1 packets have been buffered, resetting the
// group afterward.
func (b *Builder) Add(packetID uint64, encoded []byte) (firstPacketID uint64, parity []byte, ready bool) {
	if !b.haveFirst {
		b.groupFirstID = packetID
		b.haveFirst = true
	}
	cp := make([]byte, len(encoded))
	copy(cp, encoded)
	b.buffered = append(b.buffered, cp)

	if len(b.buffered) < int(b.shardCount)-1 {
		return 0, nil, false
	}

	parity = make([]byte, 0)
	for _, pkt := range b.buffered {
		parity = xorInto(parity, pkt)
	}
	firstPacketID = b.groupFirstID

	b.buffered = nil
	b.haveFirst = false
	return firstPacketID, parity, true
}

// Cache stores recently received media packets keyed by packet id,
// evicting the lowest id once full, and recovers a single lost packet
// per FEC group.
type Cache struct {
	maxSize int
	byID    map[uint64][]byte
}

// NewCache returns a Cache holding up to maxSize packets.
func NewCache(maxSize int) *Cache {
	if maxSize < 1 {
		maxSize = DefaultCacheSize
	}
	return &Cache{maxSize: maxSize, byID: make(map[uint64][]byte)}
}

// Put records a successfully received (and decrypted) media packet.
// Packets can arrive out of order, so eviction scans for the lowest id
// rather than assuming insertion order tracks numeric order.
func (c *Cache) Put(packetID uint64, encoded []byte) {
	if _, exists := c.byID[packetID]; exists {
		return
	}
	cp := make([]byte, len(encoded))
	copy(cp, encoded)
	c.byID[packetID] = cp

	for len(c.byID) > c.maxSize {
		lowest, first := uint64(0), true
		for id := range c.byID {
			if first || id < lowest {
				lowest = id
				first = false
			}
		}
		delete(c.byID, lowest)
	}
}

// Get returns a previously cached packet, if present.
func (c *Cache) Get(packetID uint64) ([]byte, bool) {
	v, ok := c.byID[packetID]
	return v, ok
}

// Recover attempts to reconstruct exactly one missing packet in the
// group [firstPacketID, firstPacketID+shardCount-2] (the N-1 media
// packets the parity covers) given the FEC parity payload. It returns
// the recovered packet id and bytes, or ok=false if zero or more than
// one packet in the group is missing.
func (c *Cache) Recover(firstPacketID uint64, shardCount uint8, parity []byte) (recoveredID uint64, recovered []byte, ok bool) {
	groupSize := int(shardCount) - 1
	missingCount := 0
	var missingID uint64

	result := make([]byte, 0)
	for i := 0; i < groupSize; i++ {
		id := firstPacketID + uint64(i)
		data, present := c.byID[id]
		if !present {
			missingCount++
			missingID = id
			if missingCount > 1 {
				return 0, nil, false
			}
			continue
		}
		result = xorInto(result, data)
	}

	if missingCount != 1 {
		return 0, nil, false
	}

	result = xorInto(result, parity)
	return missingID, result, true
}
