package fragment

import (
	"time"

	"github.com/wavry-oss/rift/internal/codec"
)

// FrameTimeout is how long an incomplete frame buffer survives before
// being garbage collected.
const FrameTimeout = 50 * time.Millisecond

// AssembledFrame is a fully reassembled frame, ready to hand to a
// decoder.
type AssembledFrame struct {
	FrameID     uint64
	TimestampUs uint64
	Keyframe    bool
	Data        []byte
}

type frameBuffer struct {
	firstSeen   time.Time
	timestampUs uint64
	keyframe    bool
	chunkCount  int
	filled      int
	chunks      [][]byte
}

// Assembler reassembles VideoChunks into AssembledFrames, keyed by
// frame id. It is not safe for concurrent use; the owning loop (viewer
// or host-side loopback test) serializes access.
type Assembler struct {
	now     func() time.Time
	timeout time.Duration
	buffers map[uint64]*frameBuffer
}

// NewAssembler returns an assembler using the default frame timeout.
func NewAssembler() *Assembler {
	return NewAssemblerWithClock(time.Now, FrameTimeout)
}

// NewAssemblerWithClock allows tests to inject a deterministic clock
// and a shorter timeout.
func NewAssemblerWithClock(now func() time.Time, timeout time.Duration) *Assembler {
	return &Assembler{now: now, timeout: timeout, buffers: make(map[uint64]*frameBuffer)}
}

// Insert feeds one chunk into the assembler. It returns the assembled
// frame if this chunk completed it, or nil otherwise. Stale buffers are
// garbage collected on every insertion — there is no background timer.
func (a *Assembler) Insert(chunk codec.VideoChunk) *AssembledFrame {
	now := a.now()
	a.gc(now)

	if int(chunk.ChunkIndex) >= int(chunk.ChunkCount) || chunk.ChunkCount == 0 {
		return nil
	}

	buf, ok := a.buffers[chunk.FrameID]
	if !ok {
		buf = &frameBuffer{
			firstSeen:   now,
			timestampUs: chunk.TimestampUs,
			keyframe:    chunk.Keyframe,
			chunkCount:  int(chunk.ChunkCount),
			chunks:      make([][]byte, chunk.ChunkCount),
		}
		a.buffers[chunk.FrameID] = buf
	}

	if int(chunk.ChunkCount) != buf.chunkCount {
		// Inconsistent chunk_count for this frame id; ignore the chunk
		// rather than corrupt the buffer.
		return nil
	}

	if buf.chunks[chunk.ChunkIndex] != nil {
		return nil // duplicate chunk, discard
	}
	buf.chunks[chunk.ChunkIndex] = chunk.Payload
	buf.filled++

	if buf.filled < buf.chunkCount {
		return nil
	}

	delete(a.buffers, chunk.FrameID)

	total := 0
	for _, c := range buf.chunks {
		total += len(c)
	}
	data := make([]byte, 0, total)
	for _, c := range buf.chunks {
		data = append(data, c...)
	}

	return &AssembledFrame{
		FrameID:     chunk.FrameID,
		TimestampUs: buf.timestampUs,
		Keyframe:    buf.keyframe,
		Data:        data,
	}
}

func (a *Assembler) gc(now time.Time) {
	for id, buf := range a.buffers {
		if now.Sub(buf.firstSeen) > a.timeout {
			delete(a.buffers, id)
		}
	}
}

// PendingCount reports how many incomplete frame buffers are live, for
// metrics/tests.
func (a *Assembler) PendingCount() int {
	return len(a.buffers)
}
