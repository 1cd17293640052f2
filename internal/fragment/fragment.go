// Package fragment chunks encoded video frames to fit within a
// datagram's MTU budget and reassembles them on the receive side.
package fragment

import (
	"github.com/wavry-oss/rift/internal/codec"
)

// Fragmenter splits frames into VideoChunk bodies sized to stay under
// maxDatagramSize once wrapped in a full packet header and AEAD
// expansion.
type Fragmenter struct {
	chunkSize int
}

// aeadOverhead is the ChaCha20-Poly1305 tag size added to every
// encrypted packet.
const aeadOverhead = 16

// NewFragmenter computes the maximum chunk payload size by encoding a
// zero-payload probe VideoChunk packet and subtracting its size (plus
// AEAD expansion) from maxDatagramSize.
func NewFragmenter(maxDatagramSize int) *Fragmenter {
	probeBody := codec.EncodeVideoChunk(codec.VideoChunk{})
	probe := codec.Encode(codec.Packet{
		Version: codec.Version,
		Channel: codec.ChannelMedia,
		Tag:     codec.TagVideoChunk,
		Body:    probeBody,
	})
	overhead := len(probe) + aeadOverhead
	size := maxDatagramSize - overhead
	if size < 1 {
		size = 1
	}
	return &Fragmenter{chunkSize: size}
}

// ChunkSize returns the maximum payload size per chunk.
func (f *Fragmenter) ChunkSize() int { return f.chunkSize }

// Fragment splits data into VideoChunks for the given frame metadata.
// An empty frame still yields exactly one (empty) chunk so that
// zero-length frames round-trip through the assembler.
func (f *Fragmenter) Fragment(frameID uint64, timestampUs uint64, keyframe bool, data []byte) []codec.VideoChunk {
	if len(data) == 0 {
		return []codec.VideoChunk{{
			FrameID:     frameID,
			ChunkIndex:  0,
			ChunkCount:  1,
			TimestampUs: timestampUs,
			Keyframe:    keyframe,
			Payload:     nil,
		}}
	}

	count := (len(data) + f.chunkSize - 1) / f.chunkSize
	chunks := make([]codec.VideoChunk, 0, count)
	for i := 0; i < count; i++ {
		start := i * f.chunkSize
		end := start + f.chunkSize
		if end > len(data) {
			end = len(data)
		}
		chunks = append(chunks, codec.VideoChunk{
			FrameID:     frameID,
			ChunkIndex:  uint16(i),
			ChunkCount:  uint16(count),
			TimestampUs: timestampUs,
			Keyframe:    keyframe,
			Payload:     data[start:end],
		})
	}
	return chunks
}
