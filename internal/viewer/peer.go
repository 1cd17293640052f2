package viewer

import (
	"sync/atomic"
	"time"

	"github.com/wavry-oss/rift/internal/crypto"
	"github.com/wavry-oss/rift/internal/fec"
	"github.com/wavry-oss/rift/internal/fragment"
	"github.com/wavry-oss/rift/internal/handshake"
	"github.com/wavry-oss/rift/internal/jitter"
	"github.com/wavry-oss/rift/internal/nack"
)

// hostState is the viewer's bookkeeping for its single remote host. A
// viewer talks to exactly one host at a time.
type hostState struct {
	fsm       *handshake.FSM
	hsState   *crypto.HandshakeState
	session   *crypto.EncryptedSession
	sessionID [16]byte

	nextPacketID atomic.Uint64

	assembler *fragment.Assembler
	fecCache  *fec.Cache
	nackWin   *nack.Window

	jitterEstimator *jitter.Estimator
	playback        *jitter.Buffer

	receivedCount atomic.Uint64
	lostCount     atomic.Uint64

	lastSeen atomic.Int64 // unix nanos
}

func newHostState(fecCacheSize int) *hostState {
	h := &hostState{
		fsm:             handshake.New(handshake.RoleClient),
		assembler:       fragment.NewAssembler(),
		fecCache:        fec.NewCache(fecCacheSize),
		nackWin:         nack.New(),
		jitterEstimator: jitter.New(),
		playback:        jitter.NewBuffer(),
	}
	h.touch()
	return h
}

func (h *hostState) touch() {
	h.lastSeen.Store(time.Now().UnixNano())
}

func (h *hostState) idleSince() time.Duration {
	last := h.lastSeen.Load()
	if last == 0 {
		return 0
	}
	return time.Since(time.Unix(0, last))
}

func (h *hostState) nextPacket() uint64 {
	return h.nextPacketID.Add(1) - 1
}
