package host

import (
	"net"
	"sync/atomic"
	"time"

	"github.com/wavry-oss/rift/internal/cc"
	"github.com/wavry-oss/rift/internal/crypto"
	"github.com/wavry-oss/rift/internal/fec"
	"github.com/wavry-oss/rift/internal/handshake"
	"github.com/wavry-oss/rift/internal/jitter"
)

// peerState is the host's bookkeeping for its single active peer. Only
// one of these exists at a time: the host enforces a single-peer policy
// at Hello time.
type peerState struct {
	addr *net.UDPAddr

	fsm       *handshake.FSM
	hsState   *crypto.HandshakeState
	session   *crypto.EncryptedSession
	sessionID [16]byte

	nextPacketID atomic.Uint64
	frameID      atomic.Uint64

	fecBuilder *fec.Builder

	jitterEstimator *jitter.Estimator
	congestion      *cc.Controller

	lastSeen atomic.Int64 // unix nanos
}

func newPeerState(addr *net.UDPAddr, role handshake.Role, ccCfg cc.Config, fecShardCount uint8) *peerState {
	p := &peerState{
		addr:            addr,
		fsm:             handshake.New(role),
		fecBuilder:      fec.NewBuilder(fecShardCount),
		jitterEstimator: jitter.New(),
		congestion:      cc.New(ccCfg),
	}
	p.touch()
	return p
}

func (p *peerState) touch() {
	p.lastSeen.Store(time.Now().UnixNano())
}

func (p *peerState) idleSince() time.Duration {
	last := p.lastSeen.Load()
	if last == 0 {
		return 0
	}
	return time.Since(time.Unix(0, last))
}

func (p *peerState) nextPacket() uint64 {
	return p.nextPacketID.Add(1) - 1
}

func (p *peerState) nextFrame() uint64 {
	return p.frameID.Add(1) - 1
}

func addrEqual(a, b *net.UDPAddr) bool {
	if a == nil || b == nil {
		return a == b
	}
	return a.IP.Equal(b.IP) && a.Port == b.Port
}
