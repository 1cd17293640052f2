package relay

import (
	"net"
	"sync"
	"time"

	"github.com/google/uuid"
	"golang.org/x/time/rate"

	"github.com/wavry-oss/rift/internal/crypto"
	"github.com/wavry-oss/rift/internal/metrics"
)

// SessionState is a relay session's bonding lifecycle.
type SessionState int

const (
	SessionInit SessionState = iota
	SessionWaitingPeer
	SessionActive
)

// slotIndex maps PeerRole to a fixed position in session.slots so both
// peers of a session have a stable, order-independent home.
func slotIndex(role PeerRole) int {
	if role == RoleServer {
		return 1
	}
	return 0
}

type slot struct {
	bound  bool
	addr   *net.UDPAddr
	window *crypto.SequenceWindow
	outSeq uint64
}

type session struct {
	id       uuid.UUID
	state    SessionState
	slots    [2]slot
	limiter  *rate.Limiter
	lastSeen time.Time
	expires  time.Time
}

func (s *session) otherSlot(i int) int {
	if i == 0 {
		return 1
	}
	return 0
}

// ForwarderConfig parameterizes a Forwarder's limits and lease secret.
type ForwarderConfig struct {
	Secret            []byte
	MaxSessions       int
	BandwidthBPSPerSession int
	IdleTimeout       time.Duration
	Metrics           *metrics.Collector

	// Now allows tests to inject a deterministic clock.
	Now func() time.Time
}

// Forwarder binds pairs of peers into relay sessions and copies
// Forward-tagged datagrams between the two slots, subject to a
// per-session token-bucket bandwidth limit and replay protection.
type Forwarder struct {
	cfg ForwarderConfig
	now func() time.Time

	mu       sync.Mutex
	sessions map[uuid.UUID]*session
}

// NewForwarder constructs a Forwarder. Zero-value MaxSessions/
// BandwidthBPSPerSession/IdleTimeout fall back to sane defaults.
func NewForwarder(cfg ForwarderConfig) *Forwarder {
	if cfg.MaxSessions <= 0 {
		cfg.MaxSessions = 4096
	}
	if cfg.BandwidthBPSPerSession <= 0 {
		cfg.BandwidthBPSPerSession = 8 * 1024 * 1024 / 8 // 8 Mbps
	}
	if cfg.IdleTimeout <= 0 {
		cfg.IdleTimeout = 30 * time.Second
	}
	if cfg.Now == nil {
		cfg.Now = time.Now
	}
	return &Forwarder{
		cfg:      cfg,
		now:      cfg.Now,
		sessions: make(map[uuid.UUID]*session),
	}
}

// HandleLeasePresent verifies a presented lease and attaches the
// presenting peer to its declared role's slot, creating the session on
// first sight. It returns the wire body of the ack or reject response
// to send back to from.
func (f *Forwarder) HandleLeasePresent(sessionID uuid.UUID, payload LeasePresentPayload, from *net.UDPAddr) []byte {
	claims, err := VerifyLease(f.cfg.Secret, payload.Token, sessionID, f.now())
	if err != nil {
		return EncodeLeaseReject(LeaseRejectPayload{Reason: leaseRejectReason(err)})
	}
	if claims.Role != payload.Role {
		return EncodeLeaseReject(LeaseRejectPayload{Reason: RejectInvalidSignature})
	}

	f.mu.Lock()
	defer f.mu.Unlock()

	sess, ok := f.sessions[sessionID]
	if !ok {
		if len(f.sessions) >= f.cfg.MaxSessions {
			return EncodeLeaseReject(LeaseRejectPayload{Reason: RejectSessionFull})
		}
		sess = &session{
			id:    sessionID,
			state: SessionInit,
			limiter: rate.NewLimiter(
				rate.Limit(f.cfg.BandwidthBPSPerSession),
				f.cfg.BandwidthBPSPerSession,
			),
		}
		sess.slots[0].window = crypto.NewSequenceWindow()
		sess.slots[1].window = crypto.NewSequenceWindow()
		f.sessions[sessionID] = sess
	}

	// The signed lease already proves which peer this is (session id +
	// declared role), so a fresh address here is a legitimate NAT
	// rebind, not an impersonation attempt: update the slot in place
	// rather than rejecting on address mismatch.
	idx := slotIndex(claims.Role)
	s := &sess.slots[idx]
	s.bound = true
	s.addr = from

	sess.expires = time.UnixMilli(int64(claims.ExpiresAtMs))
	sess.lastSeen = f.now()

	if sess.slots[0].bound && sess.slots[1].bound {
		sess.state = SessionActive
	} else {
		sess.state = SessionWaitingPeer
	}

	if f.cfg.Metrics != nil {
		f.cfg.Metrics.RelayActiveSessions.Set(float64(f.activeCountLocked()))
	}

	return EncodeLeaseAck(LeaseAckPayload{
		ExpiresMs:     claims.ExpiresAtMs,
		SoftLimitKbps: uint32(f.cfg.BandwidthBPSPerSession * 8 / 1000),
		HardLimitKbps: uint32(f.cfg.BandwidthBPSPerSession * 8 / 1000),
	})
}

func leaseRejectReason(err error) RejectReason {
	switch err {
	case ErrLeaseExpired:
		return RejectExpired
	case ErrLeaseWrongSession:
		return RejectWrongRelay
	default:
		return RejectInvalidSignature
	}
}

// HandleForward forwards a Forward-tagged datagram between a session's
// two slots. The sending slot is identified purely by source address:
// a forwarded packet from an address matching neither bound slot is
// rejected outright. A peer that has moved networks (NAT rebind) must
// first re-present its signed lease (LeasePresent/LeaseRenew) from the
// new address, which proves identity cryptographically and updates the
// slot's address before forward traffic resumes.
//
// It returns the target address and a complete outbound relay
// datagram (header plus a freshly numbered ForwardHeader for that hop
// plus the original inner payload), ready to write to the socket.
func (f *Forwarder) HandleForward(sessionID uuid.UUID, body []byte, from *net.UDPAddr) (*net.UDPAddr, []byte, bool) {
	fh, err := DecodeForwardHeader(body)
	if err != nil {
		return nil, nil, false
	}
	payload := body[forwardHeaderSize:]

	f.mu.Lock()
	defer f.mu.Unlock()

	sess, ok := f.sessions[sessionID]
	if !ok || sess.state != SessionActive {
		return nil, nil, false
	}

	idx := -1
	for i := range sess.slots {
		if sess.slots[i].bound && addrEqual(sess.slots[i].addr, from) {
			idx = i
			break
		}
	}
	if idx == -1 {
		return nil, nil, false
	}
	s := &sess.slots[idx]

	if !s.window.CheckAndUpdate(fh.Sequence) {
		return nil, nil, false
	}

	if !sess.limiter.AllowN(f.now(), len(payload)) {
		return nil, nil, false
	}

	sess.lastSeen = f.now()

	target := &sess.slots[sess.otherSlot(idx)]
	if !target.bound {
		return nil, nil, false
	}

	if f.cfg.Metrics != nil {
		f.cfg.Metrics.RelayBytesForwarded.Add(float64(len(payload)))
	}

	outSeq := target.outSeq
	target.outSeq++

	out := EncodeHeader(Header{Version: Version, Type: TypeForward, SessionID: sessionID}, forwardHeaderSize+len(payload))
	copy(out[HeaderSize:], EncodeForwardHeader(ForwardHeader{Sequence: outSeq}))
	copy(out[HeaderSize+forwardHeaderSize:], payload)

	return target.addr, out, true
}

// ReapIdle removes sessions with no activity for longer than the
// configured idle timeout, or whose lease has expired, returning the
// count removed.
func (f *Forwarder) ReapIdle() int {
	now := f.now()

	f.mu.Lock()
	defer f.mu.Unlock()

	removed := 0
	for id, sess := range f.sessions {
		idle := now.Sub(sess.lastSeen) > f.cfg.IdleTimeout
		expired := !sess.expires.IsZero() && now.After(sess.expires)
		if idle || expired {
			delete(f.sessions, id)
			removed++
		}
	}
	if f.cfg.Metrics != nil {
		f.cfg.Metrics.RelayActiveSessions.Set(float64(f.activeCountLocked()))
	}
	return removed
}

// SessionCount reports the number of currently tracked sessions.
func (f *Forwarder) SessionCount() int {
	f.mu.Lock()
	defer f.mu.Unlock()
	return len(f.sessions)
}

// State reports a session's current lifecycle state, for tests and
// diagnostics. The second return value is false if the session is
// unknown.
func (f *Forwarder) State(sessionID uuid.UUID) (SessionState, bool) {
	f.mu.Lock()
	defer f.mu.Unlock()
	sess, ok := f.sessions[sessionID]
	if !ok {
		return SessionInit, false
	}
	return sess.state, true
}

func (f *Forwarder) activeCountLocked() int {
	count := 0
	for _, sess := range f.sessions {
		if sess.state == SessionActive {
			count++
		}
	}
	return count
}

func addrEqual(a, b *net.UDPAddr) bool {
	if a == nil || b == nil {
		return a == b
	}
	return a.IP.Equal(b.IP) && a.Port == b.Port
}
