// Package host implements the RIFT host side: it binds a UDP socket,
// accepts a single active viewer, and drives the capture→fragment→FEC→
// encrypt→send pipeline plus inbound handshake, ping, and stats
// handling.
package host

import (
	"context"
	"net"
	"sync"
	"time"

	"golang.org/x/sync/errgroup"

	"github.com/wavry-oss/rift/internal/cc"
	"github.com/wavry-oss/rift/internal/codec"
	"github.com/wavry-oss/rift/internal/crypto"
	"github.com/wavry-oss/rift/internal/fragment"
	"github.com/wavry-oss/rift/internal/handshake"
	"github.com/wavry-oss/rift/internal/logging"
	"github.com/wavry-oss/rift/internal/media"
	"github.com/wavry-oss/rift/internal/metrics"
	"github.com/wavry-oss/rift/internal/workerpool"
)

var log = logging.L("host")

const (
	inboundQueueSize = 256
	sendWorkers      = 4
	sendQueueSize    = 512
)

// Config configures a Loop. Conn, Static, and Frames are required;
// everything else falls back to SPEC_FULL.md defaults.
type Config struct {
	Conn   *net.UDPConn
	Static crypto.StaticKeypair

	// Frames delivers freshly encoded frames from the capture pipeline.
	// The Loop never owns capture; it only fragments and sends.
	Frames <-chan media.EncodedFrame

	Probe media.CapabilityProbe

	// Injector receives decoded InputEvent values forwarded by the
	// active viewer. Left nil, input packets are decrypted (to keep the
	// replay window and stats accurate) and then dropped.
	Injector media.Injector

	MaxDatagramSize int
	FECShardCount   uint8
	IdleTimeout     time.Duration
	CCConfig        cc.Config

	Metrics *metrics.Collector
}

// Loop is a running host session endpoint.
type Loop struct {
	cfg Config

	mu   sync.Mutex
	peer *peerState

	fragmenter *fragment.Fragmenter
	sendPool   *workerpool.Pool

	done     chan struct{}
	stopOnce sync.Once
	wg       sync.WaitGroup
}

// New constructs a Loop ready to Run.
func New(cfg Config) *Loop {
	if cfg.MaxDatagramSize <= 0 {
		cfg.MaxDatagramSize = 1200
	}
	if cfg.FECShardCount == 0 {
		cfg.FECShardCount = 8
	}
	if cfg.IdleTimeout <= 0 {
		cfg.IdleTimeout = 30 * time.Second
	}
	if cfg.Probe == nil {
		cfg.Probe = media.NullProbe{}
	}
	return &Loop{
		cfg:        cfg,
		fragmenter: fragment.NewFragmenter(cfg.MaxDatagramSize),
		sendPool:   workerpool.New(sendWorkers, sendQueueSize),
		done:       make(chan struct{}),
	}
}

// Run blocks until ctx is canceled or an unrecoverable error occurs. It
// runs the inbound datagram loop, the outbound encode-fragment-send
// pipeline, and a periodic idle sweep concurrently.
func (l *Loop) Run(ctx context.Context) error {
	g, ctx := errgroup.WithContext(ctx)

	g.Go(func() error {
		return l.inboundLoop(ctx)
	})
	g.Go(func() error {
		return l.outboundLoop(ctx)
	})
	g.Go(func() error {
		return l.idleSweepLoop(ctx)
	})

	err := g.Wait()
	l.Stop()
	return err
}

// Stop releases the Loop's resources. Safe to call multiple times.
func (l *Loop) Stop() {
	l.stopOnce.Do(func() {
		close(l.done)
	})
	l.wg.Wait()

	l.sendPool.StopAccepting()
	ctx, cancel := context.WithTimeout(context.Background(), 2*time.Second)
	defer cancel()
	l.sendPool.Drain(ctx)
}

func (l *Loop) inboundLoop(ctx context.Context) error {
	buf := make([]byte, 65535)
	for {
		select {
		case <-ctx.Done():
			return ctx.Err()
		case <-l.done:
			return nil
		default:
		}

		_ = l.cfg.Conn.SetReadDeadline(time.Now().Add(200 * time.Millisecond))
		n, from, err := l.cfg.Conn.ReadFromUDP(buf)
		if err != nil {
			if ne, ok := err.(net.Error); ok && ne.Timeout() {
				continue
			}
			select {
			case <-ctx.Done():
				return ctx.Err()
			case <-l.done:
				return nil
			default:
			}
			log.Warn("read error", "error", err)
			continue
		}

		raw := make([]byte, n)
		copy(raw, buf[:n])
		l.handleInbound(raw, from)
	}
}

func (l *Loop) handleInbound(raw []byte, from *net.UDPAddr) {
	pkt, err := codec.Decode(raw)
	if err != nil {
		if l.cfg.Metrics != nil {
			l.cfg.Metrics.CodecDecodeErrors.Inc()
		}
		log.Debug("dropping malformed packet", "from", from, "error", err)
		return
	}
	if l.cfg.Metrics != nil {
		l.cfg.Metrics.PacketsDecoded.Inc()
	}

	switch pkt.Channel {
	case codec.ChannelControl:
		l.handleControl(pkt, from)
	default:
		l.handleSessionPacket(pkt, from)
	}
}

func (l *Loop) handleControl(pkt codec.Packet, from *net.UDPAddr) {
	switch pkt.Tag {
	case codec.TagHello:
		l.handleHello(pkt, from)
	case codec.TagPing:
		l.handlePing(pkt, from)
	case codec.TagStats:
		l.handleStats(pkt, from)
	case codec.TagBye:
		l.handleBye(pkt, from)
	default:
		log.Debug("unhandled control message", "tag", pkt.Tag)
	}
}

// handleHello enforces the single-active-peer policy: a Hello from a
// different address while any peer is held (mid-handshake or
// established) is rejected.
// Noise_XX needs three inline messages, so this function sees a Hello
// packet twice from a completing peer: once carrying msg1 (fresh
// handshake) and once carrying msg3 (completing the handshake while the
// FSM sits in HelloAckSent).
func (l *Loop) handleHello(pkt codec.Packet, from *net.UDPAddr) {
	hello, err := codec.DecodeHello(pkt.Body)
	if err != nil {
		log.Debug("malformed hello", "error", err)
		return
	}

	l.mu.Lock()
	defer l.mu.Unlock()

	if l.peer != nil && !addrEqual(l.peer.addr, from) {
		l.sendHelloAck(from, [16]byte{}, false)
		return
	}

	if l.peer != nil && l.peer.fsm.State() == handshake.StateHelloAckSent && l.peer.hsState != nil && !l.peer.hsState.Complete() {
		l.completeHandshake(l.peer, hello, from)
		return
	}

	if l.peer == nil {
		l.peer = newPeerState(from, handshake.RoleHost, l.cfg.CCConfig, l.cfg.FECShardCount)
	}
	p := l.peer

	if _, err := p.fsm.Apply(handshake.EventReceiveHello); err != nil {
		log.Debug("hello rejected by fsm", "error", err)
		return
	}
	p.touch()

	hs, err := crypto.NewResponderHandshake(l.cfg.Static)
	if err != nil {
		log.Error("failed to start responder handshake", "error", err)
		return
	}
	p.hsState = hs

	if _, _, err := p.hsState.ReadMessage(hello.NoisePayload); err != nil {
		log.Debug("noise handshake read failed", "error", err)
		return
	}

	sessionID := handshake.NewSessionID(from)
	p.sessionID = sessionID

	msg, _, err := p.hsState.WriteMessage(nil)
	if err != nil {
		log.Debug("noise handshake write failed", "error", err)
		return
	}

	if _, err := p.fsm.Apply(handshake.EventSendHelloAck); err != nil {
		log.Debug("hello ack transition rejected", "error", err)
		return
	}
	l.sendHelloAckWithPayload(from, sessionID, true, msg)
}

// completeHandshake processes the viewer's third Noise_XX message,
// piggybacked on a second Hello packet, and establishes the session.
func (l *Loop) completeHandshake(p *peerState, hello codec.Hello, from *net.UDPAddr) {
	if _, _, err := p.hsState.ReadMessage(hello.NoisePayload); err != nil {
		log.Debug("noise handshake completion failed", "error", err)
		return
	}
	if !p.hsState.Complete() {
		log.Debug("third handshake message did not complete the handshake")
		return
	}

	hash, err := p.hsState.HandshakeHash()
	if err != nil {
		log.Error("handshake hash unavailable after completion", "error", err)
		return
	}
	keys, err := crypto.DeriveTransportKeys(hash)
	if err != nil {
		log.Error("transport key derivation failed", "error", err)
		return
	}
	session, err := crypto.NewEncryptedSession(keys, false, p.hsState.PeerStaticKey(), crypto.DefaultWindowSize)
	if err != nil {
		log.Error("failed to build encrypted session", "error", err)
		return
	}
	p.session = session

	if err := p.fsm.Establish(); err != nil {
		log.Debug("establish rejected", "error", err)
		return
	}
	p.touch()

	if l.cfg.Metrics != nil {
		l.cfg.Metrics.ObserveHandshake("host", "established", 0)
	}
}

func (l *Loop) sendHelloAck(to *net.UDPAddr, sessionID [16]byte, accepted bool) {
	l.sendHelloAckWithPayload(to, sessionID, accepted, nil)
}

func (l *Loop) sendHelloAckWithPayload(to *net.UDPAddr, sessionID [16]byte, accepted bool, noisePayload []byte) {
	body := codec.EncodeHelloAck(codec.HelloAck{
		Accepted:     accepted,
		SessionID:    sessionID,
		NoisePayload: noisePayload,
	})
	pkt := codec.Packet{
		Version:   codec.Version,
		SessionID: sessionID,
		PacketID:  0,
		Channel:   codec.ChannelControl,
		Tag:       codec.TagHelloAck,
		Body:      body,
	}
	l.send(to, codec.Encode(pkt))
}

func (l *Loop) handlePing(pkt codec.Packet, from *net.UDPAddr) {
	ping, err := codec.DecodePing(pkt.Body)
	if err != nil {
		return
	}
	pong := codec.Packet{
		Version:   codec.Version,
		SessionID: pkt.SessionID,
		Channel:   codec.ChannelControl,
		Tag:       codec.TagPong,
		Body:      codec.EncodePong(codec.Pong{TimestampUs: ping.TimestampUs}),
	}
	l.send(from, codec.Encode(pong))
}

func (l *Loop) handleStats(pkt codec.Packet, from *net.UDPAddr) {
	stats, err := codec.DecodeStats(pkt.Body)
	if err != nil {
		return
	}
	l.mu.Lock()
	p := l.peer
	l.mu.Unlock()
	if p == nil || !addrEqual(p.addr, from) {
		return
	}
	p.touch()
	p.congestion.OnSample(float64(stats.RTTUs), stats.LossRatio(), float64(stats.JitterUs))
	if l.cfg.Metrics != nil {
		l.cfg.Metrics.SetDeltaState([]string{"stable", "rising", "congested"}, p.congestion.State().String())
		l.cfg.Metrics.DeltaBitrate.Set(p.congestion.BitrateKbps())
		l.cfg.Metrics.DeltaFPS.Set(float64(p.congestion.FPS()))
		l.cfg.Metrics.DeltaFECRatio.Set(p.congestion.FECRatio())
	}
}

func (l *Loop) handleBye(pkt codec.Packet, from *net.UDPAddr) {
	l.mu.Lock()
	if l.peer != nil && addrEqual(l.peer.addr, from) {
		l.peer = nil
	}
	l.mu.Unlock()
}

// handleSessionPacket handles any non-control channel: these require a
// matching established session id, and anything else is dropped.
func (l *Loop) handleSessionPacket(pkt codec.Packet, from *net.UDPAddr) {
	l.mu.Lock()
	p := l.peer
	l.mu.Unlock()

	if p == nil || !addrEqual(p.addr, from) || codec.IsUnassigned(pkt.SessionID) {
		return
	}
	if pkt.SessionID != p.sessionID {
		return
	}
	p.touch()

	if pkt.Channel != codec.ChannelInput || p.session == nil {
		return
	}

	assocData := []byte{byte(codec.ChannelInput)}
	plaintext, err := p.session.Decrypt(pkt.PacketID, assocData, pkt.Body)
	if err != nil {
		log.Debug("input packet decrypt failed", "error", err)
		return
	}
	if l.cfg.Injector == nil {
		return
	}
	event := media.InputEvent{
		TimestampUs: uint64(time.Now().UnixMicro()),
		Data:        plaintext,
	}
	if err := l.cfg.Injector.Inject(context.Background(), event); err != nil {
		log.Debug("input injection failed", "error", err)
	}
}

func (l *Loop) send(to *net.UDPAddr, raw []byte) {
	if _, err := l.cfg.Conn.WriteToUDP(raw, to); err != nil {
		log.Debug("send error", "error", err)
		return
	}
	if l.cfg.Metrics != nil {
		l.cfg.Metrics.PacketsEncoded.Inc()
	}
}

// dispatchSend hands a media-channel datagram to the send pool so one
// slow write syscall can't stall the fragmenter/FEC pipeline. Packet
// ids are already assigned by the time this is called, so reordering
// across workers is harmless — the replay window and jitter buffer on
// the receiving side both tolerate it.
func (l *Loop) dispatchSend(to *net.UDPAddr, raw []byte) {
	if !l.sendPool.Submit(func() { l.send(to, raw) }) {
		log.Warn("send pool saturated, dropping media datagram")
	}
}

// outboundLoop fragments and sends every frame the capture pipeline
// produces, tapping the fragment stream for FEC parity every N-1
// fragments.
func (l *Loop) outboundLoop(ctx context.Context) error {
	for {
		select {
		case <-ctx.Done():
			return ctx.Err()
		case <-l.done:
			return nil
		case frame, ok := <-l.cfg.Frames:
			if !ok {
				return nil
			}
			l.sendFrame(frame)
		}
	}
}

func (l *Loop) sendFrame(frame media.EncodedFrame) {
	l.mu.Lock()
	p := l.peer
	l.mu.Unlock()
	if p == nil || p.session == nil {
		return
	}

	frameID := p.nextFrame()
	chunks := l.fragmenter.Fragment(frameID, frame.TimestampUs, frame.Keyframe, frame.Data)

	for _, chunk := range chunks {
		body := codec.EncodeVideoChunk(chunk)

		assocData := []byte{byte(codec.ChannelMedia)}
		packetID, ciphertext := p.session.Encrypt(assocData, body)

		pkt := codec.Packet{
			Version:   codec.Version,
			SessionID: p.sessionID,
			PacketID:  packetID,
			Channel:   codec.ChannelMedia,
			Tag:       codec.TagVideoChunk,
			Body:      ciphertext,
		}
		l.dispatchSend(p.addr, codec.Encode(pkt))

		if firstID, parity, ready := p.fecBuilder.Add(packetID, body); ready {
			if l.cfg.Metrics != nil {
				l.cfg.Metrics.FECPacketsEmitted.Inc()
			}
			l.sendFECPacket(p, firstID, parity)
		}
	}
}

func (l *Loop) sendFECPacket(p *peerState, firstID uint64, parity []byte) {
	body := codec.EncodeFecPacket(codec.FecPacket{
		FirstPacketID: firstID,
		ShardCount:    l.cfg.FECShardCount,
		Payload:       parity,
	})
	assocData := []byte{byte(codec.ChannelMedia)}
	packetID, ciphertext := p.session.Encrypt(assocData, body)

	pkt := codec.Packet{
		Version:   codec.Version,
		SessionID: p.sessionID,
		PacketID:  packetID,
		Channel:   codec.ChannelMedia,
		Tag:       codec.TagFecPacket,
		Body:      ciphertext,
	}
	l.dispatchSend(p.addr, codec.Encode(pkt))
}

func (l *Loop) idleSweepLoop(ctx context.Context) error {
	ticker := time.NewTicker(5 * time.Second)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			return ctx.Err()
		case <-l.done:
			return nil
		case <-ticker.C:
			l.mu.Lock()
			if l.peer != nil && l.peer.idleSince() > l.cfg.IdleTimeout {
				log.Info("peer idle timeout, clearing session", "addr", l.peer.addr)
				l.peer = nil
			}
			l.mu.Unlock()

			if l.cfg.Metrics != nil {
				l.cfg.Metrics.SendQueueDepth.Set(float64(l.sendPool.QueueDepth()))
			}
		}
	}
}
