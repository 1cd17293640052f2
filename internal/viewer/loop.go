// Package viewer implements the RIFT viewer side: it completes the
// Noise_XX handshake as initiator, decrypts and reassembles the media
// stream, recovers single losses via FEC, paces playback through a
// jitter buffer, and reports RTT/jitter/loss back to the host.
package viewer

import (
	"context"
	"net"
	"sync"
	"time"

	"golang.org/x/sync/errgroup"

	"github.com/wavry-oss/rift/internal/codec"
	"github.com/wavry-oss/rift/internal/crypto"
	"github.com/wavry-oss/rift/internal/fragment"
	"github.com/wavry-oss/rift/internal/handshake"
	"github.com/wavry-oss/rift/internal/logging"
	"github.com/wavry-oss/rift/internal/media"
	"github.com/wavry-oss/rift/internal/metrics"
)

var log = logging.L("viewer")

// Config configures a Loop. Conn, HostAddr, and Static are required.
type Config struct {
	Conn     *net.UDPConn
	HostAddr *net.UDPAddr
	Static   crypto.StaticKeypair

	Codecs    []string
	MaxWidth  uint16
	MaxHeight uint16

	Decoder  media.Decoder
	Renderer media.Renderer

	// Input delivers locally captured input events to be forwarded to
	// the host. Left nil, no input is ever sent.
	Input <-chan media.InputEvent

	MaxDatagramSize int
	FECCacheSize    int
	PingInterval    time.Duration
	StatsInterval   time.Duration
	HelloRetry      time.Duration
	IdleTimeout     time.Duration

	Metrics *metrics.Collector
}

// Loop is a running viewer session endpoint.
type Loop struct {
	cfg Config

	mu   sync.Mutex
	host *hostState

	done     chan struct{}
	stopOnce sync.Once
}

// New constructs a Loop ready to Run.
func New(cfg Config) *Loop {
	if cfg.MaxDatagramSize <= 0 {
		cfg.MaxDatagramSize = 1200
	}
	if cfg.FECCacheSize <= 0 {
		cfg.FECCacheSize = 256
	}
	if cfg.PingInterval <= 0 {
		cfg.PingInterval = time.Second
	}
	if cfg.StatsInterval <= 0 {
		cfg.StatsInterval = time.Second
	}
	if cfg.HelloRetry <= 0 {
		cfg.HelloRetry = 500 * time.Millisecond
	}
	if cfg.IdleTimeout <= 0 {
		cfg.IdleTimeout = 30 * time.Second
	}
	if cfg.Decoder == nil {
		cfg.Decoder = media.NullDecoder{}
	}
	return &Loop{
		cfg:  cfg,
		done: make(chan struct{}),
	}
}

// Run blocks until ctx is canceled, the handshake fails to complete, or
// an unrecoverable error occurs.
func (l *Loop) Run(ctx context.Context) error {
	l.mu.Lock()
	l.host = newHostState(l.cfg.FECCacheSize)
	l.mu.Unlock()

	if err := l.sendHello(); err != nil {
		return err
	}

	g, ctx := errgroup.WithContext(ctx)
	g.Go(func() error { return l.inboundLoop(ctx) })
	g.Go(func() error { return l.pingLoop(ctx) })
	g.Go(func() error { return l.statsLoop(ctx) })
	g.Go(func() error { return l.inputLoop(ctx) })
	g.Go(func() error { return l.helloRetryLoop(ctx) })

	err := g.Wait()
	l.Stop()
	return err
}

// Stop releases the Loop's resources. Safe to call multiple times.
func (l *Loop) Stop() {
	l.stopOnce.Do(func() {
		close(l.done)
	})
}

// Established reports whether the handshake with the host has
// completed and the session is ready to carry media and input.
func (l *Loop) Established() bool {
	l.mu.Lock()
	defer l.mu.Unlock()
	return l.host != nil && l.host.fsm.State() == handshake.StateEstablished
}

// sendHello writes the first Noise_XX message and sends it as a Hello.
func (l *Loop) sendHello() error {
	l.mu.Lock()
	h := l.host
	l.mu.Unlock()

	hs, err := crypto.NewInitiatorHandshake(l.cfg.Static)
	if err != nil {
		return err
	}
	h.hsState = hs

	msg, _, err := hs.WriteMessage(nil)
	if err != nil {
		return err
	}
	if _, err := h.fsm.Apply(handshake.EventSendHello); err != nil {
		return err
	}

	l.sendControl(codec.TagHello, codec.EncodeHello(codec.Hello{
		Codecs:       l.cfg.Codecs,
		MaxWidth:     l.cfg.MaxWidth,
		MaxHeight:    l.cfg.MaxHeight,
		NoisePayload: msg,
	}), [16]byte{})
	h.touch()
	return nil
}

// helloRetryLoop resends Hello until the handshake reaches Established,
// guarding against a dropped first datagram.
func (l *Loop) helloRetryLoop(ctx context.Context) error {
	ticker := time.NewTicker(l.cfg.HelloRetry)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			return ctx.Err()
		case <-l.done:
			return nil
		case <-ticker.C:
			l.mu.Lock()
			h := l.host
			needsRetry := h.fsm.State() == handshake.StateHelloSent
			l.mu.Unlock()
			if needsRetry {
				_ = l.sendHello()
			}
		}
	}
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
		n, _, err := l.cfg.Conn.ReadFromUDP(buf)
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
		l.handleInbound(raw)
	}
}

func (l *Loop) handleInbound(raw []byte) {
	pkt, err := codec.Decode(raw)
	if err != nil {
		if l.cfg.Metrics != nil {
			l.cfg.Metrics.CodecDecodeErrors.Inc()
		}
		return
	}
	if l.cfg.Metrics != nil {
		l.cfg.Metrics.PacketsDecoded.Inc()
	}

	switch pkt.Channel {
	case codec.ChannelControl:
		l.handleControl(pkt)
	case codec.ChannelMedia:
		l.handleMedia(pkt)
	}
}

func (l *Loop) handleControl(pkt codec.Packet) {
	switch pkt.Tag {
	case codec.TagHelloAck:
		l.handleHelloAck(pkt)
	case codec.TagPong:
		l.handlePong(pkt)
	case codec.TagBye:
		l.handleBye()
	}
}

// handleHelloAck processes Noise message 2 and, once the host has
// accepted, writes and sends message 3 to complete the handshake.
func (l *Loop) handleHelloAck(pkt codec.Packet) {
	ack, err := codec.DecodeHelloAck(pkt.Body)
	if err != nil {
		log.Debug("malformed hello ack", "error", err)
		return
	}

	l.mu.Lock()
	defer l.mu.Unlock()
	h := l.host

	if h.fsm.State() != handshake.StateHelloSent {
		return
	}
	if !ack.Accepted {
		log.Warn("host rejected hello, another viewer is active")
		return
	}

	if _, _, err := h.hsState.ReadMessage(ack.NoisePayload); err != nil {
		log.Debug("noise handshake read failed", "error", err)
		return
	}
	if _, err := h.fsm.Apply(handshake.EventReceiveHelloAck); err != nil {
		log.Debug("hello ack transition rejected", "error", err)
		return
	}
	h.sessionID = ack.SessionID
	h.touch()

	msg, complete, err := h.hsState.WriteMessage(nil)
	if err != nil {
		log.Debug("noise handshake write failed", "error", err)
		return
	}
	if !complete {
		log.Error("initiator handshake did not complete after third message")
		return
	}

	hash, err := h.hsState.HandshakeHash()
	if err != nil {
		log.Error("handshake hash unavailable", "error", err)
		return
	}
	keys, err := crypto.DeriveTransportKeys(hash)
	if err != nil {
		log.Error("transport key derivation failed", "error", err)
		return
	}
	session, err := crypto.NewEncryptedSession(keys, true, h.hsState.PeerStaticKey(), crypto.DefaultWindowSize)
	if err != nil {
		log.Error("failed to build encrypted session", "error", err)
		return
	}
	h.session = session

	// The third Noise message rides on another Hello packet; the host's
	// loop recognizes it by the peer sitting in HelloAckSent.
	l.sendControl(codec.TagHello, codec.EncodeHello(codec.Hello{
		Codecs:       l.cfg.Codecs,
		MaxWidth:     l.cfg.MaxWidth,
		MaxHeight:    l.cfg.MaxHeight,
		NoisePayload: msg,
	}), h.sessionID)

	if err := h.fsm.Establish(); err != nil {
		log.Debug("establish rejected", "error", err)
		return
	}

	if l.cfg.Metrics != nil {
		l.cfg.Metrics.ObserveHandshake("viewer", "established", 0)
	}
}

func (l *Loop) handlePong(pkt codec.Packet) {
	pong, err := codec.DecodePong(pkt.Body)
	if err != nil {
		return
	}
	l.mu.Lock()
	h := l.host
	l.mu.Unlock()
	if h == nil {
		return
	}
	h.touch()
	nowUs := uint64(time.Now().UnixMicro())
	if nowUs <= pong.TimestampUs {
		return
	}
	rttUs := float64(nowUs - pong.TimestampUs)
	h.jitterEstimator.OnRTTSample(rttUs)
}

func (l *Loop) handleBye() {
	l.mu.Lock()
	l.host.session = nil
	l.mu.Unlock()
}

// handleMedia decrypts a media-channel packet, feeds the FEC cache, and
// on a complete frame hands it through the jitter buffer to the decoder
// and renderer.
func (l *Loop) handleMedia(pkt codec.Packet) {
	l.mu.Lock()
	h := l.host
	l.mu.Unlock()

	if h == nil || h.session == nil || pkt.SessionID != h.sessionID {
		return
	}

	assocData := []byte{byte(codec.ChannelMedia)}
	plaintext, err := h.session.Decrypt(pkt.PacketID, assocData, pkt.Body)
	if err != nil {
		return
	}
	h.touch()

	for _, gap := range h.nackWin.Observe(pkt.PacketID) {
		_ = gap
		h.lostCount.Add(1)
	}
	h.receivedCount.Add(1)
	h.jitterEstimator.OnArrival(float64(time.Now().UnixMicro()))

	switch pkt.Tag {
	case codec.TagVideoChunk:
		h.fecCache.Put(pkt.PacketID, plaintext)
		l.ingestVideoChunkBody(h, plaintext)
	case codec.TagFecPacket:
		l.handleFECPacket(h, plaintext)
	}

	h.playback.AdaptDelay(h.jitterEstimator.JitterUs())
	l.drainPlayback(h)
}

func (l *Loop) ingestVideoChunkBody(h *hostState, body []byte) {
	chunk, err := codec.DecodeVideoChunk(body)
	if err != nil {
		return
	}
	if frame := h.assembler.Insert(chunk); frame != nil {
		h.playback.Push(frame)
	}
}

func (l *Loop) handleFECPacket(h *hostState, body []byte) {
	fecPkt, err := codec.DecodeFecPacket(body)
	if err != nil {
		return
	}
	recoveredID, recovered, ok := h.fecCache.Recover(fecPkt.FirstPacketID, fecPkt.ShardCount, fecPkt.Payload)
	if !ok {
		return
	}
	if l.cfg.Metrics != nil {
		l.cfg.Metrics.FECPacketsRecovered.Inc()
	}
	h.fecCache.Put(recoveredID, recovered)
	l.ingestVideoChunkBody(h, recovered)
}

// drainPlayback pops every frame whose playback deadline has arrived
// and hands it to the decoder and renderer.
func (l *Loop) drainPlayback(h *hostState) {
	for {
		item, ok := h.playback.Pop()
		if !ok {
			return
		}
		frame, ok := item.(*fragment.AssembledFrame)
		if !ok {
			continue
		}
		encoded := media.EncodedFrame{TimestampUs: frame.TimestampUs, Keyframe: frame.Keyframe, Data: frame.Data}
		if err := l.cfg.Decoder.Decode(context.Background(), encoded); err != nil {
			log.Debug("decode failed", "error", err)
			continue
		}
		if l.cfg.Renderer != nil {
			if err := l.cfg.Renderer.Present(context.Background(), encoded); err != nil {
				log.Debug("present failed", "error", err)
			}
		}
	}
}

func (l *Loop) pingLoop(ctx context.Context) error {
	ticker := time.NewTicker(l.cfg.PingInterval)
	defer ticker.Stop()
	for {
		select {
		case <-ctx.Done():
			return ctx.Err()
		case <-l.done:
			return nil
		case <-ticker.C:
			l.mu.Lock()
			established := l.host.fsm.State() == handshake.StateEstablished
			sessionID := l.host.sessionID
			l.mu.Unlock()
			if !established {
				continue
			}
			l.sendControl(codec.TagPing, codec.EncodePing(codec.Ping{
				TimestampUs: uint64(time.Now().UnixMicro()),
			}), sessionID)
		}
	}
}

func (l *Loop) statsLoop(ctx context.Context) error {
	ticker := time.NewTicker(l.cfg.StatsInterval)
	defer ticker.Stop()
	for {
		select {
		case <-ctx.Done():
			return ctx.Err()
		case <-l.done:
			return nil
		case <-ticker.C:
			l.mu.Lock()
			h := l.host
			established := h.fsm.State() == handshake.StateEstablished
			sessionID := h.sessionID
			l.mu.Unlock()
			if !established {
				continue
			}
			received := h.receivedCount.Swap(0)
			lost := h.lostCount.Swap(0)
			l.sendControl(codec.TagStats, codec.EncodeStats(codec.Stats{
				RTTUs:    uint64(h.jitterEstimator.SRTTUs()),
				JitterUs: uint64(h.jitterEstimator.JitterUs()),
				Received: received,
				Lost:     lost,
				PeriodMs: uint32(l.cfg.StatsInterval.Milliseconds()),
			}), sessionID)
		}
	}
}

// inputLoop forwards locally captured input events as encrypted
// Input-channel packets.
func (l *Loop) inputLoop(ctx context.Context) error {
	if l.cfg.Input == nil {
		<-ctx.Done()
		return ctx.Err()
	}
	for {
		select {
		case <-ctx.Done():
			return ctx.Err()
		case <-l.done:
			return nil
		case event, ok := <-l.cfg.Input:
			if !ok {
				return nil
			}
			l.sendInput(event)
		}
	}
}

func (l *Loop) sendInput(event media.InputEvent) {
	l.mu.Lock()
	h := l.host
	established := h.fsm.State() == handshake.StateEstablished
	l.mu.Unlock()
	if !established || h.session == nil {
		return
	}

	assocData := []byte{byte(codec.ChannelInput)}
	packetID, ciphertext := h.session.Encrypt(assocData, event.Data)

	pkt := codec.Packet{
		Version:   codec.Version,
		SessionID: h.sessionID,
		PacketID:  packetID,
		Channel:   codec.ChannelInput,
		Tag:       codec.TagKey,
		Body:      ciphertext,
	}
	l.send(codec.Encode(pkt))
}

func (l *Loop) sendControl(tag codec.MessageTag, body []byte, sessionID [16]byte) {
	pkt := codec.Packet{
		Version:   codec.Version,
		SessionID: sessionID,
		Channel:   codec.ChannelControl,
		Tag:       tag,
		Body:      body,
	}
	l.send(codec.Encode(pkt))
}

func (l *Loop) send(raw []byte) {
	if _, err := l.cfg.Conn.WriteToUDP(raw, l.cfg.HostAddr); err != nil {
		log.Debug("send error", "error", err)
		return
	}
	if l.cfg.Metrics != nil {
		l.cfg.Metrics.PacketsEncoded.Inc()
	}
}
