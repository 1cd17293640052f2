package relay_test

import (
	"net"
	"testing"
	"time"

	"github.com/google/uuid"

	"github.com/wavry-oss/rift/internal/relay"
)

func newTestForwarder(t *testing.T, now func() time.Time) (*relay.Forwarder, []byte) {
	t.Helper()
	secret := []byte("test-relay-secret-do-not-use-in-prod")
	f := relay.NewForwarder(relay.ForwarderConfig{
		Secret:                 secret,
		MaxSessions:            4,
		BandwidthBPSPerSession: 1 << 20,
		IdleTimeout:            time.Second,
		Now:                    now,
	})
	return f, secret
}

func udpAddr(port int) *net.UDPAddr {
	return &net.UDPAddr{IP: net.IPv4(127, 0, 0, 1), Port: port}
}

// decodeOutboundForward strips the relay header and ForwardHeader that
// HandleForward prepends for the outbound hop, returning the hop's own
// sequence number and the inner payload.
func decodeOutboundForward(t *testing.T, out []byte) (uint64, []byte) {
	t.Helper()
	hdr, err := relay.DecodeHeader(out)
	if err != nil {
		t.Fatalf("decode outbound header: %v", err)
	}
	if hdr.Type != relay.TypeForward {
		t.Fatalf("expected TypeForward, got %v", hdr.Type)
	}
	body := out[relay.HeaderSize:]
	fh, err := relay.DecodeForwardHeader(body)
	if err != nil {
		t.Fatalf("decode outbound forward header: %v", err)
	}
	return fh.Sequence, body[8:]
}

func TestLeasePresentBondsBothSlotsToActive(t *testing.T) {
	now := time.Now()
	f, secret := newTestForwarder(t, func() time.Time { return now })

	sessionID := uuid.New()
	expires := uint64(now.Add(time.Minute).UnixMilli())

	clientToken := relay.IssueLease(secret, sessionID, relay.RoleClient, expires)
	serverToken := relay.IssueLease(secret, sessionID, relay.RoleServer, expires)

	ackBody := f.HandleLeasePresent(sessionID, relay.LeasePresentPayload{Role: relay.RoleClient, Token: clientToken}, udpAddr(1))
	if _, err := relay.DecodeLeaseAck(ackBody); err != nil {
		t.Fatalf("expected lease ack, got reject: %v", err)
	}
	if state, _ := f.State(sessionID); state != relay.SessionWaitingPeer {
		t.Fatalf("expected WaitingPeer after first slot, got %v", state)
	}

	ackBody = f.HandleLeasePresent(sessionID, relay.LeasePresentPayload{Role: relay.RoleServer, Token: serverToken}, udpAddr(2))
	if _, err := relay.DecodeLeaseAck(ackBody); err != nil {
		t.Fatalf("expected lease ack, got reject: %v", err)
	}
	if state, _ := f.State(sessionID); state != relay.SessionActive {
		t.Fatalf("expected Active after both slots bound, got %v", state)
	}
}

func TestLeasePresentRejectsExpiredToken(t *testing.T) {
	now := time.Now()
	f, secret := newTestForwarder(t, func() time.Time { return now })

	sessionID := uuid.New()
	expired := uint64(now.Add(-time.Second).UnixMilli())
	token := relay.IssueLease(secret, sessionID, relay.RoleClient, expired)

	body := f.HandleLeasePresent(sessionID, relay.LeasePresentPayload{Role: relay.RoleClient, Token: token}, udpAddr(1))
	reject, err := relay.DecodeLeaseReject(body)
	if err != nil {
		t.Fatalf("expected a reject body, got ack: decode err %v", err)
	}
	if reject.Reason != relay.RejectExpired {
		t.Fatalf("expected RejectExpired, got %v", reject.Reason)
	}
}

func TestLeasePresentRejectsBadSignature(t *testing.T) {
	now := time.Now()
	f, secret := newTestForwarder(t, func() time.Time { return now })

	sessionID := uuid.New()
	token := relay.IssueLease(secret, sessionID, relay.RoleClient, uint64(now.Add(time.Minute).UnixMilli()))
	token[0] ^= 0xFF // corrupt

	body := f.HandleLeasePresent(sessionID, relay.LeasePresentPayload{Role: relay.RoleClient, Token: token}, udpAddr(1))
	reject, err := relay.DecodeLeaseReject(body)
	if err != nil {
		t.Fatalf("expected a reject body: %v", err)
	}
	if reject.Reason != relay.RejectInvalidSignature && reject.Reason != relay.RejectWrongRelay {
		t.Fatalf("expected a signature-related reject, got %v", reject.Reason)
	}
}

func TestLeasePresentRejectsWrongSession(t *testing.T) {
	now := time.Now()
	f, secret := newTestForwarder(t, func() time.Time { return now })

	sessionA := uuid.New()
	sessionB := uuid.New()
	token := relay.IssueLease(secret, sessionA, relay.RoleClient, uint64(now.Add(time.Minute).UnixMilli()))

	body := f.HandleLeasePresent(sessionB, relay.LeasePresentPayload{Role: relay.RoleClient, Token: token}, udpAddr(1))
	reject, err := relay.DecodeLeaseReject(body)
	if err != nil {
		t.Fatalf("expected a reject body: %v", err)
	}
	if reject.Reason != relay.RejectWrongRelay {
		t.Fatalf("expected RejectWrongRelay, got %v", reject.Reason)
	}
}

func TestSessionFullRejectsOverflow(t *testing.T) {
	now := time.Now()
	f := relay.NewForwarder(relay.ForwarderConfig{
		Secret:      []byte("s"),
		MaxSessions: 1,
		Now:         func() time.Time { return now },
	})

	expires := uint64(now.Add(time.Minute).UnixMilli())

	s1 := uuid.New()
	tok1 := relay.IssueLease([]byte("s"), s1, relay.RoleClient, expires)
	if _, err := relay.DecodeLeaseAck(f.HandleLeasePresent(s1, relay.LeasePresentPayload{Role: relay.RoleClient, Token: tok1}, udpAddr(1))); err != nil {
		t.Fatalf("expected first session accepted: %v", err)
	}

	s2 := uuid.New()
	tok2 := relay.IssueLease([]byte("s"), s2, relay.RoleClient, expires)
	body := f.HandleLeasePresent(s2, relay.LeasePresentPayload{Role: relay.RoleClient, Token: tok2}, udpAddr(2))
	reject, err := relay.DecodeLeaseReject(body)
	if err != nil {
		t.Fatalf("expected reject for session overflow: %v", err)
	}
	if reject.Reason != relay.RejectSessionFull {
		t.Fatalf("expected RejectSessionFull, got %v", reject.Reason)
	}
}

func bondActiveSession(t *testing.T, f *relay.Forwarder, secret []byte, now time.Time) (uuid.UUID, *net.UDPAddr, *net.UDPAddr) {
	t.Helper()
	sessionID := uuid.New()
	expires := uint64(now.Add(time.Minute).UnixMilli())
	clientAddr := udpAddr(101)
	serverAddr := udpAddr(202)

	ct := relay.IssueLease(secret, sessionID, relay.RoleClient, expires)
	st := relay.IssueLease(secret, sessionID, relay.RoleServer, expires)

	if _, err := relay.DecodeLeaseAck(f.HandleLeasePresent(sessionID, relay.LeasePresentPayload{Role: relay.RoleClient, Token: ct}, clientAddr)); err != nil {
		t.Fatalf("client bond failed: %v", err)
	}
	if _, err := relay.DecodeLeaseAck(f.HandleLeasePresent(sessionID, relay.LeasePresentPayload{Role: relay.RoleServer, Token: st}, serverAddr)); err != nil {
		t.Fatalf("server bond failed: %v", err)
	}
	return sessionID, clientAddr, serverAddr
}

func TestForwardCopiesBetweenSlots(t *testing.T) {
	now := time.Now()
	f, secret := newTestForwarder(t, func() time.Time { return now })
	sessionID, clientAddr, serverAddr := bondActiveSession(t, f, secret, now)

	fwdBody := append(relay.EncodeForwardHeader(relay.ForwardHeader{Sequence: 1}), []byte("frame-bytes")...)

	target, payload, ok := f.HandleForward(sessionID, fwdBody, clientAddr)
	if !ok {
		t.Fatal("expected forward to succeed")
	}
	if target.String() != serverAddr.String() {
		t.Fatalf("expected forward to server addr, got %s", target)
	}
	seq, inner := decodeOutboundForward(t, payload)
	if seq != 0 {
		t.Fatalf("expected first outbound hop sequence 0, got %d", seq)
	}
	if string(inner) != "frame-bytes" {
		t.Fatalf("payload mismatch: %q", inner)
	}
}

func TestForwardRejectsReplayedSequence(t *testing.T) {
	now := time.Now()
	f, secret := newTestForwarder(t, func() time.Time { return now })
	sessionID, clientAddr, _ := bondActiveSession(t, f, secret, now)

	fwdBody := append(relay.EncodeForwardHeader(relay.ForwardHeader{Sequence: 5}), []byte("x")...)

	if _, _, ok := f.HandleForward(sessionID, fwdBody, clientAddr); !ok {
		t.Fatal("expected first forward to succeed")
	}
	if _, _, ok := f.HandleForward(sessionID, fwdBody, clientAddr); ok {
		t.Fatal("expected replayed sequence to be rejected")
	}
}

func TestForwardRejectsUnknownAddress(t *testing.T) {
	now := time.Now()
	f, secret := newTestForwarder(t, func() time.Time { return now })
	sessionID, _, _ := bondActiveSession(t, f, secret, now)

	fwdBody := append(relay.EncodeForwardHeader(relay.ForwardHeader{Sequence: 1}), []byte("x")...)
	if _, _, ok := f.HandleForward(sessionID, fwdBody, udpAddr(9999)); ok {
		t.Fatal("expected forward from unbonded address to be rejected")
	}
}

// TestForwardNATRebindUpdatesSlotAddress verifies that a peer which
// re-presents its signed lease from a new address (the normal NAT
// rebind path) has its slot address updated, so forward traffic from
// the new address then succeeds.
func TestForwardNATRebindUpdatesSlotAddress(t *testing.T) {
	now := time.Now()
	f, secret := newTestForwarder(t, func() time.Time { return now })
	sessionID, clientAddr, serverAddr := bondActiveSession(t, f, secret, now)

	newClientAddr := udpAddr(555)

	staleBody := append(relay.EncodeForwardHeader(relay.ForwardHeader{Sequence: 1}), []byte("stale")...)
	if _, _, ok := f.HandleForward(sessionID, staleBody, newClientAddr); ok {
		t.Fatal("expected forward from unrecognized new address to be rejected before rebind")
	}

	renewToken := relay.IssueLease(secret, sessionID, relay.RoleClient, uint64(now.Add(time.Minute).UnixMilli()))
	if _, err := relay.DecodeLeaseAck(f.HandleLeasePresent(sessionID, relay.LeasePresentPayload{Role: relay.RoleClient, Token: renewToken}, newClientAddr)); err != nil {
		t.Fatalf("expected lease renewal from new address to succeed: %v", err)
	}

	fwdBody := append(relay.EncodeForwardHeader(relay.ForwardHeader{Sequence: 1}), []byte("rebind")...)
	target, payload, ok := f.HandleForward(sessionID, fwdBody, newClientAddr)
	if !ok {
		t.Fatal("expected forward from rebound address to succeed")
	}
	if target.String() != serverAddr.String() {
		t.Fatalf("expected target server addr, got %s", target)
	}
	_, inner := decodeOutboundForward(t, payload)
	if string(inner) != "rebind" {
		t.Fatalf("payload mismatch: %q", inner)
	}

	if _, _, ok := f.HandleForward(sessionID, staleBody, clientAddr); ok {
		t.Fatal("expected forward from the old client address to be rejected after rebind")
	}
}

func TestReapIdleRemovesStaleSessions(t *testing.T) {
	now := time.Now()
	clock := now
	f, secret := newTestForwarder(t, func() time.Time { return clock })
	sessionID, _, _ := bondActiveSession(t, f, secret, now)

	if f.SessionCount() != 1 {
		t.Fatalf("expected 1 session, got %d", f.SessionCount())
	}

	clock = now.Add(5 * time.Second)
	removed := f.ReapIdle()
	if removed != 1 {
		t.Fatalf("expected 1 session reaped, got %d", removed)
	}
	if _, ok := f.State(sessionID); ok {
		t.Fatal("expected session to be gone after reap")
	}
}

func TestReapIdleKeepsActiveSessions(t *testing.T) {
	now := time.Now()
	clock := now
	f, secret := newTestForwarder(t, func() time.Time { return clock })
	sessionID, clientAddr, serverAddr := bondActiveSession(t, f, secret, now)
	_ = clientAddr
	_ = serverAddr

	clock = now.Add(200 * time.Millisecond)
	removed := f.ReapIdle()
	if removed != 0 {
		t.Fatalf("expected no sessions reaped yet, got %d", removed)
	}
	if _, ok := f.State(sessionID); !ok {
		t.Fatal("expected session to still be present")
	}
}
