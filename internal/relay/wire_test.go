package relay_test

import (
	"bytes"
	"testing"

	"github.com/google/uuid"

	"github.com/wavry-oss/rift/internal/relay"
)

func TestHeaderRoundTrip(t *testing.T) {
	id := uuid.New()
	raw := relay.EncodeHeader(relay.Header{
		Version:   relay.Version,
		Type:      relay.TypeLeasePresent,
		Flags:     0x02,
		SessionID: id,
	}, 0)

	got, err := relay.DecodeHeader(raw)
	if err != nil {
		t.Fatalf("decode: %v", err)
	}
	if got.Version != relay.Version || got.Type != relay.TypeLeasePresent || got.Flags != 0x02 {
		t.Fatalf("header mismatch: %+v", got)
	}
	if got.SessionID != id {
		t.Fatalf("session id mismatch: got %s want %s", got.SessionID, id)
	}
}

func TestDecodeHeaderRejectsBadMagic(t *testing.T) {
	raw := relay.EncodeHeader(relay.Header{Version: relay.Version}, 0)
	raw[0] = 0xAA
	if _, err := relay.DecodeHeader(raw); err == nil {
		t.Fatal("expected bad magic error")
	}
}

func TestDecodeHeaderRejectsBadVersion(t *testing.T) {
	raw := relay.EncodeHeader(relay.Header{Version: relay.Version}, 0)
	raw[1] = 7
	if _, err := relay.DecodeHeader(raw); err == nil {
		t.Fatal("expected bad version error")
	}
}

func TestDecodeHeaderTooShort(t *testing.T) {
	if _, err := relay.DecodeHeader(make([]byte, 4)); err != relay.ErrTooShort {
		t.Fatalf("expected ErrTooShort, got %v", err)
	}
}

func TestQuickCheck(t *testing.T) {
	raw := relay.EncodeHeader(relay.Header{Version: relay.Version}, 3)
	if !relay.QuickCheck(raw) {
		t.Fatal("expected quick check to pass")
	}
	if relay.QuickCheck(raw[:2]) {
		t.Fatal("expected quick check to fail on short buffer")
	}
}

func TestLeasePresentRoundTrip(t *testing.T) {
	token := []byte("opaque-lease-token-bytes")
	raw := relay.EncodeLeasePresent(relay.LeasePresentPayload{Role: relay.RoleClient, Token: token})

	got, err := relay.DecodeLeasePresent(raw)
	if err != nil {
		t.Fatalf("decode: %v", err)
	}
	if got.Role != relay.RoleClient {
		t.Fatalf("role mismatch: %v", got.Role)
	}
	if !bytes.Equal(got.Token, token) {
		t.Fatalf("token mismatch: got %q want %q", got.Token, token)
	}
}

func TestLeasePresentRejectsInvalidRole(t *testing.T) {
	raw := relay.EncodeLeasePresent(relay.LeasePresentPayload{Role: relay.RoleServer, Token: nil})
	raw[0] = 0x09
	if _, err := relay.DecodeLeasePresent(raw); err == nil {
		t.Fatal("expected invalid role error")
	}
}

func TestLeasePresentTooShort(t *testing.T) {
	if _, err := relay.DecodeLeasePresent([]byte{0x00, 0x00}); err != relay.ErrTooShort {
		t.Fatalf("expected ErrTooShort, got %v", err)
	}
}

func TestLeasePresentTruncatedToken(t *testing.T) {
	raw := relay.EncodeLeasePresent(relay.LeasePresentPayload{Role: relay.RoleClient, Token: []byte("abcdef")})
	if _, err := relay.DecodeLeasePresent(raw[:len(raw)-2]); err != relay.ErrTooShort {
		t.Fatalf("expected ErrTooShort, got %v", err)
	}
}

func TestLeaseAckRoundTrip(t *testing.T) {
	raw := relay.EncodeLeaseAck(relay.LeaseAckPayload{ExpiresMs: 123456789, SoftLimitKbps: 4000, HardLimitKbps: 6000})
	got, err := relay.DecodeLeaseAck(raw)
	if err != nil {
		t.Fatalf("decode: %v", err)
	}
	if got.ExpiresMs != 123456789 || got.SoftLimitKbps != 4000 || got.HardLimitKbps != 6000 {
		t.Fatalf("lease ack mismatch: %+v", got)
	}
}

func TestLeaseRejectRoundTrip(t *testing.T) {
	raw := relay.EncodeLeaseReject(relay.LeaseRejectPayload{Reason: relay.RejectSessionFull})
	got, err := relay.DecodeLeaseReject(raw)
	if err != nil {
		t.Fatalf("decode: %v", err)
	}
	if got.Reason != relay.RejectSessionFull {
		t.Fatalf("reason mismatch: %v", got.Reason)
	}
}

func TestForwardHeaderRoundTrip(t *testing.T) {
	raw := relay.EncodeForwardHeader(relay.ForwardHeader{Sequence: 9001})
	got, err := relay.DecodeForwardHeader(raw)
	if err != nil {
		t.Fatalf("decode: %v", err)
	}
	if got.Sequence != 9001 {
		t.Fatalf("sequence mismatch: got %d", got.Sequence)
	}
}

func TestForwardHeaderTooShort(t *testing.T) {
	if _, err := relay.DecodeForwardHeader(make([]byte, 4)); err != relay.ErrTooShort {
		t.Fatalf("expected ErrTooShort, got %v", err)
	}
}
