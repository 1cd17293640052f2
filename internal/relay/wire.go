// Package relay implements the UDP relay wire protocol: a 20-byte
// magic-tagged header, lease exchange payloads, and bandwidth-limited
// forwarding between exactly two bonded peers per session.
package relay

import (
	"encoding/binary"
	"errors"
	"fmt"

	"github.com/google/uuid"
)

// Magic identifies a relay protocol datagram.
const Magic byte = 0x57

// Version is the current relay wire protocol version.
const Version byte = 1

// HeaderSize is the fixed header width: magic(1) + version(1) + type(1)
// + flags(1) + session_id(16).
const HeaderSize = 20

// PacketType identifies the payload that follows the header.
type PacketType uint8

const (
	TypeLeasePresent PacketType = 0x01
	TypeLeaseAck     PacketType = 0x02
	TypeLeaseReject  PacketType = 0x03
	TypeLeaseRenew   PacketType = 0x04
	TypeForward      PacketType = 0x10
)

// PeerRole distinguishes the lease-presenting peer's side of a session.
type PeerRole uint8

const (
	RoleClient PeerRole = 0
	RoleServer PeerRole = 1
)

// RejectReason explains a LeaseReject response.
type RejectReason uint16

const (
	RejectExpired           RejectReason = 0x0001
	RejectInvalidSignature  RejectReason = 0x0002
	RejectWrongRelay        RejectReason = 0x0003
	RejectSessionFull       RejectReason = 0x0004
	RejectBanned            RejectReason = 0x0005
	RejectRateLimited       RejectReason = 0x0006
)

var (
	ErrTooShort      = errors.New("relay: packet shorter than header")
	ErrBadMagic      = errors.New("relay: bad magic byte")
	ErrBadVersion    = errors.New("relay: unsupported version")
	ErrUnknownType   = errors.New("relay: unknown packet type")
	ErrInvalidRole   = errors.New("relay: invalid peer role")
)

// Header is the decoded form of every relay datagram's fixed prefix.
type Header struct {
	Version   byte
	Type      PacketType
	Flags     byte
	SessionID uuid.UUID
}

// EncodeHeader writes h's 20 bytes to the front of a fresh buffer sized
// for the header plus extra bytes of payload.
func EncodeHeader(h Header, extra int) []byte {
	buf := make([]byte, HeaderSize+extra)
	buf[0] = Magic
	buf[1] = h.Version
	buf[2] = byte(h.Type)
	buf[3] = h.Flags
	copy(buf[4:20], h.SessionID[:])
	return buf
}

// DecodeHeader parses the fixed 20-byte header from the front of raw.
func DecodeHeader(raw []byte) (Header, error) {
	var h Header
	if len(raw) < HeaderSize {
		return h, ErrTooShort
	}
	if raw[0] != Magic {
		return h, fmt.Errorf("%w: got 0x%02x", ErrBadMagic, raw[0])
	}
	if raw[1] != Version {
		return h, fmt.Errorf("%w: got %d want %d", ErrBadVersion, raw[1], Version)
	}
	h.Version = raw[1]
	h.Type = PacketType(raw[2])
	h.Flags = raw[3]
	copy(h.SessionID[:], raw[4:20])
	return h, nil
}

// QuickCheck is a cheap pre-filter for "does this look like a relay
// datagram", used before the fuller Decode pass.
func QuickCheck(raw []byte) bool {
	return len(raw) >= HeaderSize && raw[0] == Magic && raw[1] == Version
}

// LeasePresentPayload is the body of a LeasePresent or LeaseRenew packet.
type LeasePresentPayload struct {
	Role  PeerRole
	Token []byte
}

func EncodeLeasePresent(p LeasePresentPayload) []byte {
	buf := make([]byte, 0, 3+len(p.Token))
	buf = append(buf, byte(p.Role))
	var tokenLen [2]byte
	binary.BigEndian.PutUint16(tokenLen[:], uint16(len(p.Token)))
	buf = append(buf, tokenLen[:]...)
	buf = append(buf, p.Token...)
	return buf
}

func DecodeLeasePresent(body []byte) (LeasePresentPayload, error) {
	var p LeasePresentPayload
	if len(body) < 3 {
		return p, ErrTooShort
	}
	role := PeerRole(body[0])
	if role != RoleClient && role != RoleServer {
		return p, fmt.Errorf("%w: %d", ErrInvalidRole, body[0])
	}
	p.Role = role
	tokenLen := int(binary.BigEndian.Uint16(body[1:3]))
	if len(body) < 3+tokenLen {
		return p, ErrTooShort
	}
	p.Token = append([]byte(nil), body[3:3+tokenLen]...)
	return p, nil
}

// LeaseAckPayload acknowledges a lease and communicates its budget.
type LeaseAckPayload struct {
	ExpiresMs     uint64
	SoftLimitKbps uint32
	HardLimitKbps uint32
}

const leaseAckSize = 16

func EncodeLeaseAck(p LeaseAckPayload) []byte {
	buf := make([]byte, leaseAckSize)
	binary.BigEndian.PutUint64(buf[0:8], p.ExpiresMs)
	binary.BigEndian.PutUint32(buf[8:12], p.SoftLimitKbps)
	binary.BigEndian.PutUint32(buf[12:16], p.HardLimitKbps)
	return buf
}

func DecodeLeaseAck(body []byte) (LeaseAckPayload, error) {
	var p LeaseAckPayload
	if len(body) < leaseAckSize {
		return p, ErrTooShort
	}
	p.ExpiresMs = binary.BigEndian.Uint64(body[0:8])
	p.SoftLimitKbps = binary.BigEndian.Uint32(body[8:12])
	p.HardLimitKbps = binary.BigEndian.Uint32(body[12:16])
	return p, nil
}

// LeaseRejectPayload carries the reason a lease was refused.
type LeaseRejectPayload struct {
	Reason RejectReason
}

func EncodeLeaseReject(p LeaseRejectPayload) []byte {
	buf := make([]byte, 2)
	binary.BigEndian.PutUint16(buf, uint16(p.Reason))
	return buf
}

func DecodeLeaseReject(body []byte) (LeaseRejectPayload, error) {
	var p LeaseRejectPayload
	if len(body) < 2 {
		return p, ErrTooShort
	}
	p.Reason = RejectReason(binary.BigEndian.Uint16(body[0:2]))
	return p, nil
}

// ForwardHeader precedes the opaque forwarded payload, carrying the
// sequence number the receiving slot's SequenceWindow checks.
type ForwardHeader struct {
	Sequence uint64
}

const forwardHeaderSize = 8

func EncodeForwardHeader(h ForwardHeader) []byte {
	buf := make([]byte, forwardHeaderSize)
	binary.BigEndian.PutUint64(buf, h.Sequence)
	return buf
}

func DecodeForwardHeader(body []byte) (ForwardHeader, error) {
	var h ForwardHeader
	if len(body) < forwardHeaderSize {
		return h, ErrTooShort
	}
	h.Sequence = binary.BigEndian.Uint64(body[0:8])
	return h, nil
}
