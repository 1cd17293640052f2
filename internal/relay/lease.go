package relay

import (
	"crypto/hmac"
	"crypto/sha256"
	"encoding/binary"
	"errors"
	"time"

	"github.com/google/uuid"
)

// Lease tokens bind a session id and declared role under an HMAC-SHA256
// tag, signed by the relay's own secret. No PASETO (or similar
// token-signing) library is present anywhere in the reference corpus,
// so this deliberately mirrors the HKDF/HMAC precedent already used
// for transport key derivation rather than reaching for a bespoke
// third-party token format.
const (
	leasePayloadSize = 16 + 1 + 8 // session_id + role + expires_ms
	leaseTagSize     = sha256.Size
	leaseTokenSize   = leasePayloadSize + leaseTagSize
)

var (
	ErrLeaseMalformed = errors.New("relay: lease token malformed")
	ErrLeaseBadTag    = errors.New("relay: lease signature invalid")
	ErrLeaseExpired   = errors.New("relay: lease expired")
	ErrLeaseWrongSession = errors.New("relay: lease session mismatch")
)

// IssueLease mints a signed lease token for sessionID, binding role and
// an absolute expiry in unix milliseconds.
func IssueLease(secret []byte, sessionID uuid.UUID, role PeerRole, expiresAtMs uint64) []byte {
	payload := make([]byte, leasePayloadSize)
	copy(payload[0:16], sessionID[:])
	payload[16] = byte(role)
	binary.BigEndian.PutUint64(payload[17:25], expiresAtMs)

	mac := hmac.New(sha256.New, secret)
	mac.Write(payload)
	tag := mac.Sum(nil)

	return append(payload, tag...)
}

// LeaseClaims are the verified contents of a lease token.
type LeaseClaims struct {
	SessionID   uuid.UUID
	Role        PeerRole
	ExpiresAtMs uint64
}

// VerifyLease checks a token's signature and expiry against now, and
// that it was issued for wantSession. A mismatched session id is
// reported distinctly from a bad signature so callers can choose the
// matching LeaseRejectReason.
func VerifyLease(secret []byte, token []byte, wantSession uuid.UUID, now time.Time) (LeaseClaims, error) {
	var claims LeaseClaims
	if len(token) != leaseTokenSize {
		return claims, ErrLeaseMalformed
	}
	payload := token[:leasePayloadSize]
	tag := token[leasePayloadSize:]

	mac := hmac.New(sha256.New, secret)
	mac.Write(payload)
	expected := mac.Sum(nil)
	if !hmac.Equal(tag, expected) {
		return claims, ErrLeaseBadTag
	}

	copy(claims.SessionID[:], payload[0:16])
	claims.Role = PeerRole(payload[16])
	claims.ExpiresAtMs = binary.BigEndian.Uint64(payload[17:25])

	if claims.SessionID != wantSession {
		return claims, ErrLeaseWrongSession
	}
	if uint64(now.UnixMilli()) >= claims.ExpiresAtMs {
		return claims, ErrLeaseExpired
	}
	return claims, nil
}
