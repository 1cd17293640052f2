package crypto

import (
	"crypto/rand"
	"encoding/hex"
	"errors"
	"fmt"

	"github.com/flynn/noise"
	"golang.org/x/crypto/curve25519"
)

// cipherSuite is Noise_XX_25519_ChaChaPoly_BLAKE2s.
var cipherSuite = noise.NewCipherSuite(noise.DH25519, noise.CipherChaChaPoly, noise.HashBLAKE2s)

// ErrHandshakeNotComplete is returned by HandshakeHash before the third
// message has been processed.
var ErrHandshakeNotComplete = errors.New("crypto: handshake not complete")

// StaticKeypair is a Noise static X25519 keypair.
type StaticKeypair struct {
	Private [32]byte
	Public  [32]byte
}

// GenerateStaticKeypair creates a fresh Noise static keypair.
func GenerateStaticKeypair() (StaticKeypair, error) {
	kp, err := cipherSuite.GenerateKeypair(rand.Reader)
	if err != nil {
		return StaticKeypair{}, err
	}
	var out StaticKeypair
	copy(out.Private[:], kp.Private)
	copy(out.Public[:], kp.Public)
	return out, nil
}

// Zero overwrites the private key.
func (k *StaticKeypair) Zero() {
	for i := range k.Private {
		k.Private[i] = 0
	}
}

// StaticKeypairFromHex reconstructs a persisted static keypair from its
// hex-encoded private scalar, deriving the matching public key so
// callers (config loading) never need to store both halves.
func StaticKeypairFromHex(privateHex string) (StaticKeypair, error) {
	raw, err := hex.DecodeString(privateHex)
	if err != nil {
		return StaticKeypair{}, fmt.Errorf("crypto: decode static private key: %w", err)
	}
	if len(raw) != 32 {
		return StaticKeypair{}, fmt.Errorf("crypto: static private key must be 32 bytes, got %d", len(raw))
	}

	var out StaticKeypair
	copy(out.Private[:], raw)

	pub, err := curve25519.X25519(out.Private[:], curve25519.Basepoint)
	if err != nil {
		return StaticKeypair{}, fmt.Errorf("crypto: derive static public key: %w", err)
	}
	copy(out.Public[:], pub)
	return out, nil
}

// EncodeHex returns the hex encoding of the keypair's private scalar,
// for persisting to config.
func (k StaticKeypair) EncodeHex() string {
	return hex.EncodeToString(k.Private[:])
}

// HandshakeState drives one side of a Noise_XX handshake, producing and
// consuming the three inline handshake messages (msg1/msg2/msg3).
// Message send/receive is idempotent per SPEC_FULL.md §4.3: the caller
// is expected to detect and re-deliver retransmits using the handshake
// FSM's DuplicateHello handling before calling into this type again.
type HandshakeState struct {
	hs        *noise.HandshakeState
	completed bool
	hash      [32]byte
	peerKey   [32]byte
}

// NewInitiatorHandshake starts a Noise_XX handshake as the initiator
// (viewer role).
func NewInitiatorHandshake(static StaticKeypair) (*HandshakeState, error) {
	return newHandshake(static, true)
}

// NewResponderHandshake starts a Noise_XX handshake as the responder
// (host role).
func NewResponderHandshake(static StaticKeypair) (*HandshakeState, error) {
	return newHandshake(static, false)
}

func newHandshake(static StaticKeypair, initiator bool) (*HandshakeState, error) {
	dhKey := noise.DHKey{
		Private: append([]byte(nil), static.Private[:]...),
		Public:  append([]byte(nil), static.Public[:]...),
	}
	hs, err := noise.NewHandshakeState(noise.Config{
		CipherSuite:   cipherSuite,
		Pattern:       noise.HandshakeXX,
		Initiator:     initiator,
		StaticKeypair: dhKey,
	})
	if err != nil {
		return nil, err
	}
	return &HandshakeState{hs: hs}, nil
}

// WriteMessage produces the next outbound handshake message (msg1 for
// the initiator, msg2/msg3 in turn). payload is an optional piggyback
// payload (unused by this protocol, but accepted for API symmetry).
func (h *HandshakeState) WriteMessage(payload []byte) ([]byte, bool, error) {
	out, cs1, cs2, err := h.hs.WriteMessage(nil, payload)
	if err != nil {
		return nil, false, err
	}
	if cs1 != nil && cs2 != nil {
		h.finish(cs1, cs2)
		return out, true, nil
	}
	return out, false, nil
}

// ReadMessage consumes an inbound handshake message and returns any
// piggybacked payload.
func (h *HandshakeState) ReadMessage(message []byte) ([]byte, bool, error) {
	payload, cs1, cs2, err := h.hs.ReadMessage(nil, message)
	if err != nil {
		return nil, false, err
	}
	if cs1 != nil && cs2 != nil {
		h.finish(cs1, cs2)
		return payload, true, nil
	}
	return payload, false, nil
}

func (h *HandshakeState) finish(cs1, cs2 *noise.CipherState) {
	_ = cs1
	_ = cs2
	copy(h.hash[:], h.hs.ChannelBinding())
	if peer := h.hs.PeerStatic(); len(peer) == 32 {
		copy(h.peerKey[:], peer)
	}
	h.completed = true
}

// Complete reports whether all three messages have been exchanged.
func (h *HandshakeState) Complete() bool { return h.completed }

// HandshakeHash returns the 32-byte handshake hash used to derive
// transport keys. It errs if the handshake has not finished.
func (h *HandshakeState) HandshakeHash() ([32]byte, error) {
	if !h.completed {
		return [32]byte{}, ErrHandshakeNotComplete
	}
	return h.hash, nil
}

// PeerStaticKey returns the remote party's static public key, valid
// once Complete() is true.
func (h *HandshakeState) PeerStaticKey() [32]byte {
	return h.peerKey
}
