package crypto

import (
	"crypto/sha256"
	"io"

	"golang.org/x/crypto/hkdf"
)

// The original analysis derived these two transport keys by XORing the
// Noise handshake hash with a fixed 32-byte ASCII label. That
// construction is non-standard; the analysis itself notes that an
// HKDF-based derivation is preferred and behaviorally equivalent from
// the caller's perspective (see DESIGN.md, "Open Question resolutions").
// This package uses HKDF-Expand-SHA256 over the handshake hash with the
// same two labels as Info strings instead.
const (
	labelInitiatorToResponder = "wavrykdf-initiator-to-responder"
	labelResponderToInitiator = "wavrykdf-responder-to-initiator"
)

// TransportKeys holds the two directional AEAD keys derived from a
// completed Noise-XX handshake hash.
type TransportKeys struct {
	InitiatorToResponder [32]byte
	ResponderToInitiator [32]byte
}

// DeriveTransportKeys expands the 32-byte Noise handshake hash into the
// two directional transport keys.
func DeriveTransportKeys(handshakeHash [32]byte) (TransportKeys, error) {
	var keys TransportKeys

	i2r := hkdf.Expand(sha256.New, handshakeHash[:], []byte(labelInitiatorToResponder))
	if _, err := io.ReadFull(i2r, keys.InitiatorToResponder[:]); err != nil {
		return TransportKeys{}, err
	}

	r2i := hkdf.Expand(sha256.New, handshakeHash[:], []byte(labelResponderToInitiator))
	if _, err := io.ReadFull(r2i, keys.ResponderToInitiator[:]); err != nil {
		return TransportKeys{}, err
	}

	return keys, nil
}

// Zero overwrites both keys in place. Call once a session is torn down.
func (k *TransportKeys) Zero() {
	for i := range k.InitiatorToResponder {
		k.InitiatorToResponder[i] = 0
	}
	for i := range k.ResponderToInitiator {
		k.ResponderToInitiator[i] = 0
	}
}
