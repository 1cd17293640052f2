package crypto

import (
	"crypto/cipher"
	"encoding/binary"
	"errors"

	"golang.org/x/crypto/chacha20poly1305"
)

// ErrDecryptFailed covers both AEAD tag verification failure and replay
// rejection. The two are never distinguished to a caller that might
// relay that distinction to the network, to avoid giving an attacker a
// MAC-forgery oracle (see SPEC_FULL.md §7).
var ErrDecryptFailed = errors.New("crypto: decrypt failed")

// PacketCipher encrypts and decrypts transport packets with
// ChaCha20-Poly1305 using an explicit nonce derived from the packet id,
// rather than an internal running counter. This is what allows
// correct decryption of out-of-order UDP delivery.
type PacketCipher struct {
	aead cipher.AEAD
}

// NewPacketCipher constructs a cipher bound to a single 32-byte key.
func NewPacketCipher(key [32]byte) (*PacketCipher, error) {
	aead, err := chacha20poly1305.New(key[:])
	if err != nil {
		return nil, err
	}
	return &PacketCipher{aead: aead}, nil
}

// nonceForPacketID builds the 12-byte explicit nonce:
// 4 zero bytes followed by the little-endian packet id.
func nonceForPacketID(packetID uint64) []byte {
	nonce := make([]byte, chacha20poly1305.NonceSize)
	binary.LittleEndian.PutUint64(nonce[4:], packetID)
	return nonce
}

// Seal encrypts plaintext for packetID, authenticating associatedData,
// and returns ciphertext||tag.
func (c *PacketCipher) Seal(packetID uint64, associatedData, plaintext []byte) []byte {
	nonce := nonceForPacketID(packetID)
	return c.aead.Seal(nil, nonce, plaintext, associatedData)
}

// Open decrypts and authenticates ciphertext for packetID. On any
// verification failure it returns ErrDecryptFailed without revealing
// why.
func (c *PacketCipher) Open(packetID uint64, associatedData, ciphertext []byte) ([]byte, error) {
	nonce := nonceForPacketID(packetID)
	plaintext, err := c.aead.Open(nil, nonce, ciphertext, associatedData)
	if err != nil {
		return nil, ErrDecryptFailed
	}
	return plaintext, nil
}
