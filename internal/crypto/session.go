package crypto

import "sync/atomic"

// EncryptedSession wraps a completed handshake's derived keys into a
// ready-to-use bidirectional transport: an outbound packet id counter,
// a send cipher, a receive cipher, and a replay window. One instance is
// owned by exactly one peer's session state.
type EncryptedSession struct {
	send      *PacketCipher
	recv      *PacketCipher
	window    *SequenceWindow
	nextSend  atomic.Uint64
	peerKey   [32]byte
}

// NewEncryptedSession builds a session for either side. With initiator
// set it sends on InitiatorToResponder and receives on
// ResponderToInitiator; otherwise the two keys are swapped.
func NewEncryptedSession(keys TransportKeys, initiator bool, peerKey [32]byte, windowSize int) (*EncryptedSession, error) {
	var sendKey, recvKey [32]byte
	if initiator {
		sendKey = keys.InitiatorToResponder
		recvKey = keys.ResponderToInitiator
	} else {
		sendKey = keys.ResponderToInitiator
		recvKey = keys.InitiatorToResponder
	}

	send, err := NewPacketCipher(sendKey)
	if err != nil {
		return nil, err
	}
	recv, err := NewPacketCipher(recvKey)
	if err != nil {
		return nil, err
	}

	return &EncryptedSession{
		send:    send,
		recv:    recv,
		window:  NewSequenceWindowWithSize(windowSize),
		peerKey: peerKey,
	}, nil
}

// Encrypt assigns the next packet id and encrypts plaintext, returning
// the id used and the ciphertext. associatedData is typically the
// packet's plaintext header bytes.
func (s *EncryptedSession) Encrypt(associatedData, plaintext []byte) (uint64, []byte) {
	id := s.nextSend.Add(1) - 1
	ct := s.send.Seal(id, associatedData, plaintext)
	return id, ct
}

// Decrypt validates packetID against the replay window, decrypts, and
// only then marks the window. Returns ErrDecryptFailed for both a
// replay and an authentication failure (see ErrDecryptFailed's doc).
func (s *EncryptedSession) Decrypt(packetID uint64, associatedData, ciphertext []byte) ([]byte, error) {
	if !s.window.Check(packetID) {
		return nil, ErrDecryptFailed
	}
	plaintext, err := s.recv.Open(packetID, associatedData, ciphertext)
	if err != nil {
		return nil, err
	}
	// The window only advances after a successful AEAD verification,
	// so a flood of forged sequence numbers can't be used to exhaust it.
	s.window.CheckAndUpdate(packetID)
	return plaintext, nil
}

// PeerStaticKey returns the remote party's static public key bound at
// session construction.
func (s *EncryptedSession) PeerStaticKey() [32]byte { return s.peerKey }
