package crypto

import "testing"

func TestStaticKeypairFromHexRoundTrip(t *testing.T) {
	kp, err := GenerateStaticKeypair()
	if err != nil {
		t.Fatalf("generate: %v", err)
	}

	restored, err := StaticKeypairFromHex(kp.EncodeHex())
	if err != nil {
		t.Fatalf("from hex: %v", err)
	}
	if restored.Private != kp.Private {
		t.Fatal("private key mismatch after hex round trip")
	}
	if restored.Public != kp.Public {
		t.Fatal("derived public key mismatch after hex round trip")
	}
}

func TestStaticKeypairFromHexRejectsWrongLength(t *testing.T) {
	if _, err := StaticKeypairFromHex("abcd"); err == nil {
		t.Fatal("expected error for short private key")
	}
}

func runHandshake(t *testing.T) (initiator, responder *HandshakeState) {
	t.Helper()
	initKeys, err := GenerateStaticKeypair()
	if err != nil {
		t.Fatalf("generate initiator keys: %v", err)
	}
	respKeys, err := GenerateStaticKeypair()
	if err != nil {
		t.Fatalf("generate responder keys: %v", err)
	}

	initiator, err = NewInitiatorHandshake(initKeys)
	if err != nil {
		t.Fatalf("new initiator: %v", err)
	}
	responder, err = NewResponderHandshake(respKeys)
	if err != nil {
		t.Fatalf("new responder: %v", err)
	}

	msg1, _, err := initiator.WriteMessage(nil)
	if err != nil {
		t.Fatalf("write msg1: %v", err)
	}
	if _, _, err := responder.ReadMessage(msg1); err != nil {
		t.Fatalf("read msg1: %v", err)
	}

	msg2, _, err := responder.WriteMessage(nil)
	if err != nil {
		t.Fatalf("write msg2: %v", err)
	}
	if _, _, err := initiator.ReadMessage(msg2); err != nil {
		t.Fatalf("read msg2: %v", err)
	}

	msg3, done, err := initiator.WriteMessage(nil)
	if err != nil {
		t.Fatalf("write msg3: %v", err)
	}
	if !done {
		t.Fatal("initiator should be complete after writing msg3")
	}
	if _, done, err := responder.ReadMessage(msg3); err != nil || !done {
		t.Fatalf("read msg3: done=%v err=%v", done, err)
	}

	return initiator, responder
}

func TestHandshakeCompletesWithMatchingHash(t *testing.T) {
	initiator, responder := runHandshake(t)

	ih, err := initiator.HandshakeHash()
	if err != nil {
		t.Fatalf("initiator hash: %v", err)
	}
	rh, err := responder.HandshakeHash()
	if err != nil {
		t.Fatalf("responder hash: %v", err)
	}
	if ih != rh {
		t.Fatal("handshake hashes must match on both sides")
	}
}

func TestHandshakeHashBeforeCompletionErrs(t *testing.T) {
	keys, _ := GenerateStaticKeypair()
	hs, _ := NewInitiatorHandshake(keys)
	if _, err := hs.HandshakeHash(); err != ErrHandshakeNotComplete {
		t.Fatalf("expected ErrHandshakeNotComplete, got %v", err)
	}
}

func TestDeriveTransportKeysSymmetric(t *testing.T) {
	initiator, responder := runHandshake(t)
	ih, _ := initiator.HandshakeHash()
	rh, _ := responder.HandshakeHash()

	ik, err := DeriveTransportKeys(ih)
	if err != nil {
		t.Fatalf("derive initiator keys: %v", err)
	}
	rk, err := DeriveTransportKeys(rh)
	if err != nil {
		t.Fatalf("derive responder keys: %v", err)
	}
	if ik != rk {
		t.Fatal("both sides must derive identical transport keys")
	}
}

func TestEncryptedSessionRoundTripAndReplayRejection(t *testing.T) {
	initiator, responder := runHandshake(t)
	ih, _ := initiator.HandshakeHash()
	keys, _ := DeriveTransportKeys(ih)

	sender, err := NewEncryptedSession(keys, true, responder.PeerStaticKey(), DefaultWindowSize)
	if err != nil {
		t.Fatalf("new sender session: %v", err)
	}
	receiver, err := NewEncryptedSession(keys, false, initiator.PeerStaticKey(), DefaultWindowSize)
	if err != nil {
		t.Fatalf("new receiver session: %v", err)
	}

	id, ct := sender.Encrypt([]byte("header"), []byte("payload"))
	pt, err := receiver.Decrypt(id, []byte("header"), ct)
	if err != nil {
		t.Fatalf("decrypt: %v", err)
	}
	if string(pt) != "payload" {
		t.Fatalf("got %q want payload", pt)
	}

	// Scenario d: replay of the exact same packet must be rejected.
	if _, err := receiver.Decrypt(id, []byte("header"), ct); err == nil {
		t.Fatal("replayed ciphertext must be rejected")
	}
}

func TestEncryptedSessionOutOfOrderDecrypt(t *testing.T) {
	initiator, responder := runHandshake(t)
	ih, _ := initiator.HandshakeHash()
	keys, _ := DeriveTransportKeys(ih)

	sender, _ := NewEncryptedSession(keys, true, responder.PeerStaticKey(), DefaultWindowSize)
	receiver, _ := NewEncryptedSession(keys, false, initiator.PeerStaticKey(), DefaultWindowSize)

	type sealed struct {
		id uint64
		ct []byte
	}
	var packets []sealed
	for i := 0; i < 3; i++ {
		id, ct := sender.Encrypt(nil, []byte{byte(i)})
		packets = append(packets, sealed{id, ct})
	}

	// Scenario f: deliver out of order (2, 0, 1); all three must decrypt.
	order := []int{2, 0, 1}
	for _, idx := range order {
		p := packets[idx]
		pt, err := receiver.Decrypt(p.id, nil, p.ct)
		if err != nil {
			t.Fatalf("decrypt packet %d (delivered out of order): %v", idx, err)
		}
		if pt[0] != byte(idx) {
			t.Fatalf("packet %d decrypted to wrong plaintext %v", idx, pt)
		}
	}
}

func TestNonceDiffersAcrossPacketIDs(t *testing.T) {
	// Invariant 6: different packet ids -> different nonces -> independent ciphertexts.
	n0 := nonceForPacketID(0)
	n1 := nonceForPacketID(1)
	equal := true
	for i := range n0 {
		if n0[i] != n1[i] {
			equal = false
			break
		}
	}
	if equal {
		t.Fatal("nonces for different packet ids must differ")
	}
}

func TestTamperedCiphertextRejected(t *testing.T) {
	initiator, responder := runHandshake(t)
	ih, _ := initiator.HandshakeHash()
	keys, _ := DeriveTransportKeys(ih)

	sender, _ := NewEncryptedSession(keys, true, responder.PeerStaticKey(), DefaultWindowSize)
	receiver, _ := NewEncryptedSession(keys, false, initiator.PeerStaticKey(), DefaultWindowSize)

	id, ct := sender.Encrypt(nil, []byte("payload"))
	tampered := append([]byte(nil), ct...)
	tampered[0] ^= 0xFF

	if _, err := receiver.Decrypt(id, nil, tampered); err == nil {
		t.Fatal("tampered ciphertext must fail authentication")
	}
}
