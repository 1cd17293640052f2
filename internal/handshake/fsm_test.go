package handshake

import "testing"

func TestClientHappyPath(t *testing.T) {
	f := New(RoleClient)
	if _, err := f.Apply(EventSendHello); err != nil {
		t.Fatalf("send hello: %v", err)
	}
	if f.State() != StateHelloSent {
		t.Fatalf("state = %s, want hello_sent", f.State())
	}
	if _, err := f.Apply(EventReceiveHelloAck); err != nil {
		t.Fatalf("receive hello ack: %v", err)
	}
	if err := f.Establish(); err != nil {
		t.Fatalf("establish: %v", err)
	}
	if f.State() != StateEstablished {
		t.Fatalf("state = %s, want established", f.State())
	}
}

func TestHostHappyPath(t *testing.T) {
	f := New(RoleHost)
	if _, err := f.Apply(EventReceiveHello); err != nil {
		t.Fatalf("receive hello: %v", err)
	}
	if _, err := f.Apply(EventSendHelloAck); err != nil {
		t.Fatalf("send hello ack: %v", err)
	}
	if err := f.Establish(); err != nil {
		t.Fatalf("establish: %v", err)
	}
	if f.State() != StateEstablished {
		t.Fatalf("state = %s, want established", f.State())
	}
}

func TestDuplicateHelloAfterReceivedIsReported(t *testing.T) {
	f := New(RoleHost)
	if _, err := f.Apply(EventReceiveHello); err != nil {
		t.Fatalf("first hello: %v", err)
	}
	_, err := f.Apply(EventReceiveHello)
	if _, ok := err.(*DuplicateHelloError); !ok {
		t.Fatalf("expected DuplicateHelloError, got %v", err)
	}
	// State must not have moved.
	if f.State() != StateHelloReceived {
		t.Fatalf("state = %s, want hello_received (unchanged)", f.State())
	}
}

func TestDuplicateHelloAfterAckSentIsReported(t *testing.T) {
	f := New(RoleHost)
	mustApply(t, f, EventReceiveHello)
	mustApply(t, f, EventSendHelloAck)
	_, err := f.Apply(EventReceiveHello)
	if _, ok := err.(*DuplicateHelloError); !ok {
		t.Fatalf("expected DuplicateHelloError, got %v", err)
	}
}

func TestInvalidTransitionReported(t *testing.T) {
	f := New(RoleHost)
	_, err := f.Apply(EventReceiveHelloAck)
	it, ok := err.(*InvalidTransitionError)
	if !ok {
		t.Fatalf("expected InvalidTransitionError, got %v", err)
	}
	if it.State != StateIdle || it.Event != EventReceiveHelloAck {
		t.Fatalf("unexpected error contents: %+v", it)
	}
}

func TestTimeoutReturnsToIdleFromHelloSent(t *testing.T) {
	f := New(RoleClient)
	mustApply(t, f, EventSendHello)
	if _, err := f.Apply(EventTimeout); err != nil {
		t.Fatalf("timeout: %v", err)
	}
	if f.State() != StateIdle {
		t.Fatalf("state = %s, want idle after timeout retry", f.State())
	}
}

func TestCheckSessionIDMismatch(t *testing.T) {
	var want, got [16]byte
	want[0] = 1
	got[0] = 2
	if err := CheckSessionID(want, got); err == nil {
		t.Fatal("expected mismatch error")
	}
	if err := CheckSessionID(want, want); err != nil {
		t.Fatalf("expected no error for matching ids, got %v", err)
	}
}

func TestNewSessionIDNonZeroAndVaries(t *testing.T) {
	a := NewSessionID(nil)
	if IsZero(a) {
		t.Fatal("session id should not be zero")
	}
	b := NewSessionID(nil)
	if a == b {
		t.Fatal("two session ids should not collide in practice")
	}
}

func mustApply(t *testing.T, f *FSM, ev Event) {
	t.Helper()
	if _, err := f.Apply(ev); err != nil {
		t.Fatalf("apply %s: %v", ev, err)
	}
}
