// Package media defines the capability boundary between the transport
// core and platform-specific capture, encode, decode, and render code.
// Nothing in this package touches a GPU, codec library, or display
// surface; it only describes the shapes the host and viewer loops drive.
package media

import "context"

// EncodedFrame is one encoder output, ready for fragmentation.
type EncodedFrame struct {
	TimestampUs uint64
	Keyframe    bool
	Data        []byte
}

// InputEvent is one viewer-originated input sample (keyboard, mouse,
// gamepad, or touch), serialized by the caller before it reaches
// Injector.
type InputEvent struct {
	TimestampUs uint64
	Data        []byte
}

// Encoder turns raw frames from a capture source into EncodedFrame
// values. Implementations wrap a platform codec (hardware or software);
// this package only describes the boundary.
type Encoder interface {
	// Encode submits one source frame and returns the encoded output,
	// or ok=false if the encoder buffered it without producing output.
	Encode(ctx context.Context, frame EncodedFrame) (EncodedFrame, bool, error)
	// RequestKeyframe asks the encoder to emit a keyframe on its next
	// output, used after packet loss recovery fails.
	RequestKeyframe()
	Close() error
}

// Decoder turns assembled EncodedFrame values back into frames a
// Renderer can display.
type Decoder interface {
	Decode(ctx context.Context, frame EncodedFrame) error
	Close() error
}

// Renderer presents decoded output to a display surface.
type Renderer interface {
	Present(ctx context.Context, frame EncodedFrame) error
	Close() error
}

// Injector delivers viewer input to the host's input subsystem.
type Injector interface {
	Inject(ctx context.Context, event InputEvent) error
}

// CapabilityProbe reports what a host machine can encode and at what
// ceiling, used during Hello/HelloAck negotiation.
type CapabilityProbe interface {
	// MaxFPS returns the highest frame rate tier the local encoder can
	// sustain, used to clamp DELTA's frame-rate ladder.
	MaxFPS() int
	// SupportsHardwareEncode reports whether a hardware encoder path is
	// available, informing capability exchange during handshake.
	SupportsHardwareEncode() bool
}

// NullEncoder is a passthrough Encoder for tests and headless builds: it
// returns each submitted frame unchanged.
type NullEncoder struct{}

func (NullEncoder) Encode(_ context.Context, frame EncodedFrame) (EncodedFrame, bool, error) {
	return frame, true, nil
}
func (NullEncoder) RequestKeyframe() {}
func (NullEncoder) Close() error     { return nil }

// NullDecoder is a passthrough Decoder for tests and headless builds.
type NullDecoder struct{}

func (NullDecoder) Decode(_ context.Context, _ EncodedFrame) error { return nil }
func (NullDecoder) Close() error                                  { return nil }

// NullProbe reports a conservative fixed capability set, used when no
// platform probe is wired in (test builds, relay-only deployments).
type NullProbe struct{}

func (NullProbe) MaxFPS() int                  { return 60 }
func (NullProbe) SupportsHardwareEncode() bool { return false }

// NullInjector discards every input event, for headless builds and
// tests that never drive a real OS input surface.
type NullInjector struct{}

func (NullInjector) Inject(_ context.Context, _ InputEvent) error { return nil }
