package codec

import (
	"encoding/binary"
	"fmt"
)

// Control-channel message bodies.

type Hello struct {
	Codecs       []string
	MaxWidth     uint16
	MaxHeight    uint16
	// NoisePayload carries one inline Noise_XX handshake message.
	NoisePayload []byte
}

type HelloAck struct {
	Accepted        bool
	SessionID       [16]byte
	Codec           string
	Width           uint16
	Height          uint16
	FPS             uint16
	InitialBitrateKbps uint32
	KeyframeIntervalFrames uint16
	// NoisePayload carries one inline Noise_XX handshake message.
	NoisePayload []byte
}

type Ping struct {
	TimestampUs uint64
}

type Pong struct {
	TimestampUs uint64
}

type Stats struct {
	RTTUs    uint64
	JitterUs uint64
	Received uint64
	Lost     uint64
	PeriodMs uint32
}

// LossRatio returns Lost/(Received+Lost), or 0 if nothing was observed.
func (s Stats) LossRatio() float64 {
	total := s.Received + s.Lost
	if total == 0 {
		return 0
	}
	return float64(s.Lost) / float64(total)
}

type Bye struct {
	Reason string
}

// EncodeHello serializes h into a packet body.
func EncodeHello(h Hello) []byte {
	buf := make([]byte, 0, 64)
	buf = appendU8(buf, uint8(len(h.Codecs)))
	for _, c := range h.Codecs {
		buf = appendString8(buf, c)
	}
	buf = appendU16(buf, h.MaxWidth)
	buf = appendU16(buf, h.MaxHeight)
	buf = appendU32(buf, uint32(len(h.NoisePayload)))
	buf = append(buf, h.NoisePayload...)
	return buf
}

func DecodeHello(body []byte) (Hello, error) {
	var h Hello
	r := reader{buf: body}
	n, err := r.u8()
	if err != nil {
		return h, err
	}
	for i := uint8(0); i < n; i++ {
		s, err := r.string8()
		if err != nil {
			return h, err
		}
		h.Codecs = append(h.Codecs, s)
	}
	h.MaxWidth, err = r.u16()
	if err != nil {
		return h, err
	}
	h.MaxHeight, err = r.u16()
	if err != nil {
		return h, err
	}
	noiseLen, err := r.u32()
	if err != nil {
		return h, err
	}
	h.NoisePayload, err = r.bytes(int(noiseLen))
	return h, err
}

func EncodeHelloAck(a HelloAck) []byte {
	buf := make([]byte, 0, 64)
	if a.Accepted {
		buf = append(buf, 1)
	} else {
		buf = append(buf, 0)
	}
	buf = append(buf, a.SessionID[:]...)
	buf = appendString8(buf, a.Codec)
	buf = appendU16(buf, a.Width)
	buf = appendU16(buf, a.Height)
	buf = appendU16(buf, a.FPS)
	buf = appendU32(buf, a.InitialBitrateKbps)
	buf = appendU16(buf, a.KeyframeIntervalFrames)
	buf = appendU32(buf, uint32(len(a.NoisePayload)))
	buf = append(buf, a.NoisePayload...)
	return buf
}

func DecodeHelloAck(body []byte) (HelloAck, error) {
	var a HelloAck
	r := reader{buf: body}
	accepted, err := r.u8()
	if err != nil {
		return a, err
	}
	a.Accepted = accepted != 0
	sid, err := r.bytes(16)
	if err != nil {
		return a, err
	}
	copy(a.SessionID[:], sid)
	a.Codec, err = r.string8()
	if err != nil {
		return a, err
	}
	a.Width, err = r.u16()
	if err != nil {
		return a, err
	}
	a.Height, err = r.u16()
	if err != nil {
		return a, err
	}
	a.FPS, err = r.u16()
	if err != nil {
		return a, err
	}
	a.InitialBitrateKbps, err = r.u32()
	if err != nil {
		return a, err
	}
	a.KeyframeIntervalFrames, err = r.u16()
	if err != nil {
		return a, err
	}
	noiseLen, err := r.u32()
	if err != nil {
		return a, err
	}
	a.NoisePayload, err = r.bytes(int(noiseLen))
	return a, err
}

func EncodePing(p Ping) []byte {
	buf := make([]byte, 8)
	binary.BigEndian.PutUint64(buf, p.TimestampUs)
	return buf
}

func DecodePing(body []byte) (Ping, error) {
	if len(body) < 8 {
		return Ping{}, fmt.Errorf("%w: ping", ErrTooShort)
	}
	return Ping{TimestampUs: binary.BigEndian.Uint64(body)}, nil
}

func EncodePong(p Pong) []byte {
	buf := make([]byte, 8)
	binary.BigEndian.PutUint64(buf, p.TimestampUs)
	return buf
}

func DecodePong(body []byte) (Pong, error) {
	if len(body) < 8 {
		return Pong{}, fmt.Errorf("%w: pong", ErrTooShort)
	}
	return Pong{TimestampUs: binary.BigEndian.Uint64(body)}, nil
}

func EncodeStats(s Stats) []byte {
	buf := make([]byte, 0, 36)
	buf = appendU64(buf, s.RTTUs)
	buf = appendU64(buf, s.JitterUs)
	buf = appendU64(buf, s.Received)
	buf = appendU64(buf, s.Lost)
	buf = appendU32(buf, s.PeriodMs)
	return buf
}

func DecodeStats(body []byte) (Stats, error) {
	var s Stats
	r := reader{buf: body}
	var err error
	s.RTTUs, err = r.u64()
	if err != nil {
		return s, err
	}
	s.JitterUs, err = r.u64()
	if err != nil {
		return s, err
	}
	s.Received, err = r.u64()
	if err != nil {
		return s, err
	}
	s.Lost, err = r.u64()
	if err != nil {
		return s, err
	}
	s.PeriodMs, err = r.u32()
	return s, err
}

func EncodeBye(b Bye) []byte {
	var buf []byte
	return appendString8(buf, b.Reason)
}

func DecodeBye(body []byte) (Bye, error) {
	r := reader{buf: body}
	s, err := r.string8()
	return Bye{Reason: s}, err
}

// Input-channel message bodies. Each carries one platform input sample;
// the host decrypts and hands the decoded form to a media.Injector.

type KeyEvent struct {
	Code    uint32
	Pressed bool
}

type MouseButtonEvent struct {
	Button  uint8
	Pressed bool
}

type MouseMotionEvent struct {
	DX int32
	DY int32
}

type MouseAbsEvent struct {
	X uint16
	Y uint16
}

type ScrollEvent struct {
	DeltaX int32
	DeltaY int32
}

type GamepadEvent struct {
	ControllerIndex uint8
	Payload         []byte
}

func EncodeKeyEvent(e KeyEvent) []byte {
	buf := appendU32(nil, e.Code)
	return appendBool(buf, e.Pressed)
}

func DecodeKeyEvent(body []byte) (KeyEvent, error) {
	var e KeyEvent
	r := reader{buf: body}
	var err error
	e.Code, err = r.u32()
	if err != nil {
		return e, err
	}
	e.Pressed, err = r.boolean()
	return e, err
}

func EncodeMouseButtonEvent(e MouseButtonEvent) []byte {
	buf := appendU8(nil, e.Button)
	return appendBool(buf, e.Pressed)
}

func DecodeMouseButtonEvent(body []byte) (MouseButtonEvent, error) {
	var e MouseButtonEvent
	r := reader{buf: body}
	var err error
	e.Button, err = r.u8()
	if err != nil {
		return e, err
	}
	e.Pressed, err = r.boolean()
	return e, err
}

func EncodeMouseMotionEvent(e MouseMotionEvent) []byte {
	buf := appendU32(nil, uint32(e.DX))
	return appendU32(buf, uint32(e.DY))
}

func DecodeMouseMotionEvent(body []byte) (MouseMotionEvent, error) {
	var e MouseMotionEvent
	r := reader{buf: body}
	dx, err := r.u32()
	if err != nil {
		return e, err
	}
	dy, err := r.u32()
	if err != nil {
		return e, err
	}
	e.DX, e.DY = int32(dx), int32(dy)
	return e, nil
}

func EncodeMouseAbsEvent(e MouseAbsEvent) []byte {
	buf := appendU16(nil, e.X)
	return appendU16(buf, e.Y)
}

func DecodeMouseAbsEvent(body []byte) (MouseAbsEvent, error) {
	var e MouseAbsEvent
	r := reader{buf: body}
	var err error
	e.X, err = r.u16()
	if err != nil {
		return e, err
	}
	e.Y, err = r.u16()
	return e, err
}

func EncodeScrollEvent(e ScrollEvent) []byte {
	buf := appendU32(nil, uint32(e.DeltaX))
	return appendU32(buf, uint32(e.DeltaY))
}

func DecodeScrollEvent(body []byte) (ScrollEvent, error) {
	var e ScrollEvent
	r := reader{buf: body}
	dx, err := r.u32()
	if err != nil {
		return e, err
	}
	dy, err := r.u32()
	if err != nil {
		return e, err
	}
	e.DeltaX, e.DeltaY = int32(dx), int32(dy)
	return e, nil
}

func EncodeGamepadEvent(e GamepadEvent) []byte {
	buf := appendU8(nil, e.ControllerIndex)
	buf = appendU32(buf, uint32(len(e.Payload)))
	return append(buf, e.Payload...)
}

func DecodeGamepadEvent(body []byte) (GamepadEvent, error) {
	var e GamepadEvent
	r := reader{buf: body}
	var err error
	e.ControllerIndex, err = r.u8()
	if err != nil {
		return e, err
	}
	n, err := r.u32()
	if err != nil {
		return e, err
	}
	e.Payload, err = r.bytes(int(n))
	return e, err
}

// Media-channel message bodies.

type VideoChunk struct {
	FrameID     uint64
	ChunkIndex  uint16
	ChunkCount  uint16
	TimestampUs uint64
	Keyframe    bool
	Payload     []byte
}

type FecPacket struct {
	FirstPacketID uint64
	ShardCount    uint8
	Payload       []byte
}

func EncodeVideoChunk(v VideoChunk) []byte {
	buf := make([]byte, 0, 24+len(v.Payload))
	buf = appendU64(buf, v.FrameID)
	buf = appendU16(buf, v.ChunkIndex)
	buf = appendU16(buf, v.ChunkCount)
	buf = appendU64(buf, v.TimestampUs)
	if v.Keyframe {
		buf = append(buf, 1)
	} else {
		buf = append(buf, 0)
	}
	buf = appendU32(buf, uint32(len(v.Payload)))
	buf = append(buf, v.Payload...)
	return buf
}

func DecodeVideoChunk(body []byte) (VideoChunk, error) {
	var v VideoChunk
	r := reader{buf: body}
	var err error
	v.FrameID, err = r.u64()
	if err != nil {
		return v, err
	}
	v.ChunkIndex, err = r.u16()
	if err != nil {
		return v, err
	}
	v.ChunkCount, err = r.u16()
	if err != nil {
		return v, err
	}
	v.TimestampUs, err = r.u64()
	if err != nil {
		return v, err
	}
	kf, err := r.u8()
	if err != nil {
		return v, err
	}
	v.Keyframe = kf != 0
	payloadLen, err := r.u32()
	if err != nil {
		return v, err
	}
	v.Payload, err = r.bytes(int(payloadLen))
	return v, err
}

func EncodeFecPacket(f FecPacket) []byte {
	buf := make([]byte, 0, 13+len(f.Payload))
	buf = appendU64(buf, f.FirstPacketID)
	buf = append(buf, f.ShardCount)
	buf = appendU32(buf, uint32(len(f.Payload)))
	buf = append(buf, f.Payload...)
	return buf
}

func DecodeFecPacket(body []byte) (FecPacket, error) {
	var f FecPacket
	r := reader{buf: body}
	var err error
	f.FirstPacketID, err = r.u64()
	if err != nil {
		return f, err
	}
	f.ShardCount, err = r.u8()
	if err != nil {
		return f, err
	}
	payloadLen, err := r.u32()
	if err != nil {
		return f, err
	}
	f.Payload, err = r.bytes(int(payloadLen))
	return f, err
}
