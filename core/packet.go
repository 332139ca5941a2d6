// DCC packet model and serialisation
// Implements the NMRA baseline packet formats (S-9.2)
package core

import "errors"

// Loco address and speed domains for short (7-bit) addressing
const (
	MinLocoAddress = 1
	MaxLocoAddress = 127
	MaxSpeedStep   = 28
)

// MaxPacketBytes is the largest serialised packet size, checksum included.
// Baseline packets are three bytes; service-mode packets may carry up to
// four payload bytes plus the checksum.
const MaxPacketBytes = 6

// MaxServicePayload bounds the opaque service-mode payload (checksum
// excluded) so a Packet always fits fixed storage.
const MaxServicePayload = MaxPacketBytes - 1

var (
	ErrAddressOutOfRange = errors.New("loco address out of range")
	ErrSpeedOutOfRange   = errors.New("speed step out of range")
	ErrPayloadTooLong    = errors.New("service-mode payload too long")
	ErrPayloadEmpty      = errors.New("service-mode payload empty")
)

// Direction of travel, referenced to the loco's forward end
type Direction uint8

const (
	Forward Direction = iota
	Backward
)

// Toggle flips the direction
func (d Direction) Toggle() Direction {
	if d == Forward {
		return Backward
	}
	return Forward
}

// PacketKind discriminates the closed set of packet variants
type PacketKind uint8

const (
	KindSpeedAndDirection PacketKind = iota
	KindIdle
	KindReset
	KindBroadcastStop
	KindServiceMode
)

// Packet is one DCC command packet. It is a plain value with fixed-size
// storage so it can be copied into the transmitter and the mailbox without
// allocation. Construct packets through the New* functions; the zero value
// of Packet is a valid Idle-like placeholder but carries no meaning.
type Packet struct {
	kind       PacketKind
	address    uint8
	direction  Direction
	speed      uint8
	emergency  bool
	payload    [MaxServicePayload]byte
	payloadLen uint8
}

// NewSpeedAndDirection builds a 28-step speed command for a short-address
// loco. Address must be in [1, 127] (0 is the broadcast address and is not
// a loco address); speed must be in [0, 28] where 0 means stop.
func NewSpeedAndDirection(address uint8, direction Direction, speed uint8) (Packet, error) {
	if address < MinLocoAddress || address > MaxLocoAddress {
		return Packet{}, ErrAddressOutOfRange
	}
	if speed > MaxSpeedStep {
		return Packet{}, ErrSpeedOutOfRange
	}
	return Packet{
		kind:      KindSpeedAndDirection,
		address:   address,
		direction: direction,
		speed:     speed,
	}, nil
}

// NewIdle builds the idle packet (address 0xFF, data 0x00). Decoders ignore
// it; it keeps the track signal alive between commands.
func NewIdle() Packet {
	return Packet{kind: KindIdle}
}

// NewReset builds the all-decoder reset packet (all-zero bytes).
func NewReset() Packet {
	return Packet{kind: KindReset}
}

// NewBroadcastStop builds the broadcast stop packet. With emergency set,
// decoders cut motor power immediately instead of braking.
func NewBroadcastStop(emergency bool) Packet {
	return Packet{kind: KindBroadcastStop, emergency: emergency}
}

// NewServiceMode wraps an already-validated service-mode payload (S-9.2.3).
// The payload is the full data-byte sequence excluding the checksum; the
// checksum is appended at serialisation like any other packet.
func NewServiceMode(payload []byte) (Packet, error) {
	if len(payload) == 0 {
		return Packet{}, ErrPayloadEmpty
	}
	if len(payload) > MaxServicePayload {
		return Packet{}, ErrPayloadTooLong
	}
	p := Packet{kind: KindServiceMode, payloadLen: uint8(len(payload))}
	copy(p.payload[:], payload)
	return p, nil
}

// Kind returns the packet variant. Value receiver: Packet moves by copy, so
// the accessors must work on returned values like Transmitter.Current().
func (p Packet) Kind() PacketKind {
	return p.kind
}

// Address returns the loco address of a SpeedAndDirection packet.
func (p Packet) Address() uint8 {
	return p.address
}

// PreambleBits returns the minimum preamble length for this packet's class:
// 14 bits for service-mode packets, 10 otherwise.
func (p Packet) PreambleBits() uint8 {
	if p.kind == KindServiceMode {
		return ServiceModePreambleBits
	}
	return BaselinePreambleBits
}

// Speed instruction layout: 01DCSSSS where D is the direction bit and
// CSSSS is the 5-bit speed field. The 28-step table stores the adjusted
// speed value (step+3) with its LSB in C and the upper four bits in SSSS,
// so steps interleave across the C bit. Values 0 and 16 are stop, 1 and 17
// are emergency stop.
const (
	instrSpeedBase   = 0x40 // 01xxxxxx packet type
	instrForwardBit  = 0x20
	instrEStopCode   = 0x01
	speedStepOffset  = 3
	speedFieldLSBBit = 4 // adjusted-speed LSB lands in bit 4
)

// speedInstruction encodes direction and speed into the data byte.
func speedInstruction(direction Direction, speed uint8, emergency bool) uint8 {
	instr := uint8(instrSpeedBase)
	if direction == Forward {
		instr |= instrForwardBit
	}
	switch {
	case emergency:
		instr |= instrEStopCode
	case speed > 0:
		v := speed + speedStepOffset
		instr |= (v >> 1) & 0x0f
		instr |= (v & 0x01) << speedFieldLSBBit
	}
	return instr
}

// decodeSpeedInstruction is the inverse of speedInstruction for valid
// encodings. It returns the direction, the logical speed step, and whether
// the byte carries one of the emergency-stop codes.
func decodeSpeedInstruction(instr uint8) (Direction, uint8, bool) {
	direction := Backward
	if instr&instrForwardBit != 0 {
		direction = Forward
	}
	v := (instr&0x0f)<<1 | (instr>>speedFieldLSBBit)&0x01
	switch v {
	case 0, 1: // stop, with or without the C bit set
		return direction, 0, false
	case 2, 3: // emergency stop codes
		return direction, 0, true
	}
	return direction, v - speedStepOffset, false
}

// Bytes serialises the packet into buf and returns the byte count, the
// trailing XOR checksum included. buf must be at least MaxPacketBytes long.
// Serialisation is pure: it never fails for a constructed packet and leaves
// the packet untouched.
func (p *Packet) Bytes(buf []byte) int {
	var n int
	switch p.kind {
	case KindSpeedAndDirection:
		buf[0] = p.address
		buf[1] = speedInstruction(p.direction, p.speed, false)
		n = 2
	case KindIdle:
		buf[0] = 0xff
		buf[1] = 0x00
		n = 2
	case KindReset:
		buf[0] = 0x00
		buf[1] = 0x00
		n = 2
	case KindBroadcastStop:
		// Direction bit left clear; decoders ignore it for broadcast stop.
		buf[0] = 0x00
		buf[1] = instrSpeedBase
		if p.emergency {
			buf[1] |= instrEStopCode
		}
		n = 2
	case KindServiceMode:
		n = copy(buf, p.payload[:p.payloadLen])
	}

	var sum uint8
	for _, b := range buf[:n] {
		sum ^= b
	}
	buf[n] = sum
	return n + 1
}
