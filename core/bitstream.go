// DCC bit timing and packet framing (S-9.1 / S-9.2)
package core

// Half-bit durations in microseconds. A logical 1 is a symmetric square
// pulse of two 58 µs halves; a logical 0 uses 100 µs halves. Downstream
// decoders are timing-sensitive, so these are the protocol's only magic
// numbers and are deliberately named rather than inlined.
const (
	OneHalfBitMicros  = 58
	ZeroHalfBitMicros = 100
)

// Minimum preamble lengths per packet class. Service-mode (programming)
// packets require the longer preamble (S-9.2.3).
const (
	BaselinePreambleBits    = 10
	ServiceModePreambleBits = 14
)

// HalfBitMicros returns the half-period for one logical bit.
func HalfBitMicros(bit bool) uint32 {
	if bit {
		return OneHalfBitMicros
	}
	return ZeroHalfBitMicros
}

// Bitstream phases, in wire order
type streamPhase uint8

const (
	phasePreamble streamPhase = iota
	phaseStartBit
	phaseDataBit
	phaseSeparator
	phaseEndBit
	phaseDone
)

// Bitstream walks the logical bits of one packet lazily: the preamble run
// of 1s, a 0 start bit, each byte MSB-first with a 0 separator after every
// byte except the last, and a final 1 end bit. It holds the serialised
// packet in fixed storage, is finite, and can be restarted with Reset, so
// no bit sequence is ever materialised.
type Bitstream struct {
	data     [MaxPacketBytes]byte
	n        uint8
	preamble uint8

	phase     streamPhase
	remaining uint8 // preamble bits still to emit
	byteIdx   uint8
	bitIdx    uint8 // 0 is the MSB
}

// NewBitstream serialises p and positions the cursor at the first preamble
// bit. preambleBits is the minimum preamble for the packet's class (see
// Packet.PreambleBits); the transmitter may configure longer runs.
func NewBitstream(p *Packet, preambleBits uint8) Bitstream {
	s := Bitstream{preamble: preambleBits}
	s.n = uint8(p.Bytes(s.data[:]))
	s.Reset()
	return s
}

// Reset rewinds the cursor to the first preamble bit.
func (s *Bitstream) Reset() {
	s.phase = phasePreamble
	s.remaining = s.preamble
	s.byteIdx = 0
	s.bitIdx = 0
}

// Len returns the total number of logical bits: preamble + start bit +
// 9 bits per byte (8 data bits plus the trailing separator or end bit).
func (s *Bitstream) Len() int {
	return int(s.preamble) + 1 + 9*int(s.n)
}

// AtEnd reports whether the cursor has passed the end bit.
func (s *Bitstream) AtEnd() bool {
	return s.phase == phaseDone
}

// Next returns the bit under the cursor and advances. ok is false once the
// end bit has been consumed; Reset or a new stream is required after that.
func (s *Bitstream) Next() (bit bool, ok bool) {
	switch s.phase {
	case phasePreamble:
		s.remaining--
		if s.remaining == 0 {
			s.phase = phaseStartBit
		}
		return true, true

	case phaseStartBit:
		s.phase = phaseDataBit
		return false, true

	case phaseDataBit:
		bit = s.data[s.byteIdx]&(0x80>>s.bitIdx) != 0
		s.bitIdx++
		if s.bitIdx == 8 {
			s.bitIdx = 0
			if s.byteIdx == s.n-1 {
				s.phase = phaseEndBit
			} else {
				s.phase = phaseSeparator
			}
		}
		return bit, true

	case phaseSeparator:
		s.byteIdx++
		s.phase = phaseDataBit
		return false, true

	case phaseEndBit:
		s.phase = phaseDone
		return true, true
	}
	return false, false
}
