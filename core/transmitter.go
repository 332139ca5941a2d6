// DCC track waveform generation
// Turns packets into precisely timed pin transitions, one half-bit per tick
package core

// Transmitter drives one track output pin with the DCC bitstream. It owns
// the packet currently on the wire and its cursor exclusively; the only
// contact point with producers is the pending Mailbox, read at packet
// boundaries. The transmitter is built once at startup (typically around an
// Idle packet) and runs for the life of the firmware — DCC has no terminal
// state, a packet with no successor is simply retransmitted, because
// decoders need continuous repetition to stay responsive.
type Transmitter struct {
	// Preamble minimums per packet class. Seeded from the protocol
	// constants; integrators may lengthen them for marginal decoders.
	BaselinePreamble    uint8
	ServiceModePreamble uint8

	driver  GPIODriver
	pin     GPIOPin
	pending Mailbox

	packet     Packet
	stream     Bitstream
	bit        bool // logical bit currently on the wire
	secondHalf bool

	timer       Timer
	packetCount uint32
}

// NewTransmitter builds a transmitter for the given output pin, loaded with
// first (normally an Idle packet) and draining pending at boundaries. The
// pin must already be configured as an output.
func NewTransmitter(driver GPIODriver, pin GPIOPin, first Packet, pending Mailbox) *Transmitter {
	t := &Transmitter{
		BaselinePreamble:    BaselinePreambleBits,
		ServiceModePreamble: ServiceModePreambleBits,
		driver:              driver,
		pin:                 pin,
		pending:             pending,
	}
	t.load(first)
	t.timer.Handler = t.timerEvent
	return t
}

func (t *Transmitter) preambleFor(p *Packet) uint8 {
	if p.Kind() == KindServiceMode {
		return t.ServiceModePreamble
	}
	return t.BaselinePreamble
}

func (t *Transmitter) load(p Packet) {
	t.packet = p
	t.stream = NewBitstream(&p, t.preambleFor(&p))
}

// Tick advances the waveform by one half-bit and returns the number of
// microseconds until the next call is due. The caller contract is strict:
// invoke exactly once per returned interval, never concurrently. Each call
// performs exactly one pin write and a constant amount of work; there is no
// error path, because nothing recoverable can go wrong here and defensive
// checks would themselves endanger the timing.
func (t *Transmitter) Tick() uint32 {
	if !t.secondHalf {
		// Leading half of a new logical bit. The stream cannot be
		// exhausted here: the boundary reload below always happens on
		// the trailing half of the end bit.
		t.bit, _ = t.stream.Next()
		_ = t.driver.SetPin(t.pin, true)
		t.secondHalf = true
	} else {
		_ = t.driver.SetPin(t.pin, false)
		t.secondHalf = false
		if t.stream.AtEnd() {
			t.boundary()
		}
	}
	return HalfBitMicros(t.bit)
}

// boundary runs once per packet, after the end bit's trailing half: install
// the pending packet if one was offered, otherwise re-arm and repeat the
// current packet unchanged.
func (t *Transmitter) boundary() {
	t.packetCount++
	if next, ok := t.pending.Drain(); ok {
		t.load(next)
	} else {
		t.stream.Reset()
	}
}

// NextBit yields the next logical bit for hardware backends that realise
// half-bit timing themselves (the RP2040 PIO waveform backend). It performs
// the same boundary handoff as Tick. A transmitter is driven either through
// Tick or through NextBit, never both.
func (t *Transmitter) NextBit() bool {
	bit, _ := t.stream.Next()
	if t.stream.AtEnd() {
		t.boundary()
	}
	return bit
}

// Current returns a copy of the packet now on the wire.
func (t *Transmitter) Current() Packet {
	return t.packet
}

// PacketCount returns how many complete packets have been transmitted.
func (t *Transmitter) PacketCount() uint32 {
	return t.packetCount
}

// Start schedules the first half-bit at the given tick time. From then on
// the transmitter re-arms itself through the timer list.
func (t *Transmitter) Start(wake uint32) {
	t.timer.WakeTime = wake
	ScheduleTimer(&t.timer)
}

// Stop removes the transmitter from the timer list and silences the pin.
// The waveform stops mid-packet; decoders treat the loss of transitions as
// loss of signal.
func (t *Transmitter) Stop() {
	UnscheduleTimer(&t.timer)
	_ = t.driver.SetPin(t.pin, false)
	t.secondHalf = false
}

// timerEvent emits one half-bit and re-arms for the returned interval.
func (t *Transmitter) timerEvent(tm *Timer) uint8 {
	tm.WakeTime += TimerFromUS(t.Tick())
	return SF_RESCHEDULE
}
