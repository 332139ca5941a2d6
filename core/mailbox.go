package core

// Mailbox is the single-slot handoff between packet producers and the
// track transmitter. Offer runs in producer context (command handlers, a
// second core, a non-interrupt goroutine); Drain runs only inside the
// transmitter at packet boundaries, after a full packet's worth of bits has
// gone out. A packet offered before a boundary is transmitted starting at
// that boundary or a later one, never earlier and never partially.
//
// The slot holds at most one packet. Implementations choose the
// synchronization primitive appropriate to their platform and must document
// whether a second Offer before the next Drain overwrites or is rejected.
type Mailbox interface {
	// Offer stages a packet for the next boundary. The return value is
	// implementation-defined acceptance (see SlotMailbox).
	Offer(p Packet) bool

	// Drain takes the staged packet, emptying the slot.
	Drain() (Packet, bool)
}

// SlotMailbox is the default Mailbox: last write wins. Offer replaces any
// packet still staged and reports whether the slot was previously empty, so
// producers can detect that they outran the track. Both sides swap the
// whole packet value inside a brief interrupt-disable section, which makes
// the handoff atomic against the transmitter's boundary drain on
// single-core targets.
type SlotMailbox struct {
	packet Packet
	full   bool
}

// Offer stages p, replacing any previous packet. Returns true if the slot
// was empty.
func (m *SlotMailbox) Offer(p Packet) bool {
	state := disableInterrupts()
	defer restoreInterrupts(state)

	wasEmpty := !m.full
	m.packet = p
	m.full = true
	return wasEmpty
}

// Drain removes and returns the staged packet, if any.
func (m *SlotMailbox) Drain() (Packet, bool) {
	state := disableInterrupts()
	defer restoreInterrupts(state)

	if !m.full {
		return Packet{}, false
	}
	m.full = false
	return m.packet, true
}
