package core

import "testing"

// MockGPIODriver records pin writes for transmitter tests.
type MockGPIODriver struct {
	pins   map[GPIOPin]bool
	writes int
	levels []bool
}

func NewMockGPIODriver() *MockGPIODriver {
	return &MockGPIODriver{pins: make(map[GPIOPin]bool)}
}

func (m *MockGPIODriver) ConfigureOutput(pin GPIOPin) error {
	m.pins[pin] = false
	return nil
}

func (m *MockGPIODriver) SetPin(pin GPIOPin, value bool) error {
	m.pins[pin] = value
	m.writes++
	m.levels = append(m.levels, value)
	return nil
}

func (m *MockGPIODriver) GetPin(pin GPIOPin) (bool, error) {
	return m.pins[pin], nil
}

// resetPacketDurations is the half-bit schedule of one Reset packet with a
// 10-bit preamble: 20 preamble halves of 58 µs, then the start bit, three
// all-zero bytes and their separators at 100 µs, then the end bit at 58 µs.
func resetPacketDurations() []uint32 {
	var want []uint32
	for i := 0; i < 20; i++ {
		want = append(want, OneHalfBitMicros)
	}
	for i := 0; i < 2+16+2+16+2+16; i++ {
		want = append(want, ZeroHalfBitMicros)
	}
	want = append(want, OneHalfBitMicros, OneHalfBitMicros)
	return want
}

func TestResetPacketTiming(t *testing.T) {
	driver := NewMockGPIODriver()
	tx := NewTransmitter(driver, 2, NewReset(), &SlotMailbox{})

	want := resetPacketDurations()
	for i, expected := range want {
		got := tx.Tick()
		if got != expected {
			t.Fatalf("half-bit %d: expected %d µs, got %d µs", i, expected, got)
		}
	}
	if driver.writes != len(want) {
		t.Errorf("expected %d pin writes, got %d", len(want), driver.writes)
	}
	if tx.PacketCount() != 1 {
		t.Errorf("expected 1 completed packet, got %d", tx.PacketCount())
	}
}

func TestOnePinWritePerTick(t *testing.T) {
	driver := NewMockGPIODriver()
	tx := NewTransmitter(driver, 2, NewIdle(), &SlotMailbox{})

	for i := 1; i <= 100; i++ {
		tx.Tick()
		if driver.writes != i {
			t.Fatalf("after %d ticks: %d pin writes", i, driver.writes)
		}
	}
}

func TestHalfBitPhases(t *testing.T) {
	driver := NewMockGPIODriver()
	tx := NewTransmitter(driver, 2, NewIdle(), &SlotMailbox{})

	for i := 0; i < 50; i++ {
		tx.Tick()
		wantHigh := i%2 == 0
		if driver.levels[i] != wantHigh {
			t.Fatalf("half-bit %d: expected level %v, got %v", i, wantHigh, driver.levels[i])
		}
	}
}

func TestContinuousRefresh(t *testing.T) {
	driver := NewMockGPIODriver()
	tx := NewTransmitter(driver, 2, NewReset(), &SlotMailbox{})

	packetHalves := len(resetPacketDurations())
	first := make([]uint32, packetHalves)
	second := make([]uint32, packetHalves)
	for i := range first {
		first[i] = tx.Tick()
	}
	// No packet was offered: the very next packet must be bit-identical.
	for i := range second {
		second[i] = tx.Tick()
	}
	for i := range first {
		if first[i] != second[i] {
			t.Fatalf("half-bit %d: retransmission differs (%d vs %d)", i, first[i], second[i])
		}
	}
	if tx.PacketCount() != 2 {
		t.Errorf("expected 2 completed packets, got %d", tx.PacketCount())
	}
}

func TestBoundaryHandoff(t *testing.T) {
	driver := NewMockGPIODriver()
	mailbox := &SlotMailbox{}
	tx := NewTransmitter(driver, 2, NewIdle(), mailbox)

	next, err := NewSpeedAndDirection(3, Forward, 14)
	if err != nil {
		t.Fatalf("construction failed: %v", err)
	}

	// Stage mid-packet; the in-flight packet must finish untouched.
	tx.Tick()
	tx.Tick()
	mailbox.Offer(next)

	idleHalves := 2 * (BaselinePreambleBits + 1 + 9*3)
	for i := 2; i < idleHalves; i++ {
		tx.Tick()
	}

	if got := tx.Current().Kind(); got != KindSpeedAndDirection {
		t.Fatalf("after boundary: expected pending packet installed, got kind %d", got)
	}
	if tx.Current().Address() != 3 {
		t.Errorf("expected address 3, got %d", tx.Current().Address())
	}
	if _, ok := mailbox.Drain(); ok {
		t.Error("pending slot not empty after boundary")
	}

	// The new packet starts with its own preamble.
	for i := 0; i < 2*BaselinePreambleBits; i++ {
		if got := tx.Tick(); got != OneHalfBitMicros {
			t.Fatalf("new packet half-bit %d: expected preamble timing, got %d µs", i, got)
		}
	}
}

func TestCurrentAccessorsOnReturnValue(t *testing.T) {
	pkt, err := NewSpeedAndDirection(35, Backward, 7)
	if err != nil {
		t.Fatalf("construction failed: %v", err)
	}
	driver := NewMockGPIODriver()
	tx := NewTransmitter(driver, 2, pkt, &SlotMailbox{})

	// Accessors chain directly off Current()'s returned copy.
	if tx.Current().Kind() != KindSpeedAndDirection {
		t.Errorf("Kind on returned copy: got %d", tx.Current().Kind())
	}
	if tx.Current().Address() != 35 {
		t.Errorf("Address on returned copy: got %d", tx.Current().Address())
	}
	if tx.Current().PreambleBits() != BaselinePreambleBits {
		t.Errorf("PreambleBits on returned copy: got %d", tx.Current().PreambleBits())
	}
}

func TestServiceModePreambleOnWire(t *testing.T) {
	pkt, err := NewServiceMode([]byte{0x7c, 0x00, 0x06})
	if err != nil {
		t.Fatalf("construction failed: %v", err)
	}
	driver := NewMockGPIODriver()
	tx := NewTransmitter(driver, 2, pkt, &SlotMailbox{})

	for i := 0; i < 2*ServiceModePreambleBits; i++ {
		if got := tx.Tick(); got != OneHalfBitMicros {
			t.Fatalf("service preamble half-bit %d: got %d µs", i, got)
		}
	}
	// Next comes the start bit.
	if got := tx.Tick(); got != ZeroHalfBitMicros {
		t.Errorf("start bit: expected %d µs, got %d", ZeroHalfBitMicros, got)
	}
}

func TestSlotMailboxSemantics(t *testing.T) {
	var m SlotMailbox

	if _, ok := m.Drain(); ok {
		t.Error("empty mailbox drained a packet")
	}
	if !m.Offer(NewIdle()) {
		t.Error("Offer into empty slot reported it full")
	}
	// Last write wins.
	if m.Offer(NewReset()) {
		t.Error("Offer into full slot reported it empty")
	}
	pkt, ok := m.Drain()
	if !ok {
		t.Fatal("Drain found nothing after Offer")
	}
	if pkt.Kind() != KindReset {
		t.Errorf("expected the most recent packet, got kind %d", pkt.Kind())
	}
	if _, ok := m.Drain(); ok {
		t.Error("slot still full after Drain")
	}
}

func TestTransmitterTimerDriven(t *testing.T) {
	driver := NewMockGPIODriver()
	tx := NewTransmitter(driver, 2, NewReset(), &SlotMailbox{})

	SetTime(0)
	tx.Start(10)

	// One Reset packet spans 6676 µs; the 76th write is scheduled at
	// start + total - 58. Walk virtual time one tick at a time.
	var total uint32
	for _, d := range resetPacketDurations() {
		total += d
	}
	last := 10 + total - OneHalfBitMicros
	for now := uint32(0); now <= last; now++ {
		SetTime(now)
		ProcessTimers()
	}

	if driver.writes != len(resetPacketDurations()) {
		t.Errorf("expected %d timer-driven writes, got %d", len(resetPacketDurations()), driver.writes)
	}

	writes := driver.writes
	tx.Stop()
	for now := last; now < last+1000; now++ {
		SetTime(now)
		ProcessTimers()
	}
	// Stop silences the pin with one final write and unschedules.
	if driver.writes != writes+1 {
		t.Errorf("transmitter still running after Stop: %d extra writes", driver.writes-writes-1)
	}
}
