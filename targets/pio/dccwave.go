//go:build rp2040

// Package pio generates the DCC track waveform on the RP2040 PIO block.
// The state machine times each half-bit in hardware, so the CPU only has to
// keep the TX FIFO topped up instead of hitting a 58 µs interrupt deadline.
package pio

import (
	"machine"

	rp2pio "github.com/tinygo-org/pio/rp2-pio"

	"godcc/core"
)

// PIO program for DCC half-bit generation
// Command word format:
//
//	Bits 16-31: high half duration in µs, minus pipeline overhead
//	Bits 0-15:  low half duration in µs, minus pipeline overhead
//
// Program flow:
//  1. Pull a 32-bit command from the FIFO (stalls low if the FIFO is empty)
//  2. Extract the high duration into X, drive the pin high, count X down
//  3. Extract the low duration into Y, drive the pin low, count Y down
//
// The clock divider is set so one instruction cycle is 1 µs; the fixed
// instructions around each counting loop are folded into the overhead
// constants below.
func buildWaveProgram() []uint16 {
	asm := rp2pio.AssemblerV0{SidesetBits: 0}
	return []uint16{
		// .wrap_target
		asm.Pull(false, true).Encode(),        // 0: pull block
		asm.Out(rp2pio.OutDestX, 16).Encode(), // 1: out x, 16 (high µs)
		asm.Set(rp2pio.SetDestPins, 1).Encode(), // 2: set pins, 1
		// high_loop:
		asm.Jmp(3, rp2pio.JmpXNZeroDec).Encode(), // 3: jmp x--, 3
		asm.Out(rp2pio.OutDestY, 16).Encode(),    // 4: out y, 16 (low µs)
		asm.Set(rp2pio.SetDestPins, 0).Encode(),  // 5: set pins, 0
		// low_loop:
		asm.Jmp(6, rp2pio.JmpYNZeroDec).Encode(), // 6: jmp y--, 6
		// .wrap
	}
}

const waveProgramOrigin = 0 // Load at offset 0 for correct jump addresses

// Instruction cycles spent outside the counting loops, at 1 µs per cycle.
// High phase: set(1) + out(1) after the loop; the loop itself runs X+1
// times. Low phase additionally absorbs the pull/out of the next word.
const (
	highOverheadMicros = 3
	lowOverheadMicros  = 4
)

// DCCWaveBackend drives the track pin from a PIO state machine. It replaces
// the timer-interrupt Tick path: the transmitter's bit cursor is advanced
// with NextBit whenever the FIFO has room.
type DCCWaveBackend struct {
	pio      *rp2pio.PIO
	sm       rp2pio.StateMachine
	trackPin machine.Pin
	offset   uint8
}

// NewDCCWaveBackend creates a backend on the given PIO block (0 or 1) and
// state machine (0-3).
func NewDCCWaveBackend(pioNum, smNum uint8) *DCCWaveBackend {
	pioHW := rp2pio.PIO0
	if pioNum != 0 {
		pioHW = rp2pio.PIO1
	}

	return &DCCWaveBackend{
		pio: pioHW,
		sm:  pioHW.StateMachine(smNum),
	}
}

// Init loads the waveform program and starts the state machine on trackPin.
func (b *DCCWaveBackend) Init(trackPin uint8) error {
	b.trackPin = machine.Pin(trackPin)

	b.sm.TryClaim()

	program := buildWaveProgram()
	offset, err := b.pio.AddProgram(program, waveProgramOrigin)
	if err != nil {
		return err
	}
	b.offset = offset

	b.trackPin.Configure(machine.PinConfig{Mode: b.pio.PinMode()})

	cfg := rp2pio.DefaultStateMachineConfig()
	cfg.SetSetPins(b.trackPin, 1)

	// Shift right, no autopull (the program pulls explicitly), 32-bit words.
	cfg.SetOutShift(true, false, 32)
	cfg.SetWrap(offset+uint8(len(program))-1, offset)

	// 125 MHz / 125 = 1 MHz: one instruction cycle per microsecond.
	cfg.SetClkDivIntFrac(125, 0)

	b.sm.Init(offset, cfg)

	b.sm.SetPindirsConsecutive(b.trackPin, 1, true)
	b.sm.SetPinsConsecutive(b.trackPin, 1, false)

	b.sm.SetEnabled(true)

	return nil
}

// encodeHalfBits packs one logical bit's two half-durations into a command
// word.
func encodeHalfBits(bit bool) uint32 {
	d := core.HalfBitMicros(bit)
	return (d-highOverheadMicros)<<16 | (d - lowOverheadMicros)
}

// Pump tops the TX FIFO up from the transmitter's bit cursor. Call it from
// the main loop; with a 4-deep FIFO and at least 116 µs per word the loop
// has huge slack.
func (b *DCCWaveBackend) Pump(tx *core.Transmitter) {
	for !b.sm.IsTxFIFOFull() {
		b.sm.TxPut(encodeHalfBits(tx.NextBit()))
	}
}

// Stop halts the state machine and silences the pin.
func (b *DCCWaveBackend) Stop() {
	b.sm.SetEnabled(false)
	b.sm.ClearFIFOs()
	b.sm.Restart()
	b.sm.SetPinsConsecutive(b.trackPin, 1, false)
}
