//go:build rp2040

package main

import (
	"runtime/volatile"
	"unsafe"

	"godcc/core"
)

// RP2040 Timer peripheral memory map
const (
	timerBase     = 0x40054000
	timerTIMERAWH = timerBase + 0x08 // Raw timer high word
	timerTIMERAWL = timerBase + 0x0C // Raw timer low word
)

var (
	timerRAWH = (*volatile.Register32)(unsafe.Pointer(uintptr(timerTIMERAWH)))
	timerRAWL = (*volatile.Register32)(unsafe.Pointer(uintptr(timerTIMERAWL)))
)

// InitClock prepares the RP2040 hardware timer. It free-runs at 1 MHz, so
// one tick is one microsecond and the half-bit arithmetic stays exact.
func InitClock() {
	core.SetTime(GetHardwareTime())
}

// GetHardwareTime reads the low 32 bits of the microsecond counter.
func GetHardwareTime() uint32 {
	return timerRAWL.Get()
}

// GetHardwareUptime reads the full 64-bit RP2040 hardware timer.
func GetHardwareUptime() uint64 {
	// Read high, low, high again to detect rollover during the read.
	for {
		high1 := timerRAWH.Get()
		low := timerRAWL.Get()
		high2 := timerRAWH.Get()

		if high1 == high2 {
			return (uint64(high1) << 32) | uint64(low)
		}
	}
}

// UpdateSystemTime publishes the hardware time to the core timer, called
// from the main loop.
func UpdateSystemTime() {
	core.SetTime(GetHardwareTime())
}
