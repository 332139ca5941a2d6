package core

// TimerFreq is the system timer frequency. The RP2040 timer counts raw
// microseconds at 1 MHz, which keeps the DCC half-bit arithmetic exact.
const TimerFreq = 1000000

// GetTime returns the current system time in timer ticks.
func GetTime() uint32 {
	return getSystemTicks()
}

// SetTime sets the current system time. Targets call this from their clock
// readout; tests use it to step virtual time.
func SetTime(ticks uint32) {
	setSystemTicks(ticks)
}

// GetUptime returns the system time as a 64-bit tick count.
func GetUptime() uint64 {
	return uint64(GetTime())
}

// TimerFromUS converts microseconds to timer ticks.
func TimerFromUS(us uint32) uint32 {
	return us * (TimerFreq / 1000000)
}

// TimerToUS converts timer ticks to microseconds.
func TimerToUS(ticks uint32) uint32 {
	return ticks / (TimerFreq / 1000000)
}

// ProcessTimers runs all due timers. Targets call this from the main loop
// or the timer interrupt.
func ProcessTimers() {
	TimerDispatch()
}
