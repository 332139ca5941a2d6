//go:build rp2040

package main

import (
	"machine"
	"time"

	"godcc/core"
	"godcc/protocol"
)

var (
	inputBuffer  *protocol.FifoBuffer
	outputBuffer *protocol.ScratchOutput
	link         *protocol.Link

	// Debug counters
	framesReceived uint32
	framesSent     uint32
	linkErrors     uint32

	// USB connection state tracking
	usbWasDisconnected       bool
	consecutiveWriteFailures uint32
)

func main() {
	// Disable watchdog on boot to clear any previous state
	err := machine.Watchdog.Configure(machine.WatchdogConfig{TimeoutMillis: 0})
	if err != nil {
		return
	}

	InitUSB()
	InitClock()

	// Register the station command set
	core.InitTrackCommands()
	core.InitAckCommands()

	// Register hardware drivers
	core.SetGPIODriver(NewRPGPIODriver())
	core.SetADCDriver(NewRPAdcDriver())

	inputBuffer = protocol.NewFifoBuffer(256)
	outputBuffer = protocol.NewScratchOutput()

	link = protocol.NewLink(outputBuffer, handleCommand)
	// Send acks immediately; the host waits for the ack before reading
	// responses.
	link.SetFlushCallback(func() {
		writeUSB()
	})
	core.SetGlobalLink(link)

	go usbReaderLoop()

	for {
		// Recover from panics in the main loop to keep the waveform alive
		func() {
			defer func() {
				if r := recover(); r != nil {
					linkErrors++
					inputBuffer.Reset()
					outputBuffer.Reset()
				}
			}()

			UpdateSystemTime()

			if inputBuffer.Available() > 0 {
				data := inputBuffer.Data()
				originalLen := len(data)
				inputBuf := protocol.NewSliceInputBuffer(data)

				link.Receive(inputBuf)
				framesReceived++

				if consumed := originalLen - inputBuf.Available(); consumed > 0 {
					inputBuffer.Pop(consumed)
				}
			}

			if len(outputBuffer.Result()) > 0 {
				writeUSB()
				framesSent++
			}

			// Drive the transmitter and acknowledgement sampler
			core.ProcessTimers()
		}()

		// Yield to other goroutines
		time.Sleep(10 * time.Microsecond)
	}
}

// usbReaderLoop runs in a goroutine to continuously read USB data
func usbReaderLoop() {
	defer func() {
		if r := recover(); r != nil {
			linkErrors++
			time.Sleep(100 * time.Millisecond)
			go usbReaderLoop()
		}
	}()

	for {
		if USBAvailable() > 0 {
			data, err := USBRead()
			if err != nil {
				linkErrors++
				time.Sleep(1 * time.Millisecond)
				continue
			}

			// First data after a disconnect: reset link state for the
			// fresh connection. The track waveform keeps running.
			if usbWasDisconnected {
				usbWasDisconnected = false
				inputBuffer.Reset()
				outputBuffer.Reset()
				link.Reset()
				framesReceived = 0
				framesSent = 0
				consecutiveWriteFailures = 0
			}

			if inputBuffer.Write([]byte{data}) == 0 {
				// Buffer full
				linkErrors++
				time.Sleep(10 * time.Millisecond)
			}
		}
		// Yield to avoid a busy loop
		time.Sleep(100 * time.Microsecond)
	}
}

// handleCommand dispatches received commands to the command registry
func handleCommand(cmdID uint16, data *[]byte) error {
	return core.DispatchCommand(cmdID, data)
}

// writeUSB drains the output buffer to USB, handling partial writes
func writeUSB() {
	result := outputBuffer.Result()
	if len(result) == 0 {
		return
	}

	written := 0
	for written < len(result) {
		n, err := USBWriteBytes(result[written:])
		if err != nil || n == 0 {
			// Likely a disconnect; after several failures drop the stale
			// data so a reconnecting host starts clean.
			consecutiveWriteFailures++
			if consecutiveWriteFailures > 10 {
				usbWasDisconnected = true
				consecutiveWriteFailures = 0
				outputBuffer.Reset()
				inputBuffer.Reset()
			}
			return
		}
		written += n
	}

	consecutiveWriteFailures = 0
	outputBuffer.Reset()
}
