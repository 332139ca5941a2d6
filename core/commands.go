// Track command handling
// Host-issued commands that configure the track output and stage packets
package core

import "godcc/protocol"

var (
	trackMailbox SlotMailbox
	trackTx      *Transmitter
)

// InitTrackCommands registers the station command set.
func InitTrackCommands() {
	RegisterCommand(protocol.CmdGetUptime, "get_uptime", handleGetUptime)
	RegisterCommand(protocol.CmdConfigTrack, "config_track", handleConfigTrack)
	RegisterCommand(protocol.CmdDrive, "drive", handleDrive)
	RegisterCommand(protocol.CmdBroadcastStop, "broadcast_stop", handleBroadcastStop)
	RegisterCommand(protocol.CmdSendIdle, "send_idle", handleSendIdle)
	RegisterCommand(protocol.CmdSendReset, "send_reset", handleSendReset)
	RegisterCommand(protocol.CmdServiceModeWrite, "service_mode_write", handleServiceModeWrite)
}

// TrackTransmitter returns the configured transmitter, or nil before
// config_track has run.
func TrackTransmitter() *Transmitter {
	return trackTx
}

// handleGetUptime reports the 64-bit tick count.
// Format: get_uptime
func handleGetUptime(data *[]byte) error {
	uptime := GetUptime()
	SendResponse(protocol.RspUptime, func(output protocol.OutputBuffer) {
		protocol.EncodeVLQUint(output, uint32(uptime>>32))
		protocol.EncodeVLQUint(output, uint32(uptime))
	})
	return nil
}

// handleConfigTrack configures the track output pin and starts the
// transmitter on an Idle packet.
// Format: config_track pin=%u
func handleConfigTrack(data *[]byte) error {
	pin, err := protocol.DecodeVLQUint(data)
	if err != nil {
		return err
	}

	if trackTx != nil {
		trackTx.Stop()
	}
	// A packet staged for the old transmitter must not leak onto the
	// freshly configured track.
	trackMailbox.Drain()
	if err := MustGPIO().ConfigureOutput(GPIOPin(pin)); err != nil {
		return err
	}

	trackTx = NewTransmitter(MustGPIO(), GPIOPin(pin), NewIdle(), &trackMailbox)
	trackTx.Start(GetTime() + TimerFromUS(ZeroHalfBitMicros))

	sendTrackStatus()
	return nil
}

// handleDrive stages a 28-step speed command.
// Format: drive address=%c speed=%c direction=%c
func handleDrive(data *[]byte) error {
	address, err := protocol.DecodeVLQUint(data)
	if err != nil {
		return err
	}
	speed, err := protocol.DecodeVLQUint(data)
	if err != nil {
		return err
	}
	direction, err := protocol.DecodeVLQUint(data)
	if err != nil {
		return err
	}

	dir := Backward
	if direction != 0 {
		dir = Forward
	}
	pkt, err := NewSpeedAndDirection(uint8(address), dir, uint8(speed))
	if err != nil {
		return err
	}
	return stagePacket(pkt)
}

// handleBroadcastStop stages a broadcast stop.
// Format: broadcast_stop emergency=%c
func handleBroadcastStop(data *[]byte) error {
	emergency, err := protocol.DecodeVLQUint(data)
	if err != nil {
		return err
	}
	return stagePacket(NewBroadcastStop(emergency != 0))
}

// Format: send_idle
func handleSendIdle(data *[]byte) error {
	return stagePacket(NewIdle())
}

// Format: send_reset
func handleSendReset(data *[]byte) error {
	return stagePacket(NewReset())
}

// handleServiceModeWrite stages an opaque service-mode packet. The host
// builds the payload (S-9.2.3); the station only frames it with the long
// preamble and the checksum.
// Format: service_mode_write data=%*s
func handleServiceModeWrite(data *[]byte) error {
	payload, err := protocol.DecodeVLQBytes(data)
	if err != nil {
		return err
	}
	pkt, err := NewServiceMode(payload)
	if err != nil {
		return err
	}
	return stagePacket(pkt)
}

// StageTrackPacket queues a packet from outside the command path, for
// on-board safety monitors. Dropped while the track is unconfigured.
func StageTrackPacket(p Packet) {
	if trackTx == nil {
		return
	}
	trackMailbox.Offer(p)
}

// stagePacket offers a packet to the transmitter mailbox. Commands arriving
// before config_track are dropped, matching how unconfigured objects are
// treated elsewhere in the firmware.
func stagePacket(p Packet) error {
	if trackTx == nil {
		return nil
	}
	trackMailbox.Offer(p)
	sendTrackStatus()
	return nil
}

// sendTrackStatus reports the packet currently on the wire.
func sendTrackStatus() {
	cur := trackTx.Current()
	SendResponse(protocol.RspTrackStatus, func(output protocol.OutputBuffer) {
		protocol.EncodeVLQUint(output, uint32(cur.Kind()))
		protocol.EncodeVLQUint(output, uint32(cur.Address()))
		protocol.EncodeVLQUint(output, trackTx.PacketCount())
	})
}
