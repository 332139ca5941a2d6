// Package protocol implements the cab link between a host and the DCC
// station firmware: framed binary messages carrying VLQ-encoded commands.
package protocol

// Version is the station firmware version string.
const Version = "0.1.0"

// Frame layout: [length seq payload... crc16-hi crc16-lo sync]
const (
	FrameHeaderSize  = 2
	FrameTrailerSize = 3
	FrameLengthMin   = FrameHeaderSize + FrameTrailerSize
	FrameLengthMax   = 64

	FramePosLength = 0
	FramePosSeq    = 1

	FrameSyncByte = 0x7e

	// The sequence byte carries a 4-bit counter in its low nibble; the
	// high nibble is fixed so garbage is cheap to reject.
	SeqMask = 0x0f
	SeqDest = 0x10
)

// Command IDs (host → station). The command set is small and closed, so
// IDs are fixed at build time on both ends instead of being negotiated.
const (
	CmdGetUptime uint16 = iota
	CmdConfigTrack
	CmdDrive
	CmdBroadcastStop
	CmdSendIdle
	CmdSendReset
	CmdServiceModeWrite
	CmdAckMonitor
)

// Response IDs (station → host)
const (
	RspUptime uint16 = iota + 32
	RspTrackStatus
	RspAckState
)
