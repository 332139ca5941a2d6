// Package station is the host-side client for the DCC station firmware: it
// opens the serial link and exposes the command set as typed methods.
package station

import (
	"fmt"
	"time"

	"godcc/host/serial"
	"godcc/protocol"
)

// Direction of travel, as the drive command encodes it on the wire.
type Direction uint8

const (
	Backward Direction = 0
	Forward  Direction = 1
)

// TrackStatus is the station's report of the packet currently on the wire.
type TrackStatus struct {
	Kind        uint32
	Address     uint8
	PacketCount uint32
}

// AckResult reports the outcome of an acknowledgement window.
type AckResult struct {
	Acked bool
}

// Station represents a connection to the DCC station firmware.
type Station struct {
	transport *protocol.HostTransport
	port      serial.Port
	connected bool

	// Latest asynchronous reports.
	status  chan TrackStatus
	ackRsps chan AckResult
}

// New creates a Station instance, not yet connected.
func New() *Station {
	return &Station{
		status:  make(chan TrackStatus, 16),
		ackRsps: make(chan AckResult, 4),
	}
}

// NewWithPort attaches to an already open port. Tests and alternative
// transports use this instead of Connect.
func NewWithPort(port serial.Port) *Station {
	s := New()
	s.port = port
	s.transport = protocol.NewHostTransport(port)
	s.transport.SetResponseHandler(s.handleResponse)
	s.connected = true
	return s
}

// Connect opens the serial device with default settings.
func (s *Station) Connect(device string) error {
	return s.ConnectWithConfig(serial.DefaultConfig(device))
}

// ConnectWithConfig opens the link with a custom serial config.
func (s *Station) ConnectWithConfig(cfg *serial.Config) error {
	port, err := serial.Open(cfg)
	if err != nil {
		return fmt.Errorf("failed to open serial port: %w", err)
	}

	s.port = port
	s.transport = protocol.NewHostTransport(port)
	s.transport.SetResponseHandler(s.handleResponse)
	s.connected = true

	// Give the station time to settle if it just powered on.
	time.Sleep(100 * time.Millisecond)

	return nil
}

// Close shuts the link down.
func (s *Station) Close() error {
	if s.transport != nil {
		if err := s.transport.Close(); err != nil {
			return err
		}
	}
	s.connected = false
	return nil
}

// IsConnected reports whether the link is up.
func (s *Station) IsConnected() bool {
	return s.connected
}

func (s *Station) send(cmdID uint16, args func(output protocol.OutputBuffer)) error {
	if !s.connected {
		return fmt.Errorf("not connected to station")
	}
	return s.transport.SendCommand(cmdID, args)
}

// handleResponse sorts asynchronous reports into their channels.
func (s *Station) handleResponse(rspID uint16, data *[]byte) error {
	switch rspID {
	case protocol.RspTrackStatus:
		kind, err := protocol.DecodeVLQUint(data)
		if err != nil {
			return err
		}
		address, err := protocol.DecodeVLQUint(data)
		if err != nil {
			return err
		}
		count, err := protocol.DecodeVLQUint(data)
		if err != nil {
			return err
		}
		select {
		case s.status <- TrackStatus{Kind: kind, Address: uint8(address), PacketCount: count}:
		default:
		}

	case protocol.RspAckState:
		state, err := protocol.DecodeVLQUint(data)
		if err != nil {
			return err
		}
		select {
		case s.ackRsps <- AckResult{Acked: state != 0}:
		default:
		}
	}
	return nil
}

// ConfigTrack assigns the track output pin and starts the waveform.
func (s *Station) ConfigTrack(pin uint32) error {
	return s.send(protocol.CmdConfigTrack, func(output protocol.OutputBuffer) {
		protocol.EncodeVLQUint(output, pin)
	})
}

// Drive sets a locomotive's speed and direction (28-step mode).
func (s *Station) Drive(address uint8, dir Direction, speed uint8) error {
	return s.send(protocol.CmdDrive, func(output protocol.OutputBuffer) {
		protocol.EncodeVLQUint(output, uint32(address))
		protocol.EncodeVLQUint(output, uint32(speed))
		protocol.EncodeVLQUint(output, uint32(dir))
	})
}

// BroadcastStop stops every locomotive. With emergency set, decoders cut
// motor power instead of ramping down.
func (s *Station) BroadcastStop(emergency bool) error {
	return s.send(protocol.CmdBroadcastStop, func(output protocol.OutputBuffer) {
		v := uint32(0)
		if emergency {
			v = 1
		}
		protocol.EncodeVLQUint(output, v)
	})
}

// SendIdle puts the track back on Idle filler packets.
func (s *Station) SendIdle() error {
	return s.send(protocol.CmdSendIdle, nil)
}

// SendReset broadcasts a decoder reset.
func (s *Station) SendReset() error {
	return s.send(protocol.CmdSendReset, nil)
}

// ServiceModeWrite transmits a raw service-mode payload with the long
// preamble. The station appends the checksum.
func (s *Station) ServiceModeWrite(payload []byte) error {
	return s.send(protocol.CmdServiceModeWrite, func(output protocol.OutputBuffer) {
		protocol.EncodeVLQBytes(output, payload)
	})
}

// MonitorAck arms the acknowledgement detector on the given ADC channel.
func (s *Station) MonitorAck(channel uint8, threshold uint16, sampleTicks uint32, count uint8, budget uint16) error {
	return s.send(protocol.CmdAckMonitor, func(output protocol.OutputBuffer) {
		protocol.EncodeVLQUint(output, uint32(channel))
		protocol.EncodeVLQUint(output, uint32(threshold))
		protocol.EncodeVLQUint(output, sampleTicks)
		protocol.EncodeVLQUint(output, uint32(count))
		protocol.EncodeVLQUint(output, uint32(budget))
	})
}

// GetUptime queries the station's tick counter.
func (s *Station) GetUptime(timeout time.Duration) (uint64, error) {
	if err := s.send(protocol.CmdGetUptime, nil); err != nil {
		return 0, err
	}

	deadline := time.Now().Add(timeout)
	for {
		remaining := time.Until(deadline)
		if remaining <= 0 {
			return 0, fmt.Errorf("uptime response timeout")
		}
		resp, err := s.transport.ReceiveResponse(remaining)
		if err != nil {
			return 0, err
		}
		payload := resp.Payload
		rspID, err := protocol.DecodeVLQUint(&payload)
		if err != nil || uint16(rspID) != protocol.RspUptime {
			continue // not ours; reports keep flowing during queries
		}
		hi, err := protocol.DecodeVLQUint(&payload)
		if err != nil {
			return 0, err
		}
		lo, err := protocol.DecodeVLQUint(&payload)
		if err != nil {
			return 0, err
		}
		return uint64(hi)<<32 | uint64(lo), nil
	}
}

// WaitAck blocks for the result of an armed acknowledgement window.
func (s *Station) WaitAck(timeout time.Duration) (bool, error) {
	select {
	case r := <-s.ackRsps:
		return r.Acked, nil
	case <-time.After(timeout):
		return false, fmt.Errorf("acknowledgement window result timeout")
	}
}

// TrackStatusUpdates exposes asynchronous track status reports.
func (s *Station) TrackStatusUpdates() <-chan TrackStatus {
	return s.status
}

// DirectWriteByte builds the service-mode payload for a Direct Mode byte
// write: instruction 0111CCAA with CC=11, the CV address minus one split
// across the low two instruction bits and the second byte, then the value.
func DirectWriteByte(cv uint16, value byte) []byte {
	reg := cv - 1
	return []byte{
		0x7c | uint8(reg>>8)&0x03,
		uint8(reg),
		value,
	}
}

// WriteCV runs the full Direct Mode write sequence: decoder reset, the write
// packet with the acknowledgement window armed, and back to Idle.
func (s *Station) WriteCV(cv uint16, value byte, ackChannel uint8, ackThreshold uint16) (bool, error) {
	if cv < 1 || cv > 1024 {
		return false, fmt.Errorf("CV %d out of range 1-1024", cv)
	}

	if err := s.SendReset(); err != nil {
		return false, err
	}
	if err := s.MonitorAck(ackChannel, ackThreshold, 1000, 5, 2000); err != nil {
		return false, err
	}
	if err := s.ServiceModeWrite(DirectWriteByte(cv, value)); err != nil {
		return false, err
	}

	acked, err := s.WaitAck(5 * time.Second)
	if errIdle := s.SendIdle(); err == nil {
		err = errIdle
	}
	return acked, err
}
