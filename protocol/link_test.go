package protocol

import "testing"

// buildFrame assembles one wire frame around payload with the given
// sequence byte.
func buildFrame(seq uint8, payload []byte) []byte {
	frame := []byte{uint8(len(payload) + FrameLengthMin), seq}
	frame = append(frame, payload...)
	crc := CRC16(frame)
	return append(frame, uint8(crc>>8), uint8(crc), FrameSyncByte)
}

type dispatched struct {
	cmdID uint16
	args  []uint32
}

// Argument counts for the commands the link tests exercise. Real handlers
// decode exactly their own arity; the recorder must do the same or it would
// eat the next command's ID in a multi-command frame.
var commandArity = map[uint16]int{
	CmdDrive:     3,
	CmdSendIdle:  0,
	CmdSendReset: 0,
}

// recordingHandler decodes each command's fixed argument count as VLQ uints
// and records the call.
func recordingHandler(calls *[]dispatched) CommandHandler {
	return func(cmdID uint16, data *[]byte) error {
		d := dispatched{cmdID: cmdID}
		for i := 0; i < commandArity[cmdID]; i++ {
			v, err := DecodeVLQUint(data)
			if err != nil {
				return err
			}
			d.args = append(d.args, v)
		}
		*calls = append(*calls, d)
		return nil
	}
}

func commandPayload(cmdID uint16, args ...uint32) []byte {
	out := NewScratchOutput()
	EncodeVLQUint(out, uint32(cmdID))
	for _, a := range args {
		EncodeVLQUint(out, a)
	}
	return out.Result()
}

func TestLinkReceiveDispatchesAndAcks(t *testing.T) {
	var calls []dispatched
	out := NewScratchOutput()
	link := NewLink(out, recordingHandler(&calls))

	frame := buildFrame(SeqDest, commandPayload(CmdDrive, 3, 14, 1))
	link.Receive(NewSliceInputBuffer(frame))

	if len(calls) != 1 {
		t.Fatalf("expected 1 dispatch, got %d", len(calls))
	}
	if calls[0].cmdID != CmdDrive {
		t.Errorf("expected command %d, got %d", CmdDrive, calls[0].cmdID)
	}
	if len(calls[0].args) != 3 || calls[0].args[0] != 3 || calls[0].args[1] != 14 || calls[0].args[2] != 1 {
		t.Errorf("argument mismatch: %v", calls[0].args)
	}

	ack := out.Result()
	if len(ack) != FrameLengthMin {
		t.Fatalf("expected a bare ack frame, got %d bytes", len(ack))
	}
	if ack[FramePosSeq] != (SeqDest | 0x01) {
		t.Errorf("ack sequence: expected 0x%02x, got 0x%02x", SeqDest|0x01, ack[FramePosSeq])
	}
	if ack[len(ack)-1] != FrameSyncByte {
		t.Error("ack frame missing sync byte")
	}
}

func TestLinkMultipleCommandsPerFrame(t *testing.T) {
	var calls []dispatched
	out := NewScratchOutput()
	link := NewLink(out, recordingHandler(&calls))

	payload := append(commandPayload(CmdSendIdle), commandPayload(CmdSendReset)...)
	link.Receive(NewSliceInputBuffer(buildFrame(SeqDest, payload)))

	if len(calls) != 2 {
		t.Fatalf("expected 2 dispatches, got %d", len(calls))
	}
	if calls[0].cmdID != CmdSendIdle || calls[1].cmdID != CmdSendReset {
		t.Errorf("dispatch order wrong: %d then %d", calls[0].cmdID, calls[1].cmdID)
	}
}

func TestLinkDuplicateSequenceNotRedispatched(t *testing.T) {
	var calls []dispatched
	out := NewScratchOutput()
	link := NewLink(out, recordingHandler(&calls))

	frame := buildFrame(SeqDest, commandPayload(CmdSendIdle))
	link.Receive(NewSliceInputBuffer(frame))
	// Host restart indication: sequence back at the start is accepted and
	// dispatched again.
	link.Receive(NewSliceInputBuffer(frame))
	if len(calls) != 2 {
		t.Fatalf("restart frame not redispatched: %d calls", len(calls))
	}

	// A stale non-restart sequence is acked but not dispatched.
	stale := buildFrame(SeqDest|0x05, commandPayload(CmdSendReset))
	before := len(out.Result())
	link.Receive(NewSliceInputBuffer(stale))
	if len(calls) != 2 {
		t.Errorf("stale frame was dispatched")
	}
	if len(out.Result()) == before {
		t.Error("stale frame was not nakked")
	}
}

func TestLinkCorruptFrameResync(t *testing.T) {
	var calls []dispatched
	out := NewScratchOutput()
	link := NewLink(out, recordingHandler(&calls))

	good := buildFrame(SeqDest, commandPayload(CmdSendIdle))
	bad := buildFrame(SeqDest, commandPayload(CmdSendReset))
	bad[3] ^= 0xff // corrupt the payload so the CRC fails

	input := append(append([]byte{}, bad...), good...)
	link.Receive(NewSliceInputBuffer(input))

	// The corrupt frame is skipped; the link resynchronizes on its trailing
	// sync byte and takes the good frame.
	if len(calls) != 1 {
		t.Fatalf("expected 1 dispatch after resync, got %d", len(calls))
	}
	if calls[0].cmdID != CmdSendIdle {
		t.Errorf("expected command %d after resync, got %d", CmdSendIdle, calls[0].cmdID)
	}
}

func TestLinkPartialFrameWaits(t *testing.T) {
	var calls []dispatched
	out := NewScratchOutput()
	link := NewLink(out, recordingHandler(&calls))

	frame := buildFrame(SeqDest, commandPayload(CmdDrive, 3, 14, 1))
	fifo := NewFifoBuffer(128)

	fifo.Write(frame[:4])
	link.Receive(fifo)
	if len(calls) != 0 {
		t.Fatal("dispatched before the frame was complete")
	}
	if fifo.Available() != 4 {
		t.Errorf("partial frame consumed: %d bytes left", fifo.Available())
	}

	fifo.Write(frame[4:])
	link.Receive(fifo)
	if len(calls) != 1 {
		t.Fatalf("expected 1 dispatch once complete, got %d", len(calls))
	}
	if fifo.Available() != 0 {
		t.Errorf("frame not fully consumed: %d bytes left", fifo.Available())
	}
}

func TestLinkSendResponseFrameValid(t *testing.T) {
	out := NewScratchOutput()
	link := NewLink(out, nil)

	link.SendResponse(RspTrackStatus, func(output OutputBuffer) {
		EncodeVLQUint(output, 1)
		EncodeVLQUint(output, 3)
	})

	frame := out.Result()
	if len(frame) < FrameLengthMin {
		t.Fatalf("frame too short: %d bytes", len(frame))
	}
	if int(frame[FramePosLength]) != len(frame) {
		t.Errorf("length byte %d does not match frame size %d", frame[FramePosLength], len(frame))
	}
	if frame[len(frame)-1] != FrameSyncByte {
		t.Error("missing trailing sync byte")
	}
	wantCRC := CRC16(frame[:len(frame)-FrameTrailerSize])
	gotCRC := uint16(frame[len(frame)-3])<<8 | uint16(frame[len(frame)-2])
	if gotCRC != wantCRC {
		t.Errorf("CRC mismatch: expected 0x%04x, got 0x%04x", wantCRC, gotCRC)
	}

	payload := frame[FrameHeaderSize : len(frame)-FrameTrailerSize]
	id, err := DecodeVLQUint(&payload)
	if err != nil {
		t.Fatalf("response ID decode failed: %v", err)
	}
	if id != uint32(RspTrackStatus) {
		t.Errorf("expected response ID %d, got %d", RspTrackStatus, id)
	}
}

func TestCRC16KnownValue(t *testing.T) {
	// The bare ack frame header is the shortest thing checksummed on the
	// link; a frame must verify against its own embedded CRC.
	frame := buildFrame(SeqDest, nil)
	if got := CRC16(frame[:2]); got != uint16(frame[2])<<8|uint16(frame[3]) {
		t.Errorf("self check failed: 0x%04x", got)
	}
	if CRC16([]byte{}) != 0xFFFF {
		t.Errorf("empty input: expected 0xFFFF, got 0x%04x", CRC16([]byte{}))
	}
}
