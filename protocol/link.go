package protocol

// CommandHandler is called once per decoded command. Handlers decode their
// own arguments from the payload slice and advance it.
type CommandHandler func(cmdID uint16, data *[]byte) error

// Link is the firmware side of the cab link: it validates incoming frames,
// dispatches their commands, and encodes outgoing responses and acks. One
// frame may carry several commands back to back.
type Link struct {
	synchronized bool
	nextSeq      uint8
	output       OutputBuffer
	handler      CommandHandler
	flush        func() // optional: push the ack out immediately
}

// NewLink creates a Link writing responses into output and dispatching
// commands to handler.
func NewLink(output OutputBuffer, handler CommandHandler) *Link {
	return &Link{
		synchronized: true,
		nextSeq:      SeqDest,
		output:       output,
		handler:      handler,
	}
}

// SetFlushCallback registers a callback invoked right after an ack is
// encoded, so targets can push it to the wire before composing responses.
func (l *Link) SetFlushCallback(flush func()) {
	l.flush = flush
}

// Reset returns the link to its initial sequence state (serial reconnect).
func (l *Link) Reset() {
	l.synchronized = true
	l.nextSeq = SeqDest
}

// Receive consumes as many complete frames from input as are available.
// Malformed data desynchronizes the link; it resynchronizes on the next
// sync byte and naks with the expected sequence.
func (l *Link) Receive(input InputBuffer) {
	data := input.Data()

	for len(data) > 0 {
		if !l.synchronized {
			skip := -1
			for i, b := range data {
				if b == FrameSyncByte {
					skip = i
					break
				}
			}
			if skip < 0 {
				data = nil
				break
			}
			data = data[skip+1:]
			l.synchronized = true
			l.sendAck()
			continue
		}

		if data[0] == FrameSyncByte {
			data = data[1:]
			continue
		}
		if len(data) < FrameLengthMin {
			break // wait for more bytes
		}

		frameLen := int(data[FramePosLength])
		if frameLen < FrameLengthMin || frameLen > FrameLengthMax {
			l.synchronized = false
			continue
		}
		seq := data[FramePosSeq]
		if seq&^SeqMask != SeqDest {
			l.synchronized = false
			continue
		}
		if len(data) < frameLen {
			break
		}
		if data[frameLen-1] != FrameSyncByte {
			l.synchronized = false
			continue
		}
		wantCRC := uint16(data[frameLen-3])<<8 | uint16(data[frameLen-2])
		if wantCRC != CRC16(data[:frameLen-FrameTrailerSize]) {
			l.synchronized = false
			continue
		}

		payload := data[FrameHeaderSize : frameLen-FrameTrailerSize]
		data = data[frameLen:]

		// Sequence low means the host restarted; fall back in step.
		if seq == SeqDest && l.nextSeq != SeqDest {
			l.nextSeq = SeqDest
		}
		if seq == l.nextSeq {
			l.nextSeq = (seq+1)&SeqMask | SeqDest
			l.dispatch(payload)
		}
		// Ack unconditionally: on a sequence mismatch this carries the
		// expected sequence and acts as a nak.
		l.sendAck()
	}

	if consumed := input.Available() - len(data); consumed > 0 {
		input.Pop(consumed)
	}
}

func (l *Link) dispatch(payload []byte) {
	for len(payload) > 0 {
		cmdID, err := DecodeVLQUint(&payload)
		if err != nil {
			l.synchronized = false
			return
		}
		if l.handler != nil {
			if err := l.handler(uint16(cmdID), &payload); err != nil {
				// Handler errors drop the rest of the frame but keep
				// the link synchronized.
				return
			}
		}
	}
}

func (l *Link) sendAck() {
	crc := CRC16([]byte{FrameLengthMin, l.nextSeq})
	l.output.Output([]byte{
		FrameLengthMin,
		l.nextSeq,
		uint8(crc >> 8),
		uint8(crc),
		FrameSyncByte,
	})
	if l.flush != nil {
		l.flush()
	}
}

// EncodeFrame writes one framed message whose payload is produced by body.
func (l *Link) EncodeFrame(body func(output OutputBuffer)) {
	start := l.output.CurPosition()
	l.output.Output([]byte{0, l.nextSeq})
	body(l.output)

	l.output.Update(start, uint8(len(l.output.DataSince(start))+FrameTrailerSize))
	crc := CRC16(l.output.DataSince(start))
	l.output.Output([]byte{uint8(crc >> 8), uint8(crc), FrameSyncByte})
}

// SendResponse frames a response message with VLQ-encoded arguments.
func (l *Link) SendResponse(rspID uint16, args func(output OutputBuffer)) {
	l.EncodeFrame(func(output OutputBuffer) {
		EncodeVLQUint(output, uint32(rspID))
		if args != nil {
			args(output)
		}
	})
}
