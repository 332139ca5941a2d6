package protocol

import (
	"bytes"
	"fmt"
	"io"
	"sync"
	"sync/atomic"
	"time"
)

// ResponseHandler is called for every response frame the station sends.
type ResponseHandler func(rspID uint16, data *[]byte) error

// HostTransport is the host side of the cab link. It inverts the Link logic:
// it sends commands, waits for acks, and receives response frames from a
// background reader goroutine.
type HostTransport struct {
	port io.ReadWriteCloser

	currentSeq     uint32 // atomic uint8 stored as uint32
	isSynchronized uint32 // atomic bool

	inputBuffer  *FifoBuffer
	outputBuffer *bytes.Buffer

	ackChan      chan *Frame
	responseChan chan *Frame

	responseHandler ResponseHandler

	writeMutex sync.Mutex
	readMutex  sync.Mutex

	stopChan chan struct{}
	doneChan chan struct{}
}

// Frame is a parsed link frame as seen by the host.
type Frame struct {
	Length   uint8
	Sequence uint8
	Payload  []byte // frame data without header/trailer
	CRC      uint16
}

// NewHostTransport starts a transport over the given port and begins reading.
func NewHostTransport(port io.ReadWriteCloser) *HostTransport {
	t := &HostTransport{
		port:         port,
		currentSeq:   SeqDest,
		inputBuffer:  NewFifoBuffer(512),
		outputBuffer: bytes.NewBuffer(make([]byte, 0, 256)),
		ackChan:      make(chan *Frame, 1),
		responseChan: make(chan *Frame, 16),
		stopChan:     make(chan struct{}),
		doneChan:     make(chan struct{}),
	}

	atomic.StoreUint32(&t.isSynchronized, 1)

	go t.readLoop()

	return t
}

// SendCommand frames and sends one command, then waits for the ack.
func (t *HostTransport) SendCommand(cmdID uint16, args func(output OutputBuffer)) error {
	return t.SendCommandWithTimeout(cmdID, args, 2*time.Second)
}

// SendCommandWithTimeout sends a command with a custom ack timeout.
func (t *HostTransport) SendCommandWithTimeout(cmdID uint16, args func(output OutputBuffer), timeout time.Duration) error {
	frame, err := t.buildCommandFrame(cmdID, args)
	if err != nil {
		return fmt.Errorf("failed to build command: %w", err)
	}

	if err := t.writeFrame(frame); err != nil {
		return fmt.Errorf("failed to write frame: %w", err)
	}

	if err := t.waitForAck(timeout); err != nil {
		return fmt.Errorf("ack timeout or error: %w", err)
	}

	return nil
}

// buildCommandFrame constructs a complete frame with header, payload, CRC,
// and sync byte.
func (t *HostTransport) buildCommandFrame(cmdID uint16, args func(output OutputBuffer)) ([]byte, error) {
	t.writeMutex.Lock()
	defer t.writeMutex.Unlock()

	t.outputBuffer.Reset()

	seq := uint8(atomic.LoadUint32(&t.currentSeq))
	t.outputBuffer.Write([]byte{0, seq}) // length back-patched below

	scratch := NewScratchOutput()
	EncodeVLQUint(scratch, uint32(cmdID))
	if args != nil {
		args(scratch)
	}

	payload := scratch.Result()
	t.outputBuffer.Write(payload)

	frameLen := FrameHeaderSize + len(payload) + FrameTrailerSize
	if frameLen > FrameLengthMax {
		return nil, fmt.Errorf("frame too long: %d bytes (max %d)", frameLen, FrameLengthMax)
	}

	data := t.outputBuffer.Bytes()
	data[FramePosLength] = uint8(frameLen)

	crc := CRC16(data[:FrameHeaderSize+len(payload)])
	t.outputBuffer.Write([]byte{uint8(crc >> 8), uint8(crc), FrameSyncByte})

	out := make([]byte, t.outputBuffer.Len())
	copy(out, t.outputBuffer.Bytes())

	return out, nil
}

func (t *HostTransport) writeFrame(frame []byte) error {
	t.writeMutex.Lock()
	defer t.writeMutex.Unlock()

	n, err := t.port.Write(frame)
	if err != nil {
		return err
	}
	if n != len(frame) {
		return fmt.Errorf("incomplete write: %d/%d bytes", n, len(frame))
	}

	return nil
}

// waitForAck blocks until the station acks the frame in flight. The ack
// carries the sequence the station expects next, so a matching ack both
// confirms delivery and advances our counter.
func (t *HostTransport) waitForAck(timeout time.Duration) error {
	sent := uint8(atomic.LoadUint32(&t.currentSeq))
	want := (sent+1)&SeqMask | SeqDest

	select {
	case ack := <-t.ackChan:
		if ack.Sequence != want {
			return fmt.Errorf("sequence mismatch: expected 0x%02x, got 0x%02x", want, ack.Sequence)
		}
		atomic.StoreUint32(&t.currentSeq, uint32(want))
		return nil

	case <-time.After(timeout):
		return fmt.Errorf("ack timeout after %v", timeout)

	case <-t.stopChan:
		return fmt.Errorf("transport stopped")
	}
}

// ReceiveResponse returns the next response frame, waiting up to timeout.
func (t *HostTransport) ReceiveResponse(timeout time.Duration) (*Frame, error) {
	select {
	case resp := <-t.responseChan:
		return resp, nil

	case <-time.After(timeout):
		return nil, fmt.Errorf("response timeout after %v", timeout)

	case <-t.stopChan:
		return nil, fmt.Errorf("transport stopped")
	}
}

// SetResponseHandler registers a callback for asynchronous responses.
func (t *HostTransport) SetResponseHandler(handler ResponseHandler) {
	t.responseHandler = handler
}

// readLoop continuously reads from the port and parses frames.
func (t *HostTransport) readLoop() {
	defer close(t.doneChan)

	buffer := make([]byte, 256)

	for {
		select {
		case <-t.stopChan:
			return
		default:
		}

		n, err := t.port.Read(buffer)
		if err != nil {
			if err == io.EOF {
				return
			}
			time.Sleep(10 * time.Millisecond)
			continue
		}

		if n > 0 {
			t.inputBuffer.Write(buffer[:n])
			t.processFrames()
		}
	}
}

// processFrames parses and dispatches frames from the input buffer.
func (t *HostTransport) processFrames() {
	t.readMutex.Lock()
	defer t.readMutex.Unlock()

	data := t.inputBuffer.Data()

	for len(data) > 0 {
		if !t.getSynchronized() {
			syncPos := -1
			for i, b := range data {
				if b == FrameSyncByte {
					syncPos = i
					break
				}
			}
			if syncPos < 0 {
				data = nil
				break
			}
			data = data[syncPos+1:]
			t.setSynchronized(true)
			continue
		}

		if data[0] == FrameSyncByte {
			data = data[1:]
			continue
		}
		if len(data) < FrameLengthMin {
			break
		}

		frameLen := int(data[FramePosLength])
		if frameLen < FrameLengthMin || frameLen > FrameLengthMax {
			t.setSynchronized(false)
			continue
		}
		if len(data) < frameLen {
			break
		}
		if data[frameLen-1] != FrameSyncByte {
			t.setSynchronized(false)
			continue
		}
		wantCRC := uint16(data[frameLen-3])<<8 | uint16(data[frameLen-2])
		if wantCRC != CRC16(data[:frameLen-FrameTrailerSize]) {
			t.setSynchronized(false)
			continue
		}

		payload := make([]byte, frameLen-FrameHeaderSize-FrameTrailerSize)
		copy(payload, data[FrameHeaderSize:frameLen-FrameTrailerSize])

		frame := &Frame{
			Length:   data[FramePosLength],
			Sequence: data[FramePosSeq],
			Payload:  payload,
			CRC:      wantCRC,
		}

		data = data[frameLen:]
		t.dispatchFrame(frame)
	}

	if consumed := t.inputBuffer.Available() - len(data); consumed > 0 {
		t.inputBuffer.Pop(consumed)
	}
}

// dispatchFrame routes one frame: empty payloads are acks, everything else
// is a response.
func (t *HostTransport) dispatchFrame(frame *Frame) {
	if len(frame.Payload) == 0 {
		select {
		case t.ackChan <- frame:
		default:
		}
		return
	}

	if t.responseHandler != nil {
		payloadCopy := make([]byte, len(frame.Payload))
		copy(payloadCopy, frame.Payload)
		if rspID, err := DecodeVLQUint(&payloadCopy); err == nil {
			_ = t.responseHandler(uint16(rspID), &payloadCopy)
		}
	}

	select {
	case t.responseChan <- frame:
	default:
		// Channel full: drop the oldest response to make room.
		select {
		case <-t.responseChan:
		default:
		}
		t.responseChan <- frame
	}
}

// Close stops the read loop and closes the port.
func (t *HostTransport) Close() error {
	close(t.stopChan)
	<-t.doneChan

	if t.port != nil {
		return t.port.Close()
	}
	return nil
}

// Reset restores the initial sequence state after an error.
func (t *HostTransport) Reset() {
	atomic.StoreUint32(&t.isSynchronized, 1)
	atomic.StoreUint32(&t.currentSeq, SeqDest)

	for len(t.ackChan) > 0 {
		<-t.ackChan
	}
	for len(t.responseChan) > 0 {
		<-t.responseChan
	}

	if t.inputBuffer.Available() > 0 {
		t.inputBuffer.Pop(t.inputBuffer.Available())
	}
}

func (t *HostTransport) getSynchronized() bool {
	return atomic.LoadUint32(&t.isSynchronized) != 0
}

func (t *HostTransport) setSynchronized(val bool) {
	if val {
		atomic.StoreUint32(&t.isSynchronized, 1)
	} else {
		atomic.StoreUint32(&t.isSynchronized, 0)
	}
}

// CurrentSequence returns the sequence of the next frame to send.
func (t *HostTransport) CurrentSequence() uint8 {
	return uint8(atomic.LoadUint32(&t.currentSeq))
}
