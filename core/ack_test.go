package core

import (
	"testing"

	"godcc/protocol"
)

// MockADCDriver replays a scripted sample sequence; the last value repeats.
type MockADCDriver struct {
	samples []ADCValue
	idx     int
	reads   int
}

func (m *MockADCDriver) ConfigureChannel(ch ADCChannel) error { return nil }

func (m *MockADCDriver) ReadRaw(ch ADCChannel) (ADCValue, error) {
	m.reads++
	if m.idx >= len(m.samples) {
		return m.samples[len(m.samples)-1], nil
	}
	v := m.samples[m.idx]
	m.idx++
	return v, nil
}

func runDetector(d *AckDetector, start, until uint32) {
	SetTime(0)
	d.Arm(start)
	for now := uint32(0); now <= until; now++ {
		SetTime(now)
		ProcessTimers()
	}
}

func TestAckDetectorTriggered(t *testing.T) {
	SetADCDriver(&MockADCDriver{samples: []ADCValue{900}})

	var acked, called bool
	d := &AckDetector{
		Threshold:   800,
		SampleTicks: 10,
		NeedCount:   3,
		Budget:      50,
		Callback:    func(a bool) { acked, called = a, true },
	}
	runDetector(d, 100, 200)

	if !called {
		t.Fatal("callback never fired")
	}
	if !acked {
		t.Error("expected acknowledgement")
	}
	if d.Armed() {
		t.Error("detector still armed after callback")
	}
}

func TestAckDetectorRunMustBeConsecutive(t *testing.T) {
	// Two hits, a dropout, then a full run: only the run triggers.
	mock := &MockADCDriver{samples: []ADCValue{900, 900, 100, 900, 900, 900}}
	SetADCDriver(mock)

	var acked bool
	d := &AckDetector{
		Threshold:   800,
		SampleTicks: 10,
		NeedCount:   3,
		Budget:      50,
		Callback:    func(a bool) { acked = a },
	}
	runDetector(d, 100, 300)

	if !acked {
		t.Fatal("expected acknowledgement after the consecutive run")
	}
	if mock.reads != 6 {
		t.Errorf("expected 6 samples before trigger, got %d", mock.reads)
	}
}

func TestAckDetectorBudgetExhausted(t *testing.T) {
	mock := &MockADCDriver{samples: []ADCValue{100}}
	SetADCDriver(mock)

	var acked, called bool
	d := &AckDetector{
		Threshold:   800,
		SampleTicks: 10,
		NeedCount:   3,
		Budget:      8,
		Callback:    func(a bool) { acked, called = a, true },
	}
	runDetector(d, 100, 500)

	if !called {
		t.Fatal("callback never fired")
	}
	if acked {
		t.Error("expected no-ack after budget ran out")
	}
	if mock.reads != 8 {
		t.Errorf("expected exactly 8 samples, got %d", mock.reads)
	}
}

func TestAckMonitorCommand(t *testing.T) {
	SetADCDriver(&MockADCDriver{samples: []ADCValue{900}})
	InitAckCommands()

	out := protocol.NewScratchOutput()
	SetGlobalLink(protocol.NewLink(out, nil))
	defer SetGlobalLink(nil)

	SetTime(0)
	payload := encodeArgs(0, 800, 10, 2, 20)
	if err := DispatchCommand(protocol.CmdAckMonitor, &payload); err != nil {
		t.Fatalf("ack_monitor failed: %v", err)
	}

	for now := uint32(0); now <= 100; now++ {
		SetTime(now)
		ProcessTimers()
	}

	rspID, args := lastResponse(t, out.Result())
	if rspID != uint32(protocol.RspAckState) {
		t.Fatalf("expected response ID %d, got %d", protocol.RspAckState, rspID)
	}
	state, err := protocol.DecodeVLQUint(&args)
	if err != nil {
		t.Fatalf("state decode failed: %v", err)
	}
	if state != 1 {
		t.Errorf("expected ack state 1, got %d", state)
	}
}
