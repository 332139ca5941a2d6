// Programming-track acknowledgement detection
// A decoder acknowledges a service-mode packet with a current surge of at
// least 60 mA lasting about 6 ms (S-9.2.3). The detector samples track
// current through the ADC HAL and fires once enough consecutive samples
// cross the threshold.
package core

import "godcc/protocol"

// AckDetector samples one ADC channel on a timer and reports whether the
// acknowledgement pulse was seen within the sampling budget.
type AckDetector struct {
	Channel     ADCChannel
	Threshold   ADCValue // trigger level in raw ADC counts
	SampleTicks uint32   // interval between samples
	NeedCount   uint8    // consecutive samples required above threshold
	Budget      uint16   // total samples before reporting no-ack

	Timer    Timer
	Callback func(acked bool)

	armed bool
	run   uint8
	taken uint16
}

// Arm starts sampling at the given tick time. Re-arming restarts the
// detection window.
func (d *AckDetector) Arm(start uint32) {
	UnscheduleTimer(&d.Timer)
	d.armed = true
	d.run = 0
	d.taken = 0
	d.Timer.Handler = d.sampleEvent
	d.Timer.WakeTime = start
	ScheduleTimer(&d.Timer)
}

// Armed reports whether a detection window is in progress.
func (d *AckDetector) Armed() bool {
	return d.armed
}

func (d *AckDetector) finish(acked bool) uint8 {
	d.armed = false
	if d.Callback != nil {
		d.Callback(acked)
	}
	return SF_DONE
}

// sampleEvent reads one sample per timer tick until the pulse is confirmed
// or the budget runs out.
func (d *AckDetector) sampleEvent(t *Timer) uint8 {
	value, err := MustADC().ReadRaw(d.Channel)
	if err != nil {
		return d.finish(false)
	}

	if value >= d.Threshold {
		d.run++
		if d.run >= d.NeedCount {
			return d.finish(true)
		}
	} else {
		d.run = 0
	}

	d.taken++
	if d.taken >= d.Budget {
		return d.finish(false)
	}

	t.WakeTime += d.SampleTicks
	return SF_RESCHEDULE
}

var ackDetector AckDetector

// InitAckCommands registers the acknowledgement monitor command.
func InitAckCommands() {
	RegisterCommand(protocol.CmdAckMonitor, "ack_monitor", handleAckMonitor)
}

// handleAckMonitor arms the detector; the result arrives later as an
// ack_state response.
// Format: ack_monitor channel=%c threshold=%u sample_ticks=%u count=%c budget=%u
func handleAckMonitor(data *[]byte) error {
	channel, err := protocol.DecodeVLQUint(data)
	if err != nil {
		return err
	}
	threshold, err := protocol.DecodeVLQUint(data)
	if err != nil {
		return err
	}
	sampleTicks, err := protocol.DecodeVLQUint(data)
	if err != nil {
		return err
	}
	count, err := protocol.DecodeVLQUint(data)
	if err != nil {
		return err
	}
	budget, err := protocol.DecodeVLQUint(data)
	if err != nil {
		return err
	}

	if err := MustADC().ConfigureChannel(ADCChannel(channel)); err != nil {
		return err
	}

	// Drop any window in progress before overwriting the detector, so the
	// timer list never holds a stale node.
	UnscheduleTimer(&ackDetector.Timer)
	ackDetector = AckDetector{
		Channel:     ADCChannel(channel),
		Threshold:   ADCValue(threshold),
		SampleTicks: sampleTicks,
		NeedCount:   uint8(count),
		Budget:      uint16(budget),
		Callback: func(acked bool) {
			v := uint32(0)
			if acked {
				v = 1
			}
			SendResponse(protocol.RspAckState, func(output protocol.OutputBuffer) {
				protocol.EncodeVLQUint(output, v)
			})
		},
	}
	ackDetector.Arm(GetTime() + sampleTicks)
	return nil
}
