package core

import "testing"

func TestTimerRollover(t *testing.T) {
	SetTime(0xFFFFFFF0)

	var fired []string
	near := &Timer{WakeTime: 0xFFFFFFF8}
	near.Handler = func(*Timer) uint8 {
		fired = append(fired, "near")
		return SF_DONE
	}
	// Scheduled past the uint32 wrap: numerically small, logically later.
	wrapped := &Timer{WakeTime: 8}
	wrapped.Handler = func(*Timer) uint8 {
		fired = append(fired, "wrapped")
		return SF_DONE
	}
	ScheduleTimer(wrapped)
	ScheduleTimer(near)

	ProcessTimers()
	if len(fired) != 0 {
		t.Fatalf("timers fired before their wake times: %v", fired)
	}

	SetTime(0xFFFFFFF8)
	ProcessTimers()
	if len(fired) != 1 || fired[0] != "near" {
		t.Fatalf("at the near wake time: expected [near], got %v", fired)
	}

	// Just before the wrapped wake time, still nothing more to run.
	SetTime(7)
	ProcessTimers()
	if len(fired) != 1 {
		t.Fatalf("post-wrap timer fired early: %v", fired)
	}

	SetTime(8)
	ProcessTimers()
	if len(fired) != 2 || fired[1] != "wrapped" {
		t.Fatalf("after the wrap: expected [near wrapped], got %v", fired)
	}
}
