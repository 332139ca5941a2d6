package core

// Timer is a scheduled event. Handlers run from the timer dispatch context
// (the hardware timer interrupt on real targets) and must stay short and
// allocation-free.
type Timer struct {
	WakeTime uint32
	Handler  func(*Timer) uint8
	Next     *Timer
}

// Handler results
const (
	SF_DONE       = 0
	SF_RESCHEDULE = 1
)

var timerList *Timer

// ScheduleTimer inserts a timer into the pending list, sorted by WakeTime.
func ScheduleTimer(t *Timer) {
	state := disableInterrupts()
	defer restoreInterrupts(state)

	insertTimer(t)
}

// UnscheduleTimer removes a timer from the pending list if present.
func UnscheduleTimer(t *Timer) {
	state := disableInterrupts()
	defer restoreInterrupts(state)

	if timerList == t {
		timerList = t.Next
		t.Next = nil
		return
	}
	for cur := timerList; cur != nil; cur = cur.Next {
		if cur.Next == t {
			cur.Next = t.Next
			t.Next = nil
			return
		}
	}
}

// timeBefore reports whether a comes before b. The signed difference stays
// correct across uint32 rollover as long as the two times are within 2^31 µs
// of each other.
func timeBefore(a, b uint32) bool {
	return int32(a-b) < 0
}

func insertTimer(t *Timer) {
	if timerList == nil || timeBefore(t.WakeTime, timerList.WakeTime) {
		t.Next = timerList
		timerList = t
		return
	}
	cur := timerList
	for cur.Next != nil && timeBefore(cur.Next.WakeTime, t.WakeTime) {
		cur = cur.Next
	}
	t.Next = cur.Next
	cur.Next = t
}

// TimerDispatch runs every timer whose WakeTime has passed. A handler
// returning SF_RESCHEDULE is reinserted with its updated WakeTime; this is
// how the track transmitter re-arms itself every half-bit.
func TimerDispatch() {
	state := disableInterrupts()
	defer restoreInterrupts(state)

	now := GetTime()
	for timerList != nil && !timeBefore(now, timerList.WakeTime) {
		timer := timerList
		timerList = timer.Next
		timer.Next = nil

		if timer.Handler(timer) == SF_RESCHEDULE {
			insertTimer(timer)
		}
	}
}
