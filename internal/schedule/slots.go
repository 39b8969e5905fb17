package schedule

import "fmt"

// Slot duration and break bounds, in minutes.
const (
	MinSlotMinutes  = 15
	MaxSlotMinutes  = 480
	MinBreakMinutes = 0
	MaxBreakMinutes = 120
)

// SlotTime is one bookable interval within a working window, still in
// local wall-clock terms.
type SlotTime struct {
	Start WallClock
	End   WallClock
}

// EnumerateSlots cuts the window [start, end) into slots of slotMin minutes
// separated by breakMin-minute gaps. The last slot is emitted only if it
// fits entirely inside the window. A window where end <= start, or too
// short for even one slot, yields an empty list rather than an error.
func EnumerateSlots(start, end WallClock, slotMin, breakMin int) ([]SlotTime, error) {
	if slotMin < MinSlotMinutes || slotMin > MaxSlotMinutes {
		return nil, fmt.Errorf("schedule: slot duration %d out of range [%d,%d]", slotMin, MinSlotMinutes, MaxSlotMinutes)
	}
	if breakMin < MinBreakMinutes || breakMin > MaxBreakMinutes {
		return nil, fmt.Errorf("schedule: break duration %d out of range [%d,%d]", breakMin, MinBreakMinutes, MaxBreakMinutes)
	}

	slots := []SlotTime{}
	for cursor := start.Minutes(); cursor+slotMin <= end.Minutes(); cursor += slotMin + breakMin {
		slots = append(slots, SlotTime{
			Start: MinutesOfDay(cursor),
			End:   MinutesOfDay(cursor + slotMin),
		})
	}
	return slots, nil
}
