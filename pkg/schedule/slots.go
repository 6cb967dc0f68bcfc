package schedule

import (
	"time"

	"github.com/jarijaba/jarijaba/pkg/workflow/capability"
)

// firstCommonFreeSlot scans per-user availability views for the first
// contiguous run of slotsNeeded intervals in which every user is free.
// Views are one character per interval; only capability.SlotFree counts as
// free, every other marker (tentative, busy, unknown) blocks the slot.
// Returns the starting interval index, or false when no common run exists.
func firstCommonFreeSlot(views map[string]string, slotsNeeded int) (int, bool) {
	if len(views) == 0 || slotsNeeded <= 0 {
		return 0, false
	}

	// The common window is only as long as the shortest view.
	slots := -1
	for _, view := range views {
		if slots < 0 || len(view) < slots {
			slots = len(view)
		}
	}
	if slots < slotsNeeded {
		return 0, false
	}

	run := 0
	for i := 0; i < slots; i++ {
		free := true
		for _, view := range views {
			if view[i] != capability.SlotFree {
				free = false
				break
			}
		}
		if !free {
			run = 0
			continue
		}
		run++
		if run == slotsNeeded {
			return i - slotsNeeded + 1, true
		}
	}
	return 0, false
}

// slotsFor converts a meeting duration to a slot count, rounding up.
func slotsFor(duration time.Duration, intervalMinutes int) int {
	interval := time.Duration(intervalMinutes) * time.Minute
	if interval <= 0 {
		return 0
	}
	return int((duration + interval - 1) / interval)
}

// slotTime converts a slot index back to wall-clock time.
func slotTime(windowStart time.Time, slot, intervalMinutes int) time.Time {
	return windowStart.Add(time.Duration(slot*intervalMinutes) * time.Minute)
}
