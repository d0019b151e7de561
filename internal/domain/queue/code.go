package queue

import (
	"fmt"
	"time"
)

// MinutesPerPatient is the flat service time used for wait estimates.
const MinutesPerPatient = 5

// FormatCode renders the display code of an entry, e.g. "9A-R-007" or
// "15P-P-042". The hour is the 24-hour clock hour of timeIn without zero
// padding, followed by A before noon and P from noon on.
func FormatCode(timeIn time.Time, p Priority, id int64) string {
	hour := timeIn.Hour()
	half := "A"
	if hour >= 12 {
		half = "P"
	}
	prio := "R"
	if p == PriorityPriority {
		prio = "P"
	}
	return fmt.Sprintf("%d%s-%s-%03d", hour, half, prio, id)
}

// EstimateWait returns the wait estimate for an entry with ahead entries in
// front of it. The estimate is never below one minute.
func EstimateWait(ahead int) WaitInfo {
	if ahead < 0 {
		ahead = 0
	}
	minutes := ahead * MinutesPerPatient
	if minutes < 1 {
		minutes = 1
	}
	return WaitInfo{WaitingAhead: ahead, EstimatedMinutes: minutes}
}
