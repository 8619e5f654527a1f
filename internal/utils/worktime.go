package utils

import (
	"time"

	"github.com/SAP-F-2025/evaluation-scheduler-service/internal/models"
)

// Deadline converts a start instant plus a required number of working hours
// into the concrete instant by which grading must complete. Only minutes
// inside the calendar's working window on working days consume budget;
// everything else is skipped. The function is pure: no clock reads, no
// stored state, so identical inputs always yield the identical deadline.
func Deadline(start time.Time, workingHours float64, cal models.WorkCalendar) time.Time {
	budget := time.Duration(workingHours * float64(time.Hour))
	if budget <= 0 {
		return start
	}

	cur := start
	for {
		if !cal.IsWorkingDay(cur) {
			cur = cal.WindowOpen(cur.AddDate(0, 0, 1))
			continue
		}

		open := cal.WindowOpen(cur)
		close := cal.WindowClose(cur)

		if cur.Before(open) {
			cur = open
		}
		if !cur.Before(close) {
			cur = cal.WindowOpen(cur.AddDate(0, 0, 1))
			continue
		}

		available := close.Sub(cur)
		if budget <= available {
			return cur.Add(budget)
		}
		budget -= available
		cur = cal.WindowOpen(cur.AddDate(0, 0, 1))
	}
}
