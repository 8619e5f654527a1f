package models

import (
	"fmt"
	"strconv"
	"strings"
	"time"
)

const calendarDateLayout = "2006-01-02"

// WorkCalendar is the read-only configuration the business-time arithmetic
// runs against: a daily working window, weekly off days, and a set of
// excluded dates (holidays) fed from an external calendar sheet.
type WorkCalendar struct {
	// OpenMinute and CloseMinute bound the working window as minutes from
	// midnight, e.g. 540 and 1080 for 09:00-18:00.
	OpenMinute  int
	CloseMinute int

	WeeklyOff map[time.Weekday]bool

	// Excluded holds dates formatted as 2006-01-02.
	Excluded map[string]bool
}

// NewWorkCalendar builds a calendar from clock strings ("09:00", "18:00"),
// off weekdays, and excluded dates.
func NewWorkCalendar(open, close string, weeklyOff []time.Weekday, excluded []time.Time) (WorkCalendar, error) {
	openMinute, err := parseClock(open)
	if err != nil {
		return WorkCalendar{}, fmt.Errorf("invalid window open %q: %w", open, err)
	}
	closeMinute, err := parseClock(close)
	if err != nil {
		return WorkCalendar{}, fmt.Errorf("invalid window close %q: %w", close, err)
	}
	if closeMinute <= openMinute {
		return WorkCalendar{}, fmt.Errorf("window close %q must be after open %q", close, open)
	}

	cal := WorkCalendar{
		OpenMinute:  openMinute,
		CloseMinute: closeMinute,
		WeeklyOff:   make(map[time.Weekday]bool, len(weeklyOff)),
		Excluded:    make(map[string]bool, len(excluded)),
	}
	for _, day := range weeklyOff {
		cal.WeeklyOff[day] = true
	}
	for _, date := range excluded {
		cal.Excluded[date.Format(calendarDateLayout)] = true
	}
	return cal, nil
}

// IsWorkingDay reports whether the given instant's date counts toward
// working-hour arithmetic.
func (c WorkCalendar) IsWorkingDay(t time.Time) bool {
	if c.WeeklyOff[t.Weekday()] {
		return false
	}
	return !c.Excluded[t.Format(calendarDateLayout)]
}

// WindowOpen returns the window-open instant on t's date, in t's location.
func (c WorkCalendar) WindowOpen(t time.Time) time.Time {
	return time.Date(t.Year(), t.Month(), t.Day(), c.OpenMinute/60, c.OpenMinute%60, 0, 0, t.Location())
}

// WindowClose returns the window-close instant on t's date, in t's location.
func (c WorkCalendar) WindowClose(t time.Time) time.Time {
	return time.Date(t.Year(), t.Month(), t.Day(), c.CloseMinute/60, c.CloseMinute%60, 0, 0, t.Location())
}

func parseClock(s string) (int, error) {
	parts := strings.Split(s, ":")
	if len(parts) != 2 {
		return 0, fmt.Errorf("expected HH:MM")
	}
	hour, err := strconv.Atoi(parts[0])
	if err != nil || hour < 0 || hour > 23 {
		return 0, fmt.Errorf("invalid hour")
	}
	minute, err := strconv.Atoi(parts[1])
	if err != nil || minute < 0 || minute > 59 {
		return 0, fmt.Errorf("invalid minute")
	}
	return hour*60 + minute, nil
}
