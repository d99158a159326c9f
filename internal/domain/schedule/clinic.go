package schedule

import (
	"fmt"
	"time"

	"github.com/prenatal/prenatal/pkg/calendar"
)

// maxShiftDays bounds the search for a clinic day.
const maxShiftDays = 30

type Holiday struct {
	Date calendar.Date `json:"date"`
	Name string        `json:"name"`
}

// ClinicCalendar restricts visits to the days a clinic runs antenatal
// appointments.
type ClinicCalendar struct {
	name     string
	weekdays map[time.Weekday]bool
	holidays map[string]string
}

// NewClinicCalendar builds a calendar. An empty weekdays list allows every
// day of the week.
func NewClinicCalendar(name string, weekdays []time.Weekday, holidays []Holiday) *ClinicCalendar {
	c := &ClinicCalendar{
		name:     name,
		weekdays: make(map[time.Weekday]bool, len(weekdays)),
		holidays: make(map[string]string, len(holidays)),
	}
	for _, wd := range weekdays {
		c.weekdays[wd] = true
	}
	for _, h := range holidays {
		c.holidays[h.Date.String()] = h.Name
	}
	return c
}

func (c *ClinicCalendar) Name() string { return c.name }

// Holiday returns the holiday name for d, if any.
func (c *ClinicCalendar) Holiday(d calendar.Date) (string, bool) {
	name, ok := c.holidays[d.String()]
	return name, ok
}

func (c *ClinicCalendar) IsOpen(d calendar.Date) bool {
	if len(c.weekdays) > 0 && !c.weekdays[d.Weekday()] {
		return false
	}
	_, holiday := c.Holiday(d)
	return !holiday
}

// Adjust moves d forward to the next open day. When none is found within
// maxShiftDays it falls back to the next Monday on or after d. The note is
// empty when d was already open.
func (c *ClinicCalendar) Adjust(d calendar.Date) (calendar.Date, string) {
	next := d
	for i := 0; i < maxShiftDays; i++ {
		if c.IsOpen(next) {
			return next, shiftNote(d, next)
		}
		next = calendar.AddDays(next, 1)
	}

	forced := d
	for forced.Weekday() != time.Monday {
		forced = calendar.AddDays(forced, 1)
	}
	if name, ok := c.Holiday(forced); ok {
		return forced, fmt.Sprintf("falls on a holiday (%s), consider rescheduling", name)
	}
	return forced, shiftNote(d, forced)
}

func shiftNote(from, to calendar.Date) string {
	if from.Equal(to) {
		return ""
	}
	return fmt.Sprintf("moved from %s to the next clinic day", from)
}
