package availability

import (
	"fmt"
	"time"

	"github.com/shopcal/shopcal/services/booking-service/internal/model"
)

const DateLayout = "2006-01-02"

// DayHours are minutes since local midnight.
type DayHours struct {
	IsOpen      bool
	OpenMinute  int
	CloseMinute int
}

// WeeklyHours is indexed by time.Weekday.
type WeeklyHours [7]DayHours

type BusinessHours struct {
	Timezone    string
	SlotMinutes int
	Week        WeeklyHours
}

func (b BusinessHours) Location() (*time.Location, error) {
	if b.Timezone == "" {
		return time.UTC, nil
	}
	loc, err := time.LoadLocation(b.Timezone)
	if err != nil {
		return nil, fmt.Errorf("business timezone %q: %w", b.Timezone, err)
	}
	return loc, nil
}

// ParseDate reads a YYYY-MM-DD wall-clock date.
func ParseDate(date string) (time.Time, error) {
	d, err := time.Parse(DateLayout, date)
	if err != nil {
		return time.Time{}, model.Invalid("date", "must be YYYY-MM-DD")
	}
	return d, nil
}

// Window resolves the opening hours of a local calendar date into UTC
// instants. The weekday is taken from the local date, and open/close are
// built with time.Date in loc so that 09:00 stays 09:00 local across DST
// changes. ok is false when the shop is closed that day.
func (w WeeklyHours) Window(date string, loc *time.Location) (iv Interval, ok bool, err error) {
	d, err := ParseDate(date)
	if err != nil {
		return Interval{}, false, err
	}
	day := w[d.Weekday()]
	if !day.IsOpen || day.CloseMinute <= day.OpenMinute {
		return Interval{}, false, nil
	}
	at := func(minute int) time.Time {
		return time.Date(d.Year(), d.Month(), d.Day(), minute/60, minute%60, 0, 0, loc).UTC()
	}
	return Interval{Start: at(day.OpenMinute), End: at(day.CloseMinute)}, true, nil
}

// DayBounds returns local midnight to the next local midnight in UTC.
func DayBounds(date string, loc *time.Location) (Interval, error) {
	d, err := ParseDate(date)
	if err != nil {
		return Interval{}, err
	}
	start := time.Date(d.Year(), d.Month(), d.Day(), 0, 0, 0, 0, loc)
	return Interval{Start: start.UTC(), End: start.AddDate(0, 0, 1).UTC()}, nil
}
