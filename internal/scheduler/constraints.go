package scheduler

import (
	"fmt"
	"strconv"
	"strings"
	"time"
)

// Constraints describes the business rules a candidate match must satisfy.
type Constraints struct {
	// WindowStart and WindowEnd are offsets from midnight bounding the
	// half-open interval [WindowStart, WindowEnd) in which matches may start.
	WindowStart time.Duration
	WindowEnd   time.Duration
	// SlotInterval is the granularity of the offered time slots.
	SlotInterval time.Duration
	// Weekdays lists the days on which matches may be played.
	Weekdays []time.Weekday
	// MinAdvance must be strictly exceeded between now and the match.
	MinAdvance time.Duration
	// MaxAdvance is the inclusive booking horizon in whole calendar days.
	// See HorizonEnd.
	MaxAdvance time.Duration
	MinPlayers int
	MaxPlayers int
}

// DefaultConstraints returns the lunchtime weekday rules used across the service.
func DefaultConstraints() Constraints {
	return Constraints{
		WindowStart:  12 * time.Hour,
		WindowEnd:    14 * time.Hour,
		SlotInterval: 30 * time.Minute,
		Weekdays: []time.Weekday{
			time.Monday,
			time.Tuesday,
			time.Wednesday,
			time.Thursday,
			time.Friday,
		},
		MinAdvance: 24 * time.Hour,
		MaxAdvance: 14 * 24 * time.Hour,
		MinPlayers: 2,
		MaxPlayers: 100,
	}
}

// AllowsWeekday reports whether matches may be played on the given weekday.
func (c Constraints) AllowsWeekday(day time.Weekday) bool {
	for _, allowed := range c.Weekdays {
		if allowed == day {
			return true
		}
	}
	return false
}

// HorizonEnd returns the exclusive end of the booking horizon: midnight in loc
// starting the day after reference's local date plus maxAdvance whole days.
// Any time on the last horizon day is therefore bookable.
func HorizonEnd(reference time.Time, maxAdvance time.Duration, loc *time.Location) time.Time {
	if loc == nil {
		loc = time.UTC
	}
	local := reference.In(loc)
	days := int(maxAdvance / (24 * time.Hour))
	return time.Date(local.Year(), local.Month(), local.Day()+days+1, 0, 0, 0, 0, loc)
}

// TimeOfDay is a wall clock time expressed as hour and minute.
type TimeOfDay struct {
	Hour   int
	Minute int
}

// ParseTimeOfDay parses "H:MM" or "HH:MM". Hours range 0-23 and minutes 00-59.
func ParseTimeOfDay(value string) (TimeOfDay, error) {
	hourPart, minutePart, ok := strings.Cut(strings.TrimSpace(value), ":")
	if !ok || len(hourPart) == 0 || len(hourPart) > 2 || len(minutePart) != 2 {
		return TimeOfDay{}, fmt.Errorf("scheduler: malformed time %q", value)
	}
	if !isDigits(hourPart) || !isDigits(minutePart) {
		return TimeOfDay{}, fmt.Errorf("scheduler: malformed time %q", value)
	}
	hour, _ := strconv.Atoi(hourPart)
	minute, _ := strconv.Atoi(minutePart)
	if hour > 23 || minute > 59 {
		return TimeOfDay{}, fmt.Errorf("scheduler: time %q out of range", value)
	}
	return TimeOfDay{Hour: hour, Minute: minute}, nil
}

func isDigits(s string) bool {
	for _, r := range s {
		if r < '0' || r > '9' {
			return false
		}
	}
	return true
}

// Offset returns the duration since midnight.
func (t TimeOfDay) Offset() time.Duration {
	return time.Duration(t.Hour)*time.Hour + time.Duration(t.Minute)*time.Minute
}

// String formats the time as HH:MM.
func (t TimeOfDay) String() string {
	return fmt.Sprintf("%02d:%02d", t.Hour, t.Minute)
}

// On places the time of day on the calendar date of day, interpreted in loc.
func (t TimeOfDay) On(day time.Time, loc *time.Location) time.Time {
	if loc == nil {
		loc = time.UTC
	}
	local := day.In(loc)
	return time.Date(local.Year(), local.Month(), local.Day(), t.Hour, t.Minute, 0, 0, loc)
}
