package recurrence

import (
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/example/sport-scheduler/internal/scheduler"
)

// Kind selects the step between generated dates.
type Kind string

const (
	// KindDay advances one business day at a time, skipping weekends.
	KindDay Kind = "day"
	// KindWeek advances seven calendar days at a time.
	KindWeek Kind = "week"
	// KindMonth advances one calendar month at a time, moving weekend dates to Monday.
	KindMonth Kind = "month"
)

// MaxCount bounds a single generation request.
const MaxCount = 366

// DefaultHorizon is the advance booking horizon applied when none is configured.
const DefaultHorizon = 14 * 24 * time.Hour

var (
	// ErrInvalidKind indicates the recurrence kind is not supported.
	ErrInvalidKind = errors.New("recurrence: invalid kind")
	// ErrInvalidCount indicates the requested number of dates is out of range.
	ErrInvalidCount = errors.New("recurrence: invalid count")
	// ErrInvalidPattern indicates the activity recurrence pattern is not supported.
	ErrInvalidPattern = errors.New("recurrence: invalid pattern")
	// ErrNoWeekdays indicates an activity rule selected no weekdays.
	ErrNoWeekdays = errors.New("recurrence: at least one weekday is required")
)

// ParseKind converts user input into a Kind.
func ParseKind(value string) (Kind, error) {
	switch k := Kind(strings.ToLower(strings.TrimSpace(value))); k {
	case KindDay, KindWeek, KindMonth:
		return k, nil
	}
	return "", fmt.Errorf("%w: %q", ErrInvalidKind, value)
}

// Engine expands recurrence rules into concrete dates bounded by the booking horizon.
type Engine struct {
	location *time.Location
	now      func() time.Time
	horizon  time.Duration
}

// NewEngine constructs an Engine. Nil location means UTC, nil clock means
// time.Now and a non-positive horizon means DefaultHorizon.
func NewEngine(loc *time.Location, now func() time.Time, horizon time.Duration) *Engine {
	if loc == nil {
		loc = time.UTC
	}
	if now == nil {
		now = time.Now
	}
	if horizon <= 0 {
		horizon = DefaultHorizon
	}
	return &Engine{location: loc, now: now, horizon: horizon}
}

// Horizon returns the configured booking horizon.
func (e *Engine) Horizon() time.Duration {
	return e.horizon
}

// CalculateRecurringDates produces at most count dates starting at start,
// stepping by kind, and drops dates beyond the booking horizon.
//
// The semantics per kind are:
//   - week: every seven days from start with no weekday adjustment.
//   - day: consecutive calendar days skipping Saturday and Sunday, including a weekend start.
//   - month: the start's day of month in each following month, clamped to the
//     month length, with Saturday and Sunday moved forward to Monday.
//
// Past dates are never dropped. The result is strictly increasing.
func (e *Engine) CalculateRecurringDates(start time.Time, kind Kind, count int) ([]time.Time, error) {
	if count < 0 || count > MaxCount {
		return nil, fmt.Errorf("%w: %d", ErrInvalidCount, count)
	}

	var raw []time.Time
	switch kind {
	case KindWeek:
		raw = e.weekly(start, count)
	case KindDay:
		raw = e.businessDays(start, count)
	case KindMonth:
		raw = e.monthly(start, count)
	default:
		return nil, fmt.Errorf("%w: %q", ErrInvalidKind, kind)
	}

	limit := scheduler.HorizonEnd(e.now(), e.horizon, e.location)
	dates := make([]time.Time, 0, len(raw))
	for _, d := range raw {
		if !d.Before(limit) {
			continue
		}
		if n := len(dates); n > 0 && !d.After(dates[n-1]) {
			continue
		}
		dates = append(dates, d)
	}
	return dates, nil
}

func (e *Engine) weekly(start time.Time, count int) []time.Time {
	local := start.In(e.location)
	out := make([]time.Time, 0, count)
	for i := 0; i < count; i++ {
		out = append(out, local.AddDate(0, 0, 7*i))
	}
	return out
}

func (e *Engine) businessDays(start time.Time, count int) []time.Time {
	current := start.In(e.location)
	out := make([]time.Time, 0, count)
	for len(out) < count {
		if !isWeekend(current.Weekday()) {
			out = append(out, current)
		}
		current = current.AddDate(0, 0, 1)
	}
	return out
}

func (e *Engine) monthly(start time.Time, count int) []time.Time {
	anchor := start.In(e.location)
	out := make([]time.Time, 0, count)
	for i := 0; i < count; i++ {
		year, month := addMonths(anchor.Year(), anchor.Month(), i)
		day := anchor.Day()
		if last := daysIn(year, month); day > last {
			day = last
		}
		d := time.Date(year, month, day, anchor.Hour(), anchor.Minute(), anchor.Second(), anchor.Nanosecond(), e.location)
		out = append(out, forwardToWeekday(d))
	}
	return out
}

func addMonths(year int, month time.Month, n int) (int, time.Month) {
	total := int(month) - 1 + n
	return year + total/12, time.Month(total%12 + 1)
}

func daysIn(year int, month time.Month) int {
	return time.Date(year, month+1, 0, 0, 0, 0, 0, time.UTC).Day()
}

func isWeekend(day time.Weekday) bool {
	return day == time.Saturday || day == time.Sunday
}

func forwardToWeekday(d time.Time) time.Time {
	switch d.Weekday() {
	case time.Saturday:
		return d.AddDate(0, 0, 2)
	case time.Sunday:
		return d.AddDate(0, 0, 1)
	}
	return d
}

// Pattern is the recurrence type stored on an activity.
type Pattern string

const (
	// PatternWeekly repeats on every selected weekday.
	PatternWeekly Pattern = "weekly"
	// PatternMonthly repeats on the first occurrence of each selected weekday in a month.
	PatternMonthly Pattern = "monthly"
)

// ParsePattern converts user input into a Pattern.
func ParsePattern(value string) (Pattern, error) {
	switch p := Pattern(strings.ToLower(strings.TrimSpace(value))); p {
	case PatternWeekly, PatternMonthly:
		return p, nil
	}
	return "", fmt.Errorf("%w: %q", ErrInvalidPattern, value)
}

// ActivityRule is the (pattern, weekday set) pair of an activity plus its start time.
type ActivityRule struct {
	Pattern   Pattern
	Weekdays  []time.Weekday
	StartTime scheduler.TimeOfDay
}

// ExpandActivity returns the rule's occurrences strictly after from and no
// later than the last day of the booking horizon, in chronological order.
func (e *Engine) ExpandActivity(rule ActivityRule, from time.Time) ([]time.Time, error) {
	if len(rule.Weekdays) == 0 {
		return nil, ErrNoWeekdays
	}
	weekdaySet := make(map[time.Weekday]struct{}, len(rule.Weekdays))
	for _, day := range rule.Weekdays {
		weekdaySet[day] = struct{}{}
	}

	limit := scheduler.HorizonEnd(e.now(), e.horizon, e.location)
	day := from.In(e.location)
	day = time.Date(day.Year(), day.Month(), day.Day(), 0, 0, 0, 0, e.location)

	var out []time.Time
	for ; day.Before(limit); day = day.AddDate(0, 0, 1) {
		include, err := shouldInclude(rule.Pattern, weekdaySet, day)
		if err != nil {
			return nil, err
		}
		if !include {
			continue
		}
		occurrence := rule.StartTime.On(day, e.location)
		if occurrence.After(from) && occurrence.Before(limit) {
			out = append(out, occurrence)
		}
	}
	return out, nil
}

func shouldInclude(pattern Pattern, weekdaySet map[time.Weekday]struct{}, day time.Time) (bool, error) {
	_, selected := weekdaySet[day.Weekday()]
	switch pattern {
	case PatternWeekly:
		return selected, nil
	case PatternMonthly:
		return selected && day.Day() <= 7, nil
	default:
		return false, fmt.Errorf("%w: %q", ErrInvalidPattern, pattern)
	}
}
