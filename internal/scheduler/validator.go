package scheduler

import (
	"fmt"
	"time"
)

// Candidate is a proposed match submitted for validation.
type Candidate struct {
	// Date carries the calendar day of the match. When StartTime parses, the
	// time of day on Date is replaced by it.
	Date       time.Time
	StartTime  string
	MinPlayers int
	MaxPlayers int
}

// Violation is a single end-user facing rule failure.
type Violation struct {
	Field   string
	Message string
}

// Result aggregates every violation found for a candidate.
type Result struct {
	IsValid    bool
	Violations []Violation
}

// Messages returns the violation messages in the order they were found.
func (r Result) Messages() []string {
	out := make([]string, 0, len(r.Violations))
	for _, v := range r.Violations {
		out = append(out, v.Message)
	}
	return out
}

// Validator checks candidate match date-times against Constraints.
type Validator struct {
	constraints Constraints
	now         func() time.Time
	location    *time.Location
}

// NewValidator constructs a Validator. A nil clock falls back to time.Now and a
// nil location to UTC.
func NewValidator(constraints Constraints, now func() time.Time, location *time.Location) *Validator {
	if now == nil {
		now = time.Now
	}
	if location == nil {
		location = time.UTC
	}
	return &Validator{constraints: constraints, now: now, location: location}
}

// Constraints exposes the rules the validator enforces.
func (v *Validator) Constraints() Constraints {
	return v.constraints
}

// Location returns the timezone used to interpret calendar days.
func (v *Validator) Location() *time.Location {
	return v.location
}

// IsValidMatchTime reports whether value is a well-formed time inside the match window.
func (v *Validator) IsValidMatchTime(value string) bool {
	tod, err := ParseTimeOfDay(value)
	if err != nil {
		return false
	}
	return v.inWindow(tod)
}

func (v *Validator) inWindow(tod TimeOfDay) bool {
	offset := tod.Offset()
	return offset >= v.constraints.WindowStart && offset < v.constraints.WindowEnd
}

// IsValidMatchDate reports whether date is an allowed weekday inside the
// booking horizon measured from reference.
func (v *Validator) IsValidMatchDate(date, reference time.Time) bool {
	return v.allowsDay(date) && v.afterMinAdvance(date, reference) && v.withinHorizon(date, reference)
}

func (v *Validator) allowsDay(date time.Time) bool {
	return v.constraints.AllowsWeekday(date.In(v.location).Weekday())
}

func (v *Validator) afterMinAdvance(date, reference time.Time) bool {
	return date.Sub(reference) > v.constraints.MinAdvance
}

func (v *Validator) withinHorizon(date, reference time.Time) bool {
	return date.Before(HorizonEnd(reference, v.constraints.MaxAdvance, v.location))
}

// AvailableTimeSlots lists the slot start times inside the window in chronological order.
func (v *Validator) AvailableTimeSlots() []string {
	step := v.constraints.SlotInterval
	if step <= 0 {
		step = 30 * time.Minute
	}
	var slots []string
	for offset := v.constraints.WindowStart; offset < v.constraints.WindowEnd; offset += step {
		slots = append(slots, TimeOfDay{
			Hour:   int(offset / time.Hour),
			Minute: int((offset % time.Hour) / time.Minute),
		}.String())
	}
	return slots
}

// ValidateMatchCreation checks every rule and returns all violations. The
// clock is read once so both horizon bounds share a reference instant.
func (v *Validator) ValidateMatchCreation(candidate Candidate) Result {
	reference := v.now()
	c := v.constraints
	var violations []Violation
	add := func(field, message string) {
		violations = append(violations, Violation{Field: field, Message: message})
	}

	matchAt := candidate.Date
	tod, err := ParseTimeOfDay(candidate.StartTime)
	switch {
	case err != nil:
		add("startTime", "Match time must be a valid time in HH:MM format")
	case !v.inWindow(tod):
		add("startTime", fmt.Sprintf("Match time must be between %s and %s", offsetLabel(c.WindowStart), offsetLabel(c.WindowEnd)))
	}
	if err == nil {
		matchAt = tod.On(candidate.Date, v.location)
	}

	if !v.allowsDay(matchAt) {
		add("date", "Matches can only be scheduled Monday through Friday")
	}

	if candidate.MinPlayers < c.MinPlayers {
		add("minPlayers", fmt.Sprintf("Minimum players must be at least %d", c.MinPlayers))
	}
	if candidate.MaxPlayers > c.MaxPlayers {
		add("maxPlayers", fmt.Sprintf("Maximum players cannot exceed %d", c.MaxPlayers))
	} else if candidate.MaxPlayers < c.MinPlayers {
		add("maxPlayers", fmt.Sprintf("Maximum players must be at least %d", c.MinPlayers))
	}
	if candidate.MinPlayers > candidate.MaxPlayers {
		add("minPlayers", "Minimum players cannot be greater than maximum players")
	}

	if !v.afterMinAdvance(matchAt, reference) {
		add("date", fmt.Sprintf("Matches must be scheduled at least %s in advance", advanceLabel(c.MinAdvance)))
	}
	if !v.withinHorizon(matchAt, reference) {
		add("date", fmt.Sprintf("Matches cannot be scheduled more than %s in advance", horizonLabel(c.MaxAdvance)))
	}

	return Result{IsValid: len(violations) == 0, Violations: violations}
}

func advanceLabel(d time.Duration) string {
	if d%time.Hour != 0 {
		return plural(int(d/time.Minute), "minute")
	}
	return plural(int(d/time.Hour), "hour")
}

func horizonLabel(d time.Duration) string {
	days := int(d / (24 * time.Hour))
	if days > 0 && days%7 == 0 {
		return plural(days/7, "week")
	}
	return plural(days, "day")
}

func plural(n int, unit string) string {
	if n == 1 {
		return "1 " + unit
	}
	return fmt.Sprintf("%d %ss", n, unit)
}

func offsetLabel(offset time.Duration) string {
	return TimeOfDay{Hour: int(offset / time.Hour), Minute: int((offset % time.Hour) / time.Minute)}.String()
}
