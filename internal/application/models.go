package application

import (
	"time"

	"github.com/example/sport-scheduler/internal/persistence"
)

// Principal represents the authenticated user invoking a service method.
type Principal struct {
	UserID  string
	IsAdmin bool
}

// SessionStats summarises enrollment in a session.
type SessionStats struct {
	ConfirmedCount int
	WaitingCount   int
	TotalCount     int
	AvailableSpots int
}

func statsFor(session persistence.Session, participants []persistence.Participant) SessionStats {
	confirmed, waiting := persistence.CountByStatus(participants)
	available := session.MaxPlayers - confirmed
	if available < 0 {
		available = 0
	}
	return SessionStats{
		ConfirmedCount: confirmed,
		WaitingCount:   waiting,
		TotalCount:     confirmed + waiting,
		AvailableSpots: available,
	}
}

// JoinEligibility is the dry-run outcome of a join.
type JoinEligibility struct {
	CanJoin        bool
	WouldBeWaiting bool
	Reason         string
}

// LeaveResult reports the participant promoted into the freed slot, if any.
type LeaveResult struct {
	Promoted *persistence.Participant
}

// SessionStatus is derived from a session and its enrollment.
type SessionStatus string

const (
	SessionOpen      SessionStatus = "open"
	SessionFull      SessionStatus = "full"
	SessionCancelled SessionStatus = "cancelled"
	SessionCompleted SessionStatus = "completed"
)

// DeriveSessionStatus computes the display status at now.
func DeriveSessionStatus(session persistence.Session, confirmed int, now time.Time) SessionStatus {
	switch {
	case session.IsCancelled:
		return SessionCancelled
	case session.StartsAt.Before(now):
		return SessionCompleted
	case confirmed >= session.MaxPlayers:
		return SessionFull
	default:
		return SessionOpen
	}
}

// SessionView combines a session with its enrollment stats.
type SessionView struct {
	Session persistence.Session
	Stats   SessionStats
	Status  SessionStatus
}

// ActivityInput captures caller provided activity fields.
type ActivityInput struct {
	Name          string
	Description   string
	Sport         string
	MinPlayers    int
	MaxPlayers    int
	RecurringType string
	RecurringDays []time.Weekday
	StartTime     string
	IsPublic      bool
}

// CreateActivityParams wraps the data required to create an activity.
type CreateActivityParams struct {
	Principal Principal
	Input     ActivityInput
}

// ActivityCreated is returned once on creation. JoinCode is the only time the
// plain code is available.
type ActivityCreated struct {
	Activity persistence.Activity
	JoinCode string
	Sessions []persistence.Session
}

// ActivityListFilter narrows ListActivities.
type ActivityListFilter struct {
	Sport string
	Mine  bool
}

// CapacityUpdate reports the session after a capacity change and whoever was promoted.
type CapacityUpdate struct {
	Session  persistence.Session
	Promoted []persistence.Participant
}

// ExtendSummary reports the outcome of a horizon extension run.
type ExtendSummary struct {
	Activities int
	Created    int
	Failed     int
}
