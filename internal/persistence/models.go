package persistence

import (
	"sort"
	"time"
)

// Sport enumerates the supported sports.
type Sport string

const (
	SportFootball    Sport = "football"
	SportBasketball  Sport = "basketball"
	SportVolleyball  Sport = "volleyball"
	SportTennis      Sport = "tennis"
	SportBadminton   Sport = "badminton"
	SportTableTennis Sport = "table_tennis"
	SportRunning     Sport = "running"
	SportOther       Sport = "other"
)

// Sports lists every supported sport in display order.
func Sports() []Sport {
	return []Sport{
		SportFootball,
		SportBasketball,
		SportVolleyball,
		SportTennis,
		SportBadminton,
		SportTableTennis,
		SportRunning,
		SportOther,
	}
}

// Valid reports whether s is a known sport.
func (s Sport) Valid() bool {
	for _, known := range Sports() {
		if s == known {
			return true
		}
	}
	return false
}

// Activity is a recurring template from which sessions are generated.
type Activity struct {
	ID             string
	Name           string
	Description    string
	Sport          Sport
	MinPlayers     int
	MaxPlayers     int
	RecurringType  string
	RecurringDays  []time.Weekday
	StartTime      string
	CreatedBy      string
	IsPublic       bool
	JoinCodeDigest string
	CreatedAt      time.Time
	UpdatedAt      time.Time
}

// Session is one dated occurrence of an activity.
type Session struct {
	ID          string
	ActivityID  string
	StartsAt    time.Time
	MaxPlayers  int
	IsCancelled bool
	CreatedAt   time.Time
}

// ParticipantStatus is the enrollment state of a participant.
type ParticipantStatus string

const (
	// StatusConfirmed participants count against capacity.
	StatusConfirmed ParticipantStatus = "confirmed"
	// StatusWaiting participants wait for promotion.
	StatusWaiting ParticipantStatus = "waiting"
)

// Participant is a user's enrollment in one session.
type Participant struct {
	// Seq is assigned by the store on insert and breaks JoinedAt ties.
	Seq       int64
	SessionID string
	UserID    string
	Status    ParticipantStatus
	JoinedAt  time.Time
}

// ActivityFilter narrows activity queries.
type ActivityFilter struct {
	Sport     Sport
	CreatedBy string
	// VisibleTo restricts results to public activities and those created by this user.
	VisibleTo string
}

// Matches reports whether the activity passes the filter.
func (f ActivityFilter) Matches(a Activity) bool {
	if f.Sport != "" && a.Sport != f.Sport {
		return false
	}
	if f.CreatedBy != "" && a.CreatedBy != f.CreatedBy {
		return false
	}
	if f.VisibleTo != "" && !a.IsPublic && a.CreatedBy != f.VisibleTo {
		return false
	}
	return true
}

// SortParticipants orders participants by JoinedAt then Seq.
func SortParticipants(participants []Participant) {
	sort.SliceStable(participants, func(i, j int) bool {
		if participants[i].JoinedAt.Equal(participants[j].JoinedAt) {
			return participants[i].Seq < participants[j].Seq
		}
		return participants[i].JoinedAt.Before(participants[j].JoinedAt)
	})
}

// CountByStatus returns the confirmed and waiting counts.
func CountByStatus(participants []Participant) (confirmed, waiting int) {
	for _, p := range participants {
		switch p.Status {
		case StatusConfirmed:
			confirmed++
		case StatusWaiting:
			waiting++
		}
	}
	return confirmed, waiting
}
