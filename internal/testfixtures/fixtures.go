package testfixtures

import (
	"fmt"
	"sync/atomic"
	"time"

	"github.com/example/sport-scheduler/internal/application"
	"github.com/example/sport-scheduler/internal/persistence"
)

var (
	activityCounter    uint64
	sessionCounter     uint64
	participantCounter uint64
)

// referenceTime is a Monday morning so weekday sessions fall inside the
// booking horizon at predictable offsets.
var referenceTime = time.Date(2024, time.January, 8, 8, 0, 0, 0, time.UTC)

// ReferenceTime returns the canonical baseline timestamp used by fixtures.
func ReferenceTime() time.Time {
	return referenceTime
}

// ----------------------------- Activity fixtures -----------------------------

// ActivityFixture represents a deterministic activity that can be materialised
// as service input or as a stored record.
type ActivityFixture struct {
	ID             string
	Name           string
	Description    string
	Sport          persistence.Sport
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

// ActivityOption configures the generated activity fixture.
type ActivityOption func(*ActivityFixture)

// NewActivityFixture returns a weekly Tuesday lunchtime football activity.
func NewActivityFixture(opts ...ActivityOption) ActivityFixture {
	idx := atomic.AddUint64(&activityCounter, 1)
	id := fmt.Sprintf("activity-%03d", idx)
	fixture := ActivityFixture{
		ID:            id,
		Name:          fmt.Sprintf("Lunch football %03d", idx),
		Description:   "Five-a-side on the rooftop pitch",
		Sport:         persistence.SportFootball,
		MinPlayers:    4,
		MaxPlayers:    10,
		RecurringType: "weekly",
		RecurringDays: []time.Weekday{time.Tuesday},
		StartTime:     "12:00",
		CreatedBy:     "organizer",
		IsPublic:      true,
		CreatedAt:     referenceTime,
		UpdatedAt:     referenceTime,
	}
	for _, opt := range opts {
		opt(&fixture)
	}
	return fixture
}

// WithActivityID overrides the generated activity ID.
func WithActivityID(id string) ActivityOption {
	return func(f *ActivityFixture) {
		f.ID = id
	}
}

// WithActivityCreator overrides the creating user.
func WithActivityCreator(userID string) ActivityOption {
	return func(f *ActivityFixture) {
		f.CreatedBy = userID
	}
}

func WithActivitySport(sport persistence.Sport) ActivityOption {
	return func(f *ActivityFixture) {
		f.Sport = sport
	}
}

// WithActivityPlayers overrides the player bounds.
func WithActivityPlayers(minPlayers, maxPlayers int) ActivityOption {
	return func(f *ActivityFixture) {
		f.MinPlayers = minPlayers
		f.MaxPlayers = maxPlayers
	}
}

// WithActivityRecurrence overrides the recurrence pattern and weekdays.
func WithActivityRecurrence(recurringType string, days ...time.Weekday) ActivityOption {
	return func(f *ActivityFixture) {
		f.RecurringType = recurringType
		f.RecurringDays = append([]time.Weekday(nil), days...)
	}
}

func WithActivityStartTime(value string) ActivityOption {
	return func(f *ActivityFixture) {
		f.StartTime = value
	}
}

// WithActivityPrivate hides the activity from other users' listings.
func WithActivityPrivate() ActivityOption {
	return func(f *ActivityFixture) {
		f.IsPublic = false
	}
}

// WithActivityJoinCodeDigest sets the stored join code digest.
func WithActivityJoinCodeDigest(digest string) ActivityOption {
	return func(f *ActivityFixture) {
		f.JoinCodeDigest = digest
	}
}

// WithActivityTimestamps overrides both timestamps.
func WithActivityTimestamps(created, updated time.Time) ActivityOption {
	return func(f *ActivityFixture) {
		f.CreatedAt = created
		f.UpdatedAt = updated
	}
}

// Input converts the fixture into service input.
func (f ActivityFixture) Input() application.ActivityInput {
	return application.ActivityInput{
		Name:          f.Name,
		Description:   f.Description,
		Sport:         string(f.Sport),
		MinPlayers:    f.MinPlayers,
		MaxPlayers:    f.MaxPlayers,
		RecurringType: f.RecurringType,
		RecurringDays: append([]time.Weekday(nil), f.RecurringDays...),
		StartTime:     f.StartTime,
		IsPublic:      f.IsPublic,
	}
}

// CreateParams pairs the fixture input with its creator.
func (f ActivityFixture) CreateParams() application.CreateActivityParams {
	return application.CreateActivityParams{Principal: f.Principal(), Input: f.Input()}
}

// Principal returns the creator as an authenticated principal.
func (f ActivityFixture) Principal() application.Principal {
	return application.Principal{UserID: f.CreatedBy}
}

// Persistence converts the fixture into a stored activity.
func (f ActivityFixture) Persistence() persistence.Activity {
	return persistence.Activity{
		ID:             f.ID,
		Name:           f.Name,
		Description:    f.Description,
		Sport:          f.Sport,
		MinPlayers:     f.MinPlayers,
		MaxPlayers:     f.MaxPlayers,
		RecurringType:  f.RecurringType,
		RecurringDays:  append([]time.Weekday(nil), f.RecurringDays...),
		StartTime:      f.StartTime,
		CreatedBy:      f.CreatedBy,
		IsPublic:       f.IsPublic,
		JoinCodeDigest: f.JoinCodeDigest,
		CreatedAt:      f.CreatedAt,
		UpdatedAt:      f.UpdatedAt,
	}
}

// ----------------------------- Session fixtures -----------------------------

// SessionFixture represents a deterministic session record.
type SessionFixture struct {
	ID          string
	ActivityID  string
	StartsAt    time.Time
	MaxPlayers  int
	IsCancelled bool
	CreatedAt   time.Time
}

// SessionOption configures the generated session fixture.
type SessionOption func(*SessionFixture)

// NewSessionFixture returns a session on the Tuesday after ReferenceTime at noon.
func NewSessionFixture(opts ...SessionOption) SessionFixture {
	idx := atomic.AddUint64(&sessionCounter, 1)
	fixture := SessionFixture{
		ID:         fmt.Sprintf("session-%03d", idx),
		ActivityID: "activity-001",
		StartsAt:   time.Date(2024, time.January, 9, 12, 0, 0, 0, time.UTC),
		MaxPlayers: 10,
		CreatedAt:  referenceTime,
	}
	for _, opt := range opts {
		opt(&fixture)
	}
	return fixture
}

// WithSessionID overrides the generated session ID.
func WithSessionID(id string) SessionOption {
	return func(f *SessionFixture) {
		f.ID = id
	}
}

// WithSessionActivity links the session to an activity.
func WithSessionActivity(activityID string) SessionOption {
	return func(f *SessionFixture) {
		f.ActivityID = activityID
	}
}

func WithSessionStartsAt(t time.Time) SessionOption {
	return func(f *SessionFixture) {
		f.StartsAt = t
	}
}

// WithSessionMaxPlayers overrides the session capacity.
func WithSessionMaxPlayers(n int) SessionOption {
	return func(f *SessionFixture) {
		f.MaxPlayers = n
	}
}

// WithSessionCancelled marks the session cancelled.
func WithSessionCancelled() SessionOption {
	return func(f *SessionFixture) {
		f.IsCancelled = true
	}
}

// Persistence converts the fixture into a stored session.
func (f SessionFixture) Persistence() persistence.Session {
	return persistence.Session{
		ID:          f.ID,
		ActivityID:  f.ActivityID,
		StartsAt:    f.StartsAt,
		MaxPlayers:  f.MaxPlayers,
		IsCancelled: f.IsCancelled,
		CreatedAt:   f.CreatedAt,
	}
}

// --------------------------- Participant fixtures ---------------------------

// ParticipantFixture represents a deterministic enrollment.
type ParticipantFixture struct {
	SessionID string
	UserID    string
	Status    persistence.ParticipantStatus
	JoinedAt  time.Time
}

// ParticipantOption configures the generated participant fixture.
type ParticipantOption func(*ParticipantFixture)

// NewParticipantFixture returns a confirmed participant who joined one minute
// after ReferenceTime per generated fixture.
func NewParticipantFixture(sessionID string, opts ...ParticipantOption) ParticipantFixture {
	idx := atomic.AddUint64(&participantCounter, 1)
	fixture := ParticipantFixture{
		SessionID: sessionID,
		UserID:    fmt.Sprintf("player-%03d", idx),
		Status:    persistence.StatusConfirmed,
		JoinedAt:  referenceTime.Add(time.Duration(idx) * time.Minute),
	}
	for _, opt := range opts {
		opt(&fixture)
	}
	return fixture
}

func WithParticipantUser(userID string) ParticipantOption {
	return func(f *ParticipantFixture) {
		f.UserID = userID
	}
}

// WithParticipantWaiting puts the participant on the waiting list.
func WithParticipantWaiting() ParticipantOption {
	return func(f *ParticipantFixture) {
		f.Status = persistence.StatusWaiting
	}
}

// WithParticipantJoinedAt overrides the join timestamp.
func WithParticipantJoinedAt(t time.Time) ParticipantOption {
	return func(f *ParticipantFixture) {
		f.JoinedAt = t
	}
}

// Persistence converts the fixture into a participant ready for InsertParticipant.
func (f ParticipantFixture) Persistence() persistence.Participant {
	return persistence.Participant{
		SessionID: f.SessionID,
		UserID:    f.UserID,
		Status:    f.Status,
		JoinedAt:  f.JoinedAt,
	}
}
