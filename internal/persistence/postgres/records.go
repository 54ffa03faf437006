package postgres

import (
	"time"

	"github.com/example/sport-scheduler/internal/persistence"
)

type activityRecord struct {
	ID             string    `gorm:"primaryKey"`
	Name           string    `gorm:"not null"`
	Description    string    `gorm:"not null;default:''"`
	Sport          string    `gorm:"not null;index"`
	MinPlayers     int       `gorm:"not null"`
	MaxPlayers     int       `gorm:"not null"`
	RecurringType  string    `gorm:"not null"`
	RecurringDays  int64     `gorm:"not null;default:0"`
	StartTime      string    `gorm:"not null"`
	CreatedBy      string    `gorm:"not null;index"`
	IsPublic       bool      `gorm:"not null"`
	JoinCodeDigest *string   `gorm:"uniqueIndex"`
	CreatedAt      time.Time `gorm:"not null;autoCreateTime:false"`
	UpdatedAt      time.Time `gorm:"not null;autoUpdateTime:false"`

	Sessions []sessionRecord `gorm:"foreignKey:ActivityID;constraint:OnDelete:CASCADE"`
}

func (activityRecord) TableName() string { return "activities" }

type sessionRecord struct {
	ID          string    `gorm:"primaryKey"`
	ActivityID  string    `gorm:"not null;uniqueIndex:idx_sessions_activity_start"`
	StartsAt    time.Time `gorm:"not null;uniqueIndex:idx_sessions_activity_start"`
	MaxPlayers  int       `gorm:"not null"`
	IsCancelled bool      `gorm:"not null"`
	CreatedAt   time.Time `gorm:"not null;autoCreateTime:false"`

	Participants []participantRecord `gorm:"foreignKey:SessionID;constraint:OnDelete:CASCADE"`
}

func (sessionRecord) TableName() string { return "sessions" }

type participantRecord struct {
	Seq       int64     `gorm:"primaryKey;autoIncrement"`
	SessionID string    `gorm:"not null;uniqueIndex:idx_participants_session_user"`
	UserID    string    `gorm:"not null;uniqueIndex:idx_participants_session_user;index"`
	Status    string    `gorm:"not null"`
	JoinedAt  time.Time `gorm:"not null"`
}

func (participantRecord) TableName() string { return "participants" }

func newActivityRecord(a persistence.Activity) activityRecord {
	return activityRecord{
		ID:             a.ID,
		Name:           a.Name,
		Description:    a.Description,
		Sport:          string(a.Sport),
		MinPlayers:     a.MinPlayers,
		MaxPlayers:     a.MaxPlayers,
		RecurringType:  a.RecurringType,
		RecurringDays:  encodeWeekdays(a.RecurringDays),
		StartTime:      a.StartTime,
		CreatedBy:      a.CreatedBy,
		IsPublic:       a.IsPublic,
		JoinCodeDigest: digestPtr(a.JoinCodeDigest),
		CreatedAt:      a.CreatedAt.UTC(),
		UpdatedAt:      a.UpdatedAt.UTC(),
	}
}

func (r activityRecord) toDomain() persistence.Activity {
	a := persistence.Activity{
		ID:            r.ID,
		Name:          r.Name,
		Description:   r.Description,
		Sport:         persistence.Sport(r.Sport),
		MinPlayers:    r.MinPlayers,
		MaxPlayers:    r.MaxPlayers,
		RecurringType: r.RecurringType,
		RecurringDays: decodeWeekdays(r.RecurringDays),
		StartTime:     r.StartTime,
		CreatedBy:     r.CreatedBy,
		IsPublic:      r.IsPublic,
		CreatedAt:     r.CreatedAt.UTC(),
		UpdatedAt:     r.UpdatedAt.UTC(),
	}
	if r.JoinCodeDigest != nil {
		a.JoinCodeDigest = *r.JoinCodeDigest
	}
	return a
}

func newSessionRecord(s persistence.Session) sessionRecord {
	return sessionRecord{
		ID:          s.ID,
		ActivityID:  s.ActivityID,
		StartsAt:    s.StartsAt.UTC(),
		MaxPlayers:  s.MaxPlayers,
		IsCancelled: s.IsCancelled,
		CreatedAt:   s.CreatedAt.UTC(),
	}
}

func (r sessionRecord) toDomain() persistence.Session {
	return persistence.Session{
		ID:          r.ID,
		ActivityID:  r.ActivityID,
		StartsAt:    r.StartsAt.UTC(),
		MaxPlayers:  r.MaxPlayers,
		IsCancelled: r.IsCancelled,
		CreatedAt:   r.CreatedAt.UTC(),
	}
}

func (r participantRecord) toDomain() persistence.Participant {
	return persistence.Participant{
		Seq:       r.Seq,
		SessionID: r.SessionID,
		UserID:    r.UserID,
		Status:    persistence.ParticipantStatus(r.Status),
		JoinedAt:  r.JoinedAt.UTC(),
	}
}

func participantsToDomain(records []participantRecord) []persistence.Participant {
	if len(records) == 0 {
		return nil
	}
	out := make([]persistence.Participant, 0, len(records))
	for _, r := range records {
		out = append(out, r.toDomain())
	}
	return out
}

func digestPtr(digest string) *string {
	if digest == "" {
		return nil
	}
	return &digest
}

func encodeWeekdays(weekdays []time.Weekday) int64 {
	var mask int64
	for _, day := range weekdays {
		if day >= time.Sunday && day <= time.Saturday {
			mask |= 1 << uint(day)
		}
	}
	return mask
}

// decodeWeekdays returns the days in Monday-first order.
func decodeWeekdays(mask int64) []time.Weekday {
	var weekdays []time.Weekday
	for i := 1; i <= 7; i++ {
		day := time.Weekday(i % 7)
		if mask&(1<<uint(day)) != 0 {
			weekdays = append(weekdays, day)
		}
	}
	return weekdays
}
