package persistence

import (
	"context"
	"time"
)

// ActivityRepository stores activity templates.
type ActivityRepository interface {
	CreateActivity(ctx context.Context, activity Activity) error
	GetActivity(ctx context.Context, id string) (Activity, error)
	GetActivityByJoinCode(ctx context.Context, digest string) (Activity, error)
	ListActivities(ctx context.Context, filter ActivityFilter) ([]Activity, error)
	UpdateJoinCode(ctx context.Context, id, digest string, updatedAt time.Time) error
	// DeleteActivity removes the activity with its sessions and their participants.
	DeleteActivity(ctx context.Context, id string) error
}

// SessionRepository stores sessions and serialises writes to a session's participant set.
type SessionRepository interface {
	// CreateSession returns ErrDuplicate when the activity already has a session at StartsAt.
	CreateSession(ctx context.Context, session Session) error
	GetSession(ctx context.Context, id string) (Session, error)
	ListSessionsForActivity(ctx context.Context, activityID string) ([]Session, error)
	// WithSessionLock runs fn in a transaction holding an exclusive lock on the
	// session. Changes made through the SessionTx are committed only when fn
	// returns nil. It returns ErrNotFound when the session does not exist.
	WithSessionLock(ctx context.Context, sessionID string, fn func(tx SessionTx) error) error
}

// ParticipantRepository offers lock-free reads of participants.
type ParticipantRepository interface {
	// ListParticipants returns participants ordered by JoinedAt then Seq.
	ListParticipants(ctx context.Context, sessionID string) ([]Participant, error)
	ListParticipationsForUser(ctx context.Context, userID string) ([]Participant, error)
}

// SessionTx is the view of one locked session inside WithSessionLock.
type SessionTx interface {
	Session() Session
	// ListParticipants returns participants ordered by JoinedAt then Seq.
	ListParticipants() ([]Participant, error)
	// InsertParticipant stores p and returns it with Seq assigned. It returns
	// ErrDuplicate when the user is already enrolled.
	InsertParticipant(p Participant) (Participant, error)
	// DeleteParticipant returns ErrNotFound when the user is not enrolled.
	DeleteParticipant(userID string) error
	SetParticipantStatus(userID string, status ParticipantStatus) error
	SetMaxPlayers(maxPlayers int) error
	Cancel() error
}

// Store bundles every repository a backend provides.
type Store interface {
	ActivityRepository
	SessionRepository
	ParticipantRepository
	Close() error
}
