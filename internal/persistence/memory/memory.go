// Package memory provides an in-process persistence.Store used by tests and
// single-node development setups.
package memory

import (
	"context"
	"sort"
	"sync"
	"sync/atomic"
	"time"

	"github.com/example/sport-scheduler/internal/persistence"
)

// Storage keeps every record in maps guarded by a RWMutex. Writes to one
// session's participants are serialised through a per-session mutex and
// applied on commit.
type Storage struct {
	mu           sync.RWMutex
	activities   map[string]persistence.Activity
	sessions     map[string]persistence.Session
	participants map[string][]persistence.Participant
	locks        map[string]*sync.Mutex
	seq          atomic.Int64
}

var _ persistence.Store = (*Storage)(nil)

// New returns an empty Storage.
func New() *Storage {
	return &Storage{
		activities:   make(map[string]persistence.Activity),
		sessions:     make(map[string]persistence.Session),
		participants: make(map[string][]persistence.Participant),
		locks:        make(map[string]*sync.Mutex),
	}
}

// Close releases resources held by the storage. No-op for the in-memory implementation.
func (s *Storage) Close() error {
	return nil
}

// --- ActivityRepository implementation ---

// CreateActivity stores a new activity.
func (s *Storage) CreateActivity(ctx context.Context, activity persistence.Activity) error {
	if activity.ID == "" {
		return persistence.ErrConstraintViolation
	}

	s.mu.Lock()
	defer s.mu.Unlock()

	if _, ok := s.activities[activity.ID]; ok {
		return persistence.ErrDuplicate
	}
	if err := s.ensureUniqueJoinCodeLocked(activity.ID, activity.JoinCodeDigest); err != nil {
		return err
	}

	s.activities[activity.ID] = cloneActivity(activity)
	return nil
}

// GetActivity retrieves an activity by ID.
func (s *Storage) GetActivity(ctx context.Context, id string) (persistence.Activity, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	activity, ok := s.activities[id]
	if !ok {
		return persistence.Activity{}, persistence.ErrNotFound
	}
	return cloneActivity(activity), nil
}

// GetActivityByJoinCode retrieves an activity by its join code digest.
func (s *Storage) GetActivityByJoinCode(ctx context.Context, digest string) (persistence.Activity, error) {
	if digest == "" {
		return persistence.Activity{}, persistence.ErrNotFound
	}

	s.mu.RLock()
	defer s.mu.RUnlock()

	for _, activity := range s.activities {
		if activity.JoinCodeDigest == digest {
			return cloneActivity(activity), nil
		}
	}
	return persistence.Activity{}, persistence.ErrNotFound
}

// ListActivities returns matching activities ordered by CreatedAt ascending.
func (s *Storage) ListActivities(ctx context.Context, filter persistence.ActivityFilter) ([]persistence.Activity, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	activities := make([]persistence.Activity, 0, len(s.activities))
	for _, activity := range s.activities {
		if filter.Matches(activity) {
			activities = append(activities, cloneActivity(activity))
		}
	}

	sort.Slice(activities, func(i, j int) bool {
		if activities[i].CreatedAt.Equal(activities[j].CreatedAt) {
			return activities[i].ID < activities[j].ID
		}
		return activities[i].CreatedAt.Before(activities[j].CreatedAt)
	})
	return activities, nil
}

// UpdateJoinCode replaces the join code digest of an activity.
func (s *Storage) UpdateJoinCode(ctx context.Context, id, digest string, updatedAt time.Time) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	activity, ok := s.activities[id]
	if !ok {
		return persistence.ErrNotFound
	}
	if err := s.ensureUniqueJoinCodeLocked(id, digest); err != nil {
		return err
	}

	activity.JoinCodeDigest = digest
	activity.UpdatedAt = updatedAt
	s.activities[id] = activity
	return nil
}

// DeleteActivity removes an activity and cascades to its sessions and participants.
func (s *Storage) DeleteActivity(ctx context.Context, id string) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	if _, ok := s.activities[id]; !ok {
		return persistence.ErrNotFound
	}
	delete(s.activities, id)

	for sessionID, session := range s.sessions {
		if session.ActivityID != id {
			continue
		}
		delete(s.sessions, sessionID)
		delete(s.participants, sessionID)
		delete(s.locks, sessionID)
	}
	return nil
}

func (s *Storage) ensureUniqueJoinCodeLocked(id, digest string) error {
	if digest == "" {
		return nil
	}
	for existingID, activity := range s.activities {
		if existingID != id && activity.JoinCodeDigest == digest {
			return persistence.ErrDuplicate
		}
	}
	return nil
}

// --- SessionRepository implementation ---

// CreateSession stores a new session for an existing activity.
func (s *Storage) CreateSession(ctx context.Context, session persistence.Session) error {
	if session.ID == "" {
		return persistence.ErrConstraintViolation
	}

	s.mu.Lock()
	defer s.mu.Unlock()

	if _, ok := s.activities[session.ActivityID]; !ok {
		return persistence.ErrForeignKeyViolation
	}
	if _, ok := s.sessions[session.ID]; ok {
		return persistence.ErrDuplicate
	}
	for _, existing := range s.sessions {
		if existing.ActivityID == session.ActivityID && existing.StartsAt.Equal(session.StartsAt) {
			return persistence.ErrDuplicate
		}
	}

	s.sessions[session.ID] = session
	s.locks[session.ID] = &sync.Mutex{}
	return nil
}

// GetSession retrieves a session by ID.
func (s *Storage) GetSession(ctx context.Context, id string) (persistence.Session, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	session, ok := s.sessions[id]
	if !ok {
		return persistence.Session{}, persistence.ErrNotFound
	}
	return session, nil
}

// ListSessionsForActivity returns the activity's sessions ordered by StartsAt.
func (s *Storage) ListSessionsForActivity(ctx context.Context, activityID string) ([]persistence.Session, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	sessions := make([]persistence.Session, 0)
	for _, session := range s.sessions {
		if session.ActivityID == activityID {
			sessions = append(sessions, session)
		}
	}
	sort.Slice(sessions, func(i, j int) bool {
		return sessions[i].StartsAt.Before(sessions[j].StartsAt)
	})
	return sessions, nil
}

// WithSessionLock runs fn against a private copy of the session and commits it on success.
func (s *Storage) WithSessionLock(ctx context.Context, sessionID string, fn func(tx persistence.SessionTx) error) error {
	if err := ctx.Err(); err != nil {
		return err
	}
	lock, ok := s.sessionLock(sessionID)
	if !ok {
		return persistence.ErrNotFound
	}
	lock.Lock()
	defer lock.Unlock()

	if err := ctx.Err(); err != nil {
		return err
	}

	s.mu.RLock()
	session, ok := s.sessions[sessionID]
	participants := cloneParticipants(s.participants[sessionID])
	s.mu.RUnlock()
	if !ok {
		return persistence.ErrNotFound
	}

	tx := &sessionTx{storage: s, session: session, participants: participants}
	if err := fn(tx); err != nil {
		return err
	}

	s.mu.Lock()
	defer s.mu.Unlock()
	if _, ok := s.sessions[sessionID]; !ok {
		// The activity was deleted while the transaction ran.
		return persistence.ErrNotFound
	}
	s.sessions[sessionID] = tx.session
	s.participants[sessionID] = tx.participants
	return nil
}

// sessionLock returns the mutex created with the session. Unknown sessions have none.
func (s *Storage) sessionLock(sessionID string) (*sync.Mutex, bool) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	lock, ok := s.locks[sessionID]
	return lock, ok
}

// --- ParticipantRepository implementation ---

// ListParticipants returns the session's participants in waiting-list order.
func (s *Storage) ListParticipants(ctx context.Context, sessionID string) ([]persistence.Participant, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	participants := cloneParticipants(s.participants[sessionID])
	persistence.SortParticipants(participants)
	return participants, nil
}

// ListParticipationsForUser returns every enrollment of the user ordered by JoinedAt.
func (s *Storage) ListParticipationsForUser(ctx context.Context, userID string) ([]persistence.Participant, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	var out []persistence.Participant
	for _, participants := range s.participants {
		for _, p := range participants {
			if p.UserID == userID {
				out = append(out, p)
			}
		}
	}
	persistence.SortParticipants(out)
	return out, nil
}

type sessionTx struct {
	storage      *Storage
	session      persistence.Session
	participants []persistence.Participant
}

func (tx *sessionTx) Session() persistence.Session {
	return tx.session
}

func (tx *sessionTx) ListParticipants() ([]persistence.Participant, error) {
	out := cloneParticipants(tx.participants)
	persistence.SortParticipants(out)
	return out, nil
}

func (tx *sessionTx) InsertParticipant(p persistence.Participant) (persistence.Participant, error) {
	if tx.index(p.UserID) >= 0 {
		return persistence.Participant{}, persistence.ErrDuplicate
	}
	p.SessionID = tx.session.ID
	p.Seq = tx.storage.seq.Add(1)
	tx.participants = append(tx.participants, p)
	return p, nil
}

func (tx *sessionTx) DeleteParticipant(userID string) error {
	idx := tx.index(userID)
	if idx < 0 {
		return persistence.ErrNotFound
	}
	tx.participants = append(tx.participants[:idx:idx], tx.participants[idx+1:]...)
	return nil
}

func (tx *sessionTx) SetParticipantStatus(userID string, status persistence.ParticipantStatus) error {
	idx := tx.index(userID)
	if idx < 0 {
		return persistence.ErrNotFound
	}
	tx.participants[idx].Status = status
	return nil
}

func (tx *sessionTx) SetMaxPlayers(maxPlayers int) error {
	tx.session.MaxPlayers = maxPlayers
	return nil
}

func (tx *sessionTx) Cancel() error {
	tx.session.IsCancelled = true
	return nil
}

func (tx *sessionTx) index(userID string) int {
	for i, p := range tx.participants {
		if p.UserID == userID {
			return i
		}
	}
	return -1
}

func cloneActivity(a persistence.Activity) persistence.Activity {
	if a.RecurringDays != nil {
		a.RecurringDays = append([]time.Weekday(nil), a.RecurringDays...)
	}
	return a
}

func cloneParticipants(in []persistence.Participant) []persistence.Participant {
	if len(in) == 0 {
		return nil
	}
	return append([]persistence.Participant(nil), in...)
}
