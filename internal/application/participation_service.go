package application

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"strings"
	"time"

	"github.com/example/sport-scheduler/internal/persistence"
)

// ParticipationStore captures the persistence operations needed by the participation service.
type ParticipationStore interface {
	GetSession(ctx context.Context, id string) (persistence.Session, error)
	WithSessionLock(ctx context.Context, sessionID string, fn func(tx persistence.SessionTx) error) error
	ListParticipants(ctx context.Context, sessionID string) ([]persistence.Participant, error)
	ListParticipationsForUser(ctx context.Context, userID string) ([]persistence.Participant, error)
}

// ParticipationService enforces session capacity and waiting-list ordering.
// Every mutation runs inside the store's session lock.
type ParticipationService struct {
	store  ParticipationStore
	now    func() time.Time
	retry  RetryPolicy
	logger *slog.Logger
}

// ParticipationOption customises a ParticipationService.
type ParticipationOption func(*ParticipationService)

// WithRetryPolicy overrides the conflict retry policy.
func WithRetryPolicy(policy RetryPolicy) ParticipationOption {
	return func(s *ParticipationService) {
		s.retry = policy
	}
}

// NewParticipationService constructs a participation service with the provided dependencies.
func NewParticipationService(store ParticipationStore, now func() time.Time, opts ...ParticipationOption) *ParticipationService {
	return NewParticipationServiceWithLogger(store, now, nil, opts...)
}

// NewParticipationServiceWithLogger constructs a participation service with a specified logger.
func NewParticipationServiceWithLogger(store ParticipationStore, now func() time.Time, logger *slog.Logger, opts ...ParticipationOption) *ParticipationService {
	if now == nil {
		now = time.Now
	}
	s := &ParticipationService{store: store, now: now, retry: DefaultRetryPolicy(), logger: defaultLogger(logger)}
	for _, opt := range opts {
		opt(s)
	}
	return s
}

func (s *ParticipationService) loggerWith(ctx context.Context, operation string, attrs ...any) *slog.Logger {
	return serviceLogger(ctx, s.logger, "ParticipationService", operation, attrs...)
}

// JoinSession enrolls the user as confirmed when a slot is free and as waiting otherwise.
func (s *ParticipationService) JoinSession(ctx context.Context, sessionID, userID string) (participant persistence.Participant, err error) {
	if s == nil || s.store == nil {
		err = fmt.Errorf("ParticipationService is not configured")
		return
	}

	logger := s.loggerWith(ctx, "JoinSession", "session_id", sessionID, "user_id", userID)
	defer func() {
		if err != nil {
			logOutcome(ctx, logger, err, "failed to join session")
			return
		}
		logger.With("status", participant.Status, "seq", participant.Seq).InfoContext(ctx, "joined session")
	}()

	if strings.TrimSpace(userID) == "" {
		vErr := &ValidationError{}
		vErr.add("userId", "User is required")
		err = vErr
		return
	}

	err = s.retry.lockSession(ctx, s.store, sessionID, func(tx persistence.SessionTx) error {
		participant = persistence.Participant{}
		session := tx.Session()
		if session.IsCancelled {
			return ErrSessionCancelled
		}
		now := s.now()
		if session.StartsAt.Before(now) {
			return ErrSessionInPast
		}

		participants, err := tx.ListParticipants()
		if err != nil {
			return err
		}
		if _, ok := findParticipant(participants, userID); ok {
			return ErrAlreadyRegistered
		}

		status := persistence.StatusWaiting
		if confirmed, _ := persistence.CountByStatus(participants); confirmed < session.MaxPlayers {
			status = persistence.StatusConfirmed
		}

		inserted, err := tx.InsertParticipant(persistence.Participant{
			SessionID: session.ID,
			UserID:    userID,
			Status:    status,
			JoinedAt:  now,
		})
		if err != nil {
			return err
		}
		participant = inserted
		return nil
	})
	return
}

// LeaveSession removes the user's enrollment and promotes into the freed slot
// within the same transaction.
func (s *ParticipationService) LeaveSession(ctx context.Context, sessionID, userID string) (result LeaveResult, err error) {
	if s == nil || s.store == nil {
		err = fmt.Errorf("ParticipationService is not configured")
		return
	}

	logger := s.loggerWith(ctx, "LeaveSession", "session_id", sessionID, "user_id", userID)
	defer func() {
		if err != nil {
			logOutcome(ctx, logger, err, "failed to leave session")
			return
		}
		if result.Promoted != nil {
			logger = logger.With("promoted_user_id", result.Promoted.UserID)
		}
		logger.InfoContext(ctx, "left session")
	}()

	err = s.retry.lockSession(ctx, s.store, sessionID, func(tx persistence.SessionTx) error {
		result = LeaveResult{}
		participants, err := tx.ListParticipants()
		if err != nil {
			return err
		}
		if _, ok := findParticipant(participants, userID); !ok {
			return ErrNotRegistered
		}
		if err := tx.DeleteParticipant(userID); err != nil {
			return err
		}

		promoted, err := promoteWaiting(tx, 1)
		if err != nil {
			return err
		}
		if len(promoted) == 1 {
			result.Promoted = &promoted[0]
		}
		return nil
	})
	return
}

// PromoteFromWaitingList promotes the oldest waiting participant when a slot is free.
// It returns nil when nobody was promoted.
func (s *ParticipationService) PromoteFromWaitingList(ctx context.Context, sessionID string) (*persistence.Participant, error) {
	promoted, err := s.promote(ctx, "PromoteFromWaitingList", sessionID, 1)
	if err != nil || len(promoted) == 0 {
		return nil, err
	}
	return &promoted[0], nil
}

// ProcessInterestedParticipants fills every available slot from the waiting list.
func (s *ParticipationService) ProcessInterestedParticipants(ctx context.Context, sessionID string) ([]persistence.Participant, error) {
	return s.promote(ctx, "ProcessInterestedParticipants", sessionID, -1)
}

func (s *ParticipationService) promote(ctx context.Context, operation, sessionID string, limit int) (promoted []persistence.Participant, err error) {
	if s == nil || s.store == nil {
		err = fmt.Errorf("ParticipationService is not configured")
		return
	}

	logger := s.loggerWith(ctx, operation, "session_id", sessionID)
	defer func() {
		if err != nil {
			logOutcome(ctx, logger, err, "failed to promote participants")
			return
		}
		logger.With("promoted", len(promoted)).InfoContext(ctx, "waiting list processed")
	}()

	err = s.retry.lockSession(ctx, s.store, sessionID, func(tx persistence.SessionTx) error {
		var err error
		promoted, err = promoteWaiting(tx, limit)
		return err
	})
	return
}

// promoteWaiting confirms waiting participants in join order until the session
// is full or limit promotions were made. A negative limit means no limit.
func promoteWaiting(tx persistence.SessionTx, limit int) ([]persistence.Participant, error) {
	participants, err := tx.ListParticipants()
	if err != nil {
		return nil, err
	}
	confirmed, _ := persistence.CountByStatus(participants)
	available := tx.Session().MaxPlayers - confirmed
	if limit >= 0 && limit < available {
		available = limit
	}

	var promoted []persistence.Participant
	for _, p := range participants {
		if available <= 0 {
			break
		}
		if p.Status != persistence.StatusWaiting {
			continue
		}
		if err := tx.SetParticipantStatus(p.UserID, persistence.StatusConfirmed); err != nil {
			return nil, err
		}
		p.Status = persistence.StatusConfirmed
		promoted = append(promoted, p)
		available--
	}
	return promoted, nil
}

// GetSessionStats returns enrollment counts for the session.
func (s *ParticipationService) GetSessionStats(ctx context.Context, sessionID string) (SessionStats, error) {
	session, participants, err := s.load(ctx, sessionID)
	if err != nil {
		return SessionStats{}, err
	}
	return statsFor(session, participants), nil
}

// CanUserJoinSession is a dry run of JoinSession. Only an existing enrollment
// makes CanJoin false; the other join preconditions are reported by JoinSession itself.
func (s *ParticipationService) CanUserJoinSession(ctx context.Context, sessionID, userID string) (JoinEligibility, error) {
	session, participants, err := s.load(ctx, sessionID)
	if err != nil {
		return JoinEligibility{}, err
	}
	if existing, ok := findParticipant(participants, userID); ok {
		return JoinEligibility{CanJoin: false, Reason: fmt.Sprintf("already registered as %s", existing.Status)}, nil
	}
	confirmed, _ := persistence.CountByStatus(participants)
	return JoinEligibility{CanJoin: true, WouldBeWaiting: confirmed >= session.MaxPlayers}, nil
}

// GetUserParticipationStatus returns the user's participant row.
func (s *ParticipationService) GetUserParticipationStatus(ctx context.Context, sessionID, userID string) (persistence.Participant, error) {
	_, participants, err := s.load(ctx, sessionID)
	if err != nil {
		return persistence.Participant{}, err
	}
	participant, ok := findParticipant(participants, userID)
	if !ok {
		return persistence.Participant{}, ErrNotRegistered
	}
	return participant, nil
}

// ListParticipants returns the roster in waiting-list order.
func (s *ParticipationService) ListParticipants(ctx context.Context, sessionID string) ([]persistence.Participant, error) {
	_, participants, err := s.load(ctx, sessionID)
	return participants, err
}

// ListUserParticipations returns every enrollment of the user.
func (s *ParticipationService) ListUserParticipations(ctx context.Context, userID string) ([]persistence.Participant, error) {
	if s == nil || s.store == nil {
		return nil, fmt.Errorf("ParticipationService is not configured")
	}
	return s.store.ListParticipationsForUser(ctx, userID)
}

func (s *ParticipationService) load(ctx context.Context, sessionID string) (persistence.Session, []persistence.Participant, error) {
	if s == nil || s.store == nil {
		return persistence.Session{}, nil, fmt.Errorf("ParticipationService is not configured")
	}
	session, err := s.store.GetSession(ctx, sessionID)
	if err != nil {
		if errors.Is(err, persistence.ErrNotFound) {
			return persistence.Session{}, nil, ErrSessionNotFound
		}
		return persistence.Session{}, nil, err
	}
	participants, err := s.store.ListParticipants(ctx, sessionID)
	if err != nil {
		return persistence.Session{}, nil, err
	}
	return session, participants, nil
}

func findParticipant(participants []persistence.Participant, userID string) (persistence.Participant, bool) {
	for _, p := range participants {
		if p.UserID == userID {
			return p, true
		}
	}
	return persistence.Participant{}, false
}
