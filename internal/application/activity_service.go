package application

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"strings"
	"sync"
	"time"
	"unicode/utf8"

	"golang.org/x/sync/errgroup"

	"github.com/example/sport-scheduler/internal/persistence"
	"github.com/example/sport-scheduler/internal/recurrence"
	"github.com/example/sport-scheduler/internal/scheduler"
)

const (
	maxNameLength        = 100
	maxDescriptionLength = 500
	joinCodeAttempts     = 3
)

// ActivityStore captures the persistence operations needed by the activity service.
type ActivityStore interface {
	persistence.ActivityRepository
	persistence.SessionRepository
	persistence.ParticipantRepository
}

// ActivityService manages activities and the sessions generated from them.
type ActivityService struct {
	store             ActivityStore
	validator         *scheduler.Validator
	engine            *recurrence.Engine
	codes             *JoinCodes
	idGenerator       func() string
	now               func() time.Time
	retry             RetryPolicy
	extendConcurrency int
	logger            *slog.Logger
}

// ActivityOption customises an ActivityService.
type ActivityOption func(*ActivityService)

// WithActivityRetryPolicy overrides the conflict retry policy used for session writes.
func WithActivityRetryPolicy(policy RetryPolicy) ActivityOption {
	return func(s *ActivityService) {
		s.retry = policy
	}
}

// WithExtendConcurrency bounds how many activities ExtendAllSessions processes at once.
func WithExtendConcurrency(n int) ActivityOption {
	return func(s *ActivityService) {
		if n > 0 {
			s.extendConcurrency = n
		}
	}
}

// NewActivityService constructs an activity service with the provided dependencies.
func NewActivityService(store ActivityStore, validator *scheduler.Validator, engine *recurrence.Engine, codes *JoinCodes, idGenerator func() string, now func() time.Time, opts ...ActivityOption) *ActivityService {
	return NewActivityServiceWithLogger(store, validator, engine, codes, idGenerator, now, nil, opts...)
}

// NewActivityServiceWithLogger constructs an activity service with a specified logger.
func NewActivityServiceWithLogger(store ActivityStore, validator *scheduler.Validator, engine *recurrence.Engine, codes *JoinCodes, idGenerator func() string, now func() time.Time, logger *slog.Logger, opts ...ActivityOption) *ActivityService {
	if idGenerator == nil {
		idGenerator = func() string { return "" }
	}
	if now == nil {
		now = time.Now
	}
	if validator == nil {
		validator = scheduler.NewValidator(scheduler.DefaultConstraints(), now, time.UTC)
	}
	if engine == nil {
		engine = recurrence.NewEngine(validator.Location(), now, validator.Constraints().MaxAdvance)
	}
	s := &ActivityService{
		store:             store,
		validator:         validator,
		engine:            engine,
		codes:             codes,
		idGenerator:       idGenerator,
		now:               now,
		retry:             DefaultRetryPolicy(),
		extendConcurrency: 4,
		logger:            defaultLogger(logger),
	}
	for _, opt := range opts {
		opt(s)
	}
	return s
}

func (s *ActivityService) loggerWith(ctx context.Context, operation string, attrs ...any) *slog.Logger {
	return serviceLogger(ctx, s.logger, "ActivityService", operation, attrs...)
}

func (s *ActivityService) ready() error {
	if s == nil || s.store == nil || s.codes == nil {
		return fmt.Errorf("ActivityService is not configured")
	}
	return nil
}

// CreateActivity validates input, stores the activity and generates its sessions
// on the booking horizon. The plain join code is only returned here. Once the
// activity is stored a failed session insert is logged and the sessions created
// so far are returned.
func (s *ActivityService) CreateActivity(ctx context.Context, params CreateActivityParams) (created ActivityCreated, err error) {
	if err = s.ready(); err != nil {
		return
	}

	logger := s.loggerWith(ctx, "CreateActivity", "principal_id", params.Principal.UserID)
	defer func() {
		if err != nil {
			logOutcome(ctx, logger, err, "failed to create activity")
			return
		}
		logger.With("activity_id", created.Activity.ID, "sessions", len(created.Sessions)).InfoContext(ctx, "activity created")
	}()

	if params.Principal.UserID == "" {
		err = ErrUnauthorized
		return
	}

	if vErr := s.validateActivityInput(params.Input); vErr.HasErrors() {
		err = vErr
		return
	}

	now := s.now()
	activity := persistence.Activity{
		ID:            s.idGenerator(),
		Name:          strings.TrimSpace(params.Input.Name),
		Description:   strings.TrimSpace(params.Input.Description),
		Sport:         persistence.Sport(strings.ToLower(strings.TrimSpace(params.Input.Sport))),
		MinPlayers:    params.Input.MinPlayers,
		MaxPlayers:    params.Input.MaxPlayers,
		RecurringType: strings.ToLower(strings.TrimSpace(params.Input.RecurringType)),
		RecurringDays: normalizeWeekdays(params.Input.RecurringDays),
		StartTime:     mustTimeOfDay(params.Input.StartTime).String(),
		CreatedBy:     params.Principal.UserID,
		IsPublic:      params.Input.IsPublic,
		CreatedAt:     now,
		UpdatedAt:     now,
	}

	var code string
	for attempt := 0; attempt < joinCodeAttempts; attempt++ {
		var digest string
		code, digest, err = s.codes.Generate()
		if err != nil {
			return
		}
		activity.JoinCodeDigest = digest
		err = s.store.CreateActivity(ctx, activity)
		if !errors.Is(err, persistence.ErrDuplicate) {
			break
		}
	}
	if err != nil {
		err = mapActivityRepoError(err)
		return
	}

	// The activity is stored, so a session failure must not hide the join code.
	// ExtendAllSessions creates whatever is missing on its next run.
	sessions, extendErr := s.extend(ctx, activity, now)
	if extendErr != nil {
		logger.With("activity_id", activity.ID, "sessions", len(sessions), "error", extendErr, "error_kind", ErrorKind(extendErr)).
			WarnContext(ctx, "initial session generation incomplete")
	}

	created = ActivityCreated{Activity: activity, JoinCode: code, Sessions: sessions}
	return
}

func (s *ActivityService) validateActivityInput(input ActivityInput) *ValidationError {
	vErr := &ValidationError{}
	constraints := s.validator.Constraints()

	name := strings.TrimSpace(input.Name)
	switch {
	case name == "":
		vErr.add("name", "Name is required")
	case utf8.RuneCountInString(name) > maxNameLength:
		vErr.add("name", fmt.Sprintf("Name must be at most %d characters", maxNameLength))
	}
	if utf8.RuneCountInString(strings.TrimSpace(input.Description)) > maxDescriptionLength {
		vErr.add("description", fmt.Sprintf("Description must be at most %d characters", maxDescriptionLength))
	}
	if !persistence.Sport(strings.ToLower(strings.TrimSpace(input.Sport))).Valid() {
		vErr.add("sport", "Sport is not supported")
	}

	if input.MinPlayers < constraints.MinPlayers {
		vErr.add("minPlayers", fmt.Sprintf("Minimum players must be at least %d", constraints.MinPlayers))
	}
	if input.MaxPlayers < constraints.MinPlayers {
		vErr.add("maxPlayers", fmt.Sprintf("Maximum players must be at least %d", constraints.MinPlayers))
	} else if input.MaxPlayers > constraints.MaxPlayers {
		vErr.add("maxPlayers", fmt.Sprintf("Maximum players cannot exceed %d", constraints.MaxPlayers))
	}
	if input.MinPlayers > input.MaxPlayers {
		vErr.add("minPlayers", "Minimum players cannot be greater than maximum players")
	}

	if _, err := recurrence.ParsePattern(input.RecurringType); err != nil {
		vErr.add("recurringType", "Recurring type must be weekly or monthly")
	}
	if len(input.RecurringDays) == 0 {
		vErr.add("recurringDays", "At least one day must be selected")
	}
	for _, day := range input.RecurringDays {
		if !constraints.AllowsWeekday(day) {
			vErr.add("recurringDays", "Matches can only be scheduled Monday through Friday")
			break
		}
	}

	if !s.validator.IsValidMatchTime(input.StartTime) {
		slots := s.validator.AvailableTimeSlots()
		vErr.add("startTime", fmt.Sprintf("Start time must be one of %s", strings.Join(slots, ", ")))
	}
	return vErr
}

// GetActivity returns an activity by ID.
func (s *ActivityService) GetActivity(ctx context.Context, id string) (persistence.Activity, error) {
	if err := s.ready(); err != nil {
		return persistence.Activity{}, err
	}
	activity, err := s.store.GetActivity(ctx, id)
	if err != nil {
		return persistence.Activity{}, mapActivityRepoError(err)
	}
	return activity, nil
}

// GetVisibleActivity returns the activity when it is public, owned by the
// principal or the principal is an admin. Hidden activities report ErrNotFound.
func (s *ActivityService) GetVisibleActivity(ctx context.Context, principal Principal, id string) (persistence.Activity, error) {
	activity, err := s.GetActivity(ctx, id)
	if err != nil {
		return persistence.Activity{}, err
	}
	if !activity.IsPublic && activity.CreatedBy != principal.UserID && !principal.IsAdmin {
		return persistence.Activity{}, ErrNotFound
	}
	return activity, nil
}

// ListActivities returns the activities visible to the principal.
func (s *ActivityService) ListActivities(ctx context.Context, principal Principal, filter ActivityListFilter) ([]persistence.Activity, error) {
	if err := s.ready(); err != nil {
		return nil, err
	}
	query := persistence.ActivityFilter{Sport: persistence.Sport(strings.ToLower(strings.TrimSpace(filter.Sport)))}
	if filter.Mine {
		query.CreatedBy = principal.UserID
	}
	if !principal.IsAdmin {
		query.VisibleTo = principal.UserID
	}
	activities, err := s.store.ListActivities(ctx, query)
	if err != nil {
		return nil, mapActivityRepoError(err)
	}
	return activities, nil
}

// FindActivityByJoinCode resolves a join code to its activity, including private ones.
func (s *ActivityService) FindActivityByJoinCode(ctx context.Context, code string) (persistence.Activity, error) {
	if err := s.ready(); err != nil {
		return persistence.Activity{}, err
	}
	digest, err := s.codes.Digest(code)
	if err != nil {
		return persistence.Activity{}, err
	}
	activity, err := s.store.GetActivityByJoinCode(ctx, digest)
	if err != nil {
		return persistence.Activity{}, mapActivityRepoError(err)
	}
	return activity, nil
}

// RotateJoinCode issues a new join code for the activity owner.
func (s *ActivityService) RotateJoinCode(ctx context.Context, principal Principal, activityID string) (code string, err error) {
	if err = s.ready(); err != nil {
		return
	}

	logger := s.loggerWith(ctx, "RotateJoinCode", "principal_id", principal.UserID, "activity_id", activityID)
	defer func() {
		if err != nil {
			logOutcome(ctx, logger, err, "failed to rotate join code")
			return
		}
		logger.InfoContext(ctx, "join code rotated")
	}()

	if _, err = s.ownedActivity(ctx, principal, activityID); err != nil {
		return
	}

	for attempt := 0; attempt < joinCodeAttempts; attempt++ {
		var digest string
		code, digest, err = s.codes.Generate()
		if err != nil {
			return
		}
		err = s.store.UpdateJoinCode(ctx, activityID, digest, s.now())
		if !errors.Is(err, persistence.ErrDuplicate) {
			break
		}
	}
	if err != nil {
		code = ""
		err = mapActivityRepoError(err)
	}
	return
}

// DeleteActivity removes an activity and everything generated from it. Only the
// creator may delete.
func (s *ActivityService) DeleteActivity(ctx context.Context, principal Principal, activityID string) (err error) {
	if err = s.ready(); err != nil {
		return
	}

	logger := s.loggerWith(ctx, "DeleteActivity", "principal_id", principal.UserID, "activity_id", activityID)
	defer func() {
		if err != nil {
			logOutcome(ctx, logger, err, "failed to delete activity")
			return
		}
		logger.InfoContext(ctx, "activity deleted")
	}()

	activity, err := s.store.GetActivity(ctx, activityID)
	if err != nil {
		return mapActivityRepoError(err)
	}
	if activity.CreatedBy != principal.UserID {
		return ErrUnauthorized
	}
	if err = s.store.DeleteActivity(ctx, activityID); err != nil {
		return mapActivityRepoError(err)
	}
	return nil
}

// ListSessions returns the activity's sessions with their stats and derived status.
func (s *ActivityService) ListSessions(ctx context.Context, activityID string) ([]SessionView, error) {
	if err := s.ready(); err != nil {
		return nil, err
	}
	if _, err := s.store.GetActivity(ctx, activityID); err != nil {
		return nil, mapActivityRepoError(err)
	}
	sessions, err := s.store.ListSessionsForActivity(ctx, activityID)
	if err != nil {
		return nil, err
	}

	now := s.now()
	views := make([]SessionView, 0, len(sessions))
	for _, session := range sessions {
		view, err := s.viewOf(ctx, session, now)
		if err != nil {
			return nil, err
		}
		views = append(views, view)
	}
	return views, nil
}

// GetSession returns one session with its stats and derived status.
func (s *ActivityService) GetSession(ctx context.Context, sessionID string) (SessionView, error) {
	if err := s.ready(); err != nil {
		return SessionView{}, err
	}
	session, err := s.store.GetSession(ctx, sessionID)
	if err != nil {
		return SessionView{}, mapSessionRepoError(err)
	}
	return s.viewOf(ctx, session, s.now())
}

func (s *ActivityService) viewOf(ctx context.Context, session persistence.Session, now time.Time) (SessionView, error) {
	participants, err := s.store.ListParticipants(ctx, session.ID)
	if err != nil {
		return SessionView{}, err
	}
	stats := statsFor(session, participants)
	return SessionView{
		Session: session,
		Stats:   stats,
		Status:  DeriveSessionStatus(session, stats.ConfirmedCount, now),
	}, nil
}

// CancelSession soft-cancels a session. Only the activity owner may cancel.
func (s *ActivityService) CancelSession(ctx context.Context, principal Principal, sessionID string) (session persistence.Session, err error) {
	if err = s.ready(); err != nil {
		return
	}

	logger := s.loggerWith(ctx, "CancelSession", "principal_id", principal.UserID, "session_id", sessionID)
	defer func() {
		if err != nil {
			logOutcome(ctx, logger, err, "failed to cancel session")
			return
		}
		logger.InfoContext(ctx, "session cancelled")
	}()

	if err = s.authorizeSessionOwner(ctx, principal, sessionID); err != nil {
		return
	}

	err = s.retry.lockSession(ctx, s.store, sessionID, func(tx persistence.SessionTx) error {
		if !tx.Session().IsCancelled {
			if err := tx.Cancel(); err != nil {
				return err
			}
		}
		session = tx.Session()
		return nil
	})
	return
}

// UpdateSessionCapacity overrides a session's capacity and fills any new slots
// from the waiting list. The capacity never drops below the confirmed count.
func (s *ActivityService) UpdateSessionCapacity(ctx context.Context, principal Principal, sessionID string, maxPlayers int) (update CapacityUpdate, err error) {
	if err = s.ready(); err != nil {
		return
	}

	logger := s.loggerWith(ctx, "UpdateSessionCapacity", "principal_id", principal.UserID, "session_id", sessionID, "max_players", maxPlayers)
	defer func() {
		if err != nil {
			logOutcome(ctx, logger, err, "failed to update session capacity")
			return
		}
		logger.With("promoted", len(update.Promoted)).InfoContext(ctx, "session capacity updated")
	}()

	constraints := s.validator.Constraints()
	if maxPlayers < constraints.MinPlayers || maxPlayers > constraints.MaxPlayers {
		vErr := &ValidationError{}
		vErr.add("maxPlayers", fmt.Sprintf("Maximum players must be between %d and %d", constraints.MinPlayers, constraints.MaxPlayers))
		err = vErr
		return
	}

	if err = s.authorizeSessionOwner(ctx, principal, sessionID); err != nil {
		return
	}

	err = s.retry.lockSession(ctx, s.store, sessionID, func(tx persistence.SessionTx) error {
		update = CapacityUpdate{}
		participants, err := tx.ListParticipants()
		if err != nil {
			return err
		}
		if confirmed, _ := persistence.CountByStatus(participants); maxPlayers < confirmed {
			vErr := &ValidationError{}
			vErr.add("maxPlayers", fmt.Sprintf("Maximum players cannot be lower than the %d confirmed participants", confirmed))
			return vErr
		}
		if err := tx.SetMaxPlayers(maxPlayers); err != nil {
			return err
		}
		promoted, err := promoteWaiting(tx, -1)
		if err != nil {
			return err
		}
		update = CapacityUpdate{Session: tx.Session(), Promoted: promoted}
		return nil
	})
	return
}

// ExtendSessions creates any sessions of the activity that entered the booking
// horizon since the last run.
func (s *ActivityService) ExtendSessions(ctx context.Context, activityID string) ([]persistence.Session, error) {
	if err := s.ready(); err != nil {
		return nil, err
	}
	activity, err := s.store.GetActivity(ctx, activityID)
	if err != nil {
		return nil, mapActivityRepoError(err)
	}
	return s.extend(ctx, activity, s.now())
}

// ExtendOwnedSessions is ExtendSessions restricted to the activity owner or an admin.
func (s *ActivityService) ExtendOwnedSessions(ctx context.Context, principal Principal, activityID string) (created []persistence.Session, err error) {
	if err = s.ready(); err != nil {
		return
	}

	logger := s.loggerWith(ctx, "ExtendOwnedSessions", "principal_id", principal.UserID, "activity_id", activityID)
	defer func() {
		if err != nil {
			logOutcome(ctx, logger, err, "failed to extend sessions")
			return
		}
		logger.With("created", len(created)).InfoContext(ctx, "sessions extended")
	}()

	activity, err := s.ownedActivity(ctx, principal, activityID)
	if err != nil {
		return nil, err
	}
	return s.extend(ctx, activity, s.now())
}

// ExtendAllSessions runs ExtendSessions for every activity with bounded concurrency.
// Failures are counted and logged rather than aborting the run.
func (s *ActivityService) ExtendAllSessions(ctx context.Context) (summary ExtendSummary, err error) {
	if err = s.ready(); err != nil {
		return
	}

	logger := s.loggerWith(ctx, "ExtendAllSessions")
	defer func() {
		if err != nil {
			logOutcome(ctx, logger, err, "failed to extend sessions")
			return
		}
		logger.With("activities", summary.Activities, "created", summary.Created, "failed", summary.Failed).InfoContext(ctx, "sessions extended")
	}()

	activities, err := s.store.ListActivities(ctx, persistence.ActivityFilter{})
	if err != nil {
		return summary, mapActivityRepoError(err)
	}

	reference := s.now()
	var mu sync.Mutex
	g, gctx := errgroup.WithContext(ctx)
	g.SetLimit(s.extendConcurrency)
	for _, activity := range activities {
		activity := activity
		g.Go(func() error {
			created, err := s.extend(gctx, activity, reference)
			mu.Lock()
			defer mu.Unlock()
			if err != nil {
				if ctxErr := gctx.Err(); ctxErr != nil {
					return ctxErr
				}
				summary.Failed++
				logger.WarnContext(gctx, "failed to extend activity", "activity_id", activity.ID, "error", err)
				return nil
			}
			summary.Created += len(created)
			return nil
		})
	}
	err = g.Wait()
	summary.Activities = len(activities)
	return
}

// extend creates the sessions of activity between reference and the horizon
// that pass the booking rules. Existing sessions are skipped.
func (s *ActivityService) extend(ctx context.Context, activity persistence.Activity, reference time.Time) ([]persistence.Session, error) {
	rule, err := ruleFor(activity)
	if err != nil {
		return nil, err
	}
	candidates, err := s.engine.ExpandActivity(rule, reference)
	if err != nil {
		return nil, err
	}

	var created []persistence.Session
	for _, startsAt := range candidates {
		if !s.validator.IsValidMatchDate(startsAt, reference) {
			continue
		}
		session := persistence.Session{
			ID:         s.idGenerator(),
			ActivityID: activity.ID,
			StartsAt:   startsAt,
			MaxPlayers: activity.MaxPlayers,
			CreatedAt:  reference,
		}
		if err := s.store.CreateSession(ctx, session); err != nil {
			if errors.Is(err, persistence.ErrDuplicate) {
				continue
			}
			return created, fmt.Errorf("create session for activity %s: %w", activity.ID, err)
		}
		created = append(created, session)
	}
	return created, nil
}

func (s *ActivityService) ownedActivity(ctx context.Context, principal Principal, activityID string) (persistence.Activity, error) {
	activity, err := s.store.GetActivity(ctx, activityID)
	if err != nil {
		return persistence.Activity{}, mapActivityRepoError(err)
	}
	if activity.CreatedBy != principal.UserID && !principal.IsAdmin {
		return persistence.Activity{}, ErrUnauthorized
	}
	return activity, nil
}

func (s *ActivityService) authorizeSessionOwner(ctx context.Context, principal Principal, sessionID string) error {
	session, err := s.store.GetSession(ctx, sessionID)
	if err != nil {
		return mapSessionRepoError(err)
	}
	_, err = s.ownedActivity(ctx, principal, session.ActivityID)
	return err
}

func ruleFor(activity persistence.Activity) (recurrence.ActivityRule, error) {
	pattern, err := recurrence.ParsePattern(activity.RecurringType)
	if err != nil {
		return recurrence.ActivityRule{}, err
	}
	startTime, err := scheduler.ParseTimeOfDay(activity.StartTime)
	if err != nil {
		return recurrence.ActivityRule{}, err
	}
	return recurrence.ActivityRule{Pattern: pattern, Weekdays: activity.RecurringDays, StartTime: startTime}, nil
}

func normalizeWeekdays(days []time.Weekday) []time.Weekday {
	seen := make(map[time.Weekday]bool, len(days))
	out := make([]time.Weekday, 0, len(days))
	for day := time.Sunday; day <= time.Saturday; day++ {
		for _, d := range days {
			if d == day && !seen[day] {
				seen[day] = true
				out = append(out, day)
			}
		}
	}
	return out
}

// mustTimeOfDay is only called after validation accepted value.
func mustTimeOfDay(value string) scheduler.TimeOfDay {
	tod, _ := scheduler.ParseTimeOfDay(value)
	return tod
}

func mapActivityRepoError(err error) error {
	switch {
	case err == nil:
		return nil
	case errors.Is(err, persistence.ErrNotFound):
		return ErrNotFound
	default:
		return err
	}
}
