// Package postgres implements persistence.Store on PostgreSQL through GORM
// and the pgx driver.
package postgres

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"strings"
	"time"

	"github.com/jackc/pgx/v5/pgconn"
	gormpostgres "gorm.io/driver/postgres"
	"gorm.io/gorm"
	"gorm.io/gorm/clause"
	gormlogger "gorm.io/gorm/logger"

	"github.com/example/sport-scheduler/internal/persistence"
)

// Config describes how to connect to PostgreSQL.
type Config struct {
	DSN           string
	MaxOpenConns  int
	SlowThreshold time.Duration
	Logger        *slog.Logger
}

// Storage is the PostgreSQL-backed persistence.Store.
type Storage struct {
	db     *gorm.DB
	logger *slog.Logger
}

var _ persistence.Store = (*Storage)(nil)

// Open connects to PostgreSQL. Call Migrate before use.
func Open(ctx context.Context, cfg Config) (*Storage, error) {
	if strings.TrimSpace(cfg.DSN) == "" {
		return nil, errors.New("postgres: DSN is required")
	}
	logger := cfg.Logger
	if logger == nil {
		logger = slog.Default()
	}
	logger = logger.With("component", "postgres")
	if cfg.SlowThreshold <= 0 {
		cfg.SlowThreshold = 200 * time.Millisecond
	}

	db, err := gorm.Open(gormpostgres.Open(cfg.DSN), &gorm.Config{
		Logger: gormlogger.New(
			slog.NewLogLogger(logger.Handler(), slog.LevelWarn),
			gormlogger.Config{
				SlowThreshold:             cfg.SlowThreshold,
				LogLevel:                  gormlogger.Warn,
				IgnoreRecordNotFoundError: true,
			},
		),
	})
	if err != nil {
		return nil, fmt.Errorf("postgres: open: %w", err)
	}

	sqlDB, err := db.DB()
	if err != nil {
		return nil, fmt.Errorf("postgres: pool: %w", err)
	}
	if cfg.MaxOpenConns > 0 {
		sqlDB.SetMaxOpenConns(cfg.MaxOpenConns)
	}
	if err := sqlDB.PingContext(ctx); err != nil {
		_ = sqlDB.Close()
		return nil, fmt.Errorf("postgres: ping: %w", err)
	}

	return &Storage{db: db, logger: logger}, nil
}

// Migrate creates or updates the schema.
func (s *Storage) Migrate(ctx context.Context) error {
	if err := s.db.WithContext(ctx).AutoMigrate(&activityRecord{}, &sessionRecord{}, &participantRecord{}); err != nil {
		return fmt.Errorf("postgres: migrate: %w", err)
	}
	s.logger.InfoContext(ctx, "schema migrated")
	return nil
}

// Close closes the connection pool.
func (s *Storage) Close() error {
	sqlDB, err := s.db.DB()
	if err != nil {
		return err
	}
	return sqlDB.Close()
}

// --- ActivityRepository implementation ---

// CreateActivity inserts a new activity.
func (s *Storage) CreateActivity(ctx context.Context, activity persistence.Activity) error {
	if activity.ID == "" {
		return persistence.ErrConstraintViolation
	}
	record := newActivityRecord(activity)
	return mapError(s.db.WithContext(ctx).Omit(clause.Associations).Create(&record).Error)
}

// GetActivity retrieves an activity by ID.
func (s *Storage) GetActivity(ctx context.Context, id string) (persistence.Activity, error) {
	var record activityRecord
	if err := s.db.WithContext(ctx).First(&record, "id = ?", id).Error; err != nil {
		return persistence.Activity{}, mapError(err)
	}
	return record.toDomain(), nil
}

// GetActivityByJoinCode retrieves an activity by its join code digest.
func (s *Storage) GetActivityByJoinCode(ctx context.Context, digest string) (persistence.Activity, error) {
	if digest == "" {
		return persistence.Activity{}, persistence.ErrNotFound
	}
	var record activityRecord
	if err := s.db.WithContext(ctx).First(&record, "join_code_digest = ?", digest).Error; err != nil {
		return persistence.Activity{}, mapError(err)
	}
	return record.toDomain(), nil
}

// ListActivities returns matching activities ordered by creation time.
func (s *Storage) ListActivities(ctx context.Context, filter persistence.ActivityFilter) ([]persistence.Activity, error) {
	query := s.db.WithContext(ctx).Model(&activityRecord{})
	if filter.Sport != "" {
		query = query.Where("sport = ?", string(filter.Sport))
	}
	if filter.CreatedBy != "" {
		query = query.Where("created_by = ?", filter.CreatedBy)
	}
	if filter.VisibleTo != "" {
		query = query.Where("is_public = ? OR created_by = ?", true, filter.VisibleTo)
	}

	var records []activityRecord
	if err := query.Order("created_at, id").Find(&records).Error; err != nil {
		return nil, mapError(err)
	}
	activities := make([]persistence.Activity, 0, len(records))
	for _, record := range records {
		activities = append(activities, record.toDomain())
	}
	return activities, nil
}

// UpdateJoinCode replaces the join code digest of an activity.
func (s *Storage) UpdateJoinCode(ctx context.Context, id, digest string, updatedAt time.Time) error {
	result := s.db.WithContext(ctx).Model(&activityRecord{}).Where("id = ?", id).Updates(map[string]any{
		"join_code_digest": digestPtr(digest),
		"updated_at":       updatedAt.UTC(),
	})
	return affected(result)
}

// DeleteActivity removes an activity. Sessions and participants cascade.
func (s *Storage) DeleteActivity(ctx context.Context, id string) error {
	return affected(s.db.WithContext(ctx).Delete(&activityRecord{}, "id = ?", id))
}

// --- SessionRepository implementation ---

// CreateSession inserts a session for an existing activity.
func (s *Storage) CreateSession(ctx context.Context, session persistence.Session) error {
	if session.ID == "" {
		return persistence.ErrConstraintViolation
	}
	record := newSessionRecord(session)
	return mapError(s.db.WithContext(ctx).Omit(clause.Associations).Create(&record).Error)
}

// GetSession retrieves a session by ID.
func (s *Storage) GetSession(ctx context.Context, id string) (persistence.Session, error) {
	var record sessionRecord
	if err := s.db.WithContext(ctx).First(&record, "id = ?", id).Error; err != nil {
		return persistence.Session{}, mapError(err)
	}
	return record.toDomain(), nil
}

// ListSessionsForActivity returns the activity's sessions ordered by start.
func (s *Storage) ListSessionsForActivity(ctx context.Context, activityID string) ([]persistence.Session, error) {
	var records []sessionRecord
	if err := s.db.WithContext(ctx).Where("activity_id = ?", activityID).Order("starts_at").Find(&records).Error; err != nil {
		return nil, mapError(err)
	}
	sessions := make([]persistence.Session, 0, len(records))
	for _, record := range records {
		sessions = append(sessions, record.toDomain())
	}
	return sessions, nil
}

// WithSessionLock runs fn in a transaction holding SELECT ... FOR UPDATE on the session row.
func (s *Storage) WithSessionLock(ctx context.Context, sessionID string, fn func(tx persistence.SessionTx) error) error {
	err := s.db.WithContext(ctx).Transaction(func(tx *gorm.DB) error {
		var record sessionRecord
		if err := tx.Clauses(clause.Locking{Strength: "UPDATE"}).First(&record, "id = ?", sessionID).Error; err != nil {
			return mapError(err)
		}
		return fn(&sessionTx{db: tx, session: record.toDomain()})
	})
	return mapError(err)
}

// --- ParticipantRepository implementation ---

// ListParticipants returns the session's participants in waiting-list order.
func (s *Storage) ListParticipants(ctx context.Context, sessionID string) ([]persistence.Participant, error) {
	var records []participantRecord
	if err := s.db.WithContext(ctx).Where("session_id = ?", sessionID).Order("joined_at, seq").Find(&records).Error; err != nil {
		return nil, mapError(err)
	}
	return participantsToDomain(records), nil
}

// ListParticipationsForUser returns every enrollment of the user ordered by join time.
func (s *Storage) ListParticipationsForUser(ctx context.Context, userID string) ([]persistence.Participant, error) {
	var records []participantRecord
	if err := s.db.WithContext(ctx).Where("user_id = ?", userID).Order("joined_at, seq").Find(&records).Error; err != nil {
		return nil, mapError(err)
	}
	return participantsToDomain(records), nil
}

type sessionTx struct {
	db      *gorm.DB
	session persistence.Session
}

func (t *sessionTx) Session() persistence.Session {
	return t.session
}

func (t *sessionTx) ListParticipants() ([]persistence.Participant, error) {
	var records []participantRecord
	if err := t.db.Where("session_id = ?", t.session.ID).Order("joined_at, seq").Find(&records).Error; err != nil {
		return nil, mapError(err)
	}
	return participantsToDomain(records), nil
}

// InsertParticipant uses ON CONFLICT DO NOTHING so a duplicate does not abort
// the surrounding transaction.
func (t *sessionTx) InsertParticipant(p persistence.Participant) (persistence.Participant, error) {
	record := participantRecord{
		SessionID: t.session.ID,
		UserID:    p.UserID,
		Status:    string(p.Status),
		JoinedAt:  p.JoinedAt.UTC(),
	}
	result := t.db.Clauses(clause.OnConflict{DoNothing: true}).Create(&record)
	if result.Error != nil {
		return persistence.Participant{}, mapError(result.Error)
	}
	if result.RowsAffected == 0 {
		return persistence.Participant{}, persistence.ErrDuplicate
	}
	p.SessionID = t.session.ID
	p.Seq = record.Seq
	return p, nil
}

func (t *sessionTx) DeleteParticipant(userID string) error {
	return affected(t.db.Where("session_id = ? AND user_id = ?", t.session.ID, userID).Delete(&participantRecord{}))
}

func (t *sessionTx) SetParticipantStatus(userID string, status persistence.ParticipantStatus) error {
	return affected(t.db.Model(&participantRecord{}).
		Where("session_id = ? AND user_id = ?", t.session.ID, userID).
		Update("status", string(status)))
}

func (t *sessionTx) SetMaxPlayers(maxPlayers int) error {
	if err := t.db.Model(&sessionRecord{}).Where("id = ?", t.session.ID).Update("max_players", maxPlayers).Error; err != nil {
		return mapError(err)
	}
	t.session.MaxPlayers = maxPlayers
	return nil
}

func (t *sessionTx) Cancel() error {
	if err := t.db.Model(&sessionRecord{}).Where("id = ?", t.session.ID).Update("is_cancelled", true).Error; err != nil {
		return mapError(err)
	}
	t.session.IsCancelled = true
	return nil
}

func affected(result *gorm.DB) error {
	if result.Error != nil {
		return mapError(result.Error)
	}
	if result.RowsAffected == 0 {
		return persistence.ErrNotFound
	}
	return nil
}

// mapError translates GORM and PostgreSQL errors into persistence sentinels.
func mapError(err error) error {
	if err == nil {
		return nil
	}
	if errors.Is(err, gorm.ErrRecordNotFound) {
		return persistence.ErrNotFound
	}
	if isSentinel(err) {
		return err
	}

	var pgErr *pgconn.PgError
	if !errors.As(err, &pgErr) {
		return err
	}
	switch pgErr.Code {
	case "23505":
		return fmt.Errorf("%w: %v", persistence.ErrDuplicate, err)
	case "23503":
		return fmt.Errorf("%w: %v", persistence.ErrForeignKeyViolation, err)
	case "23502", "23514":
		return fmt.Errorf("%w: %v", persistence.ErrConstraintViolation, err)
	case "40001", "40P01", "55P03":
		return fmt.Errorf("%w: %v", persistence.ErrConflict, err)
	}
	return err
}

func isSentinel(err error) bool {
	for _, sentinel := range []error{
		persistence.ErrNotFound,
		persistence.ErrDuplicate,
		persistence.ErrConflict,
		persistence.ErrConstraintViolation,
		persistence.ErrForeignKeyViolation,
	} {
		if errors.Is(err, sentinel) {
			return true
		}
	}
	return false
}
