package sqlite

import (
	"context"
	"database/sql"
	"fmt"
	"strings"
	"time"

	"github.com/example/sport-scheduler/internal/persistence"
)

const activityColumns = `id, name, description, sport, min_players, max_players, recurring_type,
	recurring_days, start_time, created_by, is_public, join_code_digest, created_at, updated_at`

// CreateActivity inserts a new activity.
func (s *Storage) CreateActivity(ctx context.Context, activity persistence.Activity) error {
	if activity.ID == "" {
		return persistence.ErrConstraintViolation
	}

	_, err := s.db.ExecContext(ctx, `
		INSERT INTO activities (`+activityColumns+`)
		VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?)`,
		activity.ID,
		activity.Name,
		activity.Description,
		string(activity.Sport),
		activity.MinPlayers,
		activity.MaxPlayers,
		activity.RecurringType,
		encodeWeekdays(activity.RecurringDays),
		activity.StartTime,
		activity.CreatedBy,
		boolToInt(activity.IsPublic),
		nullableDigest(activity.JoinCodeDigest),
		formatTime(activity.CreatedAt),
		formatTime(activity.UpdatedAt),
	)
	return mapError(err)
}

// GetActivity retrieves an activity by ID.
func (s *Storage) GetActivity(ctx context.Context, id string) (persistence.Activity, error) {
	row := s.db.QueryRowContext(ctx, `SELECT `+activityColumns+` FROM activities WHERE id = ?`, id)
	return scanActivity(row)
}

// GetActivityByJoinCode retrieves an activity by its join code digest.
func (s *Storage) GetActivityByJoinCode(ctx context.Context, digest string) (persistence.Activity, error) {
	if digest == "" {
		return persistence.Activity{}, persistence.ErrNotFound
	}
	row := s.db.QueryRowContext(ctx, `SELECT `+activityColumns+` FROM activities WHERE join_code_digest = ?`, digest)
	return scanActivity(row)
}

// ListActivities returns matching activities ordered by creation time.
func (s *Storage) ListActivities(ctx context.Context, filter persistence.ActivityFilter) ([]persistence.Activity, error) {
	var (
		conditions []string
		args       []any
	)
	if filter.Sport != "" {
		conditions = append(conditions, "sport = ?")
		args = append(args, string(filter.Sport))
	}
	if filter.CreatedBy != "" {
		conditions = append(conditions, "created_by = ?")
		args = append(args, filter.CreatedBy)
	}
	if filter.VisibleTo != "" {
		conditions = append(conditions, "(is_public = 1 OR created_by = ?)")
		args = append(args, filter.VisibleTo)
	}

	query := `SELECT ` + activityColumns + ` FROM activities`
	if len(conditions) > 0 {
		query += " WHERE " + strings.Join(conditions, " AND ")
	}
	query += " ORDER BY created_at, id"

	rows, err := s.db.QueryContext(ctx, query, args...)
	if err != nil {
		return nil, mapError(err)
	}
	defer rows.Close()

	activities := make([]persistence.Activity, 0)
	for rows.Next() {
		activity, err := scanActivity(rows)
		if err != nil {
			return nil, err
		}
		activities = append(activities, activity)
	}
	if err := rows.Err(); err != nil {
		return nil, mapError(err)
	}
	return activities, nil
}

// UpdateJoinCode replaces the join code digest of an activity.
func (s *Storage) UpdateJoinCode(ctx context.Context, id, digest string, updatedAt time.Time) error {
	result, err := s.db.ExecContext(ctx,
		`UPDATE activities SET join_code_digest = ?, updated_at = ? WHERE id = ?`,
		nullableDigest(digest), formatTime(updatedAt), id)
	if err != nil {
		return mapError(err)
	}
	return requireAffected(result)
}

// DeleteActivity removes an activity. Sessions and participants cascade.
func (s *Storage) DeleteActivity(ctx context.Context, id string) error {
	result, err := s.db.ExecContext(ctx, `DELETE FROM activities WHERE id = ?`, id)
	if err != nil {
		return mapError(err)
	}
	return requireAffected(result)
}

type rowScanner interface {
	Scan(dest ...any) error
}

func scanActivity(row rowScanner) (persistence.Activity, error) {
	var (
		activity  persistence.Activity
		sport     string
		days      int64
		isPublic  int
		digest    sql.NullString
		createdAt string
		updatedAt string
	)
	err := row.Scan(
		&activity.ID,
		&activity.Name,
		&activity.Description,
		&sport,
		&activity.MinPlayers,
		&activity.MaxPlayers,
		&activity.RecurringType,
		&days,
		&activity.StartTime,
		&activity.CreatedBy,
		&isPublic,
		&digest,
		&createdAt,
		&updatedAt,
	)
	if err != nil {
		return persistence.Activity{}, mapError(err)
	}

	activity.Sport = persistence.Sport(sport)
	activity.RecurringDays = decodeWeekdays(days)
	activity.IsPublic = isPublic != 0
	activity.JoinCodeDigest = digest.String
	if activity.CreatedAt, err = parseTime(createdAt); err != nil {
		return persistence.Activity{}, err
	}
	if activity.UpdatedAt, err = parseTime(updatedAt); err != nil {
		return persistence.Activity{}, err
	}
	return activity, nil
}

func nullableDigest(digest string) sql.NullString {
	return sql.NullString{String: digest, Valid: digest != ""}
}

func requireAffected(result sql.Result) error {
	affected, err := result.RowsAffected()
	if err != nil {
		return fmt.Errorf("sqlite: rows affected: %w", err)
	}
	if affected == 0 {
		return persistence.ErrNotFound
	}
	return nil
}
